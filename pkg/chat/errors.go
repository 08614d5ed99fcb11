package chat

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrServerError  = errors.New("server error")
	ErrUnknown      = errors.New("unknown connection error")

	// ErrBusy is returned when a request is already in flight
	ErrBusy = errors.New("session is busy")
)

// ErrorKind classifies a rejected stream connection
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindUnauthorized
	KindNotFound
	KindServerError
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	case KindServerError:
		return "server_error"
	default:
		return "unknown"
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindUnauthorized:
		return ErrUnauthorized
	case KindNotFound:
		return ErrNotFound
	case KindServerError:
		return ErrServerError
	default:
		return ErrUnknown
	}
}

// ConnectionError is returned when the HTTP envelope of a stream is not
// acceptable. It is raised before any frame is processed.
type ConnectionError struct {
	Kind   ErrorKind
	Status int
	Body   string
	Err    error
}

func (e *ConnectionError) Error() string {
	msg := e.Kind.sentinel().Error()
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Body != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Body)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Is matches the sentinel for the error's kind
func (e *ConnectionError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// KindForStatus maps an HTTP status to a connection error kind
func KindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindUnauthorized
	case status == http.StatusNotFound:
		return KindNotFound
	case status >= 500:
		return KindServerError
	default:
		return KindUnknown
	}
}

// StreamError carries an error message reported by the server inside the stream
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	return e.Message
}
