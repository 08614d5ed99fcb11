package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
	"sync"
)

// Content types a prediction endpoint may answer with
const (
	ContentTypeEventStream = "text/event-stream"
	ContentTypeJSON        = "application/json"
)

// Reader parses a text/event-stream body into frames
type Reader struct {
	r *bufio.Reader
}

// NewReader creates a frame reader over r
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Next returns the next complete frame, or io.EOF once the body is drained
func (rd *Reader) Next() (Frame, error) {
	var (
		frame   Frame
		data    []string
		hasData bool
	)

	for {
		line, err := rd.r.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return Frame{}, err
		}
		eof := errors.Is(err, io.EOF)

		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if hasData {
				frame.Data = strings.Join(data, "\n")
				return frame, nil
			}
			if eof {
				return Frame{}, io.EOF
			}
			frame = Frame{}
			continue
		}

		if !strings.HasPrefix(line, ":") {
			field, value, _ := strings.Cut(line, ":")
			value = strings.TrimPrefix(value, " ")

			switch field {
			case "event":
				frame.Event = value
			case "data":
				data = append(data, value)
				hasData = true
			case "id":
				frame.ID = value
			}
		}

		if eof {
			if hasData {
				frame.Data = strings.Join(data, "\n")
				return frame, nil
			}
			return Frame{}, io.EOF
		}
	}
}

// IsStreamContentType reports whether contentType is one the decoder accepts
func IsStreamContentType(contentType string) bool {
	mediaType := mediaTypeOf(contentType)
	return mediaType == ContentTypeEventStream || mediaType == ContentTypeJSON
}

func mediaTypeOf(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mediaType
}

// ReadFrames reads body in a goroutine and delivers frames in arrival order.
// A JSON body yields exactly one frame. The body is closed on every exit
// path and the channel is closed when reading stops.
func ReadFrames(ctx context.Context, body io.ReadCloser, contentType string) <-chan Frame {
	frames := make(chan Frame, 16)

	go func() {
		var once sync.Once
		closeBody := func() { once.Do(func() { body.Close() }) }

		done := make(chan struct{})
		defer close(frames)
		defer closeBody()
		defer close(done)

		// A blocked read only returns once the body is closed
		go func() {
			select {
			case <-ctx.Done():
				closeBody()
			case <-done:
			}
		}()

		send := func(f Frame) bool {
			if ctx.Err() != nil {
				return false
			}
			select {
			case frames <- f:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if mediaTypeOf(contentType) == ContentTypeJSON {
			raw, err := io.ReadAll(body)
			if err != nil {
				if ctx.Err() == nil {
					send(Frame{Err: fmt.Errorf("failed to read response body: %w", err)})
				}
				return
			}
			send(Frame{Data: strings.TrimSpace(string(raw))})
			return
		}

		reader := NewReader(body)
		for {
			frame, err := reader.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				if ctx.Err() == nil {
					send(Frame{Err: fmt.Errorf("stream interrupted: %w", err)})
				}
				return
			}
			if !send(frame) {
				return
			}
		}
	}()

	return frames
}
