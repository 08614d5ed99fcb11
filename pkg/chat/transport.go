package chat

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/killallgit/flowchat/pkg/stream"
)

// PredictionRequest is the body of a prediction call
type PredictionRequest struct {
	Question  string
	SessionID string
	Uploads   []Attachment
	Streaming bool
	// Overrides are merged into the top level of the body and win over
	// the fields above, e.g. overrideConfig or history.
	Overrides map[string]any
}

// MarshalJSON flattens the overrides into the request body
func (r PredictionRequest) MarshalJSON() ([]byte, error) {
	body := map[string]any{
		"question":  r.Question,
		"sessionId": r.SessionID,
		"chatId":    r.SessionID,
		"streaming": r.Streaming,
	}
	if len(r.Uploads) > 0 {
		body["uploads"] = r.Uploads
	}
	for k, v := range r.Overrides {
		body[k] = v
	}
	return json.Marshal(body)
}

// Stream is an open prediction response
type Stream struct {
	Frames <-chan stream.Frame

	closeFn func()
	once    sync.Once
}

// NewStream wraps a frame channel; closeFn releases the underlying connection
func NewStream(frames <-chan stream.Frame, closeFn func()) *Stream {
	return &Stream{Frames: frames, closeFn: closeFn}
}

// Close releases the connection. Safe to call more than once.
func (s *Stream) Close() {
	s.once.Do(func() {
		if s.closeFn != nil {
			s.closeFn()
		}
	})
}

// Transport talks to the prediction backend
type Transport interface {
	Open(ctx context.Context, req PredictionRequest) (*Stream, error)
	FetchHistory(ctx context.Context, sessionID string) ([]Record, error)
	DeleteHistory(ctx context.Context, sessionID string) error
	Abort(ctx context.Context, sessionID string) error
	SendFeedback(ctx context.Context, feedback Feedback) error
}
