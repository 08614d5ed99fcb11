package testutil

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/killallgit/flowchat/pkg/chat"
	"github.com/killallgit/flowchat/pkg/stream"
)

// FakeStream is the server side of a stream opened on a FakeTransport
type FakeStream struct {
	Request chat.PredictionRequest

	in     chan stream.Frame
	once   sync.Once
	closed chan struct{}
}

// Send delivers a raw frame to the session
func (s *FakeStream) Send(f stream.Frame) {
	select {
	case s.in <- f:
	case <-s.closed:
	}
}

// SendData delivers a frame carrying data
func (s *FakeStream) SendData(data string) {
	s.Send(stream.Frame{Data: data})
}

// SendEvent delivers a JSON frame with the given event name and payload
func (s *FakeStream) SendEvent(event string, data any) {
	b, _ := json.Marshal(map[string]any{"event": event, "data": data})
	s.SendData(string(b))
}

// Fail ends the stream with a read error
func (s *FakeStream) Fail(err error) {
	s.Send(stream.Frame{Err: err})
}

// Finish closes the stream from the server side
func (s *FakeStream) Finish() {
	s.once.Do(func() { close(s.in) })
}

// Released reports whether the client closed or cancelled the stream
func (s *FakeStream) Released() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// FakeTransport implements chat.Transport in memory
type FakeTransport struct {
	mu sync.Mutex

	OpenErr     error
	History     []chat.Record
	HistoryErr  error
	DeleteErr   error
	AbortErr    error
	FeedbackErr error

	streams      []*FakeStream
	opened       chan *FakeStream
	aborts       int
	deletes      int
	feedback     []chat.Feedback
	historyCalls int
}

func NewFakeTransport() *FakeTransport {
	return &FakeTransport{opened: make(chan *FakeStream, 16)}
}

// Open implements chat.Transport
func (f *FakeTransport) Open(ctx context.Context, req chat.PredictionRequest) (*chat.Stream, error) {
	f.mu.Lock()
	err := f.OpenErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	fs := &FakeStream{
		Request: req,
		in:      make(chan stream.Frame, 64),
		closed:  make(chan struct{}),
	}
	out := make(chan stream.Frame)
	var releaseOnce sync.Once
	closeFn := func() { releaseOnce.Do(func() { close(fs.closed) }) }

	go func() {
		defer close(out)
		for {
			select {
			case frame, ok := <-fs.in:
				if !ok {
					return
				}
				select {
				case out <- frame:
				case <-ctx.Done():
					closeFn()
					return
				case <-fs.closed:
					return
				}
			case <-ctx.Done():
				closeFn()
				return
			case <-fs.closed:
				return
			}
		}
	}()

	f.mu.Lock()
	f.streams = append(f.streams, fs)
	f.mu.Unlock()
	f.opened <- fs

	return chat.NewStream(out, closeFn), nil
}

// NextStream waits for the next stream the session opens
func (f *FakeTransport) NextStream(ctx context.Context) (*FakeStream, bool) {
	select {
	case s := <-f.opened:
		return s, true
	case <-ctx.Done():
		return nil, false
	}
}

// Streams returns every stream opened so far
func (f *FakeTransport) Streams() []*FakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeStream(nil), f.streams...)
}

// FetchHistory implements chat.Transport
func (f *FakeTransport) FetchHistory(ctx context.Context, sessionID string) ([]chat.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.historyCalls++
	if f.HistoryErr != nil {
		return nil, f.HistoryErr
	}
	return append([]chat.Record(nil), f.History...), nil
}

// DeleteHistory implements chat.Transport
func (f *FakeTransport) DeleteHistory(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	f.History = nil
	return nil
}

// Abort implements chat.Transport
func (f *FakeTransport) Abort(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborts++
	return f.AbortErr
}

// SendFeedback implements chat.Transport
func (f *FakeTransport) SendFeedback(ctx context.Context, feedback chat.Feedback) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FeedbackErr != nil {
		return f.FeedbackErr
	}
	f.feedback = append(f.feedback, feedback)
	return nil
}

func (f *FakeTransport) AbortCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.aborts
}

func (f *FakeTransport) DeleteCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deletes
}

func (f *FakeTransport) HistoryCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.historyCalls
}

func (f *FakeTransport) Feedback() []chat.Feedback {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chat.Feedback(nil), f.feedback...)
}
