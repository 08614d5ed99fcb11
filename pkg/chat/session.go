package chat

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/killallgit/flowchat/pkg/logger"
	"github.com/killallgit/flowchat/pkg/stream"
)

const DefaultGreeting = "Hi there! How can I help?"

// SessionConfig is everything a session needs besides its transport
type SessionConfig struct {
	SessionID  string
	BaseURL    string
	ChatflowID string
	Greeting   string
	Handler    Handler
}

// Session owns the message list of one conversation and is its only
// writer. Public methods never return errors; failures go to the
// handler's OnError and LastError.
type Session struct {
	mu        sync.Mutex
	transport Transport
	handler   Handler

	id         string
	baseURL    string
	chatflowID string
	greeting   string

	messages []Message
	state    State
	lastErr  error

	// generation changes whenever the current stream is torn down, which
	// makes frames from an older stream stale
	generation uint64
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	// seq numbers snapshots under mu; dispatchMu delivers them in order
	// and drops any that a newer one has overtaken
	seq        uint64
	dispatchMu sync.Mutex
	delivered  uint64

	log *logger.ComponentLogger
}

type effects struct {
	changed  []Message
	seq      uint64
	complete *Message
	err      error
}

// NewSession creates a session seeded with the greeting message
func NewSession(transport Transport, cfg SessionConfig) *Session {
	id, ok := ValidSessionID(cfg.SessionID)
	if !ok {
		id = uuid.NewString()
	}
	greeting := cfg.Greeting
	if greeting == "" {
		greeting = DefaultGreeting
	}
	handler := cfg.Handler
	if handler == nil {
		handler = HandlerFunc{}
	}

	s := &Session{
		transport:  transport,
		handler:    handler,
		id:         id,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		chatflowID: cfg.ChatflowID,
		greeting:   greeting,
		log:        logger.WithComponent("session").With("session", id),
	}
	s.messages = s.greetingMessages()
	return s
}

func (s *Session) greetingMessages() []Message {
	return []Message{NewAssistantMessage(s.id, s.greeting)}
}

func (s *Session) decodeContext() stream.DecodeContext {
	return stream.DecodeContext{BaseURL: s.baseURL, ChatflowID: s.chatflowID, ChatID: s.id}
}

// changedLocked snapshots the message list for the handler
func (s *Session) changedLocked() effects {
	s.seq++
	return effects{changed: GetMessages(s.messages), seq: s.seq}
}

// publish runs the handler callbacks, skipping a snapshot older than one
// already delivered
func (s *Session) publish(e effects) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	if e.changed != nil && e.seq > s.delivered {
		s.delivered = e.seq
		s.handler.OnChange(e.changed)
	}
	if e.complete != nil {
		s.handler.OnComplete(*e.complete)
	}
	if e.err != nil {
		s.handler.OnError(e.err)
	}
}

// SessionID returns the id used for every request of this session
func (s *Session) SessionID() string {
	return s.id
}

// Messages returns a snapshot of the message list
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return GetMessages(s.messages)
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Wait blocks until the current stream goroutine, if any, has returned
func (s *Session) Wait() {
	s.wg.Wait()
}

// LoadHistory replaces the message list with the persisted conversation.
// An empty or unavailable history leaves only the greeting.
func (s *Session) LoadHistory(ctx context.Context) bool {
	if s.State().IsBusy() {
		s.log.Debug("history load rejected while busy")
		return false
	}

	records, err := s.transport.FetchHistory(ctx, s.id)

	s.mu.Lock()
	if s.state.IsBusy() {
		s.mu.Unlock()
		return false
	}

	var eff effects
	switch {
	case err != nil:
		s.log.Warn("failed to load history", "error", err)
		s.messages = s.greetingMessages()
		s.lastErr = err
		eff.err = err
	case len(records) == 0:
		s.messages = s.greetingMessages()
	default:
		dc := s.decodeContext()
		messages := make([]Message, 0, len(records))
		for _, r := range records {
			messages = append(messages, r.ToMessage(dc))
		}
		s.messages = messages
	}
	changed := s.changedLocked()
	eff.changed, eff.seq = changed.changed, changed.seq
	s.mu.Unlock()

	s.publish(eff)
	return err == nil
}

// SendMessage appends the question and an empty streaming reply, then
// streams the answer in the background. It returns false when there is
// nothing to send or a request is already in flight.
func (s *Session) SendMessage(ctx context.Context, text string, attachments []Attachment, opts map[string]any) bool {
	if strings.TrimSpace(text) == "" && len(attachments) == 0 {
		return false
	}

	s.mu.Lock()
	if s.state.IsBusy() {
		s.mu.Unlock()
		s.log.Debug("send rejected while busy")
		return false
	}

	s.messages = AddMessage(s.messages, NewUserMessage(s.id, text, attachments))
	s.messages = AddMessage(s.messages, NewStreamingMessage(s.id))
	s.state = StateAwaitingStream
	s.lastErr = nil
	s.generation++
	gen := s.generation

	streamCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	eff := s.changedLocked()
	s.mu.Unlock()

	s.publish(eff)

	req := PredictionRequest{
		Question:  strings.TrimSpace(text),
		SessionID: s.id,
		Uploads:   attachments,
		Streaming: true,
		Overrides: opts,
	}
	go s.run(streamCtx, gen, req)
	return true
}

func (s *Session) run(ctx context.Context, gen uint64, req PredictionRequest) {
	defer s.wg.Done()

	st, err := s.transport.Open(ctx, req)
	if errors.Is(err, context.Canceled) {
		s.publish(s.cancelConnect(gen))
		return
	}
	if err != nil {
		s.publish(s.failConnect(gen, err))
		return
	}
	defer st.Close()

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return
	}
	s.state = StateStreaming
	s.mu.Unlock()

	dc := s.decodeContext()
	for frame := range st.Frames {
		if frame.Err != nil {
			s.publish(s.dropStream(gen, frame.Err))
			return
		}
		ev := stream.Decode(frame, dc)
		if ev == nil {
			continue
		}

		eff, done := s.applyForGeneration(gen, ev)
		s.publish(eff)
		if done {
			return
		}
	}

	s.publish(s.finishStream(gen))
}

// ApplyEvent applies a decoded event to the in-flight message. A terminal
// event also tears down the running stream. Returns whether anything changed.
func (s *Session) ApplyEvent(ev stream.Event) bool {
	s.mu.Lock()
	eff, _ := s.applyLocked(ev)
	s.mu.Unlock()

	s.publish(eff)
	return eff.changed != nil
}

func (s *Session) applyForGeneration(gen uint64, ev stream.Event) (effects, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		return effects{}, true
	}
	return s.applyLocked(ev)
}

func (s *Session) applyLocked(ev stream.Event) (effects, bool) {
	next, outcome := Reduce(s.messages, ev)

	switch outcome {
	case OutcomeApplied:
		s.messages = next
		return s.changedLocked(), false
	case OutcomeCompleted:
		s.messages = next
		s.teardownLocked()
		last, _ := GetLastMessage(next)
		eff := s.changedLocked()
		eff.complete = &last
		return eff, true
	case OutcomeFailed:
		s.messages = next
		s.teardownLocked()
		msg := "Unknown error"
		if e, ok := ev.(stream.Error); ok {
			msg = e.Message
		}
		err := &StreamError{Message: msg}
		s.lastErr = err
		s.log.Warn("stream reported an error", "error", msg)
		eff := s.changedLocked()
		eff.err = err
		return eff, true
	default:
		return effects{}, false
	}
}

// teardownLocked invalidates the current stream and releases its connection
func (s *Session) teardownLocked() {
	s.generation++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.state = StateIdle
}

// failConnect turns the pending reply into an error bubble
func (s *Session) failConnect(gen uint64, err error) effects {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		return effects{}
	}

	s.log.Error("failed to open stream", "error", err)
	if msg, ok := GetInFlightMessage(s.messages); ok {
		msg.IsStreaming = false
		msg.IsError = true
		if msg.Content == "" {
			msg.Content = err.Error()
		}
		s.messages = ReplaceLastMessage(s.messages, msg)
	}
	s.lastErr = err
	s.teardownLocked()
	eff := s.changedLocked()
	eff.err = err
	return eff
}

// cancelConnect settles a reply whose request was cancelled before the
// stream opened. It counts as an abort, not a failure.
func (s *Session) cancelConnect(gen uint64) effects {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		return effects{}
	}

	s.log.Debug("stream cancelled before it opened")
	if msg, ok := GetInFlightMessage(s.messages); ok {
		msg.IsStreaming = false
		s.messages = ReplaceLastMessage(s.messages, msg)
	}
	s.teardownLocked()
	return s.changedLocked()
}

// dropStream handles a connection lost mid-stream. The partial reply is
// kept as it stood, without an error flag.
func (s *Session) dropStream(gen uint64, err error) effects {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		return effects{}
	}

	s.log.Warn("stream dropped", "error", err)
	if msg, ok := GetInFlightMessage(s.messages); ok {
		msg.IsStreaming = false
		s.messages = ReplaceLastMessage(s.messages, msg)
	}
	s.lastErr = err
	s.teardownLocked()
	eff := s.changedLocked()
	eff.err = err
	return eff
}

// finishStream completes a reply whose stream closed without an end event
func (s *Session) finishStream(gen uint64) effects {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		return effects{}
	}

	msg, ok := GetInFlightMessage(s.messages)
	s.teardownLocked()
	if !ok {
		return effects{}
	}
	msg.IsStreaming = false
	s.messages = ReplaceLastMessage(s.messages, msg)
	eff := s.changedLocked()
	eff.complete = &msg
	return eff
}

// AbortMessage stops the in-flight reply. Frames still buffered are
// dropped before this returns. The backend is notified best effort.
// Returns false when nothing was in flight.
func (s *Session) AbortMessage(ctx context.Context) bool {
	s.mu.Lock()
	if !s.state.IsBusy() {
		s.mu.Unlock()
		return false
	}
	if msg, ok := GetInFlightMessage(s.messages); ok {
		msg.IsStreaming = false
		s.messages = ReplaceLastMessage(s.messages, msg)
	}
	s.teardownLocked()
	eff := s.changedLocked()
	s.mu.Unlock()

	s.publish(eff)

	if err := s.transport.Abort(ctx, s.id); err != nil {
		s.log.Warn("abort notification failed", "error", err)
	}
	return true
}

// ClearChat stops any in-flight reply, deletes the persisted history and
// resets the list to the greeting. The reset happens even if the delete fails.
func (s *Session) ClearChat(ctx context.Context) bool {
	s.AbortMessage(ctx)

	err := s.transport.DeleteHistory(ctx, s.id)

	s.mu.Lock()
	s.messages = s.greetingMessages()
	if err != nil {
		s.log.Warn("failed to clear history", "error", err)
		s.lastErr = err
	}
	eff := s.changedLocked()
	eff.err = err
	s.mu.Unlock()

	s.publish(eff)
	return err == nil
}

// SubmitFeedback rates a completed assistant message
func (s *Session) SubmitFeedback(ctx context.Context, messageID, rating, content string) bool {
	if rating != RatingThumbsUp && rating != RatingThumbsDown {
		return false
	}

	s.mu.Lock()
	idx, ok := FindMessage(s.messages, messageID)
	if !ok || !s.messages[idx].IsAssistant() || s.messages[idx].IsStreaming {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()

	feedback := Feedback{
		ChatflowID: s.chatflowID,
		ChatID:     s.id,
		MessageID:  messageID,
		Rating:     rating,
		Content:    content,
	}
	if err := s.transport.SendFeedback(ctx, feedback); err != nil {
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
		s.publish(effects{err: err})
		return false
	}

	s.mu.Lock()
	var eff effects
	if idx, ok := FindMessage(s.messages, messageID); ok {
		msg := s.messages[idx]
		msg.Feedback = &feedback
		messages := GetMessages(s.messages)
		messages[idx] = msg
		s.messages = messages
		eff = s.changedLocked()
	}
	s.mu.Unlock()

	s.publish(eff)
	return true
}
