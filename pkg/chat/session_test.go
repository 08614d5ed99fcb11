package chat_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/killallgit/flowchat/pkg/chat"
	"github.com/killallgit/flowchat/pkg/stream"
	"github.com/killallgit/flowchat/pkg/testutil"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type recorder struct {
	mu        sync.Mutex
	errs      []error
	completed []chat.Message
	changes   int
}

func (r *recorder) handler() chat.Handler {
	return chat.HandlerFunc{
		ChangeFunc: func([]chat.Message) {
			r.mu.Lock()
			r.changes++
			r.mu.Unlock()
		},
		CompleteFunc: func(m chat.Message) {
			r.mu.Lock()
			r.completed = append(r.completed, m)
			r.mu.Unlock()
		},
		ErrorFunc: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func (r *recorder) Completed() []chat.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]chat.Message(nil), r.completed...)
}

const sessionID = "6f1c5b9e-3c3d-4b8e-9a55-2f1d2c7a1e10"

var _ = Describe("Session", func() {
	var (
		ctx       context.Context
		cancel    context.CancelFunc
		transport *testutil.FakeTransport
		rec       *recorder
		session   *chat.Session
	)

	lastMessage := func() chat.Message {
		msgs := session.Messages()
		return msgs[len(msgs)-1]
	}

	nextStream := func() *testutil.FakeStream {
		waitCtx, done := context.WithTimeout(ctx, 2*time.Second)
		defer done()
		s, ok := transport.NextStream(waitCtx)
		Expect(ok).To(BeTrue(), "session never opened a stream")
		return s
	}

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		transport = testutil.NewFakeTransport()
		rec = &recorder{}
		session = chat.NewSession(transport, chat.SessionConfig{
			SessionID:  sessionID,
			BaseURL:    "http://localhost:3000",
			ChatflowID: "flow",
			Handler:    rec.handler(),
		})
	})

	AfterEach(func() {
		session.AbortMessage(ctx)
		session.Wait()
		cancel()
	})

	It("should start with the greeting", func() {
		msgs := session.Messages()
		Expect(msgs).To(HaveLen(1))
		Expect(msgs[0].Role).To(Equal(chat.RoleAssistant))
		Expect(msgs[0].Content).To(Equal(chat.DefaultGreeting))
		Expect(session.SessionID()).To(Equal(sessionID))
		Expect(session.State()).To(Equal(chat.StateIdle))
	})

	It("should generate a session id when the configured one is malformed", func() {
		s := chat.NewSession(transport, chat.SessionConfig{SessionID: "not-a-uuid"})
		Expect(s.SessionID()).ToNot(Equal("not-a-uuid"))
		_, ok := chat.ValidSessionID(s.SessionID())
		Expect(ok).To(BeTrue())
	})

	Describe("SendMessage", func() {
		It("should append the question and an empty streaming reply", func() {
			Expect(session.SendMessage(ctx, "hello", nil, nil)).To(BeTrue())

			msgs := session.Messages()
			Expect(msgs).To(HaveLen(3))
			Expect(msgs[1].Role).To(Equal(chat.RoleUser))
			Expect(msgs[1].Content).To(Equal("hello"))
			Expect(msgs[2].Role).To(Equal(chat.RoleAssistant))
			Expect(msgs[2].Content).To(BeEmpty())
			Expect(msgs[2].IsStreaming).To(BeTrue())
			Expect(session.State().IsBusy()).To(BeTrue())

			s := nextStream()
			Expect(s.Request.Question).To(Equal("hello"))
			Expect(s.Request.SessionID).To(Equal(sessionID))
			Expect(s.Request.Streaming).To(BeTrue())
		})

		It("should reject blank input without attachments", func() {
			Expect(session.SendMessage(ctx, "   ", nil, nil)).To(BeFalse())
			Expect(session.Messages()).To(HaveLen(1))
		})

		It("should accept attachments without text", func() {
			uploads := []chat.Attachment{{Type: "file", Name: "a.txt", Data: "data:text/plain;base64,aGk="}}
			Expect(session.SendMessage(ctx, "", uploads, nil)).To(BeTrue())
			s := nextStream()
			Expect(s.Request.Uploads).To(Equal(uploads))
		})

		It("should reject a second send while busy", func() {
			Expect(session.SendMessage(ctx, "first", nil, nil)).To(BeTrue())
			Expect(session.SendMessage(ctx, "second", nil, nil)).To(BeFalse())
			Expect(session.Messages()).To(HaveLen(3))
		})

		It("should stream tokens into the reply and complete on end", func() {
			session.SendMessage(ctx, "hello", nil, nil)
			s := nextStream()

			s.SendEvent("start", "")
			s.SendEvent("token", "Hi")
			s.SendEvent("token", " there")
			s.SendData("!")
			s.SendEvent("metadata", map[string]any{"chatId": sessionID, "chatMessageId": "server-1"})
			s.SendEvent("end", "[DONE]")

			Eventually(session.State).Should(Equal(chat.StateIdle))
			last := lastMessage()
			Expect(last.Content).To(Equal("Hi there!"))
			Expect(last.ID).To(Equal("server-1"))
			Expect(last.IsStreaming).To(BeFalse())
			Eventually(rec.Completed).Should(HaveLen(1))
			Expect(rec.Completed()[0].Content).To(Equal("Hi there!"))
			Eventually(s.Released).Should(BeTrue())
		})

		It("should complete when the stream closes without an end event", func() {
			session.SendMessage(ctx, "hello", nil, nil)
			s := nextStream()
			s.SendEvent("token", "done")
			s.Finish()

			Eventually(session.State).Should(Equal(chat.StateIdle))
			Expect(lastMessage().IsStreaming).To(BeFalse())
			Expect(lastMessage().IsError).To(BeFalse())
			Eventually(rec.Completed).Should(HaveLen(1))
		})

		It("should allow a new send after completion", func() {
			session.SendMessage(ctx, "one", nil, nil)
			s := nextStream()
			s.SendEvent("end", nil)
			Eventually(session.State).Should(Equal(chat.StateIdle))

			Expect(session.SendMessage(ctx, "two", nil, nil)).To(BeTrue())
			Expect(session.Messages()).To(HaveLen(5))
		})
	})

	Describe("stream errors", func() {
		It("should terminate the reply on an error event", func() {
			session.SendMessage(ctx, "hello", nil, nil)
			s := nextStream()
			s.SendEvent("error", "boom")

			Eventually(session.State).Should(Equal(chat.StateIdle))
			last := lastMessage()
			Expect(last.Content).To(Equal("boom"))
			Expect(last.IsError).To(BeTrue())
			Expect(last.IsStreaming).To(BeFalse())
			Expect(session.LastError()).To(MatchError("boom"))
			Eventually(rec.Errors).Should(HaveLen(1))
			Eventually(s.Released).Should(BeTrue())
		})

		It("should ignore frames after an error event", func() {
			session.SendMessage(ctx, "hello", nil, nil)
			s := nextStream()
			s.SendEvent("error", "boom")
			s.SendEvent("token", "late")

			Eventually(session.State).Should(Equal(chat.StateIdle))
			Consistently(func() string { return lastMessage().Content }, 100*time.Millisecond).Should(Equal("boom"))
		})

		It("should mark the reply as an error bubble when the connection fails", func() {
			transport.OpenErr = &chat.ConnectionError{Kind: chat.KindUnauthorized, Status: 401}
			session.SendMessage(ctx, "hello", nil, nil)

			Eventually(session.State).Should(Equal(chat.StateIdle))
			msgs := session.Messages()
			Expect(msgs).To(HaveLen(3))
			Expect(msgs[1].Content).To(Equal("hello"))
			Expect(msgs[2].IsError).To(BeTrue())
			Expect(msgs[2].IsStreaming).To(BeFalse())
			Expect(errors.Is(session.LastError(), chat.ErrUnauthorized)).To(BeTrue())
			Eventually(rec.Errors).Should(HaveLen(1))
		})

		It("should settle the reply without an error when the request is cancelled before the stream opens", func() {
			transport.OpenErr = fmt.Errorf("prediction request: %w", context.Canceled)
			Expect(session.SendMessage(ctx, "hello", nil, nil)).To(BeTrue())

			Eventually(session.State).Should(Equal(chat.StateIdle))
			last := lastMessage()
			Expect(last.IsStreaming).To(BeFalse())
			Expect(last.IsError).To(BeFalse())
			Expect(last.Content).To(BeEmpty())
			Expect(session.LastError()).ToNot(HaveOccurred())
			Consistently(rec.Errors, 100*time.Millisecond).Should(BeEmpty())
		})

		It("should keep partial content without an error flag when the stream drops", func() {
			session.SendMessage(ctx, "hello", nil, nil)
			s := nextStream()
			s.SendEvent("token", "partial")
			s.Fail(errors.New("connection reset"))

			Eventually(session.State).Should(Equal(chat.StateIdle))
			last := lastMessage()
			Expect(last.Content).To(Equal("partial"))
			Expect(last.IsError).To(BeFalse())
			Expect(last.IsStreaming).To(BeFalse())
			Expect(session.LastError()).To(MatchError("connection reset"))
		})
	})

	Describe("notifications", func() {
		It("should never deliver a streaming snapshot after the abort snapshot", func() {
			for i := 0; i < 50; i++ {
				var (
					mu        sync.Mutex
					streaming []bool
				)
				ft := testutil.NewFakeTransport()
				s := chat.NewSession(ft, chat.SessionConfig{
					SessionID: sessionID,
					Handler: chat.HandlerFunc{ChangeFunc: func(msgs []chat.Message) {
						mu.Lock()
						streaming = append(streaming, msgs[len(msgs)-1].IsStreaming)
						mu.Unlock()
					}},
				})
				Expect(s.SendMessage(ctx, "hello", nil, nil)).To(BeTrue())

				waitCtx, done := context.WithTimeout(ctx, 2*time.Second)
				fs, ok := ft.NextStream(waitCtx)
				done()
				Expect(ok).To(BeTrue())

				go func() {
					for j := 0; j < 20; j++ {
						fs.SendEvent("token", "x")
					}
				}()
				s.AbortMessage(ctx)
				s.Wait()

				mu.Lock()
				Expect(streaming).ToNot(BeEmpty())
				Expect(streaming[len(streaming)-1]).To(BeFalse())
				mu.Unlock()
			}
		})
	})

	Describe("ApplyEvent", func() {
		It("should apply tokens to the in-flight reply", func() {
			session.SendMessage(ctx, "hello", nil, nil)
			nextStream()

			Expect(session.ApplyEvent(stream.Token{Content: "Hi"})).To(BeTrue())
			session.ApplyEvent(stream.Token{Content: " there"})
			session.ApplyEvent(stream.Token{Content: "!"})
			Expect(lastMessage().Content).To(Equal("Hi there!"))
		})

		It("should apply a server error", func() {
			session.SendMessage(ctx, "hello", nil, nil)
			s := nextStream()

			session.ApplyEvent(stream.Error{Message: "boom"})
			last := lastMessage()
			Expect(last.Content).To(Equal("boom"))
			Expect(last.IsError).To(BeTrue())
			Expect(last.IsStreaming).To(BeFalse())
			Expect(session.LastError()).To(MatchError("boom"))
			Expect(session.State()).To(Equal(chat.StateIdle))
			Eventually(s.Released).Should(BeTrue())
		})

		It("should ignore events with nothing in flight", func() {
			Expect(session.ApplyEvent(stream.Token{Content: "stray"})).To(BeFalse())
			Expect(session.Messages()[0].Content).To(Equal(chat.DefaultGreeting))
		})
	})

	Describe("AbortMessage", func() {
		It("should stop applying frames synchronously", func() {
			session.SendMessage(ctx, "hello", nil, nil)
			s := nextStream()
			s.SendEvent("token", "partial")
			Eventually(func() string { return lastMessage().Content }).Should(Equal("partial"))

			Expect(session.AbortMessage(ctx)).To(BeTrue())
			Expect(lastMessage().IsStreaming).To(BeFalse())
			Expect(session.State()).To(Equal(chat.StateIdle))

			s.SendEvent("token", " more")
			Consistently(func() string { return lastMessage().Content }, 100*time.Millisecond).Should(Equal("partial"))
			Eventually(s.Released).Should(BeTrue())
			Expect(transport.AbortCount()).To(Equal(1))
		})

		It("should be idempotent", func() {
			session.SendMessage(ctx, "hello", nil, nil)
			nextStream()
			Expect(session.AbortMessage(ctx)).To(BeTrue())
			Expect(session.AbortMessage(ctx)).To(BeFalse())
			Expect(transport.AbortCount()).To(Equal(1))
		})

		It("should clear busy state even when the backend notification fails", func() {
			transport.AbortErr = errors.New("backend down")
			session.SendMessage(ctx, "hello", nil, nil)
			nextStream()
			Expect(session.AbortMessage(ctx)).To(BeTrue())
			Expect(session.State()).To(Equal(chat.StateIdle))
			Expect(session.SendMessage(ctx, "again", nil, nil)).To(BeTrue())
		})

		It("should be safe when idle", func() {
			Expect(session.AbortMessage(ctx)).To(BeFalse())
			Expect(transport.AbortCount()).To(BeZero())
		})
	})

	Describe("LoadHistory", func() {
		It("should seed the greeting for an empty history", func() {
			Expect(session.LoadHistory(ctx)).To(BeTrue())
			msgs := session.Messages()
			Expect(msgs).To(HaveLen(1))
			Expect(msgs[0].Role).To(Equal(chat.RoleAssistant))
			Expect(msgs[0].Content).To(Equal(chat.DefaultGreeting))
		})

		It("should map persisted records", func() {
			transport.History = []chat.Record{
				{ID: "1", Role: chat.RecordRoleUser, Content: "question"},
				{ID: "2", Role: chat.RecordRoleAPI, Content: "answer", UsedTools: []byte(`"[\"calculator\"]"`)},
			}
			Expect(session.LoadHistory(ctx)).To(BeTrue())

			msgs := session.Messages()
			Expect(msgs).To(HaveLen(2))
			Expect(msgs[0].Role).To(Equal(chat.RoleUser))
			Expect(msgs[1].Role).To(Equal(chat.RoleAssistant))
			Expect(msgs[1].UsedTools).To(Equal([]stream.ToolInvocation{{Tool: "calculator"}}))
			Expect(chat.CountStreaming(msgs)).To(BeZero())
		})

		It("should fall back to the greeting and report failures", func() {
			transport.HistoryErr = errors.New("offline")
			Expect(session.LoadHistory(ctx)).To(BeFalse())
			Expect(session.Messages()).To(HaveLen(1))
			Expect(rec.Errors()).To(HaveLen(1))
			Expect(session.LastError()).To(MatchError("offline"))
		})

		It("should be rejected while busy", func() {
			session.SendMessage(ctx, "hello", nil, nil)
			nextStream()
			Expect(session.LoadHistory(ctx)).To(BeFalse())
			Expect(transport.HistoryCalls()).To(BeZero())
		})
	})

	Describe("ClearChat", func() {
		It("should abort, delete and reset to the greeting", func() {
			session.SendMessage(ctx, "hello", nil, nil)
			nextStream()

			Expect(session.ClearChat(ctx)).To(BeTrue())
			Expect(session.Messages()).To(HaveLen(1))
			Expect(session.State()).To(Equal(chat.StateIdle))
			Expect(transport.DeleteCount()).To(Equal(1))
			Expect(transport.AbortCount()).To(Equal(1))
		})

		It("should reset even when the delete fails", func() {
			transport.DeleteErr = errors.New("nope")
			Expect(session.ClearChat(ctx)).To(BeFalse())
			Expect(session.Messages()).To(HaveLen(1))
			Expect(rec.Errors()).To(HaveLen(1))
		})
	})

	Describe("SubmitFeedback", func() {
		It("should rate a completed reply", func() {
			session.SendMessage(ctx, "hello", nil, nil)
			s := nextStream()
			s.SendEvent("metadata", map[string]any{"chatMessageId": "m-1"})
			s.SendEvent("end", nil)
			Eventually(session.State).Should(Equal(chat.StateIdle))

			Expect(session.SubmitFeedback(ctx, "m-1", chat.RatingThumbsUp, "great")).To(BeTrue())
			Expect(transport.Feedback()).To(HaveLen(1))
			Expect(transport.Feedback()[0].MessageID).To(Equal("m-1"))
			Expect(transport.Feedback()[0].ChatID).To(Equal(sessionID))
			Expect(lastMessage().Feedback).ToNot(BeNil())
			Expect(lastMessage().Feedback.Rating).To(Equal(chat.RatingThumbsUp))
		})

		It("should refuse unknown messages and ratings", func() {
			Expect(session.SubmitFeedback(ctx, "missing", chat.RatingThumbsUp, "")).To(BeFalse())
			id := session.Messages()[0].ID
			Expect(session.SubmitFeedback(ctx, id, "MEH", "")).To(BeFalse())
		})
	})
})
