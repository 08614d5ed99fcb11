package devserver_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/killallgit/flowchat/pkg/chat"
	"github.com/killallgit/flowchat/pkg/devserver"
	"github.com/killallgit/flowchat/pkg/stream"
	"github.com/killallgit/flowchat/pkg/testutil"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const (
	flowID    = "flow-1"
	sessionID = "5b0f3c1e-2f7a-4b6c-9d1e-0a2b3c4d5e6f"
)

var _ = Describe("Server", func() {
	var (
		opts      devserver.Options
		store     *devserver.Store
		retriever *devserver.Retriever
		model     *testutil.FakeLLM
		server    *httptest.Server
	)

	BeforeEach(func() {
		var err error
		opts = devserver.Options{TopK: 2}
		store, err = devserver.OpenStore(context.Background(), ":memory:")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(store.Close)

		retriever, err = devserver.NewRetriever(nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(retriever.Add(context.Background(), []stream.SourceDocument{
			{ID: "go", Title: "Go", PageContent: "goroutines and channels"},
		})).To(Succeed())

		model = testutil.NewFakeLLM("Channels connect goroutines.")
	})

	JustBeforeEach(func() {
		server = httptest.NewServer(devserver.New(opts, store, retriever, model))
		DeferCleanup(server.Close)
	})

	post := func(path string, body any, header http.Header) *http.Response {
		payload, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
		req, err := http.NewRequest(http.MethodPost, server.URL+path, bytes.NewReader(payload))
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Content-Type", "application/json")
		for k, v := range header {
			req.Header[k] = v
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	collect := func(resp *http.Response) []stream.Event {
		defer resp.Body.Close()
		var events []stream.Event
		for frame := range stream.ReadFrames(context.Background(), resp.Body, resp.Header.Get("Content-Type")) {
			Expect(frame.Err).NotTo(HaveOccurred())
			if ev := stream.Decode(frame, stream.DecodeContext{}); ev != nil {
				events = append(events, ev)
			}
		}
		return events
	}

	tokens := func(events []stream.Event) string {
		var b strings.Builder
		for _, ev := range events {
			if t, ok := ev.(stream.Token); ok {
				b.WriteString(t.Content)
			}
		}
		return b.String()
	}

	It("answers pings without auth", func() {
		resp, err := http.Get(server.URL + "/api/v1/ping")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		Expect(string(body)).To(Equal("pong"))
	})

	It("streams a prediction", func() {
		resp := post("/api/v1/internal-prediction/"+flowID,
			map[string]any{"question": "how do goroutines talk?", "chatId": sessionID, "streaming": true}, nil)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(resp.Header.Get("Content-Type")).To(HavePrefix("text/event-stream"))

		events := collect(resp)
		Expect(events[0]).To(Equal(stream.Unknown{Event: stream.EventStart, Raw: ""}))
		Expect(events[1]).To(BeAssignableToTypeOf(stream.SourceDocuments{}))
		Expect(events[1].(stream.SourceDocuments).Documents[0].Title).To(Equal("Go"))
		Expect(tokens(events)).To(Equal("Channels connect goroutines."))

		meta, ok := events[len(events)-2].(stream.Metadata)
		Expect(ok).To(BeTrue())
		Expect(meta.ChatID).To(Equal(sessionID))
		Expect(meta.ChatMessageID).NotTo(BeEmpty())
		Expect(events[len(events)-1]).To(Equal(stream.End{Payload: "[DONE]"}))

		Expect(model.GetLastPrompt()).To(ContainSubstring("goroutines and channels"))

		records, err := store.Messages(context.Background(), flowID, sessionID, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(records).To(HaveLen(2))
		Expect(records[1].ID).To(Equal(meta.ChatMessageID))
		Expect(records[1].Content).To(Equal("Channels connect goroutines."))
	})

	It("includes earlier turns in the prompt", func() {
		for _, q := range []string{"first question", "second question"} {
			collect(post("/api/v1/prediction/"+flowID,
				map[string]any{"question": q, "sessionId": sessionID, "streaming": true}, nil))
		}
		Expect(model.GetLastPrompt()).To(ContainSubstring("first question"))
		Expect(model.GetLastPrompt()).To(ContainSubstring("second question"))
	})

	It("replies with JSON when streaming is off", func() {
		resp := post("/api/v1/prediction/"+flowID, map[string]any{"question": "goroutines?"}, nil)
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var reply map[string]any
		Expect(json.NewDecoder(resp.Body).Decode(&reply)).To(Succeed())
		Expect(reply["text"]).To(Equal("Channels connect goroutines."))
		Expect(reply["chatId"]).NotTo(BeEmpty())
		Expect(reply["sourceDocuments"]).To(HaveLen(1))
	})

	It("rejects empty questions", func() {
		resp := post("/api/v1/prediction/"+flowID, map[string]any{"question": "  "}, nil)
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
	})

	It("streams an error event when the model fails", func() {
		model.SetErrorOnCall(1, "model is down")
		events := collect(post("/api/v1/internal-prediction/"+flowID,
			map[string]any{"question": "q", "chatId": sessionID, "streaming": true}, nil))
		Expect(events[len(events)-1]).To(Equal(stream.Error{Message: "model is down"}))
	})

	Context("with an api key", func() {
		BeforeEach(func() {
			opts.APIKey = "secret"
		})

		It("rejects missing credentials", func() {
			resp := post("/api/v1/prediction/"+flowID, map[string]any{"question": "q"}, nil)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("accepts a bearer token", func() {
			resp := post("/api/v1/prediction/"+flowID, map[string]any{"question": "q"},
				http.Header{"Authorization": {"Bearer secret"}})
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("is rejected by the client transport with the right kind", func() {
			tr := chat.NewHTTPTransport(chat.HTTPTransportConfig{BaseURL: server.URL, ChatflowID: flowID})
			_, err := tr.Open(context.Background(), chat.PredictionRequest{Question: "q", Streaming: true})
			Expect(err).To(MatchError(chat.ErrUnauthorized))
		})
	})

	Context("when a prediction is aborted", func() {
		BeforeEach(func() {
			opts.TokenInterval = time.Hour
		})

		It("stops the stream and sends an abort event", func() {
			resp := post("/api/v1/internal-prediction/"+flowID,
				map[string]any{"question": "q", "chatId": sessionID, "streaming": true}, nil)
			defer resp.Body.Close()

			frames := stream.ReadFrames(context.Background(), resp.Body, resp.Header.Get("Content-Type"))
			var seen []stream.Event
			for frame := range frames {
				ev := stream.Decode(frame, stream.DecodeContext{})
				seen = append(seen, ev)
				if _, ok := ev.(stream.Token); ok {
					break
				}
			}

			req, _ := http.NewRequest(http.MethodPut, server.URL+"/api/v1/chatmessage/abort/"+flowID+"/"+sessionID, nil)
			abortResp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			abortResp.Body.Close()
			Expect(abortResp.StatusCode).To(Equal(http.StatusOK))

			for frame := range frames {
				seen = append(seen, stream.Decode(frame, stream.DecodeContext{}))
			}
			Expect(seen[len(seen)-1]).To(Equal(stream.Abort{Payload: "[DONE]"}))
			Expect(tokens(seen)).To(Equal("Channels"))

			records, err := store.Messages(context.Background(), flowID, sessionID, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(2))
			Expect(records[1].Content).To(Equal("Channels"))
		})
	})

	Describe("feedback", func() {
		var messageID string

		JustBeforeEach(func() {
			rec, err := store.AddMessage(context.Background(), chat.Record{
				Role: chat.RecordRoleAPI, Content: "a", ChatflowID: flowID, ChatID: sessionID,
			})
			Expect(err).NotTo(HaveOccurred())
			messageID = rec.ID
		})

		It("stores a rating", func() {
			resp := post("/api/v1/feedback/"+flowID,
				chat.Feedback{ChatID: sessionID, MessageID: messageID, Rating: chat.RatingThumbsUp}, nil)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var saved chat.Feedback
			Expect(json.NewDecoder(resp.Body).Decode(&saved)).To(Succeed())
			Expect(saved.ID).NotTo(BeEmpty())
			Expect(saved.ChatflowID).To(Equal(flowID))
		})

		It("rejects unknown messages and ratings", func() {
			resp := post("/api/v1/feedback/"+flowID,
				chat.Feedback{MessageID: "nope", Rating: chat.RatingThumbsUp}, nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))

			resp = post("/api/v1/feedback/"+flowID,
				chat.Feedback{MessageID: messageID, Rating: "MEH"}, nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("with the client session", func() {
		var (
			transport *chat.HTTPTransport
			session   *chat.Session
		)

		JustBeforeEach(func() {
			transport = chat.NewHTTPTransport(chat.HTTPTransportConfig{BaseURL: server.URL, ChatflowID: flowID})
			session = chat.NewSession(transport, chat.SessionConfig{
				SessionID:  sessionID,
				BaseURL:    server.URL,
				ChatflowID: flowID,
			})
		})

		It("completes a full conversation round trip", func() {
			Expect(session.SendMessage(context.Background(), "tell me about goroutines", nil, nil)).To(BeTrue())
			Eventually(session.State).Should(Equal(chat.StateIdle))
			session.Wait()

			messages := session.Messages()
			Expect(messages).To(HaveLen(3))
			reply := messages[2]
			Expect(reply.Content).To(Equal("Channels connect goroutines."))
			Expect(reply.IsStreaming).To(BeFalse())
			Expect(reply.IsError).To(BeFalse())
			Expect(reply.SourceDocuments).To(HaveLen(1))
			Expect(session.LastError()).NotTo(HaveOccurred())

			Expect(session.SubmitFeedback(context.Background(), reply.ID, chat.RatingThumbsUp, "")).To(BeTrue())

			reloaded := chat.NewSession(transport, chat.SessionConfig{SessionID: sessionID, BaseURL: server.URL, ChatflowID: flowID})
			Expect(reloaded.LoadHistory(context.Background())).To(BeTrue())
			history := reloaded.Messages()
			Expect(history).To(HaveLen(2))
			Expect(history[0].Role).To(Equal(chat.RoleUser))
			Expect(history[1].ID).To(Equal(reply.ID))
			Expect(history[1].Feedback).NotTo(BeNil())
			Expect(history[1].SourceDocuments[0].Title).To(Equal("Go"))

			Expect(reloaded.ClearChat(context.Background())).To(BeTrue())
			Expect(reloaded.Messages()).To(HaveLen(1))

			records, err := store.Messages(context.Background(), flowID, sessionID, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(BeEmpty())
		})

		It("reports a model failure as an error reply", func() {
			model.SetErrorOnCall(1, "model is down")
			Expect(session.SendMessage(context.Background(), "q", nil, nil)).To(BeTrue())
			Eventually(session.State).Should(Equal(chat.StateIdle))
			session.Wait()

			last := session.Messages()[2]
			Expect(last.IsError).To(BeTrue())
			Expect(last.Content).To(Equal("model is down"))
			Expect(session.LastError()).To(MatchError("model is down"))
		})
	})
})
