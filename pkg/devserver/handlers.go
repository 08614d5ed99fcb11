package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/killallgit/flowchat/pkg/chat"
	"github.com/killallgit/flowchat/pkg/stream"
	"github.com/tmc/langchaingo/llms"
	"golang.org/x/time/rate"
)

const maxBodyBytes = 10 << 20

// predictionBody is the request body of a prediction call
type predictionBody struct {
	Question  string            `json:"question"`
	ChatID    string            `json:"chatId"`
	SessionID string            `json:"sessionId"`
	Streaming bool              `json:"streaming"`
	Uploads   []chat.Attachment `json:"uploads"`
}

// predictionReply is returned when streaming is off
type predictionReply struct {
	Text            string                  `json:"text"`
	Question        string                  `json:"question"`
	ChatID          string                  `json:"chatId"`
	ChatMessageID   string                  `json:"chatMessageId"`
	SessionID       string                  `json:"sessionId"`
	SourceDocuments []stream.SourceDocument `json:"sourceDocuments,omitempty"`
}

func (s *Server) handlePrediction(w http.ResponseWriter, r *http.Request) {
	chatflowID := chi.URLParam(r, "chatflowId")

	var body predictionBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	body.Question = strings.TrimSpace(body.Question)
	if body.Question == "" && len(body.Uploads) == 0 {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	chatID := body.SessionID
	if chatID == "" {
		chatID = body.ChatID
	}
	if chatID == "" {
		chatID = uuid.NewString()
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	defer s.aborts.register(abortKey(chatflowID, chatID), cancel)()

	history, err := s.store.Messages(ctx, chatflowID, chatID, false)
	if err != nil {
		s.log.Error("failed to load history", "chat_id", chatID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}

	userRecord := chat.Record{Role: chat.RecordRoleUser, Content: body.Question, ChatflowID: chatflowID, ChatID: chatID}
	if len(body.Uploads) > 0 {
		userRecord.FileUploads, _ = json.Marshal(body.Uploads)
	}
	if _, err := s.store.AddMessage(ctx, userRecord); err != nil {
		s.log.Error("failed to store question", "chat_id", chatID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store message")
		return
	}

	docs, err := s.retriever.Query(ctx, body.Question, s.opts.TopK)
	if err != nil {
		s.log.Warn("retrieval failed", "chat_id", chatID, "error", err)
		docs = nil
	}
	prompt := BuildPrompt(body.Question, docs, history)
	messageID := uuid.NewString()

	log := s.log.With("chat_id", chatID, "message_id", messageID)
	log.Info("prediction started", "streaming", body.Streaming, "documents", len(docs))

	if !body.Streaming {
		resp, err := s.model.GenerateContent(ctx, prompt)
		if err != nil {
			log.Error("prediction failed", "error", err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		text := ""
		if len(resp.Choices) > 0 {
			text = resp.Choices[0].Content
		}
		s.storeAnswer(ctx, chatflowID, chatID, messageID, text, docs)
		writeJSON(w, http.StatusOK, predictionReply{
			Text:            text,
			Question:        body.Question,
			ChatID:          chatID,
			ChatMessageID:   messageID,
			SessionID:       chatID,
			SourceDocuments: docs,
		})
		return
	}

	events := newEventWriter(w)
	events.send(stream.EventStart, "")
	if len(docs) > 0 {
		events.send(stream.EventSourceDocuments, docs)
	}

	var limiter *rate.Limiter
	if s.opts.TokenInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(s.opts.TokenInterval), 1)
	}

	var answer strings.Builder
	_, err = s.model.GenerateContent(ctx, prompt, llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
		}
		answer.Write(chunk)
		return events.send(stream.EventToken, string(chunk))
	}))

	// the request context may be gone by now
	storeCtx := context.WithoutCancel(ctx)
	switch {
	case err == nil:
		s.storeAnswer(storeCtx, chatflowID, chatID, messageID, answer.String(), docs)
		events.send(stream.EventMetadata, stream.MetadataPayload{
			ChatID:        chatID,
			ChatMessageID: messageID,
			SessionID:     chatID,
			Question:      body.Question,
		})
		events.send(stream.EventEnd, "[DONE]")
		log.Info("prediction finished", "length", answer.Len())
	case ctx.Err() != nil:
		if answer.Len() > 0 {
			s.storeAnswer(storeCtx, chatflowID, chatID, messageID, answer.String(), docs)
		}
		events.send(stream.EventAbort, "[DONE]")
		log.Info("prediction aborted", "length", answer.Len())
	default:
		log.Error("prediction failed", "error", err)
		events.send(stream.EventError, err.Error())
	}
}

func (s *Server) storeAnswer(ctx context.Context, chatflowID, chatID, messageID, text string, docs []stream.SourceDocument) {
	rec := chat.Record{
		ID:         messageID,
		Role:       chat.RecordRoleAPI,
		Content:    text,
		ChatflowID: chatflowID,
		ChatID:     chatID,
	}
	if len(docs) > 0 {
		rec.SourceDocuments, _ = json.Marshal(docs)
	}
	if _, err := s.store.AddMessage(ctx, rec); err != nil {
		s.log.Error("failed to store answer", "chat_id", chatID, "error", err)
	}
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	chatflowID := chi.URLParam(r, "chatflowId")
	q := r.URL.Query()
	descending := strings.EqualFold(q.Get("order"), "DESC")

	records, err := s.store.Messages(r.Context(), chatflowID, q.Get("chatId"), descending)
	if err != nil {
		s.log.Error("failed to list messages", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleDeleteMessages(w http.ResponseWriter, r *http.Request) {
	chatflowID := chi.URLParam(r, "chatflowId")
	chatID := r.URL.Query().Get("chatId")
	if chatID == "" {
		writeError(w, http.StatusBadRequest, "chatId is required")
		return
	}

	s.aborts.abort(abortKey(chatflowID, chatID))
	n, err := s.store.DeleteMessages(r.Context(), chatflowID, chatID)
	if err != nil {
		s.log.Error("failed to delete messages", "chat_id", chatID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete messages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"affected": n})
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	key := abortKey(chi.URLParam(r, "chatflowId"), chi.URLParam(r, "chatId"))
	aborted := s.aborts.abort(key)
	s.log.Info("abort requested", "key", key, "aborted", aborted)
	writeJSON(w, http.StatusOK, map[string]any{"status": 200, "message": "Chat message aborted", "aborted": aborted})
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var fb chat.Feedback
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&fb); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if fb.Rating != chat.RatingThumbsUp && fb.Rating != chat.RatingThumbsDown {
		writeError(w, http.StatusBadRequest, "rating must be THUMBS_UP or THUMBS_DOWN")
		return
	}
	fb.ChatflowID = chi.URLParam(r, "chatflowId")

	saved, err := s.store.SaveFeedback(r.Context(), fb)
	switch {
	case errors.Is(err, ErrMessageNotFound):
		writeError(w, http.StatusNotFound, "message not found")
	case err != nil:
		s.log.Error("failed to save feedback", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save feedback")
	default:
		writeJSON(w, http.StatusOK, saved)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"statusCode": status, "message": message})
}
