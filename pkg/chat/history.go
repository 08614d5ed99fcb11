package chat

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/killallgit/flowchat/pkg/stream"
)

// Server-side role tags
const (
	RecordRoleAPI  = "apiMessage"
	RecordRoleUser = "userMessage"
)

// Feedback ratings
const (
	RatingThumbsUp   = "THUMBS_UP"
	RatingThumbsDown = "THUMBS_DOWN"
)

// Feedback is a rating left on an assistant message
type Feedback struct {
	ID         string `json:"id,omitempty"`
	ChatflowID string `json:"chatflowid"`
	ChatID     string `json:"chatId"`
	MessageID  string `json:"messageId"`
	Rating     string `json:"rating"`
	Content    string `json:"content,omitempty"`
}

// Record is a persisted message as the backend returns it. Side channel
// fields may arrive either as JSON values or as JSON encoded strings.
type Record struct {
	ID              string          `json:"id"`
	Role            string          `json:"role"`
	Content         string          `json:"content"`
	ChatflowID      string          `json:"chatflowid,omitempty"`
	ChatID          string          `json:"chatId,omitempty"`
	SessionID       string          `json:"sessionId,omitempty"`
	CreatedDate     time.Time       `json:"createdDate"`
	SourceDocuments json.RawMessage `json:"sourceDocuments,omitempty"`
	UsedTools       json.RawMessage `json:"usedTools,omitempty"`
	FileAnnotations json.RawMessage `json:"fileAnnotations,omitempty"`
	AgentReasoning  json.RawMessage `json:"agentReasoning,omitempty"`
	Action          json.RawMessage `json:"action,omitempty"`
	Artifacts       json.RawMessage `json:"artifacts,omitempty"`
	FileUploads     json.RawMessage `json:"fileUploads,omitempty"`
	Feedback        *Feedback       `json:"feedback,omitempty"`
}

// RoleFromRecord translates a server role tag
func RoleFromRecord(role string) string {
	switch role {
	case RecordRoleAPI:
		return RoleAssistant
	case RecordRoleUser:
		return RoleUser
	default:
		return role
	}
}

// RecordRole translates a message role to the server tag
func RecordRole(role string) string {
	switch role {
	case RoleAssistant:
		return RecordRoleAPI
	case RoleUser:
		return RecordRoleUser
	default:
		return role
	}
}

// ToMessage converts a persisted record into a completed message
func (r Record) ToMessage(dc stream.DecodeContext) Message {
	msg := Message{
		ID:        r.ID,
		Role:      RoleFromRecord(r.Role),
		Content:   r.Content,
		Timestamp: r.CreatedDate,
		SessionID: r.SessionID,
		Feedback:  r.Feedback,
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.SessionID == "" {
		msg.SessionID = r.ChatID
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	if v := decodeField(r.SourceDocuments); v != nil {
		msg.SourceDocuments = stream.NormalizeSourceDocuments(v)
	}
	if v := decodeField(r.UsedTools); v != nil {
		msg.UsedTools = stream.NormalizeUsedTools(v)
	}
	if v, ok := decodeField(r.FileAnnotations).([]any); ok {
		msg.FileAnnotations = v
	}
	if v := decodeField(r.AgentReasoning); v != nil {
		msg.AgentReasoning = stream.NormalizeAgentReasoning(v, dc)
	}
	if v, ok := decodeField(r.Action).(map[string]any); ok {
		msg.Action = v
	}
	if v := decodeField(r.Artifacts); v != nil {
		msg.Artifacts = stream.NormalizeArtifacts(v, dc)
	}
	if uploads := decodeUploads(r.FileUploads); len(uploads) > 0 {
		msg.FileUploads = uploads
	}

	return msg
}

// decodeField unwraps a raw field that may itself be a JSON encoded string
func decodeField(raw json.RawMessage) any {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	if s, ok := v.(string); ok {
		if s == "" {
			return nil
		}
		var inner any
		if err := json.Unmarshal([]byte(s), &inner); err != nil {
			return nil
		}
		return inner
	}
	return v
}

func decodeUploads(raw json.RawMessage) []Attachment {
	v := decodeField(raw)
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var uploads []Attachment
	if err := json.Unmarshal(b, &uploads); err != nil {
		return nil
	}
	return uploads
}
