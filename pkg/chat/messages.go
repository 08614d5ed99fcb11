package chat

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/killallgit/flowchat/pkg/stream"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Attachment is an upload sent along with a question
type Attachment struct {
	Data string `json:"data"`
	Type string `json:"type"` // file, url or audio
	Name string `json:"name"`
	Mime string `json:"mime"`
}

// Message is one turn in a conversation. Only the last message of a
// session may be streaming.
type Message struct {
	ID          string    `json:"id"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
	IsStreaming bool      `json:"isStreaming"`
	IsError     bool      `json:"isError"`
	SessionID   string    `json:"sessionId"`

	SourceDocuments []stream.SourceDocument     `json:"sourceDocuments,omitempty"`
	UsedTools       []stream.ToolInvocation     `json:"usedTools,omitempty"`
	FileAnnotations []any                       `json:"fileAnnotations,omitempty"`
	AgentReasoning  []stream.AgentReasoningStep `json:"agentReasoning,omitempty"`
	Artifacts       []stream.Artifact           `json:"artifacts,omitempty"`
	Action          map[string]any              `json:"action,omitempty"`
	FileUploads     []Attachment                `json:"fileUploads,omitempty"`
	Feedback        *Feedback                   `json:"feedback,omitempty"`
}

func NewUserMessage(sessionID, content string, uploads []Attachment) Message {
	return Message{
		ID:          uuid.NewString(),
		Role:        RoleUser,
		Content:     strings.TrimSpace(content),
		Timestamp:   time.Now(),
		SessionID:   sessionID,
		FileUploads: uploads,
	}
}

// NewStreamingMessage creates the empty assistant reply that receives stream events
func NewStreamingMessage(sessionID string) Message {
	return Message{
		ID:          uuid.NewString(),
		Role:        RoleAssistant,
		Timestamp:   time.Now(),
		IsStreaming: true,
		SessionID:   sessionID,
	}
}

func NewAssistantMessage(sessionID, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		Content:   content,
		Timestamp: time.Now(),
		SessionID: sessionID,
	}
}

func (m Message) IsUser() bool {
	return m.Role == RoleUser
}

func (m Message) IsAssistant() bool {
	return m.Role == RoleAssistant
}

func (m Message) IsSystem() bool {
	return m.Role == RoleSystem
}

func (m Message) IsEmpty() bool {
	return strings.TrimSpace(m.Content) == ""
}
