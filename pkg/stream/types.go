package stream

// ThinkingMessage is one line of an agent's visible reasoning
type ThinkingMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// ToolInvocation records a single tool call made while answering
type ToolInvocation struct {
	Tool       string `json:"tool"`
	ToolInput  any    `json:"toolInput"`
	ToolOutput any    `json:"toolOutput"`
}

// SourceDocument is a retrieved document cited by the answer
type SourceDocument struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	PageContent string         `json:"pageContent"`
	Metadata    map[string]any `json:"metadata"`
}

// Artifact is a generated file or inline rendering attached to a reply
type Artifact struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data string `json:"data"`
}

// Step statuses
const (
	StatusCompleted = "completed"
	StatusRunning   = "running"
	StatusError     = "error"
)

// AgentReasoningStep is one agent's contribution within a multi-agent run.
// A transition pseudo-step only carries NextAgent.
type AgentReasoningStep struct {
	ID              string            `json:"id"`
	AgentName       string            `json:"agentName"`
	NodeName        string            `json:"nodeName"`
	Instructions    string            `json:"instructions"`
	Messages        []ThinkingMessage `json:"messages"`
	UsedTools       []ToolInvocation  `json:"usedTools"`
	SourceDocuments []SourceDocument  `json:"sourceDocuments"`
	Artifacts       []Artifact        `json:"artifacts"`
	State           map[string]any    `json:"state"`
	NextAgent       string            `json:"nextAgent,omitempty"`
	Status          string            `json:"status"`
	StartTime       int64             `json:"startTime,omitempty"`
}

// IsTransition reports whether the step only announces the next agent
func (s AgentReasoningStep) IsTransition() bool {
	return s.NextAgent != ""
}

// MetadataPayload carries the server-assigned identifiers of a reply
type MetadataPayload struct {
	ChatID        string `json:"chatId,omitempty"`
	ChatMessageID string `json:"chatMessageId,omitempty"`
	SessionID     string `json:"sessionId,omitempty"`
	Question      string `json:"question,omitempty"`
}

// DecodeContext supplies the values needed to rewrite stored file references
// into retrieval URLs.
type DecodeContext struct {
	BaseURL    string
	ChatflowID string
	ChatID     string
}
