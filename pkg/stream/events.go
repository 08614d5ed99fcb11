package stream

// Event is a decoded stream frame. The set of implementations is closed;
// consumers switch on the concrete type.
type Event interface {
	Name() string
	isEvent()
}

// Event names as they appear on the wire
const (
	EventStart           = "start"
	EventToken           = "token"
	EventSourceDocuments = "sourceDocuments"
	EventUsedTools       = "usedTools"
	EventFileAnnotations = "fileAnnotations"
	EventAgentReasoning  = "agentReasoning"
	EventArtifacts       = "artifacts"
	EventAction          = "action"
	EventNextAgent       = "nextAgent"
	EventMetadata        = "metadata"
	EventError           = "error"
	EventAbort           = "abort"
	EventEnd             = "end"
)

type Token struct{ Content string }

type SourceDocuments struct{ Documents []SourceDocument }

type UsedTools struct{ Tools []ToolInvocation }

type FileAnnotations struct{ Annotations []any }

type AgentReasoning struct{ Steps []AgentReasoningStep }

type Artifacts struct{ Artifacts []Artifact }

type Action struct{ Payload map[string]any }

type NextAgent struct{ Agent string }

type Metadata struct{ MetadataPayload }

type Error struct{ Message string }

type Abort struct{ Payload any }

type End struct{ Payload any }

// Unknown preserves frames with an unrecognised discriminator
type Unknown struct {
	Event string
	Raw   any
}

func (Token) Name() string           { return EventToken }
func (SourceDocuments) Name() string { return EventSourceDocuments }
func (UsedTools) Name() string       { return EventUsedTools }
func (FileAnnotations) Name() string { return EventFileAnnotations }
func (AgentReasoning) Name() string  { return EventAgentReasoning }
func (Artifacts) Name() string       { return EventArtifacts }
func (Action) Name() string          { return EventAction }
func (NextAgent) Name() string       { return EventNextAgent }
func (Metadata) Name() string        { return EventMetadata }
func (Error) Name() string           { return EventError }
func (Abort) Name() string           { return EventAbort }
func (End) Name() string             { return EventEnd }
func (u Unknown) Name() string       { return u.Event }

func (Token) isEvent()           {}
func (SourceDocuments) isEvent() {}
func (UsedTools) isEvent()       {}
func (FileAnnotations) isEvent() {}
func (AgentReasoning) isEvent()  {}
func (Artifacts) isEvent()       {}
func (Action) isEvent()          {}
func (NextAgent) isEvent()       {}
func (Metadata) isEvent()        {}
func (Error) isEvent()           {}
func (Abort) isEvent()           {}
func (End) isEvent()             {}
func (Unknown) isEvent()         {}

// IsTerminal reports whether the event ends the in-flight reply
func IsTerminal(ev Event) bool {
	switch ev.(type) {
	case Error, Abort, End:
		return true
	default:
		return false
	}
}
