package chat

import (
	"github.com/google/uuid"
	"github.com/killallgit/flowchat/pkg/stream"
)

// Outcome tells the caller what applying an event did to the list
type Outcome int

const (
	// OutcomeIgnored means no message was changed
	OutcomeIgnored Outcome = iota
	OutcomeApplied
	// OutcomeCompleted means the in-flight message finished normally
	OutcomeCompleted
	// OutcomeFailed means the stream reported an error
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIgnored:
		return "ignored"
	case OutcomeApplied:
		return "applied"
	case OutcomeCompleted:
		return "completed"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Reduce applies ev to the in-flight message and returns the new list.
// The input slice is never modified. Tokens append to the content, side
// channel payloads replace the previous value.
//
// An error event becomes the content of a reply that has none yet. When
// text has already streamed in, the error is appended after a blank line
// so the partial answer stays visible.
func Reduce(messages []Message, ev stream.Event) ([]Message, Outcome) {
	msg, ok := GetInFlightMessage(messages)
	if !ok || ev == nil {
		return messages, OutcomeIgnored
	}

	outcome := OutcomeApplied

	switch e := ev.(type) {
	case stream.Token:
		if e.Content == "" {
			return messages, OutcomeIgnored
		}
		msg.Content += e.Content
	case stream.SourceDocuments:
		msg.SourceDocuments = e.Documents
	case stream.UsedTools:
		msg.UsedTools = e.Tools
	case stream.FileAnnotations:
		msg.FileAnnotations = e.Annotations
	case stream.AgentReasoning:
		msg.AgentReasoning = e.Steps
	case stream.Artifacts:
		msg.Artifacts = e.Artifacts
	case stream.Action:
		msg.Action = e.Payload
	case stream.NextAgent:
		if e.Agent == "" || len(msg.AgentReasoning) == 0 {
			return messages, OutcomeIgnored
		}
		msg.AgentReasoning = appendTransition(msg.AgentReasoning, e.Agent)
	case stream.Metadata:
		if e.ChatMessageID == "" {
			return messages, OutcomeIgnored
		}
		msg.ID = e.ChatMessageID
	case stream.Error:
		if msg.Content == "" {
			msg.Content = e.Message
		} else {
			msg.Content += "\n\n" + e.Message
		}
		msg.IsError = true
		msg.IsStreaming = false
		outcome = OutcomeFailed
	case stream.End, stream.Abort:
		msg.IsStreaming = false
		outcome = OutcomeCompleted
	case stream.Unknown:
		return messages, OutcomeIgnored
	default:
		return messages, OutcomeIgnored
	}

	return ReplaceLastMessage(messages, msg), outcome
}

func appendTransition(steps []stream.AgentReasoningStep, agent string) []stream.AgentReasoningStep {
	result := make([]stream.AgentReasoningStep, len(steps), len(steps)+1)
	copy(result, steps)
	return append(result, stream.AgentReasoningStep{
		ID:              uuid.NewString(),
		NextAgent:       agent,
		Status:          stream.StatusCompleted,
		Messages:        []stream.ThinkingMessage{},
		UsedTools:       []stream.ToolInvocation{},
		SourceDocuments: []stream.SourceDocument{},
		Artifacts:       []stream.Artifact{},
		State:           map[string]any{},
	})
}
