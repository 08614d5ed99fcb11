package stream

import (
	"encoding/json"
	"fmt"
)

// Frame is one raw server-sent event record
type Frame struct {
	Event string
	Data  string
	ID    string
	// Err is set on the final frame when the body could not be read to the end
	Err error
}

// Decode turns a single frame into an Event. It returns nil for frames
// without data and never panics.
func Decode(frame Frame, dc DecodeContext) (ev Event) {
	if frame.Data == "" {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			ev = Error{Message: fmt.Sprintf("failed to decode stream frame: %v", r)}
		}
	}()

	var parsed any
	if err := json.Unmarshal([]byte(frame.Data), &parsed); err != nil {
		return Token{Content: frame.Data}
	}

	switch v := parsed.(type) {
	case string:
		return Token{Content: v}
	case map[string]any:
		return decodeObject(v, frame, dc)
	default:
		return Token{Content: frame.Data}
	}
}

func decodeObject(obj map[string]any, frame Frame, dc DecodeContext) Event {
	if text, ok := obj["text"]; ok {
		return Token{Content: asString(text)}
	}

	name := asString(obj["event"])
	if name == "" {
		name = asString(obj["type"])
	}
	if name == "" && frame.Event != "" && frame.Event != "message" {
		name = frame.Event
	}

	if name == "" {
		if data, ok := obj["data"]; ok {
			return Token{Content: asString(data)}
		}
		if content, ok := obj["content"]; ok {
			return Token{Content: asString(content)}
		}
		return Unknown{Raw: obj}
	}

	payload, ok := obj["data"]
	if !ok {
		payload = obj["content"]
	}

	switch name {
	case EventToken:
		return Token{Content: asString(payload)}
	case EventAgentReasoning:
		return AgentReasoning{Steps: NormalizeAgentReasoning(payload, dc)}
	case EventSourceDocuments:
		return SourceDocuments{Documents: NormalizeSourceDocuments(payload)}
	case EventUsedTools:
		return UsedTools{Tools: NormalizeUsedTools(payload)}
	case EventArtifacts:
		return Artifacts{Artifacts: NormalizeArtifacts(payload, dc)}
	case EventFileAnnotations:
		annotations, ok := payload.([]any)
		if !ok {
			annotations = []any{}
		}
		return FileAnnotations{Annotations: annotations}
	case EventAction:
		action, ok := payload.(map[string]any)
		if !ok {
			action = map[string]any{}
		}
		return Action{Payload: action}
	case EventNextAgent:
		return NextAgent{Agent: agentName(payload)}
	case EventMetadata:
		return Metadata{MetadataPayload: metadataFromAny(payload)}
	case EventError:
		for _, key := range []string{"data", "content", "error"} {
			if msg := asString(obj[key]); msg != "" {
				return Error{Message: msg}
			}
		}
		return Error{Message: "Unknown error"}
	case EventAbort:
		return Abort{Payload: payload}
	case EventEnd:
		return End{Payload: payload}
	default:
		return Unknown{Event: name, Raw: obj["data"]}
	}
}

func agentName(payload any) string {
	if m, ok := payload.(map[string]any); ok {
		for _, key := range []string{"nextAgent", "agentName", "name"} {
			if s := asString(m[key]); s != "" {
				return s
			}
		}
		return ""
	}
	return asString(payload)
}

func metadataFromAny(payload any) MetadataPayload {
	m, ok := payload.(map[string]any)
	if !ok {
		return MetadataPayload{}
	}
	return MetadataPayload{
		ChatID:        asString(m["chatId"]),
		ChatMessageID: asString(m["chatMessageId"]),
		SessionID:     asString(m["sessionId"]),
		Question:      asString(m["question"]),
	}
}
