package stream

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FileStoragePrefix marks artifact data that refers to a stored upload
const FileStoragePrefix = "FILE-STORAGE::"

// NormalizeAgentReasoning turns a loosely shaped reasoning payload into
// fully defaulted steps. It accepts decoded JSON as well as its own output.
func NormalizeAgentReasoning(raw any, dc DecodeContext) []AgentReasoningStep {
	steps := make([]AgentReasoningStep, 0)

	switch v := raw.(type) {
	case []AgentReasoningStep:
		for _, s := range v {
			steps = append(steps, normalizeStep(s, dc))
		}
	case []any:
		for _, item := range v {
			steps = append(steps, normalizeStep(stepFromAny(item), dc))
		}
	case map[string]any:
		steps = append(steps, normalizeStep(stepFromAny(v), dc))
	}

	allTimed := len(steps) > 0
	for _, s := range steps {
		if s.StartTime <= 0 {
			allTimed = false
			break
		}
	}
	if allTimed {
		sort.SliceStable(steps, func(i, j int) bool {
			return steps[i].StartTime < steps[j].StartTime
		})
	}

	return steps
}

func stepFromAny(item any) AgentReasoningStep {
	switch v := item.(type) {
	case string:
		return AgentReasoningStep{
			AgentName: v,
			Messages:  []ThinkingMessage{{Type: "thinking", Content: v}},
		}
	case map[string]any:
		step := AgentReasoningStep{
			ID:           asString(v["id"]),
			AgentName:    asString(v["agentName"]),
			NodeName:     asString(v["nodeName"]),
			Instructions: asString(v["instructions"]),
			NextAgent:    asString(v["nextAgent"]),
			Status:       asString(v["status"]),
			StartTime:    asMillis(v["startTime"]),
		}
		step.Messages = thinkingFromAny(v["messages"])
		step.UsedTools = NormalizeUsedTools(v["usedTools"])
		step.SourceDocuments = NormalizeSourceDocuments(v["sourceDocuments"])
		step.Artifacts = artifactsFromAny(v["artifacts"])
		if state, ok := v["state"].(map[string]any); ok {
			step.State = state
		}
		return step
	default:
		return AgentReasoningStep{}
	}
}

func normalizeStep(s AgentReasoningStep, dc DecodeContext) AgentReasoningStep {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Status == "" {
		s.Status = StatusCompleted
	}
	if s.State == nil {
		s.State = map[string]any{}
	}

	messages := make([]ThinkingMessage, 0, len(s.Messages))
	for _, m := range s.Messages {
		if m.Type == "" {
			m.Type = "thinking"
		}
		messages = append(messages, m)
	}
	s.Messages = messages

	s.UsedTools = NormalizeUsedTools(s.UsedTools)
	s.SourceDocuments = NormalizeSourceDocuments(s.SourceDocuments)
	s.Artifacts = NormalizeArtifacts(s.Artifacts, dc)
	return s
}

func thinkingFromAny(raw any) []ThinkingMessage {
	out := make([]ThinkingMessage, 0)
	switch v := raw.(type) {
	case string:
		if v != "" {
			out = append(out, ThinkingMessage{Type: "thinking", Content: v})
		}
	case []any:
		for _, item := range v {
			switch m := item.(type) {
			case string:
				out = append(out, ThinkingMessage{Type: "thinking", Content: m})
			case map[string]any:
				out = append(out, ThinkingMessage{Type: asString(m["type"]), Content: asString(m["content"])})
			}
		}
	case []ThinkingMessage:
		out = append(out, v...)
	}
	return out
}

// NormalizeUsedTools lifts bare tool names and defaults every field
func NormalizeUsedTools(raw any) []ToolInvocation {
	tools := make([]ToolInvocation, 0)
	switch v := raw.(type) {
	case []ToolInvocation:
		tools = append(tools, v...)
	case []any:
		for _, item := range v {
			switch t := item.(type) {
			case string:
				tools = append(tools, ToolInvocation{Tool: t})
			case map[string]any:
				inv := ToolInvocation{Tool: asString(t["tool"])}
				inv.ToolInput = firstPresent(t, "toolInput", "input")
				inv.ToolOutput = firstPresent(t, "toolOutput", "output")
				tools = append(tools, inv)
			}
		}
	case string:
		if v != "" {
			tools = append(tools, ToolInvocation{Tool: v})
		}
	}
	return tools
}

// NormalizeSourceDocuments defaults titles from metadata and fills empty maps
func NormalizeSourceDocuments(raw any) []SourceDocument {
	docs := make([]SourceDocument, 0)
	switch v := raw.(type) {
	case []SourceDocument:
		for _, d := range v {
			docs = append(docs, normalizeDocument(d))
		}
	case []any:
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			doc := SourceDocument{
				ID:          asString(m["id"]),
				Title:       asString(m["title"]),
				PageContent: asString(m["pageContent"]),
			}
			if md, ok := m["metadata"].(map[string]any); ok {
				doc.Metadata = md
			}
			docs = append(docs, normalizeDocument(doc))
		}
	}
	return docs
}

func normalizeDocument(d SourceDocument) SourceDocument {
	if d.Metadata == nil {
		d.Metadata = map[string]any{}
	}
	if d.Title == "" {
		d.Title = asString(d.Metadata["title"])
	}
	return d
}

// NormalizeArtifacts rewrites stored image references into retrieval URLs
func NormalizeArtifacts(raw any, dc DecodeContext) []Artifact {
	var artifacts []Artifact
	switch v := raw.(type) {
	case []Artifact:
		artifacts = v
	default:
		artifacts = artifactsFromAny(v)
	}

	out := make([]Artifact, 0, len(artifacts))
	for _, a := range artifacts {
		if (a.Type == "png" || a.Type == "jpeg") && strings.HasPrefix(a.Data, FileStoragePrefix) {
			a.Data = FileURL(dc, strings.TrimPrefix(a.Data, FileStoragePrefix))
		}
		out = append(out, a)
	}
	return out
}

func artifactsFromAny(raw any) []Artifact {
	out := make([]Artifact, 0)
	switch v := raw.(type) {
	case []Artifact:
		out = append(out, v...)
	case []any:
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			out = append(out, Artifact{
				ID:   asString(m["id"]),
				Type: asString(m["type"]),
				Data: asString(m["data"]),
			})
		}
	}
	return out
}

// FileURL builds the retrieval URL for a stored upload
func FileURL(dc DecodeContext, fileName string) string {
	return fmt.Sprintf("%s/api/v1/get-upload-file?chatflowId=%s&chatId=%s&fileName=%s",
		strings.TrimRight(dc.BaseURL, "/"),
		url.QueryEscape(dc.ChatflowID),
		url.QueryEscape(dc.ChatID),
		url.QueryEscape(fileName))
}

func firstPresent(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v
		}
	}
	return nil
}

// asString coerces a decoded JSON value into text. Non-strings are
// re-encoded as JSON.
func asString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		b, err := json.Marshal(s)
		if err != nil {
			return fmt.Sprint(s)
		}
		return string(b)
	}
}

func asMillis(v any) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case int64:
		return t
	case int:
		return int64(t)
	case json.Number:
		n, _ := t.Int64()
		return n
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return ts.UnixMilli()
		}
	}
	return 0
}
