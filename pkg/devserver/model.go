package devserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/killallgit/flowchat/pkg/chat"
	"github.com/killallgit/flowchat/pkg/stream"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

// Model providers
const (
	ProviderEcho   = "echo"
	ProviderOllama = "ollama"
)

const systemPrompt = "You are a helpful assistant. Answer using the provided context when it is relevant."

// NewModel creates the language model answering predictions
func NewModel(provider, model, serverURL string) (llms.Model, error) {
	switch provider {
	case "", ProviderEcho:
		return NewEchoModel(), nil
	case ProviderOllama:
		llm, err := ollama.New(
			ollama.WithServerURL(serverURL),
			ollama.WithModel(model),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama LLM: %w", err)
		}
		return llm, nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", provider)
	}
}

// BuildPrompt assembles the conversation sent to the model: the system
// prompt with retrieved context, earlier turns, then the question
func BuildPrompt(question string, docs []stream.SourceDocument, history []chat.Record) []llms.MessageContent {
	var system strings.Builder
	system.WriteString(systemPrompt)
	if len(docs) > 0 {
		system.WriteString("\n\nContext:\n")
		for _, doc := range docs {
			if doc.Title != "" {
				fmt.Fprintf(&system, "[%s]\n", doc.Title)
			}
			system.WriteString(doc.PageContent)
			system.WriteString("\n\n")
		}
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, strings.TrimSpace(system.String())),
	}
	for _, rec := range history {
		switch rec.Role {
		case chat.RecordRoleUser:
			messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, rec.Content))
		case chat.RecordRoleAPI:
			messages = append(messages, llms.TextParts(llms.ChatMessageTypeAI, rec.Content))
		}
	}
	return append(messages, llms.TextParts(llms.ChatMessageTypeHuman, question))
}

// EchoModel answers by repeating the question and naming the context it
// was given. It streams word by word like a real model.
type EchoModel struct{}

func NewEchoModel() *EchoModel {
	return &EchoModel{}
}

// Call implements llms.Model
func (m *EchoModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

// GenerateContent implements llms.Model
func (m *EchoModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	var question string
	sources := 0
	for _, msg := range messages {
		text := textOf(msg)
		switch msg.Role {
		case llms.ChatMessageTypeHuman:
			question = text
		case llms.ChatMessageTypeSystem:
			sources += strings.Count(text, "\n[")
		}
	}

	answer := fmt.Sprintf("You said: %s", question)
	if sources > 0 {
		answer += fmt.Sprintf(" (found %d related documents)", sources)
	}

	opts := llms.CallOptions{}
	for _, opt := range options {
		opt(&opts)
	}
	if opts.StreamingFunc != nil {
		for _, chunk := range splitWords(answer) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := opts.StreamingFunc(ctx, []byte(chunk)); err != nil {
				return nil, err
			}
		}
	}

	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: answer, StopReason: "stop"}},
	}, nil
}

func textOf(msg llms.MessageContent) string {
	var parts []string
	for _, part := range msg.Parts {
		if text, ok := part.(llms.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// splitWords cuts text into chunks that keep their trailing spaces
func splitWords(text string) []string {
	var chunks []string
	start := 0
	for i := 1; i < len(text); i++ {
		if text[i-1] == ' ' && text[i] != ' ' {
			chunks = append(chunks, text[start:i])
			start = i
		}
	}
	if start < len(text) {
		chunks = append(chunks, text[start:])
	}
	return chunks
}
