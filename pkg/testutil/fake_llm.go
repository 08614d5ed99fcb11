package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/llms"
)

// FakeLLM implements llms.Model with scripted responses. When a streaming
// function is supplied it receives the response word by word.
type FakeLLM struct {
	mu           sync.Mutex
	responses    []string
	currentIndex int
	callCount    int
	lastPrompt   string
	errorOnCall  int // If > 0, return error on this call number
	errorMessage string
	failAfter    int // If > 0, fail the stream after this many chunks
}

// NewFakeLLM creates a new fake LLM with predefined responses
func NewFakeLLM(responses ...string) *FakeLLM {
	return &FakeLLM{
		responses: responses,
	}
}

// Call implements the LLM interface
func (f *FakeLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

// GenerateContent implements llms.Model
func (f *FakeLLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	var parts []string
	for _, msg := range messages {
		for _, part := range msg.Parts {
			if text, ok := part.(llms.TextContent); ok {
				parts = append(parts, text.Text)
			}
		}
	}

	f.mu.Lock()
	f.callCount++
	f.lastPrompt = strings.Join(parts, "\n")
	if f.errorOnCall > 0 && f.callCount == f.errorOnCall {
		msg := f.errorMessage
		if msg == "" {
			msg = fmt.Sprintf("fake error on call %d", f.callCount)
		}
		f.mu.Unlock()
		return nil, fmt.Errorf("%s", msg)
	}
	if len(f.responses) == 0 {
		f.mu.Unlock()
		return nil, fmt.Errorf("no responses configured")
	}
	response := f.responses[f.currentIndex]
	f.currentIndex = (f.currentIndex + 1) % len(f.responses)
	failAfter := f.failAfter
	f.mu.Unlock()

	opts := llms.CallOptions{}
	for _, opt := range options {
		opt(&opts)
	}

	if opts.StreamingFunc != nil {
		for i, chunk := range SplitWords(response) {
			if failAfter > 0 && i >= failAfter {
				return nil, fmt.Errorf("fake stream failure after %d chunks", failAfter)
			}
			if err := opts.StreamingFunc(ctx, []byte(chunk)); err != nil {
				return nil, err
			}
		}
	}

	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{
			{
				Content: response,
			},
		},
	}, nil
}

// SplitWords cuts text into chunks that each start with their leading
// whitespace, so joining them restores the text.
func SplitWords(text string) []string {
	var chunks []string
	start := 0
	for i := 1; i < len(text); i++ {
		if text[i] == ' ' && text[i-1] != ' ' {
			chunks = append(chunks, text[start:i])
			start = i
		}
	}
	if start < len(text) {
		chunks = append(chunks, text[start:])
	}
	return chunks
}

// SetErrorOnCall configures the LLM to return an error on a specific call
func (f *FakeLLM) SetErrorOnCall(callNumber int, errorMessage string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errorOnCall = callNumber
	f.errorMessage = errorMessage
}

// SetFailAfter makes streaming calls fail after n chunks
func (f *FakeLLM) SetFailAfter(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAfter = n
}

// GetCallCount returns the number of generation calls
func (f *FakeLLM) GetCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callCount
}

// GetLastPrompt returns the text of the last generation call
func (f *FakeLLM) GetLastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastPrompt
}
