package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/killallgit/flowchat/pkg/logger"
	"github.com/killallgit/flowchat/pkg/stream"
)

const maxErrorBody = 4 << 10

// HTTPTransportConfig configures an HTTPTransport
type HTTPTransportConfig struct {
	BaseURL    string
	ChatflowID string
	Auth       AuthProvider
	Client     *http.Client
	// Retries bounds the extra attempts made while opening a stream
	Retries      int
	RetryInitial time.Duration
	RetryMax     time.Duration
}

// HTTPTransport implements Transport against the prediction REST API
type HTTPTransport struct {
	baseURL    string
	chatflowID string
	auth       AuthProvider
	httpClient *http.Client

	retries      int
	retryInitial time.Duration
	retryMax     time.Duration

	log *logger.ComponentLogger
}

// NewHTTPTransport creates a transport for one chatflow
func NewHTTPTransport(cfg HTTPTransportConfig) *HTTPTransport {
	client := cfg.Client
	if client == nil {
		// No client timeout: a stream may legitimately stay open for minutes
		client = &http.Client{}
	}
	auth := cfg.Auth
	if auth == nil {
		auth = StaticAuth(Credentials{})
	}
	initial := cfg.RetryInitial
	if initial <= 0 {
		initial = 250 * time.Millisecond
	}
	maxInterval := cfg.RetryMax
	if maxInterval < initial {
		maxInterval = initial
	}
	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	}

	return &HTTPTransport{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		chatflowID:   cfg.ChatflowID,
		auth:         auth,
		httpClient:   client,
		retries:      retries,
		retryInitial: initial,
		retryMax:     maxInterval,
		log:          logger.WithComponent("transport").With("chatflow", cfg.ChatflowID),
	}
}

// BaseURL returns the backend root without a trailing slash
func (t *HTTPTransport) BaseURL() string {
	return t.baseURL
}

// ChatflowID returns the chatflow all requests are scoped to
func (t *HTTPTransport) ChatflowID() string {
	return t.chatflowID
}

// Open posts the question and validates the response envelope before
// returning the frame stream. Only this step is retried.
func (t *HTTPTransport) Open(ctx context.Context, req PredictionRequest) (*Stream, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	endpoint := fmt.Sprintf("%s/api/v1/internal-prediction/%s", t.baseURL, url.PathEscape(t.chatflowID))

	attempt := 0
	operation := func() (*http.Response, error) {
		attempt++
		httpReq, err := http.NewRequestWithContext(streamCtx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "text/event-stream")
		httpReq.Header.Set("x-request-from", "internal")
		t.auth().Apply(httpReq)

		resp, err := t.httpClient.Do(httpReq)
		if err != nil {
			if streamCtx.Err() != nil {
				return nil, backoff.Permanent(streamCtx.Err())
			}
			t.log.Warn("prediction request failed", "attempt", attempt, "error", err)
			return nil, &ConnectionError{Kind: KindUnknown, Err: err}
		}

		if err := validateEnvelope(resp); err != nil {
			if err.Kind == KindServerError {
				t.log.Warn("prediction rejected", "attempt", attempt, "status", err.Status)
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return resp, nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = t.retryInitial
	policy.MaxInterval = t.retryMax
	policy.MaxElapsedTime = 0

	resp, err := backoff.RetryWithData(operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, uint64(t.retries)), streamCtx))
	if err != nil {
		cancel()
		return nil, err
	}

	t.log.Debug("stream opened", "session", req.SessionID, "content_type", resp.Header.Get("Content-Type"))
	frames := stream.ReadFrames(streamCtx, resp.Body, resp.Header.Get("Content-Type"))
	return NewStream(frames, cancel), nil
}

// validateEnvelope checks status and content type. A rejected response
// body is drained into the error and closed.
func validateEnvelope(resp *http.Response) *ConnectionError {
	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if ok && stream.IsStreamContentType(resp.Header.Get("Content-Type")) {
		return nil
	}

	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	if ok {
		return &ConnectionError{
			Kind:   KindUnknown,
			Status: resp.StatusCode,
			Body:   fmt.Sprintf("unexpected content type %q", resp.Header.Get("Content-Type")),
		}
	}
	return &ConnectionError{
		Kind:   KindForStatus(resp.StatusCode),
		Status: resp.StatusCode,
		Body:   errorMessage(raw),
	}
}

// errorMessage prefers the message field of a JSON error body
func errorMessage(raw []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(raw, &payload) == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return strings.TrimSpace(string(raw))
}

func (t *HTTPTransport) historyURL(sessionID string) string {
	q := url.Values{}
	q.Set("chatId", sessionID)
	return fmt.Sprintf("%s/api/v1/chatmessage/%s?%s", t.baseURL, url.PathEscape(t.chatflowID), q.Encode())
}

// FetchHistory returns the persisted messages of a session, oldest first
func (t *HTTPTransport) FetchHistory(ctx context.Context, sessionID string) ([]Record, error) {
	q := url.Values{}
	q.Set("chatId", sessionID)
	q.Set("order", "ASC")
	endpoint := fmt.Sprintf("%s/api/v1/chatmessage/%s?%s", t.baseURL, url.PathEscape(t.chatflowID), q.Encode())

	var records []Record
	if err := t.doJSON(ctx, http.MethodGet, endpoint, nil, &records); err != nil {
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}
	return records, nil
}

// DeleteHistory removes every persisted message of a session
func (t *HTTPTransport) DeleteHistory(ctx context.Context, sessionID string) error {
	if err := t.doJSON(ctx, http.MethodDelete, t.historyURL(sessionID), nil, nil); err != nil {
		return fmt.Errorf("failed to delete history: %w", err)
	}
	return nil
}

// Abort asks the backend to stop generating for a session
func (t *HTTPTransport) Abort(ctx context.Context, sessionID string) error {
	endpoint := fmt.Sprintf("%s/api/v1/chatmessage/abort/%s/%s", t.baseURL,
		url.PathEscape(t.chatflowID), url.PathEscape(sessionID))
	if err := t.doJSON(ctx, http.MethodPut, endpoint, nil, nil); err != nil {
		return fmt.Errorf("failed to abort prediction: %w", err)
	}
	return nil
}

// SendFeedback stores a rating for an assistant message
func (t *HTTPTransport) SendFeedback(ctx context.Context, feedback Feedback) error {
	if feedback.ChatflowID == "" {
		feedback.ChatflowID = t.chatflowID
	}
	endpoint := fmt.Sprintf("%s/api/v1/feedback/%s", t.baseURL, url.PathEscape(t.chatflowID))
	if err := t.doJSON(ctx, http.MethodPost, endpoint, feedback, nil); err != nil {
		return fmt.Errorf("failed to send feedback: %w", err)
	}
	return nil
}

func (t *HTTPTransport) doJSON(ctx context.Context, method, endpoint string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-request-from", "internal")
	t.auth().Apply(req)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &ConnectionError{
			Kind:   KindForStatus(resp.StatusCode),
			Status: resp.StatusCode,
			Body:   errorMessage(raw),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
