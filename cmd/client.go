package cmd

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/killallgit/flowchat/pkg/chat"
	"github.com/killallgit/flowchat/pkg/config"
	"github.com/killallgit/flowchat/pkg/console"
	"github.com/killallgit/flowchat/pkg/logger"
	"github.com/killallgit/flowchat/pkg/typewriter"
	"github.com/spf13/viper"
)

func newTransport(cfg *config.Config) (*chat.HTTPTransport, error) {
	if cfg.Server.ChatflowID == "" {
		return nil, fmt.Errorf("no chatflow configured: set server.chatflow_id or pass --chatflow")
	}

	client := &http.Client{}
	if cfg.Server.Timeout > 0 {
		client.Timeout = cfg.Server.Timeout
	}
	creds := chat.Credentials{
		Username: cfg.Server.Username,
		Password: cfg.Server.Password,
		APIKey:   cfg.Server.APIKey,
	}

	return chat.NewHTTPTransport(chat.HTTPTransportConfig{
		BaseURL:      cfg.Server.BaseURL,
		ChatflowID:   cfg.Server.ChatflowID,
		Auth:         chat.StaticAuth(creds),
		Client:       client,
		Retries:      cfg.Stream.ConnectRetries,
		RetryInitial: cfg.Stream.RetryInitial,
		RetryMax:     cfg.Stream.RetryMax,
	}), nil
}

func newPresenter(cfg *config.Config, out io.Writer) *console.Presenter {
	return console.NewPresenter(out, console.PresenterOptions{
		Typewriter: typewriter.FromSettings(cfg.Typewriter),
		Plain:      viper.GetBool("plain"),
	})
}

func newSession(cfg *config.Config, transport *chat.HTTPTransport, handler chat.Handler) *chat.Session {
	return chat.NewSession(transport, chat.SessionConfig{
		SessionID:  resolveSession(cfg.Session.ID),
		BaseURL:    transport.BaseURL(),
		ChatflowID: transport.ChatflowID(),
		Greeting:   cfg.Session.Greeting,
		Handler:    handler,
	})
}

// resolveSession accepts a bare session id or a link whose query carries
// one. Anything else starts a new session.
func resolveSession(value string) string {
	value = strings.TrimSpace(value)
	if id, ok := chat.ValidSessionID(value); ok {
		return id
	}
	if value != "" {
		query := value
		if u, err := url.Parse(value); err == nil && u.RawQuery != "" {
			query = u.RawQuery
		}
		id := chat.ResolveSessionID(query)
		if !strings.Contains(strings.ToLower(query), id) {
			logger.Warn("Ignoring invalid session %q, starting %s", value, id)
		}
		return id
	}
	return chat.ResolveSessionID("")
}
