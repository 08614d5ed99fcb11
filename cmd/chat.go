package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/killallgit/flowchat/pkg/chat"
	"github.com/killallgit/flowchat/pkg/config"
	"github.com/killallgit/flowchat/pkg/console"
	"github.com/killallgit/flowchat/pkg/logger"
	"github.com/spf13/cobra"
)

const chatHelp = `commands:
  /clear     delete the history of this session
  /history   show the conversation so far
  /good      rate the last reply thumbs up
  /bad       rate the last reply thumbs down
  /session   print the session id
  /quit      leave (Ctrl-D works too)
Ctrl-C stops the reply being streamed.`

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()
		transport, err := newTransport(cfg)
		if err != nil {
			return err
		}

		presenter := newPresenter(cfg, cmd.OutOrStdout())
		defer presenter.Close()
		session := newSession(cfg, transport, presenter)

		interrupts := make(chan os.Signal, 1)
		signal.Notify(interrupts, os.Interrupt)
		defer signal.Stop(interrupts)

		return runChat(cmd.Context(), cmd.InOrStdin(), session, presenter, interrupts)
	},
}

// chatLoop reads lines and feeds them to the session until input ends
type chatLoop struct {
	session    *chat.Session
	presenter  *console.Presenter
	interrupts <-chan os.Signal
}

func runChat(ctx context.Context, in io.Reader, session *chat.Session, presenter *console.Presenter, interrupts <-chan os.Signal) error {
	log := logger.WithComponent("chat").With("session", session.SessionID())

	if session.LoadHistory(ctx) {
		presenter.RenderHistory(session.Messages())
	} else {
		presenter.Failure(fmt.Errorf("could not load history: %w", session.LastError()))
		presenter.RenderHistory(session.Messages())
	}
	presenter.Notice("session %s, /help for commands", session.SessionID())

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	loop := &chatLoop{session: session, presenter: presenter, interrupts: interrupts}
	for {
		fmt.Fprint(presenter.Output(), presenter.Prompt())

		var line string
		select {
		case <-ctx.Done():
			return nil
		case <-interrupts:
			fmt.Fprintln(presenter.Output())
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(presenter.Output())
				return nil
			}
			line = strings.TrimSpace(l)
		}

		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := loop.command(ctx, line); quit {
				return nil
			}
			continue
		}

		if !session.SendMessage(ctx, line, nil, nil) {
			log.Debug("message not sent", "state", session.State().String())
			continue
		}
		loop.await(ctx)
	}
}

// await blocks until the reply is streamed and revealed. An interrupt
// aborts the stream and skips the rest of the reveal.
func (l *chatLoop) await(ctx context.Context) {
	streamed := make(chan struct{})
	go func() {
		l.session.Wait()
		close(streamed)
	}()

	for {
		select {
		case <-streamed:
			l.presenter.Wait(ctx)
			return
		case <-l.interrupts:
			l.session.AbortMessage(ctx)
			l.presenter.Skip()
		case <-ctx.Done():
			l.session.AbortMessage(context.Background())
			return
		}
	}
}

func (l *chatLoop) command(ctx context.Context, line string) bool {
	name, _, _ := strings.Cut(line, " ")
	switch name {
	case "/quit", "/exit":
		return true
	case "/help":
		l.presenter.Notice("%s", chatHelp)
	case "/session":
		l.presenter.Notice("%s", l.session.SessionID())
	case "/history":
		l.presenter.RenderHistory(l.session.Messages())
	case "/clear":
		if l.session.ClearChat(ctx) {
			l.presenter.Notice("history cleared")
		} else {
			l.presenter.Failure(fmt.Errorf("could not clear history: %w", l.session.LastError()))
		}
	case "/good", "/bad":
		rating := chat.RatingThumbsUp
		if name == "/bad" {
			rating = chat.RatingThumbsDown
		}
		l.rate(ctx, rating)
	default:
		l.presenter.Failure(errors.New("unknown command " + name))
	}
	return false
}

func (l *chatLoop) rate(ctx context.Context, rating string) {
	messages := l.session.Messages()
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		if !msg.IsAssistant() || msg.IsStreaming {
			continue
		}
		if l.session.SubmitFeedback(ctx, msg.ID, rating, "") {
			l.presenter.Notice("feedback saved")
		} else {
			l.presenter.Failure(errors.New("could not save feedback"))
		}
		return
	}
	l.presenter.Failure(errors.New("no reply to rate"))
}
