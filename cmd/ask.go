package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/killallgit/flowchat/pkg/chat"
	"github.com/killallgit/flowchat/pkg/config"
	"github.com/spf13/cobra"
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a single question and print the reply",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()
		transport, err := newTransport(cfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		presenter := newPresenter(cfg, cmd.OutOrStdout())
		defer presenter.Close()
		session := newSession(cfg, transport, presenter)

		pairs, err := cmd.Flags().GetStringToString("override")
		if err != nil {
			return err
		}

		question := strings.Join(args, " ")
		return ask(ctx, session, question, overrideConfig(pairs), presenter)
	},
}

type revealer interface {
	Wait(ctx context.Context) error
	Skip()
}

// overrideConfig wraps flag pairs into the overrideConfig request field
func overrideConfig(pairs map[string]string) map[string]any {
	if len(pairs) == 0 {
		return nil
	}
	cfg := make(map[string]any, len(pairs))
	for k, v := range pairs {
		cfg[k] = v
	}
	return map[string]any{"overrideConfig": cfg}
}

// ask sends one question and waits for the reply to be revealed
func ask(ctx context.Context, session *chat.Session, question string, overrides map[string]any, reveal revealer) error {
	if !session.SendMessage(ctx, question, nil, overrides) {
		return fmt.Errorf("nothing to send")
	}

	done := make(chan struct{})
	go func() {
		session.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		session.AbortMessage(context.Background())
		<-done
		reveal.Skip()
	}
	reveal.Wait(context.WithoutCancel(ctx))

	if err := session.LastError(); err != nil {
		return err
	}
	return nil
}

func init() {
	askCmd.Flags().StringToStringP("override", "o", nil, "overrideConfig entries sent with the question (key=value)")
}
