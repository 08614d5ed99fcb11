package cmd

import (
	"fmt"

	"github.com/killallgit/flowchat/pkg/chat"
	"github.com/killallgit/flowchat/pkg/config"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show or clear the history of a session",
}

var historyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the messages of a session",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()
		transport, err := newTransport(cfg)
		if err != nil {
			return err
		}
		presenter := newPresenter(cfg, cmd.OutOrStdout())
		session := newSession(cfg, transport, chat.HandlerFunc{})

		if !session.LoadHistory(cmd.Context()) {
			return fmt.Errorf("failed to load history of %s: %w", session.SessionID(), session.LastError())
		}
		presenter.RenderHistory(session.Messages())
		return nil
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the messages of a session",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()
		if cfg.Session.ID == "" {
			return fmt.Errorf("history clear needs --session")
		}
		transport, err := newTransport(cfg)
		if err != nil {
			return err
		}
		presenter := newPresenter(cfg, cmd.OutOrStdout())
		session := newSession(cfg, transport, chat.HandlerFunc{})

		if !session.ClearChat(cmd.Context()) {
			return fmt.Errorf("failed to clear history of %s: %w", session.SessionID(), session.LastError())
		}
		presenter.Notice("cleared history of %s", session.SessionID())
		return nil
	},
}

func init() {
	historyCmd.AddCommand(historyShowCmd, historyClearCmd)
}
