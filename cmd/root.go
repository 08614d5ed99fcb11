package cmd

import (
	"fmt"
	"os"

	"github.com/killallgit/flowchat/pkg/config"
	"github.com/killallgit/flowchat/pkg/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "flowchat",
	Short: "Terminal client for chatflow prediction servers",
	Long: `flowchat talks to a chatflow prediction backend, streams replies into
the terminal and keeps the conversation history of a session.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if _, err := config.Load(cfgFile); err != nil {
			return err
		}
		if err := logger.Init(); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		if used := config.GetConfigFileUsed(); used != "" {
			logger.Debug("Using config file: %s", used)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Close()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./.flowchat/settings.yaml)")

	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.PersistentFlags().String("base-url", "", "prediction server base URL")
	viper.BindPFlag("server.base_url", rootCmd.PersistentFlags().Lookup("base-url"))

	rootCmd.PersistentFlags().String("chatflow", "", "chatflow id")
	viper.BindPFlag("server.chatflow_id", rootCmd.PersistentFlags().Lookup("chatflow"))

	rootCmd.PersistentFlags().StringP("session", "s", "", "session id, or a link carrying sessionId/chatId")
	viper.BindPFlag("session.id", rootCmd.PersistentFlags().Lookup("session"))

	rootCmd.PersistentFlags().Bool("plain", false, "disable colors and syntax highlighting")
	viper.BindPFlag("plain", rootCmd.PersistentFlags().Lookup("plain"))

	rootCmd.AddCommand(chatCmd, askCmd, historyCmd, serveCmd)
}
