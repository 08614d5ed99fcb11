package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/killallgit/flowchat/pkg/config"
	"github.com/killallgit/flowchat/pkg/devserver"
	"github.com/killallgit/flowchat/pkg/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a local prediction server for development",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings := config.Get().DevServer
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, settings)
	},
}

func serve(ctx context.Context, settings config.DevServerConfig) error {
	log := logger.WithComponent("serve")

	store, err := devserver.OpenStore(ctx, settings.Database)
	if err != nil {
		return err
	}
	defer store.Close()

	retriever, err := devserver.NewRetriever(nil)
	if err != nil {
		return err
	}
	if settings.DocumentsDir != "" {
		n, err := retriever.LoadDirectory(ctx, settings.DocumentsDir)
		if err != nil {
			return err
		}
		log.Info("documents indexed", "dir", settings.DocumentsDir, "chunks", n)
	}

	model, err := devserver.NewModel(settings.Provider, settings.Model, settings.OllamaURL)
	if err != nil {
		return err
	}

	server := devserver.New(devserver.OptionsFromSettings(settings), store, retriever, model)
	fmt.Printf("serving on http://%s (provider %s)\n", settings.Addr, settings.Provider)
	return server.ListenAndServe(ctx)
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address")
	viper.BindPFlag("devserver.addr", serveCmd.Flags().Lookup("addr"))

	serveCmd.Flags().String("provider", "", "model provider (echo or ollama)")
	viper.BindPFlag("devserver.provider", serveCmd.Flags().Lookup("provider"))

	serveCmd.Flags().String("documents", "", "directory of .md and .txt files to retrieve from")
	viper.BindPFlag("devserver.documents_dir", serveCmd.Flags().Lookup("documents"))
}
