package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/funcgate/internal/adapter"
	"github.com/michaelbrown/funcgate/internal/config"
	"github.com/michaelbrown/funcgate/internal/llm"
	"github.com/michaelbrown/funcgate/internal/server"
	"github.com/michaelbrown/funcgate/internal/storage"
	"github.com/michaelbrown/funcgate/internal/storage/sqlite"
)

var (
	portFlag      int
	noAdapterFlag bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the OpenAI-compatible server",
	Long: `Start the HTTP server. /v1/chat/completions accepts OpenAI chat requests
with tools and returns tool calls; /v1/completions passes raw prompts
through to the engine.

Examples:
  funcgate serve
  funcgate serve --port 9090
  funcgate serve --no-adapter`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().BoolVar(&noAdapterFlag, "no-adapter", false, "Serve the plain chat route without function calling")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	engine := llm.NewEngine(cfg.Engine.BaseURL, cfg.Engine.APIKey, cfg.Engine.Model, cfg.Engine.Timeout)

	var store storage.Store
	var recorder adapter.Recorder
	if cfg.Storage.Enabled {
		db, err := sqlite.Open(cfg.Storage.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()
		store, recorder = db, db
	}

	template, err := cfg.Prompt.TemplateText()
	if err != nil {
		return err
	}

	srv, err := server.New(engine, store, server.Options{
		APIKey:    cfg.Server.APIKey,
		Model:     cfg.Engine.Model,
		Template:  template,
		StopToken: cfg.Prompt.StopToken,
	})
	if err != nil {
		return err
	}

	if cfg.Server.Adapter && !noAdapterFlag {
		h, err := newAdapter(cfg, engine, template, recorder)
		if err != nil {
			return err
		}
		if err := srv.UseAdapter(h); err != nil {
			return err
		}
		slog.Info("Function calling enabled", "route", server.PathChatCompletions)
	}

	port := cfg.Server.Port
	if portFlag > 0 {
		port = portFlag
	}

	// Graceful shutdown on SIGINT/SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		if err := srv.Shutdown(context.Background()); err != nil {
			slog.Error("Shutdown failed", "error", err)
		}
	}()

	return srv.Start(port)
}

func newAdapter(cfg *config.Config, engine llm.Engine, template string, recorder adapter.Recorder) (*adapter.Handler, error) {
	return adapter.New(engine, adapter.Config{
		Instruction:       cfg.Prompt.Instruction,
		ThinkingDirective: cfg.Prompt.ThinkingDirective,
		Template:          template,
		StopToken:         cfg.Prompt.StopToken,
		MaxConcurrent:     cfg.Engine.MaxConcurrent,
		StreamBuffer:      cfg.Stream.Buffer,
		BufferToolCalls:   cfg.Stream.BufferToolCalls,
	}, recorder)
}
