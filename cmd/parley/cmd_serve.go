package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/user/parley/internal/history"
	"github.com/user/parley/internal/orchestrator"
	"github.com/user/parley/internal/scheduler"
	"github.com/user/parley/internal/store"
	"github.com/user/parley/internal/tokens"
	"github.com/user/parley/internal/webhook"
	"github.com/user/parley/pkg/llm"
	"github.com/user/parley/pkg/llm/openai"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the parley daemon",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	st, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer st.Close()
	if err := st.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	if err := st.Seed(ctx); err != nil {
		return fmt.Errorf("seed baseline rows: %w", err)
	}

	// LLM provider, optionally wrapped in the single-lane queue so one
	// local inference server is never hit concurrently.
	client := openai.New(openai.Config{
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
		Timeout: time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
		Retry: openai.RetryPolicy{
			MaxAttempts:  cfg.LLM.RetryAttempts,
			InitialDelay: time.Duration(cfg.LLM.RetryBackoffMS) * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     30 * time.Second,
		},
	})
	var provider llm.Provider = client
	if cfg.LLM.QueueEnabled {
		lane := llm.NewSingleLane(client, cfg.LLM.QueueMaxSize)
		lane.Start(ctx)
		defer lane.Stop()
		provider = lane
	}

	est, err := tokens.New(cfg.LLM.Encoding)
	if err != nil {
		return fmt.Errorf("create token estimator: %w", err)
	}

	// Composer and orchestrator
	assembler := history.New(st, est, cfg.Orchestrator.HistoryLimit)
	composer := orchestrator.NewComposer(orchestrator.ComposerDeps{
		Tasks:         st,
		Steps:         st,
		Messages:      st,
		Actors:        st,
		Prompts:       st,
		Assembler:     assembler,
		Estimator:     est,
		Provider:      provider,
		PromptName:    cfg.PromptName,
		ContextWindow: cfg.LLM.ContextWindow,
	})

	orch := orchestrator.New(st,
		time.Duration(cfg.Orchestrator.PollIntervalMS)*time.Millisecond,
		int64(cfg.Orchestrator.MaxConcurrent))
	orch.Register(store.TaskClassAnswerGeneration,
		int64(cfg.Orchestrator.ClassCapacity), composer.ComposeAnswer)
	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}
	defer orch.Stop()

	// Housekeeping
	keeper := scheduler.New(st, cfg.Orchestrator.StatsSchedule)
	if err := keeper.Start(); err != nil {
		return fmt.Errorf("start housekeeping: %w", err)
	}
	defer keeper.Stop()

	// Producer HTTP API
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: webhook.NewServer(st),
	}
	go func() {
		slog.Info("http server started", "listen", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		httpServer.Close()
	}()

	slog.Info("parley started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"poll_interval_ms", cfg.Orchestrator.PollIntervalMS,
		"max_concurrent", cfg.Orchestrator.MaxConcurrent,
		"llm_model", cfg.LLM.Model,
		"queue_enabled", cfg.LLM.QueueEnabled,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	slog.Info("shutting down", "signal", sig)
	return nil
}
