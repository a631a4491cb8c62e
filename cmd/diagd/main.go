// Diagd is a human-in-the-loop diagnostic workflow daemon for plant
// equipment.
//
// It plans diagnostic steps for an operator query, executes them
// against SCADA sensor history and indexed equipment manuals, pauses
// at a decision checkpoint after every iteration, and synthesizes the
// findings into a report once the operator is satisfied.
//
// Usage:
//
//	# Start the daemon with defaults
//	diagd
//
//	# Custom config file
//	diagd -config /etc/diagd/config.yaml
//
//	# Configure via environment
//	DIAGD_SERVER_PORT=9000 DIAGD_LLM_PROVIDER=openai diagd
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/diagd/internal/config"
	"github.com/fyrsmithlabs/diagd/internal/executor"
	"github.com/fyrsmithlabs/diagd/internal/logging"
	"github.com/fyrsmithlabs/diagd/internal/manuals"
	"github.com/fyrsmithlabs/diagd/internal/orchestrator"
	"github.com/fyrsmithlabs/diagd/internal/planner"
	"github.com/fyrsmithlabs/diagd/internal/scada"
	"github.com/fyrsmithlabs/diagd/internal/server"
	"github.com/fyrsmithlabs/diagd/internal/session"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default ~/.config/diagd/config.yaml)")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  diagd           Start the diagd daemon\n")
			fmt.Fprintf(os.Stderr, "  diagd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("diagd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run wires every service and blocks until the context is cancelled:
// configuration, logger, sensor store (seeded when empty), manual
// index, planner, session registry, and the HTTP server.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("starting diagd",
		zap.String("version", version),
		zap.String("commit", gitCommit))

	store, err := scada.Open(cfg.Scada.DBPath, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	if cfg.Scada.Seed {
		if err := store.Seed(ctx, cfg.Scada.SeedDays); err != nil {
			return fmt.Errorf("failed to seed scada store: %w", err)
		}
	}

	var embedding = manuals.NewHashEmbedding()
	if cfg.LLM.Provider == "openai" && cfg.LLM.BaseURL != "" {
		embedding = manuals.NewOpenAIEmbedding(cfg.LLM.BaseURL, cfg.LLM.APIKey.Value(), "")
	}
	manualStore, err := manuals.New(manuals.Config{
		Path:       cfg.Manuals.StorePath,
		Collection: cfg.Manuals.Collection,
		Embedding:  embedding,
	}, logger)
	if err != nil {
		return err
	}
	if info, err := os.Stat(cfg.Manuals.Dir); err == nil && info.IsDir() {
		n, err := manualStore.IndexDir(ctx, cfg.Manuals.Dir)
		if err != nil {
			return fmt.Errorf("failed to index manuals: %w", err)
		}
		logger.Info("indexed manuals", zap.Int("passages", n), zap.String("dir", cfg.Manuals.Dir))
	} else {
		logger.Warn("manuals directory not found, document search will be empty",
			zap.String("dir", cfg.Manuals.Dir))
	}

	var (
		plnr  planner.Planner
		synth planner.Synthesizer
	)
	switch cfg.LLM.Provider {
	case "openai":
		llm, err := planner.NewOpenAI(planner.LLMConfig{
			BaseURL: cfg.LLM.BaseURL,
			APIKey:  cfg.LLM.APIKey.Value(),
			Model:   cfg.LLM.Model,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize llm planner: %w", err)
		}
		plnr, synth = llm, llm
	default:
		rule := planner.NewRule()
		plnr, synth = rule, rule
	}

	runner := executor.NewRunner(cfg.Executor.CallTimeout.Duration(), cfg.Executor.Retries, logger)
	runner.Register(scada.NewTool(store))
	runner.Register(manuals.NewTool(manualStore))

	workflowCfg := orchestrator.Config{
		IterationCap:      cfg.Workflow.IterationCap,
		DecisionTimeout:   cfg.Workflow.DecisionTimeout.Duration(),
		OnDecisionTimeout: orchestrator.TimeoutPolicy(cfg.Workflow.DecisionTimeoutPolicy),
		ContextTurns:      cfg.Workflow.ContextTurns,
		Retention:         cfg.Workflow.Retention,
	}
	sessions := session.NewRegistry(func(id string) *orchestrator.Session {
		return orchestrator.NewSession(id, workflowCfg, plnr, synth, runner, logger)
	}, logger)
	defer sessions.Close()

	srv, err := server.New(sessions, logger, server.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	// Wait for Start to return so its error is not lost.
	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-time.After(time.Second):
	}
	return nil
}
