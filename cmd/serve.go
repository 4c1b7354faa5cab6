package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/spf13/cobra"

	"github.com/tasktalk/tasktalk/db"
	"github.com/tasktalk/tasktalk/internal/api"
	"github.com/tasktalk/tasktalk/internal/config"
	"github.com/tasktalk/tasktalk/internal/conversation"
	"github.com/tasktalk/tasktalk/internal/log"
	"github.com/tasktalk/tasktalk/internal/observability"
	"github.com/tasktalk/tasktalk/internal/postgres"
	"github.com/tasktalk/tasktalk/internal/resolver"
	"github.com/tasktalk/tasktalk/internal/task"
	"github.com/tasktalk/tasktalk/internal/tools"
	"github.com/tasktalk/tasktalk/internal/turn"
	"github.com/tasktalk/tasktalk/internal/user"
)

// Server timeout configuration.
const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 2 * time.Minute
	idleTimeout       = 2 * time.Minute
	shutdownTimeout   = 30 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(_ *cobra.Command, _ []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err = cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	logger := log.New(log.Config{
		Level: log.ParseLevel(cfg.LogLevel),
		JSON:  cfg.LogJSON,
	})
	logger.Info("starting tasktalk", "version", Version)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	pool, err := postgres.Open(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return fmt.Errorf("opening database pool: %w", err)
	}
	defer pool.Close()

	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		return errors.New("initializing genkit")
	}

	flushTraces, err := observability.Setup(ctx, observability.Config{
		Endpoint:    cfg.TraceEndpoint,
		ServiceName: cfg.TraceService,
		Environment: cfg.TraceEnvironment,
	}, logger)
	if err != nil {
		return fmt.Errorf("setting up trace export: %w", err)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer flushCancel()
		if err := flushTraces(flushCtx); err != nil {
			logger.Warn("flushing traces", "error", err)
		}
	}()

	users := user.NewStore(pool)
	conversations := conversation.NewStore(pool, logger)
	tasks := task.NewStore(pool, logger)
	dispatcher := tools.NewDispatcher(tasks, logger)
	intent := resolver.NewGenkit(g, cfg.ResolverModel, logger)
	orchestrator := turn.New(users, conversations, dispatcher, intent, cfg.ResolverTimeout, logger)

	apiServer, err := api.NewServer(api.ServerConfig{
		Logger:        logger,
		Orchestrator:  orchestrator,
		Tasks:         tasks.Guard(),
		Conversations: conversations,
		Audit:         tasks,
		Pool:          pool,
		RateRPS:       float64(cfg.RateRPS),
		RateBurst:     cfg.RateBurst,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	logger.Info("HTTP server ready",
		"addr", cfg.ListenAddr,
		"api", "/api/*",
		"health", "/health, /ready",
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down HTTP server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server: %w", err)
	}
}
