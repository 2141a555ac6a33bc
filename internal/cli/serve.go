package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tansive/modhost/internal/common/logtrace"
	"github.com/tansive/modhost/internal/modhost/auth"
	"github.com/tansive/modhost/internal/modhost/config"
	"github.com/tansive/modhost/internal/modhost/db"
	"github.com/tansive/modhost/internal/modhost/db/dbmanager"
	"github.com/tansive/modhost/internal/modhost/metrics"
	"github.com/tansive/modhost/internal/modhost/queryrouter"
	"github.com/tansive/modhost/internal/modhost/ratelimit"
	"github.com/tansive/modhost/internal/modhost/secrets"
	"github.com/tansive/modhost/internal/modhost/server"
	"github.com/tansive/modhost/internal/modhost/workload"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the modhost API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configFile)
			if err != nil {
				return err
			}
			logtrace.InitLogger(cfg.LogLevel, cfg.ConsoleLog)
			ctx := log.Logger.WithContext(cmd.Context())
			return serve(ctx, cfg)
		},
	}
}

func openDB(ctx context.Context, cfg *config.ConfigParam) (db.Store, func(), error) {
	opts := dbmanager.Options{
		DSN:          cfg.DSN(),
		MaxOpenConns: cfg.DB.MaxOpenConns,
		MaxIdleConns: cfg.DB.MaxIdleConns,
	}
	if cfg.DB.StatementTimeout != "" {
		opts.StatementTimeout = config.MustDuration(cfg.DB.StatementTimeout)
	}
	sqlDB, err := dbmanager.NewPostgresqlDb(ctx, opts)
	if err != nil {
		return nil, nil, err
	}
	return db.NewStore(sqlDB), func() { sqlDB.Close() }, nil
}

// buildDeps connects every collaborator. The returned cleanup releases them
// in reverse order.
func buildDeps(ctx context.Context, cfg *config.ConfigParam) (server.Deps, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (server.Deps, func(), error) {
		cleanup()
		return server.Deps{}, nil, err
	}

	store, closeDB, err := openDB(ctx, cfg)
	if err != nil {
		return fail(fmt.Errorf("opening database: %w", err))
	}
	closers = append(closers, closeDB)

	docker, err := workload.NewDocker(workload.DockerOptions{
		Host:       cfg.Runtime.DockerHost,
		APIVersion: cfg.Runtime.APIVersion,
		Network:    cfg.Runtime.Network,
	})
	if err != nil {
		return fail(fmt.Errorf("connecting to docker: %w", err))
	}
	closers = append(closers, func() { docker.Close() })

	backend, err := secrets.NewBackend(ctx, cfg.Secrets)
	if err != nil {
		return fail(fmt.Errorf("creating secret backend: %w", err))
	}
	if vault, ok := backend.(*secrets.VaultBackend); ok {
		if err := vault.WaitReady(ctx, 5); err != nil {
			return fail(fmt.Errorf("vault not ready: %w", err))
		}
	}

	verifier, aerr := auth.NewVerifier(cfg.Auth)
	if aerr != nil {
		return fail(aerr)
	}

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.RedisURL != "" {
		limiter, err = ratelimit.NewLimiter(ctx, cfg.RateLimit.RedisURL, cfg.RateLimit.RequestsPerMinute)
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("rate limiting disabled")
			limiter = nil
		} else {
			closers = append(closers, func() { limiter.Close() })
		}
	}

	rc := cfg.Router
	deps := server.Deps{
		Store:     store,
		Runtime:   docker,
		Secrets:   backend,
		Retriever: queryrouter.NewChromaRetriever(rc.ChromaURL, rc.LocalURL, rc.EmbeddingModel, rc.TopK),
		Tiers: []queryrouter.Tier{
			{Strategy: queryrouter.NewLocalStrategy(rc.LocalURL, rc.LocalModel), Timeout: config.MustDuration(rc.LocalTimeout)},
			{Strategy: queryrouter.NewCloudStrategy(rc.CloudURL, rc.CloudAPIKey), Timeout: config.MustDuration(rc.CloudTimeout)},
		},
		Limiter:  limiter,
		Verifier: verifier,
		Metrics:  metrics.New(),
	}
	return deps, cleanup, nil
}

func serve(ctx context.Context, cfg *config.ConfigParam) error {
	slog := log.With().Str("state", "init").Logger()

	deps, cleanup, err := buildDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	s, err := server.CreateNewServer(cfg, deps)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	s.MountHandlers()

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           s.Router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		slog.Info().Str("port", cfg.ServerPort).Msg("server started")
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-shutdown:
		slog.Info().Str("signal", sig.String()).Msg("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			srv.Close()
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
	}
	slog.Info().Msg("server stopped")
	return nil
}
