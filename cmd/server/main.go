package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quota-admission-service/internal/config"
	"github.com/quota-admission-service/internal/middleware"
	"github.com/quota-admission-service/internal/server"
	"github.com/quota-admission-service/internal/service"
	"github.com/quota-admission-service/internal/store"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.LogLevel, err)
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	st, backend, cleanup, err := buildStore(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	adminAuth, err := middleware.NewGoogleAuth(cfg.GoogleClientID, cfg.GoogleAllowedDomain, cfg.GoogleAllowedEmails)
	if err != nil {
		return fmt.Errorf("init admin auth: %w", err)
	}

	router := server.NewRouter(server.Deps{
		Config:    cfg,
		Store:     st,
		Admission: service.NewAdmissionService(st),
		Registry:  service.NewKeyRegistryService(st, cfg.DefaultRequestsPerMinute, cfg.DefaultRequestsPerDay),
		AdminAuth: adminAuth,
		Backend:   backend,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).Str("backend", backend).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// buildStore selects the storage backend once at startup: Postgres when
// DATABASE_URL is configured, the single-instance in-memory store otherwise.
func buildStore(cfg *config.Config) (store.Store, string, func(), error) {
	if !cfg.UsesPostgres() {
		log.Warn().Msg("DATABASE_URL not set, using in-memory store (single instance only)")
		return store.NewMemory(cfg.IdempotencyTTL), "memory", func() {}, nil
	}

	if err := runMigrations(cfg.DatabaseURL); err != nil {
		return nil, "", nil, err
	}

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		return nil, "", nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, "", nil, fmt.Errorf("ping postgres: %w", err)
	}

	pg := store.NewPostgres(pool, cfg.TxMaxAttempts, cfg.IdempotencyTTL)
	return pg, "postgres", pool.Close, nil
}

func runMigrations(databaseURL string) error {
	m, err := migrate.New("file://migrations", databaseURL)
	if err != nil {
		return fmt.Errorf("init migrate: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
