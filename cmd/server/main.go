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

	"github.com/rs/zerolog"

	"retailpos/backend/internal/cache"
	"retailpos/backend/internal/config"
	"retailpos/backend/internal/httpapi"
	"retailpos/backend/internal/logging"
	"retailpos/backend/internal/metrics"
	"retailpos/backend/internal/service"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/store/memory"
	pgstore "retailpos/backend/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)

	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid security configuration")
	}
	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid timezone")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, closers, err := openRepository(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("repository unavailable")
	}

	var sessions cache.SessionStore = cache.NewMemorySessionStore()
	if cfg.RedisAddr != "" {
		redisSessions := cache.NewRedisSessionStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisSessions.Ping(ctx); err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, keeping revoked tokens in memory")
		} else {
			sessions = redisSessions
			closers = append(closers, redisSessions.Close)
			logger.Info().Str("addr", cfg.RedisAddr).Msg("sessions: redis")
		}
	} else {
		logger.Info().Msg("sessions: memory")
	}

	m := metrics.New()
	svc := service.New(repo, cfg.Rules,
		service.WithLogger(logger),
		service.WithMetrics(m),
		service.WithLocation(loc),
	)
	if err := svc.Bootstrap(ctx, cfg.SeedAdminUsername, cfg.SeedAdminPassword, ""); err != nil {
		logger.Fatal().Err(err).Msg("bootstrap failed")
	}

	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, sessions)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, httpapi.WithLogger(logger), httpapi.WithMetrics(m))

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Address()).Msg("POS backend listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Error().Err(err).Msg("close error")
		}
	}

	logger.Info().Msg("server stopped")
}

// openRepository never falls back to memory when DATABASE_URL is set.
func openRepository(ctx context.Context, cfg config.Config, logger zerolog.Logger) (store.Repository, []func() error, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn().Msg("repository: in-memory, data is lost on restart")
		return memory.New(), nil, nil
	}

	pg, err := pgstore.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: %w", err)
	}
	if err := pg.Migrate(ctx); err != nil {
		_ = pg.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Info().Msg("repository: postgres")
	return pg, []func() error{pg.Close}, nil
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.SeedAdminUsername != "" && len(cfg.SeedAdminPassword) < cfg.Rules.PasswordMinLength {
		return fmt.Errorf("SEED_ADMIN_PASSWORD must be at least %d characters", cfg.Rules.PasswordMinLength)
	}
	return nil
}
