// Package main is the entrypoint for the keygate API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmrl23/keygate/internal/api"
	"github.com/jmrl23/keygate/internal/api/handler"
	mw "github.com/jmrl23/keygate/internal/api/middleware"
	"github.com/jmrl23/keygate/internal/auth"
	"github.com/jmrl23/keygate/internal/cache"
	"github.com/jmrl23/keygate/internal/config"
	"github.com/jmrl23/keygate/internal/mail"
	"github.com/jmrl23/keygate/internal/service"
	"github.com/jmrl23/keygate/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "knocking", cfg.KnockingEnabled())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Outbound mail
	var mailer mail.Mailer = mail.LogMailer{}
	if cfg.SMTP.Host != "" {
		mailer = mail.NewSMTPMailer(cfg.SMTP)
		slog.Info("smtp mailer configured", "host", cfg.SMTP.Host)
	}

	// 6. Store and services
	pgStore := store.NewPostgresStore(pool)

	signer := auth.NewTokenSigner(cfg.Auth.JWTSecret)
	sessions := service.NewSessionService(redisCache, signer)
	users := service.NewUserService(pgStore, redisCache, sessions, cfg.Auth.SessionTTL)
	emails := service.NewEmailService(pgStore, redisCache, mailer)
	apps := service.NewAppService(pgStore, redisCache)
	keys := service.NewKeyService(pgStore, redisCache, apps)

	// 7. Build router with dependencies
	authMW := mw.NewAuth(users, sessions, cfg.Auth)
	rateLimit := mw.NewRateLimit(redisCache, 300)

	deps := api.Dependencies{
		Auth:      authMW,
		RateLimit: rateLimit,

		HealthHandler: handler.NewHealthHandler(pgStore, redisCache),

		RegisterHandler:          handler.NewRegisterHandler(users),
		LoginHandler:             handler.NewLoginHandler(users),
		SessionHandler:           handler.NewSessionHandler(),
		PasswordUpdateHandler:    handler.NewPasswordUpdateHandler(users),
		InformationUpdateHandler: handler.NewInformationUpdateHandler(users),
		ToggleUserHandler:        handler.NewToggleUserHandler(users),
		LogoutHandler:            handler.NewLogoutHandler(sessions),

		EmailCreateHandler:    handler.NewEmailCreateHandler(emails),
		EmailSendOTPHandler:   handler.NewEmailSendOTPHandler(emails),
		EmailVerifyOTPHandler: handler.NewEmailVerifyOTPHandler(emails),
		PrimaryEmailHandler:   handler.NewPrimaryEmailHandler(emails),
		EmailDeleteHandler:    handler.NewEmailDeleteHandler(emails),

		AppCreateHandler:  handler.NewAppCreateHandler(apps),
		AppListHandler:    handler.NewAppListHandler(apps),
		AppOriginsHandler: handler.NewAppOriginsHandler(apps),
		AppDeleteHandler:  handler.NewAppDeleteHandler(apps),

		KeyCreateHandler: handler.NewKeyCreateHandler(keys),
		KeyListHandler:   handler.NewKeyListHandler(keys),
		KeyStatusHandler: handler.NewKeyStatusHandler(keys),
		KeyToggleHandler: handler.NewKeyToggleHandler(keys),
		KeyDeleteHandler: handler.NewKeyDeleteHandler(keys),
		ProbeHandler:     handler.NewProbeHandler(keys),
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}
