package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/incident-tracker/internal/handler"
	"github.com/noah-isme/incident-tracker/internal/repository"
	"github.com/noah-isme/incident-tracker/internal/service"
	"github.com/noah-isme/incident-tracker/pkg/cache"
	"github.com/noah-isme/incident-tracker/pkg/config"
	"github.com/noah-isme/incident-tracker/pkg/database"
	"github.com/noah-isme/incident-tracker/pkg/jobs"
	"github.com/noah-isme/incident-tracker/pkg/logger"
	"github.com/noah-isme/incident-tracker/pkg/mail"
)

const shutdownTimeout = 10 * time.Second

// services is the composition root shared by every transport.
type services struct {
	Incidents     *service.IncidentService
	Notes         *service.NoteService
	Users         *service.UserService
	PasswordReset *service.PasswordResetService
	Notifications *service.NotificationService
	Metrics       *service.MetricsService
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if err := run(cfg, logr); err != nil {
		logr.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logr *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	if cfg.Database.RunMigrations {
		if err := database.Migrate(ctx, db); err != nil {
			return err
		}
		logr.Info("database migrations applied")
	}

	checks := map[string]handler.ReadinessCheck{"postgres": db.PingContext}

	tokens, closeTokens, err := tokenStore(ctx, cfg, db, logr, checks)
	if err != nil {
		return err
	}
	defer closeTokens()

	svcs := buildServices(cfg, db, tokens, logr)
	svcs.Notifications.Start(ctx)

	scheduler := jobs.NewScheduler(logr.Named("scheduler"), cfg.Tokens.ReapTimeout)
	if err := scheduler.Register("reap-reset-tokens", cfg.Tokens.ReapSchedule, func(ctx context.Context) error {
		_, err := svcs.PasswordReset.ReapExpired(ctx)
		return err
	}); err != nil {
		return err
	}
	scheduler.Start(ctx)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	router := handler.NewRouter(handler.RouterConfig{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		Metrics:        svcs.Metrics,
		Checks:         checks,
		Logger:         logr,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "token_store", cfg.Tokens.Store)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logr.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			logr.Error("server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("http shutdown incomplete", zap.Error(err))
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logr.Warn("scheduler shutdown incomplete", zap.Error(err))
	}
	svcs.Notifications.Stop()
	logr.Info("server stopped")
	return nil
}

// tokenStore selects the reset token backend and registers its readiness check.
func tokenStore(ctx context.Context, cfg *config.Config, db *sqlx.DB, logr *zap.Logger, checks map[string]handler.ReadinessCheck) (service.ResetTokenRepository, func(), error) {
	if cfg.Tokens.Store != config.TokenStoreRedis {
		return repository.NewPasswordResetRepository(db), func() {}, nil
	}

	client, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }

	store := repository.NewPasswordResetRedisRepository(client, cfg.Tokens.RedisKeyPrefix, logr.Named("tokens"))
	return store, func() { _ = client.Close() }, nil
}

func buildServices(cfg *config.Config, db *sqlx.DB, tokens service.ResetTokenRepository, logr *zap.Logger) *services {
	metrics := service.NewMetricsService()
	validator := service.NewRecordValidator(nil)
	hasher := service.BcryptHasher{}

	users := repository.NewUserRepository(db)
	incidents := repository.NewIncidentRepository(db)
	notes := repository.NewNoteRepository(db)

	mailer := mail.New(mail.Config{
		Enabled:     cfg.Mail.Enabled,
		Domain:      cfg.Mail.Domain,
		APIKey:      cfg.Mail.APIKey,
		EURegion:    cfg.Mail.EURegion,
		From:        cfg.Mail.Sender,
		ProductName: cfg.Mail.ProductName,
		ProductLink: cfg.App.BaseURL,
		SendTimeout: cfg.Mail.SendTimeout,
	}, logr.Named("mail"))

	notifications := service.NewNotificationService(mailer, jobs.QueueConfig{
		Workers:    cfg.MailQueue.Workers,
		BufferSize: cfg.MailQueue.Buffer,
		MaxRetries: cfg.MailQueue.Retries,
		RetryDelay: cfg.MailQueue.RetryDelay,
	}, metrics, logr.Named("notifications")).WithEnqueueTimeout(cfg.MailQueue.EnqueueTimeout)

	return &services{
		Incidents:     service.NewIncidentService(incidents, notes, users, validator, metrics, logr.Named("incidents")),
		Notes:         service.NewNoteService(notes, incidents, users, logr.Named("notes")),
		Users:         service.NewUserService(users, hasher, validator, logr.Named("users")),
		PasswordReset: service.NewPasswordResetService(tokens, users, hasher, notifications, validator, metrics, logr.Named("password_reset"), service.PasswordResetConfig{BaseURL: cfg.App.BaseURL}),
		Notifications: notifications,
		Metrics:       metrics,
	}
}
