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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/hackgods/caresync-appointments/internal/api"
	"github.com/hackgods/caresync-appointments/internal/appointment"
	"github.com/hackgods/caresync-appointments/internal/auth"
	"github.com/hackgods/caresync-appointments/internal/config"
	"github.com/hackgods/caresync-appointments/internal/db"
	"github.com/hackgods/caresync-appointments/internal/logging"
	"github.com/hackgods/caresync-appointments/internal/metrics"
	"github.com/hackgods/caresync-appointments/internal/otp"
	"github.com/hackgods/caresync-appointments/internal/patient"
	redisclient "github.com/hackgods/caresync-appointments/internal/redis"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api-server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	logger.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.Duration("lock_ttl", cfg.LockTTL))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		return fmt.Errorf("postgres connection: %w", err)
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	if cfg.AutoMigrate {
		if err := db.Migrate(rootCtx, pgPool, logger); err != nil {
			return err
		}
	}

	rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		return fmt.Errorf("redis connection: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("error closing redis", zap.Error(err))
		}
	}()
	logger.Info("connected to Redis", zap.String("addr", cfg.RedisAddr))

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewScheduling(registry)

	verifier, err := auth.NewVerifier(cfg.Auth)
	if err != nil {
		return err
	}

	patients := patient.NewPgRepository(pgPool)
	appointments := appointment.NewService(
		appointment.NewPgRepository(pgPool),
		redisclient.NewRedisLocker(rdb, cfg.LockTTL),
		logger.Named("appointment"),
		m,
	)

	var passwordReset api.PasswordResetService
	if signer, err := auth.NewSigner(cfg.Auth); err == nil {
		passwordReset = otp.NewService(
			patients,
			otp.NewRedisStore(rdb),
			otp.NewEmailSender(cfg.Email, logger.Named("email")),
			signer,
			cfg.OTP,
			logger.Named("otp"),
			m,
		)
	} else {
		logger.Warn("password reset disabled", zap.Error(err))
	}

	router := api.NewRouter(api.RouterConfig{
		Appointments:           appointments,
		Profiles:               patients,
		PasswordReset:          passwordReset,
		Verifier:               verifier,
		Health:                 api.NewHealthHandler(pgPool.Ping, redisclient.Pinger(rdb), cfg.Env, version),
		Logger:                 logger.Named("http"),
		Metrics:                m,
		Gatherer:               registry,
		CORSAllowedOrigins:     cfg.CORSAllowedOrigins,
		AvailabilityWindowDays: cfg.AvailabilityWindowDays,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-rootCtx.Done():
	}

	logger.Info("shutting down api-server", zap.Duration("timeout", cfg.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	logger.Info("api-server stopped")
	return nil
}
