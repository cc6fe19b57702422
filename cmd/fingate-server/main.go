// Command fingate-server runs the fingate engine behind a chi router with
// an in-memory user store. It is a wiring demo, not a production service.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/fingate"
	"github.com/MrEthical07/fingate/config"
	"github.com/MrEthical07/fingate/mailer"
	"github.com/MrEthical07/fingate/metrics/export/prometheus"
	"github.com/MrEthical07/fingate/provider"
)

func main() {
	settings, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	logger := newLogger(os.Stdout, settings.LogLevel, settings.LogFormat)
	slog.SetDefault(logger)

	if err := run(settings, logger); err != nil {
		logger.Error("server exited", slog.Any("err", err))
		os.Exit(1)
	}
}

func run(settings config.Settings, logger *slog.Logger) error {
	cfg, err := settings.Fingate()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mailSvc, err := newMailer(settings, logger)
	if err != nil {
		return fmt.Errorf("init smtp mailer: %w", err)
	}

	builder := fingate.New().
		WithConfig(cfg).
		WithLogger(logger).
		WithUserProvider(newMemoryUsers()).
		WithMailer(mailSvc).
		WithAuditSink(fingate.NewSlogAuditSink(logger.With(slog.String("component", "audit"))))

	if settings.RedisURL != "" {
		rdb, err := newRedis(ctx, settings.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		builder = builder.WithRedis(rdb)
	}

	engine, err := builder.Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	srv := newServer(engine, serverOptions{
		FX: provider.NewFX(provider.HTTPConfig{
			BaseURL: settings.Providers.FXURL,
			APIKey:  settings.Providers.FXAPIKey,
		}),
		Crypto: provider.NewCrypto(provider.HTTPConfig{
			BaseURL: settings.Providers.CryptoURL,
			APIKey:  settings.Providers.CryptoAPIKey,
		}, nil),
		Metrics:       prometheus.New(engine).Handler(),
		PerIPRequests: settings.PerIPRequests,
		Logger:        logger,
	})

	httpServer := &http.Server{
		Addr:         settings.Addr,
		Handler:      srv.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 20 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go sweepLoop(ctx, engine, logger, time.Minute)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("fingate listening", slog.String("addr", settings.Addr), slog.String("env", cfg.Environment.Name))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("err", err))
	}
	return nil
}

// sweepLoop drops expired engine state between requests. Expiry is still
// enforced on access; the sweep only bounds memory on idle keys.
func sweepLoop(ctx context.Context, engine *fingate.Engine, logger *slog.Logger, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := engine.Sweep(ctx); n > 0 {
				logger.Debug("swept expired entries", slog.Int("count", n))
			}
		}
	}
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func newMailer(settings config.Settings, logger *slog.Logger) (fingate.Mailer, error) {
	if settings.SMTP.Host == "" {
		return mailer.NewLog(logger.With(slog.String("component", "mailer"))), nil
	}
	return mailer.NewSMTP(mailer.SMTPConfig{
		Host: settings.SMTP.Host,
		Port: settings.SMTP.Port,
		User: settings.SMTP.User,
		Pass: settings.SMTP.Pass,
		From: settings.SMTP.From,
	})
}

func newRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return rdb, nil
}
