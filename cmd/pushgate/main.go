package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tinywideclouds/pushgate/internal/config"
	"github.com/tinywideclouds/pushgate/internal/dispatch"
	"github.com/tinywideclouds/pushgate/internal/gateway"
	"github.com/tinywideclouds/pushgate/internal/pushkin/apns"
	"github.com/tinywideclouds/pushgate/internal/pushkin/gcm"
	"github.com/tinywideclouds/pushgate/internal/pushkin/webpush"
	"github.com/tinywideclouds/pushgate/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "pushgate.yaml", "path to the gateway's YAML configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "pushgate: loading config:", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	var sink telemetry.Sink = telemetry.NewPrometheus()

	router, shutdowns, err := buildRouter(cfg, sink, logger)
	if err != nil {
		logger.Error("failed to build pushkin router", "err", err)
		os.Exit(1)
	}

	srv := gateway.New(gateway.Options{
		BindAddress:    firstOrDefault(cfg.HTTP.BindAddresses, "0.0.0.0"),
		Port:           cfg.HTTP.Port,
		RequestTimeout: time.Duration(cfg.HTTP.RequestTimeout) * time.Second,
		MaxBodyBytes:   512 * 1024,
	}, router, sink, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("pushgate listening", "port", cfg.HTTP.Port)
		if err := srv.ListenAndServe(); err != nil {
			logger.Error("http server exited", "err", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("error during http shutdown", "err", err)
	}
	for _, shutdown := range shutdowns {
		shutdown()
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler).With("service", "pushgate")
}

// buildRouter constructs one Pushkin per configured app and wires it into a
// Router. It returns the Shutdown funcs so main can drain them on exit.
func buildRouter(cfg *config.Config, sink telemetry.Sink, logger *slog.Logger) (*dispatch.Router, []func(), error) {
	router := dispatch.NewRouter()
	var shutdowns []func()

	for appID, app := range cfg.Apps {
		limiter := dispatch.NewLimiter(app.MaxConnections, app.RateLimit)

		var unlimited dispatch.Unlimited
		var err error
		switch app.Type {
		case "apns":
			unlimited, err = apns.NewDispatcher(appID, apns.Config{
				KeyFile:     app.KeyFile,
				KeyID:       app.KeyID,
				TeamID:      app.TeamID,
				Topic:       app.Topic,
				Sandbox:     app.Platform == "sandbox",
				EventIDOnly: app.EventIDOnly,
			}, sink, logger)
		case "gcm":
			unlimited, err = gcm.NewDispatcher(appID, gcm.Config{
				ServiceAccountFile: app.ServiceAccountFile,
				ProjectID:          app.ProjectID,
				EventIDOnly:        app.EventIDOnly,
			}, sink, logger)
		case "webpush":
			unlimited = webpush.NewDispatcher(appID, webpush.Config{
				VAPIDPrivateKey:  app.VAPIDPrivateKey,
				VAPIDPublicKey:   app.VAPIDPublicKey,
				VAPIDContactURI:  app.VAPIDContactURI,
				AllowedEndpoints: app.AllowedEndpoints,
				EventIDOnly:      app.EventIDOnly,
			}, logger)
		default:
			return nil, nil, fmt.Errorf("app %q: unsupported type %q", appID, app.Type)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("app %q: %w", appID, err)
		}

		pushkin := dispatch.NewConcurrencyLimitedPushkin(unlimited, limiter, sink)
		shutdowns = append(shutdowns, pushkin.Shutdown)

		pattern := config.AppIDPattern(appID, app)
		if err := router.Register(pattern, pushkin); err != nil {
			return nil, nil, fmt.Errorf("app %q: %w", appID, err)
		}
	}
	return router, shutdowns, nil
}

func firstOrDefault(vals []string, def string) string {
	if len(vals) == 0 {
		return def
	}
	return vals[0]
}
