// Command waygate is the Waystone gateway: a thin authenticated tunnel that
// sits in front of the session server and enforces a connection ceiling.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"github.com/emberfield/waystone/internal/auth"
	"github.com/emberfield/waystone/internal/config"
	"github.com/emberfield/waystone/internal/gateway"
	"github.com/emberfield/waystone/internal/health"
	"github.com/emberfield/waystone/internal/observe"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "waygate: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "waygate: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.Server.LogLevel))

	slog.Info("waygate starting",
		"config", *configPath,
		"listen_addr", cfg.Gateway.ListenAddr,
		"upstream_url", cfg.Gateway.UpstreamURL,
		"max_connections", cfg.Gateway.MaxConnections,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "waygate"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Auth ──────────────────────────────────────────────────────────────────
	secret, err := jwtSecret(cfg.Auth)
	if err != nil {
		slog.Error("failed to resolve JWT secret", "err", err)
		return 1
	}
	var authOpts []auth.Option
	if cfg.Auth.Issuer != "" {
		authOpts = append(authOpts, auth.WithIssuer(cfg.Auth.Issuer))
	}
	if cfg.Auth.Audience != "" {
		authOpts = append(authOpts, auth.WithAudience(cfg.Auth.Audience))
	}
	verifier := auth.NewJWTVerifier(secret, authOpts...)

	// ── Proxy ─────────────────────────────────────────────────────────────────
	proxy := gateway.NewProxy(verifier, cfg.Gateway.UpstreamURL,
		gateway.WithMaxConnections(cfg.Gateway.MaxConnections),
		gateway.WithMetrics(metrics),
	)

	mux := http.NewServeMux()
	mux.Handle("/ws", proxy)
	mux.Handle("/metrics", promhttp.Handler())
	health.New().Register(mux)

	srv := &http.Server{
		Addr:              cfg.Gateway.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := cfg.Gateway.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("gateway ready — press Ctrl+C to shut down")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		slog.Error("server error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("server shutdown error", "err", err)
	}
	if err := otelShutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return 0
}

// jwtSecret resolves the HMAC key from the auth config. A file-based secret
// takes precedence so deployments can mount the key instead of inlining it.
func jwtSecret(cfg config.AuthConfig) ([]byte, error) {
	if cfg.JWTSecretFile != "" {
		raw, err := os.ReadFile(cfg.JWTSecretFile)
		if err != nil {
			return nil, fmt.Errorf("read auth.jwt_secret_file: %w", err)
		}
		return []byte(strings.TrimSpace(string(raw))), nil
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("auth.jwt_secret (or auth.jwt_secret_file) is required")
	}
	return []byte(cfg.JWTSecret), nil
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
