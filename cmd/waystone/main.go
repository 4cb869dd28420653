// Command waystone is the session server for the Waystone experience runtime.
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

	"github.com/emberfield/waystone/internal/aoi"
	"github.com/emberfield/waystone/internal/auth"
	"github.com/emberfield/waystone/internal/bus"
	"github.com/emberfield/waystone/internal/chat"
	"github.com/emberfield/waystone/internal/command"
	"github.com/emberfield/waystone/internal/config"
	"github.com/emberfield/waystone/internal/experience"
	"github.com/emberfield/waystone/internal/health"
	"github.com/emberfield/waystone/internal/observe"
	"github.com/emberfield/waystone/internal/session"
	"github.com/emberfield/waystone/internal/state"
	"github.com/emberfield/waystone/internal/template"
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
			fmt.Fprintf(os.Stderr, "waystone: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "waystone: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("waystone starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "waystone"})
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

	// ── Event bus ─────────────────────────────────────────────────────────────
	var busOpts []bus.RedisOption
	if cfg.Bus.Password != "" {
		busOpts = append(busOpts, bus.WithPassword(cfg.Bus.Password))
	}
	if cfg.Bus.DB != 0 {
		busOpts = append(busOpts, bus.WithDB(cfg.Bus.DB))
	}
	eventBus := bus.NewRedis(cfg.Bus.RedisAddr, busOpts...)
	defer eventBus.Close()

	if !eventBus.Connected() {
		// The bus reconnects on its own; sessions started before it comes up
		// simply miss fan-out until then.
		slog.Warn("event bus unreachable at startup", "redis_addr", cfg.Bus.RedisAddr)
	}

	// ── Content and state ─────────────────────────────────────────────────────
	experiences := experience.NewCache(cfg.Content.DataDir,
		experience.WithDefaultRadius(cfg.Content.GeofenceRadiusM))
	templates := template.NewRegistry(cfg.Content.DataDir)
	store := state.NewStore(cfg.Content.DataDir, experiences, eventBus, templates,
		state.WithLockWait(cfg.Content.LockWait.Std()))

	// ── Narrative service ─────────────────────────────────────────────────────
	if cfg.Chat.BaseURL == "" {
		slog.Warn("chat.base_url not configured — talk verb will use fallback replies")
	}
	narrative := chat.NewService(chat.NewHTTPClient(cfg.Chat.BaseURL,
		chat.WithTimeout(cfg.Chat.Timeout.Std())))

	// ── Session plumbing ──────────────────────────────────────────────────────
	builder := aoi.NewBuilder(store, templates)
	registry := session.NewRegistry()
	dispatcher := command.NewDispatcher(command.Deps{
		Store:     store,
		Templates: templates,
		Chat:      narrative,
		Stats:     registry,
		Bus:       eventBus,
	}, command.WithMetrics(metrics))

	endpoint := session.NewEndpoint(verifier, eventBus, builder, dispatcher, registry,
		cfg.Content.DefaultExperience,
		session.WithHeartbeatInterval(cfg.Server.HeartbeatInterval.Std()),
		session.WithWriteTimeout(cfg.Server.WriteTimeout.Std()),
		session.WithMetrics(metrics),
	)

	// ── Config watcher ────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		diff := config.Diff(old, new)
		if diff.Empty() {
			slog.Info("config changed but no hot-reloadable setting differs; restart to apply")
			return
		}
		if diff.LogLevelChanged {
			slog.SetDefault(newLogger(diff.NewLogLevel))
			slog.Info("log level changed", "log_level", diff.NewLogLevel)
		}
		if diff.ContentChanged {
			experiences.Refresh()
			slog.Info("content settings changed, experience cache refreshed")
		}
		if diff.ChatChanged {
			slog.Warn("chat settings changed; restart to apply the new endpoint")
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	mux.Handle("/ws", endpoint)
	mux.Handle("/metrics", promhttp.Handler())
	health.New(
		health.BusChecker(eventBus),
		health.DataDirChecker(cfg.Content.DataDir),
	).Register(mux)

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg, experiences)

	slog.Info("server ready — press Ctrl+C to shut down")

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

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, experiences *experience.Cache) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        Waystone — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Listen addr", cfg.Server.ListenAddr)
	printRow("Data dir", cfg.Content.DataDir)
	printRow("Default exp", orUnset(cfg.Content.DefaultExperience))
	printRow("Event bus", cfg.Bus.RedisAddr)
	printRow("Chat service", orUnset(cfg.Chat.BaseURL))
	printRow("Heartbeat", cfg.Server.HeartbeatInterval.Std().String())
	if ids, err := experiences.List(); err == nil {
		fmt.Printf("║  Experiences     : %-19d ║\n", len(ids))
	}
	if cfg.Server.TLS != nil {
		printRow("TLS", "enabled")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(kind, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

func orUnset(s string) string {
	if s == "" {
		return "(not configured)"
	}
	return s
}

// ── Logger ─────────────────────────────────────────────────────────────────────

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
