package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [LoadFromReader] for fields left unset.
const (
	DefaultListenAddr        = ":8470"
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultRedisAddr         = "localhost:6379"
	DefaultDataDir           = "./data"
	DefaultLockWait          = 5 * time.Second
	DefaultGeofenceRadiusM   = 100
	DefaultChatTimeout       = 10 * time.Second
	DefaultGatewayAddr       = ":8471"
	DefaultGatewayUpstream   = "ws://localhost:8470/ws"
	DefaultGatewayPoolSize   = 100
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills unset fields in place.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.HeartbeatInterval == 0 {
		cfg.Server.HeartbeatInterval = Duration(DefaultHeartbeatInterval)
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = Duration(DefaultWriteTimeout)
	}
	if cfg.Bus.RedisAddr == "" {
		cfg.Bus.RedisAddr = DefaultRedisAddr
	}
	if cfg.Content.DataDir == "" {
		cfg.Content.DataDir = DefaultDataDir
	}
	if cfg.Content.LockWait == 0 {
		cfg.Content.LockWait = Duration(DefaultLockWait)
	}
	if cfg.Content.GeofenceRadiusM == 0 {
		cfg.Content.GeofenceRadiusM = DefaultGeofenceRadiusM
	}
	if cfg.Chat.Timeout == 0 {
		cfg.Chat.Timeout = Duration(DefaultChatTimeout)
	}
	if cfg.Gateway.ListenAddr == "" {
		cfg.Gateway.ListenAddr = DefaultGatewayAddr
	}
	if cfg.Gateway.UpstreamURL == "" {
		cfg.Gateway.UpstreamURL = DefaultGatewayUpstream
	}
	if cfg.Gateway.MaxConnections == 0 {
		cfg.Gateway.MaxConnections = DefaultGatewayPoolSize
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
// Missing-but-survivable settings are warned about, not rejected, so that a
// degraded deployment can still come up.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.HeartbeatInterval < 0 {
		errs = append(errs, fmt.Errorf("server.heartbeat_interval must be positive, got %s", cfg.Server.HeartbeatInterval.Std()))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" || tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Auth
	if cfg.Auth.JWTSecret == "" && cfg.Auth.JWTSecretFile == "" {
		slog.Warn("auth.jwt_secret is not configured; every connection attempt will be rejected")
	}

	// Content
	if cfg.Content.GeofenceRadiusM < 0 {
		errs = append(errs, fmt.Errorf("content.geofence_radius_m must be positive, got %v", cfg.Content.GeofenceRadiusM))
	}
	if cfg.Content.LockWait < 0 {
		errs = append(errs, fmt.Errorf("content.lock_wait must be positive, got %s", cfg.Content.LockWait.Std()))
	}

	// Bus
	if cfg.Bus.DB < 0 {
		errs = append(errs, fmt.Errorf("bus.db must be non-negative, got %d", cfg.Bus.DB))
	}

	// Chat
	if cfg.Chat.BaseURL == "" {
		slog.Warn("chat.base_url is empty; talk will always answer with the canned fallback")
	} else if !strings.HasPrefix(cfg.Chat.BaseURL, "http://") && !strings.HasPrefix(cfg.Chat.BaseURL, "https://") {
		errs = append(errs, fmt.Errorf("chat.base_url %q must start with http:// or https://", cfg.Chat.BaseURL))
	}

	// Gateway
	if cfg.Gateway.MaxConnections < 0 {
		errs = append(errs, fmt.Errorf("gateway.max_connections must be positive, got %d", cfg.Gateway.MaxConnections))
	}
	if u := cfg.Gateway.UpstreamURL; u != "" && !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") {
		errs = append(errs, fmt.Errorf("gateway.upstream_url %q must start with ws:// or wss://", u))
	}
	if tls := cfg.Gateway.TLS; tls != nil {
		if tls.CertFile == "" || tls.KeyFile == "" {
			errs = append(errs, errors.New("gateway.tls requires both cert_file and key_file"))
		}
	}

	return errors.Join(errs...)
}

// JWTKey resolves the HMAC verification key, preferring the secret file.
func (c AuthConfig) JWTKey() ([]byte, error) {
	if c.JWTSecretFile != "" {
		key, err := os.ReadFile(c.JWTSecretFile)
		if err != nil {
			return nil, fmt.Errorf("config: read jwt secret file: %w", err)
		}
		return []byte(strings.TrimSpace(string(key))), nil
	}
	if c.JWTSecret == "" {
		return nil, errors.New("config: no jwt secret configured")
	}
	return []byte(c.JWTSecret), nil
}
