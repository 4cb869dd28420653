// Package config provides the configuration schema, loader, and file watcher
// for the Waystone experience runtime.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity for the Waystone server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level converts l to the corresponding slog level. Unset or unknown levels
// map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Duration wraps time.Duration so it can be written in YAML as "30s" or
// "500ms".
type Duration time.Duration

// UnmarshalYAML decodes a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML encodes the duration back to its string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure for Waystone.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
// Both the session server and the gateway read the same file; each consults
// only its own sections.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Auth    AuthConfig    `yaml:"auth"`
	Bus     BusConfig     `yaml:"bus"`
	Content ContentConfig `yaml:"content"`
	Chat    ChatConfig    `yaml:"chat"`
	Gateway GatewayConfig `yaml:"gateway"`
}

// ServerConfig holds network and logging settings for the session server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8470").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// HeartbeatInterval is how often each session sends a heartbeat frame.
	// A failed heartbeat write disconnects the session.
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`

	// WriteTimeout bounds every outbound frame write. A session that cannot
	// drain within this budget is disconnected; the client reconnects and
	// resynchronizes with a fresh location update.
	WriteTimeout Duration `yaml:"write_timeout"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// AuthConfig holds bearer-token verification settings. Tokens are verified,
// never issued, by this process.
type AuthConfig struct {
	// JWTSecret is the HMAC key for verifying HS256 bearer tokens.
	JWTSecret string `yaml:"jwt_secret"`

	// JWTSecretFile reads the HMAC key from a file instead. Takes precedence
	// over JWTSecret when both are set.
	JWTSecretFile string `yaml:"jwt_secret_file"`

	// Issuer, when set, must match the token's iss claim.
	Issuer string `yaml:"issuer"`

	// Audience, when set, must be present in the token's aud claim.
	Audience string `yaml:"audience"`
}

// BusConfig holds the event bus connection settings.
type BusConfig struct {
	// RedisAddr is the host:port of the Redis instance backing the bus
	// (e.g., "localhost:6379").
	RedisAddr string `yaml:"redis_addr"`

	// Password authenticates against Redis. Empty means no AUTH.
	Password string `yaml:"password"`

	// DB selects the Redis logical database.
	DB int `yaml:"db"`
}

// ContentConfig locates experience content and tunes the state store.
type ContentConfig struct {
	// DataDir is the root of the on-disk content tree: experience
	// configurations, world snapshots, templates, and player views.
	DataDir string `yaml:"data_dir"`

	// DefaultExperience is used when a client connects without naming one.
	DefaultExperience string `yaml:"default_experience"`

	// LockWait bounds how long a write waits for the advisory file lock
	// before failing with a transient error.
	LockWait Duration `yaml:"lock_wait"`

	// GeofenceRadiusM is the default zone match radius in meters, used when
	// an experience does not declare its own.
	GeofenceRadiusM float64 `yaml:"geofence_radius_m"`
}

// ChatConfig points at the external narrative service consulted by the talk
// verb. Every other verb is deterministic and never touches it.
type ChatConfig struct {
	// BaseURL is the root endpoint of the narrative service
	// (e.g., "http://localhost:8500").
	BaseURL string `yaml:"base_url"`

	// Timeout bounds each narrative call. On expiry the talk verb degrades
	// to a canned reply.
	Timeout Duration `yaml:"timeout"`
}

// GatewayConfig holds settings for the gateway tunnel binary.
type GatewayConfig struct {
	// ListenAddr is the TCP address the gateway listens on (e.g., ":8471").
	ListenAddr string `yaml:"listen_addr"`

	// UpstreamURL is the session endpoint the gateway forwards to
	// (e.g., "ws://localhost:8470/ws").
	UpstreamURL string `yaml:"upstream_url"`

	// MaxConnections caps concurrent tunnelled connections. Connects beyond
	// the cap are rejected before dialing upstream.
	MaxConnections int `yaml:"max_connections"`

	// TLS configures TLS for the gateway listener.
	TLS *TLSConfig `yaml:"tls"`
}
