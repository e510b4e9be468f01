// Package config provides configuration loading and validation for the debate
// coordinator. It uses koanf to merge environment variables with optional
// file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration values for the coordinator.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Debate Store; empty selects the in-memory store.
	DatabaseURL string `koanf:"database_url"`

	// Bearer token validation
	JWTSecret         string `koanf:"jwt_secret"`
	JWTPreviousSecret string `koanf:"jwt_previous_secret"`

	// LiveKit room provider; all empty selects the in-memory provider.
	LiveKitURL       string `koanf:"livekit_url"`
	LiveKitAPIKey    string `koanf:"livekit_api_key"`
	LiveKitAPISecret string `koanf:"livekit_api_secret"`

	// Redis vote ledger and rate limiter; empty selects in-memory.
	RedisURL string `koanf:"redis_url"`

	// Session tuning
	HeartbeatTimeout    time.Duration `koanf:"heartbeat_timeout"`
	SessionGrace        time.Duration `koanf:"session_grace"`
	SubscriberQueueSize int           `koanf:"subscriber_queue_size"`
	ReconcileInterval   time.Duration `koanf:"reconcile_interval"`
	ChatMaxLength       int           `koanf:"chat_max_length"`
	ChatRatePerMinute   int           `koanf:"chat_rate_per_minute"`

	// Lobby policy: what the audience may do before the debate starts.
	LobbyChatEnabled      bool `koanf:"lobby_chat_enabled"`
	LobbyReactionsEnabled bool `koanf:"lobby_reactions_enabled"`
	LobbyVotingEnabled    bool `koanf:"lobby_voting_enabled"`

	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`

	// Tracing
	TracingEnabled    bool    `koanf:"tracing_enabled"`
	TracingExporter   string  `koanf:"tracing_exporter"`
	TracingEndpoint   string  `koanf:"tracing_endpoint"`
	TracingSampleRate float64 `koanf:"tracing_sample_rate"`
	TracingInsecure   bool    `koanf:"tracing_insecure"`
}

// Configuration validation errors.
var (
	ErrMissingJWTSecret        = errors.New("JWT_SECRET is required")
	ErrMissingLiveKitURL       = errors.New("LIVEKIT_URL is required when LiveKit is configured")
	ErrMissingLiveKitAPIKey    = errors.New("LIVEKIT_API_KEY is required when LiveKit is configured")
	ErrMissingLiveKitAPISecret = errors.New("LIVEKIT_API_SECRET is required when LiveKit is configured")
	ErrInvalidPort             = errors.New("PORT must be between 1 and 65535")
	ErrInvalidInteger          = errors.New("value must be a valid integer")
	ErrInvalidDuration         = errors.New("value must be a valid duration")
	ErrInvalidBool             = errors.New("value must be a valid boolean")
	ErrInvalidFloat            = errors.New("value must be a valid number")
	ErrNonPositive             = errors.New("value must be positive")
	ErrInvalidSampleRate       = errors.New("TRACING_SAMPLE_RATE must be between 0 and 1")
	ErrInvalidExporter         = errors.New("TRACING_EXPORTER must be otlp-http or otlp-grpc")
)

// Default values for non-secret configuration.
const (
	DefaultPort                = 8080
	DefaultEnv                 = "development"
	DefaultHeartbeatTimeout    = 30 * time.Second
	DefaultSessionGrace        = 2 * time.Minute
	DefaultSubscriberQueueSize = 64
	DefaultReconcileInterval   = 30 * time.Second
	DefaultChatMaxLength       = 1000
	DefaultChatRatePerMinute   = 30
	DefaultTracingExporter     = "otlp-http"
	DefaultTracingSampleRate   = 0.1
)

// loader resolves each key from the environment first, then the file, then
// the default, collecting parse errors as it goes.
type loader struct {
	k    *koanf.Koanf
	errs []error
}

// Load reads configuration from environment variables and an optional config file.
// Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
// If a config file path is provided and the file cannot be loaded, an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}
	l := &loader{k: k}

	cfg := &Config{
		Port:              l.int([]string{"DEBATECAST_PORT", "PORT"}, "port", DefaultPort),
		Env:               l.string([]string{"DEBATECAST_ENV", "ENV", "GO_ENV"}, "env", DefaultEnv),
		DatabaseURL:       l.string([]string{"DATABASE_URL"}, "database_url", ""),
		JWTSecret:         l.string([]string{"JWT_SECRET"}, "jwt_secret", ""),
		JWTPreviousSecret: l.string([]string{"JWT_PREVIOUS_SECRET"}, "jwt_previous_secret", ""),
		LiveKitURL:        l.string([]string{"LIVEKIT_URL"}, "livekit_url", ""),
		LiveKitAPIKey:     l.string([]string{"LIVEKIT_API_KEY"}, "livekit_api_key", ""),
		LiveKitAPISecret:  l.string([]string{"LIVEKIT_API_SECRET"}, "livekit_api_secret", ""),
		RedisURL:          l.string([]string{"REDIS_URL"}, "redis_url", ""),

		HeartbeatTimeout:    l.duration("HEARTBEAT_TIMEOUT", "heartbeat_timeout", DefaultHeartbeatTimeout),
		SessionGrace:        l.duration("SESSION_GRACE", "session_grace", DefaultSessionGrace),
		SubscriberQueueSize: l.int([]string{"SUBSCRIBER_QUEUE_SIZE"}, "subscriber_queue_size", DefaultSubscriberQueueSize),
		ReconcileInterval:   l.duration("RECONCILE_INTERVAL", "reconcile_interval", DefaultReconcileInterval),
		ChatMaxLength:       l.int([]string{"CHAT_MAX_LENGTH"}, "chat_max_length", DefaultChatMaxLength),
		ChatRatePerMinute:   l.int([]string{"CHAT_RATE_PER_MINUTE"}, "chat_rate_per_minute", DefaultChatRatePerMinute),

		LobbyChatEnabled:      l.bool("LOBBY_CHAT_ENABLED", "lobby_chat_enabled", true),
		LobbyReactionsEnabled: l.bool("LOBBY_REACTIONS_ENABLED", "lobby_reactions_enabled", true),
		LobbyVotingEnabled:    l.bool("LOBBY_VOTING_ENABLED", "lobby_voting_enabled", false),

		CORSAllowedOrigins: l.list("CORS_ALLOWED_ORIGINS", "cors_allowed_origins"),

		TracingEnabled:    l.bool("TRACING_ENABLED", "tracing_enabled", false),
		TracingExporter:   l.string([]string{"TRACING_EXPORTER"}, "tracing_exporter", DefaultTracingExporter),
		TracingEndpoint:   l.string([]string{"TRACING_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT"}, "tracing_endpoint", ""),
		TracingSampleRate: l.float("TRACING_SAMPLE_RATE", "tracing_sample_rate", DefaultTracingSampleRate),
		TracingInsecure:   l.bool("TRACING_INSECURE", "tracing_insecure", false),
	}

	return cfg, append(l.errs, cfg.Validate()...)
}

func (l *loader) env(keys []string) (string, string, bool) {
	for _, key := range keys {
		if val := os.Getenv(key); val != "" {
			return key, val, true
		}
	}
	return "", "", false
}

func (l *loader) string(envKeys []string, koanfKey, def string) string {
	if _, val, ok := l.env(envKeys); ok {
		return val
	}
	if v := l.k.String(koanfKey); v != "" {
		return v
	}
	return def
}

func (l *loader) int(envKeys []string, koanfKey string, def int) int {
	if key, val, ok := l.env(envKeys); ok {
		i, err := strconv.Atoi(val)
		if err != nil {
			l.errs = append(l.errs, fmt.Errorf("%s: %w", key, ErrInvalidInteger))
			return def
		}
		return i
	}
	if l.k.Exists(koanfKey) {
		return l.k.Int(koanfKey)
	}
	return def
}

// duration accepts Go duration strings ("45s", "2m") from env and file.
func (l *loader) duration(envKey, koanfKey string, def time.Duration) time.Duration {
	raw, source := os.Getenv(envKey), envKey
	if raw == "" {
		if !l.k.Exists(koanfKey) {
			return def
		}
		raw, source = l.k.String(koanfKey), koanfKey
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: %w", source, ErrInvalidDuration))
		return def
	}
	return d
}

func (l *loader) bool(envKey, koanfKey string, def bool) bool {
	if val := os.Getenv(envKey); val != "" {
		switch strings.ToLower(val) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
		l.errs = append(l.errs, fmt.Errorf("%s: %w", envKey, ErrInvalidBool))
		return def
	}
	if l.k.Exists(koanfKey) {
		return l.k.Bool(koanfKey)
	}
	return def
}

func (l *loader) float(envKey, koanfKey string, def float64) float64 {
	if val := os.Getenv(envKey); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			l.errs = append(l.errs, fmt.Errorf("%s: %w", envKey, ErrInvalidFloat))
			return def
		}
		return f
	}
	if l.k.Exists(koanfKey) {
		return l.k.Float64(koanfKey)
	}
	return def
}

// list reads a comma separated env var or a YAML list.
func (l *loader) list(envKey, koanfKey string) []string {
	var raw []string
	if val := os.Getenv(envKey); val != "" {
		raw = strings.Split(val, ",")
	} else {
		raw = l.k.Strings(koanfKey)
	}
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// LiveKitConfigured reports whether any LiveKit setting is present.
func (c *Config) LiveKitConfigured() bool {
	return c.LiveKitURL != "" || c.LiveKitAPIKey != "" || c.LiveKitAPISecret != ""
}

// Validate checks that all required configuration values are present.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.JWTSecret == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, ErrInvalidPort)
	}

	// LiveKit is optional as a group.
	if c.LiveKitConfigured() {
		if c.LiveKitURL == "" {
			errs = append(errs, ErrMissingLiveKitURL)
		}
		if c.LiveKitAPIKey == "" {
			errs = append(errs, ErrMissingLiveKitAPIKey)
		}
		if c.LiveKitAPISecret == "" {
			errs = append(errs, ErrMissingLiveKitAPISecret)
		}
	}

	positive := []struct {
		name string
		ok   bool
	}{
		{"HEARTBEAT_TIMEOUT", c.HeartbeatTimeout > 0},
		{"SESSION_GRACE", c.SessionGrace > 0},
		{"SUBSCRIBER_QUEUE_SIZE", c.SubscriberQueueSize > 0},
		{"RECONCILE_INTERVAL", c.ReconcileInterval > 0},
		{"CHAT_MAX_LENGTH", c.ChatMaxLength > 0},
		{"CHAT_RATE_PER_MINUTE", c.ChatRatePerMinute > 0},
	}
	for _, p := range positive {
		if !p.ok {
			errs = append(errs, fmt.Errorf("%s: %w", p.name, ErrNonPositive))
		}
	}

	if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
		errs = append(errs, ErrInvalidSampleRate)
	}
	if c.TracingExporter != "otlp-http" && c.TracingExporter != "otlp-grpc" {
		errs = append(errs, ErrInvalidExporter)
	}

	return errs
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                  strconv.Itoa(c.Port),
		"env":                   c.Env,
		"database_url":          maskURLCredentials(c.DatabaseURL),
		"jwt_secret":            maskSecret(c.JWTSecret),
		"jwt_previous_secret":   maskSecret(c.JWTPreviousSecret),
		"livekit_url":           c.LiveKitURL,
		"livekit_api_key":       maskSecret(c.LiveKitAPIKey),
		"livekit_api_secret":    maskSecret(c.LiveKitAPISecret),
		"redis_url":             maskURLCredentials(c.RedisURL),
		"heartbeat_timeout":     c.HeartbeatTimeout.String(),
		"session_grace":         c.SessionGrace.String(),
		"subscriber_queue_size": strconv.Itoa(c.SubscriberQueueSize),
		"reconcile_interval":    c.ReconcileInterval.String(),
		"chat_max_length":       strconv.Itoa(c.ChatMaxLength),
		"chat_rate_per_minute":  strconv.Itoa(c.ChatRatePerMinute),
		"lobby_policy": fmt.Sprintf("chat=%t reactions=%t voting=%t",
			c.LobbyChatEnabled, c.LobbyReactionsEnabled, c.LobbyVotingEnabled),
		"cors_allowed_origins": strings.Join(c.CORSAllowedOrigins, ","),
		"tracing_enabled":      strconv.FormatBool(c.TracingEnabled),
		"tracing_exporter":     c.TracingExporter,
		"tracing_endpoint":     c.TracingEndpoint,
		"tracing_sample_rate":  strconv.FormatFloat(c.TracingSampleRate, 'f', -1, 64),
	}
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskURLCredentials masks the password in a postgres:// or redis:// URL.
func maskURLCredentials(s string) string {
	if s == "" {
		return "<not set>"
	}

	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.LastIndex(rest, "@")
	if atIndex == -1 {
		return s
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s
	}

	return s[:schemeEnd+3] + rest[:colonIndex] + ":****" + rest[atIndex:]
}
