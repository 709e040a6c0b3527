package server

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Tyrowin/boardcall/internal/coordinator"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// CallConfig controls call bookkeeping in the coordinator.
type CallConfig struct {
	// EvictionDelay is how long a finished call is kept before it is dropped.
	EvictionDelay time.Duration
	// RingTimeout ends unanswered calls. Zero disables it.
	RingTimeout time.Duration
}

// LogConfig selects the logrus level and formatter.
type LogConfig struct {
	Level  string
	Format string
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port            string
	AllowedOrigins  []string
	MaxMessageSize  int64
	RateLimit       RateLimitConfig
	Calls           CallConfig
	PingInterval    time.Duration
	PongWait        time.Duration
	ShutdownTimeout time.Duration
	Log             LogConfig
}

const (
	defaultPort            = ":8080"
	defaultMaxMessageSize  = 64 * 1024
	defaultBurst           = 50
	defaultPingInterval    = 10 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	pongGrace              = 5 * time.Second
)

var (
	configMu        sync.RWMutex
	activeConfig    Config
	allowedOrigins  map[string]struct{}
	allowAllOrigins bool
)

func init() {
	SetConfig(nil)
}

func defaultConfig() Config {
	return Config{
		Port: defaultPort,
		AllowedOrigins: []string{
			"http://localhost:8080",
			"http://localhost:3000",
		},
		MaxMessageSize: defaultMaxMessageSize,
		RateLimit: RateLimitConfig{
			Burst:          defaultBurst,
			RefillInterval: time.Second,
		},
		Calls: CallConfig{
			EvictionDelay: coordinator.DefaultEvictionDelay,
		},
		PingInterval:    defaultPingInterval,
		PongWait:        defaultPingInterval + pongGrace,
		ShutdownTimeout: defaultShutdownTimeout,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func sanitizeConfig(cfg Config) Config {
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaultBurst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = time.Second
	}
	if cfg.Calls.EvictionDelay <= 0 {
		cfg.Calls.EvictionDelay = coordinator.DefaultEvictionDelay
	}
	if cfg.Calls.RingTimeout < 0 {
		cfg.Calls.RingTimeout = 0
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	// The peer must have time to answer a ping before the read deadline hits.
	if cfg.PongWait <= cfg.PingInterval {
		cfg.PongWait = cfg.PingInterval + pongGrace
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	normalizedOrigins, allowAll := normalizeOrigins(cfg.AllowedOrigins)
	cfg.AllowedOrigins = normalizedOrigins

	configMu.Lock()
	defer configMu.Unlock()

	activeConfig = cfg
	allowAllOrigins = allowAll
	allowedOrigins = make(map[string]struct{}, len(normalizedOrigins))
	for _, origin := range normalizedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	return cfg
}

// SetConfig applies the provided configuration. Passing nil resets to defaults.
func SetConfig(cfg *Config) {
	if cfg == nil {
		sanitizeConfig(defaultConfig())
		return
	}

	copied := *cfg
	copied.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	sanitizeConfig(copied)
}

// CurrentConfig returns a copy of the configuration in effect.
func CurrentConfig() Config {
	configMu.RLock()
	defer configMu.RUnlock()

	cfg := activeConfig
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Unset or invalid values keep their defaults.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}
	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}
	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}
	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseSeconds(interval, cfg.RateLimit.RefillInterval)
	}
	if delay := os.Getenv("CALL_EVICTION_DELAY"); delay != "" {
		cfg.Calls.EvictionDelay = parseSeconds(delay, cfg.Calls.EvictionDelay)
	}
	if timeout := os.Getenv("CALL_RING_TIMEOUT"); timeout != "" {
		cfg.Calls.RingTimeout = parseSeconds(timeout, cfg.Calls.RingTimeout)
	}

	pongSet := false
	if interval := os.Getenv("PING_INTERVAL"); interval != "" {
		cfg.PingInterval = parseSeconds(interval, cfg.PingInterval)
	}
	if wait := os.Getenv("PONG_TIMEOUT"); wait != "" {
		cfg.PongWait = parseSeconds(wait, cfg.PongWait)
		pongSet = true
	}
	if !pongSet {
		cfg.PongWait = cfg.PingInterval + pongGrace
	}

	if timeout := os.Getenv("SHUTDOWN_TIMEOUT"); timeout != "" {
		cfg.ShutdownTimeout = parseSeconds(timeout, cfg.ShutdownTimeout)
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Log.Level = strings.ToLower(strings.TrimSpace(level))
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.Log.Format = strings.ToLower(strings.TrimSpace(format))
	}

	return &cfg
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseSeconds reads a whole number of seconds, or a Go duration such as
// "1500ms". Zero is accepted so optional timers can be switched off.
func parseSeconds(value string, defaultValue time.Duration) time.Duration {
	value = strings.TrimSpace(value)
	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if d, err := time.ParseDuration(value); err == nil && d >= 0 {
		return d
	}
	return defaultValue
}
