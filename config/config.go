package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

const (
	DefaultPort                = "9001"
	DefaultMaxParticipants     = 1000
	DefaultMaxRelaysPerNode    = 2
	DefaultSocketMessageEvent  = "RTCMultiConnection-Message"
	DefaultErrorLogLimit       = 500
	DefaultShutdownTimeout     = 10 * time.Second
	ErrorLogBackendMemory      = "memory"
	ErrorLogBackendRedis       = "redis"
	ErrorLogBackendNone        = "none"
	LogFormatText              = "text"
	LogFormatJSON              = "json"
	EnvironmentProduction      = "production"
	EnvironmentDevelopment     = "development"
	defaultAllowedOriginsValue = "http://localhost:3000,http://localhost:5173"
)

type Config struct {
	Port           string
	Environment    string
	AllowedOrigins []string
	JWTSecret      string

	LogLevel  slog.Level
	LogFormat string

	Admin AdminConfig

	DefaultMaxParticipants  int
	DefaultMaxRelaysPerNode int
	SocketMessageEvent      string

	ErrorLogBackend string
	ErrorLogLimit   int

	ICEServers []webrtc.ICEServer

	ShutdownTimeout time.Duration

	Redis RedisConfig
}

type AdminConfig struct {
	Enabled  bool
	Username string
	Password string
}

// Active reports whether the admin channel can accept connections at all.
func (a AdminConfig) Active() bool {
	return a.Enabled && a.Username != "" && a.Password != ""
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

// Load reads the configuration from the process environment.
func Load() (*Config, error) {
	return load(os.LookupEnv)
}

// LoadWith is Load with overrides, keyed by environment variable name, taking
// precedence over the environment. Command-line flags use it.
func LoadWith(overrides map[string]string) (*Config, error) {
	return load(func(key string) (string, bool) {
		if v, ok := overrides[key]; ok {
			return v, true
		}
		return os.LookupEnv(key)
	})
}

func load(lookup func(string) (string, bool)) (*Config, error) {
	getEnv := func(key, defaultValue string) string {
		if value, ok := lookup(key); ok && value != "" {
			return value
		}
		return defaultValue
	}

	// Parse allowed origins (comma-separated)
	var origins []string
	for _, origin := range strings.Split(getEnv("ALLOWED_ORIGINS", defaultAllowedOriginsValue), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}

	environment := getEnv("ENVIRONMENT", EnvironmentDevelopment)

	defaultFormat := LogFormatText
	if environment == EnvironmentProduction {
		defaultFormat = LogFormatJSON
	}
	logFormat := strings.ToLower(getEnv("LOG_FORMAT", defaultFormat))
	if logFormat != LogFormatText && logFormat != LogFormatJSON {
		return nil, fmt.Errorf("unsupported LOG_FORMAT %q", logFormat)
	}

	level, err := parseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return nil, err
	}

	enableAdmin, err := envBool(lookup, "ENABLE_ADMIN", false)
	if err != nil {
		return nil, err
	}

	maxParticipants, err := envInt(lookup, "DEFAULT_MAX_PARTICIPANTS", DefaultMaxParticipants)
	if err != nil {
		return nil, err
	}
	maxRelays, err := envInt(lookup, "DEFAULT_MAX_RELAYS_PER_NODE", DefaultMaxRelaysPerNode)
	if err != nil {
		return nil, err
	}
	if maxParticipants <= 0 || maxRelays <= 0 {
		return nil, fmt.Errorf("DEFAULT_MAX_PARTICIPANTS and DEFAULT_MAX_RELAYS_PER_NODE must be positive")
	}

	backend := strings.ToLower(getEnv("ERROR_LOG_BACKEND", ErrorLogBackendMemory))
	switch backend {
	case ErrorLogBackendMemory, ErrorLogBackendRedis, ErrorLogBackendNone:
	default:
		return nil, fmt.Errorf("unsupported ERROR_LOG_BACKEND %q", backend)
	}
	logLimit, err := envInt(lookup, "ERROR_LOG_LIMIT", DefaultErrorLogLimit)
	if err != nil {
		return nil, err
	}

	redisDB, err := envInt(lookup, "REDIS_DB", 0)
	if err != nil {
		return nil, err
	}

	shutdownTimeout := DefaultShutdownTimeout
	if raw := getEnv("SHUTDOWN_TIMEOUT", ""); raw != "" {
		shutdownTimeout, err = time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid SHUTDOWN_TIMEOUT %q: %w", raw, err)
		}
	}

	iceServers, err := parseICEServers(
		getEnv("ICE_SERVERS_JSON", ""),
		getEnv("STUN_URLS", ""),
		getEnv("TURN_URLS", ""),
		getEnv("TURN_USERNAME", ""),
		getEnv("TURN_CREDENTIAL", ""),
	)
	if err != nil {
		return nil, err
	}

	return &Config{
		Port:           getEnv("PORT", DefaultPort),
		Environment:    environment,
		AllowedOrigins: origins,
		JWTSecret:      getEnv("JWT_SECRET", "change-me-in-production"),
		LogLevel:       level,
		LogFormat:      logFormat,
		Admin: AdminConfig{
			Enabled:  enableAdmin,
			Username: getEnv("ADMIN_USERNAME", ""),
			Password: getEnv("ADMIN_PASSWORD", ""),
		},
		DefaultMaxParticipants:  maxParticipants,
		DefaultMaxRelaysPerNode: maxRelays,
		SocketMessageEvent:      getEnv("SOCKET_MESSAGE_EVENT", DefaultSocketMessageEvent),
		ErrorLogBackend:         backend,
		ErrorLogLimit:           logLimit,
		ICEServers:              iceServers,
		ShutdownTimeout:         shutdownTimeout,
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
	}, nil
}

// NewLogger builds the process logger from cfg.
func NewLogger(cfg *Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}
	return slog.New(handler), nil
}

func parseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug", "dev", "development":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported LOG_LEVEL %q", raw)
	}
}

func envInt(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envBool(lookup func(string) (string, bool), key string, fallback bool) (bool, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return b, nil
}
