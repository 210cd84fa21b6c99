package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated environment configuration
type Config struct {
	// Required variables
	HostTokenSecret string
	RedisAddr       string
	Port            string

	// Optional variables with defaults
	GoEnv         string
	LogLevel      string
	RedisPassword string

	DevelopmentMode bool
	AllowedOrigins  string

	// Playback / chat / signaling knobs
	VideoProxyPath   string
	ChatHistoryLimit int
	SignalingPeerCap int

	// Resolver deadlines
	ResolverProbeTimeout time.Duration
	ResolverTotalTimeout time.Duration

	// Rate Limits (ulule/limiter formatted, e.g. "30-M")
	RateLimitWsIp     string
	RateLimitMessages string

	// Tracing (enabled when the endpoint is set)
	OTLPEndpoint string
}

// ValidateEnv validates all required environment variables and returns a Config object
// Returns an error if any required variable is missing or invalid
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	// Required: HOST_TOKEN_SECRET (minimum 32 characters)
	cfg.HostTokenSecret = os.Getenv("HOST_TOKEN_SECRET")
	if cfg.HostTokenSecret == "" {
		errors = append(errors, "HOST_TOKEN_SECRET is required")
	} else if len(cfg.HostTokenSecret) < 32 {
		errors = append(errors, fmt.Sprintf("HOST_TOKEN_SECRET must be at least 32 characters (got %d)", len(cfg.HostTokenSecret)))
	}

	// Optional: PORT (defaults to 8080, must be a valid port number)
	cfg.Port = getEnvOrDefault("PORT", "8080")
	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
	}

	// Required: REDIS_ADDR (format: host:port)
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	if cfg.RedisAddr == "" {
		errors = append(errors, "REDIS_ADDR is required")
	} else if !isValidHostPort(cfg.RedisAddr) {
		errors = append(errors, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
	}
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")

	// Optional: GO_ENV (defaults to "production")
	cfg.GoEnv = os.Getenv("GO_ENV")
	if cfg.GoEnv == "" {
		cfg.GoEnv = "production"
	}
	cfg.DevelopmentMode = cfg.GoEnv == "development"

	// Optional: LOG_LEVEL (defaults to "info")
	cfg.LogLevel = os.Getenv("LOG_LEVEL")
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	// Optional: VIDEO_PROXY_PATH (mount point of the byte-range proxy)
	cfg.VideoProxyPath = getEnvOrDefault("VIDEO_PROXY_PATH", "/api/video-proxy")
	if !strings.HasPrefix(cfg.VideoProxyPath, "/") {
		errors = append(errors, fmt.Sprintf("VIDEO_PROXY_PATH must start with '/' (got '%s')", cfg.VideoProxyPath))
	}

	// Optional: CHAT_HISTORY_LIMIT (messages retained per room)
	cfg.ChatHistoryLimit = 50
	if raw := os.Getenv("CHAT_HISTORY_LIMIT"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			errors = append(errors, fmt.Sprintf("CHAT_HISTORY_LIMIT must be between 1 and 500 (got '%s')", raw))
		} else {
			cfg.ChatHistoryLimit = n
		}
	}

	// Optional: SIGNALING_PEER_CAP (per-modality mesh size)
	cfg.SignalingPeerCap = 5
	if raw := os.Getenv("SIGNALING_PEER_CAP"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 2 || n > 16 {
			errors = append(errors, fmt.Sprintf("SIGNALING_PEER_CAP must be between 2 and 16 (got '%s')", raw))
		} else {
			cfg.SignalingPeerCap = n
		}
	}

	// Optional: resolver probe deadlines
	cfg.ResolverProbeTimeout = 5 * time.Second
	if raw := os.Getenv("RESOLVER_PROBE_TIMEOUT"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			errors = append(errors, fmt.Sprintf("RESOLVER_PROBE_TIMEOUT must be a positive duration (got '%s')", raw))
		} else {
			cfg.ResolverProbeTimeout = d
		}
	}
	cfg.ResolverTotalTimeout = 10 * time.Second
	if raw := os.Getenv("RESOLVER_TOTAL_TIMEOUT"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			errors = append(errors, fmt.Sprintf("RESOLVER_TOTAL_TIMEOUT must be a positive duration (got '%s')", raw))
		} else {
			cfg.ResolverTotalTimeout = d
		}
	}
	if cfg.ResolverTotalTimeout < cfg.ResolverProbeTimeout {
		errors = append(errors, "RESOLVER_TOTAL_TIMEOUT must not be smaller than RESOLVER_PROBE_TIMEOUT")
	}

	// Rate Limits (Defaults: M = Minute, H = Hour)
	cfg.RateLimitWsIp = getEnvOrDefault("RATE_LIMIT_WS_IP", "30-M")
	cfg.RateLimitMessages = getEnvOrDefault("RATE_LIMIT_MESSAGES", "120-M")

	// Optional: OTLP trace exporter endpoint
	cfg.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")

	// If there are validation errors, return them
	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	// Log validated configuration (with secrets redacted)
	logValidatedConfig(cfg)

	return cfg, nil
}

// isValidHostPort checks if a string is in the format "host:port"
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	// Validate port is a number
	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	// Validate host is not empty
	if parts[0] == "" {
		return false
	}

	return true
}

// logValidatedConfig logs the validated configuration with secrets redacted
func logValidatedConfig(cfg *Config) {
	slog.Info("✅ Environment configuration validated successfully")
	slog.Info("Configuration",
		"host_token_secret", redactSecret(cfg.HostTokenSecret),
		"port", cfg.Port,
		"redis_addr", cfg.RedisAddr,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"development_mode", cfg.DevelopmentMode,
		"video_proxy_path", cfg.VideoProxyPath,
		"chat_history_limit", cfg.ChatHistoryLimit,
		"signaling_peer_cap", cfg.SignalingPeerCap,
		"rate_limit_ws_ip", cfg.RateLimitWsIp,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// redactSecret redacts a secret by showing only the first 8 characters
func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
