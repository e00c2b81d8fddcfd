// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Backend names.
const (
	AIBackendSimulated = "simulated"
	AIBackendGrpc      = "grpc"
	AIBackendHTTP      = "http"

	TicketBackendLocal      = "local"
	TicketBackendServiceNow = "servicenow"

	RealtimeBackendWebSocket = "websocket"
	RealtimeBackendRedis     = "redis"
	RealtimeBackendNone      = "none"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string

	AI           AIConfig
	Ticketing    TicketingConfig
	Telegram     TelegramConfig
	Realtime     RealtimeConfig
	Relay        RelayConfig
	Expert       ExpertConfig
	RateLimit    RateLimitConfig
	SSE          SSEConfig
	WorkspaceTTL time.Duration
}

// AIConfig selects the automated responder.
type AIConfig struct {
	Backend        string
	GrpcAddr       string
	HTTPURL        string
	ReplyDelay     time.Duration
	RequestTimeout time.Duration
}

// TicketingConfig selects the ticketing system.
type TicketingConfig struct {
	Backend            string
	ServiceNowURL      string
	ServiceNowUser     string
	ServiceNowPassword string
}

// TelegramConfig configures expert notifications. Notifications are disabled
// when BotToken is empty.
type TelegramConfig struct {
	APIURL       string
	BotToken     string
	ExpertChatID string
}

// Enabled reports whether a bot is configured.
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != ""
}

// RealtimeConfig selects how expert replies are pushed.
type RealtimeConfig struct {
	Backend       string
	URL           string
	RetryDelay    time.Duration
	RedisAddr     string
	ChannelPrefix string
}

// RelayConfig configures the expert relay process.
type RelayConfig struct {
	Port string
	// WebhookSecret, when set, must match the secret token header Telegram
	// sends with every webhook call.
	WebhookSecret string
}

// ExpertConfig holds expert-mode timings.
type ExpertConfig struct {
	StatusPollInterval time.Duration
	AckDelay           time.Duration
}

// RateLimitConfig bounds how many messages a user may send per window.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// SSEConfig controls the session event stream.
type SSEConfig struct {
	KeepaliveInterval  time.Duration
	RetryDelay         time.Duration
	MaxRequestBodySize int64
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/netdesk.db"),
		AI: AIConfig{
			Backend:        strings.ToLower(getEnv("AI_BACKEND", AIBackendSimulated)),
			GrpcAddr:       getEnv("AI_GRPC_ADDR", "localhost:50051"),
			HTTPURL:        getEnv("AI_HTTP_URL", ""),
			ReplyDelay:     getEnvDuration("AI_REPLY_DELAY", 1500*time.Millisecond),
			RequestTimeout: getEnvDuration("AI_REQUEST_TIMEOUT", 30*time.Second),
		},
		Ticketing: TicketingConfig{
			Backend:            strings.ToLower(getEnv("TICKET_BACKEND", TicketBackendLocal)),
			ServiceNowURL:      getEnv("SERVICENOW_URL", ""),
			ServiceNowUser:     getEnv("SERVICENOW_USER", ""),
			ServiceNowPassword: getEnv("SERVICENOW_PASSWORD", ""),
		},
		Telegram: TelegramConfig{
			APIURL:       getEnv("TELEGRAM_API_URL", "https://api.telegram.org"),
			BotToken:     getEnv("TELEGRAM_BOT_TOKEN", ""),
			ExpertChatID: getEnv("TELEGRAM_EXPERT_CHAT_ID", ""),
		},
		Realtime: RealtimeConfig{
			Backend:       strings.ToLower(getEnv("REALTIME_BACKEND", RealtimeBackendWebSocket)),
			URL:           getEnv("REALTIME_URL", "ws://localhost:8765"),
			RetryDelay:    getEnvDuration("REALTIME_RETRY_DELAY", 5*time.Second),
			RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
			ChannelPrefix: getEnv("REDIS_CHANNEL_PREFIX", "netdesk:chat:"),
		},
		Relay: RelayConfig{
			Port:          getEnv("RELAY_PORT", "8765"),
			WebhookSecret: getEnv("TELEGRAM_WEBHOOK_SECRET", ""),
		},
		Expert: ExpertConfig{
			StatusPollInterval: getEnvDuration("STATUS_POLL_INTERVAL", 30*time.Second),
			AckDelay:           getEnvDuration("ACK_DELAY", 1500*time.Millisecond),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 30),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		SSE: SSEConfig{
			KeepaliveInterval:  getEnvDuration("SSE_KEEPALIVE_INTERVAL", 15*time.Second),
			RetryDelay:         getEnvDuration("SSE_RETRY_DELAY", 5*time.Second),
			MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_SIZE", 1<<20)),
		},
		WorkspaceTTL: getEnvDuration("WORKSPACE_TTL", 0),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
//
//nolint:gocyclo // One branch per setting keeps error messages specific.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT cannot be empty")
	}
	if c.DBPath == "" && c.Ticketing.Backend == TicketBackendLocal {
		return errors.New("DB_PATH cannot be empty")
	}

	switch c.AI.Backend {
	case AIBackendSimulated:
	case AIBackendGrpc:
		if c.AI.GrpcAddr == "" {
			return errors.New("AI_GRPC_ADDR is required when AI_BACKEND=grpc")
		}
	case AIBackendHTTP:
		if c.AI.HTTPURL == "" {
			return errors.New("AI_HTTP_URL is required when AI_BACKEND=http")
		}
	default:
		return fmt.Errorf("AI_BACKEND must be one of simulated, grpc, http (got %q)", c.AI.Backend)
	}

	switch c.Ticketing.Backend {
	case TicketBackendLocal:
	case TicketBackendServiceNow:
		if c.Ticketing.ServiceNowURL == "" {
			return errors.New("SERVICENOW_URL is required when TICKET_BACKEND=servicenow")
		}
	default:
		return fmt.Errorf("TICKET_BACKEND must be one of local, servicenow (got %q)", c.Ticketing.Backend)
	}

	if c.Telegram.Enabled() && c.Telegram.ExpertChatID == "" {
		return errors.New("TELEGRAM_EXPERT_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set")
	}

	switch c.Realtime.Backend {
	case RealtimeBackendNone:
	case RealtimeBackendWebSocket:
		if c.Realtime.URL == "" {
			return errors.New("REALTIME_URL is required when REALTIME_BACKEND=websocket")
		}
	case RealtimeBackendRedis:
		if c.Realtime.RedisAddr == "" {
			return errors.New("REDIS_ADDR is required when REALTIME_BACKEND=redis")
		}
	default:
		return fmt.Errorf("REALTIME_BACKEND must be one of websocket, redis, none (got %q)", c.Realtime.Backend)
	}

	if c.Expert.StatusPollInterval <= 0 {
		return errors.New("STATUS_POLL_INTERVAL must be > 0")
	}
	if c.Expert.AckDelay < 0 {
		return errors.New("ACK_DELAY must be >= 0")
	}
	if c.Realtime.RetryDelay <= 0 {
		return errors.New("REALTIME_RETRY_DELAY must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return errors.New("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.RateLimit.WindowDuration <= 0 {
		return errors.New("RATE_LIMIT_WINDOW must be > 0")
	}
	if c.SSE.KeepaliveInterval <= 0 {
		return errors.New("SSE_KEEPALIVE_INTERVAL must be > 0")
	}
	if c.SSE.MaxRequestBodySize <= 0 {
		return errors.New("MAX_REQUEST_BODY_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go durations ("1.5s") or plain milliseconds ("1500").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
