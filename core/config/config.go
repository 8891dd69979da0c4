package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/ilikepancakes-ink/twittwebot/core/db"
	"github.com/ilikepancakes-ink/twittwebot/internal/model"
)

type Config struct {
	Bot     BotConfig
	Gate    GateConfig
	LLM     LLMConfig
	Twitter TwitterConfig
	State   StateConfig
	OTel    OTelConfig
	Log     LogConfig
	Env     string
	Port    string
	NodeID  int64
	DB      db.Config
}

type LogConfig struct {
	Level slog.Level
}

type OTelConfig struct {
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
}

type LLMConfig struct {
	Provider  string // "openai", "anthropic" or "gemini"
	APIKey    string
	BaseURL   string // Optional: custom endpoint, e.g. https://openrouter.ai/api/v1
	Model     string
	MaxTokens int
}

type TwitterConfig struct {
	BaseURL     string
	BearerToken string
}

// StateConfig selects where the ledger, threads and mention cursor live.
type StateConfig struct {
	Backend          string // "memory", "redis" or "postgres"
	RedisURL         string
	LedgerMaxEntries int           // memory backend: eviction cap, 0 = unbounded
	LedgerTTL        time.Duration // redis backend: key expiry
}

// State backend constants.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Search mode constants.
const (
	SearchModeAccount = "account"
	SearchModeKeyword = "keyword"
)

type BotConfig struct {
	PostInterval  time.Duration
	PostCron      string // optional cron expression overriding PostInterval
	PostOnStartup bool

	MentionInterval time.Duration

	InteractWithPopular bool
	PopularInterval     time.Duration
	ScanOnStartup       bool

	TickTimeout   time.Duration
	ShutdownGrace time.Duration

	SearchMode     string
	TargetAccount  string
	Keywords       []string
	SearchLanguage string

	MinLikes      int
	MaxAge        time.Duration
	MaxCandidates int

	Interactions     []model.InteractionType
	ReplyToAll       bool
	ReplyChance      float64
	InteractionDelay time.Duration

	MaxReplyDepth    int
	TrackReplyChains bool
	ReplyToReplies   bool

	Topics  []string // standalone post prompts; empty = generator defaults
	Persona string   // system prompt prefix; empty = generator default
}

type GateConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// Load loads configuration from environment variables.
// In development it also reads a .env file from the working directory.
func Load() (Config, error) {
	if getEnv("BOT_ENV", "development") == "development" {
		_ = godotenv.Load(".env")
	}

	cfg := Config{
		Env:    getEnv("BOT_ENV", "development"),
		Port:   getEnv("PORT", "8080"),
		NodeID: getEnvInt64("NODE_ID", 1),
		Log: LogConfig{
			Level: parseLogLevel(getEnv("LOG_LEVEL", "")),
		},
		DB: db.Config{
			DSN:      getEnv("DATABASE_URL", ""),
			MaxConns: getEnvInt32("DB_MAX_CONNS", 10),
			MinConns: getEnvInt32("DB_MIN_CONNS", 2),
		},
		OTel: OTelConfig{
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "twittwebot"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
		},
		LLM: LLMConfig{
			Provider:  getEnv("LLM_PROVIDER", "openai"),
			APIKey:    getEnv("LLM_API_KEY", ""),
			BaseURL:   getEnv("LLM_BASE_URL", "https://openrouter.ai/api/v1"),
			Model:     getEnv("LLM_MODEL", "anthropic/claude-3-haiku"),
			MaxTokens: getEnvInt("LLM_MAX_TOKENS", 100),
		},
		Twitter: TwitterConfig{
			BaseURL:     getEnv("TWITTER_BASE_URL", "https://api.twitter.com"),
			BearerToken: getEnv("TWITTER_BEARER_TOKEN", ""),
		},
		State: StateConfig{
			Backend:          getEnv("BOT_STATE_BACKEND", BackendMemory),
			RedisURL:         getEnv("REDIS_URL", ""),
			LedgerMaxEntries: getEnvInt("BOT_LEDGER_MAX_ENTRIES", 10000),
			LedgerTTL:        getEnvDuration("BOT_LEDGER_TTL", 720*time.Hour),
		},
		Bot: BotConfig{
			PostInterval:  getEnvDuration("BOT_POST_INTERVAL", 24*time.Hour),
			PostCron:      getEnv("BOT_POST_CRON", ""),
			PostOnStartup: getEnvBool("BOT_POST_ON_STARTUP", false),

			MentionInterval: getEnvDuration("BOT_MENTION_INTERVAL", 5*time.Minute),

			InteractWithPopular: getEnvBool("BOT_INTERACT_WITH_POPULAR", true),
			PopularInterval:     getEnvDuration("BOT_POPULAR_INTERVAL", 6*time.Hour),
			ScanOnStartup:       getEnvBool("BOT_SCAN_ON_STARTUP", false),

			TickTimeout:   getEnvDuration("BOT_TICK_TIMEOUT", 10*time.Minute),
			ShutdownGrace: getEnvDuration("BOT_SHUTDOWN_GRACE", 30*time.Second),

			SearchMode:     getEnv("BOT_SEARCH_MODE", SearchModeAccount),
			TargetAccount:  getEnv("BOT_TARGET_ACCOUNT", ""),
			Keywords:       getEnvList("BOT_KEYWORDS"),
			SearchLanguage: getEnv("BOT_SEARCH_LANGUAGE", "en"),

			MinLikes:      getEnvInt("BOT_POPULAR_MIN_LIKES", 100),
			MaxAge:        time.Duration(getEnvInt("BOT_POPULAR_MAX_AGE_HOURS", 24)) * time.Hour,
			MaxCandidates: getEnvInt("BOT_MAX_CANDIDATES", 10),

			ReplyToAll:       getEnvBool("BOT_REPLY_TO_ALL", false),
			ReplyChance:      getEnvFloat("BOT_REPLY_CHANCE", 0.3),
			InteractionDelay: getEnvDuration("BOT_INTERACTION_DELAY", 15*time.Second),

			MaxReplyDepth:    getEnvInt("BOT_MAX_REPLY_DEPTH", 3),
			TrackReplyChains: getEnvBool("BOT_TRACK_REPLY_CHAINS", true),
			ReplyToReplies:   getEnvBool("BOT_REPLY_TO_REPLIES", true),

			Topics:  splitList(getEnv("BOT_TOPICS", ""), "|"),
			Persona: getEnv("BOT_PERSONA", ""),
		},
		Gate: GateConfig{
			MaxAttempts: getEnvInt("BOT_GATE_MAX_ATTEMPTS", 3),
			BaseBackoff: getEnvDuration("BOT_GATE_BASE_BACKOFF", 2*time.Second),
			MaxBackoff:  getEnvDuration("BOT_GATE_MAX_BACKOFF", 60*time.Second),
		},
	}

	interactions, err := model.ParseInteractionTypes(getEnv("BOT_INTERACTIONS", "like,retweet,reply"))
	if err != nil {
		return Config{}, fmt.Errorf("BOT_INTERACTIONS: %w", err)
	}
	cfg.Bot.Interactions = interactions

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) validate() error {
	if c.Twitter.BearerToken == "" {
		return fmt.Errorf("TWITTER_BEARER_TOKEN is required")
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required")
	}

	if c.Bot.ReplyChance < 0 || c.Bot.ReplyChance > 1 {
		return fmt.Errorf("BOT_REPLY_CHANCE must be within [0, 1], got %v", c.Bot.ReplyChance)
	}
	if c.Bot.MaxReplyDepth < 1 {
		return fmt.Errorf("BOT_MAX_REPLY_DEPTH must be at least 1, got %d", c.Bot.MaxReplyDepth)
	}

	if c.Bot.InteractWithPopular {
		switch c.Bot.SearchMode {
		case SearchModeAccount:
			if c.Bot.TargetAccount == "" {
				return fmt.Errorf("BOT_TARGET_ACCOUNT is required in account search mode")
			}
		case SearchModeKeyword:
			if len(c.Bot.Keywords) == 0 {
				return fmt.Errorf("BOT_KEYWORDS is required in keyword search mode")
			}
		default:
			return fmt.Errorf("unknown BOT_SEARCH_MODE %q", c.Bot.SearchMode)
		}
	}

	switch c.State.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.State.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for the redis state backend")
		}
	case BackendPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres state backend")
		}
	default:
		return fmt.Errorf("unknown BOT_STATE_BACKEND %q", c.State.Backend)
	}

	return nil
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

// OpsServerEnabled reports whether the HTTP ops surface should be started.
func (c Config) OpsServerEnabled() bool {
	return c.Port != "" && c.Port != "0"
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "info":
		return slog.LevelInfo
	}
	// Unset: debug in development is the useful default; Setup only sees
	// the resolved level, so decide here.
	if getEnv("BOT_ENV", "development") == "development" {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt32(key string, fallback int32) int32 {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(i)
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	return splitList(getEnv(key, ""), ",")
}

func splitList(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, sep) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
