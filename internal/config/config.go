// Package config loads relay settings from the environment, optionally seeded
// from a .env file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	envDevelopment = "development"

	openAIKeyName  = "openai-api-key"
	infobipKeyName = "infobip-api-key"
)

// Config holds every tunable the relay reads at startup.
type Config struct {
	Port     int
	LogLevel slog.Level
	AppEnv   string

	// ParamPrefix selects SSM Parameter Store for secrets when set;
	// otherwise secrets come from the environment.
	ParamPrefix string

	OpenAIBaseURL string
	OpenAIModel   string
	OpenAITimeout time.Duration

	InfobipBaseURL string
	WhatsAppSender string
	// InfobipNotifyURL is sent with each outbound message so Infobip posts
	// delivery reports back, normally to /webhook/delivery.
	InfobipNotifyURL string

	SystemPromptFile string

	HistoryCap      int
	ContextWindow   int
	ConversationTTL time.Duration
	DedupTTL        time.Duration
	SweepInterval   time.Duration

	TranscriptTable string

	// AdminToken guards the conversation and sweep routes. Empty leaves
	// them unmounted.
	AdminToken string
}

// Load reads .env files (default ".env", silently skipped when absent) and
// then the process environment. Variables already set in the environment win
// over file values.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", f, err)
		}
	}

	cfg := &Config{
		Port:            3000,
		LogLevel:        slog.LevelInfo,
		AppEnv:          "production",
		OpenAIModel:     "gpt-4",
		OpenAITimeout:   30 * time.Second,
		InfobipBaseURL:  "https://api.infobip.com",
		HistoryCap:      20,
		ContextWindow:   10,
		ConversationTTL: 24 * time.Hour,
		DedupTTL:        24 * time.Hour,
		SweepInterval:   10 * time.Minute,
	}

	var errs []error
	cfg.Port = envInt("PORT", cfg.Port, &errs)
	cfg.HistoryCap = envInt("HISTORY_CAP", cfg.HistoryCap, &errs)
	cfg.ContextWindow = envInt("CONTEXT_WINDOW", cfg.ContextWindow, &errs)
	cfg.OpenAITimeout = envDuration("OPENAI_TIMEOUT", cfg.OpenAITimeout, &errs)
	cfg.ConversationTTL = envDuration("CONVERSATION_TTL", cfg.ConversationTTL, &errs)
	cfg.DedupTTL = envDuration("DEDUP_TTL", cfg.DedupTTL, &errs)
	cfg.SweepInterval = envDuration("SWEEP_INTERVAL", cfg.SweepInterval, &errs)

	if v := env("LOG_LEVEL"); v != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
		}
	}
	if v := env("APP_ENV"); v != "" {
		cfg.AppEnv = strings.ToLower(v)
	}
	if v := env("OPENAI_MODEL"); v != "" {
		cfg.OpenAIModel = v
	}
	if v := env("INFOBIP_BASE_URL"); v != "" {
		cfg.InfobipBaseURL = v
	}
	cfg.ParamPrefix = strings.TrimRight(env("PARAM_PREFIX"), "/")
	cfg.OpenAIBaseURL = env("OPENAI_BASE_URL")
	cfg.WhatsAppSender = env("WHATSAPP_SENDER")
	cfg.SystemPromptFile = env("SYSTEM_PROMPT_FILE")
	cfg.TranscriptTable = env("TRANSCRIPT_TABLE")
	cfg.InfobipNotifyURL = env("INFOBIP_NOTIFY_URL")
	cfg.AdminToken = env("ADMIN_TOKEN")

	if len(errs) > 0 {
		return nil, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d out of range", c.Port))
	}
	if c.HistoryCap <= 0 {
		errs = append(errs, errors.New("HISTORY_CAP must be positive"))
	}
	if c.ContextWindow <= 0 {
		errs = append(errs, errors.New("CONTEXT_WINDOW must be positive"))
	}
	if c.ContextWindow > c.HistoryCap {
		errs = append(errs, fmt.Errorf("CONTEXT_WINDOW %d exceeds HISTORY_CAP %d", c.ContextWindow, c.HistoryCap))
	}
	for name, d := range map[string]time.Duration{
		"OPENAI_TIMEOUT":   c.OpenAITimeout,
		"CONVERSATION_TTL": c.ConversationTTL,
		"DEDUP_TTL":        c.DedupTTL,
		"SWEEP_INTERVAL":   c.SweepInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Strict reports whether internal defects should panic instead of being
// logged.
func (c *Config) Strict() bool {
	return c.AppEnv == envDevelopment
}

// UseSSM reports whether secrets are read from Parameter Store.
func (c *Config) UseSSM() bool {
	return c.ParamPrefix != ""
}

// OpenAIKeyParam is the parameter name holding the completion API key.
func (c *Config) OpenAIKeyParam() string {
	return c.paramName(openAIKeyName)
}

// InfobipKeyParam is the parameter name holding the messaging API key.
func (c *Config) InfobipKeyParam() string {
	return c.paramName(infobipKeyName)
}

func (c *Config) paramName(name string) string {
	if c.ParamPrefix == "" {
		return name
	}
	return c.ParamPrefix + "/" + name
}

// Persona returns the persona override from SystemPromptFile, or "" when no
// file is configured.
func (c *Config) Persona() (string, error) {
	if c.SystemPromptFile == "" {
		return "", nil
	}
	b, err := os.ReadFile(c.SystemPromptFile)
	if err != nil {
		return "", fmt.Errorf("config: read system prompt: %w", err)
	}
	persona := strings.TrimSpace(string(b))
	if persona == "" {
		return "", fmt.Errorf("config: system prompt file %s is empty", c.SystemPromptFile)
	}
	return persona, nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func envInt(key string, def int, errs *[]error) int {
	v := env(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return def
	}
	return n
}

func envDuration(key string, def time.Duration, errs *[]error) time.Duration {
	v := env(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid duration %q", key, v))
		return def
	}
	return d
}
