package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"

	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	DefaultGeminiModel = "gemini-2.5-flash"
	DefaultOpenAIModel = "gpt-4o-mini"
	DefaultLLMTimeout  = 30 * time.Second

	DefaultLanguage     = "ar"
	DefaultAffiliateTag = "chop07c-20"
	DefaultDeveloper    = "SAID_BEN_01"

	// volumeDir is where Railway mounts persistent volumes.
	volumeDir = "/app/data"
)

type Config struct {
	TelegramBotToken string `env:"TELEGRAM_TOKEN" validate:"required"`

	LLMProvider string        `env:"LLM_PROVIDER" validate:"oneof=gemini openai"`
	LLMToken    string        `env:"LLM_TOKEN"`
	LLMModel    string        `env:"LLM_MODEL"`
	LLMEndpoint string        `env:"LLM_ENDPOINT" validate:"omitempty,url"`
	LLMTimeout  time.Duration `env:"LLM_TIMEOUT" validate:"gt=0"`

	StoreDriver string `env:"STORE_DRIVER" validate:"oneof=sqlite postgres memory"`
	SQLitePath  string `env:"SQLITE_PATH" validate:"required_if=StoreDriver sqlite"`
	PostgreDSN  string `env:"POSTGRES_DSN" validate:"required_if=StoreDriver postgres"`

	DefaultLanguage   string `env:"DEFAULT_LANGUAGE" validate:"oneof=ar en fr"`
	AffiliateTag      string `env:"AFFILIATE_TAG" validate:"required"`
	DeveloperUsername string `env:"DEVELOPER_USERNAME"`

	LogLevel    string `env:"LOG_LEVEL"`
	LogDir      string `env:"LOG_DIR"`
	MetricsAddr string `env:"METRICS_ADDR" validate:"omitempty,hostname_port"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	timeout := DefaultLLMTimeout
	if raw := os.Getenv("LLM_TIMEOUT"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid LLM_TIMEOUT %q: %w", raw, err)
		}
		timeout = parsed
	}

	cfg := &Config{
		TelegramBotToken: os.Getenv("TELEGRAM_TOKEN"),
		LLMProvider:      strings.ToLower(getEnvOrDefault("LLM_PROVIDER", ProviderGemini)),
		LLMToken:         getEnvOrDefault("LLM_TOKEN", os.Getenv("GEMINI_API_KEY")),
		LLMModel:         os.Getenv("LLM_MODEL"),
		LLMEndpoint:      os.Getenv("LLM_ENDPOINT"),
		LLMTimeout:       timeout,

		StoreDriver: strings.ToLower(os.Getenv("STORE_DRIVER")),
		SQLitePath:  getEnvOrDefault("SQLITE_PATH", defaultSQLitePath()),
		PostgreDSN:  os.Getenv("POSTGRES_DSN"),

		DefaultLanguage:   strings.ToLower(getEnvOrDefault("DEFAULT_LANGUAGE", DefaultLanguage)),
		AffiliateTag:      getEnvOrDefault("AFFILIATE_TAG", DefaultAffiliateTag),
		DeveloperUsername: strings.TrimPrefix(getEnvOrDefault("DEVELOPER_USERNAME", DefaultDeveloper), "@"),

		LogLevel:    getEnvOrDefault("LOG_LEVEL", "info"),
		LogDir:      getEnvOrDefault("LOG_DIR", "logs"),
		MetricsAddr: os.Getenv("METRICS_ADDR"),
	}

	if cfg.LLMModel == "" {
		cfg.LLMModel = defaultModel(cfg.LLMProvider)
	}

	if cfg.StoreDriver == "" {
		if cfg.HasDatabaseConfig() {
			cfg.StoreDriver = StorePostgres
		} else {
			cfg.StoreDriver = StoreSQLite
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report failures by environment variable name rather than Go field name.
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		if name := field.Tag.Get("env"); name != "" {
			return name
		}
		return field.Name
	})
	return v
}

func (c *Config) validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	first := fieldErrs[0]
	switch first.Tag() {
	case "required", "required_if":
		return fmt.Errorf("required environment variable %s is not set", first.Field())
	default:
		return fmt.Errorf("environment variable %s has invalid value %q (%s)", first.Field(), first.Value(), first.Tag())
	}
}

// HasLLMConfig reports whether product identification can reach a provider.
func (c *Config) HasLLMConfig() bool {
	return c.LLMProvider != "" && c.LLMToken != "" && c.LLMModel != ""
}

func (c *Config) HasDatabaseConfig() bool {
	return c.PostgreDSN != ""
}

func (c *Config) HasMetrics() bool {
	return c.MetricsAddr != ""
}

func defaultModel(provider string) string {
	if provider == ProviderOpenAI {
		return DefaultOpenAIModel
	}
	return DefaultGeminiModel
}

func defaultSQLitePath() string {
	if info, err := os.Stat(volumeDir); err == nil && info.IsDir() {
		return volumeDir + "/bot_users.db"
	}
	return "bot_users.db"
}

// getEnvOrDefault returns the environment variable value or a default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
