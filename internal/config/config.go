package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StoreDynamoDB = "dynamodb"
	StorePostgres = "postgres"
)

// Config is read once at start-up. Keys map to upper-case environment
// variables of the same name, e.g. state_table <- STATE_TABLE.
type Config struct {
	Store       string `mapstructure:"store"`
	StateTable  string `mapstructure:"state_table"`
	ParamPrefix string `mapstructure:"param_prefix"`
	DatabaseURL string `mapstructure:"database_url"`
	Port        int    `mapstructure:"port"`

	LLMBaseURL string        `mapstructure:"llm_base_url"`
	LLMModel   string        `mapstructure:"llm_model"`
	LLMTimeout time.Duration `mapstructure:"llm_timeout"`
	LLMAPIKey  string        `mapstructure:"llm_api_key"`

	JWTSecret      string        `mapstructure:"jwt_secret"`
	SecretCacheTTL time.Duration `mapstructure:"secret_cache_ttl"`
	TokenTTL       time.Duration `mapstructure:"token_ttl"`

	AnalyzePrompt string `mapstructure:"analyze_prompt"`
	ConsultPrompt string `mapstructure:"consult_prompt"`
	MaxMessages   int    `mapstructure:"max_messages"`

	GoogleUserInfoURL string `mapstructure:"google_userinfo_url"`
	LogLevel          string `mapstructure:"log_level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store", StoreDynamoDB)
	v.SetDefault("state_table", "")
	v.SetDefault("param_prefix", "")
	v.SetDefault("database_url", "")
	v.SetDefault("port", 8080)

	v.SetDefault("llm_base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("llm_model", "llama-3.3-70b-versatile")
	v.SetDefault("llm_timeout", "30s")
	v.SetDefault("llm_api_key", "")

	v.SetDefault("jwt_secret", "")
	v.SetDefault("secret_cache_ttl", "5m")
	v.SetDefault("token_ttl", "1h")

	v.SetDefault("analyze_prompt", "general")
	v.SetDefault("consult_prompt", "consultation")
	v.SetDefault("max_messages", 50)

	v.SetDefault("google_userinfo_url", "https://www.googleapis.com/oauth2/v3/userinfo")
	v.SetDefault("log_level", "info")
}

// Load reads configuration from the environment and, when present, a
// config.yaml in the working directory or at configPath. Environment values
// win over the file.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	setDefaults(v)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))
	return &cfg, nil
}

// Validate checks the keys the selected store and secret sources depend on.
func (c *Config) Validate() error {
	var missing []string
	switch c.Store {
	case StoreDynamoDB:
		if c.StateTable == "" {
			missing = append(missing, "STATE_TABLE")
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	default:
		return fmt.Errorf("config: unknown STORE %q (want %s or %s)", c.Store, StoreDynamoDB, StorePostgres)
	}
	if c.NeedsParamStore() && c.ParamPrefix == "" {
		missing = append(missing, "PARAM_PREFIX")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: required keys not set: %s", strings.Join(missing, ", "))
	}
	if c.LLMTimeout <= 0 || c.TokenTTL <= 0 || c.SecretCacheTTL <= 0 {
		return errors.New("config: LLM_TIMEOUT, TOKEN_TTL and SECRET_CACHE_TTL must be positive")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid PORT %d", c.Port)
	}
	return nil
}

// NeedsParamStore reports whether any secret has to come from SSM.
func (c *Config) NeedsParamStore() bool {
	return c.LLMAPIKey == "" || c.JWTSecret == ""
}

// SlogLevel maps LOG_LEVEL onto a slog level; unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return slog.LevelInfo
	}
	return l
}
