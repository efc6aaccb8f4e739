// Package config loads process settings from the environment and the
// feature catalog from YAML.
package config

import (
	"fmt"
	"strconv"
	"time"
)

type Config struct {
	Port       string
	DBPath     string
	BaseURL    string
	Secret     string
	AdminToken string
	LogLevel   string
	LogFormat  string
	PolicyFile string

	LLM LLMConfig

	RateLimit      int
	AccessTokenTTL time.Duration

	PostmarkToken string
	FromEmail     string

	StripeSecretKey     string
	StripeWebhookSecret string
}

type LLMConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// FromEnv reads settings through getenv, applying defaults. LTGV_SECRET is
// required; malformed numbers and durations are reported together.
func FromEnv(getenv func(string) string) (*Config, error) {
	var errs []FieldError

	cfg := &Config{
		Port:                envOr(getenv, "LTGV_PORT", "8080"),
		DBPath:              envOr(getenv, "LTGV_DB_PATH", "ltgvault.db"),
		Secret:              getenv("LTGV_SECRET"),
		AdminToken:          getenv("LTGV_ADMIN_TOKEN"),
		LogLevel:            getenv("LTGV_LOG_LEVEL"),
		LogFormat:           getenv("LTGV_LOG_FORMAT"),
		PolicyFile:          getenv("LTGV_POLICY_FILE"),
		PostmarkToken:       getenv("LTGV_POSTMARK_TOKEN"),
		FromEmail:           getenv("LTGV_FROM_EMAIL"),
		StripeSecretKey:     getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: getenv("STRIPE_WEBHOOK_SECRET"),
		LLM: LLMConfig{
			BaseURL: envOr(getenv, "LTGV_LLM_BASE_URL", "https://api.openai.com/v1"),
			APIKey:  getenv("LTGV_LLM_API_KEY"),
			Model:   envOr(getenv, "LTGV_LLM_MODEL", "gpt-4o-mini"),
		},
	}
	cfg.BaseURL = envOr(getenv, "LTGV_BASE_URL", "http://localhost:"+cfg.Port)

	if cfg.Secret == "" {
		errs = append(errs, FieldError{Field: "LTGV_SECRET", Message: "required"})
	}

	var err error
	if cfg.LLM.Timeout, err = durationOr(getenv, "LTGV_LLM_TIMEOUT", 30*time.Second); err != nil {
		errs = append(errs, FieldError{Field: "LTGV_LLM_TIMEOUT", Message: err.Error()})
	}
	if cfg.AccessTokenTTL, err = durationOr(getenv, "LTGV_ACCESS_TOKEN_TTL", 15*time.Minute); err != nil {
		errs = append(errs, FieldError{Field: "LTGV_ACCESS_TOKEN_TTL", Message: err.Error()})
	}

	cfg.RateLimit = 10
	if v := getenv("LTGV_RATE_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			errs = append(errs, FieldError{Field: "LTGV_RATE_LIMIT", Message: fmt.Sprintf("must be a positive integer, got %q", v)})
		} else {
			cfg.RateLimit = n
		}
	}

	if len(errs) > 0 {
		return nil, ValidationError{Errors: errs}
	}
	return cfg, nil
}

func envOr(getenv func(string) string, key, fallback string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationOr(getenv func(string) string, key string, fallback time.Duration) (time.Duration, error) {
	v := getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback, fmt.Errorf("invalid duration %q", v)
	}
	if d <= 0 {
		return fallback, fmt.Errorf("must be positive, got %q", v)
	}
	return d, nil
}
