package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

const (
	sandboxBaseURL    = "https://sandbox.asaas.com/api/v3"
	productionBaseURL = "https://api.asaas.com/v3"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseDSN        string
	RedisURL           string
	CORSAllowedOrigins []string

	// Asaas gateway settings.
	AsaasAPIKey       string
	AsaasEnv          string
	AsaasBaseURL      string
	AsaasWebhookToken string

	// PaymentDeadline is the single due-date offset applied to every
	// payment created through the orchestrator.
	PaymentDeadline time.Duration

	// PIX QR code polling. The provider generates the QR code
	// asynchronously, so the first fetch may legitimately miss.
	QRPollAttempts int
	QRPollBackoff  time.Duration

	GatewayTimeout     time.Duration
	GatewayMaxAttempts int

	MembershipAPIURL string
	IdempotencyTTL   time.Duration
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseDSN:        strings.TrimSpace(k.String("DATABASE_DSN")),
		RedisURL:           strings.TrimSpace(k.String("REDIS_URL")),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		AsaasAPIKey:        strings.TrimSpace(k.String("ASAAS_API_KEY")),
		AsaasEnv:           valueOrDefault(strings.ToLower(strings.TrimSpace(k.String("ASAAS_ENV"))), "sandbox"),
		AsaasBaseURL:       strings.TrimSpace(k.String("ASAAS_BASE_URL")),
		AsaasWebhookToken:  strings.TrimSpace(k.String("ASAAS_WEBHOOK_TOKEN")),
		PaymentDeadline:    parseDuration(k.String("PAYMENT_DEADLINE"), "24h"),
		QRPollAttempts:     intOrDefault(k.Int("QR_POLL_ATTEMPTS"), 3),
		QRPollBackoff:      parseDuration(k.String("QR_POLL_BACKOFF"), "1s"),
		GatewayTimeout:     parseDuration(k.String("GATEWAY_TIMEOUT"), "10s"),
		GatewayMaxAttempts: intOrDefault(k.Int("GATEWAY_MAX_ATTEMPTS"), 1),
		MembershipAPIURL:   strings.TrimSpace(k.String("MEMBERSHIP_API_URL")),
		IdempotencyTTL:     parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
	}

	if cfg.AsaasBaseURL == "" {
		switch cfg.AsaasEnv {
		case "production", "prod":
			cfg.AsaasBaseURL = productionBaseURL
		case "sandbox":
			cfg.AsaasBaseURL = sandboxBaseURL
		default:
			return nil, fmt.Errorf("unknown ASAAS_ENV %q", cfg.AsaasEnv)
		}
	}

	if cfg.DatabaseDSN == "" {
		return nil, errors.New("DATABASE_DSN is required")
	}
	if cfg.AsaasAPIKey == "" {
		return nil, errors.New("ASAAS_API_KEY is required")
	}
	if cfg.AsaasWebhookToken == "" {
		return nil, errors.New("ASAAS_WEBHOOK_TOKEN is required")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func intOrDefault(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

// MustLoad behaves like Load but panics on error. Useful for command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
