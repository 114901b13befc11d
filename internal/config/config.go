// Package config loads and validates client config from the environment, an optional .env file,
// and an optional config file using Viper.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Token store backends.
const (
	TokenStoreFile   = "file"
	TokenStoreSQLite = "sqlite"
)

// Payment strategies.
const (
	PaymentManual  = "manual"
	PaymentGateway = "gateway"
)

// Config holds client configuration loaded from the environment.
type Config struct {
	// APIBaseURL is the EventSphere REST API root (e.g. http://127.0.0.1:8000/api).
	APIBaseURL string `mapstructure:"API_BASE_URL"`
	// StateDir holds the token store, the local state database and rendered tickets.
	StateDir string `mapstructure:"STATE_DIR"`
	// TokenStore selects where the session is persisted: "file" or "sqlite".
	TokenStore string `mapstructure:"TOKEN_STORE"`
	// TokenStorePassphrase, when set, seals the file token store with a key derived from it.
	TokenStorePassphrase string `mapstructure:"TOKEN_STORE_PASSPHRASE"`
	// PaymentStrategy selects how paid registrations are settled: "manual" (reference entry) or "gateway" (checkout order).
	PaymentStrategy string `mapstructure:"PAYMENT_STRATEGY"`
	// HTTPTimeout bounds every outbound API call (e.g. "15s").
	HTTPTimeout string `mapstructure:"HTTP_TIMEOUT"`
	// RateLimitRPS throttles outbound requests; 0 disables the limiter.
	RateLimitRPS float64 `mapstructure:"RATE_LIMIT_RPS"`
	// RateLimitBurst is the limiter bucket size; used only when RateLimitRPS > 0.
	RateLimitBurst int `mapstructure:"RATE_LIMIT_BURST"`
	// ScanDedupWindow ignores a repeated QR token within this window (e.g. "3s").
	ScanDedupWindow string `mapstructure:"SCAN_DEDUP_WINDOW"`

	// OTLPEndpoint is the OTLP gRPC collector endpoint; empty disables export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext even for https endpoints.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// ServiceName is reported as service.name on telemetry.
	ServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present) and the file named by EVENTSPHERE_CONFIG (if set), then builds and
// validates Config from the environment via Viper. Env vars override both files.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	if path := strings.TrimSpace(os.Getenv("EVENTSPHERE_CONFIG")); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType(configType(path))
		if err := v.MergeInConfig(); err != nil {
			return nil, err
		}
	}

	v.AutomaticEnv()

	v.SetDefault("API_BASE_URL", "http://127.0.0.1:8000/api")
	v.SetDefault("STATE_DIR", defaultStateDir())
	v.SetDefault("TOKEN_STORE", TokenStoreFile)
	v.SetDefault("TOKEN_STORE_PASSPHRASE", "")
	v.SetDefault("PAYMENT_STRATEGY", PaymentManual)
	v.SetDefault("HTTP_TIMEOUT", "15s")
	v.SetDefault("RATE_LIMIT_RPS", 0)
	v.SetDefault("RATE_LIMIT_BURST", 5)
	v.SetDefault("SCAN_DEDUP_WINDOW", "3s")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "eventsphere-cli")
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	if cfg.APIBaseURL == "" {
		return nil, errors.New("config: API_BASE_URL must be set")
	}
	if !strings.HasPrefix(cfg.APIBaseURL, "http://") && !strings.HasPrefix(cfg.APIBaseURL, "https://") {
		return nil, errors.New("config: API_BASE_URL must be an http(s) URL")
	}
	if cfg.Env == "production" && strings.HasPrefix(cfg.APIBaseURL, "http://") {
		return nil, errors.New("config: API_BASE_URL must use https when APP_ENV=production")
	}

	cfg.TokenStore = strings.ToLower(strings.TrimSpace(cfg.TokenStore))
	if cfg.TokenStore != TokenStoreFile && cfg.TokenStore != TokenStoreSQLite {
		return nil, errors.New("config: TOKEN_STORE must be file or sqlite")
	}
	cfg.PaymentStrategy = strings.ToLower(strings.TrimSpace(cfg.PaymentStrategy))
	if cfg.PaymentStrategy != PaymentManual && cfg.PaymentStrategy != PaymentGateway {
		return nil, errors.New("config: PAYMENT_STRATEGY must be manual or gateway")
	}
	if cfg.StateDir == "" {
		return nil, errors.New("config: STATE_DIR must be set")
	}
	if cfg.RateLimitRPS < 0 {
		return nil, errors.New("config: RATE_LIMIT_RPS must not be negative")
	}
	if cfg.RateLimitRPS > 0 && cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 1
	}

	return &cfg, nil
}

// Timeout parses HTTPTimeout as a time.Duration. Returns 15s if unset or invalid.
func (c *Config) Timeout() time.Duration {
	d, err := time.ParseDuration(c.HTTPTimeout)
	if err != nil || d <= 0 {
		return 15 * time.Second
	}
	return d
}

// DedupWindow parses ScanDedupWindow as a time.Duration. Returns 3s if unset or invalid;
// "0s" disables de-duplication.
func (c *Config) DedupWindow() time.Duration {
	d, err := time.ParseDuration(c.ScanDedupWindow)
	if err != nil || d < 0 {
		return 3 * time.Second
	}
	return d
}

// SessionFilePath is the location of the file token store.
func (c *Config) SessionFilePath() string {
	return filepath.Join(c.StateDir, "session.json")
}

// DatabasePath is the location of the local SQLite state database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.StateDir, "eventsphere.db")
}

// TicketDir is where rendered PNG tickets are written.
func (c *Config) TicketDir() string {
	return filepath.Join(c.StateDir, "tickets")
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".eventsphere"
	}
	return filepath.Join(home, ".eventsphere")
}

func configType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".json":
		return "json"
	case ".toml":
		return "toml"
	default:
		return "env"
	}
}
