// Package config loads service settings from an optional YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/truthtag/truthtag/pkg/ledger"
	"github.com/truthtag/truthtag/pkg/observability"
)

// FileEnv names the environment variable that points at a YAML config file.
const FileEnv = "TRUTHTAG_CONFIG"

// Config holds server configuration.
type Config struct {
	Port           string `yaml:"port"`
	HealthPort     string `yaml:"health_port"`
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"` // "text" or "json"
	DataDir        string `yaml:"data_dir"`
	DatabaseURL    string `yaml:"database_url"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`

	Analysis  AnalysisConfig       `yaml:"analysis"`
	Ledger    LedgerConfig         `yaml:"ledger"`
	Auth      AuthConfig           `yaml:"auth"`
	RateLimit RateLimitConfig      `yaml:"rate_limit"`
	Telemetry observability.Config `yaml:"telemetry"`
}

// AnalysisConfig points at the classification service.
type AnalysisConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// LedgerConfig embeds the connection settings plus the commit budget.
type LedgerConfig struct {
	ledger.Config `yaml:",inline"`
	CommitTimeout time.Duration `yaml:"commit_timeout"`
}

// AuthConfig controls token issuance and the bearer gate on /verify.
type AuthConfig struct {
	JWTSecret   string        `yaml:"jwt_secret"`
	TokenTTL    time.Duration `yaml:"token_ttl"`
	Required    bool          `yaml:"required"`
	CORSOrigins []string      `yaml:"cors_origins"`
}

// RateLimitConfig bounds requests per client. RPM 0 disables limiting.
type RateLimitConfig struct {
	RPM       int    `yaml:"rpm"`
	Burst     int    `yaml:"burst"`
	RedisAddr string `yaml:"redis_addr"`
}

// Default returns the built-in defaults.
func Default() *Config {
	tel := observability.DefaultConfig()
	return &Config{
		Port:           "3000",
		HealthPort:     "3001",
		LogLevel:       "INFO",
		LogFormat:      "text",
		DataDir:        "data",
		MaxUploadBytes: 10 << 20,
		Analysis: AnalysisConfig{
			URL:     "http://127.0.0.1:8000/analyze",
			Timeout: 30 * time.Second,
		},
		Ledger: LedgerConfig{
			Config:        ledger.Config{InitTimeout: ledger.DefaultInitTimeout},
			CommitTimeout: 60 * time.Second,
		},
		Auth: AuthConfig{
			TokenTTL: 7 * 24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			RPM:   0,
			Burst: 10,
		},
		Telemetry: *tel,
	}
}

// Load builds the configuration: defaults, then the file named by
// TRUTHTAG_CONFIG (if set), then environment variables.
func Load() (*Config, error) {
	return LoadFile(os.Getenv(FileEnv))
}

// LoadFile is Load with an explicit file path. An empty path skips the file.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %q: %w", path, err)
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	var errs []error

	setString(&cfg.Port, "PORT")
	setString(&cfg.HealthPort, "HEALTH_PORT")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.LogFormat, "LOG_FORMAT")
	setString(&cfg.DataDir, "DATA_DIR")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	errs = append(errs, setInt64(&cfg.MaxUploadBytes, "MAX_UPLOAD_BYTES"))

	setString(&cfg.Analysis.URL, "ML_API_URL")
	errs = append(errs, setDuration(&cfg.Analysis.Timeout, "ANALYSIS_TIMEOUT"))

	setString(&cfg.Ledger.RPCURL, "RPC_URL")
	setString(&cfg.Ledger.PrivateKey, "PRIVATE_KEY")
	setString(&cfg.Ledger.ContractAddress, "CONTRACT_ADDRESS")
	errs = append(errs,
		setInt(&cfg.Ledger.MaxInflight, "LEDGER_MAX_INFLIGHT"),
		setDuration(&cfg.Ledger.InitTimeout, "LEDGER_INIT_TIMEOUT"),
		setDuration(&cfg.Ledger.CommitTimeout, "COMMIT_TIMEOUT"),
	)

	setString(&cfg.Auth.JWTSecret, "JWT_SECRET")
	errs = append(errs,
		setDuration(&cfg.Auth.TokenTTL, "JWT_EXPIRY"),
		setBool(&cfg.Auth.Required, "AUTH_REQUIRED"),
	)
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.Auth.CORSOrigins = splitList(origins)
	}

	errs = append(errs,
		setInt(&cfg.RateLimit.RPM, "RATE_LIMIT_RPM"),
		setInt(&cfg.RateLimit.Burst, "RATE_LIMIT_BURST"),
	)
	setString(&cfg.RateLimit.RedisAddr, "REDIS_ADDR")

	setString(&cfg.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.Telemetry.Environment, "ENVIRONMENT")
	errs = append(errs,
		setBool(&cfg.Telemetry.Enabled, "OTEL_ENABLED"),
		setBool(&cfg.Telemetry.Insecure, "OTEL_INSECURE"),
	)

	return errors.Join(errs...)
}

// LedgerConfigured reports whether live ledger mode will be used.
func (c *Config) LedgerConfigured() bool {
	return c.Ledger.Configured()
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: invalid integer %q", key, v)
	}
	*dst = n
	return nil
}

func setInt64(dst *int64, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("%s: invalid integer %q", key, v)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: invalid boolean %q", key, v)
	}
	*dst = b
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

// ParseDuration accepts Go durations ("45s"), a day count ("7d") or a bare
// number of milliseconds.
func ParseDuration(v string) (time.Duration, error) {
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	if days, ok := strings.CutSuffix(v, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid duration %q", v)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	return d, nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
