package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/tansive/modhost/internal/modhost/schemavalidator"
)

// Version is the only config file format this build understands.
const Version = "0.1"

// DBConfig holds the PostgreSQL connection settings.
type DBConfig struct {
	Host             string `toml:"host"`
	Port             int    `toml:"port"`
	DBName           string `toml:"dbname"`
	User             string `toml:"user"`
	Password         string `toml:"password"`
	SSLMode          string `toml:"sslmode"`
	MaxOpenConns     int    `toml:"max_open_conns"`
	MaxIdleConns     int    `toml:"max_idle_conns"`
	StatementTimeout string `toml:"statement_timeout"` // e.g. "5s"
}

// AuthConfig controls bearer token verification.
type AuthConfig struct {
	Enabled       bool   `toml:"enabled"`
	PublicKeyFile string `toml:"public_key_file"` // PEM encoded RSA public key of the identity provider realm
	PublicKeyPEM  string `toml:"public_key_pem"`
	Issuer        string `toml:"issuer"`
	Audience      string `toml:"audience"`
	ClockSkew     string `toml:"clock_skew"`
}

// VaultConfig is used when secrets.backend is "vault".
type VaultConfig struct {
	Address    string `toml:"address"`
	Token      string `toml:"token"`
	Mount      string `toml:"mount"`
	MaxRetries int    `toml:"max_retries"`
}

// AWSSecretsConfig is used when secrets.backend is "aws".
type AWSSecretsConfig struct {
	Region string `toml:"region"`
	Prefix string `toml:"prefix"`
}

// SecretsConfig selects and configures the secret broker backend.
type SecretsConfig struct {
	Backend string           `toml:"backend"` // vault, aws or memory
	Vault   VaultConfig      `toml:"vault"`
	AWS     AWSSecretsConfig `toml:"aws"`
}

// RuntimeConfig points at the container runtime.
type RuntimeConfig struct {
	DockerHost string `toml:"docker_host"` // empty means DOCKER_HOST or the default socket
	APIVersion string `toml:"api_version"` // empty means negotiate
	Network    string `toml:"network"`     // network workloads join so they resolve each other by name
}

// InvokerConfig controls how pipeline steps reach module workloads.
type InvokerConfig struct {
	StepTimeout string `toml:"step_timeout"`
}

// RouterConfig configures retrieval and both inference tiers.
type RouterConfig struct {
	LocalURL       string `toml:"local_url"` // Ollama base URL
	LocalModel     string `toml:"local_model"`
	LocalTimeout   string `toml:"local_timeout"`
	CloudURL       string `toml:"cloud_url"` // gateway base URL, the completion lives at {cloud_url}/openai
	CloudAPIKey    string `toml:"cloud_api_key"`
	CloudTimeout   string `toml:"cloud_timeout"`
	ChromaURL      string `toml:"chroma_url"`
	EmbeddingModel string `toml:"embedding_model"`
	TopK           int    `toml:"top_k"`
}

// RateLimitConfig configures the /ask limiter. An empty redis_url disables it.
type RateLimitConfig struct {
	RedisURL          string `toml:"redis_url"`
	RequestsPerMinute int    `toml:"requests_per_minute"`
}

// ConfigParam is the full modhost configuration.
type ConfigParam struct {
	FormatVersion string `toml:"format_version"`

	ServerPort         string   `toml:"server_port"`
	HandleCORS         bool     `toml:"handle_cors"`
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`
	MaxRequestBodySize int64    `toml:"max_request_body_size"`
	RequestTimeout     string   `toml:"request_timeout"`
	LogLevel           string   `toml:"log_level"`
	ConsoleLog         bool     `toml:"console_log"`

	// DefaultTenantID is used when a request carries no tenant header.
	DefaultTenantID string `toml:"default_tenant_id"`

	DB        DBConfig        `toml:"db"`
	Auth      AuthConfig      `toml:"auth"`
	Secrets   SecretsConfig   `toml:"secrets"`
	Runtime   RuntimeConfig   `toml:"runtime"`
	Invoker   InvokerConfig   `toml:"invoker"`
	Router    RouterConfig    `toml:"router"`
	RateLimit RateLimitConfig `toml:"ratelimit"`
}

// DSN returns the key/value connection string for pgx.
func (c *ConfigParam) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.DBName, c.DB.SSLMode)
}

// ParseDuration accepts "<number><unit>" with unit s, m, h or d.
func ParseDuration(input string) (time.Duration, error) {
	if len(input) < 2 {
		return 0, fmt.Errorf("invalid duration %q", input)
	}
	unit := input[len(input)-1:]
	value, err := strconv.Atoi(input[:len(input)-1])
	if err != nil {
		return 0, fmt.Errorf("invalid number: %s", err)
	}
	if value < 0 {
		return 0, fmt.Errorf("negative duration %q", input)
	}
	switch unit {
	case "s":
		return time.Duration(value) * time.Second, nil
	case "m":
		return time.Duration(value) * time.Minute, nil
	case "h":
		return time.Duration(value) * time.Hour, nil
	case "d":
		return time.Duration(value) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown time unit: %s", unit)
	}
}

// MustDuration parses a duration already checked by ValidateConfig.
func MustDuration(input string) time.Duration {
	d, err := ParseDuration(input)
	if err != nil {
		panic(fmt.Sprintf("invalid duration %q: %v", input, err))
	}
	return d
}

// ValidateConfig fills defaults and rejects incomplete configurations.
func ValidateConfig(cfg *ConfigParam) error {
	validators := []func(*ConfigParam) error{
		validateConfigFormatVersion,
		validateServerConfig,
		validateTenantConfig,
		validateDBConfig,
		validateAuthConfig,
		validateSecretsConfig,
		validateInvokerConfig,
		validateRouterConfig,
		validateRateLimitConfig,
	}
	for _, v := range validators {
		if err := v(cfg); err != nil {
			return err
		}
	}
	return nil
}

func validateConfigFormatVersion(cfg *ConfigParam) error {
	if cfg.FormatVersion != Version {
		return fmt.Errorf("unsupported config file format version: %s", cfg.FormatVersion)
	}
	return nil
}

func validateServerConfig(cfg *ConfigParam) error {
	if cfg.ServerPort == "" {
		return fmt.Errorf("server_port is required")
	}
	if cfg.MaxRequestBodySize <= 0 {
		cfg.MaxRequestBodySize = 1 << 20
	}
	if cfg.RequestTimeout == "" {
		cfg.RequestTimeout = "60s"
	}
	if _, err := ParseDuration(cfg.RequestTimeout); err != nil {
		return fmt.Errorf("invalid request_timeout: %v", err)
	}
	return nil
}

func validateTenantConfig(cfg *ConfigParam) error {
	if cfg.DefaultTenantID == "" {
		return fmt.Errorf("default_tenant_id is required")
	}
	if strings.ContainsAny(cfg.DefaultTenantID, "/ ") {
		return fmt.Errorf("default_tenant_id must not contain '/' or spaces")
	}
	if !schemavalidator.ValidResourceName(cfg.DefaultTenantID) {
		return fmt.Errorf("default_tenant_id %q is not a valid tenant name", cfg.DefaultTenantID)
	}
	return nil
}

func validateDBConfig(cfg *ConfigParam) error {
	if cfg.DB.Host == "" {
		return fmt.Errorf("db.host is required")
	}
	if cfg.DB.Port <= 0 {
		return fmt.Errorf("db.port must be positive")
	}
	if cfg.DB.DBName == "" {
		return fmt.Errorf("db.dbname is required")
	}
	if cfg.DB.User == "" {
		return fmt.Errorf("db.user is required")
	}
	if cfg.DB.SSLMode == "" {
		cfg.DB.SSLMode = "disable"
	}
	if cfg.DB.MaxOpenConns <= 0 {
		cfg.DB.MaxOpenConns = 50
	}
	if cfg.DB.MaxIdleConns <= 0 {
		cfg.DB.MaxIdleConns = 10
	}
	if cfg.DB.StatementTimeout == "" {
		cfg.DB.StatementTimeout = "5s"
	}
	if _, err := ParseDuration(cfg.DB.StatementTimeout); err != nil {
		return fmt.Errorf("invalid db.statement_timeout: %v", err)
	}
	return nil
}

func validateAuthConfig(cfg *ConfigParam) error {
	if !cfg.Auth.Enabled {
		return nil
	}
	if cfg.Auth.PublicKeyPEM == "" {
		if cfg.Auth.PublicKeyFile == "" {
			return fmt.Errorf("auth.public_key_file or auth.public_key_pem is required when auth is enabled")
		}
		pem, err := os.ReadFile(cfg.Auth.PublicKeyFile)
		if err != nil {
			return fmt.Errorf("error reading auth.public_key_file: %v", err)
		}
		cfg.Auth.PublicKeyPEM = string(pem)
	}
	if cfg.Auth.ClockSkew == "" {
		cfg.Auth.ClockSkew = "30s"
	}
	if _, err := ParseDuration(cfg.Auth.ClockSkew); err != nil {
		return fmt.Errorf("invalid auth.clock_skew: %v", err)
	}
	return nil
}

func validateSecretsConfig(cfg *ConfigParam) error {
	switch cfg.Secrets.Backend {
	case "vault":
		if cfg.Secrets.Vault.Address == "" {
			return fmt.Errorf("secrets.vault.address is required")
		}
		if cfg.Secrets.Vault.Token == "" {
			return fmt.Errorf("secrets.vault.token is required")
		}
		if cfg.Secrets.Vault.Mount == "" {
			cfg.Secrets.Vault.Mount = "secret"
		}
	case "aws":
		if cfg.Secrets.AWS.Prefix == "" {
			cfg.Secrets.AWS.Prefix = "modhost/"
		}
	case "memory":
	case "":
		return fmt.Errorf("secrets.backend is required")
	default:
		return fmt.Errorf("unsupported secrets.backend: %s", cfg.Secrets.Backend)
	}
	return nil
}

func validateInvokerConfig(cfg *ConfigParam) error {
	if cfg.Invoker.StepTimeout == "" {
		cfg.Invoker.StepTimeout = "60s"
	}
	if _, err := ParseDuration(cfg.Invoker.StepTimeout); err != nil {
		return fmt.Errorf("invalid invoker.step_timeout: %v", err)
	}
	return nil
}

func validateRouterConfig(cfg *ConfigParam) error {
	r := &cfg.Router
	if r.LocalURL == "" {
		return fmt.Errorf("router.local_url is required")
	}
	if r.CloudURL == "" {
		return fmt.Errorf("router.cloud_url is required")
	}
	if r.ChromaURL == "" {
		return fmt.Errorf("router.chroma_url is required")
	}
	if r.LocalModel == "" {
		r.LocalModel = "llama3"
	}
	if r.EmbeddingModel == "" {
		r.EmbeddingModel = "nomic-embed-text"
	}
	if r.TopK <= 0 {
		r.TopK = 3
	}
	if r.LocalTimeout == "" {
		r.LocalTimeout = "20s"
	}
	if r.CloudTimeout == "" {
		r.CloudTimeout = "30s"
	}
	if _, err := ParseDuration(r.LocalTimeout); err != nil {
		return fmt.Errorf("invalid router.local_timeout: %v", err)
	}
	if _, err := ParseDuration(r.CloudTimeout); err != nil {
		return fmt.Errorf("invalid router.cloud_timeout: %v", err)
	}
	return nil
}

func validateRateLimitConfig(cfg *ConfigParam) error {
	if cfg.RateLimit.RequestsPerMinute <= 0 {
		cfg.RateLimit.RequestsPerMinute = 5
	}
	return nil
}

// applyEnvOverrides lets deployments keep credentials out of the config file.
func applyEnvOverrides(cfg *ConfigParam) {
	if v := os.Getenv("MODHOST_DB_PASSWORD"); v != "" {
		cfg.DB.Password = v
	}
	if v := os.Getenv("VAULT_TOKEN"); v != "" {
		cfg.Secrets.Vault.Token = v
	}
	if v := os.Getenv("CLOUD_API_KEY"); v != "" {
		cfg.Router.CloudAPIKey = v
	}
	if v := os.Getenv("MODHOST_DEFAULT_TENANT_ID"); v != "" {
		cfg.DefaultTenantID = v
	}
}

// LoadConfig reads, overrides and validates a TOML config file.
func LoadConfig(filename string) (*ConfigParam, error) {
	if filename == "" {
		return nil, fmt.Errorf("config filename is required")
	}
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %v", err)
	}
	return ParseConfig(string(content))
}

// ParseConfig is LoadConfig on an in-memory document.
func ParseConfig(content string) (*ConfigParam, error) {
	cfg := &ConfigParam{}
	if _, err := toml.Decode(content, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %v", err)
	}
	applyEnvOverrides(cfg)
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %v", err)
	}
	return cfg, nil
}
