package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

// RedisConfig holds the shared counter store connection details.
type RedisConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	Namespace string `yaml:"namespace"`
}

// Addr returns the host:port dial address.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// AuditConfig holds the durable audit trail database settings.
type AuditConfig struct {
	Type string `yaml:"type"`
	DSN  string `yaml:"dsn"`
	// RetentionDays bounds how long audit rows are kept.
	RetentionDays int `yaml:"retention_days"`
}

// AuthConfig controls credential validation. Durations are configured as
// integer units and resolved into the derived fields at load time.
type AuthConfig struct {
	TokenSecret      string `yaml:"token_secret"`
	TokenExpiryHours int    `yaml:"token_expiry_hours"`
	EnableAPIKeys    bool   `yaml:"enable_api_keys"`
	EnableBearer     bool   `yaml:"enable_bearer"`

	TokenExpiry time.Duration `yaml:"-"`
}

// RateLimitConfig is the global default quota applied when a key carries no
// override.
type RateLimitConfig struct {
	WindowSeconds int `yaml:"window_seconds"`
	MaxRequests   int `yaml:"max_requests"`

	Window time.Duration `yaml:"-"`
}

// ThreatConfig tunes the detector chain.
type ThreatConfig struct {
	AllowListMode             bool     `yaml:"allow_list_mode"`
	FloodCeiling              int      `yaml:"flood_ceiling"`
	FloodBanMinutes           int      `yaml:"flood_ban_minutes"`
	BruteForceLimit           int      `yaml:"brute_force_limit"`
	BruteForceWindowMinutes   int      `yaml:"brute_force_window_minutes"`
	SignatureToleranceSeconds int      `yaml:"signature_tolerance_seconds"`
	CustomPatterns            []string `yaml:"custom_patterns"`
	IntelTTLMinutes           int      `yaml:"intel_ttl_minutes"`

	FloodBanDuration   time.Duration `yaml:"-"`
	BruteForceWindow   time.Duration `yaml:"-"`
	SignatureTolerance time.Duration `yaml:"-"`
	IntelTTL           time.Duration `yaml:"-"`
}

// MonitoringConfig holds observability toggles.
type MonitoringConfig struct {
	EnableMetrics        bool `yaml:"enable_metrics"`
	EnableRequestLogging bool `yaml:"enable_request_logging"`
	SlowRequestMillis    int  `yaml:"slow_request_ms"`

	SlowRequestThreshold time.Duration `yaml:"-"`
}

// CORSConfig holds the CORS toggle and allowed origins.
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// AdminConfig protects the administrative API.
type AdminConfig struct {
	Password string `yaml:"password"`
}

// SecretsConfig configures the at-rest metadata cipher. The key must be 32
// bytes, hex encoded (64 chars); empty disables encryption.
type SecretsConfig struct {
	MetadataKey string `yaml:"metadata_key"`
}

// Config is the full gateway configuration.
type Config struct {
	Redis      RedisConfig      `yaml:"redis"`
	Audit      AuditConfig      `yaml:"audit"`
	Auth       AuthConfig       `yaml:"auth"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Threat     ThreatConfig     `yaml:"threat"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	CORS       CORSConfig       `yaml:"cors"`
	Admin      AdminConfig      `yaml:"admin"`
	Secrets    SecretsConfig    `yaml:"secrets"`
	Port       int              `yaml:"port"`
	Debug      bool             `yaml:"debug"`
}

// LoadConfig reads and parses the configuration file. It returns the config
// and a potential warning message about applied defaults.
var LoadConfig = func(path string) (*Config, string, error) {
	var config Config
	var warning string

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, "", fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, "", fmt.Errorf("failed to read config file: %w", err)
	}
	// If the file does not exist we continue with an empty config and rely
	// on environment variables.

	applyDefaults(&config, &warning)
	applyEnvOverrides(&config)

	if config.Auth.EnableBearer && config.Auth.TokenSecret == "" {
		return nil, "", fmt.Errorf("auth.token_secret must be configured when bearer auth is enabled")
	}
	if config.Admin.Password == "" {
		return nil, "", fmt.Errorf("admin.password must be configured in config.yaml or via FLEETGATE_ADMIN_PASSWORD")
	}

	return &config, warning, nil
}

func applyDefaults(c *Config, warning *string) {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.Redis.Host == "" {
		c.Redis.Host = "localhost"
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}
	if c.Redis.Namespace == "" {
		c.Redis.Namespace = "fleetgate"
	}
	if c.Audit.Type == "" {
		c.Audit.Type = "sqlite"
		c.Audit.DSN = "fleetgate-audit.db"
	}
	if c.Audit.RetentionDays == 0 {
		c.Audit.RetentionDays = 90
	}
	if c.RateLimit.WindowSeconds == 0 {
		c.RateLimit.WindowSeconds = 60
	}
	if c.RateLimit.MaxRequests == 0 {
		c.RateLimit.MaxRequests = 1000
		*warning = "rate_limit.max_requests not set, using default value of 1000"
	}
	if c.Auth.TokenExpiryHours == 0 {
		c.Auth.TokenExpiryHours = 24
	}
	if !c.Auth.EnableAPIKeys && !c.Auth.EnableBearer {
		c.Auth.EnableAPIKeys = true
	}
	if c.Threat.FloodCeiling == 0 {
		c.Threat.FloodCeiling = 300
	}
	if c.Threat.FloodBanMinutes == 0 {
		c.Threat.FloodBanMinutes = 10
	}
	if c.Threat.BruteForceLimit == 0 {
		c.Threat.BruteForceLimit = 5
	}
	if c.Threat.BruteForceWindowMinutes == 0 {
		c.Threat.BruteForceWindowMinutes = 15
	}
	if c.Threat.SignatureToleranceSeconds == 0 {
		c.Threat.SignatureToleranceSeconds = 300
	}
	if c.Threat.IntelTTLMinutes == 0 {
		c.Threat.IntelTTLMinutes = 60
	}
	if c.Monitoring.SlowRequestMillis == 0 {
		c.Monitoring.SlowRequestMillis = 2000
	}

	c.RateLimit.Window = time.Duration(c.RateLimit.WindowSeconds) * time.Second
	c.Auth.TokenExpiry = time.Duration(c.Auth.TokenExpiryHours) * time.Hour
	c.Threat.FloodBanDuration = time.Duration(c.Threat.FloodBanMinutes) * time.Minute
	c.Threat.BruteForceWindow = time.Duration(c.Threat.BruteForceWindowMinutes) * time.Minute
	c.Threat.SignatureTolerance = time.Duration(c.Threat.SignatureToleranceSeconds) * time.Second
	c.Threat.IntelTTL = time.Duration(c.Threat.IntelTTLMinutes) * time.Minute
	c.Monitoring.SlowRequestThreshold = time.Duration(c.Monitoring.SlowRequestMillis) * time.Millisecond
}

func applyEnvOverrides(c *Config) {
	if host := os.Getenv("FLEETGATE_REDIS_HOST"); host != "" {
		c.Redis.Host = host
	}
	if port := os.Getenv("FLEETGATE_REDIS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Redis.Port = p
		}
	}
	if password := os.Getenv("FLEETGATE_REDIS_PASSWORD"); password != "" {
		c.Redis.Password = password
	}
	if dsn := os.Getenv("FLEETGATE_AUDIT_DSN"); dsn != "" {
		c.Audit.DSN = dsn
	}
	if dbType := os.Getenv("FLEETGATE_AUDIT_TYPE"); dbType != "" {
		c.Audit.Type = dbType
	}
	if secret := os.Getenv("FLEETGATE_TOKEN_SECRET"); secret != "" {
		c.Auth.TokenSecret = secret
	}
	if password := os.Getenv("FLEETGATE_ADMIN_PASSWORD"); password != "" {
		c.Admin.Password = password
	}
	if port := os.Getenv("FLEETGATE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Port = p
		}
	}
	if debug := os.Getenv("FLEETGATE_DEBUG"); debug != "" {
		c.Debug = debug == "true"
	}
}
