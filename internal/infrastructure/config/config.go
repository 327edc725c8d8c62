package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Identity store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Secret providers for the JWT signing key.
const (
	SecretProviderEnv           = "env"
	SecretProviderAzureKeyVault = "azure-keyvault"
)

// Config is the root configuration structure for Warden Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site          SiteConfig          `yaml:"site"`
	Database      DatabaseConfig      `yaml:"database"`
	IdentityStore IdentityStoreConfig `yaml:"identity_store"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	API           APIConfig           `yaml:"api"`
	WebSocket     WebSocketConfig     `yaml:"websocket"`
	InfluxDB      InfluxDBConfig      `yaml:"influxdb"`
	Logging       LoggingConfig       `yaml:"logging"`
	Security      SecurityConfig      `yaml:"security"`
	Secrets       SecretsConfig       `yaml:"secrets"`
}

// SiteConfig identifies the building installation this node serves.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// DatabaseConfig contains local SQLite database settings.
// The local database always holds audit logs and the device registry,
// and holds identity data too unless identity_store.driver is "postgres".
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// IdentityStoreConfig selects where accounts, roles, tenants and sessions live.
type IdentityStoreConfig struct {
	Driver          string `yaml:"driver"` // sqlite | postgres
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime"` // minutes
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
	// PublishRate caps security event publishes per second; bursts up to PublishBurst.
	PublishRate  float64 `yaml:"publish_rate"`
	PublishBurst int     `yaml:"publish_burst"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
	// TrustProxy makes the rate limiter key on the first X-Forwarded-For hop.
	TrustProxy bool `yaml:"trust_proxy"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains settings for the security event stream.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains authentication and throttling settings.
type SecurityConfig struct {
	JWT            JWTConfig            `yaml:"jwt"`
	Lockout        LockoutConfig        `yaml:"lockout"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	PasswordPolicy PasswordPolicyConfig `yaml:"password_policy"`
}

// JWTConfig contains JWT token settings. TTLs are in minutes.
type JWTConfig struct {
	Secret          string `yaml:"secret"`
	Issuer          string `yaml:"issuer"`
	AccessTokenTTL  int    `yaml:"access_token_ttl"`
	RefreshTokenTTL int    `yaml:"refresh_token_ttl"`
	RememberMeTTL   int    `yaml:"remember_me_ttl"`
}

// LockoutConfig holds the deployment-wide lockout defaults.
// Tenants may override MaxAttempts and Duration in their own settings.
type LockoutConfig struct {
	MaxAttempts       int `yaml:"max_attempts"`
	Duration          int `yaml:"duration"`            // seconds
	AdminLockDuration int `yaml:"admin_lock_duration"` // hours
}

// RateLimitConfig contains sliding-window rate limiting settings.
type RateLimitConfig struct {
	Enabled  bool `yaml:"enabled"`
	Requests int  `yaml:"requests"`
	Window   int  `yaml:"window"` // seconds
}

// PasswordPolicyConfig is the default policy for tenants that do not set their own.
type PasswordPolicyConfig struct {
	MinLength        int  `yaml:"min_length"`
	RequireUppercase bool `yaml:"require_uppercase"`
	RequireLowercase bool `yaml:"require_lowercase"`
	RequireNumbers   bool `yaml:"require_numbers"`
	RequireSpecial   bool `yaml:"require_special"`
	MaxAgeDays       int  `yaml:"max_age_days"`
}

// SecretsConfig selects where the JWT signing secret is read from.
type SecretsConfig struct {
	Provider      string `yaml:"provider"` // env | azure-keyvault
	VaultURL      string `yaml:"vault_url"`
	JWTSecretName string `yaml:"jwt_secret_name"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: WARDEN_SECTION_KEY
// For example: WARDEN_DATABASE_PATH, WARDEN_API_PORT
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "site-001",
			Name:     "Warden",
			Timezone: "UTC",
		},
		Database: DatabaseConfig{
			Path:        "./data/warden.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		IdentityStore: IdentityStoreConfig{
			Driver:          DriverSQLite,
			MaxOpenConns:    20,
			MaxIdleConns:    10,
			ConnMaxLifetime: 15,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "warden-core",
			},
			QoS:         1,
			TopicPrefix: "warden",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			PublishRate:  20,
			PublishBurst: 50,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				Issuer:          "warden",
				AccessTokenTTL:  30,
				RefreshTokenTTL: 7 * 24 * 60,
				RememberMeTTL:   7 * 24 * 60,
			},
			Lockout: LockoutConfig{
				MaxAttempts:       5,
				Duration:          900,
				AdminLockDuration: 24,
			},
			RateLimit: RateLimitConfig{
				Enabled:  true,
				Requests: 60,
				Window:   60,
			},
			PasswordPolicy: PasswordPolicyConfig{
				MinLength:        8,
				RequireUppercase: true,
				RequireLowercase: true,
				RequireNumbers:   true,
				MaxAgeDays:       90,
			},
		},
		Secrets: SecretsConfig{
			Provider:      SecretProviderEnv,
			JWTSecretName: "WARDEN_JWT_SECRET",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: WARDEN_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("WARDEN_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Identity store
	if v := os.Getenv("WARDEN_IDENTITY_STORE_DRIVER"); v != "" {
		cfg.IdentityStore.Driver = v
	}
	if v := os.Getenv("WARDEN_IDENTITY_STORE_DSN"); v != "" {
		cfg.IdentityStore.DSN = v
	}

	// MQTT
	if v := os.Getenv("WARDEN_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("WARDEN_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("WARDEN_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("WARDEN_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("WARDEN_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("WARDEN_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security - JWT secret (IMPORTANT: always override in production)
	if v := os.Getenv("WARDEN_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}

	// Secrets provider
	if v := os.Getenv("WARDEN_SECRETS_PROVIDER"); v != "" {
		cfg.Secrets.Provider = v
	}
	if v := os.Getenv("WARDEN_SECRETS_VAULT_URL"); v != "" {
		cfg.Secrets.VaultURL = v
	}
}

// minJWTSecretLength is the shortest accepted HS256 signing secret.
const minJWTSecretLength = 32

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error { //nolint:gocognit,gocyclo // flat list of independent field checks
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	switch c.IdentityStore.Driver {
	case DriverSQLite:
	case DriverPostgres:
		if c.IdentityStore.DSN == "" {
			errs = append(errs, "identity_store.dsn is required for the postgres driver")
		}
	default:
		errs = append(errs, "identity_store.driver must be sqlite or postgres")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// The JWT secret protects door stations and alarm panels: a forged token
	// is physical access. Only skip the local check when a vault supplies it.
	switch c.Secrets.Provider {
	case "", SecretProviderEnv:
		if c.Security.JWT.Secret == "" {
			errs = append(errs, "security.jwt.secret is required (set WARDEN_JWT_SECRET environment variable)")
		} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
			errs = append(errs, "security.jwt.secret must be at least 32 characters")
		}
	case SecretProviderAzureKeyVault:
		if c.Secrets.VaultURL == "" {
			errs = append(errs, "secrets.vault_url is required for the azure-keyvault provider")
		}
		if c.Secrets.JWTSecretName == "" {
			errs = append(errs, "secrets.jwt_secret_name is required for the azure-keyvault provider")
		}
	default:
		errs = append(errs, "secrets.provider must be env or azure-keyvault")
	}

	if c.Security.JWT.AccessTokenTTL <= 0 {
		errs = append(errs, "security.jwt.access_token_ttl must be positive")
	}
	if c.Security.JWT.RefreshTokenTTL <= 0 {
		errs = append(errs, "security.jwt.refresh_token_ttl must be positive")
	}

	if c.Security.Lockout.MaxAttempts < 1 {
		errs = append(errs, "security.lockout.max_attempts must be at least 1")
	}
	if c.Security.Lockout.Duration < 1 {
		errs = append(errs, "security.lockout.duration must be at least 1 second")
	}

	if c.Security.RateLimit.Enabled && (c.Security.RateLimit.Requests < 1 || c.Security.RateLimit.Window < 1) {
		errs = append(errs, "security.rate_limit requests and window must be positive when enabled")
	}

	if c.Security.PasswordPolicy.MinLength < 8 { //nolint:mnd // floor for any tenant policy
		errs = append(errs, "security.password_policy.min_length must be at least 8")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// AccessTTL returns the default access token lifetime.
func (j JWTConfig) AccessTTL() time.Duration {
	return time.Duration(j.AccessTokenTTL) * time.Minute
}

// RefreshTTL returns the refresh token lifetime.
func (j JWTConfig) RefreshTTL() time.Duration {
	return time.Duration(j.RefreshTokenTTL) * time.Minute
}

// RememberTTL returns the access token lifetime used when "remember me" is set.
func (j JWTConfig) RememberTTL() time.Duration {
	return time.Duration(j.RememberMeTTL) * time.Minute
}

// LockoutDuration returns the default lockout window.
func (l LockoutConfig) LockoutDuration() time.Duration {
	return time.Duration(l.Duration) * time.Second
}

// AdminLock returns how long an administrative lock lasts.
func (l LockoutConfig) AdminLock() time.Duration {
	return time.Duration(l.AdminLockDuration) * time.Hour
}

// WindowDuration returns the rate limiting window.
func (r RateLimitConfig) WindowDuration() time.Duration {
	return time.Duration(r.Window) * time.Second
}
