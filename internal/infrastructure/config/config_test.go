package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// validJWTSecret meets the 32-character minimum.
const validJWTSecret = "test-secret-key-at-least-32-chars!"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
site:
  id: "tower-a"
database:
  path: "/tmp/warden-test.db"
api:
  port: 9090
security:
  jwt:
    secret: "test-secret-key-at-least-32-chars!"
    access_token_ttl: 20
  lockout:
    max_attempts: 3
    duration: 600
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "tower-a" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "tower-a")
	}
	if cfg.API.Port != 9090 {
		t.Errorf("API.Port = %d, want 9090", cfg.API.Port)
	}
	if got := cfg.Security.JWT.AccessTTL(); got != 20*time.Minute {
		t.Errorf("AccessTTL() = %v, want 20m", got)
	}
	if cfg.Security.Lockout.MaxAttempts != 3 {
		t.Errorf("Lockout.MaxAttempts = %d, want 3", cfg.Security.Lockout.MaxAttempts)
	}
	if got := cfg.Security.Lockout.LockoutDuration(); got != 10*time.Minute {
		t.Errorf("LockoutDuration() = %v, want 10m", got)
	}

	// Values absent from the file keep their defaults.
	if got := cfg.Security.JWT.RefreshTTL(); got != 7*24*time.Hour {
		t.Errorf("RefreshTTL() = %v, want 168h", got)
	}
	if cfg.IdentityStore.Driver != DriverSQLite {
		t.Errorf("IdentityStore.Driver = %q, want %q", cfg.IdentityStore.Driver, DriverSQLite)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "invalid: [yaml: content")

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_MissingSecret(t *testing.T) {
	configPath := writeConfig(t, `
site:
  id: "tower-a"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected validation error for missing jwt secret, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid defaults", func(_ *Config) {}, false},
		{"missing site ID", func(c *Config) { c.Site.ID = "" }, true},
		{"missing database path", func(c *Config) { c.Database.Path = "" }, true},
		{"invalid QoS", func(c *Config) { c.MQTT.QoS = 3 }, true},
		{"invalid port low", func(c *Config) { c.API.Port = 0 }, true},
		{"invalid port high", func(c *Config) { c.API.Port = 70000 }, true},
		{"missing JWT secret", func(c *Config) { c.Security.JWT.Secret = "" }, true},
		{"JWT secret too short", func(c *Config) { c.Security.JWT.Secret = "short" }, true},
		{"unknown identity driver", func(c *Config) { c.IdentityStore.Driver = "mysql" }, true},
		{"postgres without dsn", func(c *Config) { c.IdentityStore.Driver = DriverPostgres }, true},
		{"postgres with dsn", func(c *Config) {
			c.IdentityStore.Driver = DriverPostgres
			c.IdentityStore.DSN = "postgres://warden@localhost/warden"
		}, false},
		{"keyvault without url", func(c *Config) {
			c.Secrets.Provider = SecretProviderAzureKeyVault
			c.Security.JWT.Secret = ""
		}, true},
		{"keyvault supplies secret", func(c *Config) {
			c.Secrets.Provider = SecretProviderAzureKeyVault
			c.Secrets.VaultURL = "https://warden.vault.azure.net/"
			c.Security.JWT.Secret = ""
		}, false},
		{"unknown secrets provider", func(c *Config) { c.Secrets.Provider = "vault" }, true},
		{"zero max attempts", func(c *Config) { c.Security.Lockout.MaxAttempts = 0 }, true},
		{"zero lockout duration", func(c *Config) { c.Security.Lockout.Duration = 0 }, true},
		{"zero access ttl", func(c *Config) { c.Security.JWT.AccessTokenTTL = 0 }, true},
		{"rate limit without window", func(c *Config) { c.Security.RateLimit.Window = 0 }, true},
		{"rate limit disabled ignores window", func(c *Config) {
			c.Security.RateLimit.Enabled = false
			c.Security.RateLimit.Window = 0
		}, false},
		{"weak password policy", func(c *Config) { c.Security.PasswordPolicy.MinLength = 4 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.Security.JWT.Secret = validJWTSecret
			tt.mutate(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}
	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}
	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("WARDEN_DATABASE_PATH", "/custom/path.db")
	t.Setenv("WARDEN_IDENTITY_STORE_DRIVER", "postgres")
	t.Setenv("WARDEN_IDENTITY_STORE_DSN", "postgres://db/warden")
	t.Setenv("WARDEN_MQTT_HOST", "mqtt.example.com")
	t.Setenv("WARDEN_API_PORT", "9443")
	t.Setenv("WARDEN_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("WARDEN_JWT_SECRET", "jwt-secret")
	t.Setenv("WARDEN_SECRETS_PROVIDER", "azure-keyvault")

	applyEnvOverrides(cfg)

	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}
	if cfg.IdentityStore.Driver != "postgres" {
		t.Errorf("IdentityStore.Driver = %q, want %q", cfg.IdentityStore.Driver, "postgres")
	}
	if cfg.IdentityStore.DSN != "postgres://db/warden" {
		t.Errorf("IdentityStore.DSN = %q, want %q", cfg.IdentityStore.DSN, "postgres://db/warden")
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.API.Port != 9443 {
		t.Errorf("API.Port = %d, want 9443", cfg.API.Port)
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
	if cfg.Security.JWT.Secret != "jwt-secret" {
		t.Errorf("Security.JWT.Secret = %q, want %q", cfg.Security.JWT.Secret, "jwt-secret")
	}
	if cfg.Secrets.Provider != SecretProviderAzureKeyVault {
		t.Errorf("Secrets.Provider = %q, want %q", cfg.Secrets.Provider, SecretProviderAzureKeyVault)
	}
}

func TestDefaultConfig_SecurityDefaults(t *testing.T) {
	cfg := defaultConfig()

	if got := cfg.Security.JWT.AccessTTL(); got != 30*time.Minute {
		t.Errorf("default AccessTTL() = %v, want 30m", got)
	}
	if got := cfg.Security.JWT.RememberTTL(); got != 7*24*time.Hour {
		t.Errorf("default RememberTTL() = %v, want 168h", got)
	}
	if cfg.Security.Lockout.MaxAttempts != 5 {
		t.Errorf("default Lockout.MaxAttempts = %d, want 5", cfg.Security.Lockout.MaxAttempts)
	}
	if got := cfg.Security.Lockout.LockoutDuration(); got != 15*time.Minute {
		t.Errorf("default LockoutDuration() = %v, want 15m", got)
	}
	if got := cfg.Security.Lockout.AdminLock(); got != 24*time.Hour {
		t.Errorf("default AdminLock() = %v, want 24h", got)
	}
	if cfg.Security.RateLimit.Requests != 60 {
		t.Errorf("default RateLimit.Requests = %d, want 60", cfg.Security.RateLimit.Requests)
	}
	if got := cfg.Security.RateLimit.WindowDuration(); got != time.Minute {
		t.Errorf("default WindowDuration() = %v, want 1m", got)
	}
}
