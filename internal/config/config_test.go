package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	t.Setenv("TEST_JWT_SECRET", "from-env")

	yamlContent := `
database:
  driver: sqlite
  path: "test.db"
api:
  jwt:
    secret: "${TEST_JWT_SECRET}"
payments:
  provider: fake
  security_deposit_cents: 5000
booking:
  draft_ttl: 10m
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0o644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.API.JWT.Secret)
	assert.Equal(t, int64(5000), cfg.Payments.SecurityDepositCents)
	assert.Equal(t, 10*time.Minute, cfg.Booking.DraftTTL)
	assert.Equal(t, 8080, cfg.API.HTTP.Port)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateConfig(t *testing.T) {
	base := func() Config {
		c := Config{
			Database: DatabaseConfig{Driver: DriverSQLite, Path: "path"},
			API:      APIConfig{JWT: JWTConfig{Secret: "s"}},
			Payments: PaymentsConfig{Provider: ProviderFake},
		}
		return c
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid config", func(c *Config) {}, false},
		{"missing sqlite path", func(c *Config) { c.Database.Path = "" }, true},
		{"mongo without uri", func(c *Config) { c.Database.Driver = DriverMongo }, true},
		{"mongo with uri", func(c *Config) {
			c.Database.Driver = DriverMongo
			c.Database.Mongo.URI = "mongodb://localhost:27017"
		}, false},
		{"unknown driver", func(c *Config) { c.Database.Driver = "postgres" }, true},
		{"stripe without keys", func(c *Config) { c.Payments.Provider = ProviderStripe }, true},
		{"stripe with keys", func(c *Config) {
			c.Payments.Provider = ProviderStripe
			c.Payments.SecretKey = "sk_test"
			c.Payments.WebhookSecret = "whsec"
		}, false},
		{"negative deposit", func(c *Config) { c.Payments.SecurityDepositCents = -1 }, true},
		{"missing jwt secret", func(c *Config) { c.API.JWT.Secret = "" }, true},
		{"file logging without path", func(c *Config) { c.Logging.Output = "file" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, ProviderFake, cfg.Payments.Provider)
	assert.Equal(t, 30*time.Minute, cfg.Booking.DraftTTL)
	assert.Equal(t, 5*time.Minute, cfg.Payments.WebhookTolerance)
	assert.Equal(t, 10*time.Second, cfg.Payments.RequestTimeout)
	assert.Equal(t, 15*time.Minute, cfg.Booking.StaleAfter)
	assert.Equal(t, "x-api-key", cfg.API.Auth.HeaderAPIKey)
	assert.Equal(t, 365, cfg.Booking.MaxAdvanceDays)
	assert.Equal(t, "clinicrooms", cfg.Notifications.FromName)
}
