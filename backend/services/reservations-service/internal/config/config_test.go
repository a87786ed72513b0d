package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"batteryswap/backend/services/reservations-service/internal/service"
)

func TestLoadFromFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "database:\n  driver: memory\n" +
		"jwt:\n  secret: file-secret\n" +
		"reservations:\n  competingWindow: 45m\n  cancellationFee: 2500\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("RESERVATIONS_HTTP_PORT", "9090")
	t.Setenv("RESERVATIONS_READMIT_ON_UPDATE", "true")
	t.Setenv("RESERVATIONS_LATE_CANCEL_WINDOW", "20m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPAddress())
	assert.Equal(t, DriverMemory, cfg.Database.Driver)

	policy := cfg.Policy()
	assert.Equal(t, 45*time.Minute, policy.CompetingWindow)
	assert.Equal(t, 20*time.Minute, policy.LateCancelWindow)
	assert.Equal(t, 15*time.Minute, policy.InstantWindow)
	assert.True(t, policy.ReadmitOnUpdate)
	assert.Equal(t, service.FlatFeePolicy{Amount: 2500}, cfg.FeePolicy())
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(c *Config)
		ok     bool
	}{
		{name: "postgres with dsn", mutate: func(c *Config) { c.Database.DSN = "postgres://localhost/reservations" }, ok: true},
		{name: "postgres without dsn", mutate: func(c *Config) {}},
		{name: "memory driver", mutate: func(c *Config) { c.Database.Driver = " Memory " }, ok: true},
		{name: "unknown driver", mutate: func(c *Config) { c.Database.Driver = "mysql" }},
		{name: "missing secret", mutate: func(c *Config) {
			c.Database.Driver = DriverMemory
			c.JWT.Secret = ""
		}},
		{name: "redis without addr", mutate: func(c *Config) {
			c.Database.Driver = DriverMemory
			c.Redis.Enabled = true
			c.Redis.Addr = " "
		}},
		{name: "inverted lead bounds", mutate: func(c *Config) {
			c.Database.Driver = DriverMemory
			c.Reservations.MinLeadTime = 13 * time.Hour
		}},
		{name: "negative fee", mutate: func(c *Config) {
			c.Database.Driver = DriverMemory
			c.Reservations.CancellationFee = -1
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.JWT.Secret = "secret"
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
