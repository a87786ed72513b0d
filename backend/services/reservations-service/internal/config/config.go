package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	libconfig "batteryswap/backend/libs/config"
	"batteryswap/backend/services/reservations-service/internal/service"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config defines reservations service configuration.
type Config struct {
	HTTP struct {
		Port string `yaml:"port" env:"RESERVATIONS_HTTP_PORT"`
	} `yaml:"http"`
	Database struct {
		Driver   string `yaml:"driver" env:"RESERVATIONS_DB_DRIVER"`
		DSN      string `yaml:"dsn" env:"RESERVATIONS_POSTGRES_DSN"`
		SeedFile string `yaml:"seedFile" env:"RESERVATIONS_SEED_FILE"`
	} `yaml:"database"`
	Redis struct {
		Enabled  bool          `yaml:"enabled" env:"RESERVATIONS_REDIS_ENABLED"`
		Addr     string        `yaml:"addr" env:"RESERVATIONS_REDIS_ADDR"`
		Password string        `yaml:"password" env:"RESERVATIONS_REDIS_PASSWORD"`
		DB       int           `yaml:"db" env:"RESERVATIONS_REDIS_DB"`
		LockTTL  time.Duration `yaml:"lockTtl" env:"RESERVATIONS_REDIS_LOCK_TTL"`
	} `yaml:"redis"`
	JWT struct {
		Secret string `yaml:"secret" env:"RESERVATIONS_JWT_SECRET"`
	} `yaml:"jwt"`
	Reservations struct {
		CompetingWindow    time.Duration `yaml:"competingWindow" env:"RESERVATIONS_COMPETING_WINDOW"`
		InstantWindow      time.Duration `yaml:"instantWindow" env:"RESERVATIONS_INSTANT_WINDOW"`
		MinLeadTime        time.Duration `yaml:"minLeadTime" env:"RESERVATIONS_MIN_LEAD_TIME"`
		MaxLeadTime        time.Duration `yaml:"maxLeadTime" env:"RESERVATIONS_MAX_LEAD_TIME"`
		ChargingCreditLead time.Duration `yaml:"chargingCreditLead" env:"RESERVATIONS_CHARGING_CREDIT_LEAD"`
		LateCancelWindow   time.Duration `yaml:"lateCancelWindow" env:"RESERVATIONS_LATE_CANCEL_WINDOW"`
		CancellationFee    int64         `yaml:"cancellationFee" env:"RESERVATIONS_CANCELLATION_FEE"`
		ReadmitOnUpdate    bool          `yaml:"readmitOnUpdate" env:"RESERVATIONS_READMIT_ON_UPDATE"`
		LockTimeout        time.Duration `yaml:"lockTimeout" env:"RESERVATIONS_LOCK_TIMEOUT"`
		NotifyTimeout      time.Duration `yaml:"notifyTimeout" env:"RESERVATIONS_NOTIFY_TIMEOUT"`
		MaxNotesLength     int           `yaml:"maxNotesLength" env:"RESERVATIONS_MAX_NOTES_LENGTH"`
	} `yaml:"reservations"`
	WebSocket struct {
		PingInterval time.Duration `yaml:"pingInterval" env:"RESERVATIONS_WS_PING_INTERVAL"`
		WriteTimeout time.Duration `yaml:"writeTimeout" env:"RESERVATIONS_WS_WRITE_TIMEOUT"`
	} `yaml:"websocket"`
}

// Load reads configuration via shared helper.
func Load() (*Config, error) {
	cfg := Default()
	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	policy := service.DefaultPolicy()

	cfg := &Config{}
	cfg.HTTP.Port = "8085"
	cfg.Database.Driver = DriverPostgres
	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.LockTTL = 10 * time.Second
	cfg.Reservations.CompetingWindow = policy.CompetingWindow
	cfg.Reservations.InstantWindow = policy.InstantWindow
	cfg.Reservations.MinLeadTime = policy.MinLeadTime
	cfg.Reservations.MaxLeadTime = policy.MaxLeadTime
	cfg.Reservations.ChargingCreditLead = policy.ChargingCreditLead
	cfg.Reservations.LateCancelWindow = policy.LateCancelWindow
	cfg.Reservations.LockTimeout = policy.LockTimeout
	cfg.Reservations.NotifyTimeout = policy.NotifyTimeout
	cfg.Reservations.MaxNotesLength = policy.MaxNotesLength
	cfg.WebSocket.PingInterval = 30 * time.Second
	cfg.WebSocket.WriteTimeout = 15 * time.Second
	return cfg
}

// Validate checks required fields and policy bounds.
func (c *Config) Validate() error {
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	switch c.Database.Driver {
	case DriverPostgres:
		if strings.TrimSpace(c.Database.DSN) == "" {
			return errors.New("database dsn required")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	if c.Redis.Enabled && strings.TrimSpace(c.Redis.Addr) == "" {
		return errors.New("redis addr required when redis is enabled")
	}
	if strings.TrimSpace(c.JWT.Secret) == "" {
		return errors.New("jwt secret required")
	}

	r := c.Reservations
	if r.MinLeadTime > r.MaxLeadTime {
		return fmt.Errorf("min lead time %s exceeds max lead time %s", r.MinLeadTime, r.MaxLeadTime)
	}
	if r.CancellationFee < 0 {
		return errors.New("cancellation fee must not be negative")
	}
	return nil
}

// HTTPAddress returns :port style address.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8085"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}

// Policy converts the reservation knobs into service rules.
func (c *Config) Policy() service.Policy {
	r := c.Reservations
	return service.Policy{
		CompetingWindow:    r.CompetingWindow,
		InstantWindow:      r.InstantWindow,
		MinLeadTime:        r.MinLeadTime,
		MaxLeadTime:        r.MaxLeadTime,
		ChargingCreditLead: r.ChargingCreditLead,
		LateCancelWindow:   r.LateCancelWindow,
		ReadmitOnUpdate:    r.ReadmitOnUpdate,
		LockTimeout:        r.LockTimeout,
		NotifyTimeout:      r.NotifyTimeout,
		MaxNotesLength:     r.MaxNotesLength,
	}
}

// FeePolicy returns the cancellation pricing.
func (c *Config) FeePolicy() service.FeePolicy {
	return service.FlatFeePolicy{Amount: c.Reservations.CancellationFee}
}
