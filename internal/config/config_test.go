package config

import (
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("CRDB_DSN", "postgresql://root@localhost:26257/bookings?sslmode=disable")
	t.Setenv("SESSION_SECRET", "s3cret")
	t.Setenv("RAZORPAY_KEY_ID", "rzp_test_key")
	t.Setenv("RAZORPAY_SECRET_KEY", "rzp_test_secret")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.DBDriver != DriverCRDB || cfg.PaymentCurrency != "INR" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.OutboxPollInterval != 2*time.Second || cfg.OutboxMaxAttempts != 10 {
		t.Errorf("unexpected outbox defaults: %v %d", cfg.OutboxPollInterval, cfg.OutboxMaxAttempts)
	}
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", "/tmp/b.db")
	t.Setenv("GATEWAY_TIMEOUT", "3s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.DBDriver != DriverSQLite || cfg.SQLitePath != "/tmp/b.db" || cfg.GatewayTimeout != 3*time.Second {
		t.Errorf("overrides not applied: %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			DBDriver:           DriverCRDB,
			CRDBDSN:            "dsn",
			SessionSecret:      "s",
			RazorpayKeyID:      "k",
			RazorpaySecret:     "s",
			OutboxBatchSize:    1,
			OutboxMaxAttempts:  1,
			OutboxPollInterval: time.Second,
			IdempotencyTTL:     time.Minute,
			GatewayTimeout:     time.Second,
			MailRatePerSec:     1,
		}
	}

	cases := map[string]func(c *Config){
		"unknown driver":  func(c *Config) { c.DBDriver = "mysql" },
		"missing dsn":     func(c *Config) { c.CRDBDSN = "" },
		"missing secret":  func(c *Config) { c.SessionSecret = "" },
		"missing gateway": func(c *Config) { c.RazorpaySecret = "" },
		"zero batch":      func(c *Config) { c.OutboxBatchSize = 0 },
		"zero poll":       func(c *Config) { c.OutboxPollInterval = 0 },
		"zero mail rate":  func(c *Config) { c.MailRatePerSec = 0 },
		"sqlite no path":  func(c *Config) { c.DBDriver = DriverSQLite; c.SQLitePath = "" },
	}
	for name, mutate := range cases {
		c := base()
		mutate(&c)
		if err := c.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}

	c := base()
	if err := c.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
}
