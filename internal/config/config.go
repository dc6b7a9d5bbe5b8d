// Package config loads the reconciler configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/pending-balance-reconciler/internal/apperr"
)

type Datasource struct {
	Endpoint string `env:"ENDPOINT"`
	DriverID string `env:"DRIVER_ID"`
	Username string `env:"USERNAME"`
	Password string `env:"PASSWORD"`
	Table    string `env:"TABLE" envDefault:"pending_balance_changes"`
}

// Missing returns the configuration key names of required values that are blank.
func (d Datasource) Missing() []string {
	var missing []string
	for _, field := range []struct {
		key   string
		value string
	}{
		{"datasource.endpoint", d.Endpoint},
		{"datasource.driverId", d.DriverID},
		{"datasource.username", d.Username},
		{"datasource.password", d.Password},
	} {
		if strings.TrimSpace(field.value) == "" {
			missing = append(missing, field.key)
		}
	}
	return missing
}

func (d Datasource) Validate() error {
	if missing := d.Missing(); len(missing) > 0 {
		return apperr.ConfigIncomplete(missing...)
	}
	return nil
}

type Reconciler struct {
	Origin       string        `env:"ORIGIN" envDefault:"pending-balance-reconciler"`
	IdleDelay    time.Duration `env:"IDLE_DELAY" envDefault:"50ms"`
	MaxIdleDelay time.Duration `env:"MAX_IDLE_DELAY" envDefault:"2s"`
	FaultRetries int           `env:"FAULT_RETRIES" envDefault:"0"`
	RetryDelay   time.Duration `env:"RETRY_DELAY" envDefault:"500ms"`
}

type Ledger struct {
	DriverID   string          `env:"DRIVER_ID"`
	Endpoint   string          `env:"ENDPOINT"`
	MaxBalance decimal.Decimal `env:"MAX_BALANCE" envDefault:"1000000000000"`
}

type Kafka struct {
	Brokers []string `env:"BROKERS" envSeparator:","`
	Topic   string   `env:"TOPIC" envDefault:"balance_reconciled"`
}

type Log struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"json"`
}

type Config struct {
	Datasource Datasource `envPrefix:"DATASOURCE_"`
	Reconciler Reconciler `envPrefix:"RECONCILER_"`
	Ledger     Ledger     `envPrefix:"LEDGER_"`
	Kafka      Kafka      `envPrefix:"KAFKA_"`
	Log        Log        `envPrefix:"LOG_"`
}

// Load reads the given dotenv files (missing files are skipped) into the
// process environment and parses it. Variables already set win over files.
func Load(files ...string) (Config, error) {
	for _, file := range files {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", file, err)
		}
	}
	return Parse()
}

// Parse decodes the process environment without validating it.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := c.Datasource.Validate(); err != nil {
		return err
	}
	if c.Reconciler.IdleDelay < 0 || c.Reconciler.MaxIdleDelay < c.Reconciler.IdleDelay {
		return fmt.Errorf("config: idle delay must be within [0, %s]", c.Reconciler.MaxIdleDelay)
	}
	if c.Reconciler.FaultRetries < 0 {
		return fmt.Errorf("config: fault retries must not be negative")
	}
	if c.Ledger.MaxBalance.Sign() <= 0 {
		return fmt.Errorf("config: ledger max balance must be positive")
	}
	return nil
}
