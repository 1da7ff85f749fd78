// Package config loads the relay configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go-smsrelay/payment/currency"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

const (
	StoreMySQL  = "mysql"
	StoreMemory = "memory"
)

type Config struct {
	Port      string `envconfig:"PORT" default:"8080"`
	PublicURL string `envconfig:"PUBLIC_URL"`

	CurrencyName     string        `envconfig:"CURRENCY" default:"bitcoin"`
	MinConfirmations int           `envconfig:"MIN_CONFIRMATIONS" default:"6"`
	GatewayTimeout   time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"15s"`

	Store     string `envconfig:"STORE" default:"memory"`
	DBDSN     string `envconfig:"DB_DSN"`
	RedisAddr string `envconfig:"REDIS_ADDR"`

	BlockCypherToken  string  `envconfig:"BLOCKCYPHER_TOKEN"`
	BlockCypherURL    string  `envconfig:"BLOCKCYPHER_URL" default:"https://api.blockcypher.com/v1"`
	BlockCypherRPS    float64 `envconfig:"BLOCKCYPHER_RPS" default:"3"`
	BlockCypherPubKey string  `envconfig:"BLOCKCYPHER_PUBKEY"`

	TwilioSID    string `envconfig:"TWILIO_SID"`
	TwilioToken  string `envconfig:"TWILIO_TOKEN"`
	TwilioFrom   string `envconfig:"TWILIO_FROM"`
	TwilioURL    string `envconfig:"TWILIO_URL" default:"https://api.twilio.com"`
	TwilioVerify bool   `envconfig:"TWILIO_VERIFY" default:"true"`

	SessionSecret string        `envconfig:"SESSION_SECRET"`
	SessionTTL    time.Duration `envconfig:"SESSION_TTL" default:"1h"`
	AdminKeyHash  string        `envconfig:"ADMIN_KEY_HASH"`
	// requests per minute per client IP
	RateLimit int `envconfig:"RATE_LIMIT" default:"60"`
	// comma separated; empty allows any origin
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	Currency currency.Descriptor `ignored:"true"`
}

// Load reads RELAY_* variables and validates them.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("relay", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	cur, err := currency.Parse(c.CurrencyName)
	if err != nil {
		return err
	}
	c.Currency = cur

	var errs []error
	if c.MinConfirmations < 1 {
		errs = append(errs, fmt.Errorf("RELAY_MIN_CONFIRMATIONS must be at least 1, got %d", c.MinConfirmations))
	}
	switch c.Store {
	case StoreMemory:
	case StoreMySQL:
		if c.DBDSN == "" {
			errs = append(errs, errors.New("RELAY_DB_DSN is required for the mysql store"))
		}
	default:
		errs = append(errs, fmt.Errorf("RELAY_STORE must be %s or %s, got %q", StoreMySQL, StoreMemory, c.Store))
	}
	if c.SessionSecret == "" {
		errs = append(errs, errors.New("RELAY_SESSION_SECRET is required"))
	}
	if c.TwilioVerify && c.TwilioToken == "" {
		errs = append(errs, errors.New("RELAY_TWILIO_TOKEN is required when RELAY_TWILIO_VERIFY is set"))
	}
	if c.PublicURL != "" && !strings.HasPrefix(c.PublicURL, "http://") && !strings.HasPrefix(c.PublicURL, "https://") {
		errs = append(errs, fmt.Errorf("RELAY_PUBLIC_URL must be an http(s) url, got %q", c.PublicURL))
	}
	for _, origin := range c.AllowedOrigins {
		if !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			errs = append(errs, fmt.Errorf("RELAY_ALLOWED_ORIGINS entries must be http(s) origins, got %q", origin))
		}
	}
	if c.RateLimit < 0 {
		errs = append(errs, errors.New("RELAY_RATE_LIMIT must not be negative"))
	}
	return errors.Join(errs...)
}

// Logger builds the process logger from LogLevel and LogFormat.
func (c *Config) Logger() (*logrus.Logger, error) {
	log := logrus.New()
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	log.SetLevel(level)
	if c.LogFormat == "text" {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return log, nil
}
