// Package clientconfig loads the auction room client settings from an optional YAML file
// overlaid by AUCTION_* environment variables.
package clientconfig

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		RealtimeURL string `yaml:"realtime_url"`
		APIBaseURL  string `yaml:"api_base_url"`
	} `yaml:"server"`

	Auth struct {
		Token  string `yaml:"token"`
		UserID string `yaml:"user_id"`
	} `yaml:"auth"`

	AuctionID string `yaml:"auction_id"`

	Session struct {
		JoinTimeout       time.Duration `yaml:"join_timeout"`
		BidTimeout        time.Duration `yaml:"bid_timeout"`
		CountdownInterval time.Duration `yaml:"countdown_interval"`
	} `yaml:"session"`

	Reconnect struct {
		BaseDelay   time.Duration `yaml:"base_delay"`
		MaxDelay    time.Duration `yaml:"max_delay"`
		Jitter      float64       `yaml:"jitter"`
		MaxAttempts int           `yaml:"max_attempts"`
	} `yaml:"reconnect"`

	Payment struct {
		// Method is payos, wallet or queue.
		Method  string `yaml:"method"`
		NATSURL string `yaml:"nats_url"`
	} `yaml:"payment"`

	Journal struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"journal"`

	StatusAddr string `yaml:"status_addr"`
	LogLevel   string `yaml:"log_level"`
}

func Default() Config {
	var c Config
	c.Server.RealtimeURL = "ws://localhost:3001/auctions"
	c.Server.APIBaseURL = "http://localhost:3001/api"
	c.Session.JoinTimeout = 10 * time.Second
	c.Session.BidTimeout = 8 * time.Second
	c.Session.CountdownInterval = time.Second
	c.Reconnect.BaseDelay = time.Second
	c.Reconnect.MaxDelay = 10 * time.Second
	c.Reconnect.Jitter = 0.5
	c.Reconnect.MaxAttempts = 10
	c.Payment.Method = "payos"
	c.Payment.NATSURL = "nats://127.0.0.1:4222"
	c.StatusAddr = "127.0.0.1:8089"
	c.LogLevel = "info"
	return c
}

// Load reads path over the defaults, applies the environment and validates. An empty path
// skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overlays AUCTION_* variables. getenv is os.Getenv outside tests.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	setString := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	setString("AUCTION_REALTIME_URL", &c.Server.RealtimeURL)
	setString("AUCTION_API_BASE_URL", &c.Server.APIBaseURL)
	setString("AUCTION_TOKEN", &c.Auth.Token)
	setString("AUCTION_USER_ID", &c.Auth.UserID)
	setString("AUCTION_ID", &c.AuctionID)
	setString("AUCTION_PAYMENT_METHOD", &c.Payment.Method)
	setString("AUCTION_NATS_URL", &c.Payment.NATSURL)
	setString("AUCTION_STATUS_ADDR", &c.StatusAddr)
	setString("AUCTION_LOG_LEVEL", &c.LogLevel)

	var errs []error
	for key, dst := range map[string]*time.Duration{
		"AUCTION_JOIN_TIMEOUT":       &c.Session.JoinTimeout,
		"AUCTION_BID_TIMEOUT":        &c.Session.BidTimeout,
		"AUCTION_RECONNECT_MAX_WAIT": &c.Reconnect.MaxDelay,
	} {
		if v := getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				continue
			}
			*dst = d
		}
	}

	if v := getenv("AUCTION_RECONNECT_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("AUCTION_RECONNECT_ATTEMPTS: %w", err))
		} else {
			c.Reconnect.MaxAttempts = n
		}
	}
	if v := getenv("AUCTION_JOURNAL"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("AUCTION_JOURNAL: %w", err))
		} else {
			c.Journal.Enabled = b
		}
	}
	return errors.Join(errs...)
}

// Validate reports every missing or out of range setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.Auth.UserID == "" {
		errs = append(errs, errors.New("auth.user_id is required"))
	}
	if c.Auth.Token == "" {
		errs = append(errs, errors.New("auth.token is required"))
	}
	if !strings.HasPrefix(c.Server.RealtimeURL, "ws://") && !strings.HasPrefix(c.Server.RealtimeURL, "wss://") {
		errs = append(errs, fmt.Errorf("server.realtime_url %q must be a ws:// or wss:// url", c.Server.RealtimeURL))
	}
	if c.Session.JoinTimeout <= 0 || c.Session.BidTimeout <= 0 {
		errs = append(errs, errors.New("session timeouts must be positive"))
	}
	if c.Reconnect.MaxAttempts < 1 {
		errs = append(errs, errors.New("reconnect.max_attempts must be at least 1"))
	}
	if c.Reconnect.Jitter < 0 || c.Reconnect.Jitter >= 1 {
		errs = append(errs, errors.New("reconnect.jitter must be in [0, 1)"))
	}
	switch c.Payment.Method {
	case "payos", "wallet", "queue":
	default:
		errs = append(errs, fmt.Errorf("payment.method %q is not one of payos, wallet, queue", c.Payment.Method))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	return errors.Join(errs...)
}

// Level returns the configured log level, defaulting to info.
func (c Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
