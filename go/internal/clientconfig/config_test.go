package clientconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/rs/zerolog"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auction.yaml")
	assert.NoError(t, os.WriteFile(path, []byte(`
server:
  realtime_url: wss://auctions.example/ws
auth:
  token: file-token
  user_id: u-file
session:
  bid_timeout: 5s
reconnect:
  max_attempts: 4
payment:
  method: wallet
log_level: debug
`), 0o600))

	t.Setenv("AUCTION_TOKEN", "env-token")
	t.Setenv("AUCTION_USER_ID", "")

	cfg, err := Load(path)
	assert.NoError(t, err)
	check.Equal(t, "wss://auctions.example/ws", cfg.Server.RealtimeURL)
	check.Equal(t, "env-token", cfg.Auth.Token)
	check.Equal(t, "u-file", cfg.Auth.UserID)
	check.Equal(t, 5*time.Second, cfg.Session.BidTimeout)
	check.Equal(t, 10*time.Second, cfg.Session.JoinTimeout)
	check.Equal(t, 4, cfg.Reconnect.MaxAttempts)
	check.Equal(t, "wallet", cfg.Payment.Method)
	check.Equal(t, zerolog.DebugLevel, cfg.Level())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	check.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"AUCTION_ID":                 "a1",
		"AUCTION_JOIN_TIMEOUT":       "3s",
		"AUCTION_RECONNECT_ATTEMPTS": "2",
		"AUCTION_JOURNAL":            "true",
	}))
	assert.NoError(t, err)
	check.Equal(t, "a1", cfg.AuctionID)
	check.Equal(t, 3*time.Second, cfg.Session.JoinTimeout)
	check.Equal(t, 2, cfg.Reconnect.MaxAttempts)
	check.True(t, cfg.Journal.Enabled)

	cfg = Default()
	err = cfg.ApplyEnv(envMap(map[string]string{
		"AUCTION_BID_TIMEOUT":        "soon",
		"AUCTION_RECONNECT_ATTEMPTS": "many",
	}))
	check.Error(t, err)
	check.True(t, strings.Contains(err.Error(), "AUCTION_BID_TIMEOUT"))
	check.True(t, strings.Contains(err.Error(), "AUCTION_RECONNECT_ATTEMPTS"))
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Default()
		cfg.Auth.Token = "t"
		cfg.Auth.UserID = "u-1"
		return cfg
	}
	assert.NoError(t, valid().Validate())

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{"missing user", func(c *Config) { c.Auth.UserID = "" }, "auth.user_id"},
		{"http url", func(c *Config) { c.Server.RealtimeURL = "http://x" }, "realtime_url"},
		{"zero attempts", func(c *Config) { c.Reconnect.MaxAttempts = 0 }, "max_attempts"},
		{"jitter too large", func(c *Config) { c.Reconnect.Jitter = 1 }, "jitter"},
		{"unknown payment", func(c *Config) { c.Payment.Method = "cash" }, "payment.method"},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			check.Error(t, err)
			check.True(t, strings.Contains(err.Error(), tt.wantMsg))
		})
	}
}
