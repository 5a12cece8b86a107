package gateway

import (
	"time"
)

// ConnectionConfig holds configuration for the realtime channel.
type ConnectionConfig struct {
	URL              string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
	PingInterval     time.Duration
	MaxMessageSize   int64
	SendBufferSize   int
	Backoff          BackoffConfig
}

// BackoffConfig bounds reconnection.
type BackoffConfig struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// Jitter randomises each delay by ±Jitter (0.5 means 50%-150%), still capped at MaxDelay.
	Jitter      float64
	MaxAttempts int
}

// DefaultConnectionConfig returns default realtime channel configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		URL:              "ws://localhost:3001/auctions",
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		ReadTimeout:      60 * time.Second,
		PingInterval:     25 * time.Second,
		MaxMessageSize:   64 * 1024,
		SendBufferSize:   64,
		Backoff:          DefaultBackoffConfig(),
	}
}

// DefaultBackoffConfig waits 1s doubling to 10s, giving up after 10 attempts.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		BaseDelay:   time.Second,
		MaxDelay:    10 * time.Second,
		Jitter:      0.5,
		MaxAttempts: 10,
	}
}

// Delay returns the wait before reconnect attempt n (1-based). rnd returns values in [0, 1).
func (b BackoffConfig) Delay(attempt int, rnd func() float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := b.BaseDelay
	for i := 1; i < attempt && d < b.MaxDelay; i++ {
		d *= 2
	}
	if b.MaxDelay > 0 && d > b.MaxDelay {
		d = b.MaxDelay
	}

	if b.Jitter > 0 && rnd != nil {
		factor := 1 + b.Jitter*(2*rnd()-1)
		d = time.Duration(float64(d) * factor)
	}
	if b.MaxDelay > 0 && d > b.MaxDelay {
		d = b.MaxDelay
	}
	if d < 0 {
		d = 0
	}
	return d
}
