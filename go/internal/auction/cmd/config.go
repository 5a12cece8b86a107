package main

import (
	"github.com/mcdev12/auctionroom/go/internal/auction/gateway"
	"github.com/mcdev12/auctionroom/go/internal/auction/payment"
	"github.com/mcdev12/auctionroom/go/internal/auction/session"
	"github.com/mcdev12/auctionroom/go/internal/clientconfig"
)

func connectionConfig(cfg clientconfig.Config) gateway.ConnectionConfig {
	conn := gateway.DefaultConnectionConfig()
	conn.URL = cfg.Server.RealtimeURL
	conn.Backoff = gateway.BackoffConfig{
		BaseDelay:   cfg.Reconnect.BaseDelay,
		MaxDelay:    cfg.Reconnect.MaxDelay,
		Jitter:      cfg.Reconnect.Jitter,
		MaxAttempts: cfg.Reconnect.MaxAttempts,
	}
	return conn
}

func sessionConfig(cfg clientconfig.Config) session.Config {
	sc := session.DefaultConfig()
	sc.JoinTimeout = cfg.Session.JoinTimeout
	sc.BidTimeout = cfg.Session.BidTimeout
	if cfg.Session.CountdownInterval > 0 {
		sc.CountdownInterval = cfg.Session.CountdownInterval
	}
	return sc
}

func jetStreamConfig(cfg clientconfig.Config) payment.JetStreamConfig {
	js := payment.DefaultJetStreamConfig()
	js.URL = cfg.Payment.NATSURL
	return js
}
