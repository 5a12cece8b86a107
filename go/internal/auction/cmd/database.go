package main

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/auctionroom/go/internal/auction/journal"
	"github.com/mcdev12/auctionroom/go/internal/clientconfig"
	"github.com/mcdev12/auctionroom/go/internal/dbconfig"
)

// setupJournal opens the bid journal when enabled. A nil journal means bids are not persisted.
func setupJournal(ctx context.Context, cfg clientconfig.Config) (*journal.Journal, error) {
	if !cfg.Journal.Enabled {
		log.Info().Msg("bid journal disabled")
		return nil, nil
	}
	return journal.Open(ctx, dbconfig.NewConfigFromEnv())
}
