// Package journal records every bid intent transition in Postgres so a session can be
// reconciled against the server's bid history afterwards.
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/auctionroom/go/internal/auction"
	"github.com/mcdev12/auctionroom/go/internal/dbconfig"
)

const schema = `
CREATE TABLE IF NOT EXISTS bid_intents (
  client_bid_id TEXT PRIMARY KEY,
  auction_id    TEXT NOT NULL,
  bidder_id     TEXT NOT NULL,
  amount        NUMERIC(20, 2) NOT NULL,
  resolution    TEXT NOT NULL,
  reason        TEXT NOT NULL DEFAULT '',
  via           TEXT NOT NULL DEFAULT '',
  submitted_at  TIMESTAMPTZ NOT NULL,
  resolved_at   TIMESTAMPTZ,
  updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS bid_intents_auction_idx ON bid_intents (auction_id, submitted_at);
`

const upsertIntent = `
INSERT INTO bid_intents (
  client_bid_id, auction_id, bidder_id, amount, resolution, reason, via, submitted_at, resolved_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9
)
ON CONFLICT (client_bid_id) DO UPDATE SET
  resolution  = EXCLUDED.resolution,
  reason      = EXCLUDED.reason,
  via         = EXCLUDED.via,
  resolved_at = EXCLUDED.resolved_at,
  updated_at  = now()
WHERE bid_intents.resolution = 'pending'
`

// Execer is the slice of *pgxpool.Pool the journal writes through.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// IntentSource yields intent transitions. *session.Controller satisfies it.
type IntentSource interface {
	SubscribeIntents() (<-chan auction.BidIntent, func())
}

type Journal struct {
	db    Execer
	close func()
}

// Open connects a pool using cfg and makes sure the table exists.
func Open(ctx context.Context, cfg dbconfig.Config) (*Journal, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	j := New(pool)
	j.close = pool.Close
	if err := j.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Database).
		Msg("bid journal connected")
	return j, nil
}

func New(db Execer) *Journal {
	return &Journal{db: db}
}

func (j *Journal) EnsureSchema(ctx context.Context) error {
	if _, err := j.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create bid_intents: %w", err)
	}
	return nil
}

// Record upserts one intent. Once an intent leaves pending its row is frozen, so a late
// duplicate notification cannot overwrite the final resolution.
func (j *Journal) Record(ctx context.Context, intent auction.BidIntent) error {
	var resolvedAt *time.Time
	if intent.ResolvedAt != nil {
		t := intent.ResolvedAt.UTC()
		resolvedAt = &t
	}

	tag, err := j.db.Exec(ctx, upsertIntent,
		intent.ClientBidID,
		intent.AuctionID,
		intent.BidderID,
		intent.Amount.String(),
		string(intent.Resolution),
		intent.Reason,
		string(intent.Via),
		intent.SubmittedAt.UTC(),
		resolvedAt,
	)
	if err != nil {
		return fmt.Errorf("record bid %s: %w", intent.ClientBidID, err)
	}
	if tag.RowsAffected() == 0 {
		log.Debug().Str("client_bid_id", intent.ClientBidID).Msg("bid already settled in journal")
	}
	return nil
}

// Run records every intent src publishes until ctx is done. Write failures are logged and
// the loop keeps going.
func (j *Journal) Run(ctx context.Context, src IntentSource) error {
	intents, unsubscribe := src.SubscribeIntents()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case intent := <-intents:
			if err := j.Record(ctx, intent); err != nil {
				log.Error().Err(err).Str("auction_id", intent.AuctionID).Msg("failed to journal bid")
			}
		}
	}
}

func (j *Journal) Close() {
	if j.close != nil {
		j.close()
	}
}
