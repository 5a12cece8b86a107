package session

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/auctionroom/go/internal/auction"
)

type trackedIntent struct {
	intent auction.BidIntent
	timer  clockwork.Timer
}

func (c *Controller) track(intent auction.BidIntent) error {
	if c.Phase() != auction.PhaseJoined || intent.AuctionID != c.AuctionID() {
		return fmt.Errorf("track bid for %s: %w", intent.AuctionID, auction.ErrNotJoined)
	}

	c.mu.RLock()
	_, dup := c.intents[intent.ClientBidID]
	c.mu.RUnlock()
	if dup {
		return &auction.ValidationError{Field: "client_bid_id", Message: "token already used"}
	}

	intent.Resolution = auction.BidPending
	if intent.SubmittedAt.IsZero() {
		intent.SubmittedAt = c.clock.Now()
	}
	gen := c.loop.gen
	id := intent.ClientBidID
	ti := &trackedIntent{intent: intent}
	ti.timer = c.clock.AfterFunc(c.config.BidTimeout, func() {
		c.post(context.Background(), func(context.Context) {
			c.bidTimedOut(gen, id)
		})
	})

	c.mu.Lock()
	c.intents[id] = ti
	c.mu.Unlock()

	log.Info().
		Str("auction_id", intent.AuctionID).
		Str("client_bid_id", id).
		Str("amount", intent.Amount.String()).
		Msg("bid intent pending")
	c.intentsCh.Offer(intent)
	return nil
}

func (c *Controller) resolveIntent(clientBidID string, resolution auction.BidResolution, reason string, via auction.Route) error {
	c.mu.Lock()
	ti, ok := c.intents[clientBidID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("resolve %s: %w", clientBidID, auction.ErrUnknownIntent)
	}
	if ti.intent.Resolution.Final() {
		c.mu.Unlock()
		return nil
	}
	if ti.timer != nil {
		ti.timer.Stop()
		ti.timer = nil
	}
	now := c.clock.Now()
	ti.intent.Resolution = resolution
	ti.intent.Reason = reason
	ti.intent.ResolvedAt = &now
	if via != "" {
		ti.intent.Via = via
	}
	intent := ti.intent
	c.mu.Unlock()

	log.Info().
		Str("auction_id", intent.AuctionID).
		Str("client_bid_id", clientBidID).
		Str("resolution", string(resolution)).
		Str("reason", reason).
		Msg("bid intent resolved")
	c.intentsCh.Offer(intent)

	switch resolution {
	case auction.BidRejected:
		c.notify(auction.Notice{
			AuctionID: intent.AuctionID,
			Message:   "bid rejected: " + reason,
			Err:       &auction.ServerRejection{ClientBidID: clientBidID, Message: reason},
		})
	case auction.BidTimedOut:
		c.notify(auction.Notice{
			AuctionID: intent.AuctionID,
			Message:   "bid outcome unknown",
			Err:       &auction.TimeoutError{ClientBidID: clientBidID},
		})
	}
	return nil
}

// matchIntents accepts pending intents confirmed by a push: an exact token echo, or the push
// naming the local user as leader at exactly the intent's amount.
func (c *Controller) matchIntents(price decimal.Decimal, leaderID, clientBidID string) {
	if clientBidID != "" {
		c.mu.RLock()
		_, ok := c.intents[clientBidID]
		c.mu.RUnlock()
		if ok {
			c.resolveIntent(clientBidID, auction.BidAccepted, "", "")
			return
		}
	}

	if leaderID == "" || leaderID != c.userID {
		return
	}
	var match *auction.BidIntent
	c.mu.RLock()
	for _, ti := range c.intents {
		in := ti.intent
		if in.Resolution != auction.BidPending || !in.Amount.Equal(price) {
			continue
		}
		if match == nil || in.SubmittedAt.Before(match.SubmittedAt) {
			match = &in
		}
	}
	c.mu.RUnlock()

	if match != nil {
		c.resolveIntent(match.ClientBidID, auction.BidAccepted, "", "")
	}
}

func (c *Controller) bidTimedOut(gen uint64, clientBidID string) {
	if gen != c.loop.gen {
		return
	}
	if err := c.resolveIntent(clientBidID, auction.BidTimedOut, "no confirmation received", ""); err != nil {
		log.Debug().Err(err).Str("client_bid_id", clientBidID).Msg("bid timeout for unknown intent")
	}
}

// expirePending marks every pending intent timed out. Used on teardown; nothing resolves
// an intent after its auction was left.
func (c *Controller) expirePending(reason string) {
	c.mu.RLock()
	var pending []string
	for id, ti := range c.intents {
		if ti.intent.Resolution == auction.BidPending {
			pending = append(pending, id)
		}
	}
	c.mu.RUnlock()

	for _, id := range pending {
		c.resolveIntent(id, auction.BidTimedOut, reason, "")
	}
}
