package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/auctionroom/go/internal/auction"
)

// loopState is touched only by the Run goroutine.
type loopState struct {
	gen uint64

	events      <-chan auction.Event
	unsubscribe func()

	joinWaiter  chan error
	joinTimer   clockwork.Timer
	joinPending bool

	conn auction.ConnectionStatus
}

func (c *Controller) setPhase(phase auction.Phase) {
	c.mu.Lock()
	prev := c.phase
	c.phase = phase
	c.mu.Unlock()
	if prev != phase {
		log.Debug().Str("from", string(prev)).Str("to", string(phase)).Msg("session phase changed")
	}
}

func (c *Controller) startJoin(ctx context.Context, auctionID string, waiter chan error) (uint64, error) {
	if auctionID == "" {
		return 0, &auction.ValidationError{Field: "auction_id", Message: "must not be empty"}
	}
	if phase := c.Phase(); phase != auction.PhaseIdle {
		return 0, fmt.Errorf("join %s while %s: %w", auctionID, phase, auction.ErrSessionBusy)
	}

	c.loop.gen++
	gen := c.loop.gen

	c.mu.Lock()
	c.auctionID = auctionID
	c.snapshot = nil
	c.final = nil
	c.outcome = nil
	c.mu.Unlock()
	c.setPhase(auction.PhaseJoining)

	c.loop.events, c.loop.unsubscribe = c.channel.SubscribeEvents()
	c.loop.joinWaiter = waiter
	c.loop.joinTimer = c.clock.AfterFunc(c.config.JoinTimeout, func() {
		c.post(context.Background(), func(lctx context.Context) {
			c.joinTimedOut(lctx, gen)
		})
	})

	log.Info().Str("auction_id", auctionID).Str("user_id", c.userID).Msg("joining auction")
	c.sendJoin(ctx)
	return gen, nil
}

// sendJoin writes auction:join. A channel that is down is not an error here: the join is sent
// when the channel next reports connected.
func (c *Controller) sendJoin(ctx context.Context) {
	auctionID := c.AuctionID()
	if err := c.channel.Send(ctx, auction.JoinCommand(auctionID)); err != nil {
		log.Warn().Err(err).Str("auction_id", auctionID).Msg("join not sent, waiting for channel")
		c.loop.joinPending = false
		return
	}
	c.loop.joinPending = true
}

func (c *Controller) joinTimedOut(ctx context.Context, gen uint64) {
	if gen != c.loop.gen || c.Phase() != auction.PhaseJoining {
		return
	}
	auctionID := c.AuctionID()
	err := &auction.ConnectionError{
		Component: auction.ComponentSession,
		Op:        "join " + auctionID,
		Err:       fmt.Errorf("no auction state within %s", c.config.JoinTimeout),
	}
	log.Warn().Err(err).Str("auction_id", auctionID).Msg("join timed out")
	c.finishJoin(err)
	c.teardown(ctx, "join timed out")
}

func (c *Controller) abortJoin(ctx context.Context, gen uint64, reason string) {
	if gen != c.loop.gen || c.Phase() != auction.PhaseJoining {
		return
	}
	c.finishJoin(context.Canceled)
	c.sendLeave(ctx)
	c.teardown(ctx, reason)
}

func (c *Controller) finishJoin(err error) {
	if c.loop.joinTimer != nil {
		c.loop.joinTimer.Stop()
		c.loop.joinTimer = nil
	}
	if c.loop.joinWaiter != nil {
		c.loop.joinWaiter <- err
		c.loop.joinWaiter = nil
	}
}

func (c *Controller) leave(ctx context.Context, auctionID string) {
	current := c.AuctionID()
	if current == "" || (auctionID != "" && auctionID != current) {
		log.Debug().Str("auction_id", auctionID).Msg("leave ignored, auction not joined")
		return
	}
	c.finishJoin(auction.ErrLeft)
	c.sendLeave(ctx)
	c.teardown(ctx, "left auction")
}

func (c *Controller) sendLeave(ctx context.Context) {
	auctionID := c.AuctionID()
	if err := c.channel.Send(ctx, auction.LeaveCommand(auctionID)); err != nil {
		log.Debug().Err(err).Str("auction_id", auctionID).Msg("leave not sent")
	}
}

// teardown returns the controller to idle: subscription released, timers cancelled,
// pending intents timed out, snapshot discarded, countdown stopped.
func (c *Controller) teardown(ctx context.Context, reason string) {
	auctionID := c.AuctionID()
	c.loop.gen++
	c.finishJoin(auction.ErrLeft)
	c.loop.joinPending = false

	if c.loop.unsubscribe != nil {
		c.loop.unsubscribe()
	}
	c.loop.events, c.loop.unsubscribe = nil, nil

	c.ticker.Stop()
	c.expirePending(reason)

	c.mu.Lock()
	c.auctionID = ""
	c.snapshot = nil
	c.intents = make(map[string]*trackedIntent)
	c.mu.Unlock()
	c.setPhase(auction.PhaseIdle)

	if auctionID != "" {
		log.Info().Str("auction_id", auctionID).Str("reason", reason).Msg("auction session torn down")
	}
}

func (c *Controller) handleConnectionState(ctx context.Context, state auction.ConnectionState) {
	prev := c.loop.conn
	c.loop.conn = state.Status

	switch state.Status {
	case auction.ConnReconnecting:
		// Frames sent on the dropped socket are gone.
		c.loop.joinPending = false

	case auction.ConnConnected:
		if prev == auction.ConnConnected {
			// Repeated notice for a socket that never dropped.
			return
		}
		phase := c.Phase()
		if phase != auction.PhaseJoining && phase != auction.PhaseJoined {
			return
		}
		if c.loop.joinPending {
			log.Debug().Str("auction_id", c.AuctionID()).Msg("join already pending, not re-sending")
			return
		}
		log.Info().
			Str("auction_id", c.AuctionID()).
			Str("previous", string(prev)).
			Msg("channel connected, re-joining auction")
		c.sendJoin(ctx)

	case auction.ConnDisconnected:
		if state.Err == nil {
			return
		}
		c.notify(auction.Notice{AuctionID: c.AuctionID(), Message: "realtime channel unavailable", Err: state.Err})
		if c.Phase() == auction.PhaseJoining {
			c.finishJoin(state.Err)
			c.teardown(ctx, "channel gave up")
		}
	}
}

func (c *Controller) handleEvent(ctx context.Context, event auction.Event) {
	payload, err := auction.ParseEventPayload(event)
	if err != nil {
		log.Warn().Err(err).Str("event", string(event.Type)).Msg("ignoring malformed push")
		return
	}

	switch p := payload.(type) {
	case auction.Snapshot:
		c.applyState(ctx, p)
	case auction.PriceUpdate:
		c.applyPriceUpdate(ctx, p)
	case auction.Extension:
		c.applyExtension(p)
	case auction.ServerError:
		c.applyServerError(p)
	default:
		log.Debug().Str("event", string(event.Type)).Msg("ignoring unknown push")
	}
}

// forCurrent reports whether a push addressed to auctionID belongs to the live session.
// Incremental pushes without an id are taken as addressed to the joined auction.
func (c *Controller) forCurrent(auctionID string) bool {
	current := c.AuctionID()
	return current != "" && (auctionID == "" || auctionID == current)
}

func (c *Controller) applyState(ctx context.Context, s auction.Snapshot) {
	if !c.forCurrent(s.AuctionID) {
		log.Debug().Str("auction_id", s.AuctionID).Msg("ignoring state for another auction")
		return
	}
	phase := c.Phase()
	if phase == auction.PhaseEnded {
		return
	}

	c.loop.joinPending = false
	c.replaceSnapshot(ctx, s)

	if phase == auction.PhaseJoining {
		c.setPhase(auction.PhaseJoined)
		c.finishJoin(nil)
		log.Info().
			Str("auction_id", s.AuctionID).
			Str("current_price", s.CurrentPrice.String()).
			Time("end_time", s.EndTime).
			Msg("joined auction")
	}

	if s.Status == auction.StatusEnded {
		c.end(ctx, "server reported ended")
	}
}

// applyRefresh applies a REST read. It cannot roll the price back past a newer push.
func (c *Controller) applyRefresh(ctx context.Context, s auction.Snapshot) {
	if c.Phase() != auction.PhaseJoined || !c.forCurrent(s.AuctionID) {
		return
	}
	if cur, ok := c.Snapshot(); ok && s.CurrentPrice.LessThan(cur.CurrentPrice) {
		log.Debug().
			Str("auction_id", s.AuctionID).
			Str("fetched_price", s.CurrentPrice.String()).
			Str("current_price", cur.CurrentPrice.String()).
			Msg("ignoring stale refresh")
		return
	}
	c.replaceSnapshot(ctx, s)
	if s.Status == auction.StatusEnded {
		c.end(ctx, "server reported ended")
	}
}

func (c *Controller) replaceSnapshot(ctx context.Context, s auction.Snapshot) {
	c.mu.Lock()
	c.snapshot = &s
	c.mu.Unlock()

	c.ticker.Start(ctx, s.EndTime)
	c.snapshots.Offer(s.Clone())
	c.matchIntents(s.CurrentPrice, s.WinnerID, "")
}

func (c *Controller) applyPriceUpdate(ctx context.Context, u auction.PriceUpdate) {
	if !c.forCurrent(u.AuctionID) || c.Phase() != auction.PhaseJoined {
		return
	}

	c.mu.Lock()
	s := c.snapshot
	if u.CurrentPrice.LessThan(s.CurrentPrice) {
		c.mu.Unlock()
		log.Warn().
			Str("auction_id", s.AuctionID).
			Str("pushed_price", u.CurrentPrice.String()).
			Str("current_price", s.CurrentPrice.String()).
			Msg("ignoring price regression")
		return
	}
	next := s.Clone()
	next.CurrentPrice = u.CurrentPrice
	leader := u.BidderID
	if u.WinnerID != nil {
		leader = *u.WinnerID
	}
	if leader != "" {
		next.WinnerID = leader
	}
	if u.BidCount != nil {
		next.BidCount = *u.BidCount
	}
	extended := false
	if u.EndTime != nil && u.EndTime.After(next.EndTime) {
		next.EndTime = *u.EndTime
		extended = true
	}
	c.snapshot = &next
	c.mu.Unlock()

	if extended {
		c.ticker.SetDeadline(next.EndTime)
	}
	c.snapshots.Offer(next.Clone())
	// Only what this push asserts; a leader carried over from an older snapshot says nothing
	// about who placed the bid at this price.
	if u.BidderID != "" && u.BidderID != c.userID {
		leader = u.BidderID
	}
	c.matchIntents(u.CurrentPrice, leader, u.ClientBidID)
}

func (c *Controller) applyExtension(e auction.Extension) {
	if !c.forCurrent(e.AuctionID) || c.Phase() != auction.PhaseJoined {
		return
	}

	c.mu.Lock()
	if !e.EndTime.After(c.snapshot.EndTime) {
		c.mu.Unlock()
		log.Debug().Str("auction_id", c.auctionID).Time("end_time", e.EndTime).Msg("ignoring non-extending deadline")
		return
	}
	next := c.snapshot.Clone()
	next.EndTime = e.EndTime
	c.snapshot = &next
	c.mu.Unlock()

	log.Info().Str("auction_id", next.AuctionID).Time("end_time", next.EndTime).Msg("auction extended")
	c.ticker.SetDeadline(next.EndTime)
	c.snapshots.Offer(next.Clone())
}

func (c *Controller) applyServerError(e auction.ServerError) {
	if e.AuctionID != "" && !c.forCurrent(e.AuctionID) {
		return
	}
	if e.ClientBidID != "" {
		if err := c.resolveIntent(e.ClientBidID, auction.BidRejected, e.Message, ""); err != nil && !errors.Is(err, auction.ErrUnknownIntent) {
			log.Warn().Err(err).Str("client_bid_id", e.ClientBidID).Msg("could not reject intent")
		}
	}
	log.Warn().Str("code", e.Code).Str("client_bid_id", e.ClientBidID).Msg(e.Message)
	c.notify(auction.Notice{AuctionID: c.AuctionID(), Message: e.Message})
}

func (c *Controller) handleExpiry(ctx context.Context, deadline time.Time) {
	if c.Phase() != auction.PhaseJoined {
		return
	}
	s, ok := c.Snapshot()
	if !ok || !s.EndTime.Equal(deadline) {
		return
	}
	c.end(ctx, "countdown reached zero")
}

// end performs the terminal transition. It runs at most once per join.
func (c *Controller) end(ctx context.Context, reason string) {
	if c.Phase() == auction.PhaseEnded {
		return
	}

	c.mu.Lock()
	final := c.snapshot.Clone()
	final.Status = auction.StatusEnded
	c.snapshot = &final
	stored := final.Clone()
	c.final = &stored
	c.mu.Unlock()
	c.setPhase(auction.PhaseEnded)
	c.ticker.Stop()

	log.Info().
		Str("auction_id", final.AuctionID).
		Str("final_price", final.CurrentPrice.String()).
		Str("winner_id", final.WinnerID).
		Str("reason", reason).
		Msg("auction ended")
	c.snapshots.Offer(final.Clone())

	go c.resolve(ctx, final)
}

func (c *Controller) resolve(ctx context.Context, final auction.Snapshot) auction.Outcome {
	out := auction.Outcome{AuctionID: final.AuctionID, IsWinner: final.WinnerID != "" && final.WinnerID == c.userID}
	if c.resolver != nil {
		resolved, err := c.resolver.Resolve(ctx, final, c.userID)
		if err != nil {
			log.Error().Err(err).Str("auction_id", final.AuctionID).Msg("winner resolution failed")
			out.Err = err
		} else {
			out = resolved
		}
	}

	c.mu.Lock()
	c.outcome = &out
	c.mu.Unlock()

	if err := c.outcomes.Publish(ctx, out); err != nil {
		log.Warn().Err(err).Str("auction_id", final.AuctionID).Msg("outcome not delivered")
	}
	return out
}

func (c *Controller) notify(n auction.Notice) {
	if n.At.IsZero() {
		n.At = c.clock.Now()
	}
	c.notices.Offer(n)
}
