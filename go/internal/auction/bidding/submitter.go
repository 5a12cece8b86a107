// Package bidding validates bids locally and hands them to a transport.
package bidding

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/auctionroom/go/internal/auction"
	"github.com/mcdev12/auctionroom/go/internal/auction/countdown"
)

// Session is what the submitter reads from and reports to. *session.Controller satisfies it.
type Session interface {
	Snapshot() (auction.Snapshot, bool)
	Phase() auction.Phase
	Countdown() countdown.View
	LocalUserID() string
	TrackIntent(ctx context.Context, intent auction.BidIntent) error
	ResolveIntent(ctx context.Context, clientBidID string, resolution auction.BidResolution, reason string, via auction.Route) error
	Refresh(ctx context.Context) error
}

// Submitter is the BidSubmitter.
type Submitter struct {
	session  Session
	selector *Selector
	clock    clockwork.Clock
	newToken func() string
}

func NewSubmitter(session Session, selector *Selector, clock clockwork.Clock) *Submitter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Submitter{
		session:  session,
		selector: selector,
		clock:    clock,
		newToken: uuid.NewString,
	}
}

// Validate checks amount against the locally held snapshot. It never touches the network.
func (s *Submitter) Validate(amount decimal.Decimal) (auction.Snapshot, error) {
	if !amount.IsPositive() {
		return auction.Snapshot{}, &auction.ValidationError{Field: "amount", Message: "must be greater than zero"}
	}

	snapshot, ok := s.session.Snapshot()
	if !ok || s.session.Phase() != auction.PhaseJoined || snapshot.Status != auction.StatusLive {
		return auction.Snapshot{}, &auction.ValidationError{Field: "auction", Message: "auction is not live"}
	}
	if s.session.Countdown().Expired {
		return auction.Snapshot{}, &auction.ValidationError{Field: "auction", Message: "auction has ended"}
	}

	if minimum := snapshot.MinimumBid(); amount.LessThan(minimum) {
		return auction.Snapshot{}, &auction.ValidationError{
			Field:   "amount",
			Message: fmt.Sprintf("must be at least %s", minimum.String()),
		}
	}
	return snapshot, nil
}

// Submit validates, mints a fresh client bid id and sends. A realtime intent comes back
// pending; REST intents come back decided. A rejection is returned with a *auction.ServerRejection.
func (s *Submitter) Submit(ctx context.Context, amount decimal.Decimal) (auction.BidIntent, error) {
	snapshot, err := s.Validate(amount)
	if err != nil {
		log.Debug().Err(err).Str("amount", amount.String()).Msg("bid failed validation")
		return auction.BidIntent{}, err
	}

	intent := auction.BidIntent{
		ClientBidID: s.newToken(),
		AuctionID:   snapshot.AuctionID,
		BidderID:    s.session.LocalUserID(),
		Amount:      amount,
		SubmittedAt: s.clock.Now(),
		Resolution:  auction.BidPending,
	}
	bid := Bid{
		AuctionID:   intent.AuctionID,
		Amount:      amount,
		ClientBidID: intent.ClientBidID,
		BidderID:    intent.BidderID,
	}

	transport := s.selector.Pick()
	if transport == nil {
		return auction.BidIntent{}, fmt.Errorf("submit bid: no transport configured: %w", auction.ErrChannelUnavailable)
	}
	intent.Via = transport.Route()
	if err := s.session.TrackIntent(ctx, intent); err != nil {
		return auction.BidIntent{}, fmt.Errorf("track bid %s: %w", intent.ClientBidID, err)
	}

	result, err := transport.Send(ctx, bid)
	if err != nil && errors.Is(err, auction.ErrChannelUnavailable) && transport.Route() == auction.RouteRealtime {
		if fallback := s.selector.Fallback(); fallback != nil {
			// The frame never left the client, so the same token is safe to reuse here.
			log.Info().Str("client_bid_id", intent.ClientBidID).Msg("realtime channel dropped, retrying bid over REST")
			intent.Via = fallback.Route()
			result, err = fallback.Send(ctx, bid)
		}
	}

	if err != nil {
		return s.failed(ctx, intent, err)
	}

	log.Info().
		Str("auction_id", intent.AuctionID).
		Str("client_bid_id", intent.ClientBidID).
		Str("amount", amount.String()).
		Str("via", string(result.Route)).
		Msg("bid sent")

	if !result.Decided {
		return intent, nil
	}
	return s.decided(ctx, intent, result)
}

func (s *Submitter) decided(ctx context.Context, intent auction.BidIntent, result Result) (auction.BidIntent, error) {
	if err := s.session.ResolveIntent(ctx, intent.ClientBidID, result.Resolution, result.Reason, result.Route); err != nil {
		if errors.Is(err, auction.ErrUnknownIntent) || errors.Is(err, auction.ErrNotJoined) {
			// The auction was left while the request was in flight; its intents were already settled.
			log.Info().Err(err).Str("client_bid_id", intent.ClientBidID).Msg("bid decision arrived after leave, discarding")
			intent.Resolution = auction.BidTimedOut
			intent.Via = result.Route
			return intent, fmt.Errorf("bid %s: %w", intent.ClientBidID, auction.ErrLeft)
		}
		log.Warn().Err(err).Str("client_bid_id", intent.ClientBidID).Msg("could not record bid decision")
	}
	intent.Resolution = result.Resolution
	intent.Reason = result.Reason
	intent.Via = result.Route

	if result.Resolution == auction.BidAccepted {
		if err := s.session.Refresh(ctx); err != nil {
			log.Warn().Err(err).Str("auction_id", intent.AuctionID).Msg("refresh after REST bid failed")
		}
		return intent, nil
	}
	return intent, &auction.ServerRejection{ClientBidID: intent.ClientBidID, Message: result.Reason}
}

// failed handles a send error. Auth failures settle the intent; anything else leaves it to
// the session timeout since the server may still have received it.
func (s *Submitter) failed(ctx context.Context, intent auction.BidIntent, err error) (auction.BidIntent, error) {
	log.Error().Err(err).Str("client_bid_id", intent.ClientBidID).Str("via", string(intent.Via)).Msg("bid send failed")

	var authErr *auction.AuthError
	if errors.As(err, &authErr) || errors.Is(err, auction.ErrChannelUnavailable) {
		reason := "not sent: " + err.Error()
		if rerr := s.session.ResolveIntent(ctx, intent.ClientBidID, auction.BidRejected, reason, intent.Via); rerr != nil {
			log.Warn().Err(rerr).Str("client_bid_id", intent.ClientBidID).Msg("could not settle unsent bid")
		}
		intent.Resolution = auction.BidRejected
		intent.Reason = reason
	}
	return intent, err
}
