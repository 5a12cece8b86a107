package bidding

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/auctionroom/go/clients"
	"github.com/mcdev12/auctionroom/go/clients/auction_api_client"
	"github.com/mcdev12/auctionroom/go/internal/auction"
)

// Bid is one submission as handed to a transport.
type Bid struct {
	AuctionID   string
	Amount      decimal.Decimal
	ClientBidID string
	BidderID    string
}

// Result is what a transport knows right after sending. Decided is false when the outcome
// arrives later as a push.
type Result struct {
	Route      auction.Route
	Decided    bool
	Resolution auction.BidResolution
	Reason     string
}

// Transport delivers a bid to the auction authority.
type Transport interface {
	Route() auction.Route
	Send(ctx context.Context, bid Bid) (Result, error)
}

// Sender writes frames on the realtime channel.
type Sender interface {
	Send(ctx context.Context, cmd auction.Command) error
}

// RealtimeTransport emits auction:place_bid. The outcome comes back as a push.
type RealtimeTransport struct {
	channel Sender
}

func NewRealtimeTransport(channel Sender) *RealtimeTransport {
	return &RealtimeTransport{channel: channel}
}

func (t *RealtimeTransport) Route() auction.Route { return auction.RouteRealtime }

func (t *RealtimeTransport) Send(ctx context.Context, bid Bid) (Result, error) {
	cmd := auction.Command{
		Type:    auction.EventPlaceBid,
		Payload: auction.NewPlaceBidPayload(bid.AuctionID, bid.Amount, bid.ClientBidID, bid.BidderID),
	}
	if err := t.channel.Send(ctx, cmd); err != nil {
		return Result{Route: auction.RouteRealtime}, err
	}
	return Result{Route: auction.RouteRealtime, Resolution: auction.BidPending}, nil
}

// BidPlacer is the REST bid endpoint.
type BidPlacer interface {
	PlaceBid(ctx context.Context, auctionID string, amount decimal.Decimal, idempotencyKey string) (*auction_api_client.PlaceBidResponse, error)
}

// RESTTransport posts the bid and gets a synchronous decision.
type RESTTransport struct {
	client BidPlacer
}

func NewRESTTransport(client BidPlacer) *RESTTransport {
	return &RESTTransport{client: client}
}

func (t *RESTTransport) Route() auction.Route { return auction.RouteREST }

// Send maps the response: 2xx accepted, 2xx with success false or 400/409/422 rejected,
// 401/403 AuthError, anything else ConnectionError with the outcome unknown.
func (t *RESTTransport) Send(ctx context.Context, bid Bid) (Result, error) {
	_, err := t.client.PlaceBid(ctx, bid.AuctionID, bid.Amount, bid.ClientBidID)
	if err == nil {
		return Result{Route: auction.RouteREST, Decided: true, Resolution: auction.BidAccepted}, nil
	}

	var envErr *clients.EnvelopeError
	if errors.As(err, &envErr) {
		reason := envErr.Message
		if reason == "" {
			reason = "bid refused"
		}
		return Result{Route: auction.RouteREST, Decided: true, Resolution: auction.BidRejected, Reason: reason}, nil
	}

	var statusErr *clients.StatusError
	if !errors.As(err, &statusErr) {
		return Result{Route: auction.RouteREST}, &auction.ConnectionError{
			Component: auction.ComponentTransport,
			Op:        "place bid",
			Err:       err,
		}
	}

	switch statusErr.StatusCode {
	case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
		reason := statusErr.Message
		if reason == "" {
			reason = http.StatusText(statusErr.StatusCode)
		}
		return Result{Route: auction.RouteREST, Decided: true, Resolution: auction.BidRejected, Reason: reason}, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return Result{Route: auction.RouteREST}, &auction.AuthError{
			Component:  auction.ComponentTransport,
			StatusCode: statusErr.StatusCode,
			Err:        err,
		}
	default:
		return Result{Route: auction.RouteREST}, &auction.ConnectionError{
			Component: auction.ComponentTransport,
			Op:        fmt.Sprintf("place bid (status %d)", statusErr.StatusCode),
			Err:       err,
		}
	}
}

// ConnectionStater reports the realtime channel state.
type ConnectionStater interface {
	State() auction.ConnectionState
}

// Selector picks realtime while the channel is connected and REST otherwise.
type Selector struct {
	conn     ConnectionStater
	realtime Transport
	rest     Transport
}

func NewSelector(conn ConnectionStater, realtime, rest Transport) *Selector {
	return &Selector{conn: conn, realtime: realtime, rest: rest}
}

// Pick returns the transport for the next submission.
func (s *Selector) Pick() Transport {
	if s.realtime != nil && s.conn.State().Status == auction.ConnConnected {
		return s.realtime
	}
	if s.rest == nil {
		return s.realtime
	}
	log.Debug().Str("status", string(s.conn.State().Status)).Msg("realtime channel not connected, bidding over REST")
	return s.rest
}

// Fallback returns the REST transport, or nil if none is configured.
func (s *Selector) Fallback() Transport {
	return s.rest
}
