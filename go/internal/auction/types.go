package auction

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status defines the lifecycle status of an auction as reported by the server.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusLive      Status = "live"
	StatusEnded     Status = "ended"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusLive, StatusEnded:
		return true
	}
	return false
}

// ItemSummary is the part of the catalog item shown in the auction room.
type ItemSummary struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	ImageURLs   []string `json:"image_urls,omitempty"`
}

// Snapshot is the authoritative state of one auction as currently known to the client.
type Snapshot struct {
	AuctionID    string          `json:"auction_id"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	MinIncrement decimal.Decimal `json:"min_increment"`
	EndTime      time.Time       `json:"end_time"`
	BidCount     int             `json:"bid_count"`
	WinnerID     string          `json:"winner_id,omitempty"`
	Status       Status          `json:"status"`
	Item         ItemSummary     `json:"item"`
}

// MinimumBid returns the lowest amount the server would accept next.
func (s Snapshot) MinimumBid() decimal.Decimal {
	return s.CurrentPrice.Add(s.MinIncrement)
}

// Clone returns a deep copy so callers can hold it while the owner keeps merging.
func (s Snapshot) Clone() Snapshot {
	c := s
	if s.Item.ImageURLs != nil {
		c.Item.ImageURLs = append([]string(nil), s.Item.ImageURLs...)
	}
	return c
}

// Phase is the session state machine position.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseJoining Phase = "joining"
	PhaseJoined  Phase = "joined"
	PhaseEnded   Phase = "ended"
)

// BidResolution defines how a submitted bid ended up.
type BidResolution string

const (
	BidPending  BidResolution = "pending"
	BidAccepted BidResolution = "accepted"
	BidRejected BidResolution = "rejected"
	BidTimedOut BidResolution = "timed_out"
)

// Final reports whether the resolution is terminal.
func (r BidResolution) Final() bool {
	return r != BidPending
}

// Route identifies which transport carried a bid.
type Route string

const (
	RouteRealtime Route = "realtime"
	RouteREST     Route = "rest"
)

// BidIntent is a client-tracked record of one submitted bid awaiting resolution.
type BidIntent struct {
	ClientBidID string          `json:"client_bid_id"`
	AuctionID   string          `json:"auction_id"`
	BidderID    string          `json:"bidder_id"`
	Amount      decimal.Decimal `json:"amount"`
	SubmittedAt time.Time       `json:"submitted_at"`
	Resolution  BidResolution   `json:"resolution"`
	Reason      string          `json:"reason,omitempty"`
	Via         Route           `json:"via,omitempty"`
	ResolvedAt  *time.Time      `json:"resolved_at,omitempty"`
}

// ConnectionStatus defines the lifecycle of the realtime channel.
type ConnectionStatus string

const (
	ConnDisconnected ConnectionStatus = "disconnected"
	ConnConnecting   ConnectionStatus = "connecting"
	ConnConnected    ConnectionStatus = "connected"
	ConnReconnecting ConnectionStatus = "reconnecting"
)

// ConnectionState is the observable state of the realtime channel.
type ConnectionState struct {
	Status  ConnectionStatus `json:"status"`
	Attempt int              `json:"attempt"`
	Backoff time.Duration    `json:"backoff"`
	// Err is set when the channel gave up (retry budget exhausted or auth rejected).
	Err error `json:"-"`
}

// Identity is who the client connects and bids as.
type Identity struct {
	UserID string
	Token  string
}

// PaymentHandle is what the payment workflow needs to start checkout.
type PaymentHandle struct {
	OrderID   string          `json:"order_id"`
	AuctionID string          `json:"auction_id"`
	Amount    decimal.Decimal `json:"amount"`
}

// Outcome is the result of resolving a finished auction for the local user.
type Outcome struct {
	AuctionID string         `json:"auction_id"`
	IsWinner  bool           `json:"is_winner"`
	Payment   *PaymentHandle `json:"payment,omitempty"`
	// Err is set when the winner's order lookup failed; the resolution can be retried.
	Err error `json:"-"`
}

// Notice is an informational message for the UI (server errors, connection give-ups).
type Notice struct {
	AuctionID string    `json:"auction_id,omitempty"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
	Err       error     `json:"-"`
}
