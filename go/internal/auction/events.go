package auction

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EventType is the name of a realtime frame.
type EventType string

const (
	// client -> server
	EventJoin     EventType = "auction:join"
	EventLeave    EventType = "auction:leave"
	EventPlaceBid EventType = "auction:place_bid"

	// server -> client
	EventState       EventType = "auction:state"
	EventPriceUpdate EventType = "auction:price_update"
	EventExtended    EventType = "auction:extended"
	EventError       EventType = "auction:error"
)

// Event is the envelope of every realtime frame in both directions.
type Event struct {
	Type EventType       `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Command is an outbound frame ready to be written to the channel.
type Command struct {
	Type    EventType
	Payload interface{}
}

// Encode marshals the command into an Event frame.
func (c Command) Encode() ([]byte, error) {
	data, err := json.Marshal(c.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", c.Type, err)
	}
	return json.Marshal(Event{Type: c.Type, Data: data})
}

// RoomPayload is sent with auction:join and auction:leave.
type RoomPayload struct {
	AuctionID string `json:"auctionId"`
}

// PlaceBidPayload is sent with auction:place_bid.
type PlaceBidPayload struct {
	AuctionID   string      `json:"auctionId"`
	Amount      json.Number `json:"amount"`
	ClientBidID string      `json:"clientBidId"`
	BidderID    string      `json:"bidderId"`
}

// NewPlaceBidPayload renders amount as a bare JSON number.
func NewPlaceBidPayload(auctionID string, amount decimal.Decimal, clientBidID, bidderID string) PlaceBidPayload {
	return PlaceBidPayload{
		AuctionID:   auctionID,
		Amount:      json.Number(amount.String()),
		ClientBidID: clientBidID,
		BidderID:    bidderID,
	}
}

// JoinCommand builds an auction:join frame.
func JoinCommand(auctionID string) Command {
	return Command{Type: EventJoin, Payload: RoomPayload{AuctionID: auctionID}}
}

// LeaveCommand builds an auction:leave frame.
func LeaveCommand(auctionID string) Command {
	return Command{Type: EventLeave, Payload: RoomPayload{AuctionID: auctionID}}
}

// PriceUpdate is an incremental price push.
type PriceUpdate struct {
	AuctionID    string
	CurrentPrice decimal.Decimal
	EndTime      *time.Time
	WinnerID     *string
	BidCount     *int
	ClientBidID  string
	BidderID     string
}

// Extension is an anti-snipe deadline push.
type Extension struct {
	AuctionID string
	EndTime   time.Time
}

// ServerError is an auction:error push. ClientBidID is set when it rejects one of our bids.
type ServerError struct {
	AuctionID   string `json:"auctionId,omitempty"`
	Message     string `json:"message"`
	Code        string `json:"code,omitempty"`
	ClientBidID string `json:"clientBidId,omitempty"`
}

type priceUpdatePayload struct {
	AuctionID    string           `json:"auctionId"`
	CurrentPrice *decimal.Decimal `json:"currentPrice"`
	EndTime      *time.Time       `json:"endTime"`
	WinnerID     *string          `json:"winnerId"`
	BidCount     *int             `json:"bidCount"`
	ClientBidID  string           `json:"clientBidId"`
	BidderID     string           `json:"bidderId"`
}

type extendedPayload struct {
	AuctionID string     `json:"auctionId"`
	EndTime   *time.Time `json:"endTime"`
}

type productPayload struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	ImageURLs   []string `json:"imageUrls"`
}

// snapshotPayload accepts the field aliases the auction server has used over time.
type snapshotPayload struct {
	ID              string           `json:"id"`
	AuctionID       string           `json:"auctionId"`
	CurrentPrice    *decimal.Decimal `json:"currentPrice"`
	StartingPrice   *decimal.Decimal `json:"startingPrice"`
	MinIncrement    *decimal.Decimal `json:"minIncrement"`
	MinBidIncrement *decimal.Decimal `json:"minBidIncrement"`
	EndTime         *time.Time       `json:"endTime"`
	BidCount        int              `json:"bidCount"`
	WinnerID        *string          `json:"winnerId"`
	Status          Status           `json:"status"`
	Title           string           `json:"title"`
	ImageURLs       []string         `json:"imageUrls"`
	Product         *productPayload  `json:"product"`
}

// DecodeSnapshot parses a full auction state as sent by auction:state or GET /auction/{id}.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var p snapshotPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return Snapshot{}, fmt.Errorf("%w: snapshot: %v", ErrMalformedPayload, err)
	}

	s := Snapshot{
		AuctionID: p.AuctionID,
		BidCount:  p.BidCount,
		Status:    p.Status,
		Item: ItemSummary{
			Title:     p.Title,
			ImageURLs: p.ImageURLs,
		},
	}
	if s.AuctionID == "" {
		s.AuctionID = p.ID
	}
	if s.AuctionID == "" {
		return Snapshot{}, fmt.Errorf("%w: snapshot without auction id", ErrMalformedPayload)
	}
	if p.EndTime == nil {
		return Snapshot{}, fmt.Errorf("%w: snapshot %s without endTime", ErrMalformedPayload, s.AuctionID)
	}
	s.EndTime = *p.EndTime

	switch {
	case p.CurrentPrice != nil && !p.CurrentPrice.IsZero():
		s.CurrentPrice = *p.CurrentPrice
	case p.StartingPrice != nil:
		s.CurrentPrice = *p.StartingPrice
	case p.CurrentPrice != nil:
		s.CurrentPrice = *p.CurrentPrice
	}
	switch {
	case p.MinIncrement != nil:
		s.MinIncrement = *p.MinIncrement
	case p.MinBidIncrement != nil:
		s.MinIncrement = *p.MinBidIncrement
	}
	if p.WinnerID != nil {
		s.WinnerID = *p.WinnerID
	}

	if s.Status == "" {
		s.Status = StatusLive
	}
	if !s.Status.Valid() {
		return Snapshot{}, fmt.Errorf("%w: snapshot %s has unknown status %q", ErrMalformedPayload, s.AuctionID, s.Status)
	}

	if p.Product != nil {
		if p.Product.Title != "" {
			s.Item.Title = p.Product.Title
		}
		s.Item.Description = p.Product.Description
		if len(p.Product.ImageURLs) > 0 {
			s.Item.ImageURLs = p.Product.ImageURLs
		}
	}

	return s, nil
}

// ParseEventPayload decodes a server frame into Snapshot, PriceUpdate, Extension or ServerError.
// Unknown event types yield (nil, nil).
func ParseEventPayload(event Event) (interface{}, error) {
	switch event.Type {
	case EventState:
		return DecodeSnapshot(event.Data)

	case EventPriceUpdate:
		var p priceUpdatePayload
		if err := json.Unmarshal(event.Data, &p); err != nil {
			return nil, fmt.Errorf("%w: price_update: %v", ErrMalformedPayload, err)
		}
		if p.CurrentPrice == nil {
			return nil, fmt.Errorf("%w: price_update without currentPrice", ErrMalformedPayload)
		}
		return PriceUpdate{
			AuctionID:    p.AuctionID,
			CurrentPrice: *p.CurrentPrice,
			EndTime:      p.EndTime,
			WinnerID:     p.WinnerID,
			BidCount:     p.BidCount,
			ClientBidID:  p.ClientBidID,
			BidderID:     p.BidderID,
		}, nil

	case EventExtended:
		var p extendedPayload
		if err := json.Unmarshal(event.Data, &p); err != nil {
			return nil, fmt.Errorf("%w: extended: %v", ErrMalformedPayload, err)
		}
		if p.EndTime == nil {
			return nil, fmt.Errorf("%w: extended without endTime", ErrMalformedPayload)
		}
		return Extension{AuctionID: p.AuctionID, EndTime: *p.EndTime}, nil

	case EventError:
		var p ServerError
		if err := json.Unmarshal(event.Data, &p); err != nil {
			return nil, fmt.Errorf("%w: error: %v", ErrMalformedPayload, err)
		}
		return p, nil

	default:
		return nil, nil
	}
}
