package auction_api_client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"

	"github.com/mcdev12/auctionroom/go/clients"
	"github.com/mcdev12/auctionroom/go/internal/auction"
)

type PlaceBidRequest struct {
	Amount json.Number `json:"amount"`
}

// PlaceBidResponse is the accepted bid as echoed by the backend. Fields are optional.
type PlaceBidResponse struct {
	ID           string           `json:"id"`
	AuctionID    string           `json:"auctionId"`
	Amount       *decimal.Decimal `json:"amount"`
	CurrentPrice *decimal.Decimal `json:"currentPrice"`
}

// Order is the order the backend creates for the winner when an auction ends.
type Order struct {
	ID          string           `json:"id"`
	OrderID     string           `json:"orderId"`
	AuctionID   string           `json:"auctionId"`
	Status      string           `json:"status"`
	Amount      *decimal.Decimal `json:"amount"`
	TotalAmount *decimal.Decimal `json:"totalAmount"`
}

// Key returns orderId, falling back to id.
func (o Order) Key() string {
	if o.OrderID != "" {
		return o.OrderID
	}
	return o.ID
}

// Total returns totalAmount, falling back to amount. ok is false when neither was sent.
func (o Order) Total() (decimal.Decimal, bool) {
	switch {
	case o.TotalAmount != nil:
		return *o.TotalAmount, true
	case o.Amount != nil:
		return *o.Amount, true
	}
	return decimal.Decimal{}, false
}

func auctionPath(format, auctionID string) string {
	return fmt.Sprintf(format, url.PathEscape(auctionID))
}

// GetAuction fetches the full auction state.
func (c *AuctionApiClient) GetAuction(ctx context.Context, auctionID string) (auction.Snapshot, error) {
	body, err := c.Get(ctx, auctionPath(AuctionEndpoint, auctionID))
	if err != nil {
		return auction.Snapshot{}, fmt.Errorf("failed to get auction %s: %w", auctionID, err)
	}
	data, err := clients.Unwrap(body)
	if err != nil {
		return auction.Snapshot{}, fmt.Errorf("failed to get auction %s: %w", auctionID, err)
	}

	snapshot, err := auction.DecodeSnapshot(data)
	if err != nil {
		return auction.Snapshot{}, fmt.Errorf("failed to decode auction %s: %w", auctionID, err)
	}
	return snapshot, nil
}

// PlaceBid submits a bid over REST. idempotencyKey is the client bid id.
func (c *AuctionApiClient) PlaceBid(ctx context.Context, auctionID string, amount decimal.Decimal, idempotencyKey string) (*PlaceBidResponse, error) {
	header := http.Header{}
	if idempotencyKey != "" {
		header.Set(IdempotencyKeyHeader, idempotencyKey)
	}

	body, err := c.PostJSON(ctx, auctionPath(PlaceBidEndpoint, auctionID), PlaceBidRequest{Amount: json.Number(amount.String())}, header)
	if err != nil {
		return nil, fmt.Errorf("failed to place bid on %s: %w", auctionID, err)
	}
	data, err := clients.Unwrap(body)
	if err != nil {
		return nil, fmt.Errorf("failed to place bid on %s: %w", auctionID, err)
	}

	var response PlaceBidResponse
	if len(data) > 0 {
		if err := json.Unmarshal(data, &response); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response: %w, raw response: %s", err, string(data))
		}
	}
	return &response, nil
}

// OrderForAuction looks up the order created for a finished auction.
func (c *AuctionApiClient) OrderForAuction(ctx context.Context, auctionID string) (*Order, error) {
	body, err := c.Get(ctx, auctionPath(AuctionOrderEndpoint, auctionID))
	if err != nil {
		return nil, fmt.Errorf("failed to get order for auction %s: %w", auctionID, err)
	}
	data, err := clients.Unwrap(body)
	if err != nil {
		return nil, fmt.Errorf("failed to get order for auction %s: %w", auctionID, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("no order for auction %s", auctionID)
	}

	var order Order
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w, raw response: %s", err, string(data))
	}
	if order.Key() == "" {
		return nil, fmt.Errorf("order for auction %s has no id", auctionID)
	}
	return &order, nil
}
