package auction_api_client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mcdev12/auctionroom/go/clients"
)

type PaymentLinkRequest struct {
	OrderID string `json:"orderId"`
}

// PaymentLink is a hosted checkout (PayOS) for an order.
type PaymentLink struct {
	CheckoutURL string `json:"checkoutUrl"`
	OrderCode   int64  `json:"orderCode,omitempty"`
	Status      string `json:"status,omitempty"`
}

type WalletPayRequest struct {
	OrderID string      `json:"orderId"`
	Amount  json.Number `json:"amount"`
}

// WalletPayment is the result of paying an order from the in-app wallet.
type WalletPayment struct {
	OrderID string           `json:"orderId"`
	Status  string           `json:"status"`
	Balance *decimal.Decimal `json:"balance,omitempty"`
}

// CreatePaymentLink asks the backend for a PayOS checkout URL.
func (c *AuctionApiClient) CreatePaymentLink(ctx context.Context, orderID string) (*PaymentLink, error) {
	body, err := c.PostJSON(ctx, PaymentOrderEndpoint, PaymentLinkRequest{OrderID: orderID}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment link for %s: %w", orderID, err)
	}
	data, err := clients.Unwrap(body)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment link for %s: %w", orderID, err)
	}

	var link PaymentLink
	if err := json.Unmarshal(data, &link); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w, raw response: %s", err, string(data))
	}
	if link.CheckoutURL == "" {
		return nil, fmt.Errorf("payment link for %s has no checkoutUrl", orderID)
	}
	return &link, nil
}

// PayOrderFromWallet debits the wallet for an order.
func (c *AuctionApiClient) PayOrderFromWallet(ctx context.Context, orderID string, amount decimal.Decimal) (*WalletPayment, error) {
	req := WalletPayRequest{OrderID: orderID, Amount: json.Number(amount.String())}
	body, err := c.PostJSON(ctx, WalletPayEndpoint, req, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to pay order %s from wallet: %w", orderID, err)
	}
	data, err := clients.Unwrap(body)
	if err != nil {
		return nil, fmt.Errorf("failed to pay order %s from wallet: %w", orderID, err)
	}

	payment := WalletPayment{OrderID: orderID}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payment); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response: %w, raw response: %s", err, string(data))
		}
	}
	if payment.OrderID == "" {
		payment.OrderID = orderID
	}
	return &payment, nil
}
