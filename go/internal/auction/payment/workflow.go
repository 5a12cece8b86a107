// Package payment hands a won auction's order to a payment method.
package payment

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/auctionroom/go/clients/auction_api_client"
	"github.com/mcdev12/auctionroom/go/internal/auction"
)

// Method names a payment workflow.
type Method string

const (
	MethodCheckoutLink Method = "payos"
	MethodWallet       Method = "wallet"
	MethodQueue        Method = "queue"
)

// Receipt is what a workflow reports back after accepting an order.
type Receipt struct {
	Method      Method `json:"method"`
	OrderID     string `json:"order_id"`
	CheckoutURL string `json:"checkout_url,omitempty"`
	Status      string `json:"status,omitempty"`
	Sequence    uint64 `json:"sequence,omitempty"`
}

// Workflow starts payment for a won auction.
type Workflow interface {
	Start(ctx context.Context, handle auction.PaymentHandle) (Receipt, error)
}

type LinkCreator interface {
	CreatePaymentLink(ctx context.Context, orderID string) (*auction_api_client.PaymentLink, error)
}

// CheckoutLink asks the backend for a hosted checkout page.
type CheckoutLink struct {
	client LinkCreator
}

func NewCheckoutLink(client LinkCreator) *CheckoutLink {
	return &CheckoutLink{client: client}
}

func (w *CheckoutLink) Start(ctx context.Context, handle auction.PaymentHandle) (Receipt, error) {
	link, err := w.client.CreatePaymentLink(ctx, handle.OrderID)
	if err != nil {
		return Receipt{}, err
	}
	log.Info().
		Str("order_id", handle.OrderID).
		Str("checkout_url", link.CheckoutURL).
		Msg("checkout link created")
	return Receipt{
		Method:      MethodCheckoutLink,
		OrderID:     handle.OrderID,
		CheckoutURL: link.CheckoutURL,
		Status:      link.Status,
	}, nil
}

type WalletClient interface {
	PayOrderFromWallet(ctx context.Context, orderID string, amount decimal.Decimal) (*auction_api_client.WalletPayment, error)
}

// Wallet debits the in-app wallet.
type Wallet struct {
	client WalletClient
}

func NewWallet(client WalletClient) *Wallet {
	return &Wallet{client: client}
}

func (w *Wallet) Start(ctx context.Context, handle auction.PaymentHandle) (Receipt, error) {
	if !handle.Amount.IsPositive() {
		return Receipt{}, &auction.ValidationError{Field: "amount", Message: "wallet payment needs a positive amount"}
	}
	payment, err := w.client.PayOrderFromWallet(ctx, handle.OrderID, handle.Amount)
	if err != nil {
		return Receipt{}, err
	}
	log.Info().
		Str("order_id", handle.OrderID).
		Str("amount", handle.Amount.String()).
		Str("status", payment.Status).
		Msg("order paid from wallet")
	return Receipt{Method: MethodWallet, OrderID: payment.OrderID, Status: payment.Status}, nil
}

// Select returns the workflow registered for method.
func Select(method Method, workflows map[Method]Workflow) (Workflow, error) {
	w, ok := workflows[method]
	if !ok || w == nil {
		return nil, fmt.Errorf("payment method %q not configured", method)
	}
	return w, nil
}
