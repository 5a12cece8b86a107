// Package winner decides what a finished auction means for the local user.
package winner

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/auctionroom/go/clients/auction_api_client"
	"github.com/mcdev12/auctionroom/go/internal/auction"
	"github.com/mcdev12/auctionroom/go/internal/auction/payment"
)

// OrderLookup finds the order the backend created for a finished auction.
type OrderLookup interface {
	OrderForAuction(ctx context.Context, auctionID string) (*auction_api_client.Order, error)
}

// Resolver is the WinnerResolver.
type Resolver struct {
	orders   OrderLookup
	payments payment.Workflow
}

func NewResolver(orders OrderLookup, payments payment.Workflow) *Resolver {
	return &Resolver{orders: orders, payments: payments}
}

// Resolve compares the final winner with the local user. A winner gets a payment handle;
// a failed order lookup is a retryable *auction.ResolutionError.
func (r *Resolver) Resolve(ctx context.Context, final auction.Snapshot, localUserID string) (auction.Outcome, error) {
	out := auction.Outcome{AuctionID: final.AuctionID}
	if final.WinnerID == "" || final.WinnerID != localUserID {
		log.Info().
			Str("auction_id", final.AuctionID).
			Str("winner_id", final.WinnerID).
			Msg("auction lost")
		return out, nil
	}
	out.IsWinner = true

	order, err := r.orders.OrderForAuction(ctx, final.AuctionID)
	if err != nil {
		return out, &auction.ResolutionError{AuctionID: final.AuctionID, Err: err}
	}

	amount, ok := order.Total()
	if !ok {
		amount = final.CurrentPrice
	}
	out.Payment = &auction.PaymentHandle{
		OrderID:   order.Key(),
		AuctionID: final.AuctionID,
		Amount:    amount,
	}

	log.Info().
		Str("auction_id", final.AuctionID).
		Str("order_id", out.Payment.OrderID).
		Str("amount", amount.String()).
		Msg("auction won")
	return out, nil
}

// Checkout hands the order to the configured payment workflow.
func (r *Resolver) Checkout(ctx context.Context, handle auction.PaymentHandle) (payment.Receipt, error) {
	if r.payments == nil {
		return payment.Receipt{}, errors.New("no payment workflow configured")
	}
	receipt, err := r.payments.Start(ctx, handle)
	if err != nil {
		return payment.Receipt{}, &auction.ResolutionError{AuctionID: handle.AuctionID, Err: err}
	}
	return receipt, nil
}
