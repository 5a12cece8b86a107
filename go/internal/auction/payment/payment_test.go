package payment

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/auctionroom/go/clients/auction_api_client"
	"github.com/mcdev12/auctionroom/go/internal/auction"
)

var handle = auction.PaymentHandle{OrderID: "o-7", AuctionID: "a1", Amount: decimal.RequireFromString("150000.50")}

type fakeBackend struct {
	orderID string
	amount  decimal.Decimal
	err     error
}

func (f *fakeBackend) CreatePaymentLink(_ context.Context, orderID string) (*auction_api_client.PaymentLink, error) {
	f.orderID = orderID
	if f.err != nil {
		return nil, f.err
	}
	return &auction_api_client.PaymentLink{CheckoutURL: "https://pay.example/" + orderID, Status: "PENDING"}, nil
}

func (f *fakeBackend) PayOrderFromWallet(_ context.Context, orderID string, amount decimal.Decimal) (*auction_api_client.WalletPayment, error) {
	f.orderID, f.amount = orderID, amount
	if f.err != nil {
		return nil, f.err
	}
	return &auction_api_client.WalletPayment{OrderID: orderID, Status: "paid"}, nil
}

func TestCheckoutLink(t *testing.T) {
	backend := &fakeBackend{}
	receipt, err := NewCheckoutLink(backend).Start(context.Background(), handle)
	assert.NoError(t, err)
	check.Equal(t, MethodCheckoutLink, receipt.Method)
	check.Equal(t, "https://pay.example/o-7", receipt.CheckoutURL)
	check.Equal(t, "o-7", backend.orderID)

	backend.err = errors.New("boom")
	_, err = NewCheckoutLink(backend).Start(context.Background(), handle)
	check.Error(t, err)
}

func TestWallet(t *testing.T) {
	backend := &fakeBackend{}
	receipt, err := NewWallet(backend).Start(context.Background(), handle)
	assert.NoError(t, err)
	check.Equal(t, MethodWallet, receipt.Method)
	check.Equal(t, "paid", receipt.Status)
	check.Equal(t, "150000.5", backend.amount.String())

	_, err = NewWallet(backend).Start(context.Background(), auction.PaymentHandle{OrderID: "o-8"})
	var valErr *auction.ValidationError
	check.True(t, errors.As(err, &valErr))
}

func TestSelect(t *testing.T) {
	wallet := NewWallet(&fakeBackend{})
	workflows := map[Method]Workflow{MethodWallet: wallet}

	w, err := Select(MethodWallet, workflows)
	assert.NoError(t, err)
	check.True(t, w == Workflow(wallet))

	_, err = Select(MethodQueue, workflows)
	check.Error(t, err)
}

type fakeJetStream struct {
	msgs  []*nats.Msg
	opts  int
	dup   bool
	err   error
	calls int
}

func (f *fakeJetStream) PublishMsg(_ context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	f.msgs = append(f.msgs, msg)
	f.opts = len(opts)
	return &jetstream.PubAck{Stream: "PAYMENT_CHECKOUT", Sequence: uint64(f.calls), Duplicate: f.dup}, nil
}

func TestQueue_PublishesCheckoutRequest(t *testing.T) {
	js := &fakeJetStream{}
	now := time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC)
	q := newQueue(js, DefaultJetStreamConfig(), "u-1", clockwork.NewFakeClockAt(now))

	receipt, err := q.Start(context.Background(), handle)
	assert.NoError(t, err)
	check.Equal(t, MethodQueue, receipt.Method)
	check.Equal(t, "queued", receipt.Status)
	check.Equal(t, uint64(1), receipt.Sequence)

	assert.Equal(t, 1, len(js.msgs))
	msg := js.msgs[0]
	check.Equal(t, "payment.checkout.o-7", msg.Subject)
	check.Equal(t, "o-7", msg.Header.Get("Order-ID"))
	check.Equal(t, "a1", msg.Header.Get("Auction-ID"))
	check.Equal(t, 2, js.opts)

	var req CheckoutRequest
	assert.NoError(t, json.Unmarshal(msg.Data, &req))
	check.Equal(t, "o-7", req.OrderID)
	check.Equal(t, "150000.5", req.Amount)
	check.Equal(t, "u-1", req.BuyerID)
	check.True(t, req.RequestedAt.Equal(now))
}

func TestQueue_DuplicateAndErrors(t *testing.T) {
	js := &fakeJetStream{dup: true}
	q := newQueue(js, DefaultJetStreamConfig(), "u-1", clockwork.NewFakeClock())

	receipt, err := q.Start(context.Background(), handle)
	assert.NoError(t, err)
	check.Equal(t, "duplicate", receipt.Status)

	_, err = q.Start(context.Background(), auction.PaymentHandle{})
	var valErr *auction.ValidationError
	check.True(t, errors.As(err, &valErr))

	js.err = errors.New("no responders")
	_, err = q.Start(context.Background(), handle)
	check.Error(t, err)
	check.Nil(t, q.Close())
}
