package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/auctionroom/go/internal/auction"
)

type JetStreamConfig struct {
	URL             string
	StreamName      string
	SubjectPrefix   string
	MaxReconnects   int
	ReconnectWait   time.Duration
	MaxAge          time.Duration // How long to keep checkout requests
	Replicas        int
	DuplicateWindow time.Duration // Window in which a repeated order id is dropped
}

func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		URL:             nats.DefaultURL,
		StreamName:      "PAYMENT_CHECKOUT",
		SubjectPrefix:   "payment.checkout",
		MaxReconnects:   -1, // Infinite
		ReconnectWait:   2 * time.Second,
		MaxAge:          72 * time.Hour,
		Replicas:        1,
		DuplicateWindow: 24 * time.Hour,
	}
}

// msgPublisher is the slice of jetstream.JetStream the queue publishes through.
type msgPublisher interface {
	PublishMsg(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// CheckoutRequest is the message a payment worker consumes.
type CheckoutRequest struct {
	OrderID     string    `json:"orderId"`
	AuctionID   string    `json:"auctionId"`
	Amount      string    `json:"amount"`
	BuyerID     string    `json:"buyerId,omitempty"`
	RequestedAt time.Time `json:"requestedAt"`
}

// Queue publishes checkout requests to JetStream for an asynchronous payment worker.
// The order id is the message id, so repeated hand-offs of the same order are deduplicated.
type Queue struct {
	nc      *nats.Conn
	js      msgPublisher
	config  JetStreamConfig
	clock   clockwork.Clock
	buyerID string
}

// NewQueue connects to NATS and makes sure the checkout stream exists.
func NewQueue(cfg JetStreamConfig, buyerID string) (*Queue, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	if err := ensureStream(context.Background(), js, cfg); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	q := newQueue(js, cfg, buyerID, clockwork.NewRealClock())
	q.nc = nc
	return q, nil
}

func newQueue(js msgPublisher, cfg JetStreamConfig, buyerID string, clock clockwork.Clock) *Queue {
	return &Queue{js: js, config: cfg, clock: clock, buyerID: buyerID}
}

func ensureStream(ctx context.Context, js jetstream.JetStream, cfg JetStreamConfig) error {
	sc := jetstream.StreamConfig{
		Name:        cfg.StreamName,
		Description: "Checkout requests for won auctions",
		Subjects:    []string{fmt.Sprintf("%s.>", cfg.SubjectPrefix)},
		Retention:   jetstream.WorkQueuePolicy,
		MaxAge:      cfg.MaxAge,
		Storage:     jetstream.FileStorage,
		Replicas:    cfg.Replicas,
		Duplicates:  cfg.DuplicateWindow,
	}

	if _, err := js.CreateOrUpdateStream(ctx, sc); err != nil {
		return fmt.Errorf("create or update stream: %w", err)
	}
	log.Info().Str("stream", cfg.StreamName).Msg("JetStream stream ready")
	return nil
}

// Subject returns the subject a checkout for orderID is published on.
func (q *Queue) Subject(orderID string) string {
	return fmt.Sprintf("%s.%s", q.config.SubjectPrefix, orderID)
}

func (q *Queue) Start(ctx context.Context, handle auction.PaymentHandle) (Receipt, error) {
	if handle.OrderID == "" {
		return Receipt{}, &auction.ValidationError{Field: "order_id", Message: "must not be empty"}
	}

	data, err := json.Marshal(CheckoutRequest{
		OrderID:     handle.OrderID,
		AuctionID:   handle.AuctionID,
		Amount:      handle.Amount.String(),
		BuyerID:     q.buyerID,
		RequestedAt: q.clock.Now().UTC(),
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("marshal checkout request: %w", err)
	}

	subject := q.Subject(handle.OrderID)
	ack, err := q.js.PublishMsg(ctx, &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"Order-ID":   []string{handle.OrderID},
			"Auction-ID": []string{handle.AuctionID},
		},
	},
		jetstream.WithMsgID(handle.OrderID),
		jetstream.WithExpectStream(q.config.StreamName),
	)
	if err != nil {
		return Receipt{}, fmt.Errorf("publish to JetStream: %w", err)
	}

	log.Info().
		Str("subject", subject).
		Str("order_id", handle.OrderID).
		Uint64("sequence", ack.Sequence).
		Bool("duplicate", ack.Duplicate).
		Str("stream", ack.Stream).
		Msg("checkout request queued")

	status := "queued"
	if ack.Duplicate {
		status = "duplicate"
	}
	return Receipt{Method: MethodQueue, OrderID: handle.OrderID, Status: status, Sequence: ack.Sequence}, nil
}

func (q *Queue) Close() error {
	if q.nc != nil {
		q.nc.Close()
	}
	return nil
}
