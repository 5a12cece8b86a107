package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/peterldowns/testy/assert"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/auctionroom/go/internal/auction"
	"github.com/mcdev12/auctionroom/go/internal/auction/notify"
)

var start = time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC)

const localUser = "user-local"

// fakeChannel hands every state and event to the loop synchronously (unbuffered hubs), so a
// barrier op posted after a push is processed after it.
type fakeChannel struct {
	mu      sync.Mutex
	state   auction.ConnectionState
	sent    []auction.Command
	sendErr error

	states *notify.Hub[auction.ConnectionState]
	events *notify.Hub[auction.Event]
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		state:  auction.ConnectionState{Status: auction.ConnConnected},
		states: notify.NewHub[auction.ConnectionState]("test_states", 0),
		events: notify.NewHub[auction.Event]("test_events", 0),
	}
}

func (f *fakeChannel) Send(_ context.Context, cmd auction.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, cmd)
	return nil
}

func (f *fakeChannel) State() auction.ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeChannel) SubscribeState() (<-chan auction.ConnectionState, func()) {
	return f.states.Subscribe()
}

func (f *fakeChannel) SubscribeEvents() (<-chan auction.Event, func()) {
	return f.events.Subscribe()
}

func (f *fakeChannel) setState(t *testing.T, s auction.ConnectionState) {
	t.Helper()
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, f.states.Publish(ctx, s))
}

func (f *fakeChannel) push(t *testing.T, typ auction.EventType, data map[string]any) {
	t.Helper()
	raw, err := json.Marshal(data)
	assert.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, f.events.Publish(ctx, auction.Event{Type: typ, Data: raw}))
}

func (f *fakeChannel) commands(typ auction.EventType) []auction.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []auction.Command
	for _, c := range f.sent {
		if c.Type == typ {
			out = append(out, c)
		}
	}
	return out
}

type fakeResolver struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (r *fakeResolver) Resolve(_ context.Context, final auction.Snapshot, localUserID string) (auction.Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return auction.Outcome{}, &auction.ResolutionError{AuctionID: final.AuctionID, Err: r.err}
	}
	out := auction.Outcome{AuctionID: final.AuctionID, IsWinner: final.WinnerID == localUserID}
	if out.IsWinner {
		out.Payment = &auction.PaymentHandle{OrderID: "order-" + final.AuctionID, AuctionID: final.AuctionID, Amount: final.CurrentPrice}
	}
	return out, nil
}

func (r *fakeResolver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type fakeFetcher struct {
	snapshot auction.Snapshot
	err      error
}

func (f *fakeFetcher) GetAuction(_ context.Context, auctionID string) (auction.Snapshot, error) {
	if f.err != nil {
		return auction.Snapshot{}, f.err
	}
	s := f.snapshot
	s.AuctionID = auctionID
	return s, nil
}

type harness struct {
	t        *testing.T
	ctrl     *Controller
	channel  *fakeChannel
	resolver *fakeResolver
	fetcher  *fakeFetcher
	clock    *clockwork.FakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		channel:  newFakeChannel(),
		resolver: &fakeResolver{},
		fetcher:  &fakeFetcher{},
		clock:    clockwork.NewFakeClockAt(start),
	}
	h.ctrl = NewController(DefaultConfig(), localUser, Deps{
		Channel:  h.channel,
		Fetcher:  h.fetcher,
		Resolver: h.resolver,
		Clock:    h.clock,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.ctrl.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

// sync returns once every push handed to the loop before it has been applied.
func (h *harness) sync() {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(h.t, h.ctrl.do(ctx, func(context.Context) error { return nil }))
}

func stateData(auctionID string, price int64, end time.Time) map[string]any {
	return map[string]any{
		"id":           auctionID,
		"currentPrice": price,
		"minIncrement": 1000,
		"endTime":      end.Format(time.RFC3339Nano),
		"status":       "live",
		"bidCount":     3,
	}
}

// join runs Join and answers it with a full state.
func (h *harness) join(auctionID string, price int64, end time.Time) {
	h.t.Helper()
	before := len(h.channel.commands(auction.EventJoin))
	errc := make(chan error, 1)
	go func() { errc <- h.ctrl.Join(context.Background(), auctionID) }()

	waitUntil(h.t, func() bool { return len(h.channel.commands(auction.EventJoin)) > before })
	h.channel.push(h.t, auction.EventState, stateData(auctionID, price, end))

	select {
	case err := <-errc:
		assert.NoError(h.t, err)
	case <-time.After(2 * time.Second):
		h.t.Fatal("join did not complete")
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func intentFor(auctionID, id string, amount int64) auction.BidIntent {
	return auction.BidIntent{
		ClientBidID: id,
		AuctionID:   auctionID,
		BidderID:    localUser,
		Amount:      decimal.NewFromInt(amount),
		SubmittedAt: start,
		Via:         auction.RouteRealtime,
	}
}

func findIntent(intents []auction.BidIntent, id string) (auction.BidIntent, bool) {
	for _, in := range intents {
		if in.ClientBidID == id {
			return in, true
		}
	}
	return auction.BidIntent{}, false
}

func decimalOf(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}
