package bidding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/auctionroom/go/clients"
	"github.com/mcdev12/auctionroom/go/clients/auction_api_client"
	"github.com/mcdev12/auctionroom/go/internal/auction"
	"github.com/mcdev12/auctionroom/go/internal/auction/countdown"
)

var now = time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC)

type resolution struct {
	id     string
	res    auction.BidResolution
	reason string
	via    auction.Route
}

type fakeSession struct {
	mu        sync.Mutex
	snapshot  auction.Snapshot
	joined    bool
	phase     auction.Phase
	tracked   []auction.BidIntent
	resolved  []resolution
	refreshes int
	// resolveErr is returned by ResolveIntent, as after the auction was left.
	resolveErr error
}

func liveSession() *fakeSession {
	return &fakeSession{
		joined: true,
		phase:  auction.PhaseJoined,
		snapshot: auction.Snapshot{
			AuctionID:    "a1",
			CurrentPrice: decimal.NewFromInt(100000),
			MinIncrement: decimal.NewFromInt(1000),
			EndTime:      now.Add(time.Minute),
			Status:       auction.StatusLive,
		},
	}
}

func (f *fakeSession) Snapshot() (auction.Snapshot, bool) { return f.snapshot, f.joined }
func (f *fakeSession) Phase() auction.Phase               { return f.phase }
func (f *fakeSession) LocalUserID() string                { return "u-1" }
func (f *fakeSession) Countdown() countdown.View {
	return countdown.Compute(now, f.snapshot.EndTime)
}

func (f *fakeSession) TrackIntent(_ context.Context, intent auction.BidIntent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracked = append(f.tracked, intent)
	return nil
}

func (f *fakeSession) ResolveIntent(_ context.Context, id string, res auction.BidResolution, reason string, via auction.Route) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolveErr != nil {
		return f.resolveErr
	}
	f.resolved = append(f.resolved, resolution{id, res, reason, via})
	return nil
}

func (f *fakeSession) Refresh(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return nil
}

type fakeChannel struct {
	status auction.ConnectionStatus
	err    error
	sent   []auction.Command
}

func (f *fakeChannel) State() auction.ConnectionState {
	return auction.ConnectionState{Status: f.status}
}

func (f *fakeChannel) Send(_ context.Context, cmd auction.Command) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, cmd)
	return nil
}

type fakePlacer struct {
	err  error
	keys []string
}

func (f *fakePlacer) PlaceBid(_ context.Context, auctionID string, amount decimal.Decimal, key string) (*auction_api_client.PlaceBidResponse, error) {
	f.keys = append(f.keys, key)
	if f.err != nil {
		return nil, f.err
	}
	return &auction_api_client.PlaceBidResponse{AuctionID: auctionID, Amount: &amount}, nil
}

func newSubmitter(sess *fakeSession, ch *fakeChannel, placer *fakePlacer) *Submitter {
	selector := NewSelector(ch, NewRealtimeTransport(ch), NewRESTTransport(placer))
	return NewSubmitter(sess, selector, clockwork.NewFakeClockAt(now))
}

func TestSubmit_MinimumBidScenario(t *testing.T) {
	tests := []struct {
		name      string
		amount    string
		wantField string
	}{
		{"below minimum", "100500", "amount"},
		{"equal to current", "100000", "amount"},
		{"zero", "0", "amount"},
		{"negative", "-5", "amount"},
		{"exact minimum", "101000", ""},
		{"above minimum", "250000.75", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := liveSession()
			ch := &fakeChannel{status: auction.ConnConnected}
			sub := newSubmitter(sess, ch, &fakePlacer{})

			intent, err := sub.Submit(context.Background(), decimal.RequireFromString(tt.amount))
			if tt.wantField != "" {
				var valErr *auction.ValidationError
				assert.True(t, errors.As(err, &valErr))
				check.Equal(t, tt.wantField, valErr.Field)
				check.Equal(t, 0, len(sess.tracked))
				check.Equal(t, 0, len(ch.sent))
				return
			}
			assert.NoError(t, err)
			check.Equal(t, auction.BidPending, intent.Resolution)
			check.Equal(t, auction.RouteRealtime, intent.Via)
			check.Equal(t, 1, len(sess.tracked))
			check.Equal(t, 1, len(ch.sent))
			check.Equal(t, auction.EventPlaceBid, ch.sent[0].Type)
		})
	}
}

func TestSubmit_MinimumMessage(t *testing.T) {
	sub := newSubmitter(liveSession(), &fakeChannel{status: auction.ConnConnected}, &fakePlacer{})

	_, err := sub.Submit(context.Background(), decimal.NewFromInt(100500))
	check.Equal(t, "amount: must be at least 101000", err.Error())
	check.Equal(t, auction.ComponentBidding, auction.Origin(err))
}

func TestSubmit_RequiresLiveSession(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*fakeSession)
	}{
		{"not joined", func(s *fakeSession) { s.joined = false; s.phase = auction.PhaseIdle }},
		{"still joining", func(s *fakeSession) { s.phase = auction.PhaseJoining }},
		{"ended phase", func(s *fakeSession) { s.phase = auction.PhaseEnded }},
		{"scheduled", func(s *fakeSession) { s.snapshot.Status = auction.StatusScheduled }},
		{"countdown expired", func(s *fakeSession) { s.snapshot.EndTime = now }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := liveSession()
			tt.mutate(sess)
			ch := &fakeChannel{status: auction.ConnConnected}
			sub := newSubmitter(sess, ch, &fakePlacer{})

			_, err := sub.Submit(context.Background(), decimal.NewFromInt(200000))
			var valErr *auction.ValidationError
			assert.True(t, errors.As(err, &valErr))
			check.Equal(t, "auction", valErr.Field)
			check.Equal(t, 0, len(ch.sent))
		})
	}
}

func TestSubmit_FreshTokenPerSubmission(t *testing.T) {
	sess := liveSession()
	ch := &fakeChannel{status: auction.ConnConnected}
	sub := newSubmitter(sess, ch, &fakePlacer{})

	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		intent, err := sub.Submit(context.Background(), decimal.NewFromInt(101000))
		assert.NoError(t, err)
		check.False(t, seen[intent.ClientBidID])
		seen[intent.ClientBidID] = true
	}
	check.Equal(t, 5, len(seen))
	check.Equal(t, 5, len(ch.sent))
}

func TestSubmit_FallsBackToRESTWhenChannelDrops(t *testing.T) {
	sess := liveSession()
	ch := &fakeChannel{status: auction.ConnConnected, err: fmt.Errorf("send: %w", auction.ErrChannelUnavailable)}
	placer := &fakePlacer{}
	sub := newSubmitter(sess, ch, placer)

	intent, err := sub.Submit(context.Background(), decimal.NewFromInt(101000))
	assert.NoError(t, err)
	check.Equal(t, auction.BidAccepted, intent.Resolution)
	check.Equal(t, auction.RouteREST, intent.Via)

	assert.Equal(t, 1, len(placer.keys))
	check.Equal(t, intent.ClientBidID, placer.keys[0])
	check.Equal(t, sess.tracked[0].ClientBidID, placer.keys[0])
	assert.Equal(t, 1, len(sess.resolved))
	check.Equal(t, auction.BidAccepted, sess.resolved[0].res)
	check.Equal(t, 1, sess.refreshes)
}

func TestSubmit_UsesRESTWhileReconnecting(t *testing.T) {
	sess := liveSession()
	ch := &fakeChannel{status: auction.ConnReconnecting}
	placer := &fakePlacer{}
	sub := newSubmitter(sess, ch, placer)

	intent, err := sub.Submit(context.Background(), decimal.NewFromInt(101000))
	assert.NoError(t, err)
	check.Equal(t, auction.RouteREST, sess.tracked[0].Via)
	check.Equal(t, auction.BidAccepted, intent.Resolution)
	check.Equal(t, 0, len(ch.sent))
	check.Equal(t, 1, len(placer.keys))
}

func TestSubmit_RESTOutcomes(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantResolved auction.BidResolution
		verify       func(t *testing.T, err error)
	}{
		{
			name:         "conflict rejects",
			err:          &clients.StatusError{StatusCode: http.StatusConflict, Message: "outbid"},
			wantResolved: auction.BidRejected,
			verify: func(t *testing.T, err error) {
				var rej *auction.ServerRejection
				assert.True(t, errors.As(err, &rej))
				check.Equal(t, "outbid", rej.Message)
			},
		},
		{
			name:         "unauthorized is terminal",
			err:          &clients.StatusError{StatusCode: http.StatusUnauthorized},
			wantResolved: auction.BidRejected,
			verify: func(t *testing.T, err error) {
				var authErr *auction.AuthError
				assert.True(t, errors.As(err, &authErr))
				check.Equal(t, http.StatusUnauthorized, authErr.StatusCode)
			},
		},
		{
			name:         "unsuccessful envelope rejects",
			err:          fmt.Errorf("failed to place bid on a1: %w", &clients.EnvelopeError{Message: "Bid must be higher than current price"}),
			wantResolved: auction.BidRejected,
			verify: func(t *testing.T, err error) {
				var rej *auction.ServerRejection
				assert.True(t, errors.As(err, &rej))
				check.Equal(t, "Bid must be higher than current price", rej.Message)
				check.Equal(t, auction.ComponentBidding, auction.Origin(err))
			},
		},
		{
			name: "server error leaves outcome unknown",
			err:  &clients.StatusError{StatusCode: http.StatusBadGateway},
			verify: func(t *testing.T, err error) {
				var connErr *auction.ConnectionError
				assert.True(t, errors.As(err, &connErr))
				check.Equal(t, auction.ComponentTransport, connErr.Component)
			},
		},
		{
			name: "network error leaves outcome unknown",
			err:  errors.New("dial tcp: connection refused"),
			verify: func(t *testing.T, err error) {
				check.Equal(t, auction.ComponentTransport, auction.Origin(err))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := liveSession()
			sub := newSubmitter(sess, &fakeChannel{status: auction.ConnDisconnected}, &fakePlacer{err: tt.err})

			intent, err := sub.Submit(context.Background(), decimal.NewFromInt(101000))
			tt.verify(t, err)
			check.Equal(t, 1, len(sess.tracked))
			check.Equal(t, 0, sess.refreshes)

			if tt.wantResolved == "" {
				check.Equal(t, 0, len(sess.resolved))
				check.Equal(t, auction.BidPending, intent.Resolution)
				return
			}
			assert.Equal(t, 1, len(sess.resolved))
			check.Equal(t, tt.wantResolved, sess.resolved[0].res)
			check.Equal(t, tt.wantResolved, intent.Resolution)
		})
	}
}

func TestRealtimeTransport_Frame(t *testing.T) {
	ch := &fakeChannel{status: auction.ConnConnected}
	tr := NewRealtimeTransport(ch)

	res, err := tr.Send(context.Background(), Bid{AuctionID: "a1", Amount: decimal.RequireFromString("101000.5"), ClientBidID: "b-1", BidderID: "u-1"})
	assert.NoError(t, err)
	check.False(t, res.Decided)

	frame, err := ch.sent[0].Encode()
	assert.NoError(t, err)
	check.Equal(t, `{"event":"auction:place_bid","data":{"auctionId":"a1","amount":101000.5,"clientBidId":"b-1","bidderId":"u-1"}}`, string(frame))
}

func TestSubmit_RESTEnvelopeRejectionFromServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		check.Equal(t, "/auction/a1/bid", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"success":false,"message":"Bid must be higher than current price"}`))
	}))
	defer srv.Close()

	sess := liveSession()
	ch := &fakeChannel{status: auction.ConnDisconnected}
	api := auction_api_client.NewAuctionApiClient(srv.URL, "token")
	selector := NewSelector(ch, NewRealtimeTransport(ch), NewRESTTransport(api))
	sub := NewSubmitter(sess, selector, clockwork.NewFakeClockAt(now))

	intent, err := sub.Submit(context.Background(), decimal.NewFromInt(101000))
	var rej *auction.ServerRejection
	assert.True(t, errors.As(err, &rej))
	check.Equal(t, "Bid must be higher than current price", rej.Message)
	check.Equal(t, auction.BidRejected, intent.Resolution)
	check.Equal(t, auction.RouteREST, intent.Via)
	assert.Equal(t, 1, len(sess.resolved))
	check.Equal(t, auction.BidRejected, sess.resolved[0].res)
	check.Equal(t, 0, sess.refreshes)
}

func TestSubmit_RESTDecisionAfterLeaveIsDiscarded(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"intent already cleared", fmt.Errorf("resolve b-1: %w", auction.ErrUnknownIntent)},
		{"session no longer joined", auction.ErrNotJoined},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := liveSession()
			sess.resolveErr = tt.err
			sub := newSubmitter(sess, &fakeChannel{status: auction.ConnDisconnected}, &fakePlacer{})

			intent, err := sub.Submit(context.Background(), decimal.NewFromInt(101000))
			check.True(t, errors.Is(err, auction.ErrLeft))
			check.Equal(t, auction.BidTimedOut, intent.Resolution)
			check.Equal(t, 0, sess.refreshes)
		})
	}
}

func TestSubmit_NoTransportConfigured(t *testing.T) {
	sess := liveSession()
	ch := &fakeChannel{status: auction.ConnConnected}
	sub := NewSubmitter(sess, NewSelector(ch, nil, nil), clockwork.NewFakeClockAt(now))

	_, err := sub.Submit(context.Background(), decimal.NewFromInt(101000))
	check.True(t, errors.Is(err, auction.ErrChannelUnavailable))
	check.Equal(t, 0, len(sess.tracked))
}
