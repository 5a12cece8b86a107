// Package session owns the joined auction: its snapshot, its pending bids and its terminal
// transition. All mutations are applied by the single goroutine running Controller.Run.
package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/auctionroom/go/internal/auction"
	"github.com/mcdev12/auctionroom/go/internal/auction/countdown"
	"github.com/mcdev12/auctionroom/go/internal/auction/notify"
)

var (
	// ErrClosed is returned once Run has exited.
	ErrClosed      = errors.New("session controller stopped")
	ErrNotEnded    = errors.New("auction has not ended")
	ErrAlreadyRuns = errors.New("session controller already running")
)

// Channel is the realtime side the controller needs from gateway.ConnectionManager.
type Channel interface {
	Send(ctx context.Context, cmd auction.Command) error
	State() auction.ConnectionState
	SubscribeState() (<-chan auction.ConnectionState, func())
	SubscribeEvents() (<-chan auction.Event, func())
}

// Fetcher reads auction state over REST.
type Fetcher interface {
	GetAuction(ctx context.Context, auctionID string) (auction.Snapshot, error)
}

// Resolver turns a final snapshot into an outcome for the local user.
type Resolver interface {
	Resolve(ctx context.Context, final auction.Snapshot, localUserID string) (auction.Outcome, error)
}

// Config holds session timing.
type Config struct {
	JoinTimeout       time.Duration
	BidTimeout        time.Duration
	CountdownInterval time.Duration
}

// DefaultConfig returns default session timing
func DefaultConfig() Config {
	return Config{
		JoinTimeout:       10 * time.Second,
		BidTimeout:        8 * time.Second,
		CountdownInterval: countdown.DefaultInterval,
	}
}

// Deps are the collaborators injected at the composition root.
type Deps struct {
	Channel  Channel
	Fetcher  Fetcher
	Resolver Resolver
	Clock    clockwork.Clock
}

type op func(ctx context.Context)

// Controller is the SessionController for one user.
type Controller struct {
	config   Config
	userID   string
	channel  Channel
	fetcher  Fetcher
	resolver Resolver
	clock    clockwork.Clock
	ticker   *countdown.Ticker

	ops     chan op
	stopped chan struct{}
	running atomic.Bool

	snapshots *notify.Hub[auction.Snapshot]
	intentsCh *notify.Hub[auction.BidIntent]
	outcomes  *notify.Hub[auction.Outcome]
	notices   *notify.Hub[auction.Notice]

	// Readable from any goroutine, written only by the loop.
	mu        sync.RWMutex
	phase     auction.Phase
	auctionID string
	snapshot  *auction.Snapshot
	intents   map[string]*trackedIntent
	final     *auction.Snapshot
	outcome   *auction.Outcome

	// Loop-owned.
	loop loopState
}

// NewController creates an idle controller. Call Run before any other method can complete.
func NewController(config Config, localUserID string, deps Deps) *Controller {
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	c := &Controller{
		config:    config,
		userID:    localUserID,
		channel:   deps.Channel,
		fetcher:   deps.Fetcher,
		resolver:  deps.Resolver,
		clock:     clock,
		ops:       make(chan op, 64),
		stopped:   make(chan struct{}),
		snapshots: notify.NewHub[auction.Snapshot]("snapshots", 32),
		intentsCh: notify.NewHub[auction.BidIntent]("bid_intents", 64),
		outcomes:  notify.NewHub[auction.Outcome]("outcomes", 4),
		notices:   notify.NewHub[auction.Notice]("notices", 32),
		phase:     auction.PhaseIdle,
		intents:   make(map[string]*trackedIntent),
	}
	c.ticker = countdown.NewTicker(clock, config.CountdownInterval, c.countdownExpired)
	return c
}

// LocalUserID returns who this session bids as.
func (c *Controller) LocalUserID() string {
	return c.userID
}

// Run applies commands, pushes, connection changes and timer fires in arrival order until ctx
// is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRuns
	}
	defer close(c.stopped)

	states, unsubscribeStates := c.channel.SubscribeState()
	defer unsubscribeStates()
	c.loop.conn = c.channel.State().Status

	log.Info().Str("user_id", c.userID).Msg("session controller started")
	defer func() {
		c.teardown(ctx, "session stopped")
		log.Info().Str("user_id", c.userID).Msg("session controller stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-c.ops:
			fn(ctx)
		case event := <-c.loop.events:
			c.handleEvent(ctx, event)
		case state := <-states:
			c.handleConnectionState(ctx, state)
		}
	}
}

// Join subscribes to auctionID and waits for its first full state.
func (c *Controller) Join(ctx context.Context, auctionID string) error {
	waiter := make(chan error, 1)
	var gen uint64
	err := c.do(ctx, func(lctx context.Context) error {
		var err error
		gen, err = c.startJoin(lctx, auctionID, waiter)
		return err
	})
	if err != nil {
		return err
	}

	select {
	case err := <-waiter:
		return err
	case <-c.stopped:
		return ErrClosed
	case <-ctx.Done():
		c.post(context.Background(), func(lctx context.Context) {
			c.abortJoin(lctx, gen, "join cancelled by caller")
		})
		return ctx.Err()
	}
}

// Leave tears the session down. Leaving an auction that is not joined is a no-op.
func (c *Controller) Leave(ctx context.Context, auctionID string) error {
	return c.do(ctx, func(lctx context.Context) error {
		c.leave(lctx, auctionID)
		return nil
	})
}

// FetchReadOnly reads the auction over REST without joining. It is the non-live fallback view.
func (c *Controller) FetchReadOnly(ctx context.Context, auctionID string) (auction.Snapshot, error) {
	if c.fetcher == nil {
		return auction.Snapshot{}, auction.ErrChannelUnavailable
	}
	return c.fetcher.GetAuction(ctx, auctionID)
}

// Refresh re-reads the joined auction over REST and applies it as a full state.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.RLock()
	auctionID, phase := c.auctionID, c.phase
	c.mu.RUnlock()
	if phase != auction.PhaseJoined || c.fetcher == nil {
		return auction.ErrNotJoined
	}

	fresh, err := c.fetcher.GetAuction(ctx, auctionID)
	if err != nil {
		return err
	}
	return c.do(ctx, func(lctx context.Context) error {
		c.applyRefresh(lctx, fresh)
		return nil
	})
}

// TrackIntent registers a pending bid and starts its resolution timeout.
func (c *Controller) TrackIntent(ctx context.Context, intent auction.BidIntent) error {
	return c.do(ctx, func(lctx context.Context) error {
		return c.track(intent)
	})
}

// ResolveIntent settles a pending bid. Settling an already final intent is a no-op.
func (c *Controller) ResolveIntent(ctx context.Context, clientBidID string, resolution auction.BidResolution, reason string, via auction.Route) error {
	return c.do(ctx, func(lctx context.Context) error {
		return c.resolveIntent(clientBidID, resolution, reason, via)
	})
}

// RetryOutcome re-runs winner resolution on the stored final snapshot.
func (c *Controller) RetryOutcome(ctx context.Context) (auction.Outcome, error) {
	c.mu.RLock()
	final := c.final
	c.mu.RUnlock()
	if final == nil {
		return auction.Outcome{}, ErrNotEnded
	}
	out := c.resolve(ctx, final.Clone())
	return out, out.Err
}

// Snapshot returns a copy of the current snapshot, if joined.
func (c *Controller) Snapshot() (auction.Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snapshot == nil {
		return auction.Snapshot{}, false
	}
	return c.snapshot.Clone(), true
}

// Phase returns the state machine position.
func (c *Controller) Phase() auction.Phase {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.phase
}

// AuctionID returns the joined or joining auction, or "".
func (c *Controller) AuctionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.auctionID
}

// Outcome returns the last resolved outcome, if any.
func (c *Controller) Outcome() (auction.Outcome, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.outcome == nil {
		return auction.Outcome{}, false
	}
	return *c.outcome, true
}

// Intents returns every tracked intent, oldest first.
func (c *Controller) Intents() []auction.BidIntent {
	c.mu.RLock()
	out := make([]auction.BidIntent, 0, len(c.intents))
	for _, ti := range c.intents {
		out = append(out, ti.intent)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out
}

// Countdown computes the countdown view for now.
func (c *Controller) Countdown() countdown.View {
	return c.ticker.Current()
}

// ConnectionState passes through the channel's state.
func (c *Controller) ConnectionState() auction.ConnectionState {
	return c.channel.State()
}

func (c *Controller) SubscribeSnapshots() (<-chan auction.Snapshot, func()) {
	return c.snapshots.Subscribe()
}

func (c *Controller) SubscribeIntents() (<-chan auction.BidIntent, func()) {
	return c.intentsCh.Subscribe()
}

func (c *Controller) SubscribeOutcome() (<-chan auction.Outcome, func()) {
	return c.outcomes.Subscribe()
}

func (c *Controller) SubscribeNotices() (<-chan auction.Notice, func()) {
	return c.notices.Subscribe()
}

func (c *Controller) SubscribeCountdown() (<-chan countdown.View, func()) {
	return c.ticker.Subscribe()
}

// post hands fn to the loop.
func (c *Controller) post(ctx context.Context, fn op) error {
	select {
	case c.ops <- fn:
		return nil
	case <-c.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// do runs fn on the loop and waits for its result.
func (c *Controller) do(ctx context.Context, fn func(lctx context.Context) error) error {
	reply := make(chan error, 1)
	if err := c.post(ctx, func(lctx context.Context) { reply <- fn(lctx) }); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-c.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// countdownExpired runs on the ticker goroutine and must not block it.
func (c *Controller) countdownExpired(deadline time.Time) {
	go c.post(context.Background(), func(lctx context.Context) {
		c.handleExpiry(lctx, deadline)
	})
}
