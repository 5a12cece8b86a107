package countdown

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/auctionroom/go/internal/auction/notify"
)

// DefaultInterval is how often the countdown is re-rendered.
const DefaultInterval = time.Second

// Remaining returns max(0, end - now).
func Remaining(now, end time.Time) time.Duration {
	if d := end.Sub(now); d > 0 {
		return d
	}
	return 0
}

// View is the derived countdown display. It is never persisted.
type View struct {
	EndTime   time.Time     `json:"end_time"`
	Remaining time.Duration `json:"remaining"`
	Expired   bool          `json:"expired"`
}

// Compute derives the view for a deadline at the given instant.
func Compute(now, end time.Time) View {
	r := Remaining(now, end)
	return View{EndTime: end, Remaining: r, Expired: r == 0}
}

// String renders the view the way the auction room shows it, e.g. "1h 4m 9s".
func (v View) String() string {
	if v.Expired {
		return "ended"
	}
	total := int64(v.Remaining / time.Second)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

// Ticker re-renders the countdown on a fixed interval from an immutable deadline copy.
// It never touches the auction snapshot; the owner pushes new deadlines with SetDeadline.
type Ticker struct {
	clock    clockwork.Clock
	interval time.Duration
	onExpire func(deadline time.Time)
	views    *notify.Hub[View]

	deadline atomic.Pointer[time.Time]
	refresh  chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewTicker creates a stopped ticker. onExpire is called from the ticker goroutine once per
// deadline value when the remaining time reaches zero.
func NewTicker(clock clockwork.Clock, interval time.Duration, onExpire func(deadline time.Time)) *Ticker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Ticker{
		clock:    clock,
		interval: interval,
		onExpire: onExpire,
		views:    notify.NewHub[View]("countdown", 4),
		refresh:  make(chan struct{}, 1),
	}
}

// Subscribe returns rendered views.
func (t *Ticker) Subscribe() (<-chan View, func()) {
	return t.views.Subscribe()
}

// Deadline returns the deadline currently rendered.
func (t *Ticker) Deadline() time.Time {
	if d := t.deadline.Load(); d != nil {
		return *d
	}
	return time.Time{}
}

// Current computes the view for the current instant without waiting for a tick.
func (t *Ticker) Current() View {
	return Compute(t.clock.Now(), t.Deadline())
}

// Start begins ticking toward end. Starting a running ticker only moves its deadline.
func (t *Ticker) Start(ctx context.Context, end time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.store(end)
	if t.cancel != nil {
		t.nudge()
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	go t.run(ctx, t.done)
}

// SetDeadline replaces the deadline and recomputes immediately.
func (t *Ticker) SetDeadline(end time.Time) {
	t.store(end)
	t.nudge()
}

// Stop cancels the ticker goroutine and waits for it to exit.
func (t *Ticker) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (t *Ticker) store(end time.Time) {
	e := end
	t.deadline.Store(&e)
}

func (t *Ticker) nudge() {
	select {
	case t.refresh <- struct{}{}:
	default:
	}
}

func (t *Ticker) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := t.clock.NewTicker(t.interval)
	defer ticker.Stop()

	var expiredFor time.Time
	render := func() {
		end := t.Deadline()
		v := Compute(t.clock.Now(), end)
		t.views.Offer(v)
		if v.Expired && !end.Equal(expiredFor) {
			expiredFor = end
			log.Debug().Time("deadline", end).Msg("countdown reached zero")
			if t.onExpire != nil {
				t.onExpire(end)
			}
		}
	}

	render()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			render()
		case <-t.refresh:
			render()
		}
	}
}
