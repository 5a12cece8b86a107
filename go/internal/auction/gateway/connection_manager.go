package gateway

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/auctionroom/go/internal/auction"
	"github.com/mcdev12/auctionroom/go/internal/auction/notify"
)

// Dialer opens the websocket. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// ConnectionManager owns the lifecycle of the realtime auction channel: connect,
// authenticate, detect drops and reconnect with capped exponential backoff.
type ConnectionManager struct {
	config ConnectionConfig
	dialer Dialer
	clock  clockwork.Clock
	rand   func() float64

	mu     sync.RWMutex
	state  auction.ConnectionState
	conn   *Connection
	cancel context.CancelFunc
	done   chan struct{}

	states *notify.Hub[auction.ConnectionState]
	events *notify.Hub[auction.Event]
}

// NewConnectionManager creates a disconnected manager. A nil dialer uses websocket.DefaultDialer.
func NewConnectionManager(config ConnectionConfig, dialer Dialer, clock clockwork.Clock) *ConnectionManager {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ConnectionManager{
		config: config,
		dialer: dialer,
		clock:  clock,
		rand:   rand.Float64,
		state:  auction.ConnectionState{Status: auction.ConnDisconnected},
		states: notify.NewHub[auction.ConnectionState]("connection_state", 16),
		events: notify.NewHub[auction.Event]("realtime_events", 64),
	}
}

// State returns the current connection state.
func (cm *ConnectionManager) State() auction.ConnectionState {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.state
}

// SubscribeState returns connection state transitions.
func (cm *ConnectionManager) SubscribeState() (<-chan auction.ConnectionState, func()) {
	return cm.states.Subscribe()
}

// SubscribeEvents returns every decoded server frame in arrival order.
func (cm *ConnectionManager) SubscribeEvents() (<-chan auction.Event, func()) {
	return cm.events.Subscribe()
}

// Connect starts the connection supervisor. It is a no-op unless the manager is disconnected.
func (cm *ConnectionManager) Connect(ctx context.Context, identity auction.Identity) error {
	cm.mu.Lock()
	if cm.state.Status != auction.ConnDisconnected {
		status := cm.state.Status
		cm.mu.Unlock()
		log.Debug().Str("status", string(status)).Msg("connect ignored, channel already active")
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	cm.cancel = cancel
	cm.done = make(chan struct{})
	cm.state = auction.ConnectionState{Status: auction.ConnConnecting}
	done := cm.done
	cm.mu.Unlock()

	cm.states.Offer(auction.ConnectionState{Status: auction.ConnConnecting})
	log.Info().Str("user_id", identity.UserID).Str("url", cm.config.URL).Msg("connecting realtime channel")

	go cm.run(runCtx, identity, done)
	return nil
}

// Disconnect stops the supervisor and closes the socket.
func (cm *ConnectionManager) Disconnect() {
	cm.mu.Lock()
	cancel, done := cm.cancel, cm.done
	cm.cancel, cm.done = nil, nil
	cm.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	cm.mu.Lock()
	cm.state = auction.ConnectionState{Status: auction.ConnDisconnected}
	cm.mu.Unlock()
	cm.states.Offer(auction.ConnectionState{Status: auction.ConnDisconnected})
	log.Info().Msg("realtime channel disconnected")
}

// Send enqueues an outbound frame. It fails with auction.ErrChannelUnavailable unless connected.
func (cm *ConnectionManager) Send(ctx context.Context, cmd auction.Command) error {
	data, err := cmd.Encode()
	if err != nil {
		return err
	}

	cm.mu.RLock()
	conn := cm.conn
	status := cm.state.Status
	cm.mu.RUnlock()

	if conn == nil || status != auction.ConnConnected {
		return fmt.Errorf("send %s: %w", cmd.Type, auction.ErrChannelUnavailable)
	}

	select {
	case conn.send <- data:
		log.Debug().Str("connection_id", conn.ID).Str("event", string(cmd.Type)).Msg("frame queued")
		return nil
	case <-conn.closed:
		return fmt.Errorf("send %s: %w", cmd.Type, auction.ErrChannelUnavailable)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the supervisor loop: dial, serve until the socket drops, back off, repeat.
func (cm *ConnectionManager) run(ctx context.Context, identity auction.Identity, done chan struct{}) {
	defer close(done)

	attempt := 0
	var lastErr error
	for {
		if attempt > 0 {
			if attempt > cm.config.Backoff.MaxAttempts {
				cm.fail(&auction.ConnectionError{
					Component: auction.ComponentConnection,
					Op:        "reconnect",
					Attempts:  attempt - 1,
					Err:       lastErr,
				})
				return
			}

			delay := cm.config.Backoff.Delay(attempt, cm.rand)
			cm.setState(ctx, auction.ConnectionState{
				Status:  auction.ConnReconnecting,
				Attempt: attempt,
				Backoff: delay,
			})
			log.Info().Int("attempt", attempt).Dur("backoff", delay).Msg("reconnecting realtime channel")

			select {
			case <-ctx.Done():
				return
			case <-cm.clock.After(delay):
			}
		}

		ws, err := cm.dial(ctx, identity)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			var authErr *auction.AuthError
			if errors.As(err, &authErr) {
				cm.fail(err)
				return
			}
			log.Warn().Err(err).Int("attempt", attempt).Msg("realtime dial failed")
			lastErr = err
			attempt++
			continue
		}

		conn := newConnection(cm, ws)
		cm.mu.Lock()
		cm.conn = conn
		cm.mu.Unlock()

		attempt, lastErr = 0, nil
		cm.setState(ctx, auction.ConnectionState{Status: auction.ConnConnected})
		log.Info().Str("connection_id", conn.ID).Msg("realtime channel connected")

		lastErr = conn.serve(ctx)

		cm.mu.Lock()
		cm.conn = nil
		cm.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(lastErr).Str("connection_id", conn.ID).Msg("realtime channel dropped")
		attempt = 1
	}
}

func (cm *ConnectionManager) dial(ctx context.Context, identity auction.Identity) (*websocket.Conn, error) {
	u, err := url.Parse(cm.config.URL)
	if err != nil {
		return nil, fmt.Errorf("parse channel url: %w", err)
	}
	q := u.Query()
	q.Set("userId", identity.UserID)
	u.RawQuery = q.Encode()

	header := http.Header{}
	if identity.Token != "" {
		header.Set("Authorization", "Bearer "+identity.Token)
	}

	dialCtx := ctx
	if cm.config.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cm.config.HandshakeTimeout)
		defer cancel()
	}

	ws, resp, err := cm.dialer.DialContext(dialCtx, u.String(), header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, &auction.AuthError{
				Component:  auction.ComponentConnection,
				StatusCode: resp.StatusCode,
				Err:        err,
			}
		}
		return nil, fmt.Errorf("dial %s: %w", u.Host, err)
	}
	return ws, nil
}

func (cm *ConnectionManager) setState(ctx context.Context, state auction.ConnectionState) {
	cm.mu.Lock()
	cm.state = state
	cm.mu.Unlock()

	if err := cm.states.Publish(ctx, state); err != nil {
		log.Debug().Err(err).Str("status", string(state.Status)).Msg("state notification abandoned")
	}
}

// fail surfaces a terminal error and leaves the manager disconnected so Connect can be retried.
func (cm *ConnectionManager) fail(err error) {
	log.Error().Err(err).Msg("realtime channel gave up")

	cm.mu.Lock()
	state := auction.ConnectionState{
		Status:  auction.ConnDisconnected,
		Attempt: cm.state.Attempt,
		Err:     err,
	}
	cm.state = state
	cancel := cm.cancel
	cm.cancel, cm.done = nil, nil
	cm.mu.Unlock()

	cm.states.Offer(state)
	if cancel != nil {
		cancel()
	}
}

func (cm *ConnectionManager) publishEvent(ctx context.Context, event auction.Event) error {
	return cm.events.Publish(ctx, event)
}

// readDeadline and writeDeadline use wall time; network deadlines are not driven by the injected clock.
func (cm *ConnectionManager) readDeadline() time.Time {
	return time.Now().Add(cm.config.ReadTimeout)
}

func (cm *ConnectionManager) writeDeadline() time.Time {
	return time.Now().Add(cm.config.WriteTimeout)
}
