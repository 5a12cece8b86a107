package auction

import (
	"errors"
	"fmt"
)

// Component names the boundary an error originated from.
type Component string

const (
	ComponentConnection Component = "connection"
	ComponentSession    Component = "session"
	ComponentBidding    Component = "bidding"
	ComponentTransport  Component = "transport"
	ComponentResolver   Component = "resolver"
)

var (
	// ErrChannelUnavailable is returned when a frame is sent while the realtime channel is down.
	ErrChannelUnavailable = errors.New("realtime channel unavailable")
	ErrSessionBusy        = errors.New("session already joining or joined")
	ErrNotJoined          = errors.New("auction not joined")
	// ErrLeft is returned to callers whose pending operation was cancelled by Leave.
	ErrLeft             = errors.New("auction left")
	ErrMalformedPayload = errors.New("malformed payload")
	ErrUnknownIntent    = errors.New("unknown bid intent")
)

// ConnectionError is a transient transport failure. It reaches the UI only after retries
// are exhausted or a join could not be completed.
type ConnectionError struct {
	Component Component
	Op        string
	Attempts  int
	Err       error
}

func (e *ConnectionError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("%s: %s failed after %d attempts: %v", e.Component, e.Op, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s: %s failed: %v", e.Component, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// AuthError is terminal for the session and requires re-authentication.
type AuthError struct {
	Component  Component
	StatusCode int
	Err        error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: authentication rejected (status %d): %v", e.Component, e.StatusCode, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ValidationError is a local, pre-network bid validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ServerRejection is a bid the auction authority refused.
type ServerRejection struct {
	ClientBidID string
	Message     string
}

func (e *ServerRejection) Error() string {
	return fmt.Sprintf("%s: bid %s rejected: %s", ComponentBidding, e.ClientBidID, e.Message)
}

// TimeoutError marks a bid whose outcome is unknown. It is distinct from a rejection.
type TimeoutError struct {
	ClientBidID string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: bid %s outcome unknown", ComponentSession, e.ClientBidID)
}

// ResolutionError is a failed winner hand-off that can be retried without re-running the session.
type ResolutionError struct {
	AuctionID string
	Err       error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("%s: resolve auction %s: %v", ComponentResolver, e.AuctionID, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Origin returns the component an error is attributed to, or "" if it is not one of ours.
func Origin(err error) Component {
	var (
		connErr *ConnectionError
		authErr *AuthError
		valErr  *ValidationError
		rejErr  *ServerRejection
		toErr   *TimeoutError
		resErr  *ResolutionError
	)
	switch {
	case errors.As(err, &valErr):
		return ComponentBidding
	case errors.As(err, &rejErr):
		return ComponentBidding
	case errors.As(err, &toErr):
		return ComponentSession
	case errors.As(err, &resErr):
		return ComponentResolver
	case errors.As(err, &authErr):
		return authErr.Component
	case errors.As(err, &connErr):
		return connErr.Component
	case errors.Is(err, ErrChannelUnavailable):
		return ComponentTransport
	}
	return ""
}
