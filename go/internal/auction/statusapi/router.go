// Package statusapi exposes the running session to a companion UI on a local port.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/auctionroom/go/internal/auction"
	"github.com/mcdev12/auctionroom/go/internal/auction/countdown"
)

// Session is the read side of *session.Controller.
type Session interface {
	Snapshot() (auction.Snapshot, bool)
	Phase() auction.Phase
	AuctionID() string
	Countdown() countdown.View
	ConnectionState() auction.ConnectionState
	Intents() []auction.BidIntent
	Outcome() (auction.Outcome, bool)
}

// Bidder is *bidding.Submitter.
type Bidder interface {
	Submit(ctx context.Context, amount decimal.Decimal) (auction.BidIntent, error)
}

type handler struct {
	session Session
	bidder  Bidder
}

// NewRouter registers the status routes and wraps them with CORS. bidder may be nil for a
// read-only view.
func NewRouter(session Session, bidder Bidder) http.Handler {
	h := &handler{session: session, bidder: bidder}

	r := chi.NewRouter()
	r.Use(requestLogging)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/session", func(r chi.Router) {
		r.Get("/", h.getState)
		r.Get("/countdown", h.getCountdown)
		r.Get("/intents", h.getIntents)
		if bidder != nil {
			r.Post("/bids", h.postBid)
		}
	})

	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodHead, http.MethodGet, http.MethodPost},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(r)
}

type connectionResponse struct {
	Status  auction.ConnectionStatus `json:"status"`
	Attempt int                      `json:"attempt"`
	Backoff string                   `json:"backoff,omitempty"`
	Error   string                   `json:"error,omitempty"`
}

type countdownResponse struct {
	EndTime   *time.Time `json:"end_time,omitempty"`
	Remaining string     `json:"remaining"`
	Seconds   int64      `json:"seconds"`
	Expired   bool       `json:"expired"`
}

type stateResponse struct {
	AuctionID  string             `json:"auction_id,omitempty"`
	Phase      auction.Phase      `json:"phase"`
	Snapshot   *auction.Snapshot  `json:"snapshot,omitempty"`
	MinimumBid *decimal.Decimal   `json:"minimum_bid,omitempty"`
	Countdown  *countdownResponse `json:"countdown,omitempty"`
	Connection connectionResponse `json:"connection"`
	Outcome    *auction.Outcome   `json:"outcome,omitempty"`
}

func toConnection(s auction.ConnectionState) connectionResponse {
	resp := connectionResponse{Status: s.Status, Attempt: s.Attempt}
	if s.Backoff > 0 {
		resp.Backoff = s.Backoff.String()
	}
	if s.Err != nil {
		resp.Error = s.Err.Error()
	}
	return resp
}

func toCountdown(v countdown.View) *countdownResponse {
	if v.EndTime.IsZero() {
		return nil
	}
	end := v.EndTime
	return &countdownResponse{
		EndTime:   &end,
		Remaining: v.String(),
		Seconds:   int64(v.Remaining / time.Second),
		Expired:   v.Expired,
	}
}

func (h *handler) getState(w http.ResponseWriter, r *http.Request) {
	resp := stateResponse{
		AuctionID:  h.session.AuctionID(),
		Phase:      h.session.Phase(),
		Connection: toConnection(h.session.ConnectionState()),
	}
	if snap, ok := h.session.Snapshot(); ok {
		minimum := snap.MinimumBid()
		resp.Snapshot = &snap
		resp.MinimumBid = &minimum
		resp.Countdown = toCountdown(h.session.Countdown())
	}
	if out, ok := h.session.Outcome(); ok {
		resp.Outcome = &out
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) getCountdown(w http.ResponseWriter, r *http.Request) {
	cd := toCountdown(h.session.Countdown())
	if cd == nil {
		writeError(w, http.StatusNotFound, "not_joined", "no auction joined")
		return
	}
	writeJSON(w, http.StatusOK, cd)
}

func (h *handler) getIntents(w http.ResponseWriter, r *http.Request) {
	intents := h.session.Intents()
	if intents == nil {
		intents = []auction.BidIntent{}
	}
	writeJSON(w, http.StatusOK, intents)
}

type bidRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (h *handler) postBid(w http.ResponseWriter, r *http.Request) {
	var req bidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "body must be {\"amount\": <number>}")
		return
	}

	intent, err := h.bidder.Submit(r.Context(), req.Amount)
	if err != nil {
		status, code := errorStatus(err)
		if intent.ClientBidID == "" {
			writeError(w, status, code, err.Error())
			return
		}
		writeJSON(w, status, map[string]any{"error": code, "message": err.Error(), "intent": intent})
		return
	}

	status := http.StatusAccepted
	if intent.Resolution == auction.BidAccepted {
		status = http.StatusOK
	}
	writeJSON(w, status, intent)
}

func errorStatus(err error) (int, string) {
	var (
		valErr  *auction.ValidationError
		rejErr  *auction.ServerRejection
		authErr *auction.AuthError
	)
	switch {
	case errors.As(err, &valErr):
		return http.StatusUnprocessableEntity, "validation_failed"
	case errors.As(err, &rejErr):
		return http.StatusConflict, "bid_rejected"
	case errors.As(err, &authErr):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, auction.ErrChannelUnavailable):
		return http.StatusServiceUnavailable, "channel_unavailable"
	default:
		return http.StatusBadGateway, "transport_failed"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write status response")
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}

// requestLogging logs each request with its status and duration.
func requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.status).
			Dur("duration", time.Since(start)).
			Msg("status api request")
	})
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}
