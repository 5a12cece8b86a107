package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/auctionroom/go/internal/auction/statusapi"
)

func setupServer(addr string, services *Services) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           statusapi.NewRouter(services.Session, services.Submitter),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// serve runs srv until ctx is done.
func serve(ctx context.Context, srv *http.Server) {
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("status api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("status api stopped")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("status api shutdown")
	}
}
