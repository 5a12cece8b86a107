package main

import (
	"fmt"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/auctionroom/go/clients/auction_api_client"
	"github.com/mcdev12/auctionroom/go/internal/auction/bidding"
	"github.com/mcdev12/auctionroom/go/internal/auction/gateway"
	"github.com/mcdev12/auctionroom/go/internal/auction/journal"
	"github.com/mcdev12/auctionroom/go/internal/auction/payment"
	"github.com/mcdev12/auctionroom/go/internal/auction/session"
	"github.com/mcdev12/auctionroom/go/internal/auction/winner"
	"github.com/mcdev12/auctionroom/go/internal/clientconfig"
)

type Services struct {
	API       *auction_api_client.AuctionApiClient
	Conn      *gateway.ConnectionManager
	Session   *session.Controller
	Submitter *bidding.Submitter
	Resolver  *winner.Resolver
	Journal   *journal.Journal
	queue     *payment.Queue
}

func setupServices(cfg clientconfig.Config, jr *journal.Journal) (*Services, error) {
	// Wire up dependency injection chain
	// REST client + realtime channel → session controller → submitter / resolver
	clock := clockwork.NewRealClock()

	api := auction_api_client.NewAuctionApiClient(cfg.Server.APIBaseURL, cfg.Auth.Token)
	conn := gateway.NewConnectionManager(connectionConfig(cfg), nil, clock)

	workflows := map[payment.Method]payment.Workflow{
		payment.MethodCheckoutLink: payment.NewCheckoutLink(api),
		payment.MethodWallet:       payment.NewWallet(api),
	}
	var queue *payment.Queue
	if payment.Method(cfg.Payment.Method) == payment.MethodQueue {
		q, err := payment.NewQueue(jetStreamConfig(cfg), cfg.Auth.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to set up payment queue: %w", err)
		}
		queue = q
		workflows[payment.MethodQueue] = q
	}
	workflow, err := payment.Select(payment.Method(cfg.Payment.Method), workflows)
	if err != nil {
		if queue != nil {
			_ = queue.Close()
		}
		return nil, err
	}

	resolver := winner.NewResolver(api, workflow)
	controller := session.NewController(sessionConfig(cfg), cfg.Auth.UserID, session.Deps{
		Channel:  conn,
		Fetcher:  api,
		Resolver: resolver,
		Clock:    clock,
	})

	selector := bidding.NewSelector(conn, bidding.NewRealtimeTransport(conn), bidding.NewRESTTransport(api))
	submitter := bidding.NewSubmitter(controller, selector, clock)

	return &Services{
		API:       api,
		Conn:      conn,
		Session:   controller,
		Submitter: submitter,
		Resolver:  resolver,
		Journal:   jr,
		queue:     queue,
	}, nil
}

func (s *Services) Close() {
	s.Conn.Disconnect()
	if s.queue != nil {
		_ = s.queue.Close()
	}
	if s.Journal != nil {
		s.Journal.Close()
	}
}
