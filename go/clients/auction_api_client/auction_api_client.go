package auction_api_client

import (
	"github.com/mcdev12/auctionroom/go/clients"
)

// AuctionApiClient talks to the marketplace backend's auction, order and payment endpoints.
type AuctionApiClient struct {
	*clients.BaseClient
}

func NewAuctionApiClient(baseURL, token string) *AuctionApiClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	client := &AuctionApiClient{
		BaseClient: clients.NewBaseClient(baseURL),
	}

	if token != "" {
		client.SetBearerToken(token)
	}

	return client
}
