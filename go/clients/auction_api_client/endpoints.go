package auction_api_client

const (
	// Base URL
	DefaultBaseURL = "http://localhost:3000"

	// API Endpoints
	AuctionEndpoint      = "/auction/%s"
	PlaceBidEndpoint     = "/auction/%s/bid"
	AuctionOrderEndpoint = "/auction/%s/order"
	PaymentOrderEndpoint = "/payment/order"
	WalletPayEndpoint    = "/wallet/pay-order"

	// Headers
	IdempotencyKeyHeader = "Idempotency-Key"
)
