package auction_api_client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/auctionroom/go/clients"
)

type recorded struct {
	method string
	path   string
	header http.Header
	body   string
}

func newServer(t *testing.T, status int, response string) (*AuctionApiClient, *recorded) {
	t.Helper()
	rec := &recorded{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rec.method, rec.path, rec.header, rec.body = r.Method, r.URL.Path, r.Header.Clone(), string(body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, response)
	}))
	t.Cleanup(srv.Close)
	return NewAuctionApiClient(srv.URL, "tok-1"), rec
}

func TestGetAuction(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{"wrapped", `{"success":true,"data":{"id":"a1","startingPrice":100000,"minBidIncrement":1000,"endTime":"2025-03-01T18:00:00Z","status":"live"}}`},
		{"bare", `{"auctionId":"a1","currentPrice":100000,"minIncrement":1000,"endTime":"2025-03-01T18:00:00Z"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, rec := newServer(t, http.StatusOK, tt.response)

			s, err := client.GetAuction(context.Background(), "a1")
			assert.NoError(t, err)
			check.Equal(t, "a1", s.AuctionID)
			check.Equal(t, "100000", s.CurrentPrice.String())
			check.Equal(t, "101000", s.MinimumBid().String())
			check.Equal(t, http.MethodGet, rec.method)
			check.Equal(t, "/auction/a1", rec.path)
			check.Equal(t, "Bearer tok-1", rec.header.Get("Authorization"))
		})
	}
}

func TestGetAuction_Unsuccessful(t *testing.T) {
	client, _ := newServer(t, http.StatusOK, `{"success":false,"message":"auction not found"}`)

	_, err := client.GetAuction(context.Background(), "a1")
	check.Error(t, err)
	check.True(t, strings.Contains(err.Error(), "auction not found"))
}

func TestPlaceBid(t *testing.T) {
	client, rec := newServer(t, http.StatusCreated, `{"success":true,"data":{"id":"bid-9","auctionId":"a1","amount":101000}}`)

	resp, err := client.PlaceBid(context.Background(), "a1", decimal.NewFromInt(101000), "client-bid-1")
	assert.NoError(t, err)
	check.Equal(t, "bid-9", resp.ID)
	check.Equal(t, "101000", resp.Amount.String())

	check.Equal(t, http.MethodPost, rec.method)
	check.Equal(t, "/auction/a1/bid", rec.path)
	check.Equal(t, "client-bid-1", rec.header.Get(IdempotencyKeyHeader))
	check.Equal(t, "application/json", rec.header.Get("Content-Type"))
	check.Equal(t, `{"amount":101000}`, rec.body)
}

func TestPlaceBid_StatusError(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		response     string
		wantMessage  string
		unauthorized bool
	}{
		{"conflict with message", http.StatusConflict, `{"statusCode":409,"message":"Bid must be at least 102000"}`, "Bid must be at least 102000", false},
		{"validation list", http.StatusBadRequest, `{"message":["amount must be positive","amount must be a number"]}`, "amount must be positive; amount must be a number", false},
		{"unauthorized", http.StatusUnauthorized, `{"message":"Unauthorized"}`, "Unauthorized", true},
		{"plain text", http.StatusBadGateway, `upstream down`, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newServer(t, tt.status, tt.response)

			_, err := client.PlaceBid(context.Background(), "a1", decimal.NewFromInt(1), "k")
			var statusErr *clients.StatusError
			assert.True(t, errors.As(err, &statusErr))
			check.Equal(t, tt.status, statusErr.StatusCode)
			check.Equal(t, tt.wantMessage, statusErr.Message)
			check.Equal(t, tt.unauthorized, statusErr.Unauthorized())
		})
	}
}

func TestOrderForAuction(t *testing.T) {
	client, rec := newServer(t, http.StatusOK, `{"success":true,"data":{"orderId":"o-7","auctionId":"a1","totalAmount":"150000.50","status":"pending"}}`)

	order, err := client.OrderForAuction(context.Background(), "a1")
	assert.NoError(t, err)
	check.Equal(t, "/auction/a1/order", rec.path)
	check.Equal(t, "o-7", order.Key())
	total, ok := order.Total()
	check.True(t, ok)
	check.Equal(t, "150000.5", total.String())
}

func TestOrderForAuction_Missing(t *testing.T) {
	client, _ := newServer(t, http.StatusOK, `{"success":true,"data":null}`)

	_, err := client.OrderForAuction(context.Background(), "a1")
	check.Error(t, err)
}

func TestCreatePaymentLink(t *testing.T) {
	client, rec := newServer(t, http.StatusOK, `{"success":true,"data":{"checkoutUrl":"https://pay.example/c/1","orderCode":42}}`)

	link, err := client.CreatePaymentLink(context.Background(), "o-7")
	assert.NoError(t, err)
	check.Equal(t, "https://pay.example/c/1", link.CheckoutURL)
	check.Equal(t, int64(42), link.OrderCode)
	check.Equal(t, "/payment/order", rec.path)

	var req PaymentLinkRequest
	assert.NoError(t, json.Unmarshal([]byte(rec.body), &req))
	check.Equal(t, "o-7", req.OrderID)
}

func TestPayOrderFromWallet(t *testing.T) {
	client, rec := newServer(t, http.StatusOK, `{"success":true,"data":{"status":"paid","balance":5000}}`)

	payment, err := client.PayOrderFromWallet(context.Background(), "o-7", decimal.RequireFromString("150000.50"))
	assert.NoError(t, err)
	check.Equal(t, "o-7", payment.OrderID)
	check.Equal(t, "paid", payment.Status)
	check.Equal(t, "/wallet/pay-order", rec.path)
	check.Equal(t, `{"orderId":"o-7","amount":150000.5}`, rec.body)
}
