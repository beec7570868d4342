package pricing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"crypto-settlement-go/internal/models"

	"github.com/shopspring/decimal"
)

func setupCoinGecko(t *testing.T, handler http.HandlerFunc) (*CoinGecko, *int) {
	t.Helper()
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	assets := models.NewAssetRegistry([]models.Asset{
		{Symbol: "USDT", Network: "ethereum", Decimals: 6, CoingeckoId: "tether", Stablecoin: true},
		{Symbol: "ETH", Network: "ethereum", Decimals: 18},
	})
	return NewCoinGeckoWithHTTP(models.PricingConfig{BaseUrl: server.URL, ApiKey: "demo", RequestsPerSecond: 1000}, assets, *server.Client()), &calls
}

func TestPrice(t *testing.T) {
	c, _ := setupCoinGecko(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/simple/price" {
			t.Errorf("Expected /simple/price, got %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("ids"); got != "tether" {
			t.Errorf("Expected ids=tether, got %s", got)
		}
		if got := r.Header.Get("x-cg-demo-api-key"); got != "demo" {
			t.Errorf("Expected api key header, got %q", got)
		}
		w.Write([]byte(`{"tether":{"inr":83.5}}`))
	})

	price, err := c.Price(context.Background(), "USDT", "INR")
	if err != nil {
		t.Fatalf("Price failed: %v", err)
	}
	if !price.Equal(decimal.RequireFromString("83.5")) {
		t.Errorf("Expected 83.5, got %s", price)
	}
}

func TestPrice_MissingCurrency(t *testing.T) {
	c, _ := setupCoinGecko(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"tether":{}}`))
	})

	if _, err := c.Price(context.Background(), "USDT", "INR"); err == nil {
		t.Errorf("Expected error for missing price")
	}
}

func TestPrice_UnknownToken(t *testing.T) {
	c, calls := setupCoinGecko(t, func(w http.ResponseWriter, r *http.Request) {})

	if _, err := c.Price(context.Background(), "NOPE", "INR"); err == nil {
		t.Errorf("Expected error for unknown token")
	}
	if *calls != 0 {
		t.Errorf("Expected no request for unknown token, got %d", *calls)
	}
}

func TestQuote(t *testing.T) {
	c, calls := setupCoinGecko(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ethereum":{"usd":2000}}`))
	})
	ctx := context.Background()

	amount, err := c.Quote(ctx, decimal.NewFromInt(250), "USDT", "ethereum", "USD")
	if err != nil {
		t.Fatalf("Quote failed: %v", err)
	}
	if !amount.Equal(decimal.NewFromInt(250)) || *calls != 0 {
		t.Errorf("Expected stablecoin 1:1 without lookup, got %s after %d calls", amount, *calls)
	}

	amount, err = c.Quote(ctx, decimal.NewFromInt(500), "ETH", "ethereum", "USD")
	if err != nil {
		t.Fatalf("Quote failed: %v", err)
	}
	if !amount.Equal(decimal.RequireFromString("0.25")) {
		t.Errorf("Expected 0.25 ETH, got %s", amount)
	}
}
