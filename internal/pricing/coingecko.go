package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"crypto-settlement-go/internal/models"
	"crypto-settlement-go/internal/transport"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var defaultIds = map[string]string{
	"BTC":   "bitcoin",
	"ETH":   "ethereum",
	"USDT":  "tether",
	"USDC":  "usd-coin",
	"SOL":   "solana",
	"MATIC": "matic-network",
	"POL":   "matic-network",
	"DAI":   "dai",
}

// CoinGecko prices tokens in fiat through the simple/price endpoint.
type CoinGecko struct {
	baseUrl string
	apiKey  string
	http    http.Client
	limiter *rate.Limiter
	assets  *models.AssetRegistry
}

func NewCoinGecko(cfg models.PricingConfig, assets *models.AssetRegistry) (*CoinGecko, error) {
	httpClient, err := transport.NewHTTPClient(30 * time.Second)
	if err != nil {
		return nil, fmt.Errorf("unable to create http client: %w", err)
	}
	return NewCoinGeckoWithHTTP(cfg, assets, httpClient), nil
}

func NewCoinGeckoWithHTTP(cfg models.PricingConfig, assets *models.AssetRegistry, httpClient http.Client) *CoinGecko {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 0.5
	}
	return &CoinGecko{
		baseUrl: strings.TrimRight(cfg.BaseUrl, "/"),
		apiKey:  cfg.ApiKey,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		assets:  assets,
	}
}

func (c *CoinGecko) coinId(symbol string) (string, error) {
	for _, a := range c.assets.All() {
		if strings.EqualFold(a.Symbol, symbol) && a.CoingeckoId != "" {
			return a.CoingeckoId, nil
		}
	}
	if id, ok := defaultIds[strings.ToUpper(symbol)]; ok {
		return id, nil
	}
	return "", fmt.Errorf("no price id for token %s", symbol)
}

// Price returns the fiat price of one token unit.
func (c *CoinGecko) Price(ctx context.Context, tokenSymbol, fiatSymbol string) (decimal.Decimal, error) {
	id, err := c.coinId(tokenSymbol)
	if err != nil {
		return decimal.Zero, err
	}
	vs := strings.ToLower(fiatSymbol)

	if err := c.limiter.Wait(ctx); err != nil {
		return decimal.Zero, err
	}

	query := url.Values{}
	query.Set("ids", id)
	query.Set("vs_currencies", vs)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseUrl+"/simple/price?"+query.Encode(), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("unable to build price request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("unable to fetch price: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return decimal.Zero, fmt.Errorf("price source returned http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var prices map[string]map[string]decimal.Decimal
	if err := json.NewDecoder(resp.Body).Decode(&prices); err != nil {
		return decimal.Zero, fmt.Errorf("unable to decode price response: %w", err)
	}
	price, ok := prices[id][vs]
	if !ok || !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("no %s price for %s", fiatSymbol, tokenSymbol)
	}

	zap.L().Debug("Fetched token price",
		zap.String("token", tokenSymbol),
		zap.String("fiat", fiatSymbol),
		zap.String("price", price.String()))
	return price, nil
}

// Quote converts a fiat amount into the token amount an invoice asks for. A
// stablecoin priced in USD quotes 1:1 without a lookup.
func (c *CoinGecko) Quote(ctx context.Context, amountFiat decimal.Decimal, tokenSymbol, tokenNetwork, fiatSymbol string) (decimal.Decimal, error) {
	asset, ok := c.assets.Lookup(tokenSymbol, tokenNetwork)
	if ok && asset.Stablecoin && strings.EqualFold(fiatSymbol, "USD") {
		return amountFiat, nil
	}

	price, err := c.Price(ctx, tokenSymbol, fiatSymbol)
	if err != nil {
		return decimal.Zero, err
	}
	decimals := int32(8)
	if ok && asset.Decimals > 0 && asset.Decimals < decimals {
		decimals = asset.Decimals
	}
	return amountFiat.DivRound(price, decimals), nil
}
