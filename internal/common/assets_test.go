package common

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func TestLoadAssets(t *testing.T) {
	path := writeFile(t, "assets.yaml", `
assets:
  - symbol: usdc
    network: Ethereum
    contract: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
    decimals: 6
    coingecko_id: usd-coin
    stablecoin: true
  - symbol: ETH
    network: ethereum
    decimals: 18
`)

	assets, err := LoadAssets(path)
	if err != nil {
		t.Fatalf("LoadAssets failed: %v", err)
	}
	if len(assets) != 2 {
		t.Fatalf("Expected 2 assets, got %d", len(assets))
	}
	usdc := assets[0]
	if usdc.Symbol != "USDC" || usdc.Network != "ethereum" {
		t.Errorf("Expected normalized USDC/ethereum, got %s/%s", usdc.Symbol, usdc.Network)
	}
	if usdc.Contract != "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48" {
		t.Errorf("Expected lower-cased contract, got %s", usdc.Contract)
	}
	if !usdc.Stablecoin || usdc.Decimals != 6 || usdc.CoingeckoId != "usd-coin" {
		t.Errorf("Unexpected USDC metadata: %+v", usdc)
	}
}

func TestLoadAssets_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing symbol", "assets:\n  - network: ethereum\n"},
		{"missing network", "assets:\n  - symbol: USDC\n"},
		{"bad decimals", "assets:\n  - symbol: USDC\n    network: ethereum\n    decimals: 99\n"},
		{"not yaml", "assets: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadAssets(writeFile(t, "assets.yaml", tt.content)); err == nil {
				t.Errorf("Expected error for %s", tt.name)
			}
		})
	}

	if _, err := LoadAssets(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Errorf("Expected error for missing file")
	}
}

func TestLoadCustodyAddresses(t *testing.T) {
	path := writeFile(t, "custody.yaml", `
networks:
  Ethereum:
    - "0xaaa"
    - " 0xbbb "
    - ""
  polygon:
    - "0xccc"
`)

	pool, err := LoadCustodyAddresses(path)
	if err != nil {
		t.Fatalf("LoadCustodyAddresses failed: %v", err)
	}
	if got := pool["ethereum"]; len(got) != 2 || got[1] != "0xbbb" {
		t.Errorf("Expected 2 trimmed ethereum addresses, got %v", got)
	}
	if got := pool["polygon"]; len(got) != 1 {
		t.Errorf("Expected 1 polygon address, got %v", got)
	}
}

func TestFormatHelpers(t *testing.T) {
	if got := ShortId("0123456789abcdef"); got != "01234567..." {
		t.Errorf("Expected truncated id, got %s", got)
	}
	if got := ShortId(""); got != "none" {
		t.Errorf("Expected none, got %s", got)
	}
	if got := FormatAmount(decimal.RequireFromString("8225.5"), "INR"); got != "8225.50 INR" {
		t.Errorf("Expected 8225.50 INR, got %s", got)
	}
	if StatusColor("paid") != ColorGreen || StatusColor("failed") != ColorRed || StatusColor("pending") != ColorYellow {
		t.Errorf("Unexpected status colors")
	}
}
