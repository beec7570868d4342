package formance

import (
	"context"
	"math/big"
	"testing"

	"crypto-settlement-go/internal/models"

	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"github.com/shopspring/decimal"
)

func TestUMN(t *testing.T) {
	tests := []struct {
		currency string
		want     string
	}{
		{"INR", "INR/2"},
		{"USD", "USD/2"},
		{"JPY", "JPY/0"},
		{"KWD", "KWD/3"},
	}
	for _, tt := range tests {
		if got := umn(tt.currency); got != tt.want {
			t.Errorf("umn(%q) = %q, want %q", tt.currency, got, tt.want)
		}
		if got := currencyOf(umn(tt.currency)); got != tt.currency {
			t.Errorf("currencyOf(umn(%q)) = %q", tt.currency, got)
		}
	}
	if got := currencyOf("INR"); got != "INR" {
		t.Errorf("Expected bare currency to pass through, got %q", got)
	}
}

func TestMinorUnits(t *testing.T) {
	if got := minorUnits(decimal.RequireFromString("8224.75"), "INR"); got != "822475" {
		t.Errorf("Expected 822475, got %s", got)
	}
	if got := minorUnits(decimal.RequireFromString("1500"), "JPY"); got != "1500" {
		t.Errorf("Expected 1500, got %s", got)
	}

	if got := fromMinorUnits(big.NewInt(822475), "INR"); !got.Equal(decimal.RequireFromString("8224.75")) {
		t.Errorf("Expected 8224.75, got %s", got)
	}
	if got := fromMinorUnits(nil, "INR"); !got.IsZero() {
		t.Errorf("Expected 0, got %s", got)
	}
}

func TestVolumeBalance(t *testing.T) {
	vols := map[string]shared.V2Volume{
		"INR/2": {Input: big.NewInt(1000), Output: big.NewInt(250)},
		"USD/2": {Balance: big.NewInt(-40), Input: big.NewInt(0)},
	}
	if got := volumeBalance(vols, "INR/2"); got.Int64() != 750 {
		t.Errorf("Expected 750, got %s", got)
	}
	if got := volumeBalance(vols, "USD/2"); got.Int64() != -40 {
		t.Errorf("Expected explicit balance -40, got %s", got)
	}
	if got := volumeBalance(vols, "EUR/2"); got != nil {
		t.Errorf("Expected nil for missing asset, got %s", got)
	}
}

func TestHasErrorCode(t *testing.T) {
	if hasErrorCode(nil, shared.V2ErrorsEnumConflict) {
		t.Error("nil should not carry an error code")
	}
	if hasErrorCode(context.Canceled, shared.V2ErrorsEnumNotFound) {
		t.Error("non-API error should not carry an error code")
	}
}

func TestNewService_RequiresCredentials(t *testing.T) {
	if _, err := NewService(context.Background(), models.FormanceConfig{StackURL: "http://localhost"}); err == nil {
		t.Errorf("Expected error without client credentials")
	}
}

func TestFreelancerAccount(t *testing.T) {
	if got := freelancerAccount("f1"); got != "freelancers:f1" {
		t.Errorf("freelancerAccount = %q", got)
	}
}
