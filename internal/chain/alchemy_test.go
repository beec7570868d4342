package chain

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"crypto-settlement-go/internal/models"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/shopspring/decimal"
)

type rpcRequest struct {
	Id     json.RawMessage `json:"id"`
	Method string          `json:"method"`
}

func setupRPCServer(t *testing.T, results map[string]string) *Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		result, ok := results[req.Method]
		if !ok {
			w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(req.Id) + `,"error":{"code":-32601,"message":"method not found"}}`))
			return
		}
		w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(req.Id) + `,"result":` + result + `}`))
	}))
	t.Cleanup(server.Close)

	c, err := NewClientWithHTTP(models.ChainConfig{RpcUrl: server.URL, RequestsPerSecond: 1000}, *server.Client())
	if err != nil {
		t.Fatalf("NewClientWithHTTP failed: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestConfirmationsFor(t *testing.T) {
	tests := []struct {
		name     string
		receipt  string
		expected models.TxStatus
	}{
		{"not mined", `null`, models.TxStatus{}},
		{"mined", `{"blockNumber":"0x10","status":"0x1"}`, models.TxStatus{Found: true, Confirmations: 3}},
		{"reverted", `{"blockNumber":"0x10","status":"0x0"}`, models.TxStatus{Found: true, Reverted: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := setupRPCServer(t, map[string]string{
				"eth_getTransactionReceipt": tt.receipt,
				"eth_blockNumber":           `"0x12"`,
			})
			status, err := c.ConfirmationsFor(context.Background(), "0xabc")
			if err != nil {
				t.Fatalf("ConfirmationsFor failed: %v", err)
			}
			if status != tt.expected {
				t.Errorf("Expected %+v, got %+v", tt.expected, status)
			}
		})
	}
}

func TestRPCErrorIsReturned(t *testing.T) {
	c := setupRPCServer(t, map[string]string{})

	_, err := c.BlockNumber(context.Background())
	var rpcErr rpc.Error
	if !errors.As(err, &rpcErr) {
		t.Fatalf("Expected rpc.Error, got %v", err)
	}
	if rpcErr.ErrorCode() != -32601 {
		t.Errorf("Expected code -32601, got %d", rpcErr.ErrorCode())
	}
}

func TestFindTransfers(t *testing.T) {
	c := setupRPCServer(t, map[string]string{
		"alchemy_getAssetTransfers": `{"transfers":[
			{"hash":"0x1","from":"0xa","to":"0xb","asset":"USDT","rawContract":{"value":"0x5f5e100","address":"0xdac","decimal":"0x6"}},
			{"hash":"0x2","from":"0xa","to":"0xb","asset":"USDT","rawContract":{"value":"bogus","decimal":"0x6"}}
		]}`,
	})

	transfers, err := c.FindTransfers(context.Background(), "0xb", models.Asset{Symbol: "USDT", Contract: "0xdac", Decimals: 6})
	if err != nil {
		t.Fatalf("FindTransfers failed: %v", err)
	}
	if len(transfers) != 1 {
		t.Fatalf("Expected 1 transfer, got %d", len(transfers))
	}
	if !transfers[0].Amount.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Expected amount 100, got %s", transfers[0].Amount)
	}
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		value    string
		decimals int32
		expected string
	}{
		{"0xde0b6b3a7640000", 18, "1"},
		{"1500000", 6, "1.5"},
		{"2.25", 18, "2.25"},
		{"0x00000000000000000000000000000000000000000000000000000000005f5e100", 6, "100"},
		{"0x0", 6, "0"},
	}

	for _, tt := range tests {
		got, err := ParseValue(tt.value, tt.decimals)
		if err != nil {
			t.Fatalf("ParseValue(%s) failed: %v", tt.value, err)
		}
		if !got.Equal(decimal.RequireFromString(tt.expected)) {
			t.Errorf("ParseValue(%s): expected %s, got %s", tt.value, tt.expected, got)
		}
	}

	if _, err := ParseValue("0xZZ", 18); err == nil {
		t.Errorf("Expected error for invalid hex")
	}
}

func TestConfirmationsFor_MissingStatusCountsAsSuccess(t *testing.T) {
	c := setupRPCServer(t, map[string]string{
		"eth_getTransactionReceipt": `{"blockNumber":"0x10"}`,
		"eth_blockNumber":           `"0x10"`,
	})
	status, err := c.ConfirmationsFor(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("ConfirmationsFor failed: %v", err)
	}
	if !status.Found || status.Reverted || status.Confirmations != 1 {
		t.Errorf("Expected 1 confirmation, got %+v", status)
	}
}

func TestDecodeQuantity(t *testing.T) {
	n, err := decodeQuantity("000000ff")
	if err != nil {
		t.Fatalf("decodeQuantity failed: %v", err)
	}
	if n.Cmp(big.NewInt(255)) != 0 {
		t.Errorf("Expected 255, got %s", n)
	}
	if _, err := decodeQuantity("zz"); err == nil {
		t.Errorf("Expected error for invalid digits")
	}
}
