package cashfree

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"crypto-settlement-go/internal/models"

	"github.com/shopspring/decimal"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClientWithHTTP(models.PayoutConfig{
		BaseUrl:      server.URL,
		ClientId:     "cid",
		ClientSecret: "secret",
	}, http.Client{})
}

func TestCreateBeneficiary_Upi(t *testing.T) {
	var got beneficiaryRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/beneficiary" {
			t.Errorf("Expected /beneficiary, got %s", r.URL.Path)
		}
		if r.Header.Get("x-client-id") != "cid" || r.Header.Get("x-client-secret") != "secret" {
			t.Errorf("Expected client credentials in headers")
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"beneficiary_id":"ben_f1","beneficiary_status":"VERIFIED"}`))
	})

	result, err := client.CreateBeneficiary(context.Background(), "ben_f1", &models.Freelancer{
		Id: "f1", Name: "Asha Rao", Email: "asha@example.com",
		PayoutMethod: models.PayoutMethodUpi, UpiId: "asha@okbank",
	})
	if err != nil {
		t.Fatalf("CreateBeneficiary failed: %v", err)
	}
	if result.Status != "VERIFIED" {
		t.Errorf("Expected VERIFIED, got %s", result.Status)
	}
	if got.InstrumentDetails.Vpa != "asha@okbank" || got.InstrumentDetails.BankAccountNumber != "" {
		t.Errorf("Expected vpa instrument only, got %+v", got.InstrumentDetails)
	}
}

func TestCreateBeneficiary_ConflictIsSuccess(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"code":"beneficiary_id_already_exists","message":"exists"}`))
	})

	result, err := client.CreateBeneficiary(context.Background(), "ben_f1", &models.Freelancer{
		PayoutMethod: models.PayoutMethodBank, BankAccountNumber: "1234", BankIfsc: "HDFC0000001",
	})
	if err != nil {
		t.Fatalf("Expected conflict to be treated as success, got %v", err)
	}
	if result.BeneficiaryId != "ben_f1" {
		t.Errorf("Expected ben_f1, got %s", result.BeneficiaryId)
	}
}

func TestInitiateTransfer(t *testing.T) {
	var got map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"transfer_id":"pay-1","cf_transfer_id":"cf-9","status":"RECEIVED"}`))
	})

	result, err := client.InitiateTransfer(context.Background(), "pay-1", "ben_f1", decimal.RequireFromString("8224.75"), "Invoice abc-123!")
	if err != nil {
		t.Fatalf("InitiateTransfer failed: %v", err)
	}
	if result.TransferId != "pay-1" || result.ReferenceId != "cf-9" {
		t.Errorf("Expected pay-1/cf-9, got %+v", result)
	}
	if got["transfer_amount"] != "8224.75" && got["transfer_amount"] != 8224.75 {
		t.Errorf("Expected amount 8224.75, got %v", got["transfer_amount"])
	}
	if got["transfer_remarks"] != "Invoice abc123" {
		t.Errorf("Expected sanitized remarks, got %v", got["transfer_remarks"])
	}
}

func TestInitiateTransfer_RejectsSubPaisaAmount(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"transfer_id":"pay-1","status":"RECEIVED"}`))
	})

	_, err := client.InitiateTransfer(context.Background(), "pay-1", "ben_f1", decimal.RequireFromString("82.083"), "")
	if !errors.Is(err, ErrSubPaisaAmount) {
		t.Errorf("Expected ErrSubPaisaAmount, got %v", err)
	}
	if calls != 0 {
		t.Errorf("Expected no request for a sub-paisa amount, got %d", calls)
	}
}

func TestInitiateTransfer_ReplayFetchesExisting(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"code":"transfer_id_already_exists"}`))
			return
		}
		if r.URL.Query().Get("transfer_id") != "pay-1" {
			t.Errorf("Expected lookup of pay-1, got %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{"transfer_id":"pay-1","cf_transfer_id":"cf-9","status":"SUCCESS"}`))
	})

	result, err := client.InitiateTransfer(context.Background(), "pay-1", "ben_f1", decimal.NewFromInt(10), "")
	if err != nil {
		t.Fatalf("InitiateTransfer failed: %v", err)
	}
	if result.Status != "SUCCESS" {
		t.Errorf("Expected SUCCESS, got %s", result.Status)
	}
}

func TestAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":"insufficient_balance","message":"not enough funds"}`))
	})

	_, err := client.InitiateTransfer(context.Background(), "pay-1", "ben_f1", decimal.NewFromInt(10), "")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Code != "insufficient_balance" {
		t.Errorf("Expected 400 insufficient_balance, got %d %s", apiErr.StatusCode, apiErr.Code)
	}
}
