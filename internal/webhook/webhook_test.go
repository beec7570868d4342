package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"crypto-settlement-go/internal/database"
	"crypto-settlement-go/internal/events"
	"crypto-settlement-go/internal/listener"
	"crypto-settlement-go/internal/models"
	"crypto-settlement-go/internal/queue"
	"crypto-settlement-go/internal/settlement"
	"crypto-settlement-go/internal/store"
	"crypto-settlement-go/internal/workers"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	alchemySecret  = "alchemy-secret"
	exchangeSecret = "exchange-secret"
	cashfreeSecret = "cashfree-secret"
)

type testEnv struct {
	db        *database.Service
	queue     *queue.Queue
	machine   *settlement.Machine
	publisher *events.MemoryPublisher
	ingestor  *Ingestor
	server    *httptest.Server
}

func setupWebhooks(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.NewService(context.Background(), models.DatabaseConfig{
		Driver:       database.DriverSQLite,
		Path:         filepath.Join(t.TempDir(), "settlement.db"),
		MaxOpenConns: 2,
		PingTimeout:  time.Second,
	})
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	t.Cleanup(db.Close)

	publisher := events.NewMemoryPublisher()
	q := queue.New(db.Jobs(), 3)
	machine := settlement.NewMachine(db, publisher)
	monitor := listener.NewMonitor(listener.MonitorConfig{
		Store:    db,
		Deposits: settlement.NewDepositService(db, machine, q, publisher, 3),
		Machine:  machine,
		Quiet:    true,
	})

	ingestor := NewIngestor(db,
		Provider{Name: models.ProviderAlchemy, Header: HeaderAlchemy, Secret: alchemySecret, Handler: NewAlchemyHandler(monitor)},
		Provider{Name: models.ProviderExchange, Header: HeaderExchange, Secret: exchangeSecret, Handler: NewExchangeHandler(db, q, publisher)},
		Provider{Name: models.ProviderCashfree, Header: HeaderCashfree, Secret: cashfreeSecret, Handler: NewCashfreeHandler(db, machine, publisher, nil)},
	)

	mux := http.NewServeMux()
	mux.Handle("/webhooks/alchemy", ingestor.HTTPHandler(models.ProviderAlchemy))
	mux.Handle("/webhooks/exchange", ingestor.HTTPHandler(models.ProviderExchange))
	mux.Handle("/webhooks/cashfree", ingestor.HTTPHandler(models.ProviderCashfree))
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &testEnv{db: db, queue: q, machine: machine, publisher: publisher, ingestor: ingestor, server: server}
}

func (e *testEnv) post(t *testing.T, path, header, secret, body string) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, e.server.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	req.Header.Set(header, Sign(secret, []byte(body)))
	resp, err := e.server.Client().Do(req)
	if err != nil {
		t.Fatalf("POST %s failed: %v", path, err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func (e *testEnv) seedInvoice(t *testing.T) *models.Invoice {
	t.Helper()
	ctx := context.Background()
	f, err := e.db.CreateFreelancer(ctx, store.CreateFreelancerParams{
		Name:         "Asha Rao",
		Email:        uuid.New().String() + "@example.com",
		PayoutMethod: models.PayoutMethodUpi,
		UpiId:        "asha@okbank",
	})
	if err != nil {
		t.Fatalf("CreateFreelancer failed: %v", err)
	}
	id := uuid.New().String()
	inv, err := e.db.CreateInvoice(ctx, store.CreateInvoiceParams{
		Id:             id,
		FreelancerId:   f.Id,
		AmountFiat:     decimal.NewFromInt(8350),
		FiatCurrency:   "INR",
		AmountToken:    decimal.NewFromInt(100),
		TokenSymbol:    "ETH",
		TokenNetwork:   "ethereum",
		DepositAddress: "0xDeAdBeEf" + strings.ReplaceAll(id, "-", "")[:8],
		AddressSource:  models.AddressSourceCustodial,
		PublicUrl:      "http://localhost/f/" + id,
		ExpiresAt:      time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateInvoice failed: %v", err)
	}
	return inv
}

// seedConversion drives an invoice to converting with a processing conversion.
func (e *testEnv) seedConversion(t *testing.T) (*models.Invoice, *models.Conversion) {
	t.Helper()
	ctx := context.Background()
	inv := e.seedInvoice(t)
	dep, err := e.db.CreateDeposit(ctx, store.CreateDepositParams{
		InvoiceId: inv.Id, TxHash: "0x" + inv.Id, AmountToken: decimal.NewFromInt(100), Confirmations: 3,
	})
	if err != nil {
		t.Fatalf("CreateDeposit failed: %v", err)
	}
	if _, err := e.db.ConfirmDeposit(ctx, dep.Id, 3); err != nil {
		t.Fatalf("ConfirmDeposit failed: %v", err)
	}
	if _, err := e.machine.MarkReceived(ctx, inv.Id); err != nil {
		t.Fatalf("MarkReceived failed: %v", err)
	}
	if _, err := e.machine.MarkConverting(ctx, inv.Id); err != nil {
		t.Fatalf("MarkConverting failed: %v", err)
	}
	conv, err := e.db.CreateConversion(ctx, store.CreateConversionParams{
		InvoiceId:       inv.Id,
		DepositId:       dep.Id,
		Rate:            decimal.RequireFromString("83.5"),
		AmountToken:     decimal.NewFromInt(100),
		AmountFiatGross: decimal.RequireFromString("8350"),
		PlatformFee:     decimal.RequireFromString("125.25"),
		AmountFiatNet:   decimal.RequireFromString("8224.75"),
	})
	if err != nil {
		t.Fatalf("CreateConversion failed: %v", err)
	}
	return inv, conv
}

// seedInitiatedPayout returns a pending payout whose transfer was accepted and credited.
func (e *testEnv) seedInitiatedPayout(t *testing.T) (*models.Invoice, *models.Payout) {
	t.Helper()
	ctx := context.Background()
	inv, conv := e.seedConversion(t)
	if _, err := e.db.CompleteConversion(ctx, conv.Id, "order-1"); err != nil {
		t.Fatalf("CompleteConversion failed: %v", err)
	}
	payout, err := e.db.CreatePayout(ctx, store.CreatePayoutParams{
		InvoiceId:    inv.Id,
		ConversionId: conv.Id,
		FreelancerId: inv.FreelancerId,
		AmountFiat:   conv.AmountFiatNet,
		Provider:     "cashfree",
	})
	if err != nil {
		t.Fatalf("CreatePayout failed: %v", err)
	}
	if _, err := e.db.MarkPayoutInitiated(ctx, payout.Id, payout.TransferKey()); err != nil {
		t.Fatalf("MarkPayoutInitiated failed: %v", err)
	}
	_, err = e.db.AppendLedgerEntry(ctx, store.LedgerEntryParams{
		FreelancerId: inv.FreelancerId,
		InvoiceId:    inv.Id,
		Amount:       payout.AmountFiat,
		Currency:     "INR",
		EntryType:    models.EntryCredit,
		Reason:       "payout initiated",
		Reference:    workers.CreditReference(payout.TransferKey()),
	})
	if err != nil {
		t.Fatalf("AppendLedgerEntry failed: %v", err)
	}
	return inv, payout
}

func TestSignature(t *testing.T) {
	payload := []byte(`{"type":"MINED_TRANSACTION"}`)
	sig := Sign("secret", payload)

	if !Verify("secret", payload, sig) {
		t.Errorf("Expected signature to verify")
	}
	if Verify("other", payload, sig) {
		t.Errorf("Expected signature under a different secret to fail")
	}
	if Verify("secret", []byte(`{"type":"OTHER"}`), sig) {
		t.Errorf("Expected signature over a different payload to fail")
	}
	if Verify("secret", payload, "not-hex") || Verify("secret", payload, "") {
		t.Errorf("Expected malformed signatures to fail")
	}
}

type countingRecorder struct {
	results []string
}

func (c *countingRecorder) WebhookReceived(_, result string) {
	c.results = append(c.results, result)
}

func TestInvalidSignatureIsRejectedWithoutPersisting(t *testing.T) {
	env := setupWebhooks(t)
	inv := env.seedInvoice(t)
	recorder := &countingRecorder{}
	env.ingestor.WithRecorder(recorder)

	body := `{"type":"MINED_TRANSACTION","transaction":{"hash":"0xforged","to":"` + inv.DepositAddress + `","from":"0x1","value":"0xde0b6b3a7640000"}}`
	for i := 0; i < 3; i++ {
		if code := env.post(t, "/webhooks/alchemy", HeaderAlchemy, "wrong-secret", body); code != http.StatusUnauthorized {
			t.Fatalf("Expected 401, got %d", code)
		}
	}

	if _, err := env.db.GetDepositByTxHash(context.Background(), "0xforged"); err == nil {
		t.Errorf("Expected no deposit from a forged webhook")
	}
	recorded, err := env.db.ListWebhookEvents(context.Background(), models.ProviderAlchemy, 10, 0)
	if err != nil {
		t.Fatalf("ListWebhookEvents failed: %v", err)
	}
	if len(recorded) != 0 {
		t.Errorf("Expected forged deliveries not to be stored, got %d", len(recorded))
	}
	if len(recorder.results) != 3 || recorder.results[0] != ResultInvalidSignature {
		t.Errorf("Expected 3 invalid_signature results, got %v", recorder.results)
	}

	unrelated := `{"type":"ADDRESS_ACTIVITY","note":"no transfer"}`
	if code := env.post(t, "/webhooks/alchemy", HeaderAlchemy, alchemySecret, unrelated); code != http.StatusOK {
		t.Fatalf("Expected 200 for a signed delivery, got %d", code)
	}
	recorded, err = env.db.ListWebhookEvents(context.Background(), models.ProviderAlchemy, 10, 0)
	if err != nil {
		t.Fatalf("ListWebhookEvents failed: %v", err)
	}
	if len(recorded) != 1 {
		t.Fatalf("Expected 1 recorded event, got %d", len(recorded))
	}
	if !recorded[0].SignatureValid || recorded[0].Payload != unrelated {
		t.Errorf("Expected signed event stored verbatim, got %+v", recorded[0])
	}
}

func TestMinedTransaction_RedeliveryCreatesOneDeposit(t *testing.T) {
	env := setupWebhooks(t)
	inv := env.seedInvoice(t)

	body := `{"type":"MINED_TRANSACTION","transaction":{"hash":"0xabc","to":"` + strings.ToLower(inv.DepositAddress) + `","from":"0x1","value":"0xde0b6b3a7640000"}}`
	for i := 0; i < 2; i++ {
		if code := env.post(t, "/webhooks/alchemy", HeaderAlchemy, alchemySecret, body); code != http.StatusOK {
			t.Fatalf("Expected 200 on delivery %d, got %d", i+1, code)
		}
	}

	ctx := context.Background()
	deposit, err := env.db.GetDepositByTxHash(ctx, "0xabc")
	if err != nil {
		t.Fatalf("GetDepositByTxHash failed: %v", err)
	}
	if !deposit.AmountToken.Equal(decimal.NewFromInt(1)) {
		t.Errorf("Expected 1 ETH, got %s", deposit.AmountToken)
	}
	pending, err := env.db.ListPendingDeposits(ctx)
	if err != nil {
		t.Fatalf("ListPendingDeposits failed: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("Expected 1 deposit, got %d", len(pending))
	}
	recorded, err := env.db.ListWebhookEvents(ctx, models.ProviderAlchemy, 10, 0)
	if err != nil {
		t.Fatalf("ListWebhookEvents failed: %v", err)
	}
	if len(recorded) != 2 {
		t.Errorf("Expected both deliveries recorded, got %d", len(recorded))
	}
}

func TestOrderFilled_CompletesConversionAndEnqueuesPayout(t *testing.T) {
	env := setupWebhooks(t)
	ctx := context.Background()
	inv, conv := env.seedConversion(t)

	body := `{"type":"ORDER_FILLED","orderId":"ord-9","clientOrderId":"` + workers.IdempotencyKey(conv.Id) + `","filledAmount":"100","rate":"83.5"}`
	for i := 0; i < 2; i++ {
		if code := env.post(t, "/webhooks/exchange", HeaderExchange, exchangeSecret, body); code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", code)
		}
	}

	updated, err := env.db.GetConversion(ctx, conv.Id)
	if err != nil {
		t.Fatalf("GetConversion failed: %v", err)
	}
	if updated.Status != models.StatusCompleted || updated.ExchangeOrderId != "ord-9" {
		t.Errorf("Expected completed conversion with order ord-9, got %s / %s", updated.Status, updated.ExchangeOrderId)
	}
	jobs, err := env.queue.List(ctx, models.LanePayout, models.JobWaiting, 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(jobs) != 1 || jobs[0].InvoiceId != inv.Id || jobs[0].EntityId != conv.Id {
		t.Errorf("Expected one payout job for the conversion, got %+v", jobs)
	}

	completed := 0
	for _, typ := range env.publisher.Types() {
		if typ == events.ConversionCompleted {
			completed++
		}
	}
	if completed != 1 {
		t.Errorf("Expected 1 conversion.completed event, got %d", completed)
	}
}

func TestOrderFilled_UnknownClientOrderIdIgnored(t *testing.T) {
	env := setupWebhooks(t)

	body := `{"type":"ORDER_FILLED","orderId":"ord-1","clientOrderId":"payout-123"}`
	if code := env.post(t, "/webhooks/exchange", HeaderExchange, exchangeSecret, body); code != http.StatusOK {
		t.Errorf("Expected 200, got %d", code)
	}
}

func TestPayoutSuccess_ThenFailureIsIgnored(t *testing.T) {
	env := setupWebhooks(t)
	ctx := context.Background()
	inv, payout := env.seedInitiatedPayout(t)

	success := `{"type":"PAYOUT_SUCCESS","transferId":"` + payout.TransferKey() + `"}`
	if code := env.post(t, "/webhooks/cashfree", HeaderCashfree, cashfreeSecret, success); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if code := env.post(t, "/webhooks/cashfree", HeaderCashfree, cashfreeSecret, success); code != http.StatusOK {
		t.Fatalf("Expected 200 on redelivery, got %d", code)
	}

	failure := `{"type":"PAYOUT_FAILED","payoutId":"` + payout.TransferKey() + `","reason":"account closed"}`
	if code := env.post(t, "/webhooks/cashfree", HeaderCashfree, cashfreeSecret, failure); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}

	updated, err := env.db.GetPayout(ctx, payout.Id)
	if err != nil {
		t.Fatalf("GetPayout failed: %v", err)
	}
	if updated.Status != models.StatusCompleted {
		t.Errorf("Expected payout to stay completed, got %s", updated.Status)
	}
	invoice, err := env.db.GetInvoice(ctx, inv.Id)
	if err != nil {
		t.Fatalf("GetInvoice failed: %v", err)
	}
	if invoice.Status != models.InvoicePaid {
		t.Errorf("Expected invoice paid, got %s", invoice.Status)
	}
	balance, err := env.db.GetFreelancerBalance(ctx, inv.FreelancerId)
	if err != nil {
		t.Fatalf("GetFreelancerBalance failed: %v", err)
	}
	if !balance.Equal(decimal.RequireFromString("8224.75")) {
		t.Errorf("Expected balance 8224.75, got %s", balance)
	}
}

func TestPayoutFailed_AppendsReversal(t *testing.T) {
	env := setupWebhooks(t)
	ctx := context.Background()
	inv, payout := env.seedInitiatedPayout(t)

	failure := `{"type":"PAYOUT_FAILED","transferId":"` + payout.TransferKey() + `","reason":"invalid upi"}`
	for i := 0; i < 2; i++ {
		if code := env.post(t, "/webhooks/cashfree", HeaderCashfree, cashfreeSecret, failure); code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", code)
		}
	}

	updated, err := env.db.GetPayout(ctx, payout.Id)
	if err != nil {
		t.Fatalf("GetPayout failed: %v", err)
	}
	if updated.Status != models.StatusFailed {
		t.Errorf("Expected payout failed, got %s", updated.Status)
	}
	reversed, err := env.db.HasLedgerEntry(ctx, workers.ReversalReference(payout.TransferKey()))
	if err != nil {
		t.Fatalf("HasLedgerEntry failed: %v", err)
	}
	if !reversed {
		t.Errorf("Expected a reversal ledger entry")
	}
	balance, err := env.db.GetFreelancerBalance(ctx, inv.FreelancerId)
	if err != nil {
		t.Fatalf("GetFreelancerBalance failed: %v", err)
	}
	if !balance.IsZero() {
		t.Errorf("Expected balance 0 after reversal, got %s", balance)
	}
}
