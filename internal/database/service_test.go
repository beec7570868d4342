package database

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"crypto-settlement-go/internal/models"
	"crypto-settlement-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func setupTestDb(t *testing.T) (*Service, func()) {
	t.Helper()
	cfg := models.DatabaseConfig{
		Driver:          DriverSQLite,
		Path:            filepath.Join(t.TempDir(), "settlement.db"),
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Minute,
		ConnMaxIdleTime: time.Minute,
		PingTimeout:     time.Second,
	}
	service, err := NewService(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return service, service.Close
}

func seedFreelancer(t *testing.T, s *Service) *models.Freelancer {
	t.Helper()
	f, err := s.CreateFreelancer(context.Background(), store.CreateFreelancerParams{
		Name:              "Asha Rao",
		Email:             uuid.New().String() + "@example.com",
		PayoutMethod:      models.PayoutMethodBank,
		BankAccountNumber: "000111222333",
		BankIfsc:          "hdfc0001234",
	})
	if err != nil {
		t.Fatalf("CreateFreelancer failed: %v", err)
	}
	return f
}

func seedInvoice(t *testing.T, s *Service, freelancerId string, expiresAt time.Time) *models.Invoice {
	t.Helper()
	inv, err := s.CreateInvoice(context.Background(), store.CreateInvoiceParams{
		Id:             uuid.New().String(),
		FreelancerId:   freelancerId,
		AmountFiat:     decimal.NewFromInt(8350),
		FiatCurrency:   "INR",
		AmountToken:    decimal.NewFromInt(100),
		TokenSymbol:    "USDT",
		TokenNetwork:   "ethereum",
		DepositAddress: "0xAbC" + uuid.New().String()[:8],
		AddressSource:  models.AddressSourceCustodial,
		ExpiresAt:      expiresAt,
	})
	if err != nil {
		t.Fatalf("CreateInvoice failed: %v", err)
	}
	return inv
}

func TestNewService_RejectsBadConfig(t *testing.T) {
	cases := []models.DatabaseConfig{
		{Driver: DriverSQLite, Path: "", MaxOpenConns: 1, PingTimeout: time.Second},
		{Driver: DriverSQLite, Path: "x.db", MaxOpenConns: 0, PingTimeout: time.Second},
		{Driver: DriverPostgres, URL: "", MaxOpenConns: 1, PingTimeout: time.Second},
		{Driver: "mysql", Path: "x.db", MaxOpenConns: 1, PingTimeout: time.Second},
	}
	for _, cfg := range cases {
		if _, err := NewService(context.Background(), cfg); err == nil {
			t.Errorf("Expected error for config %+v", cfg)
		}
	}
}

func TestRebind(t *testing.T) {
	pg := dialect{driver: DriverPostgres}
	got := pg.rebind("SELECT * FROM t WHERE a = ? AND b IN (?, ?)")
	want := "SELECT * FROM t WHERE a = $1 AND b IN ($2, $3)"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}

	lite := dialect{driver: DriverSQLite}
	if got := lite.rebind("a = ?"); got != "a = ?" {
		t.Errorf("Expected sqlite query unchanged, got %q", got)
	}
}

func TestInvoiceTransitions(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	f := seedFreelancer(t, s)
	inv := seedInvoice(t, s, f.Id, time.Now().Add(time.Hour))

	res, err := s.TransitionInvoice(ctx, inv.Id, models.InvoiceReceived, models.InvoicePending)
	if err != nil {
		t.Fatalf("TransitionInvoice failed: %v", err)
	}
	if !res.Applied {
		t.Fatalf("Expected pending -> received to apply")
	}

	res, err = s.TransitionInvoice(ctx, inv.Id, models.InvoiceReceived, models.InvoicePending)
	if err != nil {
		t.Fatalf("TransitionInvoice failed: %v", err)
	}
	if res.Applied {
		t.Errorf("Expected second pending -> received to be a no-op")
	}

	res, _ = s.TransitionInvoice(ctx, inv.Id, models.InvoicePaid, models.InvoiceConverting)
	if res.Applied {
		t.Errorf("Expected received -> paid to be rejected")
	}

	res, _ = s.TransitionInvoice(ctx, inv.Id, models.InvoiceConverting, models.InvoiceReceived)
	if !res.Applied {
		t.Errorf("Expected received -> converting to apply")
	}

	got, err := s.GetInvoice(ctx, inv.Id)
	if err != nil {
		t.Fatalf("GetInvoice failed: %v", err)
	}
	if got.Status != models.InvoiceConverting {
		t.Errorf("Expected status %s, got %s", models.InvoiceConverting, got.Status)
	}
	if !got.AmountToken.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Expected amount_token 100, got %s", got.AmountToken)
	}
}

func TestGetInvoice_NotFound(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()

	_, err := s.GetInvoice(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestFindPendingInvoiceByAddress_CaseInsensitive(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	f := seedFreelancer(t, s)
	inv := seedInvoice(t, s, f.Id, time.Now().Add(time.Hour))

	got, err := s.FindPendingInvoiceByAddress(ctx, strings.ToLower(inv.DepositAddress))
	if err != nil {
		t.Fatalf("FindPendingInvoiceByAddress failed: %v", err)
	}
	if got.Id != inv.Id {
		t.Errorf("Expected invoice %s, got %s", inv.Id, got.Id)
	}

	if _, err := s.TransitionInvoice(ctx, inv.Id, models.InvoiceExpired, models.InvoicePending); err != nil {
		t.Fatalf("TransitionInvoice failed: %v", err)
	}
	if _, err := s.FindPendingInvoiceByAddress(ctx, inv.DepositAddress); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for expired invoice, got %v", err)
	}
}

func TestListOverdueInvoices(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	f := seedFreelancer(t, s)
	overdue := seedInvoice(t, s, f.Id, time.Now().Add(-time.Minute))
	seedInvoice(t, s, f.Id, time.Now().Add(time.Hour))

	invoices, err := s.ListOverdueInvoices(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("ListOverdueInvoices failed: %v", err)
	}
	if len(invoices) != 1 || invoices[0].Id != overdue.Id {
		t.Errorf("Expected only invoice %s overdue, got %+v", overdue.Id, invoices)
	}
}

func TestInvoiceSummary(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	f := seedFreelancer(t, s)
	inv := seedInvoice(t, s, f.Id, time.Now().Add(time.Hour))

	summary, err := s.GetInvoiceSummary(ctx, inv.Id)
	if err != nil {
		t.Fatalf("GetInvoiceSummary failed: %v", err)
	}
	if summary.DepositStatus != "" || summary.PayoutStatus != "" {
		t.Errorf("Expected empty downstream statuses, got %+v", summary)
	}

	if _, err := s.CreateDeposit(ctx, store.CreateDepositParams{
		InvoiceId: inv.Id, TxHash: "0xabc", AmountToken: decimal.NewFromInt(100), Confirmations: 1,
	}); err != nil {
		t.Fatalf("CreateDeposit failed: %v", err)
	}

	summary, err = s.GetInvoiceSummary(ctx, inv.Id)
	if err != nil {
		t.Fatalf("GetInvoiceSummary failed: %v", err)
	}
	if summary.DepositStatus != models.DepositPending || summary.Confirmations != 1 {
		t.Errorf("Expected pending deposit with 1 confirmation, got %s/%d", summary.DepositStatus, summary.Confirmations)
	}

	list, err := s.ListInvoiceSummaries(ctx, store.ListInvoicesParams{FreelancerId: f.Id})
	if err != nil {
		t.Fatalf("ListInvoiceSummaries failed: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("Expected 1 summary, got %d", len(list))
	}
}

func TestFreelancerPayoutMethod(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	f := seedFreelancer(t, s)
	if !f.HasPayoutMethod() {
		t.Fatalf("Expected seeded freelancer to have a bank payout method")
	}
	if f.BankIfsc != "HDFC0001234" {
		t.Errorf("Expected upper-cased IFSC, got %s", f.BankIfsc)
	}

	method := models.PayoutMethodUpi
	updated, err := s.UpdatePayoutMethod(ctx, f.Id, models.PayoutMethodUpdate{PayoutMethod: &method})
	if err != nil {
		t.Fatalf("UpdatePayoutMethod failed: %v", err)
	}
	if updated.HasPayoutMethod() {
		t.Errorf("Expected UPI method without upi id to be incomplete")
	}

	upi := "asha@okbank"
	updated, err = s.UpdatePayoutMethod(ctx, f.Id, models.PayoutMethodUpdate{UpiId: &upi})
	if err != nil {
		t.Fatalf("UpdatePayoutMethod failed: %v", err)
	}
	if !updated.HasPayoutMethod() {
		t.Errorf("Expected UPI method to be complete")
	}

	bad := "cheque"
	if _, err := s.UpdatePayoutMethod(ctx, f.Id, models.PayoutMethodUpdate{PayoutMethod: &bad}); err == nil {
		t.Errorf("Expected invalid payout method to be rejected")
	}

	_, err = s.CreateFreelancer(ctx, store.CreateFreelancerParams{Name: "Dup", Email: strings.ToUpper(f.Email)})
	if !errors.Is(err, store.ErrDuplicateFreelancer) {
		t.Errorf("Expected ErrDuplicateFreelancer, got %v", err)
	}
}

func TestWebhookEventsPersisted(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	event, err := s.InsertWebhookEvent(ctx, store.WebhookEventParams{
		Provider: models.ProviderCashfree, EventType: "TRANSFER_SUCCESS", Payload: `{"a":1}`, SignatureValid: false,
	})
	if err != nil {
		t.Fatalf("InsertWebhookEvent failed: %v", err)
	}
	if err := s.MarkWebhookProcessed(ctx, event.Id, ""); err != nil {
		t.Fatalf("MarkWebhookProcessed failed: %v", err)
	}

	events, err := s.ListWebhookEvents(ctx, models.ProviderCashfree, 10, 0)
	if err != nil {
		t.Fatalf("ListWebhookEvents failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	if events[0].SignatureValid || !events[0].Processed || events[0].ProcessedAt == nil {
		t.Errorf("Unexpected event state: %+v", events[0])
	}

	other, err := s.ListWebhookEvents(ctx, models.ProviderAlchemy, 10, 0)
	if err != nil {
		t.Fatalf("ListWebhookEvents failed: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("Expected no alchemy events, got %d", len(other))
	}
}

func TestGetStats(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	f := seedFreelancer(t, s)
	seedInvoice(t, s, f.Id, time.Now().Add(time.Hour))
	seedInvoice(t, s, f.Id, time.Now().Add(time.Hour))

	stats, err := s.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.TotalInvoices != 2 || stats.InvoicesByStatus[models.InvoicePending] != 2 {
		t.Errorf("Expected 2 pending invoices, got %+v", stats.InvoicesByStatus)
	}
	if !stats.PaidOutFiat.IsZero() {
		t.Errorf("Expected no paid out fiat, got %s", stats.PaidOutFiat)
	}
}
