package settlement

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"crypto-settlement-go/internal/database"
	"crypto-settlement-go/internal/events"
	"crypto-settlement-go/internal/models"
	"crypto-settlement-go/internal/queue"
	"crypto-settlement-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type testEnv struct {
	db        *database.Service
	queue     *queue.Queue
	publisher *events.MemoryPublisher
	machine   *Machine
	deposits  *DepositService
}

func setupTestEnv(t *testing.T) *testEnv {
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
	machine := NewMachine(db, publisher)
	return &testEnv{
		db:        db,
		queue:     q,
		publisher: publisher,
		machine:   machine,
		deposits:  NewDepositService(db, machine, q, publisher, 3),
	}
}

func (e *testEnv) seedInvoice(t *testing.T, expiresAt time.Time) *models.Invoice {
	t.Helper()
	ctx := context.Background()
	f, err := e.db.CreateFreelancer(ctx, store.CreateFreelancerParams{
		Name:         "Ravi Kumar",
		Email:        uuid.New().String() + "@example.com",
		PayoutMethod: models.PayoutMethodUpi,
		UpiId:        "ravi@okbank",
	})
	if err != nil {
		t.Fatalf("CreateFreelancer failed: %v", err)
	}
	id := uuid.New().String()
	inv, err := e.db.CreateInvoice(ctx, store.CreateInvoiceParams{
		Id:             id,
		FreelancerId:   f.Id,
		AmountFiat:     decimal.NewFromInt(100),
		FiatCurrency:   "INR",
		AmountToken:    decimal.NewFromInt(100),
		TokenSymbol:    "USDT",
		TokenNetwork:   "ethereum",
		DepositAddress: "0xAbC" + id[:8],
		AddressSource:  models.AddressSourceCustodial,
		PublicUrl:      "http://localhost/f/" + id,
		ExpiresAt:      expiresAt,
	})
	if err != nil {
		t.Fatalf("CreateInvoice failed: %v", err)
	}
	return inv
}

func (e *testEnv) invoiceStatus(t *testing.T, invoiceId string) string {
	t.Helper()
	inv, err := e.db.GetInvoice(context.Background(), invoiceId)
	if err != nil {
		t.Fatalf("GetInvoice failed: %v", err)
	}
	return inv.Status
}

func TestCanTransition_OnlyLifecycleEdges(t *testing.T) {
	statuses := []string{
		models.InvoicePending, models.InvoiceReceived, models.InvoiceConverting,
		models.InvoicePaid, models.InvoiceFailed, models.InvoiceExpired,
	}
	edges := map[[2]string]bool{
		{models.InvoicePending, models.InvoiceReceived}:    true,
		{models.InvoiceReceived, models.InvoiceConverting}: true,
		{models.InvoiceConverting, models.InvoicePaid}:     true,
		{models.InvoicePending, models.InvoiceFailed}:      true,
		{models.InvoiceReceived, models.InvoiceFailed}:     true,
		{models.InvoiceConverting, models.InvoiceFailed}:   true,
		{models.InvoicePending, models.InvoiceExpired}:     true,
	}

	for _, from := range statuses {
		for _, to := range statuses {
			want := edges[[2]string{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestMachine_HappyPath(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	inv := env.seedInvoice(t, time.Now().Add(time.Hour))

	steps := []struct {
		name string
		fn   func(context.Context, string) (store.CAS, error)
		want string
	}{
		{"received", env.machine.MarkReceived, models.InvoiceReceived},
		{"converting", env.machine.MarkConverting, models.InvoiceConverting},
		{"paid", env.machine.MarkPaid, models.InvoicePaid},
	}
	for _, step := range steps {
		result, err := step.fn(ctx, inv.Id)
		if err != nil {
			t.Fatalf("%s failed: %v", step.name, err)
		}
		if !result.Applied {
			t.Fatalf("Expected %s to apply", step.name)
		}
		if got := env.invoiceStatus(t, inv.Id); got != step.want {
			t.Errorf("Expected status %s, got %s", step.want, got)
		}
	}

	types := env.publisher.Types()
	want := []string{events.InvoiceReceived, events.InvoiceConverting, events.InvoicePaid}
	if len(types) != len(want) {
		t.Fatalf("Expected %d events, got %v", len(want), types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("Expected event %s at %d, got %s", want[i], i, types[i])
		}
	}

	// paid is terminal
	if result, _ := env.machine.MarkFailed(ctx, inv.Id, "late failure"); result.Applied {
		t.Errorf("Expected failed transition from paid to be rejected")
	}
}

func TestMachine_MarkReceivedOnConvertingConflicts(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	inv := env.seedInvoice(t, time.Now().Add(time.Hour))

	if _, err := env.machine.MarkReceived(ctx, inv.Id); err != nil {
		t.Fatalf("MarkReceived failed: %v", err)
	}
	if _, err := env.machine.MarkConverting(ctx, inv.Id); err != nil {
		t.Fatalf("MarkConverting failed: %v", err)
	}
	before := len(env.publisher.Events())

	result, err := env.machine.MarkReceived(ctx, inv.Id)
	if err != nil {
		t.Fatalf("Expected conflict to be reported without error, got %v", err)
	}
	if result.Applied {
		t.Errorf("Expected MarkReceived on converting invoice to conflict")
	}
	if got := env.invoiceStatus(t, inv.Id); got != models.InvoiceConverting {
		t.Errorf("Expected status to stay converting, got %s", got)
	}
	if after := len(env.publisher.Events()); after != before {
		t.Errorf("Expected no event on conflict, got %d new", after-before)
	}
}

func TestExpireOverdue(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	overdue := env.seedInvoice(t, time.Now().Add(-time.Minute))
	fresh := env.seedInvoice(t, time.Now().Add(time.Hour))
	raced := env.seedInvoice(t, time.Now().Add(-time.Minute))

	// a confirmation that lands before the sweep wins
	if _, err := env.machine.MarkReceived(ctx, raced.Id); err != nil {
		t.Fatalf("MarkReceived failed: %v", err)
	}

	expired, err := env.machine.ExpireOverdue(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("ExpireOverdue failed: %v", err)
	}
	if expired != 1 {
		t.Errorf("Expected 1 expired invoice, got %d", expired)
	}
	if got := env.invoiceStatus(t, overdue.Id); got != models.InvoiceExpired {
		t.Errorf("Expected overdue invoice expired, got %s", got)
	}
	if got := env.invoiceStatus(t, fresh.Id); got != models.InvoicePending {
		t.Errorf("Expected fresh invoice pending, got %s", got)
	}
	if got := env.invoiceStatus(t, raced.Id); got != models.InvoiceReceived {
		t.Errorf("Expected raced invoice to stay received, got %s", got)
	}

	// a late confirmation on an expired invoice loses
	if result, _ := env.machine.MarkReceived(ctx, overdue.Id); result.Applied {
		t.Errorf("Expected MarkReceived on expired invoice to conflict")
	}
}
