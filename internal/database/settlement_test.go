package database

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"crypto-settlement-go/internal/models"
	"crypto-settlement-go/internal/store"

	"github.com/shopspring/decimal"
)

type pipelineFixture struct {
	freelancer *models.Freelancer
	invoice    *models.Invoice
	deposit    *models.Deposit
	conversion *models.Conversion
}

func seedConversion(t *testing.T, s *Service) pipelineFixture {
	t.Helper()
	ctx := context.Background()
	f := seedFreelancer(t, s)
	inv := seedInvoice(t, s, f.Id, time.Now().Add(time.Hour))
	dep, err := s.CreateDeposit(ctx, store.CreateDepositParams{
		InvoiceId: inv.Id, TxHash: "0x" + inv.Id, AmountToken: decimal.NewFromInt(100), Confirmations: 3,
	})
	if err != nil {
		t.Fatalf("CreateDeposit failed: %v", err)
	}
	conv, err := s.CreateConversion(ctx, store.CreateConversionParams{
		InvoiceId:       inv.Id,
		DepositId:       dep.Id,
		Rate:            decimal.RequireFromString("83.5"),
		AmountToken:     decimal.NewFromInt(100),
		AmountFiatGross: decimal.RequireFromString("8350.00"),
		PlatformFee:     decimal.RequireFromString("125.25"),
		AmountFiatNet:   decimal.RequireFromString("8224.75"),
	})
	if err != nil {
		t.Fatalf("CreateConversion failed: %v", err)
	}
	return pipelineFixture{freelancer: f, invoice: inv, deposit: dep, conversion: conv}
}

func TestCreateDeposit_DuplicateTxHash(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	f := seedFreelancer(t, s)
	inv := seedInvoice(t, s, f.Id, time.Now().Add(time.Hour))

	params := store.CreateDepositParams{InvoiceId: inv.Id, TxHash: "0xDEAD", AmountToken: decimal.NewFromInt(5)}
	if _, err := s.CreateDeposit(ctx, params); err != nil {
		t.Fatalf("CreateDeposit failed: %v", err)
	}
	params.TxHash = "0xdead"
	_, err := s.CreateDeposit(ctx, params)
	if !errors.Is(err, store.ErrDuplicateDeposit) {
		t.Errorf("Expected ErrDuplicateDeposit, got %v", err)
	}

	got, err := s.GetDepositByTxHash(ctx, "0xDeAd")
	if err != nil {
		t.Fatalf("GetDepositByTxHash failed: %v", err)
	}
	if got.InvoiceId != inv.Id {
		t.Errorf("Expected invoice %s, got %s", inv.Id, got.InvoiceId)
	}
}

func TestConfirmDeposit_OnlyOnce(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	f := seedFreelancer(t, s)
	inv := seedInvoice(t, s, f.Id, time.Now().Add(time.Hour))
	dep, err := s.CreateDeposit(ctx, store.CreateDepositParams{InvoiceId: inv.Id, TxHash: "0x1", AmountToken: decimal.NewFromInt(1)})
	if err != nil {
		t.Fatalf("CreateDeposit failed: %v", err)
	}

	if err := s.UpdateDepositConfirmations(ctx, dep.Id, 2); err != nil {
		t.Fatalf("UpdateDepositConfirmations failed: %v", err)
	}
	res, err := s.ConfirmDeposit(ctx, dep.Id, 3)
	if err != nil || !res.Applied {
		t.Fatalf("Expected first confirm to apply, got %+v, %v", res, err)
	}
	res, _ = s.ConfirmDeposit(ctx, dep.Id, 4)
	if res.Applied {
		t.Errorf("Expected second confirm to be a no-op")
	}
	res, _ = s.FailDeposit(ctx, dep.Id)
	if res.Applied {
		t.Errorf("Expected confirmed deposit not to fail")
	}

	got, err := s.GetDeposit(ctx, dep.Id)
	if err != nil {
		t.Fatalf("GetDeposit failed: %v", err)
	}
	if got.Status != models.DepositConfirmed || got.Confirmations != 3 || got.ConfirmedAt == nil {
		t.Errorf("Unexpected deposit state: %+v", got)
	}

	pending, err := s.ListPendingDeposits(ctx)
	if err != nil {
		t.Fatalf("ListPendingDeposits failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("Expected no pending deposits, got %d", len(pending))
	}
}

func TestConversionLifecycle(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	fx := seedConversion(t, s)

	_, err := s.CreateConversion(ctx, store.CreateConversionParams{
		InvoiceId: fx.invoice.Id, DepositId: fx.deposit.Id,
		Rate: decimal.NewFromInt(1), AmountToken: decimal.NewFromInt(1),
		AmountFiatGross: decimal.NewFromInt(1), PlatformFee: decimal.Zero, AmountFiatNet: decimal.NewFromInt(1),
	})
	if !errors.Is(err, store.ErrDuplicateConversion) {
		t.Errorf("Expected ErrDuplicateConversion, got %v", err)
	}

	res, err := s.FailConversion(ctx, fx.conversion.Id, "exchange unavailable")
	if err != nil || !res.Applied {
		t.Fatalf("Expected FailConversion to apply, got %+v, %v", res, err)
	}
	res, _ = s.CompleteConversion(ctx, fx.conversion.Id, "order-1")
	if res.Applied {
		t.Errorf("Expected failed conversion not to complete directly")
	}
	res, _ = s.ResumeConversion(ctx, fx.conversion.Id)
	if !res.Applied {
		t.Fatalf("Expected ResumeConversion to apply")
	}
	res, _ = s.CompleteConversion(ctx, fx.conversion.Id, "order-1")
	if !res.Applied {
		t.Fatalf("Expected CompleteConversion to apply")
	}
	res, _ = s.CompleteConversion(ctx, fx.conversion.Id, "order-2")
	if res.Applied {
		t.Errorf("Expected second completion to be a no-op")
	}

	got, err := s.GetConversionByInvoice(ctx, fx.invoice.Id)
	if err != nil {
		t.Fatalf("GetConversionByInvoice failed: %v", err)
	}
	if got.ExchangeOrderId != "order-1" || got.ErrorMessage != "" {
		t.Errorf("Unexpected conversion state: %+v", got)
	}
	if !got.AmountFiatNet.Equal(decimal.RequireFromString("8224.75")) {
		t.Errorf("Expected net 8224.75, got %s", got.AmountFiatNet)
	}

	completed, err := s.ListCompletedConversions(ctx)
	if err != nil {
		t.Fatalf("ListCompletedConversions failed: %v", err)
	}
	if len(completed) != 1 {
		t.Errorf("Expected 1 completed conversion, got %d", len(completed))
	}
}

func createPayout(t *testing.T, s *Service, fx pipelineFixture) *models.Payout {
	t.Helper()
	p, err := s.CreatePayout(context.Background(), store.CreatePayoutParams{
		InvoiceId:    fx.invoice.Id,
		ConversionId: fx.conversion.Id,
		FreelancerId: fx.freelancer.Id,
		AmountFiat:   fx.conversion.AmountFiatNet,
		Provider:     models.ProviderCashfree,
	})
	if err != nil {
		t.Fatalf("CreatePayout failed: %v", err)
	}
	return p
}

func TestFailPayout_EscalatesAtCeiling(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	fx := seedConversion(t, s)
	p := createPayout(t, s, fx)

	if _, err := s.CreatePayout(ctx, store.CreatePayoutParams{
		InvoiceId: fx.invoice.Id, ConversionId: fx.conversion.Id, FreelancerId: fx.freelancer.Id,
		AmountFiat: decimal.NewFromInt(1), Provider: models.ProviderCashfree,
	}); !errors.Is(err, store.ErrDuplicatePayout) {
		t.Errorf("Expected ErrDuplicatePayout, got %v", err)
	}

	const ceiling = 3
	for attempt := 1; attempt <= ceiling; attempt++ {
		if attempt > 1 {
			claim, err := s.ClaimPayoutForTransfer(ctx, p.Id, ceiling)
			if err != nil || !claim.Applied {
				t.Fatalf("Expected claim before attempt %d, got %+v, %v", attempt, claim, err)
			}
		}
		failure, err := s.FailPayout(ctx, p.Id, "bank timeout", ceiling)
		if err != nil {
			t.Fatalf("FailPayout failed: %v", err)
		}
		if !failure.Applied || failure.RetryCount != attempt {
			t.Errorf("Attempt %d: unexpected failure %+v", attempt, failure)
		}
		if failure.Escalated != (attempt == ceiling) {
			t.Errorf("Attempt %d: expected escalated=%v, got %v", attempt, attempt == ceiling, failure.Escalated)
		}
	}

	claim, err := s.ClaimPayoutForTransfer(ctx, p.Id, ceiling)
	if err != nil {
		t.Fatalf("ClaimPayoutForTransfer failed: %v", err)
	}
	if claim.Applied {
		t.Errorf("Expected escalated payout not to be claimable")
	}

	escalated, err := s.ListEscalatedPayouts(ctx)
	if err != nil {
		t.Fatalf("ListEscalatedPayouts failed: %v", err)
	}
	if len(escalated) != 1 || escalated[0].Id != p.Id {
		t.Errorf("Expected payout %s escalated, got %+v", p.Id, escalated)
	}
}

func TestRejectPayout_NeverRegressesCompleted(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	fx := seedConversion(t, s)
	p := createPayout(t, s, fx)

	if res, _ := s.MarkPayoutInitiated(ctx, p.Id, p.TransferKey()); !res.Applied {
		t.Fatalf("Expected MarkPayoutInitiated to apply")
	}
	if res, _ := s.CompletePayout(ctx, p.Id); !res.Applied {
		t.Fatalf("Expected CompletePayout to apply")
	}
	res, err := s.RejectPayout(ctx, p.Id, "late failure")
	if err != nil {
		t.Fatalf("RejectPayout failed: %v", err)
	}
	if res.Applied {
		t.Errorf("Expected completed payout not to be rejected")
	}

	got, _ := s.GetPayout(ctx, p.Id)
	if got.Status != models.StatusCompleted {
		t.Errorf("Expected status completed, got %s", got.Status)
	}
}

func TestResetPayoutForRetry_BumpsGeneration(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	fx := seedConversion(t, s)
	p := createPayout(t, s, fx)
	oldKey := p.TransferKey()

	if _, err := s.FailPayout(ctx, p.Id, "rejected", 1); err != nil {
		t.Fatalf("FailPayout failed: %v", err)
	}
	res, err := s.ResetPayoutForRetry(ctx, p.Id)
	if err != nil || !res.Applied {
		t.Fatalf("Expected reset to apply, got %+v, %v", res, err)
	}

	got, err := s.GetPayout(ctx, p.Id)
	if err != nil {
		t.Fatalf("GetPayout failed: %v", err)
	}
	if got.Status != models.StatusPending || got.RetryCount != 0 || got.Escalated || got.Generation != 1 {
		t.Errorf("Unexpected payout after reset: %+v", got)
	}
	if got.TransferKey() == oldKey {
		t.Errorf("Expected a new transfer key after reset")
	}

	if _, err := s.GetPayoutByTransferKey(ctx, oldKey); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected stale transfer key to resolve to ErrNotFound, got %v", err)
	}
	byKey, err := s.GetPayoutByTransferKey(ctx, got.TransferKey())
	if err != nil {
		t.Fatalf("GetPayoutByTransferKey failed: %v", err)
	}
	if byKey.Id != p.Id {
		t.Errorf("Expected payout %s, got %s", p.Id, byKey.Id)
	}

	claim, _ := s.ClaimPayoutForTransfer(ctx, p.Id, 3)
	if !claim.Applied {
		t.Errorf("Expected reset payout to be claimable")
	}
}

func TestLedger_ReferenceIsUnique(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	fx := seedConversion(t, s)
	credit := store.LedgerEntryParams{
		FreelancerId: fx.freelancer.Id,
		InvoiceId:    fx.invoice.Id,
		Amount:       decimal.RequireFromString("8224.75"),
		Currency:     "INR",
		EntryType:    models.EntryCredit,
		Reason:       "payout",
		Reference:    "credit:p1",
	}
	if _, err := s.AppendLedgerEntry(ctx, credit); err != nil {
		t.Fatalf("AppendLedgerEntry failed: %v", err)
	}
	if _, err := s.AppendLedgerEntry(ctx, credit); !errors.Is(err, store.ErrDuplicateLedgerEntry) {
		t.Errorf("Expected ErrDuplicateLedgerEntry, got %v", err)
	}

	debit := credit
	debit.EntryType = models.EntryDebit
	debit.Amount = decimal.RequireFromString("24.75")
	debit.Reference = "reversal:p1"
	if _, err := s.AppendLedgerEntry(ctx, debit); err != nil {
		t.Fatalf("AppendLedgerEntry failed: %v", err)
	}

	balance, err := s.GetFreelancerBalance(ctx, fx.freelancer.Id)
	if err != nil {
		t.Fatalf("GetFreelancerBalance failed: %v", err)
	}
	if !balance.Equal(decimal.NewFromInt(8200)) {
		t.Errorf("Expected balance 8200, got %s", balance)
	}

	has, err := s.HasLedgerEntry(ctx, "credit:p1")
	if err != nil || !has {
		t.Errorf("Expected credit:p1 to exist, got %v, %v", has, err)
	}

	entries, err := s.ListLedgerEntries(ctx, fx.freelancer.Id, 10, 0)
	if err != nil {
		t.Fatalf("ListLedgerEntries failed: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("Expected 2 entries, got %d", len(entries))
	}

	zero := credit
	zero.Reference = "credit:zero"
	zero.Amount = decimal.Zero
	if _, err := s.AppendLedgerEntry(ctx, zero); err == nil {
		t.Errorf("Expected zero amount to be rejected")
	}
}

func TestClaimCustodyAddress(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	added, err := s.AddCustodyAddresses(ctx, "ethereum", []string{"0xa1", "0xa2", "0xa3", "0xa1", " "})
	if err != nil {
		t.Fatalf("AddCustodyAddresses failed: %v", err)
	}
	if added != 3 {
		t.Errorf("Expected 3 addresses added, got %d", added)
	}

	var (
		mu   sync.Mutex
		seen = map[string]bool{}
		wg   sync.WaitGroup
	)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			addr, err := s.ClaimCustodyAddress(ctx, "ethereum", "inv-"+string(rune('a'+i)))
			if err != nil {
				t.Errorf("ClaimCustodyAddress failed: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if seen[addr] {
				t.Errorf("Address %s handed out twice", addr)
			}
			seen[addr] = true
		}(i)
	}
	wg.Wait()

	if _, err := s.ClaimCustodyAddress(ctx, "ethereum", "inv-z"); !errors.Is(err, store.ErrPoolExhausted) {
		t.Errorf("Expected ErrPoolExhausted, got %v", err)
	}
	if _, err := s.ClaimCustodyAddress(ctx, "polygon", "inv-y"); !errors.Is(err, store.ErrPoolExhausted) {
		t.Errorf("Expected ErrPoolExhausted for empty network, got %v", err)
	}
}
