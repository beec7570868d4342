package settlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"crypto-settlement-go/internal/events"
	"crypto-settlement-go/internal/models"
	"crypto-settlement-go/internal/store"

	"github.com/shopspring/decimal"
)

type fakeConfirmations struct {
	statuses map[string]models.TxStatus
	err      error
}

func (f *fakeConfirmations) ConfirmationsFor(_ context.Context, txHash string) (models.TxStatus, error) {
	if f.err != nil {
		return models.TxStatus{}, f.err
	}
	return f.statuses[txHash], nil
}

func transfer(inv *models.Invoice, hash string) models.ChainTransfer {
	return models.ChainTransfer{
		Hash:   hash,
		From:   "0xpayer",
		To:     inv.DepositAddress,
		Asset:  "USDT",
		Amount: decimal.NewFromInt(100),
	}
}

func countEvents(p *events.MemoryPublisher, eventType string) int {
	n := 0
	for _, typ := range p.Types() {
		if typ == eventType {
			n++
		}
	}
	return n
}

func TestRecordTransfer_DuplicateDeliveryIsIdempotent(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	inv := env.seedInvoice(t, time.Now().Add(time.Hour))

	first, created, err := env.deposits.RecordTransfer(ctx, inv, transfer(inv, "0xHASH1"), 3)
	if err != nil {
		t.Fatalf("RecordTransfer failed: %v", err)
	}
	if !created {
		t.Errorf("Expected first delivery to create a deposit")
	}

	second, created, err := env.deposits.RecordTransfer(ctx, inv, transfer(inv, "0xhash1"), 3)
	if err != nil {
		t.Fatalf("Second RecordTransfer failed: %v", err)
	}
	if created {
		t.Errorf("Expected second delivery to reuse the deposit")
	}
	if first.Id != second.Id {
		t.Errorf("Expected same deposit id, got %s and %s", first.Id, second.Id)
	}

	if got := env.invoiceStatus(t, inv.Id); got != models.InvoiceReceived {
		t.Errorf("Expected invoice received, got %s", got)
	}
	if n := countEvents(env.publisher, events.InvoiceReceived); n != 1 {
		t.Errorf("Expected markReceived to apply once, got %d", n)
	}

	jobs, err := env.queue.List(ctx, models.LaneConversion, models.JobWaiting, 10)
	if err != nil {
		t.Fatalf("List jobs failed: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("Expected 1 conversion job, got %d", len(jobs))
	}
	if jobs[0].InvoiceId != inv.Id || jobs[0].EntityId != first.Id {
		t.Errorf("Unexpected job payload: %+v", jobs[0])
	}
}

func TestRecordTransfer_BelowThresholdWaitsForConfirmations(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	inv := env.seedInvoice(t, time.Now().Add(time.Hour))

	deposit, _, err := env.deposits.RecordTransfer(ctx, inv, transfer(inv, "0xslow"), 1)
	if err != nil {
		t.Fatalf("RecordTransfer failed: %v", err)
	}
	if deposit.Status != models.DepositPending {
		t.Errorf("Expected pending deposit, got %s", deposit.Status)
	}

	source := &fakeConfirmations{statuses: map[string]models.TxStatus{
		"0xslow": {Found: true, Confirmations: 2},
	}}
	confirmed, err := env.deposits.CheckConfirmations(ctx, source)
	if err != nil {
		t.Fatalf("CheckConfirmations failed: %v", err)
	}
	if confirmed != 0 {
		t.Errorf("Expected no confirmation at 2 blocks, got %d", confirmed)
	}
	stored, _ := env.db.GetDeposit(ctx, deposit.Id)
	if stored.Confirmations != 2 {
		t.Errorf("Expected confirmations updated to 2, got %d", stored.Confirmations)
	}

	source.statuses["0xslow"] = models.TxStatus{Found: true, Confirmations: 3}
	confirmed, err = env.deposits.CheckConfirmations(ctx, source)
	if err != nil {
		t.Fatalf("CheckConfirmations failed: %v", err)
	}
	if confirmed != 1 {
		t.Errorf("Expected 1 confirmation, got %d", confirmed)
	}
	if got := env.invoiceStatus(t, inv.Id); got != models.InvoiceReceived {
		t.Errorf("Expected invoice received, got %s", got)
	}
}

func TestConfirm_InvoiceAlreadyConvertingDoesNotEnqueue(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	inv := env.seedInvoice(t, time.Now().Add(time.Hour))

	if _, err := env.machine.MarkReceived(ctx, inv.Id); err != nil {
		t.Fatalf("MarkReceived failed: %v", err)
	}
	if _, err := env.machine.MarkConverting(ctx, inv.Id); err != nil {
		t.Fatalf("MarkConverting failed: %v", err)
	}

	deposit, _, err := env.deposits.RecordTransfer(ctx, inv, transfer(inv, "0xlate"), 0)
	if err != nil {
		t.Fatalf("RecordTransfer failed: %v", err)
	}
	result, err := env.deposits.Confirm(ctx, deposit, 5)
	if err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	if !result.Confirmed {
		t.Errorf("Expected deposit confirmation to complete")
	}
	if result.Received || result.Enqueued {
		t.Errorf("Expected no transition or enqueue, got %+v", result)
	}

	jobs, _ := env.queue.List(ctx, models.LaneConversion, models.JobWaiting, 10)
	if len(jobs) != 0 {
		t.Errorf("Expected no conversion job, got %d", len(jobs))
	}
	stored, _ := env.db.GetDeposit(ctx, deposit.Id)
	if stored.Status != models.DepositConfirmed {
		t.Errorf("Expected deposit confirmed, got %s", stored.Status)
	}
}

func TestRecheck_RevertedTransactionFailsDeposit(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	inv := env.seedInvoice(t, time.Now().Add(time.Hour))

	deposit, _, err := env.deposits.RecordTransfer(ctx, inv, transfer(inv, "0xbad"), 1)
	if err != nil {
		t.Fatalf("RecordTransfer failed: %v", err)
	}
	source := &fakeConfirmations{statuses: map[string]models.TxStatus{
		"0xbad": {Found: true, Reverted: true},
	}}
	if _, err := env.deposits.Recheck(ctx, source, deposit); err != nil {
		t.Fatalf("Recheck failed: %v", err)
	}

	stored, _ := env.db.GetDeposit(ctx, deposit.Id)
	if stored.Status != models.DepositFailed {
		t.Errorf("Expected failed deposit, got %s", stored.Status)
	}
	if got := env.invoiceStatus(t, inv.Id); got != models.InvoicePending {
		t.Errorf("Expected invoice to stay pending, got %s", got)
	}
}

func TestRecheck_SourceError(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	inv := env.seedInvoice(t, time.Now().Add(time.Hour))

	deposit, _, _ := env.deposits.RecordTransfer(ctx, inv, transfer(inv, "0xerr"), 0)
	source := &fakeConfirmations{err: errors.New("rpc timeout")}
	if _, err := env.deposits.Recheck(ctx, source, deposit); err == nil {
		t.Errorf("Expected error from failing source")
	}
}

type countingStore struct {
	store.SettlementStore
	confirms    int
	transitions int
}

func (c *countingStore) ConfirmDeposit(ctx context.Context, depositId string, confirmations int) (store.CAS, error) {
	c.confirms++
	return c.SettlementStore.ConfirmDeposit(ctx, depositId, confirmations)
}

func (c *countingStore) TransitionInvoice(ctx context.Context, invoiceId, to string, from ...string) (store.CAS, error) {
	c.transitions++
	return c.SettlementStore.TransitionInvoice(ctx, invoiceId, to, from...)
}

func TestRecordTransfer_RedeliveryOfConfirmedDepositIsNoop(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	inv := env.seedInvoice(t, time.Now().Add(time.Hour))

	counting := &countingStore{SettlementStore: env.db}
	machine := NewMachine(counting, env.publisher)
	deposits := NewDepositService(counting, machine, env.queue, env.publisher, 3)

	first, _, err := deposits.RecordTransfer(ctx, inv, transfer(inv, "0xredeliver"), 3)
	if err != nil {
		t.Fatalf("RecordTransfer failed: %v", err)
	}
	if counting.confirms != 1 || counting.transitions != 1 {
		t.Fatalf("Expected one confirm and one transition, got %d and %d", counting.confirms, counting.transitions)
	}

	second, created, err := deposits.RecordTransfer(ctx, inv, transfer(inv, "0xredeliver"), 7)
	if err != nil {
		t.Fatalf("Second RecordTransfer failed: %v", err)
	}
	if created {
		t.Errorf("Expected redelivery to reuse the deposit")
	}
	if second.Id != first.Id || second.Status != models.DepositConfirmed {
		t.Errorf("Expected confirmed deposit %s, got %s (%s)", first.Id, second.Id, second.Status)
	}
	if counting.confirms != 1 {
		t.Errorf("Expected no further ConfirmDeposit, got %d calls", counting.confirms)
	}
	if counting.transitions != 1 {
		t.Errorf("Expected no further invoice transition, got %d calls", counting.transitions)
	}

	// Recheck still re-drives a confirmed deposit
	if _, err := deposits.Recheck(ctx, &fakeConfirmations{}, second); err != nil {
		t.Fatalf("Recheck failed: %v", err)
	}
	if counting.confirms != 2 {
		t.Errorf("Expected Recheck to confirm again, got %d calls", counting.confirms)
	}
}

func TestConfirm_AfterExpiryKeepsInvoiceExpired(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	inv := env.seedInvoice(t, time.Now().Add(-time.Minute))

	deposit, _, err := env.deposits.RecordTransfer(ctx, inv, transfer(inv, "0xtardy"), 1)
	if err != nil {
		t.Fatalf("RecordTransfer failed: %v", err)
	}
	expired, err := env.machine.ExpireOverdue(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("ExpireOverdue failed: %v", err)
	}
	if expired != 1 {
		t.Fatalf("Expected 1 expired invoice, got %d", expired)
	}

	source := &fakeConfirmations{statuses: map[string]models.TxStatus{
		"0xtardy": {Found: true, Confirmations: 3},
	}}
	confirmed, err := env.deposits.Recheck(ctx, source, deposit)
	if err != nil {
		t.Fatalf("Recheck failed: %v", err)
	}
	if !confirmed {
		t.Errorf("Expected deposit to be confirmed")
	}

	stored, _ := env.db.GetDeposit(ctx, deposit.Id)
	if stored.Status != models.DepositConfirmed {
		t.Errorf("Expected deposit confirmed, got %s", stored.Status)
	}
	if got := env.invoiceStatus(t, inv.Id); got != models.InvoiceExpired {
		t.Errorf("Expected invoice to stay expired, got %s", got)
	}
	jobs, _ := env.queue.List(ctx, models.LaneConversion, models.JobWaiting, 10)
	if len(jobs) != 0 {
		t.Errorf("Expected no conversion job, got %d", len(jobs))
	}
	if n := countEvents(env.publisher, events.InvoiceReceived); n != 0 {
		t.Errorf("Expected no received event, got %d", n)
	}
}

func TestExpire_AfterConfirmationDoesNotApply(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	inv := env.seedInvoice(t, time.Now().Add(-time.Minute))

	deposit, _, err := env.deposits.RecordTransfer(ctx, inv, transfer(inv, "0xontime"), 3)
	if err != nil {
		t.Fatalf("RecordTransfer failed: %v", err)
	}
	if deposit.Status != models.DepositConfirmed {
		t.Fatalf("Expected confirmed deposit, got %s", deposit.Status)
	}

	expired, err := env.machine.ExpireOverdue(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("ExpireOverdue failed: %v", err)
	}
	if expired != 0 {
		t.Errorf("Expected nothing expired, got %d", expired)
	}
	if result, err := env.machine.Expire(ctx, inv.Id); err != nil || result.Applied {
		t.Errorf("Expected direct expiry to conflict, got %+v (%v)", result, err)
	}

	if got := env.invoiceStatus(t, inv.Id); got != models.InvoiceReceived {
		t.Errorf("Expected invoice received, got %s", got)
	}
	jobs, _ := env.queue.List(ctx, models.LaneConversion, models.JobWaiting, 10)
	if len(jobs) != 1 {
		t.Errorf("Expected 1 conversion job, got %d", len(jobs))
	}
}
