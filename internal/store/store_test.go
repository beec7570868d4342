package store

import (
	"errors"
	"fmt"
	"testing"
)

func TestSettlementStoreInterfaceExists(t *testing.T) {
	_ = ErrNotFound
	_ = ErrDuplicateDeposit
	_ = CreateInvoiceParams{}

	var _ SettlementStore
}

func TestCASHelpers(t *testing.T) {
	if got := Applied("paid"); !got.Applied || got.To != "paid" {
		t.Errorf("Expected applied transition to paid, got %+v", got)
	}
	if got := NotApplied("paid"); got.Applied {
		t.Errorf("Expected not applied transition, got %+v", got)
	}
}

func TestSentinelErrorsWrap(t *testing.T) {
	err := fmt.Errorf("%w: tx 0xabc", ErrDuplicateDeposit)
	if !errors.Is(err, ErrDuplicateDeposit) {
		t.Errorf("Expected wrapped error to match ErrDuplicateDeposit")
	}
	if errors.Is(err, ErrDuplicatePayout) {
		t.Errorf("Did not expect wrapped error to match ErrDuplicatePayout")
	}
}
