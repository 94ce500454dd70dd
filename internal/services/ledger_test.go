package services

import (
	"context"
	"errors"
	"testing"

	"tally/internal/core"
)

func validTx() core.Transaction {
	return core.Transaction{
		UserID:      "user-1",
		Description: "Groceries",
		Amount:      core.Money{Cents: 4550},
		Type:        core.Expense,
		AccountID:   7,
		Date:        core.NewDate(2024, 3, 1),
	}
}

func TestLedgerService_PostTransaction(t *testing.T) {
	store := newFakeStore()
	events := &fakePublisher{}
	s := NewLedgerService(store, events)

	id, err := s.PostTransaction(context.Background(), validTx())
	if err != nil {
		t.Fatalf("PostTransaction() error: %v", err)
	}
	if id == 0 {
		t.Error("expected a transaction id")
	}
	if store.deltas[7] != -4550 {
		t.Errorf("balance delta = %d, want -4550", store.deltas[7])
	}
	if len(events.published) != 1 {
		t.Errorf("published %d events, want 1", len(events.published))
	}
}

func TestLedgerService_RejectsInvalidTransaction(t *testing.T) {
	store := newFakeStore()
	s := NewLedgerService(store, nil)

	tx := validTx()
	tx.Amount = core.Money{}
	if _, err := s.PostTransaction(context.Background(), tx); err == nil {
		t.Fatal("expected validation error")
	}
	if len(store.inserted) != 0 {
		t.Error("invalid transaction must not be inserted")
	}
}

func TestLedgerService_BalanceFailureReported(t *testing.T) {
	store := newFakeStore()
	store.balanceErr = errors.New("account locked")
	s := NewLedgerService(store, nil)

	id, err := s.PostTransaction(context.Background(), validTx())
	if err == nil {
		t.Fatal("expected error when balance update fails")
	}
	// The row is posted regardless; callers get both the id and the error.
	if id == 0 {
		t.Error("expected the posted transaction id despite the error")
	}
}
