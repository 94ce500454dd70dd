package worker

import (
	"context"
	"errors"
	"testing"

	"tally/internal/amqp"
	"tally/internal/core"
)

type fakeReader struct {
	txs map[int64]core.Transaction
}

func (f *fakeReader) GetTransaction(_ context.Context, id int64) (core.Transaction, error) {
	tx, ok := f.txs[id]
	if !ok {
		return core.Transaction{}, errors.New("not found")
	}
	return tx, nil
}

type fakeLedger struct {
	appended []core.Transaction
	err      error
}

func (f *fakeLedger) Append(_ context.Context, tx core.Transaction) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.appended = append(f.appended, tx)
	return "Ledger!A2:E2", nil
}

func TestHandleTransactionPosted(t *testing.T) {
	reader := &fakeReader{txs: map[int64]core.Transaction{
		7: {ID: 7, Description: "Rent", Amount: core.Money{Cents: 120000}, Type: core.Expense},
	}}
	ledger := &fakeLedger{}
	w := NewExportWorker(reader, ledger)

	msg := amqp.NewTransactionPostedMessage(7, "recurring")
	if err := w.HandleTransactionPosted(context.Background(), msg); err != nil {
		t.Fatalf("HandleTransactionPosted() error: %v", err)
	}
	if len(ledger.appended) != 1 || ledger.appended[0].ID != 7 {
		t.Errorf("unexpected appended rows: %+v", ledger.appended)
	}
}

func TestHandleTransactionPosted_MissingTransaction(t *testing.T) {
	w := NewExportWorker(&fakeReader{}, &fakeLedger{})

	msg := amqp.NewTransactionPostedMessage(99, "manual")
	if err := w.HandleTransactionPosted(context.Background(), msg); err == nil {
		t.Fatal("expected error for unknown transaction so the event requeues")
	}
}

func TestHandleTransactionPosted_AppendFailure(t *testing.T) {
	reader := &fakeReader{txs: map[int64]core.Transaction{1: {ID: 1}}}
	ledger := &fakeLedger{err: errors.New("quota exceeded")}
	w := NewExportWorker(reader, ledger)

	msg := amqp.NewTransactionPostedMessage(1, "manual")
	if err := w.HandleTransactionPosted(context.Background(), msg); err == nil {
		t.Fatal("expected append error to propagate")
	}
}
