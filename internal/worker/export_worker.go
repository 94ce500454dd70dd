package worker

import (
	"context"
	"fmt"
	"log/slog"

	"tally/internal/amqp"
	"tally/internal/core"
	"tally/internal/sheets"
)

// TransactionReader loads posted transactions for export.
type TransactionReader interface {
	GetTransaction(ctx context.Context, id int64) (core.Transaction, error)
}

// ExportWorker mirrors posted transactions into an external ledger sheet. It
// consumes posted-transaction events and looks the row up by id, so replays
// export the current state rather than the message body.
type ExportWorker struct {
	store  TransactionReader
	ledger sheets.LedgerWriter
}

func NewExportWorker(store TransactionReader, ledger sheets.LedgerWriter) *ExportWorker {
	return &ExportWorker{
		store:  store,
		ledger: ledger,
	}
}

// HandleTransactionPosted processes a single posted-transaction event.
// Returning an error requeues the event.
func (w *ExportWorker) HandleTransactionPosted(ctx context.Context, msg *amqp.TransactionPostedMessage) error {
	if w.store == nil || w.ledger == nil {
		return fmt.Errorf("export worker not properly initialized")
	}

	tx, err := w.store.GetTransaction(ctx, msg.TransactionID)
	if err != nil {
		return fmt.Errorf("get transaction %d: %w", msg.TransactionID, err)
	}

	ref, err := w.ledger.Append(ctx, tx)
	if err != nil {
		return fmt.Errorf("export transaction %d: %w", msg.TransactionID, err)
	}

	slog.InfoContext(ctx, "Exported posted transaction",
		"transaction_id", msg.TransactionID,
		"source", msg.Source,
		"row_ref", ref)

	return nil
}
