package services

import (
	"context"
	"fmt"
	"log/slog"

	"tally/internal/core"
	"tally/internal/log"
)

// LedgerService posts user-initiated transactions: insert the ledger row,
// apply the balance delta, announce the posting.
type LedgerService struct {
	store  TransactionStore
	events EventPublisher
}

func NewLedgerService(store TransactionStore, events EventPublisher) *LedgerService {
	return &LedgerService{
		store:  store,
		events: events,
	}
}

// PostTransaction validates and posts a transaction. When the insert succeeds
// but the balance update fails, the posted row remains and the error reports
// the inconsistency.
func (s *LedgerService) PostTransaction(ctx context.Context, tx core.Transaction) (int64, error) {
	if s.store == nil {
		return 0, fmt.Errorf("ledger service not properly initialized")
	}
	if err := tx.Validate(); err != nil {
		return 0, fmt.Errorf("validate transaction: %w", err)
	}

	id, err := s.store.InsertTransaction(ctx, tx)
	if err != nil {
		return 0, fmt.Errorf("insert transaction: %w", err)
	}

	if s.events != nil {
		if err := s.events.PublishTransactionPosted(ctx, id, "manual"); err != nil {
			slog.WarnContext(ctx, "Failed to publish posted event",
				"transaction_id", id,
				log.FieldError, err)
		}
	}

	if err := s.store.ApplyBalanceDelta(ctx, tx.AccountID, tx.SignedCents()); err != nil {
		slog.ErrorContext(ctx, "Transaction posted but balance update failed",
			"transaction_id", id,
			log.FieldAccountID, tx.AccountID,
			log.FieldError, err)
		return id, fmt.Errorf("apply balance delta: %w", err)
	}

	return id, nil
}
