package services

import (
	"context"
	"fmt"
	"log/slog"

	"tally/internal/core"
	"tally/internal/log"
)

// TransactionStore is the ledger surface needed to post a transaction.
type TransactionStore interface {
	InsertTransaction(ctx context.Context, tx core.Transaction) (int64, error)
	ApplyBalanceDelta(ctx context.Context, accountID, deltaCents int64) error
}

// RuleStore extends TransactionStore with the recurring-rule operations.
type RuleStore interface {
	TransactionStore
	FetchDueRules(ctx context.Context, today core.Date) ([]core.RecurringRule, error)
	UpdateRuleSchedule(ctx context.Context, ruleID int64, nextDue *core.Date, lastCreated core.Date) error
}

// EventPublisher announces posted transactions to downstream consumers.
// Publishing is best effort; a failure never affects the ledger.
type EventPublisher interface {
	PublishTransactionPosted(ctx context.Context, txID int64, source string) error
}

// RecurringProcessor turns due recurring rules into ledger postings and
// advances their schedules.
type RecurringProcessor struct {
	store  RuleStore
	events EventPublisher
}

func NewRecurringProcessor(store RuleStore, events EventPublisher) *RecurringProcessor {
	return &RecurringProcessor{
		store:  store,
		events: events,
	}
}

// ProcessDueRules posts one transaction for every rule whose next due date is
// on or before today, updates the owning account's balance, and advances or
// retires the rule's schedule. It returns the number of rules for which a
// transaction was posted.
//
// Each rule is handled independently: a failed step logs, skips the rest of
// that rule's work, and moves on. Only a failure to fetch the due set aborts
// the run. A rule whose schedule advance does not commit stays due and will
// post again on the next run; nothing here deduplicates that retry.
func (p *RecurringProcessor) ProcessDueRules(ctx context.Context, today core.Date) (int, error) {
	if p.store == nil {
		return 0, fmt.Errorf("processor not properly initialized")
	}

	rules, err := p.store.FetchDueRules(ctx, today)
	if err != nil {
		return 0, fmt.Errorf("fetch due rules: %w", err)
	}

	slog.InfoContext(ctx, "Processing due recurring rules",
		"due", len(rules),
		"processing_date", today.String())

	posted := 0

	for _, rule := range rules {
		if err := rule.Frequency.Validate(); err != nil {
			// Should not happen given the enum; leave the rule untouched.
			slog.WarnContext(ctx, "Skipping rule with unknown frequency",
				log.FieldRuleID, rule.ID,
				log.FieldFrequency, rule.Frequency)
			continue
		}
		if rule.NextDue == nil || rule.NextDue.After(today) {
			slog.WarnContext(ctx, "Skipping rule that is not due",
				log.FieldRuleID, rule.ID)
			continue
		}

		tx := core.Transaction{
			UserID:      rule.UserID,
			Description: rule.Description,
			Amount:      rule.Amount,
			Type:        rule.Type,
			AccountID:   rule.AccountID,
			CategoryID:  rule.CategoryID,
			Date:        today,
		}

		txID, err := p.store.InsertTransaction(ctx, tx)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to post transaction for rule",
				log.FieldRuleID, rule.ID,
				"description", rule.Description,
				log.FieldError, err)
			continue
		}
		posted++

		if p.events != nil {
			if err := p.events.PublishTransactionPosted(ctx, txID, "recurring"); err != nil {
				slog.WarnContext(ctx, "Failed to publish posted event",
					log.FieldRuleID, rule.ID,
					"transaction_id", txID,
					log.FieldError, err)
			}
		}

		if err := p.store.ApplyBalanceDelta(ctx, rule.AccountID, rule.SignedCents()); err != nil {
			// The posted row remains; the rule stays due and may post again
			// next run.
			slog.ErrorContext(ctx, "Failed to update account balance, schedule not advanced",
				log.FieldRuleID, rule.ID,
				log.FieldAccountID, rule.AccountID,
				"transaction_id", txID,
				log.FieldError, err)
			continue
		}

		candidate, err := NextOccurrence(*rule.NextDue, rule.Frequency)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to compute next occurrence",
				log.FieldRuleID, rule.ID,
				log.FieldError, err)
			continue
		}

		var nextDue *core.Date
		if retires(rule, candidate, today) {
			nextDue = nil
		} else {
			next := candidate
			nextDue = &next
		}

		if err := p.store.UpdateRuleSchedule(ctx, rule.ID, nextDue, today); err != nil {
			slog.ErrorContext(ctx, "Failed to advance rule schedule, rule may repost next run",
				log.FieldRuleID, rule.ID,
				log.FieldError, err)
			continue
		}

		if nextDue == nil {
			slog.InfoContext(ctx, "Recurring rule retired",
				log.FieldRuleID, rule.ID,
				"description", rule.Description)
		} else {
			slog.InfoContext(ctx, "Posted transaction from recurring rule",
				log.FieldRuleID, rule.ID,
				"transaction_id", txID,
				log.FieldAmountCents, rule.Amount.Cents,
				log.FieldNextDue, nextDue.String())
		}
	}

	slog.InfoContext(ctx, "Recurring rule processing complete",
		"posted", posted,
		"due", len(rules))

	return posted, nil
}

// retires reports whether a rule produces no further postings after this run:
// either the advanced date passes the end date, or the end date is today.
func retires(rule core.RecurringRule, candidate, today core.Date) bool {
	if rule.EndDate == nil {
		return false
	}
	return candidate.After(*rule.EndDate) || rule.EndDate.Equal(today)
}
