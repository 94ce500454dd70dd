package services

import (
	"context"
	"errors"
	"testing"

	"tally/internal/core"
)

// fakeStore records every operation the processor performs and can be told to
// fail individual steps.
type fakeStore struct {
	rules    []core.RecurringRule
	fetchErr error

	insertErr  error
	balanceErr error
	updateErr  error

	inserted []core.Transaction
	deltas   map[int64]int64
	updates  map[int64]scheduleUpdate

	nextTxID int64
}

type scheduleUpdate struct {
	nextDue     *core.Date
	lastCreated core.Date
}

func newFakeStore(rules ...core.RecurringRule) *fakeStore {
	return &fakeStore{
		rules:   rules,
		deltas:  make(map[int64]int64),
		updates: make(map[int64]scheduleUpdate),
	}
}

func (f *fakeStore) FetchDueRules(_ context.Context, today core.Date) ([]core.RecurringRule, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	var due []core.RecurringRule
	for _, r := range f.rules {
		if r.NextDue != nil && !r.NextDue.After(today) {
			due = append(due, r)
		}
	}
	return due, nil
}

func (f *fakeStore) InsertTransaction(_ context.Context, tx core.Transaction) (int64, error) {
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	f.nextTxID++
	f.inserted = append(f.inserted, tx)
	return f.nextTxID, nil
}

func (f *fakeStore) ApplyBalanceDelta(_ context.Context, accountID, deltaCents int64) error {
	if f.balanceErr != nil {
		return f.balanceErr
	}
	f.deltas[accountID] += deltaCents
	return nil
}

func (f *fakeStore) UpdateRuleSchedule(_ context.Context, ruleID int64, nextDue *core.Date, lastCreated core.Date) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates[ruleID] = scheduleUpdate{nextDue: nextDue, lastCreated: lastCreated}
	return nil
}

type fakePublisher struct {
	published []int64
	err       error
}

func (f *fakePublisher) PublishTransactionPosted(_ context.Context, txID int64, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, txID)
	return nil
}

func dateP(year, month, day int) *core.Date {
	d := core.NewDate(year, month, day)
	return &d
}

func monthlyRule(id int64, nextDue *core.Date) core.RecurringRule {
	return core.RecurringRule{
		ID:          id,
		UserID:      "user-1",
		Description: "Rent",
		Amount:      core.Money{Cents: 120000},
		Type:        core.Expense,
		AccountID:   7,
		Frequency:   core.Monthly,
		NextDue:     nextDue,
	}
}

func TestProcessDueRules_PostsAndAdvances(t *testing.T) {
	// Jan 31 monthly rule processed on Feb 1 of a leap year: posts a
	// transaction dated today and advances to Feb 29.
	store := newFakeStore(monthlyRule(1, dateP(2024, 1, 31)))
	today := core.NewDate(2024, 2, 1)

	p := NewRecurringProcessor(store, nil)
	posted, err := p.ProcessDueRules(context.Background(), today)
	if err != nil {
		t.Fatalf("ProcessDueRules() error: %v", err)
	}
	if posted != 1 {
		t.Fatalf("posted = %d, want 1", posted)
	}

	if len(store.inserted) != 1 {
		t.Fatalf("inserted %d transactions, want 1", len(store.inserted))
	}
	tx := store.inserted[0]
	if !tx.Date.Equal(today) {
		t.Errorf("transaction date = %s, want %s", tx.Date, today)
	}
	if tx.Type != core.Expense || tx.Amount.Cents != 120000 {
		t.Errorf("transaction fields not copied from rule: %+v", tx)
	}

	if store.deltas[7] != -120000 {
		t.Errorf("balance delta = %d, want -120000", store.deltas[7])
	}

	upd, ok := store.updates[1]
	if !ok {
		t.Fatal("rule schedule was not updated")
	}
	if upd.nextDue == nil || upd.nextDue.String() != "2024-02-29" {
		t.Errorf("next due = %v, want 2024-02-29", upd.nextDue)
	}
	if !upd.lastCreated.Equal(today) {
		t.Errorf("last created = %s, want %s", upd.lastCreated, today)
	}
}

func TestProcessDueRules_OnePostingPerDueRule(t *testing.T) {
	store := newFakeStore(
		monthlyRule(1, dateP(2024, 3, 1)),
		monthlyRule(2, dateP(2024, 2, 15)), // overdue, still one posting
		monthlyRule(3, dateP(2024, 4, 1)),  // not yet due
		monthlyRule(4, nil),                // retired
	)
	today := core.NewDate(2024, 3, 1)

	p := NewRecurringProcessor(store, nil)
	posted, err := p.ProcessDueRules(context.Background(), today)
	if err != nil {
		t.Fatalf("ProcessDueRules() error: %v", err)
	}
	if posted != 2 {
		t.Errorf("posted = %d, want 2", posted)
	}
	if len(store.inserted) != 2 {
		t.Errorf("inserted %d transactions, want 2", len(store.inserted))
	}
}

func TestProcessDueRules_RetiresWhenEndDateIsToday(t *testing.T) {
	rule := core.RecurringRule{
		ID:          1,
		UserID:      "user-1",
		Description: "Gym trial",
		Amount:      core.Money{Cents: 500},
		Type:        core.Expense,
		AccountID:   3,
		Frequency:   core.Daily,
		NextDue:     dateP(2024, 3, 10),
		EndDate:     dateP(2024, 3, 10),
	}
	store := newFakeStore(rule)
	today := core.NewDate(2024, 3, 10)

	p := NewRecurringProcessor(store, nil)
	posted, err := p.ProcessDueRules(context.Background(), today)
	if err != nil {
		t.Fatalf("ProcessDueRules() error: %v", err)
	}
	if posted != 1 {
		t.Fatalf("posted = %d, want 1", posted)
	}

	upd := store.updates[1]
	if upd.nextDue != nil {
		t.Errorf("rule should be retired, next due = %s", upd.nextDue)
	}
	if !upd.lastCreated.Equal(today) {
		t.Errorf("last created = %s, want %s", upd.lastCreated, today)
	}
}

func TestProcessDueRules_RetiresWhenCandidatePassesEndDate(t *testing.T) {
	rule := monthlyRule(1, dateP(2024, 3, 20))
	rule.EndDate = dateP(2024, 4, 1) // Apr 20 candidate overshoots
	store := newFakeStore(rule)

	p := NewRecurringProcessor(store, nil)
	if _, err := p.ProcessDueRules(context.Background(), core.NewDate(2024, 3, 20)); err != nil {
		t.Fatalf("ProcessDueRules() error: %v", err)
	}

	if upd := store.updates[1]; upd.nextDue != nil {
		t.Errorf("rule should be retired, next due = %s", upd.nextDue)
	}
}

func TestProcessDueRules_KeepsScheduleWithinEndDate(t *testing.T) {
	rule := monthlyRule(1, dateP(2024, 3, 20))
	rule.EndDate = dateP(2024, 6, 1)
	store := newFakeStore(rule)

	p := NewRecurringProcessor(store, nil)
	if _, err := p.ProcessDueRules(context.Background(), core.NewDate(2024, 3, 20)); err != nil {
		t.Fatalf("ProcessDueRules() error: %v", err)
	}

	upd := store.updates[1]
	if upd.nextDue == nil || upd.nextDue.String() != "2024-04-20" {
		t.Errorf("next due = %v, want 2024-04-20", upd.nextDue)
	}
}

func TestProcessDueRules_InsertFailureSkipsRule(t *testing.T) {
	store := newFakeStore(monthlyRule(1, dateP(2024, 3, 1)))
	store.insertErr = errors.New("disk full")

	p := NewRecurringProcessor(store, nil)
	posted, err := p.ProcessDueRules(context.Background(), core.NewDate(2024, 3, 1))
	if err != nil {
		t.Fatalf("ProcessDueRules() should continue past per-rule failures: %v", err)
	}
	if posted != 0 {
		t.Errorf("posted = %d, want 0", posted)
	}
	if len(store.deltas) != 0 {
		t.Error("balance must not change when the insert fails")
	}
	if len(store.updates) != 0 {
		t.Error("schedule must not advance when the insert fails")
	}
}

func TestProcessDueRules_BalanceFailureSkipsAdvance(t *testing.T) {
	store := newFakeStore(monthlyRule(1, dateP(2024, 3, 1)))
	store.balanceErr = errors.New("account locked")

	p := NewRecurringProcessor(store, nil)
	posted, err := p.ProcessDueRules(context.Background(), core.NewDate(2024, 3, 1))
	if err != nil {
		t.Fatalf("ProcessDueRules() error: %v", err)
	}
	// The posted row remains even though the balance update failed.
	if posted != 1 || len(store.inserted) != 1 {
		t.Errorf("posted = %d inserted = %d, want 1 and 1", posted, len(store.inserted))
	}
	if len(store.updates) != 0 {
		t.Error("schedule must not advance when the balance update fails")
	}
}

func TestProcessDueRules_UnknownFrequencySkipsWithoutMutation(t *testing.T) {
	rule := monthlyRule(1, dateP(2024, 3, 1))
	rule.Frequency = "fortnightly"
	store := newFakeStore(rule)

	p := NewRecurringProcessor(store, nil)
	posted, err := p.ProcessDueRules(context.Background(), core.NewDate(2024, 3, 1))
	if err != nil {
		t.Fatalf("ProcessDueRules() error: %v", err)
	}
	if posted != 0 || len(store.inserted) != 0 {
		t.Error("unknown frequency must not post")
	}
	if len(store.deltas) != 0 || len(store.updates) != 0 {
		t.Error("unknown frequency must not mutate anything")
	}
}

func TestProcessDueRules_FetchFailureIsFatal(t *testing.T) {
	store := newFakeStore()
	store.fetchErr = errors.New("connection refused")

	p := NewRecurringProcessor(store, nil)
	if _, err := p.ProcessDueRules(context.Background(), core.NewDate(2024, 3, 1)); err == nil {
		t.Fatal("expected error when the due set cannot be fetched")
	}
}

func TestProcessDueRules_UpdateFailureStillCountsPosting(t *testing.T) {
	store := newFakeStore(monthlyRule(1, dateP(2024, 3, 1)))
	store.updateErr = errors.New("write timeout")

	p := NewRecurringProcessor(store, nil)
	posted, err := p.ProcessDueRules(context.Background(), core.NewDate(2024, 3, 1))
	if err != nil {
		t.Fatalf("ProcessDueRules() error: %v", err)
	}
	if posted != 1 {
		t.Errorf("posted = %d, want 1", posted)
	}
	if store.deltas[7] != -120000 {
		t.Errorf("balance delta = %d, want -120000", store.deltas[7])
	}
}

func TestProcessDueRules_PublishesPostedEvents(t *testing.T) {
	store := newFakeStore(monthlyRule(1, dateP(2024, 3, 1)))
	events := &fakePublisher{}

	p := NewRecurringProcessor(store, events)
	if _, err := p.ProcessDueRules(context.Background(), core.NewDate(2024, 3, 1)); err != nil {
		t.Fatalf("ProcessDueRules() error: %v", err)
	}
	if len(events.published) != 1 {
		t.Errorf("published %d events, want 1", len(events.published))
	}
}

func TestProcessDueRules_PublishFailureIsNonFatal(t *testing.T) {
	store := newFakeStore(monthlyRule(1, dateP(2024, 3, 1)))
	events := &fakePublisher{err: errors.New("broker down")}

	p := NewRecurringProcessor(store, events)
	posted, err := p.ProcessDueRules(context.Background(), core.NewDate(2024, 3, 1))
	if err != nil {
		t.Fatalf("ProcessDueRules() error: %v", err)
	}
	if posted != 1 {
		t.Errorf("posted = %d, want 1", posted)
	}
	if len(store.updates) != 1 {
		t.Error("schedule should still advance when publishing fails")
	}
}
