package storage

import (
	"context"
	"path/filepath"
	"testing"

	"tally/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "tally.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository() error: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func seedAccount(t *testing.T, repo *SQLiteRepository) int64 {
	t.Helper()
	id, err := repo.CreateAccount(context.Background(), core.Account{
		UserID:  "user-1",
		Name:    "Checking",
		Balance: core.Money{Cents: 100000},
	})
	if err != nil {
		t.Fatalf("CreateAccount() error: %v", err)
	}
	return id
}

func TestInsertAndGetTransaction(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	accountID := seedAccount(t, repo)

	id, err := repo.InsertTransaction(ctx, core.Transaction{
		UserID:      "user-1",
		Description: "Salary",
		Amount:      core.Money{Cents: 250000},
		Type:        core.Income,
		AccountID:   accountID,
		Date:        core.NewDate(2024, 3, 1),
	})
	if err != nil {
		t.Fatalf("InsertTransaction() error: %v", err)
	}

	got, err := repo.GetTransaction(ctx, id)
	if err != nil {
		t.Fatalf("GetTransaction() error: %v", err)
	}
	if got.Description != "Salary" || got.Amount.Cents != 250000 || got.Type != core.Income {
		t.Errorf("unexpected transaction: %+v", got)
	}
	if got.Date.String() != "2024-03-01" {
		t.Errorf("date = %s, want 2024-03-01", got.Date)
	}
	if got.CategoryID != nil {
		t.Errorf("category id should be nil, got %d", *got.CategoryID)
	}
}

func TestApplyBalanceDelta(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	accountID := seedAccount(t, repo)

	if err := repo.ApplyBalanceDelta(ctx, accountID, -2500); err != nil {
		t.Fatalf("ApplyBalanceDelta() error: %v", err)
	}
	if err := repo.ApplyBalanceDelta(ctx, accountID, 1000); err != nil {
		t.Fatalf("ApplyBalanceDelta() error: %v", err)
	}

	account, err := repo.GetAccount(ctx, accountID)
	if err != nil {
		t.Fatalf("GetAccount() error: %v", err)
	}
	if account.Balance.Cents != 98500 {
		t.Errorf("balance = %d, want 98500", account.Balance.Cents)
	}
}

func TestApplyBalanceDelta_MissingAccount(t *testing.T) {
	repo := newTestRepo(t)

	if err := repo.ApplyBalanceDelta(context.Background(), 999, 100); err == nil {
		t.Fatal("expected error for missing account")
	}
}

func TestFetchDueRules(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	accountID := seedAccount(t, repo)

	mkRule := func(desc string, nextDue *core.Date) core.RecurringRule {
		return core.RecurringRule{
			UserID:      "user-1",
			Description: desc,
			Amount:      core.Money{Cents: 1000},
			Type:        core.Expense,
			AccountID:   accountID,
			Frequency:   core.Monthly,
			NextDue:     nextDue,
		}
	}

	due := core.NewDate(2024, 3, 1)
	overdue := core.NewDate(2024, 2, 1)
	future := core.NewDate(2024, 4, 1)

	for _, rule := range []core.RecurringRule{
		mkRule("due today", &due),
		mkRule("overdue", &overdue),
		mkRule("future", &future),
		mkRule("retired", nil),
	} {
		if _, err := repo.CreateRule(ctx, rule); err != nil {
			t.Fatalf("CreateRule() error: %v", err)
		}
	}

	rules, err := repo.FetchDueRules(ctx, core.NewDate(2024, 3, 1))
	if err != nil {
		t.Fatalf("FetchDueRules() error: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("fetched %d rules, want 2", len(rules))
	}
	for _, rule := range rules {
		if rule.NextDue == nil || rule.NextDue.After(core.NewDate(2024, 3, 1)) {
			t.Errorf("rule %q should not be in the due set", rule.Description)
		}
	}
}

func TestUpdateRuleSchedule(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	accountID := seedAccount(t, repo)

	next := core.NewDate(2024, 3, 1)
	ruleID, err := repo.CreateRule(ctx, core.RecurringRule{
		UserID:      "user-1",
		Description: "Rent",
		Amount:      core.Money{Cents: 120000},
		Type:        core.Expense,
		AccountID:   accountID,
		Frequency:   core.Monthly,
		NextDue:     &next,
	})
	if err != nil {
		t.Fatalf("CreateRule() error: %v", err)
	}

	advanced := core.NewDate(2024, 4, 1)
	today := core.NewDate(2024, 3, 1)
	if err := repo.UpdateRuleSchedule(ctx, ruleID, &advanced, today); err != nil {
		t.Fatalf("UpdateRuleSchedule() error: %v", err)
	}

	rule, err := repo.GetRule(ctx, ruleID)
	if err != nil {
		t.Fatalf("GetRule() error: %v", err)
	}
	if rule.NextDue == nil || rule.NextDue.String() != "2024-04-01" {
		t.Errorf("next due = %v, want 2024-04-01", rule.NextDue)
	}
	if rule.LastCreated == nil || !rule.LastCreated.Equal(today) {
		t.Errorf("last created = %v, want %s", rule.LastCreated, today)
	}

	// Retire.
	if err := repo.UpdateRuleSchedule(ctx, ruleID, nil, today); err != nil {
		t.Fatalf("UpdateRuleSchedule() retire error: %v", err)
	}
	rule, err = repo.GetRule(ctx, ruleID)
	if err != nil {
		t.Fatalf("GetRule() error: %v", err)
	}
	if !rule.Retired() {
		t.Errorf("rule should be retired, next due = %v", rule.NextDue)
	}
}

func TestListTransactionsByMonth(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	accountID := seedAccount(t, repo)

	post := func(desc string, d core.Date) {
		t.Helper()
		_, err := repo.InsertTransaction(ctx, core.Transaction{
			UserID:      "user-1",
			Description: desc,
			Amount:      core.Money{Cents: 100},
			Type:        core.Expense,
			AccountID:   accountID,
			Date:        d,
		})
		if err != nil {
			t.Fatalf("InsertTransaction() error: %v", err)
		}
	}

	post("march 1", core.NewDate(2024, 3, 1))
	post("march 31", core.NewDate(2024, 3, 31))
	post("april", core.NewDate(2024, 4, 1))

	txs, err := repo.ListTransactions(ctx, "user-1", 2024, 3)
	if err != nil {
		t.Fatalf("ListTransactions() error: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("listed %d transactions, want 2", len(txs))
	}
}

func TestBudgetsAndWishlistRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	catID, err := repo.CreateCategory(ctx, core.Category{
		UserID: "user-1", Name: "Groceries", Kind: core.Expense,
	})
	if err != nil {
		t.Fatalf("CreateCategory() error: %v", err)
	}

	if _, err := repo.CreateBudget(ctx, core.Budget{
		UserID: "user-1", CategoryID: catID, Month: "2024-03",
		Limit: core.Money{Cents: 50000},
	}); err != nil {
		t.Fatalf("CreateBudget() error: %v", err)
	}
	budgets, err := repo.ListBudgets(ctx, "user-1", "2024-03")
	if err != nil {
		t.Fatalf("ListBudgets() error: %v", err)
	}
	if len(budgets) != 1 || budgets[0].Limit.Cents != 50000 {
		t.Errorf("unexpected budgets: %+v", budgets)
	}

	if _, err := repo.CreateWishlistItem(ctx, core.WishlistItem{
		UserID: "user-1", Name: "Espresso machine",
		Price: core.Money{Cents: 39900}, URL: "https://example.com/em",
	}); err != nil {
		t.Fatalf("CreateWishlistItem() error: %v", err)
	}
	items, err := repo.ListWishlist(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListWishlist() error: %v", err)
	}
	if len(items) != 1 || items[0].Purchased {
		t.Errorf("unexpected wishlist: %+v", items)
	}
}
