package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"tally/internal/core"

	_ "modernc.org/sqlite"
)

// SQLiteRepository is the durable store for accounts, categories, ledger
// transactions, recurring rules, budgets and wishlist items.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// FetchDueRules returns every rule whose next due date is set and on or
// before today. No ordering is imposed.
func (r *SQLiteRepository) FetchDueRules(ctx context.Context, today core.Date) ([]core.RecurringRule, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, description, amount_cents, type, account_id,
		       category_id, frequency, end_date, next_due_date, last_created_date
		FROM recurring_rules
		WHERE next_due_date IS NOT NULL AND next_due_date <= ?`,
		today.String())
	if err != nil {
		return nil, fmt.Errorf("fetch due rules: %w", err)
	}
	defer rows.Close()

	var rules []core.RecurringRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due rules: %w", err)
	}
	return rules, nil
}

// InsertTransaction posts an immutable ledger row and returns its id.
func (r *SQLiteRepository) InsertTransaction(ctx context.Context, tx core.Transaction) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO transactions (user_id, description, amount_cents, type, account_id, category_id, tx_date)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tx.UserID, tx.Description, tx.Amount.Cents, string(tx.Type),
		tx.AccountID, nullableID(tx.CategoryID), tx.Date.String())
	if err != nil {
		return 0, fmt.Errorf("insert transaction: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("transaction id: %w", err)
	}

	slog.InfoContext(ctx, "Transaction posted",
		"id", id,
		"description", tx.Description,
		"amount_cents", tx.Amount.Cents,
		"type", tx.Type,
		"date", tx.Date.String())

	return id, nil
}

// ApplyBalanceDelta adds deltaCents to the account's running balance.
func (r *SQLiteRepository) ApplyBalanceDelta(ctx context.Context, accountID, deltaCents int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET balance_cents = balance_cents + ? WHERE id = ?`,
		deltaCents, accountID)
	if err != nil {
		return fmt.Errorf("apply balance delta: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("apply balance delta: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("apply balance delta: account %d not found", accountID)
	}
	return nil
}

// UpdateRuleSchedule persists the advanced (or cleared) next due date and the
// last created date for a rule.
func (r *SQLiteRepository) UpdateRuleSchedule(ctx context.Context, ruleID int64, nextDue *core.Date, lastCreated core.Date) error {
	var next any
	if nextDue != nil {
		next = nextDue.String()
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE recurring_rules SET next_due_date = ?, last_created_date = ? WHERE id = ?`,
		next, lastCreated.String(), ruleID)
	if err != nil {
		return fmt.Errorf("update rule schedule: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update rule schedule: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update rule schedule: rule %d not found", ruleID)
	}
	return nil
}

// CreateRule stores a recurring rule and returns its id.
func (r *SQLiteRepository) CreateRule(ctx context.Context, rule core.RecurringRule) (int64, error) {
	var end, next, last any
	if rule.EndDate != nil {
		end = rule.EndDate.String()
	}
	if rule.NextDue != nil {
		next = rule.NextDue.String()
	}
	if rule.LastCreated != nil {
		last = rule.LastCreated.String()
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO recurring_rules
			(user_id, description, amount_cents, type, account_id, category_id,
			 frequency, end_date, next_due_date, last_created_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.UserID, rule.Description, rule.Amount.Cents, string(rule.Type),
		rule.AccountID, nullableID(rule.CategoryID), string(rule.Frequency),
		end, next, last)
	if err != nil {
		return 0, fmt.Errorf("create rule: %w", err)
	}
	return res.LastInsertId()
}

// GetRule returns a single recurring rule by id.
func (r *SQLiteRepository) GetRule(ctx context.Context, id int64) (core.RecurringRule, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, description, amount_cents, type, account_id,
		       category_id, frequency, end_date, next_due_date, last_created_date
		FROM recurring_rules WHERE id = ?`, id)
	rule, err := scanRule(row)
	if err != nil {
		return core.RecurringRule{}, fmt.Errorf("get rule %d: %w", id, err)
	}
	return rule, nil
}

// GetTransaction returns a single posted transaction by id.
func (r *SQLiteRepository) GetTransaction(ctx context.Context, id int64) (core.Transaction, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, description, amount_cents, type, account_id, category_id, tx_date
		FROM transactions WHERE id = ?`, id)

	var tx core.Transaction
	var txType, txDate string
	var categoryID sql.NullInt64
	err := row.Scan(&tx.ID, &tx.UserID, &tx.Description, &tx.Amount.Cents,
		&txType, &tx.AccountID, &categoryID, &txDate)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction %d: %w", id, err)
	}
	tx.Type = core.TransactionType(txType)
	if categoryID.Valid {
		v := categoryID.Int64
		tx.CategoryID = &v
	}
	if tx.Date, err = core.ParseDate(txDate); err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction %d: parse date: %w", id, err)
	}
	return tx, nil
}

// ListTransactions returns a user's transactions for a given month, newest
// first.
func (r *SQLiteRepository) ListTransactions(ctx context.Context, userID string, year, month int) ([]core.Transaction, error) {
	prefix := fmt.Sprintf("%04d-%02d-", year, month)
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, description, amount_cents, type, account_id, category_id, tx_date
		FROM transactions
		WHERE user_id = ? AND tx_date LIKE ? || '%'
		ORDER BY tx_date DESC, id DESC`,
		userID, prefix)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txs []core.Transaction
	for rows.Next() {
		var tx core.Transaction
		var txType, txDate string
		var categoryID sql.NullInt64
		if err := rows.Scan(&tx.ID, &tx.UserID, &tx.Description, &tx.Amount.Cents,
			&txType, &tx.AccountID, &categoryID, &txDate); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		tx.Type = core.TransactionType(txType)
		if categoryID.Valid {
			v := categoryID.Int64
			tx.CategoryID = &v
		}
		if tx.Date, err = core.ParseDate(txDate); err != nil {
			return nil, fmt.Errorf("parse transaction date: %w", err)
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// CreateAccount stores an account and returns its id.
func (r *SQLiteRepository) CreateAccount(ctx context.Context, a core.Account) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO accounts (user_id, name, balance_cents) VALUES (?, ?, ?)`,
		a.UserID, a.Name, a.Balance.Cents)
	if err != nil {
		return 0, fmt.Errorf("create account: %w", err)
	}
	return res.LastInsertId()
}

// GetAccount returns a single account by id.
func (r *SQLiteRepository) GetAccount(ctx context.Context, id int64) (core.Account, error) {
	var a core.Account
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, balance_cents FROM accounts WHERE id = ?`, id).
		Scan(&a.ID, &a.UserID, &a.Name, &a.Balance.Cents)
	if err != nil {
		return core.Account{}, fmt.Errorf("get account %d: %w", id, err)
	}
	return a, nil
}

// ListAccounts returns a user's accounts.
func (r *SQLiteRepository) ListAccounts(ctx context.Context, userID string) ([]core.Account, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, name, balance_cents FROM accounts WHERE user_id = ? ORDER BY name`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []core.Account
	for rows.Next() {
		var a core.Account
		if err := rows.Scan(&a.ID, &a.UserID, &a.Name, &a.Balance.Cents); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// CreateCategory stores a category and returns its id.
func (r *SQLiteRepository) CreateCategory(ctx context.Context, c core.Category) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO categories (user_id, name, kind) VALUES (?, ?, ?)`,
		c.UserID, c.Name, string(c.Kind))
	if err != nil {
		return 0, fmt.Errorf("create category: %w", err)
	}
	return res.LastInsertId()
}

// ListCategories returns a user's categories.
func (r *SQLiteRepository) ListCategories(ctx context.Context, userID string) ([]core.Category, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, name, kind FROM categories WHERE user_id = ? ORDER BY name`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var categories []core.Category
	for rows.Next() {
		var c core.Category
		var kind string
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &kind); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		c.Kind = core.TransactionType(kind)
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// CreateBudget stores a monthly category budget and returns its id.
func (r *SQLiteRepository) CreateBudget(ctx context.Context, b core.Budget) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO budgets (user_id, category_id, month, limit_cents) VALUES (?, ?, ?, ?)`,
		b.UserID, b.CategoryID, b.Month, b.Limit.Cents)
	if err != nil {
		return 0, fmt.Errorf("create budget: %w", err)
	}
	return res.LastInsertId()
}

// ListBudgets returns a user's budgets for a month.
func (r *SQLiteRepository) ListBudgets(ctx context.Context, userID, month string) ([]core.Budget, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, category_id, month, limit_cents FROM budgets
		 WHERE user_id = ? AND month = ?`,
		userID, month)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	defer rows.Close()

	var budgets []core.Budget
	for rows.Next() {
		var b core.Budget
		if err := rows.Scan(&b.ID, &b.UserID, &b.CategoryID, &b.Month, &b.Limit.Cents); err != nil {
			return nil, fmt.Errorf("scan budget: %w", err)
		}
		budgets = append(budgets, b)
	}
	return budgets, rows.Err()
}

// CreateWishlistItem stores a wishlist item and returns its id.
func (r *SQLiteRepository) CreateWishlistItem(ctx context.Context, item core.WishlistItem) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO wishlist_items (user_id, name, price_cents, url, purchased) VALUES (?, ?, ?, ?, ?)`,
		item.UserID, item.Name, item.Price.Cents, item.URL, boolToInt(item.Purchased))
	if err != nil {
		return 0, fmt.Errorf("create wishlist item: %w", err)
	}
	return res.LastInsertId()
}

// ListWishlist returns a user's wishlist items.
func (r *SQLiteRepository) ListWishlist(ctx context.Context, userID string) ([]core.WishlistItem, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, name, price_cents, url, purchased FROM wishlist_items
		 WHERE user_id = ? ORDER BY id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list wishlist: %w", err)
	}
	defer rows.Close()

	var items []core.WishlistItem
	for rows.Next() {
		var item core.WishlistItem
		var purchased int
		if err := rows.Scan(&item.ID, &item.UserID, &item.Name, &item.Price.Cents,
			&item.URL, &purchased); err != nil {
			return nil, fmt.Errorf("scan wishlist item: %w", err)
		}
		item.Purchased = purchased != 0
		items = append(items, item)
	}
	return items, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (core.RecurringRule, error) {
	var rule core.RecurringRule
	var txType, frequency string
	var categoryID sql.NullInt64
	var endDate, nextDue, lastCreated sql.NullString

	err := row.Scan(&rule.ID, &rule.UserID, &rule.Description, &rule.Amount.Cents,
		&txType, &rule.AccountID, &categoryID, &frequency,
		&endDate, &nextDue, &lastCreated)
	if err != nil {
		return core.RecurringRule{}, err
	}

	rule.Type = core.TransactionType(txType)
	rule.Frequency = core.Frequency(frequency)
	if categoryID.Valid {
		v := categoryID.Int64
		rule.CategoryID = &v
	}
	if rule.EndDate, err = parseNullDate(endDate); err != nil {
		return core.RecurringRule{}, err
	}
	if rule.NextDue, err = parseNullDate(nextDue); err != nil {
		return core.RecurringRule{}, err
	}
	if rule.LastCreated, err = parseNullDate(lastCreated); err != nil {
		return core.RecurringRule{}, err
	}
	return rule, nil
}

func parseNullDate(s sql.NullString) (*core.Date, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	d, err := core.ParseDate(s.String)
	if err != nil {
		return nil, fmt.Errorf("parse date %q: %w", s.String, err)
	}
	return &d, nil
}

func nullableID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
