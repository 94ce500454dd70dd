package core

import (
	"errors"
	"strings"
	"time"
)

const (
	Income  TransactionType = "income"
	Expense TransactionType = "expense"
)

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
	Yearly  Frequency = "yearly"
)

type (
	TransactionType string

	Frequency string

	// Date is a UTC calendar date; the time-of-day component is always zero.
	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	Account struct {
		ID      int64
		UserID  string
		Name    string
		Balance Money
	}

	Category struct {
		ID     int64
		UserID string
		Name   string
		Kind   TransactionType
	}

	// Transaction is a posted ledger entry. Immutable once created.
	Transaction struct {
		ID          int64
		UserID      string
		Description string
		Amount      Money // magnitude; sign derives from Type
		Type        TransactionType
		AccountID   int64
		CategoryID  *int64
		Date        Date
	}

	// RecurringRule periodically generates ledger postings. NextDue is nil
	// exactly when the rule is retired.
	RecurringRule struct {
		ID          int64
		UserID      string
		Description string
		Amount      Money // magnitude; sign derives from Type
		Type        TransactionType
		AccountID   int64
		CategoryID  *int64
		Frequency   Frequency
		EndDate     *Date
		NextDue     *Date
		LastCreated *Date
	}

	Budget struct {
		ID         int64
		UserID     string
		CategoryID int64
		Month      string // YYYY-MM
		Limit      Money
	}

	WishlistItem struct {
		ID        int64
		UserID    string
		Name      string
		Price     Money
		URL       string
		Purchased bool
	}
)

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidType      = errors.New("invalid transaction type")
	ErrInvalidFrequency = errors.New("invalid frequency")
	ErrEmptyDescription = errors.New("empty description")
	ErrEmptyUserID      = errors.New("empty user id")
)

const DateLayout = "2006-01-02"

// NewDate creates a Date from year, month, day in UTC.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its UTC calendar date.
func DateOf(t time.Time) Date {
	y, m, d := t.UTC().Date()
	return NewDate(y, int(m), d)
}

// ParseDate parses a YYYY-MM-DD string into a Date. Parsing is strict:
// "2024-02-30" is rejected.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, err
	}
	return Date{Time: t}, nil
}

// String returns the date in YYYY-MM-DD form.
func (d Date) String() string {
	return d.Format(DateLayout)
}

func (d Date) Equal(other Date) bool {
	return d.Time.Equal(other.Time)
}

func (d Date) After(other Date) bool {
	return d.Time.After(other.Time)
}

func (d Date) Before(other Date) bool {
	return d.Time.Before(other.Time)
}

// AddDays returns the date n days later.
func (d Date) AddDays(n int) Date {
	return Date{Time: d.Time.AddDate(0, 0, n)}
}

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	return nil
}

func (t TransactionType) Validate() error {
	switch t {
	case Income, Expense:
		return nil
	default:
		return ErrInvalidType
	}
}

func (f Frequency) Validate() error {
	switch f {
	case Daily, Weekly, Monthly, Yearly:
		return nil
	default:
		return ErrInvalidFrequency
	}
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (tx Transaction) Validate() error {
	if strings.TrimSpace(tx.UserID) == "" {
		return ErrEmptyUserID
	}
	if err := tx.Date.Validate(); err != nil {
		return err
	}
	if len(strings.TrimSpace(tx.Description)) == 0 {
		return ErrEmptyDescription
	}
	if len(tx.Description) > 200 {
		return errors.New("description too long (max 200 characters)")
	}
	if err := tx.Amount.Validate(); err != nil {
		return err
	}
	if err := tx.Type.Validate(); err != nil {
		return err
	}
	if tx.AccountID <= 0 {
		return errors.New("missing account")
	}
	return nil
}

// SignedCents returns the balance delta this transaction applies to its
// account: positive for income, negative for expense.
func (tx Transaction) SignedCents() int64 {
	if tx.Type == Expense {
		return -tx.Amount.Cents
	}
	return tx.Amount.Cents
}

// SignedCents returns the balance delta a posting of this rule applies.
func (r RecurringRule) SignedCents() int64 {
	if r.Type == Expense {
		return -r.Amount.Cents
	}
	return r.Amount.Cents
}

// Retired reports whether the rule will produce no further postings.
func (r RecurringRule) Retired() bool {
	return r.NextDue == nil
}

func (r RecurringRule) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return ErrEmptyUserID
	}
	if len(strings.TrimSpace(r.Description)) == 0 {
		return ErrEmptyDescription
	}
	if len(r.Description) > 200 {
		return errors.New("description too long (max 200 characters)")
	}
	if err := r.Amount.Validate(); err != nil {
		return err
	}
	if err := r.Type.Validate(); err != nil {
		return err
	}
	if err := r.Frequency.Validate(); err != nil {
		return err
	}
	if r.AccountID <= 0 {
		return errors.New("missing account")
	}
	if r.NextDue != nil {
		if err := r.NextDue.Validate(); err != nil {
			return errors.New("invalid next due date: " + err.Error())
		}
	}
	if r.EndDate != nil {
		if err := r.EndDate.Validate(); err != nil {
			return errors.New("invalid end date: " + err.Error())
		}
		if r.NextDue != nil && r.EndDate.Before(*r.NextDue) {
			return errors.New("end date must not precede next due date")
		}
	}
	return nil
}
