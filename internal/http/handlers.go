package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"tally/internal/core"
	"tally/internal/extract"
)

type createTransactionRequest struct {
	Description string `json:"description"`
	Amount      string `json:"amount"`
	Type        string `json:"type"`
	AccountID   int64  `json:"account_id"`
	CategoryID  *int64 `json:"category_id,omitempty"`
	Date        string `json:"date,omitempty"`
}

type createRuleRequest struct {
	Description string `json:"description"`
	Amount      string `json:"amount"`
	Type        string `json:"type"`
	AccountID   int64  `json:"account_id"`
	CategoryID  *int64 `json:"category_id,omitempty"`
	Frequency   string `json:"frequency"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date,omitempty"`
}

type createAccountRequest struct {
	Name    string `json:"name"`
	Balance string `json:"balance,omitempty"`
}

type createCategoryRequest struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

type createBudgetRequest struct {
	CategoryID int64  `json:"category_id"`
	Month      string `json:"month"`
	Limit      string `json:"limit"`
}

type createWishlistRequest struct {
	Name  string `json:"name"`
	Price string `json:"price"`
	URL   string `json:"url,omitempty"`
}

type idResponse struct {
	ID int64 `json:"id"`
}

type transactionResponse struct {
	ID          int64  `json:"id"`
	Description string `json:"description"`
	AmountCents int64  `json:"amount_cents"`
	Type        string `json:"type"`
	AccountID   int64  `json:"account_id"`
	CategoryID  *int64 `json:"category_id,omitempty"`
	Date        string `json:"date"`
}

type accountResponse struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	BalanceCents int64  `json:"balance_cents"`
}

type categoryResponse struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Kind string `json:"kind"`
}

type budgetResponse struct {
	ID         int64  `json:"id"`
	CategoryID int64  `json:"category_id"`
	Month      string `json:"month"`
	LimitCents int64  `json:"limit_cents"`
}

type wishlistResponse struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
	URL        string `json:"url,omitempty"`
	Purchased  bool   `json:"purchased"`
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		writeError(w, http.StatusBadRequest, "missing X-User-ID header")
		return
	}

	var req createTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cents, err := core.ParseDecimalToCents(strings.TrimSpace(req.Amount))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid amount")
		return
	}

	date := core.DateOf(time.Now())
	if req.Date != "" {
		if date, err = core.ParseDate(req.Date); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "invalid date, want YYYY-MM-DD")
			return
		}
	}

	tx := core.Transaction{
		UserID:      user,
		Description: sanitizeInput(req.Description),
		Amount:      core.Money{Cents: cents},
		Type:        core.TransactionType(req.Type),
		AccountID:   req.AccountID,
		CategoryID:  req.CategoryID,
		Date:        date,
	}

	id, err := s.poster.PostTransaction(r.Context(), tx)
	if err != nil {
		if id == 0 {
			slog.ErrorContext(r.Context(), "Failed to post transaction", "error", err)
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		// The row posted but the balance update failed; report the id anyway.
		slog.ErrorContext(r.Context(), "Transaction posted with inconsistent balance",
			"transaction_id", id,
			"error", err)
	}

	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		writeError(w, http.StatusBadRequest, "missing X-User-ID header")
		return
	}

	year, month, err := yearMonthParams(r)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	txs, err := s.store.ListTransactions(r.Context(), user, year, month)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to list transactions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list transactions")
		return
	}

	out := make([]transactionResponse, 0, len(txs))
	for _, tx := range txs {
		out = append(out, transactionResponse{
			ID:          tx.ID,
			Description: tx.Description,
			AmountCents: tx.Amount.Cents,
			Type:        string(tx.Type),
			AccountID:   tx.AccountID,
			CategoryID:  tx.CategoryID,
			Date:        tx.Date.String(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleRunRecurring triggers one processing pass outside the worker's
// schedule.
func (s *Server) handleRunRecurring(w http.ResponseWriter, r *http.Request) {
	if s.recurring == nil {
		writeError(w, http.StatusServiceUnavailable, "recurring processing not configured")
		return
	}

	posted, err := s.recurring.ProcessDueRules(r.Context(), core.DateOf(time.Now()))
	if err != nil {
		slog.ErrorContext(r.Context(), "Recurring run failed", "error", err)
		writeError(w, http.StatusInternalServerError, "recurring run failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"processed": posted})
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		writeError(w, http.StatusBadRequest, "missing X-User-ID header")
		return
	}

	var req createRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cents, err := core.ParseDecimalToCents(strings.TrimSpace(req.Amount))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid amount")
		return
	}

	start, err := core.ParseDate(req.StartDate)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid start date, want YYYY-MM-DD")
		return
	}

	var end *core.Date
	if req.EndDate != "" {
		d, err := core.ParseDate(req.EndDate)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "invalid end date, want YYYY-MM-DD")
			return
		}
		end = &d
	}

	rule := core.RecurringRule{
		UserID:      user,
		Description: sanitizeInput(req.Description),
		Amount:      core.Money{Cents: cents},
		Type:        core.TransactionType(req.Type),
		AccountID:   req.AccountID,
		CategoryID:  req.CategoryID,
		Frequency:   core.Frequency(req.Frequency),
		EndDate:     end,
		NextDue:     &start,
	}
	if err := rule.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	id, err := s.store.CreateRule(r.Context(), rule)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to create rule", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create rule")
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		writeError(w, http.StatusBadRequest, "missing X-User-ID header")
		return
	}

	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	name := sanitizeInput(req.Name)
	if name == "" {
		writeError(w, http.StatusUnprocessableEntity, "account name required")
		return
	}

	var balance int64
	if v := strings.TrimSpace(req.Balance); v != "" {
		cents, err := core.ParseDecimalToCents(v)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "invalid balance")
			return
		}
		balance = cents
	}

	id, err := s.store.CreateAccount(r.Context(), core.Account{
		UserID:  user,
		Name:    name,
		Balance: core.Money{Cents: balance},
	})
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to create account", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create account")
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		writeError(w, http.StatusBadRequest, "missing X-User-ID header")
		return
	}

	accounts, err := s.store.ListAccounts(r.Context(), user)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to list accounts", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list accounts")
		return
	}

	out := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, accountResponse{ID: a.ID, Name: a.Name, BalanceCents: a.Balance.Cents})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		writeError(w, http.StatusBadRequest, "missing X-User-ID header")
		return
	}

	var req createCategoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	name := sanitizeInput(req.Name)
	if name == "" {
		writeError(w, http.StatusUnprocessableEntity, "category name required")
		return
	}
	kind := core.TransactionType(req.Kind)
	if err := kind.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid kind, want income or expense")
		return
	}

	id, err := s.store.CreateCategory(r.Context(), core.Category{
		UserID: user,
		Name:   name,
		Kind:   kind,
	})
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to create category", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create category")
		return
	}

	s.categoriesCache.Delete(user)
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		writeError(w, http.StatusBadRequest, "missing X-User-ID header")
		return
	}

	categories, err := s.cachedCategories(r.Context(), user)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to list categories", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list categories")
		return
	}

	out := make([]categoryResponse, 0, len(categories))
	for _, c := range categories {
		out = append(out, categoryResponse{ID: c.ID, Name: c.Name, Kind: string(c.Kind)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateBudget(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		writeError(w, http.StatusBadRequest, "missing X-User-ID header")
		return
	}

	var req createBudgetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if _, err := time.Parse("2006-01", req.Month); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid month, want YYYY-MM")
		return
	}
	if req.CategoryID <= 0 {
		writeError(w, http.StatusUnprocessableEntity, "missing category")
		return
	}
	cents, err := core.ParseDecimalToCents(strings.TrimSpace(req.Limit))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid limit")
		return
	}

	id, err := s.store.CreateBudget(r.Context(), core.Budget{
		UserID:     user,
		CategoryID: req.CategoryID,
		Month:      req.Month,
		Limit:      core.Money{Cents: cents},
	})
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to create budget", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create budget")
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

func (s *Server) handleListBudgets(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		writeError(w, http.StatusBadRequest, "missing X-User-ID header")
		return
	}

	month := strings.TrimSpace(r.URL.Query().Get("month"))
	if month == "" {
		month = time.Now().Format("2006-01")
	}

	budgets, err := s.store.ListBudgets(r.Context(), user, month)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to list budgets", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list budgets")
		return
	}

	out := make([]budgetResponse, 0, len(budgets))
	for _, b := range budgets {
		out = append(out, budgetResponse{ID: b.ID, CategoryID: b.CategoryID, Month: b.Month, LimitCents: b.Limit.Cents})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateWishlistItem(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		writeError(w, http.StatusBadRequest, "missing X-User-ID header")
		return
	}

	var req createWishlistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	name := sanitizeInput(req.Name)
	if name == "" {
		writeError(w, http.StatusUnprocessableEntity, "item name required")
		return
	}
	cents, err := core.ParseDecimalToCents(strings.TrimSpace(req.Price))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid price")
		return
	}

	id, err := s.store.CreateWishlistItem(r.Context(), core.WishlistItem{
		UserID: user,
		Name:   name,
		Price:  core.Money{Cents: cents},
		URL:    strings.TrimSpace(req.URL),
	})
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to create wishlist item", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create wishlist item")
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

func (s *Server) handleListWishlist(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		writeError(w, http.StatusBadRequest, "missing X-User-ID header")
		return
	}

	items, err := s.store.ListWishlist(r.Context(), user)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to list wishlist", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list wishlist")
		return
	}

	out := make([]wishlistResponse, 0, len(items))
	for _, item := range items {
		out = append(out, wishlistResponse{
			ID:         item.ID,
			Name:       item.Name,
			PriceCents: item.Price.Cents,
			URL:        item.URL,
			Purchased:  item.Purchased,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleExtractReceipt accepts a multipart receipt upload and returns the
// sanitized extraction result. Nothing is persisted; the client reviews the
// draft before posting it as a transaction.
func (s *Server) handleExtractReceipt(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		writeError(w, http.StatusBadRequest, "missing X-User-ID header")
		return
	}
	if s.extractor == nil {
		writeError(w, http.StatusServiceUnavailable, "receipt extraction not configured")
		return
	}

	if err := r.ParseMultipartForm(extract.MaxReceiptBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	file, header, err := r.FormFile("receipt")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing receipt file")
		return
	}
	defer file.Close()

	mimeType := header.Header.Get("Content-Type")
	if err := extract.ValidateInput(mimeType, header.Size); err != nil {
		switch {
		case errors.Is(err, extract.ErrTooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		case errors.Is(err, extract.ErrUnsupportedMIME):
			writeError(w, http.StatusUnsupportedMediaType, err.Error())
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	image, err := io.ReadAll(io.LimitReader(file, extract.MaxReceiptBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read receipt file")
		return
	}

	categories, err := s.cachedCategories(r.Context(), user)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to load categories for extraction", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load categories")
		return
	}
	prompt := make([]extract.Category, 0, len(categories))
	for _, c := range categories {
		prompt = append(prompt, extract.Category{ID: c.ID, Name: c.Name})
	}

	result, err := s.extractor.Extract(r.Context(), image, mimeType, prompt, core.DateOf(time.Now()))
	if err != nil {
		slog.ErrorContext(r.Context(), "Receipt extraction failed", "error", err)
		writeError(w, http.StatusBadGateway, "receipt extraction failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// cachedCategories returns the user's categories, served from the LRU cache
// when fresh.
func (s *Server) cachedCategories(ctx context.Context, user string) ([]core.Category, error) {
	if categories, found := s.categoriesCache.Get(user); found {
		result := make([]core.Category, len(categories))
		copy(result, categories)
		return result, nil
	}

	categories, err := s.store.ListCategories(ctx, user)
	if err != nil {
		return nil, err
	}
	s.categoriesCache.Set(user, categories)
	return categories, nil
}
