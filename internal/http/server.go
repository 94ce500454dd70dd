package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"tally/internal/cache"
	"tally/internal/core"
	"tally/internal/extract"
	"tally/internal/log"
)

// Store is the persistence surface the API serves from.
type Store interface {
	CreateAccount(ctx context.Context, a core.Account) (int64, error)
	ListAccounts(ctx context.Context, userID string) ([]core.Account, error)
	CreateCategory(ctx context.Context, c core.Category) (int64, error)
	ListCategories(ctx context.Context, userID string) ([]core.Category, error)
	CreateRule(ctx context.Context, rule core.RecurringRule) (int64, error)
	ListTransactions(ctx context.Context, userID string, year, month int) ([]core.Transaction, error)
	CreateBudget(ctx context.Context, b core.Budget) (int64, error)
	ListBudgets(ctx context.Context, userID, month string) ([]core.Budget, error)
	CreateWishlistItem(ctx context.Context, item core.WishlistItem) (int64, error)
	ListWishlist(ctx context.Context, userID string) ([]core.WishlistItem, error)
}

// TransactionPoster posts a validated user transaction to the ledger.
type TransactionPoster interface {
	PostTransaction(ctx context.Context, tx core.Transaction) (int64, error)
}

// RecurringRunner runs one pass over the due recurring rules.
type RecurringRunner interface {
	ProcessDueRules(ctx context.Context, today core.Date) (int, error)
}

// ReceiptExtractor turns a receipt upload into a sanitized extraction result.
type ReceiptExtractor interface {
	Extract(ctx context.Context, image []byte, mimeType string, categories []extract.Category, runDate core.Date) (extract.Result, error)
}

type Server struct {
	http.Server
	store     Store
	poster    TransactionPoster
	recurring RecurringRunner
	extractor ReceiptExtractor

	logger      *log.Logger
	rateLimiter *rateLimiter

	// Category lists feed the extraction prompt on every upload; cache them
	// per user.
	categoriesCache *cache.Cache[[]core.Category]

	stopCacheCleanup chan struct{}
	shutdownOnce     sync.Once
}

// NewServer configures routes and returns a ready-to-run http.Server.
// extractor may be nil when receipt extraction is not configured.
func NewServer(addr string, store Store, poster TransactionPoster, recurring RecurringRunner, extractor ReceiptExtractor) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		store:            store,
		poster:           poster,
		recurring:        recurring,
		extractor:        extractor,
		logger:           log.New(log.Config{Level: slog.LevelInfo, Component: log.ComponentHTTP}),
		rateLimiter:      newRateLimiter(),
		categoriesCache:  cache.New[[]core.Category](100, 5*time.Minute),
		stopCacheCleanup: make(chan struct{}),
	}

	go s.startCacheCleanup()

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", handleReady)

	mux.HandleFunc("POST /api/transactions", s.withRequestLog(s.handleCreateTransaction))
	mux.HandleFunc("GET /api/transactions", s.withRequestLog(s.handleListTransactions))
	mux.HandleFunc("POST /api/recurring/run", s.withRequestLog(s.handleRunRecurring))
	mux.HandleFunc("POST /api/rules", s.withRequestLog(s.handleCreateRule))
	mux.HandleFunc("POST /api/accounts", s.withRequestLog(s.handleCreateAccount))
	mux.HandleFunc("GET /api/accounts", s.withRequestLog(s.handleListAccounts))
	mux.HandleFunc("POST /api/categories", s.withRequestLog(s.handleCreateCategory))
	mux.HandleFunc("GET /api/categories", s.withRequestLog(s.handleListCategories))
	mux.HandleFunc("POST /api/budgets", s.withRequestLog(s.handleCreateBudget))
	mux.HandleFunc("GET /api/budgets", s.withRequestLog(s.handleListBudgets))
	mux.HandleFunc("POST /api/wishlist", s.withRequestLog(s.handleCreateWishlistItem))
	mux.HandleFunc("GET /api/wishlist", s.withRequestLog(s.handleListWishlist))
	mux.HandleFunc("POST /api/receipts/extract", s.withRequestLog(s.handleExtractReceipt))

	return s
}

// startCacheCleanup periodically evicts expired category lists.
func (s *Server) startCacheCleanup() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if cleaned := s.categoriesCache.CleanExpired(); cleaned > 0 {
				slog.Debug("Cache cleanup completed", "entries_removed", cleaned)
			}
		case <-s.stopCacheCleanup:
			return
		}
	}
}

// Shutdown gracefully shuts down the server and its cleanup routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		if s.stopCacheCleanup != nil {
			close(s.stopCacheCleanup)
		}
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})

	return shutdownErr
}

// withRequestLog adds request ids, logging and rate limiting.
func (s *Server) withRequestLog(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		clientIP := r.Header.Get("X-Forwarded-For")
		if clientIP == "" {
			clientIP = r.Header.Get("X-Real-IP")
		}
		if clientIP == "" {
			clientIP = r.RemoteAddr
		}

		requestID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		s.logger.InfoContext(ctx, "Request started",
			log.FieldRequestID, requestID,
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path,
			"client_ip", clientIP)

		if r.Method == http.MethodPost && !s.rateLimiter.allow(clientIP) {
			s.logger.WarnContext(ctx, "Rate limit exceeded",
				"client_ip", clientIP,
				log.FieldPath, r.URL.Path)
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		s.logger.InfoContext(ctx, "Request completed",
			log.FieldRequestID, requestID,
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path,
			log.FieldStatusCode, rw.statusCode,
			log.FieldDuration, time.Since(start).Milliseconds())
	}
}

type requestIDKey struct{}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
