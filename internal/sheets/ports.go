package sheets

import (
	"context"

	"tally/internal/core"
)

// LedgerWriter appends posted transactions to an external ledger sheet.
type LedgerWriter interface {
	Append(ctx context.Context, tx core.Transaction) (rowRef string, err error)
}
