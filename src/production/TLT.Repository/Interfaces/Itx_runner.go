package interfaces

import (
	"context"
	"database/sql"
)

// TxRunner scopes a function to one database transaction. Rollback on error
// is automatic; commit happens only when fn returns nil.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(tx *sql.Tx) error) error
}
