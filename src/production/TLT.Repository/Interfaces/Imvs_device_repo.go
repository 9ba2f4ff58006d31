package interfaces

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	tltmodels "gitlab.com/talktail1/tlt.hub_server/src/production/TLT.Models"
)

type MvsDeviceRepository interface {
	// ListByHub returns every record for a hub, active or cleared, inside
	// the given transaction.
	ListByHub(ctx context.Context, tx *sql.Tx, hubID string) ([]tltmodels.MvsDevice, error)

	// Clear marks records inactive: MVS=false, length and first_time nulled.
	// Records are never deleted.
	Clear(ctx context.Context, tx *sql.Tx, ids []uuid.UUID) error

	// Upsert creates or re-activates a pending record (MVS=true) with the
	// latest reported length and first_time.
	Upsert(ctx context.Context, tx *sql.Tx, device tltmodels.MvsDevice) error

	// ClearByMac clears a single record outside a sync cycle (delete:{mac}
	// command). Reports whether a record existed.
	ClearByMac(ctx context.Context, hubID, mac string) (bool, error)

	// ListPending returns the hub's currently-pending records (MVS=true).
	ListPending(ctx context.Context, hubID string) ([]tltmodels.MvsDevice, error)
}
