package implementation

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	tltmodels "gitlab.com/talktail1/tlt.hub_server/src/production/TLT.Models"
)

type PostgresMvsDeviceRepository struct {
	db *sql.DB
}

func NewPostgresMvsDeviceRepository(db *sql.DB) *PostgresMvsDeviceRepository {
	return &PostgresMvsDeviceRepository{db: db}
}

const mvsColumns = `id, mac_address, hub_id, mvs, length, first_time, created_at, updated_at`

func (r *PostgresMvsDeviceRepository) ListByHub(ctx context.Context, tx *sql.Tx, hubID string) ([]tltmodels.MvsDevice, error) {
	query := `SELECT ` + mvsColumns + ` FROM mvs_devices WHERE hub_id = $1`

	rows, err := tx.QueryContext(ctx, query, hubID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMvsDevices(rows)
}

func (r *PostgresMvsDeviceRepository) Clear(ctx context.Context, tx *sql.Tx, ids []uuid.UUID) error {
	query := `
		UPDATE mvs_devices
		SET mvs = FALSE, length = NULL, first_time = NULL, updated_at = NOW()
		WHERE id = $1
	`
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, query, id); err != nil {
			return err
		}
	}
	return nil
}

// Upsert creates or re-activates a pending record (idempotent upsert)
func (r *PostgresMvsDeviceRepository) Upsert(ctx context.Context, tx *sql.Tx, device tltmodels.MvsDevice) error {
	query := `
		INSERT INTO mvs_devices (id, mac_address, hub_id, mvs, length, first_time, created_at, updated_at)
		VALUES ($1, $2, $3, TRUE, $4, $5, NOW(), NOW())
		ON CONFLICT (hub_id, mac_address)
		DO UPDATE SET mvs = TRUE, length = EXCLUDED.length, first_time = EXCLUDED.first_time, updated_at = NOW()
	`
	_, err := tx.ExecContext(ctx, query, device.ID, device.MacAddress, device.HubID, device.Length, device.FirstTime)
	return err
}

func (r *PostgresMvsDeviceRepository) ClearByMac(ctx context.Context, hubID, mac string) (bool, error) {
	query := `
		UPDATE mvs_devices
		SET mvs = FALSE, length = NULL, first_time = NULL, updated_at = NOW()
		WHERE hub_id = $1 AND LOWER(mac_address) = LOWER($2)
	`
	result, err := r.db.ExecContext(ctx, query, hubID, mac)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *PostgresMvsDeviceRepository) ListPending(ctx context.Context, hubID string) ([]tltmodels.MvsDevice, error) {
	query := `SELECT ` + mvsColumns + ` FROM mvs_devices WHERE hub_id = $1 AND mvs = TRUE ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, hubID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMvsDevices(rows)
}

func scanMvsDevices(rows *sql.Rows) ([]tltmodels.MvsDevice, error) {
	var devices []tltmodels.MvsDevice
	for rows.Next() {
		var d tltmodels.MvsDevice
		if err := rows.Scan(&d.ID, &d.MacAddress, &d.HubID, &d.MVS, &d.Length, &d.FirstTime, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return devices, nil
}
