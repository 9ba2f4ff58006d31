package implementation

import (
	"context"
	"database/sql"
	"time"

	tltmodels "gitlab.com/talktail1/tlt.hub_server/src/production/TLT.Models"
)

type PostgresDeviceRepository struct {
	db *sql.DB
}

func NewPostgresDeviceRepository(db *sql.DB) *PostgresDeviceRepository {
	return &PostgresDeviceRepository{db: db}
}

func (r *PostgresDeviceRepository) FindByAddress(ctx context.Context, address string) (*tltmodels.Device, error) {
	query := `
		SELECT address, name, hub_address, user_email, status,
		       last_seen_at, last_connected_at, last_disconnected_at, battery
		FROM devices
		WHERE LOWER(address) = LOWER($1)
	`

	var device tltmodels.Device
	err := r.db.QueryRowContext(ctx, query, address).Scan(
		&device.Address,
		&device.Name,
		&device.HubAddress,
		&device.UserEmail,
		&device.Status,
		&device.LastSeenAt,
		&device.LastConnectedAt,
		&device.LastDisconnectedAt,
		&device.Battery,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &device, nil
}

func (r *PostgresDeviceRepository) MarkDisconnected(ctx context.Context, address string, at time.Time) error {
	query := `
		UPDATE devices
		SET status = $2, last_disconnected_at = $3
		WHERE LOWER(address) = LOWER($1)
	`
	_, err := r.db.ExecContext(ctx, query, address, tltmodels.DeviceStatusOffline, at)
	return err
}

func (r *PostgresDeviceRepository) TouchLastSeen(ctx context.Context, address string, at time.Time, battery *int) error {
	query := `
		UPDATE devices
		SET last_seen_at = $2, battery = COALESCE($3, battery)
		WHERE LOWER(address) = LOWER($1)
	`
	_, err := r.db.ExecContext(ctx, query, address, at, battery)
	return err
}
