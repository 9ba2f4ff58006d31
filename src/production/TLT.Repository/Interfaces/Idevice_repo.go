package interfaces

import (
	"context"
	"time"

	tltmodels "gitlab.com/talktail1/tlt.hub_server/src/production/TLT.Models"
)

type DeviceRepository interface {
	// FindByAddress looks a device up by mac address, case-insensitive.
	// Returns nil when no device matches.
	FindByAddress(ctx context.Context, address string) (*tltmodels.Device, error)

	// MarkDisconnected sets status=offline and last_disconnected_at.
	MarkDisconnected(ctx context.Context, address string, at time.Time) error

	// TouchLastSeen refreshes last_seen_at and, when battery is non-nil,
	// the reported battery level.
	TouchLastSeen(ctx context.Context, address string, at time.Time, battery *int) error
}
