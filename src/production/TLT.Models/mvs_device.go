package tltmodels

import (
	"time"

	"github.com/google/uuid"
)

// MvsDevice is a pending (unregistered) device record, keyed by
// (hub_id, mac_address). Owned entirely by the MVS sync pipeline: created when
// a hub first reports an unseen mac, cleared (MVS=false, length/first_time
// nulled) when the hub stops reporting it, re-activated when it reappears.
// Rows are never deleted so the audit history survives.
type MvsDevice struct {
	ID         uuid.UUID  `json:"id"`
	MacAddress string     `json:"mac_address"`
	HubID      string     `json:"hub_id"`
	MVS        bool       `json:"mvs"`
	Length     *int       `json:"length"`
	FirstTime  *time.Time `json:"first_time"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}
