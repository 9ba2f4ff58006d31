package tltmodels

import "time"

// Device status values
const (
	DeviceStatusOnline  = "online"
	DeviceStatusOffline = "offline"
	DeviceStatusUnknown = "unknown"
)

// Device represents a registered wearable device. Devices are created by the
// CRUD API; this pipeline only reads them and mutates status fields on
// disconnect events.
type Device struct {
	Address            string     `json:"address"`
	Name               string     `json:"name"`
	HubAddress         *string    `json:"hub_address"` // nil means direct peer-to-peer pairing
	UserEmail          string     `json:"user_email"`
	Status             string     `json:"status"`
	LastSeenAt         *time.Time `json:"last_seen_at"`
	LastConnectedAt    *time.Time `json:"last_connected_at"`
	LastDisconnectedAt *time.Time `json:"last_disconnected_at"`
	Battery            *int       `json:"battery"`
}

// Hub represents a gateway device aggregating one or more wearables.
// Not mutated by this pipeline.
type Hub struct {
	Address    string     `json:"address"`
	Name       string     `json:"name"`
	UserEmail  string     `json:"user_email"`
	Status     string     `json:"status"`
	LastSeenAt *time.Time `json:"last_seen_at"`
}

// User carries only the columns the pipeline touches.
type User struct {
	Email    string  `json:"email"`
	Name     string  `json:"name"`
	FCMToken *string `json:"fcm_token"`
}
