package mvs

import (
	"context"
	"encoding/json"
	"fmt"

	logger "gitlab.com/talktail1/tlt.hub_server/src/production/TLT.Logger"
	tltmodels "gitlab.com/talktail1/tlt.hub_server/src/production/TLT.Models"
	interfaces "gitlab.com/talktail1/tlt.hub_server/src/production/TLT.Repository/Interfaces"
)

// Publisher sends a payload to an MQTT topic. Returns false when the broker
// connection is down.
type Publisher interface {
	Publish(topic string, payload []byte) bool
}

type republishPayload struct {
	PendingDevices []tltmodels.PendingDeviceEntry `json:"pending_devices"`
}

// RepublishService formats a hub's currently-pending records back into the
// pending_devices wire shape and publishes them to hub/{id}/receive.
type RepublishService struct {
	repo      interfaces.MvsDeviceRepository
	publisher Publisher
	logger    *logger.Logger
}

func NewRepublishService(repo interfaces.MvsDeviceRepository, publisher Publisher, log *logger.Logger) *RepublishService {
	return &RepublishService{repo: repo, publisher: publisher, logger: log.WithComponent("mvs-republish")}
}

// BuildPayload returns the hub's canonical pending-device list. data_count
// falls back to 0 and first_time to "" for records without values.
func (s *RepublishService) BuildPayload(ctx context.Context, hubID string) ([]tltmodels.PendingDeviceEntry, error) {
	pending, err := s.repo.ListPending(ctx, hubID)
	if err != nil {
		return nil, err
	}

	entries := make([]tltmodels.PendingDeviceEntry, 0, len(pending))
	for _, d := range pending {
		entry := tltmodels.PendingDeviceEntry{MacAddress: d.MacAddress}
		if d.Length != nil {
			entry.DataCount = *d.Length
		}
		if d.FirstTime != nil {
			entry.FirstTime = d.FirstTime.Format(firstTimeLayout)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Republish publishes the canonical list. A publish failure (broker not
// connected) is logged and not retried; the next inbound report re-triggers
// it.
func (s *RepublishService) Republish(ctx context.Context, hubID string) (bool, error) {
	entries, err := s.BuildPayload(ctx, hubID)
	if err != nil {
		return false, err
	}

	payload, err := json.Marshal(republishPayload{PendingDevices: entries})
	if err != nil {
		return false, fmt.Errorf("marshal pending_devices: %w", err)
	}

	topic := fmt.Sprintf("hub/%s/receive", hubID)
	if !s.publisher.Publish(topic, payload) {
		s.logger.Logger.Warn().Str("hub_id", hubID).Msg("Republish failed, broker not connected")
		return false, nil
	}

	s.logger.Logger.Info().Str("hub_id", hubID).Int("device_count", len(entries)).Msg("Republished pending devices")
	return true, nil
}
