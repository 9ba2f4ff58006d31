package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	logger "gitlab.com/talktail1/tlt.hub_server/src/production/TLT.Logger"
	tltmodels "gitlab.com/talktail1/tlt.hub_server/src/production/TLT.Models"
	interfaces "gitlab.com/talktail1/tlt.hub_server/src/production/TLT.Repository/Interfaces"
)

// EventDeviceDisconnected is the socket event name emitted to the owner's
// room when a device drops off its hub.
const EventDeviceDisconnected = "DEVICE_DISCONNECTED"

// Broadcaster fans an event out to every socket in a user's room. A no-op
// when the user has no open sockets.
type Broadcaster interface {
	BroadcastToUser(email, event string, payload interface{})
}

// DisconnectService reacts to a hub-reported device disconnect: update the
// device's status, notify the owner over push (rate-limited by a cooldown)
// and over the socket hub (always).
type DisconnectService struct {
	devices     interfaces.DeviceRepository
	users       interfaces.UserRepository
	push        PushSender
	broadcaster Broadcaster
	cooldown    time.Duration
	now         func() time.Time
	logger      *logger.Logger
}

func NewDisconnectService(
	devices interfaces.DeviceRepository,
	users interfaces.UserRepository,
	push PushSender,
	broadcaster Broadcaster,
	cooldown time.Duration,
	log *logger.Logger,
) *DisconnectService {
	return &DisconnectService{
		devices:     devices,
		users:       users,
		push:        push,
		broadcaster: broadcaster,
		cooldown:    cooldown,
		now:         time.Now,
		logger:      log.WithComponent("disconnect"),
	}
}

// HandleDisconnected processes one disconnect signal for a mac address.
// Unknown devices and devices already offline are ignored. Inside the
// cooldown window the status update and socket event still happen; only the
// push is suppressed. Push failures never fail the handler: transient errors
// are logged, an unregistered token is cleared from the user record.
func (s *DisconnectService) HandleDisconnected(ctx context.Context, macAddress string) error {
	mac := strings.ToLower(strings.TrimSpace(macAddress))
	if mac == "" {
		return nil
	}

	device, err := s.devices.FindByAddress(ctx, mac)
	if err != nil {
		return fmt.Errorf("find device %s: %w", mac, err)
	}
	if device == nil {
		s.logger.Logger.Debug().Str("mac_address", mac).Msg("Disconnect for unknown device, ignoring")
		return nil
	}
	if device.Status == tltmodels.DeviceStatusOffline {
		s.logger.Logger.Debug().Str("mac_address", mac).Msg("Device already offline, ignoring")
		return nil
	}

	now := s.now()
	inCooldown := device.LastDisconnectedAt != nil && now.Sub(*device.LastDisconnectedAt) < s.cooldown

	if err := s.devices.MarkDisconnected(ctx, device.Address, now); err != nil {
		return fmt.Errorf("mark disconnected %s: %w", device.Address, err)
	}

	if s.broadcaster != nil {
		s.broadcaster.BroadcastToUser(device.UserEmail, EventDeviceDisconnected, map[string]interface{}{
			"device":    device.Address,
			"name":      device.Name,
			"timestamp": now.UTC().Format(time.RFC3339),
		})
	}

	if inCooldown {
		s.logger.Logger.Debug().Str("mac_address", device.Address).Msg("Disconnect push suppressed by cooldown")
		return nil
	}

	s.sendPush(ctx, device, now)
	return nil
}

func (s *DisconnectService) sendPush(ctx context.Context, device *tltmodels.Device, at time.Time) {
	if s.push == nil {
		return
	}

	token, err := s.users.FindPushToken(ctx, device.UserEmail)
	if err != nil {
		s.logger.Logger.Error().Err(err).Str("user", device.UserEmail).Msg("Failed to resolve push token")
		return
	}
	if token == "" {
		s.logger.Logger.Debug().Str("user", device.UserEmail).Msg("No push token stored, skipping push")
		return
	}

	name := device.Name
	if name == "" {
		name = device.Address
	}

	err = s.push.Send(ctx, token, PushNote{
		Title: "Device disconnected",
		Body:  fmt.Sprintf("%s has disconnected from its hub", name),
		Data: map[string]string{
			"type":      EventDeviceDisconnected,
			"device":    device.Address,
			"timestamp": at.UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		if errors.Is(err, ErrUnregisteredToken) {
			s.logger.Logger.Warn().Str("user", device.UserEmail).Msg("Push token unregistered, clearing")
			if clearErr := s.users.ClearPushToken(ctx, device.UserEmail); clearErr != nil {
				s.logger.Logger.Error().Err(clearErr).Str("user", device.UserEmail).Msg("Failed to clear push token")
			}
			return
		}
		s.logger.Logger.Error().Err(err).Str("user", device.UserEmail).Msg("Failed to send disconnect push")
		return
	}

	s.logger.Logger.Info().Str("mac_address", device.Address).Str("user", device.UserEmail).Msg("Disconnect push sent")
}
