package mvs

import (
	"context"

	logger "gitlab.com/talktail1/tlt.hub_server/src/production/TLT.Logger"
	interfaces "gitlab.com/talktail1/tlt.hub_server/src/production/TLT.Repository/Interfaces"
)

// DeleteService clears a single pending record on an explicit delete:{mac}
// command, without touching the hub's other records.
type DeleteService struct {
	repo   interfaces.MvsDeviceRepository
	logger *logger.Logger
}

func NewDeleteService(repo interfaces.MvsDeviceRepository, log *logger.Logger) *DeleteService {
	return &DeleteService{repo: repo, logger: log.WithComponent("mvs-delete")}
}

// HandleDelete reports whether a record was cleared.
func (s *DeleteService) HandleDelete(ctx context.Context, hubID, macAddress string) (bool, error) {
	mac := NormalizeMac(macAddress)
	if mac == "" {
		return false, nil
	}

	cleared, err := s.repo.ClearByMac(ctx, hubID, mac)
	if err != nil {
		return false, err
	}
	if cleared {
		s.logger.Logger.Info().Str("hub_id", hubID).Str("mac_address", mac).Msg("Pending device cleared")
	}
	return cleared, nil
}
