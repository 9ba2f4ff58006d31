// Package mvs reconciles a hub's self-reported list of pending (unregistered)
// devices against the mvs_devices table and republishes the canonical list.
package mvs

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	logger "gitlab.com/talktail1/tlt.hub_server/src/production/TLT.Logger"
	tltmodels "gitlab.com/talktail1/tlt.hub_server/src/production/TLT.Models"
	interfaces "gitlab.com/talktail1/tlt.hub_server/src/production/TLT.Repository/Interfaces"
)

const firstTimeLayout = "2006-01-02 15:04:05"

// SyncService applies a hub's pending_devices report as one atomic unit:
// records the hub stopped reporting are cleared, reported ones are upserted.
type SyncService struct {
	txRunner interfaces.TxRunner
	repo     interfaces.MvsDeviceRepository
	logger   *logger.Logger
}

func NewSyncService(txRunner interfaces.TxRunner, repo interfaces.MvsDeviceRepository, log *logger.Logger) *SyncService {
	return &SyncService{txRunner: txRunner, repo: repo, logger: log.WithComponent("mvs-sync")}
}

// SyncPendingDevices runs one reconciliation cycle for a hub. The clear and
// upsert phases share a single transaction so the hub's view is never read as
// two racing partial writes.
func (s *SyncService) SyncPendingDevices(ctx context.Context, hubID string, reports []tltmodels.PendingDeviceReport) error {
	type reportedInfo struct {
		length    *int
		firstTime *time.Time
	}

	reported := make(map[string]reportedInfo)
	order := make([]string, 0, len(reports))
	for _, r := range reports {
		mac := NormalizeMac(r.MacAddress)
		if mac == "" {
			continue
		}
		if _, ok := reported[mac]; !ok {
			order = append(order, mac)
		}
		reported[mac] = reportedInfo{
			length:    r.DataCount,
			firstTime: parseFirstTime(r.FirstTime),
		}
	}

	err := s.txRunner.WithinTx(ctx, func(tx *sql.Tx) error {
		existing, err := s.repo.ListByHub(ctx, tx, hubID)
		if err != nil {
			return err
		}

		byMac := make(map[string]tltmodels.MvsDevice, len(existing))
		var toClear []uuid.UUID
		for _, d := range existing {
			mac := NormalizeMac(d.MacAddress)
			byMac[mac] = d
			if d.MVS {
				if _, stillReported := reported[mac]; !stillReported {
					toClear = append(toClear, d.ID)
				}
			}
		}

		if len(toClear) > 0 {
			if err := s.repo.Clear(ctx, tx, toClear); err != nil {
				return err
			}
		}

		for _, mac := range order {
			info := reported[mac]
			record := tltmodels.MvsDevice{
				ID:         uuid.New(),
				MacAddress: mac,
				HubID:      hubID,
				MVS:        true,
				Length:     info.length,
				FirstTime:  info.firstTime,
			}
			if prev, ok := byMac[mac]; ok {
				record.ID = prev.ID
			}
			if err := s.repo.Upsert(ctx, tx, record); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Logger.Info().Str("hub_id", hubID).Int("reported", len(reported)).Msg("Synced pending devices")
	return nil
}

// NormalizeMac trims and lower-cases a reported mac address.
func NormalizeMac(mac string) string {
	return strings.ToLower(strings.TrimSpace(mac))
}

func parseFirstTime(s string) *time.Time {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil
	}
	if t, err := time.ParseInLocation(firstTimeLayout, trimmed, time.Local); err == nil {
		return &t
	}
	if t, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return &t
	}
	return nil
}
