package dispatcher

import (
	"context"
	"time"

	logger "gitlab.com/talktail1/tlt.hub_server/src/production/TLT.Logger"
	tltmodels "gitlab.com/talktail1/tlt.hub_server/src/production/TLT.Models"
	parsers "gitlab.com/talktail1/tlt.hub_server/src/production/TLT.Parsers"
	interfaces "gitlab.com/talktail1/tlt.hub_server/src/production/TLT.Repository/Interfaces"
)

// CsvSink is the persistence surface the router writes telemetry to.
type CsvSink interface {
	AppendHubSample(hubID string, s tltmodels.HubSample) error
	AppendBleSample(s *tltmodels.InlineSample) error
	AppendLegacyReading(r *tltmodels.LegacyReading) error
}

// DisconnectHandler reacts to a device-disconnect signal.
type DisconnectHandler interface {
	HandleDisconnected(ctx context.Context, mac string) error
}

// DeleteHandler clears one pending device record.
type DeleteHandler interface {
	HandleDelete(ctx context.Context, hubID, mac string) (bool, error)
}

// Syncer reconciles a hub's pending_devices report.
type Syncer interface {
	SyncPendingDevices(ctx context.Context, hubID string, reports []tltmodels.PendingDeviceReport) error
}

// Republisher pushes the canonical pending list back to a hub.
type Republisher interface {
	Republish(ctx context.Context, hubID string) (bool, error)
}

// TelemetrySink receives live samples for socket fan-out.
type TelemetrySink interface {
	Offer(sample tltmodels.InlineSample) bool
}

// Router maps one classified message to the service that handles it. Every
// failure is logged and swallowed so one bad payload never takes down a
// worker.
type Router struct {
	csv        CsvSink
	disconnect DisconnectHandler
	deleter    DeleteHandler
	syncer     Syncer
	republish  Republisher
	telemetry  TelemetrySink
	devices    interfaces.DeviceRepository
	logger     *logger.Logger
	now        func() time.Time
}

func NewRouter(
	csv CsvSink,
	disconnect DisconnectHandler,
	deleter DeleteHandler,
	syncer Syncer,
	republish Republisher,
	telemetry TelemetrySink,
	devices interfaces.DeviceRepository,
	log *logger.Logger,
) *Router {
	return &Router{
		csv:        csv,
		disconnect: disconnect,
		deleter:    deleter,
		syncer:     syncer,
		republish:  republish,
		telemetry:  telemetry,
		devices:    devices,
		logger:     log.WithComponent("router"),
		now:        time.Now,
	}
}

// SetRepublisher wires the publish-side collaborator once the MQTT client
// exists; the router and dispatcher reference each other.
func (r *Router) SetRepublisher(rep Republisher) {
	r.republish = rep
}

// Route handles one inbound message end to end.
func (r *Router) Route(ctx context.Context, msg inbound) {
	if msg.kind == topicKindData {
		r.routeLegacy(msg)
		return
	}
	r.routeSend(ctx, msg)
}

// routeLegacy persists one hub/+/data line to the plain day file.
func (r *Router) routeLegacy(msg inbound) {
	reading, ok := parsers.ParseLegacyReading(msg.payload, r.now())
	if !ok {
		r.logger.Logger.Warn().Str("hub_id", msg.hubID).Msg("Dropping malformed legacy reading")
		return
	}
	if err := r.csv.AppendLegacyReading(reading); err != nil {
		r.logger.Logger.Error().Err(err).Str("hub_id", msg.hubID).Msg("Failed to persist legacy reading")
	}
}

func (r *Router) routeSend(ctx context.Context, msg inbound) {
	classified := parsers.Classify(msg.payload, r.now())

	switch classified.Kind {
	case parsers.KindDisconnect:
		if err := r.disconnect.HandleDisconnected(ctx, classified.Mac); err != nil {
			r.logger.Logger.Error().Err(err).Str("mac_address", classified.Mac).Msg("Disconnect handling failed")
		}

	case parsers.KindDelete:
		cleared, err := r.deleter.HandleDelete(ctx, msg.hubID, classified.Mac)
		if err != nil {
			r.logger.Logger.Error().Err(err).Str("hub_id", msg.hubID).Str("mac_address", classified.Mac).Msg("Delete handling failed")
			return
		}
		if cleared {
			r.republishFor(ctx, msg.hubID)
		}

	case parsers.KindPendingReport:
		if err := r.syncer.SyncPendingDevices(ctx, msg.hubID, classified.Pending); err != nil {
			r.logger.Logger.Error().Err(err).Str("hub_id", msg.hubID).Msg("Pending device sync failed")
			return
		}
		r.republishFor(ctx, msg.hubID)

	case parsers.KindDataBatch:
		for _, sample := range classified.Samples {
			if err := r.csv.AppendHubSample(msg.hubID, sample); err != nil {
				r.logger.Logger.Error().Err(err).Str("hub_id", msg.hubID).Msg("Failed to persist hub sample")
			}
		}

	case parsers.KindInline:
		r.routeInline(ctx, classified.Inline)

	default:
		r.logger.Logger.Warn().Str("hub_id", msg.hubID).Int("bytes", len(msg.payload)).Msg("Dropping unrecognized payload")
	}
}

// routeInline persists a live BLE sample, feeds the broadcast worker and
// refreshes the device's liveness columns.
func (r *Router) routeInline(ctx context.Context, sample *tltmodels.InlineSample) {
	if err := r.csv.AppendBleSample(sample); err != nil {
		r.logger.Logger.Error().Err(err).Str("mac_address", sample.Mac).Msg("Failed to persist ble sample")
	}

	if r.telemetry != nil && !r.telemetry.Offer(*sample) {
		r.logger.Logger.Warn().Str("mac_address", sample.Mac).Msg("Telemetry worker intake full, sample not broadcast")
	}

	if r.devices != nil {
		battery := int(sample.Battery)
		if err := r.devices.TouchLastSeen(ctx, sample.Mac, sample.ReceivedAt, &battery); err != nil {
			r.logger.Logger.Error().Err(err).Str("mac_address", sample.Mac).Msg("Failed to refresh device liveness")
		}
	}
}

func (r *Router) republishFor(ctx context.Context, hubID string) {
	if _, err := r.republish.Republish(ctx, hubID); err != nil {
		r.logger.Logger.Error().Err(err).Str("hub_id", hubID).Msg("Republish failed")
	}
}
