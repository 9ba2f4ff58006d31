package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logger "gitlab.com/talktail1/tlt.hub_server/src/production/TLT.Logger"
	tltmodels "gitlab.com/talktail1/tlt.hub_server/src/production/TLT.Models"
)

func nopLogger() *logger.Logger {
	l := zerolog.Nop()
	return &logger.Logger{Logger: &l}
}

func TestClassifyTopic(t *testing.T) {
	tests := []struct {
		topic    string
		wantOK   bool
		wantHub  string
		wantKind topicKind
	}{
		{"hub/aa:bb:cc/data", true, "aa:bb:cc", topicKindData},
		{"hub/hub-01/send", true, "hub-01", topicKindSend},
		{"hub//send", false, "", 0},
		{"hub/x/other", false, "", 0},
		{"hub/x", false, "", 0},
		{"hub/x/send/extra", false, "", 0},
		{"sensor/x/send", false, "", 0},
		{"", false, "", 0},
	}
	for _, tt := range tests {
		msg, ok := classifyTopic(tt.topic)
		assert.Equal(t, tt.wantOK, ok, tt.topic)
		if ok {
			assert.Equal(t, tt.wantHub, msg.hubID, tt.topic)
			assert.Equal(t, tt.wantKind, msg.kind, tt.topic)
		}
	}
}

type fakeCsv struct {
	hubSamples []tltmodels.HubSample
	hubIDs     []string
	bleSamples []tltmodels.InlineSample
	legacy     []tltmodels.LegacyReading
	err        error
}

func (f *fakeCsv) AppendHubSample(hubID string, s tltmodels.HubSample) error {
	f.hubIDs = append(f.hubIDs, hubID)
	f.hubSamples = append(f.hubSamples, s)
	return f.err
}

func (f *fakeCsv) AppendBleSample(s *tltmodels.InlineSample) error {
	f.bleSamples = append(f.bleSamples, *s)
	return f.err
}

func (f *fakeCsv) AppendLegacyReading(r *tltmodels.LegacyReading) error {
	f.legacy = append(f.legacy, *r)
	return f.err
}

type fakeDisconnect struct{ macs []string }

func (f *fakeDisconnect) HandleDisconnected(ctx context.Context, mac string) error {
	f.macs = append(f.macs, mac)
	return nil
}

type fakeDeleter struct {
	macs    []string
	cleared bool
	err     error
}

func (f *fakeDeleter) HandleDelete(ctx context.Context, hubID, mac string) (bool, error) {
	f.macs = append(f.macs, mac)
	return f.cleared, f.err
}

type fakeSyncer struct {
	hubIDs  []string
	reports [][]tltmodels.PendingDeviceReport
	err     error
}

func (f *fakeSyncer) SyncPendingDevices(ctx context.Context, hubID string, reports []tltmodels.PendingDeviceReport) error {
	f.hubIDs = append(f.hubIDs, hubID)
	f.reports = append(f.reports, reports)
	return f.err
}

type fakeRepublisher struct{ hubIDs []string }

func (f *fakeRepublisher) Republish(ctx context.Context, hubID string) (bool, error) {
	f.hubIDs = append(f.hubIDs, hubID)
	return true, nil
}

type fakeTelemetry struct {
	samples []tltmodels.InlineSample
	full    bool
}

func (f *fakeTelemetry) Offer(s tltmodels.InlineSample) bool {
	if f.full {
		return false
	}
	f.samples = append(f.samples, s)
	return true
}

type fakeDevices struct {
	touched   []string
	batteries []int
}

func (f *fakeDevices) FindByAddress(ctx context.Context, address string) (*tltmodels.Device, error) {
	return nil, nil
}

func (f *fakeDevices) MarkDisconnected(ctx context.Context, address string, at time.Time) error {
	return nil
}

func (f *fakeDevices) TouchLastSeen(ctx context.Context, address string, at time.Time, battery *int) error {
	f.touched = append(f.touched, address)
	if battery != nil {
		f.batteries = append(f.batteries, *battery)
	}
	return nil
}

type routerFixture struct {
	csv        *fakeCsv
	disconnect *fakeDisconnect
	deleter    *fakeDeleter
	syncer     *fakeSyncer
	republish  *fakeRepublisher
	telemetry  *fakeTelemetry
	devices    *fakeDevices
	router     *Router
}

func newFixture() *routerFixture {
	f := &routerFixture{
		csv:        &fakeCsv{},
		disconnect: &fakeDisconnect{},
		deleter:    &fakeDeleter{cleared: true},
		syncer:     &fakeSyncer{},
		republish:  &fakeRepublisher{},
		telemetry:  &fakeTelemetry{},
		devices:    &fakeDevices{},
	}
	f.router = NewRouter(f.csv, f.disconnect, f.deleter, f.syncer, f.republish, f.telemetry, f.devices, nopLogger())
	return f
}

func sendMsg(hubID, payload string) inbound {
	return inbound{kind: topicKindSend, hubID: hubID, payload: []byte(payload)}
}

func TestRouteLegacyData(t *testing.T) {
	f := newFixture()
	f.router.Route(context.Background(), inbound{
		kind:    topicKindData,
		hubID:   "hub1",
		payload: []byte(`{"d":"collar-21.5,60,14","t":"2026-02-06 10:00:00"}`),
	})

	require.Len(t, f.csv.legacy, 1)
	assert.Equal(t, "collar", f.csv.legacy[0].DeviceID)
	assert.Equal(t, "2026-02-06", f.csv.legacy[0].DateKey)
}

func TestRouteLegacyDropsMalformed(t *testing.T) {
	f := newFixture()
	f.router.Route(context.Background(), inbound{kind: topicKindData, hubID: "hub1", payload: []byte(`{"t":"x"}`)})
	assert.Empty(t, f.csv.legacy)
}

func TestRouteDisconnect(t *testing.T) {
	f := newFixture()
	f.router.Route(context.Background(), sendMsg("hub1", "disconnected:AA:BB:CC"))
	assert.Equal(t, []string{"aa:bb:cc"}, f.disconnect.macs)
	assert.Empty(t, f.republish.hubIDs)
}

func TestRouteDeleteTriggersRepublishWhenCleared(t *testing.T) {
	f := newFixture()
	f.router.Route(context.Background(), sendMsg("hub1", "delete:aa:bb"))
	assert.Equal(t, []string{"aa:bb"}, f.deleter.macs)
	assert.Equal(t, []string{"hub1"}, f.republish.hubIDs)
}

func TestRouteDeleteNoRepublishWhenNothingCleared(t *testing.T) {
	f := newFixture()
	f.deleter.cleared = false
	f.router.Route(context.Background(), sendMsg("hub1", "delete:no:such"))
	assert.Empty(t, f.republish.hubIDs)
}

func TestRoutePendingReportSyncsThenRepublishes(t *testing.T) {
	f := newFixture()
	f.router.Route(context.Background(), sendMsg("hub1",
		`{"pending_devices":[{"mac_address":"aa:bb","data_count":5,"first_time":"2026-01-01 00:00:00"}]}`))

	require.Equal(t, []string{"hub1"}, f.syncer.hubIDs)
	require.Len(t, f.syncer.reports[0], 1)
	assert.Equal(t, "aa:bb", f.syncer.reports[0][0].MacAddress)
	assert.Equal(t, []string{"hub1"}, f.republish.hubIDs)
}

func TestRoutePendingReportSyncFailureSkipsRepublish(t *testing.T) {
	f := newFixture()
	f.syncer.err = errors.New("db down")
	f.router.Route(context.Background(), sendMsg("hub1", `{"pending_devices":[]}`))
	assert.Empty(t, f.republish.hubIDs)
}

func TestRouteDataBatch(t *testing.T) {
	f := newFixture()
	f.router.Route(context.Background(), sendMsg("hub1",
		`{"data":[{"d":"21.5,60,14,38.2,0.7","t":"2026-02-06 10:00:00"},{"d":"21.6,61,15,38.1,0.6","t":"2026-02-06 10:00:05"}]}`))

	require.Len(t, f.csv.hubSamples, 2)
	assert.Equal(t, []string{"hub1", "hub1"}, f.csv.hubIDs)
	assert.Equal(t, 60.0, f.csv.hubSamples[0].HeartRate)
}

func TestRouteInlineTelemetry(t *testing.T) {
	f := newFixture()
	f.router.Route(context.Background(), sendMsg("hub1", "AA:BB:CC-300,62,98,38.4,77"))

	require.Len(t, f.csv.bleSamples, 1)
	assert.Equal(t, "aa:bb:cc", f.csv.bleSamples[0].Mac)

	require.Len(t, f.telemetry.samples, 1)
	assert.Equal(t, 62.0, f.telemetry.samples[0].HeartRate)

	assert.Equal(t, []string{"aa:bb:cc"}, f.devices.touched)
	assert.Equal(t, []int{77}, f.devices.batteries)
}

func TestRouteInlineStillPersistsWhenWorkerFull(t *testing.T) {
	f := newFixture()
	f.telemetry.full = true
	f.router.Route(context.Background(), sendMsg("hub1", "aa:bb-300,62,98,38.4,77"))
	assert.Len(t, f.csv.bleSamples, 1)
	assert.Equal(t, []string{"aa:bb"}, f.devices.touched)
}

func TestRouteUnknownPayloadTouchesNothing(t *testing.T) {
	f := newFixture()
	f.router.Route(context.Background(), sendMsg("hub1", "garbage payload"))

	assert.Empty(t, f.csv.hubSamples)
	assert.Empty(t, f.csv.bleSamples)
	assert.Empty(t, f.disconnect.macs)
	assert.Empty(t, f.deleter.macs)
	assert.Empty(t, f.syncer.hubIDs)
	assert.Empty(t, f.telemetry.samples)
}
