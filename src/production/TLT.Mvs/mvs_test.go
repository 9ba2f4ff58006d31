package mvs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
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

type fakeTxRunner struct {
	commits  int
	beginErr error
}

func (f *fakeTxRunner) WithinTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if f.beginErr != nil {
		return f.beginErr
	}
	if err := fn(nil); err != nil {
		return err
	}
	f.commits++
	return nil
}

type fakeMvsRepo struct {
	mu      sync.Mutex
	records map[string]*tltmodels.MvsDevice // hubID + "|" + mac
	listErr error
}

func newFakeMvsRepo() *fakeMvsRepo {
	return &fakeMvsRepo{records: make(map[string]*tltmodels.MvsDevice)}
}

func (f *fakeMvsRepo) key(hubID, mac string) string { return hubID + "|" + mac }

func (f *fakeMvsRepo) ListByHub(ctx context.Context, tx *sql.Tx, hubID string) ([]tltmodels.MvsDevice, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tltmodels.MvsDevice
	for _, d := range f.records {
		if d.HubID == hubID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (f *fakeMvsRepo) Clear(ctx context.Context, tx *sql.Tx, ids []uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		for _, d := range f.records {
			if d.ID == id {
				d.MVS = false
				d.Length = nil
				d.FirstTime = nil
			}
		}
	}
	return nil
}

func (f *fakeMvsRepo) Upsert(ctx context.Context, tx *sql.Tx, device tltmodels.MvsDevice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := f.key(device.HubID, device.MacAddress)
	if existing, ok := f.records[k]; ok {
		existing.MVS = true
		existing.Length = device.Length
		existing.FirstTime = device.FirstTime
		return nil
	}
	copied := device
	f.records[k] = &copied
	return nil
}

func (f *fakeMvsRepo) ClearByMac(ctx context.Context, hubID, mac string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.records[f.key(hubID, mac)]
	if !ok {
		return false, nil
	}
	d.MVS = false
	d.Length = nil
	d.FirstTime = nil
	return true, nil
}

func (f *fakeMvsRepo) ListPending(ctx context.Context, hubID string) ([]tltmodels.MvsDevice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tltmodels.MvsDevice
	for _, d := range f.records {
		if d.HubID == hubID && d.MVS {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (f *fakeMvsRepo) get(hubID, mac string) *tltmodels.MvsDevice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[f.key(hubID, mac)]
}

type fakePublisher struct {
	mu        sync.Mutex
	connected bool
	published []struct {
		Topic   string
		Payload []byte
	}
}

func (f *fakePublisher) Publish(topic string, payload []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return false
	}
	f.published = append(f.published, struct {
		Topic   string
		Payload []byte
	}{topic, payload})
	return true
}

func intPtr(v int) *int { return &v }

func report(mac string, count int, firstTime string) tltmodels.PendingDeviceReport {
	return tltmodels.PendingDeviceReport{MacAddress: mac, DataCount: intPtr(count), FirstTime: firstTime}
}

func TestSyncCreatesPendingRecord(t *testing.T) {
	repo := newFakeMvsRepo()
	runner := &fakeTxRunner{}
	svc := NewSyncService(runner, repo, nopLogger())

	err := svc.SyncPendingDevices(context.Background(), "aa:bb",
		[]tltmodels.PendingDeviceReport{report("11:22:33", 5, "2026-01-01 00:00:00")})
	require.NoError(t, err)
	assert.Equal(t, 1, runner.commits)

	rec := repo.get("aa:bb", "11:22:33")
	require.NotNil(t, rec)
	assert.True(t, rec.MVS)
	require.NotNil(t, rec.Length)
	assert.Equal(t, 5, *rec.Length)
	require.NotNil(t, rec.FirstTime)
	assert.Equal(t, 2026, rec.FirstTime.Year())
}

func TestSyncConvergence(t *testing.T) {
	repo := newFakeMvsRepo()
	svc := NewSyncService(&fakeTxRunner{}, repo, nopLogger())
	ctx := context.Background()

	// R1: two pending devices
	require.NoError(t, svc.SyncPendingDevices(ctx, "hub1", []tltmodels.PendingDeviceReport{
		report("aa:aa", 3, "2026-01-01 00:00:00"),
		report("bb:bb", 7, "2026-01-02 00:00:00"),
	}))

	// R2 omits bb:bb -> cleared, not deleted
	require.NoError(t, svc.SyncPendingDevices(ctx, "hub1", []tltmodels.PendingDeviceReport{
		report("aa:aa", 4, "2026-01-01 00:00:00"),
	}))

	cleared := repo.get("hub1", "bb:bb")
	require.NotNil(t, cleared, "cleared records are retained for audit history")
	assert.False(t, cleared.MVS)
	assert.Nil(t, cleared.Length)
	assert.Nil(t, cleared.FirstTime)

	refreshed := repo.get("hub1", "aa:aa")
	require.NotNil(t, refreshed.Length)
	assert.Equal(t, 4, *refreshed.Length)

	// R3 re-includes bb:bb -> re-activated with R3's values
	require.NoError(t, svc.SyncPendingDevices(ctx, "hub1", []tltmodels.PendingDeviceReport{
		report("aa:aa", 4, "2026-01-01 00:00:00"),
		report("bb:bb", 9, "2026-01-05 12:00:00"),
	}))

	reactivated := repo.get("hub1", "bb:bb")
	assert.True(t, reactivated.MVS)
	require.NotNil(t, reactivated.Length)
	assert.Equal(t, 9, *reactivated.Length)
	require.NotNil(t, reactivated.FirstTime)
	assert.Equal(t, 5, reactivated.FirstTime.Day())
}

func TestSyncNormalizesAndSkipsEmptyMacs(t *testing.T) {
	repo := newFakeMvsRepo()
	svc := NewSyncService(&fakeTxRunner{}, repo, nopLogger())

	require.NoError(t, svc.SyncPendingDevices(context.Background(), "hub1", []tltmodels.PendingDeviceReport{
		report("  AA:BB:CC  ", 1, ""),
		report("", 2, ""),
	}))

	assert.NotNil(t, repo.get("hub1", "aa:bb:cc"))
	assert.Len(t, repo.records, 1)
}

func TestSyncPropagatesRepoError(t *testing.T) {
	repo := newFakeMvsRepo()
	repo.listErr = errors.New("connection reset")
	runner := &fakeTxRunner{}
	svc := NewSyncService(runner, repo, nopLogger())

	err := svc.SyncPendingDevices(context.Background(), "hub1",
		[]tltmodels.PendingDeviceReport{report("aa", 1, "")})
	require.Error(t, err)
	assert.Equal(t, 0, runner.commits, "failed cycle must not commit")
}

func TestHandleDelete(t *testing.T) {
	repo := newFakeMvsRepo()
	svc := NewSyncService(&fakeTxRunner{}, repo, nopLogger())
	require.NoError(t, svc.SyncPendingDevices(context.Background(), "hub1",
		[]tltmodels.PendingDeviceReport{report("aa:bb", 1, "2026-01-01 00:00:00")}))

	del := NewDeleteService(repo, nopLogger())

	cleared, err := del.HandleDelete(context.Background(), "hub1", " AA:BB ")
	require.NoError(t, err)
	assert.True(t, cleared)

	rec := repo.get("hub1", "aa:bb")
	assert.False(t, rec.MVS)
	assert.Nil(t, rec.Length)

	cleared, err = del.HandleDelete(context.Background(), "hub1", "no:such")
	require.NoError(t, err)
	assert.False(t, cleared)

	cleared, err = del.HandleDelete(context.Background(), "hub1", "   ")
	require.NoError(t, err)
	assert.False(t, cleared)
}

func TestRepublishPayloadShape(t *testing.T) {
	repo := newFakeMvsRepo()
	svc := NewSyncService(&fakeTxRunner{}, repo, nopLogger())
	require.NoError(t, svc.SyncPendingDevices(context.Background(), "aa:bb",
		[]tltmodels.PendingDeviceReport{report("11:22:33", 5, "2026-01-01 00:00:00")}))

	pub := &fakePublisher{connected: true}
	rep := NewRepublishService(repo, pub, nopLogger())

	ok, err := rep.Republish(context.Background(), "aa:bb")
	require.NoError(t, err)
	assert.True(t, ok)

	require.Len(t, pub.published, 1)
	assert.Equal(t, "hub/aa:bb/receive", pub.published[0].Topic)

	var payload struct {
		PendingDevices []tltmodels.PendingDeviceEntry `json:"pending_devices"`
	}
	require.NoError(t, json.Unmarshal(pub.published[0].Payload, &payload))
	require.Len(t, payload.PendingDevices, 1)
	assert.Equal(t, "11:22:33", payload.PendingDevices[0].MacAddress)
	assert.Equal(t, 5, payload.PendingDevices[0].DataCount)
	assert.Equal(t, "2026-01-01 00:00:00", payload.PendingDevices[0].FirstTime)
}

func TestRepublishDefaultsForClearedValues(t *testing.T) {
	repo := newFakeMvsRepo()
	repo.records["hub1|cc:dd"] = &tltmodels.MvsDevice{
		ID: uuid.New(), MacAddress: "cc:dd", HubID: "hub1", MVS: true,
	}

	rep := NewRepublishService(repo, &fakePublisher{connected: true}, nopLogger())
	entries, err := rep.BuildPayload(context.Background(), "hub1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 0, entries[0].DataCount)
	assert.Equal(t, "", entries[0].FirstTime)
}

func TestRepublishNotRetriedWhenDisconnected(t *testing.T) {
	repo := newFakeMvsRepo()
	pub := &fakePublisher{connected: false}
	rep := NewRepublishService(repo, pub, nopLogger())

	ok, err := rep.Republish(context.Background(), "hub1")
	require.NoError(t, err, "a disconnected broker is not an error")
	assert.False(t, ok)
	assert.Empty(t, pub.published)
}

func TestParseFirstTime(t *testing.T) {
	ts := parseFirstTime("2026-01-01 10:30:00")
	require.NotNil(t, ts)
	assert.Equal(t, time.January, ts.Month())

	assert.Nil(t, parseFirstTime(""))
	assert.Nil(t, parseFirstTime("not a time"))
}
