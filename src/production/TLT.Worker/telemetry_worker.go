// Package worker buffers live BLE telemetry per device and fans it out to
// socket subscribers on a fixed cadence, decoupling broadcast rate from
// message arrival rate.
package worker

import (
	"sync"
	"time"

	config "gitlab.com/talktail1/tlt.hub_server/src/production/TLT.Config"
	logger "gitlab.com/talktail1/tlt.hub_server/src/production/TLT.Logger"
	tltmodels "gitlab.com/talktail1/tlt.hub_server/src/production/TLT.Models"
	socket "gitlab.com/talktail1/tlt.hub_server/src/production/TLT.Socket"
)

// EventTelemetryUpdate carries the latest sample for a device room.
const EventTelemetryUpdate = "TELEMETRY_UPDATE"

// Broadcaster fans an event out to a room's subscribers.
type Broadcaster interface {
	BroadcastToRoom(room, event string, payload interface{})
}

type telemetryFrame struct {
	Device       string  `json:"device"`
	Timestamp    string  `json:"timestamp"`
	HeartRate    float64 `json:"heartRate"`
	SpO2         float64 `json:"spo2"`
	Temp         float64 `json:"temp"`
	Battery      float64 `json:"battery"`
	SamplingRate float64 `json:"samplingRate"`
}

// ring is a fixed-capacity buffer of the newest samples for one device.
type ring struct {
	buf   []tltmodels.InlineSample
	head  int
	count int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]tltmodels.InlineSample, capacity)}
}

func (r *ring) push(s tltmodels.InlineSample) {
	r.buf[r.head] = s
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// snapshot returns up to limit samples, oldest first. limit <= 0 means all.
func (r *ring) snapshot(limit int) []tltmodels.InlineSample {
	n := r.count
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]tltmodels.InlineSample, 0, n)
	start := r.head - n
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < n; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

func (r *ring) latest() (tltmodels.InlineSample, bool) {
	if r.count == 0 {
		return tltmodels.InlineSample{}, false
	}
	idx := r.head - 1
	if idx < 0 {
		idx += len(r.buf)
	}
	return r.buf[idx], true
}

// TelemetryWorker accepts samples through a non-blocking intake channel,
// batches them into per-device rings on a process tick, and broadcasts each
// dirty device's latest sample on a slower broadcast tick with a minimum gap
// between broadcasts under burst.
type TelemetryWorker struct {
	cfg         *config.WorkerConfig
	broadcaster Broadcaster
	logger      *logger.Logger

	intake chan tltmodels.InlineSample
	quit   chan struct{}
	wg     sync.WaitGroup

	mu            sync.RWMutex
	rings         map[string]*ring
	dirty         map[string]struct{}
	lastBroadcast time.Time
	dropped       uint64
}

func NewTelemetryWorker(cfg *config.WorkerConfig, broadcaster Broadcaster, log *logger.Logger) *TelemetryWorker {
	return &TelemetryWorker{
		cfg:         cfg,
		broadcaster: broadcaster,
		logger:      log.WithComponent("telemetry-worker"),
		intake:      make(chan tltmodels.InlineSample, cfg.RingSize),
		quit:        make(chan struct{}),
		rings:       make(map[string]*ring),
		dirty:       make(map[string]struct{}),
	}
}

// Offer hands a sample to the worker without blocking. Returns false when
// the intake buffer is full and the sample was dropped.
func (w *TelemetryWorker) Offer(sample tltmodels.InlineSample) bool {
	select {
	case w.intake <- sample:
		return true
	default:
		w.mu.Lock()
		w.dropped++
		w.mu.Unlock()
		return false
	}
}

func (w *TelemetryWorker) Start() {
	w.wg.Add(1)
	go w.run()
	w.logger.Logger.Info().
		Int("batch_size", w.cfg.BatchSize).
		Dur("process_interval", w.cfg.ProcessInterval).
		Dur("broadcast_interval", w.cfg.BroadcastInterval).
		Msg("Telemetry worker started")
}

func (w *TelemetryWorker) Stop() {
	close(w.quit)
	w.wg.Wait()
	w.logger.Logger.Info().Msg("Telemetry worker stopped")
}

func (w *TelemetryWorker) run() {
	defer w.wg.Done()

	processTicker := time.NewTicker(w.cfg.ProcessInterval)
	broadcastTicker := time.NewTicker(w.cfg.BroadcastInterval)
	defer processTicker.Stop()
	defer broadcastTicker.Stop()

	for {
		select {
		case <-w.quit:
			w.drainIntake()
			return
		case <-processTicker.C:
			w.drainIntake()
		case <-broadcastTicker.C:
			w.broadcastDirty(time.Now())
		}
	}
}

// drainIntake moves up to one batch from the channel into the rings.
func (w *TelemetryWorker) drainIntake() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := 0; i < w.cfg.BatchSize; i++ {
		select {
		case sample := <-w.intake:
			r, ok := w.rings[sample.Mac]
			if !ok {
				r = newRing(w.cfg.RingSize)
				w.rings[sample.Mac] = r
			}
			r.push(sample)
			w.dirty[sample.Mac] = struct{}{}
		default:
			return
		}
	}
}

func (w *TelemetryWorker) broadcastDirty(now time.Time) {
	w.mu.Lock()
	if len(w.dirty) == 0 || now.Sub(w.lastBroadcast) < w.cfg.MinBroadcastInterval {
		w.mu.Unlock()
		return
	}
	frames := make([]telemetryFrame, 0, len(w.dirty))
	for mac := range w.dirty {
		if latest, ok := w.rings[mac].latest(); ok {
			frames = append(frames, frameFor(latest))
		}
		delete(w.dirty, mac)
	}
	w.lastBroadcast = now
	w.mu.Unlock()

	if w.broadcaster == nil {
		return
	}
	for _, f := range frames {
		w.broadcaster.BroadcastToRoom(socket.DeviceRoom(f.Device), EventTelemetryUpdate, f)
	}
}

func frameFor(s tltmodels.InlineSample) telemetryFrame {
	return telemetryFrame{
		Device:       s.Mac,
		Timestamp:    s.ReceivedAt.UTC().Format(time.RFC3339),
		HeartRate:    s.HeartRate,
		SpO2:         s.SpO2,
		Temp:         s.Temp,
		Battery:      s.Battery,
		SamplingRate: s.SamplingRate,
	}
}

// Dropped reports how many samples were rejected by a full intake buffer.
func (w *TelemetryWorker) Dropped() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.dropped
}

// RecentData returns up to limit of a device's newest samples, oldest first.
func (w *TelemetryWorker) RecentData(device string, limit int) []tltmodels.InlineSample {
	w.mu.RLock()
	defer w.mu.RUnlock()
	r, ok := w.rings[device]
	if !ok {
		return nil
	}
	return r.snapshot(limit)
}

// AllRecentData returns the newest samples for every known device.
func (w *TelemetryWorker) AllRecentData(limit int) map[string][]tltmodels.InlineSample {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make(map[string][]tltmodels.InlineSample, len(w.rings))
	for mac, r := range w.rings {
		out[mac] = r.snapshot(limit)
	}
	return out
}

// Latest returns a device's most recent sample.
func (w *TelemetryWorker) Latest(device string) (tltmodels.InlineSample, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	r, ok := w.rings[device]
	if !ok {
		return tltmodels.InlineSample{}, false
	}
	return r.latest()
}
