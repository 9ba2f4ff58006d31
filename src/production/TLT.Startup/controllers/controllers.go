// Package controllers holds the gin handlers for the service's small HTTP
// surface: liveness, readiness and the telemetry read API.
package controllers

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	tltmodels "gitlab.com/talktail1/tlt.hub_server/src/production/TLT.Models"
	worker "gitlab.com/talktail1/tlt.hub_server/src/production/TLT.Worker"
)

// HealthController reports process liveness and dependency readiness.
type HealthController struct {
	db         *sql.DB
	dispatcher interface{ IsConnected() bool }
}

func NewHealthController(db *sql.DB, dispatcher interface{ IsConnected() bool }) *HealthController {
	return &HealthController{db: db, dispatcher: dispatcher}
}

func (h *HealthController) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *HealthController) Ready(c *gin.Context) {
	ctx := c.Request.Context()

	checks := gin.H{}
	healthy := true

	if err := h.db.PingContext(ctx); err != nil {
		checks["database"] = "down: " + err.Error()
		healthy = false
	} else {
		checks["database"] = "up"
	}

	if h.dispatcher != nil && h.dispatcher.IsConnected() {
		checks["mqtt"] = "up"
	} else {
		checks["mqtt"] = "down"
		healthy = false
	}

	status := http.StatusOK
	overall := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}
	c.JSON(status, gin.H{"status": overall, "checks": checks})
}

// TelemetryController exposes the broadcast worker's recent-sample buffers.
type TelemetryController struct {
	worker *worker.TelemetryWorker
}

func NewTelemetryController(w *worker.TelemetryWorker) *TelemetryController {
	return &TelemetryController{worker: w}
}

type sampleResponse struct {
	Device       string  `json:"device"`
	Timestamp    string  `json:"timestamp"`
	HeartRate    float64 `json:"heartRate"`
	SpO2         float64 `json:"spo2"`
	Temp         float64 `json:"temp"`
	Battery      float64 `json:"battery"`
	SamplingRate float64 `json:"samplingRate"`
}

func toResponse(s tltmodels.InlineSample) sampleResponse {
	return sampleResponse{
		Device:       s.Mac,
		Timestamp:    s.ReceivedAt.UTC().Format(time.RFC3339),
		HeartRate:    s.HeartRate,
		SpO2:         s.SpO2,
		Temp:         s.Temp,
		Battery:      s.Battery,
		SamplingRate: s.SamplingRate,
	}
}

func limitParam(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit < 0 {
		return 100
	}
	return limit
}

// Recent returns up to limit of one device's newest samples, oldest first.
func (t *TelemetryController) Recent(c *gin.Context) {
	device := c.Param("device")
	samples := t.worker.RecentData(device, limitParam(c))

	out := make([]sampleResponse, 0, len(samples))
	for _, s := range samples {
		out = append(out, toResponse(s))
	}
	c.JSON(http.StatusOK, gin.H{"device": device, "samples": out})
}

// RecentAll returns the newest samples for every device seen since startup.
func (t *TelemetryController) RecentAll(c *gin.Context) {
	limit := limitParam(c)

	out := make(map[string][]sampleResponse)
	for device, samples := range t.worker.AllRecentData(limit) {
		rs := make([]sampleResponse, 0, len(samples))
		for _, s := range samples {
			rs = append(rs, toResponse(s))
		}
		out[device] = rs
	}
	c.JSON(http.StatusOK, gin.H{"devices": out})
}

// Latest returns a device's most recent sample, 404 when none seen.
func (t *TelemetryController) Latest(c *gin.Context) {
	device := c.Param("device")
	sample, ok := t.worker.Latest(device)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no telemetry for device"})
		return
	}
	c.JSON(http.StatusOK, toResponse(sample))
}
