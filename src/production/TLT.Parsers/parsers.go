// Package parsers decodes raw MQTT payload bytes into typed records.
// Every parser either returns a value or reports no match; nothing here
// panics or returns an error past this boundary.
package parsers

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	tltmodels "gitlab.com/talktail1/tlt.hub_server/src/production/TLT.Models"
)

const (
	disconnectPrefix = "disconnected:"
	// known upstream firmware misspelling, kept on purpose
	disconnectPrefixTypo = "desconnected:"
	deletePrefix         = "delete:"

	// envTemp, heartRate, respRate, bodyTemp, activity
	reportFieldCount = 5

	// legacy hub/+/data rows carry up to six values; older firmware omits
	// trailing optional fields
	legacyMaxValues = 6

	inlineMinParts = 5

	timestampLayout = "2006-01-02 15:04:05"
)

var dateKeyPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// NormalizeMac trims and lower-cases a device identifier.
func NormalizeMac(mac string) string {
	return strings.ToLower(strings.TrimSpace(mac))
}

// ParseDisconnect recognizes "disconnected:{mac}" (and the upstream
// "desconnected:" misspelling). Returns the normalized mac, or false when the
// payload is not a disconnect signal or the identifier is empty.
func ParseDisconnect(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	var rest string
	switch {
	case strings.HasPrefix(trimmed, disconnectPrefix):
		rest = trimmed[len(disconnectPrefix):]
	case strings.HasPrefix(trimmed, disconnectPrefixTypo):
		rest = trimmed[len(disconnectPrefixTypo):]
	default:
		return "", false
	}
	mac := NormalizeMac(rest)
	if mac == "" {
		return "", false
	}
	return mac, true
}

// ParseDelete recognizes "delete:{mac}".
func ParseDelete(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, deletePrefix) {
		return "", false
	}
	mac := NormalizeMac(trimmed[len(deletePrefix):])
	if mac == "" {
		return "", false
	}
	return mac, true
}

// ParseDateKey extracts YYYY-MM-DD from the first ten characters of a
// timestamp string.
func ParseDateKey(t string) (string, bool) {
	trimmed := strings.TrimSpace(t)
	if len(trimmed) < 10 {
		return "", false
	}
	datePart := trimmed[:10]
	if !dateKeyPattern.MatchString(datePart) {
		return "", false
	}
	return datePart, true
}

type reportItem struct {
	D string `json:"d"`
	T string `json:"t"`
}

type reportPayload struct {
	Data []reportItem `json:"data"`
}

// ParseReport decodes the structured hub report
// {"data":[{"d":"f1,f2,f3,f4,f5","t":"YYYY-MM-DD HH:mm:ss"}, ...]}.
// The second return value reports whether the payload matched the shape at
// all; individual rows failing field-count, numeric or date validation are
// dropped without losing their siblings.
func ParseReport(raw []byte) ([]tltmodels.HubSample, bool) {
	var payload reportPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, false
	}
	if payload.Data == nil {
		return nil, false
	}

	samples := make([]tltmodels.HubSample, 0, len(payload.Data))
	for _, item := range payload.Data {
		dateKey, ok := ParseDateKey(item.T)
		if !ok {
			continue
		}
		fields, ok := parseReportFields(item.D)
		if !ok {
			continue
		}
		samples = append(samples, tltmodels.HubSample{
			Timestamp: strings.TrimSpace(item.T),
			DateKey:   dateKey,
			EnvTemp:   fields[0],
			HeartRate: fields[1],
			RespRate:  fields[2],
			BodyTemp:  fields[3],
			Activity:  fields[4],
		})
	}
	return samples, true
}

func parseReportFields(d string) ([reportFieldCount]float64, bool) {
	var fields [reportFieldCount]float64
	parts := strings.Split(d, ",")
	if len(parts) != reportFieldCount {
		return fields, false
	}
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return fields, false
		}
		fields[i] = v
	}
	return fields, true
}

// ParsePendingReport decodes a pending_devices report from a hub.
func ParsePendingReport(raw []byte) ([]tltmodels.PendingDeviceReport, bool) {
	var payload tltmodels.PendingDevicesPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, false
	}
	if payload.PendingDevices == nil {
		return nil, false
	}
	return payload.PendingDevices, true
}

type legacyPayload struct {
	D string `json:"d"`
	T string `json:"t"`
}

// ParseLegacyReading decodes the older hub/+/data wire form
// {"d":"<device_id>-<v1>,...,<v6>","t":"..."}. Fewer than six values is
// padded with empty cells, never rejected. A missing timestamp is stamped
// with now.
func ParseLegacyReading(raw []byte, now time.Time) (*tltmodels.LegacyReading, bool) {
	var payload legacyPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, false
	}
	d := strings.ReplaceAll(strings.TrimSpace(payload.D), "\n", "")
	if d == "" {
		return nil, false
	}

	timestamp := strings.TrimSpace(payload.T)
	if timestamp == "" {
		timestamp = now.Format(timestampLayout)
	}
	dateKey, ok := ParseDateKey(timestamp)
	if !ok {
		dateKey = now.Format("2006-01-02")
	}

	reading := &tltmodels.LegacyReading{
		Timestamp: timestamp,
		DateKey:   dateKey,
	}

	if dashIdx := strings.Index(d, "-"); dashIdx >= 0 {
		reading.DeviceID = strings.TrimSpace(d[:dashIdx])
		rest := strings.TrimSpace(d[dashIdx+1:])
		if rest != "" {
			for i, v := range strings.Split(rest, ",") {
				if i >= legacyMaxValues {
					break
				}
				reading.Values[i] = strings.TrimSpace(v)
			}
		}
	} else {
		reading.DeviceID = d
	}
	return reading, true
}

// ParseInlineTelemetry decodes the compact wire form
// "<mac>-<samplingRate>,<hr>,<spo2>,<temp>,<battery>". Requires at least five
// comma-separated parts, a dash inside the first token, and finite numbers
// throughout.
func ParseInlineTelemetry(raw string, now time.Time) (*tltmodels.InlineSample, bool) {
	trimmed := strings.TrimSpace(raw)
	parts := strings.Split(trimmed, ",")
	if len(parts) < inlineMinParts {
		return nil, false
	}
	dashIdx := strings.Index(parts[0], "-")
	if dashIdx <= 0 {
		return nil, false
	}
	mac := NormalizeMac(parts[0][:dashIdx])
	if mac == "" {
		return nil, false
	}

	numeric := [5]float64{}
	raws := []string{parts[0][dashIdx+1:], parts[1], parts[2], parts[3], parts[4]}
	for i, r := range raws {
		v, err := strconv.ParseFloat(strings.TrimSpace(r), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, false
		}
		numeric[i] = v
	}

	return &tltmodels.InlineSample{
		Mac:          mac,
		SamplingRate: numeric[0],
		HeartRate:    numeric[1],
		SpO2:         numeric[2],
		Temp:         numeric[3],
		Battery:      numeric[4],
		ReceivedAt:   now,
	}, true
}
