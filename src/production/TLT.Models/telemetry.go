package tltmodels

import "time"

// HubSample is one decoded row from a structured hub report
// ({"data":[{"d":"f1,f2,f3,f4,f5","t":"YYYY-MM-DD HH:mm:ss"}, ...]}).
type HubSample struct {
	Timestamp string  `json:"timestamp"` // as received, "YYYY-MM-DD HH:mm:ss"
	DateKey   string  `json:"date_key"`  // YYYY-MM-DD
	EnvTemp   float64 `json:"env_temp"`
	HeartRate float64 `json:"heart_rate"`
	RespRate  float64 `json:"resp_rate"`
	BodyTemp  float64 `json:"body_temp"`
	Activity  float64 `json:"activity"`
}

// LegacyReading is one decoded message from the hub/+/data feed
// ({"d":"<device_id>-<v1>,...,<v6>","t":"..."}). Values are kept as strings
// and padded to six cells; older firmware omits trailing optional fields.
type LegacyReading struct {
	DeviceID  string    `json:"device_id"`
	Timestamp string    `json:"timestamp"`
	DateKey   string    `json:"date_key"`
	Values    [6]string `json:"values"`
}

// InlineSample is the compact wire form some hub firmware sends directly on
// hub/+/send: "<mac>-<samplingRate>,<hr>,<spo2>,<temp>,<battery>".
type InlineSample struct {
	Mac          string    `json:"mac"`
	SamplingRate float64   `json:"sampling_rate"`
	HeartRate    float64   `json:"hr"`
	SpO2         float64   `json:"spo2"`
	Temp         float64   `json:"temp"`
	Battery      float64   `json:"battery"`
	ReceivedAt   time.Time `json:"received_at"`
}

// PendingDeviceReport is one entry of an inbound pending_devices payload.
type PendingDeviceReport struct {
	MacAddress string `json:"mac_address"`
	DataCount  *int   `json:"data_count"`
	FirstTime  string `json:"first_time"`
}

// PendingDeviceEntry is one entry of the republished canonical list.
// data_count defaults to 0 and first_time to "" when the record has no value.
type PendingDeviceEntry struct {
	MacAddress string `json:"mac_address"`
	DataCount  int    `json:"data_count"`
	FirstTime  string `json:"first_time"`
}

// PendingDevicesPayload is the wire shape on both the report and republish
// sides.
type PendingDevicesPayload struct {
	PendingDevices []PendingDeviceReport `json:"pending_devices"`
}
