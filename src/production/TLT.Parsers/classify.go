package parsers

import (
	"time"

	tltmodels "gitlab.com/talktail1/tlt.hub_server/src/production/TLT.Models"
)

// Kind tags the recognized shape of a hub/+/send payload.
type Kind int

const (
	KindUnknown Kind = iota
	KindDisconnect
	KindDelete
	KindDataBatch
	KindPendingReport
	KindInline
)

// Message is the tagged result of classifying one raw payload. Exactly one of
// the value fields is populated for its Kind.
type Message struct {
	Kind    Kind
	Mac     string
	Samples []tltmodels.HubSample
	Pending []tltmodels.PendingDeviceReport
	Inline  *tltmodels.InlineSample
}

// Classify runs the ordered parser chain over a raw payload: disconnect
// prefix, delete prefix, JSON object (data batch or pending_devices report),
// then the inline telemetry string. The first matching shape wins; a single
// message is never interpreted as more than one shape.
func Classify(payload []byte, now time.Time) Message {
	raw := string(payload)

	// disconnect signals are not JSON; check the prefix first
	if mac, ok := ParseDisconnect(raw); ok {
		return Message{Kind: KindDisconnect, Mac: mac}
	}
	if mac, ok := ParseDelete(raw); ok {
		return Message{Kind: KindDelete, Mac: mac}
	}
	if samples, ok := ParseReport(payload); ok {
		return Message{Kind: KindDataBatch, Samples: samples}
	}
	if pending, ok := ParsePendingReport(payload); ok {
		return Message{Kind: KindPendingReport, Pending: pending}
	}
	if sample, ok := ParseInlineTelemetry(raw, now); ok {
		return Message{Kind: KindInline, Inline: sample}
	}
	return Message{Kind: KindUnknown}
}
