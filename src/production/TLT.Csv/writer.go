// Package csvstore appends telemetry rows to durable per-day CSV files.
// Quoting is hand-rolled; device identifiers and free-text notes may
// legitimately contain commas.
package csvstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	tltmodels "gitlab.com/talktail1/tlt.hub_server/src/production/TLT.Models"
)

// Fixed header lines, one per file format.
const (
	HubHeader    = "timestamp,envTemp,heartRate,respRate,bodyTemp,activity"
	BleHeader    = "timestamp,hr,spo2,temp,battery,samplingRate"
	LegacyHeader = "timestamp,device_id,value1,value2,value3,value4,value5,value6"
)

const maxFilenameIDLen = 80

// HeaderCache tracks file paths whose header line has already been written.
// A false negative costs one redundant header line; a false positive is not
// possible for a fresh path. Injected so a multi-instance deployment can back
// it with a shared store.
type HeaderCache interface {
	Seen(path string) bool
	Mark(path string)
}

type memoryHeaderCache struct {
	mu    sync.Mutex
	paths map[string]struct{}
}

// NewMemoryHeaderCache returns the in-process HeaderCache implementation.
func NewMemoryHeaderCache() HeaderCache {
	return &memoryHeaderCache{paths: make(map[string]struct{})}
}

func (c *memoryHeaderCache) Seen(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.paths[path]
	return ok
}

func (c *memoryHeaderCache) Mark(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paths[path] = struct{}{}
}

// Writer appends rows to per-(scope, date) files under a root directory.
// Writes to the same path are serialized so the header-then-row sequence for
// a brand-new file is one critical section.
type Writer struct {
	dir   string
	cache HeaderCache
	locks sync.Map // path -> *sync.Mutex
}

// NewWriter creates a Writer rooted at dir.
func NewWriter(dir string, cache HeaderCache) *Writer {
	if cache == nil {
		cache = NewMemoryHeaderCache()
	}
	return &Writer{dir: dir, cache: cache}
}

// FileName builds "{scope}_{sanitizedId}_{YYYY-MM-DD}.csv". An empty scope
// yields the plain day file "{YYYY-MM-DD}.csv" used by the legacy feed.
func FileName(scope, id, dateKey string) string {
	if scope == "" {
		return dateKey + ".csv"
	}
	return fmt.Sprintf("%s_%s_%s.csv", scope, SanitizeID(id), dateKey)
}

// SanitizeID makes an identifier safe for use in a filename: colons and
// hyphens become hyphens, everything else non-alphanumeric becomes an
// underscore, capped at 80 characters.
func SanitizeID(id string) string {
	if id == "" {
		return "unknown"
	}
	var b strings.Builder
	for _, r := range id {
		switch {
		case r == ':' || r == '-':
			b.WriteByte('-')
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	s := b.String()
	if len(s) > maxFilenameIDLen {
		s = s[:maxFilenameIDLen]
	}
	if s == "" {
		return "unknown"
	}
	return s
}

// EncodeCell makes a value safe for one CSV cell: wrapped in quotes with
// embedded quotes doubled when it contains a comma, quote or newline.
func EncodeCell(s string) string {
	if strings.ContainsAny(s, ",\"\n\r") {
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
	return s
}

// SanitizeCell is EncodeCell plus a spreadsheet formula-injection guard:
// cells starting with = + - @ or control whitespace are prefixed with '.
func SanitizeCell(s string) string {
	if s != "" {
		switch s[0] {
		case '=', '+', '-', '@', '\t', '\r', '\n':
			return "'" + strings.ReplaceAll(s, "'", "''") + "'"
		}
	}
	return EncodeCell(s)
}

// Append writes one row to the file for (scope, id, dateKey), creating the
// directory and the header line on first contact with a path. Cells must
// already be encoded.
func (w *Writer) Append(scope, id, dateKey, header string, cells []string) error {
	path := filepath.Join(w.dir, FileName(scope, id, dateKey))

	lock := w.pathLock(path)
	lock.Lock()
	defer lock.Unlock()

	if !w.cache.Seen(path) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil && !os.IsExist(err) {
			return fmt.Errorf("create csv dir: %w", err)
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := appendLine(path, header); err != nil {
				return fmt.Errorf("write csv header: %w", err)
			}
		}
		w.cache.Mark(path)
	}

	if err := appendLine(path, strings.Join(cells, ",")); err != nil {
		return fmt.Errorf("append csv row: %w", err)
	}
	return nil
}

// AppendHubSample writes one structured hub report row to
// hub_{hubId}_{date}.csv.
func (w *Writer) AppendHubSample(hubID string, s tltmodels.HubSample) error {
	cells := []string{
		EncodeCell(s.Timestamp),
		formatFloat(s.EnvTemp),
		formatFloat(s.HeartRate),
		formatFloat(s.RespRate),
		formatFloat(s.BodyTemp),
		formatFloat(s.Activity),
	}
	return w.Append("hub", hubID, s.DateKey, HubHeader, cells)
}

// AppendBleSample writes one inline telemetry row to ble_{mac}_{date}.csv.
// Cells go through the formula-injection guard since the feed originates
// outside the backend.
func (w *Writer) AppendBleSample(s *tltmodels.InlineSample) error {
	timestamp := s.ReceivedAt.Format("2006-01-02 15:04:05")
	dateKey := s.ReceivedAt.Format("2006-01-02")
	cells := []string{
		SanitizeCell(timestamp),
		SanitizeCell(formatFloat(s.HeartRate)),
		SanitizeCell(formatFloat(s.SpO2)),
		SanitizeCell(formatFloat(s.Temp)),
		SanitizeCell(formatFloat(s.Battery)),
		SanitizeCell(formatFloat(s.SamplingRate)),
	}
	return w.Append("ble", s.Mac, dateKey, BleHeader, cells)
}

// AppendLegacyReading writes one hub/+/data row to the plain day file,
// padded to six value cells.
func (w *Writer) AppendLegacyReading(r *tltmodels.LegacyReading) error {
	cells := make([]string, 0, 8)
	cells = append(cells, EncodeCell(r.Timestamp), EncodeCell(r.DeviceID))
	for _, v := range r.Values {
		cells = append(cells, EncodeCell(v))
	}
	return w.Append("", "", r.DateKey, LegacyHeader, cells)
}

func (w *Writer) pathLock(path string) *sync.Mutex {
	actual, _ := w.locks.LoadOrStore(path, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(line + "\n"); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
