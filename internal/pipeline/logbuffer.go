package pipeline

import (
	"strings"
	"sync"
	"time"

	"github.com/pranavkale07/ObserveX/internal/telemetry"
)

// MaxLogsPerTrace caps the buffered logs per trace; overflow is silently
// dropped.
const MaxLogsPerTrace = 50

// DefaultLogTTL bounds how long an unclaimed buffer entry may live. Traces
// that never materialize (span loss, trace id typos in instrumentation)
// would otherwise leak the entry forever.
const DefaultLogTTL = 60 * time.Second

type bufferEntry struct {
	logs        []telemetry.LogRecord
	firstInsert time.Time
}

// LogBuffer holds logs keyed by trace id until the trace's window closes.
// The log stage appends while the close stage flushes or discards, so all
// access is serialized through the mutex.
type LogBuffer struct {
	mu      sync.Mutex
	entries map[string]*bufferEntry
}

func NewLogBuffer() *LogBuffer {
	return &LogBuffer{
		entries: make(map[string]*bufferEntry),
	}
}

// Append buffers a projection of record under its trace id. Records without
// a trace id, and records beyond the per-trace cap, are dropped. Reports
// whether the record was buffered.
func (b *LogBuffer) Append(record telemetry.LogRecord, now time.Time) bool {
	if record.TraceID == "" {
		return false
	}

	if record.ServiceName == "" {
		record.ServiceName = "unknown"
	}
	if record.Severity == "" {
		record.Severity = "INFO"
	}
	if record.Timestamp == "" {
		record.Timestamp = telemetry.NowUTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.entries[record.TraceID]
	if !ok {
		entry = &bufferEntry{firstInsert: now}
		b.entries[record.TraceID] = entry
	}
	if len(entry.logs) >= MaxLogsPerTrace {
		return false
	}
	entry.logs = append(entry.logs, record)
	return true
}

// Flush removes and returns the buffered logs for a trace.
func (b *LogBuffer) Flush(traceID string) []telemetry.LogRecord {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.entries[traceID]
	if !ok {
		return nil
	}
	delete(b.entries, traceID)
	return entry.logs
}

// Discard drops the buffered logs for a trace.
func (b *LogBuffer) Discard(traceID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, traceID)
}

// SweepExpired evicts entries older than ttl and returns how many were
// dropped.
func (b *LogBuffer) SweepExpired(now time.Time, ttl time.Duration) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	evicted := 0
	for traceID, entry := range b.entries {
		if now.Sub(entry.firstInsert) > ttl {
			delete(b.entries, traceID)
			evicted++
		}
	}
	return evicted
}

// Len returns the number of traces with buffered logs.
func (b *LogBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Redaction markers substituted upstream by the collector in place of PII.
var redactionMarkers = []string{"[REDACTED_EMAIL]", "[REDACTED_AUTHOR]"}

// redactionCadence is how many increments pass between redaction_count
// metric emissions.
const redactionCadence = 5

// RedactionAuditor counts redaction markers per service. Every fifth
// increment for a service reports the running count.
type RedactionAuditor struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewRedactionAuditor() *RedactionAuditor {
	return &RedactionAuditor{
		counts: make(map[string]int),
	}
}

// Observe inspects one log body. It returns the service's running count and
// whether a redaction_count metric is due.
func (a *RedactionAuditor) Observe(record telemetry.LogRecord) (int, bool) {
	redacted := false
	for _, marker := range redactionMarkers {
		if strings.Contains(record.Body, marker) {
			redacted = true
			break
		}
	}
	if !redacted {
		return 0, false
	}

	service := record.ServiceName
	if service == "" {
		service = "unknown"
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.counts[service]++
	count := a.counts[service]
	return count, count%redactionCadence == 0
}
