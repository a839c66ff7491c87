package pipeline

import (
	"fmt"
	"testing"
	"time"

	"github.com/pranavkale07/ObserveX/internal/telemetry"
)

func TestLogBufferAppendAndFlush(t *testing.T) {
	buffer := NewLogBuffer()
	now := time.Now()

	for i := 0; i < 3; i++ {
		ok := buffer.Append(telemetry.LogRecord{
			TraceID:     "ABC",
			ServiceName: "quote",
			Body:        fmt.Sprintf("line %d", i),
		}, now)
		if !ok {
			t.Fatalf("Expected append %d to succeed", i)
		}
	}

	flushed := buffer.Flush("ABC")
	if len(flushed) != 3 {
		t.Fatalf("Expected 3 flushed logs, got %d", len(flushed))
	}
	if flushed[0].Body != "line 0" {
		t.Errorf("Expected insertion order preserved, got %s first", flushed[0].Body)
	}

	// Flush removes the entry.
	if again := buffer.Flush("ABC"); again != nil {
		t.Errorf("Expected nil on second flush, got %d logs", len(again))
	}
}

func TestLogBufferDropsEmptyTraceID(t *testing.T) {
	buffer := NewLogBuffer()
	if buffer.Append(telemetry.LogRecord{Body: "orphan"}, time.Now()) {
		t.Error("Expected append without trace id to be dropped")
	}
	if buffer.Len() != 0 {
		t.Errorf("Expected empty buffer, got %d entries", buffer.Len())
	}
}

func TestLogBufferCap(t *testing.T) {
	buffer := NewLogBuffer()
	now := time.Now()

	for i := 0; i < MaxLogsPerTrace+10; i++ {
		buffer.Append(telemetry.LogRecord{TraceID: "ABC", Body: "x"}, now)
	}

	if got := len(buffer.Flush("ABC")); got != MaxLogsPerTrace {
		t.Errorf("Expected cap of %d logs, got %d", MaxLogsPerTrace, got)
	}
}

func TestLogBufferDefaults(t *testing.T) {
	buffer := NewLogBuffer()
	buffer.Append(telemetry.LogRecord{TraceID: "ABC", Body: "x"}, time.Now())

	logs := buffer.Flush("ABC")
	if logs[0].ServiceName != "unknown" {
		t.Errorf("Expected service default 'unknown', got %s", logs[0].ServiceName)
	}
	if logs[0].Severity != "INFO" {
		t.Errorf("Expected severity default INFO, got %s", logs[0].Severity)
	}
	if logs[0].Timestamp == "" {
		t.Error("Expected a timestamp default")
	}
}

func TestLogBufferDiscard(t *testing.T) {
	buffer := NewLogBuffer()
	buffer.Append(telemetry.LogRecord{TraceID: "ABC", Body: "x"}, time.Now())
	buffer.Discard("ABC")

	if buffer.Len() != 0 {
		t.Errorf("Expected empty buffer after discard, got %d", buffer.Len())
	}
}

func TestLogBufferSweepExpired(t *testing.T) {
	buffer := NewLogBuffer()
	start := time.Now()

	buffer.Append(telemetry.LogRecord{TraceID: "old", Body: "x"}, start)
	buffer.Append(telemetry.LogRecord{TraceID: "new", Body: "y"}, start.Add(50*time.Second))

	evicted := buffer.SweepExpired(start.Add(70*time.Second), DefaultLogTTL)
	if evicted != 1 {
		t.Fatalf("Expected 1 eviction, got %d", evicted)
	}
	if buffer.Flush("old") != nil {
		t.Error("Expected 'old' swept")
	}
	if buffer.Flush("new") == nil {
		t.Error("Expected 'new' kept")
	}
}

func TestRedactionAuditorCadence(t *testing.T) {
	auditor := NewRedactionAuditor()

	// 12 redacted logs for one service must report at counts 5 and 10.
	var reported []int
	for i := 0; i < 12; i++ {
		count, due := auditor.Observe(telemetry.LogRecord{
			ServiceName: "checkout",
			Body:        "user [REDACTED_EMAIL] paid",
		})
		if due {
			reported = append(reported, count)
		}
	}

	if len(reported) != 2 || reported[0] != 5 || reported[1] != 10 {
		t.Errorf("Expected reports at 5 and 10, got %v", reported)
	}
}

func TestRedactionAuditorMarkersAndServices(t *testing.T) {
	auditor := NewRedactionAuditor()

	if _, due := auditor.Observe(telemetry.LogRecord{ServiceName: "a", Body: "clean body"}); due {
		t.Error("Expected clean body not to count")
	}

	count, _ := auditor.Observe(telemetry.LogRecord{ServiceName: "a", Body: "by [REDACTED_AUTHOR]"})
	if count != 1 {
		t.Errorf("Expected author marker counted, got %d", count)
	}

	// Counters are per service.
	count, _ = auditor.Observe(telemetry.LogRecord{ServiceName: "b", Body: "[REDACTED_EMAIL]"})
	if count != 1 {
		t.Errorf("Expected independent counter for service b, got %d", count)
	}
}
