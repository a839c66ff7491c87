package otlp

import (
	"fmt"
	"testing"
	"time"
)

func tracePayload(service string, startNano, endNano int64) []byte {
	return []byte(fmt.Sprintf(`{
		"resourceSpans": [{
			"resource": {"attributes": [{"key": "service.name", "value": {"stringValue": %q}}]},
			"scopeSpans": [{
				"spans": [{
					"traceId": "abc123",
					"spanId": "def456",
					"name": "GET /quote",
					"startTimeUnixNano": "%d",
					"endTimeUnixNano": "%d",
					"attributes": [{"key": "http.route", "value": {"stringValue": "/quote"}}],
					"status": {"code": 2}
				}]
			}]
		}]
	}`, service, startNano, endNano))
}

func TestParseTrace(t *testing.T) {
	start := int64(1700000000000000000)
	spans := ParseTrace(tracePayload("quote", start, start+1500*1e6))

	if len(spans) != 1 {
		t.Fatalf("Expected 1 span, got %d", len(spans))
	}

	span := spans[0]
	if span.ServiceName != "quote" {
		t.Errorf("Expected service 'quote', got %s", span.ServiceName)
	}
	if span.TraceID != "abc123" {
		t.Errorf("Expected trace id 'abc123', got %s", span.TraceID)
	}
	if span.Route != "/quote" {
		t.Errorf("Expected route '/quote', got %s", span.Route)
	}
	if span.DurationMs != 1500 {
		t.Errorf("Expected duration 1500ms, got %f", span.DurationMs)
	}
	if span.StatusCode != 2 {
		t.Errorf("Expected status code 2, got %d", span.StatusCode)
	}
}

func TestParseTraceNumericNanos(t *testing.T) {
	payload := []byte(`{
		"resourceSpans": [{
			"scopeSpans": [{
				"spans": [{
					"traceId": "t1",
					"name": "work",
					"startTimeUnixNano": 1000000000,
					"endTimeUnixNano": 1100000000
				}]
			}]
		}]
	}`)

	spans := ParseTrace(payload)
	if len(spans) != 1 {
		t.Fatalf("Expected 1 span, got %d", len(spans))
	}
	if spans[0].DurationMs != 100 {
		t.Errorf("Expected duration 100ms, got %f", spans[0].DurationMs)
	}
}

func TestParseTraceRouteFallback(t *testing.T) {
	payload := []byte(`{
		"resourceSpans": [{
			"scopeSpans": [{
				"spans": [{"traceId": "t1", "name": "background-job"}]
			}]
		}]
	}`)

	spans := ParseTrace(payload)
	if len(spans) != 1 {
		t.Fatalf("Expected 1 span, got %d", len(spans))
	}
	if spans[0].Route != "background-job" {
		t.Errorf("Expected route fallback to span name, got %s", spans[0].Route)
	}
	if spans[0].DurationMs != 0 {
		t.Errorf("Expected zero duration with missing bounds, got %f", spans[0].DurationMs)
	}
}

func TestParseTraceNonOTLPShapes(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{name: "log payload", payload: `{"resourceLogs": []}`},
		{name: "empty object", payload: `{}`},
		{name: "array", payload: `[1, 2, 3]`},
		{name: "scalar", payload: `42`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if spans := ParseTrace([]byte(tt.payload)); len(spans) != 0 {
				t.Errorf("Expected no spans, got %d", len(spans))
			}
		})
	}
}

func TestParseLog(t *testing.T) {
	payload := []byte(`{
		"resourceLogs": [{
			"resource": {"attributes": [{"key": "service.name", "value": {"stringValue": "checkout"}}]},
			"scopeLogs": [{
				"logRecords": [{
					"timeUnixNano": "1700000000000000000",
					"severityText": "ERROR",
					"body": {"stringValue": "payment declined for [REDACTED_EMAIL]"},
					"traceId": "abc123",
					"spanId": "def456"
				}]
			}]
		}]
	}`)

	logs := ParseLog(payload)
	if len(logs) != 1 {
		t.Fatalf("Expected 1 log record, got %d", len(logs))
	}

	record := logs[0]
	if record.ServiceName != "checkout" {
		t.Errorf("Expected service 'checkout', got %s", record.ServiceName)
	}
	if record.Severity != "ERROR" {
		t.Errorf("Expected severity ERROR, got %s", record.Severity)
	}
	if record.Body != "payment declined for [REDACTED_EMAIL]" {
		t.Errorf("Unexpected body: %s", record.Body)
	}
	if record.TraceID != "abc123" {
		t.Errorf("Expected trace id 'abc123', got %s", record.TraceID)
	}
}

func TestParseLogDefaults(t *testing.T) {
	payload := []byte(`{
		"resourceLogs": [{
			"scopeLogs": [{
				"logRecords": [{"body": {"stringValue": "hello"}}]
			}]
		}]
	}`)

	logs := ParseLog(payload)
	if len(logs) != 1 {
		t.Fatalf("Expected 1 log record, got %d", len(logs))
	}
	if logs[0].Severity != "INFO" {
		t.Errorf("Expected default severity INFO, got %s", logs[0].Severity)
	}
	if logs[0].Timestamp == "" {
		t.Error("Expected a default timestamp, got empty")
	}
	if logs[0].TraceID != "" {
		t.Errorf("Expected empty trace id, got %s", logs[0].TraceID)
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	// nano -> RFC3339 -> parse must preserve the value within a millisecond
	nanos := int64(1700000123456789012)
	formatted := formatNano(unixNano(nanos))

	parsed, err := time.Parse(time.RFC3339Nano, formatted)
	if err != nil {
		t.Fatalf("Expected parseable timestamp, got error: %v", err)
	}

	diff := parsed.UnixNano() - nanos
	if diff < 0 {
		diff = -diff
	}
	if diff >= int64(time.Millisecond) {
		t.Errorf("Round trip drifted by %dns", diff)
	}
}
