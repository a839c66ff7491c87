// Package otlp extracts flat span and log records from OTLP/JSON payloads.
//
// Parsing is defensive over the resourceSpans/scopeSpans/spans and
// resourceLogs/scopeLogs/logRecords nesting: any missing key becomes a
// default value and a payload of the wrong shape yields an empty slice,
// never an error.
package otlp

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/pranavkale07/ObserveX/internal/telemetry"
)

// unixNano is a nanosecond timestamp that unmarshals from either a JSON
// number or the quoted decimal string the OTLP JSON encoding produces.
type unixNano int64

func (n *unixNano) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		// Tolerate junk the same way missing keys are tolerated.
		*n = 0
		return nil
	}
	*n = unixNano(v)
	return nil
}

type attrValue struct {
	StringValue string `json:"stringValue"`
}

type keyValue struct {
	Key   string    `json:"key"`
	Value attrValue `json:"value"`
}

type otlpResource struct {
	Attributes []keyValue `json:"attributes"`
}

type otlpStatus struct {
	Code int `json:"code"`
}

type otlpSpan struct {
	TraceID           string     `json:"traceId"`
	SpanID            string     `json:"spanId"`
	ParentSpanID      string     `json:"parentSpanId"`
	Name              string     `json:"name"`
	StartTimeUnixNano unixNano   `json:"startTimeUnixNano"`
	EndTimeUnixNano   unixNano   `json:"endTimeUnixNano"`
	Attributes        []keyValue `json:"attributes"`
	Status            otlpStatus `json:"status"`
}

type scopeSpans struct {
	Spans []otlpSpan `json:"spans"`
}

type resourceSpans struct {
	Resource   otlpResource `json:"resource"`
	ScopeSpans []scopeSpans `json:"scopeSpans"`
}

type logBody struct {
	StringValue string `json:"stringValue"`
}

type otlpLogRecord struct {
	TimeUnixNano unixNano `json:"timeUnixNano"`
	SeverityText string   `json:"severityText"`
	Body         logBody  `json:"body"`
	TraceID      string   `json:"traceId"`
	SpanID       string   `json:"spanId"`
}

type scopeLogs struct {
	LogRecords []otlpLogRecord `json:"logRecords"`
}

type resourceLogs struct {
	Resource  otlpResource `json:"resource"`
	ScopeLogs []scopeLogs  `json:"scopeLogs"`
}

type exportPayload struct {
	ResourceSpans []resourceSpans `json:"resourceSpans"`
	ResourceLogs  []resourceLogs  `json:"resourceLogs"`
}

func resourceAttr(res otlpResource, key string) string {
	for _, attr := range res.Attributes {
		if attr.Key == key {
			return attr.Value.StringValue
		}
	}
	return ""
}

func spanAttr(span otlpSpan, key string) string {
	for _, attr := range span.Attributes {
		if attr.Key == key {
			return attr.Value.StringValue
		}
	}
	return ""
}

func formatNano(n unixNano) string {
	return time.Unix(0, int64(n)).UTC().Format(time.RFC3339Nano)
}

// ParseTrace extracts the spans of an OTLP trace payload. Duration is
// computed in milliseconds from the nano bounds and zero when either bound
// is missing.
func ParseTrace(payload []byte) []telemetry.Span {
	var doc exportPayload
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil
	}

	var spans []telemetry.Span
	for _, rs := range doc.ResourceSpans {
		serviceName := resourceAttr(rs.Resource, "service.name")
		for _, ss := range rs.ScopeSpans {
			for _, span := range ss.Spans {
				var durationMs float64
				if span.StartTimeUnixNano != 0 && span.EndTimeUnixNano != 0 {
					durationMs = float64(span.EndTimeUnixNano-span.StartTimeUnixNano) / 1e6
				}

				route := spanAttr(span, "http.route")
				if route == "" {
					route = span.Name
				}

				spans = append(spans, telemetry.Span{
					TraceID:      span.TraceID,
					SpanID:       span.SpanID,
					ParentSpanID: span.ParentSpanID,
					ServiceName:  serviceName,
					SpanName:     span.Name,
					Route:        route,
					DurationMs:   durationMs,
					StartTime:    formatNano(span.StartTimeUnixNano),
					StatusCode:   span.Status.Code,
				})
			}
		}
	}
	return spans
}

// ParseLog extracts the log records of an OTLP logs payload. Severity
// defaults to INFO and the timestamp to the current time when the payload
// carries none.
func ParseLog(payload []byte) []telemetry.LogRecord {
	var doc exportPayload
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil
	}

	var logs []telemetry.LogRecord
	for _, rl := range doc.ResourceLogs {
		serviceName := resourceAttr(rl.Resource, "service.name")
		for _, sl := range rl.ScopeLogs {
			for _, record := range sl.LogRecords {
				timestamp := telemetry.NowUTC()
				if record.TimeUnixNano != 0 {
					timestamp = formatNano(record.TimeUnixNano)
				}

				severity := record.SeverityText
				if severity == "" {
					severity = "INFO"
				}

				logs = append(logs, telemetry.LogRecord{
					TraceID:     record.TraceID,
					SpanID:      record.SpanID,
					ServiceName: serviceName,
					Body:        record.Body.StringValue,
					Severity:    severity,
					Timestamp:   timestamp,
				})
			}
		}
	}
	return logs
}
