package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"kittycore/pkg/domain"
)

type captureAuditRecorder struct {
	entries []AuditEntry
}

func (c *captureAuditRecorder) Record(_ context.Context, entry AuditEntry) {
	c.entries = append(c.entries, entry)
}

func (c *captureAuditRecorder) has(op string, status AuditStatus) bool {
	for _, entry := range c.entries {
		if entry.Operation == op && entry.Status == status {
			return true
		}
	}
	return false
}

type metricsCall struct {
	op      string
	success bool
}

type captureMetricsRecorder struct {
	calls []metricsCall
}

func (c *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	c.calls = append(c.calls, metricsCall{op: op, success: success})
}

func (c *captureMetricsRecorder) has(op string, success bool) bool {
	for _, call := range c.calls {
		if call.op == op && call.success == success {
			return true
		}
	}
	return false
}

type captureTracer struct {
	ended map[string][]error
}

func (c *captureTracer) Start(ctx context.Context, op string) (context.Context, TraceSpan) {
	return ctx, captureSpan{tracer: c, op: op}
}

type captureSpan struct {
	tracer *captureTracer
	op     string
}

func (s captureSpan) End(err error) {
	if s.tracer.ended == nil {
		s.tracer.ended = make(map[string][]error)
	}
	s.tracer.ended[s.op] = append(s.tracer.ended[s.op], err)
}

func TestServiceRecordsObservabilityPerOperation(t *testing.T) {
	audit := &captureAuditRecorder{}
	metrics := &captureMetricsRecorder{}
	tracer := &captureTracer{}
	fixed := time.Date(2024, 10, 1, 8, 30, 0, 0, time.UTC)
	h := initialized(t,
		WithAuditRecorder(audit),
		WithMetricsRecorder(metrics),
		WithTracer(tracer),
		WithClock(ClockFunc(func() time.Time { return fixed })),
	)
	id := h.create(alice)
	_ = h.svc.Transfer(as(bob), alice, id)

	if !audit.has(OpInit, AuditStatusSuccess) || !audit.has(OpCreate, AuditStatusSuccess) {
		t.Fatalf("expected success audit entries, got %+v", audit.entries)
	}
	if !audit.has(OpTransfer, AuditStatusError) {
		t.Fatalf("expected failed transfer audit entry")
	}
	for _, entry := range audit.entries {
		if !entry.Timestamp.Equal(fixed) {
			t.Fatalf("expected audit timestamp from clock, got %v", entry.Timestamp)
		}
		if entry.Operation == OpTransfer {
			if entry.Caller != bob || entry.Kitty == nil || *entry.Kitty != id || entry.Error == "" {
				t.Fatalf("unexpected transfer audit entry %+v", entry)
			}
		}
	}
	if !metrics.has(OpCreate, true) || !metrics.has(OpTransfer, false) {
		t.Fatalf("unexpected metrics calls %+v", metrics.calls)
	}
	if errs := tracer.ended[OpTransfer]; len(errs) != 1 || !errors.Is(errs[0], domain.ErrUnauthorized) {
		t.Fatalf("expected transfer span ended with unauthorized, got %v", errs)
	}
	if !h.logger.has("w:kitty operation failed") || !h.logger.has("d:kitty operation completed") {
		t.Fatalf("expected operation logs, got %v", h.logger.calls)
	}
}

func TestPrometheusMetricsRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusMetricsRecorder(reg)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	h := initialized(t, WithMetricsRecorder(rec))
	h.create(alice)
	h.create(alice)
	_, _ = h.svc.Breed(as(alice), 0, 0)

	if got := testutil.ToFloat64(rec.total.WithLabelValues(OpCreate, "success")); got != 2 {
		t.Fatalf("expected 2 successful creates, got %v", got)
	}
	if got := testutil.ToFloat64(rec.total.WithLabelValues(OpBreed, "error")); got != 1 {
		t.Fatalf("expected 1 failed breed, got %v", got)
	}
	if n := testutil.CollectAndCount(rec.duration); n != 3 {
		t.Fatalf("expected histograms for init, create and breed, got %d", n)
	}
	if _, err := NewPrometheusMetricsRecorder(reg); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}

func TestJSONTracerWritesSpans(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewJSONTracer(&buf)
	h := initialized(t, WithTracer(tracer))
	h.create(alice)
	_, _ = h.svc.Create(context.Background())

	entries := tracer.Entries()
	if len(entries) != 3 {
		t.Fatalf("expected 3 spans, got %d", len(entries))
	}
	if entries[2].Status != "error" || !strings.Contains(entries[2].Error, "bad origin") {
		t.Fatalf("expected failing span, got %+v", entries[2])
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 json lines, got %d", len(lines))
	}
	var decoded JSONTraceEntry
	if err := json.Unmarshal([]byte(lines[1]), &decoded); err != nil {
		t.Fatalf("decode span: %v", err)
	}
	if decoded.Operation != OpCreate || decoded.Status != "success" {
		t.Fatalf("unexpected span %+v", decoded)
	}
}

func TestLoggerAuditRecorderLogsEntries(t *testing.T) {
	logger := &captureLogger{}
	LoggerAuditRecorder{Logger: logger}.Record(context.Background(), AuditEntry{Operation: OpCreate, Status: AuditStatusSuccess})
	if !logger.has("i:audit") {
		t.Fatalf("expected audit log line")
	}
	LoggerAuditRecorder{}.Record(context.Background(), AuditEntry{})
}
