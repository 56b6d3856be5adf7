package core

import (
	"context"
	"time"
)

// Logger is the structured logging surface used by the service. *slog.Logger
// satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Clock provides wall time for audit timestamps and durations.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// AuditStatus is the outcome recorded for an operation.
type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusError   AuditStatus = "error"
)

// AuditEntry describes one executed operation.
type AuditEntry struct {
	Operation string
	Status    AuditStatus
	Caller    AccountID
	Kitty     *KittyIndex
	Block     BlockNumber
	Error     string
	Duration  time.Duration
	Timestamp time.Time
}

// AuditRecorder receives an entry per operation.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

// MetricsRecorder observes operation latency and outcome.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// Tracer starts a span per operation.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan is ended with the operation error, nil on success.
type TraceSpan interface {
	End(err error)
}

type noopAuditRecorder struct{}

func (noopAuditRecorder) Record(context.Context, AuditEntry) {}

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) Observe(context.Context, string, bool, time.Duration) {}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

// ServiceOption customises a Service.
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	clock    Clock
	logger   Logger
	audit    AuditRecorder
	metrics  MetricsRecorder
	tracer   Tracer
	currency Currency
	auth     Authenticator
	seeds    SeedSource
	blocks   BlockClock
	events   EventSink
}

func defaultServiceOptions() serviceOptions {
	return serviceOptions{
		clock:    ClockFunc(func() time.Time { return time.Now().UTC() }),
		logger:   noopLogger{},
		audit:    noopAuditRecorder{},
		metrics:  noopMetricsRecorder{},
		tracer:   noopTracer{},
		currency: noCurrency{},
		auth:     ContextAuthenticator{},
		seeds:    CryptoSeed{},
		blocks:   NewManualClock(0),
		events:   noopSink{},
	}
}

// WithClock overrides the wall clock.
func WithClock(clock Clock) ServiceOption {
	return func(o *serviceOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(logger Logger) ServiceOption {
	return func(o *serviceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithAuditRecorder sets the audit sink.
func WithAuditRecorder(recorder AuditRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.audit = recorder
		}
	}
}

// WithMetricsRecorder sets the metrics sink.
func WithMetricsRecorder(recorder MetricsRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.metrics = recorder
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(tracer Tracer) ServiceOption {
	return func(o *serviceOptions) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithCurrency sets the currency used by Buy.
func WithCurrency(currency Currency) ServiceOption {
	return func(o *serviceOptions) {
		if currency != nil {
			o.currency = currency
		}
	}
}

// WithAuthenticator replaces the context based authenticator.
func WithAuthenticator(auth Authenticator) ServiceOption {
	return func(o *serviceOptions) {
		if auth != nil {
			o.auth = auth
		}
	}
}

// WithSeedSource sets the randomness seed source.
func WithSeedSource(seeds SeedSource) ServiceOption {
	return func(o *serviceOptions) {
		if seeds != nil {
			o.seeds = seeds
		}
	}
}

// WithBlockClock sets the logical clock.
func WithBlockClock(blocks BlockClock) ServiceOption {
	return func(o *serviceOptions) {
		if blocks != nil {
			o.blocks = blocks
		}
	}
}

// WithEventSink sets where committed events are published.
func WithEventSink(sink EventSink) ServiceOption {
	return func(o *serviceOptions) {
		if sink != nil {
			o.events = sink
		}
	}
}
