// Package observability holds the logging, tracing and metrics hooks used across
// the library. Implementations are injected; the defaults do nothing.
package observability

import (
	"context"
	"time"
)

type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
}

type Field interface {
	Key() string
	Value() interface{}
}

type field struct {
	key string
	val interface{}
}

func (f field) Key() string        { return f.key }
func (f field) Value() interface{} { return f.val }

func String(key, value string) Field                 { return field{key, value} }
func Int(key string, value int) Field                { return field{key, value} }
func Int64(key string, value int64) Field            { return field{key, value} }
func Float64(key string, value float64) Field        { return field{key, value} }
func Bool(key string, value bool) Field              { return field{key, value} }
func Duration(key string, value time.Duration) Field { return field{key, value} }
func Error(key string, err error) Field              { return field{key, err} }

type NopLogger struct{}

func (NopLogger) Debug(string, ...Field) {}
func (NopLogger) Info(string, ...Field)  {}
func (NopLogger) Warn(string, ...Field)  {}
func (NopLogger) Error(string, ...Field) {}
func (NopLogger) With(...Field) Logger   { return NopLogger{} }

// Tracer provides tracing hooks for library operations.
type Tracer interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
}

// Span represents a tracing span.
type Span interface {
	SetTag(key string, value interface{})
	SetError(err error)
	Finish()
}

type nopTracer struct{}

func (nopTracer) StartSpan(ctx context.Context, _ string) (context.Context, Span) {
	return ctx, nopSpan{}
}

// NopTracer returns a tracer that does nothing.
func NopTracer() Tracer { return nopTracer{} }

type nopSpan struct{}

func (nopSpan) SetTag(string, interface{}) {}
func (nopSpan) SetError(error)             {}
func (nopSpan) Finish()                    {}

// Metrics records counters and stage durations.
type Metrics interface {
	IncCounter(name string, delta float64, labels ...string)
	ObserveDuration(name string, d time.Duration, labels ...string)
}

type NopMetrics struct{}

func (NopMetrics) IncCounter(string, float64, ...string)            {}
func (NopMetrics) ObserveDuration(string, time.Duration, ...string) {}

// Metric names emitted by the library. Counters take a "label" label where noted.
const (
	MetricRegionsRedacted  = "pdfredact_regions_redacted_total" // label
	MetricRegionsRestored  = "pdfredact_regions_restored_total"
	MetricRegionsUntouched = "pdfredact_regions_untouched_total"
	MetricRegionsRejected  = "pdfredact_regions_rejected_total"
	MetricSnapshotsPut     = "pdfredact_snapshots_put_total"
	MetricSnapshotsSwept   = "pdfredact_snapshots_swept_total"
	MetricStageDuration    = "pdfredact_stage_duration_seconds" // stage
)

// Stage names for MetricStageDuration.
const (
	StageExtract  = "extract"
	StageDetect   = "detect"
	StageRedact   = "redact"
	StageFinalize = "finalize"
	StageRestore  = "restore"
	StageWrite    = "write"
)
