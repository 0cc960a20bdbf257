package functions

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"todos/domain"
)

const (
	tracerName          = "todos/functions"
	functionSpanName    = "todos.function"
	functionEventName   = "todos.function.request"
	functionEventDomain = "todos"
	observabilityEvent  = "observability.event"
)

var functionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "todos",
	Name:      "function_failures_total",
	Help:      "Function invocations that did not return 200, by failure kind.",
}, []string{"function", "kind"})

// requestMetrics records one function invocation as a span, a structured
// log entry and, on failure, a counter increment.
type requestMetrics struct {
	logger     *log.Logger
	function   string
	start      time.Time
	span       trace.Span
	itemCount  int
	errorStage string
	errorKind  string
	err        error
}

func newRequestMetrics(ctx context.Context, function string, logger *log.Logger) (*requestMetrics, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, functionSpanName,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("faas.name", function)),
	)
	return &requestMetrics{
		logger:    logger,
		function:  function,
		start:     time.Now(),
		span:      span,
		itemCount: -1,
	}, ctx
}

func (m *requestMetrics) SetItems(count int) {
	if count < 0 {
		count = 0
	}
	m.itemCount = count
}

// Fail records why the invocation failed. The first failure wins.
func (m *requestMetrics) Fail(stage string, err error) {
	if m.errorStage != "" || stage == "" {
		return
	}
	m.errorStage = stage
	m.err = err
	m.errorKind = domain.KindOf(err).String()
}

func (m *requestMetrics) attributes(status int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("faas.name", m.function),
		attribute.Int("http.status_code", status),
		attribute.Float64("todos.total_ms", durationToMillis(time.Since(m.start))),
	}
	if m.itemCount >= 0 {
		attrs = append(attrs, attribute.Int("todos.items", m.itemCount))
	}
	if m.errorStage != "" {
		attrs = append(attrs,
			attribute.String("todos.error_stage", m.errorStage),
			attribute.String("todos.error_kind", m.errorKind),
		)
	}
	if m.err != nil {
		attrs = append(attrs, attribute.String("error.message", m.err.Error()))
	}
	return attrs
}

// Finish ends the span and emits the observability event.
func (m *requestMetrics) Finish(status int) {
	if m == nil {
		return
	}
	severityText, severityNumber := severityForStatus(status, m.err)
	attrs := m.attributes(status)

	m.span.SetAttributes(attrs...)
	eventAttrs := append([]attribute.KeyValue{
		attribute.String("event.name", functionEventName),
		attribute.String("event.domain", functionEventDomain),
		attribute.String("severity_text", severityText),
	}, attrs...)
	m.span.AddEvent(observabilityEvent, trace.WithAttributes(eventAttrs...))
	if m.err != nil || status >= http.StatusBadRequest {
		desc := http.StatusText(status)
		if m.err != nil {
			desc = m.err.Error()
		}
		m.span.SetStatus(codes.Error, desc)
	} else {
		m.span.SetStatus(codes.Ok, "")
	}
	sc := m.span.SpanContext()
	m.span.End()

	if m.errorStage != "" {
		functionFailures.WithLabelValues(m.function, m.errorKind).Inc()
	}

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"event.name":      functionEventName,
		"event.domain":    functionEventDomain,
		"severity_text":   severityText,
		"severity_number": severityNumber,
		"attributes":      attributesToMap(attrs),
	}
	if sc.HasTraceID() {
		fields["trace_id"] = sc.TraceID().String()
	}
	if sc.HasSpanID() {
		fields["span_id"] = sc.SpanID().String()
	}
	m.logger.WithFields(fields).Log(levelForSeverity(severityText), observabilityEvent)
}

func severityForStatus(status int, err error) (string, int) {
	switch {
	case status >= http.StatusInternalServerError:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	case status == 0 && err != nil:
		return "ERROR", 17
	default:
		return "INFO", 9
	}
}

func levelForSeverity(text string) log.Level {
	switch text {
	case "ERROR":
		return log.ErrorLevel
	case "WARN":
		return log.WarnLevel
	default:
		return log.InfoLevel
	}
}

func attributesToMap(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
