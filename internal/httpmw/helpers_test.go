package httpmw

import (
	"context"
	"net/http"
	"sync"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/keithlinneman/linnemanlabs-helmet/internal/log"
)

// recordLogger keeps every record with the fields accumulated through With.
type recordLogger struct {
	mu      *sync.Mutex
	records *[]record
	fields  []any
}

type record struct {
	level string
	msg   string
	err   error
	kv    map[string]any
}

func newRecordLogger() *recordLogger {
	return &recordLogger{mu: &sync.Mutex{}, records: &[]record{}}
}

func (l *recordLogger) With(kv ...any) log.Logger {
	return &recordLogger{mu: l.mu, records: l.records, fields: append(append([]any(nil), l.fields...), kv...)}
}

func (l *recordLogger) add(level string, err error, msg string, kv []any) {
	all := append(append([]any(nil), l.fields...), kv...)
	m := make(map[string]any, len(all)/2)
	for i := 0; i+1 < len(all); i += 2 {
		if k, ok := all[i].(string); ok {
			m[k] = all[i+1]
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.records = append(*l.records, record{level: level, msg: msg, err: err, kv: m})
}

func (l *recordLogger) Debug(_ context.Context, msg string, kv ...any) { l.add("debug", nil, msg, kv) }
func (l *recordLogger) Info(_ context.Context, msg string, kv ...any)  { l.add("info", nil, msg, kv) }
func (l *recordLogger) Warn(_ context.Context, msg string, kv ...any)  { l.add("warn", nil, msg, kv) }
func (l *recordLogger) Error(_ context.Context, err error, msg string, kv ...any) {
	l.add("error", err, msg, kv)
}
func (l *recordLogger) Sync() error { return nil }

func (l *recordLogger) all() []record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]record(nil), *l.records...)
}

// withSpan runs h under a recording span and returns the finished span.
func withSpan(t *testing.T, h http.Handler, w http.ResponseWriter, r *http.Request) sdktrace.ReadOnlySpan {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(r.Context(), "request")
	h.ServeHTTP(w, r.WithContext(ctx))
	span.End()

	ended := rec.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(ended))
	}
	return ended[0]
}

func spanAttr(s sdktrace.ReadOnlySpan, key string) (string, bool) {
	for _, kv := range s.Attributes() {
		if string(kv.Key) == key {
			return kv.Value.Emit(), true
		}
	}
	return "", false
}
