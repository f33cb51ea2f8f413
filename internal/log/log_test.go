package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

func newTestLogger(t *testing.T, buf *bytes.Buffer, opts Options) *slogLogger {
	t.Helper()
	opts.Writer = buf
	opts.JSON = true
	l, err := newSlog(opts)
	if err != nil {
		t.Fatalf("newSlog: %v", err)
	}
	return l.(*slogLogger)
}

// lastRecord parses the last JSON line in buf.
func lastRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &m); err != nil {
		t.Fatalf("parse log line: %v\nraw: %s", err, buf.String())
	}
	return m
}

// ParseLevel

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" INFO ":  slog.LevelInfo,
		"Warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}

// Base attrs and levels

func TestLogger_BaseAttrs(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "helmet", Version: "1.2.3"})
	l.Info(context.Background(), "hello", "port", 8080)

	m := lastRecord(t, &buf)
	if m["msg"] != "hello" || m["app"] != "helmet" || m["version"] != "1.2.3" {
		t.Errorf("record = %v", m)
	}
	if m["port"] != float64(8080) {
		t.Errorf("port = %v", m["port"])
	}
	if _, ok := m["source"]; !ok {
		t.Error("source missing")
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "x", Level: slog.LevelWarn})
	l.Debug(context.Background(), "d")
	l.Info(context.Background(), "i")
	if buf.Len() != 0 {
		t.Fatalf("below-level records written: %s", buf.String())
	}
	l.Warn(context.Background(), "w")
	if lastRecord(t, &buf)["msg"] != "w" {
		t.Error("warn not written")
	}
}

func TestLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	l, _ := newSlog(Options{App: "x", Writer: &buf})
	l.Info(context.Background(), "text line")
	if !strings.Contains(buf.String(), `msg="text line"`) {
		t.Errorf("output = %s", buf.String())
	}
}

// With

func TestLogger_WithCopiesAttrs(t *testing.T) {
	var buf bytes.Buffer
	base := newTestLogger(t, &buf, Options{App: "x"})
	child := base.With("feature", "hsts", 42, "dropped", "dangling")
	_ = base.With("other", "y")

	child.Info(context.Background(), "c")
	m := lastRecord(t, &buf)
	if m["feature"] != "hsts" {
		t.Errorf("feature = %v", m["feature"])
	}
	if _, ok := m["other"]; ok {
		t.Error("sibling attrs leaked into child")
	}
	if _, ok := m["dangling"]; ok {
		t.Error("odd trailing key should be dropped")
	}

	base.Info(context.Background(), "b")
	if _, ok := lastRecord(t, &buf)["feature"]; ok {
		t.Error("child attrs leaked into parent")
	}
}

// Error enrichment

func TestLogger_ErrorEnrichment(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "x", ErrorLinks: 4})

	root := errors.New("no such key")
	err := fmt.Errorf("load policy: %w", root)
	l.Error(context.Background(), err, "reload failed", "sha256", "abc")

	m := lastRecord(t, &buf)
	if m["err"] != "load policy: no such key" {
		t.Errorf("err = %v", m["err"])
	}
	if m["error_type"] != "*errors.errorString" {
		t.Errorf("error_type = %v", m["error_type"])
	}
	if m["cause_type"] != "*errors.errorString" {
		t.Errorf("cause_type = %v", m["cause_type"])
	}
	chain, _ := m["error_chain"].([]any)
	if len(chain) != 2 {
		t.Errorf("error_chain = %v", m["error_chain"])
	}
	if _, ok := m["error_links"]; !ok {
		t.Error("error_links missing")
	}
	if s, _ := m["stack"].(string); s == "" {
		t.Error("stack missing on error record")
	}
	if m["sha256"] != "abc" {
		t.Errorf("sha256 = %v", m["sha256"])
	}
}

func TestLogger_ErrorNil(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "x"})
	l.Error(context.Background(), nil, "no error")
	m := lastRecord(t, &buf)
	if _, ok := m["err"]; ok {
		t.Error("err attr present for nil error")
	}
}

func TestLogger_NoStackBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "x"})
	l.Warn(context.Background(), "w")
	if _, ok := lastRecord(t, &buf)["stack"]; ok {
		t.Error("stack attached to warn record")
	}
}

// Trace enrichment

func TestLogger_TraceIDs(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "x"})

	tid, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	sid, _ := trace.SpanIDFromHex("0102030405060708")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: tid, SpanID: sid, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	l.Info(ctx, "traced")
	m := lastRecord(t, &buf)
	if m["trace_id"] != tid.String() || m["span_id"] != sid.String() {
		t.Errorf("trace attrs = %v / %v", m["trace_id"], m["span_id"])
	}

	l.Info(context.Background(), "untraced")
	if _, ok := lastRecord(t, &buf)["trace_id"]; ok {
		t.Error("trace_id without a span")
	}
}

// Helpers

func TestErrorChain(t *testing.T) {
	a := errors.New("a")
	if got := errorChain(fmt.Errorf("outer: %w", a)); len(got) != 2 {
		t.Errorf("wrapped chain = %v", got)
	}
	joined := errors.Join(errors.New("x"), errors.New("y"))
	if got := errorChain(joined); len(got) != 3 {
		t.Errorf("joined chain = %v", got)
	}
	if got := errorChain(nil); len(got) != 0 {
		t.Errorf("nil chain = %v", got)
	}
}

func TestChainLinks_RespectsMax(t *testing.T) {
	err := fmt.Errorf("3: %w", fmt.Errorf("2: %w", errors.New("1")))
	if got := chainLinks(err, 1); len(got) != 1 {
		t.Errorf("links = %v", got)
	}
}

// Context

func TestContext_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "x"})
	ctx := WithContext(context.Background(), l)
	if FromContext(ctx) != Logger(l) {
		t.Error("FromContext returned a different logger")
	}
	if FromContext(context.Background()) == nil {
		t.Error("FromContext on empty context returned nil")
	}
}

func TestNop(t *testing.T) {
	n := Nop()
	n.With("a", 1).Info(context.Background(), "ignored")
	n.Error(context.Background(), errors.New("x"), "ignored")
	if err := n.Sync(); err != nil {
		t.Errorf("Sync: %v", err)
	}
}
