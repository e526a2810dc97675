package log

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLoggerAddsComponent(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: slog.LevelDebug, Component: ComponentController, Output: &buf})
	l.Info("Expenses loaded", FieldCount, 3)
	out := buf.String()
	if !strings.Contains(out, "component=controller") || !strings.Contains(out, "count=3") {
		t.Fatalf("unexpected output: %s", out)
	}

	buf.Reset()
	l.WithComponent(ComponentStore).Debug("x")
	if !strings.Contains(buf.String(), "component=store") {
		t.Fatalf("expected store component: %s", buf.String())
	}
}

func TestFieldsBuilder(t *testing.T) {
	f := NewFields().
		WithComponent(ComponentHTTP).
		WithOperation(OpDelete).
		WithError(errors.New("boom"), ErrorTypeNetwork).
		WithExpense("7", "Other", 120)
	if f[FieldErrorType] != ErrorTypeNetwork || f[FieldExpenseID] != "7" || f[FieldAmountCents] != int64(120) {
		t.Fatalf("unexpected fields: %v", f)
	}
	if len(f.ToSlice()) != 2*len(f) {
		t.Fatalf("slice length mismatch")
	}
	if _, ok := NewFields().WithError(nil, ErrorTypeNetwork)[FieldError]; ok {
		t.Fatalf("nil error must not add fields")
	}
}

func TestRequestMiddlewareAndFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Component: ComponentApp, Output: &buf})
	h := RequestMiddleware(base, func(*http.Request) string { return "req_1" })(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		FromContext(r.Context()).Info("handled")
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !strings.Contains(buf.String(), "request_id=req_1") || !strings.Contains(buf.String(), "component=http") {
		t.Fatalf("unexpected output: %s", buf.String())
	}

	if FromContext(context.Background()).Component() != "unknown" {
		t.Fatalf("expected fallback logger")
	}
}
