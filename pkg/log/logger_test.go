package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func newBufLogger(buf *bytes.Buffer, f Formatter, lvl Level) Logger {
	return NewLogger(WithLevel(lvl), WithFormatter(f), WithOutput(NewWriterOutput(buf)))
}

func TestTextFormatterFieldsAndLevel(t *testing.T) {
	var buf bytes.Buffer
	l := newBufLogger(&buf, &TextFormatter{DisableTimestamp: true}, InfoLevel)
	l = l.With(Component("broadcast"))
	l.Debug("hidden")
	l.Info("subscriber registered", Str("subscriber_id", "s-1"), Int("active", 2))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug record should be filtered: %q", out)
	}
	want := "INFO  subscriber registered active=2 component=broadcast subscriber_id=s-1\n"
	if out != want {
		t.Fatalf("got %q want %q", out, want)
	}
}

func TestJSONFormatterError(t *testing.T) {
	var buf bytes.Buffer
	l := newBufLogger(&buf, &JSONFormatter{}, DebugLevel)
	l.Error("insert failed", Err(errors.New("disk full")), Float64("weight", 5.5))

	var m map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal: %v (%q)", err, buf.String())
	}
	if m["level"] != "error" || m["msg"] != "insert failed" {
		t.Fatalf("unexpected record: %v", m)
	}
	if m["error"] != "disk full" {
		t.Fatalf("error field = %v", m["error"])
	}
	if m["weight"] != 5.5 {
		t.Fatalf("weight field = %v", m["weight"])
	}
}

func TestSetLevelSharedWithChildren(t *testing.T) {
	var buf bytes.Buffer
	root := newBufLogger(&buf, &TextFormatter{DisableTimestamp: true}, ErrorLevel)
	child := root.With(Str("k", "v"))
	child.Info("before")
	root.SetLevel(DebugLevel)
	child.Info("after")
	if strings.Contains(buf.String(), "before") || !strings.Contains(buf.String(), "after") {
		t.Fatalf("unexpected output %q", buf.String())
	}
	if child.GetLevel() != DebugLevel {
		t.Fatalf("child level = %v", child.GetLevel())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", DebugLevel, false},
		{"INFO", InfoLevel, false},
		{"", InfoLevel, false},
		{"warning", WarnLevel, false},
		{"error", ErrorLevel, false},
		{"loud", InfoLevel, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Fatalf("ParseLevel(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestApplyConfig(t *testing.T) {
	if _, err := ApplyConfig(&Config{Level: "info", Format: "yaml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
	if _, err := ApplyConfig(&Config{Outputs: []string{"file"}}); err == nil {
		t.Fatal("expected error for file output without path")
	}
	l, err := ApplyConfig(&Config{Level: "warn", Format: "json", Outputs: []string{"null"}})
	if err != nil {
		t.Fatalf("ApplyConfig: %v", err)
	}
	if l.GetLevel() != WarnLevel {
		t.Fatalf("level = %v", l.GetLevel())
	}
}

func TestRedaction(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(WithFormatter(&TextFormatter{DisableTimestamp: true}), WithOutput(NewWriterOutput(&buf))).(*BaseLogger)
	h := newBridgeHandler(l).withRedactions([]string{"dsn"})
	l.slogLogger = slog.New(h)
	l.Info("store opened", Str("dsn", "postgres://u:p@h/db"))
	if !strings.Contains(buf.String(), "dsn=[REDACTED]") {
		t.Fatalf("dsn not redacted: %q", buf.String())
	}
}

func TestFatalExits(t *testing.T) {
	var code int
	orig := exit
	exit = func(c int) { code = c }
	t.Cleanup(func() { exit = orig })

	var buf bytes.Buffer
	l := newBufLogger(&buf, &TextFormatter{DisableTimestamp: true}, InfoLevel)
	l.Fatal("boom")
	if code != 1 || !strings.Contains(buf.String(), "FATAL boom") {
		t.Fatalf("code=%d out=%q", code, buf.String())
	}
}
