package logger

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/goccy/go-json"
)

func TestNewNestsAttributesUnderData(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, Config{Level: "info", Service: "api-service", Env: "test"})

	l.Info("hello", "code", "Ab3dE9")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not JSON: %v\n%s", err, buf.String())
	}
	if line["msg"] != "hello" {
		t.Errorf("msg = %v, want hello", line["msg"])
	}
	if _, ok := line["code"]; ok {
		t.Error("attribute leaked to the root object")
	}
	data, ok := line["data"].(map[string]any)
	if !ok {
		t.Fatalf("missing data group: %v", line)
	}
	for key, want := range map[string]string{"service": "api-service", "env": "test", "code": "Ab3dE9"} {
		if data[key] != want {
			t.Errorf("data[%q] = %v, want %q", key, data[key], want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{" WARN ", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestFromContextAddsRequestID(t *testing.T) {
	var buf bytes.Buffer
	base := New(&buf, Config{Service: "svc"})

	ctx := IntoContext(context.Background(), base)
	ctx = WithRequestID(ctx, "req-42")

	if got := RequestID(ctx); got != "req-42" {
		t.Fatalf("RequestID = %q", got)
	}

	FromContext(ctx).Info("with id")

	var line struct {
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if line.Data["request_id"] != "req-42" {
		t.Errorf("request_id = %v", line.Data["request_id"])
	}
}

func TestFromContextNil(t *testing.T) {
	if FromContext(nil) == nil {
		t.Fatal("FromContext(nil) returned nil")
	}
}

func TestNewKeepsItsOwnLevel(t *testing.T) {
	var quiet, verbose bytes.Buffer
	q := New(&quiet, Config{Level: "error"})
	v := New(&verbose, Config{Level: "debug"})
	SetLevel("error")
	defer SetLevel("info")

	q.Info("dropped")
	v.Debug("kept")

	if quiet.Len() != 0 {
		t.Errorf("error-level logger wrote info: %s", quiet.String())
	}
	if verbose.Len() == 0 {
		t.Error("debug logger lost its level to a later New or SetLevel")
	}
}
