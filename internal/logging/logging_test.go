package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLogger_JSONCarriesAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "info", FormatJSON)
	WithFrame(WithInspectionID(logger, "insp-1"), "frame-7", 7).Info("analyzed")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("not json: %v: %s", err, buf.String())
	}
	if rec["inspection_id"] != "insp-1" || rec["frame_id"] != "frame-7" || rec["frame_number"] != float64(7) {
		t.Errorf("record = %v", rec)
	}
}

func TestNewLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", FormatText)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info line written at warn level")
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("warn line missing: %q", out)
	}
}

func TestSanitizeToken(t *testing.T) {
	if got := SanitizeToken("short"); got != "****" {
		t.Errorf("short token = %q", got)
	}
	if got := SanitizeToken("abcdefghijklmnop"); got != "abcd...mnop" {
		t.Errorf("long token = %q", got)
	}
}

func TestSanitizeDSN(t *testing.T) {
	tests := []struct{ in, want string }{
		{"postgres://inspect:s3cret@db:5432/inspect", "postgres://inspect:****@db:5432/inspect"},
		{"postgres://db:5432/inspect", "postgres://db:5432/inspect"},
		{"/var/lib/inspect.db", "/var/lib/inspect.db"},
	}
	for _, tt := range tests {
		if got := SanitizeDSN(tt.in); got != tt.want {
			t.Errorf("SanitizeDSN(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
