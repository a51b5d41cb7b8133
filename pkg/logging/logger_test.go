package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"DEBUG", DEBUG},
		{"debug", DEBUG},
		{"warn", WARN},
		{"WARNING", WARN},
		{"error", ERROR},
		{"bogus", INFO},
		{"", INFO},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(WARN, false)
	l.SetOutput(&buf)

	l.Debug("not shown")
	l.Info("not shown either")
	l.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "not shown") {
		t.Errorf("low-level messages leaked: %q", out)
	}
	if !strings.Contains(out, "WARN: shown") {
		t.Errorf("warn message missing: %q", out)
	}
}

func TestLoggerJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(INFO, true)
	l.SetOutput(&buf)

	l.Info("run assigned", map[string]interface{}{"epochs": 10})

	var entry logEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if entry.Level != "INFO" || entry.Message != "run assigned" {
		t.Errorf("entry = %+v", entry)
	}
	if entry.Fields["epochs"] != float64(10) {
		t.Errorf("fields = %v", entry.Fields)
	}
}

func TestWithRun(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(INFO, true)
	l.SetOutput(&buf)

	l.WithRun("run-42").Info("progress")

	var entry logEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatal(err)
	}
	if entry.Fields["run_id"] != "run-42" {
		t.Errorf("run_id field missing: %v", entry.Fields)
	}

	// The parent logger is not mutated
	buf.Reset()
	l.Info("plain")
	if strings.Contains(buf.String(), "run-42") {
		t.Error("child field leaked into parent logger")
	}
}
