package logger

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func resetLogger() {
	SetLevel(INFO)
	SetOutput(os.Stdout)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"TRACE", TRACE},
		{"debug", DEBUG},
		{"Info", INFO},
		{"WARN", WARN},
		{"ERROR", ERROR},
		{"nonsense", INFO},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	defer resetLogger()
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(WARN)

	Info("test", "hidden")
	Warn("test", "visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("INFO message emitted below the WARN level")
	}
	if !strings.Contains(out, "visible") {
		t.Error("WARN message missing")
	}
}

func TestDebugJSON(t *testing.T) {
	defer resetLogger()
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(DEBUG)

	DebugJSON("test", "result", struct {
		Code string `json:"code"`
		Size int    `json:"size"`
	}{"OK", 512})

	out := buf.String()
	for _, want := range []string{"result:", `"code": "OK"`, `"size": 512`} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestDebugJSONFilteredOut(t *testing.T) {
	defer resetLogger()
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(INFO)

	DebugJSON("test", "result", map[string]int{"n": 1})
	if buf.Len() != 0 {
		t.Errorf("DebugJSON emitted output above the DEBUG level: %q", buf.String())
	}
}
