// ABOUTME: Tests for logger configuration
// ABOUTME: Level parsing, profile defaults and environment overrides
package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		raw    string
		want   zerolog.Level
		wantOK bool
	}{
		{"debug", zerolog.DebugLevel, true},
		{" WARN ", zerolog.WarnLevel, true},
		{"warning", zerolog.WarnLevel, true},
		{"off", zerolog.Disabled, true},
		{"trace", zerolog.TraceLevel, true},
		{"", zerolog.InfoLevel, false},
		{"loud", zerolog.InfoLevel, false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := ParseLevel(tt.raw)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParseLevel(%q) = %v, %v; want %v, %v", tt.raw, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	rt := DefaultConfig(ProfileRuntime)
	if rt.Level != zerolog.InfoLevel || !rt.Timestamp {
		t.Errorf("unexpected runtime defaults: %+v", rt)
	}
	tc := DefaultConfig(ProfileTest)
	if tc.Level != zerolog.DebugLevel || tc.Timestamp {
		t.Errorf("unexpected test defaults: %+v", tc)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvLogNoColor, "true")
	t.Setenv(EnvLogTimestamp, "not-a-bool")

	cfg := DefaultConfig(ProfileRuntime)
	ApplyEnv(&cfg)

	if cfg.Level != zerolog.ErrorLevel {
		t.Errorf("expected error level, got %v", cfg.Level)
	}
	if !cfg.NoColor {
		t.Error("expected NoColor from env")
	}
	if !cfg.Timestamp {
		t.Error("invalid bool should leave timestamp unchanged")
	}
}

func TestNewWritesConsoleLines(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{App: "wsdsp-test", Level: zerolog.InfoLevel, NoColor: true, Out: &buf})

	logger.Debug().Msg("hidden")
	logger.Info().Uint32("id", 42).Msg("request done")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug line should be filtered: %q", out)
	}
	for _, want := range []string{"request done", "id=42", "app=wsdsp-test"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output %q", want, out)
		}
	}
}
