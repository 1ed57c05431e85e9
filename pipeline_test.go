// ABOUTME: Tests for dspctl request building and output
// ABOUTME: Pipeline parsing, parameter blocks and reply formatting
package main

import (
	"strings"
	"testing"
	"time"

	"github.com/faintsignals/wsdsp/pkg/dsp"
	"github.com/faintsignals/wsdsp/internal/samples"
	"github.com/faintsignals/wsdsp/pkg/protocol"
)

func TestBuildPipeline(t *testing.T) {
	payload := &samples.Payload{SampleRate: 48000, SampleSize: 2}

	commands, err := buildPipeline("base64, fft ,fir,echo", payload, pipelineOptions{Taps: 31})
	if err != nil {
		t.Fatalf("buildPipeline failed: %v", err)
	}

	want := []protocol.Operation{protocol.OpBase64Decode, protocol.OpFFT, protocol.OpFIRFilter, protocol.OpEcho}
	if len(commands) != len(want) {
		t.Fatalf("expected %d commands, got %d", len(want), len(commands))
	}
	for i, op := range want {
		if commands[i].Operation != op {
			t.Errorf("command %d: expected %s, got %s", i, op, commands[i].Operation)
		}
	}

	if commands[0].Params != nil || commands[3].Params != nil {
		t.Error("echo and base64 take no params")
	}

	sp, err := dsp.ParseSampleParams(commands[1].Params)
	if err != nil {
		t.Fatalf("fft params: %v", err)
	}
	if sp.SampleRate != 48000 || sp.SampleSize != 2 {
		t.Errorf("unexpected fft params: %+v", sp)
	}

	fp, err := dsp.ParseFIRParams(commands[2].Params)
	if err != nil {
		t.Fatalf("fir params: %v", err)
	}
	if fp.Taps != 31 || fp.Cutoff != dsp.DefaultFIRCutoff {
		t.Errorf("unexpected fir params: %+v", fp)
	}
}

func TestBuildPipelineUnknown(t *testing.T) {
	if _, err := buildPipeline("fft,reverb", &samples.Payload{SampleSize: 1}, pipelineOptions{}); err == nil {
		t.Fatal("expected error for unknown operation")
	}
}

func TestBinaryOutput(t *testing.T) {
	tests := []struct {
		name string
		ops  []protocol.Operation
		want bool
	}{
		{"empty", nil, false},
		{"ends with fft", []protocol.Operation{protocol.OpBase64Decode, protocol.OpFFT}, true},
		{"ends with echo", []protocol.Operation{protocol.OpFFT, protocol.OpEcho}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var commands []protocol.Command
			for _, op := range tt.ops {
				commands = append(commands, protocol.Command{Operation: op})
			}
			if got := binaryOutput(commands); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestFormatReply(t *testing.T) {
	text := formatReply(protocol.Reply{ID: 7, Data: []byte("hello")}, false, 4, time.Millisecond)
	if !strings.Contains(text, "reply id=7 bytes=5") || !strings.Contains(text, "hello") {
		t.Errorf("unexpected text output: %q", text)
	}

	binary := formatReply(protocol.Reply{ID: 8, Data: []byte{0xff, 0xfe}}, false, 4, time.Millisecond)
	if !strings.Contains(binary, "ff fe") {
		t.Errorf("expected hex dump: %q", binary)
	}

	iq := dsp.EncodeIQ([]complex128{complex(1, -1), 2, 3})
	out := formatReply(protocol.Reply{ID: 9, Data: iq}, true, 2, time.Millisecond)
	if !strings.Contains(out, "3 samples") {
		t.Errorf("expected sample count: %q", out)
	}
	if got := strings.Count(out, "i\n"); got != 2 {
		t.Errorf("expected 2 printed samples, got %d in %q", got, out)
	}
}

func TestFormatStats(t *testing.T) {
	line := formatStats(protocol.StatsPayload{Sequence: 2, Sessions: 1, Requests: 10, UptimeMs: 61000}, true)
	for _, want := range []string{"#2", "sessions=1", "requests=10", "uptime=1m1s", "(final)"} {
		if !strings.Contains(line, want) {
			t.Errorf("expected %q in %q", want, line)
		}
	}
}
