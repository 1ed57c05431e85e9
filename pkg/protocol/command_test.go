// ABOUTME: Tests for the command sub-encoding
// ABOUTME: Covers construction rules, layout and parse failures
package protocol

import (
	"errors"
	"testing"
)

func TestNewCommand(t *testing.T) {
	tests := []struct {
		name      string
		op        Operation
		paramsLen uint32
		params    []byte
		wantErr   bool
	}{
		{name: "echo without params", op: OpEcho, paramsLen: 0},
		{name: "fft with params", op: OpFFT, paramsLen: 8, params: make([]byte, 8)},
		{name: "zero operation", op: 0, paramsLen: 0, wantErr: true},
		{name: "missing params", op: OpFFT, paramsLen: 8, wantErr: true},
		{name: "length mismatch", op: OpFFT, paramsLen: 4, params: make([]byte, 8), wantErr: true},
		{name: "params without length", op: OpEcho, paramsLen: 0, params: []byte{1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := NewCommand(tt.op, tt.paramsLen, tt.params)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidArgument) {
					t.Fatalf("expected ErrInvalidArgument, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cmd.ParamsLen() != tt.paramsLen {
				t.Errorf("expected params length %d, got %d", tt.paramsLen, cmd.ParamsLen())
			}
		})
	}
}

func TestNewCommandNormalisesEmptyParams(t *testing.T) {
	cmd, err := NewCommand(OpEcho, 0, []byte{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.Params != nil {
		t.Errorf("expected nil params, got %v", cmd.Params)
	}
}

func TestCommandMarshalLayout(t *testing.T) {
	cmd, err := NewCommand(OpFFT, 3, []byte{0xAA, 0xBB, 0xCC})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := cmd.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	want := []byte{
		0x02, 0x00, 0x00, 0x00,
		0x03, 0x00, 0x00, 0x00,
		0xAA, 0xBB, 0xCC,
	}
	if string(got) != string(want) {
		t.Errorf("expected % X, got % X", want, got)
	}
	if cmd.Size() != len(want) {
		t.Errorf("expected size %d, got %d", len(want), cmd.Size())
	}
}

func TestCommandRoundTrip(t *testing.T) {
	for _, params := range [][]byte{nil, {1}, {1, 2, 3, 4, 5, 6, 7, 8, 9}} {
		cmd, err := NewCommand(OpFIRFilter, uint32(len(params)), params)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		data, err := cmd.MarshalBinary()
		if err != nil {
			t.Fatalf("marshal failed: %v", err)
		}
		parsed, err := ParseCommand(data)
		if err != nil {
			t.Fatalf("parse failed: %v", err)
		}
		if parsed.Operation != cmd.Operation || string(parsed.Params) != string(cmd.Params) {
			t.Errorf("round trip mismatch: %+v != %+v", parsed, cmd)
		}
		if (parsed.Params == nil) != (cmd.Params == nil) {
			t.Errorf("params presence changed: %v vs %v", parsed.Params, cmd.Params)
		}
	}
}

func TestParseCommandMalformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "short header", data: []byte{1, 0, 0, 0, 0, 0}},
		{name: "params overrun", data: []byte{1, 0, 0, 0, 4, 0, 0, 0, 0xFF}},
		{name: "zero operation", data: []byte{0, 0, 0, 0, 0, 0, 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseCommand(tt.data); !errors.Is(err, ErrMalformedFrame) {
				t.Errorf("expected ErrMalformedFrame, got %v", err)
			}
		})
	}
}

func TestParseCommandIgnoresTrailingBytes(t *testing.T) {
	data := []byte{1, 0, 0, 0, 1, 0, 0, 0, 0x7F, 0xEE, 0xEE}
	cmd, err := ParseCommand(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.Size() != 9 {
		t.Errorf("expected size 9, got %d", cmd.Size())
	}
}

func TestOperationNames(t *testing.T) {
	for _, op := range []Operation{OpEcho, OpFFT, OpFIRFilter, OpBase64Decode} {
		parsed, ok := ParseOperation(op.String())
		if !ok || parsed != op {
			t.Errorf("ParseOperation(%q) = %v, %v", op.String(), parsed, ok)
		}
	}
	if got := Operation(99).String(); got != "op(99)" {
		t.Errorf("unexpected name for unknown op: %s", got)
	}
}
