// ABOUTME: Command sub-encoding of the binary envelope
// ABOUTME: A named remote operation and its parameter bytes
package protocol

import (
	"encoding/binary"
	"fmt"
)

// Operation identifies a remote procedure. Zero is reserved.
type Operation uint32

const (
	OpEcho         Operation = 1
	OpFFT          Operation = 2
	OpFIRFilter    Operation = 3
	OpBase64Decode Operation = 4
)

// CommandHeaderSize is the fixed part of an encoded command (operation + params length).
const CommandHeaderSize = 4 + 4

var opNames = map[Operation]string{
	OpEcho:         "echo",
	OpFFT:          "fft",
	OpFIRFilter:    "firfilt",
	OpBase64Decode: "base64",
}

func (o Operation) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return fmt.Sprintf("op(%d)", uint32(o))
}

// ParseOperation maps a name produced by Operation.String back to its code.
func ParseOperation(name string) (Operation, bool) {
	for op, n := range opNames {
		if n == name {
			return op, true
		}
	}
	return 0, false
}

// Command is one step of a request. Params is nil when the command carries
// no parameters.
type Command struct {
	Operation Operation
	Params    []byte
}

// NewCommand validates the operation and the declared parameter length.
func NewCommand(op Operation, paramsLen uint32, params []byte) (Command, error) {
	if op == 0 {
		return Command{}, invalidArg("operation is required")
	}
	if paramsLen > 0 && params == nil {
		return Command{}, invalidArg("params required for paramsLen=%d", paramsLen)
	}
	if uint64(len(params)) != uint64(paramsLen) {
		return Command{}, invalidArg("paramsLen=%d but got %d param bytes", paramsLen, len(params))
	}
	if paramsLen == 0 {
		params = nil
	}
	return Command{Operation: op, Params: params}, nil
}

// ParamsLen returns the encoded parameter length.
func (c Command) ParamsLen() uint32 {
	return uint32(len(c.Params))
}

// Size returns the number of bytes MarshalBinary produces.
func (c Command) Size() int {
	return CommandHeaderSize + len(c.Params)
}

// MarshalBinary encodes u32 operation | u32 paramsLength | params, little-endian.
func (c Command) MarshalBinary() ([]byte, error) {
	if c.Operation == 0 {
		return nil, invalidArg("operation is required")
	}
	return c.appendTo(make([]byte, 0, c.Size())), nil
}

func (c Command) appendTo(buf []byte) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(c.Operation))
	buf = binary.LittleEndian.AppendUint32(buf, c.ParamsLen())
	return append(buf, c.Params...)
}

// ParseCommand decodes a command starting at offset 0 of b. Bytes after the
// command are ignored; use Size to advance past it.
func ParseCommand(b []byte) (Command, error) {
	if len(b) < CommandHeaderSize {
		return Command{}, malformed("command header needs %d bytes, have %d", CommandHeaderSize, len(b))
	}
	op := Operation(binary.LittleEndian.Uint32(b[0:4]))
	if op == 0 {
		return Command{}, malformed("command operation is zero")
	}
	paramsLen := binary.LittleEndian.Uint32(b[4:8])
	if uint64(paramsLen) > uint64(len(b)-CommandHeaderSize) {
		return Command{}, malformed("command params length %d exceeds %d remaining bytes", paramsLen, len(b)-CommandHeaderSize)
	}

	cmd := Command{Operation: op}
	if paramsLen > 0 {
		cmd.Params = make([]byte, paramsLen)
		copy(cmd.Params, b[CommandHeaderSize:CommandHeaderSize+int(paramsLen)])
	}
	return cmd, nil
}
