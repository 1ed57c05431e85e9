// ABOUTME: Binary request envelope of the wsdsp protocol
// ABOUTME: Version, correlation id, ordered commands and an opaque data payload
package protocol

import (
	"encoding/binary"
	"math"
)

// DefaultVersion is the envelope version written by this package.
const DefaultVersion uint8 = 1

// Fixed field widths of the envelope.
const (
	versionSize = 1
	idSize      = 4
	countSize   = 4
	lengthSize  = 4

	// MessageHeaderSize covers version, id and command count.
	MessageHeaderSize = versionSize + idSize + countSize
)

// Message is the envelope carried in a binary request frame.
type Message struct {
	Version  uint8
	ID       uint32
	Commands []Command
	Data     []byte
}

// NewMessage validates and builds an envelope. commands and data may be
// empty but must not be nil.
func NewMessage(version uint8, id uint32, commands []Command, data []byte) (*Message, error) {
	if id == 0 {
		return nil, invalidArg("id is required")
	}
	if commands == nil {
		return nil, invalidArg("commands is required")
	}
	if data == nil {
		return nil, invalidArg("data is required")
	}
	for i, cmd := range commands {
		if cmd.Operation == 0 {
			return nil, invalidArg("commands[%d] has no operation", i)
		}
	}
	return &Message{
		Version:  version,
		ID:       id,
		Commands: commands,
		Data:     data,
	}, nil
}

// Size returns the exact encoded length: 1 + 4 + 4 + Σ commands + 4 + len(data).
func (m *Message) Size() int {
	n := MessageHeaderSize + lengthSize + len(m.Data)
	for _, cmd := range m.Commands {
		n += cmd.Size()
	}
	return n
}

// MarshalBinary encodes the envelope, little-endian, without padding.
func (m *Message) MarshalBinary() ([]byte, error) {
	if m == nil {
		return nil, invalidArg("message is nil")
	}
	if uint64(len(m.Commands)) > math.MaxUint32 || uint64(len(m.Data)) > math.MaxUint32 {
		return nil, invalidArg("message exceeds 32-bit length fields")
	}

	buf := make([]byte, 0, m.Size())
	buf = append(buf, m.Version)
	buf = binary.LittleEndian.AppendUint32(buf, m.ID)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(m.Commands)))
	for i, cmd := range m.Commands {
		if cmd.Operation == 0 {
			return nil, invalidArg("commands[%d] has no operation", i)
		}
		buf = cmd.appendTo(buf)
	}
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(m.Data)))
	buf = append(buf, m.Data...)
	return buf, nil
}

// ParseMessage decodes an envelope. The returned message always has non-nil
// Commands and Data.
func ParseMessage(b []byte) (*Message, error) {
	if len(b) < MessageHeaderSize {
		return nil, malformed("envelope header needs %d bytes, have %d", MessageHeaderSize, len(b))
	}

	m := &Message{
		Version: b[0],
		ID:      binary.LittleEndian.Uint32(b[1:5]),
	}
	count := binary.LittleEndian.Uint32(b[5:9])
	off := MessageHeaderSize

	// Every command occupies at least its header, so an impossible count is
	// rejected before allocating for it.
	if uint64(count)*CommandHeaderSize > uint64(len(b)-off) {
		return nil, malformed("command count %d does not fit in %d bytes", count, len(b)-off)
	}

	m.Commands = make([]Command, 0, count)
	for i := uint32(0); i < count; i++ {
		cmd, err := ParseCommand(b[off:])
		if err != nil {
			return nil, err
		}
		m.Commands = append(m.Commands, cmd)
		off += cmd.Size()
	}

	if len(b)-off < lengthSize {
		return nil, malformed("data length field truncated at offset %d", off)
	}
	dataLen := binary.LittleEndian.Uint32(b[off : off+lengthSize])
	off += lengthSize
	if uint64(dataLen) > uint64(len(b)-off) {
		return nil, malformed("data length %d exceeds %d remaining bytes", dataLen, len(b)-off)
	}

	m.Data = make([]byte, dataLen)
	copy(m.Data, b[off:off+int(dataLen)])
	return m, nil
}
