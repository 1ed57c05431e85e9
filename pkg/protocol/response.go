// ABOUTME: Binary response frame of the wsdsp protocol
// ABOUTME: Fixed 9-byte header (version, id, data length) followed by data
package protocol

import "encoding/binary"

// ResponseHeaderSize is the fixed header of a server-to-client binary frame.
const ResponseHeaderSize = versionSize + idSize + lengthSize // 9 bytes

// Response is a binary reply: version, correlation id and result data.
type Response struct {
	Version uint8
	ID      uint32
	Data    []byte
}

// MarshalBinary encodes u8 version | u32 id | u32 dataLength | data.
func (r Response) MarshalBinary() ([]byte, error) {
	buf := make([]byte, ResponseHeaderSize, ResponseHeaderSize+len(r.Data))
	buf[0] = r.Version
	binary.LittleEndian.PutUint32(buf[1:5], r.ID)
	binary.LittleEndian.PutUint32(buf[5:9], uint32(len(r.Data)))
	return append(buf, r.Data...), nil
}

// ParseResponse decodes a binary reply. Bytes beyond the declared data length
// are ignored.
func ParseResponse(b []byte) (Response, error) {
	if len(b) < ResponseHeaderSize {
		return Response{}, malformed("response header needs %d bytes, have %d", ResponseHeaderSize, len(b))
	}
	r := Response{
		Version: b[0],
		ID:      binary.LittleEndian.Uint32(b[1:5]),
	}
	dataLen := binary.LittleEndian.Uint32(b[5:9])
	if uint64(dataLen) > uint64(len(b)-ResponseHeaderSize) {
		return Response{ID: r.ID}, malformed("response data length %d exceeds %d available bytes", dataLen, len(b)-ResponseHeaderSize)
	}
	r.Data = make([]byte, dataLen)
	copy(r.Data, b[ResponseHeaderSize:ResponseHeaderSize+int(dataLen)])
	return r, nil
}
