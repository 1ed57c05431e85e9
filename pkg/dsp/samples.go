// ABOUTME: Sample formats carried in request payloads
// ABOUTME: Converts interleaved I/Q integers and floats to complex samples and back
package dsp

import (
	"encoding/binary"
	"fmt"
	"math"
)

// SampleFormat describes how a buffer's bytes are laid out.
type SampleFormat uint8

const (
	// FormatRaw is opaque bytes; sample processors interpret it using their params.
	FormatRaw SampleFormat = iota
	// FormatInt8IQ is interleaved signed 8-bit I and Q.
	FormatInt8IQ
	// FormatInt16IQ is interleaved signed 16-bit little-endian I and Q.
	FormatInt16IQ
	// FormatFloat32IQ is interleaved float32 little-endian I and Q.
	FormatFloat32IQ
)

func (f SampleFormat) String() string {
	switch f {
	case FormatRaw:
		return "raw"
	case FormatInt8IQ:
		return "int8-iq"
	case FormatInt16IQ:
		return "int16-iq"
	case FormatFloat32IQ:
		return "float32-iq"
	default:
		return fmt.Sprintf("format(%d)", uint8(f))
	}
}

// ComponentSize returns the byte width of one I or Q component.
func (f SampleFormat) ComponentSize() int {
	switch f {
	case FormatInt8IQ:
		return 1
	case FormatInt16IQ:
		return 2
	case FormatFloat32IQ:
		return 4
	default:
		return 0
	}
}

// FormatForSize maps the sampleSize parameter to a format.
func FormatForSize(size uint32) (SampleFormat, error) {
	switch size {
	case 1:
		return FormatInt8IQ, nil
	case 2:
		return FormatInt16IQ, nil
	case 4:
		return FormatFloat32IQ, nil
	default:
		return FormatRaw, fmt.Errorf("%w: unsupported sample size %d", ErrInvalidParams, size)
	}
}

// Buffer is the data flowing between the commands of one request.
type Buffer struct {
	Data   []byte
	Format SampleFormat
}

// DecodeIQ converts interleaved I/Q bytes to complex samples. Integer formats
// are scaled to [-1, 1). A trailing partial sample is dropped.
func DecodeIQ(data []byte, f SampleFormat) ([]complex128, error) {
	size := f.ComponentSize()
	if size == 0 {
		return nil, fmt.Errorf("%w: cannot decode %s as samples", ErrInvalidParams, f)
	}

	n := len(data) / (2 * size)
	out := make([]complex128, n)
	for i := range out {
		re := component(data[2*i*size:], f)
		im := component(data[(2*i+1)*size:], f)
		out[i] = complex(re, im)
	}
	return out, nil
}

func component(b []byte, f SampleFormat) float64 {
	switch f {
	case FormatInt8IQ:
		return float64(int8(b[0])) / 128
	case FormatInt16IQ:
		return float64(int16(binary.LittleEndian.Uint16(b))) / 32768
	default:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	}
}

// EncodeIQ writes samples as interleaved float32 little-endian I/Q.
func EncodeIQ(samples []complex128) []byte {
	out := make([]byte, 0, len(samples)*8)
	for _, s := range samples {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(float32(real(s))))
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(float32(imag(s))))
	}
	return out
}

// SampleParams is the common parameter block of sample processors:
// u32 sampleRate | u32 sampleSize, little-endian.
type SampleParams struct {
	SampleRate uint32
	SampleSize uint32
}

// SampleParamsSize is the encoded size of SampleParams.
const SampleParamsSize = 8

// ParseSampleParams reads the leading sample parameter block.
func ParseSampleParams(params []byte) (SampleParams, error) {
	if len(params) < SampleParamsSize {
		return SampleParams{}, fmt.Errorf("%w: need %d bytes of sample params, have %d", ErrInvalidParams, SampleParamsSize, len(params))
	}
	return SampleParams{
		SampleRate: binary.LittleEndian.Uint32(params[0:4]),
		SampleSize: binary.LittleEndian.Uint32(params[4:8]),
	}, nil
}

// Bytes encodes the parameter block.
func (p SampleParams) Bytes() []byte {
	buf := binary.LittleEndian.AppendUint32(make([]byte, 0, SampleParamsSize), p.SampleRate)
	return binary.LittleEndian.AppendUint32(buf, p.SampleSize)
}

// samplesFrom resolves the input format (raw buffers use the declared sample
// size) and decodes the samples.
func samplesFrom(p SampleParams, in Buffer) ([]complex128, error) {
	format := in.Format
	if format == FormatRaw {
		f, err := FormatForSize(p.SampleSize)
		if err != nil {
			return nil, err
		}
		format = f
	}
	return DecodeIQ(in.Data, format)
}
