// ABOUTME: Loads sample files into request payloads
// ABOUTME: Decodes MP3 and FLAC audio to interleaved int16 I/Q, passes other files through raw
package samples

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/faintsignals/wsdsp/pkg/dsp"
	"github.com/hajimehoshi/go-mp3"
	"github.com/mewkiz/flac"
	"github.com/rs/zerolog/log"
)

// Kind identifies how a file is decoded.
type Kind int

const (
	KindRaw Kind = iota
	KindMP3
	KindFLAC
)

func (k Kind) String() string {
	switch k {
	case KindMP3:
		return "mp3"
	case KindFLAC:
		return "flac"
	default:
		return "raw"
	}
}

// KindForPath picks the decoder from the file extension.
func KindForPath(path string) Kind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return KindMP3
	case ".flac":
		return KindFLAC
	default:
		return KindRaw
	}
}

// Options controls loading.
type Options struct {
	// MaxSamples caps the number of I/Q samples read; 0 means no limit.
	MaxSamples int
	// RawSampleSize and RawSampleRate describe raw files. Size defaults to 1.
	RawSampleSize uint32
	RawSampleRate uint32
}

// Payload is request data plus the sample parameters describing it.
type Payload struct {
	Data       []byte
	SampleRate uint32
	SampleSize uint32
	Kind       Kind
	Title      string
}

// Samples returns the number of whole I/Q samples in the payload.
func (p *Payload) Samples() int {
	if p.SampleSize == 0 {
		return 0
	}
	return len(p.Data) / int(2*p.SampleSize)
}

// Params returns the sample parameter block for FFT and FIR commands.
func (p *Payload) Params() dsp.SampleParams {
	return dsp.SampleParams{SampleRate: p.SampleRate, SampleSize: p.SampleSize}
}

// Load reads path and converts it according to its extension.
func Load(path string, opts Options) (*Payload, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sample file: %w", err)
	}
	defer f.Close()

	kind := KindForPath(path)
	p, err := Decode(f, kind, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	p.Title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	log.Debug().
		Str("title", p.Title).
		Stringer("kind", kind).
		Uint32("sample_rate", p.SampleRate).
		Int("samples", p.Samples()).
		Msg("loaded sample file")
	return p, nil
}

// Decode converts r using the decoder for kind.
func Decode(r io.Reader, kind Kind, opts Options) (*Payload, error) {
	switch kind {
	case KindMP3:
		return decodeMP3(r, opts.MaxSamples)
	case KindFLAC:
		return decodeFLAC(r, opts.MaxSamples)
	default:
		return decodeRaw(r, opts)
	}
}

func decodeRaw(r io.Reader, opts Options) (*Payload, error) {
	size := opts.RawSampleSize
	if size == 0 {
		size = 1
	}
	if _, err := dsp.FormatForSize(size); err != nil {
		return nil, err
	}
	if opts.MaxSamples > 0 {
		r = io.LimitReader(r, int64(opts.MaxSamples)*int64(2*size))
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read raw samples: %w", err)
	}
	return &Payload{Data: data, SampleRate: opts.RawSampleRate, SampleSize: size, Kind: KindRaw}, nil
}

// decodeMP3 keeps the decoder's 16-bit stereo output as is: left is I,
// right is Q.
func decodeMP3(r io.Reader, maxSamples int) (*Payload, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode MP3: %w", err)
	}

	var src io.Reader = dec
	if maxSamples > 0 {
		src = io.LimitReader(dec, int64(maxSamples)*4)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("failed to read MP3 frames: %w", err)
	}
	data = data[:len(data)/4*4]

	return &Payload{Data: data, SampleRate: uint32(dec.SampleRate()), SampleSize: 2, Kind: KindMP3}, nil
}

func decodeFLAC(r io.Reader, maxSamples int) (*Payload, error) {
	stream, err := flac.New(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode FLAC: %w", err)
	}

	info := stream.Info
	if info.NChannels == 0 {
		return nil, errors.New("FLAC stream has no channels")
	}
	shift := int(info.BitsPerSample) - 16

	var buf bytes.Buffer
	written := 0
	for maxSamples <= 0 || written < maxSamples {
		frame, err := stream.ParseNext()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse FLAC frame: %w", err)
		}

		channels := make([][]int32, 0, 2)
		for ch := 0; ch < len(frame.Subframes) && ch < 2; ch++ {
			channels = append(channels, frame.Subframes[ch].Samples)
		}
		n := int(frame.BlockSize)
		if maxSamples > 0 && written+n > maxSamples {
			n = maxSamples - written
		}
		buf.Write(interleaveIQ(channels, n, shift))
		written += n
	}

	return &Payload{Data: buf.Bytes(), SampleRate: info.SampleRate, SampleSize: 2, Kind: KindFLAC}, nil
}

// interleaveIQ packs n frames of up to two channels as int16 LE I/Q,
// rescaling by shift bits. A mono channel gets Q = 0.
func interleaveIQ(channels [][]int32, n, shift int) []byte {
	out := make([]byte, 0, n*4)
	for i := 0; i < n; i++ {
		var iq [2]int16
		for ch := range channels {
			if i < len(channels[ch]) {
				iq[ch] = to16(channels[ch][i], shift)
			}
		}
		out = binary.LittleEndian.AppendUint16(out, uint16(iq[0]))
		out = binary.LittleEndian.AppendUint16(out, uint16(iq[1]))
	}
	return out
}

func to16(s int32, shift int) int16 {
	if shift > 0 {
		s >>= shift
	} else if shift < 0 {
		s <<= -shift
	}
	return int16(s)
}
