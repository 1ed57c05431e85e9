// ABOUTME: FIR low-pass filter processor
// ABOUTME: Kaiser-window designed taps applied to complex I/Q samples
package dsp

import (
	"encoding/binary"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Filter design defaults.
const (
	DefaultFIRTaps        = 57
	DefaultFIRCutoff      = 0.10
	DefaultFIRAttenuation = 60.0

	maxFIRTaps = 1024
)

// FIRParams configures the FIR filter: the sample block followed by an
// optional u32 tap count and f32 normalised cutoff (0 < cutoff < 0.5).
type FIRParams struct {
	SampleParams
	Taps   uint32
	Cutoff float32
}

// Bytes encodes the full 16-byte parameter block.
func (p FIRParams) Bytes() []byte {
	buf := p.SampleParams.Bytes()
	buf = binary.LittleEndian.AppendUint32(buf, p.Taps)
	return binary.LittleEndian.AppendUint32(buf, math.Float32bits(p.Cutoff))
}

// ParseFIRParams reads the FIR parameter block, applying defaults when the
// optional fields are absent.
func ParseFIRParams(params []byte) (FIRParams, error) {
	sp, err := ParseSampleParams(params)
	if err != nil {
		return FIRParams{}, err
	}
	p := FIRParams{SampleParams: sp, Taps: DefaultFIRTaps, Cutoff: DefaultFIRCutoff}
	if len(params) >= SampleParamsSize+8 {
		p.Taps = binary.LittleEndian.Uint32(params[8:12])
		p.Cutoff = math.Float32frombits(binary.LittleEndian.Uint32(params[12:16]))
	}
	if p.Taps == 0 || p.Taps > maxFIRTaps {
		return FIRParams{}, fmt.Errorf("%w: tap count %d out of range 1..%d", ErrInvalidParams, p.Taps, maxFIRTaps)
	}
	if !(p.Cutoff > 0 && p.Cutoff < 0.5) {
		return FIRParams{}, fmt.Errorf("%w: cutoff %v must be in (0, 0.5)", ErrInvalidParams, p.Cutoff)
	}
	return p, nil
}

// FIRFilter low-pass filters the input samples. Output length equals input
// length; the filter starts from a zeroed delay line.
func FIRFilter(params []byte, in Buffer) (Buffer, error) {
	p, err := ParseFIRParams(params)
	if err != nil {
		return Buffer{}, err
	}
	samples, err := samplesFrom(p.SampleParams, in)
	if err != nil {
		return Buffer{}, err
	}

	taps := KaiserLowPass(int(p.Taps), float64(p.Cutoff), DefaultFIRAttenuation)
	return Buffer{Data: EncodeIQ(convolve(samples, taps)), Format: FormatFloat32IQ}, nil
}

// KaiserLowPass designs a windowed-sinc low-pass filter with unit DC gain.
// cutoff is normalised to the sample rate; attenuation is the stop-band
// rejection in dB.
func KaiserLowPass(n int, cutoff, attenuation float64) []float64 {
	beta := kaiserBeta(attenuation)
	mid := float64(n-1) / 2
	h := make([]float64, n)
	for i := range h {
		t := float64(i) - mid
		h[i] = sinc(2*cutoff*t) * kaiserWindow(i, n, beta)
	}
	floats.Scale(1/floats.Sum(h), h)
	return h
}

func convolve(x []complex128, h []float64) []complex128 {
	y := make([]complex128, len(x))
	for i := range x {
		var acc complex128
		for k, tap := range h {
			if i-k < 0 {
				break
			}
			acc += complex(tap, 0) * x[i-k]
		}
		y[i] = acc
	}
	return y
}

func kaiserBeta(attenuation float64) float64 {
	switch {
	case attenuation > 50:
		return 0.1102 * (attenuation - 8.7)
	case attenuation > 21:
		return 0.5842*math.Pow(attenuation-21, 0.4) + 0.07886*(attenuation-21)
	default:
		return 0
	}
}

func kaiserWindow(i, n int, beta float64) float64 {
	if n == 1 {
		return 1
	}
	r := 2*float64(i)/float64(n-1) - 1
	return besselI0(beta*math.Sqrt(1-r*r)) / besselI0(beta)
}

// besselI0 is the zeroth-order modified Bessel function of the first kind,
// evaluated by its power series.
func besselI0(x float64) float64 {
	sum, term := 1.0, 1.0
	half := x / 2
	for k := 1; k < 64; k++ {
		term *= half / float64(k)
		sq := term * term
		sum += sq
		if sq < 1e-14*sum {
			break
		}
	}
	return sum
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	return math.Sin(math.Pi*x) / (math.Pi * x)
}
