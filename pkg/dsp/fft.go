// ABOUTME: Forward FFT processor
// ABOUTME: Transforms complex I/Q samples into frequency-domain float32 I/Q
package dsp

import (
	"gonum.org/v1/gonum/dsp/fourier"
)

// FFT computes the forward discrete Fourier transform of the input samples.
// Params: u32 sampleRate | u32 sampleSize. The output holds one float32 I/Q
// pair per input sample.
func FFT(params []byte, in Buffer) (Buffer, error) {
	p, err := ParseSampleParams(params)
	if err != nil {
		return Buffer{}, err
	}
	samples, err := samplesFrom(p, in)
	if err != nil {
		return Buffer{}, err
	}
	if len(samples) == 0 {
		return Buffer{Data: []byte{}, Format: FormatFloat32IQ}, nil
	}

	coeffs := fourier.NewCmplxFFT(len(samples)).Coefficients(nil, samples)
	return Buffer{Data: EncodeIQ(coeffs), Format: FormatFloat32IQ}, nil
}
