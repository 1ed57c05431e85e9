// ABOUTME: Echo and base64 processors
// ABOUTME: Pass-through and text-to-bytes decoding of request data
package dsp

import (
	"bytes"
	"encoding/base64"
	"fmt"
)

// Echo returns its input unchanged.
func Echo(_ []byte, in Buffer) (Buffer, error) {
	return in, nil
}

// Base64Decode decodes standard base64 text into raw bytes.
func Base64Decode(_ []byte, in Buffer) (Buffer, error) {
	text := bytes.TrimSpace(in.Data)
	out := make([]byte, base64.StdEncoding.DecodedLen(len(text)))
	n, err := base64.StdEncoding.Decode(out, text)
	if err != nil {
		return Buffer{}, fmt.Errorf("%w: base64: %v", ErrInvalidInput, err)
	}
	return Buffer{Data: out[:n], Format: FormatRaw}, nil
}
