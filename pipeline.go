// ABOUTME: Request building and reply formatting for dspctl
// ABOUTME: Turns -op pipelines into commands and prints binary or text replies
package main

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/faintsignals/wsdsp/pkg/dsp"
	"github.com/faintsignals/wsdsp/internal/samples"
	"github.com/faintsignals/wsdsp/pkg/protocol"
)

type pipelineOptions struct {
	Taps   uint32
	Cutoff float32
}

var opAliases = map[string]string{
	"fir": "firfilt",
	"b64": "base64",
}

// buildPipeline parses a comma-separated list of operation names into
// commands. Sample processors get parameters describing the payload.
func buildPipeline(list string, payload *samples.Payload, opts pipelineOptions) ([]protocol.Command, error) {
	params := payload.Params()
	commands := []protocol.Command{}

	for _, name := range strings.Split(list, ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		if alias, ok := opAliases[name]; ok {
			name = alias
		}
		op, ok := protocol.ParseOperation(name)
		if !ok {
			return nil, fmt.Errorf("unknown operation %q", name)
		}

		var raw []byte
		switch op {
		case protocol.OpFFT:
			raw = params.Bytes()
		case protocol.OpFIRFilter:
			fp := dsp.FIRParams{SampleParams: params, Taps: opts.Taps, Cutoff: opts.Cutoff}
			if fp.Taps == 0 {
				fp.Taps = dsp.DefaultFIRTaps
			}
			if fp.Cutoff == 0 {
				fp.Cutoff = dsp.DefaultFIRCutoff
			}
			raw = fp.Bytes()
		}

		cmd, err := protocol.NewCommand(op, uint32(len(raw)), raw)
		if err != nil {
			return nil, err
		}
		commands = append(commands, cmd)
	}
	return commands, nil
}

// binaryOutput reports whether the pipeline ends in a sample processor,
// whose output is float32 I/Q.
func binaryOutput(commands []protocol.Command) bool {
	if len(commands) == 0 {
		return false
	}
	switch commands[len(commands)-1].Operation {
	case protocol.OpFFT, protocol.OpFIRFilter:
		return true
	}
	return false
}

func formatReply(r protocol.Reply, samplesOut bool, show int, rtt time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "reply id=%d bytes=%d in %s\n", r.ID, len(r.Data), rtt.Round(time.Microsecond))

	if !samplesOut {
		if utf8.Valid(r.Data) {
			fmt.Fprintf(&b, "%s\n", r.Data)
		} else {
			b.WriteString(hex.Dump(r.Data))
		}
		return b.String()
	}

	iq, err := dsp.DecodeIQ(r.Data, dsp.FormatFloat32IQ)
	if err != nil {
		fmt.Fprintf(&b, "undecodable samples: %v\n", err)
		return b.String()
	}
	fmt.Fprintf(&b, "%d samples\n", len(iq))
	for i := 0; i < len(iq) && i < show; i++ {
		fmt.Fprintf(&b, "%6d  % .6f % .6fi\n", i, real(iq[i]), imag(iq[i]))
	}
	return b.String()
}

func formatStats(st protocol.StatsPayload, final bool) string {
	marker := ""
	if final {
		marker = " (final)"
	}
	return fmt.Sprintf("#%d sessions=%d requests=%d errors=%d uptime=%s%s",
		st.Sequence, st.Sessions, st.Requests, st.Errors,
		(time.Duration(st.UptimeMs) * time.Millisecond).Round(time.Second), marker)
}
