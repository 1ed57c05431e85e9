// ABOUTME: Transport contract consumed by the correlator
// ABOUTME: Frames, frame kinds and per-send options
package protocol

// FrameKind distinguishes text frames from binary frames at delivery time.
type FrameKind uint8

const (
	TextFrame FrameKind = iota + 1
	BinaryFrame
)

func (k FrameKind) String() string {
	switch k {
	case TextFrame:
		return "text"
	case BinaryFrame:
		return "binary"
	default:
		return "unknown"
	}
}

// Frame is one discrete message delivered by a transport.
type Frame struct {
	Kind FrameKind
	Data []byte
}

// SendOptions carries transport-specific settings for a single write.
type SendOptions struct {
	// Compress requests per-message compression when the transport negotiated it.
	Compress bool
}

// Transport writes frames to the remote peer. Implementations must be safe
// for concurrent use.
type Transport interface {
	WriteFrame(f Frame, opts SendOptions) error
}

// FrameSink receives inbound frames and channel errors from a transport.
// *Client implements it.
type FrameSink interface {
	OnFrame(f Frame)
	OnError(err error)
}
