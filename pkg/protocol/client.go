// ABOUTME: Client-side correlator for the wsdsp protocol
// ABOUTME: Sends text and binary requests and routes replies to registered handlers
package protocol

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// maxIDDraws bounds the number of random draws made when looking for a free
// correlation id.
const maxIDDraws = 64

// Correlation selects when a pending entry is retired.
type Correlation uint8

const (
	// OneShot entries are evicted by the first matching reply.
	OneShot Correlation = iota + 1
	// Streaming entries stay registered until a reply marked final arrives.
	Streaming
)

func (c Correlation) String() string {
	switch c {
	case OneShot:
		return "one-shot"
	case Streaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// Reply is delivered to a Handler for every correlated inbound frame. Text
// replies carry the whole JSON document in Data.
type Reply struct {
	Kind    FrameKind
	Version uint8 // binary replies only
	ID      uint32
	Data    []byte
	Final   bool // text replies only
}

// Decode unmarshals the JSON document of a text reply into v.
func (r Reply) Decode(v any) error {
	if r.Kind != TextFrame {
		return invalidArg("reply %d is %s, not a text document", r.ID, r.Kind)
	}
	return json.Unmarshal(r.Data, v)
}

// Err returns a *RemoteError when a text reply carries an "error" field.
func (r Reply) Err() error {
	if r.Kind != TextFrame {
		return nil
	}
	var doc struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(r.Data, &doc); err != nil || doc.Error == "" {
		return nil
	}
	return &RemoteError{ID: r.ID, Message: doc.Error}
}

// RemoteError is an error reported by the peer in a text reply.
type RemoteError struct {
	ID      uint32
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error (id=%d): %s", e.ID, e.Message)
}

// Handler receives the replies correlated to one request.
type Handler interface {
	HandleReply(Reply)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(Reply)

func (f HandlerFunc) HandleReply(r Reply) { f(r) }

// Ticket identifies one registration in the pending table. A ticket only
// matches the entry it was issued for, even if the id is later reused.
type Ticket struct {
	ID  uint32
	gen uint64
}

type sendConfig struct {
	mode Correlation
	opts SendOptions
}

// SendOption customises a single Send or SendBinary call.
type SendOption func(*sendConfig)

// WithCorrelation overrides the default correlation mode of a send.
func WithCorrelation(mode Correlation) SendOption {
	return func(sc *sendConfig) {
		sc.mode = mode
	}
}

// WithCompression asks the transport to compress the frame.
func WithCompression() SendOption {
	return func(sc *sendConfig) {
		sc.opts.Compress = true
	}
}

func newSendConfig(mode Correlation, opts []SendOption) sendConfig {
	sc := sendConfig{mode: mode}
	for _, opt := range opts {
		opt(&sc)
	}
	if sc.mode != OneShot && sc.mode != Streaming {
		sc.mode = mode
	}
	return sc
}

// ClientConfig holds the optional collaborators of a Client.
type ClientConfig struct {
	// Logger receives dispatch diagnostics. Defaults to the global zerolog logger.
	Logger *zerolog.Logger

	// OnError is the caller's diagnostic channel for malformed frames,
	// unsolicited replies and transport errors.
	OnError func(error)

	// Rand draws candidate correlation ids. Defaults to math/rand/v2.
	Rand func() uint32
}

type entry struct {
	mode    Correlation
	handler Handler
	gen     uint64
}

// Client correlates requests written to a Transport with the replies the
// transport delivers through OnFrame.
type Client struct {
	transport Transport
	logger    zerolog.Logger
	onError   func(error)
	rand      func() uint32

	mu      sync.Mutex
	pending map[uint32]*entry
	gen     uint64
}

// NewClient creates a correlator writing to t.
func NewClient(t Transport, cfg ClientConfig) (*Client, error) {
	if t == nil {
		return nil, invalidArg("transport is required")
	}

	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	draw := cfg.Rand
	if draw == nil {
		draw = rand.Uint32
	}

	return &Client{
		transport: t,
		logger:    logger.With().Str("component", "correlator").Logger(),
		onError:   cfg.OnError,
		rand:      draw,
		pending:   make(map[uint32]*entry),
	}, nil
}

// Send wraps payload in a {id, message} text envelope and registers h for
// the replies. The id is drawn at random among ids not currently
// outstanding. Text requests default to Streaming correlation.
func (c *Client) Send(payload any, h Handler, opts ...SendOption) (Ticket, error) {
	if payload == nil {
		return Ticket{}, invalidArg("payload is required")
	}
	if isNilHandler(h) {
		return Ticket{}, invalidArg("handler is required")
	}
	sc := newSendConfig(Streaming, opts)

	c.mu.Lock()
	id, err := c.freeIDLocked()
	if err != nil {
		c.mu.Unlock()
		return Ticket{}, err
	}
	t := c.registerLocked(id, sc.mode, h)
	c.mu.Unlock()

	data, err := json.Marshal(TextRequest{ID: id, Message: payload})
	if err != nil {
		c.Cancel(t)
		return Ticket{}, fmt.Errorf("%w: encode payload: %v", ErrInvalidArgument, err)
	}

	if err := c.transport.WriteFrame(Frame{Kind: TextFrame, Data: data}, sc.opts); err != nil {
		c.Cancel(t)
		return Ticket{}, fmt.Errorf("send text request %d: %w", id, err)
	}

	c.logger.Debug().Uint32("id", id).Str("mode", sc.mode.String()).Msg("text request sent")
	return t, nil
}

// SendBinary serialises m and registers h under m.ID. The caller chooses
// the id; an id that is still outstanding is rejected with ErrIDInUse.
// Binary requests default to OneShot correlation.
func (c *Client) SendBinary(m *Message, h Handler, opts ...SendOption) (Ticket, error) {
	if m == nil {
		return Ticket{}, invalidArg("message is required")
	}
	if isNilHandler(h) {
		return Ticket{}, invalidArg("handler is required")
	}
	if m.ID == 0 {
		return Ticket{}, invalidArg("message id is required")
	}
	data, err := m.MarshalBinary()
	if err != nil {
		return Ticket{}, err
	}
	sc := newSendConfig(OneShot, opts)

	c.mu.Lock()
	if _, busy := c.pending[m.ID]; busy {
		c.mu.Unlock()
		return Ticket{}, fmt.Errorf("%w: %d", ErrIDInUse, m.ID)
	}
	t := c.registerLocked(m.ID, sc.mode, h)
	c.mu.Unlock()

	if err := c.transport.WriteFrame(Frame{Kind: BinaryFrame, Data: data}, sc.opts); err != nil {
		c.Cancel(t)
		return Ticket{}, fmt.Errorf("send binary request %d: %w", m.ID, err)
	}

	c.logger.Debug().
		Uint32("id", m.ID).
		Int("commands", len(m.Commands)).
		Int("bytes", len(data)).
		Msg("binary request sent")
	return t, nil
}

// NewID returns a non-zero id that is not currently outstanding. The id is
// not reserved; pass it to SendBinary promptly.
func (c *Client) NewID() (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.freeIDLocked()
}

// Cancel evicts the entry registered for t without invoking its handler.
// It reports whether an entry was removed.
func (c *Client) Cancel(t Ticket) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.pending[t.ID]
	if !ok || e.gen != t.gen {
		return false
	}
	delete(c.pending, t.ID)
	return true
}

// Outstanding returns the number of registered requests.
func (c *Client) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// IsPending reports whether id has a live entry.
func (c *Client) IsPending(id uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[id]
	return ok
}

// OnFrame dispatches one inbound frame. Problems with the frame are reported
// to the diagnostic channel and never affect other pending entries.
func (c *Client) OnFrame(f Frame) {
	switch f.Kind {
	case BinaryFrame:
		c.onBinary(f.Data)
	case TextFrame:
		c.onText(f.Data)
	default:
		c.report(&FrameError{Kind: ErrMalformedFrame, Frame: f.Kind, Err: fmt.Errorf("unsupported frame kind %d", f.Kind)})
	}
}

// OnError surfaces a transport error. Pending entries are left untouched.
func (c *Client) OnError(err error) {
	if err == nil {
		return
	}
	c.report(&TransportError{Err: err})
}

func (c *Client) onBinary(data []byte) {
	resp, err := ParseResponse(data)
	if err != nil {
		c.report(&FrameError{Kind: ErrMalformedFrame, Frame: BinaryFrame, ID: resp.ID, Err: err})
		return
	}
	c.deliver(Reply{
		Kind:    BinaryFrame,
		Version: resp.Version,
		ID:      resp.ID,
		Data:    resp.Data,
	})
}

func (c *Client) onText(data []byte) {
	var hdr correlationHeader
	if err := json.Unmarshal(data, &hdr); err != nil {
		c.report(&FrameError{Kind: ErrMalformedFrame, Frame: TextFrame, Err: err})
		return
	}
	if hdr.ID == nil {
		c.report(&FrameError{Kind: ErrUnsolicitedResponse, Frame: TextFrame, Err: fmt.Errorf("document has no id")})
		return
	}
	c.deliver(Reply{
		Kind:  TextFrame,
		ID:    *hdr.ID,
		Data:  data,
		Final: hdr.Final,
	})
}

// deliver looks up the entry for r.ID, retires it when the reply completes
// the exchange, and invokes the handler outside the lock.
func (c *Client) deliver(r Reply) {
	c.mu.Lock()
	e, ok := c.pending[r.ID]
	if !ok {
		c.mu.Unlock()
		c.report(&FrameError{Kind: ErrUnsolicitedResponse, Frame: r.Kind, ID: r.ID})
		return
	}
	if e.mode == OneShot || r.Final {
		delete(c.pending, r.ID)
	}
	c.mu.Unlock()

	c.invoke(e.handler, r)
}

func (c *Client) invoke(h Handler, r Reply) {
	defer func() {
		if p := recover(); p != nil {
			c.report(fmt.Errorf("protocol: handler for id %d panicked: %v", r.ID, p))
		}
	}()
	h.HandleReply(r)
}

func (c *Client) report(err error) {
	c.logger.Warn().Err(err).Msg("dispatch problem")
	if c.onError != nil {
		c.onError(err)
	}
}

func (c *Client) registerLocked(id uint32, mode Correlation, h Handler) Ticket {
	c.gen++
	c.pending[id] = &entry{mode: mode, handler: h, gen: c.gen}
	return Ticket{ID: id, gen: c.gen}
}

func (c *Client) freeIDLocked() (uint32, error) {
	for i := 0; i < maxIDDraws; i++ {
		id := c.rand()
		if id == 0 {
			continue
		}
		if _, busy := c.pending[id]; !busy {
			return id, nil
		}
	}
	return 0, ErrIDSpaceExhausted
}

func isNilHandler(h Handler) bool {
	if h == nil {
		return true
	}
	if f, ok := h.(HandlerFunc); ok && f == nil {
		return true
	}
	return false
}
