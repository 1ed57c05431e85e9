// ABOUTME: Tests for the reply correlator
// ABOUTME: Single-shot and streaming correlation, isolation of bad frames, cancellation
package protocol

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu     sync.Mutex
	frames []Frame
	opts   []SendOptions
	err    error
}

func (f *fakeTransport) WriteFrame(fr Frame, opts SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.frames = append(f.frames, fr)
	f.opts = append(f.opts, opts)
	return nil
}

func (f *fakeTransport) last() Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frames[len(f.frames)-1]
}

type recorder struct {
	mu      sync.Mutex
	replies []Reply
}

func (r *recorder) HandleReply(rep Reply) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, rep)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.replies)
}

type errorSink struct {
	mu   sync.Mutex
	errs []error
}

func (s *errorSink) add(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func (s *errorSink) all() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errs...)
}

func newTestClient(t *testing.T, cfg ClientConfig) (*Client, *fakeTransport, *errorSink) {
	t.Helper()
	tr := &fakeTransport{}
	sink := &errorSink{}
	logger := zerolog.Nop()
	cfg.Logger = &logger
	cfg.OnError = sink.add
	c, err := NewClient(tr, cfg)
	require.NoError(t, err)
	return c, tr, sink
}

func binaryReply(t *testing.T, id uint32, data []byte) Frame {
	t.Helper()
	raw, err := Response{Version: DefaultVersion, ID: id, Data: data}.MarshalBinary()
	require.NoError(t, err)
	return Frame{Kind: BinaryFrame, Data: raw}
}

func echoMessage(t *testing.T, id uint32) *Message {
	t.Helper()
	cmd, err := NewCommand(OpEcho, 0, nil)
	require.NoError(t, err)
	msg, err := NewMessage(DefaultVersion, id, []Command{cmd}, []byte{1, 2, 3})
	require.NoError(t, err)
	return msg
}

func TestNewClientRequiresTransport(t *testing.T) {
	_, err := NewClient(nil, ClientConfig{})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestSendBinarySingleShot(t *testing.T) {
	c, tr, sink := newTestClient(t, ClientConfig{})
	rec := &recorder{}

	msg := echoMessage(t, 42)
	ticket, err := c.SendBinary(msg, rec)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), ticket.ID)
	assert.True(t, c.IsPending(42))

	sent := tr.last()
	assert.Equal(t, BinaryFrame, sent.Kind)
	expected, _ := msg.MarshalBinary()
	assert.Equal(t, expected, sent.Data)

	c.OnFrame(binaryReply(t, 42, []byte{9, 9}))
	require.Equal(t, 1, rec.count())
	got := rec.replies[0]
	assert.Equal(t, uint32(42), got.ID)
	assert.Equal(t, DefaultVersion, got.Version)
	assert.Equal(t, []byte{9, 9}, got.Data)
	assert.False(t, c.IsPending(42))
	assert.Empty(t, sink.all())

	// A second reply with the same id is unsolicited.
	c.OnFrame(binaryReply(t, 42, nil))
	assert.Equal(t, 1, rec.count())
	errs := sink.all()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrUnsolicitedResponse)
}

func TestSendBinaryRejectsOutstandingID(t *testing.T) {
	c, _, _ := newTestClient(t, ClientConfig{})
	first := &recorder{}
	second := &recorder{}

	_, err := c.SendBinary(echoMessage(t, 5), first)
	require.NoError(t, err)

	_, err = c.SendBinary(echoMessage(t, 5), second)
	assert.ErrorIs(t, err, ErrIDInUse)

	c.OnFrame(binaryReply(t, 5, nil))
	assert.Equal(t, 1, first.count(), "original registration is kept")
	assert.Equal(t, 0, second.count())

	// Once retired the id can be reused.
	_, err = c.SendBinary(echoMessage(t, 5), second)
	assert.NoError(t, err)
}

func TestSendBinaryInvalidArguments(t *testing.T) {
	c, _, _ := newTestClient(t, ClientConfig{})

	_, err := c.SendBinary(nil, &recorder{})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = c.SendBinary(echoMessage(t, 1), nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	var fn HandlerFunc
	_, err = c.SendBinary(echoMessage(t, 1), fn)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = c.SendBinary(&Message{Commands: []Command{}, Data: []byte{}}, &recorder{})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	assert.Zero(t, c.Outstanding())
}

func TestSendTextStreaming(t *testing.T) {
	c, tr, sink := newTestClient(t, ClientConfig{})
	rec := &recorder{}

	ticket, err := c.Send(ControlRequest{Type: TypeStats, Count: 2}, rec)
	require.NoError(t, err)

	sent := tr.last()
	require.Equal(t, TextFrame, sent.Kind)
	var req struct {
		ID      uint32         `json:"id"`
		Message ControlRequest `json:"message"`
	}
	require.NoError(t, json.Unmarshal(sent.Data, &req))
	assert.Equal(t, ticket.ID, req.ID)
	assert.Equal(t, TypeStats, req.Message.Type)

	partial, _ := json.Marshal(TextResponse{ID: ticket.ID, Type: TypeStats})
	final, _ := json.Marshal(TextResponse{ID: ticket.ID, Type: TypeStats, Final: true})

	c.OnFrame(Frame{Kind: TextFrame, Data: partial})
	assert.Equal(t, 1, rec.count())
	assert.True(t, c.IsPending(ticket.ID), "partial reply keeps the entry")

	c.OnFrame(Frame{Kind: TextFrame, Data: final})
	assert.Equal(t, 2, rec.count())
	assert.False(t, c.IsPending(ticket.ID))
	assert.False(t, rec.replies[0].Final)
	assert.True(t, rec.replies[1].Final)
	assert.Empty(t, sink.all())

	var doc TextResponse
	require.NoError(t, rec.replies[1].Decode(&doc))
	assert.Equal(t, TypeStats, doc.Type)
}

func TestCorrelationOverride(t *testing.T) {
	c, _, _ := newTestClient(t, ClientConfig{})

	t.Run("one-shot text", func(t *testing.T) {
		rec := &recorder{}
		ticket, err := c.Send("hello", rec, WithCorrelation(OneShot))
		require.NoError(t, err)
		doc, _ := json.Marshal(TextResponse{ID: ticket.ID})
		c.OnFrame(Frame{Kind: TextFrame, Data: doc})
		assert.False(t, c.IsPending(ticket.ID))
	})

	t.Run("streaming binary", func(t *testing.T) {
		rec := &recorder{}
		ticket, err := c.SendBinary(echoMessage(t, 77), rec, WithCorrelation(Streaming))
		require.NoError(t, err)
		c.OnFrame(binaryReply(t, 77, nil))
		c.OnFrame(binaryReply(t, 77, nil))
		assert.Equal(t, 2, rec.count())
		assert.True(t, c.Cancel(ticket))
	})
}

func TestTextErrorReplyRetiresBinaryRequest(t *testing.T) {
	c, _, _ := newTestClient(t, ClientConfig{})
	rec := &recorder{}
	_, err := c.SendBinary(echoMessage(t, 11), rec)
	require.NoError(t, err)

	doc, _ := json.Marshal(TextResponse{ID: 11, Error: "unknown operation", Final: true})
	c.OnFrame(Frame{Kind: TextFrame, Data: doc})

	require.Equal(t, 1, rec.count())
	var remote *RemoteError
	require.ErrorAs(t, rec.replies[0].Err(), &remote)
	assert.Equal(t, "unknown operation", remote.Message)
	assert.False(t, c.IsPending(11))
}

func TestMalformedFrameIsolation(t *testing.T) {
	c, _, sink := newTestClient(t, ClientConfig{})
	a, b := &recorder{}, &recorder{}
	_, err := c.SendBinary(echoMessage(t, 1), a)
	require.NoError(t, err)
	_, err = c.SendBinary(echoMessage(t, 2), b)
	require.NoError(t, err)

	// Declares 100 bytes of data but carries 2.
	bad := []byte{1, 1, 0, 0, 0, 100, 0, 0, 0, 0xAA, 0xBB}
	c.OnFrame(Frame{Kind: BinaryFrame, Data: bad})
	c.OnFrame(Frame{Kind: BinaryFrame, Data: []byte{1, 2}})
	c.OnFrame(Frame{Kind: TextFrame, Data: []byte("{not json")})

	errs := sink.all()
	require.Len(t, errs, 3)
	for _, err := range errs {
		assert.ErrorIs(t, err, ErrMalformedFrame)
	}
	var fe *FrameError
	require.ErrorAs(t, errs[0], &fe)
	assert.Equal(t, uint32(1), fe.ID)

	assert.Equal(t, 2, c.Outstanding(), "pending entries untouched")
	assert.Zero(t, a.count())

	c.OnFrame(binaryReply(t, 1, nil))
	c.OnFrame(binaryReply(t, 2, nil))
	assert.Equal(t, 1, a.count())
	assert.Equal(t, 1, b.count())
}

func TestTextWithoutIDIsUnsolicited(t *testing.T) {
	c, _, sink := newTestClient(t, ClientConfig{})
	c.OnFrame(Frame{Kind: TextFrame, Data: []byte(`{"type":"announcement"}`)})
	errs := sink.all()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrUnsolicitedResponse)
}

func TestCancel(t *testing.T) {
	c, _, sink := newTestClient(t, ClientConfig{})
	rec := &recorder{}

	ticket, err := c.SendBinary(echoMessage(t, 8), rec)
	require.NoError(t, err)
	assert.True(t, c.Cancel(ticket))
	assert.False(t, c.Cancel(ticket), "second cancel is a no-op")

	// A stale ticket must not evict a newer registration of the same id.
	_, err = c.SendBinary(echoMessage(t, 8), rec)
	require.NoError(t, err)
	assert.False(t, c.Cancel(ticket))
	assert.True(t, c.IsPending(8))

	c.OnFrame(binaryReply(t, 8, nil))
	assert.Equal(t, 1, rec.count())
	assert.Empty(t, sink.all())
}

func TestSendWriteFailureUnregisters(t *testing.T) {
	c, tr, _ := newTestClient(t, ClientConfig{})
	tr.err = errors.New("connection reset")

	_, err := c.SendBinary(echoMessage(t, 3), &recorder{})
	assert.ErrorContains(t, err, "connection reset")

	_, err = c.Send("ping", &recorder{})
	assert.Error(t, err)

	assert.Zero(t, c.Outstanding())
}

func TestSendInvalidArguments(t *testing.T) {
	c, _, _ := newTestClient(t, ClientConfig{})

	_, err := c.Send(nil, &recorder{})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = c.Send("x", nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = c.Send(make(chan int), &recorder{})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Zero(t, c.Outstanding())
}

func TestIDDrawSkipsOutstandingAndZero(t *testing.T) {
	draws := []uint32{0, 10, 10, 11}
	next := func() uint32 {
		v := draws[0]
		draws = draws[1:]
		return v
	}
	c, _, _ := newTestClient(t, ClientConfig{Rand: next})

	first, err := c.Send("a", &recorder{})
	require.NoError(t, err)
	assert.Equal(t, uint32(10), first.ID)

	second, err := c.Send("b", &recorder{})
	require.NoError(t, err)
	assert.Equal(t, uint32(11), second.ID)
}

func TestIDSpaceExhausted(t *testing.T) {
	c, _, _ := newTestClient(t, ClientConfig{Rand: func() uint32 { return 1 }})

	_, err := c.Send("a", &recorder{})
	require.NoError(t, err)

	_, err = c.Send("b", &recorder{})
	assert.ErrorIs(t, err, ErrIDSpaceExhausted)

	_, err = c.NewID()
	assert.ErrorIs(t, err, ErrIDSpaceExhausted)
}

func TestOnErrorKeepsPending(t *testing.T) {
	c, _, sink := newTestClient(t, ClientConfig{})
	_, err := c.SendBinary(echoMessage(t, 4), &recorder{})
	require.NoError(t, err)

	c.OnError(errors.New("read timeout"))
	c.OnError(nil)

	errs := sink.all()
	require.Len(t, errs, 1)
	var te *TransportError
	assert.ErrorAs(t, errs[0], &te)
	assert.True(t, c.IsPending(4))
}

func TestHandlerPanicDoesNotStopDispatch(t *testing.T) {
	c, _, sink := newTestClient(t, ClientConfig{})
	boom := HandlerFunc(func(Reply) { panic("boom") })
	rec := &recorder{}

	_, err := c.SendBinary(echoMessage(t, 1), boom)
	require.NoError(t, err)
	_, err = c.SendBinary(echoMessage(t, 2), rec)
	require.NoError(t, err)

	c.OnFrame(binaryReply(t, 1, nil))
	c.OnFrame(binaryReply(t, 2, nil))

	assert.Equal(t, 1, rec.count())
	assert.Len(t, sink.all(), 1)
}

func TestCompressionOption(t *testing.T) {
	c, tr, _ := newTestClient(t, ClientConfig{})
	_, err := c.SendBinary(echoMessage(t, 1), &recorder{}, WithCompression())
	require.NoError(t, err)
	assert.True(t, tr.opts[0].Compress)
}
