// ABOUTME: High-level wsdsp client
// ABOUTME: Combines the WebSocket transport with the correlator and adds blocking helpers
package wsdsp

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/faintsignals/wsdsp/internal/client"
	"github.com/faintsignals/wsdsp/pkg/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrClosed is returned by blocking calls when the connection ends first.
var ErrClosed = client.ErrClosed

// ClientConfig configures Dial.
type ClientConfig struct {
	// ServerAddr is host:port of the server (required)
	ServerAddr string

	// Path of the WebSocket endpoint (default: /dsp)
	Path string

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration

	// Compress negotiates per-message deflate and compresses every request.
	Compress bool

	// OnError receives malformed frames, unsolicited replies and transport
	// errors.
	OnError func(error)

	Logger *zerolog.Logger
}

// Client is a connected wsdsp client.
type Client struct {
	conn     *client.Conn
	proto    *protocol.Client
	compress bool
	logger   zerolog.Logger
}

// Dial connects to a wsdsp server and starts dispatching replies.
func Dial(ctx context.Context, config ClientConfig) (*Client, error) {
	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}

	conn, err := client.Dial(ctx, client.Config{
		ServerAddr:        config.ServerAddr,
		Path:              config.Path,
		HandshakeTimeout:  config.HandshakeTimeout,
		WriteTimeout:      config.WriteTimeout,
		EnableCompression: config.Compress,
		Logger:            &logger,
	})
	if err != nil {
		return nil, err
	}

	proto, err := protocol.NewClient(conn, protocol.ClientConfig{
		Logger:  &logger,
		OnError: config.OnError,
	})
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	conn.Listen(proto)

	return &Client{
		conn:     conn,
		proto:    proto,
		compress: config.Compress,
		logger:   logger,
	}, nil
}

// Correlator exposes the underlying correlation table.
func (c *Client) Correlator() *protocol.Client { return c.proto }

// Send issues a text request; see protocol.Client.Send.
func (c *Client) Send(payload any, h protocol.Handler, opts ...protocol.SendOption) (protocol.Ticket, error) {
	return c.proto.Send(payload, h, c.sendOptions(opts)...)
}

// SendBinary issues a binary request; see protocol.Client.SendBinary.
func (c *Client) SendBinary(m *protocol.Message, h protocol.Handler, opts ...protocol.SendOption) (protocol.Ticket, error) {
	return c.proto.SendBinary(m, h, c.sendOptions(opts)...)
}

func (c *Client) sendOptions(opts []protocol.SendOption) []protocol.SendOption {
	if !c.compress {
		return opts
	}
	return append([]protocol.SendOption{protocol.WithCompression()}, opts...)
}

// NewMessage builds an envelope with a fresh correlation id.
func (c *Client) NewMessage(commands []protocol.Command, data []byte) (*protocol.Message, error) {
	id, err := c.proto.NewID()
	if err != nil {
		return nil, err
	}
	if commands == nil {
		commands = []protocol.Command{}
	}
	if data == nil {
		data = []byte{}
	}
	return protocol.NewMessage(protocol.DefaultVersion, id, commands, data)
}

// Call sends m and waits for its reply. A text error reply is returned as
// a *protocol.RemoteError. When ctx ends first the request is cancelled.
func (c *Client) Call(ctx context.Context, m *protocol.Message) (protocol.Reply, error) {
	replies := make(chan protocol.Reply, 1)
	ticket, err := c.SendBinary(m, protocol.HandlerFunc(func(r protocol.Reply) {
		replies <- r
	}), protocol.WithCorrelation(protocol.OneShot))
	if err != nil {
		return protocol.Reply{}, err
	}

	select {
	case r := <-replies:
		return r, r.Err()
	case <-ctx.Done():
		c.proto.Cancel(ticket)
		return protocol.Reply{}, fmt.Errorf("call %d: %w", m.ID, ctx.Err())
	case <-c.conn.Done():
		c.proto.Cancel(ticket)
		return protocol.Reply{}, fmt.Errorf("call %d: %w", m.ID, ErrClosed)
	}
}

// Request sends a text request and gathers its replies until the final
// one. The error of the final reply, if any, is returned with the replies.
func (c *Client) Request(ctx context.Context, payload any) ([]protocol.Reply, error) {
	var (
		mu      sync.Mutex
		replies []protocol.Reply
	)
	done := make(chan struct{})

	ticket, err := c.Send(payload, protocol.HandlerFunc(func(r protocol.Reply) {
		mu.Lock()
		replies = append(replies, r)
		mu.Unlock()
		if r.Final {
			close(done)
		}
	}), protocol.WithCorrelation(protocol.Streaming))
	if err != nil {
		return nil, err
	}

	collected := func() []protocol.Reply {
		mu.Lock()
		defer mu.Unlock()
		return slices.Clone(replies)
	}

	select {
	case <-done:
		out := collected()
		return out, out[len(out)-1].Err()
	case <-ctx.Done():
		c.proto.Cancel(ticket)
		return collected(), fmt.Errorf("request %d: %w", ticket.ID, ctx.Err())
	case <-c.conn.Done():
		c.proto.Cancel(ticket)
		return collected(), fmt.Errorf("request %d: %w", ticket.ID, ErrClosed)
	}
}

// Ping measures the round trip of a ping control request.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if _, err := c.Request(ctx, protocol.ControlRequest{Type: protocol.TypePing}); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// Operations asks the server which operations it supports.
func (c *Client) Operations(ctx context.Context) ([]protocol.OperationInfo, error) {
	replies, err := c.Request(ctx, protocol.ControlRequest{Type: protocol.TypeOperations})
	if err != nil {
		return nil, err
	}
	var resp protocol.TextResponse
	if err := replies[len(replies)-1].Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode operations: %w", err)
	}
	var ops []protocol.OperationInfo
	if err := json.Unmarshal(resp.Payload, &ops); err != nil {
		return nil, fmt.Errorf("decode operations: %w", err)
	}
	return ops, nil
}

// Stats streams count server snapshots spaced by interval, calling fn for
// each partial and the final one.
func (c *Client) Stats(ctx context.Context, count int, interval time.Duration, fn func(protocol.StatsPayload, bool)) error {
	done := make(chan error, 1)
	// Handlers run on the single dispatch goroutine.
	stopped := false
	finish := func(err error) {
		stopped = true
		select {
		case done <- err:
		default:
		}
	}
	ticket, err := c.Send(protocol.ControlRequest{
		Type:       protocol.TypeStats,
		Count:      count,
		IntervalMs: int(interval.Milliseconds()),
	}, protocol.HandlerFunc(func(r protocol.Reply) {
		if stopped {
			return
		}
		if err := r.Err(); err != nil {
			finish(err)
			return
		}
		var resp protocol.TextResponse
		var st protocol.StatsPayload
		if err := r.Decode(&resp); err != nil {
			finish(fmt.Errorf("decode stats: %w", err))
			return
		}
		if err := json.Unmarshal(resp.Payload, &st); err != nil {
			c.logger.Warn().Uint32("id", r.ID).Err(err).Msg("bad stats payload")
			finish(fmt.Errorf("decode stats: %w", err))
			return
		}
		fn(st, r.Final)
		if r.Final {
			finish(nil)
		}
	}))
	if err != nil {
		return err
	}

	select {
	case err := <-done:
		if err != nil {
			c.proto.Cancel(ticket)
		}
		return err
	case <-ctx.Done():
		c.proto.Cancel(ticket)
		return ctx.Err()
	case <-c.conn.Done():
		c.proto.Cancel(ticket)
		return ErrClosed
	}
}

// Outstanding returns the number of requests awaiting replies.
func (c *Client) Outstanding() int { return c.proto.Outstanding() }

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} { return c.conn.Done() }

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
