// ABOUTME: WebSocket transport for the wsdsp protocol
// ABOUTME: Dials the server, serialises frame writes and feeds inbound frames to a sink
package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/faintsignals/wsdsp/pkg/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultPath is the HTTP path the wsdsp server upgrades on.
const DefaultPath = "/dsp"

// ErrClosed is returned when writing to a closed connection.
var ErrClosed = errors.New("client: connection closed")

// Config holds transport configuration
type Config struct {
	ServerAddr        string
	Path              string
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration
	EnableCompression bool
	Logger            *zerolog.Logger
}

// Conn is a WebSocket connection implementing protocol.Transport.
type Conn struct {
	config Config
	conn   *websocket.Conn
	logger zerolog.Logger

	writeMu sync.Mutex

	mu        sync.RWMutex
	connected bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Dial establishes the WebSocket connection. Call Listen to start reading.
func Dial(ctx context.Context, config Config) (*Conn, error) {
	if config.ServerAddr == "" {
		return nil, fmt.Errorf("server address is required")
	}
	if config.Path == "" {
		config.Path = DefaultPath
	}
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = 5 * time.Second
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 10 * time.Second
	}

	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}

	u := url.URL{Scheme: "ws", Host: config.ServerAddr, Path: config.Path}
	logger.Info().Str("url", u.String()).Msg("connecting")

	dialer := websocket.Dialer{
		HandshakeTimeout:  config.HandshakeTimeout,
		EnableCompression: config.EnableCompression,
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	connCtx, cancel := context.WithCancel(context.Background())
	return &Conn{
		config:    config,
		conn:      conn,
		logger:    logger.With().Str("component", "transport").Str("server", config.ServerAddr).Logger(),
		connected: true,
		ctx:       connCtx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}, nil
}

// WriteFrame writes one text or binary frame. Writes are serialised because
// gorilla/websocket supports a single concurrent writer.
func (c *Conn) WriteFrame(f protocol.Frame, opts protocol.SendOptions) error {
	var messageType int
	switch f.Kind {
	case protocol.TextFrame:
		messageType = websocket.TextMessage
	case protocol.BinaryFrame:
		messageType = websocket.BinaryMessage
	default:
		return fmt.Errorf("unsupported frame kind %d", f.Kind)
	}

	if !c.IsConnected() {
		return ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.EnableWriteCompression(opts.Compress)
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, f.Data)
}

// Listen starts the read loop. Every inbound frame is handed to sink in
// arrival order from a single goroutine.
func (c *Conn) Listen(sink protocol.FrameSink) {
	go c.readMessages(sink)
}

// readMessages reads and routes incoming frames
func (c *Conn) readMessages(sink protocol.FrameSink) {
	defer close(c.done)
	defer c.Close()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				sink.OnError(err)
			}
			c.logger.Debug().Err(err).Msg("read loop finished")
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			sink.OnFrame(protocol.Frame{Kind: protocol.BinaryFrame, Data: data})
		case websocket.TextMessage:
			sink.OnFrame(protocol.Frame{Kind: protocol.TextFrame, Data: data})
		default:
			c.logger.Warn().Int("type", messageType).Msg("unknown WebSocket message type")
		}
	}
}

// Done is closed when the read loop exits.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close sends a close frame and tears down the connection.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil
	}
	c.connected = false
	c.cancel()

	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()

	err := c.conn.Close()
	c.logger.Info().Msg("connection closed")
	return err
}

// IsConnected returns connection status
func (c *Conn) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}
