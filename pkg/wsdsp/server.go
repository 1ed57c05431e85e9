// ABOUTME: WebSocket server executing wsdsp command pipelines
// ABOUTME: Answers binary requests with processed data and text control requests with JSON
package wsdsp

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/faintsignals/wsdsp/internal/discovery"
	"github.com/faintsignals/wsdsp/pkg/dsp"
	"github.com/faintsignals/wsdsp/pkg/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	DefaultPort            = 8930
	DefaultName            = "wsdsp server"
	DefaultPath            = "/dsp"
	DefaultRateLimit       = rate.Limit(32)
	DefaultBurst           = 64
	DefaultMaxMessageBytes = 16 << 20

	sendBufferSize = 64
	writeDeadline  = 10 * time.Second
	pingInterval   = 30 * time.Second

	defaultStatsInterval = time.Second
	minStatsInterval     = 10 * time.Millisecond
	maxStatsCount        = 1000
)

// finalSendTimeout bounds how long a final reply waits for room in a full
// send buffer before it is dropped.
var finalSendTimeout = 2 * time.Second

var (
	ErrRateLimited   = errors.New("wsdsp: request rate exceeded")
	ErrUnknownType   = errors.New("wsdsp: unknown control type")
	ErrMissingID     = errors.New("wsdsp: text request has no id")
	ErrServerStopped = errors.New("wsdsp: server stopped")
)

// ServerConfig configures a wsdsp server
type ServerConfig struct {
	// Port to listen on (default: 8930)
	Port int

	// Name is advertised over mDNS
	Name string

	// Path the WebSocket endpoint is served on (default: /dsp)
	Path string

	// Registry resolves operations (default: dsp.DefaultRegistry())
	Registry *dsp.Registry

	// EnableMDNS advertises the server as _wsdsp._tcp
	EnableMDNS bool

	// RateLimit is the per-session request rate; 0 selects the default and
	// rate.Inf disables limiting.
	RateLimit rate.Limit
	Burst     int

	// MaxMessageBytes caps inbound frame size (default: 16 MiB)
	MaxMessageBytes int64

	Logger *zerolog.Logger
}

// Server runs command pipelines for WebSocket clients.
type Server struct {
	config   ServerConfig
	serverID string
	logger   zerolog.Logger
	registry *dsp.Registry

	upgrader   websocket.Upgrader
	httpServer *http.Server
	mux        *http.ServeMux

	sessions   map[string]*session
	sessionsMu sync.RWMutex

	started  time.Time
	requests atomic.Uint64
	failures atomic.Uint64

	mdnsManager *discovery.Manager

	stopChan   chan struct{}
	stopOnce   sync.Once
	shutdownMu sync.RWMutex
	isShutdown bool
	wg         sync.WaitGroup
}

type outbound struct {
	kind  protocol.FrameKind
	id    uint32
	final bool // retires the request on the client
	data  []byte
}

// session is one connected client (internal)
type session struct {
	ID          string
	RemoteAddr  string
	ConnectedAt time.Time

	conn     *websocket.Conn
	limiter  *rate.Limiter
	logger   zerolog.Logger
	requests atomic.Uint64

	sendChan  chan outbound
	done      chan struct{}
	closeOnce sync.Once
}

// SessionInfo describes a connected client
type SessionInfo struct {
	ID          string
	RemoteAddr  string
	ConnectedAt time.Time
	Requests    uint64
}

// Stats is a snapshot of server counters
type Stats struct {
	Sessions int
	Requests uint64
	Errors   uint64
	Uptime   time.Duration
}

// NewServer creates a server; call Start to listen or mount Handler.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Port == 0 {
		config.Port = DefaultPort
	}
	if config.Port < 0 || config.Port > 65535 {
		return nil, fmt.Errorf("%w: port %d out of range", protocol.ErrInvalidArgument, config.Port)
	}
	if config.Name == "" {
		config.Name = DefaultName
	}
	if config.Path == "" {
		config.Path = DefaultPath
	}
	if config.Registry == nil {
		config.Registry = dsp.DefaultRegistry()
	}
	if config.RateLimit == 0 {
		config.RateLimit = DefaultRateLimit
	}
	if config.RateLimit < 0 {
		return nil, fmt.Errorf("%w: negative rate limit", protocol.ErrInvalidArgument)
	}
	if config.Burst <= 0 {
		config.Burst = DefaultBurst
	}
	if config.MaxMessageBytes <= 0 {
		config.MaxMessageBytes = DefaultMaxMessageBytes
	}

	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}

	s := &Server{
		config:   config,
		serverID: uuid.New().String(),
		logger:   logger.With().Str("component", "server").Logger(),
		registry: config.Registry,
		mux:      http.NewServeMux(),
		upgrader: websocket.Upgrader{
			EnableCompression: true,
			CheckOrigin: func(r *http.Request) bool {
				// Local network deployments accept all origins
				return true
			},
		},
		sessions: make(map[string]*session),
		started:  time.Now(),
		stopChan: make(chan struct{}),
	}
	s.mux.HandleFunc(config.Path, s.handleWebSocket)

	return s, nil
}

// ID returns the server instance id.
func (s *Server) ID() string { return s.serverID }

// Config returns the effective configuration.
func (s *Server) Config() ServerConfig { return s.config }

// Handler returns the HTTP handler serving the WebSocket endpoint.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start listens on the configured port and blocks until Stop is called or
// the listener fails.
func (s *Server) Start() error {
	s.logger.Info().Str("name", s.config.Name).Str("id", s.serverID).Msg("server starting")

	if s.config.EnableMDNS {
		s.mdnsManager = discovery.NewManager(discovery.Config{
			Instance: s.config.Name,
			Port:     s.config.Port,
			Path:     s.config.Path,
			Logger:   &s.logger,
		})
		if err := s.mdnsManager.Advertise(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to start mDNS advertisement")
		}
	}

	addr := fmt.Sprintf(":%d", s.config.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info().Str("addr", addr).Str("path", s.config.Path).Msg("WebSocket server listening")

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	var serveErr error
	select {
	case <-s.stopChan:
		s.logger.Info().Msg("server shutting down")
	case serveErr = <-errChan:
		s.logger.Error().Err(serveErr).Msg("HTTP server error")
	}

	s.shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("HTTP server shutdown error")
	}

	s.wg.Wait()
	s.logger.Info().Msg("server stopped cleanly")
	return serveErr
}

// Stop ends Start. It is safe to call more than once.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
}

// Close stops accepting sessions and disconnects the current ones. Use it
// when the server is mounted through Handler instead of Start.
func (s *Server) Close() {
	s.Stop()
	s.shutdown()
	s.wg.Wait()
}

func (s *Server) shutdown() {
	s.shutdownMu.Lock()
	already := s.isShutdown
	s.isShutdown = true
	s.shutdownMu.Unlock()
	if already {
		return
	}

	if s.mdnsManager != nil {
		s.mdnsManager.Stop()
	}

	s.sessionsMu.RLock()
	open := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		open = append(open, sess)
	}
	s.sessionsMu.RUnlock()

	for _, sess := range open {
		_ = sess.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		sess.close()
	}
}

// Sessions returns the connected clients, oldest first.
func (s *Server) Sessions() []SessionInfo {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()

	infos := make([]SessionInfo, 0, len(s.sessions))
	for _, sess := range s.sessions {
		infos = append(infos, SessionInfo{
			ID:          sess.ID,
			RemoteAddr:  sess.RemoteAddr,
			ConnectedAt: sess.ConnectedAt,
			Requests:    sess.requests.Load(),
		})
	}
	slices.SortFunc(infos, func(a, b SessionInfo) int {
		return a.ConnectedAt.Compare(b.ConnectedAt)
	})
	return infos
}

// Stats returns the server counters.
func (s *Server) Stats() Stats {
	s.sessionsMu.RLock()
	n := len(s.sessions)
	s.sessionsMu.RUnlock()

	return Stats{
		Sessions: n,
		Requests: s.requests.Load(),
		Errors:   s.failures.Load(),
		Uptime:   time.Since(s.started),
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	stopped := s.isShutdown
	s.shutdownMu.RUnlock()
	if stopped {
		http.Error(w, ErrServerStopped.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("WebSocket upgrade error")
		return
	}
	conn.SetReadLimit(s.config.MaxMessageBytes)

	sess := &session{
		ID:          uuid.New().String(),
		RemoteAddr:  r.RemoteAddr,
		ConnectedAt: time.Now(),
		conn:        conn,
		limiter:     rate.NewLimiter(s.config.RateLimit, s.config.Burst),
		sendChan:    make(chan outbound, sendBufferSize),
		done:        make(chan struct{}),
	}
	sess.logger = s.logger.With().Str("session", sess.ID).Logger()

	// Registration holds the shutdown lock so shutdown sees every session.
	s.shutdownMu.RLock()
	if s.isShutdown {
		s.shutdownMu.RUnlock()
		_ = conn.Close()
		return
	}
	s.sessionsMu.Lock()
	s.sessions[sess.ID] = sess
	s.sessionsMu.Unlock()
	s.wg.Add(2)
	s.shutdownMu.RUnlock()
	sess.logger.Info().Str("remote", sess.RemoteAddr).Msg("session opened")

	go func() {
		defer s.wg.Done()
		s.sessionWriter(sess)
	}()
	go func() {
		defer s.wg.Done()
		s.sessionReader(sess)
	}()
}

func (s *Server) sessionReader(sess *session) {
	defer s.removeSession(sess)

	for {
		messageType, data, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				sess.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}

		sess.requests.Add(1)
		s.requests.Add(1)

		if !sess.limiter.Allow() {
			s.replyError(sess, peekID(messageType, data), ErrRateLimited)
			continue
		}

		switch messageType {
		case websocket.BinaryMessage:
			s.handleBinary(sess, data)
		case websocket.TextMessage:
			s.handleText(sess, data)
		}
	}
}

// sessionWriter is the only goroutine writing data frames to sess.
func (s *Server) sessionWriter(sess *session) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-sess.sendChan:
			messageType := websocket.TextMessage
			if msg.kind == protocol.BinaryFrame {
				messageType = websocket.BinaryMessage
			}
			_ = sess.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := sess.conn.WriteMessage(messageType, msg.data); err != nil {
				sess.logger.Debug().Err(err).Msg("write failed")
				sess.close()
				return
			}

		case <-ticker.C:
			if err := sess.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				sess.close()
				return
			}

		case <-sess.done:
			return
		}
	}
}

func (s *Server) handleBinary(sess *session, data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		s.replyError(sess, peekID(websocket.BinaryMessage, data), err)
		return
	}

	resp, err := s.registry.Run(msg)
	if err != nil {
		s.replyError(sess, msg.ID, err)
		return
	}
	out, err := resp.MarshalBinary()
	if err != nil {
		s.replyError(sess, msg.ID, err)
		return
	}

	sess.logger.Debug().
		Uint32("id", msg.ID).
		Int("commands", len(msg.Commands)).
		Int("in", len(msg.Data)).
		Int("out", len(resp.Data)).
		Msg("pipeline done")
	s.enqueue(sess, outbound{kind: protocol.BinaryFrame, id: msg.ID, final: true, data: out})
}

type textEnvelope struct {
	ID      *uint32         `json:"id"`
	Message json.RawMessage `json:"message"`
}

func (s *Server) handleText(sess *session, data []byte) {
	var env textEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.replyError(sess, 0, fmt.Errorf("%w: %v", protocol.ErrMalformedFrame, err))
		return
	}
	if env.ID == nil {
		s.replyError(sess, 0, ErrMissingID)
		return
	}
	id := *env.ID

	var req protocol.ControlRequest
	if len(env.Message) > 0 {
		if err := json.Unmarshal(env.Message, &req); err != nil {
			s.replyError(sess, id, fmt.Errorf("%w: message: %v", protocol.ErrMalformedFrame, err))
			return
		}
	}

	switch req.Type {
	case protocol.TypePing:
		s.reply(sess, protocol.TextResponse{ID: id, Final: true, Type: protocol.TypePong})
	case protocol.TypeOperations:
		s.replyPayload(sess, id, true, protocol.TypeOperations, s.operations())
	case protocol.TypeStats:
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.streamStats(sess, id, req)
		}()
	default:
		s.replyError(sess, id, fmt.Errorf("%w: %q", ErrUnknownType, req.Type))
	}
}

func (s *Server) operations() []protocol.OperationInfo {
	ops := s.registry.Operations()
	infos := make([]protocol.OperationInfo, 0, len(ops))
	for _, op := range ops {
		infos = append(infos, protocol.OperationInfo{Code: uint32(op), Name: op.String()})
	}
	return infos
}

// streamStats sends req.Count partial snapshots spaced by req.IntervalMs and
// then a final one.
func (s *Server) streamStats(sess *session, id uint32, req protocol.ControlRequest) {
	count := min(max(req.Count, 0), maxStatsCount)
	interval := defaultStatsInterval
	if req.IntervalMs > 0 {
		interval = max(time.Duration(req.IntervalMs)*time.Millisecond, minStatsInterval)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for seq := 1; seq <= count; seq++ {
		s.replyPayload(sess, id, false, protocol.TypeStats, s.statsPayload(seq))
		select {
		case <-ticker.C:
		case <-sess.done:
			return
		}
	}
	s.replyPayload(sess, id, true, protocol.TypeStats, s.statsPayload(count+1))
}

func (s *Server) statsPayload(seq int) protocol.StatsPayload {
	st := s.Stats()
	return protocol.StatsPayload{
		Sequence: seq,
		Sessions: st.Sessions,
		Requests: st.Requests,
		Errors:   st.Errors,
		UptimeMs: st.Uptime.Milliseconds(),
	}
}

func (s *Server) replyPayload(sess *session, id uint32, final bool, typ string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		s.replyError(sess, id, err)
		return
	}
	s.reply(sess, protocol.TextResponse{ID: id, Final: final, Type: typ, Payload: raw})
}

func (s *Server) replyError(sess *session, id uint32, err error) {
	s.failures.Add(1)
	sess.logger.Debug().Err(err).Uint32("id", id).Msg("request failed")
	s.reply(sess, protocol.TextResponse{ID: id, Final: true, Type: protocol.TypeError, Error: err.Error()})
}

func (s *Server) reply(sess *session, resp protocol.TextResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		sess.logger.Error().Err(err).Msg("encode reply")
		return
	}
	s.enqueue(sess, outbound{kind: protocol.TextFrame, id: resp.ID, final: resp.Final, data: data})
}

// enqueue hands a frame to the session writer. Partial replies are dropped
// when the buffer is full; final replies wait up to finalSendTimeout and
// count as a failure when they still cannot be queued.
func (s *Server) enqueue(sess *session, msg outbound) {
	select {
	case <-sess.done:
		return
	default:
	}

	select {
	case sess.sendChan <- msg:
		return
	case <-sess.done:
		return
	default:
	}

	if !msg.final {
		sess.logger.Warn().Uint32("id", msg.id).Msg("send buffer full, dropping partial reply")
		return
	}

	timer := time.NewTimer(finalSendTimeout)
	defer timer.Stop()
	select {
	case sess.sendChan <- msg:
	case <-sess.done:
	case <-timer.C:
		s.failures.Add(1)
		sess.logger.Error().Uint32("id", msg.id).Msg("send buffer full, dropped final reply")
	}
}

func (s *Server) removeSession(sess *session) {
	s.sessionsMu.Lock()
	delete(s.sessions, sess.ID)
	s.sessionsMu.Unlock()

	sess.close()
	sess.logger.Info().Uint64("requests", sess.requests.Load()).Msg("session closed")
}

func (sess *session) close() {
	sess.closeOnce.Do(func() {
		close(sess.done)
		_ = sess.conn.Close()
	})
}

// peekID extracts the correlation id of a request that could not be
// processed, or 0 when it cannot be read.
func peekID(messageType int, data []byte) uint32 {
	switch messageType {
	case websocket.BinaryMessage:
		if len(data) >= 5 {
			return binary.LittleEndian.Uint32(data[1:5])
		}
	case websocket.TextMessage:
		var env textEnvelope
		if json.Unmarshal(data, &env) == nil && env.ID != nil {
			return *env.ID
		}
	}
	return 0
}
