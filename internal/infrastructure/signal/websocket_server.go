package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"rtclink/internal/core/domain"
	"rtclink/internal/core/ports"
	"rtclink/pkg/config"
	logging "rtclink/pkg/logger"
	"rtclink/pkg/tracing"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebSocketServer speaks the signaling protocol over websockets. The first
// message on a socket must be a join or resume command; everything after
// that is handed to the router.
type WebSocketServer struct {
	router   ports.SessionRouter
	upgrader websocket.Upgrader

	pingInterval   time.Duration
	pongTimeout    time.Duration
	writeTimeout   time.Duration
	sendQueueSize  int
	maxMessageSize int64

	mu    sync.RWMutex
	peers map[*wsPeer]struct{}
	wg    sync.WaitGroup

	logger *zap.SugaredLogger
	clog   *logging.ContextLogger
}

func NewWebSocketServer(cfg *config.Config, router ports.SessionRouter, logger *zap.SugaredLogger) *WebSocketServer {
	logger = logger.With("component", "websocket_server")
	s := &WebSocketServer{
		router:         router,
		pingInterval:   cfg.Signal.PingInterval,
		pongTimeout:    cfg.Signal.PongTimeout,
		writeTimeout:   cfg.Signal.WriteTimeout,
		sendQueueSize:  cfg.Signal.SendQueueSize,
		maxMessageSize: cfg.Signal.MaxMessageSizeBytes,
		peers:          make(map[*wsPeer]struct{}),
		logger:         logger,
		clog:           logging.NewContextLogger(logger.Desugar()),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.Auth.AllowedOrigins),
	}
	return s
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok || hasWildcard(set)
	}
}

func hasWildcard(set map[string]struct{}) bool {
	_, ok := set["*"]
	return ok
}

// SetPingInterval sets ping interval for WebSocket connections
func (s *WebSocketServer) SetPingInterval(interval time.Duration) {
	s.pingInterval = interval
}

// SetPongTimeout sets pong timeout for WebSocket connections
func (s *WebSocketServer) SetPongTimeout(timeout time.Duration) {
	s.pongTimeout = timeout
}

// wsPeer is one socket. It is the router's sink for the connection: Deliver
// never blocks, and a peer that cannot keep up is evicted.
type wsPeer struct {
	server *WebSocketServer
	conn   *websocket.Conn
	send   chan domain.SessionEvent
	done   chan struct{}

	mu      sync.Mutex
	id      domain.ConnectionID
	closing bool
	evicted bool
	left    bool
}

func (p *wsPeer) Deliver(ev domain.SessionEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closing {
		return
	}
	select {
	case p.send <- ev:
		if ev.Type == domain.EventClosed {
			p.closing = true
			p.left = true
		}
	default:
		// The router holds its lock here; eviction has to happen elsewhere.
		p.closing = true
		p.evicted = true
		close(p.done)
	}
}

func (p *wsPeer) connectionID() domain.ConnectionID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.id
}

func (p *wsPeer) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closing {
		p.closing = true
		close(p.done)
	}
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	if s.maxMessageSize > 0 {
		conn.SetReadLimit(s.maxMessageSize)
	}
	conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
		return nil
	})

	p := &wsPeer{
		server: s,
		conn:   conn,
		send:   make(chan domain.SessionEvent, s.sendQueueSize),
		done:   make(chan struct{}),
	}
	s.mu.Lock()
	s.peers[p] = struct{}{}
	s.mu.Unlock()
	s.wg.Add(1)
	defer func() {
		s.mu.Lock()
		delete(s.peers, p)
		s.mu.Unlock()
		s.wg.Done()
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(p)
	}()

	ctx := r.Context()
	joined, err := s.attach(ctx, p)
	if err != nil {
		s.clog.Sugar(ctx).Infow("websocket handshake failed", "remote", r.RemoteAddr, "error", err)
		p.stop()
		<-writerDone
		return
	}
	ctx = logging.WithSessionID(ctx, string(joined.SessionID))
	ctx = logging.WithConnectionID(ctx, string(joined.ID))
	log := s.clog.Sugar(ctx)

	s.readLoop(ctx, p)
	p.stop()
	<-writerDone

	id := p.connectionID()
	p.mu.Lock()
	evicted, left := p.evicted, p.left
	p.mu.Unlock()
	switch {
	case evicted:
		log.Warnw("connection evicted, send queue full")
		if err := s.router.Leave(context.Background(), id); err != nil && !errors.Is(err, domain.ErrConnectionNotFound) {
			log.Warnw("leave after eviction failed", "error", err)
		}
	case left:
	default:
		s.router.Detach(context.Background(), id, p)
	}
	log.Infow("websocket closed", "evicted", evicted, "left", left)
}

// attach reads the first command and joins or resumes with it.
func (s *WebSocketServer) attach(ctx context.Context, p *wsPeer) (domain.Connection, error) {
	var cmd domain.Command
	if err := p.conn.ReadJSON(&cmd); err != nil {
		return domain.Connection{}, err
	}
	ctx, span := tracing.TraceWebSocketMessage(ctx, string(cmd.Type), "")
	defer span.End()

	var (
		conn domain.Connection
		err  error
	)
	switch {
	case cmd.Type == domain.CommandJoin && cmd.Join != nil:
		conn, err = s.router.Join(ctx, *cmd.Join, p)
		if err != nil {
			p.Deliver(domain.ErrorEvent(domain.EventJoinRejected, err))
		}
	case cmd.Type == domain.CommandResume && cmd.Resume != nil:
		conn, err = s.router.Resume(ctx, *cmd.Resume, p)
		if err != nil {
			p.Deliver(domain.ErrorEvent(domain.EventClosed, err))
		}
	default:
		err = domain.ErrInvalidParam.Withf("first message must be join or resume, got %q", cmd.Type)
		p.Deliver(domain.ErrorEvent(domain.EventJoinRejected, err))
	}
	if err != nil {
		tracing.RecordError(ctx, err)
		return domain.Connection{}, err
	}

	p.mu.Lock()
	p.id = conn.ID
	p.mu.Unlock()
	return conn, nil
}

func (s *WebSocketServer) readLoop(ctx context.Context, p *wsPeer) {
	id := p.connectionID()
	log := s.clog.Sugar(ctx)
	for {
		var cmd domain.Command
		if err := p.conn.ReadJSON(&cmd); err != nil {
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				p.Deliver(domain.ErrorEvent(domain.EventError, domain.ErrInvalidParam.Wrap("malformed command", err)))
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Infow("error reading from connection", "error", err)
			}
			return
		}
		p.conn.SetReadDeadline(time.Now().Add(s.pongTimeout))

		msgCtx, span := tracing.TraceWebSocketMessage(ctx, string(cmd.Type), string(id))
		err := s.router.Handle(msgCtx, id, cmd)
		span.End()
		if err != nil {
			log.Infow("error handling command", "type", cmd.Type, "error", err)
			p.Deliver(domain.ErrorEvent(domain.EventError, err))
		}
		if cmd.Type == domain.CommandLeave {
			p.mu.Lock()
			p.left = true
			p.mu.Unlock()
			return
		}
	}
}

func (s *WebSocketServer) writeLoop(p *wsPeer) {
	pingTicker := time.NewTicker(s.pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case ev := <-p.send:
			if err := s.write(p, ev); err != nil {
				p.conn.Close()
				return
			}
			if ev.Type == domain.EventClosed || ev.Type == domain.EventJoinRejected {
				s.closeSocket(p)
				return
			}

		case <-pingTicker.C:
			p.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Debugw("error sending ping", "connection_id", p.connectionID(), "error", err)
				p.conn.Close()
				return
			}

		case <-p.done:
			// Flush what was queued before the stop.
			for {
				select {
				case ev := <-p.send:
					if s.write(p, ev) != nil {
						p.conn.Close()
						return
					}
				default:
					s.closeSocket(p)
					return
				}
			}
		}
	}
}

func (s *WebSocketServer) write(p *wsPeer, ev domain.SessionEvent) error {
	p.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return p.conn.WriteJSON(ev)
}

func (s *WebSocketServer) closeSocket(p *wsPeer) {
	p.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	_ = p.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	p.conn.Close()
}

// ConnectedCount is the number of open sockets.
func (s *WebSocketServer) ConnectedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}

// Shutdown closes every socket and waits for the handlers to return.
// Connections are detached, not removed, so clients may resume elsewhere.
func (s *WebSocketServer) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	for p := range s.peers {
		p.conn.Close()
	}
	s.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
