package signal

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"rtclink/internal/core/domain"
	"rtclink/internal/core/ports"
	"rtclink/pkg/circuitbreaker"
	"rtclink/pkg/config"
	"rtclink/pkg/retry"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebSocketTransport is the client side of WebSocketServer. When the socket
// drops it reports interrupted, then redials and resumes with the last
// resume token until the retry budget runs out.
type WebSocketTransport struct {
	url          string
	header       http.Header
	dialer       *websocket.Dialer
	reconnect    retry.Config
	writeTimeout time.Duration
	breaker      *circuitbreaker.CircuitBreaker
	logger       *zap.SugaredLogger

	// writeMu serializes writers; gorilla allows one concurrent writer.
	writeMu sync.Mutex

	mu          sync.Mutex
	conn        *websocket.Conn
	handler     ports.EventHandler
	sessionID   domain.SessionID
	connID      domain.ConnectionID
	resumeToken string
	closed      bool
	cancel      context.CancelFunc
}

var _ ports.Transport = (*WebSocketTransport)(nil)

// WebSocketTransportFactory returns a factory for transports dialing
// cfg.Client.ServerURL. The transports share one circuit breaker, so once
// the server has refused cfg.Client.BreakerThreshold joins in a row further
// joins fail without dialing until cfg.Client.BreakerTimeout has passed.
func WebSocketTransportFactory(cfg *config.Config, logger *zap.SugaredLogger) ports.TransportFactory {
	rc := retry.DefaultConfig()
	rc.MaxAttempts = cfg.Client.Reconnect.MaxAttempts
	rc.InitialDelay = cfg.Client.Reconnect.InitialDelay
	rc.MaxDelay = cfg.Client.Reconnect.MaxDelay
	rc.Multiplier = cfg.Client.Reconnect.Multiplier
	rc.Jitter = cfg.Client.Reconnect.Jitter

	breaker := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold:    cfg.Client.BreakerThreshold,
		SuccessThreshold:    1,
		Timeout:             cfg.Client.BreakerTimeout,
		MaxRequestsHalfOpen: 1,
	})
	breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("signaling dial breaker changed", "from", from.String(), "to", to.String(), "url", cfg.Client.ServerURL)
	})
	return func() ports.Transport {
		t := NewWebSocketTransport(cfg.Client.ServerURL, rc, cfg.Signal.WriteTimeout, logger)
		t.breaker = breaker
		return t
	}
}

func NewWebSocketTransport(serverURL string, reconnect retry.Config, writeTimeout time.Duration, logger *zap.SugaredLogger) *WebSocketTransport {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &WebSocketTransport{
		url:          serverURL,
		header:       http.Header{},
		dialer:       &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		reconnect:    reconnect,
		writeTimeout: writeTimeout,
		logger:       logger.With("component", "websocket_transport"),
	}
}

// Open dials the router and sends the join. ctx bounds only the dial.
func (t *WebSocketTransport) Open(ctx context.Context, req domain.JoinRequest, handler ports.EventHandler) error {
	dialer := *t.dialer
	if req.Settings.ProxyURL != "" {
		proxy, err := proxyFunc(req.Settings.ProxyURL)
		if err != nil {
			return err
		}
		dialer.Proxy = proxy
	}
	t.dialer = &dialer

	conn, err := t.dial(ctx)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		cancel()
		conn.Close()
		return domain.ErrIllegalState.Withf("transport closed")
	}
	t.conn = conn
	t.handler = handler
	t.sessionID = req.SessionID
	t.cancel = cancel
	t.mu.Unlock()

	if err := t.write(conn, domain.Command{Type: domain.CommandJoin, Join: &req}); err != nil {
		cancel()
		conn.Close()
		return domain.ErrConnectionFailed.Wrap("join not sent", err)
	}

	go t.run(runCtx, conn)
	return nil
}

// dial opens the first socket of a session through the breaker, if any.
func (t *WebSocketTransport) dial(ctx context.Context) (*websocket.Conn, error) {
	dial := func() (*websocket.Conn, error) {
		conn, _, err := t.dialer.DialContext(ctx, t.url, t.header)
		return conn, err
	}
	var (
		conn *websocket.Conn
		err  error
	)
	if t.breaker != nil {
		conn, err = circuitbreaker.Call(ctx, t.breaker, dial)
	} else {
		conn, err = dial()
	}
	switch {
	case errors.Is(err, circuitbreaker.ErrOpen):
		return nil, domain.ErrConnectionFailed.Wrap("signaling server unavailable", err)
	case err != nil:
		return nil, domain.ErrConnectionFailed.Wrap("dial failed", err)
	}
	return conn, nil
}

func proxyFunc(raw string) (func(*http.Request) (*url.URL, error), error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil, domain.ErrInvalidParam.Withf("invalid proxy url %q", raw)
	}
	return http.ProxyURL(u), nil
}

func (t *WebSocketTransport) Send(ctx context.Context, cmd domain.Command) error {
	t.mu.Lock()
	conn, closed := t.conn, t.closed
	t.mu.Unlock()
	if closed || conn == nil {
		return domain.ErrNotConnected
	}
	deadline := time.Now().Add(t.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(cmd); err != nil {
		return domain.ErrNotConnected.Wrap("write failed", err)
	}
	return nil
}

// Close never waits for the reader, so it is safe from inside the handler.
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn, cancel := t.conn, t.cancel
	t.conn = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn == nil {
		return nil
	}
	t.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	t.writeMu.Unlock()
	return conn.Close()
}

func (t *WebSocketTransport) write(conn *websocket.Conn, cmd domain.Command) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	return conn.WriteJSON(cmd)
}

func (t *WebSocketTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// deliver records session bookkeeping and forwards ev unless the transport
// was closed.
func (t *WebSocketTransport) deliver(ev domain.SessionEvent) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	switch ev.Type {
	case domain.EventJoinAccepted, domain.EventResumed:
		if ev.Connection != nil {
			t.connID = ev.Connection.ID
		}
		t.resumeToken = ev.ResumeToken
	}
	handler := t.handler
	t.mu.Unlock()
	handler(ev)
}

// run owns the read side and is the only goroutine calling the handler.
func (t *WebSocketTransport) run(ctx context.Context, conn *websocket.Conn) {
	for {
		err := t.readAll(conn)
		if t.isClosed() || errors.Is(err, errSessionEnded) {
			return
		}
		t.mu.Lock()
		joined := t.connID != ""
		t.conn = nil
		t.mu.Unlock()

		if !joined {
			t.deliver(domain.ErrorEvent(domain.EventJoinRejected, domain.ErrConnectionFailed.Wrap("socket closed before join completed", err)))
			return
		}
		t.logger.Warnw("signaling socket lost", "error", err)
		t.deliver(domain.SessionEvent{Type: domain.EventInterrupted})

		next, err := t.resume(ctx)
		if err != nil {
			if t.isClosed() {
				return
			}
			t.logger.Warnw("resume failed", "error", err)
			cause := err
			if domain.StatusOf(err) != domain.StatusSessionConnectionDropped {
				cause = domain.ErrConnectionDropped.Wrap("could not resume", err)
			}
			t.deliver(domain.ErrorEvent(domain.EventClosed, cause))
			return
		}
		conn = next
	}
}

var errSessionEnded = errors.New("session ended by router")

// readAll reads events until the socket fails or the router ends the
// session.
func (t *WebSocketTransport) readAll(conn *websocket.Conn) error {
	for {
		var ev domain.SessionEvent
		if err := conn.ReadJSON(&ev); err != nil {
			return err
		}
		t.deliver(ev)
		if ev.Type == domain.EventClosed || ev.Type == domain.EventJoinRejected {
			conn.Close()
			return errSessionEnded
		}
	}
}

// resume redials with backoff. The resumed event is delivered before
// resume returns so it precedes the replayed events.
func (t *WebSocketTransport) resume(ctx context.Context) (*websocket.Conn, error) {
	return retry.RetryWithResult(ctx, t.reconnect, func() (*websocket.Conn, error) {
		t.mu.Lock()
		req := domain.ResumeRequest{SessionID: t.sessionID, ConnectionID: t.connID, ResumeToken: t.resumeToken}
		t.mu.Unlock()

		dialCtx, cancel := context.WithTimeout(ctx, t.dialer.HandshakeTimeout)
		conn, _, err := t.dialer.DialContext(dialCtx, t.url, t.header)
		cancel()
		if err != nil {
			return nil, err
		}
		if err := t.write(conn, domain.Command{Type: domain.CommandResume, Resume: &req}); err != nil {
			conn.Close()
			return nil, err
		}

		var ev domain.SessionEvent
		conn.SetReadDeadline(time.Now().Add(t.dialer.HandshakeTimeout))
		if err := conn.ReadJSON(&ev); err != nil {
			conn.Close()
			return nil, err
		}
		conn.SetReadDeadline(time.Time{})
		if ev.Type != domain.EventResumed {
			conn.Close()
			if err := ev.Err(); err != nil {
				return nil, retry.Permanent(err)
			}
			return nil, retry.Permanent(domain.ErrConnectionDropped.Withf("unexpected %s during resume", ev.Type))
		}

		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			conn.Close()
			return nil, retry.Permanent(domain.ErrCancelled)
		}
		t.conn = conn
		t.mu.Unlock()
		t.deliver(ev)
		return conn, nil
	})
}
