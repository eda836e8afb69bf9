package signal

import (
	"context"
	"errors"
	"sync"

	"rtclink/internal/core/domain"
	"rtclink/internal/core/ports"
	"rtclink/pkg/dispatch"

	"go.uber.org/zap"
)

// LoopbackTransport connects a client session straight to an in-process
// router. Interrupt, Restore and Drop simulate network trouble.
type LoopbackTransport struct {
	router ports.SessionRouter
	logger *zap.SugaredLogger
	queue  *dispatch.Queue

	mu          sync.Mutex
	handler     ports.EventHandler
	sessionID   domain.SessionID
	connID      domain.ConnectionID
	resumeToken string
	// gen invalidates sinks handed to the router before an interruption.
	gen         uint64
	interrupted bool
	closed      bool
}

var _ ports.Transport = (*LoopbackTransport)(nil)

func NewLoopbackTransport(router ports.SessionRouter, logger *zap.SugaredLogger) *LoopbackTransport {
	return &LoopbackTransport{
		router: router,
		logger: logger.With("component", "loopback_transport"),
		queue:  dispatch.NewQueue("loopback", logger),
	}
}

// LoopbackFactory creates loopback transports sharing one router.
func LoopbackFactory(router ports.SessionRouter, logger *zap.SugaredLogger) ports.TransportFactory {
	return func() ports.Transport { return NewLoopbackTransport(router, logger) }
}

type loopbackSink struct {
	t   *LoopbackTransport
	gen uint64
}

// Deliver runs under the router's lock, so it only bookkeeps and posts.
func (s loopbackSink) Deliver(ev domain.SessionEvent) {
	t := s.t
	t.mu.Lock()
	if t.closed || t.gen != s.gen {
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
	t.mu.Unlock()
	t.post(ev)
}

func (t *LoopbackTransport) post(ev domain.SessionEvent) {
	t.queue.Post(func() {
		t.mu.Lock()
		handler, closed := t.handler, t.closed
		t.mu.Unlock()
		if !closed && handler != nil {
			handler(ev)
		}
	})
}

func (t *LoopbackTransport) Open(ctx context.Context, req domain.JoinRequest, handler ports.EventHandler) error {
	t.mu.Lock()
	if t.closed || t.handler != nil {
		t.mu.Unlock()
		return domain.ErrIllegalState.Withf("loopback transport already used")
	}
	t.handler = handler
	t.sessionID = req.SessionID
	sink := loopbackSink{t: t, gen: t.gen}
	t.mu.Unlock()

	if _, err := t.router.Join(ctx, req, sink); err != nil {
		t.post(domain.ErrorEvent(domain.EventJoinRejected, err))
	}
	return nil
}

func (t *LoopbackTransport) Send(ctx context.Context, cmd domain.Command) error {
	t.mu.Lock()
	id, down := t.connID, t.closed || t.interrupted
	t.mu.Unlock()
	if down || id == "" {
		return domain.ErrNotConnected
	}
	if err := t.router.Handle(ctx, id, cmd); err != nil {
		if errors.Is(err, domain.ErrConnectionNotFound) {
			return domain.ErrNotConnected.Wrap("router forgot the connection", err)
		}
		return err
	}
	return nil
}

// Interrupt cuts the link. The router keeps the connection for its grace
// period and the session sees interrupted.
func (t *LoopbackTransport) Interrupt() {
	t.mu.Lock()
	if t.closed || t.interrupted || t.connID == "" {
		t.mu.Unlock()
		return
	}
	t.interrupted = true
	stale := loopbackSink{t: t, gen: t.gen}
	t.gen++
	id := t.connID
	t.mu.Unlock()

	t.router.Detach(context.Background(), id, stale)
	t.post(domain.SessionEvent{Type: domain.EventInterrupted})
}

// Restore resumes after Interrupt. A failed resume closes the session.
func (t *LoopbackTransport) Restore(ctx context.Context) error {
	t.mu.Lock()
	if t.closed || !t.interrupted {
		t.mu.Unlock()
		return domain.ErrIllegalState.Withf("transport is not interrupted")
	}
	req := domain.ResumeRequest{SessionID: t.sessionID, ConnectionID: t.connID, ResumeToken: t.resumeToken}
	t.interrupted = false
	sink := loopbackSink{t: t, gen: t.gen}
	t.mu.Unlock()

	if _, err := t.router.Resume(ctx, req, sink); err != nil {
		t.logger.Warnw("loopback resume failed", "connection_id", req.ConnectionID, "error", err)
		t.post(domain.ErrorEvent(domain.EventClosed, err))
		return err
	}
	return nil
}

// Drop behaves like a reconnect that never succeeds.
func (t *LoopbackTransport) Drop() {
	t.Interrupt()
	t.mu.Lock()
	id := t.connID
	t.mu.Unlock()
	if err := t.router.Leave(context.Background(), id); err != nil {
		t.logger.Debugw("leave on drop", "connection_id", id, "error", err)
	}
	t.post(domain.ErrorEvent(domain.EventClosed, domain.ErrConnectionDropped.Withf("reconnect failed")))
}

func (t *LoopbackTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	id := t.connID
	t.mu.Unlock()

	if id != "" {
		if err := t.router.Leave(context.Background(), id); err != nil && !errors.Is(err, domain.ErrConnectionNotFound) {
			t.logger.Warnw("leave on close failed", "connection_id", id, "error", err)
		}
	}
	t.queue.Close()
	return nil
}
