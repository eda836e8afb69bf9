package client

import (
	"context"
	"sync"
	"time"

	"rtclink/internal/core/domain"
	"rtclink/internal/core/ports"
	"rtclink/internal/infrastructure/repositories/memory"
	"rtclink/pkg/dispatch"
	"rtclink/pkg/tracing"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"go.uber.org/zap"
)

const sendTimeout = 5 * time.Second

const (
	evConnect    = "connect"
	evConnected  = "connected"
	evInterrupt  = "interrupt"
	evResume     = "resume"
	evDisconnect = "disconnect"
)

// Session is one client's attachment to a routed media session. All
// methods are safe for concurrent use; callbacks run on the session's own
// dispatch goroutine.
type Session struct {
	engine   *Engine
	apiKey   string
	id       domain.SessionID
	cb       SessionCallbacks
	settings domain.SessionSettings
	logger   *zap.SugaredLogger

	// inbox serializes transport events, queue serializes app callbacks.
	inbox *dispatch.Queue
	queue *dispatch.Queue

	connections ports.ConnectionRepository
	streams     ports.StreamRepository

	mu             sync.Mutex
	state          *fsm.FSM
	deleted        bool
	generation     uint64
	transport      ports.Transport
	cancelConnect  context.CancelFunc
	connectTimer   *time.Timer
	connectStarted time.Time
	self           domain.Connection
	caps           domain.Capabilities
	publishers     map[domain.PublisherID]*Publisher
	subscribers    map[domain.SubscriberID]*Subscriber
	pending        []domain.Command
	pendingSignals int

	wg sync.WaitGroup
}

func newSession(e *Engine, apiKey string, id domain.SessionID, cb SessionCallbacks, settings domain.SessionSettings) *Session {
	log := e.logger.With("session_id", id)
	s := &Session{
		engine:      e,
		apiKey:      apiKey,
		id:          id,
		cb:          cb,
		settings:    settings,
		logger:      log,
		inbox:       dispatch.NewQueue("session-inbox", log),
		queue:       dispatch.NewQueue("session", log),
		connections: memory.NewMemoryConnectionRepository(),
		streams:     memory.NewMemoryStreamRepository(),
		publishers:  make(map[domain.PublisherID]*Publisher),
		subscribers: make(map[domain.SubscriberID]*Subscriber),
	}
	s.state = fsm.NewFSM(
		string(domain.SessionDisconnected),
		fsm.Events{
			{Name: evConnect, Src: []string{string(domain.SessionDisconnected)}, Dst: string(domain.SessionConnecting)},
			{Name: evConnected, Src: []string{string(domain.SessionConnecting)}, Dst: string(domain.SessionConnected)},
			{Name: evInterrupt, Src: []string{string(domain.SessionConnected)}, Dst: string(domain.SessionReconnecting)},
			{Name: evResume, Src: []string{string(domain.SessionReconnecting)}, Dst: string(domain.SessionConnected)},
			{Name: evDisconnect, Src: []string{
				string(domain.SessionConnecting),
				string(domain.SessionConnected),
				string(domain.SessionReconnecting),
			}, Dst: string(domain.SessionDisconnected)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, ev *fsm.Event) {
				from, to := domain.SessionState(ev.Src), domain.SessionState(ev.Dst)
				s.engine.metrics.SessionStateChanged(from, to)
				s.logger.Debugw("session state changed", "from", from, "to", to)
			},
		},
	)
	return s
}

// fire must be called with s.mu held and only after checking Can.
func (s *Session) fire(event string) {
	if err := s.state.Event(context.Background(), event); err != nil {
		s.logger.Warnw("session transition failed", "event", event, "error", err)
	}
}

func (s *Session) currentState() domain.SessionState {
	return domain.SessionState(s.state.Current())
}

func (s *Session) emit(name string, fn func()) {
	s.engine.metrics.CallbackDispatched("session", name)
	s.queue.Post(fn)
}

func (s *Session) ID() domain.SessionID {
	return s.id
}

func (s *Session) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentState()
}

// Connection returns the local connection, or a zero Connection while not
// connected.
func (s *Session) Connection() domain.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.self
}

func (s *Session) Capabilities() domain.Capabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caps
}

// Streams returns snapshots of the remote streams currently announced.
func (s *Session) Streams() []domain.Stream {
	list, err := s.streams.ListBySession(context.Background(), s.id)
	if err != nil {
		return nil
	}
	return list
}

// Connections returns snapshots of the remote connections currently known.
func (s *Session) Connections() []domain.Connection {
	list, err := s.connections.ListBySession(context.Background(), s.id)
	if err != nil {
		return nil
	}
	return list
}

// Connect starts joining the session with token. Completion is reported
// through OnConnected or OnError.
func (s *Session) Connect(token string) error {
	if token == "" {
		return domain.ErrInvalidParam.Withf("token is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleted {
		return domain.ErrNotInitialized
	}
	if !s.state.Can(evConnect) {
		return domain.ErrIllegalState.Withf("cannot connect while %s", s.currentState())
	}
	s.fire(evConnect)

	s.generation++
	gen := s.generation
	tr := s.engine.transport()
	s.transport = tr
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelConnect = cancel
	s.connectStarted = time.Now()
	timeout := s.engine.opts.ConnectTimeout
	s.connectTimer = time.AfterFunc(timeout, func() {
		s.deliver(gen, domain.ErrorEvent(domain.EventJoinRejected,
			domain.ErrConnectionTimedOut.Withf("no answer from the router within %s", timeout)))
	})

	req := domain.JoinRequest{
		APIKey:    s.apiKey,
		SessionID: s.id,
		Token:     token,
		Settings:  s.settings,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, span := tracing.TraceClientOperation(ctx, "connect", string(s.id))
		defer span.End()

		if err := tr.Open(ctx, req, func(ev domain.SessionEvent) { s.deliver(gen, ev) }); err != nil {
			tracing.RecordError(ctx, err)
			if domain.StatusOf(err) == domain.StatusFatal {
				err = domain.ErrConnectionFailed.Wrap("transport open failed", err)
			}
			s.deliver(gen, domain.ErrorEvent(domain.EventJoinRejected, err))
		}
	}()

	s.logger.Infow("session connecting", "connect_timeout", timeout)
	return nil
}

// deliver queues ev for the connect attempt identified by gen.
func (s *Session) deliver(gen uint64, ev domain.SessionEvent) {
	s.inbox.Post(func() { s.handleEvent(gen, ev) })
}

// Disconnect leaves the session. Every publisher is unpublished and every
// subscriber unsubscribed before OnDisconnected is posted.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	if s.deleted {
		s.mu.Unlock()
		return domain.ErrNotInitialized
	}
	if s.currentState() == domain.SessionDisconnected {
		s.mu.Unlock()
		return domain.ErrIllegalState.Withf("session is already disconnected")
	}
	tr := s.teardownLocked(domain.ErrPublisherSessionDisconnected, domain.ErrSubscriberSessionDisconnected)
	if cb := s.cb.OnDisconnected; cb != nil {
		s.emit("on_disconnected", func() { cb(s) })
	}
	s.mu.Unlock()

	s.leave(tr)
	s.logger.Infow("session disconnected")
	return nil
}

// Delete disconnects if needed and releases the session. No session
// callback runs after Delete returns. Publishers and subscribers attached
// to the session are detached but stay usable.
func (s *Session) Delete() error {
	s.mu.Lock()
	if s.deleted {
		s.mu.Unlock()
		return domain.ErrNotInitialized
	}
	s.deleted = true
	var tr ports.Transport
	if s.currentState() != domain.SessionDisconnected {
		tr = s.teardownLocked(domain.ErrPublisherSessionDisconnected, domain.ErrSubscriberSessionDisconnected)
	}
	s.mu.Unlock()

	s.leave(tr)
	s.inbox.Close()
	s.queue.Close()
	s.wg.Wait()
	s.engine.forgetSession(s)
	s.logger.Infow("session deleted")
	return nil
}

// teardownLocked moves the session to disconnected, detaches every
// publisher and subscriber and returns the transport to close. Events from
// the old transport are ignored afterwards.
func (s *Session) teardownLocked(pubReason, subReason error) ports.Transport {
	s.generation++
	s.stopConnectLocked()

	tr := s.transport
	s.transport = nil

	for id, p := range s.publishers {
		p.detach(s, pubReason)
		delete(s.publishers, id)
	}
	for id, sub := range s.subscribers {
		sub.detach(s, subReason)
		delete(s.subscribers, id)
	}
	s.pending = nil
	s.pendingSignals = 0
	s.clearRegistriesLocked()
	s.self = domain.Connection{}
	s.caps = domain.Capabilities{}

	if s.state.Can(evDisconnect) {
		s.fire(evDisconnect)
	}
	return tr
}

func (s *Session) stopConnectLocked() {
	if s.connectTimer != nil {
		s.connectTimer.Stop()
		s.connectTimer = nil
	}
	if s.cancelConnect != nil {
		s.cancelConnect()
		s.cancelConnect = nil
	}
}

func (s *Session) clearRegistriesLocked() {
	ctx := context.Background()
	if streams, err := s.streams.ListBySession(ctx, s.id); err == nil {
		for _, st := range streams {
			_ = s.streams.Delete(ctx, st.ID)
		}
	}
	if conns, err := s.connections.ListBySession(ctx, s.id); err == nil {
		for _, c := range conns {
			_ = s.connections.Remove(ctx, c.ID)
		}
	}
}

// leave tells the router goodbye and closes tr. Both steps are best effort.
func (s *Session) leave(tr ports.Transport) {
	if tr == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := tr.Send(ctx, domain.Command{Type: domain.CommandLeave}); err != nil {
		s.logger.Debugw("leave not delivered", "error", err)
	}
	if err := tr.Close(); err != nil {
		s.logger.Warnw("transport close failed", "error", err)
	}
}

// send delivers cmd on tr outside of s.mu.
func (s *Session) send(tr ports.Transport, cmd domain.Command) error {
	if tr == nil {
		return domain.ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := tr.Send(ctx, cmd); err != nil {
		return domain.ErrConnectionFailed.Wrap("send "+string(cmd.Type), err)
	}
	return nil
}

// sendOrQueueLocked decides how cmd leaves the session: it returns the
// transport to send on now, or queues cmd until the session resumes.
func (s *Session) sendOrQueueLocked(cmd domain.Command) ports.Transport {
	switch s.currentState() {
	case domain.SessionConnected:
		return s.transport
	case domain.SessionReconnecting:
		s.pending = append(s.pending, cmd)
	}
	return nil
}

// Publish starts publishing p. OnStreamCreated on p reports success.
func (s *Session) Publish(p *Publisher) error {
	if p == nil {
		return domain.ErrInvalidParam.Withf("publisher is nil")
	}

	s.mu.Lock()
	if s.deleted {
		s.mu.Unlock()
		return domain.ErrNotInitialized
	}
	if s.currentState() != domain.SessionConnected {
		s.mu.Unlock()
		return domain.ErrIllegalState.Withf("cannot publish while %s", s.currentState())
	}
	if !s.caps.CanPublish {
		s.mu.Unlock()
		return domain.ErrUnableToPublish.Withf("connection role does not allow publishing")
	}
	wire := domain.PublisherID(uuid.NewString())
	req, err := p.attach(s, wire)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.publishers[wire] = p
	tr := s.transport
	s.mu.Unlock()

	if err := s.send(tr, domain.Command{Type: domain.CommandPublish, Publish: &req}); err != nil {
		s.mu.Lock()
		if s.publishers[wire] == p {
			delete(s.publishers, wire)
			p.detach(s, domain.ErrUnableToPublish.Wrap("publish request not delivered", err))
		}
		s.mu.Unlock()
		return err
	}
	s.logger.Infow("publish requested", "publisher", p.Name(), "publisher_id", wire)
	return nil
}

// Unpublish stops publishing p. A publish still in flight is cancelled and
// reported to p as OnError(cancelled).
func (s *Session) Unpublish(p *Publisher) error {
	if p == nil {
		return domain.ErrInvalidParam.Withf("publisher is nil")
	}

	s.mu.Lock()
	if s.deleted {
		s.mu.Unlock()
		return domain.ErrNotInitialized
	}
	if s.currentState() == domain.SessionDisconnected || s.currentState() == domain.SessionConnecting {
		s.mu.Unlock()
		return domain.ErrIllegalState.Withf("cannot unpublish while %s", s.currentState())
	}
	s.mu.Unlock()
	return s.dropPublisher(p, domain.ErrCancelled)
}

// dropPublisher detaches p from the session in any state. It is the
// unpublish path shared with Publisher.Delete.
func (s *Session) dropPublisher(p *Publisher, reason error) error {
	s.mu.Lock()
	wire, ok := s.publisherWireLocked(p)
	if !ok {
		s.mu.Unlock()
		return domain.ErrPublisherNotFound.Withf("publisher %q is not published in this session", p.Name())
	}
	delete(s.publishers, wire)
	streamID := p.detach(s, reason)

	var tr ports.Transport
	cmd := domain.Command{Type: domain.CommandUnpublish, StreamID: streamID}
	if streamID != "" {
		tr = s.sendOrQueueLocked(cmd)
	}
	s.mu.Unlock()

	if tr != nil {
		if err := s.send(tr, cmd); err != nil {
			s.logger.Warnw("unpublish not delivered", "stream_id", streamID, "error", err)
		}
	}
	return nil
}

func (s *Session) publisherWireLocked(p *Publisher) (domain.PublisherID, bool) {
	for id, q := range s.publishers {
		if q == p {
			return id, true
		}
	}
	return "", false
}

// Subscribe starts receiving sub's stream. Subscribing to a stream the
// session does not know fails at once with ErrServerCannotFindStream.
func (s *Session) Subscribe(sub *Subscriber) error {
	if sub == nil {
		return domain.ErrInvalidParam.Withf("subscriber is nil")
	}

	s.mu.Lock()
	if s.deleted {
		s.mu.Unlock()
		return domain.ErrNotInitialized
	}
	if s.currentState() != domain.SessionConnected {
		s.mu.Unlock()
		return domain.ErrIllegalState.Withf("cannot subscribe while %s", s.currentState())
	}
	if !s.caps.CanSubscribe {
		s.mu.Unlock()
		return domain.ErrIllegalState.Withf("connection role does not allow subscribing")
	}
	streamID := sub.StreamID()
	if _, err := s.streams.GetByID(context.Background(), streamID); err != nil {
		s.mu.Unlock()
		return domain.ErrServerCannotFindStream.Withf("stream %s is not in session %s", streamID, s.id)
	}
	wire := domain.SubscriberID(uuid.NewString())
	if err := sub.attach(s, wire); err != nil {
		s.mu.Unlock()
		return err
	}
	s.subscribers[wire] = sub
	tr := s.transport
	s.mu.Unlock()

	cmd := domain.Command{
		Type:      domain.CommandSubscribe,
		Subscribe: &domain.SubscribeRequest{SubscriberID: wire, StreamID: streamID},
	}
	if err := s.send(tr, cmd); err != nil {
		s.mu.Lock()
		if s.subscribers[wire] == sub {
			delete(s.subscribers, wire)
			sub.detach(s, domain.ErrSubscriberInternal.Wrap("subscribe request not delivered", err))
		}
		s.mu.Unlock()
		return err
	}
	s.logger.Infow("subscribe requested", "stream_id", streamID, "subscriber_id", wire)
	return nil
}

// Unsubscribe stops sub. A subscribe still in flight completes with
// OnError(cancelled); a connected subscriber gets OnDisconnected.
func (s *Session) Unsubscribe(sub *Subscriber) error {
	if sub == nil {
		return domain.ErrInvalidParam.Withf("subscriber is nil")
	}

	s.mu.Lock()
	if s.deleted {
		s.mu.Unlock()
		return domain.ErrNotInitialized
	}
	if s.currentState() == domain.SessionDisconnected || s.currentState() == domain.SessionConnecting {
		s.mu.Unlock()
		return domain.ErrIllegalState.Withf("cannot unsubscribe while %s", s.currentState())
	}
	s.mu.Unlock()
	return s.dropSubscriber(sub, domain.ErrCancelled)
}

func (s *Session) dropSubscriber(sub *Subscriber, reason error) error {
	s.mu.Lock()
	var wire domain.SubscriberID
	for id, q := range s.subscribers {
		if q == sub {
			wire = id
			break
		}
	}
	if wire == "" {
		s.mu.Unlock()
		return domain.ErrSubscriberNotFound.Withf("subscriber is not subscribed in this session")
	}
	delete(s.subscribers, wire)
	sub.detach(s, reason)
	cmd := domain.Command{Type: domain.CommandUnsubscribe, SubscriberID: wire}
	tr := s.sendOrQueueLocked(cmd)
	s.mu.Unlock()

	if tr != nil {
		if err := s.send(tr, cmd); err != nil {
			s.logger.Warnw("unsubscribe not delivered", "subscriber_id", wire, "error", err)
		}
	}
	return nil
}

// ReportIssue records a quality problem for support and returns its id.
func (s *Session) ReportIssue(description string) (string, error) {
	s.mu.Lock()
	deleted := s.deleted
	self := s.self
	s.mu.Unlock()
	if deleted {
		return "", domain.ErrNotInitialized
	}

	issueID := uuid.NewString()
	s.logger.Infow("issue reported",
		"issue_id", issueID,
		"connection_id", self.ID,
		"description", description,
	)
	return issueID, nil
}

// sendStreamUpdate tells the router about a property change of one of the
// session's own streams.
func (s *Session) sendStreamUpdate(u domain.StreamUpdate) {
	cmd := domain.Command{Type: domain.CommandUpdate, Update: &u}
	s.mu.Lock()
	tr := s.sendOrQueueLocked(cmd)
	s.mu.Unlock()
	if tr == nil {
		return
	}
	if err := s.send(tr, cmd); err != nil {
		s.logger.Warnw("stream update not delivered", "stream_id", u.StreamID, "error", err)
	}
}
