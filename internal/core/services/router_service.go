package services

import (
	"context"
	"sync"
	"time"

	"rtclink/internal/core/domain"
	"rtclink/internal/core/ports"
	"rtclink/pkg/config"
	logging "rtclink/pkg/logger"
	"rtclink/pkg/tracing"
	"rtclink/pkg/utils"
	"rtclink/pkg/validation"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RouterConfig bounds what one session may hold.
type RouterConfig struct {
	MaxConnectionsPerSession int
	MaxStreamsPerSession     int
	MaxSubscribersPerStream  int
	ResumeGracePeriod        time.Duration
	ResumeBufferSize         int
	SignalsPerSecond         float64
	SignalBurst              int
}

func RouterConfigFromConfig(cfg *config.Config) RouterConfig {
	rc := RouterConfig{
		MaxConnectionsPerSession: cfg.Sessions.MaxConnectionsPerSession,
		MaxStreamsPerSession:     cfg.Sessions.MaxStreamsPerSession,
		MaxSubscribersPerStream:  cfg.Sessions.MaxSubscribersPerStream,
		ResumeGracePeriod:        cfg.Signal.ResumeGracePeriod,
		ResumeBufferSize:         cfg.Signal.ResumeBufferSize,
	}
	if cfg.RateLimiting.Enabled {
		rc.SignalsPerSecond = cfg.RateLimiting.Signals.PerSecond
		rc.SignalBurst = cfg.RateLimiting.Signals.Burst
	}
	return rc
}

type routedSession struct {
	id      domain.SessionID
	members map[domain.ConnectionID]*member
	archive *domain.Archive
	// subscriptions are keyed by the subscriber id the client chose.
	subscriptions map[domain.SubscriberID]subscription
}

type subscription struct {
	stream domain.StreamID
	owner  domain.ConnectionID
}

type member struct {
	conn       domain.Connection
	session    *routedSession
	caps       domain.Capabilities
	suppressed bool
	limiter    *rate.Limiter

	sink        ports.RouterSink
	resumeToken string
	buffer      []domain.SessionEvent
	overflow    bool
	grace       *time.Timer
}

func (m *member) deliver(ev domain.SessionEvent, limit int) {
	if m.sink != nil {
		m.sink.Deliver(ev)
		return
	}
	if m.overflow {
		return
	}
	if len(m.buffer) >= limit {
		m.overflow = true
		m.buffer = nil
		return
	}
	m.buffer = append(m.buffer, ev)
}

// RouterService routes the signaling protocol for every session on this
// node. Membership lives in memory; connections and streams are mirrored
// into the registries so other nodes and the HTTP API can read them.
type RouterService struct {
	cfg         RouterConfig
	tokens      ports.TokenIssuer
	connections ports.ConnectionRepository
	streams     ports.StreamRepository
	metrics     ports.RouterMetrics
	logger      *zap.SugaredLogger
	clog        *logging.ContextLogger

	mu       sync.Mutex
	sessions map[domain.SessionID]*routedSession
	members  map[domain.ConnectionID]*member
}

func NewRouterService(
	cfg RouterConfig,
	tokens ports.TokenIssuer,
	connections ports.ConnectionRepository,
	streams ports.StreamRepository,
	metrics ports.RouterMetrics,
	logger *zap.SugaredLogger,
) *RouterService {
	if metrics == nil {
		metrics = noopRouterMetrics{}
	}
	if cfg.ResumeBufferSize <= 0 {
		cfg.ResumeBufferSize = 512
	}
	logger = logger.With("component", "router")
	return &RouterService{
		cfg:         cfg,
		tokens:      tokens,
		connections: connections,
		streams:     streams,
		metrics:     metrics,
		logger:      logger,
		clog:        logging.NewContextLogger(logger.Desugar()),
		sessions:    make(map[domain.SessionID]*routedSession),
		members:     make(map[domain.ConnectionID]*member),
	}
}

var (
	_ ports.SessionRouter = (*RouterService)(nil)
	_ ports.SessionAdmin  = (*RouterService)(nil)
)

func (r *RouterService) sessionLocked(id domain.SessionID, create bool) *routedSession {
	s, ok := r.sessions[id]
	if !ok && create {
		s = &routedSession{
			id:            id,
			members:       make(map[domain.ConnectionID]*member),
			subscriptions: make(map[domain.SubscriberID]subscription),
		}
		r.sessions[id] = s
	}
	return s
}

func (r *RouterService) newLimiter() *rate.Limiter {
	if r.cfg.SignalsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := r.cfg.SignalBurst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(r.cfg.SignalsPerSecond), burst)
}

// broadcastLocked delivers ev to every member of s except skip.
func (r *RouterService) broadcastLocked(s *routedSession, skip domain.ConnectionID, ev domain.SessionEvent) int {
	n := 0
	for id, m := range s.members {
		if id == skip {
			continue
		}
		m.deliver(ev, r.cfg.ResumeBufferSize)
		n++
	}
	return n
}

// Join admits a new connection to the session named in req.
func (r *RouterService) Join(ctx context.Context, req domain.JoinRequest, sink ports.RouterSink) (domain.Connection, error) {
	ctx, span := tracing.TraceSessionOperation(ctx, "join", string(req.SessionID), "")
	defer span.End()
	ctx = logging.WithSessionID(ctx, string(req.SessionID))

	claims, err := r.tokens.VerifyToken(req.Token)
	if err != nil {
		r.metrics.CommandRejected(string(domain.CommandJoin), domain.StatusSessionAuthorizationFailure)
		r.clog.Sugar(ctx).Debugw("join rejected", "error", err)
		return domain.Connection{}, domain.ErrAuthorizationFailure.Wrap("token rejected", err)
	}
	if claims.SessionID != req.SessionID {
		r.metrics.CommandRejected(string(domain.CommandJoin), domain.StatusSessionAuthorizationFailure)
		r.clog.Sugar(ctx).Debugw("join rejected", "token_session_id", claims.SessionID)
		return domain.Connection{}, domain.ErrAuthorizationFailure.Withf("token is not valid for session %s", req.SessionID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.sessionLocked(req.SessionID, true)
	if limit := r.cfg.MaxConnectionsPerSession; limit > 0 && len(s.members) >= limit {
		r.metrics.CommandRejected(string(domain.CommandJoin), domain.StatusSessionConnectionLimitExceeded)
		return domain.Connection{}, domain.ErrConnectionLimitExceeded.Withf("session %s already has %d connections", s.id, limit)
	}

	conn := domain.Connection{
		ID:           domain.ConnectionID(utils.GenerateConnectionID()),
		SessionID:    s.id,
		Data:         claims.Data,
		CreationTime: time.Now(),
	}
	ctx = logging.WithConnectionID(ctx, string(conn.ID))
	if err := r.connections.Add(ctx, conn); err != nil {
		tracing.RecordError(ctx, err)
		return domain.Connection{}, domain.ErrSessionInternal.Wrap("connection registry unavailable", err)
	}

	m := &member{
		conn:        conn,
		session:     s,
		caps:        domain.CapabilitiesFor(claims.Role),
		suppressed:  req.Settings.ConnectionEventsSuppressed,
		limiter:     r.newLimiter(),
		sink:        sink,
		resumeToken: utils.GenerateResumeToken(),
	}

	accepted := domain.SessionEvent{
		Type:         domain.EventJoinAccepted,
		Connection:   &conn,
		Capabilities: &m.caps,
		ResumeToken:  m.resumeToken,
	}
	for _, other := range s.members {
		if !m.suppressed {
			accepted.Connections = append(accepted.Connections, other.conn)
		}
	}
	if streams, err := r.streams.ListBySession(ctx, s.id); err == nil {
		accepted.Streams = streams
	}
	m.deliver(accepted, r.cfg.ResumeBufferSize)
	if s.archive != nil {
		archive := *s.archive
		m.deliver(domain.SessionEvent{Type: domain.EventArchiveStarted, Archive: &archive}, r.cfg.ResumeBufferSize)
	}

	created := domain.SessionEvent{Type: domain.EventConnectionCreated, Connection: &conn}
	for _, other := range s.members {
		if !other.suppressed {
			other.deliver(created, r.cfg.ResumeBufferSize)
		}
	}
	s.members[conn.ID] = m
	r.members[conn.ID] = m

	r.metrics.ConnectionJoined()
	r.clog.Sugar(ctx).Infow("connection joined",
		"role", claims.Role,
		"connections", len(s.members),
	)
	return conn, nil
}

// Resume reattaches a detached connection. Events that arrived while it was
// away are replayed in order after the resumed event.
func (r *RouterService) Resume(ctx context.Context, req domain.ResumeRequest, sink ports.RouterSink) (domain.Connection, error) {
	_, span := tracing.TraceSessionOperation(ctx, "resume", string(req.SessionID), string(req.ConnectionID))
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[req.ConnectionID]
	if !ok || m.session.id != req.SessionID || m.resumeToken != req.ResumeToken {
		r.metrics.CommandRejected(string(domain.CommandResume), domain.StatusSessionConnectionDropped)
		return domain.Connection{}, domain.ErrConnectionDropped.Withf("connection %s cannot be resumed", req.ConnectionID)
	}
	if m.overflow {
		r.leaveLocked(ctx, m, "resume_overflow")
		r.metrics.CommandRejected(string(domain.CommandResume), domain.StatusSessionConnectionDropped)
		return domain.Connection{}, domain.ErrConnectionDropped.Withf("too many events missed while away")
	}

	if m.grace != nil {
		m.grace.Stop()
		m.grace = nil
	}
	buffered := m.buffer
	m.buffer = nil
	m.sink = sink
	m.resumeToken = utils.GenerateResumeToken()

	conn := m.conn
	sink.Deliver(domain.SessionEvent{Type: domain.EventResumed, Connection: &conn, ResumeToken: m.resumeToken})
	for _, ev := range buffered {
		sink.Deliver(ev)
	}

	r.logger.Infow("connection resumed", "session_id", m.session.id, "connection_id", conn.ID, "replayed", len(buffered))
	return conn, nil
}

// Detach marks the connection's socket as gone. The connection stays in the
// session for the grace period so it can resume.
func (r *RouterService) Detach(ctx context.Context, connID domain.ConnectionID, sink ports.RouterSink) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// A resume may already have replaced the socket being reported.
	m, ok := r.members[connID]
	if !ok || m.sink == nil || m.sink != sink {
		return
	}
	m.sink = nil
	grace := r.cfg.ResumeGracePeriod
	if grace <= 0 {
		r.leaveLocked(ctx, m, "lost")
		return
	}
	m.grace = time.AfterFunc(grace, func() { r.expire(m) })
	r.logger.Debugw("connection detached", "connection_id", connID, "grace", grace)
}

func (r *RouterService) expire(m *member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.members[m.conn.ID] != m || m.sink != nil {
		return
	}
	r.leaveLocked(context.Background(), m, "timeout")
}

func (r *RouterService) Leave(ctx context.Context, connID domain.ConnectionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[connID]
	if !ok {
		return domain.ErrConnectionNotFound.Withf("connection %s", connID)
	}
	r.leaveLocked(ctx, m, "leave")
	return nil
}

// leaveLocked removes m: its subscriptions, then its streams, then the
// connection itself.
func (r *RouterService) leaveLocked(ctx context.Context, m *member, reason string) {
	if m.grace != nil {
		m.grace.Stop()
		m.grace = nil
	}
	s := m.session

	dropped := 0
	for id, sub := range s.subscriptions {
		if sub.owner == m.conn.ID {
			delete(s.subscriptions, id)
			dropped++
		}
	}
	if dropped > 0 {
		r.metrics.SubscriptionChanged(-dropped)
	}

	if streams, err := r.streams.ListByConnection(ctx, m.conn.ID); err == nil {
		for _, st := range streams {
			r.unpublishLocked(ctx, s, st, false)
		}
	}

	if err := r.connections.Remove(ctx, m.conn.ID); err != nil {
		r.logger.Warnw("connection registry remove failed", "connection_id", m.conn.ID, "error", err)
	}
	delete(s.members, m.conn.ID)
	delete(r.members, m.conn.ID)
	m.sink = nil
	m.buffer = nil

	conn := m.conn
	ev := domain.SessionEvent{Type: domain.EventConnectionDropped, Connection: &conn}
	for _, other := range s.members {
		if !other.suppressed {
			other.deliver(ev, r.cfg.ResumeBufferSize)
		}
	}

	r.metrics.ConnectionLeft(reason)
	r.logger.Infow("connection left", "session_id", s.id, "connection_id", conn.ID, "reason", reason)
}

// unpublishLocked removes a stream and the subscriptions to it. The owner
// hears about it only when notifyOwner is set.
func (r *RouterService) unpublishLocked(ctx context.Context, s *routedSession, st domain.Stream, notifyOwner bool) {
	if err := r.streams.Delete(ctx, st.ID); err != nil {
		return
	}
	dropped := 0
	for id, sub := range s.subscriptions {
		if sub.stream == st.ID {
			delete(s.subscriptions, id)
			dropped++
		}
	}
	if dropped > 0 {
		r.metrics.SubscriptionChanged(-dropped)
	}

	skip := st.Connection.ID
	if notifyOwner {
		skip = ""
	}
	r.broadcastLocked(s, skip, domain.SessionEvent{Type: domain.EventStreamDestroyed, StreamID: st.ID})
	r.metrics.StreamUnpublished()
	r.logger.Infow("stream unpublished", "session_id", s.id, "stream_id", st.ID, "subscriptions_dropped", dropped)
}

// Handle processes one command from a joined connection. Rejections are
// delivered to the connection as events; the returned error only reports
// commands that could not be attributed or parsed.
func (r *RouterService) Handle(ctx context.Context, connID domain.ConnectionID, cmd domain.Command) error {
	start := time.Now()
	defer func() { r.metrics.CommandDuration(string(cmd.Type), time.Since(start)) }()

	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[connID]
	if !ok {
		return domain.ErrConnectionNotFound.Withf("connection %s", connID)
	}
	ctx, span := tracing.TraceSessionOperation(ctx, string(cmd.Type), string(m.session.id), string(connID))
	defer span.End()
	ctx = logging.WithConnectionID(logging.WithSessionID(ctx, string(m.session.id)), string(connID))

	var err error
	switch cmd.Type {
	case domain.CommandPublish:
		err = r.publishLocked(ctx, m, cmd.Publish)
	case domain.CommandUnpublish:
		err = r.unpublishOwnLocked(ctx, m, cmd.StreamID)
	case domain.CommandUpdate:
		err = r.updateLocked(ctx, m, cmd.Update)
	case domain.CommandSubscribe:
		err = r.subscribeLocked(ctx, m, cmd.Subscribe)
	case domain.CommandUnsubscribe:
		r.unsubscribeLocked(m, cmd.SubscriberID)
	case domain.CommandSignal:
		err = r.signalLocked(ctx, m, cmd.Signal)
	case domain.CommandLeave:
		r.leaveLocked(ctx, m, "leave")
	default:
		err = domain.ErrInvalidParam.Withf("unexpected command %q", cmd.Type)
	}
	if err != nil {
		tracing.RecordError(ctx, err)
		r.metrics.CommandRejected(string(cmd.Type), domain.StatusOf(err))
		r.clog.Sugar(ctx).Debugw("command failed", "command", cmd.Type, "error", err)
	}
	return err
}

func (r *RouterService) rejectLocked(ctx context.Context, m *member, cmd domain.CommandType, ev domain.SessionEvent, err error) {
	ev.Status = domain.StatusOf(err)
	ev.Message = err.Error()
	m.deliver(ev, r.cfg.ResumeBufferSize)
	r.metrics.CommandRejected(string(cmd), ev.Status)
	r.clog.Sugar(ctx).Debugw("command rejected", "command", cmd, "status", ev.Status)
}

func (r *RouterService) publishLocked(ctx context.Context, m *member, req *domain.PublishRequest) error {
	if req == nil || req.PublisherID == "" {
		return domain.ErrInvalidParam.Withf("publish without a publisher id")
	}
	rejected := domain.SessionEvent{Type: domain.EventPublishRejected, PublisherID: req.PublisherID}
	if !m.caps.CanPublish {
		r.rejectLocked(ctx, m, domain.CommandPublish, rejected, domain.ErrUnableToPublish.Withf("role cannot publish"))
		return nil
	}
	if err := validation.ValidateStreamName(req.Name); err != nil {
		r.rejectLocked(ctx, m, domain.CommandPublish, rejected, domain.ErrUnableToPublish.Wrap("invalid stream name", err))
		return nil
	}
	if limit := r.cfg.MaxStreamsPerSession; limit > 0 {
		existing, err := r.streams.ListBySession(ctx, m.session.id)
		if err != nil {
			return domain.ErrSessionInternal.Wrap("stream registry unavailable", err)
		}
		if len(existing) >= limit {
			r.rejectLocked(ctx, m, domain.CommandPublish, rejected, domain.ErrPublishStreamLimit.Withf("session has %d streams", len(existing)))
			return nil
		}
	}

	stream := domain.Stream{
		ID:            domain.StreamID(utils.GenerateStreamID()),
		Name:          req.Name,
		HasAudio:      req.HasAudio && req.HasAudioTrack,
		HasVideo:      req.HasVideo && req.HasVideoTrack,
		HasAudioTrack: req.HasAudioTrack,
		HasVideoTrack: req.HasVideoTrack,
		Width:         req.Width,
		Height:        req.Height,
		VideoType:     req.VideoType,
		CreationTime:  time.Now(),
		Connection:    m.conn,
	}
	if err := r.streams.Create(ctx, stream); err != nil {
		r.rejectLocked(ctx, m, domain.CommandPublish, rejected, domain.ErrUnableToPublish.Wrap("stream not registered", err))
		return nil
	}

	m.deliver(domain.SessionEvent{Type: domain.EventPublishAccepted, PublisherID: req.PublisherID, Stream: &stream}, r.cfg.ResumeBufferSize)
	r.broadcastLocked(m.session, m.conn.ID, domain.SessionEvent{Type: domain.EventStreamCreated, Stream: &stream})
	r.metrics.StreamPublished()
	r.clog.Sugar(ctx).Infow("stream published", "stream_id", stream.ID)
	return nil
}

func (r *RouterService) ownStreamLocked(ctx context.Context, m *member, id domain.StreamID) (domain.Stream, bool) {
	st, err := r.streams.GetByID(ctx, id)
	if err != nil || st.Connection.ID != m.conn.ID {
		return domain.Stream{}, false
	}
	return st, true
}

func (r *RouterService) unpublishOwnLocked(ctx context.Context, m *member, id domain.StreamID) error {
	st, ok := r.ownStreamLocked(ctx, m, id)
	if !ok {
		// Already gone; a forced unpublish may have raced the client.
		r.logger.Debugw("unpublish of unknown stream", "connection_id", m.conn.ID, "stream_id", id)
		return nil
	}
	r.unpublishLocked(ctx, m.session, st, false)
	return nil
}

func (r *RouterService) updateLocked(ctx context.Context, m *member, u *domain.StreamUpdate) error {
	if u == nil {
		return domain.ErrInvalidParam.Withf("update without a body")
	}
	st, ok := r.ownStreamLocked(ctx, m, u.StreamID)
	if !ok {
		return domain.ErrStreamNotFound.Withf("stream %s", u.StreamID)
	}
	next, changed := u.Apply(st)
	if !changed {
		return nil
	}
	if err := r.streams.Update(ctx, next); err != nil {
		return domain.ErrSessionInternal.Wrap("stream registry unavailable", err)
	}
	update := *u
	r.broadcastLocked(m.session, m.conn.ID, domain.SessionEvent{Type: domain.EventStreamUpdated, Update: &update})
	return nil
}

func (r *RouterService) subscribeLocked(ctx context.Context, m *member, req *domain.SubscribeRequest) error {
	if req == nil || req.SubscriberID == "" {
		return domain.ErrInvalidParam.Withf("subscribe without a subscriber id")
	}
	rejected := domain.SessionEvent{Type: domain.EventSubscribeRejected, SubscriberID: req.SubscriberID}
	s := m.session
	if !m.caps.CanSubscribe {
		r.rejectLocked(ctx, m, domain.CommandSubscribe, rejected, domain.ErrSubscriberInternal.Withf("role cannot subscribe"))
		return nil
	}
	st, err := r.streams.GetByID(ctx, req.StreamID)
	if err != nil || st.Connection.SessionID != s.id {
		r.rejectLocked(ctx, m, domain.CommandSubscribe, rejected, domain.ErrServerCannotFindStream.Withf("stream %s", req.StreamID))
		return nil
	}
	if limit := r.cfg.MaxSubscribersPerStream; limit > 0 {
		n := 0
		for _, sub := range s.subscriptions {
			if sub.stream == st.ID {
				n++
			}
		}
		if n >= limit {
			r.rejectLocked(ctx, m, domain.CommandSubscribe, rejected, domain.ErrSubscriberLimitExceeded.Withf("stream %s has %d subscribers", st.ID, n))
			return nil
		}
	}

	s.subscriptions[req.SubscriberID] = subscription{stream: st.ID, owner: m.conn.ID}
	m.deliver(domain.SessionEvent{Type: domain.EventSubscribeAccepted, SubscriberID: req.SubscriberID, StreamID: st.ID}, r.cfg.ResumeBufferSize)
	r.metrics.SubscriptionChanged(1)
	return nil
}

func (r *RouterService) unsubscribeLocked(m *member, id domain.SubscriberID) {
	s := m.session
	sub, ok := s.subscriptions[id]
	if !ok || sub.owner != m.conn.ID {
		return
	}
	delete(s.subscriptions, id)
	r.metrics.SubscriptionChanged(-1)
}

func (r *RouterService) signalLocked(ctx context.Context, m *member, sig *domain.OutboundSignal) error {
	if sig == nil {
		return domain.ErrInvalidParam.Withf("signal without a body")
	}
	if err := sig.Validate(); err != nil {
		r.rejectLocked(ctx, m, domain.CommandSignal, domain.SessionEvent{Type: domain.EventError}, err)
		return nil
	}
	if !m.limiter.Allow() {
		r.rejectLocked(ctx, m, domain.CommandSignal, domain.SessionEvent{Type: domain.EventError},
			domain.ErrSessionIllegalState.Withf("signal rate exceeded"))
		return nil
	}

	ev := domain.SessionEvent{
		Type:   domain.EventSignal,
		Signal: &domain.Signal{Type: sig.Type, Data: sig.Data, From: m.conn},
	}
	recipients := 0
	if sig.To != "" {
		target, ok := m.session.members[sig.To]
		if !ok {
			r.rejectLocked(ctx, m, domain.CommandSignal, domain.SessionEvent{Type: domain.EventError},
				domain.ErrConnectionNotFound.Withf("connection %s", sig.To))
			return nil
		}
		target.deliver(ev, r.cfg.ResumeBufferSize)
		recipients = 1
	} else {
		recipients = r.broadcastLocked(m.session, "", ev)
	}

	_, span := tracing.TraceSignal(ctx, string(m.session.id), sig.Type, recipients)
	span.End()
	r.metrics.SignalRouted(recipients)
	return nil
}

// CreateSession registers an empty session and returns its id.
func (r *RouterService) CreateSession(ctx context.Context) (domain.SessionID, error) {
	id := domain.SessionID(utils.GenerateID("ses"))
	r.mu.Lock()
	r.sessionLocked(id, true)
	r.mu.Unlock()
	r.logger.Infow("session created", "session_id", id)
	return id, nil
}

func (r *RouterService) SessionInfo(ctx context.Context, id domain.SessionID) (ports.SessionInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessionLocked(id, false)
	if s == nil {
		return ports.SessionInfo{}, domain.ErrInvalidSession.Withf("session %s does not exist", id)
	}
	info := ports.SessionInfo{ID: id, Connections: []domain.Connection{}, Streams: []domain.Stream{}}
	if conns, err := r.connections.ListBySession(ctx, id); err == nil {
		info.Connections = conns
	}
	if streams, err := r.streams.ListBySession(ctx, id); err == nil {
		info.Streams = streams
	}
	if s.archive != nil {
		archive := *s.archive
		info.Archive = &archive
	}
	return info, nil
}

// StartArchive starts recording a session. Only one archive runs at a time.
func (r *RouterService) StartArchive(ctx context.Context, id domain.SessionID, name string) (domain.Archive, error) {
	if err := validation.ValidateArchiveName(name); err != nil {
		return domain.Archive{}, domain.ErrInvalidParam.Wrap("invalid archive name", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessionLocked(id, false)
	if s == nil {
		return domain.Archive{}, domain.ErrInvalidSession.Withf("session %s does not exist", id)
	}
	if s.archive != nil {
		return domain.Archive{}, domain.ErrIllegalState.Withf("archive %s is already running", s.archive.ID)
	}
	archive := domain.Archive{
		ID:        utils.GenerateArchiveID(),
		Name:      name,
		SessionID: id,
		StartedAt: time.Now(),
	}
	s.archive = &archive
	r.broadcastLocked(s, "", domain.SessionEvent{Type: domain.EventArchiveStarted, Archive: &archive})
	r.logger.Infow("archive started", "session_id", id, "archive_id", archive.ID)
	return archive, nil
}

func (r *RouterService) StopArchive(ctx context.Context, id domain.SessionID, archiveID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessionLocked(id, false)
	if s == nil {
		return domain.ErrInvalidSession.Withf("session %s does not exist", id)
	}
	if s.archive == nil || s.archive.ID != archiveID {
		return domain.ErrIllegalState.Withf("archive %s is not running", archiveID)
	}
	archive := *s.archive
	s.archive = nil
	r.broadcastLocked(s, "", domain.SessionEvent{Type: domain.EventArchiveStopped, Archive: &archive})
	r.logger.Infow("archive stopped", "session_id", id, "archive_id", archiveID)
	return nil
}

// ForceDisconnect tells the connection it was removed, then removes it.
func (r *RouterService) ForceDisconnect(ctx context.Context, id domain.SessionID, connID domain.ConnectionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[connID]
	if !ok || m.session.id != id {
		return domain.ErrConnectionNotFound.Withf("connection %s is not in session %s", connID, id)
	}
	ev := domain.ErrorEvent(domain.EventClosed, domain.ErrForceDisconnected.Withf("removed by a moderator"))
	m.deliver(ev, r.cfg.ResumeBufferSize)
	r.leaveLocked(ctx, m, "forced")
	return nil
}

// ForceUnpublish removes a stream and tells its owner as well as everyone
// else.
func (r *RouterService) ForceUnpublish(ctx context.Context, id domain.SessionID, streamID domain.StreamID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessionLocked(id, false)
	if s == nil {
		return domain.ErrInvalidSession.Withf("session %s does not exist", id)
	}
	st, err := r.streams.GetByID(ctx, streamID)
	if err != nil || st.Connection.SessionID != id {
		return domain.ErrStreamNotFound.Withf("stream %s is not in session %s", streamID, id)
	}
	r.unpublishLocked(ctx, s, st, true)
	return nil
}

// Close drops every connection without notifying anyone. Used on shutdown.
func (r *RouterService) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.members {
		if m.grace != nil {
			m.grace.Stop()
		}
	}
}

type noopRouterMetrics struct{}

func (noopRouterMetrics) ConnectionJoined()                     {}
func (noopRouterMetrics) ConnectionLeft(string)                 {}
func (noopRouterMetrics) StreamPublished()                      {}
func (noopRouterMetrics) StreamUnpublished()                    {}
func (noopRouterMetrics) SubscriptionChanged(int)               {}
func (noopRouterMetrics) SignalRouted(int)                      {}
func (noopRouterMetrics) CommandRejected(string, domain.Status) {}
func (noopRouterMetrics) CommandDuration(string, time.Duration) {}
