package client

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"rtclink/internal/core/domain"
	"rtclink/internal/core/ports"
	"rtclink/pkg/logger"
	"rtclink/pkg/videoframe"

	"github.com/stretchr/testify/require"
)

var selfConn = domain.Connection{ID: "conn_self", SessionID: testSession, Data: "me"}

const (
	testSession = domain.SessionID("session-1")
	testAPIKey  = "key123"
)

// scriptedTransport answers like a cooperative router unless told
// otherwise. Tests push further events with push.
type scriptedTransport struct {
	mu      sync.Mutex
	handler ports.EventHandler
	join    domain.JoinRequest
	sent    []domain.Command
	closed  bool
	nextID  int

	silent        bool
	openErr       error
	holdSubscribe bool
	initial       []domain.Stream
	peers         []domain.Connection
	caps          *domain.Capabilities
}

func (t *scriptedTransport) Open(_ context.Context, req domain.JoinRequest, h ports.EventHandler) error {
	t.mu.Lock()
	t.handler = h
	t.join = req
	silent, err := t.silent, t.openErr
	t.mu.Unlock()
	if err != nil || silent {
		return err
	}
	self := selfConn
	h(domain.SessionEvent{
		Type:         domain.EventJoinAccepted,
		Connection:   &self,
		Connections:  t.peers,
		Streams:      t.initial,
		Capabilities: t.caps,
		ResumeToken:  "resume-token",
	})
	return nil
}

func (t *scriptedTransport) Send(_ context.Context, cmd domain.Command) error {
	t.mu.Lock()
	t.sent = append(t.sent, cmd)
	h := t.handler
	holdSubscribe := t.holdSubscribe
	t.nextID++
	n := t.nextID
	t.mu.Unlock()
	if h == nil {
		return fmt.Errorf("transport not open")
	}

	switch cmd.Type {
	case domain.CommandPublish:
		req := cmd.Publish
		h(domain.SessionEvent{
			Type:        domain.EventPublishAccepted,
			PublisherID: req.PublisherID,
			Stream: &domain.Stream{
				ID:            domain.StreamID(fmt.Sprintf("own-stream-%d", n)),
				Name:          req.Name,
				HasAudio:      req.HasAudio,
				HasVideo:      req.HasVideo,
				HasAudioTrack: req.HasAudioTrack,
				HasVideoTrack: req.HasVideoTrack,
				VideoType:     req.VideoType,
				CreationTime:  time.Now(),
				Connection:    selfConn,
			},
		})
	case domain.CommandSignal:
		h(domain.SessionEvent{
			Type:   domain.EventSignal,
			Signal: &domain.Signal{Type: cmd.Signal.Type, Data: cmd.Signal.Data, From: selfConn},
		})
	case domain.CommandSubscribe:
		if !holdSubscribe {
			h(domain.SessionEvent{Type: domain.EventSubscribeAccepted, SubscriberID: cmd.Subscribe.SubscriberID})
		}
	}
	return nil
}

func (t *scriptedTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

func (t *scriptedTransport) push(ev domain.SessionEvent) {
	t.mu.Lock()
	h := t.handler
	t.mu.Unlock()
	h(ev)
}

func (t *scriptedTransport) commands(typ domain.CommandType) []domain.Command {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []domain.Command
	for _, c := range t.sent {
		if c.Type == typ {
			out = append(out, c)
		}
	}
	return out
}

func (t *scriptedTransport) opened() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handler != nil
}

type fakeMedia struct {
	mu           sync.Mutex
	publications []*fakePublication
	subs         []*fakeSubscription
	subscribeErr error
	blockStats   bool
}

func (m *fakeMedia) Publish(_ context.Context, stream domain.Stream, sink ports.PublicationSink) (ports.Publication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := &fakePublication{stream: stream, sink: sink, block: m.blockStats}
	m.publications = append(m.publications, p)
	return p, nil
}

func (m *fakeMedia) Subscribe(_ context.Context, req ports.MediaSubscribeRequest, sink ports.SubscriptionSink) (ports.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscribeErr != nil {
		return nil, m.subscribeErr
	}
	s := &fakeSubscription{req: req, sink: sink}
	m.subs = append(m.subs, s)
	return s, nil
}

func (m *fakeMedia) lastSubscription() *fakeSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.subs) == 0 {
		return nil
	}
	return m.subs[len(m.subs)-1]
}

type fakePublication struct {
	stream domain.Stream
	sink   ports.PublicationSink
	block  bool

	mu       sync.Mutex
	frames   int
	video    bool
	closed   bool
	inflight int
}

func (p *fakePublication) blocked() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inflight
}

func (p *fakePublication) SendVideoFrame(*videoframe.Frame) error {
	p.mu.Lock()
	p.frames++
	p.mu.Unlock()
	return nil
}

func (p *fakePublication) WriteAudio([]int16) error { return nil }

func (p *fakePublication) SetVideoEnabled(enabled bool) {
	p.mu.Lock()
	p.video = enabled
	p.mu.Unlock()
}

func (p *fakePublication) SetAudioEnabled(bool) {}

func (p *fakePublication) AudioStats() []domain.PublisherAudioStats {
	return []domain.PublisherAudioStats{{ConnectionID: "conn_peer", PacketsSent: 10, Timestamp: time.Now()}}
}

func (p *fakePublication) VideoStats() []domain.PublisherVideoStats {
	return []domain.PublisherVideoStats{{ConnectionID: "conn_peer", PacketsSent: 20, Timestamp: time.Now()}}
}

func (p *fakePublication) RTCStatsReport(ctx context.Context) ([]domain.RTCStatsReport, error) {
	if p.block {
		p.mu.Lock()
		p.inflight++
		p.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return []domain.RTCStatsReport{{ConnectionID: "conn_peer", JSON: "[]"}}, nil
}

func (p *fakePublication) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

type fakeSubscription struct {
	req  ports.MediaSubscribeRequest
	sink ports.SubscriptionSink

	mu     sync.Mutex
	width  int
	height int
	closed bool
}

func (s *fakeSubscription) SetVideoEnabled(bool) {}
func (s *fakeSubscription) SetAudioEnabled(bool) {}

func (s *fakeSubscription) SetPreferredResolution(w, h int) {
	s.mu.Lock()
	s.width, s.height = w, h
	s.mu.Unlock()
}

func (s *fakeSubscription) SetPreferredFrameRate(float32) {}

func (s *fakeSubscription) AudioStats() domain.SubscriberAudioStats {
	return domain.SubscriberAudioStats{PacketsReceived: 5}
}

func (s *fakeSubscription) VideoStats() domain.SubscriberVideoStats {
	return domain.SubscriberVideoStats{PacketsReceived: 7}
}

func (s *fakeSubscription) RTCStatsReport(context.Context) ([]domain.RTCStatsReport, error) {
	return []domain.RTCStatsReport{{ConnectionID: s.req.Stream.Connection.ID, JSON: "[]"}}, nil
}

func (s *fakeSubscription) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// recorder collects callback names in delivery order.
type recorder struct {
	mu     sync.Mutex
	events []string
	errs   []error
}

func (r *recorder) add(format string, args ...interface{}) {
	r.mu.Lock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
	r.mu.Unlock()
}

func (r *recorder) addErr(name string, err error) {
	r.mu.Lock()
	r.events = append(r.events, fmt.Sprintf("%s:%d", name, int(domain.StatusOf(err))))
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) waitFor(t *testing.T, want ...string) {
	t.Helper()
	require.Eventually(t, func() bool {
		got := r.snapshot()
		if len(got) < len(want) {
			return false
		}
		for i := range want {
			if got[i] != want[i] {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond, "want prefix %v, got %v", want, r.snapshot())
}

func (r *recorder) sessionCallbacks() SessionCallbacks {
	return SessionCallbacks{
		OnConnected:           func(*Session) { r.add("connected") },
		OnDisconnected:        func(*Session) { r.add("disconnected") },
		OnReconnectionStarted: func(*Session) { r.add("reconnecting") },
		OnReconnected:         func(*Session) { r.add("reconnected") },
		OnConnectionCreated:   func(_ *Session, c domain.Connection) { r.add("connection_created:%s", c.ID) },
		OnConnectionDropped:   func(_ *Session, c domain.Connection) { r.add("connection_dropped:%s", c.ID) },
		OnStreamReceived:      func(_ *Session, st domain.Stream) { r.add("stream_received:%s", st.ID) },
		OnStreamDropped:       func(_ *Session, st domain.Stream) { r.add("stream_dropped:%s", st.ID) },
		OnStreamHasVideoChanged: func(_ *Session, st domain.Stream, v bool) {
			r.add("has_video:%s:%t", st.ID, v)
		},
		OnStreamHasAudioChanged: func(_ *Session, st domain.Stream, v bool) {
			r.add("has_audio:%s:%t", st.ID, v)
		},
		OnSignalReceived: func(_ *Session, sig domain.Signal) { r.add("signal:%s:%s", sig.Type, sig.Data) },
		OnArchiveStarted: func(_ *Session, a domain.Archive) { r.add("archive_started:%s", a.ID) },
		OnArchiveStopped: func(_ *Session, id string) { r.add("archive_stopped:%s", id) },
		OnError:          func(_ *Session, err error) { r.addErr("error", err) },
	}
}

func (r *recorder) publisherCallbacks() PublisherCallbacks {
	return PublisherCallbacks{
		OnStreamCreated:   func(_ *Publisher, st domain.Stream) { r.add("stream_created") },
		OnStreamDestroyed: func(_ *Publisher, st domain.Stream) { r.add("stream_destroyed") },
		OnRTCStatsReport:  func(_ *Publisher, reports []domain.RTCStatsReport) { r.add("rtc_stats:%d", len(reports)) },
		OnError:           func(_ *Publisher, err error) { r.addErr("error", err) },
	}
}

func (r *recorder) subscriberCallbacks() SubscriberCallbacks {
	return SubscriberCallbacks{
		OnConnected:     func(_ *Subscriber, st domain.Stream) { r.add("connected:%s", st.ID) },
		OnDisconnected:  func(*Subscriber) { r.add("disconnected") },
		OnReconnected:   func(*Subscriber) { r.add("reconnected") },
		OnVideoDisabled: func(_ *Subscriber, reason domain.VideoReason) { r.add("video_disabled:%s", reason) },
		OnVideoEnabled:  func(_ *Subscriber, reason domain.VideoReason) { r.add("video_enabled:%s", reason) },
		OnAudioDisabled: func(*Subscriber) { r.add("audio_disabled") },
		OnAudioEnabled:  func(*Subscriber) { r.add("audio_enabled") },
		OnError:         func(_ *Subscriber, err error) { r.addErr("error", err) },
	}
}

type harness struct {
	engine    *Engine
	transport *scriptedTransport
	media     *fakeMedia
}

func newHarness(t *testing.T, configure func(*scriptedTransport, *Options)) *harness {
	t.Helper()
	h := &harness{transport: &scriptedTransport{}, media: &fakeMedia{}}
	opts := DefaultOptions()
	opts.LogLevel = logger.LevelDebug
	opts.StatsInterval = 10 * time.Millisecond
	opts.ConnectTimeout = time.Second
	if configure != nil {
		configure(h.transport, &opts)
	}

	e, err := Init(opts, Dependencies{
		Transport: func() ports.Transport { return h.transport },
		Media:     h.media,
	})
	require.NoError(t, err)
	h.engine = e
	t.Cleanup(func() { _ = e.Destroy(context.Background()) })
	return h
}

// connected returns a session that has finished connecting.
func (h *harness) connected(t *testing.T, rec *recorder) *Session {
	t.Helper()
	s, err := h.engine.NewSession(testAPIKey, testSession, rec.sessionCallbacks(), domain.SessionSettings{})
	require.NoError(t, err)
	require.NoError(t, s.Connect("token"))
	rec.waitFor(t, "connected")
	require.Equal(t, domain.SessionConnected, s.State())
	return s
}

func remoteStream(id string) domain.Stream {
	return domain.Stream{
		ID:            domain.StreamID(id),
		HasAudio:      true,
		HasVideo:      true,
		HasAudioTrack: true,
		HasVideoTrack: true,
		Width:         640,
		Height:        480,
		VideoType:     domain.VideoTypeCamera,
		CreationTime:  time.Now(),
		Connection:    domain.Connection{ID: "conn_peer", SessionID: testSession},
	}
}
