// Package client is the application-facing side of a real-time media
// session: the Engine, Sessions, Publishers and Subscribers and the
// callbacks they deliver.
package client

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"rtclink/internal/core/capture"
	"rtclink/internal/core/domain"
	"rtclink/internal/core/ports"
	"rtclink/pkg/config"
	"rtclink/pkg/logger"
	"rtclink/pkg/validation"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

// Options tune client behavior.
type Options struct {
	LogLevel         logger.Level
	StatsInterval    time.Duration
	ConnectTimeout   time.Duration
	SignalQueueLimit int
}

func DefaultOptions() Options {
	return Options{
		LogLevel:         logger.LevelInfo,
		StatsInterval:    time.Second,
		ConnectTimeout:   15 * time.Second,
		SignalQueueLimit: 128,
	}
}

// OptionsFromConfig reads the client section of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	opts := DefaultOptions()
	if lvl, err := logger.ParseLevel(cfg.Client.LogLevel); err == nil {
		opts.LogLevel = lvl
	}
	if cfg.Client.StatsInterval > 0 {
		opts.StatsInterval = cfg.Client.StatsInterval
	}
	if cfg.Client.ConnectTimeout > 0 {
		opts.ConnectTimeout = cfg.Client.ConnectTimeout
	}
	if cfg.Client.SignalQueueLimit > 0 {
		opts.SignalQueueLimit = cfg.Client.SignalQueueLimit
	}
	return opts
}

// Dependencies are the collaborators an Engine drives. Transport and Media
// are required.
type Dependencies struct {
	Transport   ports.TransportFactory
	Media       ports.MediaEngine
	AudioDevice ports.AudioDevice
	Metrics     ports.ClientMetrics
	Logger      *zap.Logger
}

// Engine is the process context every session, publisher and subscriber is
// created from. Destroy invalidates all of them.
type Engine struct {
	opts      Options
	transport ports.TransportFactory
	media     ports.MediaEngine
	metrics   ports.ClientMetrics

	logger   *zap.SugaredLogger
	bridge   *logger.CallbackCore
	level    zap.AtomicLevel
	logLevel atomic.Int64

	mu          sync.Mutex
	destroyed   bool
	audio       *capture.AudioAdapter
	sessions    map[*Session]struct{}
	publishers  map[*Publisher]struct{}
	subscribers map[*Subscriber]struct{}
}

// Init builds an Engine. The returned engine logs to deps.Logger and, once
// SetLogCallback is called, to the application callback as plain lines.
func Init(opts Options, deps Dependencies) (*Engine, error) {
	if deps.Transport == nil || deps.Media == nil {
		return nil, domain.ErrInvalidParam.Withf("transport and media engine are required")
	}
	if !opts.LogLevel.Valid() {
		return nil, domain.ErrInvalidParam.Withf("invalid log level %d", int(opts.LogLevel))
	}
	if opts.StatsInterval <= 0 || opts.ConnectTimeout <= 0 || opts.SignalQueueLimit < 0 {
		return nil, domain.ErrInvalidParam.Withf("stats interval and connect timeout must be positive")
	}

	base := deps.Logger
	if base == nil {
		base = zap.NewNop()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}

	level := zap.NewAtomicLevelAt(opts.LogLevel.ZapLevel())
	bridge := logger.NewCallbackCore(level, nil)
	core := zapcore.NewTee(base.Core(), bridge)

	e := &Engine{
		opts:        opts,
		transport:   deps.Transport,
		media:       deps.Media,
		metrics:     metrics,
		logger:      zap.New(core).Sugar().With("component", "client"),
		bridge:      bridge,
		level:       level,
		sessions:    make(map[*Session]struct{}),
		publishers:  make(map[*Publisher]struct{}),
		subscribers: make(map[*Subscriber]struct{}),
	}
	e.logLevel.Store(int64(opts.LogLevel))

	if deps.AudioDevice != nil {
		if err := e.SetAudioDevice(deps.AudioDevice); err != nil {
			return nil, err
		}
	}

	e.logger.Infow("engine initialized",
		"log_level", opts.LogLevel.String(),
		"stats_interval", opts.StatsInterval,
	)
	return e, nil
}

// SetLogCallback routes engine log lines to fn. nil stops delivery.
func (e *Engine) SetLogCallback(fn logger.LineFunc) {
	e.bridge.SetCallback(fn)
}

func (e *Engine) SetLogLevel(l logger.Level) error {
	if !l.Valid() {
		return domain.ErrInvalidParam.Withf("invalid log level %d", int(l))
	}
	e.logLevel.Store(int64(l))
	e.level.SetLevel(l.ZapLevel())
	return nil
}

// LogLevel returns exactly the value last passed to SetLogLevel.
func (e *Engine) LogLevel() logger.Level {
	return logger.Level(e.logLevel.Load())
}

// SetAudioDevice installs the audio device shared by every publisher and
// subscriber. It is rejected once a session exists.
func (e *Engine) SetAudioDevice(dev ports.AudioDevice) error {
	if dev == nil {
		return domain.ErrInvalidParam.Withf("nil audio device")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return domain.ErrNotInitialized
	}
	if len(e.sessions) > 0 {
		return domain.ErrIllegalState.Withf("audio device must be set before any session is created")
	}

	adapter := capture.NewAudioAdapter(dev, e.logger)
	if err := adapter.Init(); err != nil {
		return err
	}
	if e.audio != nil {
		if err := e.audio.Destroy(); err != nil {
			e.logger.Warnw("previous audio device destroy failed", "error", err)
		}
	}
	e.audio = adapter
	return nil
}

func (e *Engine) audioAdapter() *capture.AudioAdapter {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.audio
}

// NewSession creates a disconnected session.
func (e *Engine) NewSession(apiKey string, sessionID domain.SessionID, cb SessionCallbacks, settings domain.SessionSettings) (*Session, error) {
	if err := validation.ValidateAPIKey(apiKey); err != nil {
		return nil, domain.ErrInvalidParam.Wrap("invalid api key", err)
	}
	if err := validation.ValidateSessionID(string(sessionID)); err != nil {
		return nil, domain.ErrInvalidSession.Wrap("invalid session id", err)
	}
	if settings.ICE != nil {
		for _, srv := range settings.ICE.Servers {
			for _, u := range srv.URLs {
				if err := validation.ValidateICEURL(u); err != nil {
					return nil, domain.ErrInvalidParam.Wrap("invalid ice server", err)
				}
			}
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return nil, domain.ErrNotInitialized
	}

	s := newSession(e, apiKey, sessionID, cb, settings)
	e.sessions[s] = struct{}{}
	return s, nil
}

// NewPublisher creates a publisher in the created state.
func (e *Engine) NewPublisher(name string, cb PublisherCallbacks, settings PublisherSettings) (*Publisher, error) {
	if err := validation.ValidateStreamName(name); err != nil {
		return nil, domain.ErrInvalidParam.Wrap("invalid publisher name", err)
	}
	if !settings.AudioTrack && !settings.VideoTrack {
		return nil, domain.ErrInvalidParam.Withf("publisher needs an audio or a video track")
	}

	e.mu.Lock()
	destroyed := e.destroyed
	e.mu.Unlock()
	if destroyed {
		return nil, domain.ErrNotInitialized
	}

	p, err := newPublisher(e, name, cb, settings)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		p.teardown()
		return nil, domain.ErrNotInitialized
	}
	e.publishers[p] = struct{}{}
	return p, nil
}

// NewSubscriber creates an idle subscriber bound to stream by id.
func (e *Engine) NewSubscriber(stream domain.Stream, cb SubscriberCallbacks) (*Subscriber, error) {
	if stream.ID == "" {
		return nil, domain.ErrInvalidParam.Withf("stream id is required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return nil, domain.ErrNotInitialized
	}

	sub := newSubscriber(e, stream, cb)
	e.subscribers[sub] = struct{}{}
	return sub, nil
}

func (e *Engine) forgetSession(s *Session) {
	e.mu.Lock()
	delete(e.sessions, s)
	e.mu.Unlock()
}

func (e *Engine) forgetPublisher(p *Publisher) {
	e.mu.Lock()
	delete(e.publishers, p)
	e.mu.Unlock()
}

func (e *Engine) forgetSubscriber(s *Subscriber) {
	e.mu.Lock()
	delete(e.subscribers, s)
	e.mu.Unlock()
}

// Destroy deletes every live session, then every publisher and subscriber,
// then releases the audio device. Afterwards every operation on the engine
// or its entities fails.
func (e *Engine) Destroy(ctx context.Context) error {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return domain.ErrNotInitialized
	}
	e.destroyed = true
	sessions := make([]*Session, 0, len(e.sessions))
	for s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	for _, s := range sessions {
		s := s
		g.Go(func() error { return ignoreDeleted(s.Delete()) })
	}
	if err := g.Wait(); err != nil {
		return err
	}

	e.mu.Lock()
	pubs := make([]*Publisher, 0, len(e.publishers))
	for p := range e.publishers {
		pubs = append(pubs, p)
	}
	subs := make([]*Subscriber, 0, len(e.subscribers))
	for s := range e.subscribers {
		subs = append(subs, s)
	}
	e.mu.Unlock()

	g, _ = errgroup.WithContext(ctx)
	for _, p := range pubs {
		p := p
		g.Go(func() error { return ignoreDeleted(p.Delete()) })
	}
	for _, s := range subs {
		s := s
		g.Go(func() error { return ignoreDeleted(s.Delete()) })
	}
	if err := g.Wait(); err != nil {
		return err
	}

	e.mu.Lock()
	audio := e.audio
	e.audio = nil
	e.mu.Unlock()
	if audio != nil {
		if err := audio.Destroy(); err != nil {
			return err
		}
	}

	e.logger.Infow("engine destroyed",
		"sessions", len(sessions),
		"publishers", len(pubs),
		"subscribers", len(subs),
	)
	_ = e.logger.Sync()
	return nil
}

// ignoreDeleted treats an entity that was deleted concurrently as done.
func ignoreDeleted(err error) error {
	switch domain.StatusOf(err) {
	case domain.StatusNotInitialized, domain.StatusUnknownPublisherInstance, domain.StatusUnknownSubscriberInstance:
		return nil
	}
	return err
}
