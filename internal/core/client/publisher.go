package client

import (
	"context"
	"sync"

	"rtclink/internal/core/capture"
	"rtclink/internal/core/domain"
	"rtclink/internal/core/ports"
	"rtclink/pkg/dispatch"
	"rtclink/pkg/tracing"
	"rtclink/pkg/videoframe"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"go.uber.org/zap"
)

const (
	evPublish   = "publish"
	evUnpublish = "unpublish"
)

// errPublisherDeleted cancels outstanding stats requests without reporting
// them.
var errPublisherDeleted = domain.ErrCancelled.Withf("publisher deleted")

// PublisherSettings are fixed when the publisher is created.
type PublisherSettings struct {
	AudioTrack      bool
	VideoTrack      bool
	Stereo          bool
	VideoType       domain.VideoType
	MaxAudioBitrate int
	AudioFallback   bool

	// Capturer feeds the video track. Without one the publisher sends no
	// video frames.
	Capturer ports.VideoCapturer
}

func DefaultPublisherSettings() PublisherSettings {
	return PublisherSettings{
		AudioTrack:    true,
		VideoTrack:    true,
		VideoType:     domain.VideoTypeCamera,
		AudioFallback: true,
	}
}

// Publisher owns one outbound stream. Its stream exists only between a
// publish acknowledgement and the matching unpublish.
type Publisher struct {
	engine   *Engine
	id       domain.PublisherID
	name     string
	cb       PublisherCallbacks
	settings PublisherSettings
	logger   *zap.SugaredLogger

	queue *dispatch.Queue
	// control runs capturer and audio device start and stop in order,
	// outside every publisher lock.
	control *dispatch.Queue
	video   *capture.VideoAdapter

	mu           sync.Mutex
	state        *fsm.FSM
	deleted      bool
	session      *Session
	wire         domain.PublisherID
	pending      bool
	stream       *domain.Stream
	publication  ports.Publication
	publishVideo bool
	publishAudio bool
	renderer     *capture.RenderAdapter
	capturing    bool
	releaseAudio func()
	stopStats    func()
	rtcCtx       context.Context
	rtcCancel    context.CancelCauseFunc
	rtc          sync.WaitGroup
}

func newPublisher(e *Engine, name string, cb PublisherCallbacks, settings PublisherSettings) (*Publisher, error) {
	if settings.VideoType == 0 {
		settings.VideoType = domain.VideoTypeCamera
	}
	id := domain.PublisherID(uuid.NewString())
	log := e.logger.With("publisher_id", id, "publisher", name)

	p := &Publisher{
		engine:       e,
		id:           id,
		name:         name,
		cb:           cb,
		settings:     settings,
		logger:       log,
		publishVideo: settings.VideoTrack,
		publishAudio: settings.AudioTrack,
	}

	if settings.Capturer != nil && settings.VideoTrack {
		p.video = capture.NewVideoAdapter(settings.Capturer, log)
		if err := p.video.Init(); err != nil {
			return nil, err
		}
		p.video.SetConsumer(p)
	}

	p.queue = dispatch.NewQueue("publisher", log)
	p.control = dispatch.NewQueue("publisher-control", log)
	p.state = fsm.NewFSM(
		string(domain.PublisherCreated),
		fsm.Events{
			{Name: evPublish, Src: []string{string(domain.PublisherCreated), string(domain.PublisherStopped)}, Dst: string(domain.PublisherPublishing)},
			{Name: evUnpublish, Src: []string{string(domain.PublisherPublishing)}, Dst: string(domain.PublisherStopped)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, ev *fsm.Event) {
				p.logger.Debugw("publisher state changed", "from", ev.Src, "to", ev.Dst)
			},
		},
	)
	return p, nil
}

// teardown releases what newPublisher acquired for a publisher that was
// never handed out.
func (p *Publisher) teardown() {
	p.queue.Close()
	p.control.Close()
	if p.video != nil {
		_ = p.video.Destroy()
	}
}

func (p *Publisher) emit(name string, fn func()) bool {
	p.engine.metrics.CallbackDispatched("publisher", name)
	return p.queue.Post(fn)
}

// emitOrDrop is emit for callbacks that own a resource; drop frees it if
// the callback never runs.
func (p *Publisher) emitOrDrop(name string, fn, drop func()) {
	p.engine.metrics.CallbackDispatched("publisher", name)
	p.queue.PostOrDrop(fn, drop)
}

func (p *Publisher) emitErrorLocked(err error) {
	if cb := p.cb.OnError; cb != nil {
		p.emit("on_error", func() { cb(p, err) })
	}
}

func (p *Publisher) fire(event string) {
	if err := p.state.Event(context.Background(), event); err != nil {
		p.logger.Warnw("publisher transition failed", "event", event, "error", err)
	}
}

func (p *Publisher) ID() domain.PublisherID { return p.id }

func (p *Publisher) Name() string { return p.name }

func (p *Publisher) Settings() PublisherSettings { return p.settings }

func (p *Publisher) State() domain.PublisherState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return domain.PublisherState(p.state.Current())
}

// Stream returns the published stream. ok is false before the first
// publish acknowledgement and after an unpublish.
func (p *Publisher) Stream() (stream domain.Stream, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream == nil {
		return domain.Stream{}, false
	}
	return *p.stream, true
}

// StreamID is empty while no stream exists.
func (p *Publisher) StreamID() domain.StreamID {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream == nil {
		return ""
	}
	return p.stream.ID
}

func (p *Publisher) PublishingVideo() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.publishVideo
}

func (p *Publisher) PublishingAudio() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.publishAudio
}

// PublishVideo toggles video. While publishing the change is applied to the
// live stream at once; otherwise it is staged for the next publish.
func (p *Publisher) PublishVideo(enabled bool) error {
	return p.toggle(domain.PropertyHasVideo, enabled)
}

func (p *Publisher) PublishAudio(enabled bool) error {
	return p.toggle(domain.PropertyHasAudio, enabled)
}

func (p *Publisher) toggle(prop domain.StreamProperty, enabled bool) error {
	p.mu.Lock()
	if p.deleted {
		p.mu.Unlock()
		return domain.ErrUnknownPublisher
	}

	var changed bool
	switch prop {
	case domain.PropertyHasVideo:
		changed = p.publishVideo != enabled
		p.publishVideo = enabled
	case domain.PropertyHasAudio:
		changed = p.publishAudio != enabled
		p.publishAudio = enabled
	}
	if !changed || p.publication == nil || p.stream == nil {
		p.mu.Unlock()
		return nil
	}

	if prop == domain.PropertyHasVideo {
		p.publication.SetVideoEnabled(enabled)
		p.stream.HasVideo = enabled
	} else {
		p.publication.SetAudioEnabled(enabled)
		p.stream.HasAudio = enabled
	}
	update := domain.StreamUpdate{StreamID: p.stream.ID, Property: prop, Enabled: enabled}
	sess := p.session
	p.mu.Unlock()

	if sess != nil {
		sess.sendStreamUpdate(update)
	}
	return nil
}

// SetRenderer installs a local preview renderer. nil removes it.
func (p *Publisher) SetRenderer(r ports.VideoRenderer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.deleted {
		return domain.ErrUnknownPublisher
	}
	if r == nil {
		p.renderer = nil
		return nil
	}
	p.renderer = capture.NewRenderAdapter(r)
	return nil
}

// attach is called by a session, with the session lock held, when a publish
// is requested.
func (p *Publisher) attach(s *Session, wire domain.PublisherID) (domain.PublishRequest, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.deleted {
		return domain.PublishRequest{}, domain.ErrUnknownPublisher
	}
	if p.session != nil {
		return domain.PublishRequest{}, domain.ErrIllegalState.Withf("publisher %q is already published", p.name)
	}
	p.session = s
	p.wire = wire
	p.pending = true

	req := domain.PublishRequest{
		PublisherID:   wire,
		Name:          p.name,
		HasAudioTrack: p.settings.AudioTrack,
		HasVideoTrack: p.settings.VideoTrack,
		HasAudio:      p.settings.AudioTrack && p.publishAudio,
		HasVideo:      p.settings.VideoTrack && p.publishVideo,
		VideoType:     p.settings.VideoType,
	}
	if p.video != nil {
		cs := p.video.Settings()
		req.Width, req.Height = cs.Width, cs.Height
	}
	return req, nil
}

// published completes a publish once the router has acknowledged it.
func (p *Publisher) published(s *Session, wire domain.PublisherID, stream domain.Stream) error {
	if !p.awaiting(s, wire) {
		return domain.ErrCancelled
	}

	ctx, span := tracing.TraceMediaOperation(context.Background(), "publish", string(stream.ID))
	defer span.End()
	pub, err := p.engine.media.Publish(ctx, stream, p)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session != s || p.wire != wire || !p.pending {
		if pub != nil {
			_ = pub.Close()
		}
		return domain.ErrCancelled
	}
	p.pending = false
	if err != nil {
		tracing.RecordError(ctx, err)
		p.session = nil
		p.wire = ""
		err = domain.ErrPublisherWebRTC.Wrap("media publish failed", err)
		p.logger.Warnw("publish failed", "stream_id", stream.ID, "error", err)
		p.emitErrorLocked(err)
		return err
	}

	pub.SetVideoEnabled(p.publishVideo)
	pub.SetAudioEnabled(p.publishAudio)
	stream.HasVideo = stream.HasVideo && p.publishVideo
	stream.HasAudio = stream.HasAudio && p.publishAudio
	p.stream = &stream
	p.publication = pub
	p.rtcCtx, p.rtcCancel = context.WithCancelCause(context.Background())
	p.startDevicesLocked()
	p.startStatsLocked(pub)
	p.fire(evPublish)

	p.logger.Infow("publishing", "stream_id", stream.ID)
	if cb := p.cb.OnStreamCreated; cb != nil {
		p.emit("on_stream_created", func() { cb(p, stream) })
	}
	return nil
}

func (p *Publisher) awaiting(s *Session, wire domain.PublisherID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session == s && p.wire == wire && p.pending
}

// detach ends the publisher's association with s. A pending publish is
// reported to OnError with reason; a live stream is torn down and reported
// to OnStreamDestroyed. It returns the id of the stream that was live.
func (p *Publisher) detach(s *Session, reason error) domain.StreamID {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session != s {
		return ""
	}
	p.session = nil
	p.wire = ""

	if p.pending {
		p.pending = false
		if reason != errPublisherDeleted {
			p.emitErrorLocked(reason)
		}
		return ""
	}
	if p.stream == nil {
		return ""
	}

	stream := *p.stream
	p.stream = nil
	if p.publication != nil {
		if err := p.publication.Close(); err != nil {
			p.logger.Debugw("publication close failed", "error", err)
		}
		p.publication = nil
	}
	p.stopStatsLocked()
	p.stopDevicesLocked()
	if p.rtcCancel != nil {
		var cause error = errPublisherDeleted
		if reason != errPublisherDeleted {
			cause = domain.ErrCancelled.Withf("stream %s unpublished", stream.ID)
		}
		p.rtcCancel(cause)
	}
	if p.state.Can(evUnpublish) {
		p.fire(evUnpublish)
	}

	p.logger.Infow("unpublished", "stream_id", stream.ID)
	if cb := p.cb.OnStreamDestroyed; cb != nil {
		p.emit("on_stream_destroyed", func() { cb(p, stream) })
	}
	if domain.StatusOf(reason) == domain.StatusSessionForceUnpublishOrInvalidStream {
		p.emitErrorLocked(reason)
	}
	return stream.ID
}

func (p *Publisher) startDevicesLocked() {
	video := p.video
	audio := p.engine.audioAdapter()
	wantAudio := p.settings.AudioTrack && audio != nil
	p.capturing = video != nil || wantAudio

	p.control.Post(func() {
		if video != nil {
			if err := video.Start(); err != nil {
				p.logger.Warnw("capturer start failed", "error", err)
				p.mu.Lock()
				p.emitErrorLocked(err)
				p.mu.Unlock()
			}
		}
		if wantAudio {
			release, err := audio.AcquireCapture(p)
			if err != nil {
				p.logger.Warnw("audio capture start failed", "error", err)
				return
			}
			p.mu.Lock()
			p.releaseAudio = release
			p.mu.Unlock()
		}
	})
}

func (p *Publisher) stopDevicesLocked() {
	if !p.capturing {
		return
	}
	p.capturing = false
	video := p.video
	p.control.Post(func() {
		if video != nil {
			if err := video.Stop(); err != nil {
				p.logger.Warnw("capturer stop failed", "error", err)
			}
		}
		p.mu.Lock()
		release := p.releaseAudio
		p.releaseAudio = nil
		p.mu.Unlock()
		if release != nil {
			release()
		}
	})
}

// startStatsLocked emits stats snapshots every stats interval until
// stopStatsLocked. The ticker never takes p.mu.
func (p *Publisher) startStatsLocked(pub ports.Publication) {
	audioCB, videoCB := p.cb.OnAudioStats, p.cb.OnVideoStats
	hasAudio, hasVideo := p.settings.AudioTrack, p.settings.VideoTrack
	p.stopStats = every(p.engine.opts.StatsInterval, func() {
		if hasAudio && audioCB != nil {
			stats := pub.AudioStats()
			p.emit("on_audio_stats", func() { audioCB(p, stats) })
		}
		if hasVideo && videoCB != nil {
			stats := pub.VideoStats()
			p.emit("on_video_stats", func() { videoCB(p, stats) })
		}
	})
}

func (p *Publisher) stopStatsLocked() {
	if p.stopStats != nil {
		p.stopStats()
		p.stopStats = nil
	}
}

// ConsumeFrame implements capture.FrameConsumer. The frame is sent, shown
// to the preview and then released.
func (p *Publisher) ConsumeFrame(frame *videoframe.Frame) {
	p.mu.Lock()
	pub, sendVideo, renderer := p.publication, p.publishVideo, p.renderer
	p.mu.Unlock()

	if pub == nil {
		_ = frame.Release()
		return
	}
	if sendVideo {
		if err := pub.SendVideoFrame(frame); err != nil {
			p.logger.Debugw("video frame not sent", "error", err)
		}
	}

	cb := p.cb.OnRenderFrame
	if cb == nil && renderer == nil {
		_ = frame.Release()
		return
	}
	release := func() { _ = frame.Release() }
	p.emitOrDrop("on_render_frame", func() {
		defer release()
		if renderer != nil {
			if err := renderer.Render(frame); err != nil {
				p.logger.Debugw("preview render failed", "error", err)
			}
		}
		if cb != nil {
			cb(p, frame)
		}
	}, release)
}

// ConsumeAudio implements capture.AudioConsumer.
func (p *Publisher) ConsumeAudio(samples []int16) {
	p.mu.Lock()
	pub, send := p.publication, p.publishAudio
	p.mu.Unlock()
	if pub == nil || !send {
		return
	}
	if err := pub.WriteAudio(samples); err != nil {
		p.logger.Debugw("audio not sent", "error", err)
	}
}

// OnAudioLevel implements ports.PublicationSink.
func (p *Publisher) OnAudioLevel(level float32) {
	if cb := p.cb.OnAudioLevelUpdated; cb != nil {
		p.emit("on_audio_level_updated", func() { cb(p, level) })
	}
}

// RequestRTCStatsReport asks for a stats report delivered to
// OnRTCStatsReport. Every request gets its own callback. Requests still
// outstanding at unpublish complete with OnError(cancelled); at Delete they
// are dropped.
func (p *Publisher) RequestRTCStatsReport() error {
	p.mu.Lock()
	if p.deleted {
		p.mu.Unlock()
		return domain.ErrUnknownPublisher
	}
	if p.publication == nil {
		p.mu.Unlock()
		return domain.ErrIllegalState.Withf("publisher is not publishing")
	}
	pub, ctx := p.publication, p.rtcCtx
	p.rtc.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.rtc.Done()
		reports, err := pub.RTCStatsReport(ctx)
		if cause := context.Cause(ctx); cause != nil {
			if cause != errPublisherDeleted {
				if cb := p.cb.OnError; cb != nil {
					p.emit("on_error", func() { cb(p, cause) })
				}
			}
			return
		}
		if err != nil {
			if cb := p.cb.OnError; cb != nil {
				err = domain.ErrPublisherInternal.Wrap("rtc stats report failed", err)
				p.emit("on_error", func() { cb(p, err) })
			}
			return
		}
		if cb := p.cb.OnRTCStatsReport; cb != nil {
			p.emit("on_rtc_stats_report", func() { cb(p, reports) })
		}
	}()
	return nil
}

// FetchRTCStatsReport is the blocking form of RequestRTCStatsReport. It
// returns early when ctx ends or the stream is unpublished.
func (p *Publisher) FetchRTCStatsReport(ctx context.Context) ([]domain.RTCStatsReport, error) {
	p.mu.Lock()
	if p.deleted {
		p.mu.Unlock()
		return nil, domain.ErrUnknownPublisher
	}
	if p.publication == nil {
		p.mu.Unlock()
		return nil, domain.ErrIllegalState.Withf("publisher is not publishing")
	}
	pub, life := p.publication, p.rtcCtx
	p.mu.Unlock()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := context.AfterFunc(life, func() { cancel(context.Cause(life)) })
	defer stop()

	reports, err := pub.RTCStatsReport(ctx)
	if err != nil {
		if cause := context.Cause(ctx); cause != nil {
			return nil, cause
		}
		return nil, domain.ErrPublisherInternal.Wrap("rtc stats report failed", err)
	}
	return reports, nil
}

// Delete unpublishes if needed and releases the publisher. No callback for
// it runs after Delete returns.
func (p *Publisher) Delete() error {
	p.mu.Lock()
	if p.deleted {
		p.mu.Unlock()
		return domain.ErrUnknownPublisher
	}
	sess := p.session
	p.mu.Unlock()

	if sess != nil {
		_ = sess.dropPublisher(p, errPublisherDeleted)
	}

	p.mu.Lock()
	if p.deleted {
		p.mu.Unlock()
		return domain.ErrUnknownPublisher
	}
	p.deleted = true
	if p.rtcCancel != nil {
		p.rtcCancel(errPublisherDeleted)
	}
	p.stopStatsLocked()
	p.stopDevicesLocked()
	p.mu.Unlock()

	p.rtc.Wait()
	p.queue.Close()
	if p.video != nil {
		video := p.video
		p.control.Post(func() {
			if err := video.Destroy(); err != nil {
				p.logger.Warnw("capturer destroy failed", "error", err)
			}
		})
	}
	p.control.Drain()

	p.engine.forgetPublisher(p)
	p.logger.Infow("publisher deleted")
	return nil
}
