package client

import (
	"context"
	"sync"

	"rtclink/internal/core/capture"
	"rtclink/internal/core/domain"
	"rtclink/internal/core/ports"
	"rtclink/pkg/dispatch"
	"rtclink/pkg/tracing"
	"rtclink/pkg/validation"
	"rtclink/pkg/videoframe"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"go.uber.org/zap"
)

const (
	evSubscribe     = "subscribe"
	evAccept        = "accept"
	evSubInterrupt  = "interrupt"
	evSubResume     = "resume"
	evSubDisconnect = "disconnect"
)

var errSubscriberDeleted = domain.ErrCancelled.Withf("subscriber deleted")

// Subscriber receives one remote stream. It refers to the stream by id and
// never owns it.
type Subscriber struct {
	engine *Engine
	id     domain.SubscriberID
	target domain.Stream
	cb     SubscriberCallbacks
	logger *zap.SugaredLogger
	queue  *dispatch.Queue

	mu             sync.Mutex
	state          *fsm.FSM
	deleted        bool
	session        *Session
	wire           domain.SubscriberID
	stream         domain.Stream
	subscription   ports.Subscription
	subscribeVideo bool
	subscribeAudio bool
	prefWidth      int
	prefHeight     int
	prefFPS        float32
	renderer       *capture.RenderAdapter
	videoOn        bool
	audioOn        bool
	releaseRender  func()
	stopStats      func()
	rtcCtx         context.Context
	rtcCancel      context.CancelCauseFunc
	rtc            sync.WaitGroup
}

func newSubscriber(e *Engine, stream domain.Stream, cb SubscriberCallbacks) *Subscriber {
	id := domain.SubscriberID(uuid.NewString())
	log := e.logger.With("subscriber_id", id, "stream_id", stream.ID)
	sub := &Subscriber{
		engine:         e,
		id:             id,
		target:         stream,
		stream:         stream,
		cb:             cb,
		logger:         log,
		queue:          dispatch.NewQueue("subscriber", log),
		subscribeVideo: true,
		subscribeAudio: true,
	}

	active := []string{
		string(domain.SubscriberConnecting),
		string(domain.SubscriberConnected),
		string(domain.SubscriberReconnecting),
	}
	sub.state = fsm.NewFSM(
		string(domain.SubscriberIdle),
		fsm.Events{
			{Name: evSubscribe, Src: []string{string(domain.SubscriberIdle), string(domain.SubscriberDisconnected)}, Dst: string(domain.SubscriberConnecting)},
			{Name: evAccept, Src: []string{string(domain.SubscriberConnecting)}, Dst: string(domain.SubscriberConnected)},
			{Name: evSubInterrupt, Src: []string{string(domain.SubscriberConnected)}, Dst: string(domain.SubscriberReconnecting)},
			{Name: evSubResume, Src: []string{string(domain.SubscriberReconnecting)}, Dst: string(domain.SubscriberConnected)},
			{Name: evSubDisconnect, Src: active, Dst: string(domain.SubscriberDisconnected)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, ev *fsm.Event) {
				sub.logger.Debugw("subscriber state changed", "from", ev.Src, "to", ev.Dst)
			},
		},
	)
	return sub
}

func (s *Subscriber) emit(name string, fn func()) bool {
	s.engine.metrics.CallbackDispatched("subscriber", name)
	return s.queue.Post(fn)
}

func (s *Subscriber) emitOrDrop(name string, fn, drop func()) {
	s.engine.metrics.CallbackDispatched("subscriber", name)
	s.queue.PostOrDrop(fn, drop)
}

func (s *Subscriber) emitErrorLocked(err error) {
	if cb := s.cb.OnError; cb != nil {
		s.emit("on_error", func() { cb(s, err) })
	}
}

func (s *Subscriber) fire(event string) {
	if err := s.state.Event(context.Background(), event); err != nil {
		s.logger.Warnw("subscriber transition failed", "event", event, "error", err)
	}
}

func (s *Subscriber) currentState() domain.SubscriberState {
	return domain.SubscriberState(s.state.Current())
}

func (s *Subscriber) ID() domain.SubscriberID { return s.id }

func (s *Subscriber) StreamID() domain.StreamID { return s.target.ID }

// Stream returns the latest known snapshot of the subscribed stream.
func (s *Subscriber) Stream() domain.Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream
}

func (s *Subscriber) State() domain.SubscriberState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentState()
}

func (s *Subscriber) SubscribingToVideo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribeVideo
}

func (s *Subscriber) SubscribingToAudio() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribeAudio
}

// SubscribeToVideo turns received video on or off. Turning it off reports
// OnVideoDisabled with the subscriber-unsubscribed reason.
func (s *Subscriber) SubscribeToVideo(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleted {
		return domain.ErrUnknownSubscriber
	}
	if s.subscribeVideo == enabled {
		return nil
	}
	s.subscribeVideo = enabled
	if s.subscription != nil {
		s.subscription.SetVideoEnabled(enabled)
		s.setVideoLocked(enabled && s.stream.HasVideo, domain.VideoReasonSubscriberUnsubscribed)
	}
	return nil
}

func (s *Subscriber) SubscribeToAudio(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleted {
		return domain.ErrUnknownSubscriber
	}
	s.subscribeAudio = enabled
	if s.subscription != nil {
		s.subscription.SetAudioEnabled(enabled)
	}
	return nil
}

// SetPreferredResolution is a hint to the media layer. 0x0 clears it.
func (s *Subscriber) SetPreferredResolution(width, height int) error {
	if width != 0 || height != 0 {
		if err := validation.ValidateDimensions(width, height); err != nil {
			return domain.ErrInvalidParam.Wrap("invalid preferred resolution", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleted {
		return domain.ErrUnknownSubscriber
	}
	s.prefWidth, s.prefHeight = width, height
	if s.subscription != nil {
		s.subscription.SetPreferredResolution(width, height)
	}
	return nil
}

// PreferredResolution returns the last requested resolution, which is not
// necessarily the one being received.
func (s *Subscriber) PreferredResolution() (width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefWidth, s.prefHeight
}

func (s *Subscriber) SetPreferredFrameRate(fps float32) error {
	if fps < 0 {
		return domain.ErrInvalidParam.Withf("preferred frame rate %v is negative", fps)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleted {
		return domain.ErrUnknownSubscriber
	}
	s.prefFPS = fps
	if s.subscription != nil {
		s.subscription.SetPreferredFrameRate(fps)
	}
	return nil
}

func (s *Subscriber) PreferredFrameRate() float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefFPS
}

func (s *Subscriber) SetRenderer(r ports.VideoRenderer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleted {
		return domain.ErrUnknownSubscriber
	}
	if r == nil {
		s.renderer = nil
		return nil
	}
	s.renderer = capture.NewRenderAdapter(r)
	return nil
}

// attach is called by a session, with the session lock held.
func (s *Subscriber) attach(sess *Session, wire domain.SubscriberID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleted {
		return domain.ErrUnknownSubscriber
	}
	if s.session != nil || !s.state.Can(evSubscribe) {
		return domain.ErrIllegalState.Withf("subscriber is %s", s.currentState())
	}
	s.session = sess
	s.wire = wire
	s.fire(evSubscribe)
	return nil
}

func (s *Subscriber) awaiting(sess *Session, wire domain.SubscriberID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session == sess && s.wire == wire && s.currentState() == domain.SubscriberConnecting
}

// subscribed completes a subscribe the router has accepted.
func (s *Subscriber) subscribed(sess *Session, wire domain.SubscriberID, stream domain.Stream) error {
	if !s.awaiting(sess, wire) {
		return domain.ErrCancelled
	}

	self := sess.Connection()
	s.mu.Lock()
	req := ports.MediaSubscribeRequest{
		Stream:       stream,
		SubscriberID: wire,
		Connection:   self,
		Video:        s.subscribeVideo,
		Audio:        s.subscribeAudio,
	}
	s.mu.Unlock()

	var releaseRender func()
	if audio := s.engine.audioAdapter(); audio != nil && stream.HasAudioTrack {
		release, err := audio.AcquireRender()
		if err != nil {
			s.logger.Warnw("audio render start failed", "error", err)
		} else {
			releaseRender = release
		}
	}

	ctx, span := tracing.TraceMediaOperation(context.Background(), "subscribe", string(stream.ID))
	defer span.End()
	subscription, err := s.engine.media.Subscribe(ctx, req, s)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != sess || s.wire != wire || s.currentState() != domain.SubscriberConnecting {
		if subscription != nil {
			_ = subscription.Close()
		}
		if releaseRender != nil {
			releaseRender()
		}
		return domain.ErrCancelled
	}
	if err != nil {
		tracing.RecordError(ctx, err)
		if releaseRender != nil {
			releaseRender()
		}
		s.session = nil
		s.wire = ""
		s.fire(evSubDisconnect)
		err = domain.ErrSubscriberWebRTC.Wrap("media subscribe failed", err)
		s.logger.Warnw("subscribe failed", "error", err)
		s.emitErrorLocked(err)
		return err
	}

	s.subscription = subscription
	s.releaseRender = releaseRender
	s.stream = stream
	s.videoOn = stream.HasVideo && s.subscribeVideo
	s.audioOn = stream.HasAudio && s.subscribeAudio
	if s.prefWidth > 0 {
		subscription.SetPreferredResolution(s.prefWidth, s.prefHeight)
	}
	if s.prefFPS > 0 {
		subscription.SetPreferredFrameRate(s.prefFPS)
	}
	s.rtcCtx, s.rtcCancel = context.WithCancelCause(context.Background())
	s.startStatsLocked(subscription)
	s.fire(evAccept)

	s.logger.Infow("subscribed")
	if cb := s.cb.OnConnected; cb != nil {
		s.emit("on_connected", func() { cb(s, stream) })
	}
	return nil
}

// detach ends the association with sess. A subscribe still in flight is
// reported to OnError with reason; a connected subscriber gets
// OnDisconnected.
func (s *Subscriber) detach(sess *Session, reason error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != sess {
		return
	}
	s.session = nil
	s.wire = ""

	state := s.currentState()
	if s.state.Can(evSubDisconnect) {
		s.fire(evSubDisconnect)
	}
	switch state {
	case domain.SubscriberConnecting:
		if reason != errSubscriberDeleted {
			s.emitErrorLocked(reason)
		}
	case domain.SubscriberConnected, domain.SubscriberReconnecting:
		s.stopMediaLocked(reason)
		if cb := s.cb.OnDisconnected; cb != nil {
			s.emit("on_disconnected", func() { cb(s) })
		}
	}
}

func (s *Subscriber) stopMediaLocked(reason error) {
	s.stopStatsLocked()
	if s.subscription != nil {
		if err := s.subscription.Close(); err != nil {
			s.logger.Debugw("subscription close failed", "error", err)
		}
		s.subscription = nil
	}
	if s.releaseRender != nil {
		s.releaseRender()
		s.releaseRender = nil
	}
	if s.rtcCancel != nil {
		var cause error = errSubscriberDeleted
		if reason != errSubscriberDeleted {
			cause = domain.ErrCancelled.Withf("subscriber disconnected")
		}
		s.rtcCancel(cause)
	}
}

func (s *Subscriber) sessionInterrupted(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != sess || !s.state.Can(evSubInterrupt) {
		return
	}
	s.fire(evSubInterrupt)
	if cb := s.cb.OnDisconnected; cb != nil {
		s.emit("on_disconnected", func() { cb(s) })
	}
}

func (s *Subscriber) sessionResumed(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != sess || !s.state.Can(evSubResume) {
		return
	}
	s.fire(evSubResume)
	if cb := s.cb.OnReconnected; cb != nil {
		s.emit("on_reconnected", func() { cb(s) })
	}
}

// publisherVideoChanged follows the remote publisher's video toggle.
func (s *Subscriber) publisherVideoChanged(sess *Session, hasVideo bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != sess {
		return
	}
	s.stream.HasVideo = hasVideo
	if s.subscription == nil || !s.subscribeVideo {
		return
	}
	s.setVideoLocked(hasVideo, domain.VideoReasonPublisherStoppedVideo)
}

func (s *Subscriber) publisherAudioChanged(sess *Session, hasAudio bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != sess {
		return
	}
	s.stream.HasAudio = hasAudio
	if s.subscription == nil || !s.subscribeAudio {
		return
	}
	s.setAudioLocked(hasAudio)
}

// setVideoLocked reports a video state change once per actual change.
func (s *Subscriber) setVideoLocked(on bool, reason domain.VideoReason) {
	if s.videoOn == on {
		return
	}
	s.videoOn = on
	if on {
		if cb := s.cb.OnVideoEnabled; cb != nil {
			s.emit("on_video_enabled", func() { cb(s, reason) })
		}
		return
	}
	if cb := s.cb.OnVideoDisabled; cb != nil {
		s.emit("on_video_disabled", func() { cb(s, reason) })
	}
}

func (s *Subscriber) setAudioLocked(on bool) {
	if s.audioOn == on {
		return
	}
	s.audioOn = on
	if on {
		if cb := s.cb.OnAudioEnabled; cb != nil {
			s.emit("on_audio_enabled", func() { cb(s) })
		}
		return
	}
	if cb := s.cb.OnAudioDisabled; cb != nil {
		s.emit("on_audio_disabled", func() { cb(s) })
	}
}

func (s *Subscriber) receiving() bool {
	st := s.currentState()
	return s.subscription != nil && (st == domain.SubscriberConnected || st == domain.SubscriberReconnecting)
}

// OnVideoFrame implements ports.SubscriptionSink and takes ownership of
// frame.
func (s *Subscriber) OnVideoFrame(frame *videoframe.Frame) {
	s.mu.Lock()
	live, renderer := s.receiving(), s.renderer
	s.mu.Unlock()
	if !live {
		_ = frame.Release()
		return
	}

	if cb := s.cb.OnVideoDataReceived; cb != nil {
		s.emit("on_video_data_received", func() { cb(s) })
	}
	cb := s.cb.OnRenderFrame
	if cb == nil && renderer == nil {
		_ = frame.Release()
		return
	}
	release := func() { _ = frame.Release() }
	s.emitOrDrop("on_render_frame", func() {
		defer release()
		if renderer != nil {
			if err := renderer.Render(frame); err != nil {
				s.logger.Debugw("render failed", "error", err)
			}
		}
		if cb != nil {
			cb(s, frame)
		}
	}, release)
}

func (s *Subscriber) OnVideoStateChanged(enabled bool, reason domain.VideoReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.receiving() {
		return
	}
	s.setVideoLocked(enabled, reason)
}

func (s *Subscriber) OnAudioStateChanged(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.receiving() {
		return
	}
	s.setAudioLocked(enabled)
}

// OnVideoDisableWarning carries no ordering guarantee against the disable
// that may follow it.
func (s *Subscriber) OnVideoDisableWarning(active bool) {
	if active {
		if cb := s.cb.OnVideoDisableWarning; cb != nil {
			s.emit("on_video_disable_warning", func() { cb(s) })
		}
		return
	}
	if cb := s.cb.OnVideoDisableWarningLifted; cb != nil {
		s.emit("on_video_disable_warning_lifted", func() { cb(s) })
	}
}

func (s *Subscriber) OnAudioLevel(level float32) {
	if cb := s.cb.OnAudioLevelUpdated; cb != nil {
		s.emit("on_audio_level_updated", func() { cb(s, level) })
	}
}

func (s *Subscriber) startStatsLocked(sub ports.Subscription) {
	audioCB, videoCB := s.cb.OnAudioStats, s.cb.OnVideoStats
	s.stopStats = every(s.engine.opts.StatsInterval, func() {
		if audioCB != nil {
			stats := sub.AudioStats()
			s.emit("on_audio_stats", func() { audioCB(s, stats) })
		}
		if videoCB != nil {
			stats := sub.VideoStats()
			s.emit("on_video_stats", func() { videoCB(s, stats) })
		}
	})
}

func (s *Subscriber) stopStatsLocked() {
	if s.stopStats != nil {
		s.stopStats()
		s.stopStats = nil
	}
}

// RequestRTCStatsReport asks for a report delivered to OnRTCStatsReport.
func (s *Subscriber) RequestRTCStatsReport() error {
	s.mu.Lock()
	if s.deleted {
		s.mu.Unlock()
		return domain.ErrUnknownSubscriber
	}
	if s.subscription == nil {
		s.mu.Unlock()
		return domain.ErrIllegalState.Withf("subscriber is %s", s.currentState())
	}
	sub, ctx := s.subscription, s.rtcCtx
	s.rtc.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.rtc.Done()
		reports, err := sub.RTCStatsReport(ctx)
		if cause := context.Cause(ctx); cause != nil {
			if cause != errSubscriberDeleted {
				if cb := s.cb.OnError; cb != nil {
					s.emit("on_error", func() { cb(s, cause) })
				}
			}
			return
		}
		if err != nil {
			if cb := s.cb.OnError; cb != nil {
				err = domain.ErrSubscriberInternal.Wrap("rtc stats report failed", err)
				s.emit("on_error", func() { cb(s, err) })
			}
			return
		}
		if cb := s.cb.OnRTCStatsReport; cb != nil {
			s.emit("on_rtc_stats_report", func() { cb(s, reports) })
		}
	}()
	return nil
}

// Delete unsubscribes if needed and releases the subscriber. No callback
// for it runs after Delete returns.
func (s *Subscriber) Delete() error {
	s.mu.Lock()
	if s.deleted {
		s.mu.Unlock()
		return domain.ErrUnknownSubscriber
	}
	sess := s.session
	s.mu.Unlock()

	if sess != nil {
		_ = sess.dropSubscriber(s, errSubscriberDeleted)
	}

	s.mu.Lock()
	if s.deleted {
		s.mu.Unlock()
		return domain.ErrUnknownSubscriber
	}
	s.deleted = true
	s.stopMediaLocked(errSubscriberDeleted)
	s.mu.Unlock()

	s.rtc.Wait()
	s.queue.Close()
	s.engine.forgetSubscriber(s)
	s.logger.Infow("subscriber deleted")
	return nil
}
