package client

import (
	"rtclink/internal/core/domain"
	"rtclink/pkg/videoframe"
)

// SessionCallbacks is the set of session notifications. Any field may be
// nil. Callbacks for one session run one at a time on an internal
// goroutine; values passed in are copies the callback may keep.
type SessionCallbacks struct {
	OnConnected           func(s *Session)
	OnDisconnected        func(s *Session)
	OnReconnectionStarted func(s *Session)
	OnReconnected         func(s *Session)

	OnConnectionCreated func(s *Session, conn domain.Connection)
	OnConnectionDropped func(s *Session, conn domain.Connection)

	OnStreamReceived               func(s *Session, stream domain.Stream)
	OnStreamDropped                func(s *Session, stream domain.Stream)
	OnStreamHasAudioChanged        func(s *Session, stream domain.Stream, hasAudio bool)
	OnStreamHasVideoChanged        func(s *Session, stream domain.Stream, hasVideo bool)
	OnStreamVideoDimensionsChanged func(s *Session, stream domain.Stream, width, height int)
	OnStreamVideoTypeChanged       func(s *Session, stream domain.Stream, videoType domain.VideoType)

	OnSignalReceived func(s *Session, signal domain.Signal)
	OnArchiveStarted func(s *Session, archive domain.Archive)
	OnArchiveStopped func(s *Session, archiveID string)

	// OnError receives a *domain.StatusError; use domain.StatusOf for the code.
	OnError func(s *Session, err error)
}

// PublisherCallbacks is the set of publisher notifications. Frames handed
// to OnRenderFrame are released when the callback returns; Clone to keep.
type PublisherCallbacks struct {
	OnStreamCreated     func(p *Publisher, stream domain.Stream)
	OnStreamDestroyed   func(p *Publisher, stream domain.Stream)
	OnRenderFrame       func(p *Publisher, frame *videoframe.Frame)
	OnAudioLevelUpdated func(p *Publisher, level float32)
	OnAudioStats        func(p *Publisher, stats []domain.PublisherAudioStats)
	OnVideoStats        func(p *Publisher, stats []domain.PublisherVideoStats)
	OnRTCStatsReport    func(p *Publisher, reports []domain.RTCStatsReport)
	OnError             func(p *Publisher, err error)
}

// SubscriberCallbacks is the set of subscriber notifications.
type SubscriberCallbacks struct {
	OnConnected    func(s *Subscriber, stream domain.Stream)
	OnDisconnected func(s *Subscriber)
	OnReconnected  func(s *Subscriber)
	OnRenderFrame  func(s *Subscriber, frame *videoframe.Frame)

	OnVideoDisabled     func(s *Subscriber, reason domain.VideoReason)
	OnVideoEnabled      func(s *Subscriber, reason domain.VideoReason)
	OnAudioDisabled     func(s *Subscriber)
	OnAudioEnabled      func(s *Subscriber)
	OnVideoDataReceived func(s *Subscriber)

	// The warning pair is advisory and is not ordered against OnVideoDisabled.
	OnVideoDisableWarning       func(s *Subscriber)
	OnVideoDisableWarningLifted func(s *Subscriber)

	OnAudioLevelUpdated func(s *Subscriber, level float32)
	OnAudioStats        func(s *Subscriber, stats domain.SubscriberAudioStats)
	OnVideoStats        func(s *Subscriber, stats domain.SubscriberVideoStats)
	OnRTCStatsReport    func(s *Subscriber, reports []domain.RTCStatsReport)
	OnError             func(s *Subscriber, err error)
}
