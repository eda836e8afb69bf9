package ports

import (
	"context"
	"time"

	"rtclink/internal/core/domain"
	"rtclink/pkg/videoframe"
)

// MediaEngine moves media for published and subscribed streams.
type MediaEngine interface {
	Publish(ctx context.Context, stream domain.Stream, sink PublicationSink) (Publication, error)
	Subscribe(ctx context.Context, req MediaSubscribeRequest, sink SubscriptionSink) (Subscription, error)
}

type MediaSubscribeRequest struct {
	Stream       domain.Stream
	SubscriberID domain.SubscriberID
	Connection   domain.Connection
	Video        bool
	Audio        bool
}

// Publication is the outbound media of one stream.
type Publication interface {
	// SendVideoFrame borrows frame for the duration of the call.
	SendVideoFrame(frame *videoframe.Frame) error
	WriteAudio(samples []int16) error
	SetVideoEnabled(enabled bool)
	SetAudioEnabled(enabled bool)
	AudioStats() []domain.PublisherAudioStats
	VideoStats() []domain.PublisherVideoStats
	RTCStatsReport(ctx context.Context) ([]domain.RTCStatsReport, error)
	Close() error
}

type PublicationSink interface {
	OnAudioLevel(level float32)
}

// Subscription is the inbound media of one stream for one subscriber.
type Subscription interface {
	SetVideoEnabled(enabled bool)
	SetAudioEnabled(enabled bool)
	SetPreferredResolution(width, height int)
	SetPreferredFrameRate(fps float32)
	AudioStats() domain.SubscriberAudioStats
	VideoStats() domain.SubscriberVideoStats
	RTCStatsReport(ctx context.Context) ([]domain.RTCStatsReport, error)
	Close() error
}

// SubscriptionSink receives inbound media events. OnVideoFrame transfers
// ownership of frame to the sink.
type SubscriptionSink interface {
	OnVideoFrame(frame *videoframe.Frame)
	OnVideoStateChanged(enabled bool, reason domain.VideoReason)
	OnAudioStateChanged(enabled bool)
	OnVideoDisableWarning(active bool)
	OnAudioLevel(level float32)
}

// ClientMetrics is what the client core reports about itself. Implementations
// must be safe for concurrent use.
type ClientMetrics interface {
	SessionStateChanged(from, to domain.SessionState)
	CallbackDispatched(entity, name string)
	SignalSent(ok bool)
	ConnectLatency(d time.Duration)
}

// RouterMetrics is what the session router reports about itself.
type RouterMetrics interface {
	ConnectionJoined()
	ConnectionLeft(reason string)
	StreamPublished()
	StreamUnpublished()
	SubscriptionChanged(delta int)
	SignalRouted(recipients int)
	CommandRejected(command string, status domain.Status)
	CommandDuration(command string, d time.Duration)
}
