// Package media relays published media to subscribers inside one process.
// Every hop is stamped as RTP and every report interval the receivers answer
// with RTCP receiver reports, so loss and quality decisions follow the same
// arithmetic a networked engine would use.
package media

import (
	"context"
	"sync"
	"time"

	"rtclink/internal/core/domain"
	"rtclink/internal/core/ports"
	"rtclink/pkg/config"
	"rtclink/pkg/tracing"

	"go.uber.org/zap"
)

const (
	videoPayloadType = 96
	audioPayloadType = 111
)

type Config struct {
	ReportInterval time.Duration
	// Loss fractions in [0,1].
	WarningLoss float64
	DisableLoss float64
	RecoverLoss float64
	ClockRate   uint32
}

func DefaultConfig() Config {
	return Config{
		ReportInterval: time.Second,
		WarningLoss:    0.10,
		DisableLoss:    0.25,
		RecoverLoss:    0.05,
		ClockRate:      90000,
	}
}

func ConfigFromConfig(cfg *config.Config) Config {
	return Config{
		ReportInterval: cfg.Media.ReportInterval,
		WarningLoss:    cfg.Media.WarningLossThreshold,
		DisableLoss:    cfg.Media.DisableLossThreshold,
		RecoverLoss:    cfg.Media.RecoverLossThreshold,
		ClockRate:      cfg.Media.ClockRate,
	}
}

// Relay implements ports.MediaEngine. Subscriptions may be created before
// their stream is published here; they start receiving once it is.
type Relay struct {
	cfg    Config
	logger *zap.SugaredLogger

	mu            sync.Mutex
	publications  map[domain.StreamID]*publication
	subscriptions map[domain.StreamID]map[*subscription]struct{}
	links         map[domain.StreamID]float64
	nextSSRC      uint32
}

var _ ports.MediaEngine = (*Relay)(nil)

func NewRelay(cfg Config, logger *zap.SugaredLogger) *Relay {
	def := DefaultConfig()
	if cfg.ReportInterval <= 0 {
		cfg.ReportInterval = def.ReportInterval
	}
	if cfg.ClockRate == 0 {
		cfg.ClockRate = def.ClockRate
	}
	return &Relay{
		cfg:           cfg,
		logger:        logger.With("component", "media_relay"),
		publications:  make(map[domain.StreamID]*publication),
		subscriptions: make(map[domain.StreamID]map[*subscription]struct{}),
		links:         make(map[domain.StreamID]float64),
		nextSSRC:      0x1000,
	}
}

func (r *Relay) Publish(ctx context.Context, stream domain.Stream, sink ports.PublicationSink) (ports.Publication, error) {
	_, span := tracing.TraceMediaOperation(ctx, "publish", string(stream.ID))
	defer span.End()

	r.mu.Lock()
	if _, ok := r.publications[stream.ID]; ok {
		r.mu.Unlock()
		return nil, domain.ErrStreamExists.Withf("stream %s is already published", stream.ID)
	}
	p := newPublication(r, stream, sink, r.nextSSRC, r.nextSSRC+1)
	r.nextSSRC += 2
	r.publications[stream.ID] = p
	r.mu.Unlock()

	go p.reportLoop(r.cfg.ReportInterval)
	r.logger.Infow("publication started", "stream_id", stream.ID, "video_ssrc", p.videoSSRC, "audio_ssrc", p.audioSSRC)
	return p, nil
}

func (r *Relay) Subscribe(ctx context.Context, req ports.MediaSubscribeRequest, sink ports.SubscriptionSink) (ports.Subscription, error) {
	_, span := tracing.TraceMediaOperation(ctx, "subscribe", string(req.Stream.ID))
	defer span.End()

	if req.Stream.ID == "" {
		return nil, domain.ErrInvalidParam.Withf("subscription without a stream")
	}
	s := newSubscription(r, req, sink)

	r.mu.Lock()
	set, ok := r.subscriptions[req.Stream.ID]
	if !ok {
		set = make(map[*subscription]struct{})
		r.subscriptions[req.Stream.ID] = set
	}
	set[s] = struct{}{}
	_, published := r.publications[req.Stream.ID]
	r.mu.Unlock()

	r.logger.Debugw("subscription started", "stream_id", req.Stream.ID, "subscriber_id", req.SubscriberID, "published", published)
	return s, nil
}

// SetLinkQuality sets the simulated packet loss, in [0,1], between a
// stream's publisher and its subscribers.
func (r *Relay) SetLinkQuality(streamID domain.StreamID, loss float64) error {
	if loss < 0 || loss > 1 {
		return domain.ErrInvalidParam.Withf("loss %.2f outside [0,1]", loss)
	}
	r.mu.Lock()
	r.links[streamID] = loss
	r.mu.Unlock()
	r.logger.Debugw("link quality changed", "stream_id", streamID, "loss", loss)
	return nil
}

func (r *Relay) linkLoss(streamID domain.StreamID) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.links[streamID]
}

func (r *Relay) subscribersOf(streamID domain.StreamID) []*subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.subscriptions[streamID]
	out := make([]*subscription, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	return out
}

func (r *Relay) publicationOf(streamID domain.StreamID) *publication {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.publications[streamID]
}

func (r *Relay) removePublication(p *publication) {
	r.mu.Lock()
	if r.publications[p.stream.ID] == p {
		delete(r.publications, p.stream.ID)
	}
	r.mu.Unlock()
}

func (r *Relay) removeSubscription(s *subscription) {
	r.mu.Lock()
	if set, ok := r.subscriptions[s.req.Stream.ID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(r.subscriptions, s.req.Stream.ID)
		}
	}
	p := r.publications[s.req.Stream.ID]
	r.mu.Unlock()
	if p != nil {
		p.dropLeg(s)
	}
}
