package media

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"rtclink/internal/core/domain"
	"rtclink/internal/core/ports"
	"rtclink/pkg/videoframe"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

// receiver tracks one inbound RTP source.
type receiver struct {
	started  bool
	lastSeq  uint16
	received int64
	lost     int64
	bytes    int64

	// Values at the previous receiver report.
	priorReceived int64
	priorLost     int64
}

func (rc *receiver) observe(seq uint16, size int) {
	if rc.started {
		gap := seq - rc.lastSeq - 1
		// Reordered or duplicate packets show up as huge gaps; ignore them.
		if gap < 1<<15 {
			rc.lost += int64(gap)
		}
	}
	rc.started = true
	rc.lastSeq = seq
	rc.received++
	rc.bytes += int64(size)
}

// report builds the reception report for the interval since the last one.
// ok is false when nothing was heard from the source.
func (rc *receiver) report(ssrc uint32) (rtcp.ReceptionReport, bool) {
	expected := (rc.received + rc.lost) - (rc.priorReceived + rc.priorLost)
	lost := rc.lost - rc.priorLost
	rc.priorReceived, rc.priorLost = rc.received, rc.lost
	if expected <= 0 {
		return rtcp.ReceptionReport{}, false
	}
	fraction := lost * 256 / expected
	if fraction > 255 {
		fraction = 255
	}
	return rtcp.ReceptionReport{
		SSRC:               ssrc,
		FractionLost:       uint8(fraction),
		TotalLost:          uint32(rc.lost),
		LastSequenceNumber: uint32(rc.lastSeq),
	}, true
}

type subscription struct {
	relay *Relay
	req   ports.MediaSubscribeRequest
	sink  ports.SubscriptionSink
	ssrc  uint32

	mu         sync.Mutex
	video      bool
	audio      bool
	width      int
	height     int
	fps        float32
	lastFrame  time.Time
	degraded   bool
	warning    bool
	videoIn    receiver
	audioIn    receiver
	audioLevel float32
	closed     bool
}

func newSubscription(r *Relay, req ports.MediaSubscribeRequest, sink ports.SubscriptionSink) *subscription {
	r.mu.Lock()
	ssrc := r.nextSSRC
	r.nextSSRC++
	r.mu.Unlock()
	return &subscription{
		relay: r,
		req:   req,
		sink:  sink,
		ssrc:  ssrc,
		video: req.Video,
		audio: req.Audio,
	}
}

// wantsVideo also applies the preferred frame rate, so a true result
// consumes the frame slot.
func (s *subscription) wantsVideo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.video || s.degraded {
		return false
	}
	if s.fps > 0 {
		now := time.Now()
		if !s.lastFrame.IsZero() && now.Sub(s.lastFrame) < time.Duration(float64(time.Second)/float64(s.fps)) {
			return false
		}
		s.lastFrame = now
	}
	return true
}

func (s *subscription) wantsAudio() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.audio
}

// receiveVideo takes ownership of frame.
func (s *subscription) receiveVideo(buf []byte, size int, frame *videoframe.Frame) {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(buf); err != nil {
		_ = frame.Release()
		s.relay.logger.Warnw("rtp unmarshal failed", "subscriber_id", s.req.SubscriberID, "error", err)
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = frame.Release()
		return
	}
	s.videoIn.observe(pkt.SequenceNumber, size)
	s.mu.Unlock()
	s.sink.OnVideoFrame(frame)
}

func (s *subscription) receiveAudio(buf []byte) {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(buf); err != nil {
		s.relay.logger.Warnw("rtp unmarshal failed", "subscriber_id", s.req.SubscriberID, "error", err)
		return
	}
	samples := make([]int16, len(pkt.Payload)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pkt.Payload[2*i:]))
	}
	level := audioLevel(samples)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.audioIn.observe(pkt.SequenceNumber, len(pkt.Payload))
	s.audioLevel = level
	s.mu.Unlock()
	s.sink.OnAudioLevel(level)
}

func (s *subscription) receiverReport(videoSSRC, audioSSRC uint32) *rtcp.ReceiverReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	rr := &rtcp.ReceiverReport{SSRC: s.ssrc}
	if rep, ok := s.videoIn.report(videoSSRC); ok {
		rr.Reports = append(rr.Reports, rep)
	}
	if rep, ok := s.audioIn.report(audioSSRC); ok {
		rr.Reports = append(rr.Reports, rep)
	}
	return rr
}

// applyLoss moves the subscription between healthy, warned and degraded.
// A degraded subscription stops receiving video until loss falls to the
// recover threshold.
func (s *subscription) applyLoss(loss float64, cfg Config) {
	var calls []func()
	s.mu.Lock()
	if s.closed || !s.video || !s.req.Stream.HasVideo {
		s.mu.Unlock()
		return
	}
	switch {
	case cfg.DisableLoss > 0 && loss >= cfg.DisableLoss:
		if !s.warning {
			s.warning = true
			calls = append(calls, func() { s.sink.OnVideoDisableWarning(true) })
		}
		if !s.degraded {
			s.degraded = true
			calls = append(calls, func() { s.sink.OnVideoStateChanged(false, domain.VideoReasonQualityDegradation) })
		}
	case cfg.WarningLoss > 0 && loss >= cfg.WarningLoss:
		if !s.warning {
			s.warning = true
			calls = append(calls, func() { s.sink.OnVideoDisableWarning(true) })
		}
	case loss <= cfg.RecoverLoss:
		if s.degraded {
			s.degraded = false
			calls = append(calls, func() { s.sink.OnVideoStateChanged(true, domain.VideoReasonQualityDegradation) })
		}
		if s.warning {
			s.warning = false
			calls = append(calls, func() { s.sink.OnVideoDisableWarning(false) })
		}
	}
	s.mu.Unlock()

	if len(calls) > 0 {
		s.relay.logger.Debugw("subscriber quality changed", "subscriber_id", s.req.SubscriberID, "loss", loss)
	}
	for _, call := range calls {
		call()
	}
}

func (s *subscription) SetVideoEnabled(enabled bool) {
	s.mu.Lock()
	s.video = enabled
	s.mu.Unlock()
}

func (s *subscription) SetAudioEnabled(enabled bool) {
	s.mu.Lock()
	s.audio = enabled
	s.mu.Unlock()
}

// SetPreferredResolution is recorded for stats only; the relay forwards
// frames at their published size.
func (s *subscription) SetPreferredResolution(width, height int) {
	s.mu.Lock()
	s.width, s.height = width, height
	s.mu.Unlock()
}

func (s *subscription) SetPreferredFrameRate(fps float32) {
	s.mu.Lock()
	s.fps = fps
	s.lastFrame = time.Time{}
	s.mu.Unlock()
}

func (s *subscription) AudioStats() domain.SubscriberAudioStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.SubscriberAudioStats{
		PacketsLost:     s.audioIn.lost,
		PacketsReceived: s.audioIn.received,
		BytesReceived:   s.audioIn.bytes,
		AudioLevel:      s.audioLevel,
		Timestamp:       time.Now(),
	}
}

func (s *subscription) VideoStats() domain.SubscriberVideoStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.SubscriberVideoStats{
		PacketsLost:     s.videoIn.lost,
		PacketsReceived: s.videoIn.received,
		BytesReceived:   s.videoIn.bytes,
		Timestamp:       time.Now(),
	}
}

func (s *subscription) RTCStatsReport(ctx context.Context) ([]domain.RTCStatsReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var videoSSRC, audioSSRC uint32
	if p := s.relay.publicationOf(s.req.Stream.ID); p != nil {
		videoSSRC, audioSSRC = p.videoSSRC, p.audioSSRC
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, domain.ErrCancelled
	}
	report, err := inboundReport(s, videoSSRC, audioSSRC)
	if err != nil {
		return nil, err
	}
	return []domain.RTCStatsReport{report}, nil
}

func (s *subscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.relay.removeSubscription(s)
	return nil
}
