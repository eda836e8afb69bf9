package media

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"time"

	"rtclink/internal/core/domain"
	"rtclink/internal/core/ports"
	"rtclink/pkg/videoframe"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

// leg is the outbound path from one publication to one subscription.
type leg struct {
	videoSeq, audioSeq     uint16
	videoSent, audioSent   int64
	videoBytes, audioBytes int64
	videoLost, audioLost   int64
	videoFraction          float64
	dropAcc                float64
}

type publication struct {
	relay     *Relay
	stream    domain.Stream
	sink      ports.PublicationSink
	videoSSRC uint32
	audioSSRC uint32
	startTime time.Time

	mu         sync.Mutex
	video      bool
	audio      bool
	audioTS    uint32
	audioLevel float32
	legs       map[*subscription]*leg
	closed     bool

	stop chan struct{}
	done chan struct{}
}

func newPublication(r *Relay, stream domain.Stream, sink ports.PublicationSink, videoSSRC, audioSSRC uint32) *publication {
	return &publication{
		relay:     r,
		stream:    stream,
		sink:      sink,
		videoSSRC: videoSSRC,
		audioSSRC: audioSSRC,
		startTime: time.Now(),
		video:     stream.HasVideo,
		audio:     stream.HasAudio,
		legs:      make(map[*subscription]*leg),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (p *publication) legFor(s *subscription) *leg {
	l, ok := p.legs[s]
	if !ok {
		l = &leg{}
		p.legs[s] = l
	}
	return l
}

func (p *publication) dropLeg(s *subscription) {
	p.mu.Lock()
	delete(p.legs, s)
	p.mu.Unlock()
}

// lose reports whether the link drops the next packet on l. Loss is spread
// evenly rather than sampled so the outcome is reproducible.
func (l *leg) lose(loss float64) bool {
	if loss <= 0 {
		return false
	}
	l.dropAcc += loss
	if l.dropAcc >= 1-1e-9 {
		l.dropAcc--
		return true
	}
	return false
}

func (p *publication) SendVideoFrame(frame *videoframe.Frame) error {
	if frame == nil || frame.Released() {
		return domain.ErrFrameReleased
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return domain.ErrIllegalState.Withf("publication closed")
	}
	enabled := p.video && p.stream.HasVideoTrack
	p.mu.Unlock()
	if !enabled {
		return nil
	}

	size := frameSize(frame)
	ts := uint32(time.Since(p.startTime).Seconds() * float64(p.relay.cfg.ClockRate))
	loss := p.relay.linkLoss(p.stream.ID)

	// Every copy is taken before any sink sees one, so a sink that releases
	// the source frame cannot starve the subscribers after it.
	type delivery struct {
		sub   *subscription
		buf   []byte
		frame *videoframe.Frame
	}
	var (
		out  []delivery
		errs []error
	)
	for _, s := range p.relay.subscribersOf(p.stream.ID) {
		if !s.wantsVideo() {
			continue
		}
		p.mu.Lock()
		l := p.legFor(s)
		seq := l.videoSeq
		l.videoSeq++
		l.videoSent++
		l.videoBytes += int64(size)
		dropped := l.lose(loss)
		p.mu.Unlock()
		if dropped {
			continue
		}

		pkt := rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         true,
				PayloadType:    videoPayloadType,
				SequenceNumber: seq,
				Timestamp:      ts,
				SSRC:           p.videoSSRC,
			},
			Payload: frameDescriptor(frame),
		}
		buf, err := pkt.Marshal()
		if err != nil {
			errs = append(errs, domain.ErrPublisherWebRTC.Wrap("rtp marshal failed", err))
			continue
		}
		clone, err := frame.Clone()
		if err != nil {
			p.relay.logger.Debugw("frame copy failed", "stream_id", p.stream.ID, "subscriber_id", s.req.SubscriberID, "error", err)
			errs = append(errs, err)
			continue
		}
		out = append(out, delivery{sub: s, buf: buf, frame: clone})
	}
	for _, d := range out {
		d.sub.receiveVideo(d.buf, size, d.frame)
	}
	return errors.Join(errs...)
}

func (p *publication) WriteAudio(samples []int16) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return domain.ErrIllegalState.Withf("publication closed")
	}
	enabled := p.audio && p.stream.HasAudioTrack
	level := audioLevel(samples)
	p.audioLevel = level
	ts := p.audioTS
	p.audioTS += uint32(len(samples))
	p.mu.Unlock()

	if p.sink != nil {
		p.sink.OnAudioLevel(level)
	}
	if !enabled || len(samples) == 0 {
		return nil
	}

	payload := make([]byte, 2*len(samples))
	for i, v := range samples {
		binary.LittleEndian.PutUint16(payload[2*i:], uint16(v))
	}
	loss := p.relay.linkLoss(p.stream.ID)

	for _, s := range p.relay.subscribersOf(p.stream.ID) {
		if !s.wantsAudio() {
			continue
		}
		p.mu.Lock()
		l := p.legFor(s)
		seq := l.audioSeq
		l.audioSeq++
		l.audioSent++
		l.audioBytes += int64(len(payload))
		dropped := l.lose(loss)
		p.mu.Unlock()
		if dropped {
			continue
		}

		pkt := rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    audioPayloadType,
				SequenceNumber: seq,
				Timestamp:      ts,
				SSRC:           p.audioSSRC,
			},
			Payload: payload,
		}
		buf, err := pkt.Marshal()
		if err != nil {
			return domain.ErrPublisherWebRTC.Wrap("rtp marshal failed", err)
		}
		s.receiveAudio(buf)
	}
	return nil
}

func (p *publication) SetVideoEnabled(enabled bool) {
	p.mu.Lock()
	p.video = enabled
	p.mu.Unlock()
}

func (p *publication) SetAudioEnabled(enabled bool) {
	p.mu.Lock()
	p.audio = enabled
	p.mu.Unlock()
}

func (p *publication) AudioStats() []domain.PublisherAudioStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	out := make([]domain.PublisherAudioStats, 0, len(p.legs))
	for s, l := range p.legs {
		out = append(out, domain.PublisherAudioStats{
			ConnectionID: s.req.Connection.ID,
			SubscriberID: s.req.SubscriberID,
			PacketsLost:  l.audioLost,
			PacketsSent:  l.audioSent,
			BytesSent:    l.audioBytes,
			AudioLevel:   p.audioLevel,
			Timestamp:    now,
			StartTime:    p.startTime,
		})
	}
	return out
}

func (p *publication) VideoStats() []domain.PublisherVideoStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	out := make([]domain.PublisherVideoStats, 0, len(p.legs))
	for s, l := range p.legs {
		out = append(out, domain.PublisherVideoStats{
			ConnectionID: s.req.Connection.ID,
			SubscriberID: s.req.SubscriberID,
			PacketsLost:  l.videoLost,
			PacketsSent:  l.videoSent,
			BytesSent:    l.videoBytes,
			Timestamp:    now,
			StartTime:    p.startTime,
		})
	}
	return out
}

func (p *publication) RTCStatsReport(ctx context.Context) ([]domain.RTCStatsReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, domain.ErrCancelled
	}
	reports := make([]domain.RTCStatsReport, 0, len(p.legs))
	for s, l := range p.legs {
		report, err := outboundReport(p, s, l)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}

func (p *publication) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	close(p.stop)
	<-p.done
	p.relay.removePublication(p)
	p.relay.logger.Infow("publication stopped", "stream_id", p.stream.ID)
	return nil
}

// reportLoop collects an RTCP receiver report from every subscriber each
// interval and applies the loss it reports.
func (p *publication) reportLoop(interval time.Duration) {
	defer close(p.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.collectReports()
		}
	}
}

func (p *publication) collectReports() {
	fallback := p.relay.linkLoss(p.stream.ID)
	for _, s := range p.relay.subscribersOf(p.stream.ID) {
		buf, err := rtcp.Marshal([]rtcp.Packet{s.receiverReport(p.videoSSRC, p.audioSSRC)})
		if err != nil {
			p.relay.logger.Warnw("rtcp marshal failed", "stream_id", p.stream.ID, "error", err)
			continue
		}
		fraction, measured := p.handleRTCP(s, buf)
		if !measured {
			fraction = fallback
		}
		s.applyLoss(fraction, p.relay.cfg)
	}
}

// handleRTCP applies a subscriber's receiver report to its leg and returns
// the video loss fraction of the last interval when one could be measured.
func (p *publication) handleRTCP(s *subscription, buf []byte) (float64, bool) {
	packets, err := rtcp.Unmarshal(buf)
	if err != nil {
		p.relay.logger.Warnw("rtcp unmarshal failed", "stream_id", p.stream.ID, "error", err)
		return 0, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.legs[s]
	if !ok {
		return 0, false
	}
	fraction, measured := 0.0, false
	for _, pkt := range packets {
		rr, ok := pkt.(*rtcp.ReceiverReport)
		if !ok {
			continue
		}
		for _, rep := range rr.Reports {
			switch rep.SSRC {
			case p.videoSSRC:
				l.videoLost = int64(rep.TotalLost)
				fraction = float64(rep.FractionLost) / 256
				measured = true
				l.videoFraction = fraction
			case p.audioSSRC:
				l.audioLost = int64(rep.TotalLost)
			}
		}
	}
	return fraction, measured
}

func frameSize(f *videoframe.Frame) int {
	n := 0
	for i := 0; i < f.NumPlanes(); i++ {
		if size, err := f.PlaneSize(videoframe.Plane(i)); err == nil {
			n += size
		}
	}
	return n
}

// frameDescriptor is the RTP payload standing in for the encoded frame.
func frameDescriptor(f *videoframe.Frame) []byte {
	b := make([]byte, 12)
	binary.BigEndian.PutUint32(b[0:], uint32(f.Format()))
	binary.BigEndian.PutUint32(b[4:], uint32(f.Width()))
	binary.BigEndian.PutUint32(b[8:], uint32(f.Height()))
	return b
}

// audioLevel is the RMS of samples scaled to [0,1].
func audioLevel(samples []int16) float32 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		f := float64(v) / math.MaxInt16
		sum += f * f
	}
	level := math.Sqrt(sum / float64(len(samples)))
	if level > 1 {
		level = 1
	}
	return float32(level)
}
