package media

import (
	"encoding/json"
	"fmt"
	"time"

	"rtclink/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// outboundReport serializes one publication leg as the stats a WebRTC
// sender would expose. The caller holds p.mu.
func outboundReport(p *publication, s *subscription, l *leg) (domain.RTCStatsReport, error) {
	ts := webrtc.StatsTimestamp(time.Now().UnixNano() / int64(time.Millisecond))
	stats := []any{
		webrtc.OutboundRTPStreamStats{
			Timestamp:   ts,
			Type:        webrtc.StatsTypeOutboundRTP,
			ID:          fmt.Sprintf("outbound-video-%d-%s", p.videoSSRC, s.req.SubscriberID),
			SSRC:        webrtc.SSRC(p.videoSSRC),
			Kind:        "video",
			PacketsSent: uint32(l.videoSent),
			BytesSent:   uint64(l.videoBytes),
		},
		webrtc.RemoteInboundRTPStreamStats{
			Timestamp:    ts,
			Type:         webrtc.StatsTypeRemoteInboundRTP,
			ID:           fmt.Sprintf("remote-inbound-video-%d-%s", p.videoSSRC, s.req.SubscriberID),
			SSRC:         webrtc.SSRC(p.videoSSRC),
			Kind:         "video",
			PacketsLost:  int32(l.videoLost),
			FractionLost: l.videoFraction,
		},
		webrtc.OutboundRTPStreamStats{
			Timestamp:   ts,
			Type:        webrtc.StatsTypeOutboundRTP,
			ID:          fmt.Sprintf("outbound-audio-%d-%s", p.audioSSRC, s.req.SubscriberID),
			SSRC:        webrtc.SSRC(p.audioSSRC),
			Kind:        "audio",
			PacketsSent: uint32(l.audioSent),
			BytesSent:   uint64(l.audioBytes),
		},
	}
	b, err := json.Marshal(stats)
	if err != nil {
		return domain.RTCStatsReport{}, domain.ErrPublisherInternal.Wrap("stats encoding failed", err)
	}
	return domain.RTCStatsReport{ConnectionID: s.req.Connection.ID, JSON: string(b)}, nil
}

// inboundReport serializes what a subscription received. The caller holds
// s.mu.
func inboundReport(s *subscription, videoSSRC, audioSSRC uint32) (domain.RTCStatsReport, error) {
	ts := webrtc.StatsTimestamp(time.Now().UnixNano() / int64(time.Millisecond))
	stats := []any{
		webrtc.InboundRTPStreamStats{
			Timestamp:       ts,
			Type:            webrtc.StatsTypeInboundRTP,
			ID:              fmt.Sprintf("inbound-video-%d", videoSSRC),
			SSRC:            webrtc.SSRC(videoSSRC),
			Kind:            "video",
			PacketsReceived: uint32(s.videoIn.received),
			PacketsLost:     int32(s.videoIn.lost),
			BytesReceived:   uint64(s.videoIn.bytes),
		},
		webrtc.InboundRTPStreamStats{
			Timestamp:       ts,
			Type:            webrtc.StatsTypeInboundRTP,
			ID:              fmt.Sprintf("inbound-audio-%d", audioSSRC),
			SSRC:            webrtc.SSRC(audioSSRC),
			Kind:            "audio",
			PacketsReceived: uint32(s.audioIn.received),
			PacketsLost:     int32(s.audioIn.lost),
			BytesReceived:   uint64(s.audioIn.bytes),
		},
	}
	b, err := json.Marshal(stats)
	if err != nil {
		return domain.RTCStatsReport{}, domain.ErrSubscriberInternal.Wrap("stats encoding failed", err)
	}
	return domain.RTCStatsReport{ConnectionID: s.req.Stream.Connection.ID, JSON: string(b)}, nil
}
