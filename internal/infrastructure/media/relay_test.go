package media

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"rtclink/internal/core/domain"
	"rtclink/internal/core/ports"
	"rtclink/pkg/videoframe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingSink struct {
	mu       sync.Mutex
	frames   int
	levels   []float32
	states   []bool
	reasons  []domain.VideoReason
	warnings []bool
}

func (s *recordingSink) OnVideoFrame(f *videoframe.Frame) {
	s.mu.Lock()
	s.frames++
	s.mu.Unlock()
	_ = f.Release()
}

func (s *recordingSink) OnVideoStateChanged(enabled bool, reason domain.VideoReason) {
	s.mu.Lock()
	s.states = append(s.states, enabled)
	s.reasons = append(s.reasons, reason)
	s.mu.Unlock()
}

func (s *recordingSink) OnAudioStateChanged(bool) {}

func (s *recordingSink) OnVideoDisableWarning(active bool) {
	s.mu.Lock()
	s.warnings = append(s.warnings, active)
	s.mu.Unlock()
}

func (s *recordingSink) OnAudioLevel(level float32) {
	s.mu.Lock()
	s.levels = append(s.levels, level)
	s.mu.Unlock()
}

func (s *recordingSink) snapshot() (frames int, states, warnings []bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames, append([]bool(nil), s.states...), append([]bool(nil), s.warnings...)
}

func testStream() domain.Stream {
	return domain.Stream{
		ID:            "str_1",
		HasAudio:      true,
		HasVideo:      true,
		HasAudioTrack: true,
		HasVideoTrack: true,
		Width:         4,
		Height:        4,
		Connection:    domain.Connection{ID: "conn_pub", SessionID: "ses_1"},
	}
}

func newTestRelay(t *testing.T, interval time.Duration) *Relay {
	cfg := DefaultConfig()
	cfg.ReportInterval = interval
	return NewRelay(cfg, zaptest.NewLogger(t).Sugar())
}

func subscribe(t *testing.T, r *Relay, sink ports.SubscriptionSink) ports.Subscription {
	t.Helper()
	sub, err := r.Subscribe(context.Background(), ports.MediaSubscribeRequest{
		Stream:       testStream(),
		SubscriberID: "sub_1",
		Connection:   domain.Connection{ID: "conn_sub", SessionID: "ses_1"},
		Video:        true,
		Audio:        true,
	}, sink)
	require.NoError(t, err)
	return sub
}

func sendFrames(t *testing.T, pub ports.Publication, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		f, err := videoframe.New(videoframe.FormatYUV420P, 4, 4)
		require.NoError(t, err)
		require.NoError(t, pub.SendVideoFrame(f))
		require.NoError(t, f.Release())
	}
}

func TestRelayForwardsMedia(t *testing.T) {
	r := newTestRelay(t, time.Hour)
	pubLevels := &recordingSink{}
	pub, err := r.Publish(context.Background(), testStream(), pubLevels)
	require.NoError(t, err)
	defer pub.Close()

	sink := &recordingSink{}
	sub := subscribe(t, r, sink)
	defer sub.Close()

	sendFrames(t, pub, 5)
	require.NoError(t, pub.WriteAudio([]int16{16000, -16000, 16000, -16000}))

	frames, _, _ := sink.snapshot()
	assert.Equal(t, 5, frames)
	require.Len(t, sink.levels, 1)
	assert.InDelta(t, 0.488, sink.levels[0], 0.01)
	assert.Equal(t, sink.levels, pubLevels.levels)

	video := sub.VideoStats()
	assert.Equal(t, int64(5), video.PacketsReceived)
	assert.Zero(t, video.PacketsLost)
	assert.Equal(t, int64(8), sub.AudioStats().BytesReceived)

	stats := pub.VideoStats()
	require.Len(t, stats, 1)
	assert.Equal(t, domain.SubscriberID("sub_1"), stats[0].SubscriberID)
	assert.Equal(t, int64(5), stats[0].PacketsSent)
	assert.Equal(t, int64(5*24), stats[0].BytesSent)
}

func TestRelayHonoursEnableFlags(t *testing.T) {
	r := newTestRelay(t, time.Hour)
	pub, err := r.Publish(context.Background(), testStream(), nil)
	require.NoError(t, err)
	defer pub.Close()

	sink := &recordingSink{}
	sub := subscribe(t, r, sink)
	defer sub.Close()

	sub.SetVideoEnabled(false)
	sendFrames(t, pub, 2)
	sub.SetVideoEnabled(true)
	pub.SetVideoEnabled(false)
	sendFrames(t, pub, 2)
	pub.SetVideoEnabled(true)
	sendFrames(t, pub, 1)

	frames, _, _ := sink.snapshot()
	assert.Equal(t, 1, frames)
}

func TestRelayRejectsDuplicatePublication(t *testing.T) {
	r := newTestRelay(t, time.Hour)
	pub, err := r.Publish(context.Background(), testStream(), nil)
	require.NoError(t, err)
	defer pub.Close()

	_, err = r.Publish(context.Background(), testStream(), nil)
	assert.ErrorIs(t, err, domain.ErrStreamExists)

	assert.ErrorIs(t, r.SetLinkQuality("str_1", 1.5), domain.ErrInvalidParam)
}

func TestRelayFrameOwnership(t *testing.T) {
	r := newTestRelay(t, time.Hour)
	pub, err := r.Publish(context.Background(), testStream(), nil)
	require.NoError(t, err)
	defer pub.Close()

	f, err := videoframe.New(videoframe.FormatYUV420P, 4, 4)
	require.NoError(t, err)
	require.NoError(t, f.Release())
	assert.ErrorIs(t, pub.SendVideoFrame(f), domain.ErrFrameReleased)
}

// releasingSink drops the publisher's source frame the moment its own copy
// arrives.
type releasingSink struct {
	recordingSink
	source *videoframe.Frame
}

func (s *releasingSink) OnVideoFrame(f *videoframe.Frame) {
	_ = s.source.Release()
	s.recordingSink.OnVideoFrame(f)
}

func TestRelayFanOutSurvivesSourceRelease(t *testing.T) {
	r := newTestRelay(t, time.Hour)
	pub, err := r.Publish(context.Background(), testStream(), nil)
	require.NoError(t, err)
	defer pub.Close()

	source, err := videoframe.New(videoframe.FormatYUV420P, 4, 4)
	require.NoError(t, err)

	sinks := make([]*releasingSink, 3)
	for i := range sinks {
		sinks[i] = &releasingSink{source: source}
		sub, err := r.Subscribe(context.Background(), ports.MediaSubscribeRequest{
			Stream:       testStream(),
			SubscriberID: domain.SubscriberID(fmt.Sprintf("sub_%d", i)),
			Connection:   domain.Connection{ID: domain.ConnectionID(fmt.Sprintf("conn_%d", i)), SessionID: "ses_1"},
			Video:        true,
		}, sinks[i])
		require.NoError(t, err)
		defer sub.Close()
	}

	require.NoError(t, pub.SendVideoFrame(source))
	assert.True(t, source.Released())
	for i, sink := range sinks {
		frames, _, _ := sink.snapshot()
		assert.Equal(t, 1, frames, "subscriber %d", i)
	}
	stats := pub.VideoStats()
	require.Len(t, stats, 3)
	for _, st := range stats {
		assert.Equal(t, int64(1), st.PacketsSent)
	}
}

func TestRelayQualityDegradationAndRecovery(t *testing.T) {
	r := newTestRelay(t, time.Hour)
	pub, err := r.Publish(context.Background(), testStream(), nil)
	require.NoError(t, err)
	defer pub.Close()
	p := pub.(*publication)

	sink := &recordingSink{}
	sub := subscribe(t, r, sink)
	defer sub.Close()

	// Every second packet is dropped. The trailing drop is not yet visible
	// to the receiver.
	require.NoError(t, r.SetLinkQuality("str_1", 0.5))
	sendFrames(t, pub, 20)
	p.collectReports()

	frames, states, warnings := sink.snapshot()
	assert.Equal(t, 10, frames)
	assert.Equal(t, []bool{false}, states)
	assert.Equal(t, []bool{true}, warnings)
	assert.Equal(t, domain.VideoReasonQualityDegradation, sink.reasons[0])
	assert.Equal(t, int64(9), sub.VideoStats().PacketsLost)
	assert.Equal(t, int64(9), pub.VideoStats()[0].PacketsLost)

	// Degraded subscribers receive no video.
	sendFrames(t, pub, 4)
	frames, _, _ = sink.snapshot()
	assert.Equal(t, 10, frames)

	require.NoError(t, r.SetLinkQuality("str_1", 0))
	p.collectReports()
	_, states, warnings = sink.snapshot()
	assert.Equal(t, []bool{false, true}, states)
	assert.Equal(t, []bool{true, false}, warnings)

	sendFrames(t, pub, 3)
	frames, _, _ = sink.snapshot()
	assert.Equal(t, 13, frames)
}

func TestRelayWarningBelowDisableThreshold(t *testing.T) {
	r := newTestRelay(t, time.Hour)
	pub, err := r.Publish(context.Background(), testStream(), nil)
	require.NoError(t, err)
	defer pub.Close()

	sink := &recordingSink{}
	sub := subscribe(t, r, sink)
	defer sub.Close()

	require.NoError(t, r.SetLinkQuality("str_1", 0.2))
	sendFrames(t, pub, 21)
	pub.(*publication).collectReports()

	frames, states, warnings := sink.snapshot()
	assert.Equal(t, 17, frames)
	assert.Empty(t, states)
	assert.Equal(t, []bool{true}, warnings)
}

func TestRelayReportLoopUsesLinkQuality(t *testing.T) {
	r := newTestRelay(t, 10*time.Millisecond)
	pub, err := r.Publish(context.Background(), testStream(), nil)
	require.NoError(t, err)
	defer pub.Close()

	sink := &recordingSink{}
	sub := subscribe(t, r, sink)
	defer sub.Close()

	// Nothing flows, so the loop falls back to the configured link loss.
	require.NoError(t, r.SetLinkQuality("str_1", 0.9))
	require.Eventually(t, func() bool {
		_, states, _ := sink.snapshot()
		return len(states) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestRelayRTCStatsReports(t *testing.T) {
	r := newTestRelay(t, time.Hour)
	pub, err := r.Publish(context.Background(), testStream(), nil)
	require.NoError(t, err)

	sink := &recordingSink{}
	sub := subscribe(t, r, sink)
	defer sub.Close()
	sendFrames(t, pub, 3)

	reports, err := pub.RTCStatsReport(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, domain.ConnectionID("conn_sub"), reports[0].ConnectionID)

	var entries []map[string]any
	require.NoError(t, json.Unmarshal([]byte(reports[0].JSON), &entries))
	require.Len(t, entries, 3)
	assert.Equal(t, "outbound-rtp", entries[0]["type"])
	assert.EqualValues(t, 3, entries[0]["packetsSent"])

	inbound, err := sub.RTCStatsReport(context.Background())
	require.NoError(t, err)
	require.Len(t, inbound, 1)
	assert.Equal(t, domain.ConnectionID("conn_pub"), inbound[0].ConnectionID)
	assert.Contains(t, inbound[0].JSON, "inbound-rtp")

	require.NoError(t, pub.Close())
	_, err = pub.RTCStatsReport(context.Background())
	assert.ErrorIs(t, err, domain.ErrCancelled)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = sub.RTCStatsReport(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRelaySubscriptionBeforePublication(t *testing.T) {
	r := newTestRelay(t, time.Hour)
	sink := &recordingSink{}
	sub := subscribe(t, r, sink)
	defer sub.Close()

	pub, err := r.Publish(context.Background(), testStream(), nil)
	require.NoError(t, err)
	defer pub.Close()
	sendFrames(t, pub, 2)

	frames, _, _ := sink.snapshot()
	assert.Equal(t, 2, frames)

	require.NoError(t, sub.Close())
	assert.Empty(t, pub.VideoStats())
	sendFrames(t, pub, 1)
	frames, _, _ = sink.snapshot()
	assert.Equal(t, 2, frames)
}

func TestRelayPreferredFrameRate(t *testing.T) {
	r := newTestRelay(t, time.Hour)
	pub, err := r.Publish(context.Background(), testStream(), nil)
	require.NoError(t, err)
	defer pub.Close()

	sink := &recordingSink{}
	sub := subscribe(t, r, sink)
	defer sub.Close()

	sub.SetPreferredFrameRate(1)
	sendFrames(t, pub, 5)
	frames, _, _ := sink.snapshot()
	assert.Equal(t, 1, frames)
	assert.Equal(t, int64(0), sub.VideoStats().PacketsLost)
}
