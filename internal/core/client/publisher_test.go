package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"rtclink/internal/core/domain"
	"rtclink/pkg/videoframe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPublisher(t *testing.T, h *harness, rec *recorder) *Publisher {
	t.Helper()
	p, err := h.engine.NewPublisher("camera", rec.publisherCallbacks(), DefaultPublisherSettings())
	require.NoError(t, err)
	return p
}

func TestPublisher_StreamLifecycle(t *testing.T) {
	h := newHarness(t, nil)
	s := h.connected(t, &recorder{})
	rec := &recorder{}
	p := newTestPublisher(t, h, rec)

	_, ok := p.Stream()
	assert.False(t, ok)
	assert.Equal(t, domain.PublisherCreated, p.State())

	for round := 0; round < 2; round++ {
		require.NoError(t, s.Publish(p))
		require.Eventually(t, func() bool { return p.State() == domain.PublisherPublishing }, time.Second, 5*time.Millisecond)
		st, ok := p.Stream()
		require.True(t, ok)
		assert.Equal(t, selfConn.ID, st.Connection.ID)

		require.NoError(t, s.Unpublish(p))
		assert.Equal(t, domain.PublisherStopped, p.State())
		_, ok = p.Stream()
		assert.False(t, ok)
	}

	rec.waitFor(t, "stream_created", "stream_destroyed", "stream_created", "stream_destroyed")
	assert.Len(t, h.transport.commands(domain.CommandUnpublish), 2)

	// Own streams never show up as received streams.
	assert.Empty(t, s.Streams())
}

func TestPublisher_PublishNeedsConnectedSession(t *testing.T) {
	h := newHarness(t, nil)
	rec := &recorder{}
	p := newTestPublisher(t, h, rec)

	s, err := h.engine.NewSession(testAPIKey, testSession, SessionCallbacks{}, domain.SessionSettings{})
	require.NoError(t, err)
	assert.ErrorIs(t, s.Publish(p), domain.ErrIllegalState)
	assert.ErrorIs(t, s.Unpublish(p), domain.ErrIllegalState)
	assert.Empty(t, h.transport.commands(domain.CommandPublish))
}

func TestPublisher_RoleWithoutPublish(t *testing.T) {
	caps := domain.CapabilitiesFor(domain.RoleSubscriber)
	h := newHarness(t, func(tr *scriptedTransport, _ *Options) { tr.caps = &caps })
	s := h.connected(t, &recorder{})
	p := newTestPublisher(t, h, &recorder{})

	err := s.Publish(p)
	assert.ErrorIs(t, err, domain.ErrUnableToPublish)
	assert.Equal(t, domain.StatusPublisherUnableToPublish, domain.StatusOf(err))
}

func TestPublisher_PublishTwiceRejected(t *testing.T) {
	h := newHarness(t, nil)
	s := h.connected(t, &recorder{})
	rec := &recorder{}
	p := newTestPublisher(t, h, rec)

	require.NoError(t, s.Publish(p))
	assert.ErrorIs(t, s.Publish(p), domain.ErrIllegalState)
	rec.waitFor(t, "stream_created")
}

func TestPublisher_ToggleSendsStreamUpdate(t *testing.T) {
	h := newHarness(t, nil)
	s := h.connected(t, &recorder{})
	rec := &recorder{}
	p := newTestPublisher(t, h, rec)

	// Staged before publishing.
	require.NoError(t, p.PublishAudio(false))
	require.NoError(t, s.Publish(p))
	rec.waitFor(t, "stream_created")

	st, _ := p.Stream()
	assert.False(t, st.HasAudio)
	assert.True(t, st.HasAudioTrack)

	require.NoError(t, p.PublishVideo(false))
	require.NoError(t, p.PublishVideo(false))
	updates := h.transport.commands(domain.CommandUpdate)
	require.Len(t, updates, 1)
	assert.Equal(t, domain.PropertyHasVideo, updates[0].Update.Property)
	assert.False(t, updates[0].Update.Enabled)
	assert.False(t, p.PublishingVideo())

	h.media.mu.Lock()
	pub := h.media.publications[0]
	h.media.mu.Unlock()
	pub.mu.Lock()
	assert.False(t, pub.video)
	pub.mu.Unlock()
}

func TestPublisher_ForceUnpublish(t *testing.T) {
	h := newHarness(t, nil)
	s := h.connected(t, &recorder{})
	rec := &recorder{}
	p := newTestPublisher(t, h, rec)

	require.NoError(t, s.Publish(p))
	rec.waitFor(t, "stream_created")
	id := p.StreamID()

	h.transport.push(domain.SessionEvent{Type: domain.EventStreamDestroyed, StreamID: id})
	rec.waitFor(t, "stream_created", "stream_destroyed", "error:1535")
	assert.Equal(t, domain.PublisherStopped, p.State())
	assert.ErrorIs(t, s.Unpublish(p), domain.ErrPublisherNotFound)
}

func TestPublisher_SessionDisconnectDestroysStream(t *testing.T) {
	h := newHarness(t, nil)
	sessRec := &recorder{}
	s := h.connected(t, sessRec)
	rec := &recorder{}
	p := newTestPublisher(t, h, rec)

	require.NoError(t, s.Publish(p))
	rec.waitFor(t, "stream_created")
	require.NoError(t, s.Disconnect())
	rec.waitFor(t, "stream_created", "stream_destroyed")
	sessRec.waitFor(t, "connected", "disconnected")
}

func TestPublisher_RTCStatsEachRequestAnswered(t *testing.T) {
	h := newHarness(t, nil)
	s := h.connected(t, &recorder{})
	rec := &recorder{}
	p := newTestPublisher(t, h, rec)

	assert.ErrorIs(t, p.RequestRTCStatsReport(), domain.ErrIllegalState)

	require.NoError(t, s.Publish(p))
	rec.waitFor(t, "stream_created")
	require.NoError(t, p.RequestRTCStatsReport())
	require.NoError(t, p.RequestRTCStatsReport())
	rec.waitFor(t, "stream_created", "rtc_stats:1", "rtc_stats:1")
}

func TestPublisher_RTCStatsCancelledByUnpublish(t *testing.T) {
	h := newHarness(t, nil)
	h.media.blockStats = true
	s := h.connected(t, &recorder{})
	rec := &recorder{}
	p := newTestPublisher(t, h, rec)

	require.NoError(t, s.Publish(p))
	rec.waitFor(t, "stream_created")
	require.NoError(t, p.RequestRTCStatsReport())

	errc := make(chan error, 1)
	go func() {
		_, err := p.FetchRTCStatsReport(context.Background())
		errc <- err
	}()

	h.media.mu.Lock()
	pub := h.media.publications[0]
	h.media.mu.Unlock()
	require.Eventually(t, func() bool { return pub.blocked() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Unpublish(p))
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, domain.ErrCancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("fetch did not return after unpublish")
	}

	require.Eventually(t, func() bool {
		for _, e := range rec.snapshot() {
			if e == "error:5" {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
}

func TestPublisher_FetchRespectsCallerContext(t *testing.T) {
	h := newHarness(t, nil)
	h.media.blockStats = true
	s := h.connected(t, &recorder{})
	rec := &recorder{}
	p := newTestPublisher(t, h, rec)

	require.NoError(t, s.Publish(p))
	rec.waitFor(t, "stream_created")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.FetchRTCStatsReport(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestPublisher_PeriodicStats(t *testing.T) {
	h := newHarness(t, nil)
	s := h.connected(t, &recorder{})
	rec := &recorder{}
	cb := rec.publisherCallbacks()
	cb.OnAudioStats = func(_ *Publisher, stats []domain.PublisherAudioStats) { rec.add("audio_stats:%d", len(stats)) }
	p, err := h.engine.NewPublisher("camera", cb, DefaultPublisherSettings())
	require.NoError(t, err)

	require.NoError(t, s.Publish(p))
	rec.waitFor(t, "stream_created", "audio_stats:1", "audio_stats:1")

	require.NoError(t, s.Unpublish(p))
	require.NoError(t, p.queue.Sync(context.Background()))
	n := len(rec.snapshot())
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, rec.snapshot(), n)
}

func TestPublisher_FramesReleasedAfterRender(t *testing.T) {
	h := newHarness(t, nil)
	s := h.connected(t, &recorder{})
	rec := &recorder{}
	cb := rec.publisherCallbacks()
	rendered := make(chan *videoframe.Frame, 1)
	cb.OnRenderFrame = func(_ *Publisher, f *videoframe.Frame) { rendered <- f }
	p, err := h.engine.NewPublisher("camera", cb, DefaultPublisherSettings())
	require.NoError(t, err)

	// No publication yet: dropped and released.
	early, err := videoframe.New(videoframe.FormatYUV420P, 16, 16)
	require.NoError(t, err)
	p.ConsumeFrame(early)
	assert.True(t, early.Released())

	require.NoError(t, s.Publish(p))
	rec.waitFor(t, "stream_created")

	frame, err := videoframe.New(videoframe.FormatYUV420P, 16, 16)
	require.NoError(t, err)
	p.ConsumeFrame(frame)

	select {
	case got := <-rendered:
		assert.Same(t, frame, got)
	case <-time.After(2 * time.Second):
		t.Fatal("frame not rendered")
	}
	require.NoError(t, p.queue.Sync(context.Background()))
	assert.True(t, frame.Released())

	h.media.mu.Lock()
	pub := h.media.publications[0]
	h.media.mu.Unlock()
	pub.mu.Lock()
	assert.Equal(t, 1, pub.frames)
	pub.mu.Unlock()
}

func TestPublisher_DeleteWhilePublishing(t *testing.T) {
	h := newHarness(t, nil)
	s := h.connected(t, &recorder{})
	rec := &recorder{}
	p := newTestPublisher(t, h, rec)

	require.NoError(t, s.Publish(p))
	rec.waitFor(t, "stream_created")
	require.NoError(t, p.Delete())

	before := rec.snapshot()
	assert.Len(t, h.transport.commands(domain.CommandUnpublish), 1)
	assert.ErrorIs(t, p.Delete(), domain.ErrUnknownPublisher)
	assert.ErrorIs(t, p.PublishVideo(false), domain.ErrUnknownPublisher)
	assert.ErrorIs(t, s.Publish(p), domain.ErrUnknownPublisher)
	assert.Equal(t, before, rec.snapshot())
}

func TestPublisher_SettingsValidation(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.engine.NewPublisher("silent", PublisherCallbacks{}, PublisherSettings{})
	assert.ErrorIs(t, err, domain.ErrInvalidParam)

	p, err := h.engine.NewPublisher("audio-only", PublisherCallbacks{}, PublisherSettings{AudioTrack: true})
	require.NoError(t, err)
	assert.Equal(t, domain.VideoTypeCamera, p.Settings().VideoType)
	assert.False(t, p.PublishingVideo())
	assert.True(t, p.PublishingAudio())
}
