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

// withRemote connects a session that already sees remote-1.
func withRemote(t *testing.T, configure func(*scriptedTransport, *Options)) (*harness, *Session) {
	t.Helper()
	h := newHarness(t, func(tr *scriptedTransport, opts *Options) {
		tr.initial = []domain.Stream{remoteStream("remote-1")}
		if configure != nil {
			configure(tr, opts)
		}
	})
	rec := &recorder{}
	s := h.connected(t, rec)
	rec.waitFor(t, "connected", "stream_received:remote-1")
	return h, s
}

func TestSubscriber_ConnectAndUnsubscribe(t *testing.T) {
	h, s := withRemote(t, nil)
	rec := &recorder{}
	sub, err := h.engine.NewSubscriber(remoteStream("remote-1"), rec.subscriberCallbacks())
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriberIdle, sub.State())

	require.NoError(t, s.Subscribe(sub))
	rec.waitFor(t, "connected:remote-1")
	assert.Equal(t, domain.SubscriberConnected, sub.State())

	sm := h.media.lastSubscription()
	require.NotNil(t, sm)
	assert.Equal(t, selfConn.ID, sm.req.Connection.ID)

	require.NoError(t, s.Unsubscribe(sub))
	rec.waitFor(t, "connected:remote-1", "disconnected")
	assert.Equal(t, domain.SubscriberDisconnected, sub.State())
	assert.Len(t, h.transport.commands(domain.CommandUnsubscribe), 1)
	assert.ErrorIs(t, s.Unsubscribe(sub), domain.ErrSubscriberNotFound)

	// A disconnected subscriber may subscribe again.
	require.NoError(t, s.Subscribe(sub))
	rec.waitFor(t, "connected:remote-1", "disconnected", "connected:remote-1")
}

func TestSubscriber_UnknownStream(t *testing.T) {
	h := newHarness(t, nil)
	s := h.connected(t, &recorder{})
	sub, err := h.engine.NewSubscriber(remoteStream("ghost"), SubscriberCallbacks{})
	require.NoError(t, err)

	err = s.Subscribe(sub)
	assert.ErrorIs(t, err, domain.ErrServerCannotFindStream)
	assert.Equal(t, domain.SubscriberIdle, sub.State())
	assert.Empty(t, h.transport.commands(domain.CommandSubscribe))
}

func TestSubscriber_StreamGoneBeforeAccept(t *testing.T) {
	h, s := withRemote(t, func(tr *scriptedTransport, _ *Options) { tr.holdSubscribe = true })
	rec := &recorder{}
	sub, err := h.engine.NewSubscriber(remoteStream("remote-1"), rec.subscriberCallbacks())
	require.NoError(t, err)

	require.NoError(t, s.Subscribe(sub))
	assert.Equal(t, domain.SubscriberConnecting, sub.State())

	h.transport.push(domain.SessionEvent{Type: domain.EventStreamDestroyed, StreamID: "remote-1"})
	rec.waitFor(t, "error:3604")
	assert.Equal(t, domain.SubscriberDisconnected, sub.State())

	// The router's late accept is answered with an unsubscribe.
	wire := h.transport.commands(domain.CommandSubscribe)[0].Subscribe.SubscriberID
	h.transport.push(domain.SessionEvent{Type: domain.EventSubscribeAccepted, SubscriberID: wire})
	require.Eventually(t, func() bool {
		return len(h.transport.commands(domain.CommandUnsubscribe)) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"error:3604"}, rec.snapshot())
}

func TestSubscriber_Rejected(t *testing.T) {
	h, s := withRemote(t, func(tr *scriptedTransport, _ *Options) { tr.holdSubscribe = true })
	rec := &recorder{}
	sub, err := h.engine.NewSubscriber(remoteStream("remote-1"), rec.subscriberCallbacks())
	require.NoError(t, err)
	require.NoError(t, s.Subscribe(sub))

	wire := h.transport.commands(domain.CommandSubscribe)[0].Subscribe.SubscriberID
	ev := domain.ErrorEvent(domain.EventSubscribeRejected, domain.ErrSubscriberLimitExceeded)
	ev.SubscriberID = wire
	h.transport.push(ev)
	rec.waitFor(t, "error:3605")
}

func TestSubscriber_MediaFailure(t *testing.T) {
	h, s := withRemote(t, nil)
	h.media.mu.Lock()
	h.media.subscribeErr = errors.New("ice failed")
	h.media.mu.Unlock()

	rec := &recorder{}
	sub, err := h.engine.NewSubscriber(remoteStream("remote-1"), rec.subscriberCallbacks())
	require.NoError(t, err)
	require.NoError(t, s.Subscribe(sub))

	rec.waitFor(t, "error:3600")
	assert.Equal(t, domain.SubscriberDisconnected, sub.State())
}

func TestSubscriber_PublisherStopsVideo(t *testing.T) {
	h, s := withRemote(t, nil)
	rec := &recorder{}
	sub, err := h.engine.NewSubscriber(remoteStream("remote-1"), rec.subscriberCallbacks())
	require.NoError(t, err)
	require.NoError(t, s.Subscribe(sub))
	rec.waitFor(t, "connected:remote-1")

	for _, on := range []bool{false, false, true} {
		update := domain.StreamUpdate{StreamID: "remote-1", Property: domain.PropertyHasVideo, Enabled: on}
		h.transport.push(domain.SessionEvent{Type: domain.EventStreamUpdated, Update: &update})
	}
	rec.waitFor(t, "connected:remote-1", "video_disabled:publish_video", "video_enabled:publish_video")

	require.NoError(t, sub.SubscribeToVideo(false))
	rec.waitFor(t, "connected:remote-1", "video_disabled:publish_video", "video_enabled:publish_video",
		"video_disabled:subscribe_to_video")
	assert.False(t, sub.SubscribingToVideo())

	update := domain.StreamUpdate{StreamID: "remote-1", Property: domain.PropertyHasAudio, Enabled: false}
	h.transport.push(domain.SessionEvent{Type: domain.EventStreamUpdated, Update: &update})
	rec.waitFor(t, "connected:remote-1", "video_disabled:publish_video", "video_enabled:publish_video",
		"video_disabled:subscribe_to_video", "audio_disabled")
}

func TestSubscriber_Preferences(t *testing.T) {
	h, s := withRemote(t, nil)
	rec := &recorder{}
	sub, err := h.engine.NewSubscriber(remoteStream("remote-1"), rec.subscriberCallbacks())
	require.NoError(t, err)

	require.NoError(t, sub.SetPreferredResolution(320, 240))
	require.NoError(t, sub.SetPreferredFrameRate(15))
	assert.ErrorIs(t, sub.SetPreferredFrameRate(-1), domain.ErrInvalidParam)
	assert.ErrorIs(t, sub.SetPreferredResolution(-5, 10), domain.ErrInvalidParam)

	require.NoError(t, s.Subscribe(sub))
	rec.waitFor(t, "connected:remote-1")

	sm := h.media.lastSubscription()
	sm.mu.Lock()
	assert.Equal(t, 320, sm.width)
	assert.Equal(t, 240, sm.height)
	sm.mu.Unlock()

	require.NoError(t, sub.SetPreferredResolution(1280, 720))
	w, hgt := sub.PreferredResolution()
	assert.Equal(t, 1280, w)
	assert.Equal(t, 720, hgt)
	assert.InDelta(t, 15, sub.PreferredFrameRate(), 0.001)

	require.NoError(t, sub.SetPreferredResolution(0, 0))
	w, hgt = sub.PreferredResolution()
	assert.Zero(t, w)
	assert.Zero(t, hgt)
}

func TestSubscriber_InterruptionCycle(t *testing.T) {
	h, s := withRemote(t, nil)
	rec := &recorder{}
	sub, err := h.engine.NewSubscriber(remoteStream("remote-1"), rec.subscriberCallbacks())
	require.NoError(t, err)
	require.NoError(t, s.Subscribe(sub))
	rec.waitFor(t, "connected:remote-1")

	h.transport.push(domain.SessionEvent{Type: domain.EventInterrupted})
	rec.waitFor(t, "connected:remote-1", "disconnected")
	assert.Equal(t, domain.SubscriberReconnecting, sub.State())

	h.transport.push(domain.SessionEvent{Type: domain.EventResumed})
	rec.waitFor(t, "connected:remote-1", "disconnected", "reconnected")
	assert.Equal(t, domain.SubscriberConnected, sub.State())
}

func TestSubscriber_SinkEvents(t *testing.T) {
	h, s := withRemote(t, nil)
	rec := &recorder{}
	cb := rec.subscriberCallbacks()
	cb.OnVideoDataReceived = func(*Subscriber) { rec.add("video_data") }
	cb.OnVideoDisableWarning = func(*Subscriber) { rec.add("warning") }
	cb.OnVideoDisableWarningLifted = func(*Subscriber) { rec.add("warning_lifted") }
	sub, err := h.engine.NewSubscriber(remoteStream("remote-1"), cb)
	require.NoError(t, err)
	require.NoError(t, s.Subscribe(sub))
	rec.waitFor(t, "connected:remote-1")

	frame, err := videoframe.New(videoframe.FormatYUV420P, 16, 16)
	require.NoError(t, err)
	sub.OnVideoFrame(frame)
	sub.OnVideoDisableWarning(true)
	sub.OnVideoDisableWarning(false)
	sub.OnVideoStateChanged(false, domain.VideoReasonQualityDegradation)

	rec.waitFor(t, "connected:remote-1", "video_data", "warning", "warning_lifted", "video_disabled:quality")
	require.NoError(t, sub.queue.Sync(context.Background()))
	assert.True(t, frame.Released())
}

func TestSubscriber_DeleteReleasesQueuedFrames(t *testing.T) {
	h, s := withRemote(t, nil)
	rec := &recorder{}
	cb := rec.subscriberCallbacks()
	rendering := make(chan struct{})
	unblock := make(chan struct{})
	first := true
	cb.OnRenderFrame = func(*Subscriber, *videoframe.Frame) {
		if first {
			first = false
			close(rendering)
			<-unblock
		}
	}
	sub, err := h.engine.NewSubscriber(remoteStream("remote-1"), cb)
	require.NoError(t, err)
	require.NoError(t, s.Subscribe(sub))
	rec.waitFor(t, "connected:remote-1")

	frames := make([]*videoframe.Frame, 3)
	for i := range frames {
		frames[i], err = videoframe.New(videoframe.FormatYUV420P, 16, 16)
		require.NoError(t, err)
		sub.OnVideoFrame(frames[i])
	}
	<-rendering

	require.NoError(t, sub.Delete())
	assert.True(t, frames[1].Released(), "queued frame must be released when its callback is dropped")
	assert.True(t, frames[2].Released())
	assert.False(t, frames[0].Released(), "the frame being rendered stays valid until its callback returns")

	close(unblock)
	<-sub.queue.Done()
	assert.True(t, frames[0].Released())
}

func TestSubscriber_RTCStats(t *testing.T) {
	h, s := withRemote(t, nil)
	rec := &recorder{}
	cb := rec.subscriberCallbacks()
	cb.OnRTCStatsReport = func(_ *Subscriber, reports []domain.RTCStatsReport) {
		rec.add("rtc_stats:%s", reports[0].ConnectionID)
	}
	cb.OnVideoStats = func(_ *Subscriber, st domain.SubscriberVideoStats) { rec.add("video_stats:%d", st.PacketsReceived) }
	sub, err := h.engine.NewSubscriber(remoteStream("remote-1"), cb)
	require.NoError(t, err)

	assert.ErrorIs(t, sub.RequestRTCStatsReport(), domain.ErrIllegalState)
	require.NoError(t, s.Subscribe(sub))
	rec.waitFor(t, "connected:remote-1")

	require.NoError(t, sub.RequestRTCStatsReport())
	require.Eventually(t, func() bool {
		var stats, reports bool
		for _, e := range rec.snapshot() {
			stats = stats || e == "video_stats:7"
			reports = reports || e == "rtc_stats:conn_peer"
		}
		return stats && reports
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSubscriber_DeleteSilences(t *testing.T) {
	h, s := withRemote(t, nil)
	rec := &recorder{}
	sub, err := h.engine.NewSubscriber(remoteStream("remote-1"), rec.subscriberCallbacks())
	require.NoError(t, err)
	require.NoError(t, s.Subscribe(sub))
	rec.waitFor(t, "connected:remote-1")

	require.NoError(t, sub.Delete())
	before := rec.snapshot()

	update := domain.StreamUpdate{StreamID: "remote-1", Property: domain.PropertyHasVideo, Enabled: false}
	h.transport.push(domain.SessionEvent{Type: domain.EventStreamUpdated, Update: &update})
	require.NoError(t, s.inbox.Sync(context.Background()))
	assert.Equal(t, before, rec.snapshot())

	assert.ErrorIs(t, sub.Delete(), domain.ErrUnknownSubscriber)
	assert.ErrorIs(t, sub.SubscribeToVideo(true), domain.ErrUnknownSubscriber)
	assert.Len(t, h.transport.commands(domain.CommandUnsubscribe), 1)
}

func TestSubscriber_NeedsStreamID(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.engine.NewSubscriber(domain.Stream{}, SubscriberCallbacks{})
	assert.ErrorIs(t, err, domain.ErrInvalidParam)
}
