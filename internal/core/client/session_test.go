package client

import (
	"context"
	"strings"
	"testing"
	"time"

	"rtclink/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSession_ConnectThenRemoteStreamOrdering(t *testing.T) {
	h := newHarness(t, nil)
	rec := &recorder{}
	s := h.connected(t, rec)

	stream := remoteStream("remote-1")
	h.transport.push(domain.SessionEvent{Type: domain.EventStreamCreated, Stream: &stream})
	rec.waitFor(t, "connected", "stream_received:remote-1")

	h.transport.push(domain.SessionEvent{Type: domain.EventStreamDestroyed, StreamID: stream.ID})
	rec.waitFor(t, "connected", "stream_received:remote-1", "stream_dropped:remote-1")

	update := domain.StreamUpdate{StreamID: stream.ID, Property: domain.PropertyHasVideo, Enabled: false}
	h.transport.push(domain.SessionEvent{Type: domain.EventStreamUpdated, Update: &update})
	h.transport.push(domain.SessionEvent{Type: domain.EventStreamDestroyed, StreamID: stream.ID})

	require.NoError(t, s.inbox.Sync(context.Background()))
	require.NoError(t, s.queue.Sync(context.Background()))
	assert.Equal(t, []string{"connected", "stream_received:remote-1", "stream_dropped:remote-1"}, rec.snapshot())
	assert.Empty(t, s.Streams())
}

func TestSession_JoinForwardsSettings(t *testing.T) {
	h := newHarness(t, nil)
	rec := &recorder{}
	s, err := h.engine.NewSession(testAPIKey, testSession, rec.sessionCallbacks(), domain.SessionSettings{
		ConnectionEventsSuppressed: true,
		ICE: &domain.ICEConfig{
			Servers:   []domain.ICEServer{{URLs: []string{"turn:turn.example.com:3478"}}},
			ForceTURN: true,
		},
	})
	require.NoError(t, err)
	require.NoError(t, s.Connect("secret-token"))
	rec.waitFor(t, "connected")

	h.transport.mu.Lock()
	join := h.transport.join
	h.transport.mu.Unlock()
	assert.Equal(t, testAPIKey, join.APIKey)
	assert.Equal(t, "secret-token", join.Token)
	assert.True(t, join.Settings.ICE.ForceTURN)
	assert.Equal(t, selfConn, s.Connection())
}

func TestSession_InitialStateAnnouncedOnce(t *testing.T) {
	peer := domain.Connection{ID: "conn_peer", SessionID: testSession}
	stream := remoteStream("remote-1")
	h := newHarness(t, func(tr *scriptedTransport, _ *Options) {
		tr.peers = []domain.Connection{peer, selfConn}
		tr.initial = []domain.Stream{stream}
	})
	rec := &recorder{}
	s := h.connected(t, rec)

	h.transport.push(domain.SessionEvent{Type: domain.EventConnectionCreated, Connection: &peer})
	h.transport.push(domain.SessionEvent{Type: domain.EventStreamCreated, Stream: &stream})
	require.NoError(t, s.inbox.Sync(context.Background()))
	require.NoError(t, s.queue.Sync(context.Background()))

	assert.Equal(t, []string{
		"connected",
		"connection_created:conn_peer",
		"stream_received:remote-1",
	}, rec.snapshot())
	assert.Len(t, s.Connections(), 1)
}

func TestSession_ConnectionDropTakesItsStreams(t *testing.T) {
	peer := domain.Connection{ID: "conn_peer", SessionID: testSession}
	h := newHarness(t, func(tr *scriptedTransport, _ *Options) {
		tr.peers = []domain.Connection{peer}
		tr.initial = []domain.Stream{remoteStream("remote-1")}
	})
	rec := &recorder{}
	h.connected(t, rec)

	h.transport.push(domain.SessionEvent{Type: domain.EventConnectionDropped, Connection: &peer})
	rec.waitFor(t,
		"connected",
		"connection_created:conn_peer",
		"stream_received:remote-1",
		"stream_dropped:remote-1",
		"connection_dropped:conn_peer",
	)
}

func TestSession_ConnectRejected(t *testing.T) {
	h := newHarness(t, func(tr *scriptedTransport, _ *Options) { tr.silent = true })
	rec := &recorder{}
	s, err := h.engine.NewSession(testAPIKey, testSession, rec.sessionCallbacks(), domain.SessionSettings{})
	require.NoError(t, err)
	require.NoError(t, s.Connect("token"))
	require.Eventually(t, h.transport.opened, time.Second, 5*time.Millisecond)

	h.transport.push(domain.ErrorEvent(domain.EventJoinRejected, domain.ErrAuthorizationFailure))
	rec.waitFor(t, "error:1004")
	assert.Equal(t, domain.SessionDisconnected, s.State())

	// Connect is allowed again after a failure.
	require.NoError(t, s.Connect("token"))
	assert.Equal(t, domain.SessionConnecting, s.State())
}

func TestSession_ConnectTimesOut(t *testing.T) {
	h := newHarness(t, func(tr *scriptedTransport, opts *Options) {
		tr.silent = true
		opts.ConnectTimeout = 20 * time.Millisecond
	})
	rec := &recorder{}
	s, err := h.engine.NewSession(testAPIKey, testSession, rec.sessionCallbacks(), domain.SessionSettings{})
	require.NoError(t, err)
	require.NoError(t, s.Connect("token"))

	rec.waitFor(t, "error:1021")
	assert.Equal(t, domain.SessionDisconnected, s.State())

	// A late accept from the abandoned attempt is ignored.
	self := selfConn
	h.transport.push(domain.SessionEvent{Type: domain.EventJoinAccepted, Connection: &self})
	require.NoError(t, s.inbox.Sync(context.Background()))
	assert.Equal(t, domain.SessionDisconnected, s.State())
}

func TestSession_ConnectValidation(t *testing.T) {
	h := newHarness(t, nil)
	rec := &recorder{}
	s := h.connected(t, rec)

	assert.ErrorIs(t, s.Connect(""), domain.ErrInvalidParam)
	assert.ErrorIs(t, s.Connect("token"), domain.ErrIllegalState)

	_, err := h.engine.NewSession("", testSession, SessionCallbacks{}, domain.SessionSettings{})
	assert.ErrorIs(t, err, domain.ErrInvalidParam)
	_, err = h.engine.NewSession(testAPIKey, "bad id!", SessionCallbacks{}, domain.SessionSettings{})
	assert.ErrorIs(t, err, domain.ErrInvalidSession)
}

func TestSession_DoubleDisconnect(t *testing.T) {
	h := newHarness(t, nil)
	rec := &recorder{}
	s := h.connected(t, rec)

	require.NoError(t, s.Disconnect())
	rec.waitFor(t, "connected", "disconnected")

	err := s.Disconnect()
	assert.ErrorIs(t, err, domain.ErrIllegalState)
	assert.Equal(t, domain.StatusIllegalState, domain.StatusOf(err))
	assert.Len(t, h.transport.commands(domain.CommandLeave), 1)
}

func TestSession_InterruptResumeAndDrop(t *testing.T) {
	h := newHarness(t, nil)
	rec := &recorder{}
	s := h.connected(t, rec)

	h.transport.push(domain.SessionEvent{Type: domain.EventInterrupted})
	rec.waitFor(t, "connected", "reconnecting")
	assert.Equal(t, domain.SessionReconnecting, s.State())

	h.transport.push(domain.SessionEvent{Type: domain.EventResumed})
	rec.waitFor(t, "connected", "reconnecting", "reconnected")
	assert.Equal(t, domain.SessionConnected, s.State())

	h.transport.push(domain.SessionEvent{Type: domain.EventInterrupted})
	h.transport.push(domain.ErrorEvent(domain.EventClosed, domain.ErrConnectionDropped))
	rec.waitFor(t, "connected", "reconnecting", "reconnected", "reconnecting", "error:1022", "disconnected")
	assert.Equal(t, domain.SessionDisconnected, s.State())
}

func TestSession_ForceDisconnect(t *testing.T) {
	h := newHarness(t, nil)
	rec := &recorder{}
	s := h.connected(t, rec)

	h.transport.push(domain.ErrorEvent(domain.EventClosed, domain.ErrForceDisconnected))
	rec.waitFor(t, "connected", "error:1910", "disconnected")
	assert.ErrorIs(t, s.Disconnect(), domain.ErrIllegalState)
}

func TestSession_SignalLimits(t *testing.T) {
	h := newHarness(t, nil)
	rec := &recorder{}
	s := h.connected(t, rec)

	err := s.SendSignal("chat", strings.Repeat("x", 9000), domain.DefaultSignalOptions())
	assert.ErrorIs(t, err, domain.ErrSignalDataTooLong)
	assert.Equal(t, domain.StatusSessionSignalDataTooLong, domain.StatusOf(err))

	err = s.SendSignal(strings.Repeat("t", domain.MaxSignalTypeLength+1), "", domain.DefaultSignalOptions())
	assert.ErrorIs(t, err, domain.ErrSignalTypeTooLong)

	assert.Empty(t, h.transport.commands(domain.CommandSignal))
	require.NoError(t, s.queue.Sync(context.Background()))
	assert.Equal(t, []string{"connected"}, rec.snapshot())
}

func TestSession_SignalBroadcastAndUnicast(t *testing.T) {
	h := newHarness(t, nil)
	rec := &recorder{}
	s := h.connected(t, rec)

	require.NoError(t, s.SendSignal("chat", "hello", domain.DefaultSignalOptions()))
	rec.waitFor(t, "connected", "signal:chat:hello")

	err := s.SendSignalTo("conn_nobody", "chat", "hi", domain.DefaultSignalOptions())
	assert.ErrorIs(t, err, domain.ErrConnectionNotFound)
}

func TestSession_SignalsDuringReconnect(t *testing.T) {
	h := newHarness(t, func(_ *scriptedTransport, opts *Options) { opts.SignalQueueLimit = 1 })
	rec := &recorder{}
	s := h.connected(t, rec)

	h.transport.push(domain.SessionEvent{Type: domain.EventInterrupted})
	rec.waitFor(t, "connected", "reconnecting")

	require.NoError(t, s.SendSignal("chat", "queued", domain.DefaultSignalOptions()))
	assert.ErrorIs(t, s.SendSignal("chat", "overflow", domain.DefaultSignalOptions()), domain.ErrIllegalState)
	assert.ErrorIs(t, s.SendSignal("chat", "now-or-never", domain.SignalOptions{}), domain.ErrIllegalState)
	assert.Empty(t, h.transport.commands(domain.CommandSignal))

	h.transport.push(domain.SessionEvent{Type: domain.EventResumed})
	rec.waitFor(t, "connected", "reconnecting", "reconnected", "signal:chat:queued")
	assert.Len(t, h.transport.commands(domain.CommandSignal), 1)
}

func TestSession_SignalWhileDisconnected(t *testing.T) {
	h := newHarness(t, nil)
	s, err := h.engine.NewSession(testAPIKey, testSession, SessionCallbacks{}, domain.SessionSettings{})
	require.NoError(t, err)
	assert.ErrorIs(t, s.SendSignal("chat", "x", domain.DefaultSignalOptions()), domain.ErrNotConnected)
}

func TestSession_ArchiveEvents(t *testing.T) {
	h := newHarness(t, nil)
	rec := &recorder{}
	h.connected(t, rec)

	archive := domain.Archive{ID: "archive-1", Name: "weekly", SessionID: testSession}
	h.transport.push(domain.SessionEvent{Type: domain.EventArchiveStarted, Archive: &archive})
	h.transport.push(domain.SessionEvent{Type: domain.EventArchiveStopped, Archive: &archive})
	rec.waitFor(t, "connected", "archive_started:archive-1", "archive_stopped:archive-1")
}

func TestSession_DeleteIsBarrier(t *testing.T) {
	h := newHarness(t, nil)
	rec := &recorder{}
	s := h.connected(t, rec)

	require.NoError(t, s.Delete())
	before := rec.snapshot()

	stream := remoteStream("late")
	h.transport.push(domain.SessionEvent{Type: domain.EventStreamCreated, Stream: &stream})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, before, rec.snapshot())

	assert.ErrorIs(t, s.Delete(), domain.ErrNotInitialized)
	assert.ErrorIs(t, s.Connect("token"), domain.ErrNotInitialized)
}

func TestSession_ReportIssue(t *testing.T) {
	h := newHarness(t, nil)
	s := h.connected(t, &recorder{})

	id, err := s.ReportIssue("choppy audio")
	require.NoError(t, err)
	assert.Len(t, id, 36)
}
