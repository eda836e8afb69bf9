package client

import (
	"context"
	"errors"
	"time"

	"rtclink/internal/core/domain"
	"rtclink/internal/core/ports"
)

// handleEvent runs on the inbox goroutine. Events from a connect attempt
// other than the current one are dropped.
func (s *Session) handleEvent(gen uint64, ev domain.SessionEvent) {
	switch ev.Type {
	case domain.EventPublishAccepted:
		s.onPublishAccepted(gen, ev)
		return
	case domain.EventSubscribeAccepted:
		s.onSubscribeAccepted(gen, ev)
		return
	}

	s.mu.Lock()
	if gen != s.generation || s.deleted {
		s.mu.Unlock()
		return
	}

	var (
		closeTr ports.Transport
		after   func()
	)
	switch ev.Type {
	case domain.EventJoinAccepted:
		s.onJoinAcceptedLocked(ev)
	case domain.EventJoinRejected:
		closeTr = s.onJoinRejectedLocked(ev)
	case domain.EventInterrupted:
		s.onInterruptedLocked()
	case domain.EventResumed:
		after = s.onResumedLocked(ev)
	case domain.EventClosed:
		closeTr = s.onClosedLocked(ev)
	case domain.EventConnectionCreated:
		if ev.Connection != nil {
			s.addConnectionLocked(*ev.Connection)
		}
	case domain.EventConnectionDropped:
		if ev.Connection != nil {
			s.dropConnectionLocked(ev.Connection.ID)
		}
	case domain.EventStreamCreated:
		if ev.Stream != nil {
			s.addStreamLocked(*ev.Stream)
		}
	case domain.EventStreamDestroyed:
		s.dropStreamLocked(ev.StreamID)
	case domain.EventStreamUpdated:
		if ev.Update != nil {
			s.updateStreamLocked(*ev.Update)
		}
	case domain.EventPublishRejected:
		s.onPublishRejectedLocked(ev)
	case domain.EventSubscribeRejected:
		s.onSubscribeRejectedLocked(ev)
	case domain.EventSignal:
		if ev.Signal != nil && s.live() {
			sig := *ev.Signal
			if cb := s.cb.OnSignalReceived; cb != nil {
				s.emit("on_signal_received", func() { cb(s, sig) })
			}
		}
	case domain.EventArchiveStarted:
		if ev.Archive != nil && s.live() {
			archive := *ev.Archive
			if cb := s.cb.OnArchiveStarted; cb != nil {
				s.emit("on_archive_started", func() { cb(s, archive) })
			}
		}
	case domain.EventArchiveStopped:
		if ev.Archive != nil && s.live() {
			archiveID := ev.Archive.ID
			if cb := s.cb.OnArchiveStopped; cb != nil {
				s.emit("on_archive_stopped", func() { cb(s, archiveID) })
			}
		}
	case domain.EventError:
		s.emitErrorLocked(ev.Err())
	default:
		s.logger.Debugw("ignoring session event", "type", ev.Type)
	}
	s.mu.Unlock()

	if closeTr != nil {
		if err := closeTr.Close(); err != nil {
			s.logger.Debugw("transport close failed", "error", err)
		}
	}
	if after != nil {
		after()
	}
}

// live reports whether remote activity should be announced.
func (s *Session) live() bool {
	st := s.currentState()
	return st == domain.SessionConnected || st == domain.SessionReconnecting
}

func (s *Session) emitErrorLocked(err error) {
	if err == nil {
		return
	}
	if cb := s.cb.OnError; cb != nil {
		s.emit("on_error", func() { cb(s, err) })
	}
}

func (s *Session) onJoinAcceptedLocked(ev domain.SessionEvent) {
	if ev.Connection == nil || !s.state.Can(evConnected) {
		return
	}
	s.stopConnectLocked()
	s.self = *ev.Connection
	if ev.Capabilities != nil {
		s.caps = *ev.Capabilities
	} else {
		s.caps = domain.CapabilitiesFor(domain.RolePublisher)
	}
	s.fire(evConnected)
	s.engine.metrics.ConnectLatency(time.Since(s.connectStarted))
	s.logger.Infow("session connected",
		"connection_id", s.self.ID,
		"connections", len(ev.Connections),
		"streams", len(ev.Streams),
	)

	if cb := s.cb.OnConnected; cb != nil {
		s.emit("on_connected", func() { cb(s) })
	}
	for _, c := range ev.Connections {
		s.addConnectionLocked(c)
	}
	for _, st := range ev.Streams {
		s.addStreamLocked(st)
	}
}

func (s *Session) onJoinRejectedLocked(ev domain.SessionEvent) ports.Transport {
	if s.currentState() != domain.SessionConnecting {
		return nil
	}
	err := ev.Err()
	if err == nil {
		err = domain.ErrConnectionFailed
	}
	tr := s.teardownLocked(domain.ErrPublisherSessionDisconnected, domain.ErrSubscriberSessionDisconnected)
	s.logger.Warnw("session connect failed", "error", err)
	s.emitErrorLocked(err)
	return tr
}

func (s *Session) onInterruptedLocked() {
	if !s.state.Can(evInterrupt) {
		return
	}
	s.fire(evInterrupt)
	s.logger.Warnw("session connection interrupted")
	if cb := s.cb.OnReconnectionStarted; cb != nil {
		s.emit("on_reconnection_started", func() { cb(s) })
	}
	for _, sub := range s.subscribers {
		sub.sessionInterrupted(s)
	}
}

func (s *Session) onResumedLocked(ev domain.SessionEvent) func() {
	if !s.state.Can(evResume) {
		return nil
	}
	s.fire(evResume)
	s.logger.Infow("session reconnected", "queued_commands", len(s.pending))
	if cb := s.cb.OnReconnected; cb != nil {
		s.emit("on_reconnected", func() { cb(s) })
	}
	for _, sub := range s.subscribers {
		sub.sessionResumed(s)
	}

	pending := s.pending
	s.pending = nil
	s.pendingSignals = 0
	tr := s.transport
	if len(pending) == 0 {
		return nil
	}
	return func() {
		for _, cmd := range pending {
			err := s.send(tr, cmd)
			if cmd.Type == domain.CommandSignal {
				s.engine.metrics.SignalSent(err == nil)
			}
			if err != nil {
				s.logger.Warnw("queued command not delivered", "type", cmd.Type, "error", err)
			}
		}
	}
}

// onClosedLocked handles the router or transport ending the session: a
// failed reconnect or a forced disconnect.
func (s *Session) onClosedLocked(ev domain.SessionEvent) ports.Transport {
	if s.currentState() == domain.SessionDisconnected {
		return nil
	}
	err := ev.Err()
	if err == nil {
		err = domain.ErrConnectionDropped
	}
	tr := s.teardownLocked(domain.ErrPublisherSessionDisconnected, domain.ErrSubscriberSessionDisconnected)
	s.logger.Warnw("session closed", "error", err)
	s.emitErrorLocked(err)
	if cb := s.cb.OnDisconnected; cb != nil {
		s.emit("on_disconnected", func() { cb(s) })
	}
	return tr
}

func (s *Session) addConnectionLocked(c domain.Connection) {
	if !s.live() || c.ID == s.self.ID {
		return
	}
	if err := s.connections.Add(context.Background(), c); err != nil {
		if !errors.Is(err, domain.ErrConnectionExists) {
			s.logger.Warnw("connection registry add failed", "connection_id", c.ID, "error", err)
		}
		return
	}
	if s.settings.ConnectionEventsSuppressed {
		return
	}
	if cb := s.cb.OnConnectionCreated; cb != nil {
		s.emit("on_connection_created", func() { cb(s, c) })
	}
}

// dropConnectionLocked drops the connection's streams before the
// connection itself.
func (s *Session) dropConnectionLocked(id domain.ConnectionID) {
	ctx := context.Background()
	c, err := s.connections.GetByID(ctx, id)
	if err != nil {
		return
	}
	if streams, err := s.streams.ListByConnection(ctx, id); err == nil {
		for _, st := range streams {
			s.dropStreamLocked(st.ID)
		}
	}
	if err := s.connections.Remove(ctx, id); err != nil {
		return
	}
	if s.settings.ConnectionEventsSuppressed {
		return
	}
	if cb := s.cb.OnConnectionDropped; cb != nil {
		s.emit("on_connection_dropped", func() { cb(s, c) })
	}
}

func (s *Session) addStreamLocked(st domain.Stream) {
	if !s.live() || st.Connection.ID == s.self.ID {
		return
	}
	if err := s.streams.Create(context.Background(), st); err != nil {
		if !errors.Is(err, domain.ErrStreamExists) {
			s.logger.Warnw("stream registry create failed", "stream_id", st.ID, "error", err)
		}
		return
	}
	if cb := s.cb.OnStreamReceived; cb != nil {
		s.emit("on_stream_received", func() { cb(s, st) })
	}
}

func (s *Session) dropStreamLocked(id domain.StreamID) {
	for wire, p := range s.publishers {
		if p.StreamID() == id {
			delete(s.publishers, wire)
			p.detach(s, domain.ErrForceUnpublished.Withf("stream %s was removed by the router", id))
			return
		}
	}

	ctx := context.Background()
	st, err := s.streams.GetByID(ctx, id)
	if err != nil {
		return
	}
	if err := s.streams.Delete(ctx, id); err != nil {
		return
	}
	for wire, sub := range s.subscribers {
		if sub.StreamID() == id {
			delete(s.subscribers, wire)
			sub.detach(s, domain.ErrServerCannotFindStream.Withf("stream %s was dropped", id))
		}
	}
	if cb := s.cb.OnStreamDropped; cb != nil {
		s.emit("on_stream_dropped", func() { cb(s, st) })
	}
}

func (s *Session) updateStreamLocked(u domain.StreamUpdate) {
	ctx := context.Background()
	st, err := s.streams.GetByID(ctx, u.StreamID)
	if err != nil {
		return
	}
	next, changed := u.Apply(st)
	if !changed {
		return
	}
	if err := s.streams.Update(ctx, next); err != nil {
		s.logger.Warnw("stream registry update failed", "stream_id", u.StreamID, "error", err)
		return
	}

	switch u.Property {
	case domain.PropertyHasAudio:
		if cb := s.cb.OnStreamHasAudioChanged; cb != nil {
			s.emit("on_stream_has_audio_changed", func() { cb(s, next, next.HasAudio) })
		}
		for _, sub := range s.subscribers {
			if sub.StreamID() == u.StreamID {
				sub.publisherAudioChanged(s, next.HasAudio)
			}
		}
	case domain.PropertyHasVideo:
		if cb := s.cb.OnStreamHasVideoChanged; cb != nil {
			s.emit("on_stream_has_video_changed", func() { cb(s, next, next.HasVideo) })
		}
		for _, sub := range s.subscribers {
			if sub.StreamID() == u.StreamID {
				sub.publisherVideoChanged(s, next.HasVideo)
			}
		}
	case domain.PropertyVideoDimensions:
		if cb := s.cb.OnStreamVideoDimensionsChanged; cb != nil {
			s.emit("on_stream_video_dimensions_changed", func() { cb(s, next, next.Width, next.Height) })
		}
	case domain.PropertyVideoType:
		if cb := s.cb.OnStreamVideoTypeChanged; cb != nil {
			s.emit("on_stream_video_type_changed", func() { cb(s, next, next.VideoType) })
		}
	}
}

// onPublishAccepted binds the acknowledged stream to its publisher. An
// acknowledgement nobody is waiting for any more is answered with an
// unpublish.
func (s *Session) onPublishAccepted(gen uint64, ev domain.SessionEvent) {
	if ev.Stream == nil {
		return
	}
	stream := *ev.Stream

	s.mu.Lock()
	if gen != s.generation || s.deleted {
		s.mu.Unlock()
		return
	}
	p, ok := s.publishers[ev.PublisherID]
	tr := s.transport
	s.mu.Unlock()

	unpublish := domain.Command{Type: domain.CommandUnpublish, StreamID: stream.ID}
	if !ok {
		s.logger.Debugw("publish acknowledged after cancel", "stream_id", stream.ID)
		_ = s.send(tr, unpublish)
		return
	}

	if err := p.published(s, ev.PublisherID, stream); err != nil {
		s.mu.Lock()
		if s.publishers[ev.PublisherID] == p {
			delete(s.publishers, ev.PublisherID)
		}
		tr = s.sendOrQueueLocked(unpublish)
		s.mu.Unlock()
		if tr != nil {
			_ = s.send(tr, unpublish)
		}
	}
}

func (s *Session) onPublishRejectedLocked(ev domain.SessionEvent) {
	p, ok := s.publishers[ev.PublisherID]
	if !ok {
		return
	}
	delete(s.publishers, ev.PublisherID)
	err := ev.Err()
	if err == nil {
		err = domain.ErrUnableToPublish
	}
	p.detach(s, err)
}

func (s *Session) onSubscribeAccepted(gen uint64, ev domain.SessionEvent) {
	s.mu.Lock()
	if gen != s.generation || s.deleted {
		s.mu.Unlock()
		return
	}
	sub, ok := s.subscribers[ev.SubscriberID]
	tr := s.transport
	var (
		stream domain.Stream
		err    error
	)
	if ok {
		stream, err = s.streams.GetByID(context.Background(), sub.StreamID())
	}
	s.mu.Unlock()

	unsubscribe := domain.Command{Type: domain.CommandUnsubscribe, SubscriberID: ev.SubscriberID}
	if !ok {
		_ = s.send(tr, unsubscribe)
		return
	}
	if err != nil {
		// The stream vanished between the request and the answer.
		_ = s.dropSubscriber(sub, domain.ErrServerCannotFindStream.Withf("stream %s was dropped", sub.StreamID()))
		return
	}

	if err := sub.subscribed(s, ev.SubscriberID, stream); err != nil {
		s.mu.Lock()
		if s.subscribers[ev.SubscriberID] == sub {
			delete(s.subscribers, ev.SubscriberID)
		}
		tr = s.sendOrQueueLocked(unsubscribe)
		s.mu.Unlock()
		if tr != nil {
			_ = s.send(tr, unsubscribe)
		}
	}
}

func (s *Session) onSubscribeRejectedLocked(ev domain.SessionEvent) {
	sub, ok := s.subscribers[ev.SubscriberID]
	if !ok {
		return
	}
	delete(s.subscribers, ev.SubscriberID)
	err := ev.Err()
	if err == nil {
		err = domain.ErrServerCannotFindStream
	}
	sub.detach(s, err)
}
