package client

import (
	"context"

	"rtclink/internal/core/domain"
	"rtclink/internal/core/ports"
	"rtclink/pkg/tracing"
)

// SendSignal broadcasts a signal to every connection in the session,
// including this one.
func (s *Session) SendSignal(signalType, data string, opts domain.SignalOptions) error {
	return s.SendSignalTo("", signalType, data, opts)
}

// SendSignalTo sends a signal to one connection, or to everyone when to is
// empty. Oversized signals fail here and are never sent. While the session
// is reconnecting, signals with RetryAfterReconnect are held and sent once
// it resumes.
func (s *Session) SendSignalTo(to domain.ConnectionID, signalType, data string, opts domain.SignalOptions) error {
	sig := domain.OutboundSignal{Type: signalType, Data: data, To: to}
	if err := sig.Validate(); err != nil {
		return err
	}
	cmd := domain.Command{Type: domain.CommandSignal, Signal: &sig}

	s.mu.Lock()
	if s.deleted {
		s.mu.Unlock()
		return domain.ErrNotInitialized
	}
	// Suppressed sessions never learn about other connections.
	if to != "" && to != s.self.ID && s.live() && !s.settings.ConnectionEventsSuppressed {
		if _, err := s.connections.GetByID(context.Background(), to); err != nil {
			s.mu.Unlock()
			return domain.ErrConnectionNotFound.Withf("connection %s is not in session %s", to, s.id)
		}
	}

	var tr ports.Transport
	switch state := s.currentState(); state {
	case domain.SessionConnected:
		tr = s.transport
	case domain.SessionReconnecting:
		if !opts.RetryAfterReconnect {
			s.mu.Unlock()
			return domain.ErrIllegalState.Withf("session is reconnecting")
		}
		if s.pendingSignals >= s.engine.opts.SignalQueueLimit {
			s.mu.Unlock()
			return domain.ErrIllegalState.Withf("%d signals already waiting for reconnect", s.pendingSignals)
		}
		s.pending = append(s.pending, cmd)
		s.pendingSignals++
		s.mu.Unlock()
		s.logger.Debugw("signal queued until reconnect", "type", signalType)
		return nil
	default:
		s.mu.Unlock()
		return domain.ErrNotConnected.Withf("cannot signal while %s", state)
	}
	s.mu.Unlock()

	_, span := tracing.TraceSignal(context.Background(), string(s.id), signalType, 0)
	defer span.End()

	err := s.send(tr, cmd)
	s.engine.metrics.SignalSent(err == nil)
	return err
}
