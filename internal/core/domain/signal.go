package domain

import (
	"time"
	"unicode/utf8"

	"rtclink/pkg/validation"
)

const (
	MaxSignalDataLength = 8192
	MaxSignalTypeLength = 128
)

// Signal is an out-of-band message delivered to session participants.
type Signal struct {
	Type string     `json:"type,omitempty"`
	Data string     `json:"data,omitempty"`
	From Connection `json:"from"`
}

// OutboundSignal is a signal on its way to the router. An empty To means
// broadcast to the whole session, sender included.
type OutboundSignal struct {
	Type string       `json:"type,omitempty"`
	Data string       `json:"data,omitempty"`
	To   ConnectionID `json:"to,omitempty"`
}

type SignalOptions struct {
	RetryAfterReconnect bool
}

func DefaultSignalOptions() SignalOptions {
	return SignalOptions{RetryAfterReconnect: true}
}

// Validate enforces the size and character limits for signals.
func (s OutboundSignal) Validate() error {
	if len(s.Data) > MaxSignalDataLength {
		return ErrSignalDataTooLong.Withf("signal data is %d bytes, limit is %d", len(s.Data), MaxSignalDataLength)
	}
	if utf8.RuneCountInString(s.Type) > MaxSignalTypeLength {
		return ErrSignalTypeTooLong.Withf("signal type exceeds %d characters", MaxSignalTypeLength)
	}
	if s.Type != "" && !validation.ValidateSignalType(s.Type) {
		return ErrInvalidSignalType.Withf("signal type %q contains invalid characters", s.Type)
	}
	return nil
}

// Archive describes a server-side recording of a session.
type Archive struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	SessionID SessionID `json:"session_id"`
	StartedAt time.Time `json:"started_at"`
}
