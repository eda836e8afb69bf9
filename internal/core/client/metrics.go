package client

import (
	"time"

	"rtclink/internal/core/domain"
)

type noopMetrics struct{}

func (noopMetrics) SessionStateChanged(from, to domain.SessionState) {}
func (noopMetrics) CallbackDispatched(entity, name string)           {}
func (noopMetrics) SignalSent(ok bool)                               {}
func (noopMetrics) ConnectLatency(d time.Duration)                   {}
