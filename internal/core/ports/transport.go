package ports

import (
	"context"

	"rtclink/internal/core/domain"
)

// EventHandler receives session events from a transport. A transport
// invokes it from one goroutine at a time and the handler must not block.
type EventHandler func(domain.SessionEvent)

// Transport carries commands from a client session to a router and events
// back. Open sends the join; its outcome arrives at the handler as a
// join_accepted or join_rejected event.
type Transport interface {
	Open(ctx context.Context, req domain.JoinRequest, handler EventHandler) error
	Send(ctx context.Context, cmd domain.Command) error
	Close() error
}

// TransportFactory creates an unopened transport for one connect attempt.
type TransportFactory func() Transport
