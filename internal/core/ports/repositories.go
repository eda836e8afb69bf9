package ports

import (
	"context"

	"rtclink/internal/core/domain"
)

// ConnectionRepository tracks the participants of sessions. Add of an id
// that is already present fails with domain.ErrConnectionExists.
type ConnectionRepository interface {
	Add(ctx context.Context, conn domain.Connection) error
	GetByID(ctx context.Context, id domain.ConnectionID) (domain.Connection, error)
	Remove(ctx context.Context, id domain.ConnectionID) error
	ListBySession(ctx context.Context, sessionID domain.SessionID) ([]domain.Connection, error)
	Count(ctx context.Context, sessionID domain.SessionID) (int, error)
}

// StreamRepository tracks published streams. Create of an id that is
// already present fails with domain.ErrStreamExists.
type StreamRepository interface {
	Create(ctx context.Context, stream domain.Stream) error
	GetByID(ctx context.Context, id domain.StreamID) (domain.Stream, error)
	Update(ctx context.Context, stream domain.Stream) error
	Delete(ctx context.Context, id domain.StreamID) error
	ListBySession(ctx context.Context, sessionID domain.SessionID) ([]domain.Stream, error)
	ListByConnection(ctx context.Context, connectionID domain.ConnectionID) ([]domain.Stream, error)
}
