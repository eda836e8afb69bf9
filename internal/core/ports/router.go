package ports

import (
	"context"

	"rtclink/internal/core/domain"
)

// RouterSink receives the events a router addresses to one connection.
// Deliver is called with router locks held and must not block.
type RouterSink interface {
	Deliver(event domain.SessionEvent)
}

// SessionRouter is the server side of the signaling protocol.
//
// Join and Resume deliver join_accepted or resumed through the sink before
// any other event for that connection. Handle processes every other command;
// results arrive through the sink. Detach keeps the connection resumable for
// the grace period while Leave removes it immediately. Detach is ignored when
// sink is no longer the connection's current sink.
type SessionRouter interface {
	Join(ctx context.Context, req domain.JoinRequest, sink RouterSink) (domain.Connection, error)
	Resume(ctx context.Context, req domain.ResumeRequest, sink RouterSink) (domain.Connection, error)
	Handle(ctx context.Context, connID domain.ConnectionID, cmd domain.Command) error
	Detach(ctx context.Context, connID domain.ConnectionID, sink RouterSink)
	Leave(ctx context.Context, connID domain.ConnectionID) error
}

// SessionAdmin is the moderation surface used by the HTTP API.
type SessionAdmin interface {
	CreateSession(ctx context.Context) (domain.SessionID, error)
	SessionInfo(ctx context.Context, id domain.SessionID) (SessionInfo, error)
	StartArchive(ctx context.Context, id domain.SessionID, name string) (domain.Archive, error)
	StopArchive(ctx context.Context, id domain.SessionID, archiveID string) error
	ForceDisconnect(ctx context.Context, id domain.SessionID, connID domain.ConnectionID) error
	ForceUnpublish(ctx context.Context, id domain.SessionID, streamID domain.StreamID) error
}

type SessionInfo struct {
	ID          domain.SessionID    `json:"id"`
	Connections []domain.Connection `json:"connections"`
	Streams     []domain.Stream     `json:"streams"`
	Archive     *domain.Archive     `json:"archive,omitempty"`
}

// TokenIssuer creates and verifies connection tokens.
type TokenIssuer interface {
	IssueToken(sessionID domain.SessionID, role domain.Role, data string) (string, error)
	VerifyToken(token string) (*TokenClaims, error)
}

type TokenClaims struct {
	SessionID domain.SessionID
	Role      domain.Role
	Data      string
}
