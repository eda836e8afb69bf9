package domain

import "time"

type (
	SessionID    string
	ConnectionID string
)

// Connection identifies one participant's attachment to a session. It is
// never mutated after creation and is passed around by value.
type Connection struct {
	ID           ConnectionID `json:"id"`
	SessionID    SessionID    `json:"session_id"`
	Data         string       `json:"data,omitempty"`
	CreationTime time.Time    `json:"creation_time"`
}

func (c Connection) IsZero() bool {
	return c.ID == ""
}
