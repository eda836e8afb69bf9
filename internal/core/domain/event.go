package domain

// EventType identifies a router-to-client session event.
type EventType string

const (
	EventJoinAccepted      EventType = "join_accepted"
	EventJoinRejected      EventType = "join_rejected"
	EventInterrupted       EventType = "interrupted"
	EventResumed           EventType = "resumed"
	EventClosed            EventType = "closed"
	EventConnectionCreated EventType = "connection_created"
	EventConnectionDropped EventType = "connection_dropped"
	EventStreamCreated     EventType = "stream_created"
	EventStreamDestroyed   EventType = "stream_destroyed"
	EventStreamUpdated     EventType = "stream_updated"
	EventPublishAccepted   EventType = "publish_accepted"
	EventPublishRejected   EventType = "publish_rejected"
	EventSubscribeAccepted EventType = "subscribe_accepted"
	EventSubscribeRejected EventType = "subscribe_rejected"
	EventSignal            EventType = "signal"
	EventArchiveStarted    EventType = "archive_started"
	EventArchiveStopped    EventType = "archive_stopped"
	EventError             EventType = "error"
)

// SessionEvent is everything the router tells a client. Only the fields
// relevant to Type are set.
type SessionEvent struct {
	Type         EventType     `json:"type"`
	Connection   *Connection   `json:"connection,omitempty"`
	Connections  []Connection  `json:"connections,omitempty"`
	Stream       *Stream       `json:"stream,omitempty"`
	Streams      []Stream      `json:"streams,omitempty"`
	Update       *StreamUpdate `json:"update,omitempty"`
	StreamID     StreamID      `json:"stream_id,omitempty"`
	PublisherID  PublisherID   `json:"publisher_id,omitempty"`
	SubscriberID SubscriberID  `json:"subscriber_id,omitempty"`
	Signal       *Signal       `json:"signal,omitempty"`
	Archive      *Archive      `json:"archive,omitempty"`
	Capabilities *Capabilities `json:"capabilities,omitempty"`
	ResumeToken  string        `json:"resume_token,omitempty"`
	Status       Status        `json:"status,omitempty"`
	Message      string        `json:"message,omitempty"`
}

// Err converts a rejection or error event into a StatusError.
func (e SessionEvent) Err() error {
	if e.Status == StatusSuccess {
		return nil
	}
	return NewStatusError(e.Status, e.Message)
}

func ErrorEvent(t EventType, err error) SessionEvent {
	return SessionEvent{Type: t, Status: StatusOf(err), Message: err.Error()}
}

type CommandType string

const (
	CommandJoin        CommandType = "join"
	CommandResume      CommandType = "resume"
	CommandLeave       CommandType = "leave"
	CommandPublish     CommandType = "publish"
	CommandUnpublish   CommandType = "unpublish"
	CommandUpdate      CommandType = "update_stream"
	CommandSubscribe   CommandType = "subscribe"
	CommandUnsubscribe CommandType = "unsubscribe"
	CommandSignal      CommandType = "signal"
)

// Command is a client-to-router request.
type Command struct {
	Type         CommandType       `json:"type"`
	Join         *JoinRequest      `json:"join,omitempty"`
	Resume       *ResumeRequest    `json:"resume,omitempty"`
	Publish      *PublishRequest   `json:"publish,omitempty"`
	Subscribe    *SubscribeRequest `json:"subscribe,omitempty"`
	Update       *StreamUpdate     `json:"update,omitempty"`
	StreamID     StreamID          `json:"stream_id,omitempty"`
	SubscriberID SubscriberID      `json:"subscriber_id,omitempty"`
	Signal       *OutboundSignal   `json:"signal,omitempty"`
}

type JoinRequest struct {
	APIKey    string          `json:"api_key"`
	SessionID SessionID       `json:"session_id"`
	Token     string          `json:"token"`
	Settings  SessionSettings `json:"settings"`
}

type ResumeRequest struct {
	SessionID    SessionID    `json:"session_id"`
	ConnectionID ConnectionID `json:"connection_id"`
	ResumeToken  string       `json:"resume_token"`
}

// ICEServer mirrors a STUN or TURN server entry.
type ICEServer struct {
	URLs       []string `json:"urls" yaml:"urls"`
	Username   string   `json:"username,omitempty" yaml:"username"`
	Credential string   `json:"credential,omitempty" yaml:"credential"`
}

type ICEConfig struct {
	Servers           []ICEServer `json:"servers,omitempty"`
	ForceTURN         bool        `json:"force_turn,omitempty"`
	UseCustomTURNOnly bool        `json:"use_custom_turn_only,omitempty"`
}

// SessionSettings are per-session client options forwarded with the join.
type SessionSettings struct {
	ConnectionEventsSuppressed bool       `json:"connection_events_suppressed,omitempty"`
	ICE                        *ICEConfig `json:"ice,omitempty"`
	ProxyURL                   string     `json:"proxy_url,omitempty"`
	IPWhitelist                bool       `json:"ip_whitelist,omitempty"`
}
