package domain

type SessionState string

const (
	SessionDisconnected SessionState = "disconnected"
	SessionConnecting   SessionState = "connecting"
	SessionConnected    SessionState = "connected"
	SessionReconnecting SessionState = "reconnecting"
)

type PublisherState string

const (
	PublisherCreated    PublisherState = "created"
	PublisherPublishing PublisherState = "publishing"
	PublisherStopped    PublisherState = "stopped"
)

type SubscriberState string

const (
	SubscriberIdle         SubscriberState = "idle"
	SubscriberConnecting   SubscriberState = "connecting"
	SubscriberConnected    SubscriberState = "connected"
	SubscriberDisconnected SubscriberState = "disconnected"
	SubscriberReconnecting SubscriberState = "reconnecting"
)

// VideoReason explains why a subscriber's video was disabled or enabled.
type VideoReason int

const (
	VideoReasonPublisherStoppedVideo VideoReason = iota + 1
	VideoReasonSubscriberUnsubscribed
	VideoReasonQualityDegradation
	VideoReasonCodecNotSupported
)

func (r VideoReason) String() string {
	switch r {
	case VideoReasonPublisherStoppedVideo:
		return "publish_video"
	case VideoReasonSubscriberUnsubscribed:
		return "subscribe_to_video"
	case VideoReasonQualityDegradation:
		return "quality"
	case VideoReasonCodecNotSupported:
		return "codec_not_supported"
	default:
		return "unknown"
	}
}

type Role string

const (
	RolePublisher  Role = "publisher"
	RoleSubscriber Role = "subscriber"
	RoleModerator  Role = "moderator"
)

// Capabilities lists what the local connection may do in its session.
type Capabilities struct {
	CanPublish         bool `json:"can_publish"`
	CanSubscribe       bool `json:"can_subscribe"`
	CanForceDisconnect bool `json:"can_force_disconnect"`
}

func CapabilitiesFor(role Role) Capabilities {
	switch role {
	case RoleModerator:
		return Capabilities{CanPublish: true, CanSubscribe: true, CanForceDisconnect: true}
	case RoleSubscriber:
		return Capabilities{CanSubscribe: true}
	default:
		return Capabilities{CanPublish: true, CanSubscribe: true}
	}
}
