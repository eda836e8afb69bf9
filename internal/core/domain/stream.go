package domain

import (
	"fmt"
	"time"
)

type (
	StreamID     string
	PublisherID  string
	SubscriberID string
)

type VideoType int

const (
	VideoTypeCamera VideoType = iota + 1
	VideoTypeScreen
	VideoTypeCustom
)

func (t VideoType) String() string {
	switch t {
	case VideoTypeCamera:
		return "camera"
	case VideoTypeScreen:
		return "screen"
	case VideoTypeCustom:
		return "custom"
	default:
		return fmt.Sprintf("video_type(%d)", int(t))
	}
}

// Stream is a snapshot of one participant's published media flow. The ID and
// owning Connection never change; the remaining flags may.
type Stream struct {
	ID            StreamID   `json:"id"`
	Name          string     `json:"name,omitempty"`
	HasAudio      bool       `json:"has_audio"`
	HasVideo      bool       `json:"has_video"`
	HasAudioTrack bool       `json:"has_audio_track"`
	HasVideoTrack bool       `json:"has_video_track"`
	Width         int        `json:"width"`
	Height        int        `json:"height"`
	VideoType     VideoType  `json:"video_type"`
	CreationTime  time.Time  `json:"creation_time"`
	Connection    Connection `json:"connection"`
}

// StreamProperty names a mutable stream attribute.
type StreamProperty string

const (
	PropertyHasAudio        StreamProperty = "has_audio"
	PropertyHasVideo        StreamProperty = "has_video"
	PropertyVideoDimensions StreamProperty = "video_dimensions"
	PropertyVideoType       StreamProperty = "video_type"
)

// StreamUpdate describes a change to one mutable stream property.
type StreamUpdate struct {
	StreamID  StreamID       `json:"stream_id"`
	Property  StreamProperty `json:"property"`
	Enabled   bool           `json:"enabled,omitempty"`
	Width     int            `json:"width,omitempty"`
	Height    int            `json:"height,omitempty"`
	VideoType VideoType      `json:"video_type,omitempty"`
}

// Apply returns a copy of s with the update applied and whether anything
// actually changed.
func (u StreamUpdate) Apply(s Stream) (Stream, bool) {
	switch u.Property {
	case PropertyHasAudio:
		if s.HasAudio == u.Enabled {
			return s, false
		}
		s.HasAudio = u.Enabled
	case PropertyHasVideo:
		if s.HasVideo == u.Enabled {
			return s, false
		}
		s.HasVideo = u.Enabled
	case PropertyVideoDimensions:
		if s.Width == u.Width && s.Height == u.Height {
			return s, false
		}
		s.Width, s.Height = u.Width, u.Height
	case PropertyVideoType:
		if s.VideoType == u.VideoType {
			return s, false
		}
		s.VideoType = u.VideoType
	default:
		return s, false
	}
	return s, true
}

// PublishRequest announces a new stream to the router.
type PublishRequest struct {
	PublisherID   PublisherID `json:"publisher_id"`
	Name          string      `json:"name,omitempty"`
	HasAudio      bool        `json:"has_audio"`
	HasVideo      bool        `json:"has_video"`
	HasAudioTrack bool        `json:"has_audio_track"`
	HasVideoTrack bool        `json:"has_video_track"`
	Width         int         `json:"width"`
	Height        int         `json:"height"`
	VideoType     VideoType   `json:"video_type"`
}

type SubscribeRequest struct {
	SubscriberID SubscriberID `json:"subscriber_id"`
	StreamID     StreamID     `json:"stream_id"`
}
