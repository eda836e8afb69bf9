package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamUpdate_Apply(t *testing.T) {
	base := Stream{ID: "s1", HasAudio: true, HasVideo: true, Width: 640, Height: 480, VideoType: VideoTypeCamera}

	tests := []struct {
		name    string
		update  StreamUpdate
		changed bool
		check   func(t *testing.T, s Stream)
	}{
		{
			name:    "video off",
			update:  StreamUpdate{StreamID: "s1", Property: PropertyHasVideo, Enabled: false},
			changed: true,
			check:   func(t *testing.T, s Stream) { assert.False(t, s.HasVideo) },
		},
		{
			name:   "audio unchanged",
			update: StreamUpdate{StreamID: "s1", Property: PropertyHasAudio, Enabled: true},
		},
		{
			name:    "dimensions",
			update:  StreamUpdate{StreamID: "s1", Property: PropertyVideoDimensions, Width: 1280, Height: 720},
			changed: true,
			check: func(t *testing.T, s Stream) {
				assert.Equal(t, 1280, s.Width)
				assert.Equal(t, 720, s.Height)
			},
		},
		{
			name:    "video type",
			update:  StreamUpdate{StreamID: "s1", Property: PropertyVideoType, VideoType: VideoTypeScreen},
			changed: true,
			check:   func(t *testing.T, s Stream) { assert.Equal(t, VideoTypeScreen, s.VideoType) },
		},
		{
			name:   "unknown property",
			update: StreamUpdate{StreamID: "s1", Property: "bitrate"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed := tt.update.Apply(base)
			require.Equal(t, tt.changed, changed)
			if !changed {
				assert.Equal(t, base, got)
				return
			}
			tt.check(t, got)
			assert.Equal(t, base.ID, got.ID)
		})
	}
}

func TestOutboundSignal_Validate(t *testing.T) {
	assert.NoError(t, OutboundSignal{Type: "chat", Data: "hi"}.Validate())
	assert.NoError(t, OutboundSignal{}.Validate())
	assert.NoError(t, OutboundSignal{Data: strings.Repeat("x", MaxSignalDataLength)}.Validate())

	assert.ErrorIs(t, OutboundSignal{Data: strings.Repeat("x", MaxSignalDataLength+1)}.Validate(), ErrSignalDataTooLong)
	assert.ErrorIs(t, OutboundSignal{Type: strings.Repeat("t", MaxSignalTypeLength+1)}.Validate(), ErrSignalTypeTooLong)
	assert.ErrorIs(t, OutboundSignal{Type: "has space"}.Validate(), ErrInvalidSignalType)
}

func TestCapabilitiesFor(t *testing.T) {
	assert.True(t, CapabilitiesFor(RoleModerator).CanForceDisconnect)
	assert.False(t, CapabilitiesFor(RoleSubscriber).CanPublish)
	assert.True(t, CapabilitiesFor(RolePublisher).CanPublish)
	assert.False(t, CapabilitiesFor(RolePublisher).CanForceDisconnect)
}

func TestReasonNames(t *testing.T) {
	assert.Equal(t, "publish_video", VideoReasonPublisherStoppedVideo.String())
	assert.Equal(t, "quality", VideoReasonQualityDegradation.String())
	assert.Equal(t, "screen", VideoTypeScreen.String())
}
