package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus_Ranges(t *testing.T) {
	tests := []struct {
		status Status
		want   StatusRange
	}{
		{StatusSuccess, RangeNone},
		{StatusInvalidParam, RangeGeneric},
		{StatusFrameReleased, RangeGeneric},
		{StatusSessionAuthorizationFailure, RangeSession},
		{StatusSessionForceDisconnected, RangeSession},
		{StatusPublisherWebRTC, RangePublisher},
		{StatusSubscriberServerCannotFindStream, RangeSubscriber},
		{Status(4000), RangeNone},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.Range(), "status %d", int(tt.status))
	}

	// Every named code lives in a range.
	for s := range statusNames {
		if s == StatusSuccess {
			continue
		}
		assert.NotEqual(t, RangeNone, s.Range(), "status %s", s)
	}
}

func TestStatusError_MatchesByCode(t *testing.T) {
	err := ErrSignalDataTooLong.Withf("signal data is %d bytes", 9000)
	assert.ErrorIs(t, err, ErrSignalDataTooLong)
	assert.NotErrorIs(t, err, ErrSignalTypeTooLong)
	assert.Contains(t, err.Error(), "(1413)")

	// Sentinels with a shared code still match each other.
	assert.ErrorIs(t, ErrConnectionExists, ErrInvalidParam)
}

func TestStatusError_WrapKeepsCause(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := ErrConnectionFailed.Wrap("join failed", cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrConnectionFailed)
	assert.Equal(t, StatusSessionConnectionFailed, StatusOf(fmt.Errorf("outer: %w", err)))
	assert.Nil(t, ErrConnectionFailed.Cause)
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, StatusSuccess, StatusOf(nil))
	assert.Equal(t, StatusFatal, StatusOf(errors.New("plain")))
	assert.Equal(t, StatusCancelled, StatusOf(ErrCancelled))
	assert.Equal(t, "status(77)", Status(77).String())
}

func TestErrorEvent_RoundTrip(t *testing.T) {
	ev := ErrorEvent(EventJoinRejected, ErrAuthorizationFailure)
	err := ev.Err()
	assert.ErrorIs(t, err, ErrAuthorizationFailure)

	assert.NoError(t, SessionEvent{Type: EventError}.Err())
}
