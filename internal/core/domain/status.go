package domain

import (
	"errors"
	"fmt"
)

// Status is the integer result code shared by every mutating operation.
// Zero means success. Non-zero codes fall into four disjoint ranges.
type Status int

const StatusSuccess Status = 0

// Generic codes, 1-999.
const (
	StatusInvalidParam              Status = 1
	StatusFatal                     Status = 2
	StatusIllegalState              Status = 3
	StatusNotInitialized            Status = 4
	StatusCancelled                 Status = 5
	StatusConnectionNotFound        Status = 6
	StatusStreamNotFound            Status = 7
	StatusUnknownPublisherInstance  Status = 103
	StatusUnknownSubscriberInstance Status = 104
	StatusVideoCaptureFailed        Status = 300
	StatusCameraFailed              Status = 310
	StatusVideoRenderFailed         Status = 400
	StatusUnsupportedFormat         Status = 500
	StatusFrameReleased             Status = 501
)

// Session codes, 1000-1999.
const (
	StatusSessionAuthorizationFailure          Status = 1004
	StatusSessionInvalidSession                Status = 1005
	StatusSessionConnectionFailed              Status = 1006
	StatusSessionNotConnected                  Status = 1010
	StatusSessionNullOrInvalidParameter        Status = 1011
	StatusSessionIllegalState                  Status = 1015
	StatusSessionStateFailed                   Status = 1020
	StatusSessionConnectionTimedOut            Status = 1021
	StatusSessionConnectionDropped             Status = 1022
	StatusSessionConnectionRefused             Status = 1023
	StatusSessionBlockedCountry                Status = 1026
	StatusSessionConnectionLimitExceeded       Status = 1027
	StatusSessionSubscriberNotFound            Status = 1112
	StatusSessionPublisherNotFound             Status = 1113
	StatusSessionSignalDataTooLong             Status = 1413
	StatusSessionSignalTypeTooLong             Status = 1414
	StatusSessionInvalidSignalType             Status = 1461
	StatusSessionNoMessagingServer             Status = 1503
	StatusSessionForceUnpublishOrInvalidStream Status = 1535
	StatusSessionInternalError                 Status = 1900
	StatusSessionUnexpectedInfoResponse        Status = 1901
	StatusSessionForceDisconnected             Status = 1910
)

// Publisher codes, 2000-2999.
const (
	StatusPublisherInternal            Status = 2000
	StatusPublisherSessionDisconnected Status = 2010
	StatusPublisherUnableToPublish     Status = 2500
	StatusPublisherTimedOut            Status = 2541
	StatusPublisherStreamLimitExceeded Status = 2605
	StatusPublisherWebRTC              Status = 2610
)

// Subscriber codes, 3000-3999.
const (
	StatusSubscriberInternal               Status = 3000
	StatusSubscriberSessionDisconnected    Status = 3010
	StatusSubscriberTimedOut               Status = 3542
	StatusSubscriberWebRTC                 Status = 3600
	StatusSubscriberServerCannotFindStream Status = 3604
	StatusSubscriberStreamLimitExceeded    Status = 3605
)

// StatusRange names the range a code belongs to.
type StatusRange int

const (
	RangeNone StatusRange = iota
	RangeGeneric
	RangeSession
	RangePublisher
	RangeSubscriber
)

func (r StatusRange) String() string {
	switch r {
	case RangeGeneric:
		return "generic"
	case RangeSession:
		return "session"
	case RangePublisher:
		return "publisher"
	case RangeSubscriber:
		return "subscriber"
	default:
		return "none"
	}
}

func (s Status) Range() StatusRange {
	switch {
	case s >= 1 && s <= 999:
		return RangeGeneric
	case s >= 1000 && s <= 1999:
		return RangeSession
	case s >= 2000 && s <= 2999:
		return RangePublisher
	case s >= 3000 && s <= 3999:
		return RangeSubscriber
	default:
		return RangeNone
	}
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

var statusNames = map[Status]string{
	StatusSuccess:                              "success",
	StatusInvalidParam:                         "invalid_param",
	StatusFatal:                                "fatal",
	StatusIllegalState:                         "illegal_state",
	StatusNotInitialized:                       "not_initialized",
	StatusCancelled:                            "cancelled",
	StatusConnectionNotFound:                   "connection_not_found",
	StatusStreamNotFound:                       "stream_not_found",
	StatusUnknownPublisherInstance:             "unknown_publisher_instance",
	StatusUnknownSubscriberInstance:            "unknown_subscriber_instance",
	StatusVideoCaptureFailed:                   "video_capture_failed",
	StatusCameraFailed:                         "camera_failed",
	StatusVideoRenderFailed:                    "video_render_failed",
	StatusUnsupportedFormat:                    "unsupported_format",
	StatusFrameReleased:                        "frame_released",
	StatusSessionAuthorizationFailure:          "session_authorization_failure",
	StatusSessionInvalidSession:                "session_invalid_session",
	StatusSessionConnectionFailed:              "session_connection_failed",
	StatusSessionNotConnected:                  "session_not_connected",
	StatusSessionNullOrInvalidParameter:        "session_null_or_invalid_parameter",
	StatusSessionIllegalState:                  "session_illegal_state",
	StatusSessionStateFailed:                   "session_state_failed",
	StatusSessionConnectionTimedOut:            "session_connection_timed_out",
	StatusSessionConnectionDropped:             "session_connection_dropped",
	StatusSessionConnectionRefused:             "session_connection_refused",
	StatusSessionBlockedCountry:                "session_blocked_country",
	StatusSessionConnectionLimitExceeded:       "session_connection_limit_exceeded",
	StatusSessionSubscriberNotFound:            "session_subscriber_not_found",
	StatusSessionPublisherNotFound:             "session_publisher_not_found",
	StatusSessionSignalDataTooLong:             "session_signal_data_too_long",
	StatusSessionSignalTypeTooLong:             "session_signal_type_too_long",
	StatusSessionInvalidSignalType:             "session_invalid_signal_type",
	StatusSessionNoMessagingServer:             "session_no_messaging_server",
	StatusSessionForceUnpublishOrInvalidStream: "session_force_unpublish_or_invalid_stream",
	StatusSessionInternalError:                 "session_internal_error",
	StatusSessionUnexpectedInfoResponse:        "session_unexpected_info_response",
	StatusSessionForceDisconnected:             "session_force_disconnected",
	StatusPublisherInternal:                    "publisher_internal",
	StatusPublisherSessionDisconnected:         "publisher_session_disconnected",
	StatusPublisherUnableToPublish:             "publisher_unable_to_publish",
	StatusPublisherTimedOut:                    "publisher_timed_out",
	StatusPublisherStreamLimitExceeded:         "publisher_stream_limit_exceeded",
	StatusPublisherWebRTC:                      "publisher_webrtc",
	StatusSubscriberInternal:                   "subscriber_internal",
	StatusSubscriberSessionDisconnected:        "subscriber_session_disconnected",
	StatusSubscriberTimedOut:                   "subscriber_timed_out",
	StatusSubscriberWebRTC:                     "subscriber_webrtc",
	StatusSubscriberServerCannotFindStream:     "subscriber_server_cannot_find_stream",
	StatusSubscriberStreamLimitExceeded:        "subscriber_stream_limit_exceeded",
}

// StatusError carries a status code together with a human readable message.
// Two StatusErrors match under errors.Is when their codes are equal.
type StatusError struct {
	Status  Status
	Message string
	Cause   error
}

func NewStatusError(status Status, message string) *StatusError {
	return &StatusError{Status: status, Message: message}
}

func (e *StatusError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%d): %s: %v", e.Status, int(e.Status), e.Message, e.Cause)
	}
	return fmt.Sprintf("%s (%d): %s", e.Status, int(e.Status), e.Message)
}

func (e *StatusError) Unwrap() error {
	return e.Cause
}

func (e *StatusError) Is(target error) bool {
	var other *StatusError
	if errors.As(target, &other) {
		return other.Status == e.Status
	}
	return false
}

// Wrap returns a copy of e with a more specific message and cause.
func (e *StatusError) Wrap(message string, cause error) *StatusError {
	return &StatusError{Status: e.Status, Message: message, Cause: cause}
}

// Withf returns a copy of e with a formatted message.
func (e *StatusError) Withf(format string, args ...interface{}) *StatusError {
	return &StatusError{Status: e.Status, Message: fmt.Sprintf(format, args...)}
}

// StatusOf extracts the status code carried by err. Errors that carry no
// status map to StatusFatal.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return StatusFatal
}
