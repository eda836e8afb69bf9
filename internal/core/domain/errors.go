package domain

var (
	ErrInvalidParam       = NewStatusError(StatusInvalidParam, "invalid parameter")
	ErrFatal              = NewStatusError(StatusFatal, "fatal error")
	ErrIllegalState       = NewStatusError(StatusIllegalState, "illegal state")
	ErrNotInitialized     = NewStatusError(StatusNotInitialized, "engine not initialized")
	ErrCancelled          = NewStatusError(StatusCancelled, "operation cancelled")
	ErrConnectionNotFound = NewStatusError(StatusConnectionNotFound, "connection not found")
	ErrStreamNotFound     = NewStatusError(StatusStreamNotFound, "stream not found")
	ErrUnknownPublisher   = NewStatusError(StatusUnknownPublisherInstance, "unknown publisher instance")
	ErrUnknownSubscriber  = NewStatusError(StatusUnknownSubscriberInstance, "unknown subscriber instance")
	ErrUnsupportedFormat  = NewStatusError(StatusUnsupportedFormat, "unsupported video format")
	ErrFrameReleased      = NewStatusError(StatusFrameReleased, "video frame already released")

	ErrConnectionExists = NewStatusError(StatusInvalidParam, "connection already exists")
	ErrStreamExists     = NewStatusError(StatusInvalidParam, "stream already exists")

	ErrAuthorizationFailure    = NewStatusError(StatusSessionAuthorizationFailure, "authorization failure")
	ErrInvalidSession          = NewStatusError(StatusSessionInvalidSession, "invalid session id")
	ErrConnectionFailed        = NewStatusError(StatusSessionConnectionFailed, "connection failed")
	ErrNotConnected            = NewStatusError(StatusSessionNotConnected, "session not connected")
	ErrSessionIllegalState     = NewStatusError(StatusSessionIllegalState, "illegal session state")
	ErrConnectionLimitExceeded = NewStatusError(StatusSessionConnectionLimitExceeded, "connection limit exceeded")
	ErrConnectionDropped       = NewStatusError(StatusSessionConnectionDropped, "connection dropped")
	ErrConnectionTimedOut      = NewStatusError(StatusSessionConnectionTimedOut, "connection timed out")
	ErrConnectionRefused       = NewStatusError(StatusSessionConnectionRefused, "connection refused")
	ErrPublisherNotFound       = NewStatusError(StatusSessionPublisherNotFound, "publisher not found")
	ErrSubscriberNotFound      = NewStatusError(StatusSessionSubscriberNotFound, "subscriber not found")
	ErrSignalDataTooLong       = NewStatusError(StatusSessionSignalDataTooLong, "signal data too long")
	ErrSignalTypeTooLong       = NewStatusError(StatusSessionSignalTypeTooLong, "signal type too long")
	ErrInvalidSignalType       = NewStatusError(StatusSessionInvalidSignalType, "invalid signal type")
	ErrSessionInternal         = NewStatusError(StatusSessionInternalError, "session internal error")
	ErrForceDisconnected       = NewStatusError(StatusSessionForceDisconnected, "force disconnected")
	ErrForceUnpublished        = NewStatusError(StatusSessionForceUnpublishOrInvalidStream, "stream force unpublished")

	ErrPublisherInternal            = NewStatusError(StatusPublisherInternal, "publisher internal error")
	ErrPublisherSessionDisconnected = NewStatusError(StatusPublisherSessionDisconnected, "session disconnected")
	ErrUnableToPublish              = NewStatusError(StatusPublisherUnableToPublish, "unable to publish")
	ErrPublishStreamLimit           = NewStatusError(StatusPublisherStreamLimitExceeded, "stream limit exceeded")
	ErrPublisherWebRTC              = NewStatusError(StatusPublisherWebRTC, "publisher media error")

	ErrSubscriberInternal            = NewStatusError(StatusSubscriberInternal, "subscriber internal error")
	ErrSubscriberSessionDisconnected = NewStatusError(StatusSubscriberSessionDisconnected, "session disconnected")
	ErrSubscriberWebRTC              = NewStatusError(StatusSubscriberWebRTC, "subscriber media error")
	ErrServerCannotFindStream        = NewStatusError(StatusSubscriberServerCannotFindStream, "server cannot find stream")
	ErrSubscriberLimitExceeded       = NewStatusError(StatusSubscriberStreamLimitExceeded, "subscriber limit exceeded for stream")
)
