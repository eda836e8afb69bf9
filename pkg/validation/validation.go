package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// MaxConnectionDataLength bounds the opaque data carried by a token.
	MaxConnectionDataLength = 1000
	MaxStreamNameLength     = 1000
	MaxArchiveNameLength    = 255
)

var (
	// SessionIDRegex validates session ID format
	SessionIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_~-]{1,128}$`)

	// IdentifierRegex validates connection, stream and subscriber IDs
	IdentifierRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,100}$`)

	// SignalTypeRegex validates signal types: letters, digits, '-', '_' and '~'
	SignalTypeRegex = regexp.MustCompile(`^[a-zA-Z0-9_~-]+$`)

	// APIKeyRegex validates API key format
	APIKeyRegex = regexp.MustCompile(`^[a-zA-Z0-9]{4,64}$`)
)

// ValidateSessionID validates session ID
func ValidateSessionID(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}
	if !SessionIDRegex.MatchString(sessionID) {
		return fmt.Errorf("invalid session ID format")
	}
	return nil
}

// ValidateIdentifier validates a connection, stream or subscriber ID
func ValidateIdentifier(id, fieldName string) error {
	if id == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	if !IdentifierRegex.MatchString(id) {
		return fmt.Errorf("invalid %s format", fieldName)
	}
	return nil
}

// ValidateAPIKey validates API key
func ValidateAPIKey(apiKey string) error {
	if apiKey == "" {
		return fmt.Errorf("API key is required")
	}
	if !APIKeyRegex.MatchString(apiKey) {
		return fmt.Errorf("invalid API key format")
	}
	return nil
}

// ValidateSignalType reports whether a non-empty signal type uses only
// allowed characters. Length limits are checked by the caller.
func ValidateSignalType(signalType string) bool {
	return SignalTypeRegex.MatchString(signalType)
}

// ValidateStreamName validates stream name. Empty names are allowed.
func ValidateStreamName(name string) error {
	if !utf8.ValidString(name) {
		return fmt.Errorf("stream name contains invalid characters")
	}
	if utf8.RuneCountInString(name) > MaxStreamNameLength {
		return fmt.Errorf("stream name is too long (max %d characters)", MaxStreamNameLength)
	}
	return nil
}

// ValidateConnectionData validates the opaque data attached to a connection
func ValidateConnectionData(data string) error {
	if len(data) > MaxConnectionDataLength {
		return fmt.Errorf("connection data is too long (max %d bytes)", MaxConnectionDataLength)
	}
	return nil
}

// ValidateArchiveName validates archive name
func ValidateArchiveName(name string) error {
	return ValidateStringLength(name, 0, MaxArchiveNameLength, "archive name")
}

// ValidateURL validates URL format
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid URL scheme (must be http, https, ws, or wss)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidateICEURL validates a STUN or TURN server URL
func ValidateICEURL(urlStr string) error {
	for _, scheme := range []string{"stun:", "stuns:", "turn:", "turns:"} {
		if strings.HasPrefix(urlStr, scheme) && len(urlStr) > len(scheme) {
			return nil
		}
	}
	return fmt.Errorf("invalid ICE server URL %q", urlStr)
}

// ValidateDimensions validates video dimensions
func ValidateDimensions(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("video dimensions must be positive, got %dx%d", width, height)
	}
	if width > 7680 || height > 4320 {
		return fmt.Errorf("video dimensions too large: %dx%d", width, height)
	}
	return nil
}

// ValidateStringLength validates string length
func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}
