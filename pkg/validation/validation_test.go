package validation

import (
	"strings"
	"testing"
)

func TestValidateSessionID(t *testing.T) {
	tests := []struct {
		name      string
		sessionID string
		wantErr   bool
	}{
		{"valid session ID", "2_MX40NTU-fg", false},
		{"valid with tilde", "room~1", false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", 129), true},
		{"invalid chars", "room 1", true},
		{"invalid chars 2", "room@1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSessionID(tt.sessionID)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSessionID() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"valid identifier", "stream-123", false},
		{"valid with underscore", "conn_123", false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", 101), true},
		{"invalid chars", "stream 123", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIdentifier(tt.id, "stream ID")
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateIdentifier() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateSignalType(t *testing.T) {
	tests := []struct {
		name       string
		signalType string
		want       bool
	}{
		{"letters", "chat", true},
		{"mixed", "chat-message_v2~x", true},
		{"space", "chat message", false},
		{"slash", "chat/message", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateSignalType(tt.signalType); got != tt.want {
				t.Errorf("ValidateSignalType(%q) = %v, want %v", tt.signalType, got, tt.want)
			}
		})
	}
}

func TestValidateConnectionData(t *testing.T) {
	if err := ValidateConnectionData("name=alice"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateConnectionData(strings.Repeat("x", MaxConnectionDataLength+1)); err == nil {
		t.Error("expected error for oversized connection data")
	}
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"valid http", "http://example.com", false},
		{"valid https", "https://example.com", false},
		{"valid ws", "ws://example.com", false},
		{"valid wss", "wss://example.com", false},
		{"empty", "", true},
		{"invalid scheme", "ftp://example.com", true},
		{"no host", "http://", true},
		{"invalid format", "not-a-url", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateICEURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"stun", "stun:stun.l.google.com:19302", false},
		{"turn", "turn:turn.example.com:3478", false},
		{"turns", "turns:turn.example.com:5349", false},
		{"http", "http://example.com", true},
		{"bare scheme", "stun:", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateICEURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateICEURL() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateDimensions(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		wantErr       bool
	}{
		{"720p", 1280, 720, false},
		{"zero", 0, 720, true},
		{"negative", 640, -1, true},
		{"too large", 10000, 720, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDimensions(tt.width, tt.height)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateDimensions() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
