package logger

import (
	"fmt"

	"go.uber.org/zap/zapcore"
)

// Level is the engine's ordered log verbosity. Higher values log more.
type Level int

const (
	LevelDisabled Level = 0
	LevelFatal    Level = 2
	LevelError    Level = 3
	LevelWarn     Level = 4
	LevelInfo     Level = 5
	LevelDebug    Level = 6
	LevelMsg      Level = 7
	LevelTrace    Level = 8
	LevelAll      Level = 100
)

func (l Level) String() string {
	switch l {
	case LevelDisabled:
		return "disabled"
	case LevelFatal:
		return "fatal"
	case LevelError:
		return "error"
	case LevelWarn:
		return "warn"
	case LevelInfo:
		return "info"
	case LevelDebug:
		return "debug"
	case LevelMsg:
		return "msg"
	case LevelTrace:
		return "trace"
	case LevelAll:
		return "all"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// Valid reports whether l is one of the defined levels.
func (l Level) Valid() bool {
	switch l {
	case LevelDisabled, LevelFatal, LevelError, LevelWarn, LevelInfo, LevelDebug, LevelMsg, LevelTrace, LevelAll:
		return true
	}
	return false
}

// ParseLevel maps a level name back to a Level.
func ParseLevel(s string) (Level, error) {
	for _, l := range []Level{LevelDisabled, LevelFatal, LevelError, LevelWarn, LevelInfo, LevelDebug, LevelMsg, LevelTrace, LevelAll} {
		if l.String() == s {
			return l, nil
		}
	}
	return LevelDisabled, fmt.Errorf("unknown log level %q", s)
}

// ZapLevel returns the most verbose zap level that l admits. zap has nothing
// finer than debug, so msg, trace and all collapse onto it. Disabled maps
// above fatal so nothing passes.
func (l Level) ZapLevel() zapcore.Level {
	switch {
	case l <= LevelDisabled:
		return zapcore.FatalLevel + 1
	case l == LevelFatal:
		return zapcore.FatalLevel
	case l == LevelError:
		return zapcore.ErrorLevel
	case l == LevelWarn:
		return zapcore.WarnLevel
	case l == LevelInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}
