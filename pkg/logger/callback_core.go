package logger

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LineFunc receives one fully rendered log line.
type LineFunc func(line string)

// CallbackCore is a zapcore.Core that renders each entry as a single plain
// text line and hands it to an application callback.
type CallbackCore struct {
	zapcore.LevelEnabler
	enc  zapcore.Encoder
	sink *lineSink
}

type lineSink struct {
	mu sync.RWMutex
	fn LineFunc
}

func (s *lineSink) set(fn LineFunc) {
	s.mu.Lock()
	s.fn = fn
	s.mu.Unlock()
}

func (s *lineSink) write(line string) {
	s.mu.RLock()
	fn := s.fn
	s.mu.RUnlock()
	if fn != nil {
		fn(line)
	}
}

// NewCallbackCore creates a core filtered by enab. fn may be nil and set
// later with SetCallback.
func NewCallbackCore(enab zapcore.LevelEnabler, fn LineFunc) *CallbackCore {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.ConsoleSeparator = " "
	cfg.StacktraceKey = ""
	sink := &lineSink{}
	sink.set(fn)
	return &CallbackCore{
		LevelEnabler: enab,
		enc:          zapcore.NewConsoleEncoder(cfg),
		sink:         sink,
	}
}

// SetCallback replaces the receiving callback. nil silences the core.
func (c *CallbackCore) SetCallback(fn LineFunc) {
	c.sink.set(fn)
}

func (c *CallbackCore) With(fields []zapcore.Field) zapcore.Core {
	enc := c.enc.Clone()
	for _, f := range fields {
		f.AddTo(enc)
	}
	return &CallbackCore{LevelEnabler: c.LevelEnabler, enc: enc, sink: c.sink}
}

func (c *CallbackCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *CallbackCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	buf, err := c.enc.EncodeEntry(ent, fields)
	if err != nil {
		return err
	}
	line := strings.TrimRight(buf.String(), "\n")
	buf.Free()
	c.sink.write(line)
	return nil
}

func (c *CallbackCore) Sync() error {
	return nil
}
