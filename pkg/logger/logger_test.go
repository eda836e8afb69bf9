package logger

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type lineRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *lineRecorder) record(line string) {
	r.mu.Lock()
	r.lines = append(r.lines, line)
	r.mu.Unlock()
}

func (r *lineRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

func TestCallbackCoreRendersPlainLines(t *testing.T) {
	rec := &lineRecorder{}
	core := NewCallbackCore(zapcore.DebugLevel, rec.record)
	log := zap.New(core).Sugar()

	log.Infow("session connected", "session_id", "s1")
	log.Debug("second line")

	lines := rec.all()
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "INFO")
	assert.Contains(t, lines[0], "session connected")
	assert.Contains(t, lines[0], `"session_id": "s1"`)
	assert.False(t, strings.Contains(lines[0], "\n"))
}

func TestCallbackCoreLevelAndSwap(t *testing.T) {
	rec := &lineRecorder{}
	level := zap.NewAtomicLevelAt(LevelWarn.ZapLevel())
	core := NewCallbackCore(level, rec.record)
	log := zap.New(core)

	log.Info("dropped")
	log.Warn("kept")
	assert.Len(t, rec.all(), 1)

	level.SetLevel(LevelDisabled.ZapLevel())
	log.Error("silenced")
	assert.Len(t, rec.all(), 1)

	level.SetLevel(LevelAll.ZapLevel())
	core.SetCallback(nil)
	log.Debug("no receiver")
	assert.Len(t, rec.all(), 1)
}

func TestCallbackCoreWithFields(t *testing.T) {
	rec := &lineRecorder{}
	log := zap.New(NewCallbackCore(zapcore.InfoLevel, rec.record)).With(zap.String("publisher_id", "p1"))
	log.Info("stream created")
	lines := rec.all()
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "p1")
}

func TestLevelOrdering(t *testing.T) {
	ordered := []Level{LevelDisabled, LevelFatal, LevelError, LevelWarn, LevelInfo, LevelDebug, LevelMsg, LevelTrace, LevelAll}
	for i := 1; i < len(ordered); i++ {
		assert.Less(t, int(ordered[i-1]), int(ordered[i]))
		assert.True(t, ordered[i].Valid())
		parsed, err := ParseLevel(ordered[i].String())
		require.NoError(t, err)
		assert.Equal(t, ordered[i], parsed)
	}
	assert.False(t, Level(1).Valid())
	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestContextLoggerFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	cl := NewContextLogger(zap.New(core))

	ctx := WithSessionID(context.Background(), "s1")
	ctx = WithConnectionID(ctx, "c1")
	cl.LogInfo(ctx, "joined")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "s1", fields["session_id"])
	assert.Equal(t, "c1", fields["connection_id"])
}

func TestNewFallsBackToInfo(t *testing.T) {
	log := New("nonsense")
	assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
}
