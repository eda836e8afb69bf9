package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"rtclink/internal/core/domain"
	"rtclink/internal/infrastructure/repositories/memory"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthCheckerAggregates(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("ok", func(context.Context) (bool, error) { return true, nil }, 0, time.Second)
	h.AddRepositoryCheck(memory.NewMemoryConnectionRepository(), 0, time.Second)

	status := h.CheckAll(context.Background())
	assert.Equal(t, StatusHealthy, status.Status)
	assert.Equal(t, StatusHealthy, status.Checks["repository"])
	assert.True(t, h.IsReady(context.Background()))

	h.AddCheck("broken", func(context.Context) (bool, error) { return false, errors.New("disk full") }, 0, time.Second)
	h.AddCheck("false", func(context.Context) (bool, error) { return false, nil }, 0, time.Second)
	status = h.CheckAll(context.Background())
	assert.Equal(t, StatusUnhealthy, status.Status)
	assert.Equal(t, "disk full", status.Checks["broken"])
	assert.Equal(t, "check failed", status.Checks["false"])
}

func TestHealthCheckerTimeout(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("slow", func(ctx context.Context) (bool, error) {
		<-ctx.Done()
		return false, ctx.Err()
	}, 0, 10*time.Millisecond)

	status := h.CheckAll(context.Background())
	assert.Equal(t, context.DeadlineExceeded.Error(), status.Checks["slow"])
}

func TestRedisCheck(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	h := NewHealthChecker()
	h.AddRedisCheck(client, 0, time.Second)
	assert.True(t, h.IsReady(context.Background()))

	mr.Close()
	assert.False(t, h.IsReady(context.Background()))
}

func TestBackgroundChecksAndSockets(t *testing.T) {
	open := 3
	h := NewHealthChecker()
	h.AddSocketCheck(func() int { return open }, 2, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.StartBackgroundChecks(ctx)

	require.Eventually(t, func() bool {
		return h.Cached().Status == StatusUnhealthy
	}, time.Second, 5*time.Millisecond)
}

func TestPrometheusCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)

	c.ConnectionJoined()
	c.ConnectionJoined()
	c.ConnectionLeft("timeout")
	c.StreamPublished()
	c.SubscriptionChanged(2)
	c.SubscriptionChanged(-1)
	c.SignalRouted(3)
	c.CommandRejected("publish", domain.StatusPublisherStreamLimitExceeded)
	c.SessionStateChanged(domain.SessionConnecting, domain.SessionConnected)
	c.SignalSent(false)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.connectionsActive))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.connectionsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.connectionsLeft.WithLabelValues("timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.subscriptionsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.commandsRejected.WithLabelValues("publish", "2605")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sessionTransitions.WithLabelValues("connecting", "connected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.signalsSent.WithLabelValues("failed")))

	count, err := testutil.GatherAndCount(reg, "rtclink_signal_recipients")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
