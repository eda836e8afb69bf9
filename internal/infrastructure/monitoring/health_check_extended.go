package monitoring

import (
	"context"
	"time"

	"rtclink/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// AddRedisCheck adds a Redis health check
func (h *HealthChecker) AddRedisCheck(client *redis.Client, interval, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) (bool, error) {
		if err := client.Ping(ctx).Err(); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

// AddRepositoryCheck probes the connection registry with a count of an
// empty session.
func (h *HealthChecker) AddRepositoryCheck(repo ports.ConnectionRepository, interval, timeout time.Duration) {
	h.AddCheck("repository", func(ctx context.Context) (bool, error) {
		if _, err := repo.Count(ctx, "health-probe"); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

// AddSocketCheck reports the number of open signaling sockets and fails
// when it exceeds limit. A zero limit never fails.
func (h *HealthChecker) AddSocketCheck(count func() int, limit int, interval time.Duration) {
	h.AddCheck("sockets", func(context.Context) (bool, error) {
		return limit <= 0 || count() <= limit, nil
	}, interval, time.Second)
}

// IsReady checks if the service is ready to accept traffic
func (h *HealthChecker) IsReady(ctx context.Context) bool {
	return h.CheckAll(ctx).Status == StatusHealthy
}
