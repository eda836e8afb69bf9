package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"rtclink/internal/core/domain"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "rtclink:"

func connectionKey(id domain.ConnectionID) string {
	return keyPrefix + "connection:" + string(id)
}

func sessionConnectionsKey(id domain.SessionID) string {
	return keyPrefix + "session:" + string(id) + ":connections"
}

func streamKey(id domain.StreamID) string {
	return keyPrefix + "stream:" + string(id)
}

func sessionStreamsKey(id domain.SessionID) string {
	return keyPrefix + "session:" + string(id) + ":streams"
}

func connectionStreamsKey(id domain.ConnectionID) string {
	return keyPrefix + "connection:" + string(id) + ":streams"
}

// loadMembers fetches the JSON values for every id in the index set and
// decodes them. Ids whose value is gone are skipped.
func loadMembers[T any](ctx context.Context, client *redis.Client, indexKey string, valueKey func(string) string) ([]T, error) {
	ids, err := client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read index %s: %w", indexKey, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = valueKey(id)
	}

	values, err := client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read values for %s: %w", indexKey, err)
	}

	out := make([]T, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var item T
		if err := json.Unmarshal([]byte(s), &item); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s member: %w", indexKey, err)
		}
		out = append(out, item)
	}
	return out, nil
}

func sortByCreation[T any](items []T, created func(T) time.Time, id func(T) string) {
	sort.Slice(items, func(i, j int) bool {
		ti, tj := created(items[i]), created(items[j])
		if ti.Equal(tj) {
			return id(items[i]) < id(items[j])
		}
		return ti.Before(tj)
	})
}
