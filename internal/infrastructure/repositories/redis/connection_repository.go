package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"rtclink/internal/core/domain"
	"rtclink/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

type RedisConnectionRepository struct {
	client *redis.Client
}

func NewRedisConnectionRepository(client *redis.Client) ports.ConnectionRepository {
	return &RedisConnectionRepository{client: client}
}

func (r *RedisConnectionRepository) Add(ctx context.Context, conn domain.Connection) error {
	data, err := json.Marshal(conn)
	if err != nil {
		return fmt.Errorf("failed to marshal connection: %w", err)
	}

	created, err := r.client.SetNX(ctx, connectionKey(conn.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to set connection in Redis: %w", err)
	}
	if !created {
		return domain.ErrConnectionExists.Withf("connection %s already exists", conn.ID)
	}

	if err := r.client.SAdd(ctx, sessionConnectionsKey(conn.SessionID), string(conn.ID)).Err(); err != nil {
		return fmt.Errorf("failed to index connection: %w", err)
	}
	return nil
}

func (r *RedisConnectionRepository) GetByID(ctx context.Context, id domain.ConnectionID) (domain.Connection, error) {
	data, err := r.client.Get(ctx, connectionKey(id)).Result()
	if err == redis.Nil {
		return domain.Connection{}, domain.ErrConnectionNotFound
	}
	if err != nil {
		return domain.Connection{}, fmt.Errorf("failed to get connection from Redis: %w", err)
	}

	var conn domain.Connection
	if err := json.Unmarshal([]byte(data), &conn); err != nil {
		return domain.Connection{}, fmt.Errorf("failed to unmarshal connection: %w", err)
	}
	return conn, nil
}

func (r *RedisConnectionRepository) Remove(ctx context.Context, id domain.ConnectionID) error {
	conn, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, connectionKey(id))
		pipe.SRem(ctx, sessionConnectionsKey(conn.SessionID), string(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to remove connection from Redis: %w", err)
	}
	return nil
}

func (r *RedisConnectionRepository) ListBySession(ctx context.Context, sessionID domain.SessionID) ([]domain.Connection, error) {
	conns, err := loadMembers[domain.Connection](ctx, r.client, sessionConnectionsKey(sessionID), func(id string) string {
		return connectionKey(domain.ConnectionID(id))
	})
	if err != nil {
		return nil, err
	}

	sortByCreation(conns,
		func(c domain.Connection) time.Time { return c.CreationTime },
		func(c domain.Connection) string { return string(c.ID) },
	)
	return conns, nil
}

func (r *RedisConnectionRepository) Count(ctx context.Context, sessionID domain.SessionID) (int, error) {
	n, err := r.client.SCard(ctx, sessionConnectionsKey(sessionID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count connections: %w", err)
	}
	return int(n), nil
}
