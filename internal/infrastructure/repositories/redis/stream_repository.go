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

type RedisStreamRepository struct {
	client *redis.Client
}

func NewRedisStreamRepository(client *redis.Client) ports.StreamRepository {
	return &RedisStreamRepository{client: client}
}

func (r *RedisStreamRepository) Create(ctx context.Context, stream domain.Stream) error {
	data, err := json.Marshal(stream)
	if err != nil {
		return fmt.Errorf("failed to marshal stream: %w", err)
	}

	created, err := r.client.SetNX(ctx, streamKey(stream.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to set stream in Redis: %w", err)
	}
	if !created {
		return domain.ErrStreamExists.Withf("stream %s already exists", stream.ID)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, sessionStreamsKey(stream.Connection.SessionID), string(stream.ID))
		pipe.SAdd(ctx, connectionStreamsKey(stream.Connection.ID), string(stream.ID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to index stream: %w", err)
	}
	return nil
}

func (r *RedisStreamRepository) GetByID(ctx context.Context, id domain.StreamID) (domain.Stream, error) {
	data, err := r.client.Get(ctx, streamKey(id)).Result()
	if err == redis.Nil {
		return domain.Stream{}, domain.ErrStreamNotFound
	}
	if err != nil {
		return domain.Stream{}, fmt.Errorf("failed to get stream from Redis: %w", err)
	}

	var stream domain.Stream
	if err := json.Unmarshal([]byte(data), &stream); err != nil {
		return domain.Stream{}, fmt.Errorf("failed to unmarshal stream: %w", err)
	}
	return stream, nil
}

func (r *RedisStreamRepository) Update(ctx context.Context, stream domain.Stream) error {
	data, err := json.Marshal(stream)
	if err != nil {
		return fmt.Errorf("failed to marshal stream: %w", err)
	}

	updated, err := r.client.SetXX(ctx, streamKey(stream.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to update stream in Redis: %w", err)
	}
	if !updated {
		return domain.ErrStreamNotFound
	}
	return nil
}

func (r *RedisStreamRepository) Delete(ctx context.Context, id domain.StreamID) error {
	stream, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, streamKey(id))
		pipe.SRem(ctx, sessionStreamsKey(stream.Connection.SessionID), string(id))
		pipe.SRem(ctx, connectionStreamsKey(stream.Connection.ID), string(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete stream from Redis: %w", err)
	}
	return nil
}

func (r *RedisStreamRepository) ListBySession(ctx context.Context, sessionID domain.SessionID) ([]domain.Stream, error) {
	return r.list(ctx, sessionStreamsKey(sessionID))
}

func (r *RedisStreamRepository) ListByConnection(ctx context.Context, connectionID domain.ConnectionID) ([]domain.Stream, error) {
	return r.list(ctx, connectionStreamsKey(connectionID))
}

func (r *RedisStreamRepository) list(ctx context.Context, indexKey string) ([]domain.Stream, error) {
	streams, err := loadMembers[domain.Stream](ctx, r.client, indexKey, func(id string) string {
		return streamKey(domain.StreamID(id))
	})
	if err != nil {
		return nil, err
	}

	sortByCreation(streams,
		func(s domain.Stream) time.Time { return s.CreationTime },
		func(s domain.Stream) string { return string(s.ID) },
	)
	return streams, nil
}
