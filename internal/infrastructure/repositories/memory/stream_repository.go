package memory

import (
	"context"
	"sort"
	"sync"

	"rtclink/internal/core/domain"
	"rtclink/internal/core/ports"
)

type MemoryStreamRepository struct {
	streams map[domain.StreamID]domain.Stream
	mu      sync.RWMutex
}

func NewMemoryStreamRepository() ports.StreamRepository {
	return &MemoryStreamRepository{
		streams: make(map[domain.StreamID]domain.Stream),
	}
}

func (r *MemoryStreamRepository) Create(ctx context.Context, stream domain.Stream) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.streams[stream.ID]; exists {
		return domain.ErrStreamExists.Withf("stream %s already exists", stream.ID)
	}

	r.streams[stream.ID] = stream
	return nil
}

func (r *MemoryStreamRepository) GetByID(ctx context.Context, id domain.StreamID) (domain.Stream, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stream, exists := r.streams[id]
	if !exists {
		return domain.Stream{}, domain.ErrStreamNotFound
	}

	return stream, nil
}

func (r *MemoryStreamRepository) Update(ctx context.Context, stream domain.Stream) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.streams[stream.ID]; !exists {
		return domain.ErrStreamNotFound
	}

	r.streams[stream.ID] = stream
	return nil
}

func (r *MemoryStreamRepository) Delete(ctx context.Context, id domain.StreamID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.streams[id]; !exists {
		return domain.ErrStreamNotFound
	}

	delete(r.streams, id)
	return nil
}

func (r *MemoryStreamRepository) ListBySession(ctx context.Context, sessionID domain.SessionID) ([]domain.Stream, error) {
	return r.list(func(s domain.Stream) bool { return s.Connection.SessionID == sessionID }), nil
}

func (r *MemoryStreamRepository) ListByConnection(ctx context.Context, connectionID domain.ConnectionID) ([]domain.Stream, error) {
	return r.list(func(s domain.Stream) bool { return s.Connection.ID == connectionID }), nil
}

// list returns matching streams oldest first.
func (r *MemoryStreamRepository) list(match func(domain.Stream) bool) []domain.Stream {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var streams []domain.Stream
	for _, stream := range r.streams {
		if match(stream) {
			streams = append(streams, stream)
		}
	}

	sort.Slice(streams, func(i, j int) bool {
		if streams[i].CreationTime.Equal(streams[j].CreationTime) {
			return streams[i].ID < streams[j].ID
		}
		return streams[i].CreationTime.Before(streams[j].CreationTime)
	})
	return streams
}
