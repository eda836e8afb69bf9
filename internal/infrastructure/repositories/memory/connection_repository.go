package memory

import (
	"context"
	"sort"
	"sync"

	"rtclink/internal/core/domain"
	"rtclink/internal/core/ports"
)

type MemoryConnectionRepository struct {
	connections map[domain.ConnectionID]domain.Connection
	mu          sync.RWMutex
}

func NewMemoryConnectionRepository() ports.ConnectionRepository {
	return &MemoryConnectionRepository{
		connections: make(map[domain.ConnectionID]domain.Connection),
	}
}

func (r *MemoryConnectionRepository) Add(ctx context.Context, conn domain.Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connections[conn.ID]; exists {
		return domain.ErrConnectionExists.Withf("connection %s already exists", conn.ID)
	}

	r.connections[conn.ID] = conn
	return nil
}

func (r *MemoryConnectionRepository) GetByID(ctx context.Context, id domain.ConnectionID) (domain.Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, exists := r.connections[id]
	if !exists {
		return domain.Connection{}, domain.ErrConnectionNotFound
	}
	return conn, nil
}

func (r *MemoryConnectionRepository) Remove(ctx context.Context, id domain.ConnectionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connections[id]; !exists {
		return domain.ErrConnectionNotFound
	}

	delete(r.connections, id)
	return nil
}

func (r *MemoryConnectionRepository) ListBySession(ctx context.Context, sessionID domain.SessionID) ([]domain.Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var conns []domain.Connection
	for _, conn := range r.connections {
		if conn.SessionID == sessionID {
			conns = append(conns, conn)
		}
	}

	sort.Slice(conns, func(i, j int) bool {
		if conns[i].CreationTime.Equal(conns[j].CreationTime) {
			return conns[i].ID < conns[j].ID
		}
		return conns[i].CreationTime.Before(conns[j].CreationTime)
	})
	return conns, nil
}

func (r *MemoryConnectionRepository) Count(ctx context.Context, sessionID domain.SessionID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, conn := range r.connections {
		if conn.SessionID == sessionID {
			count++
		}
	}
	return count, nil
}
