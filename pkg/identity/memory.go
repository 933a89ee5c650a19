package identity

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepository keeps identities in memory. Used for tests and the
// development server when no database is configured.
type MemoryRepository struct {
	mu    sync.RWMutex
	byKey map[string]Identity
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byKey: make(map[string]Identity)}
}

func (r *MemoryRepository) Create(_ context.Context, id Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byKey[id.Contact]; ok {
		return ErrExists
	}
	r.byKey[id.Contact] = id
	return nil
}

func (r *MemoryRepository) FindByContact(_ context.Context, contact string) (Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byKey[contact]
	if !ok {
		return Identity{}, ErrNotFound
	}
	return id, nil
}

func (r *MemoryRepository) UpdateCredentialHash(_ context.Context, contact string, hash []byte) error {
	return r.update(contact, func(id *Identity) { id.CredentialHash = append([]byte(nil), hash...) })
}

func (r *MemoryRepository) SetTemplatePath(_ context.Context, contact, path string) error {
	return r.update(contact, func(id *Identity) { id.TemplatePath = path })
}

func (r *MemoryRepository) update(contact string, fn func(*Identity)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byKey[contact]
	if !ok {
		return ErrNotFound
	}
	fn(&id)
	r.byKey[contact] = id
	return nil
}

func (r *MemoryRepository) ListEnrolled(ctx context.Context) ([]Identity, error) {
	all, _ := r.List(ctx)
	out := all[:0]
	for _, id := range all {
		if id.Enrolled() {
			out = append(out, id)
		}
	}
	return out, nil
}

func (r *MemoryRepository) List(_ context.Context) ([]Identity, error) {
	r.mu.RLock()
	out := make([]Identity, 0, len(r.byKey))
	for _, id := range r.byKey {
		out = append(out, id)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
