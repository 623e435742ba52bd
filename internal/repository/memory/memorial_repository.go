package memory

import (
	"context"
	"sort"
	"sync"

	"webgrave/internal/models"
	"webgrave/internal/repository/scylla"
)

// MemorialRepository is the in-memory counterpart of the Scylla memorial
// repository, including slug uniqueness.
type MemorialRepository struct {
	mu     sync.Mutex
	byID   map[string]*models.Memorial
	bySlug map[string]string
}

var _ scylla.MemorialRepository = (*MemorialRepository)(nil)

func NewMemorialRepository() *MemorialRepository {
	return &MemorialRepository{byID: map[string]*models.Memorial{}, bySlug: map[string]string{}}
}

func (r *MemorialRepository) Create(_ context.Context, m *models.Memorial) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bySlug[m.Slug]; ok {
		return scylla.ErrSlugTaken
	}
	c := *m
	r.byID[m.MemorialID] = &c
	r.bySlug[m.Slug] = m.MemorialID
	return nil
}

func (r *MemorialRepository) GetByID(_ context.Context, id string) (*models.Memorial, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byID[id]
	if !ok {
		return nil, scylla.ErrNotFound
	}
	c := *m
	return &c, nil
}

func (r *MemorialRepository) GetBySlug(ctx context.Context, slug string) (*models.Memorial, error) {
	r.mu.Lock()
	id, ok := r.bySlug[slug]
	r.mu.Unlock()
	if !ok {
		return nil, scylla.ErrNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *MemorialRepository) ListByOwner(_ context.Context, owner string) ([]*models.Memorial, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Memorial
	for _, m := range r.byID {
		if m.OwnerID == owner {
			c := *m
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemorialRepository) Update(_ context.Context, m *models.Memorial) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[m.MemorialID]; !ok {
		return scylla.ErrNotFound
	}
	c := *m
	r.byID[m.MemorialID] = &c
	return nil
}

func (r *MemorialRepository) Delete(_ context.Context, m *models.Memorial) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, m.MemorialID)
	delete(r.bySlug, m.Slug)
	return nil
}
