package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"webgrave/internal/models"
	"webgrave/internal/util"
)

type MemorialRepository interface {
	// Create reserves the slug and writes the memorial. ErrSlugTaken when
	// another memorial holds the slug.
	Create(ctx context.Context, m *models.Memorial) error
	GetByID(ctx context.Context, memorialID string) (*models.Memorial, error)
	GetBySlug(ctx context.Context, slug string) (*models.Memorial, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*models.Memorial, error)
	Update(ctx context.Context, m *models.Memorial) error
	Delete(ctx context.Context, m *models.Memorial) error
}

type memorialRepository struct {
	client *ScyllaClient
}

func NewMemorialRepository(client *ScyllaClient) MemorialRepository {
	return &memorialRepository{client: client}
}

func (r *memorialRepository) Create(ctx context.Context, m *models.Memorial) error {
	if m.MemorialID == "" {
		m.MemorialID = uuid.NewString()
	}

	applied, err := r.client.Query(ctx, r.client.Stmts.ReserveSlug, m.Slug, m.MemorialID).
		MapScanCAS(map[string]any{})
	if err != nil {
		return fmt.Errorf("failed to reserve slug: %w", err)
	}
	if !applied {
		return ErrSlugTaken
	}

	batch := r.client.Batch(ctx, gocql.LoggedBatch)
	batch.Query(r.client.Stmts.InsertMemorial,
		m.MemorialID, m.OwnerID, m.Slug, m.FullName, m.BirthDate, m.DeathDate,
		m.Biography, m.Epitaph, m.IsPublic, m.CreatedAt, m.UpdatedAt)
	batch.Query(r.client.Stmts.InsertOwnerIndex, m.OwnerID, m.CreatedAt, m.MemorialID)
	if err := r.client.ExecuteBatch(batch); err != nil {
		if relErr := r.client.Query(ctx, r.client.Stmts.ReleaseSlug, m.Slug).Exec(); relErr != nil {
			util.Error("Failed to release slug", util.String("slug", m.Slug), util.ErrorField(relErr))
		}
		return fmt.Errorf("failed to create memorial: %w", err)
	}
	return nil
}

func (r *memorialRepository) GetByID(ctx context.Context, memorialID string) (*models.Memorial, error) {
	if _, err := uuid.Parse(memorialID); err != nil {
		return nil, ErrNotFound
	}
	var row memorialRow
	err := r.client.ScanWithRetry(r.client.Query(ctx, r.client.Stmts.GetMemorial, memorialID), row.dest()...)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get memorial: %w", err)
	}
	return row.memorial(), nil
}

func (r *memorialRepository) GetBySlug(ctx context.Context, slug string) (*models.Memorial, error) {
	var id string
	err := r.client.ScanWithRetry(r.client.Query(ctx, r.client.Stmts.GetSlugOwner, slug), &id)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to look up slug: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *memorialRepository) ListByOwner(ctx context.Context, ownerID string) ([]*models.Memorial, error) {
	if _, err := uuid.Parse(ownerID); err != nil {
		return nil, nil
	}
	iter := r.client.Query(ctx, r.client.Stmts.ListOwnerMemorials, ownerID).Iter()
	var (
		ids []string
		id  string
	)
	for iter.Scan(&id) {
		ids = append(ids, id)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list memorials: %w", err)
	}

	memorials := make([]*models.Memorial, 0, len(ids))
	for _, id := range ids {
		m, err := r.GetByID(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		memorials = append(memorials, m)
	}
	return memorials, nil
}

func (r *memorialRepository) Update(ctx context.Context, m *models.Memorial) error {
	err := r.client.ExecuteWithRetry(r.client.Query(ctx, r.client.Stmts.UpdateMemorial,
		m.FullName, m.BirthDate, m.DeathDate, m.Biography, m.Epitaph, m.IsPublic,
		m.UpdatedAt, m.MemorialID), 2)
	if err != nil {
		return fmt.Errorf("failed to update memorial: %w", err)
	}
	return nil
}

func (r *memorialRepository) Delete(ctx context.Context, m *models.Memorial) error {
	batch := r.client.Batch(ctx, gocql.LoggedBatch)
	batch.Query(r.client.Stmts.DeleteMemorial, m.MemorialID)
	batch.Query(r.client.Stmts.DeleteOwnerIndex, m.OwnerID, m.CreatedAt, m.MemorialID)
	batch.Query(r.client.Stmts.ReleaseSlug, m.Slug)
	if err := r.client.ExecuteBatch(batch); err != nil {
		return fmt.Errorf("failed to delete memorial: %w", err)
	}
	return nil
}

type memorialRow struct {
	id, owner, slug, fullName string
	birth, death              time.Time
	biography, epitaph        string
	isPublic                  bool
	createdAt, updatedAt      time.Time
}

func (r *memorialRow) dest() []any {
	return []any{&r.id, &r.owner, &r.slug, &r.fullName, &r.birth, &r.death,
		&r.biography, &r.epitaph, &r.isPublic, &r.createdAt, &r.updatedAt}
}

func (r *memorialRow) memorial() *models.Memorial {
	return &models.Memorial{
		MemorialID: r.id,
		OwnerID:    r.owner,
		Slug:       r.slug,
		FullName:   r.fullName,
		BirthDate:  optionalDate(r.birth),
		DeathDate:  optionalDate(r.death),
		Biography:  r.biography,
		Epitaph:    r.epitaph,
		IsPublic:   r.isPublic,
		CreatedAt:  r.createdAt,
		UpdatedAt:  r.updatedAt,
	}
}

// optionalDate keeps pre-1970 dates, which optionalTime would drop.
func optionalDate(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
