package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"webgrave/internal/models"
	"webgrave/internal/repository/scylla"
	"webgrave/internal/util"
)

// Actor is the authenticated caller of a memorial operation.
type Actor struct {
	AccountID string
	Role      models.Role
}

func ActorFromClaims(c *Claims) *Actor {
	if c == nil {
		return nil
	}
	return &Actor{AccountID: c.UserID, Role: c.Role}
}

func (a *Actor) canManage(m *models.Memorial) bool {
	return a != nil && (a.Role == models.RoleAdmin || a.AccountID == m.OwnerID)
}

type MemorialInput struct {
	FullName  string     `json:"fullName"`
	BirthDate *time.Time `json:"birthDate,omitempty"`
	DeathDate *time.Time `json:"deathDate,omitempty"`
	Biography string     `json:"biography"`
	Epitaph   string     `json:"epitaph"`
	IsPublic  bool       `json:"isPublic"`
}

type MemorialService struct {
	memorials scylla.MemorialRepository
	now       func() time.Time
}

func NewMemorialService(memorials scylla.MemorialRepository) *MemorialService {
	return &MemorialService{memorials: memorials, now: time.Now}
}

func (s *MemorialService) Create(ctx context.Context, actor *Actor, in MemorialInput) (*models.Memorial, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	for iter := 0; iter < 3; iter++ {
		id := uuid.NewString()
		m := &models.Memorial{
			MemorialID: id,
			OwnerID:    actor.AccountID,
			Slug:       Slugify(in.FullName) + "-" + id[:8],
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		in.apply(m)

		err := s.memorials.Create(ctx, m)
		if errors.Is(err, scylla.ErrSlugTaken) {
			continue
		}
		if err != nil {
			return nil, err
		}
		util.Info("Memorial created", util.String("memorial_id", m.MemorialID), util.AccountID(actor.AccountID))
		return m, nil
	}
	return nil, fmt.Errorf("could not allocate a unique slug")
}

// Get resolves an id or slug. Private memorials are reported as missing to
// anyone who cannot manage them.
func (s *MemorialService) Get(ctx context.Context, actor *Actor, idOrSlug string) (*models.Memorial, error) {
	m, err := s.lookup(ctx, idOrSlug)
	if err != nil {
		return nil, err
	}
	if !m.IsPublic && !actor.canManage(m) {
		return nil, ErrMemorialNotFound
	}
	return m, nil
}

func (s *MemorialService) ListMine(ctx context.Context, actor *Actor) ([]*models.Memorial, error) {
	list, err := s.memorials.ListByOwner(ctx, actor.AccountID)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []*models.Memorial{}
	}
	return list, nil
}

func (s *MemorialService) Update(ctx context.Context, actor *Actor, id string, in MemorialInput) (*models.Memorial, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	m, err := s.manageable(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	in.apply(m)
	m.UpdatedAt = s.now().UTC()
	if err := s.memorials.Update(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *MemorialService) Delete(ctx context.Context, actor *Actor, id string) error {
	m, err := s.manageable(ctx, actor, id)
	if err != nil {
		return err
	}
	return s.memorials.Delete(ctx, m)
}

func (s *MemorialService) manageable(ctx context.Context, actor *Actor, id string) (*models.Memorial, error) {
	m, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.canManage(m) {
		if !m.IsPublic {
			return nil, ErrMemorialNotFound
		}
		return nil, ErrPermissionDenied
	}
	return m, nil
}

func (s *MemorialService) lookup(ctx context.Context, idOrSlug string) (*models.Memorial, error) {
	var (
		m   *models.Memorial
		err error
	)
	if _, parseErr := uuid.Parse(idOrSlug); parseErr == nil {
		m, err = s.memorials.GetByID(ctx, idOrSlug)
	} else {
		m, err = s.memorials.GetBySlug(ctx, strings.ToLower(idOrSlug))
	}
	if errors.Is(err, scylla.ErrNotFound) {
		return nil, ErrMemorialNotFound
	}
	return m, err
}

func (in *MemorialInput) validate() error {
	in.FullName = strings.TrimSpace(in.FullName)
	switch {
	case in.FullName == "":
		return invalidInput("fullName is required")
	case utf8.RuneCountInString(in.FullName) > 200:
		return invalidInput("fullName is too long")
	case util.ContainsSuspicious(in.FullName):
		return invalidInput("fullName contains invalid characters")
	case utf8.RuneCountInString(in.Epitaph) > 500:
		return invalidInput("epitaph is too long")
	case utf8.RuneCountInString(in.Biography) > 20000:
		return invalidInput("biography is too long")
	case in.BirthDate != nil && in.DeathDate != nil && in.DeathDate.Before(*in.BirthDate):
		return invalidInput("deathDate must not be before birthDate")
	}
	return nil
}

func (in *MemorialInput) apply(m *models.Memorial) {
	m.FullName = in.FullName
	m.BirthDate = in.BirthDate
	m.DeathDate = in.DeathDate
	m.Biography = strings.TrimSpace(in.Biography)
	m.Epitaph = strings.TrimSpace(in.Epitaph)
	m.IsPublic = in.IsPublic
}

// Slugify lower-cases name and joins its ASCII letter and digit runs with
// hyphens.
func Slugify(name string) string {
	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			pendingDash = false
			continue
		}
		pendingDash = true
		if b.Len() >= 60 {
			break
		}
	}
	if b.Len() == 0 {
		return "memorial"
	}
	return b.String()
}
