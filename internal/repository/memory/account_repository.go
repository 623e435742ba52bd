package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"webgrave/internal/models"
	"webgrave/internal/repository/scylla"
)

// AccountRepository keeps accounts in process memory with the same
// conditional-write semantics as the Scylla repository. It is only safe for
// single-process deployments.
type AccountRepository struct {
	mu      sync.Mutex
	byID    map[string]*models.Account
	byEmail map[string]string
	order   []string
}

var _ scylla.AccountRepository = (*AccountRepository)(nil)

func NewAccountRepository() *AccountRepository {
	return &AccountRepository{byID: map[string]*models.Account{}, byEmail: map[string]string{}}
}

func cloneAccount(a *models.Account) *models.Account {
	c := *a
	if a.Challenge != nil {
		ch := *a.Challenge
		if a.Challenge.LastAttemptAt != nil {
			t := *a.Challenge.LastAttemptAt
			ch.LastAttemptAt = &t
		}
		c.Challenge = &ch
	}
	if a.LastLoginAt != nil {
		t := *a.LastLoginAt
		c.LastLoginAt = &t
	}
	return &c
}

func (r *AccountRepository) Create(_ context.Context, a *models.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.byEmail[a.Email]; taken {
		return scylla.ErrEmailTaken
	}
	if a.AccountID == "" {
		a.AccountID = uuid.NewString()
	}
	if a.Role == "" {
		a.Role = models.RoleUser
	}
	a.UpdatedAt = a.CreatedAt
	r.byID[a.AccountID] = cloneAccount(a)
	r.byEmail[a.Email] = a.AccountID
	r.order = append(r.order, a.AccountID)
	return nil
}

func (r *AccountRepository) GetByID(_ context.Context, id string) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return nil, scylla.ErrNotFound
	}
	return cloneAccount(a), nil
}

func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	r.mu.Lock()
	id, ok := r.byEmail[email]
	r.mu.Unlock()
	if !ok {
		return nil, scylla.ErrNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *AccountRepository) Delete(_ context.Context, a *models.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, a.AccountID)
	delete(r.byEmail, a.Email)
	for i, id := range r.order {
		if id == a.AccountID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

func (r *AccountRepository) stored(a *models.Account) (*models.Account, error) {
	s, ok := r.byID[a.AccountID]
	if !ok {
		return nil, scylla.ErrNotFound
	}
	return s, nil
}

func (r *AccountRepository) SaveChallenge(_ context.Context, a *models.Account, c *models.Challenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.stored(a)
	if err != nil {
		return err
	}
	if c == nil {
		s.Challenge = nil
		return nil
	}
	s.Challenge = cloneAccount(&models.Account{Challenge: c}).Challenge
	return nil
}

func (r *AccountRepository) RecordFailedAttempt(_ context.Context, a *models.Account, attempts int, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.stored(a)
	if err != nil {
		return err
	}
	if a.Challenge == nil || s.Challenge == nil ||
		s.Challenge.CodeHash != a.Challenge.CodeHash || s.Challenge.Attempts != a.Challenge.Attempts {
		return scylla.ErrConflict
	}
	s.Challenge.Attempts = attempts
	s.Challenge.LastAttemptAt = &at
	return nil
}

func (r *AccountRepository) MarkVerified(_ context.Context, a *models.Account, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.stored(a)
	if err != nil {
		return err
	}
	if s.IsVerified {
		return scylla.ErrAlreadyVerified
	}
	s.IsVerified = true
	s.Challenge = nil
	s.UpdatedAt = at
	return nil
}

func (r *AccountRepository) ResetPassword(_ context.Context, a *models.Account, hash string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.stored(a)
	if err != nil {
		return err
	}
	if a.Challenge == nil || s.Challenge == nil || s.Challenge.CodeHash != a.Challenge.CodeHash {
		return scylla.ErrConflict
	}
	s.PasswordHash = hash
	s.Challenge = nil
	s.UpdatedAt = at
	return nil
}

func (r *AccountRepository) UpdateRole(_ context.Context, a *models.Account, role models.Role, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.stored(a)
	if err != nil {
		return err
	}
	s.Role = role
	s.UpdatedAt = at
	return nil
}

func (r *AccountRepository) UpdateLastLogin(_ context.Context, a *models.Account, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.stored(a)
	if err != nil {
		return err
	}
	s.LastLoginAt = &at
	return nil
}

// List pages by insertion order. The page state is the next offset.
func (r *AccountRepository) List(_ context.Context, limit int, pageState []byte) ([]*models.Account, []byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	offset := 0
	if len(pageState) > 0 {
		n, err := strconv.Atoi(string(pageState))
		if err != nil || n < 0 || n > len(r.order) {
			return nil, nil, scylla.ErrBadPageState
		}
		offset = n
	}
	var out []*models.Account
	for i := offset; i < len(r.order) && len(out) < limit; i++ {
		out = append(out, cloneAccount(r.byID[r.order[i]]))
	}
	var next []byte
	if end := offset + len(out); end < len(r.order) {
		next = []byte(strconv.Itoa(end))
	}
	return out, next, nil
}

func (r *AccountRepository) Count(context.Context) (models.AccountStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var st models.AccountStats
	for _, a := range r.byID {
		st.Total++
		if a.IsVerified {
			st.Verified++
		}
		if a.Role == models.RoleAdmin {
			st.Admins++
		}
	}
	return st, nil
}
