package scylla

import (
	"context"
	"errors"
	"time"

	"webgrave/internal/models"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrEmailTaken      = errors.New("email already registered")
	ErrSlugTaken       = errors.New("slug already taken")
	ErrConflict        = errors.New("conditional update not applied")
	ErrAlreadyVerified = errors.New("account already verified")
	ErrBadPageState    = errors.New("invalid page state")
)

// AccountRepository persists accounts and their outstanding challenge.
// Methods that take an account use its bucket and id as the row key and,
// for conditional writes, its loaded challenge as the expected state.
type AccountRepository interface {
	// Create reserves the email and writes the account. ErrEmailTaken when
	// the reservation already exists.
	Create(ctx context.Context, account *models.Account) error
	GetByID(ctx context.Context, accountID string) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	Delete(ctx context.Context, account *models.Account) error

	// SaveChallenge overwrites the challenge unconditionally; nil clears it.
	SaveChallenge(ctx context.Context, account *models.Account, challenge *models.Challenge) error
	// RecordFailedAttempt sets the attempt counter to attempts if the stored
	// challenge still has the hash and counter the account was loaded with.
	// ErrConflict otherwise.
	RecordFailedAttempt(ctx context.Context, account *models.Account, attempts int, at time.Time) error
	// MarkVerified flips is_verified and clears the challenge if the account
	// is still unverified. ErrAlreadyVerified otherwise.
	MarkVerified(ctx context.Context, account *models.Account, at time.Time) error
	// ResetPassword replaces the password and consumes the loaded challenge.
	// ErrConflict when the challenge changed since it was loaded.
	ResetPassword(ctx context.Context, account *models.Account, passwordHash string, at time.Time) error
	UpdateRole(ctx context.Context, account *models.Account, role models.Role, at time.Time) error
	UpdateLastLogin(ctx context.Context, account *models.Account, at time.Time) error

	List(ctx context.Context, limit int, pageState []byte) ([]*models.Account, []byte, error)
	Count(ctx context.Context) (models.AccountStats, error)
}
