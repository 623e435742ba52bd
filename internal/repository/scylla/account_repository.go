package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"webgrave/internal/bucketing"
	"webgrave/internal/models"
	"webgrave/internal/util"
)

type accountRepository struct {
	client  *ScyllaClient
	buckets *bucketing.BucketingManager
}

func NewAccountRepository(client *ScyllaClient, buckets *bucketing.BucketingManager) AccountRepository {
	return &accountRepository{client: client, buckets: buckets}
}

func (r *accountRepository) Create(ctx context.Context, a *models.Account) error {
	if a.AccountID == "" {
		a.AccountID = uuid.NewString()
	}
	a.AccountBucket = r.buckets.GetAccountBucket(a.AccountID)
	if a.Role == "" {
		a.Role = models.RoleUser
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	a.UpdatedAt = a.CreatedAt

	applied, err := r.client.Query(ctx, r.client.Stmts.ReserveEmail,
		a.Email, a.AccountBucket, a.AccountID, a.CreatedAt).MapScanCAS(map[string]any{})
	if err != nil {
		return fmt.Errorf("failed to reserve email: %w", err)
	}
	if !applied {
		return ErrEmailTaken
	}

	ch := rowChallenge(a.Challenge)
	err = r.client.ExecuteWithRetry(r.client.Query(ctx, r.client.Stmts.InsertAccount,
		a.AccountBucket, a.AccountID, a.Email, a.PasswordHash, a.FirstName, a.LastName,
		a.IsVerified, string(a.Role), ch.purpose, ch.hash, ch.expires, ch.attempts,
		ch.lastAttempt, ch.lastSent, a.CreatedAt, a.UpdatedAt, a.LastLoginAt), 2)
	if err != nil {
		if relErr := r.client.Query(ctx, r.client.Stmts.ReleaseEmail, a.Email).Exec(); relErr != nil {
			util.Error("Failed to release email reservation", util.AccountID(a.AccountID), util.ErrorField(relErr))
		}
		return fmt.Errorf("failed to create account: %w", err)
	}

	util.Info("Account created", util.AccountID(a.AccountID), util.Int("bucket", a.AccountBucket))
	return nil
}

func (r *accountRepository) GetByID(ctx context.Context, accountID string) (*models.Account, error) {
	if _, err := uuid.Parse(accountID); err != nil {
		return nil, ErrNotFound
	}
	return r.get(ctx, r.buckets.GetAccountBucket(accountID), accountID)
}

func (r *accountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	var (
		bucket int
		id     string
	)
	err := r.client.ScanWithRetry(r.client.Query(ctx, r.client.Stmts.GetEmailOwner, email), &bucket, &id)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to look up email: %w", err)
	}
	return r.get(ctx, bucket, id)
}

func (r *accountRepository) get(ctx context.Context, bucket int, id string) (*models.Account, error) {
	var row accountRow
	err := r.client.ScanWithRetry(r.client.Query(ctx, r.client.Stmts.GetAccount, bucket, id), row.dest()...)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, ErrNotFound
		}
		util.Error("Failed to get account", util.AccountID(id), util.ErrorField(err))
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return row.account(), nil
}

func (r *accountRepository) Delete(ctx context.Context, a *models.Account) error {
	batch := r.client.Batch(ctx, gocql.LoggedBatch)
	batch.Query(r.client.Stmts.DeleteAccount, a.AccountBucket, a.AccountID)
	batch.Query(r.client.Stmts.ReleaseEmail, a.Email)
	if err := r.client.ExecuteBatch(batch); err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	util.Info("Account deleted", util.AccountID(a.AccountID))
	return nil
}

func (r *accountRepository) SaveChallenge(ctx context.Context, a *models.Account, c *models.Challenge) error {
	ch := rowChallenge(c)
	err := r.client.ExecuteWithRetry(r.client.Query(ctx, r.client.Stmts.SaveChallenge,
		ch.purpose, ch.hash, ch.expires, ch.attempts, ch.lastAttempt, ch.lastSent,
		time.Now().UTC(), a.AccountBucket, a.AccountID), 2)
	if err != nil {
		return fmt.Errorf("failed to save challenge: %w", err)
	}
	return nil
}

func (r *accountRepository) RecordFailedAttempt(ctx context.Context, a *models.Account, attempts int, at time.Time) error {
	if a.Challenge == nil {
		return ErrConflict
	}
	applied, err := r.client.Query(ctx, r.client.Stmts.RecordAttempt,
		attempts, at, at, a.AccountBucket, a.AccountID,
		a.Challenge.CodeHash, a.Challenge.Attempts).MapScanCAS(map[string]any{})
	if err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	if !applied {
		return ErrConflict
	}
	return nil
}

func (r *accountRepository) MarkVerified(ctx context.Context, a *models.Account, at time.Time) error {
	applied, err := r.client.Query(ctx, r.client.Stmts.MarkVerified,
		at, a.AccountBucket, a.AccountID).MapScanCAS(map[string]any{})
	if err != nil {
		return fmt.Errorf("failed to mark verified: %w", err)
	}
	if !applied {
		return ErrAlreadyVerified
	}
	return nil
}

func (r *accountRepository) ResetPassword(ctx context.Context, a *models.Account, passwordHash string, at time.Time) error {
	if a.Challenge == nil {
		return ErrConflict
	}
	applied, err := r.client.Query(ctx, r.client.Stmts.UpdatePasswordCAS,
		passwordHash, at, a.AccountBucket, a.AccountID, a.Challenge.CodeHash).MapScanCAS(map[string]any{})
	if err != nil {
		return fmt.Errorf("failed to reset password: %w", err)
	}
	if !applied {
		return ErrConflict
	}
	return nil
}

func (r *accountRepository) UpdateRole(ctx context.Context, a *models.Account, role models.Role, at time.Time) error {
	err := r.client.ExecuteWithRetry(r.client.Query(ctx, r.client.Stmts.UpdateRole,
		string(role), at, a.AccountBucket, a.AccountID), 2)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	return nil
}

func (r *accountRepository) UpdateLastLogin(ctx context.Context, a *models.Account, at time.Time) error {
	err := r.client.ExecuteWithRetry(r.client.Query(ctx, r.client.Stmts.UpdateLastLogin,
		at, a.AccountBucket, a.AccountID), 1)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

func (r *accountRepository) List(ctx context.Context, limit int, pageState []byte) ([]*models.Account, []byte, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	iter := r.client.Query(ctx, r.client.Stmts.ListAccounts).
		PageSize(limit).PageState(pageState).Iter()

	var (
		accounts []*models.Account
		row      accountRow
	)
	for iter.Scan(row.dest()...) {
		accounts = append(accounts, row.account())
		row = accountRow{}
	}
	next := iter.PageState()
	if err := iter.Close(); err != nil {
		return nil, nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return accounts, next, nil
}

func (r *accountRepository) Count(ctx context.Context) (models.AccountStats, error) {
	var (
		stats    models.AccountStats
		verified bool
		role     string
	)
	iter := r.client.Query(ctx, r.client.Stmts.CountAccounts).PageSize(1000).Iter()
	for iter.Scan(&verified, &role) {
		stats.Total++
		if verified {
			stats.Verified++
		}
		if models.Role(role) == models.RoleAdmin {
			stats.Admins++
		}
	}
	if err := iter.Close(); err != nil {
		return models.AccountStats{}, fmt.Errorf("failed to count accounts: %w", err)
	}
	return stats, nil
}

// accountRow mirrors one accounts row; null columns scan to zero values.
type accountRow struct {
	bucket       int
	id           string
	email        string
	passwordHash string
	firstName    string
	lastName     string
	isVerified   bool
	role         string
	purpose      string
	otpHash      string
	otpExpires   time.Time
	otpAttempts  int
	lastAttempt  time.Time
	lastSent     time.Time
	createdAt    time.Time
	updatedAt    time.Time
	lastLogin    time.Time
}

func (r *accountRow) dest() []any {
	return []any{
		&r.bucket, &r.id, &r.email, &r.passwordHash, &r.firstName, &r.lastName,
		&r.isVerified, &r.role, &r.purpose, &r.otpHash, &r.otpExpires, &r.otpAttempts,
		&r.lastAttempt, &r.lastSent, &r.createdAt, &r.updatedAt, &r.lastLogin,
	}
}

func (r *accountRow) account() *models.Account {
	a := &models.Account{
		AccountBucket: r.bucket,
		AccountID:     r.id,
		Email:         r.email,
		PasswordHash:  r.passwordHash,
		FirstName:     r.firstName,
		LastName:      r.lastName,
		IsVerified:    r.isVerified,
		Role:          models.Role(r.role),
		CreatedAt:     r.createdAt,
		UpdatedAt:     r.updatedAt,
		LastLoginAt:   optionalTime(r.lastLogin),
	}
	if a.Role == "" {
		a.Role = models.RoleUser
	}
	if r.purpose != "" && r.otpHash != "" {
		a.Challenge = &models.Challenge{
			Purpose:       models.ChallengePurpose(r.purpose),
			CodeHash:      r.otpHash,
			ExpiresAt:     r.otpExpires,
			Attempts:      r.otpAttempts,
			LastAttemptAt: optionalTime(r.lastAttempt),
			LastSentAt:    r.lastSent,
		}
	}
	return a
}

type challengeColumns struct {
	purpose     any
	hash        any
	expires     any
	attempts    int
	lastAttempt *time.Time
	lastSent    any
}

// rowChallenge converts a challenge to bind values; nil binds nulls so the
// columns are cleared.
func rowChallenge(c *models.Challenge) challengeColumns {
	if c == nil {
		return challengeColumns{}
	}
	return challengeColumns{
		purpose:     string(c.Purpose),
		hash:        c.CodeHash,
		expires:     c.ExpiresAt,
		attempts:    c.Attempts,
		lastAttempt: c.LastAttemptAt,
		lastSent:    c.LastSentAt,
	}
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() || t.Unix() <= 0 {
		return nil
	}
	return &t
}
