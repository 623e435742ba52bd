package service

import (
	"context"
	"time"

	"webgrave/internal/models"
)

// Mailer delivers one-time codes. The production implementation speaks SMTP.
type Mailer interface {
	SendOTP(ctx context.Context, to, name, code string, purpose models.ChallengePurpose, validFor time.Duration) error
}

// EventPublisher records security events. Failures are logged by the caller
// and never fail a request.
type EventPublisher interface {
	Publish(ctx context.Context, event *models.SecurityEvent) error
}

type EventReader interface {
	RecentEvents(ctx context.Context, accountID string, limit int) ([]models.SecurityEvent, error)
}

// AccountIndex is the admin search index over accounts.
type AccountIndex interface {
	IndexAccount(ctx context.Context, account *models.Account) error
	RemoveAccount(ctx context.Context, accountID string) error
	SearchAccounts(ctx context.Context, query string, limit int) ([]models.PublicAccount, error)
}

type SessionRevoker interface {
	RevokeToken(ctx context.Context, tokenID string, expiresAt time.Time) error
	RevokeAllForAccount(ctx context.Context, accountID string, at time.Time) error
	IsRevoked(ctx context.Context, tokenID, accountID string, issuedAt time.Time) (bool, error)
}
