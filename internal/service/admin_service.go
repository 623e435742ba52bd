package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"webgrave/internal/models"
	"webgrave/internal/repository/scylla"
	"webgrave/internal/util"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// AdminService backs the admin dashboard. Callers must already have checked
// the admin role.
type AdminService struct {
	auth     *AuthService
	accounts scylla.AccountRepository
	index    AccountIndex
	events   EventReader
}

func NewAdminService(auth *AuthService, accounts scylla.AccountRepository, index AccountIndex, events EventReader) *AdminService {
	return &AdminService{auth: auth, accounts: accounts, index: index, events: events}
}

type AccountPage struct {
	Accounts []models.PublicAccount `json:"users"`
	NextPage string                 `json:"nextPage,omitempty"`
}

// SearchAccounts queries the search index, or pages through the account
// table when query is empty.
func (s *AdminService) SearchAccounts(ctx context.Context, query string, limit int, page string) (*AccountPage, error) {
	query = strings.TrimSpace(query)
	limit = clampLimit(limit)

	if query != "" && s.index != nil {
		found, err := s.index.SearchAccounts(ctx, query, limit)
		if err != nil {
			return nil, fmt.Errorf("account search failed: %w", err)
		}
		return &AccountPage{Accounts: found}, nil
	}

	var pageState []byte
	if page != "" {
		decoded, err := base64.RawURLEncoding.DecodeString(page)
		if err != nil {
			return nil, invalidInput("malformed page token")
		}
		pageState = decoded
	}

	accounts, next, err := s.accounts.List(ctx, limit, pageState)
	if errors.Is(err, scylla.ErrBadPageState) {
		return nil, invalidInput("malformed page token")
	}
	if err != nil {
		return nil, err
	}
	result := &AccountPage{Accounts: make([]models.PublicAccount, 0, len(accounts))}
	for _, a := range accounts {
		result.Accounts = append(result.Accounts, a.Public())
	}
	if len(next) > 0 {
		result.NextPage = base64.RawURLEncoding.EncodeToString(next)
	}
	return result, nil
}

func (s *AdminService) Stats(ctx context.Context) (models.AccountStats, error) {
	return s.accounts.Count(ctx)
}

// ChangeRole sets the account's role and revokes its existing sessions so
// the old role claim stops working. Admins cannot change their own role.
func (s *AdminService) ChangeRole(ctx context.Context, actorID, accountID string, role models.Role) (*models.Account, error) {
	if !role.Valid() {
		return nil, invalidInput("role must be user or admin")
	}
	if actorID == accountID {
		return nil, fmt.Errorf("%w: cannot change your own role", ErrPermissionDenied)
	}

	account, err := s.auth.getAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.Role == role {
		return account, nil
	}

	previous := account.Role
	now := s.auth.now().UTC()
	if err := s.accounts.UpdateRole(ctx, account, role, now); err != nil {
		return nil, err
	}
	account.Role = role
	account.UpdatedAt = now

	s.auth.revokeAll(ctx, account.AccountID)
	s.auth.reindex(ctx, account)
	s.auth.emit(ctx, models.EventRoleChanged, account.AccountID, account.Email, map[string]string{
		"actor": actorID,
		"from":  string(previous),
		"to":    string(role),
	})
	util.Info("Account role changed",
		util.AccountID(account.AccountID),
		util.String("actor", actorID),
		util.String("role", string(role)))
	return account, nil
}

func (s *AdminService) DeleteAccount(ctx context.Context, actorID, accountID string) error {
	return s.auth.DeleteAccount(ctx, accountID, actorID)
}

func (s *AdminService) RecentEvents(ctx context.Context, accountID string, limit int) ([]models.SecurityEvent, error) {
	if s.events == nil {
		return []models.SecurityEvent{}, nil
	}
	if _, err := s.auth.getAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return s.events.RecentEvents(ctx, accountID, clampLimit(limit))
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultPageSize
	case limit > maxPageSize:
		return maxPageSize
	}
	return limit
}
