package service

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webgrave/internal/models"
)

func TestAdmin_SearchPagesThroughAccounts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for _, email := range []string{"a@x.com", "b@x.com", "c@x.com"} {
		env.register(t, email)
	}

	first, err := env.admin.SearchAccounts(ctx, "", 2, "")
	require.NoError(t, err)
	require.Len(t, first.Accounts, 2)
	require.NotEmpty(t, first.NextPage)

	second, err := env.admin.SearchAccounts(ctx, "", 2, first.NextPage)
	require.NoError(t, err)
	require.Len(t, second.Accounts, 1)
	assert.Empty(t, second.NextPage)
	assert.Equal(t, "c@x.com", second.Accounts[0].Email)

	_, err = env.admin.SearchAccounts(ctx, "", 2, "%%%")
	assert.ErrorIs(t, err, ErrInvalidInput)

	for _, offset := range []string{"-1", "50"} {
		token := base64.RawURLEncoding.EncodeToString([]byte(offset))
		_, err = env.admin.SearchAccounts(ctx, "", 2, token)
		assert.ErrorIs(t, err, ErrInvalidInput, offset)
	}
}

func TestAdmin_SearchUsesIndex(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "a@x.com")
	env.register(t, "b@x.com")

	page, err := env.admin.SearchAccounts(context.Background(), " b@x.com ", 0, "")
	require.NoError(t, err)
	require.Len(t, page.Accounts, 1)
	assert.Equal(t, "b@x.com", page.Accounts[0].Email)
	assert.Equal(t, []string{"b@x.com"}, env.index.queries)
}

func TestAdmin_Stats(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "a@x.com")
	env.verified(t, "b@x.com")

	stats, err := env.admin.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.AccountStats{Total: 2, Verified: 1}, stats)
}

func TestAdmin_ChangeRole(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	adminID := env.verified(t, "admin@x.com")
	userID := env.verified(t, "u@x.com")

	before, err := env.svc.Login(ctx, "u@x.com", "Passw0rd!")
	require.NoError(t, err)

	_, err = env.admin.ChangeRole(ctx, adminID, adminID, models.RoleUser)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	_, err = env.admin.ChangeRole(ctx, adminID, userID, models.Role("root"))
	assert.ErrorIs(t, err, ErrInvalidInput)

	env.clock.Advance(time.Second)
	updated, err := env.admin.ChangeRole(ctx, adminID, userID, models.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, updated.Role)
	assert.Equal(t, models.RoleAdmin, env.index.docs[userID].Role)

	_, err = env.svc.Authenticate(ctx, before.Session.Token)
	assert.ErrorIs(t, err, ErrInvalidToken, "tokens carrying the old role are revoked")

	stats, err := env.admin.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Admins)
	assert.Contains(t, env.events.types(), models.EventRoleChanged)
}

func TestAdmin_ChangeRoleRevokesTokenFromSameSecond(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	adminID := env.verified(t, "admin@x.com")
	userID := env.verified(t, "u@x.com")

	promoted, err := env.admin.ChangeRole(ctx, adminID, userID, models.RoleAdmin)
	require.NoError(t, err)
	require.Equal(t, models.RoleAdmin, promoted.Role)

	env.clock.Advance(100 * time.Millisecond)
	adminSession, err := env.svc.Login(ctx, "u@x.com", "Passw0rd!")
	require.NoError(t, err)

	env.clock.Advance(300 * time.Millisecond)
	_, err = env.admin.ChangeRole(ctx, adminID, userID, models.RoleUser)
	require.NoError(t, err)

	_, err = env.svc.Authenticate(ctx, adminSession.Session.Token)
	assert.ErrorIs(t, err, ErrInvalidToken, "demotion within the same second still revokes")

	fresh, err := env.svc.Login(ctx, "u@x.com", "Passw0rd!")
	require.NoError(t, err)
	claims, err := env.svc.Authenticate(ctx, fresh.Session.Token)
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, claims.Role)
}

func TestAdmin_RecentEvents(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.verified(t, "a@x.com")

	events, err := env.admin.RecentEvents(ctx, id, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.EventVerified, events[0].EventType)

	_, err = env.admin.RecentEvents(ctx, "4c8b5b3e-59f5-4a53-8d7c-1b0f3b0f1f11", 10)
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 20, clampLimit(0))
	assert.Equal(t, 5, clampLimit(5))
	assert.Equal(t, 100, clampLimit(1000))
}
