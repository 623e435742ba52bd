package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webgrave/internal/models"
)

func TestRegisterThenVerify(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	account := env.register(t, "a@x.com")
	require.NotEmpty(t, account.AccountID)
	assert.False(t, account.IsVerified)

	code := env.mailer.lastCode(t, "a@x.com")
	assert.Len(t, code, 6)

	stored, err := env.accounts.GetByID(ctx, account.AccountID)
	require.NoError(t, err)
	require.NotNil(t, stored.Challenge)
	assert.True(t, strings.HasPrefix(stored.Challenge.CodeHash, "argon2id$"), "code is hashed at rest")
	assert.Equal(t, env.clock.Now().Add(10*time.Minute), stored.Challenge.ExpiresAt)

	_, err = env.svc.VerifyEmail(ctx, account.AccountID, wrongCode(code))
	var otpErr *OTPError
	require.ErrorAs(t, err, &otpErr)
	assert.ErrorIs(t, err, ErrInvalidOTP)
	assert.Equal(t, 2, otpErr.RemainingAttempts)
	assert.False(t, otpErr.Blocked)

	result, err := env.svc.VerifyEmail(ctx, account.AccountID, code)
	require.NoError(t, err)
	assert.NotEmpty(t, result.Session.Token)
	assert.Equal(t, env.clock.Now().Add(24*time.Hour), result.Session.ExpiresAt)
	assert.Equal(t, "a@x.com", result.Account.Email)
	assert.Equal(t, models.RoleUser, result.Account.Role)

	stored, err = env.accounts.GetByID(ctx, account.AccountID)
	require.NoError(t, err)
	assert.True(t, stored.IsVerified)
	assert.Nil(t, stored.Challenge, "verified accounts carry no challenge")
	assert.NotNil(t, stored.LastLoginAt)

	assert.Contains(t, env.events.types(), models.EventRegistered)
	assert.Contains(t, env.events.types(), models.EventOTPFailed)
	assert.Contains(t, env.events.types(), models.EventVerified)
	assert.True(t, env.index.docs[account.AccountID].IsVerified)
}

func TestRegister_Validation(t *testing.T) {
	env := newTestEnv(t)
	cases := map[string]RegisterRequest{
		"bad email":      {Email: "nope", Password: "Passw0rd!", FirstName: "A", LastName: "B"},
		"short password": {Email: "a@x.com", Password: "short", FirstName: "A", LastName: "B"},
		"no first name":  {Email: "a@x.com", Password: "Passw0rd!", FirstName: "  ", LastName: "B"},
		"markup in name": {Email: "a@x.com", Password: "Passw0rd!", FirstName: "<b>A</b>", LastName: "B"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := env.svc.Register(context.Background(), req)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
	assert.Zero(t, env.mailer.count())
}

func TestRegister_AcceptsNamesContainingKeywords(t *testing.T) {
	env := newTestEnv(t)
	a, err := env.svc.Register(context.Background(), RegisterRequest{
		Email: "s@x.com", Password: "Passw0rd!", FirstName: "Scriptorius", LastName: "Onload",
	})
	require.NoError(t, err)
	assert.Equal(t, "Scriptorius", a.FirstName)
}

func TestRegister_NormalizesEmail(t *testing.T) {
	env := newTestEnv(t)
	a := env.register(t, "  Mixed@Example.COM ")
	assert.Equal(t, "mixed@example.com", a.Email)

	_, err := env.svc.Register(context.Background(), RegisterRequest{
		Email: "mixed@example.com", Password: "Passw0rd!", FirstName: "A", LastName: "B",
	})
	var vr *VerificationRequiredError
	require.ErrorAs(t, err, &vr)
	assert.ErrorIs(t, err, ErrUnverifiedExists)
	assert.Equal(t, a.AccountID, vr.AccountID)
}

func TestRegister_VerifiedAccountExists(t *testing.T) {
	env := newTestEnv(t)
	env.verified(t, "a@x.com")

	_, err := env.svc.Register(context.Background(), RegisterRequest{
		Email: "a@x.com", Password: "Passw0rd!", FirstName: "A", LastName: "B",
	})
	assert.ErrorIs(t, err, ErrAccountExists)
}

func TestRegister_MailFailureRollsBack(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.mailer.err = errors.New("smtp down")

	_, err := env.svc.Register(ctx, RegisterRequest{
		Email: "a@x.com", Password: "Passw0rd!", FirstName: "A", LastName: "B",
	})
	require.ErrorIs(t, err, ErrMailDispatch)

	_, err = env.accounts.GetByEmail(ctx, "a@x.com")
	assert.Error(t, err, "account is removed so the email stays free")

	env.mailer.err = nil
	env.register(t, "a@x.com")
}

func TestVerify_ExpiredCodeNeverCountsAsAttempt(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.register(t, "a@x.com")
	code := env.mailer.lastCode(t, "a@x.com")

	for iter := 0; iter < 2; iter++ {
		_, err := env.svc.VerifyEmail(ctx, a.AccountID, wrongCode(code))
		require.ErrorIs(t, err, ErrInvalidOTP)
	}

	env.clock.Advance(10*time.Minute + time.Second)

	_, err := env.svc.VerifyEmail(ctx, a.AccountID, code)
	assert.ErrorIs(t, err, ErrChallengeExpired)
	_, err = env.svc.VerifyEmail(ctx, a.AccountID, wrongCode(code))
	assert.ErrorIs(t, err, ErrChallengeExpired)

	stored, err := env.accounts.GetByID(ctx, a.AccountID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Challenge.Attempts)
}

func TestVerify_LockoutAfterThreeFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.register(t, "a@x.com")
	code := env.mailer.lastCode(t, "a@x.com")

	var otpErr *OTPError
	for i := 1; i <= 3; i++ {
		_, err := env.svc.VerifyEmail(ctx, a.AccountID, wrongCode(code))
		require.ErrorAs(t, err, &otpErr)
		assert.Equal(t, 3-i, otpErr.RemainingAttempts)
		assert.Equal(t, i == 3, otpErr.Blocked)
		env.clock.Advance(time.Second)
	}

	env.clock.Advance(60 * time.Second)
	_, err := env.svc.VerifyEmail(ctx, a.AccountID, code)
	require.ErrorAs(t, err, &otpErr)
	assert.ErrorIs(t, err, ErrTooManyAttempts)
	assert.Equal(t, 15*60-61, otpErr.RemainingTime)
	assert.Contains(t, env.events.types(), models.EventOTPLocked)
}

func TestVerify_LockoutWindowElapses(t *testing.T) {
	policy := DefaultPolicy()
	policy.TTL = time.Hour
	env := newTestEnv(t, policy)
	ctx := context.Background()
	a := env.register(t, "a@x.com")
	code := env.mailer.lastCode(t, "a@x.com")

	for iter := 0; iter < 3; iter++ {
		_, err := env.svc.VerifyEmail(ctx, a.AccountID, wrongCode(code))
		require.ErrorIs(t, err, ErrInvalidOTP)
	}

	env.clock.Advance(15*time.Minute + time.Second)
	result, err := env.svc.VerifyEmail(ctx, a.AccountID, code)
	require.NoError(t, err)
	assert.True(t, result.Account.IsVerified)

	stored, err := env.accounts.GetByID(ctx, a.AccountID)
	require.NoError(t, err)
	assert.Nil(t, stored.Challenge)
}

func TestVerify_CodeExpiresBeforeLockoutLifts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.register(t, "a@x.com")
	code := env.mailer.lastCode(t, "a@x.com")

	for iter := 0; iter < 3; iter++ {
		_, err := env.svc.VerifyEmail(ctx, a.AccountID, wrongCode(code))
		require.ErrorIs(t, err, ErrInvalidOTP)
	}
	env.clock.Advance(15*time.Minute + time.Second)

	_, err := env.svc.VerifyEmail(ctx, a.AccountID, code)
	assert.ErrorIs(t, err, ErrChallengeExpired, "a 10 minute code is gone once the lockout lifts")
}

func TestVerify_CounterRestartsAfterWindow(t *testing.T) {
	policy := DefaultPolicy()
	policy.TTL = time.Hour
	env := newTestEnv(t, policy)
	ctx := context.Background()
	a := env.register(t, "a@x.com")
	code := env.mailer.lastCode(t, "a@x.com")

	for iter := 0; iter < 2; iter++ {
		_, err := env.svc.VerifyEmail(ctx, a.AccountID, wrongCode(code))
		require.ErrorIs(t, err, ErrInvalidOTP)
	}
	env.clock.Advance(15 * time.Minute)

	_, err := env.svc.VerifyEmail(ctx, a.AccountID, wrongCode(code))
	var otpErr *OTPError
	require.ErrorAs(t, err, &otpErr)
	assert.Equal(t, 2, otpErr.RemainingAttempts)
}

func TestVerify_Guards(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.VerifyEmail(ctx, "4c8b5b3e-59f5-4a53-8d7c-1b0f3b0f1f11", "123456")
	assert.ErrorIs(t, err, ErrAccountNotFound)

	id := env.verified(t, "a@x.com")
	_, err = env.svc.VerifyEmail(ctx, id, "123456")
	assert.ErrorIs(t, err, ErrAlreadyVerified)

	b := env.register(t, "b@x.com")
	stored, err := env.accounts.GetByID(ctx, b.AccountID)
	require.NoError(t, err)
	require.NoError(t, env.accounts.SaveChallenge(ctx, stored, nil))
	_, err = env.svc.VerifyEmail(ctx, b.AccountID, "123456")
	assert.ErrorIs(t, err, ErrNoChallenge)
}

func TestVerify_ConcurrentFailuresAreAllCounted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.register(t, "a@x.com")
	code := env.mailer.lastCode(t, "a@x.com")

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.svc.VerifyEmail(ctx, a.AccountID, wrongCode(code))
		}(i)
	}
	wg.Wait()

	blocked := 0
	for _, err := range errs {
		var otpErr *OTPError
		require.ErrorAs(t, err, &otpErr)
		if otpErr.Blocked {
			blocked++
		}
	}
	assert.Equal(t, 1, blocked, "exactly one request observes the third failure")

	stored, err := env.accounts.GetByID(ctx, a.AccountID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.Challenge.Attempts)

	_, err = env.svc.VerifyEmail(ctx, a.AccountID, code)
	assert.ErrorIs(t, err, ErrTooManyAttempts)
}

func TestResend_CooldownCountsDown(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.register(t, "a@x.com")

	var throttle *ThrottleError
	_, err := env.svc.ResendVerification(ctx, a.AccountID)
	require.ErrorAs(t, err, &throttle)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 10, throttle.RemainingTime)

	last := throttle.RemainingTime
	for _, step := range []time.Duration{2500 * time.Millisecond, 3 * time.Second, 4 * time.Second} {
		env.clock.Advance(step)
		_, err = env.svc.ResendVerification(ctx, a.AccountID)
		require.ErrorAs(t, err, &throttle)
		assert.Less(t, throttle.RemainingTime, last)
		last = throttle.RemainingTime
	}
	assert.Equal(t, 1, last)

	env.clock.Advance(500 * time.Millisecond)
	res, err := env.svc.ResendVerification(ctx, a.AccountID)
	require.NoError(t, err)
	assert.Equal(t, a.AccountID, res.AccountID)
	assert.Equal(t, env.clock.Now().Add(10*time.Second), res.CooldownEndsAt)
	assert.Equal(t, 2, env.mailer.count())
}

func TestResend_ResetsAttempts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.register(t, "a@x.com")
	code := env.mailer.lastCode(t, "a@x.com")

	for iter := 0; iter < 3; iter++ {
		_, _ = env.svc.VerifyEmail(ctx, a.AccountID, wrongCode(code))
	}
	env.clock.Advance(11 * time.Second)
	_, err := env.svc.ResendVerification(ctx, a.AccountID)
	require.NoError(t, err)

	stored, err := env.accounts.GetByID(ctx, a.AccountID)
	require.NoError(t, err)
	assert.Zero(t, stored.Challenge.Attempts)

	_, err = env.svc.VerifyEmail(ctx, a.AccountID, env.mailer.lastCode(t, "a@x.com"))
	assert.NoError(t, err)
}

func TestResend_Guards(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id := env.verified(t, "a@x.com")
	_, err := env.svc.ResendVerification(ctx, id)
	assert.ErrorIs(t, err, ErrAlreadyVerified)

	_, err = env.svc.ResendVerification(ctx, "4c8b5b3e-59f5-4a53-8d7c-1b0f3b0f1f11")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestResend_MailFailureKeepsChallenge(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.register(t, "a@x.com")
	before, err := env.accounts.GetByID(ctx, a.AccountID)
	require.NoError(t, err)

	env.clock.Advance(time.Minute)
	env.mailer.err = errors.New("smtp down")
	_, err = env.svc.ResendVerification(ctx, a.AccountID)
	require.ErrorIs(t, err, ErrMailDispatch)

	after, err := env.accounts.GetByID(ctx, a.AccountID)
	require.NoError(t, err)
	require.NotNil(t, after.Challenge)
	assert.NotEqual(t, before.Challenge.CodeHash, after.Challenge.CodeHash)
	assert.Equal(t, env.clock.Now(), after.Challenge.LastSentAt)
}

func TestLogin_UnverifiedReissuesCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.register(t, "a@x.com")
	code := env.mailer.lastCode(t, "a@x.com")
	_, _ = env.svc.VerifyEmail(ctx, a.AccountID, wrongCode(code))

	env.clock.Advance(2 * time.Second)
	_, err := env.svc.Login(ctx, "a@x.com", "whatever-password")
	var vr *VerificationRequiredError
	require.ErrorAs(t, err, &vr)
	assert.ErrorIs(t, err, ErrVerificationRequired)
	assert.Equal(t, a.AccountID, vr.AccountID)
	assert.Equal(t, 2, env.mailer.count(), "a fresh code is mailed")

	stored, err := env.accounts.GetByID(ctx, a.AccountID)
	require.NoError(t, err)
	assert.Equal(t, env.clock.Now(), stored.Challenge.LastSentAt)
	assert.Zero(t, stored.Challenge.Attempts)
}

func TestLogin_Verified(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.verified(t, "a@x.com")

	_, err := env.svc.Login(ctx, "a@x.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = env.svc.Login(ctx, "nobody@x.com", "Passw0rd!")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	env.clock.Advance(time.Hour)
	result, err := env.svc.Login(ctx, " A@X.com", "Passw0rd!")
	require.NoError(t, err)
	assert.Equal(t, id, result.Account.AccountID)
	require.NotNil(t, result.Account.LastLoginAt)
	assert.Equal(t, env.clock.Now(), *result.Account.LastLoginAt)

	claims, err := env.svc.Authenticate(ctx, result.Session.Token)
	require.NoError(t, err)
	assert.Equal(t, id, claims.UserID)
	assert.Equal(t, models.RoleUser, claims.Role)
	assert.Contains(t, env.events.types(), models.EventLoginFailed)
	assert.Contains(t, env.events.types(), models.EventLoginSucceeded)
}

func TestForgotPassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.ForgotPassword(ctx, "nobody@x.com")
	assert.ErrorIs(t, err, ErrAccountNotFound)

	u := env.register(t, "u@x.com")
	_, err = env.svc.ForgotPassword(ctx, "u@x.com")
	var vr *VerificationRequiredError
	require.ErrorAs(t, err, &vr)
	assert.Equal(t, u.AccountID, vr.AccountID)

	id := env.verified(t, "a@x.com")
	res, err := env.svc.ForgotPassword(ctx, "A@x.com")
	require.NoError(t, err)
	assert.Equal(t, id, res.AccountID)

	stored, err := env.accounts.GetByID(ctx, id)
	require.NoError(t, err)
	assert.True(t, stored.HasChallenge(models.PurposePasswordReset))
	assert.True(t, stored.IsVerified)

	_, err = env.svc.ForgotPassword(ctx, "a@x.com")
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestResetPassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.verified(t, "a@x.com")

	before, err := env.svc.Login(ctx, "a@x.com", "Passw0rd!")
	require.NoError(t, err)

	_, err = env.svc.ForgotPassword(ctx, "a@x.com")
	require.NoError(t, err)
	code := env.mailer.lastCode(t, "a@x.com")

	assert.ErrorIs(t, env.svc.ResetPassword(ctx, id, code, "short"), ErrInvalidInput)

	env.clock.Advance(2 * time.Second)
	require.NoError(t, env.svc.ResetPassword(ctx, id, code, "N3w-Passw0rd"))

	_, err = env.svc.Login(ctx, "a@x.com", "Passw0rd!")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = env.svc.Login(ctx, "a@x.com", "N3w-Passw0rd")
	assert.NoError(t, err)

	_, err = env.svc.Authenticate(ctx, before.Session.Token)
	assert.ErrorIs(t, err, ErrInvalidToken, "sessions from before the reset are revoked")

	assert.ErrorIs(t, env.svc.ResetPassword(ctx, id, code, "An0ther-pass"), ErrNoChallenge)
}

func TestResetPassword_LockoutEvenWithCorrectCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.verified(t, "a@x.com")
	_, err := env.svc.ForgotPassword(ctx, "a@x.com")
	require.NoError(t, err)
	code := env.mailer.lastCode(t, "a@x.com")

	for iter := 0; iter < 3; iter++ {
		err := env.svc.ResetPassword(ctx, id, wrongCode(code), "N3w-Passw0rd")
		require.ErrorIs(t, err, ErrInvalidOTP)
	}

	err = env.svc.ResetPassword(ctx, id, code, "N3w-Passw0rd")
	var otpErr *OTPError
	require.ErrorAs(t, err, &otpErr)
	assert.ErrorIs(t, err, ErrTooManyAttempts)
	assert.True(t, otpErr.Blocked)
}

func TestResetCodeCannotVerifyEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.register(t, "a@x.com")
	stored, err := env.accounts.GetByID(ctx, a.AccountID)
	require.NoError(t, err)

	code, challenge, err := env.svc.newChallenge(models.PurposePasswordReset, env.clock.Now())
	require.NoError(t, err)
	challenge.Purpose = models.PurposeVerifyEmail
	require.NoError(t, env.accounts.SaveChallenge(ctx, stored, challenge))

	_, err = env.svc.VerifyEmail(ctx, a.AccountID, code)
	assert.ErrorIs(t, err, ErrInvalidOTP)
}

func TestLogoutRevokesToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.verified(t, "a@x.com")

	result, err := env.svc.Login(ctx, "a@x.com", "Passw0rd!")
	require.NoError(t, err)
	claims, err := env.svc.Authenticate(ctx, result.Session.Token)
	require.NoError(t, err)

	require.NoError(t, env.svc.Logout(ctx, claims))
	_, err = env.svc.Authenticate(ctx, result.Session.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestDeleteAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.verified(t, "a@x.com")

	_, err := env.memorial.Create(ctx, &Actor{AccountID: id, Role: models.RoleUser}, MemorialInput{FullName: "Jane Doe", IsPublic: true})
	require.NoError(t, err)

	require.NoError(t, env.svc.DeleteAccount(ctx, id, id))

	_, err = env.svc.Me(ctx, id)
	assert.ErrorIs(t, err, ErrAccountNotFound)
	owned, err := env.memorials.ListByOwner(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, owned)
	assert.NotContains(t, env.index.docs, id)
	assert.Contains(t, env.events.types(), models.EventAccountDeleted)

	env.register(t, "a@x.com")
}

func TestEventsCarryClientInfo(t *testing.T) {
	env := newTestEnv(t)
	ctx := WithClientInfo(context.Background(), ClientInfo{IP: "203.0.113.9", UserAgent: "test-agent"})

	_, err := env.svc.Register(ctx, RegisterRequest{Email: "a@x.com", Password: "Passw0rd!", FirstName: "A", LastName: "B"})
	require.NoError(t, err)

	require.NotEmpty(t, env.events.events)
	for _, e := range env.events.events {
		assert.Equal(t, "203.0.113.9", e.IPAddress)
		assert.Equal(t, "test-agent", e.UserAgent)
		assert.NotEmpty(t, e.EventID)
	}
}
