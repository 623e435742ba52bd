package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"webgrave/internal/hashing"
	"webgrave/internal/metrics"
	"webgrave/internal/models"
	"webgrave/internal/repository/scylla"
	"webgrave/internal/util"
)

// maxCASRetries bounds the reload-and-retry loop around conditional writes.
const maxCASRetries = 5

// AuthService runs registration, login and the one-time-code challenges
// for email verification and password reset.
type AuthService struct {
	accounts  scylla.AccountRepository
	memorials scylla.MemorialRepository
	hasher    *hashing.Hasher
	tokens    *TokenManager
	mailer    Mailer
	events    EventPublisher
	index     AccountIndex
	sessions  SessionRevoker
	policy    ChallengePolicy
	now       func() time.Time
}

// Dependencies wires an AuthService. Events, Index, Sessions and Memorials
// are optional.
type Dependencies struct {
	Accounts  scylla.AccountRepository
	Memorials scylla.MemorialRepository
	Hasher    *hashing.Hasher
	Tokens    *TokenManager
	Mailer    Mailer
	Events    EventPublisher
	Index     AccountIndex
	Sessions  SessionRevoker
	Policy    ChallengePolicy
}

func NewAuthService(deps Dependencies) *AuthService {
	return &AuthService{
		accounts:  deps.Accounts,
		memorials: deps.Memorials,
		hasher:    deps.Hasher,
		tokens:    deps.Tokens,
		mailer:    deps.Mailer,
		events:    deps.Events,
		index:     deps.Index,
		sessions:  deps.Sessions,
		policy:    deps.Policy,
		now:       time.Now,
	}
}

type RegisterRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// AuthResult is returned by every flow that ends in a session.
type AuthResult struct {
	Session *Session
	Account *models.Account
}

// IssueResult describes a code that was just sent.
type IssueResult struct {
	AccountID      string
	CooldownEndsAt time.Time
}

// Register creates an unverified account and emails its verification code.
// If the email cannot be sent the account is removed again so the address
// stays free for another attempt.
func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (*models.Account, error) {
	email := util.NormalizeEmail(req.Email)
	firstName, lastName, err := s.validateRegistration(email, req)
	if err != nil {
		metrics.RecordRegistration("invalid")
		return nil, err
	}

	existing, err := s.accounts.GetByEmail(ctx, email)
	switch {
	case err == nil:
		metrics.RecordRegistration("exists")
		if !existing.IsVerified {
			return nil, &VerificationRequiredError{AccountID: existing.AccountID, Err: ErrUnverifiedExists}
		}
		return nil, ErrAccountExists
	case !errors.Is(err, scylla.ErrNotFound):
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}

	passwordHash, err := s.hasher.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now().UTC()
	code, challenge, err := s.newChallenge(models.PurposeVerifyEmail, now)
	if err != nil {
		return nil, err
	}

	account := &models.Account{
		Email:        email,
		PasswordHash: passwordHash,
		FirstName:    firstName,
		LastName:     lastName,
		Role:         models.RoleUser,
		Challenge:    challenge,
		CreatedAt:    now,
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, scylla.ErrEmailTaken) {
			metrics.RecordRegistration("exists")
			return nil, ErrAccountExists
		}
		return nil, err
	}

	if err := s.dispatch(ctx, account, code, models.PurposeVerifyEmail); err != nil {
		if delErr := s.accounts.Delete(ctx, account); delErr != nil {
			util.Error("Failed to roll back account after mail failure",
				util.AccountID(account.AccountID), util.ErrorField(delErr))
		}
		metrics.RecordRegistration("mail_failed")
		return nil, err
	}

	s.emit(ctx, models.EventRegistered, account.AccountID, account.Email, nil)
	s.reindex(ctx, account)
	metrics.RecordRegistration("success")

	util.Info("Account registered", util.AccountID(account.AccountID))
	return account, nil
}

func (s *AuthService) validateRegistration(email string, req RegisterRequest) (string, string, error) {
	if err := validateEmail(email); err != nil {
		return "", "", err
	}
	if err := validatePassword(req.Password); err != nil {
		return "", "", err
	}
	firstName, err := cleanName("firstName", req.FirstName)
	if err != nil {
		return "", "", err
	}
	lastName, err := cleanName("lastName", req.LastName)
	if err != nil {
		return "", "", err
	}
	return firstName, lastName, nil
}

// Login checks credentials for verified accounts. Unverified accounts are
// sent a fresh verification code instead and no password comparison happens.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = util.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, invalidInput("email and password are required")
	}

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, scylla.ErrNotFound) {
			metrics.RecordLogin("unknown_email")
			s.emit(ctx, models.EventLoginFailed, "", email, map[string]string{"reason": "unknown_email"})
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}

	if !account.IsVerified {
		metrics.RecordLogin("unverified")
		if _, err := s.issue(ctx, account, models.PurposeVerifyEmail); err != nil {
			return nil, err
		}
		return nil, &VerificationRequiredError{AccountID: account.AccountID, Err: ErrVerificationRequired}
	}

	ok, err := s.hasher.VerifyPassword(password, account.PasswordHash)
	if err != nil {
		util.Error("Stored password hash is unreadable", util.AccountID(account.AccountID), util.ErrorField(err))
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !ok {
		metrics.RecordLogin("bad_password")
		s.emit(ctx, models.EventLoginFailed, account.AccountID, account.Email, map[string]string{"reason": "bad_password"})
		return nil, ErrInvalidCredentials
	}

	session, err := s.startSession(ctx, account, "login")
	if err != nil {
		return nil, err
	}
	metrics.RecordLogin("success")
	s.emit(ctx, models.EventLoginSucceeded, account.AccountID, account.Email, nil)
	return &AuthResult{Session: session, Account: account}, nil
}

// VerifyEmail consumes the verification code and logs the account in.
func (s *AuthService) VerifyEmail(ctx context.Context, accountID, code string) (*AuthResult, error) {
	account, err := s.consumeChallenge(ctx, accountID, code, models.PurposeVerifyEmail,
		func(a *models.Account, now time.Time) error {
			if err := s.accounts.MarkVerified(ctx, a, now); err != nil {
				if errors.Is(err, scylla.ErrAlreadyVerified) {
					return ErrAlreadyVerified
				}
				return err
			}
			a.IsVerified = true
			a.Challenge = nil
			a.UpdatedAt = now
			return nil
		})
	if err != nil {
		return nil, err
	}

	session, err := s.startSession(ctx, account, "verify_email")
	if err != nil {
		return nil, err
	}
	s.emit(ctx, models.EventVerified, account.AccountID, account.Email, nil)
	s.reindex(ctx, account)
	return &AuthResult{Session: session, Account: account}, nil
}

// ResendVerification re-issues the verification code, subject to the
// resend cooldown.
func (s *AuthService) ResendVerification(ctx context.Context, accountID string) (*IssueResult, error) {
	account, err := s.getAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.IsVerified {
		return nil, ErrAlreadyVerified
	}
	return s.throttledIssue(ctx, account, models.PurposeVerifyEmail)
}

// ForgotPassword sends a reset code to a verified account.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) (*IssueResult, error) {
	email = util.NormalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, scylla.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}
	if !account.IsVerified {
		return nil, &VerificationRequiredError{AccountID: account.AccountID, Err: ErrVerificationRequired}
	}

	result, err := s.throttledIssue(ctx, account, models.PurposePasswordReset)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, models.EventPasswordResetRequested, account.AccountID, account.Email, nil)
	return result, nil
}

// ResetPassword consumes the reset code and replaces the password. Every
// session issued before the reset is revoked.
func (s *AuthService) ResetPassword(ctx context.Context, accountID, code, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	passwordHash, err := s.hasher.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	account, err := s.consumeChallenge(ctx, accountID, code, models.PurposePasswordReset,
		func(a *models.Account, now time.Time) error {
			if err := s.accounts.ResetPassword(ctx, a, passwordHash, now); err != nil {
				return err
			}
			a.PasswordHash = passwordHash
			a.Challenge = nil
			a.UpdatedAt = now
			return nil
		})
	if err != nil {
		return err
	}

	s.revokeAll(ctx, account.AccountID)
	s.emit(ctx, models.EventPasswordReset, account.AccountID, account.Email, nil)
	util.Info("Password reset", util.AccountID(account.AccountID))
	return nil
}

// Authenticate validates a bearer token and checks it has not been revoked.
// A revocation lookup failure is logged and the token accepted.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*Claims, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, err
	}
	if s.sessions != nil {
		revoked, err := s.sessions.IsRevoked(ctx, claims.ID, claims.UserID, claims.IssuedAt.Time)
		if err != nil {
			util.Warn("Token revocation check failed", util.AccountID(claims.UserID), util.ErrorField(err))
		} else if revoked {
			return nil, fmt.Errorf("%w: token revoked", ErrInvalidToken)
		}
	}
	return claims, nil
}

func (s *AuthService) Me(ctx context.Context, accountID string) (*models.Account, error) {
	return s.getAccount(ctx, accountID)
}

func (s *AuthService) Logout(ctx context.Context, claims *Claims) error {
	if s.sessions != nil {
		if err := s.sessions.RevokeToken(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
			return err
		}
	}
	s.emit(ctx, models.EventLogout, claims.UserID, "", nil)
	return nil
}

// DeleteAccount removes the account, its email reservation and its
// memorials. actorID is recorded on the event.
func (s *AuthService) DeleteAccount(ctx context.Context, accountID, actorID string) error {
	account, err := s.getAccount(ctx, accountID)
	if err != nil {
		return err
	}

	if s.memorials != nil {
		owned, err := s.memorials.ListByOwner(ctx, account.AccountID)
		if err != nil {
			return fmt.Errorf("failed to list memorials: %w", err)
		}
		for _, m := range owned {
			if err := s.memorials.Delete(ctx, m); err != nil {
				return fmt.Errorf("failed to delete memorial %s: %w", m.MemorialID, err)
			}
		}
	}

	if err := s.accounts.Delete(ctx, account); err != nil {
		return err
	}

	s.revokeAll(ctx, account.AccountID)
	if s.index != nil {
		if err := s.index.RemoveAccount(ctx, account.AccountID); err != nil {
			util.Warn("Failed to remove account from index", util.AccountID(account.AccountID), util.ErrorField(err))
		}
	}
	s.emit(ctx, models.EventAccountDeleted, account.AccountID, account.Email, map[string]string{"actor": actorID})
	return nil
}

func (s *AuthService) getAccount(ctx context.Context, accountID string) (*models.Account, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, scylla.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	return account, nil
}

// consumeChallenge checks code against the account's challenge for purpose
// and runs finalize on a match. Failed attempts are recorded with a
// conditional write; a lost race reloads the account and starts over, as
// does a finalize that reports scylla.ErrConflict.
func (s *AuthService) consumeChallenge(
	ctx context.Context,
	accountID, code string,
	purpose models.ChallengePurpose,
	finalize func(*models.Account, time.Time) error,
) (*models.Account, error) {
	for iter := 0; iter < maxCASRetries; iter++ {
		account, err := s.getAccount(ctx, accountID)
		if err != nil {
			return nil, err
		}
		now := s.now().UTC()

		if purpose == models.PurposeVerifyEmail && account.IsVerified {
			return nil, ErrAlreadyVerified
		}
		if !account.HasChallenge(purpose) {
			return nil, ErrNoChallenge
		}
		challenge := account.Challenge

		if challenge.Expired(now) {
			metrics.RecordOTPVerification(string(purpose), "expired")
			return nil, ErrChallengeExpired
		}
		if remaining, locked := s.policy.Lockout(challenge, now); locked {
			metrics.RecordOTPVerification(string(purpose), "locked")
			return nil, &OTPError{Err: ErrTooManyAttempts, Blocked: true, RemainingTime: ceilSeconds(remaining)}
		}

		ok, err := s.hasher.VerifyOTP(code, string(purpose), challenge.CodeHash)
		if err != nil {
			return nil, fmt.Errorf("failed to check code: %w", err)
		}

		if !ok {
			attempts := s.policy.EffectiveAttempts(challenge, now) + 1
			if err := s.accounts.RecordFailedAttempt(ctx, account, attempts, now); err != nil {
				if errors.Is(err, scylla.ErrConflict) {
					continue
				}
				return nil, err
			}
			return nil, s.rejectCode(ctx, account, purpose, attempts)
		}

		if err := finalize(account, now); err != nil {
			if errors.Is(err, scylla.ErrConflict) {
				continue
			}
			return nil, err
		}
		metrics.RecordOTPVerification(string(purpose), "success")
		return account, nil
	}
	return nil, ErrConcurrentUpdate
}

func (s *AuthService) rejectCode(ctx context.Context, account *models.Account, purpose models.ChallengePurpose, attempts int) error {
	remaining := max(s.policy.MaxAttempts-attempts, 0)
	details := map[string]string{"purpose": string(purpose), "attempts": fmt.Sprint(attempts)}

	metrics.RecordOTPVerification(string(purpose), "invalid")
	s.emit(ctx, models.EventOTPFailed, account.AccountID, account.Email, details)

	otpErr := &OTPError{Err: ErrInvalidOTP, RemainingAttempts: remaining, Blocked: remaining <= 0}
	if otpErr.Blocked {
		otpErr.RemainingTime = ceilSeconds(s.policy.LockoutWindow)
		s.emit(ctx, models.EventOTPLocked, account.AccountID, account.Email, details)
		util.Warn("Challenge locked after repeated failures",
			util.AccountID(account.AccountID), util.String("purpose", string(purpose)))
	}
	return otpErr
}

// newChallenge draws a code and builds the challenge that stores its hash.
func (s *AuthService) newChallenge(purpose models.ChallengePurpose, now time.Time) (string, *models.Challenge, error) {
	code, err := generateCode()
	if err != nil {
		return "", nil, err
	}
	codeHash, err := s.hasher.HashOTP(code, string(purpose))
	if err != nil {
		return "", nil, fmt.Errorf("failed to hash code: %w", err)
	}
	return code, &models.Challenge{
		Purpose:    purpose,
		CodeHash:   codeHash,
		ExpiresAt:  now.Add(s.policy.TTL),
		Attempts:   0,
		LastSentAt: now,
	}, nil
}

// issue replaces the account's challenge with a new one and mails the code.
// The new challenge stays persisted when mailing fails.
func (s *AuthService) issue(ctx context.Context, account *models.Account, purpose models.ChallengePurpose) (*models.Challenge, error) {
	code, challenge, err := s.newChallenge(purpose, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if err := s.accounts.SaveChallenge(ctx, account, challenge); err != nil {
		return nil, err
	}
	account.Challenge = challenge

	if err := s.dispatch(ctx, account, code, purpose); err != nil {
		return nil, err
	}
	return challenge, nil
}

func (s *AuthService) throttledIssue(ctx context.Context, account *models.Account, purpose models.ChallengePurpose) (*IssueResult, error) {
	if wait, limited := s.policy.Cooldown(account.Challenge, s.now()); limited {
		metrics.RecordOTPIssued(string(purpose), "throttled")
		return nil, &ThrottleError{RemainingTime: ceilSeconds(wait)}
	}
	challenge, err := s.issue(ctx, account, purpose)
	if err != nil {
		return nil, err
	}
	return &IssueResult{
		AccountID:      account.AccountID,
		CooldownEndsAt: challenge.LastSentAt.Add(s.policy.ResendCooldown),
	}, nil
}

func (s *AuthService) dispatch(ctx context.Context, account *models.Account, code string, purpose models.ChallengePurpose) error {
	if err := s.mailer.SendOTP(ctx, account.Email, account.FirstName, code, purpose, s.policy.TTL); err != nil {
		metrics.RecordOTPIssued(string(purpose), "mail_failed")
		util.Error("Failed to send verification code",
			util.AccountID(account.AccountID),
			util.String("purpose", string(purpose)),
			util.ErrorField(err))
		return fmt.Errorf("%w: %v", ErrMailDispatch, err)
	}
	metrics.RecordOTPIssued(string(purpose), "sent")
	s.emit(ctx, models.EventOTPSent, account.AccountID, account.Email, map[string]string{"purpose": string(purpose)})
	return nil
}

func (s *AuthService) startSession(ctx context.Context, account *models.Account, flow string) (*Session, error) {
	session, err := s.tokens.Issue(account)
	if err != nil {
		return nil, err
	}
	metrics.RecordTokenIssued(flow)

	now := s.now().UTC()
	if err := s.accounts.UpdateLastLogin(ctx, account, now); err != nil {
		util.Warn("Failed to record last login", util.AccountID(account.AccountID), util.ErrorField(err))
	} else {
		account.LastLoginAt = &now
	}
	return session, nil
}

func (s *AuthService) revokeAll(ctx context.Context, accountID string) {
	if s.sessions == nil {
		return
	}
	if err := s.sessions.RevokeAllForAccount(ctx, accountID, s.now()); err != nil {
		util.Warn("Failed to revoke sessions", util.AccountID(accountID), util.ErrorField(err))
	}
}

func (s *AuthService) reindex(ctx context.Context, account *models.Account) {
	if s.index == nil {
		return
	}
	if err := s.index.IndexAccount(ctx, account); err != nil {
		util.Warn("Failed to index account", util.AccountID(account.AccountID), util.ErrorField(err))
	}
}

func (s *AuthService) emit(ctx context.Context, eventType models.SecurityEventType, accountID, email string, details map[string]string) {
	if s.events == nil {
		return
	}
	info := clientInfo(ctx)
	event := &models.SecurityEvent{
		EventID:    uuid.NewString(),
		EventType:  eventType,
		AccountID:  accountID,
		Email:      email,
		IPAddress:  info.IP,
		UserAgent:  info.UserAgent,
		Details:    details,
		OccurredAt: s.now().UTC(),
	}
	if err := s.events.Publish(ctx, event); err != nil {
		util.Warn("Failed to publish security event",
			util.String("event_type", string(eventType)),
			util.ErrorField(err))
	}
}
