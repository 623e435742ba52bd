package service

import (
	"errors"
	"fmt"
)

var (
	ErrAccountNotFound      = errors.New("account not found")
	ErrAccountExists        = errors.New("account already exists")
	ErrUnverifiedExists     = errors.New("an unverified account already exists for this email")
	ErrAlreadyVerified      = errors.New("account already verified")
	ErrVerificationRequired = errors.New("email verification required")
	ErrInvalidCredentials   = errors.New("invalid email or password")
	ErrInvalidOTP           = errors.New("invalid verification code")
	ErrChallengeExpired     = errors.New("verification code has expired")
	ErrNoChallenge          = errors.New("no outstanding verification code, request a new one")
	ErrTooManyAttempts      = errors.New("too many failed attempts")
	ErrRateLimited          = errors.New("please wait before requesting another code")
	ErrMailDispatch         = errors.New("failed to send email")
	ErrInvalidInput         = errors.New("invalid input")
	ErrInvalidToken         = errors.New("invalid or expired token")
	ErrPermissionDenied     = errors.New("permission denied")
	ErrConcurrentUpdate     = errors.New("account was modified concurrently, retry")
	ErrMemorialNotFound     = errors.New("memorial not found")
)

// OTPError carries attempt bookkeeping for a rejected code. Err is
// ErrInvalidOTP or ErrTooManyAttempts.
type OTPError struct {
	Err               error
	RemainingAttempts int
	Blocked           bool
	// RemainingTime is the lockout left in seconds.
	RemainingTime int
}

func (e *OTPError) Error() string {
	if errors.Is(e.Err, ErrTooManyAttempts) {
		return fmt.Sprintf("%s, try again in %d seconds", e.Err, e.RemainingTime)
	}
	return fmt.Sprintf("%s, %d attempts remaining", e.Err, e.RemainingAttempts)
}

func (e *OTPError) Unwrap() error { return e.Err }

// ThrottleError rejects a re-issue inside the resend cooldown.
type ThrottleError struct {
	RemainingTime int
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("%s (%d seconds)", ErrRateLimited, e.RemainingTime)
}

func (e *ThrottleError) Unwrap() error { return ErrRateLimited }

// VerificationRequiredError points the client at the account that still
// needs its email verified. Err is ErrVerificationRequired or
// ErrUnverifiedExists.
type VerificationRequiredError struct {
	AccountID string
	Err       error
}

func (e *VerificationRequiredError) Error() string { return e.Err.Error() }

func (e *VerificationRequiredError) Unwrap() error { return e.Err }

func invalidInput(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, msg)
}
