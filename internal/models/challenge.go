package models

import "time"

type ChallengePurpose string

const (
	PurposeVerifyEmail   ChallengePurpose = "verify_email"
	PurposePasswordReset ChallengePurpose = "password_reset"
)

// Challenge is an outstanding one-time code bound to an account.
// CodeHash is an encoded argon2id hash; the code itself is never persisted.
type Challenge struct {
	Purpose       ChallengePurpose `db:"challenge_purpose"`
	CodeHash      string           `db:"otp_hash"`
	ExpiresAt     time.Time        `db:"otp_expires"`
	Attempts      int              `db:"otp_attempts"`
	LastAttemptAt *time.Time       `db:"last_otp_attempt"`
	LastSentAt    time.Time        `db:"last_otp_sent"`
}

func (c *Challenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
