package service

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"webgrave/internal/config"
	"webgrave/internal/models"
)

// ChallengePolicy holds the timing rules shared by every challenge purpose.
type ChallengePolicy struct {
	TTL            time.Duration
	MaxAttempts    int
	LockoutWindow  time.Duration
	ResendCooldown time.Duration
}

func PolicyFromConfig(cfg *config.Config) ChallengePolicy {
	return ChallengePolicy{
		TTL:            cfg.OTP.TTL,
		MaxAttempts:    cfg.OTP.MaxAttempts,
		LockoutWindow:  cfg.OTP.LockoutWindow,
		ResendCooldown: cfg.OTP.ResendCooldown,
	}
}

func DefaultPolicy() ChallengePolicy {
	return ChallengePolicy{
		TTL:            10 * time.Minute,
		MaxAttempts:    3,
		LockoutWindow:  15 * time.Minute,
		ResendCooldown: 10 * time.Second,
	}
}

// EffectiveAttempts is the failure count that still counts at now. A counter
// whose last failure is older than the lockout window starts over.
func (p ChallengePolicy) EffectiveAttempts(c *models.Challenge, now time.Time) int {
	if c == nil || c.LastAttemptAt == nil {
		return 0
	}
	if now.Sub(*c.LastAttemptAt) >= p.LockoutWindow {
		return 0
	}
	return c.Attempts
}

// Lockout reports whether the challenge is locked and for how much longer.
func (p ChallengePolicy) Lockout(c *models.Challenge, now time.Time) (time.Duration, bool) {
	if p.EffectiveAttempts(c, now) < p.MaxAttempts {
		return 0, false
	}
	return p.LockoutWindow - now.Sub(*c.LastAttemptAt), true
}

// Cooldown reports the wait left before another code may be sent.
func (p ChallengePolicy) Cooldown(c *models.Challenge, now time.Time) (time.Duration, bool) {
	if c == nil || c.LastSentAt.IsZero() {
		return 0, false
	}
	elapsed := now.Sub(c.LastSentAt)
	if elapsed >= p.ResendCooldown {
		return 0, false
	}
	return p.ResendCooldown - elapsed, true
}

// ceilSeconds rounds a positive duration up to whole seconds.
func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

var codeRange = big.NewInt(900000)

// generateCode draws a code uniformly from 100000..999999.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeRange)
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}
