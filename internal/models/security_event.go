package models

import "time"

type SecurityEventType string

const (
	EventRegistered             SecurityEventType = "registered"
	EventOTPSent                SecurityEventType = "otp_sent"
	EventOTPFailed              SecurityEventType = "otp_failed"
	EventOTPLocked              SecurityEventType = "otp_locked"
	EventVerified               SecurityEventType = "verified"
	EventLoginSucceeded         SecurityEventType = "login_succeeded"
	EventLoginFailed            SecurityEventType = "login_failed"
	EventPasswordResetRequested SecurityEventType = "password_reset_requested"
	EventPasswordReset          SecurityEventType = "password_reset"
	EventLogout                 SecurityEventType = "logout"
	EventAccountDeleted         SecurityEventType = "account_deleted"
	EventRoleChanged            SecurityEventType = "role_changed"
)

type SecurityEvent struct {
	EventID     string            `json:"eventId" ch:"event_id"`
	EventBucket int               `json:"eventBucket" ch:"event_bucket"`
	EventType   SecurityEventType `json:"eventType" ch:"event_type"`
	AccountID   string            `json:"accountId" ch:"account_id"`
	Email       string            `json:"email,omitempty" ch:"email"`
	IPAddress   string            `json:"ip,omitempty" ch:"ip_address"`
	UserAgent   string            `json:"userAgent,omitempty" ch:"user_agent"`
	Details     map[string]string `json:"details,omitempty" ch:"details"`
	OccurredAt  time.Time         `json:"occurredAt" ch:"occurred_at"`
}
