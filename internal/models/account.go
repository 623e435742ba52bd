package models

import "time"

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// Account is the credential and verification record behind a WebGrave login.
type Account struct {
	AccountBucket int        `db:"account_bucket"`
	AccountID     string     `db:"account_id"`
	Email         string     `db:"email"`
	PasswordHash  string     `db:"password_hash"`
	FirstName     string     `db:"first_name"`
	LastName      string     `db:"last_name"`
	IsVerified    bool       `db:"is_verified"`
	Role          Role       `db:"role"`
	Challenge     *Challenge `db:"-"`
	CreatedAt     time.Time  `db:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"`
	LastLoginAt   *time.Time `db:"last_login_at"`
}

// HasChallenge reports whether an outstanding challenge exists for purpose.
func (a *Account) HasChallenge(purpose ChallengePurpose) bool {
	return a.Challenge != nil && a.Challenge.Purpose == purpose
}

// PublicAccount is the subset of Account returned to clients.
type PublicAccount struct {
	ID         string     `json:"id"`
	Email      string     `json:"email"`
	FirstName  string     `json:"firstName"`
	LastName   string     `json:"lastName"`
	Role       Role       `json:"role"`
	IsVerified bool       `json:"isVerified"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastLogin  *time.Time `json:"lastLoginAt,omitempty"`
}

func (a *Account) Public() PublicAccount {
	return PublicAccount{
		ID:         a.AccountID,
		Email:      a.Email,
		FirstName:  a.FirstName,
		LastName:   a.LastName,
		Role:       a.Role,
		IsVerified: a.IsVerified,
		CreatedAt:  a.CreatedAt,
		LastLogin:  a.LastLoginAt,
	}
}

// AccountStats backs the admin dashboard counters.
type AccountStats struct {
	Total    int64 `json:"total"`
	Verified int64 `json:"verified"`
	Admins   int64 `json:"admins"`
}
