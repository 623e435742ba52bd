package scylla

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		account_bucket int,
		account_id uuid,
		email text,
		password_hash text,
		first_name text,
		last_name text,
		is_verified boolean,
		role text,
		challenge_purpose text,
		otp_hash text,
		otp_expires timestamp,
		otp_attempts int,
		last_otp_attempt timestamp,
		last_otp_sent timestamp,
		created_at timestamp,
		updated_at timestamp,
		last_login_at timestamp,
		PRIMARY KEY ((account_bucket), account_id)
	)`,
	`CREATE TABLE IF NOT EXISTS accounts_by_email (
		email text PRIMARY KEY,
		account_bucket int,
		account_id uuid,
		created_at timestamp
	)`,
	`CREATE TABLE IF NOT EXISTS memorials (
		memorial_id uuid PRIMARY KEY,
		owner_id uuid,
		slug text,
		full_name text,
		birth_date timestamp,
		death_date timestamp,
		biography text,
		epitaph text,
		is_public boolean,
		created_at timestamp,
		updated_at timestamp
	)`,
	`CREATE TABLE IF NOT EXISTS memorials_by_owner (
		owner_id uuid,
		created_at timestamp,
		memorial_id uuid,
		PRIMARY KEY ((owner_id), created_at, memorial_id)
	) WITH CLUSTERING ORDER BY (created_at DESC, memorial_id ASC)`,
	`CREATE TABLE IF NOT EXISTS memorials_by_slug (
		slug text PRIMARY KEY,
		memorial_id uuid
	)`,
}

// EnsureSchema creates the tables in the session keyspace. Production
// clusters are migrated out of band.
func (s *ScyllaClient) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if err := s.Session.Query(stmt).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}
