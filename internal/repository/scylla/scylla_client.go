package scylla

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"

	"webgrave/internal/config"
	"webgrave/internal/util"
)

// Statements holds the CQL used by the repositories. gocql prepares and
// caches each statement on first execution.
type Statements struct {
	InsertAccount      string
	ReserveEmail       string
	ReleaseEmail       string
	GetEmailOwner      string
	GetAccount         string
	DeleteAccount      string
	SaveChallenge      string
	RecordAttempt      string
	MarkVerified       string
	UpdatePasswordCAS  string
	UpdateRole         string
	UpdateLastLogin    string
	ListAccounts       string
	CountAccounts      string
	InsertMemorial     string
	ReserveSlug        string
	ReleaseSlug        string
	GetSlugOwner       string
	GetMemorial        string
	UpdateMemorial     string
	DeleteMemorial     string
	InsertOwnerIndex   string
	DeleteOwnerIndex   string
	ListOwnerMemorials string
}

const accountColumns = `account_bucket, account_id, email, password_hash, first_name, last_name,
	is_verified, role, challenge_purpose, otp_hash, otp_expires, otp_attempts,
	last_otp_attempt, last_otp_sent, created_at, updated_at, last_login_at`

const memorialColumns = `memorial_id, owner_id, slug, full_name, birth_date, death_date,
	biography, epitaph, is_public, created_at, updated_at`

type ScyllaClient struct {
	Session      *gocql.Session
	config       *config.ScyllaConfig
	Stmts        *Statements
	prepareMutex sync.RWMutex
}

func NewScyllaClient(cfg *config.Config) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.SerialConsistency = gocql.LocalSerial
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.MaxPreparedStmts = 1000
	cluster.PageSize = 500
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        100 * time.Millisecond,
		Max:        2 * time.Second,
		NumRetries: 3,
	}

	if scyllaConfig.CAPath != "" {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 scyllaConfig.CAPath,
			CertPath:               scyllaConfig.CertPath,
			KeyPath:                scyllaConfig.KeyPath,
			EnableHostVerification: cfg.IsProduction(),
		}
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{Session: session, config: &scyllaConfig}

	if !cfg.IsProduction() {
		if err := client.EnsureSchema(context.Background()); err != nil {
			session.Close()
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	client.prepareStatements()

	util.Info("ScyllaDB client initialized",
		util.Strings("nodes", scyllaConfig.Nodes),
		util.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

func (s *ScyllaClient) prepareStatements() {
	s.prepareMutex.Lock()
	defer s.prepareMutex.Unlock()

	if s.Stmts != nil {
		return
	}

	s.Stmts = &Statements{
		InsertAccount: `INSERT INTO accounts (` + accountColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ReserveEmail: `INSERT INTO accounts_by_email (email, account_bucket, account_id, created_at)
			VALUES (?, ?, ?, ?) IF NOT EXISTS`,
		ReleaseEmail:  `DELETE FROM accounts_by_email WHERE email = ?`,
		GetEmailOwner: `SELECT account_bucket, account_id FROM accounts_by_email WHERE email = ?`,
		GetAccount: `SELECT ` + accountColumns + `
			FROM accounts WHERE account_bucket = ? AND account_id = ?`,
		DeleteAccount: `DELETE FROM accounts WHERE account_bucket = ? AND account_id = ?`,
		SaveChallenge: `UPDATE accounts SET challenge_purpose = ?, otp_hash = ?, otp_expires = ?,
			otp_attempts = ?, last_otp_attempt = ?, last_otp_sent = ?, updated_at = ?
			WHERE account_bucket = ? AND account_id = ?`,
		RecordAttempt: `UPDATE accounts SET otp_attempts = ?, last_otp_attempt = ?, updated_at = ?
			WHERE account_bucket = ? AND account_id = ?
			IF otp_hash = ? AND otp_attempts = ?`,
		MarkVerified: `UPDATE accounts SET is_verified = true, challenge_purpose = null, otp_hash = null,
			otp_expires = null, otp_attempts = 0, last_otp_attempt = null, updated_at = ?
			WHERE account_bucket = ? AND account_id = ?
			IF is_verified = false`,
		UpdatePasswordCAS: `UPDATE accounts SET password_hash = ?, challenge_purpose = null, otp_hash = null,
			otp_expires = null, otp_attempts = 0, last_otp_attempt = null, updated_at = ?
			WHERE account_bucket = ? AND account_id = ?
			IF otp_hash = ?`,
		UpdateRole: `UPDATE accounts SET role = ?, updated_at = ?
			WHERE account_bucket = ? AND account_id = ?`,
		UpdateLastLogin: `UPDATE accounts SET last_login_at = ?
			WHERE account_bucket = ? AND account_id = ?`,
		ListAccounts:  `SELECT ` + accountColumns + ` FROM accounts`,
		CountAccounts: `SELECT is_verified, role FROM accounts`,

		InsertMemorial: `INSERT INTO memorials (` + memorialColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ReserveSlug:  `INSERT INTO memorials_by_slug (slug, memorial_id) VALUES (?, ?) IF NOT EXISTS`,
		ReleaseSlug:  `DELETE FROM memorials_by_slug WHERE slug = ?`,
		GetSlugOwner: `SELECT memorial_id FROM memorials_by_slug WHERE slug = ?`,
		GetMemorial:  `SELECT ` + memorialColumns + ` FROM memorials WHERE memorial_id = ?`,
		UpdateMemorial: `UPDATE memorials SET full_name = ?, birth_date = ?, death_date = ?,
			biography = ?, epitaph = ?, is_public = ?, updated_at = ?
			WHERE memorial_id = ?`,
		DeleteMemorial: `DELETE FROM memorials WHERE memorial_id = ?`,
		InsertOwnerIndex: `INSERT INTO memorials_by_owner (owner_id, created_at, memorial_id)
			VALUES (?, ?, ?)`,
		DeleteOwnerIndex: `DELETE FROM memorials_by_owner
			WHERE owner_id = ? AND created_at = ? AND memorial_id = ?`,
		ListOwnerMemorials: `SELECT memorial_id FROM memorials_by_owner WHERE owner_id = ?`,
	}

	util.Debug("ScyllaDB statements registered")
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) Query(ctx context.Context, stmt string, values ...any) *gocql.Query {
	return s.Session.Query(stmt, values...).WithContext(ctx)
}

func (s *ScyllaClient) Batch(ctx context.Context, typ gocql.BatchType) *gocql.Batch {
	return s.Session.NewBatch(typ).WithContext(ctx)
}

func (s *ScyllaClient) ExecuteBatch(batch *gocql.Batch) error {
	return s.Session.ExecuteBatch(batch)
}

func (s *ScyllaClient) HealthCheck(ctx context.Context) error {
	var clusterName string
	if err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName); err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}
	util.Debug("ScyllaDB health check passed", util.String("cluster_name", clusterName))
	return nil
}

// ExecuteWithRetry retries idempotent writes on transient errors.
func (s *ScyllaClient) ExecuteWithRetry(query *gocql.Query, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if lastErr = query.Exec(); lastErr == nil {
			return nil
		}
		if i < maxRetries {
			time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
		}
	}
	return lastErr
}

func (s *ScyllaClient) ScanWithRetry(query *gocql.Query, dest ...any) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		lastErr = query.Scan(dest...)
		if lastErr == nil || lastErr == gocql.ErrNotFound {
			return lastErr
		}
		if i < 2 {
			time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
		}
	}
	return lastErr
}
