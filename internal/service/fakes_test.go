package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"webgrave/internal/config"
	"webgrave/internal/hashing"
	"webgrave/internal/models"
	"webgrave/internal/repository/memory"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type sentCode struct {
	to      string
	code    string
	purpose models.ChallengePurpose
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentCode
	err  error
}

func (m *fakeMailer) SendOTP(_ context.Context, to, _ string, code string, purpose models.ChallengePurpose, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentCode{to: to, code: code, purpose: purpose})
	return nil
}

func (m *fakeMailer) lastCode(t *testing.T, to string) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].to == to {
			return m.sent[i].code
		}
	}
	t.Fatalf("no code sent to %s", to)
	return ""
}

func (m *fakeMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type fakeEvents struct {
	mu     sync.Mutex
	events []models.SecurityEvent
}

func (f *fakeEvents) Publish(_ context.Context, e *models.SecurityEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, *e)
	return nil
}

func (f *fakeEvents) RecentEvents(_ context.Context, accountID string, limit int) ([]models.SecurityEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.SecurityEvent
	for i := len(f.events) - 1; i >= 0 && len(out) < limit; i-- {
		if f.events[i].AccountID == accountID {
			out = append(out, f.events[i])
		}
	}
	return out, nil
}

func (f *fakeEvents) types() []models.SecurityEventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.SecurityEventType, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.EventType)
	}
	return out
}

type fakeIndex struct {
	mu      sync.Mutex
	docs    map[string]models.PublicAccount
	queries []string
}

func (f *fakeIndex) IndexAccount(_ context.Context, a *models.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[a.AccountID] = a.Public()
	return nil
}

func (f *fakeIndex) RemoveAccount(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs, id)
	return nil
}

func (f *fakeIndex) SearchAccounts(_ context.Context, q string, limit int) ([]models.PublicAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	var out []models.PublicAccount
	for _, d := range f.docs {
		if len(out) < limit && d.Email == q {
			out = append(out, d)
		}
	}
	return out, nil
}

type fakeSessions struct {
	mu            sync.Mutex
	revoked       map[string]bool
	revokedBefore map[string]time.Time
}

func (f *fakeSessions) RevokeToken(_ context.Context, id string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[id] = true
	return nil
}

func (f *fakeSessions) RevokeAllForAccount(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revokedBefore[id] = at
	return nil
}

func (f *fakeSessions) IsRevoked(_ context.Context, id, account string, issued time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.revoked[id] {
		return true, nil
	}
	cutoff, ok := f.revokedBefore[account]
	return ok && issued.UnixMilli() < cutoff.UnixMilli(), nil
}

type testEnv struct {
	svc       *AuthService
	admin     *AdminService
	memorial  *MemorialService
	accounts  *memory.AccountRepository
	memorials *memory.MemorialRepository
	mailer    *fakeMailer
	events    *fakeEvents
	index     *fakeIndex
	sessions  *fakeSessions
	clock     *fakeClock
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Hashing.Argon2MemoryCost = 1024
	cfg.Hashing.Argon2TimeCost = 1
	cfg.Hashing.Argon2Parallelism = 1
	cfg.Hashing.OTPPepper = "test-pepper"
	cfg.JWT.Secret = "test-secret-test-secret-test-secret"
	cfg.JWT.Issuer = "webgrave-test"
	cfg.JWT.TokenTTL = 24 * time.Hour
	return cfg
}

func newTestEnv(t *testing.T, policy ...ChallengePolicy) *testEnv {
	t.Helper()
	cfg := testConfig()
	clock := newFakeClock()

	p := DefaultPolicy()
	if len(policy) > 0 {
		p = policy[0]
	}

	env := &testEnv{
		accounts:  memory.NewAccountRepository(),
		memorials: memory.NewMemorialRepository(),
		mailer:    &fakeMailer{},
		events:    &fakeEvents{},
		index:     &fakeIndex{docs: map[string]models.PublicAccount{}},
		sessions:  &fakeSessions{revoked: map[string]bool{}, revokedBefore: map[string]time.Time{}},
		clock:     clock,
	}

	tokens := NewTokenManager(cfg)
	tokens.now = clock.Now

	env.svc = NewAuthService(Dependencies{
		Accounts:  env.accounts,
		Memorials: env.memorials,
		Hasher:    hashing.NewHasher(cfg),
		Tokens:    tokens,
		Mailer:    env.mailer,
		Events:    env.events,
		Index:     env.index,
		Sessions:  env.sessions,
		Policy:    p,
	})
	env.svc.now = clock.Now
	env.admin = NewAdminService(env.svc, env.accounts, env.index, env.events)
	env.memorial = NewMemorialService(env.memorials)
	env.memorial.now = clock.Now
	return env
}

func (e *testEnv) register(t *testing.T, email string) *models.Account {
	t.Helper()
	a, err := e.svc.Register(context.Background(), RegisterRequest{
		Email: email, Password: "Passw0rd!", FirstName: "A", LastName: "B",
	})
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return a
}

// verified registers and verifies an account, returning its id.
func (e *testEnv) verified(t *testing.T, email string) string {
	t.Helper()
	a := e.register(t, email)
	if _, err := e.svc.VerifyEmail(context.Background(), a.AccountID, e.mailer.lastCode(t, email)); err != nil {
		t.Fatalf("verify %s: %v", email, err)
	}
	return a.AccountID
}

// wrongCode returns a six-digit code different from code.
func wrongCode(code string) string {
	if code == "100000" {
		return "100001"
	}
	return "100000"
}
