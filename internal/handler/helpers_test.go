package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"webgrave/internal/client"
	"webgrave/internal/config"
	"webgrave/internal/hashing"
	"webgrave/internal/models"
	"webgrave/internal/repository/memory"
	rediscache "webgrave/internal/repository/redis"
	"webgrave/internal/service"
)

type captureMailer struct {
	mu    sync.Mutex
	codes map[string]string
}

func (m *captureMailer) SendOTP(_ context.Context, to, _ string, code string, _ models.ChallengePurpose, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes[to] = code
	return nil
}

func (m *captureMailer) code(to string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes[to]
}

type testServer struct {
	t        *testing.T
	srv      *httptest.Server
	accounts *memory.AccountRepository
	mailer   *captureMailer
}

func testConfig() *config.Config {
	cfg := &config.Config{ServiceName: "webgrave-test", Environment: "test"}
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000"}
	cfg.Hashing.Argon2MemoryCost = 1024
	cfg.Hashing.Argon2TimeCost = 1
	cfg.Hashing.Argon2Parallelism = 1
	cfg.Hashing.OTPPepper = "test-pepper"
	cfg.JWT.Secret = "test-secret-test-secret-test-secret"
	cfg.JWT.Issuer = "webgrave-test"
	cfg.JWT.TokenTTL = time.Hour
	cfg.OTP.TTL = 10 * time.Minute
	cfg.OTP.MaxAttempts = 3
	cfg.OTP.LockoutWindow = 15 * time.Minute
	cfg.OTP.ResendCooldown = 10 * time.Second
	cfg.RateLimit.AuthPerMinute = 1000
	return cfg
}

func newTestServer(t *testing.T, mutate ...func(*config.Config)) *testServer {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(cfg)
	}

	mr := miniredis.RunT(t)
	rc := &client.RedisClient{Client: goredis.NewClient(&goredis.Options{Addr: mr.Addr()})}
	t.Cleanup(func() { _ = rc.Client.Close() })

	accounts := memory.NewAccountRepository()
	mailer := &captureMailer{codes: map[string]string{}}
	services := service.NewServiceFactory(cfg, accounts, memory.NewMemorialRepository(),
		hashing.NewHasher(cfg), mailer, nil, nil, rediscache.NewSessionCache(rc, cfg.JWT.TokenTTL))

	auth := services.AuthService()
	router := NewRouter(cfg, Handlers{
		Auth:      NewAuthHandler(auth, rediscache.NewRateLimitCache(rc), cfg.RateLimit.AuthPerMinute),
		Admin:     NewAdminHandler(services.AdminService(), auth),
		Memorials: NewMemorialHandler(services.MemorialService(), auth),
	}, nil, zap.NewNop())

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{t: t, srv: srv, accounts: accounts, mailer: mailer}
}

// do sends a JSON request and decodes the JSON response body.
func (s *testServer) do(method, path, token string, body any) (int, map[string]any) {
	s.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, s.srv.URL+path, reader)
	require.NoError(s.t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := http.DefaultClient.Do(req)
	require.NoError(s.t, err)
	defer res.Body.Close()

	out := map[string]any{}
	require.NoError(s.t, json.NewDecoder(res.Body).Decode(&out))
	return res.StatusCode, out
}

func (s *testServer) register(email string) string {
	s.t.Helper()
	status, body := s.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": email, "password": "Passw0rd!", "firstName": "Jane", "lastName": "Doe",
	})
	require.Equal(s.t, http.StatusCreated, status, body)
	return body["userId"].(string)
}

// login registers and verifies email, returning the account id and token.
func (s *testServer) login(email string) (string, string) {
	s.t.Helper()
	id := s.register(email)
	status, body := s.do(http.MethodPost, "/api/auth/verify-otp", "", map[string]string{
		"userId": id, "otp": s.mailer.code(email),
	})
	require.Equal(s.t, http.StatusOK, status, body)
	return id, body["token"].(string)
}

// promote makes the account an admin and returns a fresh token carrying the role.
func (s *testServer) promote(id, email string) string {
	s.t.Helper()
	a, err := s.accounts.GetByID(context.Background(), id)
	require.NoError(s.t, err)
	require.NoError(s.t, s.accounts.UpdateRole(context.Background(), a, models.RoleAdmin, time.Now()))

	status, body := s.do(http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": email, "password": "Passw0rd!",
	})
	require.Equal(s.t, http.StatusOK, status, body)
	return body["token"].(string)
}

func wrongCode(code string) string {
	if code == "100000" {
		return "100001"
	}
	return "100000"
}
