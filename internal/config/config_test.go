package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("OTP_PEPPER", "")

	cfg := LoadConfig()

	assert.Equal(t, ":8080", cfg.GetServerAddress())
	assert.Equal(t, 10*time.Minute, cfg.OTP.TTL)
	assert.Equal(t, 3, cfg.OTP.MaxAttempts)
	assert.Equal(t, 15*time.Minute, cfg.OTP.LockoutWindow)
	assert.Equal(t, 10*time.Second, cfg.OTP.ResendCooldown)
	assert.Equal(t, 24*time.Hour, cfg.JWT.TokenTTL)
	assert.NotEmpty(t, cfg.JWT.Secret, "development falls back to a dev secret")
	assert.True(t, cfg.IsDevelopment())
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("SCYLLA_NODES", "10.0.0.1:9042, 10.0.0.2:9042")
	t.Setenv("OTP_RESEND_COOLDOWN", "30s")
	t.Setenv("SERVER_ENABLE_TLS", "true")
	t.Setenv("REDIS_DB", "not-a-number")

	cfg := LoadConfig()

	assert.Equal(t, ":9090", cfg.GetServerAddress())
	assert.Equal(t, []string{"10.0.0.1:9042", "10.0.0.2:9042"}, cfg.Scylla.Nodes)
	assert.Equal(t, 30*time.Second, cfg.OTP.ResendCooldown)
	assert.True(t, cfg.Server.EnableTLS)
	assert.Equal(t, 0, cfg.Redis.DB)
	assert.Same(t, cfg, Get())
}

func TestValidate_ProductionRequiresSecrets(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("JWT_SECRET", "short")
	t.Setenv("OTP_PEPPER", "")

	cfg := LoadConfig()
	err := cfg.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET must be at least 32 bytes")
	assert.Contains(t, err.Error(), "OTP_PEPPER is required")
}

func TestValidate_StorageBackend(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("STORAGE_BACKEND", "memory")
	cfg := LoadConfig()
	require.NoError(t, cfg.Validate())

	cfg.Environment = "production"
	cfg.JWT.Secret = "0123456789abcdef0123456789abcdef"
	assert.ErrorContains(t, cfg.Validate(), "STORAGE_BACKEND=memory cannot be used in production")

	cfg.StorageBackend = "sqlite"
	assert.ErrorContains(t, cfg.Validate(), `unknown STORAGE_BACKEND "sqlite"`)
}

func TestValidate_SMTPDisabledInProduction(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("JWT_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("OTP_PEPPER", "pepper")
	t.Setenv("SMTP_DISABLED", "true")

	cfg := LoadConfig()
	assert.ErrorContains(t, cfg.Validate(), "SMTP_DISABLED cannot be set in production")
}

func TestValidate_PepperRotation(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("OTP_PEPPER_PREVIOUS", "old-pepper")
	t.Setenv("OTP_PEPPER_VERSION", "")

	cfg := LoadConfig()
	assert.Equal(t, 1, cfg.Hashing.OTPPepperVersion)
	assert.ErrorContains(t, cfg.Validate(), "OTP_PEPPER_PREVIOUS requires OTP_PEPPER_VERSION")

	t.Setenv("OTP_PEPPER_VERSION", "2")
	cfg = LoadConfig()
	assert.Equal(t, "old-pepper", cfg.Hashing.OTPPepperPrevious)
	require.NoError(t, cfg.Validate())
}
