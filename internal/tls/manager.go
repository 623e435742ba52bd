package tls

import (
	"crypto/tls"
	"fmt"
	"os"
	"sync"

	"webgrave/internal/config"
	"webgrave/internal/util"

	"golang.org/x/crypto/acme/autocert"
)

// Manager picks the certificate source for the HTTPS listener: ACME when
// AutoCert is on, a configured key pair, or a generated development cert.
type Manager struct {
	server   config.ServerConfig
	env      string
	autoCert *autocert.Manager

	mu       sync.Mutex
	fallback *tls.Certificate
}

func NewManager(cfg *config.Config) (*Manager, error) {
	m := &Manager{server: cfg.Server, env: cfg.Environment}
	if !cfg.Server.EnableTLS {
		return m, nil
	}

	if cfg.Server.AutoCert {
		if err := os.MkdirAll(cfg.Server.AutoCertDir, 0o700); err != nil {
			return nil, fmt.Errorf("create autocert dir: %w", err)
		}
		m.autoCert = &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(cfg.Server.Domain),
			Cache:      autocert.DirCache(cfg.Server.AutoCertDir),
			Email:      cfg.Server.Email,
		}
		util.Info("AutoCert configured",
			util.String("domain", cfg.Server.Domain),
			util.String("cache_dir", cfg.Server.AutoCertDir),
		)
		return m, nil
	}

	if cfg.Server.CertFile != "" && cfg.Server.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.Server.CertFile, cfg.Server.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load key pair: %w", err)
		}
		m.fallback = &cert
		return m, nil
	}

	if cfg.IsProduction() {
		return nil, fmt.Errorf("TLS enabled in production without AutoCert or a key pair")
	}
	return m, nil
}

// GetCertificate satisfies tls.Config.GetCertificate.
func (m *Manager) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	if m.autoCert != nil {
		return m.autoCert.GetCertificate(hello)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fallback != nil {
		return m.fallback, nil
	}

	hosts := []string{m.server.Domain, "localhost", "127.0.0.1", "::1"}
	cert, err := NewDevCertGenerator(m.server.AutoCertDir).GenerateCert(hosts)
	if err != nil {
		return nil, fmt.Errorf("generate development certificate: %w", err)
	}
	util.Warn("Serving a self-signed development certificate",
		util.String("environment", m.env),
		util.Strings("hosts", hosts),
	)
	m.fallback = &cert
	return m.fallback, nil
}

func (m *Manager) TLSConfig() *tls.Config {
	cfg := &tls.Config{
		GetCertificate: m.GetCertificate,
		NextProtos:     []string{"h2", "http/1.1"},
		MinVersion:     tls.VersionTLS12,
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		},
	}
	if m.autoCert != nil {
		cfg.NextProtos = append(cfg.NextProtos, "acme-tls/1")
	}
	return cfg
}

// AutoCert is nil unless ACME issuance is configured.
func (m *Manager) AutoCert() *autocert.Manager {
	return m.autoCert
}
