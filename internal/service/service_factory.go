package service

import (
	"webgrave/internal/config"
	"webgrave/internal/hashing"
	"webgrave/internal/repository/scylla"
)

// ServiceFactory builds each service once and shares collaborators between them.
type ServiceFactory struct {
	deps            Dependencies
	events          EventReader
	authService     *AuthService
	adminService    *AdminService
	memorialService *MemorialService
}

func NewServiceFactory(
	cfg *config.Config,
	accounts scylla.AccountRepository,
	memorials scylla.MemorialRepository,
	hasher *hashing.Hasher,
	mailer Mailer,
	events interface {
		EventPublisher
		EventReader
	},
	index AccountIndex,
	sessions SessionRevoker,
) *ServiceFactory {
	deps := Dependencies{
		Accounts:  accounts,
		Memorials: memorials,
		Hasher:    hasher,
		Tokens:    NewTokenManager(cfg),
		Mailer:    mailer,
		Index:     index,
		Sessions:  sessions,
		Policy:    PolicyFromConfig(cfg),
	}
	f := &ServiceFactory{deps: deps}
	if events != nil {
		f.deps.Events = events
		f.events = events
	}
	return f
}

func (f *ServiceFactory) AuthService() *AuthService {
	if f.authService == nil {
		f.authService = NewAuthService(f.deps)
	}
	return f.authService
}

func (f *ServiceFactory) AdminService() *AdminService {
	if f.adminService == nil {
		f.adminService = NewAdminService(f.AuthService(), f.deps.Accounts, f.deps.Index, f.events)
	}
	return f.adminService
}

func (f *ServiceFactory) MemorialService() *MemorialService {
	if f.memorialService == nil {
		f.memorialService = NewMemorialService(f.deps.Memorials)
	}
	return f.memorialService
}
