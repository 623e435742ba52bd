package factory

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"webgrave/internal/audit"
	"webgrave/internal/bucketing"
	"webgrave/internal/client"
	"webgrave/internal/config"
	"webgrave/internal/handler"
	"webgrave/internal/hashing"
	"webgrave/internal/mailer"
	"webgrave/internal/metrics"
	"webgrave/internal/repository/memory"
	rediscache "webgrave/internal/repository/redis"
	"webgrave/internal/repository/scylla"
	"webgrave/internal/search"
	"webgrave/internal/service"
	"webgrave/internal/tls"
	"webgrave/internal/util"

	"golang.org/x/sync/errgroup"
)

const (
	initTimeout   = 30 * time.Second
	healthTimeout = 5 * time.Second
)

// Factory manages the lifecycle of all application dependencies.
type Factory struct {
	config     *config.Config
	tlsManager *tls.Manager

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	hasher           *hashing.Hasher
	bucketingManager *bucketing.BucketingManager

	accounts     scylla.AccountRepository
	memorials    scylla.MemorialRepository
	rateLimits   *rediscache.RateLimitCache
	sessions     *rediscache.SessionCache
	publisher    *audit.Publisher
	accountIndex *search.AccountIndex
	mailer       *mailer.SMTPMailer

	serviceFactory *service.ServiceFactory

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory loads configuration and connects every backing service. Outside
// production a missing optional backend is logged and its feature disabled.
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	f := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		m, err := tls.NewManager(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
		f.tlsManager = m
	}

	metrics.MustRegister(cfg.ServiceName)

	f.hasher = hashing.NewHasher(cfg)
	f.bucketingManager = bucketing.NewBucketingManager(cfg)

	if err := f.initializeClients(); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}
	if err := f.initializeRepositories(); err != nil {
		f.Close()
		return nil, err
	}

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.String("storage_backend", cfg.StorageBackend),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("redis", f.redisClient != nil),
		util.Bool("kafka", f.kafkaProducer != nil),
		util.Bool("clickhouse", f.clickhouseClient != nil),
		util.Bool("elasticsearch", f.esClient != nil),
	)

	return f, nil
}

// initializeClients connects to external services. Kafka is always optional.
// The rest are required in production.
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()

	var initErrors []error

	if rc, err := client.NewRedisClient(ctx, f.config); err != nil {
		initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
	} else {
		f.redisClient = rc
	}

	if f.config.StorageBackend == "scylla" {
		sc, err := scylla.NewScyllaClient(f.config)
		if err != nil {
			// Accounts cannot live anywhere else once scylla is selected.
			return fmt.Errorf("scylla: %w", err)
		}
		f.scyllaClient = sc
	}

	if producer, err := client.NewKafkaProducer(f.config); err != nil {
		util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
	} else {
		f.kafkaProducer = producer
	}

	if es, err := client.NewElasticsearchClient(ctx, f.config); err != nil {
		initErrors = append(initErrors, fmt.Errorf("elasticsearch: %w", err))
	} else {
		f.esClient = es
	}

	if ch, err := client.NewClickHouseClient(ctx, f.config); err != nil {
		initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
	} else {
		f.clickhouseClient = ch
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %w", errors.Join(initErrors...))
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}
	return nil
}

func (f *Factory) initializeRepositories() error {
	switch f.config.StorageBackend {
	case "memory":
		util.Warn("Using in-memory storage; data is lost on restart")
		f.accounts = memory.NewAccountRepository()
		f.memorials = memory.NewMemorialRepository()
	default:
		f.accounts = scylla.NewAccountRepository(f.scyllaClient, f.bucketingManager)
		f.memorials = scylla.NewMemorialRepository(f.scyllaClient)
	}

	if f.redisClient != nil {
		f.rateLimits = rediscache.NewRateLimitCache(f.redisClient)
		f.sessions = rediscache.NewSessionCache(f.redisClient, f.config.JWT.TokenTTL)
	} else {
		util.Warn("Redis unavailable - rate limiting and token revocation disabled")
	}

	var producer audit.Producer
	if f.kafkaProducer != nil {
		producer = f.kafkaProducer
	}
	var store audit.Store
	if f.clickhouseClient != nil {
		store = f.clickhouseClient
	}
	if producer != nil || store != nil {
		f.publisher = audit.NewPublisher(producer, store, f.bucketingManager, f.config.Kafka.EventsTopic)
	}

	if f.esClient != nil {
		f.accountIndex = search.NewAccountIndex(f.esClient, f.config.Elasticsearch.AccountIndex)
		ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
		defer cancel()
		if err := f.accountIndex.EnsureIndex(ctx); err != nil {
			if f.config.IsProduction() {
				return fmt.Errorf("elasticsearch index: %w", err)
			}
			util.Warn("Account index unavailable - admin search falls back to listing", util.ErrorField(err))
			f.accountIndex = nil
		}
	}

	m, err := mailer.NewSMTPMailer(f.config)
	if err != nil {
		return fmt.Errorf("failed to configure mailer: %w", err)
	}
	f.mailer = m
	return nil
}

// ServiceFactory wires the services over whichever backends came up. Missing
// optional collaborators are passed as untyped nil so the services can detect them.
func (f *Factory) ServiceFactory() *service.ServiceFactory {
	if f.serviceFactory != nil {
		return f.serviceFactory
	}

	var index service.AccountIndex
	if f.accountIndex != nil {
		index = f.accountIndex
	}
	var sessions service.SessionRevoker
	if f.sessions != nil {
		sessions = f.sessions
	}

	if f.publisher != nil {
		f.serviceFactory = service.NewServiceFactory(
			f.config, f.accounts, f.memorials, f.hasher, f.mailer, f.publisher, index, sessions,
		)
	} else {
		f.serviceFactory = service.NewServiceFactory(
			f.config, f.accounts, f.memorials, f.hasher, f.mailer, nil, index, sessions,
		)
	}
	return f.serviceFactory
}

// Router builds the HTTP handler tree.
func (f *Factory) Router() http.Handler {
	sf := f.ServiceFactory()
	auth := sf.AuthService()

	var limiter handler.RateLimiter
	if f.rateLimits != nil {
		limiter = f.rateLimits
	}

	return handler.NewRouter(f.config, handler.Handlers{
		Auth:      handler.NewAuthHandler(auth, limiter, f.config.RateLimit.AuthPerMinute),
		Admin:     handler.NewAdminHandler(sf.AdminService(), auth),
		Memorials: handler.NewMemorialHandler(sf.MemorialService(), auth),
	}, f, util.Get())
}

// HealthCheck pings every connected backend concurrently and joins the failures.
func (f *Factory) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	checks := map[string]func(context.Context) error{}
	if f.redisClient != nil {
		checks["redis"] = f.redisClient.HealthCheck
	}
	if f.scyllaClient != nil {
		checks["scylla"] = f.scyllaClient.HealthCheck
	}
	if f.esClient != nil {
		checks["elasticsearch"] = f.esClient.HealthCheck
	}
	if f.clickhouseClient != nil {
		checks["clickhouse"] = f.clickhouseClient.HealthCheck
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	var g errgroup.Group
	for name, check := range checks {
		name, check := name, check
		g.Go(func() error {
			if err := check(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	// Kafka is best effort; a broker outage degrades auditing only.
	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			util.Warn("Kafka health check failed", util.ErrorField(err))
		}
	}
	return errors.Join(errs...)
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		// The publisher flushes into ClickHouse and Kafka, so it goes first.
		if f.publisher != nil {
			if err := f.publisher.Close(); err != nil {
				util.Error("Failed to flush security events", util.ErrorField(err))
			}
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			} else {
				util.Info("ClickHouse client closed")
			}
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			} else {
				util.Info("Kafka producer closed")
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
			util.Info("ScyllaDB client closed")
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				util.Info("Redis client closed")
			}
		}

		util.Info("Factory shutdown completed")
		util.Sync()
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

// TLSManager is nil when TLS is disabled.
func (f *Factory) TLSManager() *tls.Manager {
	return f.tlsManager
}
