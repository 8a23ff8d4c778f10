package services

import (
	"context"

	"github.com/nexuscrm/mycrm/internal/config"
	"github.com/nexuscrm/mycrm/internal/domain/entity"
	"github.com/nexuscrm/mycrm/internal/domain/events"
	"github.com/nexuscrm/mycrm/internal/domain/ports"
	"github.com/nexuscrm/mycrm/internal/infrastructure/cache"
	"github.com/nexuscrm/mycrm/internal/infrastructure/database"
	"github.com/nexuscrm/mycrm/internal/infrastructure/persistence"
	"github.com/nexuscrm/mycrm/pkg/auth"
	"go.uber.org/zap"
)

// EventSink receives every record event after it left the outbox.
type EventSink interface {
	Publish(ctx context.Context, event *events.RecordEvent) error
}

// Dependencies are the infrastructure pieces the services are built on.
// Cache, Notifier, Sink and Limiter are optional.
type Dependencies struct {
	DB       *database.DB
	Config   *config.Config
	Registry *entity.Registry
	Cache    cache.Cache
	Notifier ports.Notifier
	Sink     EventSink
	Limiter  LimiterPruner
	Logger   *zap.Logger
}

// ServiceManager orchestrates all services with dependency injection
type ServiceManager struct {
	cfg    *config.Config
	logger *zap.Logger

	TxManager     *persistence.TransactionManager
	EventBus      *EventBus
	Permissions   *PermissionService
	Audit         *AuditService
	Outbox        *OutboxService
	Auth          *AuthService
	Tenants       *TenantService
	CustomFields  *CustomFieldService
	Records       *RecordService
	Analytics     *AnalyticsService
	Dashboards    *DashboardService
	Notifications *NotificationService
	Maintenance   *MaintenanceService

	unsubscribe []func()
}

// NewServiceManager creates a new service manager with all dependencies wired
func NewServiceManager(deps Dependencies) *ServiceManager {
	cfg, logger := deps.Config, deps.Logger
	registry := deps.Registry
	if registry == nil {
		registry = entity.NewCRMRegistry()
	}
	ttl := cfg.Cache.DefaultTTL
	c := deps.Cache
	if !cfg.Cache.Enabled {
		c = nil
	}

	sm := &ServiceManager{cfg: cfg, logger: logger}

	tenants := persistence.NewTenantRepository(deps.DB)
	users := persistence.NewUserRepository(deps.DB)
	records := persistence.NewRecordRepository(deps.DB)

	// Initialize services in dependency order
	sm.TxManager = persistence.NewTransactionManager(deps.DB, logger)
	sm.EventBus = NewEventBus(logger)
	sm.Permissions = NewPermissionService(registry)
	sm.Audit = NewAuditService(persistence.NewAuditRepository(deps.DB), logger)
	sm.Outbox = NewOutboxService(persistence.NewOutboxRepository(deps.DB), sm.EventBus, sm.TxManager, cfg.Outbox.BatchSize, logger)

	tokens := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL)
	sm.Auth = NewAuthService(tenants, users, persistence.NewSessionRepository(deps.DB), sm.TxManager, tokens, sm.Audit, logger)
	sm.Tenants = NewTenantService(registry, tenants, records, sm.TxManager, c, logger)

	sm.CustomFields = NewCustomFieldService(registry, persistence.NewCustomFieldRepository(deps.DB), c, ttl, logger)
	sm.Records = NewRecordService(RecordServiceDeps{
		Registry:     registry,
		Records:      records,
		Users:        users,
		CustomFields: sm.CustomFields,
		Audit:        sm.Audit,
		Outbox:       sm.Outbox,
		Permissions:  sm.Permissions,
		TxManager:    sm.TxManager,
		Cache:        c,
		CacheTTL:     ttl,
		Logger:       logger,
	})
	sm.Analytics = NewAnalyticsService(registry, persistence.NewQueryRepository(deps.DB), sm.Permissions, c, ttl, logger)
	sm.Dashboards = NewDashboardService(persistence.NewWidgetRepository(deps.DB), sm.Analytics, sm.Records, logger)
	sm.Notifications = NewNotificationService(persistence.NewNotificationRepository(deps.DB), deps.Notifier, logger)
	sm.Maintenance = NewMaintenanceService(cfg.Maintenance, sm.Auth, sm.Outbox, sm.Audit, deps.Limiter, logger)

	// Subscribers run in registration order; the sink goes last so that a
	// failed publish is retried after the local handlers succeeded.
	sm.unsubscribe = append(sm.unsubscribe,
		NewCacheInvalidator(c, registry, logger).Subscribe(sm.EventBus),
		sm.Notifications.Subscribe(sm.EventBus),
	)
	if deps.Sink != nil {
		sm.unsubscribe = append(sm.unsubscribe, sm.EventBus.SubscribeAll(deps.Sink.Publish))
	}
	return sm
}

// Registry returns the served entity definitions.
func (sm *ServiceManager) Registry() *entity.Registry {
	return sm.Records.Registry()
}

// StartWorkers starts the outbox worker and, when enabled, the maintenance
// scheduler.
func (sm *ServiceManager) StartWorkers() error {
	sm.Outbox.StartWorker(sm.cfg.Outbox.PollInterval)
	if sm.cfg.Maintenance.Enabled {
		if err := sm.Maintenance.Start(); err != nil {
			sm.Outbox.StopWorker()
			return err
		}
	}
	return nil
}

// StopWorkers stops background work and detaches the bus subscribers.
func (sm *ServiceManager) StopWorkers(ctx context.Context) {
	sm.Maintenance.Stop(ctx)
	sm.Outbox.StopWorker()
	for _, u := range sm.unsubscribe {
		u()
	}
	sm.unsubscribe = nil
}
