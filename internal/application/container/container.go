// Package container provides dependency injection for singleton services
package container

import (
	"fmt"

	appmsg "github.com/GuideRail/guiderail-go/internal/application/messaging"
	"github.com/GuideRail/guiderail-go/internal/application/services"
	"github.com/GuideRail/guiderail-go/internal/infrastructure/email"
	realtime "github.com/GuideRail/guiderail-go/internal/infrastructure/messaging"
	"github.com/GuideRail/guiderail-go/internal/infrastructure/observability/logging"
	"github.com/GuideRail/guiderail-go/internal/infrastructure/persistence/analytics"
	contentrepo "github.com/GuideRail/guiderail-go/internal/infrastructure/persistence/content"
	"github.com/GuideRail/guiderail-go/internal/infrastructure/persistence/database"
	envrepo "github.com/GuideRail/guiderail-go/internal/infrastructure/persistence/environment"
	userrepo "github.com/GuideRail/guiderail-go/internal/infrastructure/persistence/user"
	"github.com/GuideRail/guiderail-go/internal/infrastructure/statestore"
	"github.com/GuideRail/guiderail-go/pkg/config"
)

// Container holds every singleton the server is wired from. Construction
// order follows the dependency direction: store and repositories first, then
// services, then the message router.
type Container struct {
	Logger *logging.ChanneledLogger
	DB     *database.DB

	StateStore statestore.Store
	Locker     statestore.Locker
	Sweeper    statestore.Sweeper

	Broadcaster *realtime.RoomBroadcaster

	VersionRepo     *contentrepo.VersionRepository
	AttributeRepo   *userrepo.AttributeRepository
	BizSessionRepo  *userrepo.BizSessionRepository
	EventRepo       *analytics.EventRepository
	EnvironmentRepo *envrepo.Repository

	RuleEvaluation   *services.RuleEvaluationService
	Selection        *services.SelectionService
	Tracking         *services.TrackingService
	Lifecycle        *services.LifecycleService
	EventTracking    *services.EventTrackingService
	Environments     *services.EnvironmentService

	Guard  *appmsg.Guard
	Router *appmsg.Router
}

// NewContainer wires the full singleton graph over one database connection.
func NewContainer() (*Container, error) {
	logger, err := logging.NewChanneledLogger(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	db, err := database.NewConnectionWithLogger(config.DatabaseDriver, config.DatabaseDSN, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	if err := database.NewTableCreator().CreateSchema(db.DB); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	c := &Container{
		Logger: logger,
		DB:     db,
	}

	if err := c.initStateStore(); err != nil {
		return nil, err
	}

	c.Broadcaster = realtime.NewRoomBroadcaster(logger)

	c.VersionRepo = contentrepo.NewVersionRepository(db.DB, logger)
	c.AttributeRepo = userrepo.NewAttributeRepository(db.DB, logger)
	c.BizSessionRepo = userrepo.NewBizSessionRepository(db.DB, logger)
	c.EventRepo = analytics.NewEventRepository(db.DB, logger)
	c.EnvironmentRepo = envrepo.NewRepository(db.DB, logger)

	emailService, err := email.NewService()
	if err != nil {
		// Provisioning degrades to log-only delivery without a Resend key.
		logger.Startup().Warn("Email service unavailable", "error", err.Error())
		emailService = &logOnlyEmail{logger: logger}
	}

	c.RuleEvaluation = services.NewRuleEvaluationService()
	c.Selection = services.NewSelectionService(c.VersionRepo, c.AttributeRepo, c.BizSessionRepo, c.RuleEvaluation, logger)
	c.Tracking = services.NewTrackingService(c.Broadcaster, logger)
	c.Lifecycle = services.NewLifecycleService(c.Selection, c.Tracking, c.Broadcaster, c.StateStore, c.Locker, logger)
	c.EventTracking = services.NewEventTrackingService(c.EventRepo, logger)
	c.Environments = services.NewEnvironmentService(c.EnvironmentRepo, emailService, logger)

	c.Guard = appmsg.NewGuard(c.Locker, logger)
	c.Router = appmsg.NewRouter(
		c.Guard,
		c.StateStore,
		c.Selection,
		c.Lifecycle,
		c.Tracking,
		c.EventTracking,
		c.AttributeRepo,
		c.BizSessionRepo,
		c.Broadcaster,
		logger,
	)

	logger.Startup().Info("Container wired", "stateStoreDriver", config.StateStoreDriver)
	return c, nil
}

// initStateStore selects the shared state backend. The sql driver points at
// a libsql/sqlite database every fleet process can reach; memory is for
// single-process deployments and tests.
func (c *Container) initStateStore() error {
	switch config.StateStoreDriver {
	case "memory":
		store := statestore.NewMemoryStore(config.ConnectionStateTTL, c.Logger)
		c.StateStore = store
		c.Locker = store
		c.Sweeper = store
	case "sql":
		db := c.DB.DB
		if config.StateStoreDSN != "" {
			stateDB, err := database.NewConnectionWithLogger(config.DatabaseDriver, config.StateStoreDSN, c.Logger)
			if err != nil {
				return fmt.Errorf("failed to connect state store: %w", err)
			}
			if err := database.NewTableCreator().CreateSchema(stateDB.DB); err != nil {
				return fmt.Errorf("failed to create state store schema: %w", err)
			}
			db = stateDB.DB
		}
		store := statestore.NewSQLStore(db, config.ConnectionStateTTL, c.Logger)
		c.StateStore = store
		c.Locker = store
		c.Sweeper = store
	default:
		return fmt.Errorf("unknown state store driver %q", config.StateStoreDriver)
	}
	return nil
}

// Close releases the container's resources.
func (c *Container) Close() error {
	return c.DB.Close()
}

// logOnlyEmail satisfies the email contract when no provider is configured.
type logOnlyEmail struct {
	logger *logging.ChanneledLogger
}

func (l *logOnlyEmail) SendEnvironmentActivationEmail(toEmail, environmentID, activationURL string) error {
	l.logger.Environment().Info("Activation email (log-only delivery)", "to", toEmail, "environmentId", environmentID, "activationUrl", activationURL)
	return nil
}
