package container

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/garyjia/bordereau-engine/internal/application/alerting"
	"github.com/garyjia/bordereau-engine/internal/application/dispatcher"
	"github.com/garyjia/bordereau-engine/internal/application/escalation"
	"github.com/garyjia/bordereau-engine/internal/application/notify"
	"github.com/garyjia/bordereau-engine/internal/application/port"
	"github.com/garyjia/bordereau-engine/internal/application/routing"
	"github.com/garyjia/bordereau-engine/internal/application/scheduler"
	"github.com/garyjia/bordereau-engine/internal/application/workflow"
	"github.com/garyjia/bordereau-engine/internal/infrastructure/external/lark"
	"github.com/garyjia/bordereau-engine/internal/infrastructure/notification"
	"github.com/garyjia/bordereau-engine/internal/infrastructure/persistence/repository"
	"github.com/garyjia/bordereau-engine/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/bordereau-engine/internal/infrastructure/worker"
	"github.com/garyjia/bordereau-engine/pkg/clock"
	"github.com/garyjia/bordereau-engine/pkg/database"
	"go.uber.org/zap"
)

// DatabaseBundle holds the connection and the transaction manager over it.
type DatabaseBundle struct {
	SqlDB     *sql.DB
	TxManager *sqlite.DB
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Items   port.WorkItemStore
	History port.HistoryRepository
	Roster  port.RosterRepository
	Clients port.ClientRepository
	Alerts  port.AlertRepository
}

// ProvideDatabase opens the database and applies pending migrations.
func ProvideDatabase(cfg database.Config, logger *zap.Logger) (*DatabaseBundle, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	db, err := database.New(cfg, logger)
	if err != nil {
		return nil, err
	}

	applied, err := database.NewMigrator(db, logger).Run(database.Migrations())
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	if applied > 0 {
		logger.Info("Migrations applied", zap.Int("count", applied))
	}

	return &DatabaseBundle{
		SqlDB:     db.DB,
		TxManager: sqlite.NewDB(db.DB, logger),
	}, nil
}

// ProvideRepositories creates all repositories from a database connection.
func ProvideRepositories(sqlDB *sql.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if sqlDB == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Items:   repository.NewWorkItemRepository(sqlDB, logger),
		History: repository.NewHistoryRepository(sqlDB, logger),
		Roster:  repository.NewRosterRepository(sqlDB, logger),
		Clients: repository.NewClientRepository(sqlDB, logger),
		Alerts:  repository.NewAlertRepository(sqlDB, logger),
	}, nil
}

// SeedRoster upserts the configured organisation in one transaction.
func SeedRoster(ctx context.Context, tx port.TransactionManager, repos *RepositoryBundle, roster Roster, logger *zap.Logger) error {
	err := tx.WithTransaction(ctx, func(txCtx context.Context) error {
		for _, t := range roster.Teams {
			if err := repos.Roster.UpsertTeam(txCtx, t); err != nil {
				return fmt.Errorf("team %s: %w", t.ID, err)
			}
		}
		for _, a := range roster.Agents {
			if err := repos.Roster.UpsertAgent(txCtx, a); err != nil {
				return fmt.Errorf("agent %s: %w", a.ID, err)
			}
		}
		for _, c := range roster.Clients {
			if err := repos.Clients.UpsertClient(txCtx, c); err != nil {
				return fmt.Errorf("client %s: %w", c.ID, err)
			}
		}
		for _, c := range roster.Contracts {
			if err := repos.Clients.UpsertContract(txCtx, c); err != nil {
				return fmt.Errorf("contract %s: %w", c.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to seed roster: %w", err)
	}

	logger.Info("Roster seeded",
		zap.Int("teams", len(roster.Teams)),
		zap.Int("agents", len(roster.Agents)),
		zap.Int("clients", len(roster.Clients)),
		zap.Int("contracts", len(roster.Contracts)))
	return nil
}

// ProvideNotifier builds the notification dispatcher: the log always, Lark when configured.
func ProvideNotifier(cfg *lark.Config, roster port.RosterRepository, logger *zap.Logger) port.NotificationDispatcher {
	log := notification.NewLogNotifier(logger)
	if cfg == nil {
		return log
	}
	messenger := lark.NewMessenger(*cfg, logger)
	return notify.Multi{log, lark.NewNotifier(messenger, roster, logger)}
}

// ProvideDispatcher creates the event dispatcher and subscribes the notification fanout.
func ProvideDispatcher(notifier port.NotificationDispatcher, logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	disp := dispatcher.NewDispatcher(
		dispatcher.WithLogger(NewKVLogger(logger.Named("dispatcher"))),
		dispatcher.WithAsyncPublish(),
	)
	if notifier != nil {
		disp.SubscribeAll("notification_fanout", notify.NewFanout(notifier, logger).Handle)
	}
	return disp, nil
}

// ApplicationDeps holds what the application layer needs.
type ApplicationDeps struct {
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	Publisher  port.EventPublisher
	Clock      clock.Clock
	Escalation escalation.Config
	Scheduler  scheduler.Config
	Logger     *zap.Logger
}

// ApplicationBundle groups the application services.
type ApplicationBundle struct {
	Engine       workflow.WorkflowEngine
	Router       *routing.Router
	Detector     *escalation.Detector
	Orchestrator *scheduler.Orchestrator
}

// ProvideApplication creates the engine, router, detector and orchestrator.
func ProvideApplication(deps *ApplicationDeps) (*ApplicationBundle, error) {
	if deps == nil || deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.TxManager == nil {
		return nil, fmt.Errorf("transaction manager is required")
	}

	engine := workflow.NewEngine(
		deps.Repos.Items,
		deps.Repos.History,
		deps.Repos.Roster,
		deps.Repos.Clients,
		deps.TxManager,
		workflow.WithPublisher(deps.Publisher),
		workflow.WithClock(deps.Clock),
		workflow.WithLogger(deps.Logger),
	)

	if err := deps.Scheduler.Validate(engine.Table()); err != nil {
		return nil, fmt.Errorf("invalid scheduler rules: %w", err)
	}

	router := routing.NewRouter(routing.Deps{
		Engine:    engine,
		Items:     deps.Repos.Items,
		History:   deps.Repos.History,
		Roster:    deps.Repos.Roster,
		Clients:   deps.Repos.Clients,
		TxManager: deps.TxManager,
		Gate:      alerting.NewGate(deps.Repos.Alerts, deps.Escalation.Cooldown),
		Publisher: deps.Publisher,
		Clock:     deps.Clock,
		Logger:    deps.Logger,
	})

	detector := escalation.NewDetector(
		deps.Repos.Items,
		deps.Repos.Roster,
		deps.Repos.Alerts,
		deps.Publisher,
		deps.Clock,
		deps.Escalation,
		deps.Logger,
	)

	return &ApplicationBundle{
		Engine:       engine,
		Router:       router,
		Detector:     detector,
		Orchestrator: scheduler.NewOrchestrator(engine, router, detector, deps.Repos.Items, deps.Clock, deps.Scheduler, deps.Logger),
	}, nil
}

// ProvideWorkers creates the fast and slow tick workers.
func ProvideWorkers(orch *scheduler.Orchestrator, fast, slow time.Duration, logger *zap.Logger) *worker.Manager {
	manager := worker.NewManager(logger)
	manager.Register(worker.NewTickerWorker("fast_tick", fast, func(ctx context.Context) error {
		_, err := orch.Tick(ctx)
		return err
	}, logger))
	manager.Register(worker.NewTickerWorker("escalation_tick", slow, func(ctx context.Context) error {
		_, err := orch.EscalationTick(ctx)
		return err
	}, logger))
	return manager
}
