package container

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/garyjia/bordereau-engine/internal/application/capacity"
	"github.com/garyjia/bordereau-engine/internal/application/dispatcher"
	"github.com/garyjia/bordereau-engine/internal/application/escalation"
	"github.com/garyjia/bordereau-engine/internal/application/port"
	"github.com/garyjia/bordereau-engine/internal/application/routing"
	"github.com/garyjia/bordereau-engine/internal/application/scheduler"
	"github.com/garyjia/bordereau-engine/internal/application/workflow"
	"github.com/garyjia/bordereau-engine/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/bordereau-engine/internal/infrastructure/worker"
	"github.com/garyjia/bordereau-engine/pkg/clock"
	"go.uber.org/zap"
)

// Container manages all application dependencies and lifecycle.
// Components are initialized in dependency order and torn down in reverse.
type Container struct {
	config *Config
	logger *zap.Logger
	clock  clock.Clock

	// Infrastructure
	sqlDB        *sql.DB
	db           *sqlite.DB
	repositories *RepositoryBundle
	notifier     port.NotificationDispatcher

	// Application
	dispatcher dispatcher.Dispatcher
	app        *ApplicationBundle
	tracker    *capacity.Tracker

	// Workers
	workers *worker.Manager

	// Lifecycle
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}

	return &Container{
		config: cfg,
		logger: logger,
		clock:  clk,
	}, nil
}

// Start initializes all components in dependency order:
// 1. Database, migrations and repositories
// 2. Roster seeding
// 3. Notifications and event dispatcher
// 4. Workflow engine, routing, escalation and orchestrator
// 5. Tick workers, when the scheduler is enabled
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}

	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.logger.Info("Starting container initialization")

	if err := c.initDatabase(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.logger.Info("Database initialized")

	if err := SeedRoster(c.ctx, c.db, c.repositories, c.config.Roster, c.logger); err != nil {
		return err
	}

	if err := c.initDispatcher(); err != nil {
		return fmt.Errorf("failed to initialize dispatcher: %w", err)
	}
	c.logger.Info("Dispatcher initialized", zap.Bool("lark", c.config.Lark != nil))

	if err := c.initApplication(); err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	c.logger.Info("Application services initialized")

	if c.config.Scheduler.Enabled {
		if err := c.initWorkers(); err != nil {
			return fmt.Errorf("failed to initialize workers: %w", err)
		}
		c.logger.Info("Workers initialized and started")
	}

	c.ready.Store(true)
	c.logger.Info("Container started successfully")

	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")

	var errs []error

	if c.cancel != nil {
		c.cancel()
	}

	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			c.logger.Error("Failed to stop workers", zap.Error(err))
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		} else {
			c.logger.Info("Workers stopped")
		}
	}

	// pending notifications drain before the database goes away
	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			c.logger.Error("Failed to close dispatcher", zap.Error(err))
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		} else {
			c.logger.Info("Dispatcher closed")
		}
	}

	if c.sqlDB != nil {
		if err := c.sqlDB.Close(); err != nil {
			c.logger.Error("Failed to close database", zap.Error(err))
			errs = append(errs, fmt.Errorf("close database: %w", err))
		} else {
			c.logger.Info("Database closed")
		}
	}

	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(errs)))
		return fmt.Errorf("container closed with %d errors", len(errs))
	}

	c.logger.Info("Container closed successfully")
	return nil
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health() *HealthStatus {
	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}
	set := func(name string, h ComponentHealth) {
		status.Components[name] = h
		if !h.Healthy {
			status.Overall = false
		}
	}

	switch {
	case c.sqlDB == nil:
		set("database", ComponentHealth{Message: "not initialized"})
	default:
		if err := c.sqlDB.Ping(); err != nil {
			set("database", ComponentHealth{Message: fmt.Sprintf("ping failed: %v", err)})
		} else {
			set("database", ComponentHealth{Healthy: true})
		}
	}

	switch {
	case !c.config.Scheduler.Enabled:
		set("workers", ComponentHealth{Healthy: true, Message: "scheduler disabled"})
	case c.workers == nil:
		set("workers", ComponentHealth{Message: "not initialized"})
	default:
		set("workers", ComponentHealth{
			Healthy: c.workers.IsRunning(),
			Message: fmt.Sprintf("worker count: %d", c.workers.Count()),
		})
	}

	if c.dispatcher != nil {
		set("dispatcher", ComponentHealth{Healthy: true})
	} else {
		set("dispatcher", ComponentHealth{Message: "not initialized"})
	}

	return status
}

func (c *Container) initDatabase() error {
	dbBundle, err := ProvideDatabase(c.config.Database, c.logger)
	if err != nil {
		return err
	}

	c.sqlDB = dbBundle.SqlDB
	c.db = dbBundle.TxManager

	repos, err := ProvideRepositories(c.sqlDB, c.logger)
	if err != nil {
		_ = c.sqlDB.Close()
		return err
	}

	c.repositories = repos
	return nil
}

func (c *Container) initDispatcher() error {
	c.notifier = ProvideNotifier(c.config.Lark, c.repositories.Roster, c.logger)

	disp, err := ProvideDispatcher(c.notifier, c.logger)
	if err != nil {
		return err
	}
	c.dispatcher = disp
	return nil
}

func (c *Container) initApplication() error {
	app, err := ProvideApplication(&ApplicationDeps{
		Repos:      c.repositories,
		TxManager:  c.db,
		Publisher:  c.dispatcher,
		Clock:      c.clock,
		Escalation: c.config.Escalation,
		Scheduler:  c.config.Scheduler.Orchestrator,
		Logger:     c.logger,
	})
	if err != nil {
		return err
	}
	c.app = app
	c.tracker = capacity.NewTracker(c.repositories.Items)
	return nil
}

func (c *Container) initWorkers() error {
	c.workers = ProvideWorkers(c.app.Orchestrator,
		c.config.Scheduler.FastInterval,
		c.config.Scheduler.SlowInterval,
		c.logger)

	if err := c.workers.StartAll(c.ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	return nil
}

// Getters for accessing container components

// DB returns the transaction manager.
func (c *Container) DB() port.TransactionManager {
	return c.db
}

// Repositories returns all repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// WorkflowEngine returns the workflow engine.
func (c *Container) WorkflowEngine() workflow.WorkflowEngine {
	return c.app.Engine
}

// Router returns the routing engine.
func (c *Container) Router() *routing.Router {
	return c.app.Router
}

// Detector returns the escalation detector.
func (c *Container) Detector() *escalation.Detector {
	return c.app.Detector
}

// Orchestrator returns the scheduler orchestrator.
func (c *Container) Orchestrator() *scheduler.Orchestrator {
	return c.app.Orchestrator
}

// Tracker returns the capacity tracker.
func (c *Container) Tracker() *capacity.Tracker {
	return c.tracker
}

// Workers returns the worker manager; nil when the scheduler is disabled.
func (c *Container) Workers() *worker.Manager {
	return c.workers
}

// Clock returns the time source shared by all components.
func (c *Container) Clock() clock.Clock {
	return c.clock
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *Config {
	return c.config
}

// KVLogger adapts zap.Logger to the key/value Logger interfaces of the
// dispatcher and the HTTP server.
type KVLogger struct {
	logger *zap.Logger
}

func (a *KVLogger) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Info(msg, convertToZapFields(keysAndValues...)...)
}

func (a *KVLogger) Error(msg string, keysAndValues ...interface{}) {
	a.logger.Error(msg, convertToZapFields(keysAndValues...)...)
}

// NewKVLogger wraps logger; nil means a no-op logger
func NewKVLogger(logger *zap.Logger) *KVLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KVLogger{logger: logger}
}

// convertToZapFields converts key-value pairs to zap fields.
func convertToZapFields(keysAndValues ...interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}
