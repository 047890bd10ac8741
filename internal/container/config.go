// Package container wires the bordereau engine and owns its lifecycle.
package container

import (
	"fmt"
	"time"

	"github.com/garyjia/bordereau-engine/internal/application/escalation"
	"github.com/garyjia/bordereau-engine/internal/application/scheduler"
	"github.com/garyjia/bordereau-engine/internal/domain/entity"
	"github.com/garyjia/bordereau-engine/internal/infrastructure/external/lark"
	"github.com/garyjia/bordereau-engine/pkg/clock"
	"github.com/garyjia/bordereau-engine/pkg/database"
)

// Config holds all configuration for the Container.
type Config struct {
	Database   database.Config
	Server     ServerConfig
	Scheduler  SchedulerConfig
	Escalation escalation.Config

	// Lark enables IM notifications when set
	Lark *lark.Config

	// Roster is upserted into the store at start
	Roster Roster

	// Clock defaults to the system clock
	Clock clock.Clock
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Mode         string
}

// SchedulerConfig holds the background loop settings.
type SchedulerConfig struct {
	// Enabled starts the tick workers with the container
	Enabled      bool
	FastInterval time.Duration
	SlowInterval time.Duration
	Orchestrator scheduler.Config
}

// Roster is the static organisation loaded from configuration.
type Roster struct {
	Teams     []*entity.Team
	Agents    []*entity.Agent
	Clients   []*entity.Client
	Contracts []*entity.Contract
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: database.Config{
			Path:            "data/bordereau.db",
			MaxOpenConns:    8,
			MaxIdleConns:    4,
			ConnMaxLifetime: 5 * time.Minute,
			BusyTimeout:     5 * time.Second,
		},
		Server: ServerConfig{
			Addr:         "0.0.0.0:8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Mode:         "release",
		},
		Scheduler: SchedulerConfig{
			Enabled:      true,
			FastInterval: 30 * time.Second,
			SlowInterval: time.Hour,
			Orchestrator: scheduler.Config{
				BatchSize:   100,
				TickTimeout: 20 * time.Second,
			},
		},
		Escalation: escalation.DefaultConfig(),
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Scheduler.Enabled && (c.Scheduler.FastInterval <= 0 || c.Scheduler.SlowInterval <= 0) {
		return fmt.Errorf("scheduler intervals must be positive")
	}
	if c.Lark != nil && (c.Lark.AppID == "" || c.Lark.AppSecret == "") {
		return fmt.Errorf("lark app id and secret are required")
	}
	return nil
}
