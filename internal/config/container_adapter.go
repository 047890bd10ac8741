package config

import (
	"fmt"

	"github.com/garyjia/bordereau-engine/internal/application/escalation"
	"github.com/garyjia/bordereau-engine/internal/application/scheduler"
	"github.com/garyjia/bordereau-engine/internal/container"
	"github.com/garyjia/bordereau-engine/internal/domain/entity"
	domainwf "github.com/garyjia/bordereau-engine/internal/domain/workflow"
	"github.com/garyjia/bordereau-engine/internal/infrastructure/external/lark"
	"github.com/garyjia/bordereau-engine/pkg/database"
	"github.com/garyjia/bordereau-engine/pkg/utils"
)

// ToContainerConfig converts the file-based configuration into the
// container's typed configuration, including the roster to seed.
func (c *Config) ToContainerConfig() (*container.Config, error) {
	rules := make([]scheduler.Rule, 0, len(c.Scheduler.AutoTransitions))
	for i, r := range c.Scheduler.AutoTransitions {
		from, err := domainwf.ParseStatus(r.From)
		if err != nil {
			return nil, fmt.Errorf("scheduler.auto_transitions[%d]: %w", i, err)
		}
		to, err := domainwf.ParseStatus(r.To)
		if err != nil {
			return nil, fmt.Errorf("scheduler.auto_transitions[%d]: %w", i, err)
		}
		rules = append(rules, scheduler.Rule{From: from, To: to, After: r.After})
	}

	roster, err := c.roster()
	if err != nil {
		return nil, err
	}

	var larkCfg *lark.Config
	if c.Lark.Enabled {
		larkCfg = &lark.Config{
			AppID:         c.Lark.AppID,
			AppSecret:     c.Lark.AppSecret,
			ReceiveIDType: c.Lark.ReceiveIDType,
		}
	}

	return &container.Config{
		Database: database.Config{
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
			BusyTimeout:     c.Database.BusyTimeout,
		},
		Server: container.ServerConfig{
			Addr:         c.Server.Addr(),
			ReadTimeout:  c.Server.ReadTimeout,
			WriteTimeout: c.Server.WriteTimeout,
			Mode:         c.Server.Mode,
		},
		Scheduler: container.SchedulerConfig{
			Enabled:      c.Scheduler.Enabled,
			FastInterval: c.Scheduler.FastInterval,
			SlowInterval: c.Scheduler.SlowInterval,
			Orchestrator: scheduler.Config{
				BatchSize:   c.Scheduler.BatchSize,
				TickTimeout: c.Scheduler.TickTimeout,
				AutoAssign:  c.Scheduler.AutoAssign,
				Rules:       rules,
			},
		},
		Escalation: escalation.Config{
			DefaultThreshold:    c.Escalation.DefaultAlertThreshold,
			Cooldown:            c.Escalation.Cooldown,
			CriticalOverdueDays: c.Escalation.CriticalOverdueDays,
		},
		Lark:   larkCfg,
		Roster: roster,
	}, nil
}

// LoggerConfig returns the settings for utils.NewLogger
func (c *Config) LoggerConfig() utils.LoggerConfig {
	return utils.LoggerConfig{
		Level:      c.Logger.Level,
		OutputPath: c.Logger.OutputPath,
		Format:     c.Logger.Format,
		Service:    "bordereau-engine",
	}
}

func (c *Config) roster() (container.Roster, error) {
	var r container.Roster
	for _, t := range c.Teams {
		policy, err := entity.ParseOverflowPolicy(t.OverflowPolicy)
		if err != nil {
			return r, fmt.Errorf("team %s: %w", t.ID, err)
		}
		r.Teams = append(r.Teams, &entity.Team{
			ID:             t.ID,
			Name:           orDefault(t.Name, t.ID),
			LeaderID:       t.LeaderID,
			MaxLoad:        t.MaxLoad,
			OverflowPolicy: policy,
			AlertThreshold: t.AlertThreshold,
			Alternates:     t.Alternates,
		})
	}
	for _, a := range c.Agents {
		r.Agents = append(r.Agents, &entity.Agent{
			ID:        a.ID,
			Name:      orDefault(a.Name, a.ID),
			Role:      domainwf.Role(a.Role),
			TeamID:    a.TeamID,
			Capacity:  a.Capacity,
			Active:    a.Active == nil || *a.Active,
			ContactID: a.ContactID,
		})
	}
	for _, cl := range c.Clients {
		r.Clients = append(r.Clients, &entity.Client{
			ID:               cl.ID,
			Name:             orDefault(cl.Name, cl.ID),
			AccountManagerID: cl.AccountManagerID,
			SLADays:          cl.SLADays,
		})
	}
	for _, ct := range c.Contracts {
		r.Contracts = append(r.Contracts, &entity.Contract{
			ID:       ct.ID,
			ClientID: ct.ClientID,
			SLADays:  ct.SLADays,
			Active:   ct.Active == nil || *ct.Active,
		})
	}
	return r, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
