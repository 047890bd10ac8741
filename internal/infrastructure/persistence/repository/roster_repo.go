package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/garyjia/bordereau-engine/internal/application/port"
	"github.com/garyjia/bordereau-engine/internal/domain/entity"
	"github.com/garyjia/bordereau-engine/internal/domain/workflow"
	"github.com/garyjia/bordereau-engine/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// RosterRepository implements port.RosterRepository
type RosterRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRosterRepository creates a new roster repository
func NewRosterRepository(db *sql.DB, logger *zap.Logger) port.RosterRepository {
	return &RosterRepository{
		db:     db,
		logger: logger,
	}
}

const agentColumns = `id, name, role, team_id, capacity, active, contact_id`

// UpsertAgent inserts or replaces an agent
func (r *RosterRepository) UpsertAgent(ctx context.Context, agent *entity.Agent) error {
	query := `
		INSERT INTO agents (id, name, role, team_id, capacity, active, contact_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			role = excluded.role,
			team_id = excluded.team_id,
			capacity = excluded.capacity,
			active = excluded.active,
			contact_id = excluded.contact_id,
			updated_at = CURRENT_TIMESTAMP
	`

	_, err := r.getExecutor(ctx).ExecContext(ctx, query,
		agent.ID, agent.Name, string(agent.Role), agent.TeamID,
		agent.Capacity, agent.Active, agent.ContactID,
	)
	if err != nil {
		r.logger.Error("Failed to upsert agent", zap.String("agent_id", agent.ID), zap.Error(err))
		return fmt.Errorf("failed to upsert agent: %w", err)
	}
	return nil
}

// GetAgent retrieves an agent by ID
func (r *RosterRepository) GetAgent(ctx context.Context, id string) (*entity.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE id = ?`

	agent, err := scanAgent(r.getExecutor(ctx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("agent %s: %w", id, workflow.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return agent, nil
}

// ListAgentsByTeam returns the agents of a team ordered by id
func (r *RosterRepository) ListAgentsByTeam(ctx context.Context, teamID string) ([]*entity.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE team_id = ? ORDER BY id`
	return r.queryAgents(ctx, query, teamID)
}

// ListAgentsByRole returns active agents holding role
func (r *RosterRepository) ListAgentsByRole(ctx context.Context, role workflow.Role) ([]*entity.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE role = ? AND active = 1 ORDER BY id`
	return r.queryAgents(ctx, query, string(role))
}

const teamColumns = `id, name, leader_id, max_load, overflow_policy, alert_threshold, alternates, rr_cursor`

// UpsertTeam inserts or replaces a team. The round-robin cursor is kept.
func (r *RosterRepository) UpsertTeam(ctx context.Context, team *entity.Team) error {
	query := `
		INSERT INTO teams (id, name, leader_id, max_load, overflow_policy, alert_threshold, alternates)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			leader_id = excluded.leader_id,
			max_load = excluded.max_load,
			overflow_policy = excluded.overflow_policy,
			alert_threshold = excluded.alert_threshold,
			alternates = excluded.alternates,
			updated_at = CURRENT_TIMESTAMP
	`

	policy := team.OverflowPolicy
	if policy == "" {
		policy = entity.OverflowLowestLoad
	}

	_, err := r.getExecutor(ctx).ExecContext(ctx, query,
		team.ID, team.Name, team.LeaderID, team.MaxLoad, string(policy),
		team.AlertThreshold, strings.Join(team.Alternates, ","),
	)
	if err != nil {
		r.logger.Error("Failed to upsert team", zap.String("team_id", team.ID), zap.Error(err))
		return fmt.Errorf("failed to upsert team: %w", err)
	}
	return nil
}

// GetTeam retrieves a team by ID
func (r *RosterRepository) GetTeam(ctx context.Context, id string) (*entity.Team, error) {
	query := `SELECT ` + teamColumns + ` FROM teams WHERE id = ?`

	team, err := scanTeam(r.getExecutor(ctx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("team %s: %w", id, workflow.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get team: %w", err)
	}
	return team, nil
}

// ListTeams returns all teams ordered by id
func (r *RosterRepository) ListTeams(ctx context.Context) ([]*entity.Team, error) {
	query := `SELECT ` + teamColumns + ` FROM teams ORDER BY id`

	rows, err := r.getExecutor(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	defer rows.Close()

	var teams []*entity.Team
	for rows.Next() {
		team, err := scanTeam(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan team: %w", err)
		}
		teams = append(teams, team)
	}
	return teams, rows.Err()
}

// SetCursor stores the round-robin cursor
func (r *RosterRepository) SetCursor(ctx context.Context, teamID string, cursor int) error {
	result, err := r.getExecutor(ctx).ExecContext(ctx,
		`UPDATE teams SET rr_cursor = ? WHERE id = ?`, cursor, teamID)
	if err != nil {
		return fmt.Errorf("failed to set cursor: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("team %s: %w", teamID, workflow.ErrNotFound)
	}
	return nil
}

func (r *RosterRepository) queryAgents(ctx context.Context, query string, args ...interface{}) ([]*entity.Agent, error) {
	rows, err := r.getExecutor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	var agents []*entity.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

func scanAgent(s rowScanner) (*entity.Agent, error) {
	var (
		a    entity.Agent
		role string
	)
	if err := s.Scan(&a.ID, &a.Name, &role, &a.TeamID, &a.Capacity, &a.Active, &a.ContactID); err != nil {
		return nil, err
	}
	a.Role = workflow.Role(role)
	return &a, nil
}

func scanTeam(s rowScanner) (*entity.Team, error) {
	var (
		t          entity.Team
		policy     string
		alternates string
	)
	if err := s.Scan(&t.ID, &t.Name, &t.LeaderID, &t.MaxLoad, &policy,
		&t.AlertThreshold, &alternates, &t.RRCursor); err != nil {
		return nil, err
	}
	t.OverflowPolicy = entity.OverflowPolicy(policy)
	if alternates != "" {
		t.Alternates = strings.Split(alternates, ",")
	}
	return &t, nil
}

func (r *RosterRepository) getExecutor(ctx context.Context) sqlite.Executor {
	return sqlite.Conn(ctx, r.db)
}
