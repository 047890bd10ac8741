package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/bordereau-engine/internal/application/port"
	"github.com/garyjia/bordereau-engine/internal/domain/entity"
	"github.com/garyjia/bordereau-engine/internal/domain/workflow"
	"github.com/garyjia/bordereau-engine/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

const workItemColumns = `id, reference, client_id, contract_id, received_at, sla_duration_days,
	status, assigned_agent_id, team_id, closed_at, unit_count, status_changed_at,
	version, created_at, updated_at`

// WorkItemRepository implements port.WorkItemStore
type WorkItemRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewWorkItemRepository creates a new work item repository
func NewWorkItemRepository(db *sql.DB, logger *zap.Logger) port.WorkItemStore {
	return &WorkItemRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new work item
func (r *WorkItemRepository) Create(ctx context.Context, item *entity.WorkItem) error {
	if item.Version == 0 {
		item.Version = 1
	}

	query := `
		INSERT INTO work_items (
			id, reference, client_id, contract_id, received_at, sla_duration_days,
			status, assigned_agent_id, team_id, closed_at, unit_count, status_changed_at,
			version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.getExecutor(ctx).ExecContext(ctx, query,
		item.ID,
		item.Reference,
		item.ClientID,
		item.ContractID,
		item.ReceivedAt.UTC(),
		item.SLADurationDays,
		string(item.Status),
		item.AssignedAgentID,
		item.TeamID,
		nullTime(item.ClosedAt),
		item.UnitCount,
		item.StatusChangedAt.UTC(),
		item.Version,
		item.CreatedAt.UTC(),
		item.UpdatedAt.UTC(),
	)
	if err != nil {
		if isConstraintError(err) {
			return fmt.Errorf("%w: work item %s or reference %q already exists",
				workflow.ErrPreconditionFailed, item.ID, item.Reference)
		}
		r.logger.Error("Failed to create work item", zap.String("item_id", item.ID), zap.Error(err))
		return fmt.Errorf("failed to create work item: %w", err)
	}
	return nil
}

// Get retrieves a work item by ID
func (r *WorkItemRepository) Get(ctx context.Context, id string) (*entity.WorkItem, error) {
	query := `SELECT ` + workItemColumns + ` FROM work_items WHERE id = ?`

	item, err := scanWorkItem(r.getExecutor(ctx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("work item %s: %w", id, workflow.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get work item: %w", err)
	}
	return item, nil
}

// FindCandidates returns the oldest items matching q
func (r *WorkItemRepository) FindCandidates(ctx context.Context, q port.CandidateQuery) ([]*entity.WorkItem, error) {
	if len(q.Statuses) == 0 {
		return nil, nil
	}

	var (
		where []string
		args  []interface{}
	)
	in, inArgs := statusIn(q.Statuses)
	where = append(where, "status IN ("+in+")")
	args = append(args, inArgs...)

	if !q.ChangedBefore.IsZero() {
		where = append(where, "status_changed_at <= ?")
		args = append(args, q.ChangedBefore.UTC())
	}
	if q.WithoutTeam {
		where = append(where, "team_id = ''")
	}

	query := `SELECT ` + workItemColumns + ` FROM work_items WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY status_changed_at ASC, id ASC`
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	return r.queryItems(ctx, query, args...)
}

// AtomicUpdate applies mutate under a version compare-and-swap
func (r *WorkItemRepository) AtomicUpdate(ctx context.Context, id string, expectedVersion int64, mutate port.Mutation) (*entity.WorkItem, error) {
	current, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Version != expectedVersion {
		return nil, fmt.Errorf("work item %s at version %d, expected %d: %w",
			id, current.Version, expectedVersion, workflow.ErrStaleState)
	}

	next := current.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.ID = current.ID
	next.Version = current.Version + 1

	query := `
		UPDATE work_items SET
			status = ?, assigned_agent_id = ?, team_id = ?, closed_at = ?,
			unit_count = ?, status_changed_at = ?, sla_duration_days = ?,
			version = ?, updated_at = ?
		WHERE id = ? AND version = ?
	`

	result, err := r.getExecutor(ctx).ExecContext(ctx, query,
		string(next.Status),
		next.AssignedAgentID,
		next.TeamID,
		nullTime(next.ClosedAt),
		next.UnitCount,
		next.StatusChangedAt.UTC(),
		next.SLADurationDays,
		next.Version,
		next.UpdatedAt.UTC(),
		id,
		expectedVersion,
	)
	if err != nil {
		r.logger.Error("Failed to update work item", zap.String("item_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to update work item: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, fmt.Errorf("work item %s changed concurrently: %w", id, workflow.ErrStaleState)
	}

	return next, nil
}

// ListOpen returns items not yet closed
func (r *WorkItemRepository) ListOpen(ctx context.Context, limit int) ([]*entity.WorkItem, error) {
	query := `SELECT ` + workItemColumns + ` FROM work_items WHERE status <> ? ORDER BY received_at ASC, id ASC`
	args := []interface{}{string(workflow.StatusClosed)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return r.queryItems(ctx, query, args...)
}

// CountByAgent counts items owned by an agent
func (r *WorkItemRepository) CountByAgent(ctx context.Context, agentID string, statuses []workflow.Status) (int, error) {
	return r.count(ctx, "assigned_agent_id", agentID, statuses)
}

// CountByTeam counts items held by a team
func (r *WorkItemRepository) CountByTeam(ctx context.Context, teamID string, statuses []workflow.Status) (int, error) {
	return r.count(ctx, "team_id", teamID, statuses)
}

func (r *WorkItemRepository) count(ctx context.Context, column, id string, statuses []workflow.Status) (int, error) {
	if id == "" || len(statuses) == 0 {
		return 0, nil
	}
	in, args := statusIn(statuses)
	query := `SELECT COUNT(*) FROM work_items WHERE ` + column + ` = ? AND status IN (` + in + `)`

	var n int
	if err := r.getExecutor(ctx).QueryRowContext(ctx, query, append([]interface{}{id}, args...)...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count work items: %w", err)
	}
	return n, nil
}

func (r *WorkItemRepository) queryItems(ctx context.Context, query string, args ...interface{}) ([]*entity.WorkItem, error) {
	rows, err := r.getExecutor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query work items", zap.Error(err))
		return nil, fmt.Errorf("failed to query work items: %w", err)
	}
	defer rows.Close()

	var items []*entity.WorkItem
	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan work item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWorkItem(s rowScanner) (*entity.WorkItem, error) {
	var (
		item     entity.WorkItem
		status   string
		closedAt sql.NullTime
	)
	err := s.Scan(
		&item.ID,
		&item.Reference,
		&item.ClientID,
		&item.ContractID,
		&item.ReceivedAt,
		&item.SLADurationDays,
		&status,
		&item.AssignedAgentID,
		&item.TeamID,
		&closedAt,
		&item.UnitCount,
		&item.StatusChangedAt,
		&item.Version,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	item.Status = workflow.Status(status)
	if closedAt.Valid {
		t := closedAt.Time
		item.ClosedAt = &t
	}
	return &item, nil
}

func statusIn(statuses []workflow.Status) (string, []interface{}) {
	marks := make([]string, len(statuses))
	args := make([]interface{}, len(statuses))
	for i, s := range statuses {
		marks[i] = "?"
		args[i] = string(s)
	}
	return strings.Join(marks, ", "), args
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func (r *WorkItemRepository) getExecutor(ctx context.Context) sqlite.Executor {
	return sqlite.Conn(ctx, r.db)
}
