package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/garyjia/bordereau-engine/internal/application/port"
	"github.com/garyjia/bordereau-engine/internal/domain/entity"
	"github.com/garyjia/bordereau-engine/internal/domain/workflow"
	"github.com/garyjia/bordereau-engine/internal/infrastructure/persistence/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HistoryRepository implements port.HistoryRepository
type HistoryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *sql.DB, logger *zap.Logger) port.HistoryRepository {
	return &HistoryRepository{
		db:     db,
		logger: logger,
	}
}

// Append adds a record at the end of the item's trail
func (r *HistoryRepository) Append(ctx context.Context, record *entity.TransitionRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}

	query := `
		INSERT INTO transition_records (
			id, seq, work_item_id, from_status, to_status, actor_id, actor_role,
			timestamp, reason, agent_id, team_id, prev_agent_id, override
		) VALUES (
			?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM transition_records WHERE work_item_id = ?),
			?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		)
	`

	_, err := r.getExecutor(ctx).ExecContext(ctx, query,
		record.ID,
		record.WorkItemID,
		record.WorkItemID,
		string(record.FromStatus),
		string(record.ToStatus),
		record.ActorID,
		string(record.ActorRole),
		record.Timestamp.UTC(),
		record.Reason,
		record.AgentID,
		record.TeamID,
		record.PrevAgentID,
		record.Override,
	)
	if err != nil {
		r.logger.Error("Failed to append transition record",
			zap.String("item_id", record.WorkItemID), zap.Error(err))
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

// ListByItem returns the trail of an item in order
func (r *HistoryRepository) ListByItem(ctx context.Context, itemID string) ([]*entity.TransitionRecord, error) {
	query := `
		SELECT id, work_item_id, from_status, to_status, actor_id, actor_role,
			timestamp, reason, agent_id, team_id, prev_agent_id, override
		FROM transition_records
		WHERE work_item_id = ?
		ORDER BY seq ASC
	`

	rows, err := r.getExecutor(ctx).QueryContext(ctx, query, itemID)
	if err != nil {
		r.logger.Error("Failed to list history", zap.String("item_id", itemID), zap.Error(err))
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	defer rows.Close()

	var records []*entity.TransitionRecord
	for rows.Next() {
		var (
			rec       entity.TransitionRecord
			from, to  string
			actorRole string
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.WorkItemID,
			&from,
			&to,
			&rec.ActorID,
			&actorRole,
			&rec.Timestamp,
			&rec.Reason,
			&rec.AgentID,
			&rec.TeamID,
			&rec.PrevAgentID,
			&rec.Override,
		); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		rec.FromStatus = workflow.Status(from)
		rec.ToStatus = workflow.Status(to)
		rec.ActorRole = workflow.Role(actorRole)
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// CompletedAgentsForClient ranks agents by items of the client they processed
func (r *HistoryRepository) CompletedAgentsForClient(ctx context.Context, clientID string) ([]string, error) {
	query := `
		SELECT h.prev_agent_id, COUNT(*) AS done
		FROM transition_records h
		JOIN work_items w ON w.id = h.work_item_id
		WHERE w.client_id = ?
			AND h.from_status = ?
			AND h.to_status = ?
			AND h.prev_agent_id <> ''
		GROUP BY h.prev_agent_id
		ORDER BY done DESC, h.prev_agent_id ASC
	`

	rows, err := r.getExecutor(ctx).QueryContext(ctx, query,
		clientID, string(workflow.StatusInProgress), string(workflow.StatusProcessed))
	if err != nil {
		return nil, fmt.Errorf("failed to query specialists: %w", err)
	}
	defer rows.Close()

	var agents []string
	for rows.Next() {
		var (
			id   string
			done int
		)
		if err := rows.Scan(&id, &done); err != nil {
			return nil, fmt.Errorf("failed to scan specialist: %w", err)
		}
		agents = append(agents, id)
	}
	return agents, rows.Err()
}

func (r *HistoryRepository) getExecutor(ctx context.Context) sqlite.Executor {
	return sqlite.Conn(ctx, r.db)
}
