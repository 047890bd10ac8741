package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/garyjia/bordereau-engine/internal/application/port"
	"github.com/garyjia/bordereau-engine/internal/domain/entity"
	"github.com/garyjia/bordereau-engine/internal/domain/workflow"
	"github.com/garyjia/bordereau-engine/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// AlertRepository implements port.AlertRepository
type AlertRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlertRepository creates a new alert state repository
func NewAlertRepository(db *sql.DB, logger *zap.Logger) port.AlertRepository {
	return &AlertRepository{
		db:     db,
		logger: logger,
	}
}

// Get retrieves the state of one alert condition
func (r *AlertRepository) Get(ctx context.Context, kind entity.AlertKind, subjectID string) (*entity.AlertState, error) {
	var (
		st       entity.AlertState
		kindText string
	)
	err := r.getExecutor(ctx).QueryRowContext(ctx, `
		SELECT kind, subject_id, last_alerted_at, active, version
		FROM alert_states WHERE kind = ? AND subject_id = ?
	`, string(kind), subjectID).Scan(&kindText, &st.SubjectID, &st.LastAlertedAt, &st.Active, &st.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("alert %s/%s: %w", kind, subjectID, workflow.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert state: %w", err)
	}
	st.Kind = entity.AlertKind(kindText)
	return &st, nil
}

// Save inserts or version-guards an update of an alert state
func (r *AlertRepository) Save(ctx context.Context, state *entity.AlertState) error {
	exec := r.getExecutor(ctx)

	if state.Version == 0 {
		_, err := exec.ExecContext(ctx, `
			INSERT INTO alert_states (kind, subject_id, last_alerted_at, active, version)
			VALUES (?, ?, ?, ?, 1)
		`, string(state.Kind), state.SubjectID, state.LastAlertedAt.UTC(), state.Active)
		if err != nil {
			// a concurrent writer inserted first
			if isConstraintError(err) {
				return fmt.Errorf("alert %s/%s: %w", state.Kind, state.SubjectID, workflow.ErrStaleState)
			}
			return fmt.Errorf("failed to insert alert state: %w", err)
		}
		state.Version = 1
		return nil
	}

	result, err := exec.ExecContext(ctx, `
		UPDATE alert_states SET last_alerted_at = ?, active = ?, version = version + 1
		WHERE kind = ? AND subject_id = ? AND version = ?
	`, state.LastAlertedAt.UTC(), state.Active, string(state.Kind), state.SubjectID, state.Version)
	if err != nil {
		return fmt.Errorf("failed to update alert state: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("alert %s/%s: %w", state.Kind, state.SubjectID, workflow.ErrStaleState)
	}
	state.Version++
	return nil
}

// ListActive returns the raised alerts of a kind
func (r *AlertRepository) ListActive(ctx context.Context, kind entity.AlertKind) ([]*entity.AlertState, error) {
	rows, err := r.getExecutor(ctx).QueryContext(ctx, `
		SELECT kind, subject_id, last_alerted_at, active, version
		FROM alert_states WHERE kind = ? AND active = 1 ORDER BY subject_id
	`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to list alert states: %w", err)
	}
	defer rows.Close()

	var states []*entity.AlertState
	for rows.Next() {
		var (
			st       entity.AlertState
			kindText string
		)
		if err := rows.Scan(&kindText, &st.SubjectID, &st.LastAlertedAt, &st.Active, &st.Version); err != nil {
			return nil, fmt.Errorf("failed to scan alert state: %w", err)
		}
		st.Kind = entity.AlertKind(kindText)
		states = append(states, &st)
	}
	return states, rows.Err()
}

func (r *AlertRepository) getExecutor(ctx context.Context) sqlite.Executor {
	return sqlite.Conn(ctx, r.db)
}
