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

// ClientRepository implements port.ClientRepository
type ClientRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewClientRepository creates a new client repository
func NewClientRepository(db *sql.DB, logger *zap.Logger) port.ClientRepository {
	return &ClientRepository{
		db:     db,
		logger: logger,
	}
}

// UpsertClient inserts or replaces a client
func (r *ClientRepository) UpsertClient(ctx context.Context, client *entity.Client) error {
	query := `
		INSERT INTO clients (id, name, account_manager_id, sla_days)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			account_manager_id = excluded.account_manager_id,
			sla_days = excluded.sla_days
	`
	if _, err := r.getExecutor(ctx).ExecContext(ctx, query,
		client.ID, client.Name, client.AccountManagerID, client.SLADays); err != nil {
		r.logger.Error("Failed to upsert client", zap.String("client_id", client.ID), zap.Error(err))
		return fmt.Errorf("failed to upsert client: %w", err)
	}
	return nil
}

// UpsertContract inserts or replaces a contract
func (r *ClientRepository) UpsertContract(ctx context.Context, contract *entity.Contract) error {
	query := `
		INSERT INTO contracts (id, client_id, sla_days, active)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			client_id = excluded.client_id,
			sla_days = excluded.sla_days,
			active = excluded.active
	`
	if _, err := r.getExecutor(ctx).ExecContext(ctx, query,
		contract.ID, contract.ClientID, contract.SLADays, contract.Active); err != nil {
		return fmt.Errorf("failed to upsert contract: %w", err)
	}
	return nil
}

// GetClient retrieves a client by ID
func (r *ClientRepository) GetClient(ctx context.Context, id string) (*entity.Client, error) {
	var c entity.Client
	err := r.getExecutor(ctx).QueryRowContext(ctx,
		`SELECT id, name, account_manager_id, sla_days FROM clients WHERE id = ?`, id,
	).Scan(&c.ID, &c.Name, &c.AccountManagerID, &c.SLADays)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("client %s: %w", id, workflow.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	return &c, nil
}

// SLADays resolves the SLA of a client, preferring an active contract of that client
func (r *ClientRepository) SLADays(ctx context.Context, clientID, contractID string) (int, error) {
	if contractID != "" {
		var days int
		err := r.getExecutor(ctx).QueryRowContext(ctx,
			`SELECT sla_days FROM contracts WHERE id = ? AND client_id = ? AND active = 1`,
			contractID, clientID,
		).Scan(&days)
		switch {
		case err == nil:
			return days, nil
		case !errors.Is(err, sql.ErrNoRows):
			return 0, fmt.Errorf("failed to get contract: %w", err)
		}
	}

	client, err := r.GetClient(ctx, clientID)
	if err != nil {
		return 0, err
	}
	return client.SLADays, nil
}

func (r *ClientRepository) getExecutor(ctx context.Context) sqlite.Executor {
	return sqlite.Conn(ctx, r.db)
}
