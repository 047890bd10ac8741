package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/garyjia/bordereau-engine/internal/application/port"
	"go.uber.org/zap"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const txKey contextKey = "tx"

// txState is stored in the context of a running transaction
type txState struct {
	tx *sql.Tx
	// done is set once the transaction is committed or rolled back
	done atomic.Bool

	mu    sync.Mutex
	hooks []func()
}

// DB wraps sql.DB and implements TransactionManager
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database wrapper
func NewDB(sqlDB *sql.DB, logger *zap.Logger) *DB {
	return &DB{
		DB:     sqlDB,
		logger: logger,
	}
}

// WithTransaction implements port.TransactionManager.
// Nested calls reuse the transaction already carried by ctx.
func (db *DB) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if st := extractState(ctx); st != nil {
		return fn(ctx)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		db.logger.Error("Failed to begin transaction", zap.Error(err))
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	st := &txState{tx: tx}
	txCtx := context.WithValue(ctx, txKey, st)

	defer func() {
		st.done.Store(true)
		if p := recover(); p != nil {
			_ = tx.Rollback()
			db.logger.Error("Transaction panicked, rolled back", zap.Any("panic", p))
			panic(p)
		}
	}()

	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.logger.Error("Failed to rollback transaction", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		db.logger.Error("Failed to commit transaction", zap.Error(err))
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	st.done.Store(true)

	st.mu.Lock()
	hooks := st.hooks
	st.hooks = nil
	st.mu.Unlock()
	for _, h := range hooks {
		db.runHook(h)
	}

	return nil
}

// AfterCommit implements port.TransactionManager
func (db *DB) AfterCommit(ctx context.Context, fn func()) {
	st := extractState(ctx)
	if st == nil {
		db.runHook(fn)
		return
	}
	st.mu.Lock()
	st.hooks = append(st.hooks, fn)
	st.mu.Unlock()
}

func (db *DB) runHook(fn func()) {
	defer func() {
		if p := recover(); p != nil {
			db.logger.Error("After-commit hook panicked", zap.Any("panic", p))
		}
	}()
	fn()
}

func extractState(ctx context.Context) *txState {
	if st, ok := ctx.Value(txKey).(*txState); ok && !st.done.Load() {
		return st
	}
	return nil
}

// Executor covers both *sql.DB and *sql.Tx
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Conn returns the transaction carried by ctx, or db
func Conn(ctx context.Context, db *sql.DB) Executor {
	if st := extractState(ctx); st != nil {
		return st.tx
	}
	return db
}

// Verify interface compliance
var _ port.TransactionManager = (*DB)(nil)
