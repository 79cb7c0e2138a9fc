package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Queryer is satisfied by both *sqlx.DB and *sqlx.Tx.
type Queryer interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
}

type txKey struct{}

type txState struct {
	tx    *sqlx.Tx
	seq   int
	hooks []func()
}

// TxManager runs units of work in a transaction carried through the context.
// Nested calls become savepoints so an inner failure only discards the inner writes.
type TxManager struct {
	db *sqlx.DB
}

// NewTxManager constructs a TxManager.
func NewTxManager(db *sqlx.DB) *TxManager {
	return &TxManager{db: db}
}

// WithinTx executes fn inside a transaction, or inside a savepoint when ctx already carries one.
func (m *TxManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if state := stateFrom(ctx); state != nil {
		return m.withinSavepoint(ctx, state, fn)
	}

	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	state := &txState{tx: tx}
	txCtx := context.WithValue(ctx, txKey{}, state)

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	for _, hook := range state.hooks {
		hook()
	}
	return nil
}

func (m *TxManager) withinSavepoint(ctx context.Context, state *txState, fn func(ctx context.Context) error) error {
	state.seq++
	name := fmt.Sprintf("sp_%d", state.seq)
	if _, err := state.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("create savepoint: %w", err)
	}
	// Hooks registered before this savepoint, including those of released siblings, survive its rollback.
	mark := len(state.hooks)
	err := fn(ctx)
	if err != nil {
		state.hooks = state.hooks[:mark]
		if _, rbErr := state.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return fmt.Errorf("%w (rollback savepoint: %v)", err, rbErr)
		}
		return err
	}
	if _, err := state.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}

// AfterCommit schedules fn to run once the outermost transaction commits.
// Hooks registered inside a savepoint that rolls back are dropped. Without a transaction fn runs immediately.
func AfterCommit(ctx context.Context, fn func()) {
	state := stateFrom(ctx)
	if state == nil {
		fn()
		return
	}
	state.hooks = append(state.hooks, fn)
}

// Conn returns the transaction bound to ctx, falling back to db.
func Conn(ctx context.Context, db *sqlx.DB) Queryer {
	if state := stateFrom(ctx); state != nil {
		return state.tx
	}
	return db
}

// InTx reports whether ctx carries a transaction.
func InTx(ctx context.Context) bool {
	return stateFrom(ctx) != nil
}

func stateFrom(ctx context.Context) *txState {
	if ctx == nil {
		return nil
	}
	state, _ := ctx.Value(txKey{}).(*txState)
	return state
}
