package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/nexuscrm/mycrm/internal/infrastructure/database"
	"go.uber.org/zap"
)

type txContextKey struct{}

// InjectTx returns ctx carrying tx. Repositories given that ctx run inside tx.
func InjectTx(ctx context.Context, tx *database.Tx) context.Context {
	return context.WithValue(ctx, txContextKey{}, tx)
}

// ExtractTx returns the transaction carried by ctx, if any.
func ExtractTx(ctx context.Context) *database.Tx {
	tx, _ := ctx.Value(txContextKey{}).(*database.Tx)
	return tx
}

func executor(ctx context.Context, db *database.DB) database.Executor {
	if tx := ExtractTx(ctx); tx != nil {
		return tx
	}
	return db
}

// TransactionManager runs units of work in a context-carried transaction.
type TransactionManager struct {
	db     *database.DB
	logger *zap.Logger
}

func NewTransactionManager(db *database.DB, logger *zap.Logger) *TransactionManager {
	return &TransactionManager{db: db, logger: logger}
}

// WithTransaction runs fn in a transaction. Nested calls join the outermost
// transaction, which alone commits or rolls back. A panic in fn rolls back
// and is re-raised.
func (tm *TransactionManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if ExtractTx(ctx) != nil {
		return fn(ctx)
	}

	tx, err := tm.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			err = fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
	}()

	if err = fn(InjectTx(ctx, tx)); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

// WithRetry is WithTransaction that re-runs fn when the transaction loses a
// lock conflict, backing off 100ms, 200ms, 400ms... between attempts. fn must
// be safe to run more than once.
func (tm *TransactionManager) WithRetry(ctx context.Context, fn func(ctx context.Context) error, attempts int) error {
	attempts = max(attempts, 1)
	backoff := 100 * time.Millisecond

	var err error
	for attempt := 1; ; attempt++ {
		if err = tm.WithTransaction(ctx, fn); err == nil || !isLockConflict(err) {
			return err
		}
		if attempt == attempts {
			return fmt.Errorf("transaction failed after %d attempts: %w", attempts, err)
		}
		tm.logger.Warn("Transaction lost a lock conflict, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
		backoff *= 2
	}
}

// MySQL server error numbers.
const (
	erDupEntry        = 1062
	erLockWaitTimeout = 1205
	erLockDeadlock    = 1213
)

func mysqlErrno(err error) (uint16, bool) {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number, true
	}
	return 0, false
}

func isLockConflict(err error) bool {
	if err == nil {
		return false
	}
	if n, ok := mysqlErrno(err); ok {
		return n == erLockDeadlock || n == erLockWaitTimeout
	}
	// TiDB reports some write conflicts without a MySQL error number.
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "deadlock") || strings.Contains(msg, "lock wait timeout")
}

// IsDuplicateEntry reports whether err is a unique key violation.
func IsDuplicateEntry(err error) bool {
	n, ok := mysqlErrno(err)
	return ok && n == erDupEntry
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
