package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/subramanya1997/agentic-trust-platform/internal/common"
	"github.com/subramanya1997/agentic-trust-platform/internal/metrics"
)

// isConflict reports whether err is a storage conflict worth retrying:
// a uniqueness violation (concurrent first insert of the same remote id) or
// a serialization/deadlock failure from row-level locking.
func isConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "40001", "40P01": // unique_violation, serialization_failure, deadlock_detected
			return true
		}
	}
	// sqlite（测试环境）的约束与锁冲突没有结构化错误码
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "database is locked")
}

// retryOnConflict runs fn up to maxAttempts times, retrying only on storage
// conflicts with exponential backoff (100ms, 200ms, ...). It is agnostic to
// the entity being synced; entity is only used for metrics and the final
// error message. Non-conflict errors abort immediately and are returned
// unchanged; exhausted conflicts surface as a database-kind error wrapping
// the last conflict.
func retryOnConflict(ctx context.Context, entity string, maxAttempts uint, fn func() error) error {
	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(maxAttempts),
		retry.Delay(100*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(isConflict),
		retry.OnRetry(func(n uint, err error) {
			metrics.SyncConflictRetries.WithLabelValues(entity).Inc()
		}),
		retry.LastErrorOnly(true),
	)

	err := r.Do(fn)
	if err == nil {
		return nil
	}
	if isConflict(err) {
		return common.WrapError(common.KindDatabase,
			fmt.Sprintf("failed to sync %s after %d attempts", entity, maxAttempts), err)
	}
	return err
}
