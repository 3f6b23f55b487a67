package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskd/internal/task"
	logx "taskd/pkg/logx"
)

var (
	ErrNotFound = errors.New("store: not found")

	// ErrLockLost is returned when a guarded write matches no row: the
	// caller's lock was reaped or the row changed underneath it. The caller
	// must abandon the attempt; the reaper owns recovery.
	ErrLockLost = errors.New("store: lock lost")

	// ErrConflict is returned when an optimistic (version-guarded) write
	// matches no row.
	ErrConflict = errors.New("store: version conflict")
)

type Config struct {
	Driver string
	DSN    string
	Path   string

	MaxConns    int
	BusyTimeout time.Duration
}

// SearchFilter narrows task searches. Zero values mean "any".
type SearchFilter struct {
	ReferenceID string
	Type        task.Type
	Status      task.Status
	Limit       int
	Offset      int
}

// Stats mirrors the operator statistics surface.
type Stats struct {
	StatusCounts     map[string]int64            `json:"statusDistribution"`
	TypeStatusCounts map[string]map[string]int64 `json:"typeStatusDistribution"`

	PendingCount    int64 `json:"pendingCount"`
	ProcessingCount int64 `json:"processingCount"`
	FailedCount     int64 `json:"failedCount"`
	CompletedCount  int64 `json:"completedCount"`
}

// Store is the persistence contract the engine needs:
//
//   - FetchDue: atomic skip-locked batch selection (S1).
//   - AcquireLock / FinishAttempt / UpdateUnlocked: conditional updates that
//     bump the optimistic version (S2).
//   - AcquireMutex / ReleaseMutex: cluster-wide named lease (S3).
//   - Single-row reads observe this replica's own writes (S4).
type Store interface {
	Close() error

	// CreateTask inserts a new row, filling ID (if zero), CreatedAt,
	// UpdatedAt and Version.
	CreateTask(ctx context.Context, t *task.Task) error
	GetTask(ctx context.Context, id uuid.UUID) (*task.Task, error)

	// FindActiveByReference returns the newest non-terminal task for
	// (referenceID, type), or ErrNotFound.
	FindActiveByReference(ctx context.Context, referenceID string, typ task.Type) (*task.Task, error)
	TasksByReference(ctx context.Context, referenceID string) ([]*task.Task, error)
	SearchTasks(ctx context.Context, f SearchFilter) ([]*task.Task, error)
	Statistics(ctx context.Context) (Stats, error)

	// FetchDue selects up to limit ready tasks (executable status, due,
	// unlocked-or-expired lock, unexpired), ordered by priority desc then
	// scheduled_time asc, skipping rows locked by concurrent fetchers.
	FetchDue(ctx context.Context, now time.Time, limit int) ([]*task.Task, error)

	// AcquireLock performs the conditional lock-acquire update. It returns
	// false (no error) when the row was already locked or the version moved.
	AcquireLock(ctx context.Context, id uuid.UUID, instance string, lockUntil, now time.Time, version int64) (bool, error)

	// OpenLog inserts an attempt log row in PROCESSING state.
	OpenLog(ctx context.Context, lg *task.ExecutionLog) error

	// FinishAttempt commits an attempt: the task row (all mutable fields,
	// version bumped) and the closed log row are written in one transaction,
	// guarded by locked_by = instance. Returns ErrLockLost when the guard
	// fails; nothing is written in that case.
	FinishAttempt(ctx context.Context, instance string, t *task.Task, lg *task.ExecutionLog) error

	// UpdateLocked writes the task row under the executor's lock guard
	// (locked_by = instance), bumping the version. Used for transitions that
	// have no attempt log (expiry, non-executable unlock).
	UpdateLocked(ctx context.Context, instance string, t *task.Task) error

	// UpdateUnlocked writes the task row guarded by version match AND
	// absence of a live lock at now. Used by operator state commands.
	// Returns ErrConflict when the guard fails.
	UpdateUnlocked(ctx context.Context, t *task.Task, now time.Time) error

	ListLogs(ctx context.Context, taskID uuid.UUID) ([]*task.ExecutionLog, error)

	// FindStale returns ids of PROCESSING tasks whose lock expired before
	// threshold.
	FindStale(ctx context.Context, threshold time.Time) ([]uuid.UUID, error)

	// ResetStale bulk-resets the given tasks to RETRY_PENDING with the
	// synthetic crash error, clearing locks. Returns rows affected; a
	// second reset of already-reset ids is a no-op.
	ResetStale(ctx context.Context, ids []uuid.UUID, nextRetry, now time.Time) (int64, error)

	// AcquireMutex takes or renews the named cluster lease for this
	// instance. It returns false while another instance holds an unexpired
	// lease.
	AcquireMutex(ctx context.Context, name, instance string, lease time.Duration) (bool, error)
	ReleaseMutex(ctx context.Context, name, instance string) error

	// DeleteTerminalBefore removes terminal tasks completed before cutoff
	// and their logs.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (tasks int64, logs int64, err error)
}

// StaleError is the synthetic last_error written by the reaper.
const StaleError = "Task execution timed out or instance crashed"

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "postgres", "pgx":
		return openPostgres(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown store driver: " + driver)
	}
}
