package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"taskd/internal/task"
	logx "taskd/pkg/logx"
)

//go:embed migrations_postgres.sql
var pgMigrations string

// pgStore is the primary driver: row skip-locking comes straight from
// FOR UPDATE SKIP LOCKED, so concurrent replicas fetch disjoint batches.
type pgStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}

	pc, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = int32(cfg.MaxConns)
	}

	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	s := &pgStore{pool: pool, log: log}
	if _, err := pool.Exec(ctx, pgMigrations); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *pgStore) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

const pgTaskColumns = `id, task_type, status, priority, reference_id, secondary_reference_id,
 description, payload, metadata, scheduled_time, expires_at, retry_count, max_retries,
 retry_delay_hours, cron_expression, last_error, last_error_stack_trace, execution_result,
 locked_by, locked_until, version, created_at, updated_at, created_by, started_at,
 completed_at, execution_duration_ms`

type pgRow interface {
	Scan(dest ...any) error
}

func scanPGTask(r pgRow) (*task.Task, error) {
	var (
		t                  task.Task
		typ, status        string
		priority           int
		secondaryRef       *string
		description        *string
		payload, metadata  []byte
		maxRetries         *int
		retryDelayHours    *int
		cronExpr           *string
		lastErr, lastStack *string
		execResult         []byte
		lockedBy           *string
		createdBy          *string
	)
	err := r.Scan(
		&t.ID, &typ, &status, &priority, &t.ReferenceID, &secondaryRef,
		&description, &payload, &metadata, &t.ScheduledTime, &t.ExpiresAt, &t.RetryCount, &maxRetries,
		&retryDelayHours, &cronExpr, &lastErr, &lastStack, &execResult,
		&lockedBy, &t.LockedUntil, &t.Version, &t.CreatedAt, &t.UpdatedAt, &createdBy, &t.StartedAt,
		&t.CompletedAt, &t.ExecutionDurationMs,
	)
	if err != nil {
		return nil, err
	}
	t.Type = task.Type(typ)
	t.Status = task.Status(status)
	t.Priority = task.Priority(priority)
	t.SecondaryReferenceID = deref(secondaryRef)
	t.Description = deref(description)
	t.MaxRetries = maxRetries
	t.RetryDelayHours = retryDelayHours
	t.CronExpression = deref(cronExpr)
	t.LastError = deref(lastErr)
	t.LastErrorStackTrace = deref(lastStack)
	t.LockedBy = deref(lockedBy)
	t.CreatedBy = deref(createdBy)
	if len(payload) > 0 {
		_ = json.Unmarshal(payload, &t.Payload)
	}
	if len(metadata) > 0 {
		_ = json.Unmarshal(metadata, &t.Metadata)
	}
	if len(execResult) > 0 {
		_ = json.Unmarshal(execResult, &t.ExecutionResult)
	}
	return &t, nil
}

func (s *pgStore) CreateTask(ctx context.Context, t *task.Task) error {
	now := time.Now().UTC()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Status == "" {
		t.Status = task.StatusPending
	}
	if t.Priority == 0 {
		t.Priority = task.PriorityNormal
	}
	if t.ScheduledTime.IsZero() {
		t.ScheduledTime = now
	}
	t.CreatedAt = now
	t.UpdatedAt = now
	t.Version = 0

	_, err := s.pool.Exec(ctx, `
		INSERT INTO scheduled_tasks (
			id, task_type, status, priority, reference_id, secondary_reference_id,
			description, payload, metadata, scheduled_time, expires_at, retry_count,
			max_retries, retry_delay_hours, cron_expression, version, created_at,
			updated_at, created_by
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		t.ID, string(t.Type), string(t.Status), int(t.Priority), t.ReferenceID, nullStr(t.SecondaryReferenceID),
		nullStr(t.Description), docJSON(t.Payload), docJSON(t.Metadata), t.ScheduledTime, t.ExpiresAt, t.RetryCount,
		t.MaxRetries, t.RetryDelayHours, nullStr(t.CronExpression), t.Version, t.CreatedAt,
		t.UpdatedAt, nullStr(t.CreatedBy),
	)
	return err
}

func (s *pgStore) GetTask(ctx context.Context, id uuid.UUID) (*task.Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgTaskColumns+` FROM scheduled_tasks WHERE id = $1`, id)
	t, err := scanPGTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

func (s *pgStore) FindActiveByReference(ctx context.Context, referenceID string, typ task.Type) (*task.Task, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+pgTaskColumns+` FROM scheduled_tasks
		WHERE reference_id = $1 AND task_type = $2
		  AND status NOT IN ('COMPLETED','CANCELLED','EXPIRED','MAX_RETRIES_EXCEEDED','DEAD_LETTER')
		ORDER BY created_at DESC
		LIMIT 1`, referenceID, string(typ))
	t, err := scanPGTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

func (s *pgStore) TasksByReference(ctx context.Context, referenceID string) ([]*task.Task, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+pgTaskColumns+` FROM scheduled_tasks
		WHERE reference_id = $1 ORDER BY created_at DESC`, referenceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPGTasks(rows)
}

func (s *pgStore) SearchTasks(ctx context.Context, f SearchFilter) ([]*task.Task, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.ReferenceID != "" {
		add("reference_id = $%d", f.ReferenceID)
	}
	if f.Type != "" {
		add("task_type = $%d", string(f.Type))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	q := `SELECT ` + pgTaskColumns + ` FROM scheduled_tasks`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC`
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	q += fmt.Sprintf(" LIMIT $%d", len(args))
	if f.Offset > 0 {
		args = append(args, f.Offset)
		q += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPGTasks(rows)
}

func collectPGTasks(rows pgx.Rows) ([]*task.Task, error) {
	var out []*task.Task
	for rows.Next() {
		t, err := scanPGTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *pgStore) Statistics(ctx context.Context) (Stats, error) {
	st := Stats{
		StatusCounts:     map[string]int64{},
		TypeStatusCounts: map[string]map[string]int64{},
	}

	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM scheduled_tasks GROUP BY status`)
	if err != nil {
		return st, err
	}
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return st, err
		}
		st.StatusCounts[status] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return st, err
	}

	rows, err = s.pool.Query(ctx, `SELECT task_type, status, COUNT(*) FROM scheduled_tasks GROUP BY task_type, status`)
	if err != nil {
		return st, err
	}
	for rows.Next() {
		var typ, status string
		var n int64
		if err := rows.Scan(&typ, &status, &n); err != nil {
			rows.Close()
			return st, err
		}
		m := st.TypeStatusCounts[typ]
		if m == nil {
			m = map[string]int64{}
			st.TypeStatusCounts[typ] = m
		}
		m[status] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return st, err
	}

	fillSummary(&st)
	return st, nil
}

func fillSummary(st *Stats) {
	c := st.StatusCounts
	st.PendingCount = c[string(task.StatusPending)] + c[string(task.StatusRetryPending)] + c[string(task.StatusScheduled)]
	st.ProcessingCount = c[string(task.StatusProcessing)]
	st.FailedCount = c[string(task.StatusFailed)] + c[string(task.StatusMaxRetriesExceeded)]
	st.CompletedCount = c[string(task.StatusCompleted)]
}

func (s *pgStore) FetchDue(ctx context.Context, now time.Time, limit int) ([]*task.Task, error) {
	// The row locks taken here are released at commit; their job is only to
	// make concurrent fetchers skip each other's candidate rows. Execution
	// ownership is taken afterwards by AcquireLock.
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT `+pgTaskColumns+` FROM scheduled_tasks
		WHERE status IN ('PENDING','SCHEDULED','FAILED','RETRY_PENDING')
		  AND scheduled_time <= $1
		  AND (locked_by IS NULL OR locked_until < $1)
		  AND (expires_at IS NULL OR expires_at > $1)
		ORDER BY priority DESC, scheduled_time ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED`, now, limit)
	if err != nil {
		return nil, err
	}
	tasks, err := collectPGTasks(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (s *pgStore) AcquireLock(ctx context.Context, id uuid.UUID, instance string, lockUntil, now time.Time, version int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE scheduled_tasks
		SET locked_by = $1, locked_until = $2, status = 'PROCESSING',
		    started_at = $3, updated_at = $3, version = version + 1
		WHERE id = $4 AND version = $5
		  AND (locked_by IS NULL OR locked_until < $3)`,
		instance, lockUntil, now, id, version)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *pgStore) OpenLog(ctx context.Context, lg *task.ExecutionLog) error {
	if lg.ID == uuid.Nil {
		lg.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO task_execution_logs (
			id, task_id, attempt_number, status, executor_instance, started_at,
			success, request_payload
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		lg.ID, lg.TaskID, lg.AttemptNumber, string(lg.Status), lg.ExecutorInstance, lg.StartedAt,
		lg.Success, docJSON(lg.RequestPayload),
	)
	return err
}

const pgTaskUpdate = `
	UPDATE scheduled_tasks SET
		status = $1, priority = $2, scheduled_time = $3, expires_at = $4,
		retry_count = $5, last_error = $6, last_error_stack_trace = $7,
		execution_result = $8, locked_by = $9, locked_until = $10,
		started_at = $11, completed_at = $12, execution_duration_ms = $13,
		updated_at = $14, version = version + 1`

func pgTaskUpdateArgs(t *task.Task, now time.Time) []any {
	return []any{
		string(t.Status), int(t.Priority), t.ScheduledTime, t.ExpiresAt,
		t.RetryCount, nullStr(t.LastError), nullStr(t.LastErrorStackTrace),
		docJSONOrNil(t.ExecutionResult), nullStr(t.LockedBy), t.LockedUntil,
		t.StartedAt, t.CompletedAt, t.ExecutionDurationMs,
		now,
	}
}

func (s *pgStore) FinishAttempt(ctx context.Context, instance string, t *task.Task, lg *task.ExecutionLog) error {
	now := time.Now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	args := append(pgTaskUpdateArgs(t, now), t.ID, instance)
	tag, err := tx.Exec(ctx, pgTaskUpdate+` WHERE id = $15 AND locked_by = $16`, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLockLost
	}

	_, err = tx.Exec(ctx, `
		UPDATE task_execution_logs SET
			status = $1, completed_at = $2, duration_ms = $3, success = $4,
			error_message = $5, error_stack_trace = $6, error_type = $7,
			http_status_code = $8, response_payload = $9
		WHERE id = $10`,
		string(lg.Status), lg.CompletedAt, lg.DurationMs, lg.Success,
		nullStr(lg.ErrorMessage), nullStr(lg.ErrorStackTrace), nullStr(lg.ErrorType),
		lg.HTTPStatusCode, docJSONOrNil(lg.ResponsePayload), lg.ID)
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	t.UpdatedAt = now
	t.Version++
	return nil
}

func (s *pgStore) UpdateLocked(ctx context.Context, instance string, t *task.Task) error {
	now := time.Now().UTC()
	args := append(pgTaskUpdateArgs(t, now), t.ID, instance)
	tag, err := s.pool.Exec(ctx, pgTaskUpdate+` WHERE id = $15 AND locked_by = $16`, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLockLost
	}
	t.UpdatedAt = now
	t.Version++
	return nil
}

func (s *pgStore) UpdateUnlocked(ctx context.Context, t *task.Task, now time.Time) error {
	args := append(pgTaskUpdateArgs(t, now.UTC()), t.ID, t.Version, now)
	tag, err := s.pool.Exec(ctx, pgTaskUpdate+`
		WHERE id = $15 AND version = $16
		  AND (locked_by IS NULL OR locked_until < $17)`, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	t.UpdatedAt = now.UTC()
	t.Version++
	return nil
}

func (s *pgStore) ListLogs(ctx context.Context, taskID uuid.UUID) ([]*task.ExecutionLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, task_id, attempt_number, status, executor_instance, started_at,
		       completed_at, duration_ms, success, error_message, error_stack_trace,
		       error_type, http_status_code, request_payload, response_payload
		FROM task_execution_logs
		WHERE task_id = $1
		ORDER BY attempt_number DESC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*task.ExecutionLog
	for rows.Next() {
		var (
			lg                task.ExecutionLog
			status            string
			executor          *string
			errMsg, errStack  *string
			errType           *string
			reqJSON, respJSON []byte
		)
		err := rows.Scan(
			&lg.ID, &lg.TaskID, &lg.AttemptNumber, &status, &executor, &lg.StartedAt,
			&lg.CompletedAt, &lg.DurationMs, &lg.Success, &errMsg, &errStack,
			&errType, &lg.HTTPStatusCode, &reqJSON, &respJSON,
		)
		if err != nil {
			return nil, err
		}
		lg.Status = task.Status(status)
		lg.ExecutorInstance = deref(executor)
		lg.ErrorMessage = deref(errMsg)
		lg.ErrorStackTrace = deref(errStack)
		lg.ErrorType = deref(errType)
		if len(reqJSON) > 0 {
			_ = json.Unmarshal(reqJSON, &lg.RequestPayload)
		}
		if len(respJSON) > 0 {
			_ = json.Unmarshal(respJSON, &lg.ResponsePayload)
		}
		out = append(out, &lg)
	}
	return out, rows.Err()
}

func (s *pgStore) FindStale(ctx context.Context, threshold time.Time) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM scheduled_tasks
		WHERE locked_by IS NOT NULL AND status = 'PROCESSING' AND locked_until < $1`,
		threshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *pgStore) ResetStale(ctx context.Context, ids []uuid.UUID, nextRetry, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE scheduled_tasks SET
			locked_by = NULL, locked_until = NULL, status = 'RETRY_PENDING',
			last_error = $1, scheduled_time = $2, updated_at = $3,
			version = version + 1
		WHERE id = ANY($4) AND status = 'PROCESSING'`,
		StaleError, nextRetry, now, ids)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *pgStore) AcquireMutex(ctx context.Context, name, instance string, lease time.Duration) (bool, error) {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO cluster_mutex (name, lock_until, locked_at, locked_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE SET
			lock_until = EXCLUDED.lock_until,
			locked_at = EXCLUDED.locked_at,
			locked_by = EXCLUDED.locked_by
		WHERE cluster_mutex.lock_until < EXCLUDED.locked_at
		   OR cluster_mutex.locked_by = EXCLUDED.locked_by`,
		name, now.Add(lease), now, instance)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *pgStore) ReleaseMutex(ctx context.Context, name, instance string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE cluster_mutex SET lock_until = locked_at
		WHERE name = $1 AND locked_by = $2`, name, instance)
	return err
}

func (s *pgStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	logTag, err := tx.Exec(ctx, `
		DELETE FROM task_execution_logs WHERE task_id IN (
			SELECT id FROM scheduled_tasks
			WHERE status IN ('COMPLETED','CANCELLED','EXPIRED','MAX_RETRIES_EXCEEDED','DEAD_LETTER')
			  AND completed_at IS NOT NULL AND completed_at < $1
		)`, cutoff)
	if err != nil {
		return 0, 0, err
	}
	taskTag, err := tx.Exec(ctx, `
		DELETE FROM scheduled_tasks
		WHERE status IN ('COMPLETED','CANCELLED','EXPIRED','MAX_RETRIES_EXCEEDED','DEAD_LETTER')
		  AND completed_at IS NOT NULL AND completed_at < $1`, cutoff)
	if err != nil {
		return 0, 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, 0, err
	}
	return taskTag.RowsAffected(), logTag.RowsAffected(), nil
}

// ---- helpers ----

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func docJSON(d task.Document) []byte {
	if d == nil {
		return []byte("{}")
	}
	b, err := json.Marshal(d)
	if err != nil {
		return []byte("{}")
	}
	return b
}

func docJSONOrNil(d task.Document) any {
	if d == nil {
		return nil
	}
	return docJSON(d)
}
