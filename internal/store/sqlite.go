package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"taskd/internal/task"
	logx "taskd/pkg/logx"
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// sqliteStore serves single-replica and development deployments. SQLite has
// no SKIP LOCKED; the claim protocol degrades to the lease-table equivalent:
// FetchDue is a plain read and exclusivity comes entirely from the
// conditional AcquireLock update, which is race-free under SQLite's
// single-writer model.
type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// sqliteTime is fixed-width (no trailing-zero trimming) so that stored UTC
// timestamps compare correctly as strings in SQL predicates.
const sqliteTime = "2006-01-02T15:04:05.000000000Z07:00"

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), sqliteMigrations); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const liteTaskColumns = `id, task_type, status, priority, reference_id, secondary_reference_id,
 description, payload, metadata, scheduled_time, expires_at, retry_count, max_retries,
 retry_delay_hours, cron_expression, last_error, last_error_stack_trace, execution_result,
 locked_by, locked_until, version, created_at, updated_at, created_by, started_at,
 completed_at, execution_duration_ms`

type liteRow interface {
	Scan(dest ...any) error
}

func scanLiteTask(r liteRow) (*task.Task, error) {
	var (
		t                      task.Task
		id, typ, status        string
		priority               int
		secondaryRef, descr    sql.NullString
		payload, metadata      sql.NullString
		scheduled, expires     sql.NullString
		maxRetries, delayHours sql.NullInt64
		cronExpr               sql.NullString
		lastErr, lastStack     sql.NullString
		execResult             sql.NullString
		lockedBy, lockedUntil  sql.NullString
		createdAt, updatedAt   string
		createdBy              sql.NullString
		startedAt, completedAt sql.NullString
		durationMs             sql.NullInt64
	)
	err := r.Scan(
		&id, &typ, &status, &priority, &t.ReferenceID, &secondaryRef,
		&descr, &payload, &metadata, &scheduled, &expires, &t.RetryCount, &maxRetries,
		&delayHours, &cronExpr, &lastErr, &lastStack, &execResult,
		&lockedBy, &lockedUntil, &t.Version, &createdAt, &updatedAt, &createdBy, &startedAt,
		&completedAt, &durationMs,
	)
	if err != nil {
		return nil, err
	}
	t.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("bad task id %q: %w", id, err)
	}
	t.Type = task.Type(typ)
	t.Status = task.Status(status)
	t.Priority = task.Priority(priority)
	t.SecondaryReferenceID = secondaryRef.String
	t.Description = descr.String
	if maxRetries.Valid {
		v := int(maxRetries.Int64)
		t.MaxRetries = &v
	}
	if delayHours.Valid {
		v := int(delayHours.Int64)
		t.RetryDelayHours = &v
	}
	t.CronExpression = cronExpr.String
	t.LastError = lastErr.String
	t.LastErrorStackTrace = lastStack.String
	t.LockedBy = lockedBy.String
	t.CreatedBy = createdBy.String
	if durationMs.Valid {
		t.ExecutionDurationMs = &durationMs.Int64
	}

	if payload.Valid && payload.String != "" {
		_ = json.Unmarshal([]byte(payload.String), &t.Payload)
	}
	if metadata.Valid && metadata.String != "" {
		_ = json.Unmarshal([]byte(metadata.String), &t.Metadata)
	}
	if execResult.Valid && execResult.String != "" {
		_ = json.Unmarshal([]byte(execResult.String), &t.ExecutionResult)
	}

	t.ScheduledTime = parseLiteTime(scheduled.String)
	t.ExpiresAt = parseLiteTimePtr(expires)
	t.LockedUntil = parseLiteTimePtr(lockedUntil)
	t.CreatedAt = parseLiteTime(createdAt)
	t.UpdatedAt = parseLiteTime(updatedAt)
	t.StartedAt = parseLiteTimePtr(startedAt)
	t.CompletedAt = parseLiteTimePtr(completedAt)
	return &t, nil
}

func parseLiteTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	ts, err := time.Parse(sqliteTime, s)
	if err != nil {
		// Tolerate hand-written rows.
		ts, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}
		}
	}
	return ts
}

func parseLiteTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	ts := parseLiteTime(ns.String)
	if ts.IsZero() {
		return nil
	}
	return &ts
}

func fmtLiteTime(ts time.Time) string { return ts.UTC().Format(sqliteTime) }

func fmtLiteTimePtr(ts *time.Time) any {
	if ts == nil {
		return nil
	}
	return fmtLiteTime(*ts)
}

func (s *sqliteStore) CreateTask(ctx context.Context, t *task.Task) error {
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_tasks (
			id, task_type, status, priority, reference_id, secondary_reference_id,
			description, payload, metadata, scheduled_time, expires_at, retry_count,
			max_retries, retry_delay_hours, cron_expression, version, created_at,
			updated_at, created_by
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID.String(), string(t.Type), string(t.Status), int(t.Priority), t.ReferenceID, nullStr(t.SecondaryReferenceID),
		nullStr(t.Description), string(docJSON(t.Payload)), string(docJSON(t.Metadata)), fmtLiteTime(t.ScheduledTime),
		fmtLiteTimePtr(t.ExpiresAt), t.RetryCount,
		nullInt(t.MaxRetries), nullInt(t.RetryDelayHours), nullStr(t.CronExpression), t.Version, fmtLiteTime(t.CreatedAt),
		fmtLiteTime(t.UpdatedAt), nullStr(t.CreatedBy),
	)
	return err
}

func (s *sqliteStore) GetTask(ctx context.Context, id uuid.UUID) (*task.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+liteTaskColumns+` FROM scheduled_tasks WHERE id = ?`, id.String())
	t, err := scanLiteTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

func (s *sqliteStore) FindActiveByReference(ctx context.Context, referenceID string, typ task.Type) (*task.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+liteTaskColumns+` FROM scheduled_tasks
		WHERE reference_id = ? AND task_type = ?
		  AND status NOT IN ('COMPLETED','CANCELLED','EXPIRED','MAX_RETRIES_EXCEEDED','DEAD_LETTER')
		ORDER BY created_at DESC
		LIMIT 1`, referenceID, string(typ))
	t, err := scanLiteTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

func (s *sqliteStore) TasksByReference(ctx context.Context, referenceID string) ([]*task.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+liteTaskColumns+` FROM scheduled_tasks
		WHERE reference_id = ? ORDER BY created_at DESC`, referenceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLiteTasks(rows)
}

func (s *sqliteStore) SearchTasks(ctx context.Context, f SearchFilter) ([]*task.Task, error) {
	var (
		where []string
		args  []any
	)
	if f.ReferenceID != "" {
		where = append(where, "reference_id = ?")
		args = append(args, f.ReferenceID)
	}
	if f.Type != "" {
		where = append(where, "task_type = ?")
		args = append(args, string(f.Type))
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	q := `SELECT ` + liteTaskColumns + ` FROM scheduled_tasks`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC LIMIT ?`
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	if f.Offset > 0 {
		q += ` OFFSET ?`
		args = append(args, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLiteTasks(rows)
}

func collectLiteTasks(rows *sql.Rows) ([]*task.Task, error) {
	var out []*task.Task
	for rows.Next() {
		t, err := scanLiteTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Statistics(ctx context.Context) (Stats, error) {
	st := Stats{
		StatusCounts:     map[string]int64{},
		TypeStatusCounts: map[string]map[string]int64{},
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM scheduled_tasks GROUP BY status`)
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

	rows, err = s.db.QueryContext(ctx, `SELECT task_type, status, COUNT(*) FROM scheduled_tasks GROUP BY task_type, status`)
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

func (s *sqliteStore) FetchDue(ctx context.Context, now time.Time, limit int) ([]*task.Task, error) {
	nowStr := fmtLiteTime(now)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+liteTaskColumns+` FROM scheduled_tasks
		WHERE status IN ('PENDING','SCHEDULED','FAILED','RETRY_PENDING')
		  AND scheduled_time <= ?
		  AND (locked_by IS NULL OR locked_until < ?)
		  AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY priority DESC, scheduled_time ASC
		LIMIT ?`, nowStr, nowStr, nowStr, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLiteTasks(rows)
}

func (s *sqliteStore) AcquireLock(ctx context.Context, id uuid.UUID, instance string, lockUntil, now time.Time, version int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_tasks
		SET locked_by = ?, locked_until = ?, status = 'PROCESSING',
		    started_at = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?
		  AND (locked_by IS NULL OR locked_until < ?)`,
		instance, fmtLiteTime(lockUntil), fmtLiteTime(now), fmtLiteTime(now), id.String(), version, fmtLiteTime(now))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *sqliteStore) OpenLog(ctx context.Context, lg *task.ExecutionLog) error {
	if lg.ID == uuid.Nil {
		lg.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_execution_logs (
			id, task_id, attempt_number, status, executor_instance, started_at,
			success, request_payload
		) VALUES (?,?,?,?,?,?,?,?)`,
		lg.ID.String(), lg.TaskID.String(), lg.AttemptNumber, string(lg.Status), lg.ExecutorInstance,
		fmtLiteTime(lg.StartedAt), lg.Success, string(docJSON(lg.RequestPayload)),
	)
	return err
}

const liteTaskUpdate = `
	UPDATE scheduled_tasks SET
		status = ?, priority = ?, scheduled_time = ?, expires_at = ?,
		retry_count = ?, last_error = ?, last_error_stack_trace = ?,
		execution_result = ?, locked_by = ?, locked_until = ?,
		started_at = ?, completed_at = ?, execution_duration_ms = ?,
		updated_at = ?, version = version + 1`

func liteTaskUpdateArgs(t *task.Task, now time.Time) []any {
	var execResult any
	if t.ExecutionResult != nil {
		execResult = string(docJSON(t.ExecutionResult))
	}
	return []any{
		string(t.Status), int(t.Priority), fmtLiteTime(t.ScheduledTime), fmtLiteTimePtr(t.ExpiresAt),
		t.RetryCount, nullStr(t.LastError), nullStr(t.LastErrorStackTrace),
		execResult, nullStr(t.LockedBy), fmtLiteTimePtr(t.LockedUntil),
		fmtLiteTimePtr(t.StartedAt), fmtLiteTimePtr(t.CompletedAt), nullInt64(t.ExecutionDurationMs),
		fmtLiteTime(now),
	}
}

func (s *sqliteStore) FinishAttempt(ctx context.Context, instance string, t *task.Task, lg *task.ExecutionLog) error {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	args := append(liteTaskUpdateArgs(t, now), t.ID.String(), instance)
	res, err := tx.ExecContext(ctx, liteTaskUpdate+` WHERE id = ? AND locked_by = ?`, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockLost
	}

	var respPayload any
	if lg.ResponsePayload != nil {
		respPayload = string(docJSON(lg.ResponsePayload))
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE task_execution_logs SET
			status = ?, completed_at = ?, duration_ms = ?, success = ?,
			error_message = ?, error_stack_trace = ?, error_type = ?,
			http_status_code = ?, response_payload = ?
		WHERE id = ?`,
		string(lg.Status), fmtLiteTimePtr(lg.CompletedAt), nullInt64(lg.DurationMs), lg.Success,
		nullStr(lg.ErrorMessage), nullStr(lg.ErrorStackTrace), nullStr(lg.ErrorType),
		nullInt(lg.HTTPStatusCode), respPayload, lg.ID.String())
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	t.UpdatedAt = now
	t.Version++
	return nil
}

func (s *sqliteStore) UpdateLocked(ctx context.Context, instance string, t *task.Task) error {
	now := time.Now().UTC()
	args := append(liteTaskUpdateArgs(t, now), t.ID.String(), instance)
	res, err := s.db.ExecContext(ctx, liteTaskUpdate+` WHERE id = ? AND locked_by = ?`, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockLost
	}
	t.UpdatedAt = now
	t.Version++
	return nil
}

func (s *sqliteStore) UpdateUnlocked(ctx context.Context, t *task.Task, now time.Time) error {
	args := append(liteTaskUpdateArgs(t, now.UTC()), t.ID.String(), t.Version, fmtLiteTime(now))
	res, err := s.db.ExecContext(ctx, liteTaskUpdate+`
		WHERE id = ? AND version = ?
		  AND (locked_by IS NULL OR locked_until < ?)`, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	t.UpdatedAt = now.UTC()
	t.Version++
	return nil
}

func (s *sqliteStore) ListLogs(ctx context.Context, taskID uuid.UUID) ([]*task.ExecutionLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, attempt_number, status, executor_instance, started_at,
		       completed_at, duration_ms, success, error_message, error_stack_trace,
		       error_type, http_status_code, request_payload, response_payload
		FROM task_execution_logs
		WHERE task_id = ?
		ORDER BY attempt_number DESC`, taskID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*task.ExecutionLog
	for rows.Next() {
		var (
			lg                     task.ExecutionLog
			id, tid, status        string
			executor               sql.NullString
			started                string
			completed              sql.NullString
			durationMs             sql.NullInt64
			errMsg, errStack       sql.NullString
			errType                sql.NullString
			httpStatus             sql.NullInt64
			reqPayload, resPayload sql.NullString
		)
		err := rows.Scan(
			&id, &tid, &lg.AttemptNumber, &status, &executor, &started,
			&completed, &durationMs, &lg.Success, &errMsg, &errStack,
			&errType, &httpStatus, &reqPayload, &resPayload,
		)
		if err != nil {
			return nil, err
		}
		lg.ID, _ = uuid.Parse(id)
		lg.TaskID, _ = uuid.Parse(tid)
		lg.Status = task.Status(status)
		lg.ExecutorInstance = executor.String
		lg.StartedAt = parseLiteTime(started)
		lg.CompletedAt = parseLiteTimePtr(completed)
		if durationMs.Valid {
			lg.DurationMs = &durationMs.Int64
		}
		lg.ErrorMessage = errMsg.String
		lg.ErrorStackTrace = errStack.String
		lg.ErrorType = errType.String
		if httpStatus.Valid {
			v := int(httpStatus.Int64)
			lg.HTTPStatusCode = &v
		}
		if reqPayload.Valid && reqPayload.String != "" {
			_ = json.Unmarshal([]byte(reqPayload.String), &lg.RequestPayload)
		}
		if resPayload.Valid && resPayload.String != "" {
			_ = json.Unmarshal([]byte(resPayload.String), &lg.ResponsePayload)
		}
		out = append(out, &lg)
	}
	return out, rows.Err()
}

func (s *sqliteStore) FindStale(ctx context.Context, threshold time.Time) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM scheduled_tasks
		WHERE locked_by IS NOT NULL AND status = 'PROCESSING' AND locked_until < ?`,
		fmtLiteTime(threshold))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *sqliteStore) ResetStale(ctx context.Context, ids []uuid.UUID, nextRetry, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := []any{StaleError, fmtLiteTime(nextRetry), fmtLiteTime(now)}
	for _, id := range ids {
		args = append(args, id.String())
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_tasks SET
			locked_by = NULL, locked_until = NULL, status = 'RETRY_PENDING',
			last_error = ?, scheduled_time = ?, updated_at = ?,
			version = version + 1
		WHERE id IN (`+placeholders+`) AND status = 'PROCESSING'`, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *sqliteStore) AcquireMutex(ctx context.Context, name, instance string, lease time.Duration) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO cluster_mutex (name, lock_until, locked_at, locked_by)
		VALUES (?,?,?,?)
		ON CONFLICT (name) DO UPDATE SET
			lock_until = excluded.lock_until,
			locked_at = excluded.locked_at,
			locked_by = excluded.locked_by
		WHERE cluster_mutex.lock_until < excluded.locked_at
		   OR cluster_mutex.locked_by = excluded.locked_by`,
		name, fmtLiteTime(now.Add(lease)), fmtLiteTime(now), instance)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *sqliteStore) ReleaseMutex(ctx context.Context, name, instance string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE cluster_mutex SET lock_until = locked_at
		WHERE name = ? AND locked_by = ?`, name, instance)
	return err
}

func (s *sqliteStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, int64, error) {
	cutoffStr := fmtLiteTime(cutoff)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = tx.Rollback() }()

	logRes, err := tx.ExecContext(ctx, `
		DELETE FROM task_execution_logs WHERE task_id IN (
			SELECT id FROM scheduled_tasks
			WHERE status IN ('COMPLETED','CANCELLED','EXPIRED','MAX_RETRIES_EXCEEDED','DEAD_LETTER')
			  AND completed_at IS NOT NULL AND completed_at < ?
		)`, cutoffStr)
	if err != nil {
		return 0, 0, err
	}
	taskRes, err := tx.ExecContext(ctx, `
		DELETE FROM scheduled_tasks
		WHERE status IN ('COMPLETED','CANCELLED','EXPIRED','MAX_RETRIES_EXCEEDED','DEAD_LETTER')
		  AND completed_at IS NOT NULL AND completed_at < ?`, cutoffStr)
	if err != nil {
		return 0, 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	logs, _ := logRes.RowsAffected()
	tasks, _ := taskRes.RowsAffected()
	return tasks, logs, nil
}

// ---- helpers ----

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
