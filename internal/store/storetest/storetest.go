// Package storetest provides an in-memory Store for engine and service
// tests. It honors the same guard semantics as the real drivers
// (conditional lock acquire, version bumps, lock-guarded commits) so the
// executor pipeline can be exercised without a database.
package storetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskd/internal/store"
	"taskd/internal/task"
)

type MemStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*task.Task
	logs  map[uuid.UUID]*task.ExecutionLog

	mutexes map[string]mutexRow

	// FailFinish forces FinishAttempt to fail, simulating a commit that
	// never lands (the reaper path).
	FailFinish error
}

type mutexRow struct {
	until    time.Time
	lockedBy string
}

func New() *MemStore {
	return &MemStore{
		tasks:   map[uuid.UUID]*task.Task{},
		logs:    map[uuid.UUID]*task.ExecutionLog{},
		mutexes: map[string]mutexRow{},
	}
}

func (m *MemStore) Close() error { return nil }

func cloneTask(t *task.Task) *task.Task {
	cp := *t
	return &cp
}

func cloneLog(lg *task.ExecutionLog) *task.ExecutionLog {
	cp := *lg
	return &cp
}

// Seed inserts a task as-is (no defaulting) for test setup.
func (m *MemStore) Seed(t *task.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	m.tasks[t.ID] = cloneTask(t)
}

// Logs returns every stored execution log for a task, attempt-ascending.
func (m *MemStore) Logs(taskID uuid.UUID) []*task.ExecutionLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*task.ExecutionLog
	for _, lg := range m.logs {
		if lg.TaskID == taskID {
			out = append(out, cloneLog(lg))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AttemptNumber < out[j].AttemptNumber })
	return out
}

func (m *MemStore) CreateTask(_ context.Context, t *task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
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
	m.tasks[t.ID] = cloneTask(t)
	return nil
}

func (m *MemStore) GetTask(_ context.Context, id uuid.UUID) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneTask(t), nil
}

func (m *MemStore) FindActiveByReference(_ context.Context, referenceID string, typ task.Type) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var newest *task.Task
	for _, t := range m.tasks {
		if t.ReferenceID != referenceID || t.Type != typ || t.Status.Terminal() {
			continue
		}
		if newest == nil || t.CreatedAt.After(newest.CreatedAt) {
			newest = t
		}
	}
	if newest == nil {
		return nil, store.ErrNotFound
	}
	return cloneTask(newest), nil
}

func (m *MemStore) TasksByReference(_ context.Context, referenceID string) ([]*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*task.Task
	for _, t := range m.tasks {
		if t.ReferenceID == referenceID {
			out = append(out, cloneTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemStore) SearchTasks(_ context.Context, f store.SearchFilter) ([]*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*task.Task
	for _, t := range m.tasks {
		if f.ReferenceID != "" && t.ReferenceID != f.ReferenceID {
			continue
		}
		if f.Type != "" && t.Type != f.Type {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		out = append(out, cloneTask(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemStore) Statistics(_ context.Context) (store.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := store.Stats{
		StatusCounts:     map[string]int64{},
		TypeStatusCounts: map[string]map[string]int64{},
	}
	for _, t := range m.tasks {
		st.StatusCounts[string(t.Status)]++
		byType := st.TypeStatusCounts[string(t.Type)]
		if byType == nil {
			byType = map[string]int64{}
			st.TypeStatusCounts[string(t.Type)] = byType
		}
		byType[string(t.Status)]++
	}
	c := st.StatusCounts
	st.PendingCount = c[string(task.StatusPending)] + c[string(task.StatusRetryPending)] + c[string(task.StatusScheduled)]
	st.ProcessingCount = c[string(task.StatusProcessing)]
	st.FailedCount = c[string(task.StatusFailed)] + c[string(task.StatusMaxRetriesExceeded)]
	st.CompletedCount = c[string(task.StatusCompleted)]
	return st, nil
}

func (m *MemStore) FetchDue(_ context.Context, now time.Time, limit int) ([]*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*task.Task
	for _, t := range m.tasks {
		if !t.Status.Executable() {
			continue
		}
		if t.ScheduledTime.After(now) {
			continue
		}
		if t.LockedBy != "" && t.LockedUntil != nil && !t.LockedUntil.Before(now) {
			continue
		}
		if t.ExpiresAt != nil && !t.ExpiresAt.After(now) {
			continue
		}
		out = append(out, cloneTask(t))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ScheduledTime.Before(out[j].ScheduledTime)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemStore) AcquireLock(_ context.Context, id uuid.UUID, instance string, lockUntil, now time.Time, version int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return false, nil
	}
	if t.Version != version {
		return false, nil
	}
	if t.LockedBy != "" && t.LockedUntil != nil && !t.LockedUntil.Before(now) {
		return false, nil
	}
	t.LockedBy = instance
	until := lockUntil
	t.LockedUntil = &until
	t.Status = task.StatusProcessing
	started := now
	t.StartedAt = &started
	t.UpdatedAt = now
	t.Version++
	return true, nil
}

func (m *MemStore) OpenLog(_ context.Context, lg *task.ExecutionLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if lg.ID == uuid.Nil {
		lg.ID = uuid.New()
	}
	m.logs[lg.ID] = cloneLog(lg)
	return nil
}

func (m *MemStore) FinishAttempt(_ context.Context, instance string, t *task.Task, lg *task.ExecutionLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailFinish != nil {
		return m.FailFinish
	}
	cur, ok := m.tasks[t.ID]
	if !ok || cur.LockedBy != instance {
		return store.ErrLockLost
	}
	now := time.Now().UTC()
	version := cur.Version + 1
	cp := cloneTask(t)
	cp.Version = version
	cp.UpdatedAt = now
	m.tasks[t.ID] = cp
	m.logs[lg.ID] = cloneLog(lg)
	t.Version = version
	t.UpdatedAt = now
	return nil
}

func (m *MemStore) UpdateLocked(_ context.Context, instance string, t *task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.tasks[t.ID]
	if !ok || cur.LockedBy != instance {
		return store.ErrLockLost
	}
	now := time.Now().UTC()
	version := cur.Version + 1
	cp := cloneTask(t)
	cp.Version = version
	cp.UpdatedAt = now
	m.tasks[t.ID] = cp
	t.Version = version
	t.UpdatedAt = now
	return nil
}

func (m *MemStore) UpdateUnlocked(_ context.Context, t *task.Task, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.tasks[t.ID]
	if !ok {
		return store.ErrConflict
	}
	if cur.Version != t.Version {
		return store.ErrConflict
	}
	if cur.LockedBy != "" && cur.LockedUntil != nil && !cur.LockedUntil.Before(now) {
		return store.ErrConflict
	}
	version := cur.Version + 1
	cp := cloneTask(t)
	cp.Version = version
	cp.UpdatedAt = now.UTC()
	m.tasks[t.ID] = cp
	t.Version = version
	t.UpdatedAt = now.UTC()
	return nil
}

func (m *MemStore) ListLogs(_ context.Context, taskID uuid.UUID) ([]*task.ExecutionLog, error) {
	logs := m.Logs(taskID)
	sort.Slice(logs, func(i, j int) bool { return logs[i].AttemptNumber > logs[j].AttemptNumber })
	return logs, nil
}

func (m *MemStore) FindStale(_ context.Context, threshold time.Time) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uuid.UUID
	for id, t := range m.tasks {
		if t.LockedBy != "" && t.Status == task.StatusProcessing &&
			t.LockedUntil != nil && t.LockedUntil.Before(threshold) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *MemStore) ResetStale(_ context.Context, ids []uuid.UUID, nextRetry, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, id := range ids {
		t, ok := m.tasks[id]
		if !ok || t.Status != task.StatusProcessing {
			continue
		}
		t.LockedBy = ""
		t.LockedUntil = nil
		t.Status = task.StatusRetryPending
		t.LastError = store.StaleError
		t.ScheduledTime = nextRetry
		t.UpdatedAt = now
		t.Version++
		n++
	}
	return n, nil
}

func (m *MemStore) AcquireMutex(_ context.Context, name, instance string, lease time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	row, ok := m.mutexes[name]
	if ok && row.lockedBy != instance && row.until.After(now) {
		return false, nil
	}
	m.mutexes[name] = mutexRow{until: now.Add(lease), lockedBy: instance}
	return true, nil
}

func (m *MemStore) ReleaseMutex(_ context.Context, name, instance string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.mutexes[name]
	if ok && row.lockedBy == instance {
		row.until = time.Now().UTC()
		m.mutexes[name] = row
	}
	return nil
}

func (m *MemStore) DeleteTerminalBefore(_ context.Context, cutoff time.Time) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var tasksDeleted, logsDeleted int64
	for id, t := range m.tasks {
		if !t.Status.Terminal() || t.CompletedAt == nil || !t.CompletedAt.Before(cutoff) {
			continue
		}
		for lid, lg := range m.logs {
			if lg.TaskID == id {
				delete(m.logs, lid)
				logsDeleted++
			}
		}
		delete(m.tasks, id)
		tasksDeleted++
	}
	return tasksDeleted, logsDeleted, nil
}
