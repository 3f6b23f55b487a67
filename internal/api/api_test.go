package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"taskd/internal/manage"
	"taskd/internal/store/storetest"
	"taskd/internal/task"
	logx "taskd/pkg/logx"
)

func newTestAPI(t *testing.T) (*Server, *storetest.MemStore) {
	t.Helper()
	st := storetest.New()
	mgr := manage.New(manage.Config{RetentionDays: 30}, st, nil, logx.Nop())
	return New(Config{Addr: ":0"}, mgr, nil, logx.Nop()), st
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func createBody() map[string]any {
	return map[string]any{
		"taskType":    "ORDER_CANCEL",
		"priority":    "HIGH",
		"referenceId": "ORD-1",
		"payload":     map[string]any{"reason": "damaged"},
	}
}

func TestCreateAndGetTask(t *testing.T) {
	t.Parallel()
	srv, _ := newTestAPI(t)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/v1/tasks", createBody())
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d body=%s", rec.Code, rec.Body.String())
	}
	var created task.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Status != task.StatusPending || created.Priority != task.PriorityHigh {
		t.Fatalf("created = %+v", created)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/tasks/"+created.ID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var got task.Task
	_ = json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Payload["reason"] != "damaged" {
		t.Fatalf("payload round trip: %v", got.Payload)
	}
}

func TestCreateRejectsUnknownType(t *testing.T) {
	t.Parallel()
	srv, _ := newTestAPI(t)
	body := createBody()
	body["taskType"] = "NOT_A_TYPE"

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/tasks", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGetUnknownTaskIs404(t *testing.T) {
	t.Parallel()
	srv, _ := newTestAPI(t)
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/tasks/"+uuid.NewString(), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestCancelConflictMapping(t *testing.T) {
	t.Parallel()
	srv, st := newTestAPI(t)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/v1/tasks", createBody())
	var created task.Task
	_ = json.Unmarshal(rec.Body.Bytes(), &created)

	// Lock the task; cancel must 409.
	now := time.Now().UTC()
	cur, _ := st.GetTask(context.Background(), created.ID)
	if ok, err := st.AcquireLock(context.Background(), created.ID, "r:1", now.Add(time.Hour), now, cur.Version); err != nil || !ok {
		t.Fatalf("seed lock: %v %v", ok, err)
	}

	rec = doJSON(t, h, http.MethodPost,
		fmt.Sprintf("/api/v1/tasks/%s/cancel", created.ID), map[string]string{"reason": "x"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestStateCommandFlow(t *testing.T) {
	t.Parallel()
	srv, _ := newTestAPI(t)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/v1/tasks", createBody())
	var created task.Task
	_ = json.Unmarshal(rec.Body.Bytes(), &created)
	base := "/api/v1/tasks/" + created.ID.String()

	rec = doJSON(t, h, http.MethodPost, base+"/pause", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("pause = %d body=%s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, base+"/resume", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("resume = %d", rec.Code)
	}
	var resumed task.Task
	_ = json.Unmarshal(rec.Body.Bytes(), &resumed)
	if resumed.Status != task.StatusPending {
		t.Fatalf("resumed status = %s", resumed.Status)
	}

	// Retry from PENDING must 409 (only failure states and PAUSED).
	rec = doJSON(t, h, http.MethodPost, base+"/retry", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("retry from PENDING = %d, want 409", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, base+"/cancel", map[string]string{"reason": "done testing"})
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel = %d", rec.Code)
	}

	// Terminal now; pause must 409.
	rec = doJSON(t, h, http.MethodPost, base+"/pause", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("pause terminal = %d, want 409", rec.Code)
	}
}

func TestSearchAndStatistics(t *testing.T) {
	t.Parallel()
	srv, _ := newTestAPI(t)
	h := srv.Handler()

	for i := 0; i < 3; i++ {
		body := createBody()
		body["referenceId"] = fmt.Sprintf("ORD-%d", i)
		rec := doJSON(t, h, http.MethodPost, "/api/v1/tasks", body)
		if rec.Code != http.StatusCreated {
			t.Fatalf("create %d = %d", i, rec.Code)
		}
	}

	rec := doJSON(t, h, http.MethodGet, "/api/v1/tasks?taskType=ORDER_CANCEL&status=PENDING", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("search = %d", rec.Code)
	}
	var tasks []task.Task
	_ = json.Unmarshal(rec.Body.Bytes(), &tasks)
	if len(tasks) != 3 {
		t.Fatalf("search results = %d, want 3", len(tasks))
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/tasks/statistics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("statistics = %d", rec.Code)
	}
	var stats struct {
		PendingCount       int64            `json:"pendingCount"`
		StatusDistribution map[string]int64 `json:"statusDistribution"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &stats)
	if stats.PendingCount != 3 {
		t.Fatalf("pending count = %d", stats.PendingCount)
	}
	if stats.StatusDistribution["PENDING"] != 3 {
		t.Fatalf("distribution = %v", stats.StatusDistribution)
	}
}

func TestBatchCreate(t *testing.T) {
	t.Parallel()
	srv, _ := newTestAPI(t)

	good := createBody()
	bad := createBody()
	bad["referenceId"] = ""

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/tasks/batch", []any{good, bad})
	if rec.Code != http.StatusOK {
		t.Fatalf("batch = %d body=%s", rec.Code, rec.Body.String())
	}
	var out struct {
		Created int `json:"created"`
		Results []struct {
			Error string `json:"error"`
		} `json:"results"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	if out.Created != 1 || len(out.Results) != 2 {
		t.Fatalf("batch outcome = %+v", out)
	}
	if out.Results[1].Error == "" {
		t.Fatal("bad item reported no error")
	}
}

func TestTaskHistoryEndpoint(t *testing.T) {
	t.Parallel()
	srv, st := newTestAPI(t)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/v1/tasks", createBody())
	var created task.Task
	_ = json.Unmarshal(rec.Body.Bytes(), &created)

	lg := &task.ExecutionLog{
		TaskID:           created.ID,
		AttemptNumber:    1,
		Status:           task.StatusCompleted,
		ExecutorInstance: "r:1",
		StartedAt:        time.Now().UTC(),
		Success:          true,
	}
	if err := st.OpenLog(context.Background(), lg); err != nil {
		t.Fatalf("seed log: %v", err)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/tasks/"+created.ID.String()+"/history", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history = %d", rec.Code)
	}
	var out struct {
		ExecutionHistory []task.ExecutionLog `json:"executionHistory"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	if len(out.ExecutionHistory) != 1 || out.ExecutionHistory[0].AttemptNumber != 1 {
		t.Fatalf("history = %+v", out.ExecutionHistory)
	}
}
