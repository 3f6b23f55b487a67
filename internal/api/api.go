// Package api is the operator HTTP surface: task CRUD, state commands,
// statistics and the metrics endpoint. It is a thin JSON layer over
// internal/manage; the engine itself never depends on it.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"taskd/internal/manage"
	"taskd/internal/store"
	"taskd/internal/task"
	logx "taskd/pkg/logx"
)

type Config struct {
	Addr string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type Server struct {
	cfg Config
	mgr *manage.Service
	log logx.Logger

	srv *http.Server
}

func New(cfg Config, mgr *manage.Service, metricsHandler http.Handler, log logx.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{cfg: cfg, mgr: mgr, log: log.With(logx.String("comp", "api"))}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Route("/api/v1/tasks", func(r chi.Router) {
		r.Post("/", s.createTask)
		r.Post("/batch", s.createBatch)
		r.Get("/", s.searchTasks)
		r.Get("/statistics", s.statistics)
		r.Get("/reference/{referenceID}", s.tasksByReference)

		r.Route("/{taskID}", func(r chi.Router) {
			r.Get("/", s.getTask)
			r.Get("/history", s.getTaskHistory)
			r.Post("/cancel", s.cancelTask)
			r.Post("/pause", s.pauseTask)
			r.Post("/resume", s.resumeTask)
			r.Post("/retry", s.retryTask)
			r.Post("/retry-now", s.retryTaskNow)
		})
	})

	r.Post("/api/v1/admin/cleanup", s.cleanup)

	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 15 * time.Second
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}
	idleTimeout := cfg.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = time.Minute
	}

	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
	return s
}

// Start begins serving. It returns once the listener stops.
func (s *Server) Start() error {
	s.log.Info("api listening", logx.String("addr", s.cfg.Addr))
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// ---- DTOs ----

type createTaskRequest struct {
	TaskType             string        `json:"taskType"`
	Priority             string        `json:"priority,omitempty"`
	ReferenceID          string        `json:"referenceId"`
	SecondaryReferenceID string        `json:"secondaryReferenceId,omitempty"`
	Description          string        `json:"description,omitempty"`
	Payload              task.Document `json:"payload,omitempty"`
	Metadata             task.Document `json:"metadata,omitempty"`
	ScheduledTime        *time.Time    `json:"scheduledTime,omitempty"`
	ExpiresAt            *time.Time    `json:"expiresAt,omitempty"`
	MaxRetries           *int          `json:"maxRetries,omitempty"`
	RetryDelayHours      *int          `json:"retryDelayHours,omitempty"`
	CronExpression       string        `json:"cronExpression,omitempty"`
	CreatedBy            string        `json:"createdBy,omitempty"`
	PreventDuplicates    bool          `json:"preventDuplicates,omitempty"`
}

func (r createTaskRequest) toManage() (manage.CreateRequest, error) {
	typ, err := task.ParseType(r.TaskType)
	if err != nil {
		return manage.CreateRequest{}, err
	}
	prio, err := task.ParsePriority(r.Priority)
	if err != nil {
		return manage.CreateRequest{}, err
	}
	return manage.CreateRequest{
		Type:                 typ,
		Priority:             prio,
		ReferenceID:          r.ReferenceID,
		SecondaryReferenceID: r.SecondaryReferenceID,
		Description:          r.Description,
		Payload:              r.Payload,
		Metadata:             r.Metadata,
		ScheduledTime:        r.ScheduledTime,
		ExpiresAt:            r.ExpiresAt,
		MaxRetries:           r.MaxRetries,
		RetryDelayHours:      r.RetryDelayHours,
		CronExpression:       r.CronExpression,
		CreatedBy:            r.CreatedBy,
		PreventDuplicates:    r.PreventDuplicates,
	}, nil
}

type taskWithHistory struct {
	*task.Task
	ExecutionHistory []*task.ExecutionLog `json:"executionHistory"`
}

type apiError struct {
	Error string `json:"error"`
}

// ---- handlers ----

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid JSON: " + err.Error()})
		return
	}
	mreq, err := req.toManage()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
		return
	}
	t, err := s.mgr.Create(r.Context(), mreq)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) createBatch(w http.ResponseWriter, r *http.Request) {
	var reqs []createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid JSON: " + err.Error()})
		return
	}

	mreqs := make([]manage.CreateRequest, 0, len(reqs))
	for _, req := range reqs {
		mreq, err := req.toManage()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
			return
		}
		mreqs = append(mreqs, mreq)
	}

	results := s.mgr.CreateBatch(r.Context(), mreqs)
	type batchItem struct {
		Task  *task.Task `json:"task,omitempty"`
		Error string     `json:"error,omitempty"`
	}
	out := make([]batchItem, 0, len(results))
	created := 0
	for _, res := range results {
		item := batchItem{Task: res.Task}
		if res.Err != nil {
			item.Error = res.Err.Error()
		} else {
			created++
		}
		out = append(out, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"created": created, "results": out})
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	id, ok := s.taskID(w, r)
	if !ok {
		return
	}
	t, err := s.mgr.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) getTaskHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := s.taskID(w, r)
	if !ok {
		return
	}
	t, logs, err := s.mgr.GetWithLogs(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if logs == nil {
		logs = []*task.ExecutionLog{}
	}
	writeJSON(w, http.StatusOK, taskWithHistory{Task: t, ExecutionHistory: logs})
}

func (s *Server) tasksByReference(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "referenceID")
	tasks, err := s.mgr.ByReference(r.Context(), ref)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if tasks == nil {
		tasks = []*task.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) searchTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.SearchFilter{ReferenceID: q.Get("referenceId")}

	if raw := q.Get("taskType"); raw != "" {
		typ, err := task.ParseType(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
			return
		}
		f.Type = typ
	}
	if raw := q.Get("status"); raw != "" {
		st, err := task.ParseStatus(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
			return
		}
		f.Status = st
	}
	f.Limit = intQuery(q.Get("limit"), 50)
	f.Offset = intQuery(q.Get("offset"), 0)

	tasks, err := s.mgr.Search(r.Context(), f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if tasks == nil {
		tasks = []*task.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.mgr.Statistics(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request) {
	id, ok := s.taskID(w, r)
	if !ok {
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	t, err := s.mgr.Cancel(r.Context(), id, body.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) pauseTask(w http.ResponseWriter, r *http.Request) {
	id, ok := s.taskID(w, r)
	if !ok {
		return
	}
	t, err := s.mgr.Pause(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) resumeTask(w http.ResponseWriter, r *http.Request) {
	id, ok := s.taskID(w, r)
	if !ok {
		return
	}
	t, err := s.mgr.Resume(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) retryTask(w http.ResponseWriter, r *http.Request) {
	id, ok := s.taskID(w, r)
	if !ok {
		return
	}
	var body struct {
		ScheduledTime *time.Time `json:"scheduledTime"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	t, err := s.mgr.Retry(r.Context(), id, body.ScheduledTime)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) retryTaskNow(w http.ResponseWriter, r *http.Request) {
	id, ok := s.taskID(w, r)
	if !ok {
		return
	}
	t, err := s.mgr.RetryNow(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, t)
}

func (s *Server) cleanup(w http.ResponseWriter, r *http.Request) {
	tasks, logs, err := s.mgr.Cleanup(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"tasksDeleted": tasks, "logsDeleted": logs})
}

// ---- helpers ----

func (s *Server) taskID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "taskID")
	id, err := uuid.Parse(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid task id: " + raw})
		return uuid.Nil, false
	}
	return id, true
}

// writeError maps the domain error taxonomy onto HTTP statuses:
// not-found 404, duplicate/invalid-state/conflict 409, validation 400,
// everything else 502 (the store or a downstream dependency failed us).
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, apiError{Error: "task not found"})
	case errors.Is(err, manage.ErrValidation):
		writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
	case errors.Is(err, manage.ErrInvalidState),
		errors.Is(err, manage.ErrLocked),
		errors.Is(err, manage.ErrDuplicate),
		errors.Is(err, store.ErrConflict):
		writeJSON(w, http.StatusConflict, apiError{Error: err.Error()})
	default:
		s.log.Error("request failed", logx.Err(err))
		writeJSON(w, http.StatusBadGateway, apiError{Error: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func intQuery(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
