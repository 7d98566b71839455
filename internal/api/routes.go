package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"schedq/internal/task"
	"schedq/internal/task/scheduler"
	logx "schedq/pkg/logx"
)

const maxBodyBytes = 1 << 20

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, requestLogger(s.log), middleware.Recoverer)

	r.Get("/health", s.health)
	if s.cfg.Pprof {
		r.Mount("/debug", middleware.Profiler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(requireToken(s.cfg.Token))
		r.Get("/stats", s.stats)
		r.Get("/history", s.history)
		r.Post("/snapshot", s.saveSnapshot)

		r.Get("/tasks", s.listTasks)
		r.Post("/tasks", s.createTask)
		r.Get("/tasks/{id}", s.getTask)
		r.Patch("/tasks/{id}", s.patchTask)
		r.Delete("/tasks/{id}", s.deleteTask)
		r.Delete("/groups/{group}", s.deleteGroup)
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	st := s.sched.Stats()
	code := http.StatusOK
	status := "ok"
	if st.State != scheduler.Running {
		code = http.StatusServiceUnavailable
		status = "degraded"
	}
	writeJSON(w, code, map[string]any{"status": status, "scheduler": st.State})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sched.Stats())
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sched.History())
}

func (s *Server) saveSnapshot(w http.ResponseWriter, r *http.Request) {
	if strings.TrimSpace(s.cfg.SnapshotPath) == "" {
		writeError(w, http.StatusConflict, "snapshot path not configured")
		return
	}
	if err := s.sched.SaveSnapshot(r.Context(), s.cfg.SnapshotPath); err != nil {
		s.log.Warn("snapshot via api failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"saved": s.cfg.SnapshotPath})
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	tasks := s.sched.List(strings.TrimSpace(r.URL.Query().Get("group")))
	out := make([]taskView, 0, len(tasks))
	for i := range tasks {
		v := viewTask(&tasks[i])
		if st, ok := s.sched.GetStatus(tasks[i].ID); ok {
			v.Status = viewStatus(st)
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, ok := s.sched.GetStatus(id)
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	resp := struct {
		ID     string      `json:"id"`
		Task   *taskView   `json:"task,omitempty"` // nil while running or after a one-off finished
		Status *statusView `json:"status"`
	}{ID: id, Status: viewStatus(st)}
	for _, t := range s.sched.List("") {
		if t.ID == id {
			v := viewTask(&t)
			resp.Task = &v
			break
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	if s.resolve == nil {
		writeError(w, http.StatusNotImplemented, "task creation disabled")
		return
	}
	var req createRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	t, err := s.buildTask(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.sched.Enqueue(t); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, viewTask(t))
}

func (s *Server) buildTask(req createRequest) (*task.Task, error) {
	action, ok := s.resolve(req.Description)
	if !ok {
		return nil, fmt.Errorf("no action for description %q", req.Description)
	}
	opts := []task.Option{
		task.WithPriority(req.Priority),
		task.WithGroup(req.Group),
		task.WithCron(req.CronExpr),
		task.WithMaxRetries(req.MaxRetries),
		task.WithDependencies(req.Dependencies...),
	}
	if req.ID != "" {
		opts = append(opts, task.WithID(req.ID))
	}
	if req.DueTime != nil {
		opts = append(opts, task.WithDue(*req.DueTime))
	}
	durs := []struct {
		name string
		raw  string
		set  func(time.Duration) task.Option
	}{
		{"delay", req.Delay, task.WithDelay},
		{"interval", req.Interval, task.WithInterval},
		{"timeout", req.Timeout, task.WithTimeout},
	}
	for _, d := range durs {
		if strings.TrimSpace(d.raw) == "" {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.name, err)
		}
		opts = append(opts, d.set(v))
	}
	return task.New(req.Description, action, opts...), nil
}

func (s *Server) patchTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req patchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p := scheduler.Patch{DueTime: req.DueTime, Priority: req.Priority, CronExpr: req.CronExpr}
	if req.Interval != nil {
		d, err := time.ParseDuration(strings.TrimSpace(*req.Interval))
		if err != nil {
			writeError(w, http.StatusBadRequest, "interval: "+err.Error())
			return
		}
		p.Interval = &d
	}
	if _, ok := s.sched.GetStatus(id); !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if !s.sched.Update(id, p) {
		writeError(w, http.StatusConflict, "task is not queued or the patch is invalid")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	if !s.sched.Remove(chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, "task not queued")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteGroup(w http.ResponseWriter, r *http.Request) {
	n := s.sched.RemoveGroup(chi.URLParam(r, "group"))
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
