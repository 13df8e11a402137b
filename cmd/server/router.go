package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/Paddel87/AIMA-sub000/internal/platform/metrics"
	"github.com/Paddel87/AIMA-sub000/internal/task"
)

// submitRequest is the wire shape of a task submission. Only the type
// shape is validated here; deeper payload validation belongs to the
// caller.
type submitRequest struct {
	Name       string         `json:"name"`
	Function   string         `json:"function"`
	Args       []any          `json:"args"`
	Kwargs     map[string]any `json:"kwargs"`
	Queue      string         `json:"queue"`
	Priority   string         `json:"priority"`
	Context    task.Context   `json:"context"`
	ExecuteAt  *time.Time     `json:"execute_at"`
	MaxRetries *int           `json:"max_retries"`
	RetryDelay *int           `json:"retry_delay_seconds"`
	TimeoutSec *int           `json:"timeout_seconds"`
	DependsOn  []uuid.UUID    `json:"depends_on"`
}

// newRouter builds the ops and control-surface HTTP routes.
func newRouter(service *task.Service, recorder *metrics.Recorder, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", recorder.Handler())

	r.Route("/tasks", func(r chi.Router) {
		r.Post("/", handleSubmit(service, logger))
		r.Get("/", handleList(service, logger))
		r.Get("/{id}", handleGet(service, logger))
		r.Post("/{id}/cancel", handleCancel(service, logger))
		r.Post("/{id}/retry", handleRetry(service, logger))
	})
	r.Get("/queues/stats", handleStats(service, logger))

	return r
}

func handleSubmit(service *task.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		opts := buildOptions(req)
		t, err := task.NewTask(req.Name, req.Function, req.Args, req.Kwargs, opts...)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		id, err := service.Submit(r.Context(), t)
		if err != nil {
			if errors.Is(err, task.ErrQueueFull) {
				writeError(w, http.StatusServiceUnavailable, err.Error())
				return
			}
			logger.Error("submit failed", "error", err)
			writeError(w, http.StatusInternalServerError, "submission failed")
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]string{"task_id": id.String()})
	}
}

func buildOptions(req submitRequest) []task.Option {
	var opts []task.Option
	if req.Queue != "" {
		opts = append(opts, task.WithQueue(task.Queue(req.Queue)))
	}
	if req.Priority != "" {
		if p, ok := task.ParsePriority(req.Priority); ok {
			opts = append(opts, task.WithPriority(p))
		}
	}
	opts = append(opts, task.WithContext(req.Context))
	if req.ExecuteAt != nil {
		opts = append(opts, task.WithExecuteAt(*req.ExecuteAt))
	}
	if req.MaxRetries != nil {
		opts = append(opts, task.WithMaxRetries(*req.MaxRetries))
	}
	if req.RetryDelay != nil {
		opts = append(opts, task.WithRetryDelay(time.Duration(*req.RetryDelay)*time.Second))
	}
	if req.TimeoutSec != nil {
		opts = append(opts, task.WithTimeout(time.Duration(*req.TimeoutSec)*time.Second))
	}
	if len(req.DependsOn) > 0 {
		opts = append(opts, task.WithDependencies(req.DependsOn...))
	}
	return opts
}

func handleGet(service *task.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r)
		if !ok {
			return
		}
		t, err := service.Get(r.Context(), id)
		if err != nil {
			if errors.Is(err, task.ErrTaskNotFound) {
				writeError(w, http.StatusNotFound, "task not found")
				return
			}
			logger.Error("get failed", "task_id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "lookup failed")
			return
		}
		writeJSON(w, http.StatusOK, t)
	}
}

func handleCancel(service *task.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r)
		if !ok {
			return
		}
		cancelled, err := service.Cancel(r.Context(), id)
		if err != nil {
			if errors.Is(err, task.ErrTaskNotFound) {
				writeError(w, http.StatusNotFound, "task not found")
				return
			}
			logger.Error("cancel failed", "task_id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "cancel failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
	}
}

func handleRetry(service *task.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r)
		if !ok {
			return
		}
		retried, err := service.Retry(r.Context(), id)
		if err != nil {
			if errors.Is(err, task.ErrTaskNotFound) {
				writeError(w, http.StatusNotFound, "task not found")
				return
			}
			logger.Error("retry failed", "task_id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "retry failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"retried": retried})
	}
}

func handleList(service *task.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts := task.ListOptions{
			Queue:  task.Queue(r.URL.Query().Get("queue")),
			Status: task.Status(r.URL.Query().Get("status")),
			Limit:  queryInt(r, "limit", 50),
			Offset: queryInt(r, "offset", 0),
		}
		tasks, err := service.List(r.Context(), opts)
		if err != nil {
			logger.Error("list failed", "error", err)
			writeError(w, http.StatusInternalServerError, "list failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "count": len(tasks)})
	}
}

func handleStats(service *task.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if q := r.URL.Query().Get("queue"); q != "" {
			stats, err := service.QueueStats(r.Context(), task.Queue(q))
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, stats)
			return
		}
		stats, err := service.AllQueueStats(r.Context())
		if err != nil {
			logger.Error("stats failed", "error", err)
			writeError(w, http.StatusInternalServerError, "stats failed")
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
