package tasks

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/s1natex/todo-fixture-api/internal/auth"
)

type createTaskRequest struct {
	Title string `json:"title"`
}

// updateTaskRequest is merged with truthy semantics, see Patch.
type updateTaskRequest struct {
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
}

type taskResponse struct {
	Task Task `json:"task"`
}

type listResponse struct {
	Tasks []Task `json:"tasks"`
}

type errResponse struct {
	Error string `json:"error"`
}

type handler struct {
	repo   Store
	logger *slog.Logger
}

// RegisterRoutes mounts the task CRUD endpoints under /tasks. The caller is
// expected to install authentication in front of r; requests that reach
// these handlers without a subject are rejected with 401.
func RegisterRoutes(r chi.Router, repo Store, logger *slog.Logger) {
	h := &handler{repo: repo, logger: logger}

	r.Route("/tasks", func(r chi.Router) {
		r.Use(requireSubject)
		r.Get("/", h.listTasks)
		r.Post("/", h.createTask)
		r.Get("/{id}", h.getTask)
		r.Put("/{id}", h.updateTask)
		r.Delete("/{id}", h.deleteTask)
	})
}

// RegisterDebugRoutes mounts POST /debug/reset. Test harnesses only.
func RegisterDebugRoutes(r chi.Router, repo Store, logger *slog.Logger) {
	r.Post("/debug/reset", func(w http.ResponseWriter, r *http.Request) {
		if err := repo.Reset(r.Context()); err != nil {
			logger.ErrorContext(r.Context(), "store_reset_failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errResponse{Error: "unexpected_error"})
			return
		}
		logger.InfoContext(r.Context(), "store_reset")
		w.WriteHeader(http.StatusNoContent)
	})
}

func requireSubject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.SubjectFromContext(r.Context()); !ok {
			writeJSON(w, http.StatusUnauthorized, errResponse{Error: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *handler) listTasks(w http.ResponseWriter, r *http.Request) {
	sub, _ := auth.SubjectFromContext(r.Context())

	tasks, err := h.repo.List(r.Context(), sub)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Tasks: tasks})
}

func (h *handler) createTask(w http.ResponseWriter, r *http.Request) {
	sub, _ := auth.SubjectFromContext(r.Context())

	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errResponse{Error: "invalid_json"})
		return
	}

	t, err := h.repo.Create(r.Context(), sub, req.Title)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, taskResponse{Task: t})
}

func (h *handler) getTask(w http.ResponseWriter, r *http.Request) {
	sub, _ := auth.SubjectFromContext(r.Context())
	id, ok := taskID(r)
	if !ok {
		notFound(w)
		return
	}

	t, err := h.repo.Get(r.Context(), sub, id)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, taskResponse{Task: t})
}

func (h *handler) updateTask(w http.ResponseWriter, r *http.Request) {
	sub, _ := auth.SubjectFromContext(r.Context())
	id, ok := taskID(r)
	if !ok {
		notFound(w)
		return
	}

	var req updateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errResponse{Error: "invalid_json"})
		return
	}

	t, err := h.repo.Update(r.Context(), sub, id, Patch{Title: req.Title, Completed: req.Completed})
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, taskResponse{Task: t})
}

func (h *handler) deleteTask(w http.ResponseWriter, r *http.Request) {
	sub, _ := auth.SubjectFromContext(r.Context())
	id, ok := taskID(r)
	if !ok {
		notFound(w)
		return
	}

	if err := h.repo.Delete(r.Context(), sub, id); err != nil {
		h.storeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) storeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ErrNotFound) {
		notFound(w)
		return
	}
	h.logger.ErrorContext(r.Context(), "store_error",
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	writeJSON(w, http.StatusInternalServerError, errResponse{Error: "unexpected_error"})
}

// taskID parses the {id} URL parameter. Anything that is not an integer
// can never match a task, so callers answer 404.
func taskID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil
}

func notFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, errResponse{Error: "not_found"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
