package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"queuectl/internal/models"
	"queuectl/internal/repository"
	"queuectl/internal/service"
)

// defaultListLimit caps GET /jobs responses when no ?limit= is given.
const defaultListLimit = 100

// JobHandler handles HTTP requests for jobs and the dead letter queue
type JobHandler struct {
	jobService *service.JobService
	dlqService *service.DLQService
}

// NewJobHandler creates a new job handler
func NewJobHandler(jobService *service.JobService, dlqService *service.DLQService) *JobHandler {
	return &JobHandler{
		jobService: jobService,
		dlqService: dlqService,
	}
}

// Routes mounts all job routes on a chi router
func (h *JobHandler) Routes(r chi.Router) {
	r.Post("/jobs", h.EnqueueJob)
	r.Get("/jobs", h.ListJobs)
	r.Get("/jobs/{id}", h.GetJob)
	r.Get("/status", h.GetStatus)
	r.Get("/dlq", h.ListDLQ)
	r.Post("/dlq/{id}/retry", h.RetryDLQ)
	r.Delete("/dlq/{id}", h.DeleteDLQ)
}

// EnqueueJob handles POST /jobs
func (h *JobHandler) EnqueueJob(w http.ResponseWriter, r *http.Request) {
	var req models.EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	job, err := h.jobService.Enqueue(r.Context(), &req)
	if err != nil {
		var dupErr *repository.ErrDuplicateID
		switch {
		case errors.As(err, &dupErr):
			http.Error(w, dupErr.Error(), http.StatusConflict)
		case errors.Is(err, service.ErrRateLimitExceeded):
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		case errors.Is(err, service.ErrInvalidRequest):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			log.Printf("error enqueueing job: %v", err)
			http.Error(w, "failed to enqueue job", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusCreated, job)
}

// GetJob handles GET /jobs/{id}
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := h.jobService.GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		log.Printf("error getting job: %v", err)
		http.Error(w, "failed to get job", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /jobs with optional ?state= and ?limit= filters
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	state := models.JobState(r.URL.Query().Get("state"))

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	jobs, err := h.jobService.ListJobs(r.Context(), state, limit)
	if err != nil {
		if errors.Is(err, service.ErrInvalidRequest) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Printf("error listing jobs: %v", err)
		http.Error(w, "failed to list jobs", http.StatusInternalServerError)
		return
	}
	if jobs == nil {
		jobs = []*models.Job{}
	}

	writeJSON(w, http.StatusOK, jobs)
}

// GetStatus handles GET /status
func (h *JobHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.jobService.GetStatus(r.Context())
	if err != nil {
		log.Printf("error getting status: %v", err)
		http.Error(w, "failed to get status", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// ListDLQ handles GET /dlq
func (h *JobHandler) ListDLQ(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.dlqService.List(r.Context())
	if err != nil {
		log.Printf("error listing dead letter queue: %v", err)
		http.Error(w, "failed to list dead letter queue", http.StatusInternalServerError)
		return
	}
	if jobs == nil {
		jobs = []*models.Job{}
	}

	writeJSON(w, http.StatusOK, jobs)
}

// RetryDLQ handles POST /dlq/{id}/retry
func (h *JobHandler) RetryDLQ(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := h.dlqService.Retry(r.Context(), id)
	if err != nil {
		var notDead *repository.ErrNotDead
		switch {
		case errors.Is(err, service.ErrJobNotFound):
			http.Error(w, "job not found", http.StatusNotFound)
		case errors.As(err, &notDead):
			http.Error(w, notDead.Error(), http.StatusConflict)
		default:
			log.Printf("error retrying dead job: %v", err)
			http.Error(w, "failed to retry job", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// DeleteDLQ handles DELETE /dlq/{id}
func (h *JobHandler) DeleteDLQ(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	deleted, err := h.dlqService.Delete(r.Context(), id)
	if err != nil {
		log.Printf("error deleting dead job: %v", err)
		http.Error(w, "failed to delete job", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"deleted": deleted})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("error encoding response: %v", err)
	}
}
