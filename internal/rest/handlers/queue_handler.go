package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	mjolnirUtils "github.com/dfryer1193/mjolnir/utils"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/ppongpan/Q-Collector-sub002/api"
	"github.com/ppongpan/Q-Collector-sub002/internal/data/repository/postgres"
)

// JobQueue is the status-and-cancel slice of the migration queue.
type JobQueue interface {
	GetStatus(ctx context.Context, jobID uuid.UUID) (*api.MigrationJob, error)
	GetStatusByForm(ctx context.Context, formID string) ([]*api.MigrationJob, error)
	CancelWaiting(ctx context.Context, jobID uuid.UUID) error
}

// QueueHandler exposes job status polling and cancellation of jobs that have
// not started yet.
type QueueHandler struct {
	queue JobQueue
}

func NewQueueHandler(queue JobQueue) *QueueHandler {
	return &QueueHandler{queue: queue}
}

// GetJob returns the persisted state of one job.
func (h *QueueHandler) GetJob(w http.ResponseWriter, r *http.Request) *mjolnirUtils.ApiError {
	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		return mjolnirUtils.BadRequestErr(fmt.Errorf("invalid job id: %w", err))
	}

	job, err := h.queue.GetStatus(r.Context(), jobID)
	if errors.Is(err, postgres.ErrJobNotFound) {
		return mjolnirUtils.NewApiError(err, http.StatusNotFound)
	}
	if err != nil {
		return mjolnirUtils.InternalServerErr(fmt.Errorf("error fetching job: %w", err))
	}

	mjolnirUtils.RespondJSON(w, r, http.StatusOK, job)
	return nil
}

// GetJobsForForm returns every job enqueued for a form, oldest first.
func (h *QueueHandler) GetJobsForForm(w http.ResponseWriter, r *http.Request) *mjolnirUtils.ApiError {
	formID := chi.URLParam(r, "formID")
	if formID == "" {
		return mjolnirUtils.BadRequestErr(fmt.Errorf("formID is required"))
	}

	jobs, err := h.queue.GetStatusByForm(r.Context(), formID)
	if err != nil {
		return mjolnirUtils.InternalServerErr(fmt.Errorf("error fetching jobs: %w", err))
	}

	mjolnirUtils.RespondJSON(w, r, http.StatusOK, &api.JobList{Jobs: jobs})
	return nil
}

// CancelJob cancels a queued-but-not-started job. Jobs already executing
// run to completion and cannot be cancelled.
func (h *QueueHandler) CancelJob(w http.ResponseWriter, r *http.Request) *mjolnirUtils.ApiError {
	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		return mjolnirUtils.BadRequestErr(fmt.Errorf("invalid job id: %w", err))
	}

	if err := h.queue.CancelWaiting(r.Context(), jobID); err != nil {
		return mjolnirUtils.NewApiError(err, http.StatusConflict)
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}
