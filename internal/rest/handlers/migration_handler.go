package handlers

import (
	"context"
	"fmt"
	"net/http"

	mjolnirUtils "github.com/dfryer1193/mjolnir/utils"
	"github.com/go-chi/chi/v5"
	"github.com/ppongpan/Q-Collector-sub002/api"
	"github.com/ppongpan/Q-Collector-sub002/internal/migration"
	"github.com/ppongpan/Q-Collector-sub002/internal/queue"
)

// MigrationLedger is the read side of the ledger the handler needs.
type MigrationLedger interface {
	FindByForm(ctx context.Context, formID string) ([]*api.Migration, error)
	GetStatistics(ctx context.Context) (*api.MigrationStatistics, error)
}

// Previewer dry-runs a single change.
type Previewer interface {
	Preview(ctx context.Context, req migration.PreviewRequest) (*migration.PreviewResult, error)
}

// ChangeQueue accepts detected changes for asynchronous execution.
type ChangeQueue interface {
	Enqueue(ctx context.Context, change api.FieldChange, meta queue.Meta) (*api.MigrationJob, error)
}

// MigrationHandler serves the ledger read surface plus the form-save entry
// point that turns two field-definition versions into queued jobs.
type MigrationHandler struct {
	ledger    MigrationLedger
	previewer Previewer
	queue     ChangeQueue
}

func NewMigrationHandler(ledger MigrationLedger, previewer Previewer, changeQueue ChangeQueue) *MigrationHandler {
	return &MigrationHandler{
		ledger:    ledger,
		previewer: previewer,
		queue:     changeQueue,
	}
}

// GetMigrationsForForm returns the full ledger history of one form.
func (h *MigrationHandler) GetMigrationsForForm(w http.ResponseWriter, r *http.Request) *mjolnirUtils.ApiError {
	formID := chi.URLParam(r, "formID")
	if formID == "" {
		return mjolnirUtils.BadRequestErr(fmt.Errorf("formID is required"))
	}

	migrations, err := h.ledger.FindByForm(r.Context(), formID)
	if err != nil {
		return mjolnirUtils.InternalServerErr(fmt.Errorf("error fetching migrations: %w", err))
	}

	mjolnirUtils.RespondJSON(w, r, http.StatusOK, &api.MigrationList{Migrations: migrations})
	return nil
}

// GetStatistics summarizes the ledger for reporting dashboards.
func (h *MigrationHandler) GetStatistics(w http.ResponseWriter, r *http.Request) *mjolnirUtils.ApiError {
	stats, err := h.ledger.GetStatistics(r.Context())
	if err != nil {
		return mjolnirUtils.InternalServerErr(fmt.Errorf("error fetching statistics: %w", err))
	}

	mjolnirUtils.RespondJSON(w, r, http.StatusOK, stats)
	return nil
}

// PreviewMigration dry-runs one change with zero side effects.
func (h *MigrationHandler) PreviewMigration(w http.ResponseWriter, r *http.Request) *mjolnirUtils.ApiError {
	var req migration.PreviewRequest
	if _, err := mjolnirUtils.DecodeJSON(r, &req); err != nil {
		return mjolnirUtils.BadRequestErr(err)
	}
	if req.TableName == "" || req.ColumnName == "" {
		return mjolnirUtils.BadRequestErr(fmt.Errorf("tableName and columnName are required"))
	}

	result, err := h.previewer.Preview(r.Context(), req)
	if err != nil {
		return mjolnirUtils.InternalServerErr(fmt.Errorf("error previewing migration: %w", err))
	}

	mjolnirUtils.RespondJSON(w, r, http.StatusOK, result)
	return nil
}

// DetectRequest is the form-save trigger payload: both field-definition
// versions plus the context the queue needs. Aliases optionally map new
// field ids to previous ids for upstreams that regenerate ids on save.
type DetectRequest struct {
	TableName string                `json:"tableName"`
	UserID    string                `json:"userId"`
	OldFields []api.FieldDefinition `json:"oldFields"`
	NewFields []api.FieldDefinition `json:"newFields"`
	Aliases   map[string]string     `json:"aliases,omitempty"`
}

// DetectAndEnqueue diffs the two versions and queues every resulting change.
// It always returns immediately; callers poll job status for completion and
// must not assume the schema has changed before then.
func (h *MigrationHandler) DetectAndEnqueue(w http.ResponseWriter, r *http.Request) *mjolnirUtils.ApiError {
	formID := chi.URLParam(r, "formID")
	if formID == "" {
		return mjolnirUtils.BadRequestErr(fmt.Errorf("formID is required"))
	}

	var req DetectRequest
	if _, err := mjolnirUtils.DecodeJSON(r, &req); err != nil {
		return mjolnirUtils.BadRequestErr(err)
	}
	if req.TableName == "" {
		return mjolnirUtils.BadRequestErr(fmt.Errorf("tableName is required"))
	}

	changes := migration.DetectChangesWithAliases(req.OldFields, req.NewFields, req.Aliases)

	jobs := make([]*api.MigrationJob, 0, len(changes))
	for _, change := range changes {
		job, err := h.queue.Enqueue(r.Context(), change, queue.Meta{
			TableName: req.TableName,
			FormID:    formID,
			UserID:    req.UserID,
		})
		if err != nil {
			return mjolnirUtils.InternalServerErr(fmt.Errorf("error enqueuing change: %w", err))
		}
		jobs = append(jobs, job)
	}

	mjolnirUtils.RespondJSON(w, r, http.StatusAccepted, &api.JobList{Jobs: jobs})
	return nil
}
