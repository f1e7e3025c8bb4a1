package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	mjolnirUtils "github.com/dfryer1193/mjolnir/utils"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/ppongpan/Q-Collector-sub002/api"
	"github.com/ppongpan/Q-Collector-sub002/internal/data/repository/postgres"
	"github.com/ppongpan/Q-Collector-sub002/internal/migration"
)

const defaultExpiryWindow = 7 * 24 * time.Hour

// BackupManager is the restore-and-sweep slice of the backup store.
type BackupManager interface {
	RestoreColumnData(ctx context.Context, backupID uuid.UUID, restoredBy string) (*api.Migration, error)
	CleanupExpired(ctx context.Context) (int64, error)
}

// BackupFinder is the read-only query surface of the backup repository.
type BackupFinder interface {
	FindByForm(ctx context.Context, formID string) ([]*api.Backup, error)
	FindExpiringSoon(ctx context.Context, within time.Duration) ([]*api.Backup, error)
}

// BackupHandler serves the admin/reporting surface over backups.
type BackupHandler struct {
	store  BackupManager
	finder BackupFinder
}

func NewBackupHandler(store BackupManager, finder BackupFinder) *BackupHandler {
	return &BackupHandler{store: store, finder: finder}
}

// GetBackupsForForm lists a form's backups, oldest first.
func (h *BackupHandler) GetBackupsForForm(w http.ResponseWriter, r *http.Request) *mjolnirUtils.ApiError {
	formID := chi.URLParam(r, "formID")
	if formID == "" {
		return mjolnirUtils.BadRequestErr(fmt.Errorf("formID is required"))
	}

	backups, err := h.finder.FindByForm(r.Context(), formID)
	if err != nil {
		return mjolnirUtils.InternalServerErr(fmt.Errorf("error fetching backups: %w", err))
	}

	mjolnirUtils.RespondJSON(w, r, http.StatusOK, &api.BackupList{Backups: backups})
	return nil
}

// GetExpiringSoon lists backups whose retention window closes within the
// given duration (default one week).
func (h *BackupHandler) GetExpiringSoon(w http.ResponseWriter, r *http.Request) *mjolnirUtils.ApiError {
	within := defaultExpiryWindow
	if raw := r.URL.Query().Get("within"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return mjolnirUtils.BadRequestErr(fmt.Errorf("invalid within duration: %w", err))
		}
		within = parsed
	}

	backups, err := h.finder.FindExpiringSoon(r.Context(), within)
	if err != nil {
		return mjolnirUtils.InternalServerErr(fmt.Errorf("error fetching expiring backups: %w", err))
	}

	mjolnirUtils.RespondJSON(w, r, http.StatusOK, &api.BackupList{Backups: backups})
	return nil
}

// RestoreBackup replays a backup into its column and returns the resulting
// RESTORE_DATA ledger entry.
func (h *BackupHandler) RestoreBackup(w http.ResponseWriter, r *http.Request) *mjolnirUtils.ApiError {
	backupID, err := uuid.Parse(chi.URLParam(r, "backupID"))
	if err != nil {
		return mjolnirUtils.BadRequestErr(fmt.Errorf("invalid backup id: %w", err))
	}

	var req struct {
		RestoredBy string `json:"restoredBy"`
	}
	if _, err := mjolnirUtils.DecodeJSON(r, &req); err != nil {
		return mjolnirUtils.BadRequestErr(err)
	}
	if req.RestoredBy == "" {
		return mjolnirUtils.BadRequestErr(fmt.Errorf("restoredBy is required"))
	}

	m, err := h.store.RestoreColumnData(r.Context(), backupID, req.RestoredBy)
	if err != nil {
		var (
			expired *migration.ExpiredBackupError
			missing *migration.MissingColumnError
		)
		switch {
		case errors.Is(err, postgres.ErrBackupNotFound):
			return mjolnirUtils.NewApiError(err, http.StatusNotFound)
		case errors.As(err, &expired), errors.As(err, &missing):
			return mjolnirUtils.NewApiError(err, http.StatusConflict)
		}
		return mjolnirUtils.InternalServerErr(fmt.Errorf("error restoring backup: %w", err))
	}

	mjolnirUtils.RespondJSON(w, r, http.StatusOK, m)
	return nil
}

// CleanupExpired runs the retention sweep. Meant to be hit by an external
// scheduler.
func (h *BackupHandler) CleanupExpired(w http.ResponseWriter, r *http.Request) *mjolnirUtils.ApiError {
	deleted, err := h.store.CleanupExpired(r.Context())
	if err != nil {
		return mjolnirUtils.InternalServerErr(fmt.Errorf("error cleaning up backups: %w", err))
	}

	mjolnirUtils.RespondJSON(w, r, http.StatusOK, map[string]int64{"deleted": deleted})
	return nil
}
