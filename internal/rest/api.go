package rest

import (
	mjolnirUtils "github.com/dfryer1193/mjolnir/utils"
	"github.com/go-chi/chi/v5"
	"github.com/ppongpan/Q-Collector-sub002/internal/rest/handlers"
)

// SetupRoutes registers the reporting and admin surface. Everything here is
// either read-only or an explicit admin action (restore, cancel, sweep);
// schema changes themselves only enter through the detect endpoint and the
// queue behind it.
func SetupRoutes(router *chi.Mux, m *handlers.MigrationHandler, q *handlers.QueueHandler, b *handlers.BackupHandler) {
	router.Route("/migrations/v1", func(r chi.Router) {
		r.Get("/statistics", mjolnirUtils.ErrorHandler(m.GetStatistics))
		r.Post("/preview", mjolnirUtils.ErrorHandler(m.PreviewMigration))
		r.Get("/forms/{formID}", mjolnirUtils.ErrorHandler(m.GetMigrationsForForm))
		r.Post("/forms/{formID}/detect", mjolnirUtils.ErrorHandler(m.DetectAndEnqueue))
	})

	router.Route("/queue/v1", func(r chi.Router) {
		r.Get("/jobs/{jobID}", mjolnirUtils.ErrorHandler(q.GetJob))
		r.Post("/jobs/{jobID}/cancel", mjolnirUtils.ErrorHandler(q.CancelJob))
		r.Get("/forms/{formID}/jobs", mjolnirUtils.ErrorHandler(q.GetJobsForForm))
	})

	router.Route("/backups/v1", func(r chi.Router) {
		r.Get("/expiring", mjolnirUtils.ErrorHandler(b.GetExpiringSoon))
		r.Get("/forms/{formID}", mjolnirUtils.ErrorHandler(b.GetBackupsForForm))
		r.Post("/{backupID}/restore", mjolnirUtils.ErrorHandler(b.RestoreBackup))
		r.Post("/cleanup", mjolnirUtils.ErrorHandler(b.CleanupExpired))
	})
}
