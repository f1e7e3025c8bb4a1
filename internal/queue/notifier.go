package queue

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// FailureEvent is emitted once per job that exhausts its retries.
// MigrationID references the terminal failed ledger entry, or zero when even
// recording the failure did not succeed.
type FailureEvent struct {
	JobID       uuid.UUID
	MigrationID int64
	FormID      string
	TableName   string
	Err         error
}

// Notifier receives terminal-failure events. Delivery transport (email,
// chat) lives outside the engine; implementations must not block the worker
// for long.
type Notifier interface {
	NotifyFailure(ctx context.Context, ev FailureEvent)
}

// LogNotifier is the default Notifier: it writes the event to the service
// log where an external forwarder can pick it up.
type LogNotifier struct{}

func (LogNotifier) NotifyFailure(_ context.Context, ev FailureEvent) {
	log.Error().
		Str("jobId", ev.JobID.String()).
		Int64("migrationId", ev.MigrationID).
		Str("formId", ev.FormID).
		Str("table", ev.TableName).
		Err(ev.Err).
		Msg("migration job failed terminally")
}
