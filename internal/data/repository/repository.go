package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/ppongpan/Q-Collector-sub002/api"
)

// LedgerRepository is the append-only migration history. Entries are inserted
// exactly once, inside the transaction that applies their DDL effect, and are
// never updated or deleted.
type LedgerRepository interface {
	Append(ctx context.Context, m *api.Migration) error
	AppendTx(ctx context.Context, tx pgx.Tx, m *api.Migration) error
	FindByForm(ctx context.Context, formID string) ([]*api.Migration, error)
	FindByTable(ctx context.Context, tableName string) ([]*api.Migration, error)
	GetByID(ctx context.Context, id int64) (*api.Migration, error)
	GetStatistics(ctx context.Context) (*api.MigrationStatistics, error)
}

// BackupRepository stores write-once column snapshots.
type BackupRepository interface {
	Insert(ctx context.Context, b *api.Backup) error
	GetByID(ctx context.Context, id uuid.UUID) (*api.Backup, error)
	FindByForm(ctx context.Context, formID string) ([]*api.Backup, error)
	FindExpiringSoon(ctx context.Context, within time.Duration) ([]*api.Backup, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// JobRepository persists queue jobs so the queue survives restarts.
type JobRepository interface {
	Insert(ctx context.Context, j *api.MigrationJob) error
	Update(ctx context.Context, j *api.MigrationJob) error
	GetByID(ctx context.Context, id uuid.UUID) (*api.MigrationJob, error)
	FindByForm(ctx context.Context, formID string) ([]*api.MigrationJob, error)
	FindWaitingByFingerprint(ctx context.Context, fingerprint string) (*api.MigrationJob, error)
	LoadPending(ctx context.Context) ([]*api.MigrationJob, error)
}
