package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ppongpan/Q-Collector-sub002/api"
	"github.com/ppongpan/Q-Collector-sub002/internal/data/repository"
)

// ErrBackupNotFound is returned when no backup row exists for the given id.
var ErrBackupNotFound = errors.New("backup not found")

const backupColumns = `id, field_id, form_id, table_name, column_name,
		data_snapshot, backup_type, retention_until, created_by, created_at`

type backupRepository struct {
	pool *pgxpool.Pool
}

// NewBackupRepository returns the Postgres-backed backup store.
func NewBackupRepository(pool *pgxpool.Pool) repository.BackupRepository {
	return &backupRepository{pool: pool}
}

func (r *backupRepository) Insert(ctx context.Context, b *api.Backup) error {
	if b.DataSnapshot == nil {
		b.DataSnapshot = []api.SnapshotRow{}
	}

	query := `
		INSERT INTO field_data_backups
			(id, field_id, form_id, table_name, column_name, data_snapshot,
			 backup_type, retention_until, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`

	return r.pool.QueryRow(ctx, query,
		b.ID,
		b.FieldID,
		b.FormID,
		b.TableName,
		b.ColumnName,
		b.DataSnapshot,
		b.Type,
		b.RetentionUntil,
		b.CreatedBy,
	).Scan(&b.CreatedAt)
}

func (r *backupRepository) GetByID(ctx context.Context, id uuid.UUID) (*api.Backup, error) {
	query := fmt.Sprintf(`SELECT %s FROM field_data_backups WHERE id = $1`, backupColumns)

	b := &api.Backup{}
	err := scanBackup(r.pool.QueryRow(ctx, query, id), b)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBackupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch backup %s: %w", id, err)
	}
	return b, nil
}

func (r *backupRepository) FindByForm(ctx context.Context, formID string) ([]*api.Backup, error) {
	query := fmt.Sprintf(`SELECT %s FROM field_data_backups WHERE form_id = $1 ORDER BY created_at`, backupColumns)
	return r.queryBackups(ctx, query, formID)
}

func (r *backupRepository) FindExpiringSoon(ctx context.Context, within time.Duration) ([]*api.Backup, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM field_data_backups
		WHERE retention_until BETWEEN now() AND now() + $1
		ORDER BY retention_until`, backupColumns)
	return r.queryBackups(ctx, query, within)
}

func (r *backupRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM field_data_backups WHERE retention_until < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired backups: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *backupRepository) queryBackups(ctx context.Context, query string, args ...any) ([]*api.Backup, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query backups: %w", err)
	}
	defer rows.Close()

	var backups []*api.Backup
	for rows.Next() {
		b := &api.Backup{}
		if err := scanBackup(rows, b); err != nil {
			return nil, fmt.Errorf("failed to scan backup: %w", err)
		}
		backups = append(backups, b)
	}

	return backups, rows.Err()
}

func scanBackup(row pgx.Row, b *api.Backup) error {
	return row.Scan(
		&b.ID,
		&b.FieldID,
		&b.FormID,
		&b.TableName,
		&b.ColumnName,
		&b.DataSnapshot,
		&b.Type,
		&b.RetentionUntil,
		&b.CreatedBy,
		&b.CreatedAt,
	)
}
