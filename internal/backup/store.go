// Package backup snapshots column data before destructive schema changes and
// restores it on demand. Backups are write-once: a restore reads the
// snapshot but never mutates or deletes it, so restoring twice is safe.
package backup

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/ppongpan/Q-Collector-sub002/api"
	"github.com/ppongpan/Q-Collector-sub002/internal/data/repository"
	"github.com/ppongpan/Q-Collector-sub002/internal/migration"
	"github.com/ppongpan/Q-Collector-sub002/internal/schema"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultRetention is how long snapshots are kept before the cleanup
	// sweep may delete them.
	DefaultRetention = 90 * 24 * time.Hour

	// captureBatchSize bounds memory while reading large tables.
	captureBatchSize = 1000

	// restoreBatchSize is the number of keyed updates per transaction when
	// replaying a snapshot.
	restoreBatchSize = 100
)

// Store captures and replays column snapshots. Dynamic tables are addressed
// by their "id" primary key, which every generated form table carries.
type Store struct {
	db        migration.DB
	inspector schema.Inspector
	backups   repository.BackupRepository
	ledger    repository.LedgerRepository
	retention time.Duration
}

// NewStore wires a backup store over the shared pool.
func NewStore(db migration.DB, inspector schema.Inspector, backups repository.BackupRepository, ledger repository.LedgerRepository) *Store {
	return &Store{
		db:        db,
		inspector: inspector,
		backups:   backups,
		ledger:    ledger,
		retention: DefaultRetention,
	}
}

// BackupColumnData captures every row's (primary key, value) pair as an
// ordered snapshot and persists it. Reads are batched by key so a large
// table never loads into memory at once.
func (s *Store) BackupColumnData(ctx context.Context, req api.BackupRequest) (*api.Backup, error) {
	snapshot, err := s.captureSnapshot(ctx, req.TableName, req.ColumnName)
	if err != nil {
		return nil, fmt.Errorf("failed to capture snapshot of %s.%s: %w", req.TableName, req.ColumnName, err)
	}

	retention := s.retention
	if req.RetentionOverride > 0 {
		retention = req.RetentionOverride
	}

	b := &api.Backup{
		ID:             uuid.New(),
		FieldID:        req.FieldID,
		FormID:         req.FormID,
		TableName:      req.TableName,
		ColumnName:     req.ColumnName,
		DataSnapshot:   snapshot,
		Type:           req.Type,
		RetentionUntil: time.Now().Add(retention),
		CreatedBy:      req.CreatedBy,
	}

	if err := s.backups.Insert(ctx, b); err != nil {
		return nil, fmt.Errorf("failed to persist backup: %w", err)
	}

	log.Info().
		Str("backupId", b.ID.String()).
		Str("table", req.TableName).
		Str("column", req.ColumnName).
		Str("type", string(req.Type)).
		Int("rows", len(snapshot)).
		Msg("column backup captured")

	return b, nil
}

// captureSnapshot pages through the table by key. Keys are compared as text,
// so batch boundaries follow lexicographic order; that is stable and complete
// for the UUID keys generated form tables use, though numeric keys would page
// in string order rather than numeric order. Completeness is what matters
// here: every row is visited exactly once either way.
func (s *Store) captureSnapshot(ctx context.Context, tableName, columnName string) ([]api.SnapshotRow, error) {
	table := pgx.Identifier{tableName}.Sanitize()
	column := pgx.Identifier{columnName}.Sanitize()
	query := fmt.Sprintf(
		`SELECT id::text, %s::text FROM %s WHERE id::text > $1 ORDER BY id::text LIMIT %d`,
		column, table, captureBatchSize,
	)

	// Always an array, never nil: an empty column still snapshots as [].
	snapshot := make([]api.SnapshotRow, 0)
	lastKey := ""
	for {
		batch, err := s.captureBatch(ctx, query, lastKey)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			return snapshot, nil
		}
		snapshot = append(snapshot, batch...)
		lastKey = batch[len(batch)-1].RowID
	}
}

func (s *Store) captureBatch(ctx context.Context, query, lastKey string) ([]api.SnapshotRow, error) {
	rows, err := s.db.Query(ctx, query, lastKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batch []api.SnapshotRow
	for rows.Next() {
		var row api.SnapshotRow
		if err := rows.Scan(&row.RowID, &row.Value); err != nil {
			return nil, err
		}
		batch = append(batch, row)
	}
	return batch, rows.Err()
}

// RestoreColumnData replays a snapshot back into its column in fixed-size
// batches of keyed updates and records a RESTORE_DATA ledger entry
// referencing the backup. The backup row itself is untouched.
func (s *Store) RestoreColumnData(ctx context.Context, backupID uuid.UUID, restoredBy string) (*api.Migration, error) {
	b, err := s.backups.GetByID(ctx, backupID)
	if err != nil {
		return nil, err
	}

	fieldID := b.FieldID
	id := b.ID
	m := &api.Migration{
		FieldID:    &fieldID,
		FormID:     b.FormID,
		Type:       api.MigrationRestoreData,
		TableName:  b.TableName,
		ColumnName: b.ColumnName,
		BackupID:   &id,
		ExecutedBy: restoredBy,
	}

	if b.Expired(time.Now()) {
		return nil, s.fail(ctx, m, &migration.ExpiredBackupError{BackupID: backupID.String()})
	}

	col, err := s.inspector.GetColumn(ctx, b.TableName, b.ColumnName)
	if err != nil {
		return nil, s.fail(ctx, m, &migration.TransactionError{Operation: "restore column data", Err: err})
	}
	if col == nil {
		return nil, s.fail(ctx, m, &migration.MissingColumnError{TableName: b.TableName, ColumnName: b.ColumnName})
	}

	update := fmt.Sprintf(`UPDATE %s SET %s = $1::%s WHERE id::text = $2`,
		pgx.Identifier{b.TableName}.Sanitize(),
		pgx.Identifier{b.ColumnName}.Sanitize(),
		col.DataType,
	)

	for start := 0; start < len(b.DataSnapshot); start += restoreBatchSize {
		end := start + restoreBatchSize
		if end > len(b.DataSnapshot) {
			end = len(b.DataSnapshot)
		}
		if err := s.restoreBatch(ctx, update, b.DataSnapshot[start:end]); err != nil {
			return nil, s.fail(ctx, m, &migration.TransactionError{Operation: "restore column data", Err: err})
		}
	}

	m.NewValue = &api.ColumnSnapshot{ColumnName: b.ColumnName, DataType: col.DataType}
	m.Success = true
	if err := s.ledger.Append(ctx, m); err != nil {
		return nil, &migration.TransactionError{Operation: "record restore", Err: err}
	}

	log.Info().
		Str("backupId", backupID.String()).
		Str("table", b.TableName).
		Str("column", b.ColumnName).
		Int("rows", len(b.DataSnapshot)).
		Msg("column data restored from backup")

	return m, nil
}

func (s *Store) restoreBatch(ctx context.Context, update string, batch []api.SnapshotRow) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, row := range batch {
		if _, err := tx.Exec(ctx, update, row.Value, row.RowID); err != nil {
			return fmt.Errorf("failed to restore row %s: %w", row.RowID, err)
		}
	}
	return tx.Commit(ctx)
}

// CleanupExpired deletes all backups past their retention window. Intended
// to be invoked periodically by an external scheduler.
func (s *Store) CleanupExpired(ctx context.Context) (int64, error) {
	deleted, err := s.backups.DeleteExpired(ctx, time.Now())
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Msg("expired backups removed")
	}
	return deleted, nil
}

// fail mirrors the executor's failure recording: a best-effort failed ledger
// entry that never masks the original error.
func (s *Store) fail(ctx context.Context, m *api.Migration, cause error) error {
	failed := *m
	failed.Success = false
	msg := cause.Error()
	failed.ErrorMessage = &msg

	if err := s.ledger.Append(ctx, &failed); err != nil {
		log.Error().
			Err(err).
			Str("table", m.TableName).
			Str("column", m.ColumnName).
			Msg("failed to record failed restore")
	}

	return cause
}
