package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ppongpan/Q-Collector-sub002/api"
	"github.com/ppongpan/Q-Collector-sub002/internal/data/repository"
)

const ledgerColumns = `id, field_id, form_id, migration_type, table_name, column_name,
		old_value, new_value, backup_id, executed_by, executed_at, success,
		error_message, rollback_sql`

type ledgerRepository struct {
	pool *pgxpool.Pool
}

// NewLedgerRepository returns the Postgres-backed migration ledger.
func NewLedgerRepository(pool *pgxpool.Pool) repository.LedgerRepository {
	return &ledgerRepository{pool: pool}
}

const appendQuery = `
	INSERT INTO field_migrations
		(field_id, form_id, migration_type, table_name, column_name,
		 old_value, new_value, backup_id, executed_by, success,
		 error_message, rollback_sql)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	RETURNING id, executed_at`

func (r *ledgerRepository) Append(ctx context.Context, m *api.Migration) error {
	return r.pool.QueryRow(ctx, appendQuery,
		m.FieldID,
		m.FormID,
		m.Type,
		m.TableName,
		m.ColumnName,
		m.OldValue,
		m.NewValue,
		m.BackupID,
		m.ExecutedBy,
		m.Success,
		m.ErrorMessage,
		m.RollbackSQL,
	).Scan(&m.ID, &m.ExecutedAt)
}

// AppendTx inserts the entry inside the caller's transaction so that a DDL
// statement and its audit record commit or roll back together.
func (r *ledgerRepository) AppendTx(ctx context.Context, tx pgx.Tx, m *api.Migration) error {
	return tx.QueryRow(ctx, appendQuery,
		m.FieldID,
		m.FormID,
		m.Type,
		m.TableName,
		m.ColumnName,
		m.OldValue,
		m.NewValue,
		m.BackupID,
		m.ExecutedBy,
		m.Success,
		m.ErrorMessage,
		m.RollbackSQL,
	).Scan(&m.ID, &m.ExecutedAt)
}

func (r *ledgerRepository) FindByForm(ctx context.Context, formID string) ([]*api.Migration, error) {
	query := fmt.Sprintf(`SELECT %s FROM field_migrations WHERE form_id = $1 ORDER BY id`, ledgerColumns)
	return r.queryMigrations(ctx, query, formID)
}

func (r *ledgerRepository) FindByTable(ctx context.Context, tableName string) ([]*api.Migration, error) {
	query := fmt.Sprintf(`SELECT %s FROM field_migrations WHERE table_name = $1 ORDER BY id`, ledgerColumns)
	return r.queryMigrations(ctx, query, tableName)
}

func (r *ledgerRepository) GetByID(ctx context.Context, id int64) (*api.Migration, error) {
	query := fmt.Sprintf(`SELECT %s FROM field_migrations WHERE id = $1`, ledgerColumns)
	m := &api.Migration{}
	err := scanMigration(r.pool.QueryRow(ctx, query, id), m)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch migration %d: %w", id, err)
	}
	return m, nil
}

func (r *ledgerRepository) GetStatistics(ctx context.Context) (*api.MigrationStatistics, error) {
	query := `
		SELECT migration_type, success, count(*)
		FROM field_migrations
		GROUP BY migration_type, success`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger statistics: %w", err)
	}
	defer rows.Close()

	stats := &api.MigrationStatistics{ByType: make(map[api.MigrationType]int64)}
	for rows.Next() {
		var (
			mType   api.MigrationType
			success bool
			count   int64
		)
		if err := rows.Scan(&mType, &success, &count); err != nil {
			return nil, fmt.Errorf("failed to scan statistics row: %w", err)
		}
		stats.Total += count
		stats.ByType[mType] += count
		if success {
			stats.Succeeded += count
		} else {
			stats.Failed += count
		}
	}

	return stats, rows.Err()
}

func (r *ledgerRepository) queryMigrations(ctx context.Context, query string, args ...any) ([]*api.Migration, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	var migrations []*api.Migration
	for rows.Next() {
		m := &api.Migration{}
		if err := scanMigration(rows, m); err != nil {
			return nil, fmt.Errorf("failed to scan migration: %w", err)
		}
		migrations = append(migrations, m)
	}

	return migrations, rows.Err()
}

func scanMigration(row pgx.Row, m *api.Migration) error {
	return row.Scan(
		&m.ID,
		&m.FieldID,
		&m.FormID,
		&m.Type,
		&m.TableName,
		&m.ColumnName,
		&m.OldValue,
		&m.NewValue,
		&m.BackupID,
		&m.ExecutedBy,
		&m.ExecutedAt,
		&m.Success,
		&m.ErrorMessage,
		&m.RollbackSQL,
	)
}
