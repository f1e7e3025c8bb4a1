// Package schema introspects the live layout of dynamic form tables.
// Schema state is never cached: tables drift between enqueue and execution,
// so every check runs against the catalog at call time.
package schema

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of pgxpool.Pool (and pgx.Tx) the inspector needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Column describes one live column of a dynamic table. DataType is rendered
// as a usable SQL type, e.g. "character varying(255)" or "numeric".
type Column struct {
	Name       string
	DataType   string
	IsNullable bool
}

// Inspector answers existence and sizing questions about dynamic tables.
type Inspector interface {
	ColumnExists(ctx context.Context, tableName, columnName string) (bool, error)
	GetColumn(ctx context.Context, tableName, columnName string) (*Column, error)
	CountRows(ctx context.Context, tableName string) (int64, error)
	ColumnSize(ctx context.Context, tableName, columnName string) (int64, error)
}

type inspector struct {
	q Querier
}

// NewInspector returns an Inspector backed by the given connection source.
func NewInspector(q Querier) Inspector {
	return &inspector{q: q}
}

func (i *inspector) ColumnExists(ctx context.Context, tableName, columnName string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(
		SELECT 1 FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = $1 AND column_name = $2
	)`

	if err := i.q.QueryRow(ctx, query, tableName, columnName).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check column existence: %w", err)
	}
	return exists, nil
}

// GetColumn returns nil when the column does not exist.
func (i *inspector) GetColumn(ctx context.Context, tableName, columnName string) (*Column, error) {
	query := `
	SELECT
		c.column_name,
		c.data_type,
		c.character_maximum_length,
		(c.is_nullable = 'YES') as is_nullable
	FROM information_schema.columns c
	WHERE c.table_schema = 'public' AND c.table_name = $1 AND c.column_name = $2`

	var (
		col    Column
		maxLen *int
	)
	err := i.q.QueryRow(ctx, query, tableName, columnName).Scan(
		&col.Name,
		&col.DataType,
		&maxLen,
		&col.IsNullable,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to introspect column %s.%s: %w", tableName, columnName, err)
	}

	if maxLen != nil {
		col.DataType = fmt.Sprintf("%s(%d)", col.DataType, *maxLen)
	}
	return &col, nil
}

func (i *inspector) CountRows(ctx context.Context, tableName string) (int64, error) {
	var count int64
	query := fmt.Sprintf(`SELECT count(*) FROM %s`, pgx.Identifier{tableName}.Sanitize())

	if err := i.q.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count rows in %s: %w", tableName, err)
	}
	return count, nil
}

// ColumnSize returns the total on-disk size of a column's values in bytes,
// used to estimate backup snapshot sizes.
func (i *inspector) ColumnSize(ctx context.Context, tableName, columnName string) (int64, error) {
	var size int64
	query := fmt.Sprintf(`SELECT COALESCE(SUM(pg_column_size(%s)), 0) FROM %s`,
		pgx.Identifier{columnName}.Sanitize(),
		pgx.Identifier{tableName}.Sanitize(),
	)

	if err := i.q.QueryRow(ctx, query).Scan(&size); err != nil {
		return 0, fmt.Errorf("failed to measure column %s.%s: %w", tableName, columnName, err)
	}
	return size, nil
}
