// Package migration implements the schema-migration engine for dynamic form
// tables: diffing field definitions, executing transactional DDL with
// automatic pre-destruction backups, and recording every operation in the
// append-only ledger.
package migration

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/ppongpan/Q-Collector-sub002/api"
	"github.com/ppongpan/Q-Collector-sub002/internal/data/repository"
	"github.com/ppongpan/Q-Collector-sub002/internal/schema"
	"github.com/rs/zerolog/log"
)

const sampleLimit = 5

// DB is the slice of pgxpool.Pool the executor needs: plain queries for
// validation scans plus transactions for DDL.
type DB interface {
	schema.Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// ColumnBackupper snapshots a column before destructive DDL. Implemented by
// the backup store; narrowed here so tests can fake it.
type ColumnBackupper interface {
	BackupColumnData(ctx context.Context, req api.BackupRequest) (*api.Backup, error)
}

// Executor performs single transactional DDL operations against dynamic
// tables. Every operation either fully commits (DDL plus ledger entry in one
// transaction) or fully fails leaving the table unchanged; failures are then
// best-effort recorded in a separate transaction.
type Executor struct {
	db        DB
	inspector schema.Inspector
	ledger    repository.LedgerRepository
	backups   ColumnBackupper
}

// NewExecutor wires an executor over one shared connection pool.
func NewExecutor(db DB, inspector schema.Inspector, ledger repository.LedgerRepository, backups ColumnBackupper) *Executor {
	return &Executor{
		db:        db,
		inspector: inspector,
		ledger:    ledger,
		backups:   backups,
	}
}

// AddColumnRequest describes an ADD_COLUMN operation. IgnoreDuplicate makes
// an already-existing column a warning no-op instead of an error; the queue
// sets it so retries of a half-completed job stay benign.
type AddColumnRequest struct {
	TableName         string
	FormID            string
	FieldID           string
	ColumnName        string
	FieldKind         string
	ExecutedBy        string
	IgnoreDuplicate   bool
	SkipFailureRecord bool
}

// DropColumnRequest describes a DROP_COLUMN operation. Backup controls the
// automatic pre-drop snapshot and should be true outside of tests.
type DropColumnRequest struct {
	TableName         string
	FormID            string
	FieldID           string
	ColumnName        string
	ExecutedBy        string
	Backup            bool
	SkipFailureRecord bool
}

// RenameColumnRequest describes a non-destructive RENAME_COLUMN operation.
type RenameColumnRequest struct {
	TableName         string
	FormID            string
	FieldID           string
	OldColumnName     string
	NewColumnName     string
	ExecutedBy        string
	SkipFailureRecord bool
}

// ModifyColumnTypeRequest describes a MODIFY_COLUMN operation. Field kinds
// are form-level kinds; the executor maps them to storage types and
// classifies the transition against the live column type.
type ModifyColumnTypeRequest struct {
	TableName         string
	FormID            string
	FieldID           string
	ColumnName        string
	OldFieldKind      string
	NewFieldKind      string
	ExecutedBy        string
	SkipFailureRecord bool
}

// AddColumn adds a column for a new field. The storage type comes from the
// field-kind mapping; unknown kinds fall back to text.
func (e *Executor) AddColumn(ctx context.Context, req AddColumnRequest) (*api.Migration, error) {
	fieldID := req.FieldID
	storageType := StorageTypeFor(req.FieldKind)
	m := &api.Migration{
		FieldID:    &fieldID,
		FormID:     req.FormID,
		Type:       api.MigrationAddColumn,
		TableName:  req.TableName,
		ColumnName: req.ColumnName,
		NewValue:   &api.ColumnSnapshot{ColumnName: req.ColumnName, DataType: storageType},
		ExecutedBy: req.ExecutedBy,
	}

	exists, err := e.inspector.ColumnExists(ctx, req.TableName, req.ColumnName)
	if err != nil {
		return nil, e.fail(ctx, m, &TransactionError{Operation: "add column", Err: err}, req.SkipFailureRecord)
	}

	if exists {
		if !req.IgnoreDuplicate {
			return nil, e.fail(ctx, m, &DuplicateColumnError{TableName: req.TableName, ColumnName: req.ColumnName}, req.SkipFailureRecord)
		}
		// Retry of a change that already landed. Record the no-op without
		// rollback SQL: dropping a column this call did not create would
		// orphan live data.
		log.Warn().
			Str("table", req.TableName).
			Str("column", req.ColumnName).
			Msg("column already exists, treating add as no-op")
		m.Success = true
		if err := e.ledger.Append(ctx, m); err != nil {
			return nil, &TransactionError{Operation: "record add-column no-op", Err: err}
		}
		return m, nil
	}

	if !KnownFieldKind(req.FieldKind) {
		log.Warn().
			Str("fieldKind", req.FieldKind).
			Str("column", req.ColumnName).
			Msg("unmapped field kind, defaulting to text storage")
	}

	rollback := dropColumnDDL(req.TableName, req.ColumnName)
	m.RollbackSQL = &rollback
	m.Success = true

	return e.execute(ctx, "add column", addColumnDDL(req.TableName, req.ColumnName, storageType), m, req.SkipFailureRecord)
}

// DropColumn removes a deleted field's column, snapshotting its data first
// unless the caller opted out. The rollback SQL re-adds an empty column of
// the old type; restoring the data is a separate operation against the
// recorded backup id.
func (e *Executor) DropColumn(ctx context.Context, req DropColumnRequest) (*api.Migration, error) {
	fieldID := req.FieldID
	m := &api.Migration{
		FieldID:    &fieldID,
		FormID:     req.FormID,
		Type:       api.MigrationDropColumn,
		TableName:  req.TableName,
		ColumnName: req.ColumnName,
		ExecutedBy: req.ExecutedBy,
	}

	col, err := e.inspector.GetColumn(ctx, req.TableName, req.ColumnName)
	if err != nil {
		return nil, e.fail(ctx, m, &TransactionError{Operation: "drop column", Err: err}, req.SkipFailureRecord)
	}
	if col == nil {
		return nil, e.fail(ctx, m, &MissingColumnError{TableName: req.TableName, ColumnName: req.ColumnName}, req.SkipFailureRecord)
	}
	m.OldValue = &api.ColumnSnapshot{ColumnName: req.ColumnName, DataType: col.DataType}

	if req.Backup {
		b, err := e.backups.BackupColumnData(ctx, api.BackupRequest{
			TableName:  req.TableName,
			ColumnName: req.ColumnName,
			FieldID:    req.FieldID,
			FormID:     req.FormID,
			Type:       api.BackupAutoDelete,
			CreatedBy:  req.ExecutedBy,
		})
		if err != nil {
			return nil, e.fail(ctx, m, &TransactionError{Operation: "pre-drop backup", Err: err}, req.SkipFailureRecord)
		}
		id := b.ID
		m.BackupID = &id
	}

	rollback := addColumnDDL(req.TableName, req.ColumnName, col.DataType)
	m.RollbackSQL = &rollback
	m.Success = true

	return e.execute(ctx, "drop column", dropColumnDDL(req.TableName, req.ColumnName), m, req.SkipFailureRecord)
}

// RenameColumn renames a column in place. Non-destructive: no backup is
// taken and all values are preserved.
func (e *Executor) RenameColumn(ctx context.Context, req RenameColumnRequest) (*api.Migration, error) {
	fieldID := req.FieldID
	m := &api.Migration{
		FieldID:    &fieldID,
		FormID:     req.FormID,
		Type:       api.MigrationRenameColumn,
		TableName:  req.TableName,
		ColumnName: req.NewColumnName,
		ExecutedBy: req.ExecutedBy,
	}

	col, err := e.inspector.GetColumn(ctx, req.TableName, req.OldColumnName)
	if err != nil {
		return nil, e.fail(ctx, m, &TransactionError{Operation: "rename column", Err: err}, req.SkipFailureRecord)
	}
	if col == nil {
		return nil, e.fail(ctx, m, &MissingColumnError{TableName: req.TableName, ColumnName: req.OldColumnName}, req.SkipFailureRecord)
	}

	collision, err := e.inspector.ColumnExists(ctx, req.TableName, req.NewColumnName)
	if err != nil {
		return nil, e.fail(ctx, m, &TransactionError{Operation: "rename column", Err: err}, req.SkipFailureRecord)
	}
	if collision {
		return nil, e.fail(ctx, m, &DuplicateColumnError{TableName: req.TableName, ColumnName: req.NewColumnName}, req.SkipFailureRecord)
	}

	m.OldValue = &api.ColumnSnapshot{ColumnName: req.OldColumnName, DataType: col.DataType}
	m.NewValue = &api.ColumnSnapshot{ColumnName: req.NewColumnName, DataType: col.DataType}

	rollback := renameColumnDDL(req.TableName, req.NewColumnName, req.OldColumnName)
	m.RollbackSQL = &rollback
	m.Success = true

	return e.execute(ctx, "rename column", renameColumnDDL(req.TableName, req.OldColumnName, req.NewColumnName), m, req.SkipFailureRecord)
}

// MigrateColumnType changes a column's storage type. Transitions that need
// validation scan every non-null value first and abort, with no backup and
// no DDL, when any value cannot convert. Destructive transitions snapshot
// the column before the ALTER.
func (e *Executor) MigrateColumnType(ctx context.Context, req ModifyColumnTypeRequest) (*api.Migration, error) {
	fieldID := req.FieldID
	m := &api.Migration{
		FieldID:    &fieldID,
		FormID:     req.FormID,
		Type:       api.MigrationModifyColumn,
		TableName:  req.TableName,
		ColumnName: req.ColumnName,
		ExecutedBy: req.ExecutedBy,
	}

	col, err := e.inspector.GetColumn(ctx, req.TableName, req.ColumnName)
	if err != nil {
		return nil, e.fail(ctx, m, &TransactionError{Operation: "modify column type", Err: err}, req.SkipFailureRecord)
	}
	if col == nil {
		return nil, e.fail(ctx, m, &MissingColumnError{TableName: req.TableName, ColumnName: req.ColumnName}, req.SkipFailureRecord)
	}

	oldType := col.DataType
	newType := StorageTypeFor(req.NewFieldKind)
	m.OldValue = &api.ColumnSnapshot{ColumnName: req.ColumnName, DataType: oldType}
	m.NewValue = &api.ColumnSnapshot{ColumnName: req.ColumnName, DataType: newType}

	if baseType(oldType) == baseType(newType) && typeLength(oldType) == typeLength(newType) {
		log.Info().
			Str("table", req.TableName).
			Str("column", req.ColumnName).
			Str("type", oldType).
			Msg("field kind change maps to the same storage type, skipping DDL")
		m.Success = true
		if err := e.ledger.Append(ctx, m); err != nil {
			return nil, &TransactionError{Operation: "record type no-op", Err: err}
		}
		return m, nil
	}

	switch classifyConversion(oldType, newType) {
	case conversionNumericCheck:
		if err := e.validateValues(ctx, m, newType, validNumericLiteral, req.SkipFailureRecord); err != nil {
			return nil, err
		}
	case conversionDateCheck:
		if err := e.validateValues(ctx, m, newType, validDateLiteral, req.SkipFailureRecord); err != nil {
			return nil, err
		}
	case conversionFractionWarning:
		lossy, _, err := e.scanColumnValues(ctx, req.TableName, req.ColumnName, func(v string) bool { return !losesFraction(v) })
		if err != nil {
			return nil, e.fail(ctx, m, &TransactionError{Operation: "fraction scan", Err: err}, req.SkipFailureRecord)
		}
		if lossy > 0 {
			log.Warn().
				Str("table", req.TableName).
				Str("column", req.ColumnName).
				Int64("rows", lossy).
				Msg("numeric to integer conversion truncates fractional values")
		}
	case conversionUnverified:
		log.Warn().
			Str("table", req.TableName).
			Str("column", req.ColumnName).
			Str("from", oldType).
			Str("to", newType).
			Msg("no validator for this conversion, relying on the database cast")
	}

	b, err := e.backups.BackupColumnData(ctx, api.BackupRequest{
		TableName:  req.TableName,
		ColumnName: req.ColumnName,
		FieldID:    req.FieldID,
		FormID:     req.FormID,
		Type:       api.BackupAutoModify,
		CreatedBy:  req.ExecutedBy,
	})
	if err != nil {
		return nil, e.fail(ctx, m, &TransactionError{Operation: "pre-modify backup", Err: err}, req.SkipFailureRecord)
	}
	backupID := b.ID
	m.BackupID = &backupID

	ddl := alterTypeDDL(req.TableName, req.ColumnName, newType, castExpression(req.ColumnName, oldType, newType))
	rollback := alterTypeDDL(req.TableName, req.ColumnName, oldType, castExpression(req.ColumnName, newType, oldType))
	m.RollbackSQL = &rollback
	m.Success = true

	return e.execute(ctx, "modify column type", ddl, m, req.SkipFailureRecord)
}

// validateValues aborts the operation when any non-null value fails the
// check for the target type.
func (e *Executor) validateValues(ctx context.Context, m *api.Migration, targetType string, valid func(string) bool, skipRecord bool) error {
	invalid, samples, err := e.scanColumnValues(ctx, m.TableName, m.ColumnName, valid)
	if err != nil {
		return e.fail(ctx, m, &TransactionError{Operation: "validation scan", Err: err}, skipRecord)
	}
	if invalid > 0 {
		return e.fail(ctx, m, &TypeConversionValidationError{
			TableName:    m.TableName,
			ColumnName:   m.ColumnName,
			TargetType:   targetType,
			InvalidCount: invalid,
			Samples:      samples,
		}, skipRecord)
	}
	return nil
}

// scanColumnValues streams every non-null value of the column as text and
// counts the ones the check rejects, keeping the first few as samples.
func (e *Executor) scanColumnValues(ctx context.Context, tableName, columnName string, valid func(string) bool) (int64, []string, error) {
	col := pgx.Identifier{columnName}.Sanitize()
	query := fmt.Sprintf(`SELECT %s::text FROM %s WHERE %s IS NOT NULL`,
		col, pgx.Identifier{tableName}.Sanitize(), col)

	rows, err := e.db.Query(ctx, query)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to scan column values: %w", err)
	}
	defer rows.Close()

	var (
		invalid int64
		samples []string
	)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return 0, nil, fmt.Errorf("failed to scan column value: %w", err)
		}
		if valid(v) {
			continue
		}
		invalid++
		if len(samples) < sampleLimit {
			samples = append(samples, v)
		}
	}

	return invalid, samples, rows.Err()
}

// execute runs the DDL statement and the ledger insert in one transaction.
func (e *Executor) execute(ctx context.Context, operation, ddl string, m *api.Migration, skipFailureRecord bool) (*api.Migration, error) {
	tx, err := e.db.Begin(ctx)
	if err != nil {
		return nil, e.fail(ctx, m, &TransactionError{Operation: operation, Err: err}, skipFailureRecord)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, ddl); err != nil {
		return nil, e.fail(ctx, m, &TransactionError{Operation: operation, Err: err}, skipFailureRecord)
	}
	if err := e.ledger.AppendTx(ctx, tx, m); err != nil {
		return nil, e.fail(ctx, m, &TransactionError{Operation: operation + " ledger insert", Err: err}, skipFailureRecord)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, e.fail(ctx, m, &TransactionError{Operation: operation + " commit", Err: err}, skipFailureRecord)
	}

	log.Info().
		Str("table", m.TableName).
		Str("column", m.ColumnName).
		Str("type", string(m.Type)).
		Int64("migrationId", m.ID).
		Msg("migration executed")

	return m, nil
}

// fail best-effort-writes a failed ledger entry in its own transaction and
// hands the original error back. The recording failure must never mask the
// cause, so it is only logged.
func (e *Executor) fail(ctx context.Context, m *api.Migration, cause error, skipRecord bool) error {
	if skipRecord {
		return cause
	}

	failed := *m
	failed.Success = false
	failed.RollbackSQL = nil
	msg := cause.Error()
	failed.ErrorMessage = &msg

	if err := e.ledger.Append(ctx, &failed); err != nil {
		log.Error().
			Err(err).
			Str("table", m.TableName).
			Str("column", m.ColumnName).
			Msg("failed to record failed migration")
	}

	return cause
}
