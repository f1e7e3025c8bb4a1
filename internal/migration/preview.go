package migration

import (
	"context"
	"fmt"

	"github.com/ppongpan/Q-Collector-sub002/api"
)

// PreviewRequest describes the change to dry-run. The fields used depend on
// Kind, mirroring FieldChange.
type PreviewRequest struct {
	Kind          api.ChangeKind
	TableName     string
	ColumnName    string
	NewColumnName string
	OldFieldKind  string
	NewFieldKind  string
}

// PreviewResult is everything an approval UI needs to show before a change
// runs: the exact statements, blast radius and backup footprint.
type PreviewResult struct {
	MigrationType        api.MigrationType `json:"migrationType"`
	DDL                  string            `json:"ddl"`
	RollbackSQL          string            `json:"rollbackSql"`
	Valid                bool              `json:"valid"`
	EstimatedRows        int64             `json:"estimatedRows"`
	RequiresBackup       bool              `json:"requiresBackup"`
	EstimatedBackupBytes int64             `json:"estimatedBackupBytes"`
	Warnings             []string          `json:"warnings"`
}

// Preview runs the identical introspection and validation path as the real
// operation with zero side effects: no DDL, no backup, no ledger entry.
// Repeated calls with the same input return the same result.
func (e *Executor) Preview(ctx context.Context, req PreviewRequest) (*PreviewResult, error) {
	res := &PreviewResult{Valid: true, Warnings: []string{}}

	rowCount, err := e.inspector.CountRows(ctx, req.TableName)
	if err != nil {
		return nil, &TransactionError{Operation: "preview row count", Err: err}
	}
	res.EstimatedRows = rowCount

	switch req.Kind {
	case api.ChangeAddField:
		res.MigrationType = api.MigrationAddColumn
		if err := e.previewAdd(ctx, req, res); err != nil {
			return nil, err
		}
	case api.ChangeDeleteField:
		res.MigrationType = api.MigrationDropColumn
		if err := e.previewDrop(ctx, req, res); err != nil {
			return nil, err
		}
	case api.ChangeRenameField:
		res.MigrationType = api.MigrationRenameColumn
		if err := e.previewRename(ctx, req, res); err != nil {
			return nil, err
		}
	case api.ChangeFieldType:
		res.MigrationType = api.MigrationModifyColumn
		if err := e.previewModify(ctx, req, res); err != nil {
			return nil, err
		}
	default:
		return nil, &UnknownMigrationTypeError{Kind: string(req.Kind)}
	}

	return res, nil
}

func (e *Executor) previewAdd(ctx context.Context, req PreviewRequest, res *PreviewResult) error {
	exists, err := e.inspector.ColumnExists(ctx, req.TableName, req.ColumnName)
	if err != nil {
		return &TransactionError{Operation: "preview add column", Err: err}
	}
	if exists {
		res.Valid = false
		res.Warnings = append(res.Warnings, fmt.Sprintf("column %q already exists; executing would be a no-op", req.ColumnName))
	}
	if !KnownFieldKind(req.NewFieldKind) {
		res.Warnings = append(res.Warnings, fmt.Sprintf("field kind %q has no mapping and defaults to text", req.NewFieldKind))
	}

	res.DDL = addColumnDDL(req.TableName, req.ColumnName, StorageTypeFor(req.NewFieldKind))
	res.RollbackSQL = dropColumnDDL(req.TableName, req.ColumnName)
	return nil
}

func (e *Executor) previewDrop(ctx context.Context, req PreviewRequest, res *PreviewResult) error {
	col, err := e.inspector.GetColumn(ctx, req.TableName, req.ColumnName)
	if err != nil {
		return &TransactionError{Operation: "preview drop column", Err: err}
	}
	if col == nil {
		res.Valid = false
		res.Warnings = append(res.Warnings, fmt.Sprintf("column %q does not exist", req.ColumnName))
		return nil
	}

	size, err := e.inspector.ColumnSize(ctx, req.TableName, req.ColumnName)
	if err != nil {
		return &TransactionError{Operation: "preview backup size", Err: err}
	}

	res.DDL = dropColumnDDL(req.TableName, req.ColumnName)
	res.RollbackSQL = addColumnDDL(req.TableName, req.ColumnName, col.DataType)
	res.RequiresBackup = true
	res.EstimatedBackupBytes = size
	res.Warnings = append(res.Warnings, "destructive: column data is removed; restore requires the automatic backup")
	return nil
}

func (e *Executor) previewRename(ctx context.Context, req PreviewRequest, res *PreviewResult) error {
	col, err := e.inspector.GetColumn(ctx, req.TableName, req.ColumnName)
	if err != nil {
		return &TransactionError{Operation: "preview rename column", Err: err}
	}
	if col == nil {
		res.Valid = false
		res.Warnings = append(res.Warnings, fmt.Sprintf("column %q does not exist", req.ColumnName))
	}

	collision, err := e.inspector.ColumnExists(ctx, req.TableName, req.NewColumnName)
	if err != nil {
		return &TransactionError{Operation: "preview rename column", Err: err}
	}
	if collision {
		res.Valid = false
		res.Warnings = append(res.Warnings, fmt.Sprintf("column %q already exists", req.NewColumnName))
	}

	res.DDL = renameColumnDDL(req.TableName, req.ColumnName, req.NewColumnName)
	res.RollbackSQL = renameColumnDDL(req.TableName, req.NewColumnName, req.ColumnName)
	return nil
}

func (e *Executor) previewModify(ctx context.Context, req PreviewRequest, res *PreviewResult) error {
	col, err := e.inspector.GetColumn(ctx, req.TableName, req.ColumnName)
	if err != nil {
		return &TransactionError{Operation: "preview modify column", Err: err}
	}
	if col == nil {
		res.Valid = false
		res.Warnings = append(res.Warnings, fmt.Sprintf("column %q does not exist", req.ColumnName))
		return nil
	}

	oldType := col.DataType
	newType := StorageTypeFor(req.NewFieldKind)
	res.DDL = alterTypeDDL(req.TableName, req.ColumnName, newType, castExpression(req.ColumnName, oldType, newType))
	res.RollbackSQL = alterTypeDDL(req.TableName, req.ColumnName, oldType, castExpression(req.ColumnName, newType, oldType))

	switch classifyConversion(oldType, newType) {
	case conversionNumericCheck:
		invalid, samples, err := e.scanColumnValues(ctx, req.TableName, req.ColumnName, validNumericLiteral)
		if err != nil {
			return &TransactionError{Operation: "preview validation scan", Err: err}
		}
		if invalid > 0 {
			res.Valid = false
			res.Warnings = append(res.Warnings, fmt.Sprintf("%d value(s) are not numeric (sample: %v)", invalid, samples))
		}
	case conversionDateCheck:
		invalid, samples, err := e.scanColumnValues(ctx, req.TableName, req.ColumnName, validDateLiteral)
		if err != nil {
			return &TransactionError{Operation: "preview validation scan", Err: err}
		}
		if invalid > 0 {
			res.Valid = false
			res.Warnings = append(res.Warnings, fmt.Sprintf("%d value(s) are not ISO dates (sample: %v)", invalid, samples))
		}
	case conversionFractionWarning:
		lossy, _, err := e.scanColumnValues(ctx, req.TableName, req.ColumnName, func(v string) bool { return !losesFraction(v) })
		if err != nil {
			return &TransactionError{Operation: "preview fraction scan", Err: err}
		}
		if lossy > 0 {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%d value(s) lose their fractional part", lossy))
		}
	case conversionUnverified:
		res.Warnings = append(res.Warnings, fmt.Sprintf("no validator for %s to %s; the cast is attempted as-is", oldType, newType))
	}

	size, err := e.inspector.ColumnSize(ctx, req.TableName, req.ColumnName)
	if err != nil {
		return &TransactionError{Operation: "preview backup size", Err: err}
	}
	res.RequiresBackup = true
	res.EstimatedBackupBytes = size
	return nil
}
