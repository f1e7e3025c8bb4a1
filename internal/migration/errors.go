package migration

import "fmt"

// DuplicateColumnError reports an attempt to create a column that already
// exists on the target table.
type DuplicateColumnError struct {
	TableName  string
	ColumnName string
}

func (e *DuplicateColumnError) Error() string {
	return fmt.Sprintf("column %q already exists on table %q", e.ColumnName, e.TableName)
}

// MissingColumnError reports an operation against a column that no longer
// exists on the target table.
type MissingColumnError struct {
	TableName  string
	ColumnName string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("column %q does not exist on table %q", e.ColumnName, e.TableName)
}

// TypeConversionValidationError reports existing values that cannot be cast
// to the requested target type. Samples holds at most a handful of the
// offending values for diagnostics.
type TypeConversionValidationError struct {
	TableName    string
	ColumnName   string
	TargetType   string
	InvalidCount int64
	Samples      []string
}

func (e *TypeConversionValidationError) Error() string {
	return fmt.Sprintf("%d value(s) in %q.%q cannot be converted to %s (sample: %v)",
		e.InvalidCount, e.TableName, e.ColumnName, e.TargetType, e.Samples)
}

// ExpiredBackupError reports a restore attempt against a backup past its
// retention window.
type ExpiredBackupError struct {
	BackupID string
}

func (e *ExpiredBackupError) Error() string {
	return fmt.Sprintf("backup %s is past its retention window", e.BackupID)
}

// UnknownMigrationTypeError reports a queue job whose change kind is not part
// of the closed set the worker dispatches on.
type UnknownMigrationTypeError struct {
	Kind string
}

func (e *UnknownMigrationTypeError) Error() string {
	return fmt.Sprintf("unknown migration type %q", e.Kind)
}

// TransactionError wraps any other DDL or ledger failure. The wrapped error
// is preserved for logging; the table is left unchanged.
type TransactionError struct {
	Operation string
	Err       error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Operation, e.Err)
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}
