package api

import (
	"time"

	"github.com/google/uuid"
)

// MigrationType identifies the kind of DDL operation a ledger entry records.
type MigrationType string

const (
	MigrationAddColumn    MigrationType = "ADD_COLUMN"
	MigrationDropColumn   MigrationType = "DROP_COLUMN"
	MigrationRenameColumn MigrationType = "RENAME_COLUMN"
	MigrationModifyColumn MigrationType = "MODIFY_COLUMN"
	MigrationRestoreData  MigrationType = "RESTORE_DATA"
)

// BackupType records why a column snapshot was taken.
type BackupType string

const (
	BackupManual     BackupType = "MANUAL"
	BackupAutoDelete BackupType = "AUTO_DELETE"
	BackupAutoModify BackupType = "AUTO_MODIFY"
)

// ChangeKind identifies one difference between two field-definition versions.
type ChangeKind string

const (
	ChangeAddField    ChangeKind = "ADD_FIELD"
	ChangeDeleteField ChangeKind = "DELETE_FIELD"
	ChangeRenameField ChangeKind = "RENAME_FIELD"
	ChangeFieldType   ChangeKind = "CHANGE_TYPE"
)

// JobStatus is the lifecycle state of a queued migration job.
type JobStatus string

const (
	JobWaiting   JobStatus = "waiting"
	JobActive    JobStatus = "active"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// ColumnSnapshot captures a column's name and storage type at a point in time.
// Stored as jsonb in the ledger's old_value/new_value columns.
type ColumnSnapshot struct {
	ColumnName string `json:"columnName"`
	DataType   string `json:"dataType"`
}

// Migration is one append-only ledger entry: a schema-altering DDL operation
// plus its audit record. Entries are never mutated after insertion.
type Migration struct {
	ID           int64           `json:"id" db:"id"`
	FieldID      *string         `json:"fieldId" db:"field_id"`
	FormID       string          `json:"formId" db:"form_id"`
	Type         MigrationType   `json:"migrationType" db:"migration_type"`
	TableName    string          `json:"tableName" db:"table_name"`
	ColumnName   string          `json:"columnName" db:"column_name"`
	OldValue     *ColumnSnapshot `json:"oldValue" db:"old_value"`
	NewValue     *ColumnSnapshot `json:"newValue" db:"new_value"`
	BackupID     *uuid.UUID      `json:"backupId" db:"backup_id"`
	ExecutedBy   string          `json:"executedBy" db:"executed_by"`
	ExecutedAt   time.Time       `json:"executedAt" db:"executed_at"`
	Success      bool            `json:"success" db:"success"`
	ErrorMessage *string         `json:"errorMessage" db:"error_message"`
	RollbackSQL  *string         `json:"rollbackSql" db:"rollback_sql"`
}

// CanRollback reports whether this entry's schema effect may be undone.
// ADD_COLUMN entries additionally require the field to be gone: rolling back
// the column under a live field would orphan it.
func (m *Migration) CanRollback() bool {
	if !m.Success || m.RollbackSQL == nil {
		return false
	}
	if m.Type == MigrationAddColumn && m.FieldID != nil {
		return false
	}
	return true
}

// SnapshotRow is one (primary key, value) pair of a column backup. Value is
// nil for SQL NULL.
type SnapshotRow struct {
	RowID string  `json:"rowId"`
	Value *string `json:"value"`
}

// Backup is a write-once copy of one column's values across all rows, taken
// immediately before a destructive change.
type Backup struct {
	ID             uuid.UUID     `json:"id" db:"id"`
	FieldID        string        `json:"fieldId" db:"field_id"`
	FormID         string        `json:"formId" db:"form_id"`
	TableName      string        `json:"tableName" db:"table_name"`
	ColumnName     string        `json:"columnName" db:"column_name"`
	DataSnapshot   []SnapshotRow `json:"dataSnapshot" db:"data_snapshot"`
	Type           BackupType    `json:"backupType" db:"backup_type"`
	RetentionUntil time.Time     `json:"retentionUntil" db:"retention_until"`
	CreatedBy      string        `json:"createdBy" db:"created_by"`
	CreatedAt      time.Time     `json:"createdAt" db:"created_at"`
}

// Expired reports whether the backup is past its retention window.
func (b *Backup) Expired(now time.Time) bool {
	return now.After(b.RetentionUntil)
}

// FieldDefinition is one field of a form as supplied by the form-save
// workflow. ID is the stable identity used for diffing; DataType is the
// form-level field kind (short_answer, number, date, ...), not a SQL type.
type FieldDefinition struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	ColumnName string `json:"columnName"`
	DataType   string `json:"dataType"`
}

// FieldChange is one difference between two field-definition versions.
// Produced by the change detector, consumed once by the queue.
type FieldChange struct {
	Kind          ChangeKind `json:"kind"`
	FieldID       string     `json:"fieldId"`
	OldColumnName string     `json:"oldColumnName,omitempty"`
	NewColumnName string     `json:"newColumnName,omitempty"`
	OldType       string     `json:"oldType,omitempty"`
	NewType       string     `json:"newType,omitempty"`
}

// MigrationJob is one queued schema change. Jobs survive restarts: they are
// persisted before Enqueue returns and reloaded on startup.
type MigrationJob struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	Fingerprint   string     `json:"-" db:"fingerprint"`
	Kind          ChangeKind `json:"kind" db:"type"`
	TableName     string     `json:"tableName" db:"table_name"`
	ColumnName    string     `json:"columnName" db:"column_name"`
	NewColumnName string     `json:"newColumnName,omitempty" db:"new_column_name"`
	OldType       string     `json:"oldType,omitempty" db:"old_type"`
	NewType       string     `json:"newType,omitempty" db:"new_type"`
	FieldID       string     `json:"fieldId" db:"field_id"`
	FormID        string     `json:"formId" db:"form_id"`
	UserID        string     `json:"userId" db:"user_id"`
	Priority      int        `json:"priority" db:"priority"`
	Attempts      int        `json:"attempts" db:"attempts"`
	MaxAttempts   int        `json:"maxAttempts" db:"max_attempts"`
	Status        JobStatus  `json:"status" db:"status"`
	LastError     *string    `json:"lastError,omitempty" db:"last_error"`
	EnqueuedAt    time.Time  `json:"enqueuedAt" db:"enqueued_at"`
	UpdatedAt     time.Time  `json:"updatedAt" db:"updated_at"`
}

// BackupRequest asks the backup store to snapshot one column before a
// destructive change. RetentionOverride of zero means the default window.
type BackupRequest struct {
	TableName         string
	ColumnName        string
	FieldID           string
	FormID            string
	Type              BackupType
	CreatedBy         string
	RetentionOverride time.Duration
}

// MigrationStatistics summarizes the ledger for reporting.
type MigrationStatistics struct {
	Total     int64                   `json:"total"`
	Succeeded int64                   `json:"succeeded"`
	Failed    int64                   `json:"failed"`
	ByType    map[MigrationType]int64 `json:"byType"`
}

// MigrationList and friends are response envelopes for the REST surface.
type MigrationList struct {
	Migrations []*Migration `json:"migrations"`
}

type BackupList struct {
	Backups []*Backup `json:"backups"`
}

type JobList struct {
	Jobs []*MigrationJob `json:"jobs"`
}
