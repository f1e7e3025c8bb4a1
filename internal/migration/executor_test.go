package migration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/ppongpan/Q-Collector-sub002/api"
	"github.com/ppongpan/Q-Collector-sub002/internal/schema"
)

// ---- fakes ----

type fakeInspector struct {
	columns  map[string]*schema.Column
	rowCount int64
	colSize  int64
}

func colKey(tableName, columnName string) string {
	return tableName + "." + columnName
}

func (f *fakeInspector) ColumnExists(_ context.Context, tableName, columnName string) (bool, error) {
	_, ok := f.columns[colKey(tableName, columnName)]
	return ok, nil
}

func (f *fakeInspector) GetColumn(_ context.Context, tableName, columnName string) (*schema.Column, error) {
	return f.columns[colKey(tableName, columnName)], nil
}

func (f *fakeInspector) CountRows(_ context.Context, _ string) (int64, error) {
	return f.rowCount, nil
}

func (f *fakeInspector) ColumnSize(_ context.Context, _, _ string) (int64, error) {
	return f.colSize, nil
}

type fakeLedger struct {
	entries   []*api.Migration
	txEntries []*api.Migration
}

func (f *fakeLedger) Append(_ context.Context, m *api.Migration) error {
	m.ID = int64(len(f.entries) + len(f.txEntries) + 1)
	entry := *m
	f.entries = append(f.entries, &entry)
	return nil
}

func (f *fakeLedger) AppendTx(_ context.Context, _ pgx.Tx, m *api.Migration) error {
	m.ID = int64(len(f.entries) + len(f.txEntries) + 1)
	entry := *m
	f.txEntries = append(f.txEntries, &entry)
	return nil
}

func (f *fakeLedger) FindByForm(_ context.Context, _ string) ([]*api.Migration, error) {
	return nil, nil
}

func (f *fakeLedger) FindByTable(_ context.Context, _ string) ([]*api.Migration, error) {
	return nil, nil
}

func (f *fakeLedger) GetByID(_ context.Context, _ int64) (*api.Migration, error) {
	return nil, nil
}

func (f *fakeLedger) GetStatistics(_ context.Context) (*api.MigrationStatistics, error) {
	return nil, nil
}

type fakeBackupper struct {
	requests []api.BackupRequest
	err      error
}

func (f *fakeBackupper) BackupColumnData(_ context.Context, req api.BackupRequest) (*api.Backup, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.requests = append(f.requests, req)
	return &api.Backup{
		ID:             uuid.New(),
		TableName:      req.TableName,
		ColumnName:     req.ColumnName,
		Type:           req.Type,
		RetentionUntil: time.Now().Add(90 * 24 * time.Hour),
	}, nil
}

type fakeDB struct {
	columnValues []string
	queryErr     error
	txs          []*fakeTx
}

func (d *fakeDB) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
	if d.queryErr != nil {
		return nil, d.queryErr
	}
	return &fakeRows{values: d.columnValues}, nil
}

func (d *fakeDB) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	return errRow{}
}

func (d *fakeDB) Exec(_ context.Context, _ string, _ ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (d *fakeDB) Begin(_ context.Context) (pgx.Tx, error) {
	tx := &fakeTx{}
	d.txs = append(d.txs, tx)
	return tx, nil
}

func (d *fakeDB) statements() []string {
	var out []string
	for _, tx := range d.txs {
		out = append(out, tx.statements...)
	}
	return out
}

type errRow struct{}

func (errRow) Scan(_ ...any) error { return pgx.ErrNoRows }

type fakeRows struct {
	values []string
	idx    int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return nil, nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.idx < len(r.values) {
		r.idx++
		return true
	}
	return false
}

func (r *fakeRows) Scan(dest ...any) error {
	*(dest[0].(*string)) = r.values[r.idx-1]
	return nil
}

type fakeTx struct {
	statements []string
	committed  bool
	rolledBack bool
	execErr    error
}

func (t *fakeTx) Begin(_ context.Context) (pgx.Tx, error) { return t, nil }

func (t *fakeTx) Commit(_ context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(_ context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

func (t *fakeTx) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	if t.execErr != nil {
		return pgconn.CommandTag{}, t.execErr
	}
	t.statements = append(t.statements, sql)
	return pgconn.CommandTag{}, nil
}

func (t *fakeTx) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
	return &fakeRows{}, nil
}

func (t *fakeTx) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row { return errRow{} }

func (t *fakeTx) CopyFrom(_ context.Context, _ pgx.Identifier, _ []string, _ pgx.CopyFromSource) (int64, error) {
	return 0, nil
}

func (t *fakeTx) SendBatch(_ context.Context, _ *pgx.Batch) pgx.BatchResults { return nil }
func (t *fakeTx) LargeObjects() pgx.LargeObjects                             { return pgx.LargeObjects{} }
func (t *fakeTx) Prepare(_ context.Context, _, _ string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *fakeTx) Conn() *pgx.Conn { return nil }

func newTestExecutor(db *fakeDB, insp *fakeInspector, ledger *fakeLedger, backups *fakeBackupper) *Executor {
	return NewExecutor(db, insp, ledger, backups)
}

// ---- tests ----

func TestAddColumn(t *testing.T) {
	db := &fakeDB{}
	ledger := &fakeLedger{}
	insp := &fakeInspector{columns: map[string]*schema.Column{}}
	exec := newTestExecutor(db, insp, ledger, &fakeBackupper{})

	m, err := exec.AddColumn(context.Background(), AddColumnRequest{
		TableName:  "form_contacts",
		FormID:     "form-1",
		FieldID:    "f2",
		ColumnName: "notes",
		FieldKind:  "paragraph",
		ExecutedBy: "user-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantDDL := `ALTER TABLE "form_contacts" ADD COLUMN "notes" text;`
	stmts := db.statements()
	if len(stmts) != 1 || stmts[0] != wantDDL {
		t.Errorf("expected DDL %q, got %v", wantDDL, stmts)
	}
	if !m.Success {
		t.Error("expected migration to be marked successful")
	}
	wantRollback := `ALTER TABLE "form_contacts" DROP COLUMN "notes";`
	if m.RollbackSQL == nil || *m.RollbackSQL != wantRollback {
		t.Errorf("expected rollback %q, got %v", wantRollback, m.RollbackSQL)
	}
	if len(ledger.txEntries) != 1 {
		t.Fatalf("expected 1 in-transaction ledger entry, got %d", len(ledger.txEntries))
	}
	if !db.txs[0].committed {
		t.Error("expected the transaction to commit")
	}
}

func TestAddColumnDuplicate(t *testing.T) {
	db := &fakeDB{}
	ledger := &fakeLedger{}
	insp := &fakeInspector{columns: map[string]*schema.Column{
		colKey("form_contacts", "notes"): {Name: "notes", DataType: "text"},
	}}
	exec := newTestExecutor(db, insp, ledger, &fakeBackupper{})

	_, err := exec.AddColumn(context.Background(), AddColumnRequest{
		TableName:  "form_contacts",
		ColumnName: "notes",
		FieldKind:  "paragraph",
	})

	var dup *DuplicateColumnError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateColumnError, got %v", err)
	}
	if len(db.txs) != 0 {
		t.Error("expected no transaction for a rejected add")
	}
	if len(ledger.entries) != 1 || ledger.entries[0].Success {
		t.Fatalf("expected exactly one failed ledger entry, got %+v", ledger.entries)
	}
}

func TestAddColumnIgnoreDuplicate(t *testing.T) {
	db := &fakeDB{}
	ledger := &fakeLedger{}
	insp := &fakeInspector{columns: map[string]*schema.Column{
		colKey("form_contacts", "notes"): {Name: "notes", DataType: "text"},
	}}
	exec := newTestExecutor(db, insp, ledger, &fakeBackupper{})

	m, err := exec.AddColumn(context.Background(), AddColumnRequest{
		TableName:       "form_contacts",
		ColumnName:      "notes",
		FieldKind:       "paragraph",
		IgnoreDuplicate: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !m.Success {
		t.Error("expected no-op to be recorded as success")
	}
	if m.RollbackSQL != nil {
		t.Errorf("no-op must not carry rollback SQL, got %q", *m.RollbackSQL)
	}
	if len(db.txs) != 0 {
		t.Error("expected no DDL for the no-op")
	}
	if len(ledger.entries) != 1 {
		t.Fatalf("expected one ledger entry, got %d", len(ledger.entries))
	}
}

func TestDropColumnTakesBackup(t *testing.T) {
	db := &fakeDB{}
	ledger := &fakeLedger{}
	backups := &fakeBackupper{}
	insp := &fakeInspector{columns: map[string]*schema.Column{
		colKey("form_contacts", "notes"): {Name: "notes", DataType: "text"},
	}}
	exec := newTestExecutor(db, insp, ledger, backups)

	m, err := exec.DropColumn(context.Background(), DropColumnRequest{
		TableName:  "form_contacts",
		FormID:     "form-1",
		FieldID:    "f2",
		ColumnName: "notes",
		ExecutedBy: "user-1",
		Backup:     true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(backups.requests) != 1 {
		t.Fatalf("expected 1 backup, got %d", len(backups.requests))
	}
	if backups.requests[0].Type != api.BackupAutoDelete {
		t.Errorf("expected AUTO_DELETE backup, got %s", backups.requests[0].Type)
	}
	if m.BackupID == nil {
		t.Error("expected migration to reference the backup")
	}
	wantRollback := `ALTER TABLE "form_contacts" ADD COLUMN "notes" text;`
	if m.RollbackSQL == nil || *m.RollbackSQL != wantRollback {
		t.Errorf("expected rollback %q, got %v", wantRollback, m.RollbackSQL)
	}
}

func TestRenameColumn(t *testing.T) {
	db := &fakeDB{}
	ledger := &fakeLedger{}
	insp := &fakeInspector{columns: map[string]*schema.Column{
		colKey("form_contacts", "age"): {Name: "age", DataType: "integer"},
	}}
	exec := newTestExecutor(db, insp, ledger, &fakeBackupper{})

	m, err := exec.RenameColumn(context.Background(), RenameColumnRequest{
		TableName:     "form_contacts",
		FieldID:       "f1",
		OldColumnName: "age",
		NewColumnName: "age_years",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantDDL := `ALTER TABLE "form_contacts" RENAME COLUMN "age" TO "age_years";`
	stmts := db.statements()
	if len(stmts) != 1 || stmts[0] != wantDDL {
		t.Errorf("expected DDL %q, got %v", wantDDL, stmts)
	}
	wantRollback := `ALTER TABLE "form_contacts" RENAME COLUMN "age_years" TO "age";`
	if m.RollbackSQL == nil || *m.RollbackSQL != wantRollback {
		t.Errorf("expected rollback %q, got %v", wantRollback, m.RollbackSQL)
	}
	if m.OldValue == nil || m.OldValue.ColumnName != "age" || m.NewValue == nil || m.NewValue.ColumnName != "age_years" {
		t.Errorf("expected old/new snapshots, got %+v / %+v", m.OldValue, m.NewValue)
	}
}

func TestRenameColumnMissing(t *testing.T) {
	db := &fakeDB{}
	ledger := &fakeLedger{}
	insp := &fakeInspector{columns: map[string]*schema.Column{}}
	exec := newTestExecutor(db, insp, ledger, &fakeBackupper{})

	_, err := exec.RenameColumn(context.Background(), RenameColumnRequest{
		TableName:     "form_contacts",
		OldColumnName: "age",
		NewColumnName: "age_years",
	})

	var missing *MissingColumnError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingColumnError, got %v", err)
	}
	if len(ledger.entries) != 1 || ledger.entries[0].Success {
		t.Fatalf("expected one failed ledger entry, got %+v", ledger.entries)
	}
}

func TestRenameColumnCollision(t *testing.T) {
	db := &fakeDB{}
	insp := &fakeInspector{columns: map[string]*schema.Column{
		colKey("form_contacts", "age"):       {Name: "age", DataType: "integer"},
		colKey("form_contacts", "age_years"): {Name: "age_years", DataType: "integer"},
	}}
	exec := newTestExecutor(db, insp, &fakeLedger{}, &fakeBackupper{})

	_, err := exec.RenameColumn(context.Background(), RenameColumnRequest{
		TableName:     "form_contacts",
		OldColumnName: "age",
		NewColumnName: "age_years",
	})

	var dup *DuplicateColumnError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateColumnError, got %v", err)
	}
	if len(db.txs) != 0 {
		t.Error("expected no transaction for a rejected rename")
	}
}

func TestMigrateColumnType(t *testing.T) {
	db := &fakeDB{columnValues: []string{"1", "2.5", "-3"}}
	ledger := &fakeLedger{}
	backups := &fakeBackupper{}
	insp := &fakeInspector{columns: map[string]*schema.Column{
		colKey("form_contacts", "amount"): {Name: "amount", DataType: "text"},
	}}
	exec := newTestExecutor(db, insp, ledger, backups)

	m, err := exec.MigrateColumnType(context.Background(), ModifyColumnTypeRequest{
		TableName:    "form_contacts",
		FieldID:      "f3",
		ColumnName:   "amount",
		OldFieldKind: "paragraph",
		NewFieldKind: "number",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantDDL := `ALTER TABLE "form_contacts" ALTER COLUMN "amount" TYPE numeric USING trim("amount")::numeric;`
	stmts := db.statements()
	if len(stmts) != 1 || stmts[0] != wantDDL {
		t.Errorf("expected DDL %q, got %v", wantDDL, stmts)
	}
	if len(backups.requests) != 1 || backups.requests[0].Type != api.BackupAutoModify {
		t.Fatalf("expected one AUTO_MODIFY backup, got %+v", backups.requests)
	}
	if m.BackupID == nil {
		t.Error("expected migration to reference the backup")
	}
	wantRollback := `ALTER TABLE "form_contacts" ALTER COLUMN "amount" TYPE text USING "amount"::text;`
	if m.RollbackSQL == nil || *m.RollbackSQL != wantRollback {
		t.Errorf("expected rollback %q, got %v", wantRollback, m.RollbackSQL)
	}
}

func TestMigrateColumnTypeRejectsInvalidValues(t *testing.T) {
	db := &fakeDB{columnValues: []string{"1", "not a number", "3"}}
	ledger := &fakeLedger{}
	backups := &fakeBackupper{}
	insp := &fakeInspector{columns: map[string]*schema.Column{
		colKey("form_contacts", "amount"): {Name: "amount", DataType: "text"},
	}}
	exec := newTestExecutor(db, insp, ledger, backups)

	_, err := exec.MigrateColumnType(context.Background(), ModifyColumnTypeRequest{
		TableName:    "form_contacts",
		ColumnName:   "amount",
		OldFieldKind: "paragraph",
		NewFieldKind: "number",
	})

	var conv *TypeConversionValidationError
	if !errors.As(err, &conv) {
		t.Fatalf("expected TypeConversionValidationError, got %v", err)
	}
	if conv.InvalidCount != 1 {
		t.Errorf("expected 1 invalid value, got %d", conv.InvalidCount)
	}
	if len(conv.Samples) != 1 || conv.Samples[0] != "not a number" {
		t.Errorf("expected the offending value as sample, got %v", conv.Samples)
	}
	if len(backups.requests) != 0 {
		t.Error("expected no backup when validation fails")
	}
	if len(db.txs) != 0 {
		t.Error("expected no DDL when validation fails")
	}
	if len(ledger.entries) != 1 || ledger.entries[0].Success {
		t.Fatalf("expected one failed ledger entry, got %+v", ledger.entries)
	}
}

func TestMigrateColumnTypeSameStorageType(t *testing.T) {
	db := &fakeDB{}
	ledger := &fakeLedger{}
	insp := &fakeInspector{columns: map[string]*schema.Column{
		colKey("form_contacts", "email"): {Name: "email", DataType: "character varying(255)"},
	}}
	exec := newTestExecutor(db, insp, ledger, &fakeBackupper{})

	m, err := exec.MigrateColumnType(context.Background(), ModifyColumnTypeRequest{
		TableName:    "form_contacts",
		ColumnName:   "email",
		OldFieldKind: "email",
		NewFieldKind: "short_answer",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !m.Success {
		t.Error("expected same-type change to succeed as no-op")
	}
	if len(db.txs) != 0 {
		t.Error("expected no DDL for a same-type change")
	}
	if len(ledger.entries) != 1 {
		t.Fatalf("expected one ledger entry, got %d", len(ledger.entries))
	}
}

func TestSkipFailureRecord(t *testing.T) {
	db := &fakeDB{}
	ledger := &fakeLedger{}
	insp := &fakeInspector{columns: map[string]*schema.Column{
		colKey("form_contacts", "notes"): {Name: "notes", DataType: "text"},
	}}
	exec := newTestExecutor(db, insp, ledger, &fakeBackupper{})

	_, err := exec.AddColumn(context.Background(), AddColumnRequest{
		TableName:         "form_contacts",
		ColumnName:        "notes",
		FieldKind:         "paragraph",
		SkipFailureRecord: true,
	})

	var dup *DuplicateColumnError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateColumnError, got %v", err)
	}
	if len(ledger.entries) != 0 {
		t.Errorf("expected no ledger entry when recording is suppressed, got %d", len(ledger.entries))
	}
}

func TestPreviewHasNoSideEffects(t *testing.T) {
	db := &fakeDB{columnValues: []string{"1", "oops"}}
	ledger := &fakeLedger{}
	backups := &fakeBackupper{}
	insp := &fakeInspector{
		columns: map[string]*schema.Column{
			colKey("form_contacts", "amount"): {Name: "amount", DataType: "text"},
		},
		rowCount: 2,
		colSize:  64,
	}
	exec := newTestExecutor(db, insp, ledger, backups)

	req := PreviewRequest{
		Kind:         api.ChangeFieldType,
		TableName:    "form_contacts",
		ColumnName:   "amount",
		OldFieldKind: "paragraph",
		NewFieldKind: "number",
	}

	first, err := exec.Preview(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := exec.Preview(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first.Valid {
		t.Error("expected preview to flag the non-numeric value")
	}
	if first.DDL != second.DDL || first.Valid != second.Valid || len(first.Warnings) != len(second.Warnings) {
		t.Errorf("expected identical results on repeat, got %+v vs %+v", first, second)
	}
	if first.EstimatedRows != 2 || first.EstimatedBackupBytes != 64 || !first.RequiresBackup {
		t.Errorf("unexpected estimates: %+v", first)
	}
	if len(db.txs) != 0 || len(ledger.entries) != 0 || len(ledger.txEntries) != 0 || len(backups.requests) != 0 {
		t.Error("preview must not execute DDL, write the ledger or take backups")
	}
}

func TestPreviewAddExisting(t *testing.T) {
	db := &fakeDB{}
	insp := &fakeInspector{
		columns: map[string]*schema.Column{
			colKey("form_contacts", "notes"): {Name: "notes", DataType: "text"},
		},
	}
	exec := newTestExecutor(db, insp, &fakeLedger{}, &fakeBackupper{})

	res, err := exec.Preview(context.Background(), PreviewRequest{
		Kind:         api.ChangeAddField,
		TableName:    "form_contacts",
		ColumnName:   "notes",
		NewFieldKind: "paragraph",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Valid {
		t.Error("expected preview of a duplicate add to be invalid")
	}
	if len(res.Warnings) == 0 {
		t.Error("expected a warning about the existing column")
	}
}
