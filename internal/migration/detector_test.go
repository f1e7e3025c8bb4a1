package migration

import (
	"testing"

	"github.com/ppongpan/Q-Collector-sub002/api"
)

func TestDetectChanges(t *testing.T) {
	testCases := []struct {
		name      string
		oldFields []api.FieldDefinition
		newFields []api.FieldDefinition
		want      []api.FieldChange
	}{
		{
			name:      "no changes",
			oldFields: []api.FieldDefinition{{ID: "f1", ColumnName: "age", DataType: "number"}},
			newFields: []api.FieldDefinition{{ID: "f1", ColumnName: "age", DataType: "number"}},
			want:      nil,
		},
		{
			name:      "added field",
			oldFields: []api.FieldDefinition{{ID: "f1", ColumnName: "age", DataType: "number"}},
			newFields: []api.FieldDefinition{
				{ID: "f1", ColumnName: "age", DataType: "number"},
				{ID: "f2", ColumnName: "notes", DataType: "paragraph"},
			},
			want: []api.FieldChange{
				{Kind: api.ChangeAddField, FieldID: "f2", NewColumnName: "notes", NewType: "paragraph"},
			},
		},
		{
			name: "deleted field",
			oldFields: []api.FieldDefinition{
				{ID: "f1", ColumnName: "age", DataType: "number"},
				{ID: "f2", ColumnName: "notes", DataType: "paragraph"},
			},
			newFields: []api.FieldDefinition{{ID: "f1", ColumnName: "age", DataType: "number"}},
			want: []api.FieldChange{
				{Kind: api.ChangeDeleteField, FieldID: "f2", OldColumnName: "notes", OldType: "paragraph"},
			},
		},
		{
			name:      "renamed field",
			oldFields: []api.FieldDefinition{{ID: "f1", ColumnName: "age", DataType: "number"}},
			newFields: []api.FieldDefinition{{ID: "f1", ColumnName: "age_years", DataType: "number"}},
			want: []api.FieldChange{
				{Kind: api.ChangeRenameField, FieldID: "f1", OldColumnName: "age", NewColumnName: "age_years"},
			},
		},
		{
			name:      "retyped field",
			oldFields: []api.FieldDefinition{{ID: "f1", ColumnName: "age", DataType: "short_answer"}},
			newFields: []api.FieldDefinition{{ID: "f1", ColumnName: "age", DataType: "number"}},
			want: []api.FieldChange{
				{
					Kind:          api.ChangeFieldType,
					FieldID:       "f1",
					OldColumnName: "age",
					NewColumnName: "age",
					OldType:       "short_answer",
					NewType:       "number",
				},
			},
		},
		{
			name:      "rename and retype in one edit",
			oldFields: []api.FieldDefinition{{ID: "f1", ColumnName: "age", DataType: "short_answer"}},
			newFields: []api.FieldDefinition{{ID: "f1", ColumnName: "age_years", DataType: "number"}},
			want: []api.FieldChange{
				{Kind: api.ChangeRenameField, FieldID: "f1", OldColumnName: "age", NewColumnName: "age_years"},
				{
					Kind:          api.ChangeFieldType,
					FieldID:       "f1",
					OldColumnName: "age",
					NewColumnName: "age_years",
					OldType:       "short_answer",
					NewType:       "number",
				},
			},
		},
		{
			name: "identity wins over position",
			oldFields: []api.FieldDefinition{
				{ID: "f1", ColumnName: "age", DataType: "number"},
				{ID: "f2", ColumnName: "notes", DataType: "paragraph"},
			},
			newFields: []api.FieldDefinition{
				{ID: "f2", ColumnName: "notes", DataType: "paragraph"},
				{ID: "f1", ColumnName: "age", DataType: "number"},
			},
			want: nil,
		},
		{
			name:      "swap produces add and delete, not rename",
			oldFields: []api.FieldDefinition{{ID: "f1", ColumnName: "age", DataType: "number"}},
			newFields: []api.FieldDefinition{{ID: "f9", ColumnName: "age_years", DataType: "number"}},
			want: []api.FieldChange{
				{Kind: api.ChangeAddField, FieldID: "f9", NewColumnName: "age_years", NewType: "number"},
				{Kind: api.ChangeDeleteField, FieldID: "f1", OldColumnName: "age", OldType: "number"},
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := DetectChanges(tc.oldFields, tc.newFields)
			assertChanges(t, tc.want, got)
		})
	}
}

func TestDetectChangesWithAliases(t *testing.T) {
	oldFields := []api.FieldDefinition{{ID: "f1", ColumnName: "age", DataType: "number"}}
	// The upstream regenerated the id on save; the alias maps it back.
	newFields := []api.FieldDefinition{{ID: "f9", ColumnName: "age_years", DataType: "number"}}
	aliases := map[string]string{"f9": "f1"}

	got := DetectChangesWithAliases(oldFields, newFields, aliases)
	want := []api.FieldChange{
		{Kind: api.ChangeRenameField, FieldID: "f9", OldColumnName: "age", NewColumnName: "age_years"},
	}
	assertChanges(t, want, got)
}

func assertChanges(t *testing.T, want, got []api.FieldChange) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d changes, got %d: %+v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("change %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
}
