package migration

import "github.com/ppongpan/Q-Collector-sub002/api"

// DetectChanges diffs two versions of a form's field definitions into the
// changes needed to move the table from the old layout to the new one.
//
// Fields are matched by stable id, never by position or title. A field may
// produce both a RENAME_FIELD and a CHANGE_TYPE change in one edit. The
// function is pure; ordering of the result follows the new definition for
// matched fields and the old definition for deletions.
func DetectChanges(oldFields, newFields []api.FieldDefinition) []api.FieldChange {
	return DetectChangesWithAliases(oldFields, newFields, nil)
}

// DetectChangesWithAliases is DetectChanges with an escape hatch for
// upstreams that regenerate field ids on save: aliases maps a new field id to
// the id it previously had, so an edited field diffs as a rename or retype
// instead of a delete plus add.
func DetectChangesWithAliases(oldFields, newFields []api.FieldDefinition, aliases map[string]string) []api.FieldChange {
	oldByID := make(map[string]api.FieldDefinition, len(oldFields))
	for _, f := range oldFields {
		oldByID[f.ID] = f
	}

	matched := make(map[string]bool, len(newFields))
	var changes []api.FieldChange

	for _, newField := range newFields {
		previousID := newField.ID
		if alias, ok := aliases[newField.ID]; ok {
			previousID = alias
		}

		oldField, exists := oldByID[previousID]
		if !exists {
			changes = append(changes, api.FieldChange{
				Kind:          api.ChangeAddField,
				FieldID:       newField.ID,
				NewColumnName: newField.ColumnName,
				NewType:       newField.DataType,
			})
			continue
		}
		matched[previousID] = true

		if oldField.ColumnName != newField.ColumnName {
			changes = append(changes, api.FieldChange{
				Kind:          api.ChangeRenameField,
				FieldID:       newField.ID,
				OldColumnName: oldField.ColumnName,
				NewColumnName: newField.ColumnName,
			})
		}
		if oldField.DataType != newField.DataType {
			// The column name after any rename above.
			changes = append(changes, api.FieldChange{
				Kind:          api.ChangeFieldType,
				FieldID:       newField.ID,
				OldColumnName: oldField.ColumnName,
				NewColumnName: newField.ColumnName,
				OldType:       oldField.DataType,
				NewType:       newField.DataType,
			})
		}
	}

	for _, oldField := range oldFields {
		if matched[oldField.ID] {
			continue
		}
		changes = append(changes, api.FieldChange{
			Kind:          api.ChangeDeleteField,
			FieldID:       oldField.ID,
			OldColumnName: oldField.ColumnName,
			OldType:       oldField.DataType,
		})
	}

	return changes
}
