package migration

import (
	"fmt"

	"github.com/jackc/pgx/v5"
)

// All identifiers flowing into DDL come from user-defined forms, so every
// statement quotes them through pgx.Identifier.

func addColumnDDL(tableName, columnName, storageType string) string {
	return fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s;`,
		pgx.Identifier{tableName}.Sanitize(),
		pgx.Identifier{columnName}.Sanitize(),
		storageType,
	)
}

func dropColumnDDL(tableName, columnName string) string {
	return fmt.Sprintf(`ALTER TABLE %s DROP COLUMN %s;`,
		pgx.Identifier{tableName}.Sanitize(),
		pgx.Identifier{columnName}.Sanitize(),
	)
}

func renameColumnDDL(tableName, oldName, newName string) string {
	return fmt.Sprintf(`ALTER TABLE %s RENAME COLUMN %s TO %s;`,
		pgx.Identifier{tableName}.Sanitize(),
		pgx.Identifier{oldName}.Sanitize(),
		pgx.Identifier{newName}.Sanitize(),
	)
}

func alterTypeDDL(tableName, columnName, targetType, castExpr string) string {
	return fmt.Sprintf(`ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s;`,
		pgx.Identifier{tableName}.Sanitize(),
		pgx.Identifier{columnName}.Sanitize(),
		targetType,
		castExpr,
	)
}

// castExpression builds the USING expression for a type change. Text-family
// to integer goes through numeric first so values like "3.5" truncate
// instead of failing the cast outright.
func castExpression(columnName, fromType, toType string) string {
	col := pgx.Identifier{columnName}.Sanitize()
	from := baseType(fromType)
	to := baseType(toType)

	if (from == "text" || from == "varchar") && to == "integer" {
		return fmt.Sprintf(`trim(%s)::numeric::integer`, col)
	}
	if from == "text" || from == "varchar" {
		return fmt.Sprintf(`trim(%s)::%s`, col, toType)
	}
	return fmt.Sprintf(`%s::%s`, col, toType)
}
