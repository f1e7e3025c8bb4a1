package migration

import "strings"

// storageTypes maps form field kinds to Postgres storage types. The list is
// representative, not exhaustive: unknown kinds fall back to unbounded text
// so a new field kind upstream never blocks a migration.
var storageTypes = map[string]string{
	"short_answer":    "varchar(255)",
	"paragraph":       "text",
	"email":           "varchar(255)",
	"phone":           "varchar(50)",
	"url":             "varchar(500)",
	"number":          "numeric",
	"slider":          "integer",
	"rating":          "integer",
	"date":            "date",
	"time":            "time",
	"datetime":        "timestamptz",
	"multiple_choice": "varchar(255)",
	"dropdown":        "varchar(255)",
	"file_upload":     "text",
	"image_upload":    "text",
	"lat_long":        "point",
	"province":        "varchar(100)",
	"factory":         "varchar(100)",
}

// StorageTypeFor returns the Postgres type backing a field kind.
func StorageTypeFor(fieldKind string) string {
	if t, ok := storageTypes[strings.ToLower(strings.TrimSpace(fieldKind))]; ok {
		return t
	}
	return "text"
}

// KnownFieldKind reports whether the kind has an explicit mapping; callers
// use this to attach a warning when the text fallback kicks in.
func KnownFieldKind(fieldKind string) bool {
	_, ok := storageTypes[strings.ToLower(strings.TrimSpace(fieldKind))]
	return ok
}

// baseType strips any length modifier and normalizes aliases so conversion
// classification works on families rather than exact types:
// "character varying(255)" -> "varchar", "timestamp with time zone" -> "timestamp".
func baseType(sqlType string) string {
	t := strings.ToLower(strings.TrimSpace(sqlType))
	if idx := strings.Index(t, "("); idx >= 0 {
		t = t[:idx]
	}
	t = strings.TrimSpace(t)

	switch t {
	case "character varying":
		return "varchar"
	case "character", "char":
		return "varchar"
	case "double precision", "real", "decimal":
		return "numeric"
	case "smallint", "bigint", "int", "int2", "int4", "int8":
		return "integer"
	case "timestamptz", "timestamp with time zone", "timestamp without time zone":
		return "timestamp"
	case "timetz", "time with time zone", "time without time zone":
		return "time"
	}
	return t
}

// typeLength extracts the length modifier of a bounded type, or -1.
func typeLength(sqlType string) int {
	open := strings.Index(sqlType, "(")
	end := strings.Index(sqlType, ")")
	if open < 0 || end <= open+1 {
		return -1
	}
	n := 0
	for _, r := range sqlType[open+1 : end] {
		if r < '0' || r > '9' {
			return -1
		}
		n = n*10 + int(r-'0')
	}
	return n
}
