package migration

import "regexp"

// conversionClass says what a type transition needs before DDL may run.
type conversionClass int

const (
	// conversionSafe needs no value scan.
	conversionSafe conversionClass = iota
	// conversionNumericCheck requires every non-null value to look like a
	// numeric literal.
	conversionNumericCheck
	// conversionDateCheck requires every non-null value to start with an
	// ISO date.
	conversionDateCheck
	// conversionFractionWarning is numeric->integer: fractional values are
	// truncated, which warrants a warning but not a failure.
	conversionFractionWarning
	// conversionUnverified is any transition not on either list; the cast is
	// attempted as-is and the transaction rolls back if Postgres rejects it.
	conversionUnverified
)

// The validation patterns are deliberately narrow: numericPattern rejects
// exponents and thousands separators, datePattern accepts only ISO-style
// YYYY-MM-DD prefixes. Values outside these shapes fail validation early
// instead of failing the cast mid-transaction.
var (
	numericPattern  = regexp.MustCompile(`^-?\d+(\.\d+)?$`)
	datePattern     = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)
	fractionPattern = regexp.MustCompile(`^-?\d+\.\d*[1-9]\d*$`)
)

// classifyConversion maps an (old, new) storage-type pair to the work needed
// before the ALTER may run. Both arguments may carry length modifiers.
func classifyConversion(oldType, newType string) conversionClass {
	from := baseType(oldType)
	to := baseType(newType)

	if from == to {
		// varchar(n) -> varchar(m) and other same-family changes.
		return conversionSafe
	}

	switch {
	case to == "text":
		// Anything renders to text.
		return conversionSafe
	case from == "integer" && to == "numeric":
		return conversionSafe
	case from == "varchar" && to == "varchar":
		return conversionSafe
	case (from == "text" || from == "varchar") && to == "numeric":
		return conversionNumericCheck
	case (from == "text" || from == "varchar") && to == "integer":
		return conversionNumericCheck
	case (from == "text" || from == "varchar") && (to == "date" || to == "timestamp"):
		return conversionDateCheck
	case from == "numeric" && to == "integer":
		return conversionFractionWarning
	}

	return conversionUnverified
}

// validNumericLiteral reports whether a stored value would survive a cast to
// numeric.
func validNumericLiteral(v string) bool {
	return numericPattern.MatchString(v)
}

// validDateLiteral reports whether a stored value would survive a cast to
// date or timestamp.
func validDateLiteral(v string) bool {
	return datePattern.MatchString(v)
}

// losesFraction reports whether truncating the value to an integer would
// discard a non-zero fractional part.
func losesFraction(v string) bool {
	return fractionPattern.MatchString(v)
}
