package sensor

// flagSuffix is appended to a variable name to name its aggregate quality-flag column.
const flagSuffix = "_qc_agg"

// Label returns the column name for a variable.
// Syntax is "name [units]" when useUnits is set and units are known, otherwise "name".
func Label(name, units string, useUnits bool) string {
	if useUnits && units != "" {
		return name + " [" + units + "]"
	}
	return name
}

// FlagLabel returns the name of the aggregate quality-flag column of a variable.
func FlagLabel(name string) string {
	return name + flagSuffix
}
