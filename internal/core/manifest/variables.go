package manifest

import "regexp"

// =============================================================================
// Variable Extraction & Substitution
// =============================================================================

// varPlaceholderRegex matches ${VAR} and ${VAR:-default} patterns.
// Groups:
//   - Group 1: Variable name (required)
//   - Group 2: Default value (optional, after :-)
var varPlaceholderRegex = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExtractVariables extracts environment variable placeholders from a raw
// compose document, before any interpolation. Returns unique variable names
// without the ${} wrapper, in order of first appearance.
//
// These are the keys the target's .env file is expected to supply. Only the
// names are reported; the values stay on the target.
func ExtractVariables(content string) []string {
	seen := make(map[string]bool)
	var vars []string

	matches := varPlaceholderRegex.FindAllStringSubmatch(content, -1)
	for _, match := range matches {
		if len(match) >= 2 {
			name := match[1]
			if !seen[name] {
				seen[name] = true
				vars = append(vars, name)
			}
		}
	}

	return vars
}

// SubstituteVariables replaces ${VAR} and ${VAR:-default} placeholders with
// values from the variables map.
//
// Behavior:
//   - ${VAR} - replaced with variables["VAR"] if present, otherwise kept as-is
//   - ${VAR:-default} - replaced with variables["VAR"] if present, otherwise "default"
//   - Unmatched text is left unchanged
//
// Examples:
//
//	SubstituteVariables("${DB_PORT:-3306}", nil)
//	// Returns: "3306"
//
//	SubstituteVariables("${DB_HOST}", map[string]string{"DB_HOST": "db"})
//	// Returns: "db"
//
//	SubstituteVariables("${MISSING}", nil)
//	// Returns: "${MISSING}"
func SubstituteVariables(value string, variables map[string]string) string {
	return varPlaceholderRegex.ReplaceAllStringFunc(value, func(match string) string {
		submatch := varPlaceholderRegex.FindStringSubmatch(match)
		if len(submatch) < 2 {
			return match
		}

		name := submatch[1]
		if val, ok := variables[name]; ok {
			return val
		}

		// ${VAR:-default} and ${VAR:-} both resolve to the default
		if len(match) > len(name)+3 { // longer than ${VAR} means a :- suffix matched
			return submatch[2]
		}

		return match // Plain ${VAR} with no value stays as-is
	})
}
