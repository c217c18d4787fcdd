// Package config loads spicectl connection profiles.
package config

import (
	"os"
	"regexp"
)

// envVarPattern matches ${VAR} and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// ExpandEnv substitutes ${VAR} and ${VAR:-default} in input. A variable
// that is unset or empty takes its default, or the empty string when it
// has none. A bare $VAR is left alone so passwords containing '$' survive.
func ExpandEnv(input string) string {
	matches := envVarPattern.FindAllStringSubmatchIndex(input, -1)
	if len(matches) == 0 {
		return input
	}

	out := make([]byte, 0, len(input))
	last := 0
	for _, m := range matches {
		out = append(out, input[last:m[0]]...)
		last = m[1]

		if value := os.Getenv(input[m[2]:m[3]]); value != "" {
			out = append(out, value...)
			continue
		}
		if m[6] >= 0 {
			out = append(out, input[m[6]:m[7]]...)
		}
	}
	out = append(out, input[last:]...)
	return string(out)
}
