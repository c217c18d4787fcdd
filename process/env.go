// Package process resolves, spawns, watches and terminates the remote
// client process.
package process

import (
	"runtime"
	"slices"
	"strings"
)

// EnvProxy carries the optional proxy URL to the client.
const EnvProxy = "SPICE_PROXY"

// foldKeys is set where environment keys compare case-insensitively.
var foldKeys = runtime.GOOS == "windows"

// BuildEnv returns base with overrides applied. Each key appears once; an
// override replaces any inherited value. Inherited entries keep their
// order and overrides follow in sorted key order. base is not modified.
func BuildEnv(base []string, overrides map[string]string) []string {
	env := make([]string, 0, len(base)+len(overrides))
	env = append(env, base...)

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		env = append(env, k+"="+overrides[k])
	}

	return deduplicateEnv(env)
}

// deduplicateEnv keeps the last occurrence of each key at the position of
// its last occurrence.
func deduplicateEnv(env []string) []string {
	seen := make(map[string]int, len(env))
	for i, entry := range env {
		seen[envKey(entry)] = i
	}
	result := make([]string, 0, len(seen))
	for i, entry := range env {
		if seen[envKey(entry)] == i {
			result = append(result, entry)
		}
	}
	return result
}

func envKey(entry string) string {
	key, _, _ := strings.Cut(entry, "=")
	if foldKeys {
		return strings.ToUpper(key)
	}
	return key
}
