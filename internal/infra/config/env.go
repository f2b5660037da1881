package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

var envTokenPattern = regexp.MustCompile(`\$\{ENV:([A-Za-z_][A-Za-z0-9_]*)\}`)

// EnvSnapshot captures the process environment as a map. Config resolution
// works from a snapshot instead of reading ambient globals so adapters stay
// pure given their resolved configuration.
func EnvSnapshot() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			env[kv[:i]] = kv[i+1:]
		}
	}
	return env
}

// expandEnvTokens replaces ${ENV:VAR} tokens in s with values from env.
// When strict, an unset variable is an error; otherwise it expands to the
// empty string. Unknown non-ENV ${...} tokens are left verbatim.
func expandEnvTokens(s string, env map[string]string, strict bool) (string, error) {
	var missing []string
	out := envTokenPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envTokenPattern.FindStringSubmatch(match)[1]
		value, ok := env[name]
		if !ok {
			if strict {
				missing = append(missing, name)
			}
			return ""
		}
		return value
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("environment variable not set: %s", strings.Join(missing, ", "))
	}
	return out, nil
}
