// Package env has helpers to handle process environments.
package env

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

var envKeyRegexp = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ParseSpecs parses `KEY=VALUE` or `KEY` specs, the latter take the value from
// the current process environment. Later specs override the earlier ones.
func ParseSpecs(specs []string) (map[string]string, error) {
	env := make(map[string]string, len(specs))

	for _, spec := range specs {
		if spec == "" {
			return nil, fmt.Errorf("environment variable spec cannot be empty")
		}

		if key, value, ok := strings.Cut(spec, "="); ok {
			if err := ValidateKey(key); err != nil {
				return nil, err
			}

			env[key] = value
			continue
		}

		if err := ValidateKey(spec); err != nil {
			return nil, err
		}

		value, ok := os.LookupEnv(spec)
		if !ok {
			return nil, fmt.Errorf("environment variable %q is not set", spec)
		}

		env[spec] = value
	}

	return env, nil
}

// MergeMaps merges environments, the latest ones take precedence.
func MergeMaps(envs ...map[string]string) map[string]string {
	size := 0
	for _, e := range envs {
		size += len(e)
	}

	merged := make(map[string]string, size)
	for _, e := range envs {
		for k, v := range e {
			merged[k] = v
		}
	}

	return merged
}

// List returns the environment as `KEY=VALUE` entries sorted by key.
func List(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	vars := make([]string, 0, len(keys))
	for _, k := range keys {
		vars = append(vars, k+"="+env[k])
	}
	return vars
}

// ValidateKey checks an environment variable name is valid.
func ValidateKey(k string) error {
	if !envKeyRegexp.MatchString(k) {
		return fmt.Errorf("invalid environment variable key %q", k)
	}
	return nil
}
