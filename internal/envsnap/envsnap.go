// Package envsnap captures process environment variables once per request so
// resolution code is a pure function of explicit inputs.
package envsnap

import (
	"os"
	"strings"
)

// Snapshot is an immutable view of environment variables.
type Snapshot struct {
	vars map[string]string
}

// Capture reads the current process environment.
func Capture() Snapshot {
	env := os.Environ()
	vars := make(map[string]string, len(env))
	for _, kv := range env {
		if k, v, ok := strings.Cut(kv, "="); ok {
			vars[k] = v
		}
	}
	return Snapshot{vars: vars}
}

// FromMap builds a snapshot from explicit values. The map is copied.
func FromMap(m map[string]string) Snapshot {
	vars := make(map[string]string, len(m))
	for k, v := range m {
		vars[k] = v
	}
	return Snapshot{vars: vars}
}

// Lookup returns the value of key and whether it was set. Empty values count
// as unset.
func (s Snapshot) Lookup(key string) (string, bool) {
	v, ok := s.vars[key]
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// Get returns the value of key or "".
func (s Snapshot) Get(key string) string {
	v, _ := s.Lookup(key)
	return v
}

// Bool interprets key as a boolean flag ("1", "true", "yes", "on").
func (s Snapshot) Bool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(s.Get(key))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// Source produces a snapshot at request entry.
type Source func() Snapshot
