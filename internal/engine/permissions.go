package engine

import (
	"path/filepath"
	"strings"
)

// Permissions restricts host capabilities available to script code. The
// zero value denies everything except the host call bridge.
type Permissions struct {
	// Read lists directories (or files) scripts may read, including
	// modules loaded from disk. Relative entries are resolved against the
	// factory's base directory.
	Read []string

	// Env allows Harness.env lookups.
	Env bool
}

// resolve returns a copy with absolute, cleaned read paths.
func (p Permissions) resolve(base string) Permissions {
	out := Permissions{Env: p.Env, Read: make([]string, 0, len(p.Read))}
	for _, r := range p.Read {
		if !filepath.IsAbs(r) {
			r = filepath.Join(base, r)
		}
		out.Read = append(out.Read, filepath.Clean(r))
	}
	return out
}

// CheckRead returns a PermissionError unless path lies under a granted
// read root.
func (p Permissions) CheckRead(path string) error {
	path = filepath.Clean(path)
	for _, root := range p.Read {
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil
		}
	}
	return &PermissionError{Capability: "read", Target: path}
}

// CheckEnv returns a PermissionError unless env access was granted.
func (p Permissions) CheckEnv(name string) error {
	if p.Env {
		return nil
	}
	return &PermissionError{Capability: "env", Target: name}
}
