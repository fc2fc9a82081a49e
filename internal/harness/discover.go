package harness

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultTestDir is searched when no include paths are given.
const DefaultTestDir = "tests"

// Test modules are CommonJS; .mjs files are not discovered.
var testSuffixes = []string{"_test.js", ".test.js", "_test.cjs"}

// IsTestModule reports whether name looks like a test module.
func IsTestModule(name string) bool {
	for _, s := range testSuffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}

// Discover returns absolute paths of test modules, sorted and without
// duplicates.
//
// include entries are files or directories relative to root. Files are
// taken as given; directories are walked for test modules, skipping
// hidden directories and node_modules. With no include entries, the
// tests directory under root is walked; a missing tests directory yields
// no modules.
func Discover(root string, include []string) ([]string, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}

	implicit := len(include) == 0
	if implicit {
		include = []string{DefaultTestDir}
	}

	seen := make(map[string]bool)
	var modules []string
	add := func(path string) {
		if !seen[path] {
			seen[path] = true
			modules = append(modules, path)
		}
	}

	for _, inc := range include {
		path := inc
		if !filepath.IsAbs(path) {
			path = filepath.Join(root, path)
		}
		path = filepath.Clean(path)

		info, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) && implicit {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("include %s: %w", inc, err)
		}

		if !info.IsDir() {
			add(path)
			continue
		}

		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if p != path && skipDir(d.Name()) {
					return filepath.SkipDir
				}
				return nil
			}
			if IsTestModule(d.Name()) {
				add(p)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", inc, err)
		}
	}

	sort.Strings(modules)
	return modules, nil
}

func skipDir(name string) bool {
	return strings.HasPrefix(name, ".") || name == "node_modules"
}
