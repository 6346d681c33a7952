package car

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// sampleLimit bounds the number of paths kept in a Summary.
const sampleLimit = 20

// ignoredNames are excluded from archives: version control, CI config
// and dependency caches.
var ignoredNames = map[string]struct{}{
	".git":           {},
	".github":        {},
	".gitlab-ci.yml": {},
	".circleci":      {},
	"node_modules":   {},
}

// Summary describes the enumerated source tree, for logging and the
// deployment record.
type Summary struct {
	Files  int
	Dirs   int
	Bytes  int64
	Sample []string
}

type fileEntry struct {
	// rel is the slash-separated path relative to the source root.
	rel  string
	abs  string
	size int64
}

// enumerate walks root collecting eligible files in sorted path order, so
// the resulting DAG is independent of filesystem enumeration order.
func enumerate(root string) ([]fileEntry, Summary, error) {
	var entries []fileEntry
	summary := Summary{}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if path != root {
			if _, ignored := ignoredNames[name]; ignored {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}
		if d.IsDir() {
			if path != root {
				summary.Dirs++
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		entries = append(entries, fileEntry{rel: rel, abs: path, size: info.Size()})
		summary.Files++
		summary.Bytes += info.Size()
		return nil
	})
	if err != nil {
		return nil, Summary{}, fmt.Errorf("enumerate %s: %w", root, err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].rel < entries[j].rel })
	for _, e := range entries {
		if len(summary.Sample) == sampleLimit {
			break
		}
		summary.Sample = append(summary.Sample, e.rel)
	}
	return entries, summary, nil
}

// splitPath returns the directory segments and base name of a relative
// slash path.
func splitPath(rel string) (dirs []string, base string) {
	parts := strings.Split(rel, "/")
	return parts[:len(parts)-1], parts[len(parts)-1]
}
