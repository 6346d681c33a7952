package builder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// OutputDetectionError reports that no conventional output directory was
// found after a build, naming every candidate that was checked.
type OutputDetectionError struct {
	Candidates []string
}

func (e *OutputDetectionError) Error() string {
	return fmt.Sprintf(
		"no build output directory found; checked %s — set an output directory override in the project settings",
		strings.Join(e.Candidates, ", "),
	)
}

// outputCandidates is the ordered list of conventional output directory
// names probed when no override is configured.
var outputCandidates = []string{"dist", "build", "out", "public", "_site"}

// staticExportDir receives the filtered copy of a static project's tree.
const staticExportDir = ".filify_static"

// ignoredNames are never staged or archived: version control, CI config
// and dependency caches.
var ignoredNames = map[string]struct{}{
	".git":           {},
	".github":        {},
	".gitlab-ci.yml": {},
	".circleci":      {},
	"node_modules":   {},
}

// Shape describes what kind of project the workspace holds.
type Shape struct {
	// Static is true when no package manifest exists: nothing to install
	// or build, the tree is served as-is.
	Static bool
	// NextJS is true when the manifest declares a next dependency, which
	// requires a static-export configuration.
	NextJS bool
}

type packageManifest struct {
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

// DetectShape inspects the manifest at the frontend root, if any.
func DetectShape(frontendRoot string) (Shape, error) {
	data, err := os.ReadFile(filepath.Join(frontendRoot, "package.json"))
	if os.IsNotExist(err) {
		return Shape{Static: true}, nil
	}
	if err != nil {
		return Shape{}, fmt.Errorf("read package.json: %w", err)
	}
	var manifest packageManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return Shape{}, fmt.Errorf("parse package.json: %w", err)
	}
	_, next := manifest.Dependencies["next"]
	if !next {
		_, next = manifest.DevDependencies["next"]
	}
	return Shape{NextJS: next}, nil
}

// nextExportConfig is written for Next.js projects that lack their own
// config so `next build` emits a static export under out/.
const nextExportConfig = `/** Generated for static export deployment. */
const nextConfig = {
  output: 'export',
  images: { unoptimized: true },
};

module.exports = nextConfig;
`

// EnsureNextExportConfig writes a static-export next.config.js when the
// project has none. An existing config is never overwritten.
func EnsureNextExportConfig(frontendRoot string) (created bool, err error) {
	for _, name := range []string{"next.config.js", "next.config.mjs", "next.config.ts"} {
		if _, statErr := os.Stat(filepath.Join(frontendRoot, name)); statErr == nil {
			return false, nil
		}
	}
	path := filepath.Join(frontendRoot, "next.config.js")
	if err := os.WriteFile(path, []byte(nextExportConfig), 0o644); err != nil {
		return false, fmt.Errorf("write next.config.js: %w", err)
	}
	return true, nil
}

// ResolveOutput returns the output directory relative to the frontend
// root: the override when configured, otherwise the first conventional
// candidate that exists.
func ResolveOutput(frontendRoot, override string) (string, error) {
	if override != "" {
		if info, err := os.Stat(filepath.Join(frontendRoot, override)); err == nil && info.IsDir() {
			return override, nil
		}
		return "", fmt.Errorf("configured output directory %q does not exist after build", override)
	}
	for _, name := range outputCandidates {
		if info, err := os.Stat(filepath.Join(frontendRoot, name)); err == nil && info.IsDir() {
			return name, nil
		}
	}
	return "", &OutputDetectionError{Candidates: outputCandidates}
}
