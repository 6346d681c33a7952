package workspace

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// SidecarName is the file written at the workspace root recording the
// resolved output directory relative to the root. It lets artifact
// retrieval rediscover the output without re-running detection.
const SidecarName = ".filify_output"

// Manager owns deployment-specific working directories under a common
// root. A directory is addressed solely by its deployment id.
type Manager struct {
	root string
}

// New ensures the workspace root exists and is accessible.
func New(root string) (*Manager, error) {
	if root == "" {
		return nil, fmt.Errorf("workspace root cannot be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	return &Manager{root: root}, nil
}

// Path returns the directory for the given deployment id.
func (m *Manager) Path(id string) string {
	return filepath.Join(m.root, id)
}

// Exists reports whether a workspace directory is present for the id.
func (m *Manager) Exists(id string) bool {
	info, err := os.Stat(m.Path(id))
	return err == nil && info.IsDir()
}

// Prepare creates a fresh, empty directory for the deployment id,
// removing any stale directory left by an earlier attempt.
func (m *Manager) Prepare(id string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("workspace identifier cannot be empty")
	}
	dir := m.Path(id)
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("cleanup stale workspace: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}
	return dir, nil
}

// CopyInto copies the contents of src wholesale into the workspace for
// id, which must already have been prepared. Used when resuming from a
// prior deployment's workspace.
func (m *Manager) CopyInto(src, id string) error {
	dst := m.Path(id)
	return CopyDir(src, dst, nil)
}

// Cleanup removes the workspace directory.
func (m *Manager) Cleanup(path string) error {
	if path == "" {
		return nil
	}
	// Only remove directories within the configured root.
	rel, err := filepath.Rel(m.root, path)
	if err != nil || rel == "." || rel == "" || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("refusing to cleanup path outside workspace root")
	}
	return os.RemoveAll(path)
}

// CleanupByID removes the workspace associated with the deployment id.
func (m *Manager) CleanupByID(id string) error {
	if id == "" {
		return fmt.Errorf("workspace identifier cannot be empty")
	}
	return m.Cleanup(m.Path(id))
}

// WriteSidecar records the output directory path relative to the
// workspace root.
func WriteSidecar(workdir, outputRel string) error {
	path := filepath.Join(workdir, SidecarName)
	return os.WriteFile(path, []byte(outputRel+"\n"), 0o644)
}

// ReadSidecar returns the previously recorded output directory path.
func ReadSidecar(workdir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(workdir, SidecarName))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// CopyDir recursively copies src into dst, creating dst if needed.
// Entries whose base name appears in skip are not copied. Symlinks are
// skipped: build outputs are plain trees and a link escaping the
// workspace must not be followed.
func CopyDir(src, dst string, skip map[string]struct{}) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("source %s is not a directory", src)
	}
	if err := os.MkdirAll(dst, info.Mode().Perm()); err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("read source: %w", err)
	}
	for _, entry := range entries {
		if skip != nil {
			if _, ok := skip[entry.Name()]; ok {
				continue
			}
		}
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())
		if entry.Type()&os.ModeSymlink != 0 {
			continue
		}
		if entry.IsDir() {
			if err := CopyDir(srcPath, dstPath, skip); err != nil {
				return err
			}
			continue
		}
		if err := copyFile(srcPath, dstPath); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}
