package builder

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrsh22/filify/internal/car"
	"github.com/hrsh22/filify/internal/domain"
	"github.com/hrsh22/filify/internal/workspace"
)

func newOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	ws, err := workspace.New(t.TempDir())
	require.NoError(t, err)
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(ws, NewRunner(0), Config{}, log)
}

func seedStaticSite(t *testing.T) string {
	t.Helper()
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "assets"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(src, "node_modules", "left-pad"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "index.html"), []byte("<html>hi</html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "assets", "style.css"), []byte("body{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "node_modules", "left-pad", "index.js"), []byte("junk"), 0o644))
	return src
}

func TestBuildStaticSiteFromReusedWorkspace(t *testing.T) {
	o := newOrchestrator(t)
	src := seedStaticSite(t)

	var stages []string
	res, err := o.Build(context.Background(), Request{
		RunID:    "run-1",
		Project:  domain.Project{ID: "proj-1"},
		ReuseDir: src,
		OnStage:  func(s string) { stages = append(stages, s) },
	})
	require.NoError(t, err)

	assert.Equal(t, []string{StageCloning, StageBuilding}, stages,
		"static staging must report the build stage even without subprocess work")
	assert.Equal(t, ".filify_static", res.OutputRel)
	assert.NotEmpty(t, res.RootCID)
	assert.Contains(t, res.Log, "Reusing workspace")
	assert.Contains(t, res.Log, "static site")

	// The export dir holds the filtered tree: content copied, caches not.
	_, err = os.Stat(filepath.Join(res.OutputDir, "index.html"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(res.OutputDir, "node_modules"))
	assert.True(t, os.IsNotExist(err))

	// The archive exists and the sidecar points back at the output.
	info, err := os.Stat(res.CarPath)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
	rel, err := workspace.ReadSidecar(res.WorkDir)
	require.NoError(t, err)
	assert.Equal(t, res.OutputRel, rel)
}

func TestBuildStaticDeterministicAcrossRuns(t *testing.T) {
	o := newOrchestrator(t)
	src := seedStaticSite(t)

	first, err := o.Build(context.Background(), Request{RunID: "run-a", Project: domain.Project{ID: "p"}, ReuseDir: src})
	require.NoError(t, err)
	second, err := o.Build(context.Background(), Request{RunID: "run-b", Project: domain.Project{ID: "p"}, ReuseDir: src})
	require.NoError(t, err)

	assert.Equal(t, first.RootCID, second.RootCID)
}

func TestBuildEmptySourceFails(t *testing.T) {
	o := newOrchestrator(t)
	src := t.TempDir()

	res, err := o.Build(context.Background(), Request{
		RunID:    "run-1",
		Project:  domain.Project{ID: "proj-1"},
		ReuseDir: src,
	})
	require.ErrorIs(t, err, car.ErrEmptySource)
	assert.Contains(t, res.Log, "ERROR")
}

func TestBuildStaticKeepsNestedDirectories(t *testing.T) {
	o := newOrchestrator(t)
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "site"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "site", "index.html"), []byte("<html></html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "index.html"), []byte("<html></html>"), 0o644))

	res, err := o.Build(context.Background(), Request{
		RunID:    "run-1",
		Project:  domain.Project{ID: "proj-1"},
		ReuseDir: src,
	})
	require.NoError(t, err)

	// The whole tree, site/ included, lands in the static export.
	found := false
	err = filepath.WalkDir(res.OutputDir, func(path string, d fs.DirEntry, err error) error {
		if err == nil && d.Name() == "index.html" {
			found = true
		}
		return err
	})
	require.NoError(t, err)
	assert.True(t, found)
}
