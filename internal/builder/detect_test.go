package builder

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestDetectShapeStatic(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "index.html", "<html></html>")

	shape, err := DetectShape(dir)
	require.NoError(t, err)
	assert.True(t, shape.Static)
	assert.False(t, shape.NextJS)
}

func TestDetectShapeNode(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "package.json", `{"dependencies":{"react":"^18.0.0"}}`)

	shape, err := DetectShape(dir)
	require.NoError(t, err)
	assert.False(t, shape.Static)
	assert.False(t, shape.NextJS)
}

func TestDetectShapeNext(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "package.json", `{"devDependencies":{"next":"14.1.0"}}`)

	shape, err := DetectShape(dir)
	require.NoError(t, err)
	assert.True(t, shape.NextJS)
}

func TestDetectShapeMalformedManifest(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "package.json", `{not json`)

	_, err := DetectShape(dir)
	assert.Error(t, err)
}

func TestEnsureNextExportConfigWritesWhenAbsent(t *testing.T) {
	dir := t.TempDir()

	created, err := EnsureNextExportConfig(dir)
	require.NoError(t, err)
	assert.True(t, created)

	data, err := os.ReadFile(filepath.Join(dir, "next.config.js"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "output: 'export'")
}

func TestEnsureNextExportConfigNeverOverwrites(t *testing.T) {
	for _, name := range []string{"next.config.js", "next.config.mjs", "next.config.ts"} {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, dir, name, "module.exports = {};")

			created, err := EnsureNextExportConfig(dir)
			require.NoError(t, err)
			assert.False(t, created)

			data, err := os.ReadFile(filepath.Join(dir, name))
			require.NoError(t, err)
			assert.Equal(t, "module.exports = {};", string(data))
		})
	}
}

func TestResolveOutputOverride(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "custom"), 0o755))

	out, err := ResolveOutput(dir, "custom")
	require.NoError(t, err)
	assert.Equal(t, "custom", out)
}

func TestResolveOutputOverrideMissing(t *testing.T) {
	dir := t.TempDir()

	_, err := ResolveOutput(dir, "custom")
	assert.ErrorContains(t, err, `"custom" does not exist`)
}

func TestResolveOutputCandidateOrder(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "build"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "out"), 0o755))

	out, err := ResolveOutput(dir, "")
	require.NoError(t, err)
	assert.Equal(t, "build", out)
}

func TestResolveOutputNoneFound(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "dist", "a file, not a directory")

	_, err := ResolveOutput(dir, "")
	var detectErr *OutputDetectionError
	require.ErrorAs(t, err, &detectErr)
	assert.Equal(t, outputCandidates, detectErr.Candidates)
	assert.Contains(t, err.Error(), "dist, build, out, public, _site")
	assert.Contains(t, err.Error(), "output directory override")
}
