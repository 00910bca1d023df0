package workspace

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	coredeployment "github.com/artpar/hostdeploy/internal/core/deployment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestWorkspace(t *testing.T, retention coredeployment.RetentionPolicy) *Workspace {
	t.Helper()
	root := t.TempDir()
	w := New(coredeployment.NewLayout(root, filepath.Join(root, "backups")), retention, setupTestLogger())
	return w
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// =============================================================================
// Snapshot Tests
// =============================================================================

func TestSnapshot_CopiesWorkingCopyWithoutGit(t *testing.T) {
	w := newTestWorkspace(t, coredeployment.RetentionPolicy{})
	repo := w.Layout().WorkingCopy("foo")
	writeFile(t, filepath.Join(repo, "Dockerfile"), "FROM nginx")
	writeFile(t, filepath.Join(repo, "site", "index.html"), "hello")
	writeFile(t, filepath.Join(repo, ".git", "HEAD"), "ref: refs/heads/main")

	dst, err := w.Snapshot("foo", "1.2.0")
	require.NoError(t, err)
	assert.Equal(t, w.Layout().ReleaseDir("foo", "1.2.0"), dst)
	assert.Equal(t, "FROM nginx", readFile(t, filepath.Join(dst, "Dockerfile")))
	assert.Equal(t, "hello", readFile(t, filepath.Join(dst, "site", "index.html")))
	assert.NoDirExists(t, filepath.Join(dst, ".git"))
	assert.FileExists(t, filepath.Join(repo, ".git", "HEAD"))
}

func TestSnapshot_ReplacesStaleSnapshot(t *testing.T) {
	w := newTestWorkspace(t, coredeployment.RetentionPolicy{})
	writeFile(t, filepath.Join(w.Layout().WorkingCopy("foo"), "Dockerfile"), "FROM nginx")
	stale := filepath.Join(w.Layout().ReleaseDir("foo", "1.2.0"), "stale.txt")
	writeFile(t, stale, "old")

	_, err := w.Snapshot("foo", "1.2.0")
	require.NoError(t, err)
	assert.NoFileExists(t, stale)
}

func TestSnapshot_MissingWorkingCopy(t *testing.T) {
	w := newTestWorkspace(t, coredeployment.RetentionPolicy{})
	_, err := w.Snapshot("foo", "1.2.0")
	assert.ErrorIs(t, err, ErrSnapshotFailed)
}

// =============================================================================
// Backup Tests
// =============================================================================

func TestBackup_SkipsWithoutCurrent(t *testing.T) {
	w := newTestWorkspace(t, coredeployment.RetentionPolicy{})

	res, err := w.Backup("foo")
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.NoDirExists(t, w.Layout().BackupsDir("foo"))
}

func TestBackup_CopiesCurrent(t *testing.T) {
	w := newTestWorkspace(t, coredeployment.RetentionPolicy{})
	w.now = fixedClock(time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC))
	writeFile(t, filepath.Join(w.Layout().CurrentDir("foo"), "index.html"), "live")

	res, err := w.Backup("foo")
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, "20240301123045", res.Stamp)
	assert.Equal(t, "live", readFile(t, filepath.Join(res.Path, "index.html")))
}

func TestBackup_PrunesByCount(t *testing.T) {
	w := newTestWorkspace(t, coredeployment.RetentionPolicy{KeepBackups: 2})
	writeFile(t, filepath.Join(w.Layout().CurrentDir("foo"), "index.html"), "live")

	for _, stamp := range []string{"20240101000000", "20240102000000"} {
		require.NoError(t, os.MkdirAll(w.Layout().BackupDir("foo", stamp), 0755))
	}
	w.now = fixedClock(time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC))

	res, err := w.Backup("foo")
	require.NoError(t, err)

	names, err := w.Backups("foo")
	require.NoError(t, err)
	assert.Equal(t, []string{res.Stamp, "20240102000000"}, names)
}

func TestBackups_IgnoresForeignEntries(t *testing.T) {
	w := newTestWorkspace(t, coredeployment.RetentionPolicy{})
	dir := w.Layout().BackupsDir("foo")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "20240101000000"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "20240301000000"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "lost+found"), 0755))
	writeFile(t, filepath.Join(dir, "20240401000000"), "not a directory")

	names, err := w.Backups("foo")
	require.NoError(t, err)
	assert.Equal(t, []string{"20240301000000", "20240101000000"}, names)

	latest, ok, err := w.LatestBackup("foo")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "20240301000000", latest)
}

func TestLatestBackup_None(t *testing.T) {
	w := newTestWorkspace(t, coredeployment.RetentionPolicy{})
	_, ok, err := w.LatestBackup("foo")
	require.NoError(t, err)
	assert.False(t, ok)
}

// =============================================================================
// Restore / Promote Tests
// =============================================================================

func TestRestore_ReplacesCurrent(t *testing.T) {
	w := newTestWorkspace(t, coredeployment.RetentionPolicy{})
	current := w.Layout().CurrentDir("foo")
	writeFile(t, filepath.Join(current, "index.html"), "broken")
	writeFile(t, filepath.Join(current, "only-in-broken.txt"), "x")
	writeFile(t, filepath.Join(w.Layout().BackupDir("foo", "20240101000000"), "index.html"), "good")

	path, err := w.Restore("foo", "20240101000000")
	require.NoError(t, err)
	assert.Equal(t, current, path)
	assert.Equal(t, "good", readFile(t, filepath.Join(current, "index.html")))
	assert.NoFileExists(t, filepath.Join(current, "only-in-broken.txt"))
	assert.NoDirExists(t, current+".old")
	assert.NoDirExists(t, current+".tmp")
}

func TestRestore_MissingBackup(t *testing.T) {
	w := newTestWorkspace(t, coredeployment.RetentionPolicy{})
	_, err := w.Restore("foo", "20240101000000")
	assert.ErrorIs(t, err, ErrRestoreFailed)
}

func TestPromote_CreatesCurrent(t *testing.T) {
	w := newTestWorkspace(t, coredeployment.RetentionPolicy{})
	writeFile(t, filepath.Join(w.Layout().ReleaseDir("foo", "1.2.0"), "index.html"), "new")

	require.NoError(t, w.Promote("foo", "1.2.0"))
	assert.Equal(t, "new", readFile(t, filepath.Join(w.Layout().CurrentDir("foo"), "index.html")))
	assert.DirExists(t, w.Layout().ReleaseDir("foo", "1.2.0"))
}

func TestPromote_MissingRelease(t *testing.T) {
	w := newTestWorkspace(t, coredeployment.RetentionPolicy{})
	assert.ErrorIs(t, w.Promote("foo", "1.2.0"), ErrPromoteFailed)
}

func TestPromote_PrunesReleasesButKeepsPromoted(t *testing.T) {
	w := newTestWorkspace(t, coredeployment.RetentionPolicy{KeepReleases: 1})
	base := time.Now().Add(-time.Hour)

	for i, v := range []string{"1.0.0", "1.1.0", "1.2.0"} {
		dir := w.Layout().ReleaseDir("foo", v)
		writeFile(t, filepath.Join(dir, "index.html"), v)
		mtime := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(dir, mtime, mtime))
	}
	// Make the promoted version the oldest on disk.
	old := base.Add(-time.Hour)
	require.NoError(t, os.Chtimes(w.Layout().ReleaseDir("foo", "1.0.0"), old, old))

	require.NoError(t, w.Promote("foo", "1.0.0"))

	assert.DirExists(t, w.Layout().ReleaseDir("foo", "1.0.0"))
	assert.NoDirExists(t, w.Layout().ReleaseDir("foo", "1.1.0"))
	assert.DirExists(t, w.Layout().ReleaseDir("foo", "1.2.0"))
}

func TestPruneReleases_Disabled(t *testing.T) {
	w := newTestWorkspace(t, coredeployment.RetentionPolicy{})
	writeFile(t, filepath.Join(w.Layout().ReleaseDir("foo", "1.0.0"), "x"), "x")
	assert.Empty(t, w.PruneReleases("foo", "1.2.0"))
	assert.DirExists(t, w.Layout().ReleaseDir("foo", "1.0.0"))
}
