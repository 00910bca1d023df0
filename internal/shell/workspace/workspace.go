// Package workspace manages the on-disk directories of a deployment:
// release snapshots, the current deployment and its backups.
package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	coredeployment "github.com/artpar/hostdeploy/internal/core/deployment"
	"github.com/otiai10/copy"
)

var (
	ErrSnapshotFailed = errors.New("snapshot failed")
	ErrBackupFailed   = errors.New("backup failed")
	ErrRestoreFailed  = errors.New("restore failed")
	ErrPromoteFailed  = errors.New("promote failed")
)

// BackupResult describes the outcome of a backup.
type BackupResult struct {
	Skipped bool   // no current deployment existed
	Stamp   string // backup directory name
	Path    string
}

// Workspace performs filesystem operations against a Layout.
type Workspace struct {
	layout    coredeployment.Layout
	retention coredeployment.RetentionPolicy
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a workspace.
func New(layout coredeployment.Layout, retention coredeployment.RetentionPolicy, logger *slog.Logger) *Workspace {
	if logger == nil {
		logger = slog.Default()
	}
	return &Workspace{
		layout:    layout,
		retention: retention,
		logger:    logger.With("component", "workspace"),
		now:       time.Now,
	}
}

// Layout returns the directory layout.
func (w *Workspace) Layout() coredeployment.Layout {
	return w.layout
}

// =============================================================================
// Snapshot
// =============================================================================

// Snapshot copies the working copy of app into releases/<version>, replacing
// any stale snapshot. Version control metadata is not copied.
func (w *Workspace) Snapshot(app, version string) (string, error) {
	src := w.layout.WorkingCopy(app)
	dst := w.layout.ReleaseDir(app, version)

	if _, err := os.Stat(src); err != nil {
		return "", fmt.Errorf("%w: working copy %s: %v", ErrSnapshotFailed, src, err)
	}
	if err := os.RemoveAll(dst); err != nil {
		return "", fmt.Errorf("%w: clear %s: %v", ErrSnapshotFailed, dst, err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSnapshotFailed, err)
	}
	if err := copy.Copy(src, dst); err != nil {
		_ = os.RemoveAll(dst)
		return "", fmt.Errorf("%w: copy %s: %v", ErrSnapshotFailed, src, err)
	}
	if err := os.RemoveAll(filepath.Join(dst, ".git")); err != nil {
		return "", fmt.Errorf("%w: strip metadata: %v", ErrSnapshotFailed, err)
	}

	w.logger.Info("created release snapshot", "app", app, "version", version, "path", dst)
	return dst, nil
}

// =============================================================================
// Backup / Restore
// =============================================================================

// Backup copies the current deployment of app into a timestamped backup.
// A missing current deployment is not an error; the result is marked skipped.
func (w *Workspace) Backup(app string) (BackupResult, error) {
	src := w.layout.CurrentDir(app)
	if _, err := os.Stat(src); err != nil {
		if os.IsNotExist(err) {
			w.logger.Info("no current deployment, skipping backup", "app", app)
			return BackupResult{Skipped: true}, nil
		}
		return BackupResult{}, fmt.Errorf("%w: stat %s: %v", ErrBackupFailed, src, err)
	}

	stamp := coredeployment.BackupStamp(w.now())
	dst := w.layout.BackupDir(app, stamp)
	if err := os.RemoveAll(dst); err != nil {
		return BackupResult{}, fmt.Errorf("%w: clear %s: %v", ErrBackupFailed, dst, err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return BackupResult{}, fmt.Errorf("%w: %v", ErrBackupFailed, err)
	}
	if err := copy.Copy(src, dst); err != nil {
		_ = os.RemoveAll(dst)
		return BackupResult{}, fmt.Errorf("%w: copy %s: %v", ErrBackupFailed, src, err)
	}

	w.logger.Info("backed up current deployment", "app", app, "backup", stamp, "path", dst)
	w.PruneBackups(app)
	return BackupResult{Stamp: stamp, Path: dst}, nil
}

// Backups returns the backup names of app, newest first.
func (w *Workspace) Backups(app string) ([]string, error) {
	entries, err := os.ReadDir(w.layout.BackupsDir(app))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list backups: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return coredeployment.SortBackups(names), nil
}

// LatestBackup returns the most recent backup of app.
func (w *Workspace) LatestBackup(app string) (string, bool, error) {
	names, err := w.Backups(app)
	if err != nil {
		return "", false, err
	}
	stamp, ok := coredeployment.LatestBackup(names)
	return stamp, ok, nil
}

// Restore replaces the current deployment of app with the contents of a backup
// and returns the path of the current directory.
func (w *Workspace) Restore(app, stamp string) (string, error) {
	src := w.layout.BackupDir(app, stamp)
	if _, err := os.Stat(src); err != nil {
		return "", fmt.Errorf("%w: backup %s: %v", ErrRestoreFailed, stamp, err)
	}

	current, err := w.replaceCurrent(app, src)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRestoreFailed, err)
	}

	w.logger.Info("restored backup", "app", app, "backup", stamp, "path", current)
	return current, nil
}

// =============================================================================
// Promote
// =============================================================================

// Promote makes releases/<version> the current deployment and prunes old
// releases. The version being promoted is never pruned.
func (w *Workspace) Promote(app, version string) error {
	src := w.layout.ReleaseDir(app, version)
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("%w: release %s: %v", ErrPromoteFailed, version, err)
	}

	current, err := w.replaceCurrent(app, src)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPromoteFailed, err)
	}

	w.logger.Info("promoted release", "app", app, "version", version, "path", current)
	w.PruneReleases(app, version)
	return nil
}

// replaceCurrent copies src into a temporary sibling of current and renames
// it into place, so current is either the old or the new content.
func (w *Workspace) replaceCurrent(app, src string) (string, error) {
	current := w.layout.CurrentDir(app)
	tmp := current + ".tmp"
	old := current + ".old"

	_ = os.RemoveAll(tmp)
	_ = os.RemoveAll(old)

	if err := os.MkdirAll(filepath.Dir(current), 0755); err != nil {
		return "", err
	}
	if err := copy.Copy(src, tmp); err != nil {
		_ = os.RemoveAll(tmp)
		return "", fmt.Errorf("copy %s: %w", src, err)
	}

	if _, err := os.Stat(current); err == nil {
		if err := os.Rename(current, old); err != nil {
			_ = os.RemoveAll(tmp)
			return "", fmt.Errorf("move aside %s: %w", current, err)
		}
	}
	if err := os.Rename(tmp, current); err != nil {
		if _, statErr := os.Stat(old); statErr == nil {
			_ = os.Rename(old, current)
		}
		_ = os.RemoveAll(tmp)
		return "", fmt.Errorf("rename into %s: %w", current, err)
	}

	if err := os.RemoveAll(old); err != nil {
		w.logger.Warn("failed to remove previous current directory", "path", old, "error", err)
	}
	return current, nil
}

// =============================================================================
// Retention
// =============================================================================

// PruneBackups deletes backups outside the retention policy.
// Failures are logged; the deployment continues.
func (w *Workspace) PruneBackups(app string) []string {
	names, err := w.Backups(app)
	if err != nil {
		w.logger.Warn("failed to list backups for pruning", "app", app, "error", err)
		return nil
	}

	var pruned []string
	for _, name := range coredeployment.PruneBackups(names, w.retention, w.now()) {
		if err := os.RemoveAll(w.layout.BackupDir(app, name)); err != nil {
			w.logger.Warn("failed to prune backup", "app", app, "backup", name, "error", err)
			continue
		}
		pruned = append(pruned, name)
	}
	if len(pruned) > 0 {
		w.logger.Info("pruned backups", "app", app, "count", len(pruned))
	}
	return pruned
}

// PruneReleases deletes release snapshots beyond the retention count.
func (w *Workspace) PruneReleases(app, protect string) []string {
	if w.retention.KeepReleases <= 0 {
		return nil
	}

	dir := w.layout.ReleasesDir(app)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			w.logger.Warn("failed to list releases for pruning", "app", app, "error", err)
		}
		return nil
	}

	releases := make([]coredeployment.ReleaseEntry, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		releases = append(releases, coredeployment.ReleaseEntry{Version: e.Name(), ModifiedAt: info.ModTime()})
	}

	var pruned []string
	for _, version := range coredeployment.PruneReleases(releases, w.retention.KeepReleases, protect) {
		if err := os.RemoveAll(w.layout.ReleaseDir(app, version)); err != nil {
			w.logger.Warn("failed to prune release", "app", app, "version", version, "error", err)
			continue
		}
		pruned = append(pruned, version)
	}
	if len(pruned) > 0 {
		w.logger.Info("pruned releases", "app", app, "count", len(pruned))
	}
	return pruned
}
