package deployment

import "path/filepath"

// =============================================================================
// On-Disk Layout
// =============================================================================

const (
	workingCopyDir = "repo"
	releasesDir    = "releases"
	currentDir     = "current"
)

// Layout computes every path a run touches from two roots.
//
//	{root}/{app}/repo                 working copy
//	{root}/{app}/releases/{version}   versioned build context
//	{root}/{app}/current              currently deployed source
//	{backupRoot}/{app}/{stamp}        backup snapshots
type Layout struct {
	Root       string
	BackupRoot string
}

// NewLayout creates a layout. An empty backupRoot defaults to {root}/backups.
func NewLayout(root, backupRoot string) Layout {
	if backupRoot == "" {
		backupRoot = filepath.Join(root, "backups")
	}
	return Layout{Root: root, BackupRoot: backupRoot}
}

// AppDir returns the deployment directory of an app.
func (l Layout) AppDir(app string) string {
	return filepath.Join(l.Root, app)
}

// WorkingCopy returns the version control checkout of an app.
func (l Layout) WorkingCopy(app string) string {
	return filepath.Join(l.Root, app, workingCopyDir)
}

// ReleasesDir returns the parent of all versioned snapshots of an app.
func (l Layout) ReleasesDir(app string) string {
	return filepath.Join(l.Root, app, releasesDir)
}

// ReleaseDir returns the build context for a version.
func (l Layout) ReleaseDir(app, version string) string {
	return filepath.Join(l.Root, app, releasesDir, version)
}

// CurrentDir returns the directory holding the live version's source.
func (l Layout) CurrentDir(app string) string {
	return filepath.Join(l.Root, app, currentDir)
}

// BackupsDir returns the parent of all backup snapshots of an app.
func (l Layout) BackupsDir(app string) string {
	return filepath.Join(l.BackupRoot, app)
}

// BackupDir returns the directory of a single backup snapshot.
func (l Layout) BackupDir(app, stamp string) string {
	return filepath.Join(l.BackupRoot, app, stamp)
}
