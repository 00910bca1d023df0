package deployment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewLayout_DefaultBackupRoot(t *testing.T) {
	l := NewLayout("/srv/deploy", "")
	assert.Equal(t, "/srv/deploy/backups", l.BackupRoot)
}

func TestLayout_Paths(t *testing.T) {
	l := NewLayout("/srv/deploy", "/var/backups/deploy")

	assert.Equal(t, "/srv/deploy/foo", l.AppDir("foo"))
	assert.Equal(t, "/srv/deploy/foo/repo", l.WorkingCopy("foo"))
	assert.Equal(t, "/srv/deploy/foo/releases", l.ReleasesDir("foo"))
	assert.Equal(t, "/srv/deploy/foo/releases/1.2.0", l.ReleaseDir("foo", "1.2.0"))
	assert.Equal(t, "/srv/deploy/foo/current", l.CurrentDir("foo"))
	assert.Equal(t, "/var/backups/deploy/foo", l.BackupsDir("foo"))
	assert.Equal(t, "/var/backups/deploy/foo/20260102030405", l.BackupDir("foo", "20260102030405"))
}
