package deployment

import (
	"sort"
	"time"
)

// =============================================================================
// Backup Stamps
// =============================================================================

// BackupStampLayout names backup directories with second resolution.
// Lexicographic order of stamps equals chronological order.
const BackupStampLayout = "20060102150405"

// BackupStamp formats the name of a backup taken at t.
func BackupStamp(t time.Time) string {
	return t.UTC().Format(BackupStampLayout)
}

// ParseBackupStamp parses a backup directory name.
func ParseBackupStamp(name string) (time.Time, bool) {
	if len(name) != len(BackupStampLayout) {
		return time.Time{}, false
	}
	t, err := time.Parse(BackupStampLayout, name)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// SortBackups returns the valid backup names newest first.
// Names that are not backup stamps are dropped.
func SortBackups(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	valid := make([]string, 0, len(names))
	for _, n := range names {
		if _, dup := seen[n]; dup {
			continue
		}
		if _, ok := ParseBackupStamp(n); ok {
			seen[n] = struct{}{}
			valid = append(valid, n)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(valid)))
	return valid
}

// LatestBackup returns the most recent backup name.
func LatestBackup(names []string) (string, bool) {
	sorted := SortBackups(names)
	if len(sorted) == 0 {
		return "", false
	}
	return sorted[0], true
}

// =============================================================================
// Retention
// =============================================================================

// RetentionPolicy bounds how many snapshots are kept on disk.
// Zero values disable the respective limit.
type RetentionPolicy struct {
	KeepBackups  int
	MaxBackupAge time.Duration
	KeepReleases int
}

// PruneBackups returns the backups to delete under the policy.
// The newest backup is never pruned so that a rollback target always remains.
func PruneBackups(names []string, policy RetentionPolicy, now time.Time) []string {
	sorted := SortBackups(names)
	var prune []string
	for i, name := range sorted {
		if i == 0 {
			continue
		}
		if policy.KeepBackups > 0 && i >= policy.KeepBackups {
			prune = append(prune, name)
			continue
		}
		if policy.MaxBackupAge > 0 {
			stamp, _ := ParseBackupStamp(name)
			if now.Sub(stamp) > policy.MaxBackupAge {
				prune = append(prune, name)
			}
		}
	}
	return prune
}

// ReleaseEntry describes a versioned snapshot directory.
type ReleaseEntry struct {
	Version    string
	ModifiedAt time.Time
}

// PruneReleases returns the release versions to delete, keeping the newest
// keep entries by modification time. The protected version is never returned.
func PruneReleases(entries []ReleaseEntry, keep int, protect string) []string {
	if keep <= 0 {
		return nil
	}

	sorted := make([]ReleaseEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].ModifiedAt.Equal(sorted[j].ModifiedAt) {
			return sorted[i].Version > sorted[j].Version
		}
		return sorted[i].ModifiedAt.After(sorted[j].ModifiedAt)
	})

	var prune []string
	kept := 0
	for _, e := range sorted {
		if e.Version == protect {
			kept++
			continue
		}
		if kept < keep {
			kept++
			continue
		}
		prune = append(prune, e.Version)
	}
	return prune
}
