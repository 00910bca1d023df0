package deployment

import (
	"fmt"
	"strings"
)

// =============================================================================
// Resource Naming Functions
// =============================================================================

// RollbackVersion is the image tag used for images rebuilt from a backup.
const RollbackVersion = "rollback"

// ContainerName generates the name of the single container of an app.
// Pattern: {app}_container
//
// Example:
//
//	ContainerName("foo") // returns "foo_container"
func ContainerName(app string) string {
	return fmt.Sprintf("%s_container", app)
}

// ImageTag generates the image reference for a version of an app.
// Pattern: {app}:{version}
//
// Example:
//
//	ImageTag("foo", "1.2.0") // returns "foo:1.2.0"
func ImageTag(app, version string) string {
	return fmt.Sprintf("%s:%s", app, version)
}

// RollbackTag generates the image reference used when rebuilding from a backup.
func RollbackTag(app string) string {
	return ImageTag(app, RollbackVersion)
}

// RemoteURL generates the clone URL of an app repository.
// Pattern: {base}/{owner}/{repo}.git, repo falls back to app when empty.
// An scp-style base ending in ":" is joined without a slash.
//
// Example:
//
//	RemoteURL("https://github.com", "acme", "", "foo") // returns "https://github.com/acme/foo.git"
//	RemoteURL("git@github.com:", "acme", "", "foo")    // returns "git@github.com:acme/foo.git"
func RemoteURL(base, owner, repo, app string) string {
	if repo == "" {
		repo = app
	}
	repo = strings.TrimSuffix(repo, ".git")

	sep := "/"
	base = strings.TrimRight(base, "/")
	if strings.HasSuffix(base, ":") {
		sep = ""
	}

	if owner == "" {
		return fmt.Sprintf("%s%s%s.git", base, sep, repo)
	}
	return fmt.Sprintf("%s%s%s/%s.git", base, sep, strings.Trim(owner, "/"), repo)
}

// TagName derives the source tag to check out for a version.
// A version that already carries the prefix is used as is.
//
// Example:
//
//	TagName("v", "1.2.0")  // returns "v1.2.0"
//	TagName("v", "v1.2.0") // returns "v1.2.0"
func TagName(prefix, version string) string {
	if prefix == "" || strings.HasPrefix(version, prefix) {
		return version
	}
	return prefix + version
}
