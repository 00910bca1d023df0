// Package deployment provides pure functions for single-host deployment planning.
//
// This package contains the functional core of a deployment run. All functions
// are pure (no I/O, no side effects): they compute names, paths, container plans
// and retention decisions that the imperative shell then executes.
//
// # Functions
//
//   - Naming: ContainerName, ImageTag, RollbackTag, RemoteURL, TagName
//   - Layout: on-disk paths for working copy, releases, current and backups
//   - Container: BuildContainerPlan for the single per-app container
//   - Backups: BackupStamp, ParseBackupStamp, LatestBackup, PruneBackups
//   - Releases: PruneReleases
//
// # Usage
//
// The orchestrator (internal/shell/orchestrator) uses these functions to plan
// each step, then executes the plan through its collaborators.
//
//	layout := deployment.NewLayout(root, backupRoot)
//	plan := deployment.BuildContainerPlan(deployment.ContainerPlanParams{App: app, Image: tag})
//	latest, ok := deployment.LatestBackup(names)
package deployment
