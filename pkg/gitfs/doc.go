// Package gitfs implements a Git-backed file server core: it mirrors one
// or more remote repositories locally, exposes their branches and tags as
// named environments, and materializes requested blobs into an
// on-disk, content-addressed cache for a config-management master to
// serve to its minions.
//
// # Usage
//
// Build a Config, construct a RepoPool with New, call Init once to attach
// or create the per-remote working directories, then call Update
// periodically (or StartLoop to do that on an internal timer) and serve
// reads through FindFile, FileHash, FileList and DirList.
//
// # Logging
//
// RepoPool takes an *slog.Logger and logs subprocess invocations at
// trace level (slog.Level(-8)), matching the verbosity levels used
// across the rest of this module.
package gitfs
