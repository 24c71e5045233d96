package gitfs

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/utilitywarehouse/gitfs/internal/utils"
	"github.com/utilitywarehouse/gitfs/pkg/gitobj"
)

const gitExecutablePath = "git"

var updatedRefRgx = regexp.MustCompile(`(?m)^[^=] \w+ \w+ (refs/[^\s]+)`)

// updatedRefs extracts the refs touched by a fetch from `git fetch
// --porcelain` output, lines of the form "<flag> <old-oid> <new-oid>
// <local-ref>"; lines flagged '=' (ref already up to date) are skipped.
func updatedRefs(output string) []string {
	var refs []string
	for _, match := range updatedRefRgx.FindAllStringSubmatch(output, -1) {
		refs = append(refs, match[1])
	}
	return refs
}

// gitInit creates a bare-ish mirror of uri at dir and configures it the
// way attachRemote expects to find it: origin set to uri, and, when
// sslVerify is false, http.sslVerify turned off. Concurrent initializers
// racing to write the same git config value is tolerated, not an error.
func gitInit(ctx context.Context, log *slog.Logger, dir, uri string, sslVerify bool) error {
	if _, err := utils.RunCommand(ctx, log, nil, dir, gitExecutablePath, "init", "--bare"); err != nil {
		return fmt.Errorf("git init: %w", err)
	}
	if _, err := utils.RunCommand(ctx, log, nil, dir, gitExecutablePath, "remote", "add", "origin", uri); err != nil {
		return fmt.Errorf("git remote add: %w", err)
	}
	if !sslVerify {
		// races between two initializers writing the same key are ignored
		_, _ = utils.RunCommand(ctx, log, nil, dir, gitExecutablePath, "config", "http.sslVerify", "false")
	}
	return nil
}

// gitFetchResult summarizes one fetch attempt for change detection.
type gitFetchResult struct {
	Changed       bool
	UpdatedRefs   []string
	ReceivedBytes bool
}

// gitFetch mirrors all refs from origin into refs/* without pruning.
// It does not pass --porcelain, and without it git writes its ref-update
// summary to stderr, which RunCommand does not return; so UpdatedRefs and
// Changed are only set when stdout carries porcelain lines. updateRemote
// detects change by comparing the ref listings from before and after the
// fetch.
// Pruning is handled separately by updateStaleRefs once staleness has
// been computed, since this mirror refspec writes branches and tags
// directly under refs/heads and refs/tags rather than into a
// refs/remotes/<remote>/ tracking namespace - the textual output of
// `git remote prune --dry-run` the original implementation parses
// doesn't apply to that layout.
func gitFetch(ctx context.Context, log *slog.Logger, dir string) (gitFetchResult, error) {
	out, err := utils.RunCommand(ctx, log, nil, dir, gitExecutablePath,
		"fetch", "origin", "+refs/*:refs/*")
	if err != nil {
		return gitFetchResult{}, err
	}

	refs := updatedRefs(out)
	return gitFetchResult{
		Changed:       len(refs) > 0,
		UpdatedRefs:   refs,
		ReceivedBytes: strings.Contains(out, "->") || len(refs) > 0,
	}, nil
}

// gitRemoteRefs returns the authoritative set of branch and tag names
// currently on the remote, via `git ls-remote`. This is the native-API
// stand-in for the prune --dry-run text parse the design notes flag as a
// fallback: ls-remote gives an exact answer without scraping output.
func gitRemoteRefs(ctx context.Context, log *slog.Logger, dir string) (map[string]bool, error) {
	out, err := utils.RunCommand(ctx, log, nil, dir, gitExecutablePath, "ls-remote", "--heads", "--tags", "origin")
	if err != nil {
		return nil, err
	}

	refs := make(map[string]bool)
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		name := fields[1]
		switch {
		case strings.HasPrefix(name, "refs/heads/"):
			refs[strings.TrimSuffix(strings.TrimPrefix(name, "refs/heads/"), "^{}")] = true
		case strings.HasPrefix(name, "refs/tags/"):
			refs[strings.TrimSuffix(strings.TrimPrefix(name, "refs/tags/"), "^{}")] = true
		}
	}
	return refs, nil
}

// gitDeleteRef removes a local branch or tag ref, tolerating the ref
// already being gone.
func gitDeleteRef(ctx context.Context, log *slog.Logger, dir, fullRefName string) error {
	_, err := utils.RunCommand(ctx, log, nil, dir, gitExecutablePath, "update-ref", "-d", fullRefName)
	return err
}

// gitObjectUnreadable reports whether dir's repository is unreadable:
// it opens the repo fresh and lists its refs, which fails on a
// truncated object store, a missing HEAD, or any other corruption a bare
// directory-exists check would miss.
func gitObjectUnreadable(ctx context.Context, dir string) bool {
	obj, err := gitobj.Open(dir)
	if err != nil {
		return true
	}
	_, err = obj.ListRefs(ctx)
	return err != nil
}
