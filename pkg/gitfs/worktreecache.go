package gitfs

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/utilitywarehouse/gitfs/internal/utils"
	"github.com/utilitywarehouse/gitfs/pkg/lock"
)

// worktreeCache tracks the on-disk worktree checkout materialized for
// each (remote hash, env) pair. It adapts the mirror lineage's worktree
// link mechanics - previously keyed by an operator-declared link path -
// to instead accelerate FileList/DirList for a moving branch tip, rather
// than walking git objects one entry at a time.
//
// This is an optional speedup, off by default (MaterializeWorktrees):
// FindFile never consults it, since its hash-sidecar invariants need
// per-blob granularity a worktree checkout doesn't provide.
type worktreeCache struct {
	mu    lock.RWMutex
	state map[string]string // "<hash>/<env>" -> commit currently checked out
}

func newWorktreeCache() *worktreeCache {
	return &worktreeCache{state: map[string]string{}}
}

func worktreeKey(hash, env string) string { return hash + "/" + env }

func (w *worktreeCache) commitFor(hash, env string) (string, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	c, ok := w.state[worktreeKey(hash, env)]
	return c, ok
}

func (w *worktreeCache) set(hash, env, commit string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state[worktreeKey(hash, env)] = commit
}

func (w *worktreeCache) forget(hash, env string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.state, worktreeKey(hash, env))
}

func (rp *RepoPool) worktreeDir(rs *remoteState, env string) string {
	return filepath.Join(rs.CacheDir, "gitfs-worktrees", env)
}

// materializeWorktree ensures a detached worktree checkout of commit
// exists for (rs, env). Only called for branch environments - a moving
// tag isn't worth the checkout cost the teacher's worktree code assumes
// a moving ref will recoup.
func (rp *RepoPool) materializeWorktree(ctx context.Context, rs *remoteState, env, commit string) {
	if !rp.cfg.MaterializeWorktrees {
		return
	}

	if existing, ok := rp.worktrees.commitFor(rs.Hash, env); ok && existing == commit {
		return
	}

	dir := rp.worktreeDir(rs, env)
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		rp.log.Error("unable to create worktree parent dir", "remote", rs.URI, "env", env, "err", err)
		return
	}

	if _, err := os.Stat(dir); err == nil {
		if _, err := utils.RunCommand(ctx, rp.log, nil, rs.CacheDir, gitExecutablePath,
			"worktree", "remove", "--force", dir); err != nil {
			rp.log.Error("unable to remove stale worktree, recreating dir", "remote", rs.URI, "env", env, "err", err)
			os.RemoveAll(dir)
		}
	}

	if _, err := utils.RunCommand(ctx, rp.log, nil, rs.CacheDir, gitExecutablePath,
		"worktree", "add", "--force", "--detach", dir, commit); err != nil {
		rp.log.Error("unable to materialize worktree", "remote", rs.URI, "env", env, "err", err)
		rp.worktrees.forget(rs.Hash, env)
		return
	}

	rp.worktrees.set(rs.Hash, env, commit)
}

// worktreeListTree lists files or directories from a materialized
// worktree checkout when one is fresh for (rs, env). ok=false tells the
// caller to fall back to the object-level tree walk.
func (rp *RepoPool) worktreeListTree(rs *remoteState, env string, dirs bool) ([]string, bool) {
	if !rp.cfg.MaterializeWorktrees {
		return nil, false
	}
	if _, ok := rp.worktrees.commitFor(rs.Hash, env); !ok {
		return nil, false
	}

	root := rp.worktreeDir(rs, env)
	if rs.Root != "" {
		root = filepath.Join(root, rs.Root)
	}

	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		if d.Name() == ".git" {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() != dirs {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, false
	}
	return out, true
}
