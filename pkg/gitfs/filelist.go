package gitfs

import (
	"context"
	"sort"

	"github.com/utilitywarehouse/gitfs/pkg/lock"
)

// fileListCache memoizes file_list/dir_list per environment, invalidated
// whenever Update detects a change for a repo contributing to that
// environment. This stands in for the external file-list cache helper
// spec.md names, since this process owns its own cache instead of
// sharing one with an external master.
type fileListCache struct {
	mu    lock.RWMutex
	files map[string][]string
	dirs  map[string][]string
}

func newFileListCache() *fileListCache {
	return &fileListCache{files: map[string][]string{}, dirs: map[string][]string{}}
}

func (c *fileListCache) getFiles(env string) ([]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.files[env]
	return v, ok
}

func (c *fileListCache) setFiles(env string, v []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files[env] = v
}

func (c *fileListCache) getDirs(env string) ([]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.dirs[env]
	return v, ok
}

func (c *fileListCache) setDirs(env string, v []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dirs[env] = v
}

// invalidateAll drops every cached env's file and dir listing. Called
// whenever Update detects that any remote moved, since listings aren't
// tracked per contributing remote.
func (c *fileListCache) invalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files = map[string][]string{}
	c.dirs = map[string][]string{}
}

// FileList returns the sorted union of file paths visible in env across
// every remote, with root and mountpoint transforms applied.
func (rp *RepoPool) FileList(ctx context.Context, env string) ([]string, error) {
	if files, ok := rp.fileListCache.getFiles(env); ok {
		return files, nil
	}

	out, err := rp.listTree(ctx, env, false)
	if err != nil {
		return nil, err
	}

	rp.fileListCache.setFiles(env, out)
	return out, nil
}

// DirList returns the sorted union of directory paths visible in env
// across every remote.
func (rp *RepoPool) DirList(ctx context.Context, env string) ([]string, error) {
	if dirs, ok := rp.fileListCache.getDirs(env); ok {
		return dirs, nil
	}

	out, err := rp.listTree(ctx, env, true)
	if err != nil {
		return nil, err
	}

	rp.fileListCache.setDirs(env, out)
	return out, nil
}

// FileListEmptyDirs always returns an empty list: git does not represent
// empty directories, so there is nothing to report.
func (rp *RepoPool) FileListEmptyDirs(ctx context.Context, env string) ([]string, error) {
	return nil, nil
}

func (rp *RepoPool) listTree(ctx context.Context, env string, dirs bool) ([]string, error) {
	rp.mu.RLock()
	remotes := append([]*remoteState(nil), rp.remotes...)
	rp.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string

	for _, rs := range remotes {
		if rs.obj == nil {
			continue
		}
		commit, ok := rp.resolveTree(ctx, rs, env)
		if !ok {
			continue
		}

		if accel, ok := rp.worktreeListTree(rs, env, dirs); ok {
			for _, p := range accel {
				visible := applyMountPoint(rs, p)
				if !seen[visible] {
					seen[visible] = true
					out = append(out, visible)
				}
			}
			continue
		}

		err := rs.obj.WalkTree(ctx, commit, rs.Root, func(relPath string, isDir bool, hash string) error {
			if isDir != dirs {
				return nil
			}
			visible := applyMountPoint(rs, relPath)
			if !seen[visible] {
				seen[visible] = true
				out = append(out, visible)
			}
			return nil
		})
		if err != nil {
			rp.log.Error("unable to walk tree", "remote", rs.URI, "env", env, "err", err)
			continue
		}
	}

	sort.Strings(out)
	return out, nil
}

func applyMountPoint(rs *remoteState, relPath string) string {
	if rs.MountPoint == "" {
		return relPath
	}
	return rs.MountPoint + "/" + relPath
}
