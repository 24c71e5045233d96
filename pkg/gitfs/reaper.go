package gitfs

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

// reapHashSidecars evicts hash sidecars under <base>/hash/ whose
// materialized blob no longer exists under <base>/refs/. This stands in
// for the external file-server reaper spec.md names as a collaborator;
// errors here are best-effort cleanup and are suppressed.
func (rp *RepoPool) reapHashSidecars(ctx context.Context) {
	hashRoot := filepath.Join(rp.gitfsRoot(), reservedHashDir)
	refsRoot := filepath.Join(rp.gitfsRoot(), reservedRefsDir)

	envs, err := os.ReadDir(hashRoot)
	if err != nil {
		return
	}

	for _, envEntry := range envs {
		if ctx.Err() != nil {
			return
		}
		if !envEntry.IsDir() {
			continue
		}
		env := envEntry.Name()
		envHashDir := filepath.Join(hashRoot, env)
		envRefsDir := filepath.Join(refsRoot, env)

		_ = filepath.WalkDir(envHashDir, func(path string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(envHashDir, path)
			if err != nil {
				return nil
			}
			materialized := filepath.Join(envRefsDir, sidecarSourcePath(rel))
			if _, err := os.Stat(materialized); os.IsNotExist(err) {
				os.Remove(path) // best-effort, suppressed
			}
			return nil
		})
	}
}

// sidecarSourcePath strips a sidecar's .lk/.hash.* suffix to recover the
// relative path of the materialized file it describes.
func sidecarSourcePath(rel string) string {
	if idx := strings.LastIndex(rel, ".hash."); idx >= 0 {
		return rel[:idx]
	}
	return strings.TrimSuffix(rel, ".lk")
}
