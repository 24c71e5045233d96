package gitfs

import (
	"os"
	"path/filepath"
)

// purgeCache removes cache entries under the gitfs root that don't
// correspond to a currently configured remote and aren't one of the
// reserved names. It returns the number of entries removed.
func (rp *RepoPool) purgeCache() int {
	rp.mu.RLock()
	keep := make(map[string]bool, len(rp.remotes)+4)
	for _, rs := range rp.remotes {
		keep[rs.Hash] = true
	}
	rp.mu.RUnlock()

	keep[reservedHashDir] = true
	keep[reservedRefsDir] = true
	keep[reservedEnvCache] = true
	keep[reservedRemoteMap] = true

	entries, err := os.ReadDir(rp.gitfsRoot())
	if err != nil {
		return 0
	}

	var removed int
	for _, e := range entries {
		if keep[e.Name()] {
			continue
		}
		if err := os.RemoveAll(filepath.Join(rp.gitfsRoot(), e.Name())); err != nil {
			rp.log.Error("unable to purge orphaned cache entry", "name", e.Name(), "err", err)
			continue
		}
		removed++
	}
	return removed
}
