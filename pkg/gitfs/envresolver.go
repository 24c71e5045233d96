package gitfs

import (
	"context"
	"sort"
	"strings"

	"github.com/utilitywarehouse/gitfs/pkg/gitobj"
)

func sanitizeRefName(name string) string {
	return strings.ReplaceAll(name, "/", "_")
}

// Envs returns the sorted set of exposed environment names across all
// remotes. If ignoreCache is false and a fresh envs.p exists, its
// contents are returned without touching any repo.
func (rp *RepoPool) Envs(ctx context.Context, ignoreCache bool) ([]string, error) {
	if !ignoreCache {
		if envs, ok := rp.envCache.readIfFresh(rp.cfg.Interval); ok {
			return envs, nil
		}
	}

	rp.mu.RLock()
	remotes := append([]*remoteState(nil), rp.remotes...)
	rp.mu.RUnlock()

	seen := make(map[string]bool)
	var envs []string

	for _, rs := range remotes {
		if rs.obj == nil {
			continue
		}
		for _, name := range rp.exposedEnvsForRemote(ctx, rs) {
			if seen[name] {
				continue
			}
			seen[name] = true
			envs = append(envs, name)
		}
	}

	sort.Strings(envs)
	return envs, nil
}

// exposedEnvsForRemote enumerates refs for one remote and returns the
// exposed environment names. Branches are considered before tags so
// that, on a sanitized-name collision, the branch wins.
func (rp *RepoPool) exposedEnvsForRemote(ctx context.Context, rs *remoteState) []string {
	refs, err := rs.obj.ListRefs(ctx)
	if err != nil {
		rp.log.Error("unable to list refs", "remote", rs.URI, "err", err)
		return nil
	}

	rs.mu.Lock()
	stale := rs.stale
	rs.mu.Unlock()

	seen := make(map[string]bool)
	var names []string

	for _, ref := range refs {
		if ref.Kind != gitobj.RefKindBranch {
			continue
		}
		if stale[ref.Name] {
			continue
		}
		name := sanitizeRefName(ref.Name)
		if name == rp.cfg.Base {
			name = "base"
		}
		if !checkWhitelistBlacklist(name, rp.whitelist, rp.blacklist) {
			continue
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}

	for _, ref := range refs {
		if ref.Kind != gitobj.RefKindTag {
			continue
		}
		name := sanitizeRefName(ref.Name)
		if !checkWhitelistBlacklist(name, rp.whitelist, rp.blacklist) {
			continue
		}
		if seen[name] {
			continue // a branch already claimed this sanitized name
		}
		seen[name] = true
		names = append(names, name)
	}

	return names
}
