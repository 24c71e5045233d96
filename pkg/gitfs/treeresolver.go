package gitfs

import (
	"context"
	"errors"
	"regexp"

	"github.com/utilitywarehouse/gitfs/pkg/gitobj"
)

var hexRgx = regexp.MustCompile(`^[0-9a-fA-F]{4,}$`)

// resolveTree resolves short (an environment name or a commit SHA,
// possibly abbreviated) to a commit hash within rs. Non-exposed names
// never resolve, even when they are otherwise valid refs or commits.
func (rp *RepoPool) resolveTree(ctx context.Context, rs *remoteState, short string) (string, bool) {
	if hash, ok := rp.resolveExposedRef(ctx, rs, short); ok {
		return hash, true
	}

	if !checkWhitelistBlacklist(short, rp.whitelist, rp.blacklist) {
		return "", false
	}
	if !hexRgx.MatchString(short) {
		return "", false
	}

	hash, err := rs.obj.ResolveRef(ctx, short)
	if err != nil {
		if errors.Is(err, gitobj.ErrAmbiguous) {
			rp.log.Warn("ambiguous abbreviated commit sha, treating as absent", "remote", rs.URI, "ref", short)
		} else {
			rp.log.Debug("commit sha not resolved, treating as absent", "remote", rs.URI, "ref", short, "err", err)
		}
		return "", false
	}
	return hash, true
}

// resolveExposedRef matches short against the remote's exposed branch
// and tag names, branches first, mirroring envs()'s tie-break.
func (rp *RepoPool) resolveExposedRef(ctx context.Context, rs *remoteState, short string) (string, bool) {
	refs, err := rs.obj.ListRefs(ctx)
	if err != nil {
		return "", false
	}

	rs.mu.Lock()
	stale := rs.stale
	rs.mu.Unlock()

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
		if name == short && checkWhitelistBlacklist(name, rp.whitelist, rp.blacklist) {
			return ref.Hash, true
		}
	}

	for _, ref := range refs {
		if ref.Kind != gitobj.RefKindTag {
			continue
		}
		name := sanitizeRefName(ref.Name)
		if name == short && checkWhitelistBlacklist(name, rp.whitelist, rp.blacklist) {
			return ref.Hash, true
		}
	}

	return "", false
}
