package gitfs

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/utilitywarehouse/gitfs/pkg/gitobj"
)

// Update performs one full update cycle: purge orphaned remote caches,
// fetch every configured remote, detect staleness and change, rebuild
// the env cache if anything moved, and fire the update event.
func (rp *RepoPool) Update(ctx context.Context) error {
	purged := rp.purgeCache()
	recordPurge(purged)

	rp.mu.RLock()
	remotes := append([]*remoteState(nil), rp.remotes...)
	rp.mu.RUnlock()

	var changed bool
	for _, rs := range remotes {
		if rp.updateRemote(ctx, rs) {
			changed = true
		}
	}

	if changed {
		rp.fileListCache.invalidateAll()
	}

	if changed || !rp.envCacheExists() {
		envs, err := rp.Envs(ctx, true)
		if err != nil {
			rp.log.Error("unable to recompute environments", "err", err)
		} else if err := rp.envCache.write(envs); err != nil {
			rp.log.Error("unable to persist env cache", "err", err)
		}
	}

	rp.fireUpdateEvent(changed)
	rp.reapHashSidecars(ctx)

	return nil
}

func (rp *RepoPool) envCacheExists() bool {
	_, err := os.Stat(filepath.Join(rp.gitfsRoot(), reservedEnvCache))
	return err == nil
}

// updateRemote fetches one remote under its update.lk and reports
// whether anything moved.
func (rp *RepoPool) updateRemote(ctx context.Context, rs *remoteState) bool {
	if rs.obj == nil {
		// a prior cycle found this remote's repo corrupted and removed
		// its cache dir; attachRemote re-inits it fresh from nothing.
		if err := rp.attachRemote(ctx, rs); err != nil {
			rp.log.Error("unable to reattach remote", "remote", rs.URI, "cachedir", rs.CacheDir, "err", err)
			return false
		}
	}

	lockPath := filepath.Join(rs.CacheDir, "update.lk")
	if err := os.WriteFile(lockPath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		rp.log.Error("unable to write update lock", "remote", rs.URI, "err", err)
	}
	defer os.Remove(lockPath)

	fetchCtx := ctx
	if rp.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, rp.cfg.FetchTimeout)
		defer cancel()
	}

	var before map[string]string
	if prev, err := rs.obj.ListRefs(ctx); err == nil {
		before = make(map[string]string, len(prev))
		for _, ref := range prev {
			before[ref.Kind.String()+"/"+ref.Name] = ref.Hash
		}
	}

	start := time.Now()
	result, err := gitFetch(fetchCtx, rp.log, rs.CacheDir)
	if err != nil {
		if gitObjectUnreadable(ctx, rs.CacheDir) {
			rp.log.Error("repository unreadable, recreating cache dir", "remote", rs.URI, "err", err)
			os.RemoveAll(rs.CacheDir)
			rs.obj = nil
			recordUpdate(rs.URI, false)
			return false
		}
		rp.log.Warn("fetch failed", "remote", rs.URI, "err", err)
		recordUpdate(rs.URI, false)
		return false
	}
	observeUpdateLatency(rs.URI, start)

	if err := rs.obj.Reopen(); err != nil {
		rp.log.Error("unable to reopen repo after fetch", "remote", rs.URI, "err", err)
		recordUpdate(rs.URI, false)
		return false
	}

	refs, err := rs.obj.ListRefs(ctx)
	if err != nil {
		rp.log.Warn("unable to list refs after fetch", "remote", rs.URI, "err", err)
	} else if len(refs) == 0 {
		rp.log.Warn("remote returned no refs", "remote", rs.URI)
		recordUpdate(rs.URI, true)
		return false
	}

	changed := result.Changed || before == nil || len(before) != len(refs)
	for _, ref := range refs {
		if before[ref.Kind.String()+"/"+ref.Name] != ref.Hash {
			changed = true
		}
	}

	rp.updateStaleRefs(ctx, rs, refs)

	recordUpdate(rs.URI, true)

	if rp.cfg.MaterializeWorktrees {
		rp.refreshWorktrees(ctx, rs, refs)
	}

	return changed
}

// updateStaleRefs diffs the locally mirrored refs against an authoritative
// ls-remote of origin, deletes any that have disappeared, and records the
// stale set so envs() and resolveTree exclude them mid-cycle even before
// the next ListRefs call would no longer see them.
func (rp *RepoPool) updateStaleRefs(ctx context.Context, rs *remoteState, localRefs []gitobj.Ref) {
	remoteRefs, err := gitRemoteRefs(ctx, rp.log, rs.CacheDir)
	if err != nil {
		rp.log.Warn("unable to compute stale refs", "remote", rs.URI, "err", err)
		return
	}

	stale := make(map[string]bool)
	for _, ref := range localRefs {
		if remoteRefs[ref.Name] {
			continue
		}
		stale[ref.Name] = true

		var fullName string
		switch ref.Kind {
		case gitobj.RefKindBranch:
			fullName = "refs/heads/" + ref.Name
		case gitobj.RefKindTag:
			fullName = "refs/tags/" + ref.Name
		}
		if err := gitDeleteRef(ctx, rp.log, rs.CacheDir, fullName); err != nil {
			rp.log.Error("unable to delete stale ref", "remote", rs.URI, "ref", fullName, "err", err)
		}
	}

	rs.mu.Lock()
	rs.stale = stale
	rs.mu.Unlock()

	if len(stale) > 0 {
		if err := rs.obj.Reopen(); err != nil {
			rp.log.Error("unable to reopen repo after pruning stale refs", "remote", rs.URI, "err", err)
		}
	}
}

func (rp *RepoPool) refreshWorktrees(ctx context.Context, rs *remoteState, refs []gitobj.Ref) {
	for _, ref := range refs {
		if ref.Kind != gitobj.RefKindBranch {
			continue
		}
		env := sanitizeRefName(ref.Name)
		if env == rp.cfg.Base {
			env = "base"
		}
		if !checkWhitelistBlacklist(env, rp.whitelist, rp.blacklist) {
			continue
		}
		rp.materializeWorktree(ctx, rs, env, ref.Hash)
	}
}

// StartLoop runs Update on cfg.Interval, jittered by up to 20%, until ctx
// is cancelled.
func (rp *RepoPool) StartLoop(ctx context.Context) {
	for {
		if err := rp.Update(ctx); err != nil {
			rp.log.Error("update cycle failed", "err", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(jitter(rp.cfg.Interval, 0.2)):
		}
	}
}
