package gitfs

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FindResult is the {rel, path} pair returned by FindFile: rel is the
// consumer-visible request path, path is the local filesystem location
// of the materialized blob. Both fields are empty when no repo satisfies
// the request.
type FindResult struct {
	Rel  string
	Path string
}

// FindFile resolves path inside env across every configured remote, in
// configuration order, and materializes the first matching blob into the
// on-disk cache. An absolute path never matches anything.
func (rp *RepoPool) FindFile(ctx context.Context, path, env string) (FindResult, error) {
	if filepath.IsAbs(path) {
		return FindResult{}, nil
	}
	path = filepath.ToSlash(path)

	rp.mu.RLock()
	remotes := append([]*remoteState(nil), rp.remotes...)
	rp.mu.RUnlock()

	for _, rs := range remotes {
		if rs.obj == nil {
			continue
		}

		adjusted, ok := adjustPath(rs, path)
		if !ok {
			continue
		}

		commit, ok := rp.resolveTree(ctx, rs, env)
		if !ok {
			continue
		}

		content, blobHash, err := rs.obj.BlobAt(ctx, commit, adjusted)
		if err != nil {
			continue
		}

		// Sidecars and the materialized file are keyed by the original
		// request path, not the mountpoint/root-adjusted tree path: the
		// adjusted path is only meaningful for the blob lookup above.
		destPath := filepath.Join(rp.refsDir(env), filepath.FromSlash(path))
		hit, err := rp.materializeBlob(ctx, env, path, destPath, blobHash, content)
		if err != nil {
			rp.log.Error("unable to materialize blob", "remote", rs.URI, "path", path, "err", err)
			continue
		}
		recordFindFile(rs.URI, hit)

		return FindResult{Rel: path, Path: destPath}, nil
	}

	return FindResult{}, nil
}

// adjustPath applies the mountpoint and root transforms for one remote.
// It reports ok=false when the remote's mountpoint doesn't match path at
// all, meaning this remote should be skipped entirely.
func adjustPath(rs *remoteState, path string) (string, bool) {
	p := path
	if rs.MountPoint != "" {
		prefix := rs.MountPoint + "/"
		if !strings.HasPrefix(p, prefix) {
			return "", false
		}
		p = strings.TrimPrefix(p, prefix)
	}
	if rs.Root != "" {
		p = rs.Root + "/" + p
	}
	return p, true
}

// materializeBlob implements the per-path lock / fast-path / slow-path
// algorithm. It reports cacheHit=true when the fast path served the
// request without touching disk beyond the lock file.
func (rp *RepoPool) materializeBlob(ctx context.Context, env, relPath, destPath, blobHash string, content []byte) (cacheHit bool, err error) {
	sidecarBase := filepath.Join(rp.hashDir(env), filepath.FromSlash(relPath))
	if err := os.MkdirAll(filepath.Dir(sidecarBase), 0o755); err != nil {
		return false, err
	}

	lockPath := sidecarBase + ".lk"
	if err := waitLock(ctx, lockPath); err != nil {
		return false, err
	}
	defer os.Remove(lockPath)

	blobShaPath := sidecarBase + ".hash.blob_sha1"

	if existing, err := os.ReadFile(blobShaPath); err == nil && strings.TrimSpace(string(existing)) == blobHash {
		if _, err := os.Stat(destPath); err == nil {
			return true, nil
		}
	}

	// slow path: any content-hash sidecar under the old blob is now stale
	stale, _ := filepath.Glob(sidecarBase + ".hash.*")
	for _, s := range stale {
		if s == blobShaPath {
			continue
		}
		os.Remove(s)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return false, err
	}
	if err := atomicWriteFile(destPath, content); err != nil {
		return false, err
	}
	if err := os.WriteFile(blobShaPath, []byte(blobHash), 0o644); err != nil {
		return false, err
	}

	return false, nil
}

// waitLock implements the recreate-then-delete content lock: poll until
// the lock path is absent, then atomically create it.
func waitLock(ctx context.Context, path string) error {
	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			return f.Close()
		}
		if !os.IsExist(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(25 * time.Millisecond):
		}
	}
}

// atomicWriteFile writes content to a temp file beside destPath and
// renames it into place, so readers never observe a half-written blob.
func atomicWriteFile(destPath string, content []byte) error {
	dir := filepath.Dir(destPath)
	tmp := filepath.Join(dir, "."+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, destPath); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
