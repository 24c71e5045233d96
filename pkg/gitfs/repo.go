package gitfs

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gobwas/glob"

	"github.com/utilitywarehouse/gitfs/pkg/gitobj"
	"github.com/utilitywarehouse/gitfs/pkg/lock"
)

const (
	gitfsSubdir      = "gitfs"
	reservedHashDir  = "hash"
	reservedRefsDir  = "refs"
	reservedEnvCache = "envs.p"
	reservedRemoteMap = "remote_map.txt"
)

// RemoteRecord is the public, read-only view of one configured remote
// returned by Init.
type RemoteRecord struct {
	URI        string
	MountPoint string
	Root       string
	Hash       string
	CacheDir   string
}

// remoteState is the mutable, process-internal state kept per remote.
type remoteState struct {
	RemoteRecord
	mu    lock.Mutex
	obj   *gitobj.Repo
	stale map[string]bool
}

// RepoPool mirrors a set of remote git repositories and serves
// environment-scoped file lookups against them. A RepoPool is safe for
// concurrent use by multiple goroutines.
type RepoPool struct {
	mu  lock.RWMutex
	log *slog.Logger
	cfg Config

	whitelist []glob.Glob
	blacklist []glob.Glob

	remotes []*remoteState

	envCache      *envCache
	emitter       Emitter
	fileListCache *fileListCache
	worktrees     *worktreeCache
}

// New validates cfg and constructs a RepoPool. Remote repositories are
// neither created nor fetched until Init and Update are called.
func New(ctx context.Context, cfg Config, log *slog.Logger, emitter Emitter) (*RepoPool, error) {
	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	if emitter == nil {
		emitter = NewLogEmitter(log)
	}

	wl, err := compileGlobs(cfg.EnvWhitelist)
	if err != nil {
		log.Error("dropping invalid whitelist entries", "err", err)
	}
	bl, err := compileGlobs(cfg.EnvBlacklist)
	if err != nil {
		log.Error("dropping invalid blacklist entries", "err", err)
	}

	rp := &RepoPool{
		log:           log,
		cfg:           cfg,
		whitelist:     wl,
		blacklist:     bl,
		emitter:       emitter,
		envCache:      newEnvCache(filepath.Join(cfg.CacheDir, gitfsSubdir, reservedEnvCache)),
		fileListCache: newFileListCache(),
		worktrees:     newWorktreeCache(),
	}

	for _, rc := range cfg.Remotes {
		rp.remotes = append(rp.remotes, rp.newRemoteState(rc))
	}

	return rp, nil
}

func (rp *RepoPool) newRemoteState(rc RemoteConfig) *remoteState {
	hash := hashURI(rc.URI)
	return &remoteState{
		RemoteRecord: RemoteRecord{
			URI:        rc.URI,
			MountPoint: rc.MountPoint,
			Root:       rc.Root,
			Hash:       hash,
			CacheDir:   rp.remoteDir(hash),
		},
	}
}

// hashURI returns the deterministic hex(md5(uri)) cache-dir key.
func hashURI(uri string) string {
	sum := md5.Sum([]byte(uri))
	return hex.EncodeToString(sum[:])
}

func (rp *RepoPool) gitfsRoot() string {
	return filepath.Join(rp.cfg.CacheDir, gitfsSubdir)
}

func (rp *RepoPool) remoteDir(hash string) string {
	return filepath.Join(rp.gitfsRoot(), hash)
}

func (rp *RepoPool) hashDir(env string) string {
	return filepath.Join(rp.gitfsRoot(), reservedHashDir, env)
}

func (rp *RepoPool) refsDir(env string) string {
	return filepath.Join(rp.gitfsRoot(), reservedRefsDir, env)
}

func (rp *RepoPool) remoteMapPath() string {
	return filepath.Join(rp.gitfsRoot(), reservedRemoteMap)
}

// Init creates or attaches the per-remote working directories and
// returns the resulting records in configuration order. It is safe to
// call repeatedly: existing valid repos are reattached, empty cache dirs
// are initialized fresh, and cache dirs that exist but hold no valid repo
// are dropped with a logged error naming the offending dir and URI.
func (rp *RepoPool) Init(ctx context.Context) ([]RemoteRecord, error) {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	if err := os.MkdirAll(rp.gitfsRoot(), 0o755); err != nil {
		return nil, fmt.Errorf("gitfs: creating cache root: %w", err)
	}

	var (
		records    []RemoteRecord
		newRemotes bool
	)

	for _, rs := range rp.remotes {
		if err := rp.attachRemote(ctx, rs); err != nil {
			rp.log.Error("dropping remote with unusable cache dir", "remote", rs.URI, "cachedir", rs.CacheDir, "err", err)
			continue
		}
		if rs.obj != nil {
			records = append(records, rs.RemoteRecord)
			newRemotes = true
		}
	}

	if newRemotes {
		if err := rp.writeRemoteMap(); err != nil {
			rp.log.Error("unable to write remote map", "err", err)
		}
	}

	return records, nil
}

// attachRemote creates the cache dir if missing, git-inits it if empty,
// and opens it for object reads. An existing, non-empty, invalid repo
// leaves rs.obj nil and returns an error for the caller to log.
func (rp *RepoPool) attachRemote(ctx context.Context, rs *remoteState) error {
	info, err := os.Stat(rs.CacheDir)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(rs.CacheDir, 0o755); err != nil {
			return fmt.Errorf("creating cache dir: %w", err)
		}
		if err := gitInit(ctx, rp.log, rs.CacheDir, rs.URI, rp.cfg.SSLVerify); err != nil {
			return err
		}
	case err != nil:
		return err
	case !info.IsDir():
		return fmt.Errorf("cache dir path exists and is not a directory")
	default:
		empty, err := dirIsEmpty(rs.CacheDir)
		if err != nil {
			return err
		}
		if empty {
			if err := gitInit(ctx, rp.log, rs.CacheDir, rs.URI, rp.cfg.SSLVerify); err != nil {
				return err
			}
		}
	}

	obj, err := gitobj.Open(rs.CacheDir)
	if err != nil {
		return fmt.Errorf("opening repo: %w", err)
	}
	rs.obj = obj
	return nil
}

func dirIsEmpty(path string) (bool, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}

// Remote returns the remote matching uri, or ErrNotExist.
func (rp *RepoPool) Remote(uri string) (RemoteRecord, error) {
	rp.mu.RLock()
	defer rp.mu.RUnlock()

	hash := hashURI(uri)
	for _, rs := range rp.remotes {
		if rs.Hash == hash {
			return rs.RemoteRecord, nil
		}
	}
	return RemoteRecord{}, ErrNotExist
}

// Remotes returns the records of every configured remote, attached or
// not, in configuration order.
func (rp *RepoPool) Remotes() []RemoteRecord {
	rp.mu.RLock()
	defer rp.mu.RUnlock()

	records := make([]RemoteRecord, 0, len(rp.remotes))
	for _, rs := range rp.remotes {
		records = append(records, rs.RemoteRecord)
	}
	return records
}
