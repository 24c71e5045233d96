package gitfs

import (
	"encoding/gob"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/utilitywarehouse/gitfs/pkg/lock"
)

// envCache persists the result of envs(ignoreCache=false) to envs.p.
// Freshness here is owned by this process (the external file-server
// helper spec.md defers to doesn't exist standalone) via a simple
// mtime-based TTL tied to the update interval.
type envCache struct {
	mu   lock.RWMutex
	path string
}

func newEnvCache(path string) *envCache {
	return &envCache{path: path}
}

// readIfFresh returns the cached env list if envs.p exists and was
// written within ttl. Readers tolerate absence by recomputing.
func (c *envCache) readIfFresh(ttl time.Duration) ([]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	info, err := os.Stat(c.path)
	if err != nil {
		return nil, false
	}
	if time.Since(info.ModTime()) > ttl {
		return nil, false
	}

	f, err := os.Open(c.path)
	if err != nil {
		return nil, false
	}
	defer f.Close()

	var envs []string
	if err := gob.NewDecoder(f).Decode(&envs); err != nil {
		return nil, false
	}
	return envs, true
}

// write persists envs atomically: write to a temp file in the same
// directory, then rename into place.
func (c *envCache) write(envs []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp := filepath.Join(dir, "."+uuid.NewString()+".envs.p.tmp")
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := gob.NewEncoder(f).Encode(envs); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	return os.Rename(tmp, c.path)
}
