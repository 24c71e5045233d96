package gitfs

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/gobwas/glob"
	"github.com/mitchellh/mapstructure"

	"github.com/utilitywarehouse/gitfs/giturl"
)

const (
	defaultBase           = "master"
	defaultHashType       = "sha256"
	defaultInterval       = 60 * time.Second
	defaultFetchTimeout   = 5 * time.Minute
	minAllowedInterval    = 5 * time.Second
	defaultFileBufferSize = 1 << 20
)

// Config is the process-wide configuration for a RepoPool. It mirrors the
// config surface named in the master's config keys: cachedir,
// gitfs_remotes, gitfs_base, gitfs_root, gitfs_mountpoint,
// gitfs_env_whitelist, gitfs_env_blacklist, gitfs_ssl_verify,
// fileserver_events, hash_type, file_buffer_size.
type Config struct {
	// CacheDir is the directory under which the gitfs/ tree is created.
	// Defaults to the platform XDG cache dir when empty.
	CacheDir string `yaml:"cachedir"`

	// Remotes is the ordered list of remote specs. Order defines the
	// disambiguation rule when more than one remote serves the same path.
	Remotes []RemoteConfig `yaml:"gitfs_remotes"`

	// Base is the branch name aliased to the environment "base".
	Base string `yaml:"gitfs_base"`

	// Root is the process-wide default subdirectory treated as a repo's
	// apparent root, used when a remote doesn't set its own.
	Root string `yaml:"gitfs_root"`

	// MountPoint is the process-wide default virtual path prefix.
	MountPoint string `yaml:"gitfs_mountpoint"`

	// EnvWhitelist / EnvBlacklist are glob patterns applied to candidate
	// environment names.
	EnvWhitelist []string `yaml:"gitfs_env_whitelist"`
	EnvBlacklist []string `yaml:"gitfs_env_blacklist"`

	// SSLVerify controls http.sslVerify on newly created repos.
	SSLVerify bool `yaml:"gitfs_ssl_verify"`

	// FileserverEvents enables the fileserver/gitfs/update event on change.
	FileserverEvents bool `yaml:"fileserver_events"`

	// HashType is the algorithm used for file_hash sidecars, e.g. sha256.
	HashType string `yaml:"hash_type"`

	// FileBufferSize is the largest chunk ServeFile reads per call.
	FileBufferSize int `yaml:"file_buffer_size"`

	// Interval is the wait between update() cycles when run as a loop.
	Interval time.Duration `yaml:"update_interval"`

	// FetchTimeout bounds a single remote's fetch within one update cycle.
	FetchTimeout time.Duration `yaml:"fetch_timeout"`

	// MaterializeWorktrees enables the optional worktree acceleration
	// structure for FileList/DirList on branch environments.
	MaterializeWorktrees bool `yaml:"materialize_worktrees"`
}

// DecodeConfig unmarshals raw (e.g. viper.AllSettings()) into cfg using
// Config's yaml tags, and reports every key in raw that didn't map to a
// recognized field at any level - including per-remote keys other than
// mountpoint/root. The decode itself never fails because of them; the
// caller logs each one, matching "unknown keys log an error and are
// ignored" rather than rejecting the whole config.
func DecodeConfig(raw map[string]interface{}, cfg *Config) (unknownKeys []string, err error) {
	var md mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "yaml",
		Metadata:         &md,
		Result:           cfg,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("building config decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return md.Unused, nil
}

// RemoteConfig is one configured remote spec.
type RemoteConfig struct {
	// URI is the remote's origin URL. Only http, https and file schemes
	// are supported - there is no authenticated SSH transport.
	URI string `yaml:"uri"`

	// MountPoint overrides the process-wide default for this remote.
	MountPoint string `yaml:"mountpoint"`

	// Root overrides the process-wide default for this remote.
	Root string `yaml:"root"`
}

// ValidateAndApplyDefaults validates the configuration and fills in
// process-wide defaults on every remote that doesn't set its own. It is
// safe to call more than once.
func (c *Config) ValidateAndApplyDefaults() error {
	var errs []error

	if c.CacheDir == "" {
		dir, err := xdg.CacheFile(filepath.Join("gitfs", "cache"))
		if err != nil {
			errs = append(errs, fmt.Errorf("resolving default cachedir: %w", err))
		} else {
			c.CacheDir = filepath.Dir(dir)
		}
	}
	if !filepath.IsAbs(c.CacheDir) {
		errs = append(errs, fmt.Errorf("cachedir %q must be absolute", c.CacheDir))
	}

	if c.Base == "" {
		c.Base = defaultBase
	}
	if c.HashType == "" {
		c.HashType = defaultHashType
	}
	if c.FileBufferSize <= 0 {
		c.FileBufferSize = defaultFileBufferSize
	}
	if c.Interval == 0 {
		c.Interval = defaultInterval
	}
	if c.Interval < minAllowedInterval {
		errs = append(errs, fmt.Errorf("update_interval %s is too short, must be >= %s", c.Interval, minAllowedInterval))
	}
	if c.FetchTimeout == 0 {
		c.FetchTimeout = defaultFetchTimeout
	}

	for i := range c.Remotes {
		r := &c.Remotes[i]
		if r.URI == "" {
			errs = append(errs, fmt.Errorf("remote at index %d has empty uri", i))
			continue
		}
		if !supportedScheme(r.URI) {
			errs = append(errs, fmt.Errorf("remote %q has unsupported uri scheme, only http, https and file are supported", r.URI))
			continue
		}
		if r.MountPoint == "" {
			r.MountPoint = c.MountPoint
		}
		r.MountPoint = strings.Trim(r.MountPoint, "/")
		if r.Root == "" {
			r.Root = c.Root
		}
		r.Root = strings.Trim(r.Root, "/")
	}

	errs = append(errs, detectDuplicateRemotes(c.Remotes)...)

	if len(errs) > 0 {
		return fmt.Errorf("%s", errs)
	}
	return nil
}

// detectDuplicateRemotes flags remotes whose URIs parse to the same
// underlying repository under giturl's host/path/repo equivalence, since
// each distinct URI string gets its own hash-keyed cache directory and a
// duplicate would mirror the same content twice under two cache entries.
// URIs giturl can't parse (e.g. one with no path segment before the repo
// name) are skipped rather than rejected, since gitfs accepts URI shapes
// giturl's regexes don't.
func detectDuplicateRemotes(remotes []RemoteConfig) []error {
	type parsed struct {
		idx int
		url *giturl.URL
	}
	var ok []parsed
	for i, r := range remotes {
		u, err := giturl.Parse(r.URI)
		if err != nil {
			continue
		}
		ok = append(ok, parsed{idx: i, url: u})
	}

	var errs []error
	for i := 0; i < len(ok); i++ {
		for j := i + 1; j < len(ok); j++ {
			if ok[i].url.Equals(ok[j].url) {
				errs = append(errs, fmt.Errorf(
					"remotes at index %d and %d both resolve to %s/%s, configure one remote per repository",
					ok[i].idx, ok[j].idx, ok[i].url.Path, ok[i].url.Repo))
			}
		}
	}
	return errs
}

// supportedScheme reports whether uri is one gitfs can mirror. giturl is
// consulted first so an scp-like (`user@host:path`) or ssh:// remote - a
// form giturl parses strictly and gitfs can't fetch without credentials -
// is rejected with a specific reason; anything giturl doesn't recognize
// falls back to the permissive prefix check, since giturl's regexes
// reject local and loosely-formed URIs gitfs otherwise tolerates.
func supportedScheme(uri string) bool {
	if u, err := giturl.Parse(uri); err == nil && u.RequiresAuthenticatedTransport() {
		return false
	}

	lower := strings.ToLower(uri)
	switch {
	case strings.HasPrefix(lower, "http://"),
		strings.HasPrefix(lower, "https://"),
		strings.HasPrefix(lower, "file://"):
		return true
	default:
		return false
	}
}

// compileGlobs compiles a list of glob patterns, dropping (and returning
// an error naming) any pattern that fails to compile rather than failing
// the whole configuration.
func compileGlobs(patterns []string) ([]glob.Glob, error) {
	var (
		compiled []glob.Glob
		errs     []error
	)
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid glob pattern %q: %w", p, err))
			continue
		}
		compiled = append(compiled, g)
	}
	if len(errs) > 0 {
		return compiled, fmt.Errorf("%s", errs)
	}
	return compiled, nil
}

// checkWhitelistBlacklist reports whether env is exposed given compiled
// whitelist/blacklist globs. An empty whitelist matches everything; a
// non-empty blacklist match always excludes, even if whitelisted.
func checkWhitelistBlacklist(env string, whitelist, blacklist []glob.Glob) bool {
	matched := len(whitelist) == 0
	for _, g := range whitelist {
		if g.Match(env) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	for _, g := range blacklist {
		if g.Match(env) {
			return false
		}
	}
	return true
}
