package gitfs

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

// buildTestRemote creates a non-bare "remote" repository on disk with a
// main branch, a feature branch (so a branch/tag rename collision can be
// exercised) and a tag sharing a sanitized name with the feature branch,
// and returns its file:// URI. Requires a real git binary on PATH, the
// same way the git-mirror lineage's own end-to-end tests do.
func buildTestRemote(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}

	dir := t.TempDir()
	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=tester", "GIT_AUTHOR_EMAIL=tester@example.com",
			"GIT_COMMITTER_NAME=tester", "GIT_COMMITTER_EMAIL=tester@example.com",
		)
		var out bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = &out
		if err := cmd.Run(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out.String())
		}
	}
	writeFile := func(rel, content string) {
		full := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	run("init", "-b", "main")
	writeFile("hello.sls", "hello-on-main")
	writeFile("srv/salt/mounted.sls", "mounted-content")
	run("add", ".")
	run("commit", "-m", "initial")

	run("checkout", "-b", "feature/x")
	writeFile("feature.txt", "feature-content")
	run("add", ".")
	run("commit", "-m", "feature commit")

	run("checkout", "main")
	run("tag", "-a", "feature_x", "-m", "tag sharing sanitized name with feature/x")

	return "file://" + dir
}

func newTestConfig(t *testing.T, remoteURI string) Config {
	t.Helper()
	return Config{
		CacheDir: t.TempDir(),
		Base:     "main",
		Remotes: []RemoteConfig{
			{URI: remoteURI},
		},
	}
}

func newTestPool(t *testing.T, cfg Config) *RepoPool {
	t.Helper()
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	pool, err := New(context.Background(), cfg, log, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := pool.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return pool
}

func TestRepoPool_EndToEnd(t *testing.T) {
	remoteURI := buildTestRemote(t)
	pool := newTestPool(t, newTestConfig(t, remoteURI))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := pool.Update(ctx); err != nil {
		t.Fatalf("Update: %v", err)
	}

	t.Run("base alias", func(t *testing.T) {
		envs, err := pool.Envs(ctx, true)
		if err != nil {
			t.Fatalf("Envs: %v", err)
		}
		hasBase, hasMain := false, false
		for _, e := range envs {
			if e == "base" {
				hasBase = true
			}
			if e == "main" {
				hasMain = true
			}
		}
		if !hasBase {
			t.Errorf("envs %v missing base alias", envs)
		}
		if hasMain {
			t.Errorf("envs %v should not expose the aliased branch name itself", envs)
		}
	})

	t.Run("branch before tag on sanitized collision", func(t *testing.T) {
		envs, err := pool.Envs(ctx, true)
		if err != nil {
			t.Fatalf("Envs: %v", err)
		}
		var seen int
		for _, e := range envs {
			if e == "feature_x" {
				seen++
			}
		}
		if seen != 1 {
			t.Fatalf("feature_x should appear exactly once, appeared %d times in %v", seen, envs)
		}

		result, err := pool.FindFile(ctx, "feature.txt", "feature_x")
		if err != nil {
			t.Fatalf("FindFile: %v", err)
		}
		if result.Path == "" {
			t.Fatal("expected feature.txt to resolve from the branch tip, not the tag")
		}
		content, err := os.ReadFile(result.Path)
		if err != nil {
			t.Fatalf("reading materialized file: %v", err)
		}
		if string(content) != "feature-content" {
			t.Errorf("content = %q, want the branch tip's content", content)
		}
	})

	t.Run("find_file via base alias and idempotence", func(t *testing.T) {
		result, err := pool.FindFile(ctx, "hello.sls", "base")
		if err != nil {
			t.Fatalf("FindFile: %v", err)
		}
		if result.Path == "" {
			t.Fatal("expected hello.sls to resolve via the base alias")
		}
		info1, err := os.Stat(result.Path)
		if err != nil {
			t.Fatalf("stat: %v", err)
		}

		result2, err := pool.FindFile(ctx, "hello.sls", "base")
		if err != nil {
			t.Fatalf("second FindFile: %v", err)
		}
		if result2.Path != result.Path || result2.Rel != result.Rel {
			t.Errorf("second call returned a different result: %+v vs %+v", result2, result)
		}
		info2, err := os.Stat(result.Path)
		if err != nil {
			t.Fatalf("stat: %v", err)
		}
		if info1.ModTime() != info2.ModTime() {
			t.Error("second find_file call rewrote an unchanged blob")
		}
	})

	t.Run("absolute path never resolves", func(t *testing.T) {
		result, err := pool.FindFile(ctx, "/etc/passwd", "base")
		if err != nil {
			t.Fatalf("FindFile: %v", err)
		}
		if result.Path != "" || result.Rel != "" {
			t.Errorf("expected empty result for absolute path, got %+v", result)
		}
	})

	t.Run("file_hash matches materialized content", func(t *testing.T) {
		result, err := pool.FindFile(ctx, "hello.sls", "base")
		if err != nil {
			t.Fatalf("FindFile: %v", err)
		}
		hash, err := pool.FileHash(ctx, "base", result)
		if err != nil {
			t.Fatalf("FileHash: %v", err)
		}
		if hash.Hash == "" {
			t.Error("expected a non-empty hash")
		}
		if hash.HashType != defaultHashType {
			t.Errorf("HashType = %q, want %q", hash.HashType, defaultHashType)
		}
	})

	t.Run("serve_file streams and mountpoint/original path sidecars stay coherent", func(t *testing.T) {
		// the mountpoint is stripped from the request path and the root
		// prepended, so srv/salt/mounted.sls maps back to the fixture's
		// srv/salt/mounted.sls in the repository
		mpCfg := newTestConfig(t, remoteURI)
		mpCfg.Remotes[0].MountPoint = "srv/salt"
		mpCfg.Remotes[0].Root = "srv/salt"
		mp := newTestPool(t, mpCfg)
		if err := mp.Update(ctx); err != nil {
			t.Fatalf("Update: %v", err)
		}

		result, err := mp.FindFile(ctx, "srv/salt/mounted.sls", "base")
		if err != nil {
			t.Fatalf("FindFile: %v", err)
		}
		if result.Rel != "srv/salt/mounted.sls" {
			t.Fatalf("Rel = %q, want the original request path", result.Rel)
		}

		chunk, err := mp.ServeFile(ctx, ServeFileRequest{SaltEnv: "base"}, result)
		if err != nil {
			t.Fatalf("ServeFile: %v", err)
		}
		if string(chunk.Data) != "mounted-content" {
			t.Errorf("data = %q, want %q", chunk.Data, "mounted-content")
		}
		if chunk.Dest != "srv/salt/mounted.sls" {
			t.Errorf("dest = %q, want the original request path", chunk.Dest)
		}

		partial, err := mp.ServeFile(ctx, ServeFileRequest{SaltEnv: "base", Loc: 8}, result)
		if err != nil {
			t.Fatalf("ServeFile with loc: %v", err)
		}
		if string(partial.Data) != "content" {
			t.Errorf("data at loc 8 = %q, want %q", partial.Data, "content")
		}

		// file_hash must key its sidecar by the same original path
		// find_file used for the materialized file and blob marker -
		// a mismatch here would mean the two sidecars silently diverge
		// whenever a mountpoint is configured.
		hash, err := mp.FileHash(ctx, "base", result)
		if err != nil {
			t.Fatalf("FileHash: %v", err)
		}
		if hash.Hash == "" {
			t.Error("expected a non-empty content hash")
		}
		sidecarPath := filepath.Join(mp.hashDir("base"), "srv", "salt", "mounted.sls.hash."+defaultHashType)
		if _, err := os.Stat(sidecarPath); err != nil {
			t.Errorf("expected content-hash sidecar at %s (same dir as the blob marker): %v", sidecarPath, err)
		}
	})

	t.Run("file_list and dir_list", func(t *testing.T) {
		files, err := pool.FileList(ctx, "base")
		if err != nil {
			t.Fatalf("FileList: %v", err)
		}
		want := map[string]bool{"hello.sls": true, "srv/salt/mounted.sls": true}
		if len(files) != len(want) {
			t.Fatalf("files = %v, want keys of %v", files, want)
		}
		for _, f := range files {
			if !want[f] {
				t.Errorf("unexpected file %q", f)
			}
		}

		dirs, err := pool.DirList(ctx, "base")
		if err != nil {
			t.Fatalf("DirList: %v", err)
		}
		foundSrv := false
		for _, d := range dirs {
			if d == "srv" {
				foundSrv = true
			}
		}
		if !foundSrv {
			t.Errorf("dirs = %v, expected to contain srv", dirs)
		}

		empty, err := pool.FileListEmptyDirs(ctx, "base")
		if err != nil {
			t.Fatalf("FileListEmptyDirs: %v", err)
		}
		if len(empty) != 0 {
			t.Errorf("FileListEmptyDirs = %v, want empty", empty)
		}
	})

	t.Run("mountpoint", func(t *testing.T) {
		cfg := newTestConfig(t, remoteURI)
		cfg.Remotes[0].MountPoint = "srv/salt"
		cfg.Remotes[0].Root = "srv/salt"
		mp := newTestPool(t, cfg)
		if err := mp.Update(ctx); err != nil {
			t.Fatalf("Update: %v", err)
		}

		result, err := mp.FindFile(ctx, "srv/salt/mounted.sls", "base")
		if err != nil {
			t.Fatalf("FindFile: %v", err)
		}
		if result.Path == "" {
			t.Fatal("expected srv/salt/mounted.sls to resolve through the mountpoint")
		}

		miss, err := mp.FindFile(ctx, "mounted.sls", "base")
		if err != nil {
			t.Fatalf("FindFile: %v", err)
		}
		if miss.Path != "" {
			t.Errorf("expected no match without the mountpoint prefix, got %+v", miss)
		}
	})
}

func TestRepoPool_PurgeRemovesDroppedRemote(t *testing.T) {
	remoteURI := buildTestRemote(t)
	cfg := newTestConfig(t, remoteURI)
	pool := newTestPool(t, cfg)

	ctx := context.Background()
	if err := pool.Update(ctx); err != nil {
		t.Fatalf("Update: %v", err)
	}

	oldCacheDir := pool.Remotes()[0].CacheDir
	if _, err := os.Stat(oldCacheDir); err != nil {
		t.Fatalf("expected cache dir to exist: %v", err)
	}

	cfg.Remotes = nil
	empty := newTestPool(t, cfg) // same CacheDir as pool, now configured with zero remotes
	if err := empty.Update(ctx); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if _, err := os.Stat(oldCacheDir); !os.IsNotExist(err) {
		t.Errorf("expected dropped remote's cache dir to be purged, stat err = %v", err)
	}
	for _, reserved := range []string{reservedHashDir, reservedRefsDir, reservedEnvCache, reservedRemoteMap} {
		if _, err := os.Stat(filepath.Join(empty.gitfsRoot(), reserved)); err != nil && !os.IsNotExist(err) {
			t.Errorf("unexpected error statting reserved name %q: %v", reserved, err)
		}
	}
}

func TestGitObjectUnreadable(t *testing.T) {
	remoteURI := buildTestRemote(t)
	pool := newTestPool(t, newTestConfig(t, remoteURI))
	ctx := context.Background()
	if err := pool.Update(ctx); err != nil {
		t.Fatalf("Update: %v", err)
	}

	cacheDir := pool.Remotes()[0].CacheDir
	if gitObjectUnreadable(ctx, cacheDir) {
		t.Fatal("a freshly mirrored repo should be readable")
	}

	// corrupt the repo by replacing its refs directory with a regular
	// file: any attempt to read it as a directory fails deterministically,
	// standing in for a truncated object store or missing HEAD.
	refsPath := filepath.Join(cacheDir, "refs")
	if err := os.RemoveAll(refsPath); err != nil {
		t.Fatalf("removing refs dir: %v", err)
	}
	if err := os.WriteFile(refsPath, []byte("corrupt"), 0o644); err != nil {
		t.Fatalf("writing corrupt refs file: %v", err)
	}

	if !gitObjectUnreadable(ctx, cacheDir) {
		t.Error("expected a corrupted repo to be reported unreadable")
	}
}

func TestRepoPool_CorruptionRecovery(t *testing.T) {
	remoteURI := buildTestRemote(t)
	pool := newTestPool(t, newTestConfig(t, remoteURI))
	ctx := context.Background()
	if err := pool.Update(ctx); err != nil {
		t.Fatalf("initial Update: %v", err)
	}

	rs := pool.remotes[0]
	cacheDir := rs.CacheDir

	refsPath := filepath.Join(cacheDir, "refs")
	if err := os.RemoveAll(refsPath); err != nil {
		t.Fatalf("removing refs dir: %v", err)
	}
	if err := os.WriteFile(refsPath, []byte("corrupt"), 0o644); err != nil {
		t.Fatalf("writing corrupt refs file: %v", err)
	}

	// this cycle's fetch fails against the corrupted local repo;
	// gitObjectUnreadable catches it and removes the whole cache dir.
	if err := pool.Update(ctx); err != nil {
		t.Fatalf("corruption-detecting Update: %v", err)
	}
	if _, err := os.Stat(cacheDir); !os.IsNotExist(err) {
		t.Fatalf("expected the corrupted cache dir to be removed, stat err = %v", err)
	}
	if rs.obj != nil {
		t.Fatal("expected rs.obj to be cleared after removing a corrupted repo")
	}

	// the next cycle reattaches: attachRemote re-inits the now-missing
	// cache dir from scratch and the subsequent fetch repopulates it.
	if err := pool.Update(ctx); err != nil {
		t.Fatalf("recovery Update: %v", err)
	}
	info, err := os.Stat(refsPath)
	if err != nil {
		t.Fatalf("expected the corrupted repo to be recreated: %v", err)
	}
	if !info.IsDir() {
		t.Error("expected refs to be a directory again after recovery, not the corrupt file")
	}

	result, err := pool.FindFile(ctx, "hello.sls", "base")
	if err != nil {
		t.Fatalf("FindFile after recovery: %v", err)
	}
	if result.Path == "" {
		t.Fatal("expected the repo to be usable again after recovering from corruption")
	}
}
