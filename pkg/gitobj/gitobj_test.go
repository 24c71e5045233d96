package gitobj

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

var testSig = &object.Signature{Name: "tester", Email: "tester@example.com", When: time.Unix(0, 0)}

// newTestRepo builds a small non-bare repo on disk with a master branch, a
// feature branch and an annotated tag, and returns it opened via Open so
// tests exercise the same code path production does.
func newTestRepo(t *testing.T) (*Repo, string) {
	t.Helper()

	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("PlainInit: %v", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("Worktree: %v", err)
	}

	writeFile(t, dir, "a.txt", "hello")
	writeFile(t, dir, "sub/b.txt", "world")
	if _, err := wt.Add("."); err != nil {
		t.Fatalf("Add: %v", err)
	}
	masterHash, err := wt.Commit("initial", &git.CommitOptions{Author: testSig})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName("master"), masterHash)); err != nil {
		t.Fatalf("set master ref: %v", err)
	}

	featureRef := plumbing.NewBranchReferenceName("feature")
	if err := wt.Checkout(&git.CheckoutOptions{Branch: featureRef, Create: true, Hash: masterHash}); err != nil {
		t.Fatalf("checkout feature: %v", err)
	}
	writeFile(t, dir, "c.txt", "feature-only")
	if _, err := wt.Add("."); err != nil {
		t.Fatalf("Add: %v", err)
	}
	featureHash, err := wt.Commit("feature commit", &git.CommitOptions{Author: testSig})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if _, err := repo.CreateTag("v1.0", masterHash, &git.CreateTagOptions{
		Tagger:  testSig,
		Message: "release v1.0",
	}); err != nil {
		t.Fatalf("CreateTag: %v", err)
	}

	r, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return r, featureHash.String()
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
}

func TestListRefs(t *testing.T) {
	repo, featureHash := newTestRepo(t)
	ctx := context.Background()

	refs, err := repo.ListRefs(ctx)
	if err != nil {
		t.Fatalf("ListRefs: %v", err)
	}

	var branches, tags int
	for _, r := range refs {
		switch r.Kind {
		case RefKindBranch:
			branches++
			if r.Name == "feature" && r.Hash != featureHash {
				t.Errorf("feature branch hash = %s, want %s", r.Hash, featureHash)
			}
		case RefKindTag:
			tags++
			if r.Name != "v1.0" {
				t.Errorf("unexpected tag name %q", r.Name)
			}
		}
	}
	if branches != 2 {
		t.Errorf("branches = %d, want 2", branches)
	}
	if tags != 1 {
		t.Errorf("tags = %d, want 1", tags)
	}
}

func TestResolveRef(t *testing.T) {
	repo, featureHash := newTestRepo(t)
	ctx := context.Background()

	t.Run("branch name", func(t *testing.T) {
		hash, err := repo.ResolveRef(ctx, "feature")
		if err != nil {
			t.Fatalf("ResolveRef: %v", err)
		}
		if hash != featureHash {
			t.Errorf("hash = %s, want %s", hash, featureHash)
		}
	})

	t.Run("tag name dereferences to commit", func(t *testing.T) {
		hash, err := repo.ResolveRef(ctx, "v1.0")
		if err != nil {
			t.Fatalf("ResolveRef: %v", err)
		}
		if len(hash) != 40 {
			t.Errorf("expected a full commit hash, got %q", hash)
		}
	})

	t.Run("full hash", func(t *testing.T) {
		hash, err := repo.ResolveRef(ctx, featureHash)
		if err != nil {
			t.Fatalf("ResolveRef: %v", err)
		}
		if hash != featureHash {
			t.Errorf("hash = %s, want %s", hash, featureHash)
		}
	})

	t.Run("abbreviated hash", func(t *testing.T) {
		hash, err := repo.ResolveRef(ctx, featureHash[:8])
		if err != nil {
			t.Fatalf("ResolveRef: %v", err)
		}
		if hash != featureHash {
			t.Errorf("hash = %s, want %s", hash, featureHash)
		}
	})

	t.Run("unknown name", func(t *testing.T) {
		_, err := repo.ResolveRef(ctx, "nonexistent")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestWalkTreeAndBlobAt(t *testing.T) {
	repo, featureHash := newTestRepo(t)
	ctx := context.Background()

	var files []string
	err := repo.WalkTree(ctx, featureHash, "", func(relPath string, isDir bool, hash string) error {
		if !isDir {
			files = append(files, relPath)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WalkTree: %v", err)
	}

	want := map[string]bool{"a.txt": true, "sub/b.txt": true, "c.txt": true}
	if len(files) != len(want) {
		t.Fatalf("files = %v, want keys of %v", files, want)
	}
	for _, f := range files {
		if !want[f] {
			t.Errorf("unexpected file %q", f)
		}
	}

	content, blobHash, err := repo.BlobAt(ctx, featureHash, "sub/b.txt")
	if err != nil {
		t.Fatalf("BlobAt: %v", err)
	}
	if string(content) != "world" {
		t.Errorf("content = %q, want %q", content, "world")
	}
	if blobHash == "" {
		t.Error("expected non-empty blob hash")
	}

	_, _, err = repo.BlobAt(ctx, featureHash, "does-not-exist.txt")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestWalkSubpath(t *testing.T) {
	repo, featureHash := newTestRepo(t)
	ctx := context.Background()

	entries, err := repo.WalkSubpath(ctx, featureHash, "")
	if err != nil {
		t.Fatalf("WalkSubpath: %v", err)
	}

	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	want := []string{"a.txt", "c.txt", "sub"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %s, want %s", i, names[i], want[i])
		}
	}
}
