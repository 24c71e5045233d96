// Package gitobj isolates every object-level git read (refs, trees,
// blobs) behind a single capability set with exactly one concrete
// implementation, backed by go-git. Fetch, init and ref deletion are
// deliberately kept out of this package - those stay CLI-driven in
// pkg/gitfs, the same way the rest of the git-mirror lineage drives them.
package gitobj

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// ErrNotFound is returned when a ref or path does not resolve to anything.
var ErrNotFound = errors.New("gitobj: not found")

// ErrAmbiguous is returned when an abbreviated hash matches more than one
// object. Callers must log this distinctly from ErrNotFound: an
// ambiguous hash is a caller mistake or a collision, not an absent ref.
var ErrAmbiguous = errors.New("gitobj: ambiguous abbreviated hash")

// RefKind distinguishes branches from tags when both are reported by
// ListRefs, since environment resolution breaks name collisions in favour
// of branches.
type RefKind int

const (
	RefKindBranch RefKind = iota
	RefKindTag
)

func (k RefKind) String() string {
	if k == RefKindTag {
		return "tag"
	}
	return "branch"
}

// Ref is one resolved branch or tag. Hash is always a commit hash -
// annotated tags are dereferenced to the commit they point at.
type Ref struct {
	Name string
	Kind RefKind
	Hash string
}

// Entry is one child of a tree: either a blob or a subtree.
type Entry struct {
	Name  string
	IsDir bool
	Hash  string
}

// Repo is the go-git-backed implementation of the capability set. It
// wraps a single bare mirror directory; callers open one Repo per
// mirrored remote and keep it for the lifetime of the process, reopening
// only after a fetch changes the refs on disk.
type Repo struct {
	path string
	repo *git.Repository
}

// Open opens the bare git directory at path for object-level reads.
func Open(path string) (*Repo, error) {
	r, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: false})
	if err != nil {
		return nil, fmt.Errorf("gitobj: open %s: %w", path, err)
	}
	return &Repo{path: path, repo: r}, nil
}

// Reopen discards the cached repository handle and reopens it, picking
// up refs written by a fetch that happened since Open/Reopen last ran.
func (r *Repo) Reopen() error {
	nr, err := git.PlainOpenWithOptions(r.path, &git.PlainOpenOptions{DetectDotGit: false})
	if err != nil {
		return fmt.Errorf("gitobj: reopen %s: %w", r.path, err)
	}
	r.repo = nr
	return nil
}

// ListRefs returns every branch and tag, with annotated tags dereferenced
// to the commit they point at, sorted by Name.
func (r *Repo) ListRefs(ctx context.Context) ([]Ref, error) {
	iter, err := r.repo.References()
	if err != nil {
		return nil, fmt.Errorf("gitobj: list refs: %w", err)
	}
	defer iter.Close()

	var refs []Ref
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		name := ref.Name()
		switch {
		case name.IsBranch():
			refs = append(refs, Ref{
				Name: name.Short(),
				Kind: RefKindBranch,
				Hash: ref.Hash().String(),
			})
		case name.IsTag():
			hash, err := r.dereferenceTag(ref.Hash())
			if err != nil {
				return nil // skip tags we can't resolve rather than fail the whole listing
			}
			refs = append(refs, Ref{
				Name: name.Short(),
				Kind: RefKindTag,
				Hash: hash,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })
	return refs, nil
}

// dereferenceTag resolves a tag's target hash down to the commit it
// points at. Lightweight tags already point straight at the commit.
func (r *Repo) dereferenceTag(hash plumbing.Hash) (string, error) {
	tagObj, err := r.repo.TagObject(hash)
	if err != nil {
		// not an annotated tag object, assume it's a lightweight tag
		return hash.String(), nil
	}
	commit, err := tagObj.Commit()
	if err != nil {
		return "", fmt.Errorf("gitobj: peel tag %s: %w", tagObj.Name, err)
	}
	return commit.Hash.String(), nil
}

// ResolveRef resolves a branch name, tag name, full commit hash or
// abbreviated hash prefix to a full commit hash. Zero matches and
// multiple matches both surface as "absent" to callers (ErrNotFound /
// ErrAmbiguous) - the distinction only matters for logging.
func (r *Repo) ResolveRef(ctx context.Context, name string) (string, error) {
	if ref, err := r.repo.Reference(plumbing.NewBranchReferenceName(name), true); err == nil {
		return ref.Hash().String(), nil
	}
	if ref, err := r.repo.Reference(plumbing.NewTagReferenceName(name), true); err == nil {
		return r.dereferenceTag(ref.Hash())
	}

	if isFullHash(name) {
		if _, err := r.repo.CommitObject(plumbing.NewHash(name)); err == nil {
			return strings.ToLower(name), nil
		}
		return "", ErrNotFound
	}

	if isAbbreviatedHash(name) {
		return r.resolveAbbreviated(ctx, name)
	}

	return "", ErrNotFound
}

// resolveAbbreviated performs the O(n) scan the original implementation
// falls back to when the backing library offers no native abbreviation
// lookup. Acceptable for mirror-sized repositories; documented as a
// known cost rather than optimised further.
func (r *Repo) resolveAbbreviated(ctx context.Context, prefix string) (string, error) {
	prefix = strings.ToLower(prefix)

	iter, err := r.repo.CommitObjects()
	if err != nil {
		return "", fmt.Errorf("gitobj: scan commits: %w", err)
	}
	defer iter.Close()

	var match string
	var matches int
	err = iter.ForEach(func(c *object.Commit) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		h := c.Hash.String()
		if strings.HasPrefix(h, prefix) {
			matches++
			match = h
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	switch matches {
	case 0:
		return "", ErrNotFound
	case 1:
		return match, nil
	default:
		return "", ErrAmbiguous
	}
}

// TreeAt returns the root tree hash of the given commit.
func (r *Repo) TreeAt(ctx context.Context, commitHash string) (string, error) {
	commit, err := r.repo.CommitObject(plumbing.NewHash(commitHash))
	if err != nil {
		return "", fmt.Errorf("%w: commit %s", ErrNotFound, commitHash)
	}
	tree, err := commit.Tree()
	if err != nil {
		return "", fmt.Errorf("gitobj: tree for commit %s: %w", commitHash, err)
	}
	return tree.Hash.String(), nil
}

// WalkSubpath returns the immediate children of the tree found by
// resolving subpath inside the commit's tree. An empty subpath lists the
// repository root.
func (r *Repo) WalkSubpath(ctx context.Context, commitHash, subpath string) ([]Entry, error) {
	tree, err := r.subtree(commitHash, subpath)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(tree.Entries))
	for _, e := range tree.Entries {
		entries = append(entries, Entry{
			Name:  e.Name,
			IsDir: e.Mode.IsFile() == false,
			Hash:  e.Hash.String(),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// WalkRecursive visits every blob reachable from subpath, calling fn with
// the path relative to subpath and the blob hash. Subtrees are skipped.
func (r *Repo) WalkRecursive(ctx context.Context, commitHash, subpath string, fn func(relPath, hash string) error) error {
	return r.WalkTree(ctx, commitHash, subpath, func(relPath string, isDir bool, hash string) error {
		if isDir {
			return nil
		}
		return fn(relPath, hash)
	})
}

// WalkTree visits every blob and subtree reachable from subpath, calling
// fn with the path relative to subpath, whether the entry is a directory,
// and the entry's hash. Used by FileList and DirList.
func (r *Repo) WalkTree(ctx context.Context, commitHash, subpath string, fn func(relPath string, isDir bool, hash string) error) error {
	tree, err := r.subtree(commitHash, subpath)
	if err != nil {
		return err
	}

	walker := object.NewTreeWalker(tree, true, nil)
	defer walker.Close()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		name, entry, err := walker.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("gitobj: walk %s: %w", subpath, err)
		}
		if err := fn(name, !entry.Mode.IsFile(), entry.Hash.String()); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repo) subtree(commitHash, subpath string) (*object.Tree, error) {
	commit, err := r.repo.CommitObject(plumbing.NewHash(commitHash))
	if err != nil {
		return nil, fmt.Errorf("%w: commit %s", ErrNotFound, commitHash)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("gitobj: tree for commit %s: %w", commitHash, err)
	}
	subpath = strings.Trim(subpath, "/")
	if subpath == "" {
		return tree, nil
	}
	sub, err := tree.Tree(subpath)
	if err != nil {
		return nil, fmt.Errorf("%w: path %s", ErrNotFound, subpath)
	}
	return sub, nil
}

// BlobAt returns the contents of the blob at path inside the commit's
// tree, and the blob's hash.
func (r *Repo) BlobAt(ctx context.Context, commitHash, path string) (content []byte, blobHash string, err error) {
	commit, err := r.repo.CommitObject(plumbing.NewHash(commitHash))
	if err != nil {
		return nil, "", fmt.Errorf("%w: commit %s", ErrNotFound, commitHash)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, "", fmt.Errorf("gitobj: tree for commit %s: %w", commitHash, err)
	}
	file, err := tree.File(strings.Trim(path, "/"))
	if err != nil {
		return nil, "", fmt.Errorf("%w: path %s", ErrNotFound, path)
	}
	rc, err := file.Reader()
	if err != nil {
		return nil, "", fmt.Errorf("gitobj: open blob %s: %w", path, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, "", fmt.Errorf("gitobj: read blob %s: %w", path, err)
	}
	return data, file.Hash.String(), nil
}

func isFullHash(s string) bool {
	return (len(s) == 40 || len(s) == 64) && isHex(s)
}

func isAbbreviatedHash(s string) bool {
	return len(s) >= 4 && len(s) < 40 && isHex(s)
}

func isHex(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
