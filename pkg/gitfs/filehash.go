package gitfs

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// HashResult is the {hash_type, hsum} pair returned by file_hash.
type HashResult struct {
	HashType string
	Hash     string
}

// FileHash computes, caching, the content hash of a previously resolved
// FindResult using the configured hash algorithm. If the hash sidecar
// already exists it is read directly; otherwise it is computed from the
// materialized file and written.
func (rp *RepoPool) FileHash(ctx context.Context, env string, fnd FindResult) (HashResult, error) {
	if fnd.Path == "" {
		return HashResult{}, nil
	}

	sidecarPath := filepath.Join(rp.hashDir(env), filepath.FromSlash(fnd.Rel)) + ".hash." + rp.cfg.HashType

	if data, err := os.ReadFile(sidecarPath); err == nil {
		return HashResult{HashType: rp.cfg.HashType, Hash: strings.TrimSpace(string(data))}, nil
	}

	sum, err := computeFileHash(rp.cfg.HashType, fnd.Path)
	if err != nil {
		return HashResult{}, err
	}

	if err := os.MkdirAll(filepath.Dir(sidecarPath), 0o755); err != nil {
		rp.log.Error("unable to create hash sidecar dir", "err", err)
		return HashResult{HashType: rp.cfg.HashType, Hash: sum}, nil
	}
	if err := os.WriteFile(sidecarPath, []byte(sum), 0o644); err != nil {
		rp.log.Error("unable to write hash sidecar", "path", sidecarPath, "err", err)
	}

	return HashResult{HashType: rp.cfg.HashType, Hash: sum}, nil
}

func computeFileHash(algo, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var h hash.Hash
	switch strings.ToLower(algo) {
	case "md5":
		h = md5.New()
	case "sha1":
		h = sha1.New()
	case "sha256":
		h = sha256.New()
	case "sha512":
		h = sha512.New()
	default:
		return "", fmt.Errorf("unsupported hash_type %q", algo)
	}

	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
