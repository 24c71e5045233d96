package gitfs

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"os"
)

// ServeFileRequest is the {loc, saltenv, gzip} load passed to serve_file.
type ServeFileRequest struct {
	Loc     int64
	SaltEnv string
	Gzip    int
}

// ServeFileResult is the {data, dest, gzip} chunk returned by serve_file.
type ServeFileResult struct {
	Data []byte
	Dest string
	Gzip int
}

// ServeFile reads one buffer's worth of fnd's materialized file starting
// at load.Loc, optionally gzip-compressing it at the requested level.
// It returns a zero-value result, not an error, when fnd carries no path -
// the caller is expected to have called FindFile first and checked its
// result, the same shape find_file/serve_file are chained in spec.
func (rp *RepoPool) ServeFile(ctx context.Context, load ServeFileRequest, fnd FindResult) (ServeFileResult, error) {
	if fnd.Path == "" {
		return ServeFileResult{}, nil
	}

	f, err := os.Open(fnd.Path)
	if err != nil {
		return ServeFileResult{}, err
	}
	defer f.Close()

	if _, err := f.Seek(load.Loc, 0); err != nil {
		return ServeFileResult{}, err
	}

	bufSize := rp.cfg.FileBufferSize
	if bufSize <= 0 {
		bufSize = defaultFileBufferSize
	}

	buf := make([]byte, bufSize)
	n, err := f.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return ServeFileResult{}, err
	}
	data := buf[:n]

	result := ServeFileResult{Dest: fnd.Rel}
	if load.Gzip > 0 && len(data) > 0 {
		compressed, err := gzipCompress(data, load.Gzip)
		if err != nil {
			return ServeFileResult{}, err
		}
		result.Data = compressed
		result.Gzip = load.Gzip
	} else {
		result.Data = data
	}

	return result, nil
}

func gzipCompress(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
