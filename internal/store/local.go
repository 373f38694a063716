package store

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Local serves file:// URIs from the local filesystem. It backs the
// filesystem runtime and tests; semantics match the S3 driver.
type Local struct {
	logger *zap.Logger
}

type LocalOption func(*Local)

func LocalWithLogger(logger *zap.Logger) LocalOption {
	return func(l *Local) {
		l.logger = logger
	}
}

func NewLocal(opts ...LocalOption) *Local {
	l := &Local{
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Local) path(uri string) (string, error) {
	scheme, _, key, err := ParseURI(uri)
	if err != nil {
		return "", err
	}
	if scheme != "file" {
		return "", fmt.Errorf("local store cannot serve %q", uri)
	}
	// Trim both ends so prefix URIs like file:///bkt/ resolve to /bkt and
	// the bare root file:/// stays /.
	return "/" + strings.Trim(key, "/"), nil
}

func (l *Local) Exists(ctx context.Context, uri string) (bool, error) {
	_, err := l.Head(ctx, uri)
	if IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (l *Local) Read(ctx context.Context, uri string) ([]byte, error) {
	p, err := l.path(uri)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil, &TransportError{Op: "read", URI: uri, Err: ErrNotExist}
	}
	if err != nil {
		return nil, &TransportError{Op: "read", URI: uri, Err: err}
	}
	return data, nil
}

func (l *Local) Write(ctx context.Context, uri string, data []byte) error {
	p, err := l.path(uri)
	if err != nil {
		return err
	}
	l.logger.Debug("local write", zap.String("uri", uri), zap.Int("bytes", len(data)))

	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return &TransportError{Op: "write", URI: uri, Err: err}
	}

	// Temp file plus rename keeps readers from observing partial writes,
	// matching the single-put atomicity of the object store.
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return &TransportError{Op: "write", URI: uri, Err: err}
	}
	if err := os.Rename(tmp, p); err != nil {
		os.Remove(tmp)
		return &TransportError{Op: "write", URI: uri, Err: err}
	}
	return nil
}

func (l *Local) Copy(ctx context.Context, src, dst string) error {
	data, err := l.Read(ctx, src)
	if err != nil {
		return err
	}
	return l.Write(ctx, dst, data)
}

func (l *Local) Delete(ctx context.Context, uri string) error {
	p, err := l.path(uri)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return &TransportError{Op: "delete", URI: uri, Err: err}
	}
	return nil
}

func (l *Local) List(ctx context.Context, prefix string) ([]string, error) {
	root, err := l.path(prefix)
	if err != nil {
		return nil, err
	}

	var uris []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if os.IsNotExist(err) {
			return filepath.SkipAll
		}
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		uris = append(uris, "file://"+path)
		return nil
	})
	if err != nil {
		return nil, &TransportError{Op: "list", URI: prefix, Err: err}
	}
	return uris, nil
}

func (l *Local) Head(ctx context.Context, uri string) (*ObjectInfo, error) {
	p, err := l.path(uri)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(p)
	if os.IsNotExist(err) {
		return nil, &TransportError{Op: "head", URI: uri, Err: ErrNotExist}
	}
	if err != nil {
		return nil, &TransportError{Op: "head", URI: uri, Err: err}
	}
	return &ObjectInfo{Size: fi.Size()}, nil
}
