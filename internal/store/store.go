package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"
)

// ObjectInfo is the metadata returned by Head.
type ObjectInfo struct {
	Size int64
}

// Store is the uniform contract over object storage and the local
// filesystem. URIs are absolute ("s3://bucket/key" or "file:///path");
// the scheme discrimination belongs to this package alone.
type Store interface {
	Exists(ctx context.Context, uri string) (bool, error)
	Read(ctx context.Context, uri string) ([]byte, error)
	Write(ctx context.Context, uri string, data []byte) error
	Copy(ctx context.Context, src, dst string) error
	Delete(ctx context.Context, uri string) error
	List(ctx context.Context, prefix string) ([]string, error)
	Head(ctx context.Context, uri string) (*ObjectInfo, error)
}

// ErrNotExist reports a URI with no object behind it.
var ErrNotExist = fs.ErrNotExist

// TransportError wraps an object-store or filesystem I/O failure.
type TransportError struct {
	Op  string
	URI string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s %s: %v", e.Op, e.URI, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ParseURI splits a URI into scheme, bucket and key. For file URIs the
// bucket is empty and the key is the absolute path.
func ParseURI(uri string) (scheme, bucket, key string, err error) {
	switch {
	case strings.HasPrefix(uri, "s3://"):
		rest := strings.TrimPrefix(uri, "s3://")
		i := strings.Index(rest, "/")
		if i <= 0 {
			return "", "", "", fmt.Errorf("uri %q has no bucket/key separator", uri)
		}
		return "s3", rest[:i], rest[i+1:], nil
	case strings.HasPrefix(uri, "file://"):
		return "file", "", strings.TrimPrefix(uri, "file://"), nil
	case strings.HasPrefix(uri, "https://"):
		rest := strings.TrimPrefix(uri, "https://")
		i := strings.Index(rest, "/")
		if i <= 0 {
			return "", "", "", fmt.Errorf("uri %q has no host/path separator", uri)
		}
		return "https", rest[:i], rest[i+1:], nil
	}
	return "", "", "", fmt.Errorf("uri %q has an unsupported scheme", uri)
}

// Scheme returns the URI scheme, or "" when unrecognized.
func Scheme(uri string) string {
	s, _, _, err := ParseURI(uri)
	if err != nil {
		return ""
	}
	return s
}

// Join appends path elements to a URI prefix.
func Join(prefix string, elems ...string) string {
	out := strings.TrimSuffix(prefix, "/")
	for _, e := range elems {
		out += "/" + strings.Trim(e, "/")
	}
	return out
}

// ReadJSON reads and decodes a JSON object.
func ReadJSON(ctx context.Context, s Store, uri string, v any) error {
	data, err := s.Read(ctx, uri)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", uri, err)
	}
	return nil
}

// WriteJSON encodes v and writes it as a single object put.
func WriteJSON(ctx context.Context, s Store, uri string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", uri, err)
	}
	return s.Write(ctx, uri, data)
}

// IsNotExist reports whether err traces to a missing object.
func IsNotExist(err error) bool {
	return errors.Is(err, ErrNotExist)
}
