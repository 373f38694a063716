package store

import (
	"context"
	"fmt"
)

// Router dispatches façade calls to the driver registered for each URI
// scheme. Cross-scheme copies fall back to a read-then-write.
type Router struct {
	drivers map[string]Store
}

func NewRouter() *Router {
	return &Router{drivers: make(map[string]Store)}
}

// Register binds a driver to a scheme ("s3", "file").
func (r *Router) Register(scheme string, s Store) *Router {
	r.drivers[scheme] = s
	return r
}

func (r *Router) driver(uri string) (Store, error) {
	scheme, _, _, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	d, ok := r.drivers[scheme]
	if !ok {
		return nil, fmt.Errorf("no store driver for scheme %q", scheme)
	}
	return d, nil
}

func (r *Router) Exists(ctx context.Context, uri string) (bool, error) {
	d, err := r.driver(uri)
	if err != nil {
		return false, err
	}
	return d.Exists(ctx, uri)
}

func (r *Router) Read(ctx context.Context, uri string) ([]byte, error) {
	d, err := r.driver(uri)
	if err != nil {
		return nil, err
	}
	return d.Read(ctx, uri)
}

func (r *Router) Write(ctx context.Context, uri string, data []byte) error {
	d, err := r.driver(uri)
	if err != nil {
		return err
	}
	return d.Write(ctx, uri, data)
}

func (r *Router) Copy(ctx context.Context, src, dst string) error {
	sd, err := r.driver(src)
	if err != nil {
		return err
	}
	dd, err := r.driver(dst)
	if err != nil {
		return err
	}
	if sd == dd {
		return sd.Copy(ctx, src, dst)
	}
	data, err := sd.Read(ctx, src)
	if err != nil {
		return err
	}
	return dd.Write(ctx, dst, data)
}

func (r *Router) Delete(ctx context.Context, uri string) error {
	d, err := r.driver(uri)
	if err != nil {
		return err
	}
	return d.Delete(ctx, uri)
}

func (r *Router) List(ctx context.Context, prefix string) ([]string, error) {
	d, err := r.driver(prefix)
	if err != nil {
		return nil, err
	}
	return d.List(ctx, prefix)
}

func (r *Router) Head(ctx context.Context, uri string) (*ObjectInfo, error) {
	d, err := r.driver(uri)
	if err != nil {
		return nil, err
	}
	return d.Head(ctx, uri)
}
