// Package memory holds the catalog in process memory. It backs the local
// filesystem runtime and tests; the mongo package is the hosted equivalent.
package memory

import (
	"context"
	"sync"

	"github.com/heliocloud-data/registry/internal/catalog"
	"github.com/heliocloud-data/registry/internal/repository"
)

type Repository struct {
	mu       sync.RWMutex
	datasets map[string]*catalog.Dataset
}

func New() *Repository {
	return &Repository{
		datasets: make(map[string]*catalog.Dataset),
	}
}

func (r *Repository) Save(ctx context.Context, datasets []*catalog.Dataset) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range datasets {
		cp := *d
		r.datasets[d.ID] = &cp
	}
	return len(datasets), nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (*catalog.Dataset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.datasets[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (r *Repository) GetAll(ctx context.Context) ([]*catalog.Dataset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*catalog.Dataset, 0, len(r.datasets))
	for _, d := range r.datasets {
		cp := *d
		out = append(out, &cp)
	}
	return out, nil
}

func (r *Repository) DeleteByID(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.datasets, id)
	return nil
}

func (r *Repository) DeleteAll(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.datasets)
	r.datasets = make(map[string]*catalog.Dataset)
	return n, nil
}

func (r *Repository) Close(ctx context.Context) error {
	return nil
}
