package repository

import (
	"context"
	"fmt"

	"github.com/heliocloud-data/registry/internal/catalog"
)

// Repository is the persistent set of datasets keyed by dataset id. The
// backing store serializes concurrent upserts to the same id; no
// referential constraints are enforced against the object store.
type Repository interface {
	// Save upserts the batch and returns the count written (new + matched).
	Save(ctx context.Context, datasets []*catalog.Dataset) (int, error)
	GetByID(ctx context.Context, id string) (*catalog.Dataset, error)
	GetAll(ctx context.Context) ([]*catalog.Dataset, error)
	// DeleteByID is idempotent.
	DeleteByID(ctx context.Context, id string) error
	// DeleteAll returns the deleted count.
	DeleteAll(ctx context.Context) (int, error)
	Close(ctx context.Context) error
}

// ErrNotFound reports a point lookup that matched no dataset.
var ErrNotFound = fmt.Errorf("dataset not found")

// RegistryError reports an unavailable repository or a rejected write.
type RegistryError struct {
	Op  string
	Err error
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("registry: %s: %v", e.Op, e.Err)
}

func (e *RegistryError) Unwrap() error { return e.Err }
