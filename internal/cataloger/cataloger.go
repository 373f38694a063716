// Package cataloger regenerates the public catalog.json of every endpoint
// bucket from the catalog repository.
package cataloger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/heliocloud-data/registry/internal/catalog"
	"github.com/heliocloud-data/registry/internal/repository"
	"github.com/heliocloud-data/registry/internal/store"
)

const catalogFileName = "catalog.json"

// Update reports one rebuilt endpoint.
type Update struct {
	Endpoint    string `json:"endpoint"`
	NumDatasets int    `json:"num_datasets_updated"`
}

// Header carries the static catalog fields injected from configuration.
type Header struct {
	Name        string
	Contact     string
	Region      string
	Description string
	Citation    string
	Comment     string
	Egress      catalog.Egress
	Status      string
}

type Cataloger struct {
	logger *zap.Logger
	store  store.Store
	repo   repository.Repository
	now    func() time.Time
	header Header
}

type Option func(*Cataloger)

func WithLogger(logger *zap.Logger) Option {
	return func(c *Cataloger) {
		c.logger = logger
	}
}

func WithStore(s store.Store) Option {
	return func(c *Cataloger) {
		c.store = s
	}
}

func WithRepository(r repository.Repository) Option {
	return func(c *Cataloger) {
		c.repo = r
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Cataloger) {
		c.now = now
	}
}

func WithHeader(h Header) Option {
	return func(c *Cataloger) {
		c.header = h
	}
}

func New(opts ...Option) (*Cataloger, error) {
	c := &Cataloger{
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.store == nil {
		return nil, fmt.Errorf("cataloger requires a store")
	}
	if c.repo == nil {
		return nil, fmt.Errorf("cataloger requires a repository")
	}
	return c, nil
}

// Rebuild regenerates one catalog.json per endpoint bucket. Each write is a
// single object put, so readers observe either the prior catalog or the new
// one, never a blend.
func (c *Cataloger) Rebuild(ctx context.Context) ([]Update, error) {
	datasets, err := c.repo.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	status, err := catalog.StatusFromString(c.header.Status)
	if err != nil {
		return nil, err
	}
	egress := c.header.Egress
	if egress == "" {
		egress = catalog.EgressNone
	}

	groups := make(map[string][]*catalog.Dataset)
	for _, d := range datasets {
		ep := d.Endpoint()
		groups[ep] = append(groups[ep], d)
	}

	endpoints := make([]string, 0, len(groups))
	for ep := range groups {
		endpoints = append(endpoints, ep)
	}
	sort.Strings(endpoints)

	var updates []Update
	for _, ep := range endpoints {
		group := groups[ep]
		sort.Slice(group, func(i, j int) bool { return group[i].ID < group[j].ID })

		docs := make([]map[string]any, len(group))
		for i, d := range group {
			docs[i] = d.ToDoc()
		}

		doc := &catalog.Catalog{
			CloudMe:     catalog.CloudMeVersion,
			Endpoint:    ep,
			Name:        c.header.Name,
			Region:      c.header.Region,
			Contact:     c.header.Contact,
			Description: c.header.Description,
			Citation:    c.header.Citation,
			Comment:     c.header.Comment,
			Egress:      egress,
			Status:      status,
			Catalog:     docs,
		}

		uri := store.Join(ep, catalogFileName)
		if err := store.WriteJSON(ctx, c.store, uri, doc); err != nil {
			return updates, err
		}

		c.logger.Info("catalog rebuilt",
			zap.String("endpoint", ep),
			zap.Int("datasets", len(group)),
		)
		updates = append(updates, Update{Endpoint: ep, NumDatasets: len(group)})
	}
	return updates, nil
}

// WriteRegistry emits the CloudMe root registry listing the federation's
// endpoints at the given URI.
func (c *Cataloger) WriteRegistry(ctx context.Context, uri string, entries []catalog.RegistryEntry) error {
	reg := catalog.NewRegistry(entries, c.now())
	if err := store.WriteJSON(ctx, c.store, uri, reg); err != nil {
		return err
	}
	c.logger.Info("root registry written",
		zap.String("uri", uri),
		zap.Int("endpoints", len(entries)),
	)
	return nil
}
