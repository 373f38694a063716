package config

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/heliocloud-data/registry/internal/catalog"
	"github.com/heliocloud-data/registry/internal/cataloger"
	"github.com/heliocloud-data/registry/internal/ingest"
	"github.com/heliocloud-data/registry/internal/repository"
	"github.com/heliocloud-data/registry/internal/repository/memory"
	"github.com/heliocloud-data/registry/internal/repository/mongo"
	"github.com/heliocloud-data/registry/internal/secrets"
	"github.com/heliocloud-data/registry/internal/staging"
	"github.com/heliocloud-data/registry/internal/staging/cdaweb"
	"github.com/heliocloud-data/registry/internal/store"
)

// InitializeStore builds the scheme router shared by every component:
// local paths for development, S3 for deployed registries.
func InitializeStore(r *Registry, logger *zap.Logger) (store.Store, error) {
	s3, err := store.NewS3(
		store.S3WithRegion(r.S3.Region),
		store.S3WithEndpoint(r.S3.Endpoint),
		store.S3WithForcePathStyle(r.S3.ForcePathStyle),
		store.S3WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	return store.NewRouter().
		Register("file", store.NewLocal()).
		Register("s3", s3), nil
}

// InitializeRepository connects to the configured catalog database. A
// database secret takes precedence over a literal URI; with neither the
// registry falls back to an in-memory catalog.
func InitializeRepository(ctx context.Context, r *Registry, logger *zap.Logger) (repository.Repository, error) {
	uri := r.Database.URI
	if r.Database.Secret != "" {
		resolver, err := secrets.NewResolver()
		if err != nil {
			return nil, err
		}
		uri, err = resolver.ConnectionURI(ctx, r.Database.Secret)
		if err != nil {
			return nil, err
		}
	}

	if uri == "" {
		logger.Warn("no catalog database configured, using in-memory repository")
		return memory.New(), nil
	}

	if r.Database.TLSCAFile != "" {
		uri = appendURIParam(uri, "tlsCAFile", r.Database.TLSCAFile)
	}

	return mongo.New(ctx, uri,
		mongo.WithDatabase(r.Database.Name),
		mongo.WithCollection(r.Database.Collection),
		mongo.WithLogger(logger),
	)
}

func InitializeIngester(r *Registry, s store.Store, repo repository.Repository, logger *zap.Logger) (*ingest.Ingester, error) {
	return ingest.New(
		ingest.WithLogger(logger),
		ingest.WithStore(s),
		ingest.WithRepository(repo),
		ingest.WithIngestBucket(r.IngestBucket),
	)
}

func InitializeCataloger(r *Registry, s store.Store, repo repository.Repository, logger *zap.Logger) (*cataloger.Cataloger, error) {
	egress, err := catalog.ParseEgress(r.Catalog.Egress)
	if err != nil {
		return nil, err
	}
	return cataloger.New(
		cataloger.WithLogger(logger),
		cataloger.WithStore(s),
		cataloger.WithRepository(repo),
		cataloger.WithHeader(cataloger.Header{
			Name:        r.Catalog.Name,
			Contact:     r.Catalog.Contact,
			Region:      r.Catalog.Region,
			Description: r.Catalog.Description,
			Citation:    r.Catalog.Citation,
			Comment:     r.Catalog.Comment,
			Egress:      egress,
			Status:      r.Catalog.Status,
		}),
	)
}

// InitializeFetcher builds the staging fetcher over the CDAWeb source.
func InitializeFetcher(r *Registry, s store.Store, logger *zap.Logger) (*staging.Fetcher, error) {
	if r.Staging.Root == "" {
		return nil, fmt.Errorf("config: staging.root is required")
	}

	srcOpts := []cdaweb.Option{
		cdaweb.WithLogger(logger),
		cdaweb.WithDestinationRoot(r.Staging.Root),
	}
	if r.Staging.Allowlist != "" {
		allow, err := cdaweb.LoadAllowlist(r.Staging.Allowlist)
		if err != nil {
			return nil, err
		}
		if allow.BaseURL != "" {
			srcOpts = append(srcOpts, cdaweb.WithBaseURL(allow.BaseURL))
		}
		srcOpts = append(srcOpts, cdaweb.WithAllowlist(allow.Datasets))
	}

	fetchOpts := []staging.Option{
		staging.WithLogger(logger),
		staging.WithStore(s),
		staging.WithSource(cdaweb.New(srcOpts...)),
		staging.WithStagingRoot(r.Staging.Root),
		staging.WithWorkers(r.Staging.Workers),
		staging.WithRetries(r.Staging.Retries, r.Staging.Interval),
		staging.WithHTTPTimeout(r.Staging.Timeout),
		staging.WithForce(r.Staging.Force),
	}
	if r.Staging.FetchLocal != "" {
		fetchOpts = append(fetchOpts, staging.WithLocalMount(r.Staging.FetchLocal))
	}

	return staging.New(fetchOpts...)
}

func appendURIParam(uri, key, value string) string {
	sep := "?"
	if strings.Contains(uri, "?") {
		sep = "&"
	}
	return uri + sep + key + "=" + url.QueryEscape(value)
}
