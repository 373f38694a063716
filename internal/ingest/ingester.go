package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/heliocloud-data/registry/internal/catalog"
	"github.com/heliocloud-data/registry/internal/repository"
	"github.com/heliocloud-data/registry/internal/store"
)

const (
	entryFileName    = "entry.json"
	manifestFileName = "manifest.csv"
)

// Update summarizes the ingest outcome for one dataset.
type Update struct {
	Dataset          string `json:"dataset"`
	NumFilesUpdated  int    `json:"num_files_updated"`
	FilesContributed int    `json:"files_contributed"`
	Error            string `json:"error,omitempty"`
}

// Result is the outcome of one ingest run.
type Result struct {
	RunID              string   `json:"run_id"`
	NumDatasetsUpdated int      `json:"num_datasets_updated"`
	Updates            []Update `json:"updates"`
}

// Ingester validates and publishes one ingest job atomically: payload
// installs happen-before index writes happen-before catalog updates
// happen-before cleanup.
type Ingester struct {
	logger       *zap.Logger
	store        store.Store
	repo         repository.Repository
	now          func() time.Time
	workers      int
	saveRetries  uint64
	ingestBucket string
}

type Option func(*Ingester)

func WithLogger(logger *zap.Logger) Option {
	return func(i *Ingester) {
		i.logger = logger
	}
}

func WithStore(s store.Store) Option {
	return func(i *Ingester) {
		i.store = s
	}
}

func WithRepository(r repository.Repository) Option {
	return func(i *Ingester) {
		i.repo = r
	}
}

func WithClock(now func() time.Time) Option {
	return func(i *Ingester) {
		i.now = now
	}
}

func WithWorkers(n int) Option {
	return func(i *Ingester) {
		i.workers = n
	}
}

func WithIngestBucket(uri string) Option {
	return func(i *Ingester) {
		i.ingestBucket = uri
	}
}

func New(opts ...Option) (*Ingester, error) {
	i := &Ingester{
		logger:      zap.NewNop(),
		now:         time.Now,
		workers:     8,
		saveRetries: 3,
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.store == nil {
		return nil, fmt.Errorf("ingester requires a store")
	}
	if i.repo == nil {
		return nil, fmt.Errorf("ingester requires a repository")
	}
	if i.ingestBucket == "" {
		return nil, fmt.Errorf("ingester requires an ingest bucket")
	}
	return i, nil
}

// Ingest publishes the job under jobFolder in the ingest bucket.
func (i *Ingester) Ingest(ctx context.Context, jobFolder string) (*Result, error) {
	runID := uuid.New().String()
	l := i.logger.With(
		zap.String("run_id", runID),
		zap.String("job_folder", jobFolder),
	)
	l.Info("ingest starting")

	jobURI := store.Join(i.ingestBucket, jobFolder)

	datasets, err := LoadEntry(ctx, i.store, store.Join(jobURI, entryFileName))
	if err != nil {
		return nil, err
	}
	manifest, err := LoadManifest(ctx, i.store, store.Join(jobURI, manifestFileName))
	if err != nil {
		return nil, err
	}

	assignments, err := assignRows(datasets, manifest)
	if err != nil {
		return nil, err
	}

	result := &Result{RunID: runID}
	for _, d := range datasets {
		update, err := i.ingestDataset(ctx, l, jobURI, d, assignments[d.ID])
		if err != nil {
			return nil, err
		}
		result.Updates = append(result.Updates, *update)
		result.NumDatasetsUpdated++
	}

	// Cleanup is best-effort: a failure here leaves stale job objects but
	// never masks a successful publication.
	i.cleanup(ctx, l, jobURI, manifest)

	l.Info("ingest complete", zap.Int("datasets", result.NumDatasetsUpdated))
	return result, nil
}

// assignRows partitions manifest rows across the entry's datasets. A single
// dataset claims every row; with several, a row's leading path segment must
// name its dataset.
func assignRows(datasets []*catalog.Dataset, m *Manifest) (map[string]*Manifest, error) {
	out := make(map[string]*Manifest, len(datasets))
	if len(datasets) == 1 {
		sub := *m
		out[datasets[0].ID] = &sub
		return out, nil
	}

	byID := make(map[string]*catalog.Dataset, len(datasets))
	for _, d := range datasets {
		byID[d.ID] = d
		sub := *m
		sub.Rows = nil
		out[d.ID] = &sub
	}

	var unassigned []RowReport
	for _, row := range m.Rows {
		head := row.S3Key
		if j := strings.Index(head, "/"); j >= 0 {
			head = head[:j]
		}
		sub, ok := out[head]
		if !ok {
			unassigned = append(unassigned, RowReport{
				S3Key:  row.S3Key,
				Status: RowInvalid,
				Detail: "no entry dataset matches leading path segment",
			})
			continue
		}
		sub.Rows = append(sub.Rows, row)
	}
	if len(unassigned) > 0 {
		return nil, &IngesterError{Code: "unassigned_rows", Msg: "manifest rows match no entry dataset", Rows: unassigned}
	}
	return out, nil
}

func (i *Ingester) ingestDataset(ctx context.Context, l *zap.Logger, jobURI string, d *catalog.Dataset, m *Manifest) (*Update, error) {
	l = l.With(zap.String("dataset_id", d.ID))

	// Destination must be reachable before anything is moved.
	if _, err := i.store.Head(ctx, d.Endpoint()); err != nil {
		return nil, &IngesterError{Code: "bad_destination", Msg: "destination unreachable: " + d.Endpoint(), Err: err}
	}

	if err := i.validateRows(ctx, jobURI, m); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	contributed, err := i.installPayload(ctx, l, jobURI, d, m)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := i.writeIndices(ctx, l, d, m); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := i.updateCatalog(ctx, l, d, m); err != nil {
		return nil, err
	}

	return &Update{
		Dataset:          d.ID,
		NumFilesUpdated:  len(m.Rows),
		FilesContributed: contributed,
	}, nil
}

// validateRows heads every manifest-referenced object in the job folder.
// All bad rows are reported together; any one fails the whole job.
func (i *Ingester) validateRows(ctx context.Context, jobURI string, m *Manifest) error {
	var bad []RowReport
	for _, row := range m.Rows {
		status, detail := i.validateRow(ctx, jobURI, row)
		if status != RowValid {
			bad = append(bad, RowReport{S3Key: row.S3Key, Status: status, Detail: detail})
		}
	}
	if len(bad) > 0 {
		return &IngesterError{Code: "invalid_manifest_files", Msg: "manifest files failed validation", Rows: bad}
	}
	return nil
}

func (i *Ingester) validateRow(ctx context.Context, jobURI string, row Row) (RowStatus, string) {
	if _, err := catalog.FileTypeForKey(row.S3Key); err != nil {
		return RowBadExtension, err.Error()
	}

	info, err := i.store.Head(ctx, store.Join(jobURI, row.S3Key))
	if store.IsNotExist(err) {
		return RowNotFound, ""
	}
	if err != nil {
		return RowNotFound, err.Error()
	}
	if info.Size != row.Filesize {
		return RowWrongSize, fmt.Sprintf("manifest claims %d bytes, object has %d", row.Filesize, info.Size)
	}
	return RowValid, ""
}

// installPayload copies each validated file into the dataset's index
// prefix. Copies are independent and issued across a bounded worker pool;
// a destination already present with the right size is accepted without
// recopy, which makes reruns converge.
func (i *Ingester) installPayload(ctx context.Context, l *zap.Logger, jobURI string, d *catalog.Dataset, m *Manifest) (int, error) {
	type copyResult struct {
		row    Row
		copied bool
		err    error
	}

	jobs := make(chan Row)
	results := make(chan copyResult)

	var wg sync.WaitGroup
	for w := 0; w < i.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for row := range jobs {
				copied, err := i.installFile(ctx, jobURI, d, row)
				results <- copyResult{row: row, copied: copied, err: err}
			}
		}()
	}
	go func() {
		defer close(jobs)
		for _, row := range m.Rows {
			select {
			case jobs <- row:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	contributed := 0
	var failed []RowReport
	for res := range results {
		if res.err != nil {
			failed = append(failed, RowReport{
				S3Key:  res.row.S3Key,
				Status: RowNotFound,
				Detail: res.err.Error(),
			})
			continue
		}
		if res.copied {
			contributed++
		}
	}
	if len(failed) > 0 {
		return contributed, &IngesterError{Code: "partial_copy", Msg: "payload installation failed", Rows: failed}
	}

	l.Info("payload installed",
		zap.Int("files", len(m.Rows)),
		zap.Int("contributed", contributed),
	)
	return contributed, nil
}

func (i *Ingester) installFile(ctx context.Context, jobURI string, d *catalog.Dataset, row Row) (bool, error) {
	src := store.Join(jobURI, row.S3Key)
	dst := store.Join(d.Index, row.S3Key)

	info, err := i.store.Head(ctx, dst)
	if err == nil && info.Size == row.Filesize {
		return false, nil
	}
	if err != nil && !store.IsNotExist(err) {
		return false, err
	}

	if err := i.store.Copy(ctx, src, dst); err != nil {
		return false, err
	}
	return true, nil
}

// writeIndices groups installed rows by start year and rewrites each year's
// index file wholesale as one object put.
func (i *Ingester) writeIndices(ctx context.Context, l *zap.Logger, d *catalog.Dataset, m *Manifest) error {
	for year, rows := range m.Years() {
		data, err := BuildIndex(d, m, rows)
		if err != nil {
			return &IngesterError{Code: "bad_index", Msg: fmt.Sprintf("building %d index for %s", year, d.ID), Err: err}
		}
		uri := store.Join(d.Index, IndexFileName(d.ID, year, d.IndexType))
		if err := i.store.Write(ctx, uri, data); err != nil {
			return &IngesterError{Code: "bad_index", Msg: "writing " + uri, Err: err}
		}
		l.Info("index written", zap.String("uri", uri), zap.Int("rows", len(rows)))
	}
	return nil
}

// updateCatalog widens the stored record's time range, unions file types
// and bumps modification. Transient repository failures are retried; the
// run is already idempotent up to this point, so a persistent failure is
// safe to leave for the next run.
func (i *Ingester) updateCatalog(ctx context.Context, l *zap.Logger, d *catalog.Dataset, m *Manifest) error {
	now := i.now().UTC().Truncate(time.Second)

	record := *d
	existing, err := i.repo.GetByID(ctx, d.ID)
	switch {
	case err == nil:
		record = *existing
		record.Index = d.Index
		record.Title = d.Title
		record.IndexType = d.IndexType
	case errors.Is(err, repository.ErrNotFound):
		record.Creation = now
	default:
		return err
	}

	// Bounds only ever widen; a manifest with no rows must not move them.
	if len(m.Rows) > 0 {
		minT, maxT := m.MinTime(), m.MaxTime()
		if record.Start.IsZero() || minT.Before(record.Start) {
			record.Start = minT
		}
		if record.Stop.IsZero() || maxT.After(record.Stop) {
			record.Stop = maxT
		}
	}

	fts := record.FileTypes
	fts = catalog.MergeFileTypes(fts, d.FileTypes)
	for _, row := range m.Rows {
		ft, err := catalog.FileTypeForKey(row.S3Key)
		if err != nil {
			continue
		}
		fts = catalog.MergeFileTypes(fts, []catalog.FileType{ft})
	}
	record.FileTypes = fts
	record.Modification = now

	if err := record.Validate(); err != nil {
		return err
	}

	save := func() error {
		_, err := i.repo.Save(ctx, []*catalog.Dataset{&record})
		return err
	}
	if err := backoff.Retry(save, backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Second), i.saveRetries)); err != nil {
		return err
	}

	l.Info("catalog updated",
		zap.Time("start", record.Start),
		zap.Time("stop", record.Stop),
	)
	return nil
}

// cleanup removes the job's manifest-referenced objects and declarative
// inputs from the ingest bucket. Failures are logged, never fatal.
func (i *Ingester) cleanup(ctx context.Context, l *zap.Logger, jobURI string, m *Manifest) {
	uris := make([]string, 0, len(m.Rows)+2)
	for _, row := range m.Rows {
		uris = append(uris, store.Join(jobURI, row.S3Key))
	}
	uris = append(uris,
		store.Join(jobURI, entryFileName),
		store.Join(jobURI, manifestFileName),
	)

	for _, uri := range uris {
		if err := i.store.Delete(ctx, uri); err != nil {
			l.Warn("cleanup failed", zap.String("uri", uri), zap.Error(err))
		}
	}
}
