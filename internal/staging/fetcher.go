package staging

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/heliocloud-data/registry/internal/catalog"
	"github.com/heliocloud-data/registry/internal/ingest"
	"github.com/heliocloud-data/registry/internal/store"
)

/*
The staging fetcher mirrors an external archive into the ingest staging
area. It is an offline pipeline: parallel across dataset ids, serial within
one, with the move log providing cross-run resumption and dedup. Nothing
here touches the catalog repository; a later ingest job publishes the
staged drop.
*/

// DatasetRef is one dataset advertised by a source.
type DatasetRef struct {
	ID          string
	Title       string
	Destination string
	Start       time.Time
	Stop        time.Time
}

// FileRef is one remote payload file.
type FileRef struct {
	URL      string
	Start    time.Time
	Stop     time.Time
	Filesize int64
	Checksum string
}

// Source enumerates an external archive.
type Source interface {
	Datasets(ctx context.Context) ([]DatasetRef, error)
	Files(ctx context.Context, id string) ([]FileRef, error)
}

// DatasetResult is the per-id outcome of one run.
type DatasetResult struct {
	ID       string `json:"id"`
	State    State  `json:"state"`
	NumFiles int    `json:"num_files"`
	Fetched  int    `json:"fetched"`
	Skipped  bool   `json:"skipped,omitempty"`
	Error    string `json:"error,omitempty"`
}

// catalogStub summarizes one staged dataset for the eventual ingest job.
type catalogStub struct {
	DatasetID   string `json:"dataset_id"`
	Title       string `json:"title,omitempty"`
	Destination string `json:"destination"`
	Start       string `json:"start,omitempty"`
	Stop        string `json:"stop,omitempty"`
	NumFiles    int    `json:"num_files"`
}

type Fetcher struct {
	logger  *zap.Logger
	store   store.Store
	source  Source
	movelog *MoveLog
	client  *http.Client
	now     func() time.Time

	stagingRoot   string
	stripPrefix   string
	localMount    string
	workers       int
	retries       uint64
	retryInterval time.Duration
	force         bool
}

type Option func(*Fetcher)

func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

func WithStore(s store.Store) Option {
	return func(f *Fetcher) {
		f.store = s
	}
}

func WithSource(src Source) Option {
	return func(f *Fetcher) {
		f.source = src
	}
}

func WithStagingRoot(uri string) Option {
	return func(f *Fetcher) {
		f.stagingRoot = uri
	}
}

// WithStripPrefix removes a URI prefix from source file URLs when deriving
// the staged relative path.
func WithStripPrefix(prefix string) Option {
	return func(f *Fetcher) {
		f.stripPrefix = prefix
	}
}

// WithLocalMount enables fetchlocal mode: instead of HTTP, files are read
// from mount at the URL's stripped path.
func WithLocalMount(mount string) Option {
	return func(f *Fetcher) {
		f.localMount = mount
	}
}

func WithWorkers(n int) Option {
	return func(f *Fetcher) {
		f.workers = n
	}
}

func WithRetries(n uint64, interval time.Duration) Option {
	return func(f *Fetcher) {
		f.retries = n
		f.retryInterval = interval
	}
}

func WithHTTPTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		f.client = &http.Client{Timeout: d}
	}
}

// WithForce refetches ids already present in the move log.
func WithForce(force bool) Option {
	return func(f *Fetcher) {
		f.force = force
	}
}

func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) {
		f.now = now
	}
}

func New(opts ...Option) (*Fetcher, error) {
	f := &Fetcher{
		logger:        zap.NewNop(),
		client:        &http.Client{Timeout: 60 * time.Second},
		now:           time.Now,
		workers:       4,
		retries:       3,
		retryInterval: time.Second,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.store == nil {
		return nil, fmt.Errorf("fetcher requires a store")
	}
	if f.source == nil {
		return nil, fmt.Errorf("fetcher requires a source")
	}
	if f.stagingRoot == "" {
		return nil, fmt.Errorf("fetcher requires a staging root")
	}
	f.movelog = NewMoveLog(f.store, f.stagingRoot,
		MoveLogWithLogger(f.logger),
		MoveLogWithClock(f.now),
	)
	return f, nil
}

// Run stages every dataset the source advertises. Ids already in the
// master move log are skipped unless forced; a partial id without a
// finalized log is reprocessed, and same-size overwrites keep that cheap.
func (f *Fetcher) Run(ctx context.Context) ([]DatasetResult, error) {
	runID := uuid.New().String()
	l := f.logger.With(zap.String("run_id", runID))
	l.Info("staging run starting")

	if err := f.movelog.Load(ctx); err != nil {
		return nil, err
	}

	datasets, err := f.source.Datasets(ctx)
	if err != nil {
		return nil, err
	}

	jobs := make(chan DatasetRef)
	results := make(chan DatasetResult)

	var wg sync.WaitGroup
	for w := 0; w < f.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ref := range jobs {
				results <- f.stageDataset(ctx, l, ref)
			}
		}()
	}
	go func() {
		defer close(jobs)
		for _, ref := range datasets {
			select {
			case jobs <- ref:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	var out []DatasetResult
	for res := range results {
		out = append(out, res)
	}

	l.Info("staging run complete", zap.Int("datasets", len(out)))
	return out, nil
}

// stageDataset runs one id through pending -> fetching -> indexed ->
// staged -> logged. A single worker owns the id for the duration.
func (f *Fetcher) stageDataset(ctx context.Context, l *zap.Logger, ref DatasetRef) DatasetResult {
	l = l.With(zap.String("dataset_id", ref.ID))
	fsm := NewFSM(FSMWithLogger(l))
	res := DatasetResult{ID: ref.ID, State: fsm.Current()}

	if !f.force && f.movelog.Contains(ref.ID) {
		l.Debug("already in move log, skipping")
		res.Skipped = true
		res.State = StateLogged
		return res
	}

	fail := func(err error) DatasetResult {
		l.Warn("staging failed", zap.Error(err), zap.String("state", string(fsm.Current())))
		res.State = fsm.Current()
		res.Error = err.Error()
		return res
	}

	if err := fsm.Transition(StateFetching); err != nil {
		return fail(err)
	}

	files, err := f.source.Files(ctx, ref.ID)
	if err != nil {
		return fail(err)
	}
	res.NumFiles = len(files)

	stagePrefix := store.Join(f.stagingRoot, ref.ID) + "/"
	rows := make([]ingest.Row, 0, len(files))
	hasStop, hasChecksum := false, false

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		rel := f.relativeKey(file.URL)
		dst := store.Join(stagePrefix, rel)

		fetched, err := f.fetchFile(ctx, file, dst)
		if err != nil {
			return fail(fmt.Errorf("fetch %s: %w", file.URL, err))
		}
		if fetched {
			res.Fetched++
		}

		rows = append(rows, ingest.Row{
			Start:    file.Start,
			S3Key:    rel,
			Filesize: file.Filesize,
			Stop:     file.Stop,
			Checksum: file.Checksum,
		})
		if !file.Stop.IsZero() {
			hasStop = true
		}
		if file.Checksum != "" {
			hasChecksum = true
		}
	}

	if err := fsm.Transition(StateIndexed); err != nil {
		return fail(err)
	}
	if err := f.writeIndices(ctx, ref, stagePrefix, rows, hasStop, hasChecksum); err != nil {
		return fail(err)
	}

	if err := fsm.Transition(StateStaged); err != nil {
		return fail(err)
	}
	if err := f.writeStub(ctx, ref, stagePrefix, rows); err != nil {
		return fail(err)
	}

	if err := f.movelog.Finalize(ctx, ref.ID, ref.Destination, len(rows)); err != nil {
		return fail(err)
	}
	if err := fsm.Transition(StateLogged); err != nil {
		return fail(err)
	}

	l.Info("dataset staged",
		zap.Int("num_files", res.NumFiles),
		zap.Int("fetched", res.Fetched),
	)
	res.State = fsm.Current()
	return res
}

// relativeKey derives the staged path from a source URL.
func (f *Fetcher) relativeKey(url string) string {
	rel := url
	if f.stripPrefix != "" {
		rel = strings.TrimPrefix(rel, f.stripPrefix)
	} else if i := strings.Index(rel, "://"); i >= 0 {
		if j := strings.Index(rel[i+3:], "/"); j >= 0 {
			rel = rel[i+3+j:]
		}
	}
	return strings.TrimPrefix(rel, "/")
}

// fetchFile pulls one file to dst, retrying with linear backoff. A
// destination already holding the declared size is accepted without a
// refetch, which is what makes resumed runs cheap.
func (f *Fetcher) fetchFile(ctx context.Context, file FileRef, dst string) (bool, error) {
	info, err := f.store.Head(ctx, dst)
	if err == nil && info.Size == file.Filesize {
		return false, nil
	}
	if err != nil && !store.IsNotExist(err) {
		return false, err
	}

	op := func() error {
		data, err := f.download(ctx, file.URL)
		if err != nil {
			return err
		}
		return f.store.Write(ctx, dst, data)
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(newLinearBackOff(f.retryInterval), f.retries),
		ctx,
	)
	if err := backoff.Retry(op, policy); err != nil {
		return false, err
	}
	return true, nil
}

func (f *Fetcher) download(ctx context.Context, url string) ([]byte, error) {
	if f.localMount != "" {
		uri := "file://" + store.Join(f.localMount, f.relativeKey(url))
		return f.store.Read(ctx, uri)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &store.TransportError{Op: "fetch", URI: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &store.TransportError{Op: "fetch", URI: url, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &store.TransportError{Op: "fetch", URI: url, Err: err}
	}
	return data, nil
}

// writeIndices emits the per-year registry files for the staged rows, in
// the same CSV form the ingester publishes.
func (f *Fetcher) writeIndices(ctx context.Context, ref DatasetRef, stagePrefix string, rows []ingest.Row, hasStop, hasChecksum bool) error {
	d := &catalog.Dataset{
		ID:        ref.ID,
		Index:     stagePrefix,
		Title:     ref.Title,
		IndexType: catalog.IndexTypeCSV,
	}
	m := ingest.NewManifest(rows, hasStop, hasChecksum, nil)

	for year, yearRows := range m.Years() {
		data, err := ingest.BuildIndex(d, m, yearRows)
		if err != nil {
			return err
		}
		uri := store.Join(stagePrefix, ingest.IndexFileName(ref.ID, year, catalog.IndexTypeCSV))
		if err := f.store.Write(ctx, uri, data); err != nil {
			return err
		}
	}
	return nil
}

// writeStub records the dataset's intended destination and widened time
// bounds for the ingest job that follows.
func (f *Fetcher) writeStub(ctx context.Context, ref DatasetRef, stagePrefix string, rows []ingest.Row) error {
	start, stop := ref.Start, ref.Stop
	for _, r := range rows {
		if start.IsZero() || r.Start.Before(start) {
			start = r.Start
		}
		if r.Start.After(stop) {
			stop = r.Start
		}
		if r.Stop.After(stop) {
			stop = r.Stop
		}
	}

	stub := catalogStub{
		DatasetID:   ref.ID,
		Title:       ref.Title,
		Destination: ref.Destination,
		NumFiles:    len(rows),
	}
	if !start.IsZero() {
		stub.Start = catalog.FormatTime(start)
	}
	if !stop.IsZero() {
		stub.Stop = catalog.FormatTime(stop)
	}
	return store.WriteJSON(ctx, f.store, store.Join(stagePrefix, "catalog_stub.json"), &stub)
}

// linearBackOff waits interval, 2*interval, 3*interval, ...
type linearBackOff struct {
	interval time.Duration
	attempt  int64
}

func newLinearBackOff(interval time.Duration) *linearBackOff {
	return &linearBackOff{interval: interval}
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return time.Duration(b.attempt) * b.interval
}

func (b *linearBackOff) Reset() {
	b.attempt = 0
}
