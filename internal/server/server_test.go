package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heliocloud-data/registry/internal/catalog"
	"github.com/heliocloud-data/registry/internal/cataloger"
	"github.com/heliocloud-data/registry/internal/ingest"
	"github.com/heliocloud-data/registry/internal/repository/memory"
	"github.com/heliocloud-data/registry/internal/store"
)

// mapStore is an in-memory store.Store keyed by full URI, standing in for
// endpoint buckets the tests never really reach.
type mapStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMapStore() *mapStore {
	return &mapStore{objects: make(map[string][]byte)}
}

func (m *mapStore) Exists(_ context.Context, uri string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[uri]
	return ok, nil
}

func (m *mapStore) Read(_ context.Context, uri string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[uri]
	if !ok {
		return nil, &store.TransportError{Op: "read", URI: uri, Err: store.ErrNotExist}
	}
	return data, nil
}

func (m *mapStore) Write(_ context.Context, uri string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[uri] = data
	return nil
}

func (m *mapStore) Copy(ctx context.Context, src, dst string) error {
	data, err := m.Read(ctx, src)
	if err != nil {
		return err
	}
	return m.Write(ctx, dst, data)
}

func (m *mapStore) Delete(_ context.Context, uri string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, uri)
	return nil
}

func (m *mapStore) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var uris []string
	for uri := range m.objects {
		if len(uri) >= len(prefix) && uri[:len(prefix)] == prefix {
			uris = append(uris, uri)
		}
	}
	return uris, nil
}

func (m *mapStore) Head(_ context.Context, uri string) (*store.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[uri]
	if !ok {
		return nil, &store.TransportError{Op: "head", URI: uri, Err: store.ErrNotExist}
	}
	return &store.ObjectInfo{Size: int64(len(data))}, nil
}

type serverEnv struct {
	store     *store.Local
	catStore  *mapStore
	repo      *memory.Repository
	srv       *httptest.Server
	ingestURI string
	indexURI  string
}

func newServerEnv(t *testing.T) *serverEnv {
	t.Helper()
	root := t.TempDir()

	env := &serverEnv{
		store:     store.NewLocal(),
		catStore:  newMapStore(),
		repo:      memory.New(),
		ingestURI: "file://" + filepath.Join(root, "ingest"),
		indexURI:  "file://" + filepath.Join(root, "bkt", "MMS") + "/",
	}

	ing, err := ingest.New(
		ingest.WithStore(env.store),
		ingest.WithRepository(env.repo),
		ingest.WithIngestBucket(env.ingestURI),
	)
	require.NoError(t, err)

	cat, err := cataloger.New(
		cataloger.WithStore(env.catStore),
		cataloger.WithRepository(env.repo),
		cataloger.WithHeader(cataloger.Header{Name: "Test Cloud", Contact: "ops@example.com"}),
	)
	require.NoError(t, err)

	s := New(WithIngester(ing), WithCataloger(cat))
	env.srv = httptest.NewServer(s.Routes())
	t.Cleanup(env.srv.Close)
	return env
}

func (e *serverEnv) post(t *testing.T, path string, body any) (*http.Response, []byte) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	res, err := http.Post(e.srv.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer res.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(res.Body)
	require.NoError(t, err)
	return res, buf.Bytes()
}

func (e *serverEnv) writeJob(t *testing.T, folder string) {
	t.Helper()
	ctx := context.Background()
	jobURI := store.Join(e.ingestURI, folder)

	entry := `{"id":"MMS","index":"` + e.indexURI + `","title":"MMS"}`
	require.NoError(t, e.store.Write(ctx, store.Join(jobURI, "entry.json"), []byte(entry)))
	manifest := "#time,s3key,filesize\n2015-09-01T00:00:00Z,mms1/a.cdf,10\n"
	require.NoError(t, e.store.Write(ctx, store.Join(jobURI, "manifest.csv"), []byte(manifest)))
	require.NoError(t, e.store.Write(ctx, store.Join(jobURI, "mms1/a.cdf"), make([]byte, 10)))
}

func TestHandleIngest(t *testing.T) {
	env := newServerEnv(t)
	env.writeJob(t, "job1")

	res, body := env.post(t, "/api/v1/ingest", map[string]string{"job_folder": "job1"})
	require.Equal(t, http.StatusOK, res.StatusCode)

	var resp ingestResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.NumDatasetsUpdated)
	require.Len(t, resp.Updates, 1)
	assert.Equal(t, "MMS", resp.Updates[0].Dataset)
	assert.Equal(t, 1, resp.Updates[0].NumFilesUpdated)

	d, err := env.repo.GetByID(context.Background(), "MMS")
	require.NoError(t, err)
	assert.Equal(t, 2015, d.Start.Year())
}

func TestHandleIngestMissingJobFolder(t *testing.T) {
	env := newServerEnv(t)

	res, body := env.post(t, "/api/v1/ingest", map[string]string{})
	require.Equal(t, http.StatusBadRequest, res.StatusCode)

	var herr handlerError
	require.NoError(t, json.Unmarshal(body, &herr))
	assert.Equal(t, "BadRequest", herr.ErrorType)
}

func TestHandleIngestApplicationError(t *testing.T) {
	env := newServerEnv(t)
	// A job folder with no entry.json fails inside the ingester's own
	// error contract and comes back as an unsuccessful response.
	res, body := env.post(t, "/api/v1/ingest", map[string]string{"job_folder": "nope"})
	require.Equal(t, http.StatusOK, res.StatusCode)

	var resp ingestResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)
}

func TestHandleRebuild(t *testing.T) {
	env := newServerEnv(t)
	ctx := context.Background()

	d, err := catalog.New("MMS", "s3://bkt1/MMS/", "MMS",
		catalog.WithTimeRange(
			time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC),
		),
	)
	require.NoError(t, err)
	_, err = env.repo.Save(ctx, []*catalog.Dataset{d})
	require.NoError(t, err)

	res, body := env.post(t, "/api/v1/catalog/rebuild", struct{}{})
	require.Equal(t, http.StatusOK, res.StatusCode)

	var resp rebuildResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.NumEndpointsUpdated)
	require.Len(t, resp.Updates, 1)
	assert.Equal(t, "s3://bkt1/", resp.Updates[0].Endpoint)

	var doc catalog.Catalog
	require.NoError(t, store.ReadJSON(ctx, env.catStore, "s3://bkt1/catalog.json", &doc))
	assert.Equal(t, "Test Cloud", doc.Name)
	require.Len(t, doc.Catalog, 1)
}

func TestHandleRebuildEmpty(t *testing.T) {
	env := newServerEnv(t)

	res, body := env.post(t, "/api/v1/catalog/rebuild", struct{}{})
	require.Equal(t, http.StatusOK, res.StatusCode)

	var resp rebuildResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 0, resp.NumEndpointsUpdated)
	assert.Empty(t, resp.Updates)
}
