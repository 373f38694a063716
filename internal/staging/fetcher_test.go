package staging

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heliocloud-data/registry/internal/store"
)

// fakeSource serves a fixed dataset listing; file payloads come from the
// test's HTTP server.
type fakeSource struct {
	datasets []DatasetRef
	files    map[string][]FileRef
}

func (f *fakeSource) Datasets(ctx context.Context) ([]DatasetRef, error) {
	return f.datasets, nil
}

func (f *fakeSource) Files(ctx context.Context, id string) ([]FileRef, error) {
	refs, ok := f.files[id]
	if !ok {
		return nil, fmt.Errorf("unknown dataset %q", id)
	}
	return refs, nil
}

type archive struct {
	server *httptest.Server
	// broken paths return 500 until cleared
	broken atomic.Value // map[string]bool
	hits   atomic.Int64
}

func newArchive(t *testing.T, payloads map[string]int) *archive {
	a := &archive{}
	a.broken.Store(map[string]bool{})
	a.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.hits.Add(1)
		if a.broken.Load().(map[string]bool)[r.URL.Path] {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		size, ok := payloads[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(make([]byte, size))
	}))
	t.Cleanup(a.server.Close)
	return a
}

func (a *archive) breakPath(path string) {
	a.broken.Store(map[string]bool{path: true})
}

func (a *archive) repair() {
	a.broken.Store(map[string]bool{})
}

func stagingFiles(base string) map[string][]FileRef {
	day := func(d int) time.Time {
		return time.Date(2015, 9, d, 0, 0, 0, 0, time.UTC)
	}
	return map[string][]FileRef{
		"AC_H2_MFI": {
			{URL: base + "/pub/ac/a1.cdf", Start: day(1), Filesize: 100},
			{URL: base + "/pub/ac/a2.cdf", Start: day(2), Filesize: 200},
			{URL: base + "/pub/ac/a3.cdf", Start: day(3), Filesize: 300},
		},
		"WI_H1_SWE": {
			{URL: base + "/pub/wi/w1.cdf", Start: day(4), Filesize: 50},
		},
	}
}

var stagingPayloads = map[string]int{
	"/pub/ac/a1.cdf": 100,
	"/pub/ac/a2.cdf": 200,
	"/pub/ac/a3.cdf": 300,
	"/pub/wi/w1.cdf": 50,
}

func newFetcher(t *testing.T, src Source, root string, opts ...Option) *Fetcher {
	t.Helper()
	all := append([]Option{
		WithStore(store.NewLocal()),
		WithSource(src),
		WithStagingRoot(root),
		WithWorkers(2),
		WithRetries(1, time.Millisecond),
	}, opts...)
	f, err := New(all...)
	require.NoError(t, err)
	return f
}

func TestFetcherRun(t *testing.T) {
	ctx := context.Background()
	a := newArchive(t, stagingPayloads)
	root := "file://" + t.TempDir()

	src := &fakeSource{
		datasets: []DatasetRef{
			{ID: "AC_H2_MFI", Title: "ACE MFI", Destination: "s3://bkt/AC_H2_MFI/"},
			{ID: "WI_H1_SWE", Title: "Wind SWE", Destination: "s3://bkt/WI_H1_SWE/"},
		},
		files: stagingFiles(a.server.URL),
	}
	f := newFetcher(t, src, root, WithStripPrefix(a.server.URL+"/pub"))

	results, err := f.Run(ctx)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, res := range results {
		assert.Equal(t, StateLogged, res.State, res.ID)
		assert.Empty(t, res.Error)
		assert.Equal(t, res.NumFiles, res.Fetched)
	}

	s := store.NewLocal()

	t.Run("payload staged under stripped paths", func(t *testing.T) {
		info, err := s.Head(ctx, store.Join(root, "AC_H2_MFI", "ac/a2.cdf"))
		require.NoError(t, err)
		assert.Equal(t, int64(200), info.Size)
	})

	t.Run("registry year file written", func(t *testing.T) {
		data, err := s.Read(ctx, store.Join(root, "AC_H2_MFI", "AC_H2_MFI_2015.csv"))
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		assert.Len(t, lines, 4)
		assert.Equal(t, "# start,datakey,filesize", lines[0])
	})

	t.Run("catalog stub written", func(t *testing.T) {
		var stub map[string]any
		require.NoError(t, store.ReadJSON(ctx, s, store.Join(root, "WI_H1_SWE", "catalog_stub.json"), &stub))
		assert.Equal(t, "s3://bkt/WI_H1_SWE/", stub["destination"])
		assert.Equal(t, float64(1), stub["num_files"])
		assert.Equal(t, "2015-09-04T00:00:00Z", stub["start"])
	})

	t.Run("move log finalized", func(t *testing.T) {
		ml := NewMoveLog(s, root)
		require.NoError(t, ml.Load(ctx))
		assert.True(t, ml.Contains("AC_H2_MFI"))
		assert.True(t, ml.Contains("WI_H1_SWE"))
	})
}

func TestFetcherResumption(t *testing.T) {
	ctx := context.Background()
	a := newArchive(t, stagingPayloads)
	root := "file://" + t.TempDir()

	src := &fakeSource{
		datasets: []DatasetRef{{ID: "AC_H2_MFI", Destination: "s3://bkt/AC_H2_MFI/"}},
		files:    stagingFiles(a.server.URL),
	}
	f := newFetcher(t, src, root, WithStripPrefix(a.server.URL+"/pub"))

	// First run is interrupted 60% through: the third file errors out.
	a.breakPath("/pub/ac/a3.cdf")
	results, err := f.Run(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, StateFetching, results[0].State)
	assert.NotEmpty(t, results[0].Error)

	s := store.NewLocal()
	ml := NewMoveLog(s, root)
	require.NoError(t, ml.Load(ctx))
	assert.False(t, ml.Contains("AC_H2_MFI"))

	// Second run completes only the missing file and finalizes the log.
	a.repair()
	results, err = f.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateLogged, results[0].State)
	assert.Equal(t, 1, results[0].Fetched)

	// Third run is a no-op for the id.
	before := a.hits.Load()
	results, err = f.Run(ctx)
	require.NoError(t, err)
	assert.True(t, results[0].Skipped)
	assert.Equal(t, before, a.hits.Load())
}

func TestFetcherForce(t *testing.T) {
	ctx := context.Background()
	a := newArchive(t, stagingPayloads)
	root := "file://" + t.TempDir()

	src := &fakeSource{
		datasets: []DatasetRef{{ID: "WI_H1_SWE", Destination: "s3://bkt/WI_H1_SWE/"}},
		files:    stagingFiles(a.server.URL),
	}

	f := newFetcher(t, src, root, WithStripPrefix(a.server.URL+"/pub"))
	_, err := f.Run(ctx)
	require.NoError(t, err)

	forced := newFetcher(t, src, root,
		WithStripPrefix(a.server.URL+"/pub"),
		WithForce(true),
	)
	results, err := forced.Run(ctx)
	require.NoError(t, err)
	assert.False(t, results[0].Skipped)
	assert.Equal(t, StateLogged, results[0].State)
	// Same-size overwrite check makes the forced pass cheap.
	assert.Equal(t, 0, results[0].Fetched)
}

func TestFetcherRetries(t *testing.T) {
	ctx := context.Background()

	var attempts atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write(make([]byte, 10))
	}))
	t.Cleanup(server.Close)

	src := &fakeSource{
		datasets: []DatasetRef{{ID: "X1"}},
		files: map[string][]FileRef{
			"X1": {{URL: server.URL + "/x.cdf", Start: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), Filesize: 10}},
		},
	}
	f := newFetcher(t, src, "file://"+t.TempDir(), WithRetries(2, time.Millisecond))

	results, err := f.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateLogged, results[0].State)
	assert.Equal(t, int64(2), attempts.Load())
}

func TestFetchLocalMode(t *testing.T) {
	ctx := context.Background()
	mount := t.TempDir()
	s := store.NewLocal()
	require.NoError(t, s.Write(ctx, "file://"+mount+"/ac/a1.cdf", make([]byte, 100)))

	src := &fakeSource{
		datasets: []DatasetRef{{ID: "AC_H2_MFI"}},
		files: map[string][]FileRef{
			"AC_H2_MFI": {{
				URL:      "https://cdaweb.gsfc.nasa.gov/pub/ac/a1.cdf",
				Start:    time.Date(2015, 9, 1, 0, 0, 0, 0, time.UTC),
				Filesize: 100,
			}},
		},
	}
	root := "file://" + t.TempDir()
	f := newFetcher(t, src, root,
		WithStripPrefix("https://cdaweb.gsfc.nasa.gov/pub"),
		WithLocalMount(mount),
	)

	results, err := f.Run(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, StateLogged, results[0].State)

	info, err := s.Head(ctx, store.Join(root, "AC_H2_MFI", "ac/a1.cdf"))
	require.NoError(t, err)
	assert.Equal(t, int64(100), info.Size)
}
