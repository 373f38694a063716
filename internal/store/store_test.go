package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURI(t *testing.T) {
	t.Run("s3", func(t *testing.T) {
		scheme, bucket, key, err := ParseURI("s3://helio-public/MMS/manifest.csv")
		require.NoError(t, err)
		assert.Equal(t, "s3", scheme)
		assert.Equal(t, "helio-public", bucket)
		assert.Equal(t, "MMS/manifest.csv", key)
	})

	t.Run("file", func(t *testing.T) {
		scheme, bucket, key, err := ParseURI("file:///tmp/stage/entry.json")
		require.NoError(t, err)
		assert.Equal(t, "file", scheme)
		assert.Empty(t, bucket)
		assert.Equal(t, "/tmp/stage/entry.json", key)
	})

	t.Run("unsupported scheme", func(t *testing.T) {
		_, _, _, err := ParseURI("ftp://host/key")
		assert.Error(t, err)
	})
}

func TestJoin(t *testing.T) {
	assert.Equal(t, "s3://bkt/MMS/a.cdf", Join("s3://bkt/MMS/", "a.cdf"))
	assert.Equal(t, "s3://bkt/MMS/2015/a.cdf", Join("s3://bkt", "MMS", "2015/a.cdf"))
}

func TestLocal(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	l := NewLocal()

	uri := "file://" + filepath.Join(dir, "sub", "obj.txt")

	t.Run("read/write/head", func(t *testing.T) {
		require.NoError(t, l.Write(ctx, uri, []byte("payload")))

		data, err := l.Read(ctx, uri)
		require.NoError(t, err)
		assert.Equal(t, []byte("payload"), data)

		info, err := l.Head(ctx, uri)
		require.NoError(t, err)
		assert.Equal(t, int64(7), info.Size)
	})

	t.Run("exists", func(t *testing.T) {
		ok, err := l.Exists(ctx, uri)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = l.Exists(ctx, "file://"+filepath.Join(dir, "missing"))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("head missing is not-exist", func(t *testing.T) {
		_, err := l.Head(ctx, "file://"+filepath.Join(dir, "missing"))
		assert.True(t, IsNotExist(err))
	})

	t.Run("head prefix and root", func(t *testing.T) {
		// Endpoint reachability probes head directory URIs, including the
		// bare root every file:// dataset resolves to.
		_, err := l.Head(ctx, "file://"+dir+"/")
		require.NoError(t, err)

		_, err = l.Head(ctx, "file:///")
		require.NoError(t, err)
	})

	t.Run("copy", func(t *testing.T) {
		dst := "file://" + filepath.Join(dir, "copied.txt")
		require.NoError(t, l.Copy(ctx, uri, dst))

		data, err := l.Read(ctx, dst)
		require.NoError(t, err)
		assert.Equal(t, []byte("payload"), data)
	})

	t.Run("list", func(t *testing.T) {
		uris, err := l.List(ctx, "file://"+dir+"/")
		require.NoError(t, err)
		assert.Len(t, uris, 2)
	})

	t.Run("list missing prefix is empty", func(t *testing.T) {
		uris, err := l.List(ctx, "file://"+filepath.Join(dir, "nope")+"/")
		require.NoError(t, err)
		assert.Empty(t, uris)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		require.NoError(t, l.Delete(ctx, uri))
		require.NoError(t, l.Delete(ctx, uri))

		ok, err := l.Exists(ctx, uri)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestReadWriteJSON(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()
	uri := "file://" + filepath.Join(t.TempDir(), "doc.json")

	in := map[string]any{"endpoint": "s3://bkt/", "n": float64(3)}
	require.NoError(t, WriteJSON(ctx, l, uri, in))

	var out map[string]any
	require.NoError(t, ReadJSON(ctx, l, uri, &out))
	assert.Equal(t, in, out)
}

func TestRouter(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()
	r := NewRouter().Register("file", l)

	uri := "file://" + filepath.Join(t.TempDir(), "x")
	require.NoError(t, r.Write(ctx, uri, []byte("x")))

	ok, err := r.Exists(ctx, uri)
	require.NoError(t, err)
	assert.True(t, ok)

	t.Run("unregistered scheme", func(t *testing.T) {
		_, err := r.Read(ctx, "s3://bkt/key")
		assert.Error(t, err)
	})
}
