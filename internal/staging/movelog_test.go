package staging

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heliocloud-data/registry/internal/store"
)

func TestMoveLog(t *testing.T) {
	ctx := context.Background()
	s := store.NewLocal()
	root := "file://" + t.TempDir()

	now := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	ml := NewMoveLog(s, root, MoveLogWithClock(func() time.Time { return now }))

	t.Run("missing master cache is empty", func(t *testing.T) {
		require.NoError(t, ml.Load(ctx))
		assert.False(t, ml.Contains("AC_H2_MFI"))
	})

	t.Run("finalize writes both logs", func(t *testing.T) {
		require.NoError(t, ml.Finalize(ctx, "AC_H2_MFI", "s3://bkt/AC_H2_MFI/", 12))
		assert.True(t, ml.Contains("AC_H2_MFI"))

		ok, err := s.Exists(ctx, store.Join(root, "movelog_AC_H2_MFI.json"))
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.Exists(ctx, store.Join(root, "movelog_mastercache.json"))
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("reload sees finalized ids", func(t *testing.T) {
		ml2 := NewMoveLog(s, root)
		require.NoError(t, ml2.Load(ctx))
		assert.True(t, ml2.Contains("AC_H2_MFI"))
		assert.False(t, ml2.Contains("OTHER"))
	})

	t.Run("rollup accumulates", func(t *testing.T) {
		require.NoError(t, ml.Finalize(ctx, "OTHER", "s3://bkt/OTHER/", 3))

		var master map[string]MoveLogEntry
		require.NoError(t, store.ReadJSON(ctx, s, store.Join(root, "movelog_mastercache.json"), &master))
		assert.Len(t, master, 2)
		assert.Equal(t, 12, master["AC_H2_MFI"].NumFiles)
		assert.Equal(t, "2023-06-01T00:00:00Z", master["OTHER"].Completed)
	})
}
