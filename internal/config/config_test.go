package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistryFromFile(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		r, err := NewRegistryFromFile("testdata/registry.yml")
		require.NoError(t, err)

		assert.Equal(t, "s3://helio-upload/", r.IngestBucket)
		assert.Equal(t, "mongodb://localhost:27017", r.Database.URI)
		assert.Equal(t, "Example HelioCloud", r.Catalog.Name)
		assert.Equal(t, "user-pays", r.Catalog.Egress)
		assert.Equal(t, 8, r.Staging.Workers)
		assert.Equal(t, uint64(5), r.Staging.Retries)
		assert.Equal(t, 2*time.Second, r.Staging.Interval)
		assert.Equal(t, ":9090", r.Server.Listen)
		assert.Equal(t, "debug", r.Log.Level)
	})

	t.Run("defaults", func(t *testing.T) {
		r, err := NewRegistryFromFile("testdata/registry.yml")
		require.NoError(t, err)

		// Unset keys keep their defaults.
		assert.Equal(t, 5*time.Minute, r.Staging.Timeout)
		assert.False(t, r.Staging.Force)
		assert.Equal(t, "1200/OK", r.Catalog.Status)
	})

	t.Run("missing contact", func(t *testing.T) {
		_, err := NewRegistryFromFile("testdata/incomplete.yml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "catalog.contact")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := NewRegistryFromFile("testdata/does-not-exist.yml")
		require.Error(t, err)
	})
}

func TestAppendURIParam(t *testing.T) {
	assert.Equal(t,
		"mongodb://h/?tlsCAFile=%2Fetc%2Fca.pem",
		appendURIParam("mongodb://h/", "tlsCAFile", "/etc/ca.pem"))
	assert.Equal(t,
		"mongodb://h/?retryWrites=true&tlsCAFile=ca.pem",
		appendURIParam("mongodb://h/?retryWrites=true", "tlsCAFile", "ca.pem"))
}
