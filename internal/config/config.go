// Package config loads registry configuration from a YAML file with
// HELIO_ environment variable overrides, and wires the configured
// components together.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Catalog carries the static header fields stamped into every generated
// catalog.json.
type Catalog struct {
	Name        string `mapstructure:"name"`
	Contact     string `mapstructure:"contact"`
	Region      string `mapstructure:"region"`
	Description string `mapstructure:"description"`
	Citation    string `mapstructure:"citation"`
	Comment     string `mapstructure:"comment"`
	Egress      string `mapstructure:"egress"`
	Status      string `mapstructure:"status"`
}

// Database locates the catalog database. Secret names an AWS Secrets
// Manager entry holding the connection URI; when set it takes precedence
// over URI. With neither set the registry runs on an in-memory catalog.
type Database struct {
	URI        string `mapstructure:"uri"`
	Secret     string `mapstructure:"secret"`
	Name       string `mapstructure:"name"`
	Collection string `mapstructure:"collection"`
	TLSCAFile  string `mapstructure:"tls_ca_file"`
}

// Staging configures the upstream archive fetcher.
type Staging struct {
	Root       string        `mapstructure:"root"`
	Workers    int           `mapstructure:"workers"`
	Retries    uint64        `mapstructure:"retries"`
	Interval   time.Duration `mapstructure:"interval"`
	Timeout    time.Duration `mapstructure:"timeout"`
	FetchLocal string        `mapstructure:"fetchlocal"`
	Allowlist  string        `mapstructure:"allowlist"`
	Force      bool          `mapstructure:"force"`
}

type Server struct {
	Listen string `mapstructure:"listen"`
}

type S3 struct {
	Region         string `mapstructure:"region"`
	Endpoint       string `mapstructure:"endpoint"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
}

type Log struct {
	Level string `mapstructure:"level"`
}

// Registry is the root configuration document.
type Registry struct {
	IngestBucket string   `mapstructure:"ingest_bucket"`
	Database     Database `mapstructure:"database"`
	Catalog      Catalog  `mapstructure:"catalog"`
	Staging      Staging  `mapstructure:"staging"`
	Server       Server   `mapstructure:"server"`
	S3           S3       `mapstructure:"s3"`
	Log          Log      `mapstructure:"log"`
}

// NewRegistryFromFile reads configuration from fpath. Any key can be
// overridden through the environment, e.g. HELIO_INGEST_BUCKET or
// HELIO_DATABASE_URI.
func NewRegistryFromFile(fpath string) (*Registry, error) {
	v := viper.New()
	v.SetConfigFile(fpath)
	v.SetEnvPrefix("HELIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("database.name", "catalog")
	v.SetDefault("database.collection", "datasets")
	v.SetDefault("catalog.status", "1200/OK")
	v.SetDefault("staging.workers", 4)
	v.SetDefault("staging.retries", 3)
	v.SetDefault("staging.interval", 5*time.Second)
	v.SetDefault("staging.timeout", 5*time.Minute)
	v.SetDefault("server.listen", ":8080")
	v.SetDefault("log.level", "info")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", fpath, err)
	}

	var r Registry
	if err := v.Unmarshal(&r); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", fpath, err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *Registry) Validate() error {
	if r.IngestBucket == "" {
		return fmt.Errorf("config: ingest_bucket is required")
	}
	if r.Catalog.Name == "" {
		return fmt.Errorf("config: catalog.name is required")
	}
	if r.Catalog.Contact == "" {
		return fmt.Errorf("config: catalog.contact is required")
	}
	return nil
}
