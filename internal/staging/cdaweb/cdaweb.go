// Package cdaweb enumerates NASA's CDAWeb archive through its REST API as
// a staging source.
package cdaweb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/heliocloud-data/registry/internal/staging"
	"github.com/heliocloud-data/registry/internal/store"
)

const DefaultBaseURL = "https://cdaweb.gsfc.nasa.gov/WS/cdasr/1"

// Allowlist restricts a mirroring run to named CDAWeb dataset ids.
type Allowlist struct {
	BaseURL  string   `yaml:"base_url"`
	Datasets []string `yaml:"datasets"`
}

// LoadAllowlist reads a dataset allowlist from a YAML file.
func LoadAllowlist(path string) (*Allowlist, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var al Allowlist
	if err := yaml.Unmarshal(bs, &al); err != nil {
		return nil, fmt.Errorf("parsing allowlist %s: %w", path, err)
	}
	return &al, nil
}

type Source struct {
	logger  *zap.Logger
	client  *http.Client
	baseURL string

	destinationRoot string
	allow           map[string]struct{}

	// timeIntervals caches per-id bounds from the dataset listing for the
	// file queries that follow.
	timeIntervals map[string][2]time.Time
}

type Option func(*Source)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Source) {
		s.logger = logger
	}
}

func WithBaseURL(u string) Option {
	return func(s *Source) {
		s.baseURL = u
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(s *Source) {
		s.client = c
	}
}

// WithDestinationRoot sets the bucket prefix datasets will eventually be
// published under, recorded in catalog stubs.
func WithDestinationRoot(uri string) Option {
	return func(s *Source) {
		s.destinationRoot = uri
	}
}

func WithAllowlist(ids []string) Option {
	return func(s *Source) {
		if len(ids) == 0 {
			return
		}
		s.allow = make(map[string]struct{}, len(ids))
		for _, id := range ids {
			s.allow[id] = struct{}{}
		}
	}
}

func New(opts ...Option) *Source {
	s := &Source{
		logger:        zap.NewNop(),
		client:        &http.Client{Timeout: 60 * time.Second},
		baseURL:       DefaultBaseURL,
		timeIntervals: make(map[string][2]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type datasetListing struct {
	DatasetDescription []struct {
		ID           string `json:"Id"`
		Label        string `json:"Label"`
		TimeInterval struct {
			Start string `json:"Start"`
			End   string `json:"End"`
		} `json:"TimeInterval"`
	} `json:"DatasetDescription"`
}

type fileListing struct {
	FileDescription []struct {
		Name      string `json:"Name"`
		StartTime string `json:"StartTime"`
		EndTime   string `json:"EndTime"`
		Length    int64  `json:"Length"`
	} `json:"FileDescription"`
}

func (s *Source) get(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return &store.TransportError{Op: "get", URI: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &store.TransportError{Op: "get", URI: url, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &store.TransportError{Op: "get", URI: url, Err: err}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

// cdawebTime layouts seen in the wild; the API is inconsistent about
// fractional seconds.
var timeLayouts = []string{
	"2006-01-02T15:04:05.000Z",
	time.RFC3339,
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable cdaweb time %q", s)
}

func (s *Source) Datasets(ctx context.Context) ([]staging.DatasetRef, error) {
	var listing datasetListing
	if err := s.get(ctx, s.baseURL+"/dataviews/sp_phys/datasets", &listing); err != nil {
		return nil, err
	}

	var out []staging.DatasetRef
	for _, dd := range listing.DatasetDescription {
		if s.allow != nil {
			if _, ok := s.allow[dd.ID]; !ok {
				continue
			}
		}
		start, err := parseTime(dd.TimeInterval.Start)
		if err != nil {
			s.logger.Warn("skipping dataset with bad start", zap.String("id", dd.ID), zap.Error(err))
			continue
		}
		stop, err := parseTime(dd.TimeInterval.End)
		if err != nil {
			s.logger.Warn("skipping dataset with bad end", zap.String("id", dd.ID), zap.Error(err))
			continue
		}
		s.timeIntervals[dd.ID] = [2]time.Time{start, stop}

		ref := staging.DatasetRef{
			ID:    dd.ID,
			Title: dd.Label,
			Start: start,
			Stop:  stop,
		}
		if s.destinationRoot != "" {
			ref.Destination = store.Join(s.destinationRoot, dd.ID) + "/"
		}
		out = append(out, ref)
	}

	s.logger.Info("cdaweb datasets enumerated", zap.Int("count", len(out)))
	return out, nil
}

func (s *Source) Files(ctx context.Context, id string) ([]staging.FileRef, error) {
	interval, ok := s.timeIntervals[id]
	if !ok {
		return nil, fmt.Errorf("unknown dataset %q (no prior enumeration)", id)
	}

	url := fmt.Sprintf("%s/dataviews/sp_phys/datasets/%s/orig_data/%s,%s",
		s.baseURL, id,
		interval[0].Format("20060102T150405Z"),
		interval[1].Format("20060102T150405Z"),
	)

	var listing fileListing
	if err := s.get(ctx, url, &listing); err != nil {
		return nil, err
	}

	files := make([]staging.FileRef, 0, len(listing.FileDescription))
	for _, fd := range listing.FileDescription {
		start, err := parseTime(fd.StartTime)
		if err != nil {
			return nil, fmt.Errorf("dataset %s file %s: %w", id, fd.Name, err)
		}
		var stop time.Time
		if fd.EndTime != "" {
			if stop, err = parseTime(fd.EndTime); err != nil {
				return nil, fmt.Errorf("dataset %s file %s: %w", id, fd.Name, err)
			}
		}
		files = append(files, staging.FileRef{
			URL:      fd.Name,
			Start:    start,
			Stop:     stop,
			Filesize: fd.Length,
		})
	}
	return files, nil
}
