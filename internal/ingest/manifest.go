package ingest

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/heliocloud-data/registry/internal/store"
)

// Row is one payload file declared by the manifest.
type Row struct {
	Start    time.Time
	S3Key    string
	Filesize int64

	// Optional; zero values mean the column was absent or empty.
	Stop              time.Time
	Checksum          string
	ChecksumAlgorithm string

	// Extras holds values for columns beyond the recognized set, aligned
	// with Manifest.ExtraColumns.
	Extras []string
}

// Manifest is a parsed, typed manifest.csv.
type Manifest struct {
	Rows []Row

	// ExtraColumns lists unrecognized header columns in header order; their
	// values are carried through into the file index.
	ExtraColumns []string

	hasStop     bool
	hasChecksum bool
}

func (m *Manifest) HasStop() bool     { return m.hasStop }
func (m *Manifest) HasChecksum() bool { return m.hasChecksum }

// NewManifest assembles a manifest from already-typed rows. The staging
// fetcher uses this to emit registry index files in the same form the
// ingester writes.
func NewManifest(rows []Row, withStop, withChecksum bool, extraColumns []string) *Manifest {
	return &Manifest{
		Rows:         rows,
		ExtraColumns: extraColumns,
		hasStop:      withStop,
		hasChecksum:  withChecksum,
	}
}

// MinTime returns the earliest row start.
func (m *Manifest) MinTime() time.Time {
	var min time.Time
	for _, r := range m.Rows {
		if min.IsZero() || r.Start.Before(min) {
			min = r.Start
		}
	}
	return min
}

// MaxTime returns the latest row start, extended by any later row stop.
func (m *Manifest) MaxTime() time.Time {
	var max time.Time
	for _, r := range m.Rows {
		if r.Start.After(max) {
			max = r.Start
		}
		if r.Stop.After(max) {
			max = r.Stop
		}
	}
	return max
}

// Years groups rows by the calendar year of their start instant.
func (m *Manifest) Years() map[int][]Row {
	out := make(map[int][]Row)
	for _, r := range m.Rows {
		y := r.Start.UTC().Year()
		out[y] = append(out[y], r)
	}
	return out
}

// LoadManifest reads and types a job manifest. The header's leading '#'
// is stripped; required columns are time, s3key and filesize. Row typing
// failures are collected and fail the whole load.
func LoadManifest(ctx context.Context, s store.Store, uri string) (*Manifest, error) {
	data, err := s.Read(ctx, uri)
	if err != nil {
		return nil, &IngesterError{Code: "bad_manifest", Msg: "reading " + uri, Err: err}
	}
	return ParseManifest(data)
}

// ParseManifest types raw manifest CSV bytes.
func ParseManifest(data []byte) (*Manifest, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, &IngesterError{Code: "bad_manifest", Msg: "malformed csv", Err: err}
	}
	if len(records) < 1 {
		return nil, &IngesterError{Code: "bad_manifest", Msg: "manifest is empty"}
	}

	header := records[0]
	header[0] = strings.TrimPrefix(strings.TrimSpace(header[0]), "#")

	cols := make(map[string]int, len(header))
	m := &Manifest{}
	for i, name := range header {
		name = strings.TrimSpace(name)
		cols[name] = i
		switch name {
		case "time", "s3key", "filesize":
		case "stop":
			m.hasStop = true
		case "checksum":
			m.hasChecksum = true
		case "checksum_algorithm":
		default:
			m.ExtraColumns = append(m.ExtraColumns, name)
		}
	}
	for _, required := range []string{"time", "s3key", "filesize"} {
		if _, ok := cols[required]; !ok {
			return nil, &IngesterError{Code: "bad_manifest", Msg: fmt.Sprintf("missing required column %q", required)}
		}
	}

	var bad []RowReport
	rows := make([]Row, 0, len(records)-1)
	for n, rec := range records[1:] {
		row, err := parseRow(rec, cols, m.ExtraColumns)
		if err != nil {
			bad = append(bad, RowReport{
				S3Key:  cell(rec, cols, "s3key"),
				Status: RowInvalid,
				Detail: fmt.Sprintf("row %d: %v", n+2, err),
			})
			continue
		}
		rows = append(rows, row)
	}
	if len(bad) > 0 {
		return nil, &IngesterError{Code: "bad_manifest", Msg: "rows failed type checks", Rows: bad}
	}
	if len(rows) == 0 {
		return nil, &IngesterError{Code: "bad_manifest", Msg: "manifest lists no files"}
	}

	m.Rows = rows
	return m, nil
}

func cell(rec []string, cols map[string]int, name string) string {
	i, ok := cols[name]
	if !ok || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func parseRow(rec []string, cols map[string]int, extras []string) (Row, error) {
	var row Row

	ts := cell(rec, cols, "time")
	t, err := parseInstant(ts)
	if err != nil {
		return row, fmt.Errorf("time %q: %w", ts, err)
	}
	row.Start = t

	row.S3Key = cell(rec, cols, "s3key")
	if row.S3Key == "" {
		return row, fmt.Errorf("s3key must not be empty")
	}
	if strings.HasPrefix(row.S3Key, "/") || strings.Contains(row.S3Key, "://") {
		return row, fmt.Errorf("s3key %q must be a relative path", row.S3Key)
	}

	fs := cell(rec, cols, "filesize")
	size, err := strconv.ParseInt(fs, 10, 64)
	if err != nil || size < 0 {
		return row, fmt.Errorf("filesize %q must be a non-negative integer", fs)
	}
	row.Filesize = size

	if stop := cell(rec, cols, "stop"); stop != "" {
		t, err := parseInstant(stop)
		if err != nil {
			return row, fmt.Errorf("stop %q: %w", stop, err)
		}
		row.Stop = t
	}
	row.Checksum = cell(rec, cols, "checksum")
	row.ChecksumAlgorithm = cell(rec, cols, "checksum_algorithm")

	for _, name := range extras {
		row.Extras = append(row.Extras, cell(rec, cols, name))
	}
	return row, nil
}

// parseInstant accepts any tz-aware ISO-8601 instant and normalizes to UTC.
func parseInstant(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("not an ISO-8601 instant")
	}
	return t.UTC(), nil
}
