package catalog

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// TimeFormat is the restricted ISO-8601 form used throughout the registry.
const TimeFormat = "2006-01-02T15:04:05Z"

var datasetIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidationError reports a dataset field that failed an invariant.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// ParseTime parses a registry instant. Times must be UTC.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimeFormat, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, &ValidationError{Field: "time", Reason: fmt.Sprintf("%q is not an ISO-8601 instant", s)}
	}
	if _, offset := t.Zone(); offset != 0 {
		return time.Time{}, &ValidationError{Field: "time", Reason: fmt.Sprintf("%q is not UTC", s)}
	}
	return t.UTC(), nil
}

// FormatTime renders an instant in the restricted registry form.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// Dataset describes one logically coherent file collection hosted at Index.
type Dataset struct {
	ID    string
	Index string
	Title string

	Start time.Time
	Stop  time.Time

	// Optional instants; the zero value means unset.
	Modification time.Time
	Creation     time.Time
	Expiration   time.Time
	Verified     time.Time

	IndexType IndexType
	FileTypes []FileType

	Description string
	Resource    string
	Citation    string
	Contact     string
	About       string
	MultiYear   bool
}

type DatasetOption func(*Dataset)

func WithTimeRange(start, stop time.Time) DatasetOption {
	return func(d *Dataset) {
		d.Start = start
		d.Stop = stop
	}
}

func WithFileTypes(fts ...FileType) DatasetOption {
	return func(d *Dataset) {
		d.FileTypes = fts
	}
}

func WithIndexType(it IndexType) DatasetOption {
	return func(d *Dataset) {
		d.IndexType = it
	}
}

func WithDescription(s string) DatasetOption {
	return func(d *Dataset) {
		d.Description = s
	}
}

func WithContact(s string) DatasetOption {
	return func(d *Dataset) {
		d.Contact = s
	}
}

func WithCitation(s string) DatasetOption {
	return func(d *Dataset) {
		d.Citation = s
	}
}

// New constructs a validated dataset record.
func New(id, index, title string, opts ...DatasetOption) (*Dataset, error) {
	d := &Dataset{
		ID:        id,
		Index:     index,
		Title:     title,
		IndexType: IndexTypeCSV,
	}
	for _, opt := range opts {
		opt(d)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Validate enforces the dataset field invariants.
func (d *Dataset) Validate() error {
	if !datasetIDPattern.MatchString(d.ID) {
		return &ValidationError{Field: "dataset_id", Reason: fmt.Sprintf("%q does not match [A-Za-z0-9_-]+", d.ID)}
	}
	if !strings.HasPrefix(d.Index, "s3://") && !strings.HasPrefix(d.Index, "https://") && !strings.HasPrefix(d.Index, "file://") {
		return &ValidationError{Field: "index", Reason: fmt.Sprintf("%q must start with s3://, https:// or file://", d.Index)}
	}
	if !strings.HasSuffix(d.Index, "/") {
		return &ValidationError{Field: "index", Reason: fmt.Sprintf("%q must end with /", d.Index)}
	}
	if d.Title == "" {
		return &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if !d.Start.IsZero() && !d.Stop.IsZero() && d.Start.After(d.Stop) {
		return &ValidationError{
			Field:  "start",
			Reason: fmt.Sprintf("start %s is after stop %s", FormatTime(d.Start), FormatTime(d.Stop)),
		}
	}
	if d.IndexType != "" {
		if _, err := ParseIndexType(string(d.IndexType)); err != nil {
			return err
		}
	}
	for _, ft := range d.FileTypes {
		if _, err := ParseFileType(string(ft)); err != nil {
			return err
		}
	}
	return nil
}

// Endpoint returns the bucket root that hosts this dataset, e.g.
// "s3://bkt/" for index "s3://bkt/MMS/".
func (d *Dataset) Endpoint() string {
	rest := d.Index
	var scheme string
	for _, s := range []string{"s3://", "https://", "file://"} {
		if strings.HasPrefix(rest, s) {
			scheme = s
			rest = strings.TrimPrefix(rest, s)
			break
		}
	}
	if i := strings.Index(rest, "/"); i >= 0 {
		rest = rest[:i]
	}
	return scheme + rest + "/"
}

// ToDoc renders the dataset as a serialization-friendly document. Enum and
// instant fields become strings; unset optional fields are omitted.
func (d *Dataset) ToDoc() map[string]any {
	doc := map[string]any{
		"dataset_id": d.ID,
		"index":      d.Index,
		"title":      d.Title,
		"indextype":  string(d.indexTypeOrDefault()),
	}
	if !d.Start.IsZero() {
		doc["start"] = FormatTime(d.Start)
	}
	if !d.Stop.IsZero() {
		doc["stop"] = FormatTime(d.Stop)
	}
	for field, t := range map[string]time.Time{
		"modification": d.Modification,
		"creation":     d.Creation,
		"expiration":   d.Expiration,
		"verified":     d.Verified,
	} {
		if !t.IsZero() {
			doc[field] = FormatTime(t)
		}
	}
	if len(d.FileTypes) > 0 {
		fts := make([]string, len(d.FileTypes))
		for i, ft := range d.FileTypes {
			fts[i] = string(ft)
		}
		doc["filetype"] = fts
	}
	for field, v := range map[string]string{
		"description": d.Description,
		"resource":    d.Resource,
		"citation":    d.Citation,
		"contact":     d.Contact,
		"about":       d.About,
	} {
		if v != "" {
			doc[field] = v
		}
	}
	if d.MultiYear {
		doc["multiyear"] = true
	}
	return doc
}

func (d *Dataset) indexTypeOrDefault() IndexType {
	if d.IndexType == "" {
		return IndexTypeCSV
	}
	return d.IndexType
}

// FromDoc decodes a dataset from an inbound document. The legacy "id" field
// takes precedence over "dataset_id" when both are present. Unknown fields
// are dropped.
func FromDoc(doc map[string]any) (*Dataset, error) {
	d := &Dataset{IndexType: IndexTypeCSV}

	id, _ := docString(doc, "dataset_id")
	if legacy, ok := docString(doc, "id"); ok {
		id = legacy
	}
	d.ID = id
	d.Index, _ = docString(doc, "index")
	d.Title, _ = docString(doc, "title")

	for field, dst := range map[string]*time.Time{
		"start":        &d.Start,
		"stop":         &d.Stop,
		"modification": &d.Modification,
		"creation":     &d.Creation,
		"expiration":   &d.Expiration,
		"verified":     &d.Verified,
	} {
		s, ok := docString(doc, field)
		if !ok || s == "" {
			continue
		}
		t, err := ParseTime(s)
		if err != nil {
			return nil, &ValidationError{Field: field, Reason: err.Error()}
		}
		*dst = t
	}

	if s, ok := docString(doc, "indextype"); ok {
		it, err := ParseIndexType(s)
		if err != nil {
			return nil, err
		}
		d.IndexType = it
	}

	if raw, ok := doc["filetype"]; ok {
		fts, err := decodeFileTypes(raw)
		if err != nil {
			return nil, err
		}
		d.FileTypes = fts
	}

	d.Description, _ = docString(doc, "description")
	d.Resource, _ = docString(doc, "resource")
	d.Citation, _ = docString(doc, "citation")
	d.Contact, _ = docString(doc, "contact")
	d.About, _ = docString(doc, "about")
	if b, ok := doc["multiyear"].(bool); ok {
		d.MultiYear = b
	}

	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

func docString(doc map[string]any, key string) (string, bool) {
	v, ok := doc[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func decodeFileTypes(raw any) ([]FileType, error) {
	var elems []string
	switch v := raw.(type) {
	case []string:
		elems = v
	case []any:
		for _, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, &ValidationError{Field: "filetype", Reason: fmt.Sprintf("non-string element %v", e)}
			}
			elems = append(elems, s)
		}
	case string:
		// Single tag or comma-separated list.
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				elems = append(elems, s)
			}
		}
	default:
		return nil, &ValidationError{Field: "filetype", Reason: fmt.Sprintf("unexpected type %T", raw)}
	}

	out := make([]FileType, 0, len(elems))
	for _, s := range elems {
		ft, err := ParseFileType(s)
		if err != nil {
			return nil, err
		}
		out = append(out, ft)
	}
	return MergeFileTypes(out, nil), nil
}
