package ingest

import (
	"context"
	"encoding/json"
	"path"

	"github.com/heliocloud-data/registry/internal/catalog"
	"github.com/heliocloud-data/registry/internal/store"
)

// LoadEntry reads a job's entry document: one dataset record or a JSON
// array of them. The extension must be .json.
func LoadEntry(ctx context.Context, s store.Store, uri string) ([]*catalog.Dataset, error) {
	if path.Ext(uri) != ".json" {
		return nil, &IngesterError{Code: "bad_extension", Msg: "entry must be a .json document: " + uri}
	}

	data, err := s.Read(ctx, uri)
	if err != nil {
		return nil, &IngesterError{Code: "bad_entry", Msg: "reading " + uri, Err: err}
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &IngesterError{Code: "bad_entry", Msg: "parsing " + uri, Err: err}
	}

	var docs []map[string]any
	switch v := raw.(type) {
	case map[string]any:
		docs = []map[string]any{v}
	case []any:
		for _, e := range v {
			doc, ok := e.(map[string]any)
			if !ok {
				return nil, &IngesterError{Code: "bad_entry", Msg: "entry array must contain objects"}
			}
			docs = append(docs, doc)
		}
	default:
		return nil, &IngesterError{Code: "bad_entry", Msg: "entry must be an object or an array of objects"}
	}

	datasets := make([]*catalog.Dataset, 0, len(docs))
	for _, doc := range docs {
		d, err := catalog.FromDoc(doc)
		if err != nil {
			return nil, &IngesterError{Code: "bad_entry", Msg: "invalid dataset in " + uri, Err: err}
		}
		datasets = append(datasets, d)
	}
	if len(datasets) == 0 {
		return nil, &IngesterError{Code: "bad_entry", Msg: "entry lists no datasets"}
	}
	return datasets, nil
}
