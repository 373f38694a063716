package ingest

import (
	"fmt"
	"strings"
)

// RowStatus classifies one manifest row after validation against the
// ingest bucket.
type RowStatus string

const (
	RowValid        RowStatus = "VALID"
	RowInvalid      RowStatus = "INVALID"
	RowNotFound     RowStatus = "NOT_FOUND"
	RowWrongSize    RowStatus = "WRONG_SIZE"
	RowBadExtension RowStatus = "BAD_EXTENSION"
)

// RowReport pins a failure to a single manifest row.
type RowReport struct {
	S3Key  string    `json:"s3key"`
	Status RowStatus `json:"status"`
	Detail string    `json:"detail,omitempty"`
}

// IngesterError aggregates everything wrong with an ingest job so the
// operator can fix the whole job in one pass.
type IngesterError struct {
	Code string
	Msg  string
	Rows []RowReport
	Err  error
}

func (e *IngesterError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ingest: %s", e.Code)
	if e.Msg != "" {
		fmt.Fprintf(&b, ": %s", e.Msg)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	for _, r := range e.Rows {
		fmt.Fprintf(&b, "\n  %s: %s", r.Status, r.S3Key)
		if r.Detail != "" {
			fmt.Fprintf(&b, " (%s)", r.Detail)
		}
	}
	return b.String()
}

func (e *IngesterError) Unwrap() error { return e.Err }
