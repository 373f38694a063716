package ingest

import (
	"archive/zip"
	"bytes"
	"fmt"
	"strings"

	"github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/heliocloud-data/registry/internal/catalog"
	"github.com/heliocloud-data/registry/internal/store"
)

/*
Index files are the per-dataset file registry: one file per calendar year
listing every payload object with its start instant and size. A year file is
always rewritten wholesale so readers never see a partially merged year.
*/

// IndexFileName returns the object name of one year's index for the given
// serialization.
func IndexFileName(datasetID string, year int, it catalog.IndexType) string {
	base := fmt.Sprintf("%s_%04d", datasetID, year)
	switch it {
	case catalog.IndexTypeCSVZip:
		return base + ".csv.zip"
	case catalog.IndexTypeParquet:
		return base + ".parquet"
	}
	return base + ".csv"
}

// indexColumns is the header column set for one manifest's index output.
func indexColumns(m *Manifest) []string {
	cols := []string{"start", "datakey", "filesize"}
	if m.HasStop() {
		cols = append(cols, "stop")
	}
	if m.HasChecksum() {
		cols = append(cols, "checksum", "checksum_algorithm")
	}
	return append(cols, m.ExtraColumns...)
}

func indexValues(d *catalog.Dataset, m *Manifest, row Row) []string {
	vals := []string{
		catalog.FormatTime(row.Start),
		store.Join(d.Index, row.S3Key),
		fmt.Sprintf("%d", row.Filesize),
	}
	if m.HasStop() {
		stop := ""
		if !row.Stop.IsZero() {
			stop = catalog.FormatTime(row.Stop)
		}
		vals = append(vals, stop)
	}
	if m.HasChecksum() {
		vals = append(vals, row.Checksum, row.ChecksumAlgorithm)
	}
	return append(vals, row.Extras...)
}

// BuildIndex renders one year's index file in the dataset's index type.
func BuildIndex(d *catalog.Dataset, m *Manifest, rows []Row) ([]byte, error) {
	switch d.IndexType {
	case catalog.IndexTypeParquet:
		return buildParquetIndex(d, m, rows)
	case catalog.IndexTypeCSVZip:
		csvData := buildCSVIndex(d, m, rows)
		return zipIndex(d, rows[0].Start.UTC().Year(), csvData)
	default:
		return buildCSVIndex(d, m, rows), nil
	}
}

// buildCSVIndex renders the registry CSV form: a '#'-prefixed unquoted
// header, then rows with every value quoted.
func buildCSVIndex(d *catalog.Dataset, m *Manifest, rows []Row) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "# %s\n", strings.Join(indexColumns(m), ","))
	for _, row := range rows {
		vals := indexValues(d, m, row)
		quoted := make([]string, len(vals))
		for i, v := range vals {
			quoted[i] = `"` + strings.ReplaceAll(v, `"`, `""`) + `"`
		}
		b.WriteString(strings.Join(quoted, ","))
		b.WriteByte('\n')
	}
	return b.Bytes()
}

func zipIndex(d *catalog.Dataset, year int, csvData []byte) ([]byte, error) {
	var b bytes.Buffer
	zw := zip.NewWriter(&b)
	f, err := zw.Create(IndexFileName(d.ID, year, catalog.IndexTypeCSV))
	if err != nil {
		return nil, err
	}
	if _, err := f.Write(csvData); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func buildParquetIndex(d *catalog.Dataset, m *Manifest, rows []Row) ([]byte, error) {
	cols := indexColumns(m)
	schema := make([]string, len(cols))
	for i, c := range cols {
		if c == "filesize" {
			schema[i] = fmt.Sprintf("name=%s, type=INT64", c)
			continue
		}
		schema[i] = fmt.Sprintf("name=%s, type=BYTE_ARRAY, convertedtype=UTF8", c)
	}

	fw, err := buffer.NewBufferFile(nil)
	if err != nil {
		return nil, fmt.Errorf("parquet buffer: %w", err)
	}
	pw, err := writer.NewCSVWriter(schema, fw, 1)
	if err != nil {
		return nil, fmt.Errorf("parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		vals := indexValues(d, m, row)
		rec := make([]any, len(vals))
		for i, v := range vals {
			if cols[i] == "filesize" {
				rec[i] = row.Filesize
				continue
			}
			rec[i] = v
		}
		if err := pw.Write(rec); err != nil {
			return nil, fmt.Errorf("parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("parquet finalize: %w", err)
	}
	// The buffer source hands back source.ParquetFile; the rendered bytes
	// live on the concrete buffer type.
	bf, ok := fw.(interface{ Bytes() []byte })
	if !ok {
		return nil, fmt.Errorf("parquet buffer does not expose its bytes")
	}
	return bf.Bytes(), nil
}
