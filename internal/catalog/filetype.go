package catalog

import (
	"fmt"
	"path"
	"strings"
)

// FileType tags the physical format of a dataset's payload files.
type FileType string

const (
	FileTypeFITS    FileType = "fits"
	FileTypeCSV     FileType = "csv"
	FileTypeCDF     FileType = "cdf"
	FileTypeNetCDF3 FileType = "netcdf3"
	FileTypeHDF5    FileType = "hdf5"
	FileTypeDatamap FileType = "datamap"
	FileTypeOther   FileType = "other"
)

// fileTypeAliases maps common extension spellings onto the canonical tag.
var fileTypeAliases = map[string]FileType{
	"fits":    FileTypeFITS,
	"fts":     FileTypeFITS,
	"fit":     FileTypeFITS,
	"csv":     FileTypeCSV,
	"cdf":     FileTypeCDF,
	"netcdf3": FileTypeNetCDF3,
	"netcdf":  FileTypeNetCDF3,
	"ncd":     FileTypeNetCDF3,
	"nc":      FileTypeNetCDF3,
	"hdf5":    FileTypeHDF5,
	"hdf":     FileTypeHDF5,
	"h5":      FileTypeHDF5,
	"datamap": FileTypeDatamap,
	"other":   FileTypeOther,
	"txt":     FileTypeOther,
	"dat":     FileTypeOther,
	"json":    FileTypeOther,
}

// ParseFileType normalizes s through the alias table.
func ParseFileType(s string) (FileType, error) {
	ft, ok := fileTypeAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", &ValidationError{Field: "filetype", Reason: fmt.Sprintf("unknown file type %q", s)}
	}
	return ft, nil
}

// FileTypeForKey derives the file type from an object key's extension.
func FileTypeForKey(key string) (FileType, error) {
	ext := strings.TrimPrefix(path.Ext(key), ".")
	if ext == "" {
		return "", &ValidationError{Field: "filetype", Reason: fmt.Sprintf("key %q has no extension", key)}
	}
	ft, err := ParseFileType(ext)
	if err != nil {
		return "", &ValidationError{Field: "filetype", Reason: fmt.Sprintf("unsupported extension %q on key %q", ext, key)}
	}
	return ft, nil
}

// MergeFileTypes unions b into a, preserving a's order and de-duplicating.
func MergeFileTypes(a, b []FileType) []FileType {
	seen := make(map[FileType]struct{}, len(a)+len(b))
	out := make([]FileType, 0, len(a)+len(b))
	for _, ft := range a {
		if _, ok := seen[ft]; !ok {
			seen[ft] = struct{}{}
			out = append(out, ft)
		}
	}
	for _, ft := range b {
		if _, ok := seen[ft]; !ok {
			seen[ft] = struct{}{}
			out = append(out, ft)
		}
	}
	return out
}

// IndexType selects the serialization of a dataset's per-year file index.
type IndexType string

const (
	IndexTypeCSV     IndexType = "csv"
	IndexTypeCSVZip  IndexType = "csv_zip"
	IndexTypeParquet IndexType = "parquet"
)

func ParseIndexType(s string) (IndexType, error) {
	switch IndexType(strings.ToLower(strings.TrimSpace(s))) {
	case IndexTypeCSV:
		return IndexTypeCSV, nil
	case IndexTypeCSVZip:
		return IndexTypeCSVZip, nil
	case IndexTypeParquet:
		return IndexTypeParquet, nil
	case "":
		return IndexTypeCSV, nil
	}
	return "", &ValidationError{Field: "indextype", Reason: fmt.Sprintf("unknown index type %q", s)}
}
