package export

import (
	"io"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/genomesim/internal/model"
)

// Format is an output encoding.
type Format string

const (
	FormatGFF3  Format = "gff3"
	FormatGFF   Format = "gff"
	FormatJSONL Format = "jsonl"
	FormatXLSX  Format = "xlsx"
)

// ParseFormat parses a format name, case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatGFF3, FormatGFF, FormatJSONL, FormatXLSX:
		return f, nil
	}
	return "", eris.Wrapf(model.ErrValidation, "unknown export format %q", s)
}

// Write encodes features to w. XLSX needs a file path and is written with
// WriteXLSX instead.
func Write(w io.Writer, format Format, features []model.GenomicFeature) error {
	switch format {
	case FormatGFF3:
		return WriteGFF3(w, features)
	case FormatGFF:
		return WriteGFF(w, features)
	case FormatJSONL:
		return WriteJSONL(w, features)
	case FormatXLSX:
		return eris.Wrap(model.ErrValidation, "xlsx output requires a file path")
	}
	return eris.Wrapf(model.ErrValidation, "unknown export format %q", format)
}
