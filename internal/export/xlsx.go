package export

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/genomesim/internal/model"
)

// Sheet names used by WriteXLSX.
const (
	FeaturesSheet = "features"
	SummarySheet  = "summary"
)

// XLSXColumns is the header row of the features sheet.
var XLSXColumns = []string{
	"sequence_id", "start", "end", "strand", "feature_type", "scale",
	"confidence_score", "confidence_level", "confidence_method", "confidence_sources",
	"producer", "producer_version", "timestamp", "dependencies", "attributes",
}

// WriteXLSX saves features to a workbook at path with a features sheet and
// a per-scale summary sheet.
func WriteXLSX(path string, features []model.GenomicFeature) error {
	f := xlsx.NewFile()

	sheet, err := f.AddSheet(FeaturesSheet)
	if err != nil {
		return eris.Wrap(err, "xlsx: add features sheet")
	}
	addStringRow(sheet, XLSXColumns)

	counts := make(map[model.Scale]int)
	for _, feat := range features {
		rec := feat.ToInterchangeRecord()
		counts[rec.Scale]++

		attrs := ""
		if len(rec.Attributes) > 0 {
			b, err := json.Marshal(rec.Attributes)
			if err != nil {
				return eris.Wrap(err, "xlsx: encode attributes")
			}
			attrs = string(b)
		}

		row := sheet.AddRow()
		row.AddCell().SetString(rec.SequenceID)
		row.AddCell().SetInt(rec.Start)
		row.AddCell().SetInt(rec.End)
		row.AddCell().SetString(string(rec.Strand))
		row.AddCell().SetString(rec.FeatureType)
		row.AddCell().SetString(rec.Scale.String())
		row.AddCell().SetFloat(rec.ConfidenceScore)
		row.AddCell().SetString(string(rec.ConfidenceLevel))
		row.AddCell().SetString(ShortMethod(rec.ConfidenceMethod))
		row.AddCell().SetString(strings.Join(rec.ConfidenceSources, ";"))
		row.AddCell().SetString(rec.Producer)
		row.AddCell().SetString(rec.ProducerVersion)
		row.AddCell().SetString(rec.Timestamp.UTC().Format(time.RFC3339))
		row.AddCell().SetString(strings.Join(rec.Dependencies, ";"))
		row.AddCell().SetString(attrs)
	}

	summary, err := f.AddSheet(SummarySheet)
	if err != nil {
		return eris.Wrap(err, "xlsx: add summary sheet")
	}
	addStringRow(summary, []string{"scale", "features"})
	for _, sc := range model.Scales() {
		if counts[sc] == 0 {
			continue
		}
		row := summary.AddRow()
		row.AddCell().SetString(sc.String())
		row.AddCell().SetInt(counts[sc])
	}

	if err := f.Save(path); err != nil {
		return eris.Wrap(err, "xlsx: save")
	}
	return nil
}

func addStringRow(sheet *xlsx.Sheet, values []string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}
