package export

import (
	"bufio"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"

	"github.com/sells-group/genomesim/internal/model"
)

const maxJSONLLine = 16 * 1024 * 1024

// WriteJSONL writes one interchange record per line.
func WriteJSONL(w io.Writer, features []model.GenomicFeature) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for i, f := range features {
		if err := enc.Encode(f.ToInterchangeRecord()); err != nil {
			return eris.Wrapf(err, "jsonl: encode feature %d", i)
		}
	}
	return eris.Wrap(bw.Flush(), "jsonl: flush")
}

// ReadJSONL decodes interchange records written by WriteJSONL, re-validating
// every feature. Blank lines are skipped.
func ReadJSONL(r io.Reader) ([]model.GenomicFeature, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxJSONLLine)

	var out []model.GenomicFeature
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var rec model.InterchangeRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return nil, eris.Wrapf(err, "jsonl: line %d", line)
		}
		f, err := model.FeatureFromRecord(rec)
		if err != nil {
			return nil, eris.Wrapf(err, "jsonl: line %d", line)
		}
		out = append(out, f)
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "jsonl: read")
	}
	return out, nil
}
