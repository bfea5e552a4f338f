// Package store persists annotation runs and their integrated features.
package store

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/genomesim/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status     model.RunStatus `json:"status,omitempty"`
	SequenceID string          `json:"sequence_id,omitempty"`
	Limit      int             `json:"limit,omitempty"`
	Offset     int             `json:"offset,omitempty"`
}

// FeatureFilter narrows ListFeatures. An empty Scales slice means every scale.
type FeatureFilter struct {
	Scales []model.Scale `json:"scales,omitempty"`
}

// Store defines the persistence interface for annotation runs.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, sequenceID string, target model.Scale) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	UpdateRunResult(ctx context.Context, runID string, result *model.RunResult) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Features are keyed by (run, ordinal); saving again overwrites.
	SaveFeatures(ctx context.Context, runID string, features []model.GenomicFeature) (int, error)
	ListFeatures(ctx context.Context, runID string, filter FeatureFilter) ([]model.GenomicFeature, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

// featureColumns is the column order shared by both backends.
var featureColumns = []string{
	"run_id", "ordinal", "sequence_id", "scale", "feature_type",
	"start_pos", "end_pos", "strand", "score", "producer", "record",
}

func featureRows(runID string, features []model.GenomicFeature) ([][]any, error) {
	rows := make([][]any, len(features))
	for i, f := range features {
		rec := f.ToInterchangeRecord()
		raw, err := json.Marshal(rec)
		if err != nil {
			return nil, eris.Wrapf(err, "store: marshal feature %d", i)
		}
		rows[i] = []any{
			runID, i, rec.SequenceID, rec.Scale.String(), rec.FeatureType,
			rec.Start, rec.End, string(rec.Strand), rec.ConfidenceScore, rec.Producer, string(raw),
		}
	}
	return rows, nil
}

func decodeFeature(raw []byte) (model.GenomicFeature, error) {
	var rec model.InterchangeRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return model.GenomicFeature{}, eris.Wrap(err, "store: unmarshal feature record")
	}
	return model.FeatureFromRecord(rec)
}

func scaleNames(scales []model.Scale) []string {
	out := make([]string, len(scales))
	for i, sc := range scales {
		out[i] = sc.String()
	}
	return out
}

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}
