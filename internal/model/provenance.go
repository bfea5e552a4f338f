package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
)

// now is the provenance clock. Tests in this package may replace it.
var now = func() time.Time { return time.Now().UTC() }

// Provenance is an immutable lineage record describing how a feature was
// produced. The timestamp is stamped at construction and cannot be supplied
// by callers.
type Provenance struct {
	producer     string
	version      string
	parameters   map[string]any
	timestamp    time.Time
	dependencies []string
	references   []string
}

// NewProvenance builds a lineage record. Parameters must be JSON-serializable
// so a run can be reproduced from its stored provenance. Duplicate
// dependencies are collapsed, keeping first occurrence order.
func NewProvenance(producer, version string, parameters map[string]any, dependencies, references []string) (Provenance, error) {
	if producer == "" {
		return Provenance{}, eris.Wrap(ErrValidation, "provenance producer is required")
	}
	params, err := freezeParameters(parameters)
	if err != nil {
		return Provenance{}, eris.Wrapf(err, "provenance for %s", producer)
	}

	var deps []string
	seen := make(map[string]struct{}, len(dependencies))
	for _, d := range dependencies {
		if d == "" {
			return Provenance{}, eris.Wrapf(ErrValidation, "provenance for %s: empty dependency", producer)
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		deps = append(deps, d)
	}

	return Provenance{
		producer:     producer,
		version:      version,
		parameters:   params,
		timestamp:    now(),
		dependencies: deps,
		references:   append([]string(nil), references...),
	}, nil
}

// Producer is the identifier of the analyzer or bridge that created the record.
func (p Provenance) Producer() string { return p.producer }

// Version is the producer's version string.
func (p Provenance) Version() string { return p.version }

// Parameters returns a copy of the configuration used for this invocation.
func (p Provenance) Parameters() map[string]any { return copyMap(p.parameters) }

// Timestamp is the creation instant (UTC).
func (p Provenance) Timestamp() time.Time { return p.timestamp }

// Dependencies returns the upstream producer identifiers, empty for primary
// analyzers.
func (p Provenance) Dependencies() []string { return append([]string(nil), p.dependencies...) }

// References returns the external citations.
func (p Provenance) References() []string { return append([]string(nil), p.references...) }

// IsZero reports whether p was never constructed.
func (p Provenance) IsZero() bool { return p.producer == "" }

func (p Provenance) String() string {
	return fmt.Sprintf("%s@%s (%s)", p.producer, p.version, p.timestamp.Format(time.RFC3339))
}

type provenanceJSON struct {
	Producer     string         `json:"producer"`
	Version      string         `json:"version"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
	Dependencies []string       `json:"dependencies,omitempty"`
	References   []string       `json:"references,omitempty"`
}

// MarshalJSON encodes the record with an RFC 3339 timestamp.
func (p Provenance) MarshalJSON() ([]byte, error) {
	return json.Marshal(provenanceJSON{
		Producer:     p.producer,
		Version:      p.version,
		Parameters:   p.parameters,
		Timestamp:    p.timestamp,
		Dependencies: p.dependencies,
		References:   p.references,
	})
}

// UnmarshalJSON restores a persisted record, including its original
// timestamp.
func (p *Provenance) UnmarshalJSON(b []byte) error {
	var raw provenanceJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return eris.Wrap(err, "provenance: decode")
	}
	restored, err := restoreProvenance(raw)
	if err != nil {
		return err
	}
	*p = restored
	return nil
}

func restoreProvenance(raw provenanceJSON) (Provenance, error) {
	rebuilt, err := NewProvenance(raw.Producer, raw.Version, raw.Parameters, raw.Dependencies, raw.References)
	if err != nil {
		return Provenance{}, err
	}
	if raw.Timestamp.IsZero() {
		return Provenance{}, eris.Wrapf(ErrValidation, "provenance for %s: missing timestamp", raw.Producer)
	}
	rebuilt.timestamp = raw.Timestamp.UTC()
	return rebuilt, nil
}

// freezeParameters round-trips parameters through JSON, which both proves
// they are serializable and yields a deep copy detached from the caller.
func freezeParameters(parameters map[string]any) (map[string]any, error) {
	if len(parameters) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(parameters)
	if err != nil {
		return nil, eris.Wrapf(ErrValidation, "parameters are not serializable: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, eris.Wrapf(ErrValidation, "parameters are not serializable: %v", err)
	}
	return out, nil
}
