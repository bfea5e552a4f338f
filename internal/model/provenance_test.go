package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freezeClock(t *testing.T, at time.Time) {
	t.Helper()
	orig := now
	now = func() time.Time { return at }
	t.Cleanup(func() { now = orig })
}

func TestNewProvenance_StampsTimestamp(t *testing.T) {
	at := time.Date(2025, 10, 31, 12, 0, 0, 0, time.UTC)
	freezeClock(t, at)

	p, err := NewProvenance("ORFFinder", "0.1.0",
		map[string]any{"min_length": 100, "start_codons": []string{"ATG"}},
		nil,
		[]string{"https://www.ncbi.nlm.nih.gov/orffinder/"},
	)
	require.NoError(t, err)

	assert.Equal(t, "ORFFinder", p.Producer())
	assert.Equal(t, "0.1.0", p.Version())
	assert.Equal(t, at, p.Timestamp())
	assert.Empty(t, p.Dependencies())
	assert.Equal(t, []string{"https://www.ncbi.nlm.nih.gov/orffinder/"}, p.References())
	assert.InDelta(t, 100, p.Parameters()["min_length"], 0.001)
	assert.Equal(t, "ORFFinder@0.1.0 (2025-10-31T12:00:00Z)", p.String())
}

func TestNewProvenance_ParametersAreDetached(t *testing.T) {
	t.Parallel()

	nested := map[string]any{"k": "v"}
	params := map[string]any{"nested": nested}
	p, err := NewProvenance("a", "1", params, nil, nil)
	require.NoError(t, err)

	nested["k"] = "changed"
	params["extra"] = true

	got := p.Parameters()
	assert.NotContains(t, got, "extra")
	assert.Equal(t, "v", got["nested"].(map[string]any)["k"])
}

func TestNewProvenance_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewProvenance("", "1", nil, nil, nil)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = NewProvenance("a", "1", map[string]any{"fn": func() {}}, nil, nil)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = NewProvenance("a", "1", nil, []string{""}, nil)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestNewProvenance_CollapsesDuplicateDependencies(t *testing.T) {
	t.Parallel()

	p, err := NewProvenance("bridge", "1", nil, []string{"b", "a", "b"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, p.Dependencies())
}

func TestProvenance_JSONRoundTrip(t *testing.T) {
	at := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	freezeClock(t, at)

	p, err := NewProvenance("cluster", "0.2.0", map[string]any{"max_gap": 50}, []string{"motif"}, []string{"doi:1"})
	require.NoError(t, err)

	data, err := json.Marshal(p)
	require.NoError(t, err)

	// Decoding restores the stored instant rather than re-stamping.
	freezeClock(t, at.Add(24*time.Hour))

	var decoded Provenance
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, p.Producer(), decoded.Producer())
	assert.Equal(t, p.Version(), decoded.Version())
	assert.Equal(t, at, decoded.Timestamp())
	assert.Equal(t, []string{"motif"}, decoded.Dependencies())
	assert.Equal(t, []string{"doi:1"}, decoded.References())
}

func TestProvenance_UnmarshalRequiresTimestamp(t *testing.T) {
	t.Parallel()

	var p Provenance
	err := json.Unmarshal([]byte(`{"producer":"a","version":"1"}`), &p)
	assert.ErrorIs(t, err, ErrValidation)
}
