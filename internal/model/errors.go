package model

import "github.com/rotisserie/eris"

// Error taxonomy. Callers classify failures with errors.Is against these
// sentinels; concrete errors wrap them with context via eris.
var (
	// ErrValidation covers out-of-range scores, malformed weight vectors and
	// other construction-time invariant violations.
	ErrValidation = eris.New("validation error")

	// ErrInvalidSequence is returned for empty input or disallowed characters.
	ErrInvalidSequence = eris.New("invalid sequence")

	// ErrEvidenceConflict is returned when merging supporting evidence finds
	// different values under the same key.
	ErrEvidenceConflict = eris.New("evidence conflict")

	// ErrIncomparableFeature is returned when comparing intervals that live on
	// different sequences.
	ErrIncomparableFeature = eris.New("incomparable features")

	// ErrDuplicateRegistration is returned when an identifier is already registered.
	ErrDuplicateRegistration = eris.New("duplicate registration")

	// ErrNotFound is returned for unknown registry identifiers and missing records.
	ErrNotFound = eris.New("not found")

	// ErrUnsatisfiableTarget is returned when no producer chain reaches the
	// requested scale or the dependency graph contains a cycle.
	ErrUnsatisfiableTarget = eris.New("unsatisfiable target")

	// ErrRegistryFrozen is returned when registering after the first create.
	ErrRegistryFrozen = eris.New("registry frozen")

	// ErrContractViolation is returned when an analyzer or bridge emits output
	// that breaks its contract.
	ErrContractViolation = eris.New("contract violation")

	// ErrCancelled marks a pipeline run stopped by cooperative cancellation.
	ErrCancelled = eris.New("run cancelled")
)
