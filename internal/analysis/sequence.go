package analysis

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/genomesim/internal/model"
)

// Base classes used by the nucleotide alphabet.
const (
	calledBases    = "ACGTU"
	ambiguousBases = "NRYSWKMBDHV"
)

// Alphabet partitions symbols into called and ambiguous bases. Anything else
// is disallowed.
type Alphabet struct {
	Called    string
	Ambiguous string
}

// NucleotideAlphabet accepts DNA/RNA bases with IUPAC ambiguity codes.
var NucleotideAlphabet = Alphabet{Called: calledBases, Ambiguous: ambiguousBases}

// AlphabetFor returns the alphabet raw input must satisfy for an analyzer
// reading at the given scale. Every analyzer consumes the base sequence, so
// all scales currently share the nucleotide alphabet.
func AlphabetFor(model.Scale) Alphabet {
	return NucleotideAlphabet
}

// Profile summarizes a validated sequence's base calls.
type Profile struct {
	Length     int `json:"length"`
	Ambiguous  int `json:"ambiguous"`
	Disallowed int `json:"disallowed"`
}

// AmbiguousFraction is the share of ambiguous symbols.
func (p Profile) AmbiguousFraction() float64 {
	if p.Length == 0 {
		return 0
	}
	return float64(p.Ambiguous) / float64(p.Length)
}

// CalledFraction is the share of unambiguous bases.
func (p Profile) CalledFraction() float64 {
	if p.Length == 0 {
		return 0
	}
	return float64(p.Length-p.Ambiguous-p.Disallowed) / float64(p.Length)
}

// Validator checks raw input before any analyzer sees it.
type Validator struct {
	Alphabet Alphabet
	// Tolerance is the maximum fraction of disallowed symbols accepted.
	// Accepted disallowed symbols are rewritten to 'N'.
	Tolerance float64
}

// Sequence is a validated, upper-cased input sequence. It can only be
// obtained from Validator.Validate, so analyzers never see unchecked input.
type Sequence struct {
	id       string
	residues string
	profile  Profile
}

// ID is the optional source sequence identifier.
func (s Sequence) ID() string { return s.id }

// Residues is the normalized sequence text.
func (s Sequence) Residues() string { return s.residues }

// Len is the number of residues.
func (s Sequence) Len() int { return len(s.residues) }

// Profile returns the base-call summary computed during validation.
func (s Sequence) Profile() Profile { return s.profile }

// Window returns the profile of residues[start:end].
func (s Sequence) Window(start, end int) Profile {
	if start < 0 {
		start = 0
	}
	if end > len(s.residues) {
		end = len(s.residues)
	}
	p := Profile{}
	if end <= start {
		return p
	}
	p.Length = end - start
	for i := start; i < end; i++ {
		if strings.IndexByte(ambiguousBases, s.residues[i]) >= 0 {
			p.Ambiguous++
		}
	}
	return p
}

// Validate normalizes raw and checks it against the alphabet. Empty input
// is always an ErrInvalidSequence. Ambiguous symbols never fail validation;
// they are reported in the profile so analyzers can lower confidence.
func (v Validator) Validate(raw, id string) (Sequence, error) {
	residues := strings.ToUpper(strings.Join(strings.Fields(raw), ""))
	if residues == "" {
		return Sequence{}, eris.Wrap(model.ErrInvalidSequence, "sequence is empty")
	}

	alphabet := v.Alphabet
	if alphabet.Called == "" {
		alphabet = NucleotideAlphabet
	}

	p := Profile{Length: len(residues)}
	var bad []byte
	for i := 0; i < len(residues); i++ {
		c := residues[i]
		switch {
		case strings.IndexByte(alphabet.Called, c) >= 0:
		case strings.IndexByte(alphabet.Ambiguous, c) >= 0:
			p.Ambiguous++
		default:
			p.Disallowed++
			if len(bad) < 8 && !containsByte(bad, c) {
				bad = append(bad, c)
			}
		}
	}

	if p.Disallowed > 0 {
		frac := float64(p.Disallowed) / float64(p.Length)
		if frac > v.Tolerance {
			return Sequence{}, eris.Wrapf(model.ErrInvalidSequence,
				"%d disallowed characters (%.4f > tolerance %.4f), e.g. %q",
				p.Disallowed, frac, v.Tolerance, string(bad))
		}
		residues = maskDisallowed(residues, alphabet)
		p.Ambiguous += p.Disallowed
		p.Disallowed = 0
	}

	return Sequence{id: id, residues: residues, profile: p}, nil
}

func maskDisallowed(residues string, a Alphabet) string {
	b := []byte(residues)
	for i, c := range b {
		if strings.IndexByte(a.Called, c) < 0 && strings.IndexByte(a.Ambiguous, c) < 0 {
			b[i] = 'N'
		}
	}
	return string(b)
}

func containsByte(b []byte, c byte) bool {
	for _, x := range b {
		if x == c {
			return true
		}
	}
	return false
}
