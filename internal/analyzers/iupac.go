package analyzers

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/genomesim/internal/model"
)

var iupac = map[byte]string{
	'A': "A", 'C': "C", 'G': "G", 'T': "T",
	'R': "AG", 'Y': "CT", 'S': "GC", 'W': "AT",
	'K': "GT", 'M': "AC", 'B': "CGT", 'D': "AGT",
	'H': "ACT", 'V': "ACG", 'N': "ACGT",
}

var complement = map[byte]byte{
	'A': 'T', 'C': 'G', 'G': 'C', 'T': 'A',
	'R': 'Y', 'Y': 'R',
	'S': 'S', 'W': 'W',
	'K': 'M', 'M': 'K',
	'B': 'V', 'V': 'B',
	'D': 'H', 'H': 'D',
	'N': 'N',
}

// baseMatch reports whether genomic base g is allowed by pattern code p.
// baseMatch('G', 'R') is true because R = {A,G}.
func baseMatch(g, p byte) bool {
	allowed, ok := iupac[p]
	if !ok {
		return false
	}
	return strings.IndexByte(allowed, g) >= 0
}

// called reports whether g is an unambiguous DNA base.
func called(g byte) bool {
	switch g {
	case 'A', 'C', 'G', 'T':
		return true
	}
	return false
}

func revComp(seq string) string {
	n := len(seq)
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		if c, ok := complement[seq[n-1-i]]; ok {
			out[i] = c
		} else {
			out[i] = 'N'
		}
	}
	return string(out)
}

// normalizePattern upper-cases p, maps U to T and rejects non-IUPAC codes.
func normalizePattern(p string) (string, error) {
	p = strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(p)), "U", "T")
	if p == "" {
		return "", eris.Wrap(model.ErrValidation, "empty motif pattern")
	}
	for i := 0; i < len(p); i++ {
		if _, ok := iupac[p[i]]; !ok {
			return "", eris.Wrapf(model.ErrValidation, "motif pattern %q has non-IUPAC code %q", p, p[i])
		}
	}
	return p, nil
}
