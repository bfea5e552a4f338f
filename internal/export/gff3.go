// Package export encodes genomic features for external tools.
package export

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/biogo/biogo/io/featio/gff"
	"github.com/biogo/biogo/seq"
	"github.com/rotisserie/eris"

	"github.com/sells-group/genomesim/internal/model"
)

// GFF3Header is the mandatory first line of a GFF3 file.
const GFF3Header = "##gff-version 3"

var gffEscaper = strings.NewReplacer(
	"%", "%25",
	";", "%3B",
	"=", "%3D",
	"&", "%26",
	",", "%2C",
	"\t", "%09",
	"\n", "%0A",
	"\r", "%0D",
)

var strands = map[model.Strand]seq.Strand{
	model.StrandForward: seq.Plus,
	model.StrandReverse: seq.Minus,
	model.StrandUnknown: seq.None,
}

// GFFFeature maps f onto a GFF feature record. Attribute values are left
// unescaped; ID and Name come first, then the confidence attributes, then
// the rest sorted by key.
func GFFFeature(f model.GenomicFeature) *gff.Feature {
	seqName := f.SequenceID()
	if seqName == "" {
		seqName = "."
	}
	conf := f.Confidence()
	score := conf.Score()
	attrs := f.Attributes()

	var out gff.Attributes
	for _, key := range []string{"ID", "Name"} {
		lower := strings.ToLower(key)
		if v, ok := attrs[key]; ok {
			out = append(out, gff.Attribute{Tag: key, Value: fmt.Sprint(v)})
		} else if v, ok := attrs[lower]; ok {
			out = append(out, gff.Attribute{Tag: key, Value: fmt.Sprint(v)})
		}
		delete(attrs, key)
		delete(attrs, lower)
	}
	out = append(out,
		gff.Attribute{Tag: "confidence", Value: fmt.Sprintf("%.3f", score)},
		gff.Attribute{Tag: "confidence_method", Value: ShortMethod(conf.Method())},
	)

	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, gff.Attribute{Tag: k, Value: fmt.Sprint(attrs[k])})
	}

	return &gff.Feature{
		SeqName:        seqName,
		Source:         f.Provenance().Producer(),
		Feature:        f.FeatureType(),
		FeatStart:      f.Start(),
		FeatEnd:        f.End(),
		FeatScore:      &score,
		FeatStrand:     strands[f.Strand()],
		FeatFrame:      gff.NoFrame,
		FeatAttributes: out,
	}
}

// GFF3Line renders f as one tab-separated GFF3 line without a trailing
// newline. The start column is 1-based.
func GFF3Line(f model.GenomicFeature) string {
	g := GFFFeature(f)

	parts := make([]string, len(g.FeatAttributes))
	for i, a := range g.FeatAttributes {
		parts[i] = gffEscaper.Replace(a.Tag) + "=" + gffEscaper.Replace(a.Value)
	}

	phase := "."
	if g.FeatFrame != gff.NoFrame {
		phase = strconv.Itoa(int(g.FeatFrame))
	}

	return strings.Join([]string{
		g.SeqName,
		g.Source,
		g.Feature,
		strconv.Itoa(g.FeatStart + 1),
		strconv.Itoa(g.FeatEnd),
		fmt.Sprintf("%.3f", *g.FeatScore),
		strandColumn(g.FeatStrand),
		phase,
		strings.Join(parts, ";"),
	}, "\t")
}

func strandColumn(s seq.Strand) string {
	switch s {
	case seq.Plus:
		return "+"
	case seq.Minus:
		return "-"
	}
	return "."
}

// WriteGFF3 writes the header followed by one line per feature.
func WriteGFF3(w io.Writer, features []model.GenomicFeature) error {
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintln(bw, GFF3Header); err != nil {
		return eris.Wrap(err, "gff3: write header")
	}
	for _, f := range features {
		if _, err := fmt.Fprintln(bw, GFF3Line(f)); err != nil {
			return eris.Wrap(err, "gff3: write feature")
		}
	}
	return eris.Wrap(bw.Flush(), "gff3: flush")
}

// WriteGFF writes version 2 GFF with the biogo writer. Free-text attribute
// values are quoted.
func WriteGFF(w io.Writer, features []model.GenomicFeature) error {
	bw := bufio.NewWriter(w)
	gw := gff.NewWriter(bw, 0, true)
	for i, f := range features {
		g := GFFFeature(f)
		for j, a := range g.FeatAttributes {
			if strings.ContainsAny(a.Value, " \t;\"") {
				g.FeatAttributes[j].Value = strconv.Quote(a.Value)
			}
		}
		if _, err := gw.Write(g); err != nil {
			return eris.Wrapf(err, "gff: write feature %d", i)
		}
	}
	return eris.Wrap(bw.Flush(), "gff: flush")
}
