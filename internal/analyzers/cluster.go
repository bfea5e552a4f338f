package analyzers

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/genomesim/internal/analysis"
	"github.com/sells-group/genomesim/internal/model"
)

// ClusterID is the registry identifier of the motif cluster bridge.
const ClusterID = "cluster.regulatory"

// Cluster groups nearby motifs into regulatory regions at DOMAIN scale.
// Motifs separated by at most maxGap bases join the same cluster; clusters
// with fewer than minMembers motifs are dropped.
type Cluster struct {
	maxGap     int
	minMembers int
	mode       model.CombineMode
}

// NewCluster builds a Cluster from options max_gap (50), min_members (2) and
// mode (weighted_average).
func NewCluster(opts analysis.Options) (analysis.Bridge, error) {
	maxGap, err := optInt(opts, "max_gap", 50)
	if err != nil {
		return nil, err
	}
	minMembers, err := optInt(opts, "min_members", 2)
	if err != nil {
		return nil, err
	}
	mode, err := optMode(opts, "mode", model.WeightedAverage)
	if err != nil {
		return nil, err
	}
	if maxGap < 0 {
		return nil, eris.Wrapf(model.ErrValidation, "max_gap must not be negative, got %d", maxGap)
	}
	if minMembers < 1 {
		return nil, eris.Wrapf(model.ErrValidation, "min_members must be at least 1, got %d", minMembers)
	}
	return &Cluster{maxGap: maxGap, minMembers: minMembers, mode: mode}, nil
}

func (c *Cluster) Describe() analysis.BridgeDescriptor {
	return analysis.BridgeDescriptor{
		InputScales: []model.Scale{model.ScaleMotif},
		OutputScale: model.ScaleDomain,
		Version:     "1.0.0",
	}
}

func (c *Cluster) Parameters() map[string]any {
	return map[string]any{"max_gap": c.maxGap, "min_members": c.minMembers, "mode": string(c.mode)}
}

func (c *Cluster) Bridge(ctx context.Context, ev analysis.Evidence) ([]analysis.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "cluster: bridge")
	}
	motifs := sortedByPosition(ev.At(model.ScaleMotif))

	var out []analysis.Candidate
	var group []int
	groupEnd := 0
	flush := func() error {
		if len(group) >= c.minMembers {
			cand, err := c.candidate(motifs, group)
			if err != nil {
				return err
			}
			out = append(out, cand)
		}
		group = group[:0]
		return nil
	}

	for i, f := range motifs {
		if len(group) > 0 && f.Start()-groupEnd > c.maxGap {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		if len(group) == 0 || f.End() > groupEnd {
			groupEnd = f.End()
		}
		group = append(group, i)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Cluster) candidate(motifs []model.GenomicFeature, group []int) (analysis.Candidate, error) {
	inputs := make([]model.GenomicFeature, len(group))
	confs := make([]model.Confidence, len(group))
	names := make(map[string]bool)
	start, end := motifs[group[0]].Start(), 0
	strand := motifs[group[0]].Strand()

	for k, idx := range group {
		f := motifs[idx]
		inputs[k] = f
		confs[k] = f.Confidence().Qualify(fmt.Sprintf("%s.%d", f.Provenance().Producer(), idx))
		if f.Start() < start {
			start = f.Start()
		}
		if f.End() > end {
			end = f.End()
		}
		if f.Strand() != strand {
			strand = model.StrandUnknown
		}
		if v, ok := f.Attribute("motif"); ok {
			names[fmt.Sprint(v)] = true
		}
	}

	conf, err := model.Aggregate(confs, c.mode, nil)
	if err != nil {
		return analysis.Candidate{}, eris.Wrap(err, "cluster: aggregate")
	}

	attrs := map[string]any{"members": len(group)}
	if len(names) > 0 {
		list := make([]string, 0, len(names))
		for n := range names {
			list = append(list, n)
		}
		sort.Strings(list)
		attrs["motifs"] = strings.Join(list, ",")
	}

	return analysis.Candidate{
		Start:       start,
		End:         end,
		Strand:      strand,
		FeatureType: "regulatory_region",
		Confidence:  conf,
		Attributes:  attrs,
		Inputs:      inputs,
	}, nil
}

// sortedByPosition returns a copy of fs ordered by start then end, keeping
// input order for ties.
func sortedByPosition(fs []model.GenomicFeature) []model.GenomicFeature {
	out := append([]model.GenomicFeature(nil), fs...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Start() != out[j].Start() {
			return out[i].Start() < out[j].Start()
		}
		return out[i].End() < out[j].End()
	})
	return out
}
