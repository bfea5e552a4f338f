// Package analyzers holds the built-in analyzers and bridges.
//
// The set forms a small regulatory annotation chain:
//
//	composition.gc      nucleotide → nucleotide  GC-rich regions
//	motif.iupac         nucleotide → motif       IUPAC consensus hits
//	cluster.regulatory  motif → domain           motif clusters
//	locus.gene          nucleotide,domain → gene candidate loci
package analyzers

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/genomesim/internal/registry"
)

// RegisterBuiltins adds every built-in producer to r.
func RegisterBuiltins(r *registry.Registry) error {
	if err := r.RegisterAnalyzer(CompositionID, NewComposition); err != nil {
		return eris.Wrap(err, "register builtins")
	}
	if err := r.RegisterAnalyzer(MotifID, NewMotif); err != nil {
		return eris.Wrap(err, "register builtins")
	}
	if err := r.RegisterBridge(ClusterID, NewCluster); err != nil {
		return eris.Wrap(err, "register builtins")
	}
	if err := r.RegisterBridge(LocusID, NewLocus); err != nil {
		return eris.Wrap(err, "register builtins")
	}
	return nil
}
