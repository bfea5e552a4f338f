package main

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/sells-group/genomesim/internal/analysis"
	"github.com/sells-group/genomesim/internal/analyzers"
	"github.com/sells-group/genomesim/internal/engine"
	"github.com/sells-group/genomesim/internal/export"
	"github.com/sells-group/genomesim/internal/model"
	"github.com/sells-group/genomesim/internal/registry"
	"github.com/sells-group/genomesim/internal/resilience"
	"github.com/sells-group/genomesim/internal/seqio"
	"github.com/sells-group/genomesim/internal/store"
)

var annotateCmd = &cobra.Command{
	Use:   "annotate",
	Short: "Annotate sequences up to a target scale",
	Long: "Reads FASTA (or a raw sequence), runs every producer needed to reach the target scale, " +
		"and writes the integrated features as GFF3, JSONL or XLSX.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("annotate"); err != nil {
			return err
		}
		ctx := cmd.Context()

		seq, _ := cmd.Flags().GetString("sequence")
		file, _ := cmd.Flags().GetString("file")
		id, _ := cmd.Flags().GetString("id")
		targetName, _ := cmd.Flags().GetString("target")
		formatName, _ := cmd.Flags().GetString("format")
		out, _ := cmd.Flags().GetString("out")
		all, _ := cmd.Flags().GetBool("all")
		persist, _ := cmd.Flags().GetBool("persist")

		if targetName == "" {
			targetName = cfg.Engine.Target
		}
		target, err := model.ParseScale(targetName)
		if err != nil {
			return err
		}
		format, err := export.ParseFormat(formatName)
		if err != nil {
			return err
		}
		if format == export.FormatXLSX && out == "" {
			return eris.New("annotate: --out is required for xlsx output")
		}

		var records []seqio.Record
		if seq != "" {
			records = []seqio.Record{{ID: id, Residues: seq}}
		} else {
			records, err = seqio.ReadFile(file, id)
			if err != nil {
				return err
			}
		}
		if len(records) == 0 {
			return eris.Wrap(model.ErrInvalidSequence, "annotate: no input sequences")
		}

		eng, err := newEngine()
		if err != nil {
			return err
		}

		var st store.Store
		if persist {
			st, err = initStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck
		}

		features, err := annotate(ctx, eng, st, records, target, all)
		if err != nil {
			return err
		}
		return writeFeatures(cmd.OutOrStdout(), format, out, features)
	},
}

func init() {
	annotateCmd.Flags().String("sequence", "", "raw sequence to annotate (overrides --file)")
	annotateCmd.Flags().String("file", "-", "FASTA file to read, - for stdin, .gz is decompressed")
	annotateCmd.Flags().String("id", "seq1", "sequence id for raw input without a FASTA header")
	annotateCmd.Flags().String("target", "", "target scale (default from engine.target)")
	annotateCmd.Flags().String("format", "gff3", "output format: gff3, gff (version 2), jsonl or xlsx")
	annotateCmd.Flags().String("out", "", "output path (default stdout; required for xlsx)")
	annotateCmd.Flags().Bool("all", false, "emit features at every scale, not only the target")
	annotateCmd.Flags().Bool("persist", false, "record each run and its features in the store")
	rootCmd.AddCommand(annotateCmd)
}

// newEngine builds an engine over the built-in producers.
func newEngine() (*engine.Engine, error) {
	reg := registry.New()
	if err := analyzers.RegisterBuiltins(reg); err != nil {
		return nil, err
	}
	return engine.New(reg, engine.Config{
		MaxWorkers: cfg.Engine.MaxWorkers,
		Tolerance:  cfg.Engine.AmbiguityTolerance,
	}), nil
}

func producerOptions() map[string]analysis.Options {
	raw := cfg.ProducerOptions()
	out := make(map[string]analysis.Options, len(raw))
	for id, opts := range raw {
		out[id] = analysis.Options(opts)
	}
	return out
}

// annotate runs every record in order and stops at the first failure. When
// st is non-nil each run is persisted, including the partial features of a
// failed run.
func annotate(ctx context.Context, eng *engine.Engine, st store.Store, records []seqio.Record, target model.Scale, all bool) ([]model.GenomicFeature, error) {
	opts := producerOptions()

	var features []model.GenomicFeature
	for _, rec := range records {
		var run *model.Run
		if st != nil {
			r, err := st.CreateRun(ctx, rec.ID, target)
			if err != nil {
				return nil, err
			}
			run = r
		}

		res, runErr := eng.Run(ctx, engine.Request{
			Sequence:   rec.Residues,
			SequenceID: rec.ID,
			Target:     target,
			Options:    opts,
		})

		if run != nil {
			if err := recordRun(context.WithoutCancel(ctx), eng, st, run.ID, target, opts, res, runErr); err != nil {
				return nil, multierr.Append(runErr, err)
			}
		}
		if runErr != nil {
			return nil, eris.Wrapf(runErr, "annotate %s", rec.ID)
		}

		if all {
			features = append(features, res.All...)
		} else {
			features = append(features, res.Features...)
		}
	}
	return features, nil
}

func recordRun(ctx context.Context, eng *engine.Engine, st store.Store, runID string, target model.Scale, opts map[string]analysis.Options, res *engine.Result, runErr error) error {
	result := &model.RunResult{Status: model.RunStatusComplete, Plan: []string{}}
	var saved []model.GenomicFeature

	var re *engine.RunError
	switch {
	case runErr == nil:
		result.Plan = res.Plan.IDs()
		saved = res.All
	case errors.As(runErr, &re):
		result.Status = model.RunStatusFailed
		saved = re.Partial
	case errors.Is(runErr, model.ErrCancelled):
		result.Status = model.RunStatusCancelled
	default:
		result.Status = model.RunStatusFailed
	}
	if runErr != nil {
		result.Error = runErr.Error()
		if plan, err := eng.Plan(target, opts); err == nil {
			result.Plan = plan.IDs()
		}
	}

	policy := storePolicy()
	policy.OnRetry = resilience.Logger("save features", runID)
	n, err := resilience.DoVal(ctx, policy, func(ctx context.Context) (int, error) {
		return st.SaveFeatures(ctx, runID, saved)
	})
	if err != nil {
		return err
	}
	result.FeatureCount = n

	policy.OnRetry = resilience.Logger("update run result", runID)
	err = resilience.Do(ctx, policy, func(ctx context.Context) error {
		return st.UpdateRunResult(ctx, runID, result)
	})
	if err != nil {
		return err
	}
	zap.L().Info("annotate: run recorded",
		zap.String("run_id", runID),
		zap.String("status", string(result.Status)),
		zap.Int("features", n),
	)
	return nil
}

func writeFeatures(stdout io.Writer, format export.Format, out string, features []model.GenomicFeature) error {
	if format == export.FormatXLSX {
		return export.WriteXLSX(out, features)
	}
	if out == "" {
		return export.Write(stdout, format, features)
	}
	fh, err := os.Create(out)
	if err != nil {
		return eris.Wrapf(err, "create %s", out)
	}
	if err := export.Write(fh, format, features); err != nil {
		fh.Close() //nolint:errcheck
		return err
	}
	return eris.Wrapf(fh.Close(), "close %s", out)
}
