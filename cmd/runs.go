package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/genomesim/internal/export"
	"github.com/sells-group/genomesim/internal/model"
	"github.com/sells-group/genomesim/internal/resilience"
	"github.com/sells-group/genomesim/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect annotation run history",
	Long:  "Commands for listing, viewing, and exporting persisted annotation runs.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List annotation runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("store"); err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		sequence, _ := cmd.Flags().GetString("sequence")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Status:     model.RunStatus(status),
			SequenceID: sequence,
			Limit:      limit,
			Offset:     offset,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(cmd.OutOrStdout(), runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("store"); err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

// -- runs features --

var runsFeaturesCmd = &cobra.Command{
	Use:   "features <run-id>",
	Short: "Export the stored features of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("store"); err != nil {
			return err
		}
		ctx := cmd.Context()

		scales, _ := cmd.Flags().GetStringSlice("scale")
		formatName, _ := cmd.Flags().GetString("format")
		out, _ := cmd.Flags().GetString("out")

		filter, err := parseFeatureFilter(scales)
		if err != nil {
			return err
		}
		format, err := export.ParseFormat(formatName)
		if err != nil {
			return err
		}
		if format == export.FormatXLSX && out == "" {
			return eris.New("runs features: --out is required for xlsx output")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		features, err := st.ListFeatures(ctx, args[0], filter)
		if err != nil {
			return eris.Wrap(err, "runs features")
		}
		return writeFeatures(cmd.OutOrStdout(), format, out, features)
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("store"); err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := st.ListRuns(ctx, store.RunFilter{Limit: limit})
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}

		formatRunStats(cmd.OutOrStdout(), computeRunStats(runs))
		return nil
	},
}

// -- runs cancel --

var runsCancelCmd = &cobra.Command{
	Use:   "cancel <run-id>",
	Short: "Mark an orphaned running run as cancelled",
	Long:  "Marks a run still recorded as running, for example after the annotating process was killed, as cancelled.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("store"); err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := cancelRun(ctx, st, args[0]); err != nil {
			return eris.Wrap(err, "runs cancel")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Run %s marked cancelled.\n", args[0])
		return nil
	},
}

// cancelRun moves a running run to cancelled. Finished runs are left alone.
func cancelRun(ctx context.Context, st store.Store, runID string) error {
	run, err := st.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Done() {
		return eris.Wrapf(model.ErrValidation, "run %s is already %s", runID, run.Status)
	}

	policy := storePolicy()
	policy.OnRetry = resilience.Logger("update run status", runID)
	return resilience.Do(ctx, policy, func(ctx context.Context) error {
		return st.UpdateRunStatus(ctx, runID, model.RunStatusCancelled)
	})
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by run status (running, complete, failed, cancelled)")
	runsListCmd.Flags().String("sequence", "", "filter by sequence id")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")
	runsListCmd.Flags().Int("offset", 0, "number of runs to skip")

	runsFeaturesCmd.Flags().StringSlice("scale", nil, "only features at these scales")
	runsFeaturesCmd.Flags().String("format", "gff3", "output format: gff3, gff (version 2), jsonl or xlsx")
	runsFeaturesCmd.Flags().String("out", "", "output path (default stdout; required for xlsx)")

	runsStatsCmd.Flags().Int("limit", 10000, "number of most recent runs to include")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsFeaturesCmd)
	runsCmd.AddCommand(runsStatsCmd)
	runsCmd.AddCommand(runsCancelCmd)
	rootCmd.AddCommand(runsCmd)
}

func parseFeatureFilter(names []string) (store.FeatureFilter, error) {
	var f store.FeatureFilter
	for _, n := range names {
		sc, err := model.ParseScale(n)
		if err != nil {
			return store.FeatureFilter{}, err
		}
		f.Scales = append(f.Scales, sc)
	}
	return f, nil
}

// runStats holds aggregate statistics computed from a set of runs.
type runStats struct {
	Total       int
	Complete    int
	Failed      int
	Cancelled   int
	Running     int
	Features    int
	AvgDurSecs  float64
	ByTarget    map[model.Scale]int
	TopFailures map[string]int
}

// computeRunStats computes aggregate statistics from a list of runs.
func computeRunStats(runs []model.Run) runStats {
	s := runStats{
		Total:       len(runs),
		ByTarget:    make(map[model.Scale]int),
		TopFailures: make(map[string]int),
	}

	var totalDur time.Duration
	var durCount int

	for _, r := range runs {
		s.ByTarget[r.Target]++
		s.Features += r.FeatureCount
		switch r.Status {
		case model.RunStatusComplete:
			s.Complete++
			totalDur += r.UpdatedAt.Sub(r.CreatedAt)
			durCount++
		case model.RunStatusFailed:
			s.Failed++
			if p := failedProducer(r.Error); p != "" {
				s.TopFailures[p]++
			}
		case model.RunStatusCancelled:
			s.Cancelled++
		default:
			s.Running++
		}
	}

	if durCount > 0 {
		s.AvgDurSecs = totalDur.Seconds() / float64(durCount)
	}
	return s
}

// failedProducer extracts the producer id from a recorded run error of the
// form `... run failed at producer "id": ...`.
func failedProducer(msg string) string {
	const marker = `failed at producer "`
	i := strings.Index(msg, marker)
	if i < 0 {
		return ""
	}
	rest := msg[i+len(marker):]
	j := strings.IndexByte(rest, '"')
	if j < 0 {
		return ""
	}
	return rest[:j]
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSEQUENCE\tTARGET\tSTATUS\tFEATURES\tCREATED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t--------\t------\t------\t--------\t-------\t--------")

	for _, r := range runs {
		dur := r.UpdatedAt.Sub(r.CreatedAt).Round(time.Millisecond).String()

		seq := r.SequenceID
		if seq == "" {
			seq = "."
		}
		if len(seq) > 30 {
			seq = seq[:27] + "..."
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			truncateID(r.ID),
			seq,
			r.Target,
			r.Status,
			r.FeatureCount,
			r.CreatedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// formatRunStats writes aggregate stats to w.
func formatRunStats(out io.Writer, s runStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Complete:\t%d\n", s.Complete)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "Cancelled:\t%d\n", s.Cancelled)
	_, _ = fmt.Fprintf(w, "Running:\t%d\n", s.Running)
	_, _ = fmt.Fprintf(w, "Features stored:\t%d\n", s.Features)
	if s.AvgDurSecs > 0 {
		_, _ = fmt.Fprintf(w, "Avg duration:\t%.3fs\n", s.AvgDurSecs)
	}
	for _, sc := range model.Scales() {
		if n := s.ByTarget[sc]; n > 0 {
			_, _ = fmt.Fprintf(w, "Target %s:\t%d\n", sc, n)
		}
	}
	producers := make([]string, 0, len(s.TopFailures))
	for p := range s.TopFailures {
		producers = append(producers, p)
	}
	sort.Strings(producers)
	for _, p := range producers {
		_, _ = fmt.Fprintf(w, "  Failed at %s:\t%d\n", p, s.TopFailures[p])
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
