package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/genomesim/internal/engine"
	"github.com/sells-group/genomesim/internal/model"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the execution plan for a target scale",
	RunE: func(cmd *cobra.Command, _ []string) error {
		targetName, _ := cmd.Flags().GetString("target")
		format, _ := cmd.Flags().GetString("format")
		if targetName == "" {
			targetName = cfg.Engine.Target
		}
		target, err := model.ParseScale(targetName)
		if err != nil {
			return err
		}

		eng, err := newEngine()
		if err != nil {
			return err
		}
		plan, err := eng.Plan(target, producerOptions())
		if err != nil {
			var ute *engine.UnsatisfiableTargetError
			if errors.As(err, &ute) && len(ute.Partial) > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "partial plan: %s\n", strings.Join(ute.Partial, ", "))
			}
			return err
		}
		return formatPlan(cmd.OutOrStdout(), plan, format)
	},
}

func init() {
	planCmd.Flags().String("target", "", "target scale (default from engine.target)")
	planCmd.Flags().String("format", "text", "output format: text or yaml")
	rootCmd.AddCommand(planCmd)
}

type planView struct {
	Target string      `yaml:"target"`
	Stages []stageView `yaml:"stages"`
}

type stageView struct {
	ID     string   `yaml:"id"`
	Kind   string   `yaml:"kind"`
	Level  int      `yaml:"level"`
	Inputs []string `yaml:"inputs,omitempty"`
	Output string   `yaml:"output"`
}

func newPlanView(p engine.Plan) planView {
	v := planView{Target: p.Target.String(), Stages: make([]stageView, len(p.Stages))}
	for i, s := range p.Stages {
		sv := stageView{ID: s.ID, Kind: s.Kind.String(), Level: s.Level, Output: s.Output.String()}
		for _, in := range s.Inputs {
			sv.Inputs = append(sv.Inputs, in.String())
		}
		v.Stages[i] = sv
	}
	return v
}

// formatPlan writes the plan as a level table or YAML document.
func formatPlan(out io.Writer, p engine.Plan, format string) error {
	view := newPlanView(p)
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(view); err != nil {
			return eris.Wrap(err, "plan: encode yaml")
		}
		return eris.Wrap(enc.Close(), "plan: close yaml")
	case "text", "":
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintf(w, "Target:\t%s\n", view.Target)
		_, _ = fmt.Fprintln(w, "LEVEL\tPRODUCER\tKIND\tINPUTS\tOUTPUT")
		for _, s := range view.Stages {
			inputs := "sequence"
			if len(s.Inputs) > 0 {
				inputs = strings.Join(s.Inputs, ",")
			}
			_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", s.Level, s.ID, s.Kind, inputs, s.Output)
		}
		return eris.Wrap(w.Flush(), "plan: flush")
	default:
		return eris.Errorf("plan: unknown format %q", format)
	}
}
