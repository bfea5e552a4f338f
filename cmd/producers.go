package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/genomesim/internal/registry"
)

var producersCmd = &cobra.Command{
	Use:   "producers",
	Short: "List registered analyzers and bridges",
	RunE: func(cmd *cobra.Command, _ []string) error {
		format, _ := cmd.Flags().GetString("format")

		eng, err := newEngine()
		if err != nil {
			return err
		}
		producers, _, err := eng.Instantiate(producerOptions())
		if err != nil {
			return err
		}
		return formatProducers(cmd.OutOrStdout(), producers, format)
	},
}

func init() {
	producersCmd.Flags().String("format", "text", "output format: text or yaml")
	rootCmd.AddCommand(producersCmd)
}

type producerView struct {
	ID          string         `yaml:"id"`
	Kind        string         `yaml:"kind"`
	Version     string         `yaml:"version"`
	Description string         `yaml:"description"`
	Parameters  map[string]any `yaml:"parameters,omitempty"`
}

func newProducerViews(producers map[string]registry.Producer) []producerView {
	ids := make([]string, 0, len(producers))
	for id := range producers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	views := make([]producerView, len(ids))
	for i, id := range ids {
		p := producers[id]
		v := producerView{ID: id, Kind: p.Kind.String(), Description: p.Describe()}
		if p.Kind == registry.KindBridge {
			v.Version = p.Bridge.Describe().Version
			v.Parameters = p.Bridge.Parameters()
		} else {
			v.Version = p.Analyzer.Describe().Version
			v.Parameters = p.Analyzer.Parameters()
		}
		views[i] = v
	}
	return views
}

func formatProducers(out io.Writer, producers map[string]registry.Producer, format string) error {
	views := newProducerViews(producers)
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(views); err != nil {
			return eris.Wrap(err, "producers: encode yaml")
		}
		return eris.Wrap(enc.Close(), "producers: close yaml")
	case "text", "":
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "ID\tKIND\tVERSION\tDESCRIPTION")
		for _, v := range views {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", v.ID, v.Kind, v.Version, v.Description)
		}
		return eris.Wrap(w.Flush(), "producers: flush")
	default:
		return eris.Errorf("producers: unknown format %q", format)
	}
}
