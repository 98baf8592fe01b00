package cli

import (
	"github.com/spf13/cobra"

	"github.com/goliatone/go-formlogic/pkg/form"
	"github.com/goliatone/go-formlogic/pkg/graph"
)

// GraphReport is the JSON shape of the graph command.
type GraphReport struct {
	Nodes      []GraphNode `json:"nodes"`
	Edges      []GraphEdge `json:"edges"`
	Affected   []GraphEdge `json:"affected,omitempty"`
	Transitive []string    `json:"transitive,omitempty"`
}

// GraphNode describes one field instance.
type GraphNode struct {
	ID     string `json:"id"`
	Path   string `json:"path"`
	Kind   string `json:"kind"`
	Parent string `json:"parent,omitempty"`
}

// GraphEdge is a dependency: rules of Target read Source.
type GraphEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Kinds  string `json:"kinds"`
}

type graphOptions struct {
	values string
	path   string
}

// NewGraphCommand creates the graph command.
func NewGraphCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &graphOptions{}
	cmd := &cobra.Command{
		Use:   "graph <config>",
		Short: "Print the field index and dependency edges",
		Long: `Print every field instance with its stable id, and the dependency edges
between rules and the values they read. With --path, also print the rules
affected by a change at that path and the derivations it reaches.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGraph(rootOpts, opts, cmd, args[0])
		},
	}
	cmd.Flags().StringVar(&opts.values, "values", "", "initial values (JSON or YAML)")
	cmd.Flags().StringVar(&opts.path, "path", "", "report rules affected by a change at this path")
	return cmd
}

func runGraph(rootOpts *RootOptions, opts *graphOptions, cmd *cobra.Command, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	values, err := loadValues(opts.values)
	if err != nil {
		return err
	}
	f, err := form.New(cfg,
		form.WithInitialValue(values),
		form.WithLogger(rootOpts.logger(cmd.ErrOrStderr())),
		form.WithContext(cmd.Context()),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "build form", err)
	}
	defer f.Close()

	report := buildGraphReport(f.Index(), opts.path)
	out := rootOpts.output(cmd)
	if out.isJSON() {
		return out.json(report)
	}

	out.printf("nodes:\n")
	for _, n := range report.Nodes {
		out.printf("  %-24s %-24s %s\n", n.ID, n.Path, n.Kind)
	}
	out.printf("edges:\n")
	for _, e := range report.Edges {
		out.printf("  %s -> %s [%s]\n", sourceLabel(e.Source), e.Target, e.Kinds)
	}
	if opts.path != "" {
		out.printf("affected by %s:\n", opts.path)
		for _, e := range report.Affected {
			out.printf("  %s [%s]\n", e.Target, e.Kinds)
		}
		out.printf("derivations reached:\n")
		for _, id := range report.Transitive {
			out.printf("  %s\n", id)
		}
	}
	return nil
}

func buildGraphReport(idx *graph.Index, path string) GraphReport {
	report := GraphReport{Nodes: []GraphNode{}, Edges: []GraphEdge{}}
	for _, n := range idx.Nodes() {
		report.Nodes = append(report.Nodes, GraphNode{ID: n.ID, Path: n.Path, Kind: n.Kind.String(), Parent: n.Parent})
	}
	for _, e := range idx.Edges() {
		report.Edges = append(report.Edges, GraphEdge{Source: e.Source, Target: e.Target, Kinds: e.Kind.String()})
	}
	if path != "" {
		for _, d := range idx.Affected(path) {
			report.Affected = append(report.Affected, GraphEdge{Source: path, Target: d.ID, Kinds: d.Kinds.String()})
		}
		report.Transitive = idx.Transitive(path)
	}
	return report
}

func sourceLabel(source string) string {
	if source == "" {
		return "(form)"
	}
	return source
}
