package cli

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/goliatone/go-formlogic/pkg/form"
	"github.com/goliatone/go-formlogic/pkg/transport"
	"github.com/goliatone/go-formlogic/pkg/validation"
)

// EvalReport is the settled state of a headless evaluation.
type EvalReport struct {
	FormID string                        `json:"formId"`
	Valid  bool                          `json:"valid"`
	Value  map[string]any                `json:"value"`
	Errors map[string][]validation.Error `json:"errors,omitempty"`
	States map[string]form.FieldState    `json:"states,omitempty"`
}

type evalOptions struct {
	values      string
	sets        []string
	timeout     time.Duration
	httpTimeout time.Duration
	states      bool
	strict      bool
}

// NewEvalCommand creates the eval command.
func NewEvalCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &evalOptions{}
	cmd := &cobra.Command{
		Use:   "eval <config>",
		Short: "Evaluate a form headlessly",
		Long: `Build a form from a configuration and optional initial values, apply
--set writes in order as user edits, wait for async derivations and
validators, then print the resulting value and errors.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEval(rootOpts, opts, cmd, args[0])
		},
	}
	cmd.Flags().StringVar(&opts.values, "values", "", "initial values (JSON or YAML)")
	cmd.Flags().StringArrayVar(&opts.sets, "set", nil, "write path=value after construction (repeatable; value parsed as JSON when possible)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "maximum wait for async work")
	cmd.Flags().DurationVar(&opts.httpTimeout, "http-timeout", 10*time.Second, "timeout for each outgoing request")
	cmd.Flags().BoolVar(&opts.states, "states", false, "include per-field runtime state")
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "exit with status 1 when the form is invalid")
	return cmd
}

func runEval(rootOpts *RootOptions, opts *evalOptions, cmd *cobra.Command, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	values, err := loadValues(opts.values)
	if err != nil {
		return err
	}
	sets, err := parseAssignments(opts.sets)
	if err != nil {
		return err
	}

	logger := rootOpts.logger(cmd.ErrOrStderr())
	f, err := form.New(cfg,
		form.WithInitialValue(values),
		form.WithLogger(logger),
		form.WithContext(cmd.Context()),
		form.WithTransport(transport.NewHTTPClient(
			transport.WithTimeout(opts.httpTimeout),
			transport.WithLogger(logger),
		)),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "build form", err)
	}
	defer f.Close()

	if err := applyAssignments(f, sets); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()
	if err := f.Settle(ctx); err != nil {
		return WrapExitError(ExitCommandError, "wait for async work", err)
	}

	report := EvalReport{
		FormID: f.ID(),
		Valid:  f.Valid(),
		Value:  f.Value(),
		Errors: f.Errors(),
	}
	if opts.states {
		report.States = f.States()
	}

	out := rootOpts.output(cmd)
	if out.isJSON() {
		if err := out.json(report); err != nil {
			return err
		}
	} else {
		printEvalText(out, report)
	}

	if opts.strict && !report.Valid {
		return NewExitError(ExitFailure, "form is invalid")
	}
	return nil
}

func printEvalText(out output, report EvalReport) {
	out.printf("value:\n")
	for _, line := range flattenLines(report.Value, "") {
		out.printf("  %s\n", line)
	}
	if report.Valid {
		out.printf("✓ valid\n")
	} else {
		out.printf("✗ invalid\n")
	}
	paths := make([]string, 0, len(report.Errors))
	for path := range report.Errors {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		for _, e := range report.Errors[path] {
			out.printf("  %s: %s (%s)\n", path, e.Message, e.Kind)
		}
	}
	if len(report.States) > 0 {
		out.printf("states:\n")
		statePaths := make([]string, 0, len(report.States))
		for path := range report.States {
			statePaths = append(statePaths, path)
		}
		sort.Strings(statePaths)
		for _, path := range statePaths {
			st := report.States[path]
			out.printf("  %-24s hidden=%t disabled=%t readonly=%t required=%t\n", path, st.Hidden, st.Disabled, st.Readonly, st.Required)
		}
	}
}

// flattenLines renders nested values as sorted path = value lines.
func flattenLines(value any, prefix string) []string {
	switch v := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var out []string
		for _, k := range keys {
			path := k
			if prefix != "" {
				path = prefix + "." + k
			}
			out = append(out, flattenLines(v[k], path)...)
		}
		if len(out) == 0 && prefix != "" {
			return []string{prefix + " = {}"}
		}
		return out
	case []any:
		if len(v) == 0 {
			return []string{prefix + " = []"}
		}
		var out []string
		for i, item := range v {
			out = append(out, flattenLines(item, fmt.Sprintf("%s[%d]", prefix, i))...)
		}
		return out
	default:
		return []string{fmt.Sprintf("%s = %v", prefix, v)}
	}
}
