package cli

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/goliatone/go-formlogic/internal/prompt"
	"github.com/goliatone/go-formlogic/pkg/form"
)

type fillOptions struct {
	values      string
	output      string
	maxAttempts int
}

// NewFillCommand creates the fill command.
func NewFillCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &fillOptions{}
	cmd := &cobra.Command{
		Use:   "fill <config>",
		Short: "Fill a form interactively",
		Long: `Ask for every visible, editable field in document order. Logic,
derivations and validation run between prompts, so hidden fields are
skipped and derived values are shown instead of asked.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFill(rootOpts, opts, cmd, args[0])
		},
	}
	cmd.Flags().StringVar(&opts.values, "values", "", "initial values (JSON or YAML)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "write the result to a file instead of stdout")
	cmd.Flags().IntVar(&opts.maxAttempts, "max-attempts", prompt.DefaultMaxAttempts, "re-ask an invalid field at most this many times")
	return cmd
}

func runFill(rootOpts *RootOptions, opts *fillOptions, cmd *cobra.Command, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	values, err := loadValues(opts.values)
	if err != nil {
		return err
	}

	logger := rootOpts.logger(cmd.ErrOrStderr())
	f, err := form.New(cfg,
		form.WithInitialValue(values),
		form.WithLogger(logger),
		form.WithContext(cmd.Context()),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "build form", err)
	}
	defer f.Close()

	session, err := prompt.NewSession(f,
		prompt.WithDriver(prompt.NewSurveyDriver(cmd.ErrOrStderr())),
		prompt.WithLogger(logger),
		prompt.WithMaxAttempts(opts.maxAttempts),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "start session", err)
	}
	result, err := session.Run(cmd.Context())
	if err != nil {
		return WrapExitError(ExitFailure, "fill", err)
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("cli: encode result: %w", err)
	}
	if opts.output != "" {
		if err := os.WriteFile(opts.output, append(data, '\n'), 0o644); err != nil {
			return WrapExitError(ExitCommandError, "write output", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Form written to %s\n", opts.output)
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
	}

	if !f.Valid() {
		return NewExitError(ExitFailure, "form is invalid")
	}
	return nil
}
