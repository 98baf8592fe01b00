package cli

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/goliatone/go-formlogic/pkg/expression"
	"github.com/goliatone/go-formlogic/pkg/formconfig"
	"github.com/goliatone/go-formlogic/pkg/graph"
	"github.com/goliatone/go-formlogic/pkg/logic"
	"github.com/goliatone/go-formlogic/pkg/valuetree"
)

// LintReport lists the problems found in one configuration file.
type LintReport struct {
	File   string             `json:"file"`
	Valid  bool               `json:"valid"`
	Issues []formconfig.Issue `json:"issues,omitempty"`
}

// NewLintCommand creates the lint command.
func NewLintCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "lint <config>...",
		Short: "Check form configurations",
		Long: `Check form configurations against the configuration schema, then build
the field index and compile every script to catch structural errors,
duplicate keys, unknown form-state predicates and script syntax errors.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLint(rootOpts, cmd, args)
		},
	}
}

func runLint(opts *RootOptions, cmd *cobra.Command, paths []string) error {
	out := opts.output(cmd)
	reports := make([]LintReport, 0, len(paths))
	failed := 0
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return WrapExitError(ExitCommandError, "read config", err)
		}
		report := LintReport{File: path, Issues: LintDocument(data, path)}
		report.Valid = len(report.Issues) == 0
		if !report.Valid {
			failed++
		}
		reports = append(reports, report)
	}

	if out.isJSON() {
		if err := out.json(reports); err != nil {
			return err
		}
	} else {
		for _, r := range reports {
			if r.Valid {
				out.printf("✓ %s\n", r.File)
				continue
			}
			out.printf("✗ %s\n", r.File)
			for _, issue := range r.Issues {
				out.printf("  %s\n", issue)
			}
		}
	}

	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d file(s) failed lint", failed, len(paths)))
	}
	return nil
}

// LintDocument runs every check on a raw configuration document. Schema
// issues stop further checks since the document may not decode.
func LintDocument(data []byte, source string) []formconfig.Issue {
	issues, err := formconfig.Lint(data)
	if err != nil {
		return []formconfig.Issue{{Message: err.Error()}}
	}
	if len(issues) > 0 {
		return issues
	}

	cfg, err := formconfig.Parse(data, source)
	if err != nil {
		return []formconfig.Issue{{Message: err.Error()}}
	}
	normalized, err := formconfig.Normalize(cfg)
	if err != nil {
		return []formconfig.Issue{{Message: err.Error()}}
	}
	if _, err := graph.Build(normalized, nil); err != nil {
		issues = append(issues, formconfig.Issue{Message: err.Error()})
	}
	return append(issues, checkRules(expression.NewScripts(), "", normalized.Fields)...)
}

func checkRules(scripts *expression.Scripts, scope string, fields []formconfig.FieldConfig) []formconfig.Issue {
	var issues []formconfig.Issue
	for _, field := range fields {
		path := scope
		if !field.Type.IsLayout() {
			path = valuetree.Join(scope, field.Key)
			if field.Type == formconfig.FieldTypeArray {
				path += "[]"
			}
		}
		report := func(format string, args ...any) {
			issues = append(issues, formconfig.Issue{Path: path, Message: fmt.Sprintf(format, args...)})
		}
		check := func(what, src string) {
			if src == "" {
				return
			}
			if err := scripts.Check(src); err != nil {
				report("%s: %v", what, err)
			}
		}

		for _, rule := range field.Logic {
			if rule.Condition.Name != "" && !logic.IsPredicate(rule.Condition.Name) {
				report("logic %s: unknown predicate %q", rule.Type, rule.Condition.Name)
			}
			walkCondition(rule.Condition.Expression, func(src string) { check("logic "+string(rule.Type), src) })
		}
		for _, v := range formconfig.FieldValidators(field) {
			if v.Type == formconfig.ValidatorCustom {
				check("validator custom", v.Expression)
			}
			walkCondition(v.When, func(src string) { check("validator "+string(v.Type)+" when", src) })
			if v.Type == formconfig.ValidatorHTTP && (v.HTTP == nil || v.HTTP.URL == "") {
				report("validator http: missing request url")
			}
			requestScripts(v.HTTP, func(where, src string) { check("validator "+string(v.Type)+" "+where, src) })
			if v.Type == formconfig.ValidatorCustomHTTP && v.FunctionName == "" {
				report("validator customHttp: missing functionName")
			}
		}
		if d := field.Derivation; d != nil {
			switch d.EffectiveSource() {
			case formconfig.DerivationExpression:
				if d.Expression == "" {
					report("derivation: missing expression")
				}
				check("derivation", d.Expression)
			case formconfig.DerivationAsyncFunction:
				if d.AsyncFunctionName == "" {
					report("derivation: missing asyncFunctionName")
				}
			case formconfig.DerivationHTTP:
				if d.HTTP == nil || d.HTTP.URL == "" {
					report("derivation: missing request url")
				}
				requestScripts(d.HTTP, func(where, src string) { check("derivation "+where, src) })
			}
			walkCondition(d.Condition, func(src string) { check("derivation condition", src) })
		}

		issues = append(issues, checkRules(scripts, path, field.Children())...)
	}
	return issues
}

// requestScripts calls fn with every script a request resolves at runtime:
// string query parameters always, body strings only with bodyExpressions.
func requestScripts(req *formconfig.HTTPRequest, fn func(where, src string)) {
	if req == nil {
		return
	}
	keys := make([]string, 0, len(req.QueryParams))
	for k := range req.QueryParams {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if src, ok := req.QueryParams[k].(string); ok {
			fn("query "+k, src)
		}
	}
	if req.BodyExpressions {
		walkBody(req.Body, func(src string) { fn("body", src) })
	}
}

func walkBody(node any, fn func(string)) {
	switch v := node.(type) {
	case string:
		fn(v)
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			walkBody(v[k], fn)
		}
	case []any:
		for _, item := range v {
			walkBody(item, fn)
		}
	}
}

// walkCondition calls fn with the script source of every script leaf.
func walkCondition(cond *formconfig.ConditionalExpression, fn func(string)) {
	if cond == nil {
		return
	}
	if cond.Conditions != nil {
		for i := range cond.Conditions.Expressions {
			walkCondition(&cond.Conditions.Expressions[i], fn)
		}
		return
	}
	switch cond.Type {
	case formconfig.ConditionJavascript, formconfig.ConditionCustom:
		fn(cond.Expression)
	}
}
