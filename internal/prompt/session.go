// Package prompt fills a live form from the terminal. Each visible, editable
// field is asked in document order; values are written through the form so
// logic, derivations and validation react between prompts.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/goliatone/go-formlogic/pkg/expression"
	"github.com/goliatone/go-formlogic/pkg/form"
	"github.com/goliatone/go-formlogic/pkg/formconfig"
	"github.com/goliatone/go-formlogic/pkg/valuetree"
)

// DefaultMaxAttempts bounds how often a field is re-asked while it reports
// errors.
const DefaultMaxAttempts = 3

// Session drives one fill run over a form.
type Session struct {
	form        *form.Form
	driver      Driver
	logger      zerolog.Logger
	maxAttempts int
}

// Option configures a Session.
type Option func(*Session)

// WithDriver overrides the prompt driver.
func WithDriver(driver Driver) Option {
	return func(s *Session) {
		if driver != nil {
			s.driver = driver
		}
	}
}

// WithLogger sets the session logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithMaxAttempts sets how often an invalid field is re-asked before the
// session moves on.
func WithMaxAttempts(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// NewSession prepares a session over f. The survey driver is used unless
// WithDriver is given.
func NewSession(f *form.Form, opts ...Option) (*Session, error) {
	if f == nil {
		return nil, ErrNoForm
	}
	s := &Session{
		form:        f,
		logger:      zerolog.Nop(),
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.driver == nil {
		s.driver = NewSurveyDriver(nil)
	}
	return s, nil
}

// Run asks every field and returns the settled form value.
func (s *Session) Run(ctx context.Context) (map[string]any, error) {
	if err := s.fillFields(ctx, "", s.form.Config().Fields); err != nil {
		return nil, err
	}
	if err := s.form.Settle(ctx); err != nil {
		return nil, err
	}
	return s.form.Value(), nil
}

func (s *Session) fillFields(ctx context.Context, scope string, fields []formconfig.FieldConfig) error {
	for i := range fields {
		field := fields[i]
		if field.Type.IsLayout() {
			if err := s.fillFields(ctx, scope, field.Fields); err != nil {
				return err
			}
			continue
		}

		path := valuetree.Join(scope, field.Key)
		var err error
		switch field.Type {
		case formconfig.FieldTypeGroup:
			if s.skip(path) {
				continue
			}
			err = s.fillFields(ctx, path, field.Fields)
		case formconfig.FieldTypeArray:
			err = s.fillArray(ctx, path, field)
		case formconfig.FieldTypeHidden:
			continue
		default:
			err = s.fillLeaf(ctx, path, field)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) skip(path string) bool {
	state, ok := s.form.State(path)
	return !ok || state.Hidden || state.Disabled || state.Readonly
}

func (s *Session) fillArray(ctx context.Context, path string, field formconfig.FieldConfig) error {
	if s.skip(path) {
		return nil
	}
	label := displayLabel(field)
	template := field.Children()
	for i := 0; ; i++ {
		if i < s.arrayLen(path) {
			if err := s.fillFields(ctx, valuetree.IndexPath(path, i), template); err != nil {
				return err
			}
			continue
		}
		answer, err := s.driver.Ask(ctx, Question{
			Path:  path,
			Label: fmt.Sprintf("Add %s item?", label),
			Kind:  KindConfirm,
		})
		if err != nil {
			return err
		}
		if add, _ := answer.(bool); !add {
			return nil
		}
		if err := s.form.Append(path, nil); err != nil {
			return fmt.Errorf("prompt: append %s: %w", path, err)
		}
		i--
	}
}

func (s *Session) arrayLen(path string) int {
	v, _ := s.form.Get(path)
	items, _ := v.([]any)
	return len(items)
}

func (s *Session) fillLeaf(ctx context.Context, path string, field formconfig.FieldConfig) error {
	state, ok := s.form.State(path)
	if !ok || state.Hidden || state.Disabled {
		return nil
	}
	label := displayLabel(field)
	current, _ := s.form.Get(path)
	if field.Derivation != nil || state.Readonly {
		return s.driver.Notify(ctx, fmt.Sprintf("%s = %v", label, current))
	}

	q, convert := s.question(field, path, label, current)
	q.Required = state.Required

	var (
		attempts int
		accepted bool
		fatal    error
	)
	q.Check = func(answer any) error {
		if fatal != nil {
			return nil
		}
		attempts++
		value, err := convert(answer)
		if err == nil {
			err = s.apply(ctx, path, label, value)
		}
		var invalid *invalidAnswer
		switch {
		case err == nil:
		case !errors.As(err, &invalid):
			fatal = err
			return nil
		case attempts < s.maxAttempts:
			return err
		default:
			s.logger.Warn().Str("path", path).Int("attempts", attempts).Msg("field left invalid")
		}
		accepted = true
		return nil
	}

	answer, err := s.driver.Ask(ctx, q)
	if err != nil {
		return err
	}
	if fatal != nil {
		return fatal
	}
	if accepted {
		return nil
	}
	// The driver returned without running Check.
	value, err := convert(answer)
	if err != nil {
		return nil
	}
	var invalid *invalidAnswer
	if err := s.apply(ctx, path, label, value); err != nil && !errors.As(err, &invalid) {
		return err
	}
	return nil
}

// invalidAnswer carries the form's messages for a rejected answer.
type invalidAnswer struct {
	label    string
	messages []string
}

func (e *invalidAnswer) Error() string {
	return fmt.Sprintf("Invalid %s: %s", e.label, strings.Join(e.messages, "; "))
}

// apply writes value through the form and reports the field's errors once
// the form has settled.
func (s *Session) apply(ctx context.Context, path, label string, value any) error {
	if err := s.form.SetValue(path, value); err != nil {
		return fmt.Errorf("prompt: set %s: %w", path, err)
	}
	if err := s.form.MarkTouched(path); err != nil {
		return fmt.Errorf("prompt: touch %s: %w", path, err)
	}
	if err := s.form.Settle(ctx); err != nil {
		return err
	}
	state, _ := s.form.State(path)
	if len(state.Errors) == 0 {
		return nil
	}
	invalid := &invalidAnswer{label: label}
	for _, e := range state.Errors {
		invalid.messages = append(invalid.messages, e.Message)
	}
	return invalid
}

// question picks the prompt kind for field and returns the conversion from
// the driver's answer to the form value.
func (s *Session) question(field formconfig.FieldConfig, path, label string, current any) (Question, func(any) (any, error)) {
	q := Question{Path: path, Label: label, Help: displayHelp(field), Default: stringValue(current)}
	opts := options(field.Props)

	switch field.Type {
	case formconfig.FieldTypeCheckbox, formconfig.FieldTypeToggle:
		if len(opts) > 0 {
			return choices(q, opts, current)
		}
		q.Kind = KindConfirm
		q.DefaultYes = expression.Truthy(current)
		return q, func(answer any) (any, error) {
			yes, _ := answer.(bool)
			return yes, nil
		}
	case formconfig.FieldTypeSelect, formconfig.FieldTypeRadio:
		if len(opts) == 0 {
			break
		}
		if multiple, _ := field.Props["multiple"].(bool); multiple {
			return choices(q, opts, current)
		}
		q.Kind = KindChoice
		q.Options = optionLabels(opts)
		q.DefaultIndex = optionIndex(opts, current)
		return q, func(answer any) (any, error) {
			idx, ok := answer.(int)
			if !ok || idx < 0 || idx >= len(opts) {
				return nil, &invalidAnswer{label: label, messages: []string{"choose one of the options"}}
			}
			return opts[idx].value, nil
		}
	case formconfig.FieldTypeTextarea:
		q.Kind = KindMultiline
		return q, textAnswer
	}

	if inputType(field) == "password" {
		q.Kind = KindSecret
		q.Default = ""
		return q, textAnswer
	}
	q.Kind = KindText
	if !numeric(field, current) {
		return q, textAnswer
	}
	return q, func(answer any) (any, error) {
		raw, _ := answer.(string)
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return nil, nil
		}
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n, nil
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, &invalidAnswer{label: label, messages: []string{"not a number"}}
		}
		return f, nil
	}
}

func choices(q Question, opts []option, current any) (Question, func(any) (any, error)) {
	q.Kind = KindChoices
	q.Options = optionLabels(opts)
	if list, ok := current.([]any); ok {
		for _, v := range list {
			if i := optionIndex(opts, v); i >= 0 {
				q.Defaults = append(q.Defaults, i)
			}
		}
	}
	return q, func(answer any) (any, error) {
		indices, _ := answer.([]int)
		out := make([]any, 0, len(indices))
		for _, i := range indices {
			if i >= 0 && i < len(opts) {
				out = append(out, opts[i].value)
			}
		}
		return out, nil
	}
}

func textAnswer(answer any) (any, error) {
	text, _ := answer.(string)
	return text, nil
}

type option struct {
	label string
	value any
}

// options reads props.options: a list of scalars or {label, value} maps.
func options(props map[string]any) []option {
	raw, _ := props["options"].([]any)
	out := make([]option, 0, len(raw))
	for _, item := range raw {
		switch v := item.(type) {
		case map[string]any:
			value, ok := v["value"]
			if !ok {
				continue
			}
			label := fmt.Sprint(value)
			if l, ok := v["label"].(string); ok && l != "" {
				label = l
			}
			out = append(out, option{label: label, value: value})
		case nil:
			continue
		default:
			out = append(out, option{label: fmt.Sprint(v), value: v})
		}
	}
	return out
}

func optionLabels(opts []option) []string {
	out := make([]string, len(opts))
	for i, o := range opts {
		out[i] = o.label
	}
	return out
}

func optionIndex(opts []option, value any) int {
	if value == nil {
		return -1
	}
	for i, o := range opts {
		if valuetree.Equal(o.value, value) {
			return i
		}
	}
	return -1
}

func displayLabel(field formconfig.FieldConfig) string {
	if strings.TrimSpace(field.Label) != "" {
		return field.Label
	}
	return field.Key
}

func displayHelp(field formconfig.FieldConfig) string {
	if help, ok := field.Props["help"].(string); ok {
		return help
	}
	if desc, ok := field.Props["description"].(string); ok {
		return desc
	}
	return ""
}

func inputType(field formconfig.FieldConfig) string {
	t, _ := field.Props["type"].(string)
	return strings.ToLower(t)
}

func numeric(field formconfig.FieldConfig, current any) bool {
	if field.Type == formconfig.FieldTypeSlider {
		return true
	}
	if t := inputType(field); t == "number" || t == "range" {
		return true
	}
	switch current.(type) {
	case int, int32, int64, float32, float64:
		return true
	}
	return false
}

func stringValue(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
