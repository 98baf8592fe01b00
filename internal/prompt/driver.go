package prompt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
)

// Kind selects how a field is asked.
type Kind uint8

const (
	KindText Kind = iota
	KindSecret
	KindMultiline
	KindConfirm
	KindChoice
	KindChoices
)

// Question is one prompt for a form field.
//
// Answers are string for the text kinds, bool for KindConfirm, the option
// index for KindChoice and option indices for KindChoices.
type Question struct {
	Path     string
	Label    string
	Help     string
	Kind     Kind
	Required bool

	Default      string
	DefaultYes   bool
	Options      []string
	DefaultIndex int
	Defaults     []int

	// Check runs every answer through the live form. A non-nil error holds
	// the form's messages and the driver asks again.
	Check func(answer any) error
}

// Driver asks questions on a terminal. Tests drive sessions with a scripted
// implementation.
type Driver interface {
	Ask(ctx context.Context, q Question) (any, error)
	Notify(ctx context.Context, msg string) error
}

type surveyDriver struct {
	out io.Writer
}

// NewSurveyDriver returns a Driver backed by survey on the process
// terminal. Notices go to out, or stdout when out is nil.
func NewSurveyDriver(out io.Writer) Driver {
	if out == nil {
		out = os.Stdout
	}
	return &surveyDriver{out: out}
}

func (d *surveyDriver) Ask(ctx context.Context, q Question) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	message := q.Label
	if q.Required {
		message += " *"
	}

	var opts []survey.AskOpt
	if q.Check != nil {
		opts = append(opts, survey.WithValidator(func(ans interface{}) error {
			return q.Check(fromSurvey(ans))
		}))
	}

	var (
		p   survey.Prompt
		out interface{}
	)
	switch q.Kind {
	case KindSecret:
		p, out = &survey.Password{Message: message, Help: q.Help}, new(string)
	case KindMultiline:
		p, out = &survey.Multiline{Message: message, Help: q.Help, Default: q.Default}, new(string)
	case KindConfirm:
		p, out = &survey.Confirm{Message: message, Help: q.Help, Default: q.DefaultYes}, new(bool)
	case KindChoice:
		sel := &survey.Select{Message: message, Help: q.Help, Options: q.Options}
		if q.DefaultIndex >= 0 && q.DefaultIndex < len(q.Options) {
			sel.Default = q.Options[q.DefaultIndex]
		}
		p, out = sel, new(int)
	case KindChoices:
		multi := &survey.MultiSelect{Message: message, Help: q.Help, Options: q.Options}
		if len(q.Defaults) > 0 {
			multi.Default = q.Defaults
		}
		p, out = multi, new([]int)
	default:
		p, out = &survey.Input{Message: message, Help: q.Help, Default: q.Default}, new(string)
	}

	if err := survey.AskOne(p, out, opts...); err != nil {
		if errors.Is(err, terminal.InterruptErr) {
			return nil, ErrAborted
		}
		return nil, fmt.Errorf("prompt: ask %s: %w", q.Path, err)
	}
	switch v := out.(type) {
	case *string:
		return *v, nil
	case *bool:
		return *v, nil
	case *int:
		return *v, nil
	case *[]int:
		return *v, nil
	}
	return nil, nil
}

func (d *surveyDriver) Notify(ctx context.Context, msg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := fmt.Fprintln(d.out, msg)
	return err
}

// fromSurvey converts what survey hands a validator into the Question
// answer shape.
func fromSurvey(ans interface{}) any {
	switch v := ans.(type) {
	case survey.OptionAnswer:
		return v.Index
	case []survey.OptionAnswer:
		out := make([]int, len(v))
		for i, o := range v {
			out[i] = o.Index
		}
		return out
	}
	return ans
}
