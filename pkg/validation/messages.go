package validation

import (
	"html"
	"strings"
	"sync"

	"github.com/flosch/pongo2/v6"
	"github.com/microcosm-cc/bluemonday"

	"github.com/goliatone/go-formlogic/pkg/expression"
)

// DefaultMessages are used when neither the field, the validator nor the
// form supplies a message for a kind.
var DefaultMessages = map[string]string{
	"required":  "This field is required",
	"email":     "Enter a valid email address",
	"min":       "Must be at least {{min}}",
	"max":       "Must be at most {{max}}",
	"minLength": "Must be at least {{requiredLength}} characters",
	"maxLength": "Must be at most {{requiredLength}} characters",
	"pattern":   "Invalid format",
}

const fallbackMessage = "Invalid value"

// userParams carry the value the user typed; every other param comes from
// configuration and is interpolated untouched.
var userParams = map[string]bool{"actualValue": true, "actual": true}

var (
	paramPolicyOnce sync.Once
	paramPolicy     *bluemonday.Policy

	messageSet   = pongo2.NewSet("validation-messages", pongo2.DefaultLoader)
	templateMu   sync.RWMutex
	templateByID = map[string]*pongo2.Template{}
)

func paramSanitizer() *bluemonday.Policy {
	paramPolicyOnce.Do(func() {
		paramPolicy = bluemonday.StrictPolicy()
	})
	return paramPolicy
}

// Interpolate fills `{{param}}` placeholders in message. The result is plain
// text: user values lose any markup but keep literal `&` and `<`, and nothing
// is entity-escaped. A template that fails to parse or render is returned
// verbatim.
func Interpolate(message string, params map[string]any) string {
	if !strings.Contains(message, "{{") {
		return message
	}
	tpl, err := compileMessage(message)
	if err != nil {
		return message
	}
	ctx := pongo2.Context{}
	for k, v := range params {
		text := expression.CoerceString(v)
		if userParams[k] {
			text = stripMarkup(text)
		}
		ctx[k] = pongo2.AsSafeValue(text)
	}
	out, err := tpl.Execute(ctx)
	if err != nil {
		return message
	}
	return out
}

func stripMarkup(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}
	return html.UnescapeString(paramSanitizer().Sanitize(s))
}

func compileMessage(message string) (*pongo2.Template, error) {
	templateMu.RLock()
	tpl, ok := templateByID[message]
	templateMu.RUnlock()
	if ok {
		return tpl, nil
	}
	tpl, err := messageSet.FromString(message)
	if err != nil {
		return nil, err
	}
	templateMu.Lock()
	templateByID[message] = tpl
	templateMu.Unlock()
	return tpl, nil
}

// resolveMessage picks the message template for kind: field messages, then
// the validator's own message, then form defaults, then DefaultMessages.
func resolveMessage(kind, validatorMessage string, fieldMessages, formMessages map[string]string) string {
	if msg := strings.TrimSpace(fieldMessages[kind]); msg != "" {
		return msg
	}
	if msg := strings.TrimSpace(validatorMessage); msg != "" {
		return msg
	}
	if msg := strings.TrimSpace(formMessages[kind]); msg != "" {
		return msg
	}
	if msg, ok := DefaultMessages[kind]; ok {
		return msg
	}
	return fallbackMessage
}
