// Package formlogic is the convenience entry point of the module: load a
// configuration document and get a live form back.
package formlogic

import (
	"io/fs"

	"github.com/goliatone/go-formlogic/pkg/form"
	"github.com/goliatone/go-formlogic/pkg/formconfig"
)

// FormConfig aliases formconfig.FormConfig.
type FormConfig = formconfig.FormConfig

// Form aliases form.Form.
type Form = form.Form

// Option aliases form.Option.
type Option = form.Option

// Issue aliases formconfig.Issue for lint results.
type Issue = formconfig.Issue

// New builds a form from an in-memory configuration.
func New(cfg FormConfig, options ...Option) (*Form, error) {
	return form.New(cfg, options...)
}

// Parse decodes a JSON or YAML document and builds a form from it.
func Parse(data []byte, options ...Option) (*Form, error) {
	cfg, err := formconfig.Parse(data, "")
	if err != nil {
		return nil, err
	}
	return form.New(cfg, options...)
}

// Load reads a configuration file and builds a form from it.
func Load(path string, options ...Option) (*Form, error) {
	cfg, err := formconfig.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return form.New(cfg, options...)
}

// LoadFS reads a configuration from fsys and builds a form from it.
func LoadFS(fsys fs.FS, path string, options ...Option) (*Form, error) {
	cfg, err := formconfig.LoadFS(fsys, path)
	if err != nil {
		return nil, err
	}
	return form.New(cfg, options...)
}

// Lint checks a raw document against the configuration schema.
func Lint(data []byte) ([]Issue, error) {
	return formconfig.Lint(data)
}
