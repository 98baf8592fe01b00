package formconfig

import (
	"fmt"

	"dario.cat/mergo"
)

// Normalize returns a copy of cfg with form-level defaultProps merged into
// every leaf field's props. Values set on the field win. The input is not
// mutated.
func Normalize(cfg FormConfig) (FormConfig, error) {
	out := cfg
	fields, err := normalizeFields(cfg.Fields, cfg.DefaultProps)
	if err != nil {
		return FormConfig{}, err
	}
	out.Fields = fields
	return out, nil
}

func normalizeFields(fields []FieldConfig, defaults map[string]any) ([]FieldConfig, error) {
	if fields == nil {
		return nil, nil
	}
	out := make([]FieldConfig, len(fields))
	for i, field := range fields {
		if !field.Type.IsContainer() && len(defaults) > 0 {
			props := make(map[string]any, len(field.Props)+len(defaults))
			for k, v := range field.Props {
				props[k] = v
			}
			if err := mergo.Merge(&props, defaults); err != nil {
				return nil, fmt.Errorf("formconfig: merge default props into %q: %w", field.Key, err)
			}
			field.Props = props
		}

		nested, err := normalizeFields(field.Fields, defaults)
		if err != nil {
			return nil, err
		}
		field.Fields = nested

		template, err := normalizeFields(field.Template, defaults)
		if err != nil {
			return nil, err
		}
		field.Template = template

		out[i] = field
	}
	return out, nil
}

// FieldValidators expands the field's validator shorthands and appends the
// explicit validator list. Requiredness is not expanded here because logic
// rules can toggle it at runtime.
func FieldValidators(f FieldConfig) []ValidatorConfig {
	var out []ValidatorConfig
	if f.Email {
		out = append(out, ValidatorConfig{Type: ValidatorEmail})
	}
	if f.Min != nil {
		out = append(out, ValidatorConfig{Type: ValidatorMin, Value: *f.Min})
	}
	if f.Max != nil {
		out = append(out, ValidatorConfig{Type: ValidatorMax, Value: *f.Max})
	}
	if f.MinLength != nil {
		out = append(out, ValidatorConfig{Type: ValidatorMinLength, Value: *f.MinLength})
	}
	if f.MaxLength != nil {
		out = append(out, ValidatorConfig{Type: ValidatorMaxLength, Value: *f.MaxLength})
	}
	if f.Pattern != "" {
		out = append(out, ValidatorConfig{Type: ValidatorPattern, Value: f.Pattern})
	}
	return append(out, f.Validators...)
}
