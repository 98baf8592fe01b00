package formconfig

// FieldType discriminates leaf inputs from layout and value containers.
type FieldType string

const (
	FieldTypeInput      FieldType = "input"
	FieldTypeTextarea   FieldType = "textarea"
	FieldTypeSelect     FieldType = "select"
	FieldTypeCheckbox   FieldType = "checkbox"
	FieldTypeRadio      FieldType = "radio"
	FieldTypeToggle     FieldType = "toggle"
	FieldTypeDatepicker FieldType = "datepicker"
	FieldTypeSlider     FieldType = "slider"
	FieldTypeHidden     FieldType = "hidden"

	FieldTypeGroup FieldType = "group"
	FieldTypeRow   FieldType = "row"
	FieldTypePage  FieldType = "page"
	FieldTypeArray FieldType = "array"
)

// IsContainer reports whether the type holds nested fields.
func (t FieldType) IsContainer() bool {
	switch t {
	case FieldTypeGroup, FieldTypeRow, FieldTypePage, FieldTypeArray:
		return true
	default:
		return false
	}
}

// IsLayout reports whether the type only affects layout and contributes no
// segment to value paths.
func (t FieldType) IsLayout() bool {
	return t == FieldTypeRow || t == FieldTypePage
}

// FormConfig is the plain-data form description consumed by the runtime. It
// must stay serialisable; closures are supplied separately through the
// registry package.
type FormConfig struct {
	Fields                    []FieldConfig     `json:"fields" yaml:"fields"`
	DefaultValidationMessages map[string]string `json:"defaultValidationMessages,omitempty" yaml:"defaultValidationMessages,omitempty"`
	DefaultProps              map[string]any    `json:"defaultProps,omitempty" yaml:"defaultProps,omitempty"`
	Options                   FormOptions       `json:"options,omitempty" yaml:"options,omitempty"`
}

// FormOptions tunes runtime behaviour for a single form.
type FormOptions struct {
	// MaxDerivationDepth bounds chained derivation propagation within a single
	// pass. Zero selects the runtime default.
	MaxDerivationDepth int `json:"maxDerivationDepth,omitempty" yaml:"maxDerivationDepth,omitempty"`
	// ValidateHidden keeps validators running for hidden fields.
	ValidateHidden bool `json:"validateHidden,omitempty" yaml:"validateHidden,omitempty"`
}

// FieldConfig is a node in the form tree. Key uniqueness holds within one
// nesting scope; the full identity of a field is its path from the root.
type FieldConfig struct {
	Key          string         `json:"key" yaml:"key"`
	Type         FieldType      `json:"type" yaml:"type"`
	Label        string         `json:"label,omitempty" yaml:"label,omitempty"`
	Required     bool           `json:"required,omitempty" yaml:"required,omitempty"`
	Disabled     bool           `json:"disabled,omitempty" yaml:"disabled,omitempty"`
	Readonly     bool           `json:"readonly,omitempty" yaml:"readonly,omitempty"`
	Hidden       bool           `json:"hidden,omitempty" yaml:"hidden,omitempty"`
	Value        any            `json:"value,omitempty" yaml:"value,omitempty"`
	DefaultValue any            `json:"defaultValue,omitempty" yaml:"defaultValue,omitempty"`
	Props        map[string]any `json:"props,omitempty" yaml:"props,omitempty"`

	// Validator shorthands, expanded ahead of Validators.
	Email     bool     `json:"email,omitempty" yaml:"email,omitempty"`
	Min       *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max       *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	MinLength *int     `json:"minLength,omitempty" yaml:"minLength,omitempty"`
	MaxLength *int     `json:"maxLength,omitempty" yaml:"maxLength,omitempty"`
	Pattern   string   `json:"pattern,omitempty" yaml:"pattern,omitempty"`

	Validators         []ValidatorConfig `json:"validators,omitempty" yaml:"validators,omitempty"`
	ValidationMessages map[string]string `json:"validationMessages,omitempty" yaml:"validationMessages,omitempty"`
	Logic              []LogicConfig     `json:"logic,omitempty" yaml:"logic,omitempty"`
	Derivation         *DerivationConfig `json:"derivation,omitempty" yaml:"derivation,omitempty"`

	Fields   []FieldConfig `json:"fields,omitempty" yaml:"fields,omitempty"`
	Template []FieldConfig `json:"template,omitempty" yaml:"template,omitempty"`
}

// InitialValue returns the configured starting value, preferring Value over
// DefaultValue.
func (f FieldConfig) InitialValue() any {
	if f.Value != nil {
		return f.Value
	}
	return f.DefaultValue
}

// Children returns the nested blueprint for containers. Arrays prefer
// Template and fall back to Fields.
func (f FieldConfig) Children() []FieldConfig {
	if f.Type == FieldTypeArray && len(f.Template) > 0 {
		return f.Template
	}
	return f.Fields
}

// ConditionType is the discriminant of a ConditionalExpression leaf.
type ConditionType string

const (
	ConditionFieldValue ConditionType = "fieldValue"
	ConditionFormValue  ConditionType = "formValue"
	ConditionCustom     ConditionType = "custom"
	ConditionJavascript ConditionType = "javascript"
)

// Operator names a comparison applied by fieldValue/formValue leaves.
type Operator string

const (
	OpEquals         Operator = "equals"
	OpNotEquals      Operator = "notEquals"
	OpGreater        Operator = "greater"
	OpLess           Operator = "less"
	OpGreaterOrEqual Operator = "greaterOrEqual"
	OpLessOrEqual    Operator = "lessOrEqual"
	OpContains       Operator = "contains"
	OpStartsWith     Operator = "startsWith"
	OpEndsWith       Operator = "endsWith"
	OpMatches        Operator = "matches"
)

// GroupLogic selects how a ConditionGroup reduces its children.
type GroupLogic string

const (
	LogicAnd GroupLogic = "and"
	LogicOr  GroupLogic = "or"
)

// ConditionalExpression is either a leaf (Type plus Operator/Value or
// Expression) or a composition when Conditions is set. A bare string decodes
// into a javascript leaf.
type ConditionalExpression struct {
	Type       ConditionType   `json:"type,omitempty" yaml:"type,omitempty"`
	FieldPath  string          `json:"fieldPath,omitempty" yaml:"fieldPath,omitempty"`
	Operator   Operator        `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value      any             `json:"value,omitempty" yaml:"value,omitempty"`
	Expression string          `json:"expression,omitempty" yaml:"expression,omitempty"`
	Conditions *ConditionGroup `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// ConditionGroup composes child expressions with and/or.
type ConditionGroup struct {
	Logic       GroupLogic              `json:"logic" yaml:"logic"`
	Expressions []ConditionalExpression `json:"expressions" yaml:"expressions"`
}

// ValidatorType is the discriminant of ValidatorConfig.
type ValidatorType string

const (
	ValidatorRequired   ValidatorType = "required"
	ValidatorEmail      ValidatorType = "email"
	ValidatorMin        ValidatorType = "min"
	ValidatorMax        ValidatorType = "max"
	ValidatorMinLength  ValidatorType = "minLength"
	ValidatorMaxLength  ValidatorType = "maxLength"
	ValidatorPattern    ValidatorType = "pattern"
	ValidatorCustom     ValidatorType = "custom"
	ValidatorHTTP       ValidatorType = "http"
	ValidatorCustomHTTP ValidatorType = "customHttp"
)

// IsAsync reports whether the validator performs network I/O.
func (t ValidatorType) IsAsync() bool {
	return t == ValidatorHTTP || t == ValidatorCustomHTTP
}

// ValidatorConfig describes one validation rule. Only the parameters relevant
// to Type are read.
type ValidatorConfig struct {
	Type            ValidatorType          `json:"type" yaml:"type"`
	Value           any                    `json:"value,omitempty" yaml:"value,omitempty"`
	Expression      string                 `json:"expression,omitempty" yaml:"expression,omitempty"`
	Kind            string                 `json:"kind,omitempty" yaml:"kind,omitempty"`
	ErrorMessage    string                 `json:"errorMessage,omitempty" yaml:"errorMessage,omitempty"`
	When            *ConditionalExpression `json:"when,omitempty" yaml:"when,omitempty"`
	HTTP            *HTTPRequest           `json:"http,omitempty" yaml:"http,omitempty"`
	ResponseMapping *ResponseMapping       `json:"responseMapping,omitempty" yaml:"responseMapping,omitempty"`
	FunctionName    string                 `json:"functionName,omitempty" yaml:"functionName,omitempty"`
}

// ErrorKind returns the kind reported when the validator fails.
func (v ValidatorConfig) ErrorKind() string {
	switch v.Type {
	case ValidatorCustom:
		if v.Kind != "" {
			return v.Kind
		}
		return string(ValidatorCustom)
	case ValidatorHTTP:
		if v.ResponseMapping != nil && v.ResponseMapping.ErrorKind != "" {
			return v.ResponseMapping.ErrorKind
		}
		if v.Kind != "" {
			return v.Kind
		}
		return string(ValidatorHTTP)
	case ValidatorCustomHTTP:
		if v.Kind != "" {
			return v.Kind
		}
		return string(ValidatorCustomHTTP)
	default:
		return string(v.Type)
	}
}

// HTTPRequest describes a request issued by http validators and derivations.
// QueryParams values that are strings are expressions; Body values are
// expressions only when BodyExpressions is set.
type HTTPRequest struct {
	URL             string            `json:"url" yaml:"url"`
	Method          string            `json:"method,omitempty" yaml:"method,omitempty"`
	QueryParams     map[string]any    `json:"queryParams,omitempty" yaml:"queryParams,omitempty"`
	Body            any               `json:"body,omitempty" yaml:"body,omitempty"`
	BodyExpressions bool              `json:"bodyExpressions,omitempty" yaml:"bodyExpressions,omitempty"`
	Headers         map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// ResponseMapping interprets an http validator response.
type ResponseMapping struct {
	ValidWhen   string         `json:"validWhen" yaml:"validWhen"`
	ErrorKind   string         `json:"errorKind,omitempty" yaml:"errorKind,omitempty"`
	ErrorParams map[string]any `json:"errorParams,omitempty" yaml:"errorParams,omitempty"`
}

// LogicType names the state axis a logic rule toggles.
type LogicType string

const (
	LogicHidden   LogicType = "hidden"
	LogicDisabled LogicType = "disabled"
	LogicReadonly LogicType = "readonly"
	LogicRequired LogicType = "required"
)

// LogicConfig toggles one axis of a field's state when Condition holds.
type LogicConfig struct {
	Type      LogicType      `json:"type" yaml:"type"`
	Condition LogicCondition `json:"condition" yaml:"condition"`
}

// LogicCondition is either a named form-state predicate (Name) or an
// expression. It decodes from a string or an object.
type LogicCondition struct {
	Name       string
	Expression *ConditionalExpression
}

// DerivationSource selects how a derived value is computed.
type DerivationSource string

const (
	DerivationExpression    DerivationSource = "expression"
	DerivationAsyncFunction DerivationSource = "asyncFunction"
	DerivationHTTP          DerivationSource = "http"
)

// DerivationConfig describes how a field's value is computed from other
// fields. A bare string decodes into an expression derivation.
type DerivationConfig struct {
	Source                     DerivationSource       `json:"source,omitempty" yaml:"source,omitempty"`
	DependsOn                  []string               `json:"dependsOn,omitempty" yaml:"dependsOn,omitempty"`
	Expression                 string                 `json:"expression,omitempty" yaml:"expression,omitempty"`
	AsyncFunctionName          string                 `json:"asyncFunctionName,omitempty" yaml:"asyncFunctionName,omitempty"`
	HTTP                       *HTTPRequest           `json:"http,omitempty" yaml:"http,omitempty"`
	ResponseExpression         string                 `json:"responseExpression,omitempty" yaml:"responseExpression,omitempty"`
	Condition                  *ConditionalExpression `json:"condition,omitempty" yaml:"condition,omitempty"`
	StopOnUserOverride         bool                   `json:"stopOnUserOverride,omitempty" yaml:"stopOnUserOverride,omitempty"`
	ReEngageOnDependencyChange bool                   `json:"reEngageOnDependencyChange,omitempty" yaml:"reEngageOnDependencyChange,omitempty"`
}

// EffectiveSource defaults an unset source to expression.
func (d DerivationConfig) EffectiveSource() DerivationSource {
	if d.Source == "" {
		return DerivationExpression
	}
	return d.Source
}

// IsAsync reports whether the derivation resolves outside the evaluation pass.
func (d DerivationConfig) IsAsync() bool {
	src := d.EffectiveSource()
	return src == DerivationAsyncFunction || src == DerivationHTTP
}
