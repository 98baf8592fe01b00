package formconfig

import (
	"bytes"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// UnmarshalJSON accepts either an expression object or a bare string, which is
// treated as a javascript expression.
func (c *ConditionalExpression) UnmarshalJSON(data []byte) error {
	if s, ok, err := jsonString(data); ok || err != nil {
		if err != nil {
			return fmt.Errorf("formconfig: condition: %w", err)
		}
		*c = ConditionalExpression{Type: ConditionJavascript, Expression: s}
		return nil
	}
	type alias ConditionalExpression
	var out alias
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("formconfig: condition: %w", err)
	}
	*c = ConditionalExpression(out)
	return nil
}

// UnmarshalYAML mirrors UnmarshalJSON for YAML documents.
func (c *ConditionalExpression) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*c = ConditionalExpression{Type: ConditionJavascript, Expression: node.Value}
		return nil
	}
	type alias ConditionalExpression
	var out alias
	if err := node.Decode(&out); err != nil {
		return fmt.Errorf("formconfig: condition: %w", err)
	}
	*c = ConditionalExpression(out)
	return nil
}

// UnmarshalJSON decodes a predicate name or an expression object.
func (c *LogicCondition) UnmarshalJSON(data []byte) error {
	if s, ok, err := jsonString(data); ok || err != nil {
		if err != nil {
			return fmt.Errorf("formconfig: logic condition: %w", err)
		}
		*c = LogicCondition{Name: strings.TrimSpace(s)}
		return nil
	}
	var expr ConditionalExpression
	if err := json.Unmarshal(data, &expr); err != nil {
		return fmt.Errorf("formconfig: logic condition: %w", err)
	}
	*c = LogicCondition{Expression: &expr}
	return nil
}

// MarshalJSON emits the predicate name or the expression object.
func (c LogicCondition) MarshalJSON() ([]byte, error) {
	if c.Expression != nil {
		return json.Marshal(c.Expression)
	}
	return json.Marshal(c.Name)
}

// UnmarshalYAML mirrors UnmarshalJSON for YAML documents.
func (c *LogicCondition) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*c = LogicCondition{Name: strings.TrimSpace(node.Value)}
		return nil
	}
	var expr ConditionalExpression
	if err := node.Decode(&expr); err != nil {
		return fmt.Errorf("formconfig: logic condition: %w", err)
	}
	*c = LogicCondition{Expression: &expr}
	return nil
}

// MarshalYAML emits the predicate name or the expression object.
func (c LogicCondition) MarshalYAML() (any, error) {
	if c.Expression != nil {
		return c.Expression, nil
	}
	return c.Name, nil
}

// UnmarshalJSON accepts the full descriptor or an expression string.
func (d *DerivationConfig) UnmarshalJSON(data []byte) error {
	if s, ok, err := jsonString(data); ok || err != nil {
		if err != nil {
			return fmt.Errorf("formconfig: derivation: %w", err)
		}
		*d = DerivationConfig{Source: DerivationExpression, Expression: s}
		return nil
	}
	type alias DerivationConfig
	var out alias
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("formconfig: derivation: %w", err)
	}
	*d = DerivationConfig(out)
	return nil
}

// UnmarshalYAML mirrors UnmarshalJSON for YAML documents.
func (d *DerivationConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*d = DerivationConfig{Source: DerivationExpression, Expression: node.Value}
		return nil
	}
	type alias DerivationConfig
	var out alias
	if err := node.Decode(&out); err != nil {
		return fmt.Errorf("formconfig: derivation: %w", err)
	}
	*d = DerivationConfig(out)
	return nil
}

func jsonString(data []byte) (string, bool, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '"' {
		return "", false, nil
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return "", true, err
	}
	return s, true, nil
}
