package expression

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/goliatone/go-formlogic/pkg/formconfig"
	"github.com/goliatone/go-formlogic/pkg/valuetree"
)

var patternCache sync.Map // string -> *regexp.Regexp

// Compare applies op to actual and expected.
func Compare(op formconfig.Operator, actual, expected any) (bool, error) {
	switch op {
	case formconfig.OpEquals:
		return valuetree.Equal(actual, expected), nil
	case formconfig.OpNotEquals:
		return !valuetree.Equal(actual, expected), nil
	case formconfig.OpGreater, formconfig.OpLess, formconfig.OpGreaterOrEqual, formconfig.OpLessOrEqual:
		a, ok := CoerceNumber(actual)
		if !ok {
			return false, nil
		}
		b, ok := CoerceNumber(expected)
		if !ok {
			return false, nil
		}
		switch op {
		case formconfig.OpGreater:
			return a > b, nil
		case formconfig.OpLess:
			return a < b, nil
		case formconfig.OpGreaterOrEqual:
			return a >= b, nil
		default:
			return a <= b, nil
		}
	case formconfig.OpContains:
		if list, ok := actual.([]any); ok {
			for _, item := range list {
				if valuetree.Equal(item, expected) {
					return true, nil
				}
			}
			return false, nil
		}
		if actual == nil {
			return false, nil
		}
		return strings.Contains(CoerceString(actual), CoerceString(expected)), nil
	case formconfig.OpStartsWith:
		if actual == nil {
			return false, nil
		}
		return strings.HasPrefix(CoerceString(actual), CoerceString(expected)), nil
	case formconfig.OpEndsWith:
		if actual == nil {
			return false, nil
		}
		return strings.HasSuffix(CoerceString(actual), CoerceString(expected)), nil
	case formconfig.OpMatches:
		re, err := compilePattern(CoerceString(expected))
		if err != nil {
			return false, err
		}
		if actual == nil {
			return false, nil
		}
		return re.MatchString(CoerceString(actual)), nil
	case "":
		return false, ErrMissingOperator
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownOperator, op)
	}
}

func compilePattern(pattern string) (*regexp.Regexp, error) {
	if cached, ok := patternCache.Load(pattern); ok {
		return cached.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("expression: invalid pattern %q: %w", pattern, err)
	}
	patternCache.Store(pattern, re)
	return re, nil
}

// CoerceNumber reads numbers and numeric strings.
func CoerceNumber(value any) (float64, bool) {
	if value == nil {
		return 0, false
	}
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint64:
		return float64(v), true
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(trimmed, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// CoerceString renders a value as a string. nil becomes "".
func CoerceString(value any) string {
	if value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(value)
	}
}

// Truthy follows the usual loose rules: nil, false, zero, blank strings and
// empty collections are false.
func Truthy(value any) bool {
	if value == nil {
		return false
	}
	switch v := value.(type) {
	case bool:
		return v
	case string:
		return strings.TrimSpace(v) != ""
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	case float32:
		return v != 0
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	default:
		return true
	}
}
