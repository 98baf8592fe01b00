package validation

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/goliatone/go-formlogic/pkg/expression"
	"github.com/goliatone/go-formlogic/pkg/formconfig"
)

// emailPattern is the usual HTML email shape; the overall and local-part
// length limits are checked separately.
var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9!#$%&'*+/=?^_` + "`" + `{|}~-]+(?:\.[a-zA-Z0-9!#$%&'*+/=?^_` + "`" + `{|}~-]+)*@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)

var patterns sync.Map // string -> *regexp.Regexp

// IsEmpty reports whether value counts as missing for required checks.
// false and 0 are values, not absence.
func IsEmpty(value any) bool {
	if value == nil {
		return true
	}
	switch v := value.(type) {
	case string:
		return v == ""
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	}
	return false
}

// checkBuiltin runs one synchronous built-in validator. ok is false when the
// value fails; params carries the message parameters.
func checkBuiltin(v formconfig.ValidatorConfig, value any) (ok bool, params map[string]any, err error) {
	switch v.Type {
	case formconfig.ValidatorRequired:
		return !IsEmpty(value), nil, nil
	case formconfig.ValidatorEmail:
		if IsEmpty(value) {
			return true, nil, nil
		}
		s, isString := value.(string)
		if !isString {
			return false, nil, nil
		}
		at := strings.LastIndexByte(s, '@')
		if len(s) > 254 || at < 1 || at > 64 {
			return false, nil, nil
		}
		return emailPattern.MatchString(s), nil, nil
	case formconfig.ValidatorMin, formconfig.ValidatorMax:
		bound, isNum := expression.CoerceNumber(v.Value)
		if !isNum {
			return true, nil, fmt.Errorf("validation: %s requires a numeric value, got %v", v.Type, v.Value)
		}
		if IsEmpty(value) {
			return true, nil, nil
		}
		actual, isNum := expression.CoerceNumber(value)
		if !isNum {
			return true, nil, nil
		}
		if v.Type == formconfig.ValidatorMin {
			return actual >= bound, map[string]any{"min": bound, "actual": value}, nil
		}
		return actual <= bound, map[string]any{"max": bound, "actual": value}, nil
	case formconfig.ValidatorMinLength, formconfig.ValidatorMaxLength:
		bound, isNum := expression.CoerceNumber(v.Value)
		if !isNum {
			return true, nil, fmt.Errorf("validation: %s requires a numeric value, got %v", v.Type, v.Value)
		}
		if IsEmpty(value) {
			return true, nil, nil
		}
		length, hasLength := lengthOf(value)
		if !hasLength {
			return true, nil, nil
		}
		params := map[string]any{"requiredLength": int(bound), "actualLength": length}
		if v.Type == formconfig.ValidatorMinLength {
			return float64(length) >= bound, params, nil
		}
		return float64(length) <= bound, params, nil
	case formconfig.ValidatorPattern:
		source := expression.CoerceString(v.Value)
		re, err := anchoredPattern(source)
		if err != nil {
			return true, nil, err
		}
		if IsEmpty(value) {
			return true, nil, nil
		}
		actual := expression.CoerceString(value)
		return re.MatchString(actual), map[string]any{"requiredPattern": source, "actualValue": actual}, nil
	}
	return true, nil, fmt.Errorf("validation: %q is not a built-in validator", v.Type)
}

func lengthOf(value any) (int, bool) {
	switch v := value.(type) {
	case string:
		return utf8.RuneCountInString(v), true
	case []any:
		return len(v), true
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return rv.Len(), true
	}
	return 0, false
}

// anchoredPattern compiles source so it must match the whole value unless
// the author anchored it already.
func anchoredPattern(source string) (*regexp.Regexp, error) {
	if cached, ok := patterns.Load(source); ok {
		return cached.(*regexp.Regexp), nil
	}
	anchored := source
	if !strings.HasPrefix(anchored, "^") {
		anchored = "^(?:" + anchored
	} else {
		anchored = "^(?:" + anchored[1:]
	}
	if strings.HasSuffix(anchored, "$") && !strings.HasSuffix(anchored, `\$`) {
		anchored = anchored[:len(anchored)-1] + ")$"
	} else {
		anchored += ")$"
	}
	re, err := regexp.Compile(anchored)
	if err != nil {
		return nil, fmt.Errorf("validation: invalid pattern %q: %w", source, err)
	}
	patterns.Store(source, re)
	return re, nil
}
