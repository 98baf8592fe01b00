package transport

import (
	"fmt"
	"sort"
	"strings"

	"github.com/goliatone/go-formlogic/pkg/expression"
	"github.com/goliatone/go-formlogic/pkg/formconfig"
	"github.com/goliatone/go-formlogic/pkg/valuetree"
)

// Resolve turns a declarative request into a concrete Request. String query
// parameter values are scripts evaluated against ectx; other values are sent
// as literals. Body values are scripts only when BodyExpressions is set.
//
// A literal string query value must be quoted inside the script
// (`"'json'"`): a bare `json` is an unknown identifier and Resolve fails
// with ErrInvalidQuery, which http validators report as invalid. The lint
// command flags such parameters.
func Resolve(cfg formconfig.HTTPRequest, ectx expression.Context, scripts *expression.Scripts) (Request, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return Request{}, ErrMissingURL
	}
	if scripts == nil {
		scripts = expression.NewScripts()
	}

	req := Request{
		URL:     strings.TrimSpace(cfg.URL),
		Method:  strings.ToUpper(strings.TrimSpace(cfg.Method)),
		Headers: cfg.Headers,
	}
	if req.Method == "" {
		req.Method = "GET"
	}

	if len(cfg.QueryParams) > 0 {
		req.Query = make(map[string]string, len(cfg.QueryParams))
		keys := make([]string, 0, len(cfg.QueryParams))
		for k := range cfg.QueryParams {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			raw := cfg.QueryParams[k]
			src, ok := raw.(string)
			if !ok {
				req.Query[k] = expression.CoerceString(raw)
				continue
			}
			value, err := scripts.Eval(src, ectx)
			if err != nil {
				return Request{}, fmt.Errorf("%w %q: %w", ErrInvalidQuery, k, err)
			}
			req.Query[k] = expression.CoerceString(value)
		}
	}

	if cfg.Body != nil {
		if !cfg.BodyExpressions {
			req.Body = valuetree.Clone(cfg.Body)
		} else {
			body, err := resolveBody(cfg.Body, ectx, scripts)
			if err != nil {
				return Request{}, err
			}
			req.Body = body
		}
	}
	return req, nil
}

func resolveBody(node any, ectx expression.Context, scripts *expression.Scripts) (any, error) {
	switch typed := node.(type) {
	case string:
		value, err := scripts.Eval(typed, ectx)
		if err != nil {
			return nil, fmt.Errorf("transport: body expression %q: %w", typed, err)
		}
		return value, nil
	case map[string]any:
		out := make(map[string]any, len(typed))
		for k, v := range typed {
			resolved, err := resolveBody(v, ectx, scripts)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(typed))
		for i, v := range typed {
			resolved, err := resolveBody(v, ectx, scripts)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return node, nil
	}
}
