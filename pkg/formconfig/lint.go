package formconfig

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaSource string

// Issue is a structural problem found in a configuration document.
type Issue struct {
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	if i.Path == "" {
		return i.Message
	}
	return i.Path + ": " + i.Message
}

var (
	schemaOnce sync.Once
	schemaCtx  *cue.Context
	schemaDef  cue.Value
	schemaErr  error

	// cue.Context is not safe for concurrent use.
	schemaMu sync.Mutex
)

func formSchema() (*cue.Context, cue.Value, error) {
	schemaOnce.Do(func() {
		schemaCtx = cuecontext.New()
		compiled := schemaCtx.CompileString(schemaSource, cue.Filename("schema.cue"))
		if err := compiled.Err(); err != nil {
			schemaErr = fmt.Errorf("formconfig: compile schema: %w", err)
			return
		}
		schemaDef = compiled.LookupPath(cue.ParsePath("#FormConfig"))
		if err := schemaDef.Err(); err != nil {
			schemaErr = fmt.Errorf("formconfig: lookup schema: %w", err)
		}
	})
	return schemaCtx, schemaDef, schemaErr
}

// Lint checks a raw JSON or YAML document against the configuration schema.
// A nil slice means the document is structurally valid. The returned error is
// reserved for documents that cannot be decoded at all.
func Lint(data []byte) ([]Issue, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, ErrEmptyDocument
	}
	raw, err := decodeRaw(data)
	if err != nil {
		return nil, fmt.Errorf("formconfig: lint decode: %w", err)
	}

	ctx, def, err := formSchema()
	if err != nil {
		return nil, err
	}

	schemaMu.Lock()
	defer schemaMu.Unlock()

	value := ctx.Encode(raw)
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("formconfig: lint encode: %w", err)
	}

	unified := def.Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return issuesFromCUE(err), nil
	}
	return nil, nil
}

func issuesFromCUE(err error) []Issue {
	seen := make(map[string]struct{})
	var issues []Issue
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		issue := Issue{
			Path:    strings.Join(e.Path(), "."),
			Message: fmt.Sprintf(format, args...),
		}
		key := issue.String()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		issues = append(issues, issue)
	}
	sort.SliceStable(issues, func(i, j int) bool {
		return issues[i].Path < issues[j].Path
	})
	return issues
}
