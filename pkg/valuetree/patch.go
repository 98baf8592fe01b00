package valuetree

import (
	"fmt"
	"strconv"
	"strings"

	jsonpatch "github.com/evanphx/json-patch/v5"
	json "github.com/goccy/go-json"
)

// PatchOperation is one RFC 6902 operation. Path and From accept either a
// JSON pointer (`/items/0/name`) or a field path (`items[0].name`).
type PatchOperation struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	From  string `json:"from,omitempty"`
	Value any    `json:"value,omitempty"`
}

// ApplyPatch applies ops atomically: on error the tree is left unchanged.
// It returns the field paths the operations touched.
func (t *Tree) ApplyPatch(ops []PatchOperation) ([]string, error) {
	if len(ops) == 0 {
		return nil, nil
	}

	wire := make([]map[string]any, 0, len(ops))
	var touched []string
	for i, op := range ops {
		path, err := toPointer(op.Path)
		if err != nil {
			return nil, fmt.Errorf("valuetree: patch op %d: %w", i, err)
		}
		entry := map[string]any{"op": op.Op, "path": path}
		switch op.Op {
		case "add", "replace", "test":
			entry["value"] = op.Value
		case "move", "copy":
			from, err := toPointer(op.From)
			if err != nil {
				return nil, fmt.Errorf("valuetree: patch op %d from: %w", i, err)
			}
			entry["from"] = from
			if op.Op == "move" {
				touched = append(touched, FromPointer(from))
			}
		}
		wire = append(wire, entry)
		if op.Op != "test" {
			touched = append(touched, FromPointer(path))
		}
	}

	patchJSON, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("valuetree: encode patch: %w", err)
	}
	patch, err := jsonpatch.DecodePatch(patchJSON)
	if err != nil {
		return nil, fmt.Errorf("valuetree: decode patch: %w", err)
	}
	doc, err := json.Marshal(t.root)
	if err != nil {
		return nil, fmt.Errorf("valuetree: encode document: %w", err)
	}
	patched, err := patch.Apply(doc)
	if err != nil {
		return nil, fmt.Errorf("valuetree: apply patch: %w", err)
	}
	var root map[string]any
	if err := json.Unmarshal(patched, &root); err != nil {
		return nil, fmt.Errorf("valuetree: decode document: %w", err)
	}
	if root == nil {
		root = map[string]any{}
	}
	t.root = root
	return touched, nil
}

func toPointer(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" || strings.HasPrefix(path, "/") {
		return path, nil
	}
	return Pointer(path)
}

// FromPointer converts a JSON pointer back into a field path. Numeric
// tokens become indices; the `-` append token is dropped.
func FromPointer(pointer string) string {
	pointer = strings.TrimPrefix(pointer, "/")
	if pointer == "" {
		return ""
	}
	var segs []Segment
	for _, token := range strings.Split(pointer, "/") {
		if token == "-" {
			continue
		}
		token = strings.ReplaceAll(token, "~1", "/")
		token = strings.ReplaceAll(token, "~0", "~")
		if idx, err := strconv.Atoi(token); err == nil && idx >= 0 && len(segs) > 0 {
			segs = append(segs, Segment{Index: idx, IsIndex: true})
			continue
		}
		segs = append(segs, Segment{Key: token})
	}
	return FormatPath(segs)
}
