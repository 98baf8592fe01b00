package valuetree

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrEmptyPath is returned when an operation needs a non-empty path.
var ErrEmptyPath = errors.New("valuetree: path is empty")

// Segment is one step of a field path: an object key or an array index.
type Segment struct {
	Key     string
	Index   int
	IsIndex bool
}

func (s Segment) String() string {
	if s.IsIndex {
		return "[" + strconv.Itoa(s.Index) + "]"
	}
	return s.Key
}

// ParsePath splits a dot/bracket path such as `items[2].name` into segments.
// Purely numeric dot segments (`items.2.name`) are read as indices too.
func ParsePath(path string) ([]Segment, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrEmptyPath
	}

	var segs []Segment
	i := 0
	for i < len(path) {
		switch path[i] {
		case '.':
			i++
			continue
		case '[':
			end := strings.IndexByte(path[i:], ']')
			if end < 0 {
				return nil, fmt.Errorf("valuetree: unterminated index in %q", path)
			}
			raw := strings.TrimSpace(path[i+1 : i+end])
			idx, err := strconv.Atoi(raw)
			if err != nil || idx < 0 {
				return nil, fmt.Errorf("valuetree: invalid index %q in %q", raw, path)
			}
			segs = append(segs, Segment{Index: idx, IsIndex: true})
			i += end + 1
		default:
			start := i
			for i < len(path) && path[i] != '.' && path[i] != '[' {
				i++
			}
			key := strings.TrimSpace(path[start:i])
			if key == "" {
				continue
			}
			if idx, err := strconv.Atoi(key); err == nil && idx >= 0 && len(segs) > 0 {
				segs = append(segs, Segment{Index: idx, IsIndex: true})
				continue
			}
			segs = append(segs, Segment{Key: key})
		}
	}
	if len(segs) == 0 {
		return nil, ErrEmptyPath
	}
	return segs, nil
}

// FormatPath renders segments back into canonical dot/bracket form.
func FormatPath(segs []Segment) string {
	var b strings.Builder
	for i, seg := range segs {
		if seg.IsIndex {
			b.WriteString(seg.String())
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(seg.Key)
	}
	return b.String()
}

// Canonical normalises a path into dot/bracket form. Invalid paths are
// returned trimmed but otherwise untouched.
func Canonical(path string) string {
	segs, err := ParsePath(path)
	if err != nil {
		return strings.TrimSpace(path)
	}
	return FormatPath(segs)
}

// Join appends a key to a parent path.
func Join(parent, key string) string {
	parent = strings.TrimSpace(parent)
	key = strings.TrimSpace(key)
	if parent == "" {
		return key
	}
	if key == "" {
		return parent
	}
	return parent + "." + key
}

// IndexPath addresses one element of the array at path.
func IndexPath(path string, index int) string {
	return path + "[" + strconv.Itoa(index) + "]"
}

// HasPrefix reports whether path equals prefix or lies beneath it.
func HasPrefix(path, prefix string) bool {
	if prefix == "" {
		return true
	}
	if path == prefix {
		return true
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	next := path[len(prefix)]
	return next == '.' || next == '['
}

// Pointer converts a field path into an RFC 6901 JSON pointer.
func Pointer(path string) (string, error) {
	segs, err := ParsePath(path)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, seg := range segs {
		b.WriteByte('/')
		if seg.IsIndex {
			b.WriteString(strconv.Itoa(seg.Index))
			continue
		}
		key := strings.ReplaceAll(seg.Key, "~", "~0")
		key = strings.ReplaceAll(key, "/", "~1")
		b.WriteString(key)
	}
	return b.String(), nil
}

// ItemScopes returns the array item prefixes enclosing path, innermost
// first. `orders[1].lines[0].qty` yields `orders[1].lines[0]`, `orders[1]`.
func ItemScopes(path string) []string {
	segs, err := ParsePath(path)
	if err != nil {
		return nil
	}
	var scopes []string
	for i := len(segs) - 2; i >= 0; i-- {
		if segs[i].IsIndex {
			scopes = append(scopes, FormatPath(segs[:i+1]))
		}
	}
	return scopes
}
