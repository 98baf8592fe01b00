package form

import (
	"strconv"
	"strings"

	"github.com/goliatone/go-formlogic/pkg/valuetree"
)

// ServerErrorKind is the validation kind of errors set by SetServerErrors.
const ServerErrorKind = "server"

// ErrorMapping splits a server error payload into field-level messages keyed
// by field path and form-level messages.
type ErrorMapping struct {
	Fields map[string][]string
	Form   []string
}

// SetServerErrors maps a server error payload onto fields and stores it.
// Keys may be field paths, bracket paths or JSON pointers, optionally under
// wrapper segments such as body or data. Unknown keys become form-level
// errors so messages are not lost. Field messages are cleared the next time
// the field's value changes; the payload replaces any earlier one.
func (f *Form) SetServerErrors(payload map[string][]string) ErrorMapping {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrorMapping{}
	}
	mapping := f.mapErrorPayload(payload)

	for _, st := range f.fields {
		st.server = nil
	}
	for path, messages := range mapping.Fields {
		if n, ok := f.index.ByPath(path); ok {
			f.stateFor(n.ID).server = messages
		}
	}
	f.formErrors = mapping.Form

	p := f.newPass(OriginServer)
	f.run(p)
	change := f.finish(p)
	f.mu.Unlock()

	f.notify(change)
	return mapping
}

// MergeFormErrors concatenates form-level messages, trimming whitespace and
// dropping duplicates while preserving order.
func MergeFormErrors(existing []string, extras ...string) []string {
	combined := make([]string, 0, len(existing)+len(extras))
	combined = append(combined, existing...)
	combined = append(combined, extras...)
	return normalizeMessages(combined)
}

func (f *Form) clearServerErrors(path string) {
	for id, st := range f.fields {
		if len(st.server) == 0 {
			continue
		}
		n, ok := f.index.ByID(id)
		if !ok {
			continue
		}
		if valuetree.HasPrefix(n.Path, path) || valuetree.HasPrefix(path, n.Path) {
			st.server = nil
		}
	}
}

func (f *Form) mapErrorPayload(payload map[string][]string) ErrorMapping {
	mapping := ErrorMapping{Fields: make(map[string][]string)}
	for rawPath, messages := range payload {
		normalized := normalizeMessages(messages)
		if len(normalized) == 0 {
			continue
		}
		mapped, formLevel := f.mapErrorPath(rawPath)
		if formLevel {
			mapping.Form = append(mapping.Form, normalized...)
			continue
		}
		mapping.Fields[mapped] = normalizeMessages(append(mapping.Fields[mapped], normalized...))
	}
	if len(mapping.Fields) == 0 {
		mapping.Fields = nil
	}
	mapping.Form = normalizeMessages(mapping.Form)
	return mapping
}

func normalizeMessages(messages []string) []string {
	if len(messages) == 0 {
		return nil
	}
	out := make([]string, 0, len(messages))
	seen := make(map[string]struct{}, len(messages))
	for _, message := range messages {
		trimmed := strings.TrimSpace(message)
		if trimmed == "" {
			continue
		}
		if _, exists := seen[trimmed]; exists {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// mapErrorPath picks the deepest known value path among the variants of
// raw: as given, without wrapper segments, and with array indices dropped.
func (f *Form) mapErrorPath(raw string) (string, bool) {
	if isFormLevelKey(raw) {
		return "", true
	}
	segments := parsePathSegments(raw)
	if len(segments) == 0 {
		return "", true
	}

	best, bestLen := "", 0
	for _, variant := range segmentVariants(segments) {
		for end := len(variant); end > bestLen; end-- {
			candidate := formatSegments(variant[:end])
			if _, ok := f.index.ByPath(candidate); ok {
				best, bestLen = candidate, end
				break
			}
		}
	}
	if best == "" {
		return "", true
	}
	return best, false
}

func parsePathSegments(path string) []string {
	clean := strings.TrimSpace(path)
	clean = strings.TrimPrefix(clean, "#/")
	clean = strings.TrimPrefix(clean, "$/")
	clean = strings.TrimPrefix(clean, "$.")
	for strings.HasPrefix(clean, "#") || strings.HasPrefix(clean, "/") || strings.HasPrefix(clean, ".") || strings.HasPrefix(clean, "$") {
		clean = strings.TrimLeft(clean, "#/.$")
	}

	replacer := strings.NewReplacer("[", ".", "]", "", "//", "/")
	clean = strings.Trim(replacer.Replace(clean), "./")
	if clean == "" {
		return nil
	}

	parts := strings.FieldsFunc(clean, func(r rune) bool {
		return r == '.' || r == '/'
	})
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		segment := strings.TrimSpace(part)
		if segment == "" {
			continue
		}
		segment = strings.ReplaceAll(segment, "~1", "/")
		segment = strings.ReplaceAll(segment, "~0", "~")
		out = append(out, segment)
	}
	return out
}

func segmentVariants(segments []string) [][]string {
	var variants [][]string
	seen := make(map[string]struct{}, 4)
	add := func(candidate []string) {
		if len(candidate) == 0 {
			return
		}
		key := strings.Join(candidate, "\x00")
		if _, exists := seen[key]; exists {
			return
		}
		seen[key] = struct{}{}
		variants = append(variants, append([]string(nil), candidate...))
	}

	noWrappers := dropWrapperSegments(segments)
	add(segments)
	add(noWrappers)
	add(stripNumericSegments(segments))
	add(stripNumericSegments(noWrappers))
	return variants
}

func dropWrapperSegments(segments []string) []string {
	out := segments
	for len(out) > 0 {
		switch strings.ToLower(out[0]) {
		case "body", "request", "payload", "data", "attributes":
			out = out[1:]
			continue
		}
		break
	}
	return out
}

func stripNumericSegments(segments []string) []string {
	out := make([]string, 0, len(segments))
	for _, segment := range segments {
		if isIndex(segment) {
			continue
		}
		out = append(out, segment)
	}
	return out
}

// formatSegments renders numeric segments after the first as indices.
func formatSegments(segments []string) string {
	var b strings.Builder
	for i, segment := range segments {
		if i > 0 && isIndex(segment) {
			b.WriteString("[" + segment + "]")
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(segment)
	}
	return b.String()
}

func isIndex(segment string) bool {
	n, err := strconv.Atoi(segment)
	return err == nil && n >= 0
}

func isFormLevelKey(key string) bool {
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "", ".", "/", "#", "$", "form", "base", "__all__", "non_field_errors", "non-field-errors":
		return true
	default:
		return false
	}
}
