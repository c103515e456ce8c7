package schema

import (
	"fmt"
	"strconv"
	"strings"
)

const uriScheme = "db://"

// ResolvePathURI resolves target against the URI of the schema that
// mentions it. Absolute db:// targets pass through, an empty target yields
// base, and relative targets are joined to base's parent with "." and ".."
// segments normalised. Fragments on target are preserved.
func ResolvePathURI(base, target string) string {
	if strings.HasPrefix(target, uriScheme) {
		return target
	}
	if target == "" {
		return base
	}

	pathPart, fragment, hasFragment := strings.Cut(target, "#")
	if pathPart == "" {
		base, _ = SplitFragment(base)
		return base + "#" + fragment
	}

	baseBody := strings.TrimPrefix(base, uriScheme)
	baseBody, _, _ = strings.Cut(baseBody, "#")
	segments := strings.Split(baseBody, "/")
	if len(segments) > 0 {
		segments = segments[:len(segments)-1]
	}

	for _, seg := range strings.Split(pathPart, "/") {
		switch seg {
		case "", ".":
		case "..":
			if len(segments) > 0 {
				segments = segments[:len(segments)-1]
			}
		default:
			segments = append(segments, seg)
		}
	}

	resolved := uriScheme + strings.Join(segments, "/")
	if hasFragment {
		resolved += "#" + fragment
	}
	return resolved
}

// SplitFragment separates "uri#/a/b" into "uri" and "/a/b".
func SplitFragment(uri string) (string, string) {
	doc, fragment, _ := strings.Cut(uri, "#")
	return doc, fragment
}

// ResolvePointer walks a JSON pointer (RFC 6901) inside doc. The empty
// pointer returns doc itself.
func ResolvePointer(doc any, pointer string) (any, error) {
	if pointer == "" {
		return doc, nil
	}
	if !strings.HasPrefix(pointer, "/") {
		return nil, fmt.Errorf("pointer %q must start with '/': %w", pointer, ErrInvalidRef)
	}

	current := doc
	for _, raw := range strings.Split(pointer[1:], "/") {
		token := strings.ReplaceAll(strings.ReplaceAll(raw, "~1", "/"), "~0", "~")
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[token]
			if !ok {
				return nil, fmt.Errorf("pointer %q: key %q not found: %w", pointer, token, ErrInvalidRef)
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(token)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, fmt.Errorf("pointer %q: index %q out of range: %w", pointer, token, ErrInvalidRef)
			}
			current = node[idx]
		default:
			return nil, fmt.Errorf("pointer %q: cannot descend into %T: %w", pointer, current, ErrInvalidRef)
		}
	}
	return current, nil
}
