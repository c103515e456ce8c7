package schema

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/asaidimu/go-jsondb/core"
)

// Validator checks instances against schemas held in a Registry. It never
// coerces values: a mismatch is always reported as an Issue. A Validator is
// safe for concurrent use.
type Validator struct {
	registry *Registry

	mu       sync.RWMutex
	patterns map[string]*regexp.Regexp
}

// NewValidator creates a Validator resolving references through registry.
func NewValidator(registry *Registry) *Validator {
	return &Validator{
		registry: registry,
		patterns: make(map[string]*regexp.Regexp),
	}
}

// validation carries the state of a single Validate call.
type validation struct {
	v       *Validator
	issues  []Issue
	visited map[string]struct{}
}

// Validate checks instance against the schema registered at uri. It
// returns a *ValidationError listing every structural issue, or a
// resolution error (ErrSchemaNotFound, ErrInvalidRef, ErrRefCycle) that
// stops validation.
func (v *Validator) Validate(uri string, instance any) error {
	root, ok := v.registry.Get(uri)
	if !ok {
		return fmt.Errorf("%s: %w", uri, ErrSchemaNotFound)
	}
	docURI, _ := SplitFragment(uri)

	run := &validation{v: v, visited: make(map[string]struct{})}
	if err := run.node(root, docURI, instance, ""); err != nil {
		return err
	}
	if len(run.issues) > 0 {
		return &ValidationError{URI: uri, Issues: run.issues}
	}
	return nil
}

// ValidateSchema checks instance against an inline schema document. $refs
// inside it resolve relative to baseURI.
func (v *Validator) ValidateSchema(schemaDoc any, baseURI string, instance any) error {
	run := &validation{v: v, visited: make(map[string]struct{})}
	if err := run.node(schemaDoc, baseURI, instance, ""); err != nil {
		return err
	}
	if len(run.issues) > 0 {
		return &ValidationError{URI: baseURI, Issues: run.issues}
	}
	return nil
}

func (r *validation) addIssue(code, message, path string) {
	r.issues = append(r.issues, Issue{Code: code, Message: message, Path: path})
}

func (r *validation) node(schemaNode any, uri string, instance any, path string) error {
	switch s := schemaNode.(type) {
	case bool:
		if !s {
			r.addIssue(CodeFalseSchema, "no value is allowed here", path)
		}
		return nil
	case map[string]any:
		return r.object(s, uri, instance, path)
	default:
		return nil
	}
}

func (r *validation) object(s map[string]any, uri string, instance any, path string) error {
	if ref, ok := s["$ref"].(string); ok {
		return r.ref(ref, uri, instance, path)
	}

	if all, ok := s["allOf"].([]any); ok {
		for _, sub := range all {
			if err := r.node(sub, uri, instance, path); err != nil {
				return err
			}
		}
	}

	if raw, ok := s["type"]; ok {
		expected := stringList(raw)
		actual := jsonType(instance)
		matched := false
		for _, t := range expected {
			if typeMatches(t, actual) {
				matched = true
				break
			}
		}
		if !matched && len(expected) > 0 {
			r.addIssue(CodeTypeMismatch,
				fmt.Sprintf("expected %s, got %s", strings.Join(expected, " or "), actual), path)
			return nil
		}
	}

	if enum, ok := s["enum"].([]any); ok {
		found := false
		for _, candidate := range enum {
			if core.ValuesEqual(candidate, instance) && jsonType(candidate) == jsonType(instance) {
				found = true
				break
			}
		}
		if !found {
			r.addIssue(CodeEnumMismatch, fmt.Sprintf("value must be one of %v", enum), path)
		}
	}

	switch val := instance.(type) {
	case map[string]any:
		return r.properties(s, uri, val, path)
	case []any:
		return r.items(s, uri, val, path)
	case string:
		r.stringPattern(s, val, path)
	}
	return nil
}

func (r *validation) ref(ref, uri string, instance any, path string) error {
	resolved, err := r.v.registry.Resolve(uri, ref)
	if err != nil {
		return err
	}
	key := resolved.Ref + "|" + path
	if _, seen := r.visited[key]; seen {
		return fmt.Errorf("%s at %q: %w", resolved.Ref, path, ErrRefCycle)
	}
	r.visited[key] = struct{}{}
	defer delete(r.visited, key)

	return r.node(resolved.Schema, resolved.URI, instance, path)
}

func (r *validation) properties(s map[string]any, uri string, obj map[string]any, path string) error {
	for _, name := range stringList(s["required"]) {
		if _, ok := obj[name]; !ok {
			r.addIssue(CodeRequiredMissing, fmt.Sprintf("required property '%s' is missing", name), childPath(path, name))
		}
	}

	props, _ := s["properties"].(map[string]any)
	patternProps, _ := s["patternProperties"].(map[string]any)

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := obj[key]
		known := false

		if propSchema, ok := props[key]; ok {
			known = true
			if err := r.node(propSchema, uri, value, childPath(path, key)); err != nil {
				return err
			}
		}

		for pattern, patternSchema := range patternProps {
			re, err := r.v.compile(pattern)
			if err != nil {
				r.addIssue(CodeInvalidPattern, fmt.Sprintf("invalid patternProperties regex %q: %v", pattern, err), path)
				continue
			}
			if re.MatchString(key) {
				known = true
				if err := r.node(patternSchema, uri, value, childPath(path, key)); err != nil {
					return err
				}
			}
		}

		if known || key == "$schema" {
			continue
		}
		switch extra := s["additionalProperties"].(type) {
		case bool:
			if !extra {
				r.addIssue(CodeAdditionalProperty, fmt.Sprintf("property '%s' is not allowed", key), childPath(path, key))
			}
		case map[string]any:
			if err := r.node(extra, uri, value, childPath(path, key)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *validation) items(s map[string]any, uri string, arr []any, path string) error {
	switch items := s["items"].(type) {
	case map[string]any, bool:
		for i, item := range arr {
			if err := r.node(items, uri, item, indexPath(path, i)); err != nil {
				return err
			}
		}
	case []any:
		for i, item := range arr {
			if i >= len(items) {
				break
			}
			if err := r.node(items[i], uri, item, indexPath(path, i)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *validation) stringPattern(s map[string]any, value, path string) {
	pattern, ok := s["pattern"].(string)
	if !ok {
		return
	}
	re, err := r.v.compile(pattern)
	if err != nil {
		r.addIssue(CodeInvalidPattern, fmt.Sprintf("invalid pattern %q: %v", pattern, err), path)
		return
	}
	if !re.MatchString(value) {
		r.addIssue(CodePatternMismatch, fmt.Sprintf("value does not match pattern %q", pattern), path)
	}
}

func (v *Validator) compile(pattern string) (*regexp.Regexp, error) {
	v.mu.RLock()
	re, ok := v.patterns[pattern]
	v.mu.RUnlock()
	if ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	v.patterns[pattern] = re
	v.mu.Unlock()
	return re, nil
}
