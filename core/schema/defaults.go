package schema

import (
	"fmt"

	"github.com/asaidimu/go-jsondb/core"
)

// ApplyDefaults fills properties missing from instance with the "default"
// declared by their schema, following $ref and allOf, and descends into
// nested objects that are present.
func (v *Validator) ApplyDefaults(uri string, instance map[string]any) error {
	root, ok := v.registry.Get(uri)
	if !ok {
		return fmt.Errorf("%s: %w", uri, ErrSchemaNotFound)
	}
	docURI, _ := SplitFragment(uri)
	return v.defaults(root, docURI, instance, "", make(map[string]struct{}))
}

func (v *Validator) defaults(schemaNode any, uri string, obj map[string]any, path string, visited map[string]struct{}) error {
	s, ok := schemaNode.(map[string]any)
	if !ok {
		return nil
	}

	if ref, ok := s["$ref"].(string); ok {
		resolved, err := v.registry.Resolve(uri, ref)
		if err != nil {
			return err
		}
		key := resolved.Ref + "|" + path
		if _, seen := visited[key]; seen {
			return fmt.Errorf("%s at %q: %w", resolved.Ref, path, ErrRefCycle)
		}
		visited[key] = struct{}{}
		defer delete(visited, key)
		return v.defaults(resolved.Schema, resolved.URI, obj, path, visited)
	}

	if all, ok := s["allOf"].([]any); ok {
		for _, sub := range all {
			if err := v.defaults(sub, uri, obj, path, visited); err != nil {
				return err
			}
		}
	}

	props, _ := s["properties"].(map[string]any)
	for name, propSchema := range props {
		target, targetURI, err := v.follow(propSchema, uri)
		if err != nil {
			return err
		}
		current, present := obj[name]
		if !present {
			if def, ok := target["default"]; ok {
				obj[name] = core.CloneValue(def)
			}
			continue
		}
		if nested, ok := current.(map[string]any); ok {
			if err := v.defaults(target, targetURI, nested, childPath(path, name), visited); err != nil {
				return err
			}
		}
	}
	return nil
}

// follow resolves a chain of $ref-only schemas to the first node carrying
// its own keywords.
func (v *Validator) follow(node any, uri string) (map[string]any, string, error) {
	seen := make(map[string]struct{})
	for {
		s, ok := node.(map[string]any)
		if !ok {
			return nil, uri, nil
		}
		ref, ok := s["$ref"].(string)
		if !ok {
			return s, uri, nil
		}
		resolved, err := v.registry.Resolve(uri, ref)
		if err != nil {
			return nil, uri, err
		}
		if _, loop := seen[resolved.Ref]; loop {
			return nil, uri, fmt.Errorf("%s: %w", resolved.Ref, ErrRefCycle)
		}
		seen[resolved.Ref] = struct{}{}
		node, uri = resolved.Schema, resolved.URI
	}
}
