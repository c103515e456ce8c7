package rules

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/asaidimu/go-jsondb/core"
)

// Store indexes rules per collection and keeps a reverse map from each
// dependency to the rules reading it, so that a set of changed fields can
// be turned into the subset of rules that must be recomputed.
type Store struct {
	mu           sync.RWMutex
	byCollection map[string][]Rule
	graph        map[string]map[string][]string // collection -> dependency -> rule ids
}

// NewStore creates an empty rule store.
func NewStore() *Store {
	return &Store{
		byCollection: make(map[string][]Rule),
		graph:        make(map[string]map[string][]string),
	}
}

// Register adds rule to collection, replacing a rule with the same id.
func (s *Store) Register(collection string, rule Rule) error {
	if rule.ID == "" || rule.Target == "" || rule.Expr == nil {
		return fmt.Errorf("rule for %s needs id, target and expression", collection)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(collection, rule.ID)
	s.byCollection[collection] = append(s.byCollection[collection], rule)

	deps, ok := s.graph[collection]
	if !ok {
		deps = make(map[string][]string)
		s.graph[collection] = deps
	}
	for _, dep := range Dependencies(rule.Expr) {
		key := core.ToDotPath(dep)
		deps[key] = append(deps[key], rule.ID)
	}
	return nil
}

// Remove deletes a rule. It reports whether the rule existed.
func (s *Store) Remove(collection, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(collection, id)
}

func (s *Store) removeLocked(collection, id string) bool {
	list := s.byCollection[collection]
	idx := slices.IndexFunc(list, func(r Rule) bool { return r.ID == id })
	if idx < 0 {
		return false
	}
	s.byCollection[collection] = slices.Delete(list, idx, idx+1)

	for dep, ids := range s.graph[collection] {
		ids = slices.DeleteFunc(ids, func(ruleID string) bool { return ruleID == id })
		if len(ids) == 0 {
			delete(s.graph[collection], dep)
		} else {
			s.graph[collection][dep] = ids
		}
	}
	return true
}

// Clear forgets every rule of collection.
func (s *Store) Clear(collection string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byCollection, collection)
	delete(s.graph, collection)
}

// Rules returns the rules of collection in registration order.
func (s *Store) Rules(collection string) []Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.byCollection[collection])
}

// Impacted returns the rules of collection that read any of the changed
// fields, in registration order. A change to "a" impacts a dependency on
// "a.b", and a change to "a.b" impacts a dependency on "a".
func (s *Store) Impacted(collection string, changed []string) []Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hit := make(map[string]struct{})
	for dep, ids := range s.graph[collection] {
		for _, c := range changed {
			if related(dep, core.ToDotPath(c)) {
				for _, id := range ids {
					hit[id] = struct{}{}
				}
				break
			}
		}
	}

	out := make([]Rule, 0, len(hit))
	for _, r := range s.byCollection[collection] {
		if _, ok := hit[r.ID]; ok {
			out = append(out, r)
		}
	}
	return out
}

func related(dep, changed string) bool {
	return dep == changed ||
		strings.HasPrefix(dep, changed+".") ||
		strings.HasPrefix(changed, dep+".")
}
