package directout

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// VariableDefinition names a published value.
type VariableDefinition struct {
	Name  string `json:"name"`
	Label string `json:"label"`
}

// VariableStore holds variable definitions and their current values.
// Values are a Scalar or, for subtree variables, a *Node.
type VariableStore struct {
	mu     sync.RWMutex
	defs   map[string]VariableDefinition
	values map[string]any
}

// NewVariableStore returns an empty store.
func NewVariableStore() *VariableStore {
	return &VariableStore{
		defs:   make(map[string]VariableDefinition),
		values: make(map[string]any),
	}
}

// ResetDefinitions drops every definition. Values are kept so a
// regeneration does not blank published state.
func (v *VariableStore) ResetDefinitions() {
	v.mu.Lock()
	clear(v.defs)
	v.mu.Unlock()
}

// Define adds or relabels a definition.
func (v *VariableStore) Define(name, label string) {
	v.mu.Lock()
	v.defs[name] = VariableDefinition{Name: name, Label: label}
	v.mu.Unlock()
}

// Set stores value under name and reports whether it changed. Setting an
// undefined name defines it.
func (v *VariableStore) Set(name string, value any) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.defs[name]; !ok {
		v.defs[name] = VariableDefinition{Name: name, Label: name}
	}
	if old, ok := v.values[name]; ok && sameValue(old, value) {
		return false
	}
	v.values[name] = value
	return true
}

// Get returns the value of name.
func (v *VariableStore) Get(name string) (any, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	val, ok := v.values[name]
	return val, ok
}

// Values returns a copy of every value.
func (v *VariableStore) Values() map[string]any {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[string]any, len(v.values))
	for k, val := range v.values {
		out[k] = val
	}
	return out
}

// Definitions returns the definitions sorted by name.
func (v *VariableStore) Definitions() []VariableDefinition {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]VariableDefinition, 0, len(v.defs))
	for _, d := range v.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func sameValue(a, b any) bool {
	switch av := a.(type) {
	case Scalar:
		bv, ok := b.(Scalar)
		return ok && av == bv
	case *Node:
		bv, ok := b.(*Node)
		return ok && av.Equal(bv)
	}
	return false
}

var (
	variableInvalidChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)
	variableRepeats      = regexp.MustCompile(`_+`)
	customVariableName   = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// VariableName joins parts into a variable name: lower case, characters
// outside [a-zA-Z0-9_-] replaced by '_' and runs of '_' collapsed.
func VariableName(parts ...string) string {
	name := strings.ToLower(strings.Join(parts, "_"))
	name = variableInvalidChars.ReplaceAllString(name, "_")
	name = variableRepeats.ReplaceAllString(name, "_")
	return strings.Trim(name, "_")
}

// ValidCustomVariableName reports whether name can be used for a custom
// variable.
func ValidCustomVariableName(name string) bool {
	return customVariableName.MatchString(name)
}

// wildcardPositions returns the segment indices of '*' in path.
func wildcardPositions(path string) []int {
	segs, err := SplitPath(path)
	if err != nil {
		return nil
	}
	var out []int
	for i, s := range segs {
		if s == "*" {
			out = append(out, i)
		}
	}
	return out
}

// expandWildcards returns every concrete path of pattern that exists in
// the tree, filling each '*' with the keys or indices present there.
func expandWildcards(store *Store, pattern string) []string {
	segs, err := SplitPath(pattern)
	if err != nil {
		return nil
	}
	var out []string
	var walk func(n *Node, i int, prefix []string)
	walk = func(n *Node, i int, prefix []string) {
		if i == len(segs) {
			out = append(out, JoinPath(prefix...))
			return
		}
		if segs[i] != "*" {
			child, ok := childOf(n, segs[i])
			if !ok {
				return
			}
			walk(child, i+1, append(prefix, segs[i]))
			return
		}
		switch n.Kind() {
		case NodeObject:
			for _, k := range n.Keys() {
				child, _ := n.Field(k)
				walk(child, i+1, append(append([]string(nil), prefix...), k))
			}
		case NodeArray:
			for idx := 0; idx < n.Len(); idx++ {
				child, ok := n.Item(idx)
				if !ok {
					continue
				}
				walk(child, i+1, append(append([]string(nil), prefix...), strconv.Itoa(idx)))
			}
		}
	}
	walk(store.Root(), 0, nil)
	return out
}

// parameterVariableName names the variable for a concrete path of pf.
// The bool is false when an option segment has no semantic id.
func (s *Session) parameterVariableName(p Parameter, pf ParamField, path string) (string, bool) {
	base := VariableName(p.Name)
	if len(p.Params) > 1 {
		base = VariableName(base, pf.ID)
	}
	positions := wildcardPositions(pf.Path)
	if len(positions) == 0 {
		return base, true
	}
	segs, err := SplitPath(path)
	if err != nil {
		return "", false
	}
	parts := []string{base}
	for i, pos := range positions {
		seg, ok := segmentAt(segs, pos)
		if !ok || i >= len(p.Options) {
			return "", false
		}
		id, ok := s.tr.Translate(Incoming, p.Options[i].Translation, seg)
		if !ok || id.IsNull() {
			return "", false
		}
		parts = append(parts, id.String())
	}
	return VariableName(parts...), true
}

// installParameterVariables registers the subscription that publishes the
// variables of pf and defines a variable for each existing instance.
func (s *Session) installParameterVariables(p Parameter, pf ParamField) {
	positions := wildcardPositions(pf.Path)
	if len(positions) > 2 {
		s.logger.Warn("variables with more than two options are not implemented", "parameter", p.Key)
		return
	}

	initPaths := expandWildcards(s.store, pf.Path)
	for _, path := range initPaths {
		if name, ok := s.parameterVariableName(p, pf, path); ok {
			s.vars.Define(name, p.Name)
		}
	}

	s.registry.Set(Subscription{
		Key:       "variable:" + p.Key + ":" + pf.ID,
		Matcher:   WildcardPattern(pf.Path),
		InitPaths: initPaths,
		OnMatch: func(path string) bool {
			name, ok := s.parameterVariableName(p, pf, path)
			if !ok {
				return false
			}
			v, ok := s.getState(path, pf.Translation)
			if !ok {
				return false
			}
			s.setVariable(name, v)
			return false
		},
	})
}
