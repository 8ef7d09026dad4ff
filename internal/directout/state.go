package directout

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// Store holds the mirrored device tree.
//
// Store is not safe for concurrent use; the owning Session serialises
// access.
type Store struct {
	root *Node
}

// NewStore returns a store holding an empty object.
func NewStore() *Store {
	return &Store{root: NewObject()}
}

// Reset discards the tree.
func (s *Store) Reset() {
	s.root = NewObject()
}

// Root returns the live root node. Callers must not mutate it.
func (s *Store) Root() *Node {
	return s.root
}

// Snapshot returns a deep copy of the subtree at path.
func (s *Store) Snapshot(path string) (*Node, bool) {
	n, ok := s.Lookup(path)
	if !ok {
		return nil, false
	}
	return n.Clone(), true
}

// Lookup resolves path by sequential segment descent. Holes, missing keys,
// out-of-range indices and descent through a leaf all report false.
func (s *Store) Lookup(path string) (*Node, bool) {
	segs, err := SplitPath(path)
	if err != nil {
		return nil, false
	}
	return lookupSegments(s.root, segs)
}

// Value resolves path to a leaf scalar.
func (s *Store) Value(path string) (Scalar, bool) {
	n, ok := s.Lookup(path)
	if !ok {
		return Null(), false
	}
	return n.Leaf()
}

func lookupSegments(root *Node, segs []string) (*Node, bool) {
	cur := root
	for _, seg := range segs {
		next, ok := childOf(cur, seg)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, cur != nil
}

func childOf(n *Node, seg string) (*Node, bool) {
	if n == nil {
		return nil, false
	}
	switch n.kind {
	case NodeObject:
		return n.Field(seg)
	case NodeArray:
		idx, ok := indexSegment(seg)
		if !ok {
			return nil, false
		}
		return n.Item(idx)
	default:
		return nil, false
	}
}

// ApplyAll applies patches in order. A failing patch does not stop the
// remaining ones; the failures are returned joined.
func (s *Store) ApplyAll(patches []Patch) error {
	var errs []error
	for _, p := range patches {
		if err := s.Apply(p); err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", p.Op, p.Path, err))
		}
	}
	return errors.Join(errs...)
}

// Apply applies a single patch.
func (s *Store) Apply(p Patch) error {
	segs, err := SplitPath(p.Path)
	if err != nil {
		return err
	}
	switch p.Op {
	case OpReplace, OpAdd:
		return s.set(segs, p.Value)
	case OpRemove:
		return s.remove(segs)
	case OpTest:
		cur, ok := lookupSegments(s.root, segs)
		if !ok {
			return ErrPathNotFound
		}
		want := p.Value
		if want == nil {
			want = NewLeaf(Null())
		}
		if !cur.Equal(want) {
			return ErrTestFailed
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedOp, p.Op)
	}
}

func (s *Store) set(segs []string, value *Node) error {
	if value == nil {
		value = NewLeaf(Null())
	}
	if len(segs) == 0 {
		if value.kind != NodeObject {
			return fmt.Errorf("%w: root must be an object", ErrInvalidPath)
		}
		s.root = value.Clone()
		return nil
	}

	parent := s.root
	for i := 0; i < len(segs)-1; i++ {
		_, wantArray := indexSegment(segs[i+1])
		child, err := ensureContainer(parent, segs[i], wantArray)
		if err != nil {
			return err
		}
		parent = child
	}
	return putChild(parent, segs[len(segs)-1], value.Clone())
}

// ensureContainer returns the container under seg, creating or retyping
// it when the slot is missing or has a conflicting shape. An object is
// kept when a numeric segment follows; the segment is then used as a key.
func ensureContainer(parent *Node, seg string, wantArray bool) (*Node, error) {
	existing, _ := childOf(parent, seg)
	switch {
	case existing == nil, existing.kind == NodeLeaf:
	case existing.kind == NodeArray && !wantArray:
	default:
		return existing, nil
	}
	fresh := NewObject()
	if wantArray {
		fresh = NewArray()
	}
	if err := putChild(parent, seg, fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

func putChild(parent *Node, seg string, child *Node) error {
	switch parent.kind {
	case NodeObject:
		parent.setField(seg, child)
		return nil
	case NodeArray:
		idx, ok := indexSegment(seg)
		if !ok || !validIndex(idx) {
			return fmt.Errorf("%w: %q is not a sequence index", ErrInvalidPath, seg)
		}
		parent.setItem(idx, child)
		return nil
	default:
		return fmt.Errorf("%w: cannot descend into a leaf at %q", ErrInvalidPath, seg)
	}
}

func (s *Store) remove(segs []string) error {
	if len(segs) == 0 {
		return fmt.Errorf("%w: cannot remove root", ErrInvalidPath)
	}
	parent, ok := lookupSegments(s.root, segs[:len(segs)-1])
	if !ok {
		return ErrPathNotFound
	}
	last := segs[len(segs)-1]
	switch parent.kind {
	case NodeObject:
		if !parent.deleteField(last) {
			return ErrPathNotFound
		}
		return nil
	case NodeArray:
		idx, ok := indexSegment(last)
		if !ok || idx < 0 || idx >= len(parent.items) {
			return ErrPathNotFound
		}
		parent.items = append(parent.items[:idx], parent.items[idx+1:]...)
		return nil
	default:
		return ErrPathNotFound
	}
}

// Merge folds a payload into the tree directly, with the same shape rules
// as applying the payload's patches. Unlike patch application it also
// materialises empty index lists as empty sequences, which a snapshot
// needs to describe tables that have no rows yet.
func (s *Store) Merge(payload gjson.Result) error {
	if !payload.IsObject() {
		return fmt.Errorf("%w: payload is not an object", ErrInvalidMessage)
	}
	var errs []error
	mergeObject(s.root, payload, "", &errs)
	return errors.Join(errs...)
}

func mergeObject(target *Node, obj gjson.Result, prefix string, errs *[]error) {
	obj.ForEach(func(k, v gjson.Result) bool {
		key := k.String()
		path := prefix + "/" + key
		switch {
		case v.IsObject():
			child, ok := target.Field(key)
			if !ok || child.kind != NodeObject {
				child = NewObject()
				target.setField(key, child)
			}
			mergeObject(child, v, path, errs)
		case isIndexList(v):
			child, ok := target.Field(key)
			if !ok || child.kind != NodeArray {
				child = NewArray()
				target.setField(key, child)
			}
			mergeIndexList(child, v, path, errs)
		default:
			target.setField(key, nodeFromResult(v))
		}
		return true
	})
}

func mergeIndexList(target *Node, list gjson.Result, prefix string, errs *[]error) {
	list.ForEach(func(_, pair gjson.Result) bool {
		idxRes, val := pair.Get("0"), pair.Get("1")
		if idxRes.Num < 0 || idxRes.Num > MaxIndex {
			*errs = append(*errs, fmt.Errorf("%w: %s/%s", ErrInvalidPath, prefix, idxRes.Raw))
			return true
		}
		idx := int(idxRes.Num)
		if float64(idx) != idxRes.Num {
			*errs = append(*errs, fmt.Errorf("%w: %s/%s", ErrInvalidPath, prefix, idxRes.Raw))
			return true
		}
		path := fmt.Sprintf("%s/%d", prefix, idx)
		existing, _ := target.Item(idx)
		switch {
		case val.IsObject():
			if existing == nil || existing.kind != NodeObject {
				existing = NewObject()
				target.setItem(idx, existing)
			}
			mergeObject(existing, val, path, errs)
		case isIndexList(val):
			if existing == nil || existing.kind != NodeArray {
				existing = NewArray()
				target.setItem(idx, existing)
			}
			mergeIndexList(existing, val, path, errs)
		default:
			target.setItem(idx, nodeFromResult(val))
		}
		return true
	})
}
