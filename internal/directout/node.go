package directout

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/tidwall/gjson"
)

// NodeKind tags the shape of a Node.
type NodeKind uint8

// Node shapes.
const (
	NodeLeaf NodeKind = iota
	NodeObject
	NodeArray
)

// Node is one slot of the mirrored state tree: a leaf scalar, a keyed
// object that keeps insertion order, or a sequence. Sequence slots may be
// nil, which marks a hole created by writing past the end.
type Node struct {
	kind   NodeKind
	leaf   Scalar
	keys   []string
	fields map[string]*Node
	items  []*Node
}

// NewLeaf wraps a scalar.
func NewLeaf(v Scalar) *Node { return &Node{kind: NodeLeaf, leaf: v} }

// NewObject returns an empty object.
func NewObject() *Node { return &Node{kind: NodeObject, fields: make(map[string]*Node)} }

// NewArray returns an empty sequence.
func NewArray() *Node { return &Node{kind: NodeArray} }

// Kind reports the node shape.
func (n *Node) Kind() NodeKind { return n.kind }

// Leaf returns the scalar when the node is a leaf.
func (n *Node) Leaf() (Scalar, bool) {
	if n == nil || n.kind != NodeLeaf {
		return Null(), false
	}
	return n.leaf, true
}

// IsContainer reports whether the node is an object or a sequence.
func (n *Node) IsContainer() bool {
	return n != nil && n.kind != NodeLeaf
}

// Keys returns object keys in insertion order.
func (n *Node) Keys() []string {
	if n == nil || n.kind != NodeObject {
		return nil
	}
	out := make([]string, len(n.keys))
	copy(out, n.keys)
	return out
}

// Field returns the child stored under key.
func (n *Node) Field(key string) (*Node, bool) {
	if n == nil || n.kind != NodeObject {
		return nil, false
	}
	c, ok := n.fields[key]
	return c, ok
}

// Len returns the sequence length (holes included) or the number of keys.
func (n *Node) Len() int {
	if n == nil {
		return 0
	}
	switch n.kind {
	case NodeArray:
		return len(n.items)
	case NodeObject:
		return len(n.keys)
	default:
		return 0
	}
}

// Item returns the sequence element at i. Holes report false.
func (n *Node) Item(i int) (*Node, bool) {
	if n == nil || n.kind != NodeArray || i < 0 || i >= len(n.items) {
		return nil, false
	}
	c := n.items[i]
	return c, c != nil
}

func (n *Node) setField(key string, child *Node) {
	if _, ok := n.fields[key]; !ok {
		n.keys = append(n.keys, key)
	}
	n.fields[key] = child
}

func (n *Node) deleteField(key string) bool {
	if _, ok := n.fields[key]; !ok {
		return false
	}
	delete(n.fields, key)
	for i, k := range n.keys {
		if k == key {
			n.keys = append(n.keys[:i], n.keys[i+1:]...)
			break
		}
	}
	return true
}

// MaxIndex is the largest sequence index the tree accepts. Device tables
// stop well below it; larger indices are rejected as invalid paths.
const MaxIndex = 1<<16 - 1

func validIndex(i int) bool { return i >= 0 && i <= MaxIndex }

// setItem writes child at i, growing the sequence with holes as needed.
// Callers check i with validIndex.
func (n *Node) setItem(i int, child *Node) {
	if old := len(n.items); i >= old {
		n.items = slices.Grow(n.items, i+1-old)[:i+1]
		clear(n.items[old:])
	}
	n.items[i] = child
}

// Clone returns a deep copy.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	switch n.kind {
	case NodeObject:
		c := NewObject()
		for _, k := range n.keys {
			c.setField(k, n.fields[k].Clone())
		}
		return c
	case NodeArray:
		c := &Node{kind: NodeArray, items: make([]*Node, len(n.items))}
		for i, it := range n.items {
			c.items[i] = it.Clone()
		}
		return c
	default:
		return NewLeaf(n.leaf)
	}
}

// Equal compares two trees structurally. Object key order is ignored.
func (n *Node) Equal(o *Node) bool {
	if n == nil || o == nil {
		return n == nil && o == nil
	}
	if n.kind != o.kind {
		return false
	}
	switch n.kind {
	case NodeObject:
		if len(n.keys) != len(o.keys) {
			return false
		}
		for _, k := range n.keys {
			oc, ok := o.fields[k]
			if !ok || !n.fields[k].Equal(oc) {
				return false
			}
		}
		return true
	case NodeArray:
		if len(n.items) != len(o.items) {
			return false
		}
		for i := range n.items {
			if !n.items[i].Equal(o.items[i]) {
				return false
			}
		}
		return true
	default:
		return n.leaf == o.leaf
	}
}

// MarshalJSON encodes the tree. Holes encode as null.
func (n *Node) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := n.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (n *Node) encode(buf *bytes.Buffer) error {
	if n == nil {
		buf.WriteString("null")
		return nil
	}
	switch n.kind {
	case NodeObject:
		buf.WriteByte('{')
		for i, k := range n.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := n.fields[k].encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case NodeArray:
		buf.WriteByte('[')
		for i, it := range n.items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := it.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		b, err := n.leaf.MarshalJSON()
		if err != nil {
			return err
		}
		buf.Write(b)
	}
	return nil
}

// UnmarshalJSON decodes any JSON value into the node.
func (n *Node) UnmarshalJSON(data []byte) error {
	parsed, err := ParseNode(data)
	if err != nil {
		return err
	}
	*n = *parsed
	return nil
}

// ParseNode decodes a JSON document into a tree.
func ParseNode(data []byte) (*Node, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrInvalidMessage)
	}
	return nodeFromResult(gjson.ParseBytes(data)), nil
}

func nodeFromResult(r gjson.Result) *Node {
	switch {
	case r.IsObject():
		obj := NewObject()
		r.ForEach(func(k, v gjson.Result) bool {
			obj.setField(k.String(), nodeFromResult(v))
			return true
		})
		return obj
	case r.IsArray():
		arr := NewArray()
		r.ForEach(func(_, v gjson.Result) bool {
			arr.items = append(arr.items, nodeFromResult(v))
			return true
		})
		return arr
	default:
		return NewLeaf(scalarFromResult(r))
	}
}
