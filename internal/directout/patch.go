package directout

import (
	"strconv"

	"github.com/tidwall/gjson"
)

// Op is a pointer-patch operation.
type Op string

// Patch operations. Only OpReplace is produced from device updates; the
// others are accepted by Store.Apply.
const (
	OpReplace Op = "replace"
	OpAdd     Op = "add"
	OpRemove  Op = "remove"
	OpTest    Op = "test"
)

// Patch is one pointer-style operation against the state tree.
type Patch struct {
	Op    Op     `json:"op"`
	Path  string `json:"path"`
	Value *Node  `json:"value,omitempty"`
}

// Scalar returns the patch value when it is a leaf.
func (p Patch) Scalar() (Scalar, bool) {
	return p.Value.Leaf()
}

// PayloadToPatches converts an update payload into replace patches in
// document order.
//
// An array is a sparse index-patch list ([[idx, value], ...]) only when
// every element is a two-element array whose first element is a number.
// Any other array is a literal value replaced wholesale.
func PayloadToPatches(payload gjson.Result) []Patch {
	var patches []Patch
	if payload.IsObject() {
		walkObject("", payload, &patches)
	}
	return patches
}

// PayloadBytesToPatches parses raw JSON and converts it to patches.
func PayloadBytesToPatches(raw []byte) ([]Patch, error) {
	if !gjson.ValidBytes(raw) {
		return nil, ErrInvalidMessage
	}
	return PayloadToPatches(gjson.ParseBytes(raw)), nil
}

func walkObject(prefix string, obj gjson.Result, out *[]Patch) {
	obj.ForEach(func(k, v gjson.Result) bool {
		walkValue(prefix+"/"+escapeSegment(k.String()), v, out)
		return true
	})
}

func walkValue(path string, v gjson.Result, out *[]Patch) {
	switch {
	case v.IsObject():
		walkObject(path, v, out)
	case isIndexList(v):
		v.ForEach(func(_, pair gjson.Result) bool {
			elemPath := path + "/" + strconv.FormatFloat(pair.Get("0").Num, 'f', -1, 64)
			val := pair.Get("1")
			if val.IsObject() || isIndexList(val) {
				walkValue(elemPath, val, out)
			} else {
				*out = append(*out, Patch{Op: OpReplace, Path: elemPath, Value: nodeFromResult(val)})
			}
			return true
		})
	default:
		*out = append(*out, Patch{Op: OpReplace, Path: path, Value: nodeFromResult(v)})
	}
}

// isIndexList applies the index-pair test. An empty array passes and
// therefore produces no patches.
func isIndexList(v gjson.Result) bool {
	if !v.IsArray() {
		return false
	}
	ok := true
	v.ForEach(func(_, el gjson.Result) bool {
		if !el.IsArray() {
			ok = false
			return false
		}
		n := 0
		var first gjson.Result
		el.ForEach(func(_, x gjson.Result) bool {
			if n == 0 {
				first = x
			}
			n++
			return n <= 2
		})
		if n != 2 || first.Type != gjson.Number {
			ok = false
			return false
		}
		return true
	})
	return ok
}

func escapeSegment(s string) string {
	return JoinPath(s)[1:]
}
