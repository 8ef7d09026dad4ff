package directout

import (
	"math"
	"strings"
)

// FeedbackDefinition is one boolean check available on the connected
// device.
type FeedbackDefinition struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Options   []Field `json:"options"`
	Learnable bool    `json:"learnable"`

	check func(dv deviceView, opts Options) bool
	learn func(dv deviceView, opts Options) (Options, bool)
	// watch returns the concrete paths whose changes affect the result.
	watch func(dv deviceView, opts Options) []string
}

// Comparison operators.
const (
	OpEqual      = "eq"
	OpGreater    = "gt"
	OpLess       = "lt"
	OpModulo     = "mo"
	OpStartsWith = "sw"
	OpEndsWith   = "ew"
	OpContains   = "co"
)

var (
	numberOperators = []Choice{
		{ID: StringValue(OpEqual), Label: "="},
		{ID: StringValue(OpGreater), Label: ">"},
		{ID: StringValue(OpLess), Label: "<"},
		{ID: StringValue(OpModulo), Label: "divisible by"},
	}
	stringOperators = []Choice{
		{ID: StringValue(OpEqual), Label: "equals"},
		{ID: StringValue(OpStartsWith), Label: "starts with"},
		{ID: StringValue(OpEndsWith), Label: "ends with"},
		{ID: StringValue(OpContains), Label: "contains"},
	}
)

// compareNumber applies op to cur and want. Unknown operators never match.
func compareNumber(op string, cur, want float64) bool {
	switch op {
	case OpEqual, "":
		return cur == want
	case OpGreater:
		return cur > want
	case OpLess:
		return cur < want
	case OpModulo:
		return want != 0 && math.Mod(cur, want) == 0
	}
	return false
}

// compareString applies op to cur and want.
func compareString(op string, cur, want string) bool {
	switch op {
	case OpEqual, "":
		return cur == want
	case OpStartsWith:
		return strings.HasPrefix(cur, want)
	case OpEndsWith:
		return strings.HasSuffix(cur, want)
	case OpContains:
		return strings.Contains(cur, want)
	}
	return false
}

// parameterFeedbackID names the feedback of pf. Entries with several
// values get one feedback each.
func parameterFeedbackID(p Parameter, pf ParamField) string {
	if len(p.Params) > 1 {
		return p.ActionID() + "_" + pf.ID
	}
	return p.ActionID()
}

// parameterFeedback builds the check generated for pf.
func parameterFeedback(p Parameter, pf ParamField) *FeedbackDefinition {
	fields := append([]Field(nil), p.Options...)
	switch pf.Type {
	case FieldNumber:
		fields = append(fields, dropdown("operation", "Comparison", "", numberOperators), pf.Field)
	case FieldString:
		fields = append(fields, dropdown("operation", "Comparison", "", stringOperators), pf.Field)
	default:
		fields = append(fields, pf.Field)
	}

	name := p.Name
	if len(p.Params) > 1 {
		name += " " + pf.Label
	}
	def := &FeedbackDefinition{
		ID:        parameterFeedbackID(p, pf),
		Name:      name,
		Options:   fields,
		Learnable: true,
		check: func(dv deviceView, opts Options) bool {
			path, err := fillPath(dv, pf.Path, p.Options, opts)
			if err != nil {
				return false
			}
			return checkParameter(dv, pf, path, opts)
		},
		learn: func(dv deviceView, opts Options) (Options, bool) {
			return learnParameter(dv, Parameter{Options: p.Options, Params: []ParamField{pf}}, opts)
		},
		watch: func(dv deviceView, opts Options) []string {
			path, err := fillPath(dv, pf.Path, p.Options, opts)
			if err != nil {
				return nil
			}
			return []string{path}
		},
	}
	if p.Hooks != nil && p.Hooks.Check != nil {
		def.check = p.Hooks.Check
		def.watch = func(dv deviceView, opts Options) []string { return muteGroupPaths(dv, opts) }
	}
	return def
}

func checkParameter(dv deviceView, pf ParamField, path string, opts Options) bool {
	want := opts[pf.ID]
	switch pf.Type {
	case FieldNumber:
		cur, ok := dv.State(path, "")
		if !ok {
			return false
		}
		c, ok := cur.Num()
		w, wok := toNumber(want)
		return ok && wok && compareNumber(opts.Text("operation"), c, w)
	case FieldString:
		cur, ok := dv.State(path, "")
		if !ok {
			return false
		}
		return compareString(opts.Text("operation"), cur.String(), want.String())
	case FieldBoolean:
		cur, ok := dv.State(path, "")
		if !ok {
			return false
		}
		b, _ := cur.Bool()
		if w, ok := want.Bool(); ok {
			return b == w
		}
		if s, ok := want.Str(); ok {
			return b == (s == TokenTrue)
		}
		return false
	default:
		cur, ok := dv.State(path, pf.Translation)
		return ok && looseEqual(want, cur)
	}
}

// Custom value types.
const (
	CustomTypeString  = "string"
	CustomTypeNumber  = "number"
	CustomTypeBoolean = "boolean"
)

// customValueFeedback checks an arbitrary path against a typed value.
func customValueFeedback() *FeedbackDefinition {
	return &FeedbackDefinition{
		ID:   "CustomValue",
		Name: "Custom Value",
		Options: []Field{
			text("path", "Path"),
			dropdown("type", "Type", "", []Choice{
				{ID: StringValue(CustomTypeString), Label: "String"},
				{ID: StringValue(CustomTypeNumber), Label: "Number"},
				{ID: StringValue(CustomTypeBoolean), Label: "Boolean"},
			}),
			dropdown("op_string", "Comparison", "", stringOperators),
			dropdown("op_number", "Comparison", "", numberOperators),
			text("value", "Value"),
		},
		Learnable: true,
		check: func(dv deviceView, opts Options) bool {
			path := opts.Text("path")
			if !WellFormedPath(path) {
				return false
			}
			cur, ok := dv.State(path, "")
			if !ok {
				return false
			}
			switch opts.Text("type") {
			case CustomTypeNumber:
				c, ok := cur.Num()
				w, wok := toNumber(opts["value"])
				return ok && wok && compareNumber(opts.Text("op_number"), c, w)
			case CustomTypeBoolean:
				b, ok := cur.Bool()
				return ok && b
			default:
				s, ok := cur.Str()
				return ok && compareString(opts.Text("op_string"), s, opts.Text("value"))
			}
		},
		learn: func(dv deviceView, opts Options) (Options, bool) {
			change, ok := dv.LastChange()
			if !ok {
				return nil, false
			}
			v, ok := change.Value.Leaf()
			if !ok {
				return nil, false
			}
			out := opts.Clone()
			out["path"] = StringValue(change.Path)
			switch v.Kind() {
			case KindNumber:
				out["type"] = StringValue(CustomTypeNumber)
				out["op_number"] = StringValue(OpEqual)
			case KindBool:
				out["type"] = StringValue(CustomTypeBoolean)
			default:
				out["type"] = StringValue(CustomTypeString)
				out["op_string"] = StringValue(OpEqual)
			}
			out["value"] = StringValue(v.String())
			return out, true
		},
		watch: func(_ deviceView, opts Options) []string {
			if path := opts.Text("path"); WellFormedPath(path) {
				return []string{path}
			}
			return nil
		},
	}
}
