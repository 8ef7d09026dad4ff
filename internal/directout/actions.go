package directout

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Options are the option values of an action or feedback instance.
type Options map[string]Scalar

// Clone returns a shallow copy.
func (o Options) Clone() Options {
	out := make(Options, len(o)+1)
	for k, v := range o {
		out[k] = v
	}
	return out
}

// Text returns the option rendered as text, or "" when absent.
func (o Options) Text(key string) string {
	v, ok := o[key]
	if !ok || v.IsNull() {
		return ""
	}
	return v.String()
}

// deviceView is what action, learn and check callbacks see of a session.
// Implementations run with the session lock held.
type deviceView interface {
	State(path, category string) (Scalar, bool)
	Set(path string, value Scalar, category string) error
	Cmd(name string) error
	Translate(dir Direction, category string, value Scalar) (Scalar, bool)
	Device() DeviceType
	Caps() *Capabilities
	LastChange() (Change, bool)
}

// Change is the most recent recordable write seen from the device.
type Change struct {
	Path  string `json:"path"`
	Value *Node  `json:"value"`
}

// ActionDefinition is one action available on the connected device.
type ActionDefinition struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Options   []Field `json:"options"`
	Learnable bool    `json:"learnable"`

	execute func(dv deviceView, opts Options) error
	learn   func(dv deviceView, opts Options) (Options, bool)
}

var tokenChoices = struct {
	toggle, next, prev, on, off Choice
}{
	toggle: Choice{ID: StringValue(TokenToggle), Label: "Toggle"},
	next:   Choice{ID: StringValue(TokenNext), Label: "Next"},
	prev:   Choice{ID: StringValue(TokenPrev), Label: "Previous"},
	on:     Choice{ID: StringValue(TokenTrue), Label: "On"},
	off:    Choice{ID: StringValue(TokenFalse), Label: "Off"},
}

// actionField returns the action input for a parameter value. Dropdowns
// gain toggle or step tokens and booleans become a token dropdown.
func actionField(f Field) Field {
	switch f.Type {
	case FieldDropdown:
		out := f
		switch {
		case len(f.Choices) == 2:
			out.Choices = append([]Choice{tokenChoices.toggle}, f.Choices...)
		case len(f.Choices) > 2:
			out.Choices = append([]Choice{tokenChoices.prev, tokenChoices.next}, f.Choices...)
		}
		return out
	case FieldBoolean:
		out := f
		out.Type = FieldDropdown
		out.Choices = []Choice{tokenChoices.toggle, tokenChoices.on, tokenChoices.off}
		return out
	default:
		return f
	}
}

// fillPath replaces each '*' in path with the matching option, translated
// to its raw device value.
func fillPath(dv deviceView, path string, options []Field, opts Options) (string, error) {
	parts := strings.Split(path, "*")
	if len(parts)-1 > len(options) {
		return "", fmt.Errorf("%w: %s needs %d options", ErrInvalidOption, path, len(parts)-1)
	}
	var b strings.Builder
	b.WriteString(parts[0])
	for i, rest := range parts[1:] {
		f := options[i]
		v, ok := opts[f.ID]
		if !ok || v.IsNull() {
			return "", fmt.Errorf("%w: missing %s", ErrInvalidOption, f.ID)
		}
		raw, ok := dv.Translate(Outgoing, f.Translation, v)
		if !ok {
			return "", fmt.Errorf("%w: %s=%s has no %s value", ErrInvalidOption, f.ID, v.String(), f.Translation)
		}
		b.WriteString(raw.String())
		b.WriteString(rest)
	}
	return b.String(), nil
}

// parameterAction builds the generated set action of p.
func parameterAction(p Parameter) *ActionDefinition {
	fields := make([]Field, 0, len(p.Options)+len(p.Params))
	fields = append(fields, p.Options...)
	for _, pf := range p.Params {
		fields = append(fields, actionField(pf.Field))
	}
	def := &ActionDefinition{
		ID:        p.ActionID(),
		Name:      p.Name,
		Options:   fields,
		Learnable: true,
		execute: func(dv deviceView, opts Options) error {
			return executeParameter(dv, p, opts)
		},
		learn: func(dv deviceView, opts Options) (Options, bool) {
			return learnParameter(dv, p, opts)
		},
	}
	if p.Hooks != nil {
		if p.Hooks.Execute != nil {
			def.execute = p.Hooks.Execute
		}
		if p.Hooks.Learn != nil {
			def.learn = p.Hooks.Learn
		}
	}
	return def
}

// executeParameter writes every parameter value present in opts.
func executeParameter(dv deviceView, p Parameter, opts Options) error {
	var errs []error
	for _, pf := range p.Params {
		v, ok := opts[pf.ID]
		if !ok || v.IsNull() {
			continue
		}
		path, err := fillPath(dv, pf.Path, p.Options, opts)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		value, category, send, err := resolveActionValue(dv, pf, path, v)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !send {
			continue
		}
		if err := dv.Set(path, value, category); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// resolveActionValue turns a requested value into the value to write.
// send is false when a token resolves to no change.
func resolveActionValue(dv deviceView, pf ParamField, path string, v Scalar) (value Scalar, category string, send bool, err error) {
	token, _ := v.Str()

	switch pf.Type {
	case FieldString:
		return StringValue(v.String()), "", true, nil

	case FieldBoolean:
		if token == TokenToggle {
			cur, _ := dv.State(path, "")
			b, isBool := cur.Bool()
			return BoolValue(isBool && !b), "", true, nil
		}
		if b, ok := v.Bool(); ok {
			return BoolValue(b), "", true, nil
		}
		return BoolValue(token != TokenFalse), "", true, nil

	case FieldDropdown:
		switch token {
		case TokenToggle, TokenNext, TokenPrev:
			cur, _ := dv.State(path, pf.Translation)
			next, ok := stepChoice(pf.Choices, cur, token)
			if !ok {
				return Scalar{}, "", false, nil
			}
			return next, pf.Translation, true, nil
		case TokenTrue:
			return BoolValue(true), pf.Translation, true, nil
		case TokenFalse:
			return BoolValue(false), pf.Translation, true, nil
		}
		return v, pf.Translation, true, nil

	case FieldNumber:
		n, ok := toNumber(v)
		if !ok {
			return Scalar{}, "", false, fmt.Errorf("%w: %s is not a number", ErrInvalidOption, v.String())
		}
		return NumberValue(clampStep(n, pf.Min, pf.Max, pf.Step)), "", true, nil
	}
	return v, pf.Translation, true, nil
}

// stepChoice resolves a toggle or step token against the current value.
// A toggle only applies to two-way lists.
func stepChoice(choices []Choice, cur Scalar, token string) (Scalar, bool) {
	list := make([]Choice, 0, len(choices))
	for _, c := range choices {
		if s, ok := c.ID.Str(); ok && strings.HasPrefix(s, "%%") && strings.HasSuffix(s, "%%") {
			continue
		}
		list = append(list, c)
	}
	idx := -1
	for i, c := range list {
		if looseEqual(c.ID, cur) {
			idx = i
			break
		}
	}
	if idx < 0 || len(list) == 0 {
		return Scalar{}, false
	}
	switch token {
	case TokenToggle:
		if len(list) < 2 {
			return Scalar{}, false
		}
		switch idx {
		case 0:
			return list[1].ID, true
		case 1:
			return list[0].ID, true
		}
		return Scalar{}, false
	case TokenNext:
		return list[(idx+1)%len(list)].ID, true
	case TokenPrev:
		return list[(idx-1+len(list))%len(list)].ID, true
	}
	return Scalar{}, false
}

// clampStep limits n to the set bounds and rounds it to step.
func clampStep(n float64, lo, hi, step *float64) float64 {
	if lo != nil && n < *lo {
		n = *lo
	}
	if hi != nil && n > *hi {
		n = *hi
	}
	if step != nil && *step > 0 {
		n = math.Round(n / *step) * *step
		decimals := 0
		if s := strconv.FormatFloat(*step, 'f', -1, 64); strings.Contains(s, ".") {
			decimals = len(s) - strings.Index(s, ".") - 1
		}
		n, _ = strconv.ParseFloat(strconv.FormatFloat(n, 'f', decimals, 64), 64)
	}
	return n
}

func toNumber(v Scalar) (float64, bool) {
	if n, ok := v.Num(); ok {
		return n, true
	}
	if s, ok := v.Str(); ok {
		n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return n, err == nil
	}
	return 0, false
}

// looseEqual compares two values, treating a numeric string as equal to
// the number it spells.
func looseEqual(a, b Scalar) bool {
	if a == b {
		return true
	}
	if a.Kind() == KindNull || b.Kind() == KindNull {
		return false
	}
	if a.Kind() == b.Kind() {
		return false
	}
	an, aok := toNumber(a)
	bn, bok := toNumber(b)
	if ab, ok := a.Bool(); ok {
		an, aok = boolNumber(ab), true
	}
	if bb, ok := b.Bool(); ok {
		bn, bok = boolNumber(bb), true
	}
	return aok && bok && an == bn
}

func boolNumber(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// learnParameter fills the parameter values of opts from the state tree.
func learnParameter(dv deviceView, p Parameter, opts Options) (Options, bool) {
	out := opts.Clone()
	learned := false
	for _, pf := range p.Params {
		path, err := fillPath(dv, pf.Path, p.Options, opts)
		if err != nil {
			continue
		}
		v, ok := dv.State(path, pf.Translation)
		if !ok {
			continue
		}
		out[pf.ID] = tokenizeBool(v)
		learned = true
	}
	return out, learned
}
