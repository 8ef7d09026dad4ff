package directout

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
)

// Static subscription keys, action ids and variable names.
const (
	SubLabels       = "some_label"
	SubRouting      = "routing_standard"
	SubSumbus       = "routing_sumbus"
	SubSampleRate   = "device_samplerate"
	SubSnapshots    = "snapshots"
	VarSampleRate   = "device_samplerate"
	VarSnapshots    = "snapshots"
	ActionRecallID  = "snapshot_recall_id"
	ActionRecallPos = "snapshot_recall_pos"
	ActionFlash     = "flash"
	ActionRouting   = "routing_standard"
	ActionSumbus    = "routing_sumbus"
	FeedbackCustom  = "CustomValue"
	FeedbackRouting = "routing_standard"
	FeedbackSumbus  = "routing_sumbus"
)

const maxSnapshots = 99

var (
	labelPattern   = regexp.MustCompile(`(label)|(name)`)
	// Only the first routing alternative is anchored, and none of these
	// patterns is anchored at the end: /settings/routing/1/1 must match.
	routingPattern = regexp.MustCompile(`^/settings/((easy_)?routing/\d+)|(flex_channel/\d+/source_routing)|(mixer/\d+)|(mixer64x64/source_routing/\d+)|(compressor/\d+/side_chain_key)`)
	sumbusPattern  = regexp.MustCompile(`^/settings/sum_bus_assign_(io|dsp)/\d+/segment/\d+`)
	ratePattern    = regexp.MustCompile(`^/status/ref_frequency`)
	snapPattern    = regexp.MustCompile(`^/snapshots`)
)

// installStaticSubscriptions registers the subscriptions every device
// gets.
func (s *Session) installStaticSubscriptions() {
	s.registry.Set(Subscription{
		Key:     SubLabels,
		Matcher: labelPattern,
		OnMatch: func(string) bool { return true },
	})
	s.registry.Set(Subscription{
		Key:          SubRouting,
		Matcher:      routingPattern,
		FeedbackRefs: []string{FeedbackRouting},
		InitPaths:    []string{"/settings/routing/1/1"},
		OnMatch:      s.recordRouting,
	})
	s.registry.Set(Subscription{
		Key:          SubSumbus,
		Matcher:      sumbusPattern,
		FeedbackRefs: []string{FeedbackSumbus},
	})
	s.registry.Set(Subscription{
		Key:       SubSampleRate,
		Matcher:   ratePattern,
		InitPaths: []string{"/status/ref_frequency"},
		OnMatch: func(path string) bool {
			v, ok := s.getState(path, "")
			if n, isNum := v.Num(); ok && isNum {
				s.setVariable(VarSampleRate, NumberValue(math.Round(n*100)/100))
			}
			return false
		},
	})
	s.registry.Set(Subscription{
		Key:       SubSnapshots,
		Matcher:   snapPattern,
		InitPaths: []string{"/snapshots"},
		OnMatch: func(string) bool {
			if n, ok := s.store.Snapshot("/snapshots"); ok {
				s.setVariable(VarSnapshots, n)
			}
			return false
		},
	})
	s.vars.Define(VarSampleRate, "Device sample rate")
	s.vars.Define(VarSnapshots, "Snapshots")
}

// recordRouting turns a routing write into one routing_standard record
// and suppresses the generic fallback for it.
func (s *Session) recordRouting(path string) bool {
	if !s.recorder.Recording() {
		return false
	}
	segs, err := SplitPath(path)
	if err != nil || len(segs) < 3 {
		return false
	}
	category, pos := CategoryOutput, 2
	switch segs[1] {
	case "flex_channel":
		category = CategorySinkFlex
	case "mixer":
		category = CategorySinkMixer
	case "mixer64x64":
		category, pos = CategorySinkMixer, 3
	case "compressor":
		category = CategorySinkSidechain
	}
	raw, ok := segmentAt(segs, pos)
	if !ok {
		return false
	}
	sink, ok := s.tr.Translate(Incoming, category, raw)
	if !ok {
		sink = Null()
	}
	source, ok := s.getState(path, CategoryInput)
	if !ok {
		source = Null()
	}
	s.recorder.Record(ActionRouting, map[string]Scalar{"sink": sink, "source": source})
	s.recorder.Inhibit()
	return false
}

// routingSinkPath returns the path that carries the source of sink.
func routingSinkPath(dv deviceView, sink string) (string, bool) {
	path, category := "/settings/easy_routing/*", CategoryOutput
	if dv.Device() == DeviceMavenA {
		path = "/settings/routing/*"
	}
	switch {
	case strings.HasPrefix(sink, "snkdsp_flex"):
		path, category = "/settings/flex_channel/*/source_routing", CategorySinkFlex
	case strings.HasPrefix(sink, "snkdsp_mtx") && dv.Device() == DeviceProdigyMP:
		path, category = "/settings/mixer/*", CategorySinkMixer
	case strings.HasPrefix(sink, "snkdsp_mtx"):
		path, category = "/settings/mixer64x64/source_routing/*", CategorySinkMixer
	case strings.HasPrefix(sink, "snkdsp_dyn"):
		path, category = "/settings/compressor/*/side_chain_key", CategorySinkSidechain
	}
	raw, ok := dv.Translate(Outgoing, category, StringValue(sink))
	if !ok {
		return "", false
	}
	return strings.Replace(path, "*", raw.String(), 1), true
}

// sumbusBit locates the segment byte and bit that assign source to sink.
func sumbusBit(dv deviceView, sink, source string) (string, int, error) {
	raw, ok := dv.Translate(Outgoing, CategorySinkSumbus, StringValue(sink))
	if !ok {
		return "", 0, fmt.Errorf("%w: sum bus %q", ErrInvalidOption, sink)
	}
	src, ok := dv.Caps().FindSumBusSource(dv.Device(), source)
	if !ok {
		return "", 0, fmt.Errorf("%w: sum bus source %q not found", ErrInvalidOption, source)
	}
	bank := "io"
	if strings.HasPrefix(source, "srcdsp_") {
		bank = "dsp"
	}
	return fmt.Sprintf("/settings/sum_bus_assign_%s/%s/segment/%d", bank, raw.String(), src.Segment), src.Bit, nil
}

func readByte(dv deviceView, path string) int {
	v, ok := dv.State(path, "")
	if !ok {
		return 0
	}
	n, _ := toNumber(v)
	return int(n)
}

// staticActions returns the actions every device gets.
func (s *Session) staticActions() []*ActionDefinition {
	destinations := s.choices.Get(ChoicesOutput)
	if s.device.HasDSPSinks() {
		destinations = s.choices.Concat(ChoicesOutput, ChoicesOutputFlex, ChoicesOutputMixer, ChoicesOutputSidechain)
	}
	sources := s.choices.Sources()

	return []*ActionDefinition{
		{
			ID:        GenericSetAction,
			Name:      "Set Custom Value",
			Options:   []Field{text("path", "Path"), text("value", "Value (JSON)")},
			Learnable: true,
			execute:   executeCustomSet,
			learn: func(dv deviceView, opts Options) (Options, bool) {
				change, ok := dv.LastChange()
				if !ok {
					return nil, false
				}
				raw, err := change.Value.MarshalJSON()
				if err != nil {
					return nil, false
				}
				out := opts.Clone()
				out["path"] = StringValue(change.Path)
				out["value"] = StringValue(string(raw))
				return out, true
			},
		},
		{
			ID:        ActionRecallID,
			Name:      "Recall Snapshot by ID",
			Options:   []Field{dropdown("snapshot", "Snapshot", "", snapshotIDChoices(s.store))},
			Learnable: true,
			execute: func(dv deviceView, opts Options) error {
				return dv.Cmd("recall_snapshot_" + opts.Text("snapshot"))
			},
			learn: learnFrom("/last_snapshot_recalled", "snapshot"),
		},
		{
			ID:        ActionRecallPos,
			Name:      "Recall Snapshot by Position",
			Options:   []Field{dropdown("position", "Position", "", snapshotPositionChoices(s.store))},
			Learnable: true,
			execute: func(dv deviceView, opts Options) error {
				return dv.Cmd("recall_pos_snapshot_" + opts.Text("position"))
			},
			learn: learnFrom("/last_snapshot_recalled_pos", "position"),
		},
		{
			ID:   ActionFlash,
			Name: "Identify Device",
			execute: func(dv deviceView, _ Options) error {
				return dv.Cmd("flash")
			},
		},
		{
			ID:   ActionRouting,
			Name: "Routing: Patch Route",
			Options: []Field{
				dropdown("sink", "Destination", "", destinations),
				dropdown("source", "Source", CategoryInput,
					append([]Choice{tokenChoices.prev, tokenChoices.next}, sources...)),
			},
			Learnable: true,
			execute: func(dv deviceView, opts Options) error {
				path, ok := routingSinkPath(dv, opts.Text("sink"))
				if !ok {
					return fmt.Errorf("%w: destination %q", ErrInvalidOption, opts.Text("sink"))
				}
				source := opts["source"]
				if tok, _ := source.Str(); tok == TokenNext || tok == TokenPrev {
					cur, _ := dv.State(path, CategoryInput)
					next, ok := stepChoice(sources, cur, tok)
					if !ok {
						return nil
					}
					source = next
				}
				return dv.Set(path, StringValue(source.String()), CategoryInput)
			},
			learn: func(dv deviceView, opts Options) (Options, bool) {
				path, ok := routingSinkPath(dv, opts.Text("sink"))
				if !ok {
					return nil, false
				}
				v, ok := dv.State(path, CategoryInput)
				if !ok {
					return nil, false
				}
				out := opts.Clone()
				out["source"] = v
				return out, true
			},
		},
		{
			ID:   ActionSumbus,
			Name: "Routing: Sum Bus Assign",
			Options: []Field{
				dropdown("sink", "Destination", "", s.choices.Get(ChoicesSumbusSink)),
				dropdown("source", "Source", "", s.choices.Get(ChoicesSumbusSource)),
				dropdown("action", "Action", "", []Choice{
					{ID: StringValue(TokenToggle), Label: "Toggle"},
					{ID: StringValue(TokenTrue), Label: "Set Crosspoint"},
					{ID: StringValue(TokenFalse), Label: "Clear Crosspoint"},
				}),
			},
			Learnable: true,
			execute: func(dv deviceView, opts Options) error {
				path, bit, err := sumbusBit(dv, opts.Text("sink"), opts.Text("source"))
				if err != nil {
					return err
				}
				b := readByte(dv, path)
				set := 0
				switch opts.Text("action") {
				case TokenToggle:
					set = 1 - (b>>bit)&1
				case TokenTrue:
					set = 1
				}
				b = (b &^ (1 << bit)) | (set << bit)
				return dv.Set(path, IntValue(b), "")
			},
			learn: func(dv deviceView, opts Options) (Options, bool) {
				path, bit, err := sumbusBit(dv, opts.Text("sink"), opts.Text("source"))
				if err != nil {
					return nil, false
				}
				if _, ok := dv.State(path, ""); !ok {
					return nil, false
				}
				out := opts.Clone()
				out["action"] = StringValue(TokenFalse)
				if (readByte(dv, path)>>bit)&1 == 1 {
					out["action"] = StringValue(TokenTrue)
				}
				return out, true
			},
		},
	}
}

// executeCustomSet writes a JSON primitive to an existing path of the
// same type.
func executeCustomSet(dv deviceView, opts Options) error {
	path := opts.Text("path")
	if !WellFormedPath(path) {
		return fmt.Errorf("%w: %q is not a valid path format", ErrInvalidPath, path)
	}
	value, err := ParseScalar(opts.Text("value"))
	if err != nil || value.IsNull() {
		return fmt.Errorf("%w: value %q must be a JSON string, number or boolean", ErrInvalidOption, opts.Text("value"))
	}
	cur, ok := dv.State(path, "")
	if !ok {
		return fmt.Errorf("%w: %s", ErrPathNotFound, path)
	}
	if cur.Kind() != value.Kind() {
		return fmt.Errorf("%w: %s requires %s, got %s", ErrInvalidOption, path, cur.Kind(), value.Kind())
	}
	return dv.Set(path, value, "")
}

// learnFrom copies a non-negative number at path into option key.
func learnFrom(path, key string) func(deviceView, Options) (Options, bool) {
	return func(dv deviceView, opts Options) (Options, bool) {
		v, ok := dv.State(path, "")
		n, isNum := v.Num()
		if !ok || !isNum || n < 0 {
			return nil, false
		}
		out := opts.Clone()
		out[key] = v
		return out, true
	}
}

type snapshotEntry struct {
	id       int
	name     string
	position float64
	valid    bool
}

func readSnapshots(store *Store) []snapshotEntry {
	var out []snapshotEntry
	for i := 0; i < maxSnapshots; i++ {
		base := fmt.Sprintf("/snapshots/%d", i)
		if _, ok := store.Lookup(base); !ok {
			continue
		}
		e := snapshotEntry{id: i}
		if v, ok := store.Value(base + "/name"); ok {
			e.name = v.String()
		}
		if v, ok := store.Value(base + "/position"); ok {
			e.position, _ = toNumber(v)
		}
		if v, ok := store.Value(base + "/valid"); ok {
			e.valid, _ = v.Bool()
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].position < out[j].position })
	return out
}

func snapshotIDChoices(store *Store) []Choice {
	var out []Choice
	for _, e := range readSnapshots(store) {
		if e.valid {
			out = append(out, intChoice(e.id, e.name))
		}
	}
	return out
}

func snapshotPositionChoices(store *Store) []Choice {
	var out []Choice
	for _, e := range readSnapshots(store) {
		out = append(out, intChoice(int(e.position), fmt.Sprintf("%d (%s)", int(e.position)+1, e.name)))
	}
	return out
}

// staticFeedbacks returns the feedbacks every device gets.
func (s *Session) staticFeedbacks() []*FeedbackDefinition {
	destinations := s.choices.Get(ChoicesOutput)
	if s.device.HasDSPSinks() {
		destinations = s.choices.Concat(ChoicesOutput, ChoicesOutputFlex, ChoicesOutputMixer, ChoicesOutputSidechain)
	}
	return []*FeedbackDefinition{
		customValueFeedback(),
		{
			ID:   FeedbackRouting,
			Name: "Routing: Check patch",
			Options: []Field{
				dropdown("sink", "Destination", "", destinations),
				dropdown("source", "Source", CategoryInput, s.choices.Sources()),
			},
			Learnable: true,
			check: func(dv deviceView, opts Options) bool {
				path, ok := routingSinkPath(dv, opts.Text("sink"))
				if !ok {
					return false
				}
				cur, ok := dv.State(path, CategoryInput)
				return ok && looseEqual(cur, opts["source"])
			},
			learn: func(dv deviceView, opts Options) (Options, bool) {
				path, ok := routingSinkPath(dv, opts.Text("sink"))
				if !ok {
					return nil, false
				}
				cur, ok := dv.State(path, CategoryInput)
				if !ok {
					return nil, false
				}
				out := opts.Clone()
				out["source"] = cur
				return out, true
			},
			watch: func(dv deviceView, opts Options) []string {
				if path, ok := routingSinkPath(dv, opts.Text("sink")); ok {
					return []string{path}
				}
				return nil
			},
		},
		{
			ID:   FeedbackSumbus,
			Name: "Routing: Check Sum Bus Assign",
			Options: []Field{
				dropdown("sink", "Destination", "", s.choices.Get(ChoicesSumbusSink)),
				dropdown("source", "Source", "", s.choices.Get(ChoicesSumbusSource)),
			},
			check: func(dv deviceView, opts Options) bool {
				path, bit, err := sumbusBit(dv, opts.Text("sink"), opts.Text("source"))
				if err != nil {
					return false
				}
				return (readByte(dv, path)>>bit)&1 == 1
			},
			watch: func(dv deviceView, opts Options) []string {
				if path, _, err := sumbusBit(dv, opts.Text("sink"), opts.Text("source")); err == nil {
					return []string{path}
				}
				return nil
			},
		},
	}
}
