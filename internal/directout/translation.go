package directout

import "fmt"

// Direction selects which side of a translation category is consulted.
type Direction string

// Translation directions.
const (
	// Incoming maps device-raw values to semantic ids.
	Incoming Direction = "incoming"
	// Outgoing maps semantic ids to device-raw values.
	Outgoing Direction = "outgoing"
)

// Translation categories.
const (
	CategoryInput         = "input"
	CategoryOutput        = "output"
	CategorySinkFlex      = "sinkFlex"
	CategorySinkMixer     = "sinkMixer"
	CategorySinkSidechain = "sinkSidechain"
	CategorySinkSumbus    = "sinkSumbus"
	CategoryEars          = "ears"
	CategoryInputManager  = "inmng"
	CategoryGroups        = "groups"
	CategoryMonitoringSnk = "monitoringSnk"
	CategoryMonitoringSrc = "monitoringSrc"
	CategoryGroupMute     = "groupMute"
	CategoryMatrixNumber  = "mtxNum"
	CategoryGenericInput  = "genericIn"
	CategoryFadingStates  = "fadingStates"
)

// genericInputCount is the size of the numbered generic input series.
const genericInputCount = 8192

// tableCategories lists, per category, the capability tables that feed it.
// Ids must be unique across the tables of one category.
var tableCategories = []struct {
	category string
	tables   []string
}{
	{CategoryInput, []string{"unassigned", "sourceTable", "sourceDspTable", "generatorSources"}},
	{CategoryOutput, []string{"sinkTable"}},
	{CategorySinkFlex, []string{"sinkTableFlex"}},
	{CategorySinkMixer, []string{"sinkTableMixer"}},
	{CategorySinkSidechain, []string{"sinkTableSidechain"}},
	{CategorySinkSumbus, []string{"sourceTableSumbus"}},
	{CategoryEars, []string{"earsTable"}},
	{CategoryInputManager, []string{"inmngTable"}},
	{CategoryGroups, []string{"groupsTable"}},
	{CategoryMonitoringSnk, []string{"monitoringSnkTable"}},
	{CategoryMonitoringSrc, []string{"monitoringSrcTable"}},
	{CategoryGroupMute, []string{"groupMuteTable"}},
}

var fadingStates = []string{"faded_in", "faded_out", "fading_in", "fading_out"}

// Dictionary is one bidirectional translation category.
type Dictionary struct {
	outgoing map[Scalar]Scalar
	incoming map[Scalar]Scalar
}

func newDictionary() *Dictionary {
	return &Dictionary{outgoing: make(map[Scalar]Scalar), incoming: make(map[Scalar]Scalar)}
}

func (d *Dictionary) clear() {
	clear(d.outgoing)
	clear(d.incoming)
}

func (d *Dictionary) add(semantic, raw Scalar) {
	d.outgoing[semantic] = raw
	d.incoming[raw] = semantic
}

// Len returns the number of semantic ids in the category.
func (d *Dictionary) Len() int { return len(d.outgoing) }

// Translations holds every translation category of the connected device.
type Translations struct {
	dicts map[string]*Dictionary
}

// NewTranslations returns an empty set. Until Rebuild runs, Translate is
// an identity for every category.
func NewTranslations() *Translations {
	return &Translations{dicts: make(map[string]*Dictionary)}
}

// Rebuild replaces every category with the rows of device.
func (t *Translations) Rebuild(caps *Capabilities, device DeviceType) {
	for _, tc := range tableCategories {
		t.makeCategory(caps, device, tc.category, tc.tables...)
	}

	mtx := t.reset(CategoryMatrixNumber)
	for _, m := range caps.Mixers(device) {
		mtx.add(StringValue(m.ID), IntValue(m.DevID))
	}

	gen := t.reset(CategoryGenericInput)
	for i := 0; i < genericInputCount; i++ {
		gen.add(StringValue(fmt.Sprintf("in%d", i+1)), IntValue(i))
	}
	gen.add(StringValue("none"), IntValue(-1))

	fading := t.reset(CategoryFadingStates)
	for i, name := range fadingStates {
		fading.add(StringValue(name), IntValue(i))
	}
}

// makeCategory clears the category before the first table that exists for
// device and then aggregates every listed table into it.
func (t *Translations) makeCategory(caps *Capabilities, device DeviceType, category string, tables ...string) {
	cleared := false
	for _, table := range tables {
		rows, ok := caps.Rows(table, device)
		if !ok {
			continue
		}
		d, ok := t.dicts[category]
		if !ok {
			d = newDictionary()
			t.dicts[category] = d
		}
		if !cleared {
			d.clear()
			cleared = true
		}
		for _, r := range rows {
			id, ok := r.ID()
			if !ok {
				continue
			}
			d.add(StringValue(id), IntValue(*r.Index))
		}
	}
}

// Clear drops every category, leaving Translate as an identity.
func (t *Translations) Clear() { clear(t.dicts) }

func (t *Translations) reset(category string) *Dictionary {
	d := newDictionary()
	t.dicts[category] = d
	return d
}

// Has reports whether category is known.
func (t *Translations) Has(category string) bool {
	_, ok := t.dicts[category]
	return ok
}

// Category returns the dictionary of a category.
func (t *Translations) Category(category string) (*Dictionary, bool) {
	d, ok := t.dicts[category]
	return d, ok
}

// Categories returns the known category names.
func (t *Translations) Categories() []string {
	out := make([]string, 0, len(t.dicts))
	for k := range t.dicts {
		out = append(out, k)
	}
	return out
}

// Translate maps value through category in direction.
//
// The value is returned unchanged with true when category is empty or
// unknown, or when direction is neither Incoming nor Outgoing. Otherwise
// the bool is false when the value has no entry, which callers treat as
// unassigned rather than as an error.
func (t *Translations) Translate(dir Direction, category string, value Scalar) (Scalar, bool) {
	if category == "" {
		return value, true
	}
	d, ok := t.dicts[category]
	if !ok {
		return value, true
	}
	var m map[Scalar]Scalar
	switch dir {
	case Incoming:
		m = d.incoming
	case Outgoing:
		m = d.outgoing
	default:
		return value, true
	}
	out, ok := m[value]
	return out, ok
}
