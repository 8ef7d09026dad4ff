package directout

import "strings"

// Choice is one selectable entry of a dropdown option.
type Choice struct {
	ID    Scalar `json:"id"`
	Label string `json:"label"`
}

// Choice list names.
const (
	ChoicesUnassigned      = "unassigned"
	ChoicesInput           = "inputChoices"
	ChoicesInputDsp        = "inputDspChoices"
	ChoicesGenerator       = "generatorSources"
	ChoicesOutput          = "outputChoices"
	ChoicesOutputFlex      = "outputFlexChoices"
	ChoicesOutputMixer     = "outputMixerChoices"
	ChoicesOutputSidechain = "outputSidechainChoices"
	ChoicesEars            = "earsChoices"
	ChoicesInputManager    = "inmngChoices"
	ChoicesGroups          = "groupsChoices"
	ChoicesMonitoringSnk   = "monitoringSnkChoices"
	ChoicesMonitoringSrc   = "monitoringSrcChoices"
	ChoicesGroupMute       = "groupMuteChoices"
	ChoicesSumbusSink      = "sumbusSinkChoices"
	ChoicesSumbusSource    = "sumbusSourceChoices"
)

var choiceTables = []struct{ list, table string }{
	{ChoicesUnassigned, "unassigned"},
	{ChoicesInput, "sourceTable"},
	{ChoicesInputDsp, "sourceDspTable"},
	{ChoicesGenerator, "generatorSources"},
	{ChoicesOutput, "sinkTable"},
	{ChoicesOutputFlex, "sinkTableFlex"},
	{ChoicesOutputMixer, "sinkTableMixer"},
	{ChoicesOutputSidechain, "sinkTableSidechain"},
	{ChoicesEars, "earsTable"},
	{ChoicesInputManager, "inmngTable"},
	{ChoicesGroups, "groupsTable"},
	{ChoicesMonitoringSnk, "monitoringSnkTable"},
	{ChoicesMonitoringSrc, "monitoringSrcTable"},
	{ChoicesGroupMute, "groupMuteTable"},
	{ChoicesSumbusSink, "sourceTableSumbus"},
}

// ChoiceLists holds the dynamic dropdown lists of the connected device,
// keyed by list name.
type ChoiceLists map[string][]Choice

// Get returns a list, or nil when it does not exist.
func (c ChoiceLists) Get(name string) []Choice {
	return c[name]
}

// Concat joins several lists in order.
func (c ChoiceLists) Concat(names ...string) []Choice {
	var out []Choice
	for _, n := range names {
		out = append(out, c[n]...)
	}
	return out
}

// Sources returns every routable source, unassigned first.
func (c ChoiceLists) Sources() []Choice {
	return c.Concat(ChoicesUnassigned, ChoicesInput, ChoicesInputDsp, ChoicesGenerator)
}

// buildChoiceLists derives every list from the capability rows of device,
// labelling each entry from the live names in the state tree.
func buildChoiceLists(caps *Capabilities, device DeviceType, store *Store) ChoiceLists {
	lists := make(ChoiceLists, len(choiceTables)+1)
	for _, ct := range choiceTables {
		rows, _ := caps.Rows(ct.table, device)
		list := make([]Choice, 0, len(rows))
		for _, r := range rows {
			id, ok := r.ID()
			if !ok {
				continue
			}
			list = append(list, Choice{ID: StringValue(id), Label: rowLabel(r, store)})
		}
		lists[ct.list] = list
	}

	inputs := lists.Concat(ChoicesInput, ChoicesInputDsp, ChoicesGenerator)
	sumbus := caps.SumBus(device)
	sources := make([]Choice, 0, len(sumbus))
	for _, s := range sumbus {
		label := s.ChID
		for _, in := range inputs {
			if id, _ := in.ID.Str(); id == s.ChID {
				label = in.Label
				break
			}
		}
		sources = append(sources, Choice{ID: StringValue(s.ChID), Label: label})
	}
	lists[ChoicesSumbusSource] = sources
	return lists
}

func rowLabel(r Row, store *Store) string {
	def := strings.TrimSpace(r.SlotLabel + " " + r.ChLabel)
	slot := liveLabel(store, r.SlotLabelPath)
	ch := liveLabel(store, r.ChLabelPath)
	switch {
	case slot != "" && ch != "":
		return slot + " " + ch + " (" + def + ")"
	case ch != "":
		return strings.TrimSpace(r.SlotLabel+" "+ch) + " (" + def + ")"
	case slot != "":
		return slot + " (" + def + ")"
	default:
		return def
	}
}

func liveLabel(store *Store, path string) string {
	if path == "" {
		return ""
	}
	v, ok := store.Value(path)
	if !ok {
		return ""
	}
	s, _ := v.Str()
	return s
}
