package directout

import (
	"errors"
	"fmt"
	"slices"
)

// Provides is the set of definitions a parameter generates.
type Provides uint8

// Definition kinds a parameter can provide.
const (
	ProvidesAction Provides = 1 << iota
	ProvidesFeedback
	ProvidesVariable

	ProvidesAll = ProvidesAction | ProvidesFeedback | ProvidesVariable
)

// Has reports whether every flag in f is set.
func (p Provides) Has(f Provides) bool { return p&f == f }

// FieldType is the value type of an option or parameter field.
type FieldType string

// Field types.
const (
	FieldString   FieldType = "string"
	FieldNumber   FieldType = "number"
	FieldBoolean  FieldType = "boolean"
	FieldDropdown FieldType = "dropdown"
)

// Field describes an option or a parameter value.
type Field struct {
	ID          string    `json:"id"`
	Label       string    `json:"label"`
	Type        FieldType `json:"type"`
	Translation string    `json:"translation,omitempty"`
	Choices     []Choice  `json:"choices,omitempty"`
	Min         *float64  `json:"min,omitempty"`
	Max         *float64  `json:"max,omitempty"`
	Step        *float64  `json:"step,omitempty"`
}

// ParamField is a parameter value living at Path. Each '*' in Path is
// filled by the option at the same position.
type ParamField struct {
	Field
	Path string `json:"path"`
}

// Parameter is one catalog entry. Actions, feedbacks, variables and record
// templates are generated from it for the connected device.
type Parameter struct {
	Key      string
	ID       string
	Name     string
	Provides Provides
	Options  []Field
	Params   []ParamField
	// Devices restricts the entry; empty means every device.
	Devices []DeviceType

	// Hooks replace the generated behaviour when set.
	Hooks *ParameterHooks
}

// ParameterHooks override the generated action, learn and check of a
// parameter whose writes span several paths.
type ParameterHooks struct {
	Execute func(dv deviceView, opts Options) error
	Learn   func(dv deviceView, opts Options) (Options, bool)
	Check   func(dv deviceView, opts Options) bool
}

// AvailableOn reports whether the entry applies to device.
func (p Parameter) AvailableOn(device DeviceType) bool {
	return len(p.Devices) == 0 || slices.Contains(p.Devices, device)
}

// ActionID returns the id of the generated action, falling back to Key.
func (p Parameter) ActionID() string {
	if p.ID != "" {
		return p.ID
	}
	return p.Key
}

func fp(v float64) *float64 { return &v }

func dropdown(id, label, translation string, choices []Choice) Field {
	return Field{ID: id, Label: label, Type: FieldDropdown, Translation: translation, Choices: choices}
}

func number(id, label string, lo, hi, step float64) Field {
	return Field{ID: id, Label: label, Type: FieldNumber, Min: fp(lo), Max: fp(hi), Step: fp(step)}
}

func boolean(id, label string) Field {
	return Field{ID: id, Label: label, Type: FieldBoolean}
}

func text(id, label string) Field {
	return Field{ID: id, Label: label, Type: FieldString}
}

func at(path string, f Field) ParamField {
	return ParamField{Field: f, Path: path}
}

func intChoice(id int, label string) Choice {
	return Choice{ID: IntValue(id), Label: label}
}

// enumChoices numbers labels from 0.
func enumChoices(labels ...string) []Choice {
	out := make([]Choice, len(labels))
	for i, l := range labels {
		out[i] = intChoice(i, l)
	}
	return out
}

// countChoices returns n choices with ids 0..n-1 labelled from 1.
func countChoices(format string, n int) []Choice {
	out := make([]Choice, n)
	for i := 0; i < n; i++ {
		out[i] = intChoice(i, fmt.Sprintf(format, i+1))
	}
	return out
}

func genericInputChoices(n int) []Choice {
	out := []Choice{{ID: StringValue("none"), Label: "None"}}
	for i := 0; i < n; i++ {
		out = append(out, Choice{ID: StringValue(fmt.Sprintf("in%d", i+1)), Label: fmt.Sprintf("Input %d", i+1)})
	}
	return out
}

var (
	muteChoices     = []Choice{intChoice(1, "Mute"), intChoice(0, "Unmute")}
	polarityChoices = []Choice{intChoice(0, "Normal"), intChoice(1, "Inverted")}
	earsPriority    = enumChoices("Off", "Main", "Backup", "Auto")
	earsForce       = enumChoices("Off", "Main", "Backup", "Disaster Recovery")
)

// catalogInput carries the device-derived data the catalog is built from.
type catalogInput struct {
	device DeviceType
	lists  ChoiceLists
	counts DeviceCounts
	mixers []MatrixMixer
}

// buildCatalog returns the entries that apply to in.device, in catalog
// order.
func buildCatalog(in catalogInput) []Parameter {
	all := catalog(in)
	out := make([]Parameter, 0, len(all))
	for _, p := range all {
		if p.AvailableOn(in.device) {
			out = append(out, p)
		}
	}
	return out
}

func catalog(in catalogInput) []Parameter {
	l := in.lists
	inputOpt := dropdown("input", "Input", CategoryInput, l.Get(ChoicesInput))
	outputOpt := dropdown("output", "Output", CategoryOutput, l.Get(ChoicesOutput))
	earsOpt := dropdown("ears", "EARS", CategoryEars, l.Get(ChoicesEars))
	sinkOpt := dropdown("sink", "Sum Bus", CategorySinkSumbus, l.Get(ChoicesSumbusSink))
	inmngOpt := dropdown("inmng", "Input Manager", CategoryInputManager, l.Get(ChoicesInputManager))
	inmngChannelOpt := dropdown("channel", "Channel", CategoryGenericInput, genericInputChoices(6)[1:])
	flexOpt := dropdown("flexchannel", "Flex Channel", CategorySinkFlex, l.Get(ChoicesOutputFlex))
	groupOpt := dropdown("group", "Group", CategoryGroups, l.Get(ChoicesGroups))
	slotOpt := dropdown("slot", "Slot", "", countChoices("Slot #%d", in.counts.Slots))
	slotChannelOpt := dropdown("channel", "Channel", "", countChoices("Channel %d", 8))
	analogDevices := []DeviceType{DeviceProdigyMC, DeviceProdigyMP, DeviceMavenA}
	dspDevices := []DeviceType{DeviceProdigyMP, DeviceProdigyMX, DeviceMavenA}

	mixerChoices := make([]Choice, 0, len(in.mixers))
	for _, m := range in.mixers {
		mixerChoices = append(mixerChoices, Choice{
			ID:    StringValue(m.ID),
			Label: fmt.Sprintf("%s (%d x %d)", m.Label, m.Inputs, m.Output),
		})
	}

	muteGroupHooks := &ParameterHooks{Execute: muteGroupExecute, Learn: muteGroupLearn, Check: muteGroupCheck}

	return []Parameter{
		{
			Key: "ltc_source", Name: "Settings: LTC Source", Provides: ProvidesAll,
			Params: []ParamField{at("/settings/ltc_source",
				dropdown("ltc_source", "LTC Source", CategoryInput, l.Sources()))},
		},
		{
			Key: "device_name", Name: "Settings: Device Name", Provides: ProvidesAll,
			Params: []ParamField{at("/device_info/name", text("device_name", "Device Name"))},
		},
		{
			Key: "mute_input", Name: "Input: Mute", Provides: ProvidesAll,
			Options: []Field{inputOpt},
			Params:  []ParamField{at("/settings/input_mute/*", dropdown("input_mute", "Mute", "", muteChoices))},
		},
		{
			Key: "mute_output", Name: "Output: Mute", Provides: ProvidesAll,
			Devices: []DeviceType{DeviceProdigyMC, DeviceProdigyMP, DeviceProdigyMX},
			Options: []Field{outputOpt},
			Params:  []ParamField{at("/settings/mute/*", dropdown("output_mute", "Mute", "", muteChoices))},
		},
		{
			Key: "mute_output_maven", ID: "mute_output", Name: "Output: Mute", Provides: ProvidesAll,
			Devices: []DeviceType{DeviceMavenA},
			Options: []Field{outputOpt},
			Params:  []ParamField{at("/settings/output_mute/*", dropdown("output_mute", "Mute", "", muteChoices))},
		},
		{
			Key: "mute_group", Name: "Output: Group Mute", Provides: ProvidesAll,
			Devices: []DeviceType{DeviceProdigyMC, DeviceProdigyMP, DeviceMavenA, DeviceGeneric},
			Options: []Field{dropdown("mutegroup", "Group", CategoryGroupMute, l.Get(ChoicesGroupMute))},
			Params:  []ParamField{at("/settings/mute_group/*", dropdown("mute_group", "Mute", "", muteChoices))},
		},
		{
			Key: "mute_group_mx", ID: "mute_group", Name: "Output: Group Mute", Provides: ProvidesAll,
			Devices: []DeviceType{DeviceProdigyMX},
			Options: []Field{dropdown("mutegroup", "Group", CategoryGroupMute, l.Get(ChoicesGroupMute))},
			Params:  []ParamField{at("/settings/mute_group/*", dropdown("mute_group", "Mute", "", muteChoices))},
			Hooks:   muteGroupHooks,
		},
		{
			Key: "input_polarity", Name: "Input: Polarity", Provides: ProvidesAll,
			Options: []Field{inputOpt},
			Params:  []ParamField{at("/settings/input_polarity/*", dropdown("input_polarity", "Polarity", "", polarityChoices))},
		},
		{
			Key: "output_polarity", Name: "Output: Polarity", Provides: ProvidesAll,
			Options: []Field{outputOpt},
			Params:  []ParamField{at("/settings/output_polarity/*", dropdown("output_polarity", "Polarity", "", polarityChoices))},
		},
		{
			Key: "output_gain", Name: "Output: Gain", Provides: ProvidesAll,
			Options: []Field{outputOpt},
			Params:  []ParamField{at("/settings/output_gain/*", number("output_gain", "Gain (dB)", -144, 18, 0.1))},
		},
		{
			Key: "input_trim", Name: "Input: Trim", Provides: ProvidesAll,
			Options: []Field{inputOpt},
			Params:  []ParamField{at("/settings/input_trim/*", number("input_trim", "Trim (dB)", -24, 24, 0.1))},
		},
		{
			Key: "output_trim", Name: "Output: Trim", Provides: ProvidesAll,
			Options: []Field{outputOpt},
			Params:  []ParamField{at("/settings/output_trim/*", number("output_trim", "Trim (dB)", -24, 24, 0.1))},
		},
		{
			Key: "input_label", Name: "Input: Label", Provides: ProvidesAll,
			Options: []Field{inputOpt},
			Params:  []ParamField{at("/settings/input_labels/*", text("label", "Label"))},
		},
		{
			Key: "output_label", Name: "Output: Label", Provides: ProvidesAll,
			Options: []Field{outputOpt},
			Params:  []ParamField{at("/settings/output_labels/*", text("label", "Label"))},
		},
		{
			Key: "ears_priority", Name: "EARS: Priority", Provides: ProvidesAll,
			Options: []Field{earsOpt},
			Params:  []ParamField{at("/settings/ears/*/priority", dropdown("priority", "Priority", "", earsPriority))},
		},
		{
			Key: "ears_force", Name: "EARS: Force", Provides: ProvidesAll,
			Options: []Field{earsOpt},
			Params:  []ParamField{at("/settings/ears/*/force", dropdown("force", "Force", "", earsForce))},
		},
		{
			Key: "sum_bus_mute", Name: "Sum Bus: Mute", Provides: ProvidesAll, Devices: dspDevices,
			Options: []Field{sinkOpt},
			Params:  []ParamField{at("/settings/sum_bus_master/*/mute", boolean("mute_master", "Mute"))},
		},
		{
			Key: "sum_bus_polarity", Name: "Sum Bus: Polarity", Provides: ProvidesAll, Devices: dspDevices,
			Options: []Field{sinkOpt},
			Params:  []ParamField{at("/settings/sum_bus_master/*/polarity", dropdown("polarity", "Polarity", "", polarityChoices))},
		},
		{
			Key: "sum_bus_gain", Name: "Sum Bus: Gain", Provides: ProvidesAll, Devices: dspDevices,
			Options: []Field{sinkOpt},
			Params:  []ParamField{at("/settings/sum_bus_master/*/gain", number("gain", "Gain (dB)", -144, 18, 0.1))},
		},
		{
			Key: "sum_bus_label", Name: "Sum Bus: Label", Provides: ProvidesAll, Devices: dspDevices,
			Options: []Field{sinkOpt},
			Params:  []ParamField{at("/settings/sum_bus_master/*/label", text("label", "Label"))},
		},
		{
			Key: "inmng_label", Name: "Input Manager: Label", Provides: ProvidesAll,
			Options: []Field{inmngOpt},
			Params:  []ParamField{at("/settings/input_manager/*/label", text("label", "Label"))},
		},
		{
			Key: "inmng_manual", Name: "Input Manager: Manual Input", Provides: ProvidesAll,
			Options: []Field{inmngOpt},
			Params: []ParamField{at("/settings/input_manager/*/manual",
				dropdown("manual", "Manual Input", CategoryGenericInput, genericInputChoices(6)))},
		},
		{
			Key: "inmng_coherency_detection", Name: "Input Manager: Coherency Detection", Provides: ProvidesAll,
			Options: []Field{inmngOpt},
			Params: []ParamField{at("/settings/input_manager/*/coherency_detection",
				boolean("coherency_detection", "Coherency Detection"))},
		},
		{
			Key: "inmng_auto_resume", Name: "Input Manager: Auto Resume", Provides: ProvidesAll,
			Options: []Field{inmngOpt, inmngChannelOpt},
			Params: []ParamField{at("/settings/input_manager/*/entries/*/auto_resume",
				boolean("auto_resume", "Auto Resume"))},
		},
		{
			Key: "inmng_current", Name: "Input Manager: Current Input", Provides: ProvidesFeedback | ProvidesVariable,
			Options: []Field{inmngOpt},
			Params: []ParamField{at("/status/input_manager/*/current",
				dropdown("channel", "Current Input", CategoryGenericInput, genericInputChoices(6)))},
		},
		{
			Key: "inmng_silence", Name: "Input Manager: Silence", Provides: ProvidesFeedback | ProvidesVariable,
			Options: []Field{inmngOpt, inmngChannelOpt},
			Params: []ParamField{at("/status/input_manager/*/signals/*/silence",
				boolean("silence", "Silence"))},
		},
		{
			Key: "monitoring_routing", Name: "Monitoring: Routing", Provides: ProvidesAll, Devices: dspDevices,
			Options: []Field{dropdown("sink", "Monitor", CategoryMonitoringSnk, l.Get(ChoicesMonitoringSnk))},
			Params: []ParamField{at("/settings/monitoring/routing/*",
				dropdown("source", "Source", CategoryMonitoringSrc, l.Get(ChoicesMonitoringSrc)))},
		},
		{
			Key: "gpo_state", Name: "GPO: State", Provides: ProvidesAll,
			Options: []Field{dropdown("gpo", "GPO", "", countChoices("GPO %d", 8))},
			Params:  []ParamField{at("/settings/gpo/*", boolean("state", "On/Off"))},
		},
		{
			Key: "slot_analog_gain", Name: "Settings: Slot, Analog Gain", Provides: ProvidesAll, Devices: analogDevices,
			Options: []Field{slotOpt, slotChannelOpt},
			Params: []ParamField{at("/settings/slot_settings/*/channels/*/analog_gain",
				number("analog_gain", "Analog Gain (dB)", 5, 75, 0.1))},
		},
		{
			Key: "slot_phantom_power", Name: "Settings: Slot, Phantom Power", Provides: ProvidesAll, Devices: analogDevices,
			Options: []Field{slotOpt, slotChannelOpt},
			Params: []ParamField{at("/settings/slot_settings/*/channels/*/p48",
				boolean("phantom_power", "Phantom Power"))},
		},
		{
			Key: "slot_label", Name: "Settings: Slot, Label", Provides: ProvidesAll, Devices: analogDevices,
			Options: []Field{slotOpt},
			Params:  []ParamField{at("/settings/slot_name/*", text("label", "Label"))},
		},
		{
			Key: "flex_mute", Name: "Flex Channel: Mute", Provides: ProvidesAll, Devices: dspDevices,
			Options: []Field{flexOpt},
			Params:  []ParamField{at("/settings/flex_channel/*/mute", boolean("mute", "Mute"))},
		},
		{
			Key: "flex_gain", Name: "Flex Channel: Gain", Provides: ProvidesAll, Devices: dspDevices,
			Options: []Field{flexOpt},
			Params:  []ParamField{at("/settings/flex_channel/*/gain", number("gain", "Gain (dB)", -144, 18, 0.1))},
		},
		{
			Key: "flex_time_adj", Name: "Flex Channel: Time Adjust", Provides: ProvidesAll, Devices: dspDevices,
			Options: []Field{flexOpt},
			Params:  []ParamField{at("/settings/flex_channel/*/time_adj", number("time_adj", "Samples", 0, 511, 1))},
		},
		{
			Key: "mtx_label", Name: "Matrix Mixer: Label", Provides: ProvidesAll,
			Devices: []DeviceType{DeviceProdigyMP},
			Options: []Field{dropdown("mixer", "Mixer", CategoryMatrixNumber, mixerChoices)},
			Params:  []ParamField{at("/settings/mixer/*/label", text("label", "Label"))},
		},
		{
			Key: "group_channel", Name: "Group", Provides: ProvidesAll,
			Options: []Field{groupOpt},
			Params: []ParamField{
				at("/settings/group/channel/*/gain", number("gain", "Gain (dB)", -144, 18, 0.1)),
				at("/settings/group/channel/*/label", text("label", "Label")),
				at("/settings/group/channel/*/mute", boolean("mute", "Mute")),
				at("/settings/group/channel/*/fade_out", boolean("fade_out", "Fade Out")),
			},
		},
		{
			Key: "group_fading_state", Name: "Group: Fading State", Provides: ProvidesFeedback | ProvidesVariable,
			Options: []Field{groupOpt},
			Params: []ParamField{at("/status/group/channel/*/fading_state",
				dropdown("fading_state", "Fading State", CategoryFadingStates, []Choice{
					{ID: StringValue("faded_in"), Label: "Faded in"},
					{ID: StringValue("faded_out"), Label: "Faded out"},
					{ID: StringValue("fading_in"), Label: "Fading in"},
					{ID: StringValue("fading_out"), Label: "Fading out"},
				}))},
		},
	}
}

// muteGroupPaths resolves the mute group option to the paths it covers.
// Raw numbers below 1000 address one group; 1001 is the DSP group and 1002
// every group.
func muteGroupPaths(dv deviceView, opts Options) []string {
	raw, ok := dv.Translate(Outgoing, CategoryGroupMute, opts["mutegroup"])
	if !ok {
		return nil
	}
	n, ok := raw.Int()
	if !ok {
		return nil
	}
	switch {
	case n < 1000:
		return []string{fmt.Sprintf("/settings/mute_group/%d", n)}
	case n == 1001:
		return []string{"/settings/dsp_mute_group/0"}
	case n == 1002:
		paths := make([]string, 0, 9)
		for i := 0; i < 8; i++ {
			paths = append(paths, fmt.Sprintf("/settings/mute_group/%d", i))
		}
		return append(paths, "/settings/dsp_mute_group/0")
	}
	return nil
}

// anyUnmuted reports whether one of paths reads 0.
func anyUnmuted(dv deviceView, paths []string) bool {
	for _, p := range paths {
		if v, ok := dv.State(p, ""); ok {
			if n, ok := v.Num(); ok && n == 0 {
				return true
			}
		}
	}
	return false
}

func muteGroupExecute(dv deviceView, opts Options) error {
	paths := muteGroupPaths(dv, opts)
	if len(paths) == 0 {
		return nil
	}
	value := opts["mute_group"]
	if s, ok := value.Str(); ok && s == TokenToggle {
		value = IntValue(0)
		if anyUnmuted(dv, paths) {
			value = IntValue(1)
		}
	}
	var errs []error
	for _, p := range paths {
		if err := dv.Set(p, value, ""); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func muteGroupLearn(dv deviceView, opts Options) (Options, bool) {
	paths := muteGroupPaths(dv, opts)
	if len(paths) == 0 {
		return nil, false
	}
	out := opts.Clone()
	out["mute_group"] = IntValue(1)
	if anyUnmuted(dv, paths) {
		out["mute_group"] = IntValue(0)
	}
	return out, true
}

func muteGroupCheck(dv deviceView, opts Options) bool {
	paths := muteGroupPaths(dv, opts)
	return len(paths) > 0 && !anyUnmuted(dv, paths)
}
