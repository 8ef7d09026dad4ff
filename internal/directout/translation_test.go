package directout

import (
	"testing"
)

func mustCaps(t *testing.T) *Capabilities {
	t.Helper()
	caps, err := DefaultCapabilities()
	if err != nil {
		t.Fatalf("DefaultCapabilities() error = %v", err)
	}
	return caps
}

func TestTranslations_Translate(t *testing.T) {
	tr := NewTranslations()
	tr.Rebuild(mustCaps(t), DeviceProdigyMP)

	tests := []struct {
		name     string
		dir      Direction
		category string
		in       Scalar
		want     Scalar
		wantOK   bool
	}{
		{"input outgoing", Outgoing, CategoryInput, StringValue("in_slot1_3"), IntValue(2), true},
		{"input incoming", Incoming, CategoryInput, IntValue(2), StringValue("in_slot1_3"), true},
		{"unassigned source", Incoming, CategoryInput, IntValue(-1), StringValue("src_none"), true},
		{"dsp source on MP", Outgoing, CategoryInput, StringValue("srcdsp_flex_1"), IntValue(1024), true},
		{"generator source", Incoming, CategoryInput, IntValue(2049), StringValue("gen_2"), true},
		{"output outgoing", Outgoing, CategoryOutput, StringValue("out_madi1_1"), IntValue(32), true},
		{"unknown raw value", Incoming, CategoryInput, IntValue(99999), Null(), false},
		{"unknown semantic id", Outgoing, CategoryOutput, StringValue("out_nowhere_1"), Null(), false},
		{"generic input", Outgoing, CategoryGenericInput, StringValue("in5"), IntValue(4), true},
		{"generic input none", Incoming, CategoryGenericInput, IntValue(-1), StringValue("none"), true},
		{"matrix number", Outgoing, CategoryMatrixNumber, StringValue("mtx2"), IntValue(1), true},
		{"fading state", Incoming, CategoryFadingStates, IntValue(3), StringValue("fading_out"), true},
		{"empty category is identity", Outgoing, "", StringValue("x"), StringValue("x"), true},
		{"unknown category is identity", Incoming, "bogus", IntValue(7), IntValue(7), true},
		{"unknown direction is identity", Direction("sideways"), CategoryInput, IntValue(2), IntValue(2), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tr.Translate(tt.dir, tt.category, tt.in)
			if ok != tt.wantOK {
				t.Fatalf("Translate() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("Translate() = %v, want %v", got, tt.want)
			}
		})
	}
}

// Every entry round-trips through both directions.
func TestTranslations_RoundTrip(t *testing.T) {
	caps := mustCaps(t)
	for _, dev := range []DeviceType{DeviceProdigyMC, DeviceProdigyMP, DeviceProdigyMX, DeviceMavenA, DeviceGeneric} {
		tr := NewTranslations()
		tr.Rebuild(caps, dev)
		for _, cat := range tr.Categories() {
			d, _ := tr.Category(cat)
			for semantic, raw := range d.outgoing {
				back, ok := tr.Translate(Incoming, cat, raw)
				if !ok || back != semantic {
					t.Errorf("%s/%s: %v -> %v -> %v", dev, cat, semantic, raw, back)
				}
			}
			if len(d.outgoing) != len(d.incoming) {
				t.Errorf("%s/%s: %d ids but %d raw values", dev, cat, len(d.outgoing), len(d.incoming))
			}
		}
	}
}

func TestTranslations_RebuildReplacesDevice(t *testing.T) {
	caps := mustCaps(t)
	tr := NewTranslations()

	tr.Rebuild(caps, DeviceProdigyMP)
	if _, ok := tr.Translate(Outgoing, CategoryInput, StringValue("srcdsp_flex_1")); !ok {
		t.Fatal("MP should know DSP sources")
	}

	tr.Rebuild(caps, DeviceProdigyMC)
	if _, ok := tr.Translate(Outgoing, CategoryInput, StringValue("srcdsp_flex_1")); ok {
		t.Error("MC kept DSP sources from the previous device")
	}
	if got, _ := tr.Translate(Outgoing, CategoryMatrixNumber, StringValue("mtx1")); got == IntValue(0) {
		t.Error("MC kept matrix mixers from the previous device")
	}
}

func TestTranslations_GroupMuteMX(t *testing.T) {
	tr := NewTranslations()
	tr.Rebuild(mustCaps(t), DeviceProdigyMX)

	tests := []struct {
		id   string
		want int
	}{
		{"mgrp_1", 0},
		{"mgrp_8", 7},
		{"mgrp_dsp", 1001},
		{"mgrp_all", 1002},
	}
	for _, tt := range tests {
		got, ok := tr.Translate(Outgoing, CategoryGroupMute, StringValue(tt.id))
		if !ok || got != IntValue(tt.want) {
			t.Errorf("groupMute %s = %v, want %d", tt.id, got, tt.want)
		}
	}
}
