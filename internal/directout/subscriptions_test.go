package directout

import (
	"regexp"
	"slices"
	"testing"
)

func TestRegistry_Refcount(t *testing.T) {
	r := NewRegistry()
	path := "/settings/input_mute/3"

	r.Subscribe(path, PathWatchPattern(path), "fb-1", WithFeedback("mute_input"))
	r.Subscribe(path, PathWatchPattern(path), "fb-2", WithFeedback("mute_input"))
	r.Subscribe(path, PathWatchPattern(path), "fb-3", WithFeedback("input_polarity"))

	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", r.Len())
	}
	info, _ := r.Get(path)
	if len(info.Listeners) != 3 {
		t.Errorf("listeners = %v, want 3", info.Listeners)
	}
	if !slices.Equal(info.FeedbackRefs, []string{"mute_input", "input_polarity"}) {
		t.Errorf("feedback refs = %v", info.FeedbackRefs)
	}

	if r.Unsubscribe(path, "fb-1") {
		t.Error("entry deleted while listeners remain")
	}
	if r.Unsubscribe(path, "fb-2") {
		t.Error("entry deleted while listeners remain")
	}
	if r.Unsubscribe(path, "unknown") {
		t.Error("unknown listener deleted the entry")
	}
	if !r.Unsubscribe(path, "fb-3") {
		t.Error("last unsubscribe should delete the entry")
	}
	if _, ok := r.Get(path); ok {
		t.Error("entry still present")
	}
	if r.Unsubscribe(path, "fb-3") {
		t.Error("unsubscribe from a missing entry reported deletion")
	}
}

func TestRegistry_Dispatch(t *testing.T) {
	r := NewRegistry()
	var calls []string

	r.Subscribe("labels", regexp.MustCompile(`(label)|(name)`), "sys",
		WithOnMatch(func(p string) bool { calls = append(calls, "labels:"+p); return true }))
	r.Subscribe("mute", WildcardPattern("/settings/input_mute/*"), "sys",
		WithFeedback("mute_input"),
		WithOnMatch(func(p string) bool { calls = append(calls, "mute:"+p); return false }))
	r.Subscribe("gain", PathWatchPattern("/settings/output_gain/1"), "l1", WithFeedback("output_gain"))

	tests := []struct {
		path      string
		wantRegen bool
		wantFB    []string
		wantCount int
	}{
		{"/settings/input_labels/4", true, nil, 1},
		{"/settings/input_mute/12", false, []string{"mute_input"}, 1},
		{"/settings/input_mute/12/x", false, nil, 0},
		{"/settings/output_gain/1", false, []string{"output_gain"}, 1},
		{"/settings/output_gain/11", false, nil, 0},
		{"/x/settings/output_gain/1", false, []string{"output_gain"}, 1}, // end-anchored only
		{"/status/temp", false, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			res := r.Dispatch(tt.path)
			if res.Regenerate != tt.wantRegen {
				t.Errorf("Regenerate = %v, want %v", res.Regenerate, tt.wantRegen)
			}
			if !slices.Equal(res.Feedbacks, tt.wantFB) {
				t.Errorf("Feedbacks = %v, want %v", res.Feedbacks, tt.wantFB)
			}
			if res.Matched != tt.wantCount {
				t.Errorf("Matched = %d, want %d", res.Matched, tt.wantCount)
			}
		})
	}

	want := []string{"labels:/settings/input_labels/4", "mute:/settings/input_mute/12"}
	if !slices.Equal(calls, want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}
}

func TestRegistry_CallbackMayResubscribe(t *testing.T) {
	r := NewRegistry()
	r.Subscribe("a", regexp.MustCompile(`^/a$`), "l", WithOnMatch(func(string) bool {
		r.Subscribe("b", regexp.MustCompile(`^/b$`), "l")
		r.Unsubscribe("a", "l")
		return false
	}))

	r.Dispatch("/a")
	if _, ok := r.Get("a"); ok {
		t.Error("a should be gone")
	}
	if _, ok := r.Get("b"); !ok {
		t.Error("b should exist")
	}
}

func TestRegistry_RunInit(t *testing.T) {
	r := NewRegistry()
	var seen []string

	r.Set(Subscription{
		Key:          "routing",
		Matcher:      regexp.MustCompile(`^/settings/routing/\d+/\d+$`),
		FeedbackRefs: []string{"routing_standard"},
		InitPaths:    []string{"/settings/routing/1/1"},
		OnMatch:      func(p string) bool { seen = append(seen, p); return false },
	})
	r.Set(Subscription{
		Key:       "labels",
		Matcher:   regexp.MustCompile(`label`),
		InitPaths: []string{"/x/label", "/y/label"},
		OnMatch:   func(p string) bool { seen = append(seen, p); return true },
	})
	r.Subscribe("plain", PathWatchPattern("/z"), "l")

	res := r.RunInit()
	if !res.Regenerate {
		t.Error("Regenerate = false, want true")
	}
	if res.Matched != 3 {
		t.Errorf("Matched = %d, want 3", res.Matched)
	}
	if !slices.Equal(res.Feedbacks, []string{"routing_standard"}) {
		t.Errorf("Feedbacks = %v", res.Feedbacks)
	}
	if !slices.Equal(seen, []string{"/settings/routing/1/1", "/x/label", "/y/label"}) {
		t.Errorf("init order = %v", seen)
	}
}

func TestRegistry_SystemEntries(t *testing.T) {
	r := NewRegistry()
	r.Set(Subscription{Key: "sys", Matcher: regexp.MustCompile(`x`)})
	r.Subscribe("user", PathWatchPattern("/x"), "l")

	if r.Unsubscribe("sys", "anyone") {
		t.Error("system entry removed by Unsubscribe")
	}

	r.Set(Subscription{Key: "sys", Matcher: regexp.MustCompile(`y`)})
	if info, _ := r.Get("sys"); info.Pattern != "y" || !info.System {
		t.Errorf("Set did not replace the entry: %+v", info)
	}

	r.ClearSystem()
	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", r.Len())
	}
	if _, ok := r.Get("user"); !ok {
		t.Error("listener entry dropped by ClearSystem")
	}
}

func TestWildcardPattern(t *testing.T) {
	re := WildcardPattern("/settings/group/channel/*/mute")

	tests := []struct {
		path string
		want bool
	}{
		{"/settings/group/channel/3/mute", true},
		{"/settings/group/channel/12/mute", true},
		{"/settings/group/channel//mute", false},
		{"/settings/group/channel/3/4/mute", false},
		{"/x/settings/group/channel/3/mute", false},
	}
	for _, tt := range tests {
		if got := re.MatchString(tt.path); got != tt.want {
			t.Errorf("match(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
