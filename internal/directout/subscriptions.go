package directout

import (
	"regexp"
	"sort"
	"strings"
	"sync"
)

// MatchFunc runs when a subscription matches a changed path. Returning
// true requests structural regeneration.
type MatchFunc func(path string) bool

// Subscription is a registered interest in state changes whose path
// matches Matcher.
type Subscription struct {
	Key          string
	Matcher      *regexp.Regexp
	FeedbackRefs []string
	OnMatch      MatchFunc
	InitPaths    []string

	listeners map[string]struct{}
	// system entries are rebuilt on every regeneration; listener entries
	// live until their last listener leaves.
	system bool
}

// SubscriptionInfo is a read-only view of a registry entry.
type SubscriptionInfo struct {
	Key          string   `json:"key"`
	Pattern      string   `json:"pattern"`
	Listeners    []string `json:"listeners,omitempty"`
	FeedbackRefs []string `json:"feedback_refs,omitempty"`
	HasInit      bool     `json:"has_init"`
	System       bool     `json:"system"`
}

// SubscribeOption configures a new subscription.
type SubscribeOption func(*Subscription)

// WithOnMatch attaches a match callback.
func WithOnMatch(fn MatchFunc) SubscribeOption {
	return func(s *Subscription) { s.OnMatch = fn }
}

// WithFeedback attaches feedback references to re-check on match.
func WithFeedback(refs ...string) SubscribeOption {
	return func(s *Subscription) { s.FeedbackRefs = append(s.FeedbackRefs, refs...) }
}

// WithInitPaths attaches paths the callback runs against once after the
// root snapshot.
func WithInitPaths(paths ...string) SubscribeOption {
	return func(s *Subscription) { s.InitPaths = append(s.InitPaths, paths...) }
}

// DispatchResult summarises the effect of one dispatch.
type DispatchResult struct {
	Regenerate bool
	Feedbacks  []string
	Matched    int
}

// merge folds o into r, keeping feedback references unique.
func (r *DispatchResult) merge(o DispatchResult) {
	r.Regenerate = r.Regenerate || o.Regenerate
	r.Matched += o.Matched
	for _, f := range o.Feedbacks {
		if !containsString(r.Feedbacks, f) {
			r.Feedbacks = append(r.Feedbacks, f)
		}
	}
}

// Registry dispatches changed paths to subscriptions.
//
// Entries are kept in registration order and callbacks run in that order,
// outside the registry lock, so a callback may subscribe or unsubscribe.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*Subscription
	order   []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Subscription)}
}

// PathWatchPattern returns the end-anchored matcher used for a
// single-path watch.
func PathWatchPattern(path string) *regexp.Regexp {
	return regexp.MustCompile(regexp.QuoteMeta(path) + "$")
}

// WildcardPattern compiles a parameter path whose * segments match any
// single segment. The result is anchored at both ends.
func WildcardPattern(path string) *regexp.Regexp {
	quoted := strings.ReplaceAll(regexp.QuoteMeta(path), `\*`, `([^/])+`)
	return regexp.MustCompile("^" + quoted + "$")
}

// Subscribe adds listenerID to the entry under key, creating the entry
// with matcher and opts when it does not exist. Feedback references are
// merged into an existing entry.
func (r *Registry) Subscribe(key string, matcher *regexp.Regexp, listenerID string, opts ...SubscribeOption) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sub, ok := r.entries[key]; ok {
		sub.listeners[listenerID] = struct{}{}
		var extra Subscription
		for _, o := range opts {
			o(&extra)
		}
		for _, f := range extra.FeedbackRefs {
			if !containsString(sub.FeedbackRefs, f) {
				sub.FeedbackRefs = append(sub.FeedbackRefs, f)
			}
		}
		return
	}

	sub := &Subscription{
		Key:       key,
		Matcher:   matcher,
		listeners: map[string]struct{}{listenerID: {}},
	}
	for _, o := range opts {
		o(sub)
	}
	r.insert(sub)
}

// Unsubscribe removes listenerID from the entry under key. The entry is
// deleted once no listener remains; the return value reports that.
func (r *Registry) Unsubscribe(key, listenerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.entries[key]
	if !ok || sub.system {
		return false
	}
	delete(sub.listeners, listenerID)
	if len(sub.listeners) > 0 {
		return false
	}
	r.remove(key)
	return true
}

// Set installs a system entry under key, replacing any previous one.
func (r *Registry) Set(sub Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := sub
	s.system = true
	if s.listeners == nil {
		s.listeners = make(map[string]struct{})
	}
	if _, ok := r.entries[s.Key]; ok {
		r.entries[s.Key] = &s
		return
	}
	r.insert(&s)
}

// ClearSystem drops every system entry. Listener entries survive.
func (r *Registry) ClearSystem() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, k := range append([]string(nil), r.order...) {
		if r.entries[k].system {
			r.remove(k)
		}
	}
}

// Get returns a view of the entry under key.
func (r *Registry) Get(key string) (SubscriptionInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.entries[key]
	if !ok {
		return SubscriptionInfo{}, false
	}
	return sub.info(), true
}

// List returns views of every entry in registration order.
func (r *Registry) List() []SubscriptionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]SubscriptionInfo, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.entries[k].info())
	}
	return out
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Dispatch runs every subscription whose matcher matches path.
func (r *Registry) Dispatch(path string) DispatchResult {
	var res DispatchResult
	for _, sub := range r.matching(path) {
		res.Matched++
		if sub.OnMatch != nil && sub.OnMatch(path) {
			res.Regenerate = true
		}
		res.merge(DispatchResult{Feedbacks: sub.FeedbackRefs})
	}
	return res
}

// RunInit runs every subscription carrying init paths once per path.
func (r *Registry) RunInit() DispatchResult {
	r.mu.Lock()
	var subs []Subscription
	for _, k := range r.order {
		if s := r.entries[k]; len(s.InitPaths) > 0 {
			subs = append(subs, *s)
		}
	}
	r.mu.Unlock()

	var res DispatchResult
	for _, sub := range subs {
		for _, p := range sub.InitPaths {
			res.Matched++
			if sub.OnMatch != nil && sub.OnMatch(p) {
				res.Regenerate = true
			}
			res.merge(DispatchResult{Feedbacks: sub.FeedbackRefs})
		}
	}
	return res
}

func (r *Registry) matching(path string) []Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Subscription
	for _, k := range r.order {
		s := r.entries[k]
		if s.Matcher != nil && s.Matcher.MatchString(path) {
			cp := *s
			cp.FeedbackRefs = append([]string(nil), s.FeedbackRefs...)
			out = append(out, cp)
		}
	}
	return out
}

func (r *Registry) insert(sub *Subscription) {
	r.entries[sub.Key] = sub
	r.order = append(r.order, sub.Key)
}

func (r *Registry) remove(key string) {
	delete(r.entries, key)
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (s *Subscription) info() SubscriptionInfo {
	info := SubscriptionInfo{
		Key:          s.Key,
		FeedbackRefs: append([]string(nil), s.FeedbackRefs...),
		HasInit:      len(s.InitPaths) > 0,
		System:       s.system,
	}
	if s.Matcher != nil {
		info.Pattern = s.Matcher.String()
	}
	for l := range s.listeners {
		info.Listeners = append(info.Listeners, l)
	}
	sort.Strings(info.Listeners)
	return info
}

func containsString(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
