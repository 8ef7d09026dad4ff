package directout

import (
	"context"
	"fmt"
	"regexp"
)

// view is the deviceView handed to callbacks. It must only be used while
// the session lock is held.
type view struct {
	s   *Session
	ctx context.Context
}

func (v view) State(path, category string) (Scalar, bool) { return v.s.getState(path, category) }

func (v view) Set(path string, value Scalar, category string) error {
	return v.s.dispatcher.SendSet(v.ctx, path, value, category)
}

func (v view) Cmd(name string) error {
	_, err := v.s.dispatcher.SendCmd(v.ctx, CmdCommand(name))
	return err
}

func (v view) Translate(dir Direction, category string, value Scalar) (Scalar, bool) {
	return v.s.tr.Translate(dir, category, value)
}

func (v view) Device() DeviceType { return v.s.device }

func (v view) Caps() *Capabilities { return v.s.caps }


func (v view) LastChange() (Change, bool) {
	if v.s.lastChange == nil {
		return Change{}, false
	}
	return *v.s.lastChange, true
}

// Actions returns the actions of the connected device in definition order.
func (s *Session) Actions() []ActionDefinition {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ActionDefinition, 0, len(s.actionOrder))
	for _, id := range s.actionOrder {
		out = append(out, *s.actions[id])
	}
	return out
}

// ExecuteAction runs action id with opts.
func (s *Session) ExecuteAction(ctx context.Context, id string, opts Options) error {
	var err error
	s.withLock(func() {
		if !s.ready {
			err = ErrNotReady
			return
		}
		a, ok := s.actions[id]
		if !ok || a.execute == nil {
			err = fmt.Errorf("%w: %s", ErrUnknownAction, id)
			return
		}
		err = a.execute(view{s: s, ctx: ctx}, opts)
	})
	if err != nil {
		s.logger.Warn("action failed", "action_id", id, "error", err)
	}
	return err
}

// LearnAction returns opts with the value fields filled from the current
// state. The bool is false when nothing could be learned.
func (s *Session) LearnAction(id string, opts Options) (Options, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[id]
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrUnknownAction, id)
	}
	if a.learn == nil {
		return opts, false, nil
	}
	out, learned := a.learn(view{s: s, ctx: context.Background()}, opts)
	return out, learned, nil
}

// Feedbacks returns the feedbacks of the connected device in definition
// order.
func (s *Session) Feedbacks() []FeedbackDefinition {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]FeedbackDefinition, 0, len(s.feedbackOrder))
	for _, id := range s.feedbackOrder {
		out = append(out, *s.feedbacks[id])
	}
	return out
}

// CheckFeedback evaluates feedback id with opts.
func (s *Session) CheckFeedback(id string, opts Options) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.feedbacks[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownFeedback, id)
	}
	return f.check(view{s: s, ctx: context.Background()}, opts), nil
}

// LearnFeedback returns opts with the compared value taken from the
// current state.
func (s *Session) LearnFeedback(id string, opts Options) (Options, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.feedbacks[id]
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrUnknownFeedback, id)
	}
	if f.learn == nil {
		return opts, false, nil
	}
	out, learned := f.learn(view{s: s, ctx: context.Background()}, opts)
	return out, learned, nil
}

// WatchFeedback subscribes listenerID to the paths feedback id reads
// with opts. Watches on the same path share one registry entry.
func (s *Session) WatchFeedback(id, listenerID string, opts Options) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.feedbacks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFeedback, id)
	}
	if f.watch == nil {
		return nil, nil
	}
	paths := f.watch(view{s: s, ctx: context.Background()}, opts)
	for _, p := range paths {
		s.registry.Subscribe(p, PathWatchPattern(p), listenerID, WithFeedback(id))
	}
	return paths, nil
}

// UnwatchFeedback releases the watches WatchFeedback made for listenerID.
func (s *Session) UnwatchFeedback(listenerID string, paths []string) {
	for _, p := range paths {
		s.registry.Unsubscribe(p, listenerID)
	}
}

// Variables returns every variable definition.
func (s *Session) Variables() []VariableDefinition {
	return s.vars.Definitions()
}

// VariableValues returns a copy of every variable value.
func (s *Session) VariableValues() map[string]any {
	return s.vars.Values()
}

// Variable returns one value.
func (s *Session) Variable(name string) (any, bool) {
	return s.vars.Get(name)
}

func customVariableKey(name string) string { return "custom_variable:" + name }

// WatchVariable publishes the leaf at path under name for listenerID.
func (s *Session) WatchVariable(listenerID, name, path string) error {
	if !ValidCustomVariableName(name) {
		return fmt.Errorf("%w: variable name %q", ErrInvalidOption, name)
	}
	if !WellFormedPath(path) {
		return fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	matcher, err := regexp.Compile("^" + regexp.QuoteMeta(path) + "$")
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}

	s.withLock(func() {
		s.customVars[name] = path
		s.vars.Define(name, "Custom variable")
		publish := func(p string) bool {
			if v, ok := s.getState(p, ""); ok {
				s.setVariable(name, v)
			}
			return false
		}
		s.registry.Subscribe(customVariableKey(name), matcher, listenerID,
			WithOnMatch(publish), WithInitPaths(path))
		publish(path)
	})
	return nil
}

// UnwatchVariable drops listenerID from the custom variable name.
func (s *Session) UnwatchVariable(listenerID, name string) {
	s.withLock(func() {
		if s.registry.Unsubscribe(customVariableKey(name), listenerID) {
			delete(s.customVars, name)
		}
	})
}
