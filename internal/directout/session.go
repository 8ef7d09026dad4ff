package directout

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
)

// Hooks receive the session's outbound events. Every hook is optional and
// runs after the session lock is released, in event order.
type Hooks struct {
	// OnVariable receives a variable whose value changed. value is a
	// Scalar or a *Node.
	OnVariable func(name string, value any)
	// OnRecorded receives each recorded action.
	OnRecorded func(RecordedAction)
	// OnFeedbacks receives feedback ids whose checks need re-running.
	OnFeedbacks func(ids []string)
	// OnReady runs once the root snapshot has been processed.
	OnReady func(DeviceInfo)
	// OnConnState receives transport status changes.
	OnConnState func(state ConnState, err error)
	// OnMessage counts processed inbound messages by type.
	OnMessage func(msgType string, patches int)
	// OnDropped counts discarded inbound lines.
	OnDropped func(reason string)
	// OnSent counts written commands by type.
	OnSent func(cmdType string)
}

// SessionConfig configures a Session.
type SessionConfig struct {
	Transport TransportConfig
	// Capabilities defaults to the embedded tables.
	Capabilities *Capabilities
	Hooks        Hooks
}

// Session is the live mirror of one device. It owns the state tree, the
// translation tables, the subscription registry, the recorder and the
// dispatcher. Inbound messages and API calls are serialised by one lock.
type Session struct {
	mu     sync.Mutex
	logger Logger
	caps   *Capabilities
	hooks  Hooks
	tcfg   TransportConfig

	transport  *Transport
	store      *Store
	tr         *Translations
	registry   *Registry
	recorder   *Recorder
	dispatcher *Dispatcher
	vars       *VariableStore

	device  DeviceType
	info    DeviceInfo
	ready   bool
	choices ChoiceLists
	params  []Parameter

	actions       map[string]*ActionDefinition
	actionOrder   []string
	feedbacks     map[string]*FeedbackDefinition
	feedbackOrder []string
	customVars    map[string]string

	lastChange *Change
	pending    []func()
}

// NewSession returns an unconnected session.
func NewSession(cfg SessionConfig, logger Logger) (*Session, error) {
	if logger == nil {
		logger = nopLogger{}
	}
	caps := cfg.Capabilities
	if caps == nil {
		var err error
		if caps, err = DefaultCapabilities(); err != nil {
			return nil, fmt.Errorf("loading capabilities: %w", err)
		}
	}
	s := &Session{
		logger:     logger,
		caps:       caps,
		hooks:      cfg.Hooks,
		tcfg:       cfg.Transport,
		store:      NewStore(),
		tr:         NewTranslations(),
		registry:   NewRegistry(),
		vars:       NewVariableStore(),
		actions:    make(map[string]*ActionDefinition),
		feedbacks:  make(map[string]*FeedbackDefinition),
		customVars: make(map[string]string),
	}
	s.recorder = NewRecorder(s.emitRecorded)
	s.dispatcher = NewDispatcher(nil, s.tr, logger)
	s.dispatcher.SetOnSent(s.hooks.OnSent)
	return s, nil
}

// withLock runs fn under the session lock and then delivers the events it
// queued.
func (s *Session) withLock(fn func()) {
	s.mu.Lock()
	fn()
	events := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, e := range events {
		e()
	}
}

func (s *Session) queue(fn func()) { s.pending = append(s.pending, fn) }

// Connect validates the host, closes any previous connection and starts a
// new one. The state tree is discarded; it is rebuilt from the root
// snapshot requested on connect.
func (s *Session) Connect(cfg TransportConfig) error {
	if err := ValidateHost(cfg.Host); err != nil {
		s.logger.Error("invalid host address", "host", cfg.Host)
		return err
	}

	s.mu.Lock()
	prev := s.transport
	s.transport = nil
	s.mu.Unlock()
	// The previous transport's goroutine takes the session lock, so it is
	// closed without holding it.
	if prev != nil {
		prev.Close()
	}

	t := NewTransport(cfg, s.logger)
	t.SetOnLine(s.HandleLine)
	t.SetOnConnect(s.onConnect)
	t.SetOnState(s.onState)

	var err error
	s.withLock(func() {
		s.tcfg = cfg
		s.transport = t
		s.store.Reset()
		s.ready = false
		s.dispatcher.SetSender(t)
		err = t.Start()
	})
	return err
}

// Start connects with the configured transport settings.
func (s *Session) Start() error {
	s.mu.Lock()
	cfg := s.tcfg
	s.mu.Unlock()
	return s.Connect(cfg)
}

// Close stops the connection.
func (s *Session) Close() error {
	s.mu.Lock()
	t := s.transport
	s.transport = nil
	s.ready = false
	s.mu.Unlock()
	if t == nil {
		return nil
	}
	return t.Close()
}

// Transport returns the current transport, or nil before Connect.
func (s *Session) Transport() *Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport
}

// onConnect discards the mirrored tree, requests the full tree again and
// enables push updates. It runs on every connect, including transport
// reconnects.
func (s *Session) onConnect() {
	s.withLock(func() {
		s.store.Reset()
		s.ready = false
		s.dispatcher.ResetSeq()
		ctx := context.Background()
		if _, err := s.dispatcher.SendCmd(ctx, GetCommand()); err != nil {
			s.logger.Error("requesting device state failed", "error", err)
			return
		}
		if _, err := s.dispatcher.SendCmd(ctx, CmdCommand("enable_auto_update")); err != nil {
			s.logger.Error("enabling auto update failed", "error", err)
		}
	})
}

func (s *Session) onState(state ConnState, err error) {
	if err != nil {
		s.logger.Warn("device connection status", "state", state.String(), "error", err)
	} else {
		s.logger.Info("device connection status", "state", state.String())
	}
	if s.hooks.OnConnState != nil {
		s.hooks.OnConnState(state, err)
	}
}

// HandleLine processes one inbound line. Malformed lines are logged and
// dropped.
func (s *Session) HandleLine(line []byte) {
	msg, err := ParseInbound(line)
	if err != nil {
		if errors.Is(err, errEmptyLine) {
			return
		}
		s.logger.Warn("dropping inbound line", "error", err)
		if s.hooks.OnDropped != nil {
			s.hooks.OnDropped("parse")
		}
		return
	}
	s.withLock(func() { s.handleMessage(msg) })
}

func (s *Session) handleMessage(msg Inbound) {
	patches := 0
	switch msg.Type {
	case MessageUpdate:
		patches = s.applyPatches(PayloadToPatches(msg.Payload))
	case MessageGetResp:
		if msg.IsRootSnapshot() {
			s.loadSnapshot(msg)
			break
		}
		path, ok := objPath(msg.Obj)
		if !ok {
			s.logger.Warn("get_resp with unusable obj", "obj", msg.Obj.Raw)
			break
		}
		patches = s.applyPatches([]Patch{{Op: OpReplace, Path: path, Value: nodeFromResult(msg.Payload)}})
	case MessageAck:
		s.logger.Debug("ack received")
	case MessageError:
		s.logger.Error("device reported an error", "payload", msg.Payload.Raw)
	default:
		s.logger.Warn("unknown message type", "type", msg.Type)
		if s.hooks.OnDropped != nil {
			fn := s.hooks.OnDropped
			s.queue(func() { fn("unknown_type") })
		}
		return
	}
	if s.hooks.OnMessage != nil {
		fn, typ, n := s.hooks.OnMessage, msg.Type, patches
		s.queue(func() { fn(typ, n) })
	}
}

// objPath converts a get_resp obj into a slash path.
func objPath(obj gjson.Result) (string, bool) {
	if obj.IsArray() {
		var segs []string
		for _, r := range obj.Array() {
			segs = append(segs, r.String())
		}
		return JoinPath(segs...), len(segs) > 0
	}
	if s := obj.String(); WellFormedPath(s) {
		return s, true
	}
	return "", false
}

// applyPatches applies patches in order, then dispatches each applied
// patch and runs at most one regeneration for the batch.
func (s *Session) applyPatches(patches []Patch) int {
	applied := make([]Patch, 0, len(patches))
	for _, p := range patches {
		if err := s.store.Apply(p); err != nil {
			s.logger.Warn("patch not applied", "op", string(p.Op), "path", p.Path, "error", err)
			continue
		}
		applied = append(applied, p)
	}

	var res DispatchResult
	for _, p := range applied {
		res.merge(s.registry.Dispatch(p.Path))
		if (p.Op == OpReplace || p.Op == OpAdd) && s.caps.Recordable(s.device, p.Path) {
			s.lastChange = &Change{Path: p.Path, Value: p.Value}
			s.recorder.RecordPatch(p, s.tr)
		}
	}
	if res.Regenerate && s.device != DeviceUnknown {
		s.regenerate()
	}
	s.queueFeedbacks(res.Feedbacks)
	return len(applied)
}

// loadSnapshot replaces the tree, resolves the device type and builds
// everything derived from it.
func (s *Session) loadSnapshot(msg Inbound) {
	s.store.Reset()
	if err := s.store.Merge(msg.Payload); err != nil {
		s.logger.Warn("root snapshot partially applied", "error", err)
	}

	info, ok := readDeviceInfo(s.store)
	if !ok {
		s.forgetDevice()
		s.logger.Error("could not read device type from root snapshot", "path", ModelPath)
		return
	}
	s.info = info
	s.logger.Info("device identified",
		"model", info.RawModel,
		"device_type", string(info.Model),
		"image_build", info.SystemBuild,
		"fpga", info.FPGAVersion,
		"cored_tag", info.CoredVersion,
		"serial_number", info.SerialNumber,
	)

	s.device = info.Model
	s.tr.Rebuild(s.caps, s.device)
	s.regenerate()

	if res := s.registry.RunInit(); res.Regenerate {
		s.regenerate()
	}
	s.ready = true

	if s.hooks.OnReady != nil {
		fn := s.hooks.OnReady
		s.queue(func() { fn(info) })
	}
	s.queueFeedbacks(append([]string(nil), s.feedbackOrder...))
}

// regenerate rebuilds choice lists and every generated definition.
// forgetDevice drops the device profile and everything generated from it.
// The state tree is kept.
func (s *Session) forgetDevice() {
	s.ready = false
	s.device = DeviceUnknown
	s.info = DeviceInfo{}
	s.tr.Clear()
	s.choices = nil
	s.params = nil
	s.registry.ClearSystem()
	s.vars.ResetDefinitions()
	clear(s.actions)
	clear(s.feedbacks)
	s.actionOrder = s.actionOrder[:0]
	s.feedbackOrder = s.feedbackOrder[:0]
	s.recorder.SetTemplates(nil)
	s.lastChange = nil
}

func (s *Session) regenerate() {
	s.choices = buildChoiceLists(s.caps, s.device, s.store)
	s.params = buildCatalog(catalogInput{
		device: s.device,
		lists:  s.choices,
		counts: s.caps.DeviceCounts(s.device),
		mixers: s.caps.Mixers(s.device),
	})

	s.registry.ClearSystem()
	s.vars.ResetDefinitions()
	s.installStaticSubscriptions()
	for name := range s.customVars {
		s.vars.Define(name, "Custom variable")
	}

	clear(s.actions)
	clear(s.feedbacks)
	s.actionOrder = s.actionOrder[:0]
	s.feedbackOrder = s.feedbackOrder[:0]
	for _, a := range s.staticActions() {
		s.addAction(a)
	}
	for _, f := range s.staticFeedbacks() {
		s.addFeedback(f)
	}

	var templates []RecordTemplate
	for _, p := range s.params {
		if p.Provides.Has(ProvidesAction) {
			s.addAction(parameterAction(p))
		}
		for _, pf := range p.Params {
			if p.Provides.Has(ProvidesFeedback) {
				s.addFeedback(parameterFeedback(p, pf))
			}
			if p.Provides.Has(ProvidesVariable) {
				s.installParameterVariables(p, pf)
			}
			if p.Provides.Has(ProvidesAction | ProvidesVariable) {
				t, err := parameterTemplate(p, pf)
				if err != nil {
					s.logger.Warn("record template not built", "parameter", p.Key, "error", err)
					continue
				}
				templates = append(templates, t)
			}
		}
	}
	s.recorder.SetTemplates(templates)
	s.logger.Debug("definitions regenerated",
		"actions", len(s.actions), "feedbacks", len(s.feedbacks), "templates", len(templates))
}

func (s *Session) addAction(a *ActionDefinition) {
	if _, dup := s.actions[a.ID]; !dup {
		s.actionOrder = append(s.actionOrder, a.ID)
	}
	s.actions[a.ID] = a
}

func (s *Session) addFeedback(f *FeedbackDefinition) {
	if _, dup := s.feedbacks[f.ID]; !dup {
		s.feedbackOrder = append(s.feedbackOrder, f.ID)
	}
	s.feedbacks[f.ID] = f
}

// parameterTemplate builds the record template of pf: each '*' becomes a
// segment capture feeding the option at the same position.
func parameterTemplate(p Parameter, pf ParamField) (RecordTemplate, error) {
	key := strings.ReplaceAll(regexp.QuoteMeta(pf.Path), `\*`, `([^/])+`)
	var opts []RecordOption
	for i, pos := range wildcardPositions(pf.Path) {
		if i >= len(p.Options) {
			return RecordTemplate{}, fmt.Errorf("%w: %s has more wildcards than options", ErrInvalidOption, pf.Path)
		}
		o := p.Options[i]
		opts = append(opts, RecordOption{RecordField: RecordField{Name: o.ID, Translation: o.Translation}, Position: pos})
	}
	return NewRecordTemplate(key, p.ActionID(), RecordField{Name: pf.ID, Translation: pf.Translation}, opts...)
}

func (s *Session) queueFeedbacks(ids []string) {
	if len(ids) == 0 || s.hooks.OnFeedbacks == nil {
		return
	}
	fn := s.hooks.OnFeedbacks
	s.queue(func() { fn(ids) })
}

func (s *Session) emitRecorded(a RecordedAction) {
	s.logger.Debug("action recorded", "action_id", a.ActionID)
	if s.hooks.OnRecorded != nil {
		fn := s.hooks.OnRecorded
		s.queue(func() { fn(a) })
	}
}

func (s *Session) setVariable(name string, value any) {
	if !s.vars.Set(name, value) || s.hooks.OnVariable == nil {
		return
	}
	fn := s.hooks.OnVariable
	s.queue(func() { fn(name, value) })
}

// getState reads a leaf, mapped through category when it is known.
func (s *Session) getState(path, category string) (Scalar, bool) {
	v, ok := s.store.Value(path)
	if !ok {
		s.logger.Debug("state not found", "path", path)
		return Null(), false
	}
	if category == "" || !s.tr.Has(category) {
		return v, true
	}
	out, ok := s.tr.Translate(Incoming, category, v)
	if !ok {
		return Null(), false
	}
	return out, true
}

// Ready reports whether the root snapshot identified the device.
func (s *Session) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// DeviceType returns the identified device type.
func (s *Session) DeviceType() DeviceType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device
}

// DeviceInfo returns the identification block of the root snapshot.
func (s *Session) DeviceInfo() DeviceInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// GetState returns the leaf at path, mapped through translation when it
// names a known category. Unresolvable paths and unmapped values return
// false.
func (s *Session) GetState(path, translation string) (Scalar, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getState(path, translation)
}

// Snapshot returns a copy of the subtree at path.
func (s *Session) Snapshot(path string) (*Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Snapshot(path)
}

// IsValidPath reports whether path is well formed and resolves.
func (s *Session) IsValidPath(path string) bool {
	if !WellFormedPath(path) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.store.Lookup(path)
	return ok
}

// Translate maps value through category.
func (s *Session) Translate(dir Direction, category string, value Scalar) (Scalar, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tr.Translate(dir, category, value)
}

// SendSet writes value to path, translated through category.
func (s *Session) SendSet(ctx context.Context, path string, value Scalar, category string) error {
	var err error
	s.withLock(func() { err = s.dispatcher.SendSet(ctx, path, value, category) })
	return err
}

// SendCmd frames and writes an arbitrary command.
func (s *Session) SendCmd(ctx context.Context, cmd any) (int, error) {
	var (
		seq int
		err error
	)
	s.withLock(func() { seq, err = s.dispatcher.SendCmd(ctx, cmd) })
	return seq, err
}

// Subscribe registers listenerID for changes matching matcher under key.
func (s *Session) Subscribe(key string, matcher *regexp.Regexp, listenerID string, opts ...SubscribeOption) {
	s.registry.Subscribe(key, matcher, listenerID, opts...)
}

// Unsubscribe removes listenerID from key.
func (s *Session) Unsubscribe(key, listenerID string) bool {
	return s.registry.Unsubscribe(key, listenerID)
}

// Subscriptions lists the registry entries.
func (s *Session) Subscriptions() []SubscriptionInfo {
	return s.registry.List()
}

// SetRecording toggles recording and clears the suppression flag.
func (s *Session) SetRecording(on bool) {
	s.withLock(func() {
		s.recorder.SetRecording(on)
		s.logger.Info("recording", "active", on)
	})
}

// Recording reports whether recording is active.
func (s *Session) Recording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recorder.Recording()
}

// LastChange returns the most recent recordable change.
func (s *Session) LastChange() (Change, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastChange == nil {
		return Change{}, false
	}
	return *s.lastChange, true
}

// Choices returns the dynamic choice lists.
func (s *Session) Choices() ChoiceLists {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.choices
}

// Templates returns the record templates of the connected device.
func (s *Session) Templates() []RecordTemplate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recorder.Templates()
}

// Translations returns the names of the built translation categories.
func (s *Session) Translations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tr.Categories()
}

// Seq returns the next sequence number.
func (s *Session) Seq() int {
	return s.dispatcher.Seq()
}
