package directout

import (
	"encoding/json"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// GenericSetAction is the action recorded for changes no template covers.
const GenericSetAction = "set_custom_value"

// Boolean tokens used by recorded and executed action values.
const (
	TokenTrue   = "%%true%%"
	TokenFalse  = "%%false%%"
	TokenToggle = "%%toggle%%"
	TokenNext   = "%%next%%"
	TokenPrev   = "%%prev%%"
)

// RecordField names a value taken from a patch and the translation it
// passes through.
type RecordField struct {
	Name        string
	Translation string
}

// RecordOption is an option taken from a path segment.
type RecordOption struct {
	RecordField
	// Position is the zero-based segment index in the patch path.
	Position int
}

// RecordTemplate maps a path shape to a replayable action.
type RecordTemplate struct {
	Key      string
	ActionID string
	Primary  RecordField
	Options  []RecordOption

	pattern *regexp.Regexp
}

// NewRecordTemplate compiles key as a fully anchored pattern.
func NewRecordTemplate(key, actionID string, primary RecordField, options ...RecordOption) (RecordTemplate, error) {
	re, err := regexp.Compile("^" + key + "$")
	if err != nil {
		return RecordTemplate{}, err
	}
	return RecordTemplate{Key: key, ActionID: actionID, Primary: primary, Options: options, pattern: re}, nil
}

// Matches reports whether path has the template's shape.
func (t RecordTemplate) Matches(path string) bool {
	return t.pattern != nil && t.pattern.MatchString(path)
}

// RecordedAction is a replayable parameterised command reconstructed from
// observed state changes.
type RecordedAction struct {
	ID         string            `json:"id"`
	ActionID   string            `json:"action_id"`
	Options    map[string]Scalar `json:"options"`
	RecordedAt time.Time         `json:"recorded_at"`
}

// Recorder reverse-maps applied patches into recorded actions while
// recording is active.
//
// Recorder is not safe for concurrent use; the owning Session serialises
// access.
type Recorder struct {
	recording bool
	inhibit   bool
	templates []RecordTemplate
	emit      func(RecordedAction)
	now       func() time.Time
}

// NewRecorder returns an idle recorder that hands actions to emit.
func NewRecorder(emit func(RecordedAction)) *Recorder {
	return &Recorder{emit: emit, now: time.Now}
}

// SetRecording toggles recording and clears the suppression flag.
func (r *Recorder) SetRecording(on bool) {
	r.inhibit = false
	r.recording = on
}

// Recording reports whether recording is active.
func (r *Recorder) Recording() bool { return r.recording }

// SetTemplates replaces the ordered template list.
func (r *Recorder) SetTemplates(templates []RecordTemplate) {
	r.templates = templates
}

// Templates returns the ordered template list.
func (r *Recorder) Templates() []RecordTemplate { return r.templates }

// Inhibit suppresses the generic fallback for the next recorded patch.
func (r *Recorder) Inhibit() { r.inhibit = true }

// Inhibited reports whether the suppression flag is set.
func (r *Recorder) Inhibited() bool { return r.inhibit }

// Record emits an action built by a composite handler.
func (r *Recorder) Record(actionID string, options map[string]Scalar) {
	if r.emit == nil {
		return
	}
	r.emit(RecordedAction{
		ID:         uuid.NewString(),
		ActionID:   actionID,
		Options:    options,
		RecordedAt: r.now().UTC(),
	})
}

// RecordPatch records one applied patch. The suppression flag is consumed
// whether or not a fallback was due.
func (r *Recorder) RecordPatch(p Patch, tr *Translations) {
	if !r.recording {
		return
	}
	defer func() { r.inhibit = false }()

	if p.Op != OpReplace {
		return
	}

	for _, t := range r.templates {
		if !t.Matches(p.Path) {
			continue
		}
		r.Record(t.ActionID, r.templateOptions(t, p, tr))
		return
	}

	if r.inhibit {
		return
	}
	raw, err := json.Marshal(p.Value)
	if err != nil {
		raw = []byte("null")
	}
	r.Record(GenericSetAction, map[string]Scalar{
		"path":  StringValue(p.Path),
		"value": StringValue(string(raw)),
	})
}

func (r *Recorder) templateOptions(t RecordTemplate, p Patch, tr *Translations) map[string]Scalar {
	opts := make(map[string]Scalar, len(t.Options)+1)

	segs, _ := SplitPath(p.Path)
	for _, o := range t.Options {
		seg, ok := segmentAt(segs, o.Position)
		if !ok {
			opts[o.Name] = Null()
			continue
		}
		v, ok := tr.Translate(Incoming, o.Translation, seg)
		if !ok {
			v = Null()
		}
		opts[o.Name] = v
	}

	var value Scalar
	if leaf, ok := p.Scalar(); ok {
		v, found := tr.Translate(Incoming, t.Primary.Translation, leaf)
		if !found {
			v = Null()
		}
		value = v
	} else {
		raw, _ := json.Marshal(p.Value)
		value = StringValue(string(raw))
	}
	opts[t.Primary.Name] = tokenizeBool(value)
	return opts
}

func tokenizeBool(v Scalar) Scalar {
	if b, ok := v.Bool(); ok {
		if b {
			return StringValue(TokenTrue)
		}
		return StringValue(TokenFalse)
	}
	return v
}
