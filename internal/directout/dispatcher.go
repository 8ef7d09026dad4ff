package directout

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tidwall/sjson"
)

// MaxSeq is the largest sequence number the device accepts. The counter
// wraps to 0 once it exceeds this value.
const MaxSeq = 64353

// Wire command types.
const (
	CommandGet = "get"
	CommandCmd = "cmd"
	CommandSet = "set"
)

// Command is an outbound message. Seq is injected by the dispatcher.
type Command struct {
	Type    string  `json:"type"`
	Obj     []any   `json:"obj,omitempty"`
	Payload *Scalar `json:"payload,omitempty"`
}

// GetCommand requests the full tree.
func GetCommand() Command { return Command{Type: CommandGet} }

// CmdCommand runs a named device command.
func CmdCommand(name string) Command {
	p := StringValue(name)
	return Command{Type: CommandCmd, Payload: &p}
}

// Sender writes framed lines to the device.
type Sender interface {
	SendLine(ctx context.Context, line []byte) error
	IsConnected() bool
}

// Dispatcher frames commands with sequence numbers and translates set
// requests into wire values.
type Dispatcher struct {
	mu     sync.Mutex
	seq    int
	sender Sender
	tr     *Translations
	logger Logger
	onSent func(cmdType string)
}

// NewDispatcher returns a dispatcher writing to sender.
func NewDispatcher(sender Sender, tr *Translations, logger Logger) *Dispatcher {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Dispatcher{sender: sender, tr: tr, logger: logger}
}

// SetOnSent registers a hook called after each successful write.
func (d *Dispatcher) SetOnSent(fn func(cmdType string)) {
	d.mu.Lock()
	d.onSent = fn
	d.mu.Unlock()
}

// SetSender replaces the connection commands are written to and resets
// the sequence counter.
func (d *Dispatcher) SetSender(sender Sender) {
	d.mu.Lock()
	d.sender = sender
	d.seq = 0
	d.mu.Unlock()
}

// ResetSeq sets the sequence counter back to 0.
func (d *Dispatcher) ResetSeq() {
	d.mu.Lock()
	d.seq = 0
	d.mu.Unlock()
}

// Seq returns the number the next command will carry, before wrapping.
func (d *Dispatcher) Seq() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seq
}

// SendCmd encodes v, injects the next sequence number and writes the line.
// It returns the sequence number used.
func (d *Dispatcher) SendCmd(ctx context.Context, v any) (int, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("encoding command: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sender == nil || !d.sender.IsConnected() {
		d.logger.Error("socket is not connected")
		return 0, ErrNotConnected
	}
	if d.seq > MaxSeq {
		d.seq = 0
	}
	seq := d.seq
	framed, err := sjson.SetBytes(raw, "seq", seq)
	if err != nil {
		return 0, fmt.Errorf("injecting seq: %w", err)
	}
	d.seq++

	if err := d.sender.SendLine(ctx, framed); err != nil {
		return seq, err
	}
	if d.onSent != nil {
		cmdType := "unknown"
		if c, ok := v.(Command); ok {
			cmdType = c.Type
		}
		d.onSent(cmdType)
	}
	return seq, nil
}

// SendSet writes value to the slash path. Numeric segments become
// integer indices on the wire.
func (d *Dispatcher) SendSet(ctx context.Context, path string, value Scalar, category string) error {
	segs, err := SplitPath(path)
	if err != nil || len(segs) == 0 {
		d.logger.Error("invalid path for set command", "path", path)
		return fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	return d.SendSetSegments(ctx, segmentsToWire(segs), value, category)
}

// SendSetSegments writes value to a pre-split path.
func (d *Dispatcher) SendSetSegments(ctx context.Context, obj []any, value Scalar, category string) error {
	if !value.IsPrimitive() {
		d.logger.Error("invalid value type for set command", "obj", obj)
		return ErrNotPrimitive
	}
	val := value
	if category != "" && d.tr.Has(category) {
		out, ok := d.tr.Translate(Outgoing, category, value)
		if !ok || !out.IsPrimitive() {
			d.logger.Error("invalid value type for set command after translation",
				"translation", category, "value", value.String())
			return fmt.Errorf("%w: %s in %s", ErrUntranslatable, value.String(), category)
		}
		val = out
	}
	_, err := d.SendCmd(ctx, Command{Type: CommandSet, Obj: obj, Payload: &val})
	return err
}
