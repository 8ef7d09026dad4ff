package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/directout-bridge/internal/directout"
	"github.com/nerrad567/directout-bridge/internal/infrastructure/mqtt"
)

// commandTimeout bounds one command sent to the device.
const commandTimeout = 5 * time.Second

// Publisher is the part of the MQTT client the bridge uses.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// Session is the part of the device session the bridge drives.
type Session interface {
	ExecuteAction(ctx context.Context, id string, opts directout.Options) error
	SendSet(ctx context.Context, path string, value directout.Scalar, category string) error
	Ready() bool
	DeviceInfo() directout.DeviceInfo
	VariableValues() map[string]any
}

// Logger is the logging interface the bridge needs.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Options configures a Bridge.
type Options struct {
	Site    string
	Version string
	QoS     byte

	// HealthInterval is how often the health message is refreshed.
	// Default: 30 seconds.
	HealthInterval time.Duration

	// OnPublish, if set, observes every publish by kind
	// ("variable", "recorded", "health", "ack").
	OnPublish func(kind string, err error)
}

// Bridge connects the device session to the broker. It publishes
// variables, recorded actions and health, and turns command messages into
// session calls.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	opts    Options
	topics  mqtt.Topics
	mqtt    Publisher
	session Session
	health  *HealthReporter
	logger  Logger

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// New returns a bridge. Call Start to subscribe to the command topics.
func New(opts Options, pub Publisher, session Session, logger Logger) (*Bridge, error) {
	if opts.Site == "" {
		return nil, errors.New("bridge: site id is required")
	}
	if pub == nil || session == nil {
		return nil, errors.New("bridge: publisher and session are required")
	}
	b := &Bridge{
		opts:    opts,
		topics:  mqtt.Topics{Site: opts.Site},
		mqtt:    pub,
		session: session,
		logger:  logger,
	}
	b.health = newHealthReporter(b, opts.HealthInterval)
	b.ctx, b.cancel = context.WithCancel(context.Background())
	return b, nil
}

// Start subscribes to the command topics, publishes the current variable
// values and starts health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	for _, topic := range []string{b.topics.CommandAction(), b.topics.CommandSet()} {
		if err := b.mqtt.Subscribe(topic, b.opts.QoS, b.handleMessage); err != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
	}
	for name, value := range b.session.VariableValues() {
		b.publishVariable(name, value)
	}
	b.health.Start(ctx)
	b.logInfo("bridge started", "site", b.opts.Site)
	return nil
}

// Stop publishes a final health status and cancels in-flight commands.
// Safe to call multiple times.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.cancel()
		b.health.Stop()
		b.logInfo("bridge stopped")
	})
}

// Hooks returns session hooks that publish to the broker, chained in
// front of next.
func (b *Bridge) Hooks(next directout.Hooks) directout.Hooks {
	out := next
	out.OnVariable = func(name string, value any) {
		b.publishVariable(name, value)
		if next.OnVariable != nil {
			next.OnVariable(name, value)
		}
	}
	out.OnRecorded = func(a directout.RecordedAction) {
		b.publishRecorded(a)
		if next.OnRecorded != nil {
			next.OnRecorded(a)
		}
	}
	out.OnConnState = func(state directout.ConnState, err error) {
		b.health.SetConnection(state)
		b.health.Publish()
		if next.OnConnState != nil {
			next.OnConnState(state, err)
		}
	}
	out.OnReady = func(info directout.DeviceInfo) {
		b.health.Publish()
		if next.OnReady != nil {
			next.OnReady(info)
		}
	}
	return out
}

// handleMessage routes one command message. Errors are reported on the
// ack topic; the returned error is only logged by the MQTT client.
func (b *Bridge) handleMessage(topic string, payload []byte) error {
	switch topic {
	case b.topics.CommandAction():
		b.handleAction(payload)
	case b.topics.CommandSet():
		b.handleSet(payload)
	default:
		return fmt.Errorf("unexpected topic %s", topic)
	}
	return nil
}

func (b *Bridge) handleAction(payload []byte) {
	var cmd ActionCommand
	if err := json.Unmarshal(payload, &cmd); err != nil || cmd.ActionID == "" {
		b.publishAck("action", cmd.ID, invalidPayload(err, "action_id is required"))
		return
	}
	b.logDebug("received action command", "command_id", cmd.ID, "action_id", cmd.ActionID)

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()
	err := b.session.ExecuteAction(ctx, cmd.ActionID, cmd.Options)
	b.publishAck("action", cmd.ID, err)
}

func (b *Bridge) handleSet(payload []byte) {
	var cmd SetCommand
	if err := json.Unmarshal(payload, &cmd); err != nil || cmd.Path == "" {
		b.publishAck("set", cmd.ID, invalidPayload(err, "path is required"))
		return
	}
	b.logDebug("received set command", "command_id", cmd.ID, "path", cmd.Path)

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()
	err := b.session.SendSet(ctx, cmd.Path, cmd.Value, cmd.Translation)
	b.publishAck("set", cmd.ID, err)
}

// payloadError marks a command that could not be decoded.
type payloadError struct{ msg string }

func (e payloadError) Error() string { return e.msg }

func invalidPayload(err error, missing string) error {
	if err != nil {
		return payloadError{msg: err.Error()}
	}
	return payloadError{msg: missing}
}

// errorCode maps a session error onto an ack error code.
func errorCode(err error) string {
	var pe payloadError
	switch {
	case errors.As(err, &pe):
		return ErrCodeInvalidPayload
	case errors.Is(err, directout.ErrNotReady):
		return ErrCodeNotReady
	case errors.Is(err, directout.ErrNotConnected):
		return ErrCodeNotConnected
	case errors.Is(err, directout.ErrUnknownAction):
		return ErrCodeUnknownAction
	case errors.Is(err, directout.ErrInvalidOption),
		errors.Is(err, directout.ErrInvalidPath),
		errors.Is(err, directout.ErrNotPrimitive),
		errors.Is(err, directout.ErrUntranslatable):
		return ErrCodeInvalidValue
	default:
		return ErrCodeFailed
	}
}

func (b *Bridge) publishAck(command, id string, err error) {
	ack := AckMessage{
		CommandID: id,
		Command:   command,
		Timestamp: time.Now().UTC(),
		Status:    AckAccepted,
	}
	if err != nil {
		ack.Status = AckFailed
		ack.Error = &AckError{Code: errorCode(err), Message: err.Error()}
		b.logWarn("command failed", "command", command, "command_id", id, "error", err)
	}
	b.publishJSON("ack", b.topics.Ack(), ack, false)
}

func (b *Bridge) publishVariable(name string, value any) {
	b.publishJSON("variable", b.topics.Variable(name), VariableMessage{
		Name:      name,
		Value:     value,
		Timestamp: time.Now().UTC(),
	}, true)
}

func (b *Bridge) publishRecorded(a directout.RecordedAction) {
	b.publishJSON("recorded", b.topics.Recorded(), RecordedMessage{RecordedAction: a, Site: b.opts.Site}, false)
}

func (b *Bridge) publishJSON(kind, topic string, v any, retained bool) {
	payload, err := json.Marshal(v)
	if err == nil {
		err = b.mqtt.Publish(topic, payload, b.opts.QoS, retained)
	}
	if err != nil && !errors.Is(err, mqtt.ErrNotConnected) {
		b.logError("publish failed", "topic", topic, "error", err)
	}
	if b.opts.OnPublish != nil {
		b.opts.OnPublish(kind, err)
	}
}

func (b *Bridge) logDebug(msg string, kv ...any) {
	if b.logger != nil {
		b.logger.Debug(msg, kv...)
	}
}

func (b *Bridge) logInfo(msg string, kv ...any) {
	if b.logger != nil {
		b.logger.Info(msg, kv...)
	}
}

func (b *Bridge) logWarn(msg string, kv ...any) {
	if b.logger != nil {
		b.logger.Warn(msg, kv...)
	}
}

func (b *Bridge) logError(msg string, kv ...any) {
	if b.logger != nil {
		b.logger.Error(msg, kv...)
	}
}
