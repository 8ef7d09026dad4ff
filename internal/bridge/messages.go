package bridge

import (
	"time"

	"github.com/nerrad567/directout-bridge/internal/directout"
)

// ActionCommand runs a generated or static action.
// Topic: directout/{site}/command/action
type ActionCommand struct {
	// ID correlates the command with its ack. Optional.
	ID       string            `json:"id,omitempty"`
	ActionID string            `json:"action_id"`
	Options  directout.Options `json:"options"`
}

// SetCommand writes one value.
// Topic: directout/{site}/command/set
type SetCommand struct {
	ID    string           `json:"id,omitempty"`
	Path  string           `json:"path"`
	Value directout.Scalar `json:"value"`
	// Translation names an outgoing translation category. Optional.
	Translation string `json:"translation,omitempty"`
}

// AckStatus is the outcome of a command.
type AckStatus string

// Ack statuses.
const (
	AckAccepted AckStatus = "accepted"
	AckFailed   AckStatus = "failed"
)

// Error codes carried in failed acks.
const (
	ErrCodeInvalidPayload = "invalid_payload"
	ErrCodeNotReady       = "not_ready"
	ErrCodeNotConnected   = "not_connected"
	ErrCodeUnknownAction  = "unknown_action"
	ErrCodeInvalidValue   = "invalid_value"
	ErrCodeFailed         = "command_failed"
)

// AckMessage reports the result of a command.
// Topic: directout/{site}/ack
type AckMessage struct {
	CommandID string    `json:"command_id,omitempty"`
	Command   string    `json:"command"`
	Timestamp time.Time `json:"timestamp"`
	Status    AckStatus `json:"status"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError describes a failed command.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// VariableMessage is the retained value of one variable.
// Topic: directout/{site}/variable/{name}
type VariableMessage struct {
	Name      string    `json:"name"`
	Value     any       `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// RecordedMessage carries one recorded action.
// Topic: directout/{site}/recorded
type RecordedMessage struct {
	directout.RecordedAction
	Site string `json:"site"`
}

// HealthStatus is the bridge status published on the health topic.
type HealthStatus string

// Health statuses.
const (
	// HealthOnline means the device is connected and its snapshot loaded.
	HealthOnline HealthStatus = "online"
	// HealthDegraded means the bridge runs but the device is not ready.
	HealthDegraded HealthStatus = "degraded"
	// HealthStopping is published on shutdown.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is the retained bridge status.
// Topic: directout/{site}/health
type HealthMessage struct {
	Status        HealthStatus `json:"status"`
	Reason        string       `json:"reason,omitempty"`
	Site          string       `json:"site"`
	Version       string       `json:"version"`
	Timestamp     time.Time    `json:"timestamp"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	Device        DeviceHealth `json:"device"`
}

// DeviceHealth describes the router connection.
type DeviceHealth struct {
	Connection string               `json:"connection"`
	Ready      bool                 `json:"ready"`
	Info       directout.DeviceInfo `json:"info"`
}
