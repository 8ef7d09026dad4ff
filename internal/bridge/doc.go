// Package bridge connects a DirectOut device session to an MQTT broker.
//
// Outbound, it publishes under directout/{site}/:
//   - variable/{name}: retained variable values, refreshed on every change
//   - recorded: each action the recorder emits
//   - health: retained bridge and device status
//   - ack: the result of every command
//
// Inbound, command/action runs an action ({"action_id", "options"}) and
// command/set writes one value ({"path", "value", "translation"}).
//
// The bridge is wired into the session through Hooks; handlers run on the
// MQTT client's goroutines, which recover from panics.
package bridge
