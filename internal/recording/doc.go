// Package recording keeps the actions the device session records.
//
// A Service turns the session's recorder on and off and groups what it
// emits into recording sessions identified by a UUID. With persistence
// enabled each action is written to the recorded_actions table through
// Repository, so a show's programming survives a restart of the bridge.
//
// # Thread Safety
//
// Repository and Service are safe for concurrent use. Service.Handle runs
// on the device session's event path and bounds each insert with a short
// timeout.
package recording
