// Package directout is a client for DirectOut audio routers (PRODIGY and
// MAVEN families).
//
// A Session keeps a live mirror of the device's configuration and status
// tree over the device's line-delimited JSON protocol (TCP port 5003) and
// exposes it to many consumers through path subscriptions.
//
// # Architecture
//
//	┌──────────┐ lines ┌──────────┐ patches ┌──────────┐ paths ┌──────────────┐
//	│Transport │──────►│ Session  │────────►│  Store   │──────►│   Registry   │
//	└──────────┘       └──────────┘         └──────────┘       └──────────────┘
//	      ▲                 │                                        │
//	      │ set/cmd         ▼                                        ▼
//	┌──────────┐      ┌──────────┐                          variables, feedbacks,
//	│Dispatcher│◄─────│ Actions  │                          Recorder
//	└──────────┘      └──────────┘
//
// # Update notation
//
// The device sends sparse updates. Inside an update payload an array is an
// index-patch list ([[idx, value], ...]) only when every element is a
// two-element array whose first element is a number; any other array is a
// literal value. PayloadToPatches turns a payload into replace patches,
// which Store.Apply writes, creating or retyping containers on the way.
//
// # Translation
//
// Device elements are numbered internally. Translations maps those raw
// numbers to stable semantic ids such as "in_slot1_3" per category; the
// tables are rebuilt from capabilities.yaml once the root snapshot has
// identified the device type.
//
// # Recording
//
// While recording, every replace patch is matched against the record
// templates generated from the parameter catalog and turned back into a
// replayable action. Unmatched patches become a generic set_custom_value
// action unless a composite handler suppressed it.
//
// # Thread Safety
//
// Session is safe for concurrent use. Inbound lines are processed one at
// a time in arrival order; Store, Translations and Recorder are owned by
// the session and are not safe on their own.
package directout
