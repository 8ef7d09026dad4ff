// Package audit records who sent which command to the device.
//
// The API writes one entry per write request (set, raw command, action,
// recording start and stop) with the token subject and role and the
// outcome. Entries live in the audit_logs table next to the recorded
// actions and are read back through GET /api/v1/audit.
package audit
