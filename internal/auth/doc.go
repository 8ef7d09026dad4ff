// Package auth issues and checks the bearer tokens that guard the HTTP
// API.
//
// API clients (control surfaces, show-control software, operators'
// laptops) receive HS256 JWTs minted with the configured secret. A token
// carries one of three roles, and each role maps to a fixed permission
// set:
//
//	viewer    state:read
//	operator  state:read, device:operate
//	admin     state:read, device:operate, device:raw, recording:manage
//
// Tokens are validated by signature and expiry only; there is no user
// store.
package auth
