// Package metrics exposes the bridge's Prometheus collectors.
//
// Collectors live on a private registry served by Handler. Device
// activity reaches them through the session hooks returned by Hooks;
// the MQTT publisher and the WebSocket hub update their collectors
// directly.
package metrics
