// Package infra holds the adapters behind the core interfaces: stores,
// the websocket hub, broker relays, metrics exporters, MQTT telemetry,
// fixtures and reports. Core packages never import infra.
package infra
