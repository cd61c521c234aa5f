// Package proflame implements the Proflame WiFi fireplace bridge.
//
// The fireplace controller speaks a small text protocol over a websocket on
// port 88. This package holds a persistent session to it and translates
// between the controller's flat attribute vector and the rest of the system.
//
// # Architecture
//
//	┌─────────────────┐          ┌─────────────────┐  websocket  ┌────────────┐
//	│  MQTT / HTTP    │◄────────►│  Proflame Bridge│◄───────────►│ Fireplace  │
//	│   consumers     │          │   (this pkg)    │   :88       │ controller │
//	└─────────────────┘          └─────────────────┘             └────────────┘
//
// # Wire Protocol
//
// All frames are text frames:
//
//   - client → device "PROFLAMECONNECTION": handshake, once per session
//   - device → client "PROFLAMECONNECTIONOPEN": handshake acknowledgement
//   - client → device "PROFLAMEPING": keepalive, every 5 seconds
//   - device → client "PROFLAMEPONG": keepalive reply
//   - device → client {"key": int, ...}: attribute delta, applied in order
//   - client → device {"key": int}: single attribute write
//
// # Layers
//
//   - Client: connection manager, command queue, state store, subscribers
//   - Fireplace: presets, remembered values, temperature units
//   - Bridge: MQTT commands, acks, state and health publication
//
// State is write-through: SetState only queues a write, and the store changes
// when the controller echoes the new value back.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package proflame
