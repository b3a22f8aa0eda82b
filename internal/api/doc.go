// Package api implements the HTTP REST API and WebSocket server for octobridge.
//
// This package provides:
//   - REST endpoints for materialized slots, the command table and command execution
//   - WebSocket hub for real-time slot and bridge status broadcasts
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// The API server sits beside the MQTT bus as a second way into the bridge.
// Commands posted here go straight to the OctoPrint bridge and answer with the
// same acknowledgement MQTT clients receive. Slot values come from the host
// adapter's latest-value cache; the adapter also broadcasts changes on the hub.
//
// # Graceful Degradation
//
// The server operates without MQTT. Reads, commands and WebSocket connections
// all work; /metrics reports the bus as disconnected.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
