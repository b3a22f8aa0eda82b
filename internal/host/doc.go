// Package host connects the OctoPrint bridge to the rest of octobridge.
//
// The Adapter implements octoprint.Host. Discovered slots are persisted in
// the channel store and announced on MQTT; slot values and bridge status
// are published as retained MQTT messages, written to InfluxDB and
// broadcast to WebSocket clients. Commands arriving on
// octobridge/command/{bridge_id}/+ are executed by the bridge and
// acknowledged on octobridge/ack/{bridge_id}/{command}.
package host
