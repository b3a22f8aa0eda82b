// Package octoprint implements the OctoPrint device bridge for octobridge.
//
// The bridge maps symbolic printer operations (start a job, jog an axis,
// set a tool temperature) onto OctoPrint's JSON/HTTP API and keeps a set
// of state slots synchronised by polling.
//
//	┌──────────────┐  Host   ┌──────────────┐  HTTP/JSON  ┌───────────┐
//	│ host adapter │◄───────►│    Bridge    │◄───────────►│ OctoPrint │
//	└──────────────┘         └──────────────┘             └───────────┘
//
// # Components
//
//   - Transport: GET/POST with the X-Api-Key header and a bounded timeout
//   - Command table: command id → route, body, accepted value kind and the
//     meaning of a 409 reply
//   - Discovery: enumerates tool heads, bed and chamber and synthesizes
//     actual/target/offset temperature slots
//   - Registry and Poller: one GET per distinct route per cycle, key-path
//     extraction, values pushed to the host as they resolve
//   - Bridge: lifecycle, selected tool, ONLINE/OFFLINE/UNKNOWN status
//
// # Failure handling
//
// Nothing here is fatal. A 409 is an expected Conflict outcome, other
// non-2xx replies are DeviceError outcomes and network failures are
// TransportError outcomes. A route that fails during polling marks only
// its own slots unavailable. The coarse bridge status is the only failure
// state surfaced to the host.
//
// # Usage
//
//	bridge, err := octoprint.NewBridge(octoprint.BridgeOptions{
//	    Connection:   octoprint.Connection{Endpoint: "octopi.local", APIKey: key},
//	    PollInterval: 10 * time.Second,
//	    Host:         host,
//	})
//	if err != nil {
//	    return err
//	}
//	if err := bridge.Initialize(ctx); err != nil {
//	    return err
//	}
//	defer bridge.Dispose()
//
//	outcome := bridge.ExecuteCommand(ctx, octoprint.CmdToolTempTarget, octoprint.NumberValue(210))
package octoprint
