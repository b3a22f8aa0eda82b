package octoprint

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
)

// CommandID names a symbolic printer operation.
type CommandID string

// Command ids.
const (
	CmdJobStart   CommandID = "print_job_start"
	CmdJobCancel  CommandID = "print_job_cancel"
	CmdJobPause   CommandID = "print_job_pause"
	CmdJobResume  CommandID = "print_job_resume"
	CmdJogX       CommandID = "printer_jog_x"
	CmdJogY       CommandID = "printer_jog_y"
	CmdJogZ       CommandID = "printer_jog_z"
	CmdHomeX      CommandID = "printer_home_x"
	CmdHomeY      CommandID = "printer_home_y"
	CmdHomeZ      CommandID = "printer_home_z"
	CmdHomeXYZ    CommandID = "printer_home_xyz"
	CmdToolSelect CommandID = "printer_tool_select"
	CmdFlowrate   CommandID = "printer_tool_flowrate"

	CmdToolTempTarget    CommandID = "printer_tool_temp_target"
	CmdToolTempOffset    CommandID = "printer_tool_temp_offset"
	CmdBedTempTarget     CommandID = "printer_bed_temp_target"
	CmdBedTempOffset     CommandID = "printer_bed_temp_offset"
	CmdChamberTempTarget CommandID = "printer_chamber_temp_target"
	CmdChamberTempOffset CommandID = "printer_chamber_temp_offset"
)

// Device routes.
const (
	RouteJob       = "api/job"
	RoutePrinthead = "api/printer/printhead"
	RouteTool      = "api/printer/tool"
	RouteBed       = "api/printer/bed"
	RouteChamber   = "api/printer/chamber"
	RouteServer    = "api/server"
)

// Conflict meanings reported by OctoPrint's 409 replies.
const (
	conflictJobRunning      = "There is already a running print job."
	conflictNoJobToCancel   = "There is no running print job to cancel."
	conflictNoJobToPause    = "There is no print job to pause/resume/toggle."
	conflictNoPausedJob     = "There is no active print job that is currently paused."
	conflictNotOperationalP = "Printer is currently not operational or is printing."
	conflictNotOperational  = "Printer is currently not operational."
)

// bodyBuilder renders the POST body. tool is the selected tool index.
type bodyBuilder func(v Value, tool int) string

// CommandDescriptor is one row of the command table.
type CommandDescriptor struct {
	ID       CommandID
	Kind     ValueKind
	Route    string
	Conflict string

	build bodyBuilder

	// selectsTool marks the command that updates the selected tool.
	selectsTool bool
}

// Body renders the request body for v with tool as the selected tool.
func (d CommandDescriptor) Body(v Value, tool int) []byte {
	return []byte(d.build(v, tool))
}

func fixed(body string) bodyBuilder {
	return func(Value, int) string { return body }
}

// decimal renders the shortest exact form of a jog distance.
func decimal(v Value) string {
	return strconv.FormatFloat(v.Number, 'f', -1, 64)
}

// integer truncates toward zero. No range validation is applied.
func integer(v Value) int64 {
	return int64(math.Trunc(v.Number))
}

var commandTable = []CommandDescriptor{
	{ID: CmdJobStart, Kind: KindString, Route: RouteJob, Conflict: conflictJobRunning,
		build: fixed(`{ "command": "start" }`)},
	{ID: CmdJobCancel, Kind: KindString, Route: RouteJob, Conflict: conflictNoJobToCancel,
		build: fixed(`{ "command": "cancel" }`)},
	{ID: CmdJobPause, Kind: KindString, Route: RouteJob, Conflict: conflictNoJobToPause,
		build: fixed(`{ "command": "pause", "action": "pause" }`)},
	{ID: CmdJobResume, Kind: KindString, Route: RouteJob, Conflict: conflictNoPausedJob,
		build: fixed(`{ "command": "pause", "action": "resume" }`)},

	{ID: CmdJogX, Kind: KindNumber, Route: RoutePrinthead, Conflict: conflictNotOperationalP,
		build: func(v Value, _ int) string {
			return fmt.Sprintf(`{ "command": "jog", "x": %s, "y": 0, "z": 0 }`, decimal(v))
		}},
	{ID: CmdJogY, Kind: KindNumber, Route: RoutePrinthead, Conflict: conflictNotOperationalP,
		build: func(v Value, _ int) string {
			return fmt.Sprintf(`{ "command": "jog", "x": 0, "y": %s, "z": 0 }`, decimal(v))
		}},
	{ID: CmdJogZ, Kind: KindNumber, Route: RoutePrinthead, Conflict: conflictNotOperationalP,
		build: func(v Value, _ int) string {
			return fmt.Sprintf(`{ "command": "jog", "x": 0, "y": 0, "z": %s }`, decimal(v))
		}},

	{ID: CmdHomeX, Kind: KindString, Route: RoutePrinthead, Conflict: conflictNotOperationalP,
		build: fixed(`{ "command": "home", "axes": ["x"] }`)},
	{ID: CmdHomeY, Kind: KindString, Route: RoutePrinthead, Conflict: conflictNotOperationalP,
		build: fixed(`{ "command": "home", "axes": ["y"] }`)},
	{ID: CmdHomeZ, Kind: KindString, Route: RoutePrinthead, Conflict: conflictNotOperationalP,
		build: fixed(`{ "command": "home", "axes": ["z"] }`)},
	{ID: CmdHomeXYZ, Kind: KindString, Route: RoutePrinthead, Conflict: conflictNotOperationalP,
		build: fixed(`{ "command": "home", "axes": ["x", "y", "z"] }`)},

	{ID: CmdToolSelect, Kind: KindNumber, Route: RouteTool, Conflict: conflictNotOperationalP, selectsTool: true,
		build: func(v Value, _ int) string {
			return fmt.Sprintf(`{ "command": "select", "tool": "tool%d"}`, integer(v))
		}},
	{ID: CmdFlowrate, Kind: KindNumber, Route: RouteTool, Conflict: conflictNotOperational,
		build: func(v Value, _ int) string {
			return fmt.Sprintf(`{ "command": "flowrate", "factor": %d}`, integer(v))
		}},
	{ID: CmdToolTempTarget, Kind: KindNumber, Route: RouteTool, Conflict: conflictNotOperational,
		build: func(v Value, tool int) string {
			return fmt.Sprintf(`{ "command": "target", "tools": {"tool%d": %d} }`, tool, integer(v))
		}},
	{ID: CmdToolTempOffset, Kind: KindNumber, Route: RouteTool, Conflict: conflictNotOperational,
		build: func(v Value, tool int) string {
			return fmt.Sprintf(`{ "command": "offset", "tools": {"tool%d": %d} }`, tool, integer(v))
		}},

	{ID: CmdBedTempTarget, Kind: KindNumber, Route: RouteBed, Conflict: conflictNotOperational,
		build: func(v Value, _ int) string {
			return fmt.Sprintf(`{ "command": "target", "target": %d }`, integer(v))
		}},
	{ID: CmdBedTempOffset, Kind: KindNumber, Route: RouteBed, Conflict: conflictNotOperational,
		build: func(v Value, _ int) string {
			return fmt.Sprintf(`{ "command": "offset", "offset": %d }`, integer(v))
		}},
	{ID: CmdChamberTempTarget, Kind: KindNumber, Route: RouteChamber, Conflict: conflictNotOperational,
		build: func(v Value, _ int) string {
			return fmt.Sprintf(`{ "command": "target", "target": %d }`, integer(v))
		}},
	{ID: CmdChamberTempOffset, Kind: KindNumber, Route: RouteChamber, Conflict: conflictNotOperational,
		build: func(v Value, _ int) string {
			return fmt.Sprintf(`{ "command": "offset", "offset": %d }`, integer(v))
		}},
}

var commandIndex = func() map[CommandID]CommandDescriptor {
	m := make(map[CommandID]CommandDescriptor, len(commandTable))
	for _, d := range commandTable {
		m[d.ID] = d
	}
	return m
}()

// LookupCommand returns the descriptor for id.
func LookupCommand(id CommandID) (CommandDescriptor, bool) {
	d, ok := commandIndex[id]
	return d, ok
}

// Commands returns the command table in its fixed order.
func Commands() []CommandDescriptor {
	out := make([]CommandDescriptor, len(commandTable))
	copy(out, commandTable)
	return out
}

// OutcomeKind classifies the result of a command.
type OutcomeKind int

const (
	OutcomeAccepted OutcomeKind = iota
	OutcomeConflict
	OutcomeDeviceError
	OutcomeUnknownCommand
	OutcomeIgnored
	OutcomeTransportError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeConflict:
		return "conflict"
	case OutcomeDeviceError:
		return "device_error"
	case OutcomeUnknownCommand:
		return "unknown_command"
	case OutcomeIgnored:
		return "ignored"
	case OutcomeTransportError:
		return "transport_error"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome is the result of executing a command. Execute never returns a
// Go error; failures are described here.
type Outcome struct {
	Command CommandID
	Kind    OutcomeKind

	// Status is the HTTP status for Accepted, Conflict and DeviceError.
	Status int

	// Message is the conflict meaning or a short description.
	Message string

	// Body is the device reply for DeviceError.
	Body []byte

	// Err is set for TransportError.
	Err error
}

// OK reports whether the device accepted the command.
func (o Outcome) OK() bool {
	return o.Kind == OutcomeAccepted
}

// toolSelection is the bridge's selected tool index.
type toolSelection struct {
	mu    sync.Mutex
	index int
}

func (s *toolSelection) get() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

func (s *toolSelection) set(i int) {
	s.mu.Lock()
	s.index = i
	s.mu.Unlock()
}

// Translator executes table commands over a Transport.
type Translator struct {
	transport Transport
	tool      *toolSelection
	logger    Logger
}

func newTranslator(t Transport, tool *toolSelection, logger Logger) *Translator {
	return &Translator{transport: t, tool: tool, logger: loggerOrNop(logger)}
}

// Execute looks up id, checks the value kind, posts the body and
// interprets the reply.
func (tr *Translator) Execute(ctx context.Context, id CommandID, v Value) Outcome {
	desc, ok := LookupCommand(id)
	if !ok {
		tr.logger.Warn("unknown command", "command", string(id))
		return Outcome{Command: id, Kind: OutcomeUnknownCommand, Message: "unknown command"}
	}

	if v.Unavailable || v.Kind != desc.Kind {
		tr.logger.Debug("command value kind mismatch, ignoring",
			"command", string(id), "want", desc.Kind.String(), "got", v.Kind.String())
		return Outcome{Command: id, Kind: OutcomeIgnored,
			Message: fmt.Sprintf("command accepts a %s value", desc.Kind)}
	}

	if desc.selectsTool {
		tr.tool.set(int(integer(v)))
	}

	resp, err := tr.transport.Post(ctx, desc.Route, desc.Body(v, tr.tool.get()))
	if err != nil {
		tr.logger.Error("command request failed", "command", string(id), "route", desc.Route, "error", err)
		return Outcome{Command: id, Kind: OutcomeTransportError, Message: err.Error(), Err: err}
	}

	switch {
	case resp.Status >= http.StatusOK && resp.Status < http.StatusMultipleChoices:
		tr.logger.Debug("command accepted", "command", string(id), "status", resp.Status)
		return Outcome{Command: id, Kind: OutcomeAccepted, Status: resp.Status}
	case resp.Status == http.StatusConflict:
		tr.logger.Warn("command conflict", "command", string(id), "reason", desc.Conflict)
		return Outcome{Command: id, Kind: OutcomeConflict, Status: resp.Status, Message: desc.Conflict}
	default:
		tr.logger.Error("command rejected by printer",
			"command", string(id), "status", resp.Status, "body", truncate(resp.Body, 256))
		return Outcome{Command: id, Kind: OutcomeDeviceError, Status: resp.Status,
			Message: http.StatusText(resp.Status), Body: resp.Body}
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "…"
}
