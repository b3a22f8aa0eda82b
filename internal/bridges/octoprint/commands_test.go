package octoprint

import (
	"context"
	"errors"
	"net/http"
	"testing"
)

func newTestTranslator(t Transport) (*Translator, *toolSelection) {
	sel := &toolSelection{}
	return newTranslator(t, sel, nil), sel
}

func TestCommandTable_Bodies(t *testing.T) {
	tests := []struct {
		id    CommandID
		value Value
		tool  int
		route string
		body  string
	}{
		{CmdJobStart, StringValue("x"), 0, RouteJob, `{ "command": "start" }`},
		{CmdJobCancel, StringValue("x"), 0, RouteJob, `{ "command": "cancel" }`},
		{CmdJobPause, StringValue("x"), 0, RouteJob, `{ "command": "pause", "action": "pause" }`},
		{CmdJobResume, StringValue("x"), 0, RouteJob, `{ "command": "pause", "action": "resume" }`},
		{CmdJogX, NumberValue(10), 0, RoutePrinthead, `{ "command": "jog", "x": 10, "y": 0, "z": 0 }`},
		{CmdJogY, NumberValue(-2.5), 0, RoutePrinthead, `{ "command": "jog", "x": 0, "y": -2.5, "z": 0 }`},
		{CmdJogZ, NumberValue(0.1), 0, RoutePrinthead, `{ "command": "jog", "x": 0, "y": 0, "z": 0.1 }`},
		{CmdHomeX, StringValue("x"), 0, RoutePrinthead, `{ "command": "home", "axes": ["x"] }`},
		{CmdHomeY, StringValue("x"), 0, RoutePrinthead, `{ "command": "home", "axes": ["y"] }`},
		{CmdHomeZ, StringValue("x"), 0, RoutePrinthead, `{ "command": "home", "axes": ["z"] }`},
		{CmdHomeXYZ, StringValue("x"), 0, RoutePrinthead, `{ "command": "home", "axes": ["x", "y", "z"] }`},
		{CmdToolSelect, NumberValue(1.9), 0, RouteTool, `{ "command": "select", "tool": "tool1"}`},
		{CmdFlowrate, NumberValue(95.7), 0, RouteTool, `{ "command": "flowrate", "factor": 95}`},
		{CmdToolTempTarget, NumberValue(210), 2, RouteTool, `{ "command": "target", "tools": {"tool2": 210} }`},
		{CmdToolTempOffset, NumberValue(-5.5), 0, RouteTool, `{ "command": "offset", "tools": {"tool0": -5} }`},
		{CmdBedTempTarget, NumberValue(60), 0, RouteBed, `{ "command": "target", "target": 60 }`},
		{CmdBedTempOffset, NumberValue(3), 0, RouteBed, `{ "command": "offset", "offset": 3 }`},
		{CmdChamberTempTarget, NumberValue(45), 0, RouteChamber, `{ "command": "target", "target": 45 }`},
		{CmdChamberTempOffset, NumberValue(-1), 0, RouteChamber, `{ "command": "offset", "offset": -1 }`},
	}

	if len(tests) != len(Commands()) {
		t.Fatalf("table has %d commands, test covers %d", len(Commands()), len(tests))
	}

	for _, tt := range tests {
		t.Run(string(tt.id), func(t *testing.T) {
			d, ok := LookupCommand(tt.id)
			if !ok {
				t.Fatalf("LookupCommand(%q) not found", tt.id)
			}
			if d.Route != tt.route {
				t.Errorf("Route = %q, want %q", d.Route, tt.route)
			}
			if d.Kind != tt.value.Kind {
				t.Errorf("Kind = %v, want %v", d.Kind, tt.value.Kind)
			}
			if got := string(d.Body(tt.value, tt.tool)); got != tt.body {
				t.Errorf("Body() = %s\nwant     %s", got, tt.body)
			}
			if d.Conflict == "" {
				t.Error("Conflict meaning is empty")
			}
		})
	}
}

func TestCommands_StableOrder(t *testing.T) {
	a, b := Commands(), Commands()
	for i := range a {
		if a[i].ID != b[i].ID {
			t.Fatalf("order differs at %d: %s vs %s", i, a[i].ID, b[i].ID)
		}
	}
	if a[0].ID != CmdJobStart {
		t.Errorf("first command = %s, want %s", a[0].ID, CmdJobStart)
	}
}

func TestTranslator_Accepted(t *testing.T) {
	for _, status := range []int{http.StatusOK, http.StatusNoContent, http.StatusAccepted} {
		ft := newFakeTransport()
		ft.replies[RouteJob] = Response{Status: status}
		tr, _ := newTestTranslator(ft)

		o := tr.Execute(context.Background(), CmdJobStart, StringValue("go"))
		if o.Kind != OutcomeAccepted || !o.OK() {
			t.Errorf("status %d: outcome = %v, want accepted", status, o.Kind)
		}
		if o.Status != status {
			t.Errorf("Outcome.Status = %d, want %d", o.Status, status)
		}
	}
}

func TestTranslator_ConflictOnJobStart(t *testing.T) {
	p := newFakePrinter(t)
	p.on("POST", RouteJob, 409, "")
	tr, _ := newTestTranslator(p.transport())

	o := tr.Execute(context.Background(), CmdJobStart, StringValue("start"))
	if o.Kind != OutcomeConflict {
		t.Fatalf("Kind = %v, want conflict", o.Kind)
	}
	if o.Message != "There is already a running print job." {
		t.Errorf("Message = %q", o.Message)
	}
	reqs := p.getRequests()
	if len(reqs) != 1 || reqs[0].body != `{ "command": "start" }` {
		t.Errorf("requests = %+v", reqs)
	}
}

func TestTranslator_ConflictMeanings(t *testing.T) {
	tests := []struct {
		id   CommandID
		v    Value
		want string
	}{
		{CmdJobCancel, StringValue("x"), "There is no running print job to cancel."},
		{CmdJobPause, StringValue("x"), "There is no print job to pause/resume/toggle."},
		{CmdJobResume, StringValue("x"), "There is no active print job that is currently paused."},
		{CmdJogX, NumberValue(1), "Printer is currently not operational or is printing."},
		{CmdToolSelect, NumberValue(1), "Printer is currently not operational or is printing."},
		{CmdFlowrate, NumberValue(100), "Printer is currently not operational."},
		{CmdBedTempTarget, NumberValue(60), "Printer is currently not operational."},
	}
	for _, tt := range tests {
		t.Run(string(tt.id), func(t *testing.T) {
			d, _ := LookupCommand(tt.id)
			ft := newFakeTransport()
			ft.replies[d.Route] = Response{Status: http.StatusConflict}
			tr, _ := newTestTranslator(ft)

			o := tr.Execute(context.Background(), tt.id, tt.v)
			if o.Kind != OutcomeConflict || o.Message != tt.want {
				t.Errorf("outcome = %v %q, want conflict %q", o.Kind, o.Message, tt.want)
			}
		})
	}
}

func TestTranslator_KindMismatchSendsNothing(t *testing.T) {
	p := newFakePrinter(t)
	tr, _ := newTestTranslator(p.transport())

	o := tr.Execute(context.Background(), CmdJobStart, NumberValue(1))
	if o.Kind != OutcomeIgnored {
		t.Errorf("Kind = %v, want ignored", o.Kind)
	}
	o = tr.Execute(context.Background(), CmdBedTempTarget, StringValue("60"))
	if o.Kind != OutcomeIgnored {
		t.Errorf("Kind = %v, want ignored", o.Kind)
	}
	o = tr.Execute(context.Background(), CmdBedTempTarget, UnavailableValue(KindNumber))
	if o.Kind != OutcomeIgnored {
		t.Errorf("unavailable value: Kind = %v, want ignored", o.Kind)
	}

	if n := len(p.getRequests()); n != 0 {
		t.Errorf("requests sent = %d, want 0", n)
	}
}

func TestTranslator_UnknownCommand(t *testing.T) {
	ft := newFakeTransport()
	tr, _ := newTestTranslator(ft)

	o := tr.Execute(context.Background(), "printer_fly", StringValue("up"))
	if o.Kind != OutcomeUnknownCommand {
		t.Errorf("Kind = %v, want unknown_command", o.Kind)
	}
	if len(ft.getPosts()) != 0 {
		t.Error("unknown command should not send a request")
	}
}

func TestTranslator_DeviceError(t *testing.T) {
	ft := newFakeTransport()
	ft.replies[RouteBed] = Response{Status: http.StatusBadRequest, Body: []byte(`{"error":"bad target"}`)}
	tr, _ := newTestTranslator(ft)

	o := tr.Execute(context.Background(), CmdBedTempTarget, NumberValue(999))
	if o.Kind != OutcomeDeviceError {
		t.Fatalf("Kind = %v, want device_error", o.Kind)
	}
	if o.Status != http.StatusBadRequest {
		t.Errorf("Status = %d, want 400", o.Status)
	}
	if string(o.Body) != `{"error":"bad target"}` {
		t.Errorf("Body = %q", o.Body)
	}
}

func TestTranslator_TransportError(t *testing.T) {
	ft := newFakeTransport()
	ft.errs[RouteJob] = errors.New("connection refused")
	tr, _ := newTestTranslator(ft)

	o := tr.Execute(context.Background(), CmdJobCancel, StringValue("x"))
	if o.Kind != OutcomeTransportError {
		t.Fatalf("Kind = %v, want transport_error", o.Kind)
	}
	if !errors.Is(o.Err, ErrTransport) {
		t.Errorf("Err = %v, want ErrTransport", o.Err)
	}
}

func TestTranslator_ToolSelection(t *testing.T) {
	p := newFakePrinter(t)
	p.on("POST", RouteTool, 204, "")
	tr, sel := newTestTranslator(p.transport())
	ctx := context.Background()

	o := tr.Execute(ctx, CmdToolTempTarget, NumberValue(200))
	if o.Kind != OutcomeAccepted {
		t.Fatalf("target before select: %v", o.Kind)
	}

	tr.Execute(ctx, CmdToolSelect, NumberValue(2))
	if sel.get() != 2 {
		t.Errorf("selected tool = %d, want 2", sel.get())
	}
	tr.Execute(ctx, CmdToolTempTarget, NumberValue(210))
	tr.Execute(ctx, CmdToolTempOffset, NumberValue(-3))

	want := []string{
		`{ "command": "target", "tools": {"tool0": 200} }`,
		`{ "command": "select", "tool": "tool2"}`,
		`{ "command": "target", "tools": {"tool2": 210} }`,
		`{ "command": "offset", "tools": {"tool2": -3} }`,
	}
	reqs := p.getRequests()
	if len(reqs) != len(want) {
		t.Fatalf("requests = %d, want %d", len(reqs), len(want))
	}
	for i, w := range want {
		if reqs[i].body != w {
			t.Errorf("request %d body = %s, want %s", i, reqs[i].body, w)
		}
	}
}

func TestTranslator_SelectStoredEvenWhenRejected(t *testing.T) {
	ft := newFakeTransport()
	ft.replies[RouteTool] = Response{Status: http.StatusConflict}
	tr, sel := newTestTranslator(ft)

	o := tr.Execute(context.Background(), CmdToolSelect, NumberValue(1))
	if o.Kind != OutcomeConflict {
		t.Fatalf("Kind = %v, want conflict", o.Kind)
	}
	if sel.get() != 1 {
		t.Errorf("selected tool = %d, want 1", sel.get())
	}
}

func TestOutcomeKind_String(t *testing.T) {
	tests := map[OutcomeKind]string{
		OutcomeAccepted:       "accepted",
		OutcomeConflict:       "conflict",
		OutcomeDeviceError:    "device_error",
		OutcomeUnknownCommand: "unknown_command",
		OutcomeIgnored:        "ignored",
		OutcomeTransportError: "transport_error",
	}
	for k, want := range tests {
		if got := k.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(k), got, want)
		}
	}
}
