package host

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/octoprint-bridge/internal/bridges/octoprint"
	"github.com/nerrad567/octoprint-bridge/internal/channel"
	"github.com/nerrad567/octoprint-bridge/internal/infrastructure/config"
	"github.com/nerrad567/octoprint-bridge/internal/infrastructure/database"
	"github.com/nerrad567/octoprint-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/octoprint-bridge/internal/infrastructure/mqtt"
	_ "github.com/nerrad567/octoprint-bridge/migrations"
)

// ─── Mocks ─────────────────────────────────────────────────────────

type published struct {
	topic    string
	payload  []byte
	retained bool
}

type mockPublisher struct {
	mu         sync.Mutex
	messages   []published
	handlers   map[string]mqtt.MessageHandler
	subscribed []string
	publishErr error
}

func newMockPublisher() *mockPublisher {
	return &mockPublisher{handlers: make(map[string]mqtt.MessageHandler)}
}

func (m *mockPublisher) PublishJSON(topic string, v any, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.messages = append(m.messages, published{topic: topic, payload: payload, retained: retained})
	return nil
}

func (m *mockPublisher) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	m.subscribed = append(m.subscribed, topic)
	return nil
}

func (m *mockPublisher) Unsubscribe(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, topic)
	return nil
}

func (m *mockPublisher) on(topic string) []published {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []published
	for _, p := range m.messages {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}

func (m *mockPublisher) deliver(t *testing.T, pattern, topic string, payload string) error {
	t.Helper()
	m.mu.Lock()
	h, ok := m.handlers[pattern]
	m.mu.Unlock()
	if !ok {
		t.Fatalf("no handler subscribed on %s", pattern)
	}
	return h(topic, []byte(payload))
}

type slotPoint struct {
	slotID string
	value  float64
}

type mockSeries struct {
	mu       sync.Mutex
	points   []slotPoint
	cycles   int
	statuses []string
}

func (m *mockSeries) WriteSlotValue(_, slotID string, value float64, _ time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points = append(m.points, slotPoint{slotID: slotID, value: value})
}

func (m *mockSeries) WritePollCycle(string, int, int, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycles++
}

func (m *mockSeries) WriteStatus(_, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, status)
}

type broadcast struct {
	channel string
	payload any
}

type mockHub struct {
	mu     sync.Mutex
	events []broadcast
}

func (m *mockHub) Broadcast(channel string, payload any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, broadcast{channel: channel, payload: payload})
}

type executed struct {
	id    octoprint.CommandID
	value octoprint.Value
}

type mockExecutor struct {
	mu    sync.Mutex
	calls []executed
	kind  octoprint.OutcomeKind
}

func (m *mockExecutor) ExecuteCommand(_ context.Context, id octoprint.CommandID, v octoprint.Value) octoprint.Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, executed{id: id, value: v})
	o := octoprint.Outcome{Command: id, Kind: m.kind}
	if m.kind == octoprint.OutcomeConflict {
		o.Status = 409
		o.Message = "There is already a running print job."
	}
	return o
}

// ─── Helpers ───────────────────────────────────────────────────────

type fixture struct {
	adapter  *Adapter
	store    *channel.Store
	mqtt     *mockPublisher
	series   *mockSeries
	hub      *mockHub
	executor *mockExecutor
}

func newStore(t *testing.T) *channel.Store {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "host.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return channel.NewStore(channel.NewSQLiteRepository(db.DB), "workshop")
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store:    newStore(t),
		mqtt:     newMockPublisher(),
		series:   &mockSeries{},
		hub:      &mockHub{},
		executor: &mockExecutor{},
	}
	a, err := New(Options{
		Store:  f.store,
		MQTT:   f.mqtt,
		Influx: f.series,
		Hub:    f.hub,
		Logger: logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test"),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	a.SetExecutor(f.executor)
	f.adapter = a
	return f
}

func toolSlot() octoprint.SlotDescriptor {
	return octoprint.SlotDescriptor{
		ID:       "actual_temp_tool0",
		Route:    octoprint.RouteTool,
		KeyPath:  []string{"tool0", "actual"},
		Kind:     octoprint.KindNumber,
		Label:    "Actual Tool Temperature",
		Category: octoprint.TemperatureCategory,
		Pattern:  octoprint.TemperaturePattern,
	}
}

// ─── Constructor Tests ─────────────────────────────────────────────

func TestNew_RequiresStore(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("New() without store should fail")
	}
}

func TestAdapter_WithoutOptionalOutputs(t *testing.T) {
	a, err := New(Options{Store: newStore(t)})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := a.EnsureSlot(context.Background(), toolSlot()); err != nil {
		t.Fatalf("EnsureSlot() error = %v", err)
	}
	a.UpdateState("actual_temp_tool0", octoprint.NumberValue(21))
	a.ReportStatus(octoprint.StatusOnline, "")
	a.ObservePoll(octoprint.PollReport{RoutesFetched: 1})

	a.SetExecutor(&mockExecutor{})
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	a.Stop()
}

// ─── EnsureSlot Tests ──────────────────────────────────────────────

func TestEnsureSlot_CreatesAndAnnounces(t *testing.T) {
	f := newFixture(t)

	created, err := f.adapter.EnsureSlot(context.Background(), toolSlot())
	if err != nil || !created {
		t.Fatalf("EnsureSlot() = %v, %v; want true, nil", created, err)
	}

	ch, ok := f.store.Get("actual_temp_tool0")
	if !ok {
		t.Fatal("slot not persisted")
	}
	if ch.Kind != channel.KindNumber || ch.Route != octoprint.RouteTool || ch.Pattern != octoprint.TemperaturePattern {
		t.Errorf("stored channel = %+v", ch)
	}

	msgs := f.mqtt.on("octobridge/channel/workshop/actual_temp_tool0")
	if len(msgs) != 1 || !msgs[0].retained {
		t.Fatalf("channel announcements = %+v, want one retained", msgs)
	}
	var announced octoprint.ChannelMessage
	if err := json.Unmarshal(msgs[0].payload, &announced); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if announced.Bridge != "workshop" || announced.Slot.ID != "actual_temp_tool0" {
		t.Errorf("announcement = %+v", announced)
	}
}

func TestEnsureSlot_ExistingIsLeftAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.adapter.EnsureSlot(ctx, toolSlot()); err != nil {
		t.Fatalf("EnsureSlot() error = %v", err)
	}

	changed := toolSlot()
	changed.Label = "Renamed"
	created, err := f.adapter.EnsureSlot(ctx, changed)
	if err != nil || created {
		t.Fatalf("second EnsureSlot() = %v, %v; want false, nil", created, err)
	}

	ch, _ := f.store.Get("actual_temp_tool0")
	if ch.Label != "Actual Tool Temperature" {
		t.Errorf("Label = %q, existing slot should not be modified", ch.Label)
	}
	if n := len(f.mqtt.on("octobridge/channel/workshop/actual_temp_tool0")); n != 1 {
		t.Errorf("announcements = %d, want 1", n)
	}
}

func TestEnsureSlot_InvalidSlot(t *testing.T) {
	f := newFixture(t)
	bad := toolSlot()
	bad.KeyPath = nil

	if _, err := f.adapter.EnsureSlot(context.Background(), bad); !errors.Is(err, channel.ErrInvalidChannel) {
		t.Errorf("EnsureSlot() error = %v, want ErrInvalidChannel", err)
	}
}

// ─── UpdateState Tests ─────────────────────────────────────────────

func TestUpdateState_NumberFansOut(t *testing.T) {
	f := newFixture(t)
	f.adapter.UpdateState("actual_temp_tool0", octoprint.NumberValue(214.8))

	v, at, ok := f.adapter.Latest("actual_temp_tool0")
	if !ok || v.Number != 214.8 || at.IsZero() {
		t.Errorf("Latest() = %+v, %v, %v", v, at, ok)
	}

	msgs := f.mqtt.on("octobridge/state/workshop/actual_temp_tool0")
	if len(msgs) != 1 || !msgs[0].retained {
		t.Fatalf("state messages = %+v, want one retained", msgs)
	}
	var state octoprint.StateMessage
	if err := json.Unmarshal(msgs[0].payload, &state); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if state.Value != 214.8 || state.Kind != octoprint.KindNumber {
		t.Errorf("state = %+v", state)
	}

	if len(f.series.points) != 1 || f.series.points[0] != (slotPoint{"actual_temp_tool0", 214.8}) {
		t.Errorf("influx points = %+v", f.series.points)
	}

	if len(f.hub.events) != 1 || f.hub.events[0].channel != EventSlotStateChanged {
		t.Errorf("hub events = %+v", f.hub.events)
	}
}

func TestUpdateState_StringAndUnavailableSkipInflux(t *testing.T) {
	f := newFixture(t)
	f.adapter.UpdateState("job_state", octoprint.StringValue("Printing"))
	f.adapter.UpdateState("actual_temp_bed", octoprint.UnavailableValue(octoprint.KindNumber))

	if len(f.series.points) != 0 {
		t.Errorf("influx points = %+v, want none", f.series.points)
	}

	msgs := f.mqtt.on("octobridge/state/workshop/actual_temp_bed")
	if len(msgs) != 1 {
		t.Fatalf("state messages = %d, want 1", len(msgs))
	}
	var state octoprint.StateMessage
	if err := json.Unmarshal(msgs[0].payload, &state); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !state.Unavailable || state.Value != nil {
		t.Errorf("state = %+v, want unavailable", state)
	}
}

func TestUpdateState_PublishErrorDoesNotBlockCache(t *testing.T) {
	f := newFixture(t)
	f.mqtt.publishErr = mqtt.ErrNotConnected

	f.adapter.UpdateState("job_state", octoprint.StringValue("Operational"))

	if v, _, ok := f.adapter.Latest("job_state"); !ok || v.Text != "Operational" {
		t.Errorf("Latest() = %+v, %v", v, ok)
	}
	if len(f.hub.events) != 1 {
		t.Errorf("hub events = %d, want 1", len(f.hub.events))
	}
}

func TestLatest_Unknown(t *testing.T) {
	f := newFixture(t)
	if _, _, ok := f.adapter.Latest("nope"); ok {
		t.Error("Latest() for unseen slot should report false")
	}
}

// ─── Status Tests ──────────────────────────────────────────────────

func TestReportStatus(t *testing.T) {
	f := newFixture(t)

	if s, _ := f.adapter.Status(); s != octoprint.StatusUnknown {
		t.Errorf("initial status = %s, want UNKNOWN", s)
	}

	f.adapter.ReportStatus(octoprint.StatusOffline, "printer API not reachable")

	s, reason := f.adapter.Status()
	if s != octoprint.StatusOffline || reason != "printer API not reachable" {
		t.Errorf("Status() = %s, %q", s, reason)
	}

	msgs := f.mqtt.on("octobridge/status/workshop")
	if len(msgs) != 1 || !msgs[0].retained {
		t.Fatalf("status messages = %+v", msgs)
	}
	var status octoprint.StatusMessage
	if err := json.Unmarshal(msgs[0].payload, &status); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if status.Status != octoprint.StatusOffline || status.Reason != "printer API not reachable" {
		t.Errorf("status message = %+v", status)
	}

	if len(f.series.statuses) != 1 || f.series.statuses[0] != "OFFLINE" {
		t.Errorf("influx statuses = %v", f.series.statuses)
	}
	if len(f.hub.events) != 1 || f.hub.events[0].channel != EventBridgeStatusChanged {
		t.Errorf("hub events = %+v", f.hub.events)
	}
}

func TestObservePoll(t *testing.T) {
	f := newFixture(t)
	f.adapter.ObservePoll(octoprint.PollReport{RoutesFetched: 5, RoutesFailed: 1, Duration: time.Second})
	if f.series.cycles != 1 {
		t.Errorf("poll cycles written = %d, want 1", f.series.cycles)
	}
}

// ─── Command Tests ─────────────────────────────────────────────────

func startAdapter(t *testing.T, f *fixture) {
	t.Helper()
	if err := f.adapter.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(f.adapter.Stop)
}

func readAck(t *testing.T, f *fixture, command string) octoprint.AckMessage {
	t.Helper()
	msgs := f.mqtt.on("octobridge/ack/workshop/" + command)
	if len(msgs) != 1 {
		t.Fatalf("acks on %s = %d, want 1", command, len(msgs))
	}
	if msgs[0].retained {
		t.Error("acks should not be retained")
	}
	var ack octoprint.AckMessage
	if err := json.Unmarshal(msgs[0].payload, &ack); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	return ack
}

func TestStart_RequiresExecutor(t *testing.T) {
	a, err := New(Options{Store: newStore(t)})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := a.Start(context.Background()); err == nil {
		t.Error("Start() without executor should fail")
	}
}

func TestStart_SubscribesToCommands(t *testing.T) {
	f := newFixture(t)
	startAdapter(t, f)

	if len(f.mqtt.subscribed) != 1 || f.mqtt.subscribed[0] != "octobridge/command/workshop/+" {
		t.Errorf("subscriptions = %v", f.mqtt.subscribed)
	}
}

func TestHandleCommand_Accepted(t *testing.T) {
	f := newFixture(t)
	startAdapter(t, f)

	err := f.mqtt.deliver(t, "octobridge/command/workshop/+",
		"octobridge/command/workshop/printer_bed_temp_target",
		`{"id":"cmd-1","timestamp":"2026-03-01T12:00:00Z","value":60,"source":"mqtt"}`)
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}

	if len(f.executor.calls) != 1 {
		t.Fatalf("executed %d commands, want 1", len(f.executor.calls))
	}
	call := f.executor.calls[0]
	if call.id != octoprint.CmdBedTempTarget || call.value.Kind != octoprint.KindNumber || call.value.Number != 60 {
		t.Errorf("call = %+v", call)
	}

	ack := readAck(t, f, "printer_bed_temp_target")
	if ack.CommandID != "cmd-1" || ack.Status != octoprint.AckAccepted {
		t.Errorf("ack = %+v", ack)
	}
}

func TestHandleCommand_GeneratesMissingID(t *testing.T) {
	f := newFixture(t)
	f.executor.kind = octoprint.OutcomeConflict
	startAdapter(t, f)

	err := f.mqtt.deliver(t, "octobridge/command/workshop/+",
		"octobridge/command/workshop/print_job_start", `{"value":"start"}`)
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}

	ack := readAck(t, f, "print_job_start")
	if ack.CommandID == "" {
		t.Error("ack should carry a generated command id")
	}
	if ack.Status != octoprint.AckConflict || ack.HTTPStatus != 409 {
		t.Errorf("ack = %+v, want conflict 409", ack)
	}
}

func TestHandleCommand_UnsupportedValueIsIgnored(t *testing.T) {
	f := newFixture(t)
	startAdapter(t, f)

	err := f.mqtt.deliver(t, "octobridge/command/workshop/+",
		"octobridge/command/workshop/printer_jog_x", `{"id":"c","value":true}`)
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}

	if len(f.executor.calls) != 0 {
		t.Errorf("executed %d commands, want 0", len(f.executor.calls))
	}
	if ack := readAck(t, f, "printer_jog_x"); ack.Status != octoprint.AckIgnored {
		t.Errorf("ack status = %q, want ignored", ack.Status)
	}
}

func TestHandleCommand_MalformedPayload(t *testing.T) {
	f := newFixture(t)
	startAdapter(t, f)

	err := f.mqtt.deliver(t, "octobridge/command/workshop/+",
		"octobridge/command/workshop/print_job_start", `{not json`)
	if err == nil {
		t.Error("handler should report a parse error")
	}
	if len(f.executor.calls) != 0 {
		t.Errorf("executed %d commands, want 0", len(f.executor.calls))
	}
}

func TestHandleCommand_ForeignTopic(t *testing.T) {
	f := newFixture(t)
	startAdapter(t, f)

	err := f.mqtt.deliver(t, "octobridge/command/workshop/+",
		"octobridge/command/other/print_job_start", `{"value":"start"}`)
	if err == nil {
		t.Error("handler should reject a topic of another bridge")
	}
}

func TestStop_Unsubscribes(t *testing.T) {
	f := newFixture(t)
	if err := f.adapter.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	f.adapter.Stop()

	if _, ok := f.mqtt.handlers["octobridge/command/workshop/+"]; ok {
		t.Error("command subscription should be removed on Stop")
	}
}

// Compile-time interface checks.
var (
	_ octoprint.Host         = (*Adapter)(nil)
	_ octoprint.PollObserver = (*Adapter)(nil)
	_ Publisher              = (*mqtt.Client)(nil)
)
