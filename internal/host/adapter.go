package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/octoprint-bridge/internal/bridges/octoprint"
	"github.com/nerrad567/octoprint-bridge/internal/channel"
	"github.com/nerrad567/octoprint-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/octoprint-bridge/internal/infrastructure/mqtt"
)

// commandTimeout bounds a single command received over MQTT.
const commandTimeout = 15 * time.Second

// WebSocket event channels.
const (
	EventSlotStateChanged    = "slot.state_changed"
	EventBridgeStatusChanged = "bridge.status_changed"
)

// Publisher is the MQTT surface the adapter needs. *mqtt.Client satisfies it.
type Publisher interface {
	PublishJSON(topic string, v any, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// TimeSeries receives numeric history. *influxdb.Client satisfies it.
type TimeSeries interface {
	WriteSlotValue(bridgeID, slotID string, value float64, ts time.Time)
	WritePollCycle(bridgeID string, fetched, failed int, duration time.Duration)
	WriteStatus(bridgeID, status string)
}

// Broadcaster pushes events to live UI clients. *api.Hub satisfies it.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// CommandExecutor runs bridge commands. *octoprint.Bridge satisfies it.
type CommandExecutor interface {
	ExecuteCommand(ctx context.Context, id octoprint.CommandID, v octoprint.Value) octoprint.Outcome
}

// Options contains the dependencies for creating an Adapter.
// Only Store is required; a nil MQTT, Influx or Hub disables that output.
type Options struct {
	Store  *channel.Store
	MQTT   Publisher
	Influx TimeSeries
	Hub    Broadcaster
	Logger *logging.Logger
}

type latestValue struct {
	value octoprint.Value
	at    time.Time
}

// Adapter is the host side of the OctoPrint bridge. It persists slots,
// fans values and status out to MQTT, InfluxDB and WebSocket clients, and
// feeds MQTT commands back into the bridge.
type Adapter struct {
	store  *channel.Store
	topics mqtt.Topics
	mqtt   Publisher
	influx TimeSeries
	hub    Broadcaster
	logger *logging.Logger

	latest   map[string]latestValue
	latestMu sync.RWMutex

	status       octoprint.Status
	statusReason string
	statusMu     sync.RWMutex

	executor   CommandExecutor
	executorMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates an Adapter for the store's bridge.
func New(opts Options) (*Adapter, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("channel store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}

	return &Adapter{
		store:  opts.Store,
		topics: mqtt.NewTopics(opts.Store.BridgeID()),
		mqtt:   opts.MQTT,
		influx: opts.Influx,
		hub:    opts.Hub,
		logger: logger.Component("host"),
		latest: make(map[string]latestValue),
		status: octoprint.StatusUnknown,
	}, nil
}

// SetExecutor sets the bridge that MQTT commands are sent to. The bridge
// is built after the adapter because it takes the adapter as its Host.
func (a *Adapter) SetExecutor(e CommandExecutor) {
	a.executorMu.Lock()
	a.executor = e
	a.executorMu.Unlock()
}

func (a *Adapter) getExecutor() CommandExecutor {
	a.executorMu.RLock()
	defer a.executorMu.RUnlock()
	return a.executor
}

// EnsureSlot persists d unless the store already has it. A newly created
// slot is announced on its retained channel topic.
func (a *Adapter) EnsureSlot(ctx context.Context, d octoprint.SlotDescriptor) (bool, error) {
	created, err := a.store.CreateIfNotExists(ctx, channelFromSlot(d))
	if err != nil {
		return false, fmt.Errorf("ensuring slot %s: %w", d.ID, err)
	}
	if !created {
		return false, nil
	}

	a.logger.Info("slot materialized", "slot_id", d.ID, "route", d.Route)
	if a.mqtt != nil {
		msg := octoprint.NewChannelMessage(a.topics.BridgeID(), d)
		if err := a.mqtt.PublishJSON(a.topics.Channel(d.ID), msg, true); err != nil {
			a.logger.Warn("failed to publish channel", "slot_id", d.ID, "error", err)
		}
	}
	return true, nil
}

// UpdateState records the latest value of a slot and forwards it.
func (a *Adapter) UpdateState(slotID string, v octoprint.Value) {
	now := time.Now().UTC()

	a.latestMu.Lock()
	a.latest[slotID] = latestValue{value: v, at: now}
	a.latestMu.Unlock()

	msg := octoprint.NewStateMessage(slotID, v)
	msg.Timestamp = now

	if a.mqtt != nil {
		if err := a.mqtt.PublishJSON(a.topics.State(slotID), msg, true); err != nil {
			a.logger.Debug("failed to publish state", "slot_id", slotID, "error", err)
		}
	}

	if a.influx != nil && v.Kind == octoprint.KindNumber && !v.Unavailable {
		a.influx.WriteSlotValue(a.topics.BridgeID(), slotID, v.Number, now)
	}

	if a.hub != nil {
		a.hub.Broadcast(EventSlotStateChanged, msg)
	}
}

// ReportStatus records the bridge status and forwards it.
func (a *Adapter) ReportStatus(s octoprint.Status, reason string) {
	a.statusMu.Lock()
	a.status = s
	a.statusReason = reason
	a.statusMu.Unlock()

	a.logger.Info("bridge status changed", "status", string(s), "reason", reason)

	msg := octoprint.NewStatusMessage(a.topics.BridgeID(), s, reason)
	if a.mqtt != nil {
		if err := a.mqtt.PublishJSON(a.topics.Status(), msg, true); err != nil {
			a.logger.Warn("failed to publish status", "error", err)
		}
	}
	if a.influx != nil {
		a.influx.WriteStatus(a.topics.BridgeID(), string(s))
	}
	if a.hub != nil {
		a.hub.Broadcast(EventBridgeStatusChanged, msg)
	}
}

// ObservePoll writes a poll cycle summary to the time-series store.
func (a *Adapter) ObservePoll(report octoprint.PollReport) {
	if a.influx == nil {
		return
	}
	a.influx.WritePollCycle(a.topics.BridgeID(), report.RoutesFetched, report.RoutesFailed, report.Duration)
}

// Latest returns the last value seen for slotID and when it arrived.
func (a *Adapter) Latest(slotID string) (octoprint.Value, time.Time, bool) {
	a.latestMu.RLock()
	defer a.latestMu.RUnlock()
	lv, ok := a.latest[slotID]
	return lv.value, lv.at, ok
}

// Status returns the last status the bridge reported.
func (a *Adapter) Status() (octoprint.Status, string) {
	a.statusMu.RLock()
	defer a.statusMu.RUnlock()
	return a.status, a.statusReason
}

// Start subscribes to this bridge's command topics. Without MQTT it only
// records ctx for command execution.
func (a *Adapter) Start(ctx context.Context) error {
	if a.getExecutor() == nil {
		return fmt.Errorf("command executor is required")
	}
	a.ctx, a.cancel = context.WithCancel(ctx)

	if a.mqtt == nil {
		a.logger.Info("MQTT disabled, command subscription skipped")
		return nil
	}

	topic := a.topics.AllCommands()
	if err := a.mqtt.Subscribe(topic, 1, a.handleCommand); err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	a.logger.Info("subscribed to commands", "topic", topic)
	return nil
}

// Stop drops the command subscription and cancels in-flight commands.
func (a *Adapter) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.mqtt == nil {
		return
	}
	if err := a.mqtt.Unsubscribe(a.topics.AllCommands()); err != nil && !errors.Is(err, mqtt.ErrNotConnected) {
		a.logger.Warn("failed to unsubscribe from commands", "error", err)
	}
}

// handleCommand executes one MQTT command and publishes its acknowledgement.
// Malformed payloads are logged and dropped.
func (a *Adapter) handleCommand(topic string, payload []byte) error {
	topicCommand, ok := a.topics.CommandFromTopic(topic)
	if !ok {
		return fmt.Errorf("unexpected command topic %q", topic)
	}

	cmd, err := octoprint.ParseCommandMessage(payload)
	if err != nil {
		return fmt.Errorf("parsing command on %s: %w", topic, err)
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if cmd.Command == "" {
		cmd.Command = topicCommand
	}
	id := octoprint.CommandID(cmd.Command)

	a.logger.Info("received command",
		"command_id", cmd.ID,
		"command", cmd.Command,
		"source", cmd.Source,
	)

	var outcome octoprint.Outcome
	v, err := octoprint.ValueFromJSON(cmd.Value)
	if err != nil {
		outcome = octoprint.Outcome{Command: id, Kind: octoprint.OutcomeIgnored, Message: err.Error()}
	} else {
		ctx, cancel := context.WithTimeout(a.ctx, commandTimeout)
		outcome = a.getExecutor().ExecuteCommand(ctx, id, v)
		cancel()
	}

	ack := octoprint.NewAckMessage(cmd.ID, outcome)
	if err := a.mqtt.PublishJSON(a.topics.Ack(cmd.Command), ack, false); err != nil {
		a.logger.Warn("failed to publish ack", "command_id", cmd.ID, "error", err)
	}
	return nil
}

// channelFromSlot converts a slot descriptor into its stored form.
func channelFromSlot(d octoprint.SlotDescriptor) channel.Channel {
	return channel.Channel{
		ID:          d.ID,
		Route:       d.Route,
		KeyPath:     append([]string(nil), d.KeyPath...),
		Kind:        d.Kind.String(),
		Label:       d.Label,
		Description: d.Description,
		Category:    d.Category,
		Pattern:     d.Pattern,
	}
}
