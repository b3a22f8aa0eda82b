package octoprint

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// MQTT message types exchanged between octobridge and the home-automation
// host. Timestamps are encoded as UTC RFC3339.

// CommandMessage asks the bridge to run a printer command.
// Topic: octobridge/command/{bridge_id}/{command}
type CommandMessage struct {
	// ID correlates the command with its acknowledgement.
	ID string `json:"id"`

	Timestamp time.Time `json:"timestamp"`

	// Command is the command id, e.g. "print_job_start". When empty the
	// topic's last segment is used.
	Command string `json:"command,omitempty"`

	// Value is a JSON string or number.
	Value any `json:"value"`

	// Source indicates where the command originated ("mqtt", "api").
	Source string `json:"source,omitempty"`
}

// AckStatus is the acknowledgement status of a command.
type AckStatus string

const (
	AckAccepted AckStatus = "accepted"
	AckConflict AckStatus = "conflict"
	AckFailed   AckStatus = "failed"
	AckIgnored  AckStatus = "ignored"
	AckUnknown  AckStatus = "unknown"
)

// AckStatusFor maps an outcome kind to its acknowledgement status.
func AckStatusFor(k OutcomeKind) AckStatus {
	switch k {
	case OutcomeAccepted:
		return AckAccepted
	case OutcomeConflict:
		return AckConflict
	case OutcomeIgnored:
		return AckIgnored
	case OutcomeUnknownCommand:
		return AckUnknown
	default:
		return AckFailed
	}
}

// AckMessage acknowledges a command.
// Topic: octobridge/ack/{bridge_id}/{command}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	Command   string    `json:"command"`
	Status    AckStatus `json:"status"`

	// Message carries the conflict meaning or failure description.
	Message string `json:"message,omitempty"`

	// HTTPStatus is the printer's reply status, when one was received.
	HTTPStatus int `json:"http_status,omitempty"`
}

// NewAckMessage builds the acknowledgement for o.
func NewAckMessage(commandID string, o Outcome) AckMessage {
	return AckMessage{
		CommandID:  commandID,
		Timestamp:  time.Now().UTC(),
		Command:    string(o.Command),
		Status:     AckStatusFor(o.Kind),
		Message:    o.Message,
		HTTPStatus: o.Status,
	}
}

// StateMessage carries the latest value of one slot.
// Topic: octobridge/state/{bridge_id}/{slot_id}
// QoS: 1, Retained: Yes
type StateMessage struct {
	SlotID      string    `json:"slot_id"`
	Timestamp   time.Time `json:"timestamp"`
	Kind        ValueKind `json:"kind"`
	Value       any       `json:"value"`
	Unavailable bool      `json:"unavailable,omitempty"`
}

// NewStateMessage builds a state message for v.
func NewStateMessage(slotID string, v Value) StateMessage {
	return StateMessage{
		SlotID:      slotID,
		Timestamp:   time.Now().UTC(),
		Kind:        v.Kind,
		Value:       v.Interface(),
		Unavailable: v.Unavailable,
	}
}

// StatusMessage reports the bridge connection status.
// Topic: octobridge/status/{bridge_id}
// QoS: 1, Retained: Yes
type StatusMessage struct {
	Bridge    string    `json:"bridge"`
	Timestamp time.Time `json:"timestamp"`
	Status    Status    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
}

// NewStatusMessage builds a status message.
func NewStatusMessage(bridgeID string, s Status, reason string) StatusMessage {
	return StatusMessage{Bridge: bridgeID, Timestamp: time.Now().UTC(), Status: s, Reason: reason}
}

// ChannelMessage announces a materialized slot.
// Topic: octobridge/channel/{bridge_id}/{slot_id}
// QoS: 1, Retained: Yes
type ChannelMessage struct {
	Bridge    string         `json:"bridge"`
	Timestamp time.Time      `json:"timestamp"`
	Slot      SlotDescriptor `json:"slot"`
}

// NewChannelMessage builds a channel announcement for d.
func NewChannelMessage(bridgeID string, d SlotDescriptor) ChannelMessage {
	return ChannelMessage{Bridge: bridgeID, Timestamp: time.Now().UTC(), Slot: d}
}

// HealthStatus represents the operational status of the bridge process.
type HealthStatus string

const (
	// HealthHealthy indicates the printer is reachable and MQTT is connected.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bridge runs but something is down.
	HealthDegraded HealthStatus = "degraded"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports operational status.
// Topic: octobridge/health/{bridge_id}
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge        string       `json:"bridge"`
	Timestamp     time.Time    `json:"timestamp"`
	Status        HealthStatus `json:"status"`
	Version       string       `json:"version"`
	UptimeSeconds int64        `json:"uptime_seconds"`

	// PrinterStatus is the bridge's UNKNOWN/ONLINE/OFFLINE status.
	PrinterStatus Status `json:"printer_status"`

	SlotsManaged int `json:"slots_managed"`

	Statistics *BridgeStatistics `json:"statistics,omitempty"`

	Reason string `json:"reason,omitempty"`
}

// BridgeStatistics contains operational counters.
type BridgeStatistics struct {
	PollCycles       uint64 `json:"poll_cycles"`
	RoutesFailed     uint64 `json:"routes_failed"`
	CommandsSent     uint64 `json:"commands_sent"`
	CommandsRejected uint64 `json:"commands_rejected"`
}

// NewHealthMessage builds a health message.
func NewHealthMessage(bridgeID, version string, status HealthStatus, m BridgeMetrics, startTime time.Time) HealthMessage {
	return HealthMessage{
		Bridge:        bridgeID,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       version,
		UptimeSeconds: int64(time.Since(startTime).Seconds()),
		PrinterStatus: m.Status,
		SlotsManaged:  m.Slots,
		Statistics: &BridgeStatistics{
			PollCycles:       m.PollCycles,
			RoutesFailed:     m.RoutesFailed,
			CommandsSent:     m.CommandsSent,
			CommandsRejected: m.CommandsRejected,
		},
	}
}

// ParseCommandMessage decodes a command payload. A numeric value is kept
// as json.Number.
func ParseCommandMessage(payload []byte) (CommandMessage, error) {
	var aux struct {
		ID        string `json:"id"`
		Timestamp string `json:"timestamp"`
		Command   string `json:"command"`
		Value     any    `json:"value"`
		Source    string `json:"source"`
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&aux); err != nil {
		return CommandMessage{}, fmt.Errorf("unmarshal command message: %w", err)
	}

	msg := CommandMessage{ID: aux.ID, Command: aux.Command, Value: aux.Value, Source: aux.Source}
	if aux.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, aux.Timestamp)
		if err != nil {
			return CommandMessage{}, fmt.Errorf("parse timestamp: %w", err)
		}
		msg.Timestamp = t
	}
	return msg, nil
}
