package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every octobridge topic.
const TopicPrefix = "octobridge"

// Topics builds the topics of a single bridge instance.
//
//	topics := mqtt.NewTopics("workshop-mk3")
//	topics.State("actual_temp_tool0")
//	// "octobridge/state/workshop-mk3/actual_temp_tool0"
type Topics struct {
	bridgeID string
}

// NewTopics returns the topic builder for bridgeID.
func NewTopics(bridgeID string) Topics {
	return Topics{bridgeID: bridgeID}
}

// BridgeID returns the id the topics are scoped to.
func (t Topics) BridgeID() string {
	return t.bridgeID
}

func (t Topics) build(category string, leaf ...string) string {
	parts := append([]string{TopicPrefix, category, t.bridgeID}, leaf...)
	return strings.Join(parts, "/")
}

// Command returns the topic the host publishes a command to.
func (t Topics) Command(command string) string {
	return t.build("command", command)
}

// AllCommands matches every command addressed to this bridge.
func (t Topics) AllCommands() string {
	return t.build("command", "+")
}

// Ack returns the topic command outcomes are published on.
func (t Topics) Ack(command string) string {
	return t.build("ack", command)
}

// State returns the retained topic for a slot's latest value.
func (t Topics) State(slotID string) string {
	return t.build("state", slotID)
}

// AllStates matches every slot state of this bridge.
func (t Topics) AllStates() string {
	return t.build("state", "+")
}

// Channel returns the retained topic announcing a materialized slot.
func (t Topics) Channel(slotID string) string {
	return t.build("channel", slotID)
}

// Status returns the retained bridge status topic. It doubles as the LWT topic.
func (t Topics) Status() string {
	return t.build("status")
}

// Health returns the retained health topic.
func (t Topics) Health() string {
	return t.build("health")
}

// CommandFromTopic extracts the command id from a topic produced by Command.
// It returns false for topics of another bridge or category.
func (t Topics) CommandFromTopic(topic string) (string, bool) {
	prefix := t.build("command") + "/"
	command, found := strings.CutPrefix(topic, prefix)
	if !found || command == "" || strings.Contains(command, "/") {
		return "", false
	}
	return command, true
}

// ValidateBridgeID reports whether id can be embedded in a topic level.
func ValidateBridgeID(id string) error {
	if id == "" || strings.ContainsAny(id, "/+#") {
		return fmt.Errorf("%w: %q", ErrInvalidBridgeID, id)
	}
	return nil
}
