package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the Free Sleep MQTT surface.
//
// Entity topics use the flat scheme: freesleep/{device}/{entity}/{suffix},
// where device is "pod", "left", or "right" and entity is the entity's key
// within that device.
const (
	// TopicPrefix is the base for all Free Sleep topics.
	TopicPrefix = "freesleep"

	// TopicPrefixBridge is the base for bridge lifecycle topics.
	TopicPrefixBridge = "freesleep/bridge"
)

// Topics provides builders for Free Sleep MQTT topics. Using these helpers
// keeps topic naming consistent across publisher, subscriber, and tests.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.EntityState("left", "target_temperature")
//	// Returns: "freesleep/left/target_temperature/state"
type Topics struct{}

// EntityState returns the retained state topic for one entity.
//
// Example: freesleep/left/target_temperature/state
func (Topics) EntityState(deviceID, entityKey string) string {
	return fmt.Sprintf("%s/%s/%s/state", TopicPrefix, deviceID, entityKey)
}

// EntityCommand returns the command topic for one entity.
//
// Example: freesleep/left/target_temperature/set
func (Topics) EntityCommand(deviceID, entityKey string) string {
	return fmt.Sprintf("%s/%s/%s/set", TopicPrefix, deviceID, entityKey)
}

// EntityAvailability returns the per-entity availability topic.
//
// Example: freesleep/left/heart_rate/availability
func (Topics) EntityAvailability(deviceID, entityKey string) string {
	return fmt.Sprintf("%s/%s/%s/availability", TopicPrefix, deviceID, entityKey)
}

// BridgeStatus returns the bridge online/offline topic. This carries the
// LWT: consumers treat every entity as unavailable while the bridge itself
// is offline.
//
// Example: freesleep/bridge/status
func (Topics) BridgeStatus() string {
	return TopicPrefixBridge + "/status"
}

// BridgeHealth returns the pod connection health topic.
//
// Example: freesleep/bridge/health
func (Topics) BridgeHealth() string {
	return TopicPrefixBridge + "/health"
}

// AllEntityCommands returns a pattern matching every entity command topic.
//
// Pattern: freesleep/+/+/set
func (Topics) AllEntityCommands() string {
	return TopicPrefix + "/+/+/set"
}

// AllEntityStates returns a pattern matching every entity state topic.
//
// Pattern: freesleep/+/+/state
func (Topics) AllEntityStates() string {
	return TopicPrefix + "/+/+/state"
}

// AllTopics returns a pattern matching all Free Sleep topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: freesleep/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}

// ParseEntityCommand extracts the device and entity from a command topic.
//
// Parameters:
//   - topic: A topic received on the AllEntityCommands pattern
//
// Returns:
//   - deviceID: "pod", "left", or "right"
//   - entityKey: The entity's key within the device
//   - ok: false when the topic is not an entity command topic
func ParseEntityCommand(topic string) (deviceID, entityKey string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != TopicPrefix || parts[3] != "set" {
		return "", "", false
	}
	if parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}
