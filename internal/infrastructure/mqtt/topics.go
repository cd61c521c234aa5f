package mqtt

import "fmt"

// TopicPrefix is the root of every topic the bridge publishes or consumes.
//
// Topic scheme: proflame/{category}/{device_id}
const TopicPrefix = "proflame"

// Topics provides builders for bridge MQTT topics.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.State("living-room")
//	// Returns: "proflame/state/living-room"
type Topics struct{}

// Command returns the topic commands for a fireplace arrive on.
//
// Example: proflame/command/living-room
func (Topics) Command(deviceID string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, deviceID)
}

// Ack returns the topic command acknowledgements are published on.
//
// Example: proflame/ack/living-room
func (Topics) Ack(deviceID string) string {
	return fmt.Sprintf("%s/ack/%s", TopicPrefix, deviceID)
}

// State returns the retained full-state topic for a fireplace.
//
// Example: proflame/state/living-room
func (Topics) State(deviceID string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, deviceID)
}

// Health returns the retained bridge health topic for a fireplace.
//
// Example: proflame/health/living-room
func (Topics) Health(deviceID string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, deviceID)
}

// Status returns the retained process status topic carrying the LWT.
//
// Example: proflame/status/proflame-bridge
func (Topics) Status(clientID string) string {
	return fmt.Sprintf("%s/status/%s", TopicPrefix, clientID)
}
