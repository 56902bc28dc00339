package mqtt

import "fmt"

// TopicPrefix is the base for all topics this scanner publishes.
// Inbound advertisement topics are configured separately
// (scanner.topic_filters in config.yaml) since they belong to the proxies.
const TopicPrefix = "ble_scanner"

// Topics provides builders for the scanner's outbound MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	topics.DeviceDiscovery("AA:BB:CC:DD:EE:FF")
//	// Returns: "ble_scanner/discovered/AA:BB:CC:DD:EE:FF"
type Topics struct{}

// DeviceDiscovery returns the discovery metadata topic for a device.
//
// Example: ble_scanner/discovered/AA:BB:CC:DD:EE:FF
func (Topics) DeviceDiscovery(mac string) string {
	return fmt.Sprintf("%s/discovered/%s", TopicPrefix, mac)
}

// DeviceState returns the per-device state topic referenced by the
// discovery payload's entities.
//
// Example: ble_scanner/device/AA:BB:CC:DD:EE:FF/state
func (Topics) DeviceState(mac string) string {
	return fmt.Sprintf("%s/device/%s/state", TopicPrefix, mac)
}

// ScannerStatus returns the scanner-level status topic.
//
// Example: ble_scanner/status
func (Topics) ScannerStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefix)
}
