package discovery

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fernvale/ble-scanner-core/internal/device"
	"github.com/fernvale/ble-scanner-core/internal/infrastructure/mqtt"
)

// MQTTPublisher is the slice of the MQTT client the publisher needs.
// Satisfied by *mqtt.Client; tests substitute a capture fake.
type MQTTPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Publisher emits discovery announcements, per-device state, and
// scanner status onto the broker.
//
// Everything here is best-effort and downstream of the registry: a
// failed publish is reported to the caller for warn-level logging but
// never rolls back or blocks the mutation that triggered it. Redelivery
// after broker outages is the MQTT client layer's concern.
type Publisher struct {
	pub    MQTTPublisher
	topics mqtt.Topics
	qos    byte
	retain bool
}

// NewPublisher creates a publisher. retain controls whether discovery
// and state messages are retained on the broker so consumers see current
// values immediately on (re)connect.
func NewPublisher(pub MQTTPublisher, qos byte, retain bool) *Publisher {
	return &Publisher{pub: pub, qos: qos, retain: retain}
}

// entity describes one logical entity the automation platform should
// create for a device. Values are read from the device state topic.
type entity struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	StateTopic  string `json:"state_topic"`
	ValueKey    string `json:"value_key"`
	Unit        string `json:"unit,omitempty"`
	DeviceClass string `json:"device_class,omitempty"`
}

// devicePayload is the discovery announcement body.
type devicePayload struct {
	MAC         string   `json:"mac"`
	Name        string   `json:"name"`
	Kind        string   `json:"kind"`
	Manual      bool     `json:"manual"`
	FirstSeen   string   `json:"first_seen"`
	Entities    []entity `json:"entities"`
	AnnouncedAt string   `json:"announced_at"`
}

// statePayload is the per-device state body the entities read from.
type statePayload struct {
	Present  bool   `json:"present"`
	RSSI     int    `json:"rssi"`
	LastSeen string `json:"last_seen"`
	Proxy    string `json:"proxy,omitempty"`
	Kind     string `json:"kind"`
}

// statusPayload is the scanner-level status body.
type statusPayload struct {
	Status    string `json:"status"`
	Scanning  bool   `json:"scanning"`
	Devices   int    `json:"devices"`
	Proxies   int    `json:"proxies"`
	Timestamp string `json:"timestamp"`
}

// PublishDevice announces a device's entities on its discovery topic.
//
// Called when a record is created and when discoveryPublished first
// transitions; the payload describes presence, signal strength, and
// last-seen entities all backed by the device state topic.
func (p *Publisher) PublishDevice(record *device.DeviceRecord) error {
	stateTopic := p.topics.DeviceState(record.MAC)

	name := record.DisplayName
	if name == "" {
		name = record.MAC
	}

	payload := devicePayload{
		MAC:       record.MAC,
		Name:      name,
		Kind:      string(record.Kind),
		Manual:    record.Manual,
		FirstSeen: record.FirstSeenAt.UTC().Format(time.RFC3339),
		Entities: []entity{
			{Type: "binary_sensor", Name: "presence", StateTopic: stateTopic, ValueKey: "present", DeviceClass: "presence"},
			{Type: "sensor", Name: "rssi", StateTopic: stateTopic, ValueKey: "rssi", Unit: "dBm", DeviceClass: "signal_strength"},
			{Type: "sensor", Name: "last_seen", StateTopic: stateTopic, ValueKey: "last_seen", DeviceClass: "timestamp"},
		},
		AnnouncedAt: time.Now().UTC().Format(time.RFC3339),
	}

	return p.publishJSON(p.topics.DeviceDiscovery(record.MAC), payload)
}

// PublishState publishes the current state of a device.
func (p *Publisher) PublishState(record *device.DeviceRecord) error {
	payload := statePayload{
		Present:  true,
		RSSI:     record.LastRSSI,
		LastSeen: record.LastSeenAt.UTC().Format(time.RFC3339),
		Proxy:    record.LastProxy,
		Kind:     string(record.Kind),
	}
	return p.publishJSON(p.topics.DeviceState(record.MAC), payload)
}

// PublishStatus publishes the scanner-level status message.
// Always retained: consumers joining late must see the current status.
func (p *Publisher) PublishStatus(scanning bool, deviceCount, proxyCount int) error {
	payload := statusPayload{
		Status:    "online",
		Scanning:  scanning,
		Devices:   deviceCount,
		Proxies:   proxyCount,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding status payload: %w", err)
	}
	return p.pub.Publish(p.topics.ScannerStatus(), body, p.qos, true)
}

// ClearDevice removes the retained discovery and state messages for a
// removed device by publishing empty retained payloads.
func (p *Publisher) ClearDevice(mac string) error {
	if err := p.pub.Publish(p.topics.DeviceDiscovery(mac), nil, p.qos, true); err != nil {
		return err
	}
	return p.pub.Publish(p.topics.DeviceState(mac), nil, p.qos, true)
}

func (p *Publisher) publishJSON(topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload for %s: %w", topic, err)
	}
	return p.pub.Publish(topic, body, p.qos, p.retain)
}
