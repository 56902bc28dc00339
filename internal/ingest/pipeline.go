package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/fernvale/ble-scanner-core/internal/ble"
	"github.com/fernvale/ble-scanner-core/internal/device"
	"github.com/fernvale/ble-scanner-core/internal/discovery"
	"github.com/fernvale/ble-scanner-core/internal/infrastructure/logging"
	"github.com/fernvale/ble-scanner-core/internal/infrastructure/mqtt"
)

// applyTimeout bounds the registry/storage work for one message.
const applyTimeout = 5 * time.Second

// HistoryWriter receives accepted observations for time-series storage.
// Implementations must be non-blocking; the InfluxDB writer buffers
// internally.
type HistoryWriter interface {
	WriteRSSI(mac, proxy string, kind string, rssi int, at time.Time)
}

// EventSink receives device events for the live dashboard stream.
type EventSink interface {
	DeviceUpdated(record *device.DeviceRecord, isNew bool)
}

// Subscriber is the slice of the MQTT client the pipeline subscribes through.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Pipeline wires one broker message through the full ingestion path:
// topic matcher, decoder chain, registry apply, then downstream effects
// (discovery publish, state publish, optional history write and event
// broadcast).
//
// Effects run after the registry mutation has committed and never roll
// it back; a failed publish is logged at warn and the pipeline moves on.
type Pipeline struct {
	matcher   *ble.TopicMatcher
	registry  *device.Registry
	publisher *discovery.Publisher
	logger    *logging.Logger

	// Optional sinks, nil when disabled.
	history HistoryWriter
	events  EventSink
}

// NewPipeline creates the ingestion pipeline.
func NewPipeline(matcher *ble.TopicMatcher, registry *device.Registry, publisher *discovery.Publisher, logger *logging.Logger) *Pipeline {
	return &Pipeline{
		matcher:   matcher,
		registry:  registry,
		publisher: publisher,
		logger:    logger.With("component", "ingest"),
	}
}

// SetHistoryWriter attaches the optional RSSI history sink.
// Must be called before Subscribe.
func (p *Pipeline) SetHistoryWriter(h HistoryWriter) { p.history = h }

// SetEventSink attaches the optional live event sink.
// Must be called before Subscribe.
func (p *Pipeline) SetEventSink(e EventSink) { p.events = e }

// Subscribe registers HandleMessage for every configured topic filter.
func (p *Pipeline) Subscribe(sub Subscriber, filters []string, qos byte) error {
	for _, filter := range filters {
		if err := sub.Subscribe(filter, qos, p.HandleMessage); err != nil {
			return err
		}
		p.logger.Info("Subscribed to advertisement topic", "filter", filter)
	}
	return nil
}

// HandleMessage processes one raw broker message.
//
// Unmatched topics and unparseable payloads are expected broker noise:
// both are discarded without error (the latter with a debug log).
// Observations arriving while scanning is stopped, and stale duplicates,
// are likewise dropped silently. Only persistence failures surface as
// errors to the MQTT layer's warn logging.
func (p *Pipeline) HandleMessage(topic string, payload []byte) error {
	proxy, ok := p.matcher.Match(topic)
	if !ok {
		return nil
	}

	adv, err := ble.Decode(payload)
	if err != nil {
		p.logger.Debug("Discarding undecodable payload",
			"topic", topic,
			"bytes", len(payload),
			"error", err,
		)
		return nil
	}

	// Attribution happens here, not in the decoders: the proxy identity
	// comes from the topic and the observation time from ingestion.
	adv.SourceProxy = proxy
	adv.ObservedAt = time.Now().UTC()

	ctx, cancel := context.WithTimeout(context.Background(), applyTimeout)
	defer cancel()

	record, isNew, err := p.registry.Apply(ctx, adv)
	switch {
	case errors.Is(err, device.ErrScanningDisabled):
		return nil
	case errors.Is(err, device.ErrStaleUpdate):
		return nil
	case err != nil:
		return err
	}

	p.emitEffects(ctx, record, isNew)
	return nil
}

// emitEffects runs the downstream side of an accepted observation.
func (p *Pipeline) emitEffects(ctx context.Context, record *device.DeviceRecord, isNew bool) {
	if isNew || !record.DiscoveryPublished {
		if err := p.publisher.PublishDevice(record); err != nil {
			// Leave the record unmarked so the next observation retries
			// the announcement.
			p.logger.Warn("Discovery announce failed", "mac", record.MAC, "error", err)
		} else if err := p.registry.MarkDiscoveryPublished(ctx, record.MAC); err != nil {
			p.logger.Warn("Marking discovery published failed", "mac", record.MAC, "error", err)
		}
		if isNew {
			p.logger.Info("Discovered device",
				"mac", record.MAC,
				"kind", record.Kind,
				"proxy", record.LastProxy,
				"rssi", record.LastRSSI,
			)
		}
	}

	if err := p.publisher.PublishState(record); err != nil {
		p.logger.Warn("State publish failed", "mac", record.MAC, "error", err)
	}

	if p.history != nil {
		p.history.WriteRSSI(record.MAC, record.LastProxy, string(record.Kind), record.LastRSSI, record.LastSeenAt)
	}
	if p.events != nil {
		p.events.DeviceUpdated(record, isNew)
	}
}
