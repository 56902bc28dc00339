// Package ingest connects the broker to the device registry.
//
// A Pipeline subscribes the configured topic filters on the shared MQTT
// client and, for each message, runs match, decode, apply, and the
// downstream effects. It owns attribution: decoders parse only what is
// on the wire, while the pipeline stamps the reporting proxy (from the
// matched topic) and the observation timestamp.
package ingest
