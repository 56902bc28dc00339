// Package mqtt provides the broker connection shared by the ingestion
// pipeline and the discovery publisher.
//
// It wraps paho.mqtt.golang with:
//   - Connection lifecycle management and health checks
//   - Automatic reconnection with exponential backoff
//   - Subscription tracking and restoration after reconnect
//   - Panic recovery around message handlers (malformed input from an
//     uncontrolled peer must never take the pipeline down)
//   - A retained Last Will and Testament on ble_scanner/status so
//     consumers can detect an unexpected scanner death
//
// Broker connectivity loss is handled entirely inside this package: the
// rest of the system simply stops receiving messages until the connection
// resumes, at which point subscriptions are restored and ingestion
// catches back up.
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe("esphome/+/ble_advertise", 1, pipeline.HandleMessage)
package mqtt
