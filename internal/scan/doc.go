// Package scan holds the scanner's stopped/running state machine.
//
// The controller gates the ingestion pipeline: while stopped, the device
// registry refuses observations. Transitions are explicit (API calls or
// the auto_start config flag), idempotent, and reported through an
// optional callback so status can be republished to the broker.
package scan
