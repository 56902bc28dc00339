package ble

import "errors"

// Domain-specific errors for advertisement processing.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotThisFormat is returned by an individual decoder when the
	// payload does not belong to its wire format. The chain moves on to
	// the next decoder; this error never leaves Decode.
	ErrNotThisFormat = errors.New("ble: payload is not this format")

	// ErrUnknownFormat is returned by Decode when every decoder rejected
	// the payload. Callers log it at debug level and discard the message;
	// malformed input from an uncontrolled peer is never fatal.
	ErrUnknownFormat = errors.New("ble: no decoder recognized payload")

	// ErrInvalidMAC is returned when a MAC address cannot be normalized
	// to the canonical form (not 12 hex digits).
	ErrInvalidMAC = errors.New("ble: invalid MAC address")

	// ErrInvalidFilter is returned when an MQTT topic filter is malformed
	// (wildcards sharing a level with text, or '#' not in last position).
	ErrInvalidFilter = errors.New("ble: invalid topic filter")
)
