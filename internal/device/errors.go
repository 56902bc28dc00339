package device

import "errors"

// Domain-specific errors for registry operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrDeviceNotFound is returned when a MAC has no registry record.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned by AddManual when the MAC already has a
	// manual record.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrScanningDisabled is returned by Apply while the scan controller
	// is stopped. Observations arriving while stopped are not applied.
	ErrScanningDisabled = errors.New("device: scanning disabled")

	// ErrStaleUpdate is returned by Apply when an observation is older
	// than the record's current lastSeenAt. Not a failure: at-least-once
	// delivery and multiple proxies produce duplicates and reordering,
	// and dropping the stale one preserves monotonicity. Callers skip
	// downstream effects and move on without logging at error level.
	ErrStaleUpdate = errors.New("device: stale observation dropped")
)
