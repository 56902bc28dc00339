package scan

import (
	"sync"
	"time"
)

// Status is a point-in-time snapshot of the controller state.
type Status struct {
	Running   bool       `json:"running"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
}

// Controller is the stopped/running state machine gating ingestion.
//
// Transitions happen only through explicit Start and Stop calls; there
// are no automatic timeouts. Both calls are idempotent: starting while
// running and stopping while stopped are no-ops, not errors. While
// stopped the registry refuses observations; the MQTT subscriptions
// stay active so no broker state is churned by a start/stop cycle.
type Controller struct {
	mu        sync.RWMutex
	running   bool
	startedAt *time.Time
	stoppedAt *time.Time

	// onChange, if set, is invoked after every actual transition (not
	// after no-op calls) with the new running state. Used to push the
	// scanner status message to the broker.
	onChange func(running bool)
}

// NewController creates a controller in the stopped state.
func NewController() *Controller {
	return &Controller{}
}

// OnChange registers the transition callback. Must be called before the
// controller is shared across goroutines.
func (c *Controller) OnChange(fn func(running bool)) {
	c.onChange = fn
}

// Start transitions to running. Returns true if a transition happened.
func (c *Controller) Start() bool {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return false
	}
	now := time.Now().UTC()
	c.running = true
	c.startedAt = &now
	fn := c.onChange
	c.mu.Unlock()

	if fn != nil {
		fn(true)
	}
	return true
}

// Stop transitions to stopped. Returns true if a transition happened.
func (c *Controller) Stop() bool {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return false
	}
	now := time.Now().UTC()
	c.running = false
	c.stoppedAt = &now
	fn := c.onChange
	c.mu.Unlock()

	if fn != nil {
		fn(false)
	}
	return true
}

// Running reports whether scanning is active. Satisfies device.ScanGate.
func (c *Controller) Running() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// Status returns a snapshot of the current state.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := Status{Running: c.running}
	if c.startedAt != nil {
		t := *c.startedAt
		status.StartedAt = &t
	}
	if c.stoppedAt != nil {
		t := *c.stoppedAt
		status.StoppedAt = &t
	}
	return status
}
