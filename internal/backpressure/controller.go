// Package backpressure implements admission control at the submission
// boundary: deep queues delay new work, overfull queues reject it.
package backpressure

import (
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/verso/internal/common"
)

// Verdict is the admission decision for one submission.
type Verdict string

const (
	VerdictAccept Verdict = "accept"
	VerdictDelay  Verdict = "delay"
	VerdictReject Verdict = "reject"
)

// State is a point-in-time view of the controller for observability.
type State struct {
	SoftLimit int           `json:"soft_limit"`
	HardLimit int           `json:"hard_limit"`
	BaseDelay time.Duration `json:"base_delay"`
	MaxDelay  time.Duration `json:"max_delay"`
	Accepted  int64         `json:"accepted"`
	Delayed   int64         `json:"delayed"`
	Rejected  int64         `json:"rejected"`
}

// Controller evaluates queue depth against configured limits before a
// submission is accepted.
type Controller struct {
	mu        sync.Mutex
	softLimit int
	hardLimit int
	baseDelay time.Duration
	maxDelay  time.Duration
	accepted  int64
	delayed   int64
	rejected  int64
	logger    arbor.ILogger
}

// NewController creates a controller from the backpressure configuration.
func NewController(config common.BackpressureConfig, logger arbor.ILogger) *Controller {
	return &Controller{
		softLimit: config.SoftLimit,
		hardLimit: config.HardLimit,
		baseDelay: config.BaseDelay,
		maxDelay:  config.MaxDelay,
		logger:    logger,
	}
}

// Check evaluates the current queue depth. Depths at or below the soft limit
// are accepted; above the hard limit they are rejected; in between the
// submission is delayed, the delay doubling for every unit of overage until
// the configured maximum.
func (c *Controller) Check(depth int) (Verdict, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if depth >= c.hardLimit {
		c.rejected++
		c.logger.Warn().
			Int("depth", depth).
			Int("hard_limit", c.hardLimit).
			Msg("Submission rejected, queue full")
		return VerdictReject, 0
	}
	if depth >= c.softLimit {
		overage := depth - c.softLimit
		delay := c.baseDelay << uint(overage)
		if delay > c.maxDelay || delay < c.baseDelay {
			// The second clause catches shift overflow.
			delay = c.maxDelay
		}
		c.delayed++
		c.logger.Debug().
			Int("depth", depth).
			Dur("delay", delay).
			Msg("Submission delayed by backpressure")
		return VerdictDelay, delay
	}
	c.accepted++
	return VerdictAccept, 0
}

// Snapshot returns the controller's limits and counters.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		SoftLimit: c.softLimit,
		HardLimit: c.hardLimit,
		BaseDelay: c.baseDelay,
		MaxDelay:  c.maxDelay,
		Accepted:  c.accepted,
		Delayed:   c.delayed,
		Rejected:  c.rejected,
	}
}
