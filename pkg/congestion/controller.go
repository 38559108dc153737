// Package congestion implements the window-based congestion controller
// of a sender session.
package congestion

import (
	"fmt"
	"math"
)

const (
	// DefaultThreshold is the initial slow-start threshold, in segments.
	DefaultThreshold = 16

	// LossThreshold is the number of timeouts of a single segment that
	// count as a loss signal.
	LossThreshold = 5

	minThreshold = 4
	minWindow    = 1
)

// Controller tracks the congestion window and the slow-start threshold.
// It is owned by a single event loop and is not safe for concurrent use.
type Controller struct {
	window   float64
	ssthresh float64
}

// New makes a Controller in slow start with a window of one segment.
func New() *Controller {
	return NewWithThreshold(DefaultThreshold)
}

// NewWithThreshold makes a Controller with the given initial threshold.
func NewWithThreshold(ssthresh float64) *Controller {
	if ssthresh < minThreshold {
		ssthresh = minThreshold
	}
	return &Controller{window: minWindow, ssthresh: ssthresh}
}

// OnAck grows the window: by one segment per ack in slow start, by one
// segment per window's worth of acks in congestion avoidance.
func (c *Controller) OnAck() {
	if c.window < c.ssthresh {
		c.window++
		return
	}
	c.window += 1 / c.window
}

// OnLoss halves the threshold and restarts slow start.
func (c *Controller) OnLoss() {
	c.ssthresh = math.Max(minThreshold, c.window/2)
	c.window = minWindow
}

// Window returns the real-valued congestion window.
func (c *Controller) Window() float64 { return c.window }

// Threshold returns the slow-start threshold.
func (c *Controller) Threshold() float64 { return c.ssthresh }

// InSlowStart reports whether the controller is in the slow-start phase.
func (c *Controller) InSlowStart() bool { return c.window < c.ssthresh }

// Allowed returns the number of segments that may be in flight.
func (c *Controller) Allowed() int {
	n := int(math.Floor(c.window))
	if n < minWindow {
		return minWindow
	}
	return n
}

// CanSend reports whether a new segment may be sent while inFlight
// segments are unacknowledged.
func (c *Controller) CanSend(inFlight int) bool {
	return inFlight < c.Allowed()
}

func (c *Controller) String() string {
	phase := "avoidance"
	if c.InSlowStart() {
		phase = "slow-start"
	}
	return fmt.Sprintf("<cwnd:%.2f><ssthresh:%.2f><phase:%s>", c.window, c.ssthresh, phase)
}
