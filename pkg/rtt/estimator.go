// Package rtt provides round-trip time estimation and the derived
// retransmission timeout.
package rtt

import (
	"math"
	"time"

	"github.com/skycoin/rdt/pkg/wire"
)

// Defaults of a fresh Estimator.
const (
	DefaultAlpha      = 0.125
	DefaultEstimate   = 500 * time.Millisecond
	DefaultDeviation  = 250 * time.Millisecond
	DefaultMinTimeout = time.Millisecond

	deviationFactor = 4
)

// Estimator keeps exponentially weighted moving averages of the
// round-trip time and of its deviation.
type Estimator struct {
	Alpha      float64
	MinTimeout time.Duration

	est float64 // nanoseconds
	dev float64 // nanoseconds
	n   int64
}

// New makes an Estimator with the default parameters.
func New() *Estimator {
	return NewWithConfig(DefaultEstimate, DefaultDeviation, DefaultMinTimeout)
}

// NewWithConfig makes an Estimator with the given initial estimates.
func NewWithConfig(est, dev, minTimeout time.Duration) *Estimator {
	return &Estimator{
		Alpha:      DefaultAlpha,
		MinTimeout: minTimeout,
		est:        float64(est),
		dev:        float64(dev),
	}
}

// AddSample folds a new RTT sample into the estimate.
func (e *Estimator) AddSample(sample time.Duration) {
	s := float64(sample)
	e.n++
	e.est = (1-e.Alpha)*e.est + e.Alpha*s
	e.dev = (1-e.Alpha)*e.dev + e.Alpha*math.Abs(s-e.est)
}

// Estimate returns the smoothed RTT.
func (e *Estimator) Estimate() time.Duration { return time.Duration(e.est) }

// Deviation returns the smoothed deviation.
func (e *Estimator) Deviation() time.Duration { return time.Duration(e.dev) }

// Samples returns the number of samples seen so far.
func (e *Estimator) Samples() int64 { return e.n }

// Timeout returns the retransmission timeout, never below MinTimeout.
func (e *Estimator) Timeout() time.Duration {
	rto := time.Duration(e.est + deviationFactor*e.dev)
	if rto < e.MinTimeout {
		return e.MinTimeout
	}
	return rto
}

// SampleFromAck computes a sample as the ack's timestamp minus the time the
// segment was last sent. The ack timestamp comes from the receiver's clock,
// so the sample is only meaningful when both clocks agree.
func SampleFromAck(lastSent time.Time, ackTimestamp float64) time.Duration {
	return wire.Time(ackTimestamp).Sub(lastSent)
}

// SampleFromEcho computes a sample from a send time the receiver echoed back
// unchanged. It depends on the sender's clock only.
func SampleFromEcho(now time.Time, echoed float64) time.Duration {
	return now.Sub(wire.Time(echoed))
}
