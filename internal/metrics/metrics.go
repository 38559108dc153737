// Package metrics records protocol counters of sender and receiver
// sessions.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SenderRecorder records sender session events.
type SenderRecorder interface {
	SegmentSent(size int)
	Retransmitted(timeout bool)
	Acked(sample time.Duration)
	CorruptionNotice()
	Loss()
	Window(cwnd, ssthresh float64, rto time.Duration)
}

// ReceiverRecorder records receiver session events.
type ReceiverRecorder interface {
	Datagram()
	Dropped()
	Corrupted()
	Duplicate()
	Delivered(n int)
	Buffered(n int)
}

type dummy struct{}

// NewDummy constructs a recorder that discards everything. It implements
// both SenderRecorder and ReceiverRecorder.
func NewDummy() interface {
	SenderRecorder
	ReceiverRecorder
} {
	return dummy{}
}

func (dummy) SegmentSent(int) {}
func (dummy) Retransmitted(bool) {}
func (dummy) Acked(time.Duration) {}
func (dummy) CorruptionNotice() {}
func (dummy) Loss() {}
func (dummy) Window(float64, float64, time.Duration) {}
func (dummy) Datagram() {}
func (dummy) Dropped() {}
func (dummy) Corrupted() {}
func (dummy) Duplicate() {}
func (dummy) Delivered(int) {}
func (dummy) Buffered(int) {}

type promSender struct {
	segments    prometheus.Counter
	bytes       prometheus.Counter
	retransmits *prometheus.CounterVec
	acks        prometheus.Counter
	notices     prometheus.Counter
	losses      prometheus.Counter
	rtt         prometheus.Summary
	cwnd        prometheus.Gauge
	ssthresh    prometheus.Gauge
	rto         prometheus.Gauge
}

// NewPrometheusSender constructs a Prometheus sender recorder registered
// on the default registry.
func NewPrometheusSender(service string) SenderRecorder {
	return newPrometheusSender(service, prometheus.DefaultRegisterer)
}

func newPrometheusSender(service string, reg prometheus.Registerer) *promSender {
	f := promauto.With(reg)
	return &promSender{
		segments: f.NewCounter(prometheus.CounterOpts{
			Name: service + "_segments_total",
			Help: "The total number of data segments sent for the first time",
		}),
		bytes: f.NewCounter(prometheus.CounterOpts{
			Name: service + "_payload_bytes_total",
			Help: "The total number of payload bytes sent for the first time",
		}),
		retransmits: f.NewCounterVec(prometheus.CounterOpts{
			Name: service + "_retransmits_total",
			Help: "The total number of retransmitted segments",
		}, []string{"reason"}),
		acks: f.NewCounter(prometheus.CounterOpts{
			Name: service + "_acks_total",
			Help: "The total number of acks matching an in-flight segment",
		}),
		notices: f.NewCounter(prometheus.CounterOpts{
			Name: service + "_corruption_notices_total",
			Help: "The total number of corruption notices received",
		}),
		losses: f.NewCounter(prometheus.CounterOpts{
			Name: service + "_losses_total",
			Help: "The total number of congestion loss responses",
		}),
		rtt: f.NewSummary(prometheus.SummaryOpts{
			Name: service + "_rtt_seconds",
			Help: "RTT samples",
		}),
		cwnd: f.NewGauge(prometheus.GaugeOpts{
			Name: service + "_cwnd",
			Help: "The congestion window, in segments",
		}),
		ssthresh: f.NewGauge(prometheus.GaugeOpts{
			Name: service + "_ssthresh",
			Help: "The slow-start threshold, in segments",
		}),
		rto: f.NewGauge(prometheus.GaugeOpts{
			Name: service + "_rto_seconds",
			Help: "The retransmission timeout",
		}),
	}
}

func (m *promSender) SegmentSent(size int) {
	m.segments.Inc()
	m.bytes.Add(float64(size))
}

func (m *promSender) Retransmitted(timeout bool) {
	reason := "corrupted"
	if timeout {
		reason = "timeout"
	}
	m.retransmits.WithLabelValues(reason).Inc()
}

func (m *promSender) Acked(sample time.Duration) {
	m.acks.Inc()
	m.rtt.Observe(sample.Seconds())
}

func (m *promSender) CorruptionNotice() { m.notices.Inc() }

func (m *promSender) Loss() { m.losses.Inc() }

func (m *promSender) Window(cwnd, ssthresh float64, rto time.Duration) {
	m.cwnd.Set(cwnd)
	m.ssthresh.Set(ssthresh)
	m.rto.Set(rto.Seconds())
}

type promReceiver struct {
	datagrams prometheus.Counter
	dropped   prometheus.Counter
	corrupted prometheus.Counter
	dups      prometheus.Counter
	delivered prometheus.Counter
	buffered  prometheus.Gauge
}

// NewPrometheusReceiver constructs a Prometheus receiver recorder
// registered on the default registry.
func NewPrometheusReceiver(service string) ReceiverRecorder {
	return newPrometheusReceiver(service, prometheus.DefaultRegisterer)
}

func newPrometheusReceiver(service string, reg prometheus.Registerer) *promReceiver {
	f := promauto.With(reg)
	return &promReceiver{
		datagrams: f.NewCounter(prometheus.CounterOpts{
			Name: service + "_datagrams_total",
			Help: "The total number of datagrams received",
		}),
		dropped: f.NewCounter(prometheus.CounterOpts{
			Name: service + "_dropped_total",
			Help: "The total number of malformed or foreign datagrams dropped",
		}),
		corrupted: f.NewCounter(prometheus.CounterOpts{
			Name: service + "_corrupted_total",
			Help: "The total number of datagrams failing the integrity check",
		}),
		dups: f.NewCounter(prometheus.CounterOpts{
			Name: service + "_duplicates_total",
			Help: "The total number of duplicate segments",
		}),
		delivered: f.NewCounter(prometheus.CounterOpts{
			Name: service + "_delivered_bytes_total",
			Help: "The total number of bytes delivered in order",
		}),
		buffered: f.NewGauge(prometheus.GaugeOpts{
			Name: service + "_buffered_segments",
			Help: "Segments waiting in the reorder buffer",
		}),
	}
}

func (m *promReceiver) Datagram() { m.datagrams.Inc() }
func (m *promReceiver) Dropped() { m.dropped.Inc() }
func (m *promReceiver) Corrupted() { m.corrupted.Inc() }
func (m *promReceiver) Duplicate() { m.dups.Inc() }
func (m *promReceiver) Delivered(n int) { m.delivered.Add(float64(n)) }
func (m *promReceiver) Buffered(n int) { m.buffered.Set(float64(n)) }
