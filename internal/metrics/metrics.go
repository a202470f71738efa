// Package metrics implements rdp.MetricsSink with Prometheus collectors,
// registered through promauto exactly as m-lab-tcp-info/metrics does for
// its netlink pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	retransmitSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rdp_retransmits_sent_total",
		Help: "Segments re-sent by the retransmission timeout sweep.",
	})
	retransmitAcked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rdp_retransmit_queue_acked_total",
		Help: "Retransmission-queue entries freed because they were acknowledged.",
	})
	eackSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rdp_eacks_sent_total",
		Help: "Selective-acknowledgement segments sent.",
	})
	windowBlocked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rdp_send_window_blocked_total",
		Help: "Times Send blocked because the sliding window was full.",
	})
	handshakeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rdp_handshake_duration_seconds",
		Help:    "Wall time from SYN sent/received to OPEN.",
		Buckets: prometheus.DefBuckets,
	})
)

// Sink is the promauto-backed rdp.MetricsSink wired into cmd/rdpecho.
type Sink struct{}

func (Sink) RetransmitSent()  { retransmitSent.Inc() }
func (Sink) RetransmitAcked() { retransmitAcked.Inc() }
func (Sink) EackSent()        { eackSent.Inc() }
func (Sink) WindowBlocked()   { windowBlocked.Inc() }
func (Sink) HandshakeComplete(durationMs uint32) {
	handshakeDuration.Observe(float64(durationMs) / 1000)
}
