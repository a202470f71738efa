package rdp

// MetricsSink receives observability events from a [ControlBlock]. It is a
// capability the core is polymorphic over, same spirit as [Transport],
// [Allocator] and [Clock], kept separate from those three because nothing
// about correctness depends on it: only ambient instrumentation does. See
// internal/metrics for the Prometheus-backed implementation wired by
// cmd/rdpecho.
type MetricsSink interface {
	RetransmitSent()
	RetransmitAcked()
	EackSent()
	WindowBlocked()
	HandshakeComplete(durationMs uint32)
}

type noopMetrics struct{}

func (noopMetrics) RetransmitSent()                     {}
func (noopMetrics) RetransmitAcked()                    {}
func (noopMetrics) EackSent()                           {}
func (noopMetrics) WindowBlocked()                      {}
func (noopMetrics) HandshakeComplete(durationMs uint32) {}
