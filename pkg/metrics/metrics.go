// Package metrics exposes Prometheus instrumentation for the reliability
// layer: outstanding-byte gauges, packet counters, and connection-state
// gauges, all keyed by channel id so a process hosting many channels
// gets one time series per channel.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector owns the registered metric vectors and the methods that
// update them. It has no knowledge of pkg/channel; callers wire its
// methods into channel.Option hooks (see WithCollector in pkg/channel).
type Collector struct {
	packetsSent          *prometheus.CounterVec
	packetsAcked         *prometheus.CounterVec
	packetsRetransmitted *prometheus.CounterVec
	packetsExhausted     *prometheus.CounterVec
	duplicatesSuppressed *prometheus.CounterVec
	bufferedAmount       *prometheus.GaugeVec
	connectionState      *prometheus.GaugeVec
}

// NewCollector constructs a Collector and registers its metric vectors
// against reg. Pass prometheus.DefaultRegisterer for the global
// registry, or a fresh prometheus.NewRegistry() in tests.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		packetsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reliablelink",
			Name:      "packets_sent_total",
			Help:      "Non-ACK packets handed to the carrier for the first time; retransmissions are counted separately.",
		}, []string{"channel_id"}),
		packetsAcked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reliablelink",
			Name:      "packets_acked_total",
			Help:      "Outstanding packets cancelled after their ACK arrived.",
		}, []string{"channel_id"}),
		packetsRetransmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reliablelink",
			Name:      "packets_retransmitted_total",
			Help:      "Retransmission attempts fired by the reliability engine.",
		}, []string{"channel_id"}),
		packetsExhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reliablelink",
			Name:      "packets_retransmission_exhausted_total",
			Help:      "Outstanding packets dropped after exhausting their retransmission budget.",
		}, []string{"channel_id"}),
		duplicatesSuppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reliablelink",
			Name:      "duplicates_suppressed_total",
			Help:      "Inbound packets recognised as already-seen and not delivered upstream.",
		}, []string{"channel_id"}),
		bufferedAmount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "reliablelink",
			Name:      "buffered_amount_bytes",
			Help:      "Encoded byte size of packets sent but not yet acknowledged.",
		}, []string{"channel_id"}),
		connectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "reliablelink",
			Name:      "connection_state",
			Help:      "Current connection lifecycle state (0=CONNECTING,1=OPEN,2=CLOSING,3=CLOSED).",
		}, []string{"channel_id"}),
	}

	reg.MustRegister(
		c.packetsSent,
		c.packetsAcked,
		c.packetsRetransmitted,
		c.packetsExhausted,
		c.duplicatesSuppressed,
		c.bufferedAmount,
		c.connectionState,
	)
	return c
}

// IncPacketsSent records one non-ACK packet handed to the carrier.
func (c *Collector) IncPacketsSent(channelID string) {
	c.packetsSent.WithLabelValues(channelID).Inc()
}

// IncPacketsAcked records one outstanding packet cancelled by its ACK.
func (c *Collector) IncPacketsAcked(channelID string) {
	c.packetsAcked.WithLabelValues(channelID).Inc()
}

// IncPacketsRetransmitted records one retransmission attempt.
func (c *Collector) IncPacketsRetransmitted(channelID string) {
	c.packetsRetransmitted.WithLabelValues(channelID).Inc()
}

// IncRetransmissionExhausted records one packet dropped after its
// retransmission budget ran out.
func (c *Collector) IncRetransmissionExhausted(channelID string) {
	c.packetsExhausted.WithLabelValues(channelID).Inc()
}

// IncDuplicateSuppressed records one inbound packet recognised as a
// duplicate and not delivered upstream.
func (c *Collector) IncDuplicateSuppressed(channelID string) {
	c.duplicatesSuppressed.WithLabelValues(channelID).Inc()
}

// SetBufferedAmount updates the current unacknowledged-byte gauge.
func (c *Collector) SetBufferedAmount(channelID string, bytes int) {
	c.bufferedAmount.WithLabelValues(channelID).Set(float64(bytes))
}

// SetConnectionState updates the lifecycle-state gauge, using the
// conn.State ordinal (0..3) passed in by the caller.
func (c *Collector) SetConnectionState(channelID string, state int) {
	c.connectionState.WithLabelValues(channelID).Set(float64(state))
}
