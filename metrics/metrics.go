// Package metrics defines the prometheus instrumentation shared by the
// stack's components.
//
// When defining new operations or metrics, these are helpful values to
// track:
//  - things coming into or going out of the system: segments, frames, datagrams.
//  - the success or error status of any of the above.
//  - the distribution of processing latency.
package metrics

import (
	"fmt"
	"log"
	"runtime/debug"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReassemblerBytesDropped counts bytes pushed to a StreamReassembler
	// that were discarded because they fell outside the current window.
	//
	// Provides metrics:
	//   tcpstack_reassembler_bytes_dropped_total{reason}
	ReassemblerBytesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tcpstack_reassembler_bytes_dropped_total",
			Help: "Bytes pushed to the reassembler but discarded.",
		},
		// "below_window" or "above_window"
		[]string{"reason"},
	)

	// ReceiverSegmentsDropped counts inbound TCP segments dropped by the
	// receiver before reaching the reassembler.
	//
	// Provides metrics:
	//   tcpstack_receiver_segments_dropped_total{reason}
	ReceiverSegmentsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tcpstack_receiver_segments_dropped_total",
			Help: "Segments dropped by the receiver before reassembly.",
		},
		// "no_syn_yet" or "duplicate_syn"
		[]string{"reason"},
	)

	// SenderRetransmissions counts retransmissions fired by the sender's
	// RTO timer.
	//
	// Provides metrics:
	//   tcpstack_sender_retransmissions_total
	SenderRetransmissions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tcpstack_sender_retransmissions_total",
			Help: "Number of segments retransmitted due to RTO expiry.",
		},
	)

	// SenderZeroWindowProbes counts RTO-driven retransmissions fired while
	// the peer advertises a zero window (these do not back off the RTO).
	// The first transmission of a probe is not counted.
	//
	// Provides metrics:
	//   tcpstack_sender_zero_window_probes_total
	SenderZeroWindowProbes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tcpstack_sender_zero_window_probes_total",
			Help: "Number of retransmissions fired while the peer window is zero.",
		},
	)

	// ConnectionResets counts RST segments sent or received, by direction.
	//
	// Provides metrics:
	//   tcpstack_connection_resets_total{direction}
	ConnectionResets = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tcpstack_connection_resets_total",
			Help: "RST segments observed, by direction.",
		},
		// "sent" or "received"
		[]string{"direction"},
	)

	// ARPCacheEvents counts ARP cache state transitions.
	//
	// Provides metrics:
	//   tcpstack_arp_cache_events_total{event}
	ARPCacheEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tcpstack_arp_cache_events_total",
			Help: "ARP cache learn/expire/request events.",
		},
		// "learned", "expired", or "request_sent"
		[]string{"event"},
	)

	// RouterDatagramsDropped counts datagrams the router discarded.
	//
	// Provides metrics:
	//   tcpstack_router_datagrams_dropped_total{reason}
	RouterDatagramsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tcpstack_router_datagrams_dropped_total",
			Help: "Datagrams dropped by the router.",
		},
		// "ttl_expired" or "no_route"
		[]string{"reason"},
	)

	// RTOHistogram provides a histogram of the sender's live retransmission
	// timeout, sampled whenever it changes.
	//
	// Provides metrics:
	//   tcpstack_sender_rto_milliseconds_bucket{le}
	RTOHistogram = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tcpstack_sender_rto_milliseconds",
			Help:    "Distribution of the sender's live RTO value.",
			Buckets: []float64{50, 100, 200, 400, 800, 1600, 3200, 6400, 12800, 25600, 51200},
		},
	)

	// PanicCount counts the number of panics encountered.
	//
	// Provides metrics:
	//   tcpstack_panic_count{source}
	PanicCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tcpstack_panic_count",
			Help: "Number of panics encountered.",
		},
		[]string{"source"},
	)
)

// CountPanics updates the PanicCount metric, then repanics. It must be
// wrapped in a defer.
func CountPanics(r interface{}, tag string) {
	if r != nil {
		err, ok := r.(error)
		if !ok {
			log.Println("bad recovery conversion")
			err = fmt.Errorf("pkg: %v", r)
		}
		log.Println("Adding metrics for panic:", err)
		PanicCount.WithLabelValues(tag).Inc()
		debug.PrintStack()
		panic(r)
	}
}

// PanicToErr captures a panic and converts it into an error instead of
// letting it propagate. Use with care: a panic may mean internal state is
// corrupted. It must be wrapped in a defer, with err as a named return.
func PanicToErr(err error, r interface{}, tag string) error {
	if r != nil {
		var ok bool
		err, ok = r.(error)
		if !ok {
			log.Println("bad recovery conversion")
			err = fmt.Errorf("pkg: %v", r)
		}
		log.Println("Recovered from panic:", err)
		PanicCount.WithLabelValues(tag).Inc()
		debug.PrintStack()
	}
	return err
}
