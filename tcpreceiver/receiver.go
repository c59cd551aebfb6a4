// Package tcpreceiver implements the receive half of a TCP endpoint: it
// turns inbound segments into reassembled bytes and tracks the
// wire-visible acknowledgment number and window.
package tcpreceiver

import (
	"github.com/m-lab/tcpstack/headers"
	"github.com/m-lab/tcpstack/metrics"
	"github.com/m-lab/tcpstack/reassembly"
	"github.com/m-lab/tcpstack/seqnum"
)

// Segment is the subset of an inbound TCP segment the receiver acts on.
type Segment struct {
	SeqNum  seqnum.WrappingInt32
	Flags   headers.TCPFlags
	Payload []byte
}

// TCPReceiver wraps a StreamReassembler with SYN capture and the
// ackno/window bookkeeping a TCP peer needs to see.
type TCPReceiver struct {
	reassembler *reassembly.StreamReassembler
	isn         seqnum.WrappingInt32
	synReceived bool
}

// New returns a TCPReceiver whose reassembled output has the given
// capacity.
func New(capacity uint64) *TCPReceiver {
	return &TCPReceiver{reassembler: reassembly.New(capacity)}
}

// Output returns the receiver's StreamReassembler; its Output() is the
// stream of reassembled application bytes.
func (r *TCPReceiver) Output() *reassembly.StreamReassembler {
	return r.reassembler
}

// SynReceived reports whether the SYN has been seen.
func (r *TCPReceiver) SynReceived() bool {
	return r.synReceived
}

// ackAbsolute returns the absolute sequence number the next ackno() call
// should report: bytes written, plus one for the SYN once seen, plus one
// more once the stream has ended.
func (r *TCPReceiver) ackAbsolute() uint64 {
	abs := r.reassembler.Output().BytesWritten()
	if r.synReceived {
		abs++
	}
	if r.reassembler.Output().InputEnded() {
		abs++
	}
	return abs
}

// SegmentReceived processes one inbound segment.
func (r *TCPReceiver) SegmentReceived(seg Segment) {
	if !r.synReceived && !seg.Flags.SYN() {
		metrics.ReceiverSegmentsDropped.WithLabelValues("no_syn_yet").Inc()
		return
	}
	if r.synReceived && seg.Flags.SYN() {
		metrics.ReceiverSegmentsDropped.WithLabelValues("duplicate_syn").Inc()
		return
	}
	if seg.Flags.SYN() {
		r.isn = seg.SeqNum
		r.synReceived = true
	}

	var index uint64
	if seg.Flags.SYN() {
		index = 0
	} else {
		index = seqnum.Unwrap(seg.SeqNum, r.isn, r.ackAbsolute()) - 1
	}
	r.reassembler.PushSubstring(seg.Payload, index, seg.Flags.FIN())
}

// Ackno returns the wire-form acknowledgment number and whether one is
// available yet (it is not, until the SYN has been seen).
func (r *TCPReceiver) Ackno() (seqnum.WrappingInt32, bool) {
	if !r.synReceived {
		return 0, false
	}
	return seqnum.Wrap(r.ackAbsolute(), r.isn), true
}

// WindowSize returns the receive window, clamped to the 16-bit wire field.
func (r *TCPReceiver) WindowSize() uint16 {
	w := r.reassembler.Output().RemainingCapacity()
	if w > 0xFFFF {
		return 0xFFFF
	}
	return uint16(w)
}
