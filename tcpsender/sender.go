// Package tcpsender implements the send half of a TCP endpoint: windowed
// segmentation of an outbound byte stream, an in-flight ledger, and an
// exponentially-backed-off retransmission timer.
package tcpsender

import (
	"log"
	"os"
	"time"

	"github.com/m-lab/go/logx"

	"github.com/m-lab/tcpstack/bytestream"
	"github.com/m-lab/tcpstack/headers"
	"github.com/m-lab/tcpstack/metrics"
	"github.com/m-lab/tcpstack/seqnum"
)

var (
	sparseLogger = log.New(os.Stderr, "tcpsender: ", log.LstdFlags|log.Lshortfile)
	sparseRetx   = logx.NewLogEvery(sparseLogger, 500*time.Millisecond)
)

// Segment is an outbound TCP segment as produced by the sender, before the
// owning connection stamps it with ACK/ackno/window.
type Segment struct {
	SeqNum  seqnum.WrappingInt32
	Flags   headers.TCPFlags
	Payload []byte
}

type inFlightSegment struct {
	seqAbs uint64
	length uint64
	seg    Segment
}

// TCPSender windows an outbound ByteStream into wire segments, tracks
// bytes in flight, and retransmits on RTO expiry.
type TCPSender struct {
	isn          seqnum.WrappingInt32
	nextSeqnoAbs uint64
	recvAcknoAbs uint64
	recvWin      uint16
	retransCnt   int

	initialRTO     uint32
	rto            uint32
	timerRunning   bool
	timerRemaining uint32

	maxPayload uint16
	finSent    bool

	streamIn *bytestream.ByteStream
	outbound []Segment
	inFlight []inFlightSegment
}

// New returns a TCPSender reading from a freshly allocated outbound
// ByteStream of the given capacity.
func New(sendCapacity uint64, isn seqnum.WrappingInt32, initialRTOMillis uint32, maxPayloadSize uint16) *TCPSender {
	return &TCPSender{
		isn:        isn,
		initialRTO: initialRTOMillis,
		rto:        initialRTOMillis,
		maxPayload: maxPayloadSize,
		streamIn:   bytestream.New(sendCapacity),
		// Assume a window of 1 until the peer's first ACK says otherwise,
		// so the initial SYN can be sent and its own retransmission backs
		// off normally rather than being mistaken for a zero-window probe.
		recvWin: 1,
	}
}

// StreamIn returns the byte stream the application writes outbound data
// into.
func (s *TCPSender) StreamIn() *bytestream.ByteStream {
	return s.streamIn
}

// BytesInFlight returns the number of sent, not yet cumulatively
// acknowledged bytes (including SYN/FIN sequence-space bytes).
func (s *TCPSender) BytesInFlight() uint64 {
	return s.nextSeqnoAbs - s.recvAcknoAbs
}

// SynSent reports whether the SYN has been transmitted.
func (s *TCPSender) SynSent() bool { return s.nextSeqnoAbs >= 1 }

// FinSent reports whether a FIN-carrying segment has been transmitted.
func (s *TCPSender) FinSent() bool { return s.finSent }

// SynAcked reports whether the peer has acknowledged the SYN.
func (s *TCPSender) SynAcked() bool { return s.recvAcknoAbs >= 1 }

// FinAcked reports whether the peer has acknowledged the FIN.
func (s *TCPSender) FinAcked() bool {
	return s.finSent && s.recvAcknoAbs == s.nextSeqnoAbs
}

// ConsecutiveRetransmissions returns the current retransmission count,
// reset to zero by any ACK that fully acknowledges at least one in-flight
// segment.
func (s *TCPSender) ConsecutiveRetransmissions() int {
	return s.retransCnt
}

// RTO returns the sender's current (possibly backed-off) retransmission
// timeout, in milliseconds.
func (s *TCPSender) RTO() uint32 {
	return s.rto
}

// NextSeqno returns the wire-form sequence number the next byte sent
// would carry.
func (s *TCPSender) NextSeqno() seqnum.WrappingInt32 {
	return seqnum.Wrap(s.nextSeqnoAbs, s.isn)
}

// PendingOutbound reports how many segments are queued for transmission,
// without draining them.
func (s *TCPSender) PendingOutbound() int {
	return len(s.outbound)
}

// FillWindow builds as many segments as the peer's advertised window
// allows, reading payload from StreamIn and attaching SYN/FIN as needed.
func (s *TCPSender) FillWindow() {
	window := uint64(s.recvWin)
	if window == 0 {
		window = 1 // zero-window probing
	}

	for s.nextSeqnoAbs < s.recvAcknoAbs+window {
		remaining := s.recvAcknoAbs + window - s.nextSeqnoAbs

		var flags headers.TCPFlags
		var consumed uint64
		if !s.SynSent() {
			flags |= headers.TCPFlagSYN
			consumed = 1
		}

		avail := remaining - consumed
		readLen := uint64(s.maxPayload)
		if avail < readLen {
			readLen = avail
		}
		payload := s.streamIn.Read(int(readLen))

		seqLen := consumed + uint64(len(payload))
		if !s.finSent && s.streamIn.EOF() && seqLen < remaining {
			flags |= headers.TCPFlagFIN
			seqLen++
		}
		if seqLen == 0 {
			break
		}

		seg := Segment{SeqNum: seqnum.Wrap(s.nextSeqnoAbs, s.isn), Flags: flags, Payload: payload}
		s.outbound = append(s.outbound, seg)
		s.inFlight = append(s.inFlight, inFlightSegment{seqAbs: s.nextSeqnoAbs, length: seqLen, seg: seg})
		if flags.FIN() {
			s.finSent = true
		}
		s.nextSeqnoAbs += seqLen

		if !s.timerRunning {
			s.timerRunning = true
			s.timerRemaining = s.rto
		}
	}
}

// AckReceived processes an ACK, updating the in-flight ledger and
// resetting the retransmission timer once at least one in-flight segment
// is fully acknowledged.
func (s *TCPSender) AckReceived(ackno seqnum.WrappingInt32, windowSize uint16) {
	acknoAbs := seqnum.Unwrap(ackno, s.isn, s.nextSeqnoAbs)
	if acknoAbs < s.recvAcknoAbs || acknoAbs > s.nextSeqnoAbs {
		return
	}
	s.recvAcknoAbs = acknoAbs
	s.recvWin = windowSize

	dropped := false
	for len(s.inFlight) > 0 {
		front := s.inFlight[0]
		if front.seqAbs+front.length > s.recvAcknoAbs {
			break
		}
		s.inFlight = s.inFlight[1:]
		dropped = true
	}
	if dropped {
		s.retransCnt = 0
		s.rto = s.initialRTO
		metrics.RTOHistogram.Observe(float64(s.rto))
		if len(s.inFlight) > 0 {
			s.timerRunning = true
			s.timerRemaining = s.rto
		} else {
			s.timerRunning = false
		}
	}
}

// Tick advances the retransmission timer by ms milliseconds, retransmitting
// the oldest in-flight segment on expiry.
func (s *TCPSender) Tick(ms uint32) {
	if !s.timerRunning {
		return
	}
	if ms < s.timerRemaining {
		s.timerRemaining -= ms
		return
	}

	if len(s.inFlight) == 0 {
		s.timerRunning = false
		return
	}
	oldest := s.inFlight[0]
	s.outbound = append(s.outbound, oldest.seg)
	metrics.SenderRetransmissions.Inc()

	if s.recvWin > 0 {
		s.retransCnt++
		s.rto *= 2
		metrics.RTOHistogram.Observe(float64(s.rto))
		sparseRetx.Printf("retransmitting seqno=%v attempt=%d rto=%dms", oldest.seg.SeqNum, s.retransCnt, s.rto)
	} else {
		// The peer is genuinely zero-windowed; a probe going unanswered
		// is not a sign of loss, so we must not back off or count it.
		metrics.SenderZeroWindowProbes.Inc()
	}
	s.timerRunning = true
	s.timerRemaining = s.rto
}

// SendEmptySegment pushes a flagless, payload-less segment stamped with
// the current seqno. It does not enter the in-flight ledger.
func (s *TCPSender) SendEmptySegment() {
	s.outbound = append(s.outbound, Segment{SeqNum: seqnum.Wrap(s.nextSeqnoAbs, s.isn)})
}

// DrainOutbound returns and clears the segments queued for transmission
// since the last call.
func (s *TCPSender) DrainOutbound() []Segment {
	out := s.outbound
	s.outbound = nil
	return out
}
