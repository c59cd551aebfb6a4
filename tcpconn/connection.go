// Package tcpconn assembles a TCPSender and TCPReceiver into a full TCP
// connection: segment exchange, RST handling, and the linger period after
// a clean bilateral close.
package tcpconn

import (
	"log"
	"os"
	"time"

	"github.com/m-lab/go/logx"

	"github.com/m-lab/tcpstack/bytestream"
	"github.com/m-lab/tcpstack/config"
	"github.com/m-lab/tcpstack/headers"
	"github.com/m-lab/tcpstack/metrics"
	"github.com/m-lab/tcpstack/seqnum"
	"github.com/m-lab/tcpstack/tcpreceiver"
	"github.com/m-lab/tcpstack/tcpsender"
)

// lingerMultiple is how many initial RTOs must pass since the last segment
// from the peer before a lingering connection considers itself fully
// closed, so a retransmitted final FIN from the peer still finds an ACK
// here.
const lingerMultiple = 10

var (
	sparseLogger    = log.New(os.Stderr, "tcpconn: ", log.LstdFlags|log.Lshortfile)
	sparseConnClose = logx.NewLogEvery(sparseLogger, 500*time.Millisecond)
)

// Segment is a TCP segment crossing the connection's boundary, stripped
// of the port/address fields that belong to the encapsulating datagram.
type Segment struct {
	SeqNum  seqnum.WrappingInt32
	AckNum  seqnum.WrappingInt32
	Flags   headers.TCPFlags
	Window  uint16
	Payload []byte
}

// TCPState is one of the eleven states a TCP connection can be in.
type TCPState int

const (
	StateClosed TCPState = iota
	StateListen
	StateSynSent
	StateSynRcvd
	StateEstablished
	StateCloseWait
	StateLastAck
	StateFinWait1
	StateFinWait2
	StateClosing
	StateTimeWait
)

func (s TCPState) String() string {
	switch s {
	case StateListen:
		return "LISTEN"
	case StateSynSent:
		return "SYN_SENT"
	case StateSynRcvd:
		return "SYN_RCVD"
	case StateEstablished:
		return "ESTABLISHED"
	case StateCloseWait:
		return "CLOSE_WAIT"
	case StateLastAck:
		return "LAST_ACK"
	case StateFinWait1:
		return "FIN_WAIT_1"
	case StateFinWait2:
		return "FIN_WAIT_2"
	case StateClosing:
		return "CLOSING"
	case StateTimeWait:
		return "TIME_WAIT"
	default:
		return "CLOSED"
	}
}

// TCPConnection drives a TCPSender and TCPReceiver as one endpoint of a
// connection: reading/writing application bytes, exchanging segments, and
// tearing down (cleanly or via RST) under tick-driven timers.
type TCPConnection struct {
	sender   *tcpsender.TCPSender
	receiver *tcpreceiver.TCPReceiver
	cfg      config.TCPConfig

	active bool
	reset  bool

	finSentObserved bool
	finAfterPeerFin bool

	lingering      bool
	lingerDisabled bool

	pendingRST    bool
	pendingRSTSeq seqnum.WrappingInt32

	msSinceLastSegmentReceived uint32
}

// New returns an unconnected TCPConnection built from cfg. It starts
// active (LISTEN is a live state, not a closed one): active only goes
// false once an error or a clean bilateral close ends the connection.
func New(cfg config.TCPConfig) *TCPConnection {
	return &TCPConnection{
		sender:   tcpsender.New(cfg.SendCapacity, cfg.InitialSequenceNumber(), cfg.RTTimeoutMS, cfg.MaxPayloadSize),
		receiver: tcpreceiver.New(cfg.RecvCapacity),
		cfg:      cfg,
		active:   true,
	}
}

// Connect performs an active open, sending the initial SYN.
func (c *TCPConnection) Connect() {
	c.active = true
	c.sender.FillWindow()
	c.afterFillWindow()
}

// Write enqueues data for transmission and returns the number of bytes
// accepted.
func (c *TCPConnection) Write(data []byte) int {
	n := c.sender.StreamIn().Write(data)
	c.sender.FillWindow()
	c.afterFillWindow()
	return n
}

// EndInputStream signals that the application has no more outbound data.
func (c *TCPConnection) EndInputStream() {
	c.sender.StreamIn().EndInput()
	c.sender.FillWindow()
	c.afterFillWindow()
}

// Inbound returns the stream of bytes received from the peer and
// reassembled in order.
func (c *TCPConnection) Inbound() *bytestream.ByteStream {
	return c.receiver.Output().Output()
}

// Active reports whether the connection is still live: neither cleanly
// finished its linger period nor been reset.
func (c *TCPConnection) Active() bool {
	return c.active
}

// State derives the connection's RFC 793 state from the sender's and
// receiver's current progress, rather than tracking it as independent
// mutable state.
func (c *TCPConnection) State() TCPState {
	if c.reset {
		return StateClosed
	}
	if !c.active {
		return StateClosed
	}

	synSent := c.sender.SynSent()
	synAcked := c.sender.SynAcked()
	finSent := c.sender.FinSent()
	finAcked := c.sender.FinAcked()
	synRecvd := c.receiver.SynReceived()
	finRecvd := c.receiver.Output().EOF()

	switch {
	case !synSent && !synRecvd:
		return StateListen
	case synSent && !synAcked && !synRecvd:
		return StateSynSent
	case synRecvd && !synAcked:
		return StateSynRcvd
	case synAcked && synRecvd && !finSent && !finRecvd:
		return StateEstablished
	case finRecvd && !finSent:
		return StateCloseWait
	case finSent && finAcked && !finRecvd:
		return StateFinWait2
	case finSent && !finAcked && !finRecvd:
		return StateFinWait1
	case finSent && finRecvd && !finAcked:
		if c.finAfterPeerFin {
			return StateLastAck
		}
		return StateClosing
	case finSent && finRecvd && finAcked:
		return StateTimeWait
	default:
		return StateEstablished
	}
}

// afterFillWindow records, the first time the FIN is sent, whether the
// peer's FIN had already arrived - the one bit of ordering State() needs
// to tell LAST_ACK apart from CLOSING.
func (c *TCPConnection) afterFillWindow() {
	if !c.finSentObserved && c.sender.FinSent() {
		c.finSentObserved = true
		c.finAfterPeerFin = c.receiver.Output().EOF()
	}
}

// SegmentReceived processes one inbound segment from the peer.
func (c *TCPConnection) SegmentReceived(seg Segment) {
	if !c.active {
		return
	}
	if !c.sender.SynSent() && seg.Flags.ACK() {
		return // in LISTEN, only a SYN is meaningful
	}
	if seg.Flags.RST() {
		c.handleRSTReceived()
		return
	}
	c.msSinceLastSegmentReceived = 0

	if seg.Flags.ACK() {
		c.sender.AckReceived(seg.AckNum, seg.Window)
	}

	c.receiver.SegmentReceived(tcpreceiver.Segment{SeqNum: seg.SeqNum, Flags: seg.Flags, Payload: seg.Payload})

	c.sender.FillWindow()
	c.afterFillWindow()

	occupiesSpace := seg.Flags.SYN() || seg.Flags.FIN() || len(seg.Payload) > 0
	if occupiesSpace && c.sender.PendingOutbound() == 0 {
		c.sender.SendEmptySegment()
	} else if c.isKeepaliveProbe(seg) {
		c.sender.SendEmptySegment()
	}

	if c.receiver.Output().EOF() && !c.sender.StreamIn().EOF() {
		// The peer closed first: we are the passive closer, so there is
		// no retransmitted-FIN to keep ACKing once we finish our own
		// close, and we must not linger.
		c.lingerDisabled = true
	}

	c.maybeStartLinger()
}

// isKeepaliveProbe reports whether seg is a zero-length probe of the byte
// just before our ackno, which carries no new sequence space of its own
// and so needs an explicit ACK to elicit a response.
func (c *TCPConnection) isKeepaliveProbe(seg Segment) bool {
	if !c.receiver.SynReceived() {
		return false
	}
	ackno, ok := c.receiver.Ackno()
	if !ok {
		return false
	}
	return seg.SeqNum == ackno-1
}

// SegmentsOut drains and returns the segments queued for transmission,
// stamped with the current ACK/ackno/window if one is available.
func (c *TCPConnection) SegmentsOut() []Segment {
	raw := c.sender.DrainOutbound()
	out := make([]Segment, 0, len(raw)+1)
	for _, s := range raw {
		seg := Segment{SeqNum: s.SeqNum, Flags: s.Flags, Payload: s.Payload}
		if ackno, ok := c.receiver.Ackno(); ok {
			seg.Flags |= headers.TCPFlagACK
			seg.AckNum = ackno
			seg.Window = c.receiver.WindowSize()
		}
		out = append(out, seg)
	}
	if c.pendingRST {
		out = append(out, Segment{SeqNum: c.pendingRSTSeq, Flags: headers.TCPFlagRST})
		c.pendingRST = false
	}
	return out
}

// Tick advances every timer by ms milliseconds: the sender's RTO timer,
// the give-up-and-reset threshold, and the post-close linger period.
func (c *TCPConnection) Tick(ms uint32) {
	if !c.active {
		return
	}
	c.msSinceLastSegmentReceived += ms
	c.sender.Tick(ms)

	if c.sender.ConsecutiveRetransmissions() > c.cfg.MaxRetxAttempts {
		c.sendRST()
		return
	}

	c.maybeStartLinger()
	if c.lingering && c.msSinceLastSegmentReceived >= lingerMultiple*c.cfg.RTTimeoutMS {
		c.active = false
	}
}

// MSSinceLastSegmentReceived returns how long it has been since a segment
// last arrived from the peer, in milliseconds.
func (c *TCPConnection) MSSinceLastSegmentReceived() uint32 {
	return c.msSinceLastSegmentReceived
}

// maybeStartLinger begins the TIME_WAIT countdown once both FINs have
// been exchanged and our own FIN has been acknowledged. The passive
// closer (lingerDisabled) skips the countdown entirely and goes inactive
// the moment those three conditions hold, since it has no retransmitted
// FIN of its own to keep ACKing.
func (c *TCPConnection) maybeStartLinger() {
	if c.lingering || c.reset {
		return
	}
	if !(c.sender.FinSent() && c.sender.FinAcked() && c.receiver.Output().EOF()) {
		return
	}
	if c.lingerDisabled {
		c.active = false
		return
	}
	c.lingering = true
}

func (c *TCPConnection) handleRSTReceived() {
	c.sender.StreamIn().SetError()
	c.receiver.Output().Output().SetError()
	c.active = false
	c.reset = true
	metrics.ConnectionResets.WithLabelValues("received").Inc()
}

// sendRST tears the connection down unilaterally, queuing an RST segment
// for the next SegmentsOut call. Used when retransmissions are exhausted.
func (c *TCPConnection) sendRST() {
	c.sender.StreamIn().SetError()
	c.receiver.Output().Output().SetError()
	c.pendingRSTSeq = c.sender.NextSeqno()
	c.pendingRST = true
	c.active = false
	c.reset = true
	metrics.ConnectionResets.WithLabelValues("sent").Inc()
}

// Close tears the connection down if it is still active when the host
// is done with it, queuing an RST for the next SegmentsOut call. The host
// is expected to call this from whatever scoped cleanup its language
// offers in place of destructor-driven teardown.
func (c *TCPConnection) Close() {
	if !c.active {
		return
	}
	sparseConnClose.Printf("unclean shutdown of active connection in state %v, sending RST", c.State())
	c.sendRST()
}
