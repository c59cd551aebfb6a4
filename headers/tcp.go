package headers

import (
	"fmt"
	"net"
	"unsafe"

	"github.com/google/gopacket/layers"

	be "github.com/m-lab/tcpstack/internal/bigendian"
)

var (
	ErrNotTCP             = fmt.Errorf("not a TCP segment")
	ErrTruncatedTCPHeader = fmt.Errorf("truncated TCP header")
)

// TCPFlags is the 8-bit control-bit field of a TCP header. Options
// (timestamps, SACK, window scale, MSS) are out of scope for this stack
// and are never parsed or emitted.
type TCPFlags uint8

const (
	TCPFlagFIN TCPFlags = 1 << iota
	TCPFlagSYN
	TCPFlagRST
	TCPFlagPSH
	TCPFlagACK
	TCPFlagURG
)

func (f TCPFlags) FIN() bool { return f&TCPFlagFIN != 0 }
func (f TCPFlags) SYN() bool { return f&TCPFlagSYN != 0 }
func (f TCPFlags) RST() bool { return f&TCPFlagRST != 0 }
func (f TCPFlags) PSH() bool { return f&TCPFlagPSH != 0 }
func (f TCPFlags) ACK() bool { return f&TCPFlagACK != 0 }
func (f TCPFlags) URG() bool { return f&TCPFlagURG != 0 }

// TCPHeader is the fixed-size (no-options) TCP header, in wire format.
type TCPHeader struct {
	srcPort, dstPort be.BE16
	seqNum           be.BE32
	ackNum           be.BE32
	dataOffset       uint8 // upper 4 bits; this stack never emits options
	flags            TCPFlags
	window           be.BE16
	checksum         be.BE16
	urgent           be.BE16
}

// TCPHeaderSize is the size in bytes of the fixed TCP header.
var TCPHeaderSize = int(unsafe.Sizeof(TCPHeader{}))

func (h *TCPHeader) SrcPort() layers.TCPPort { return layers.TCPPort(h.srcPort.Uint16()) }
func (h *TCPHeader) DstPort() layers.TCPPort { return layers.TCPPort(h.dstPort.Uint16()) }
func (h *TCPHeader) SeqNum() uint32          { return h.seqNum.Uint32() }
func (h *TCPHeader) AckNum() uint32          { return h.ackNum.Uint32() }
func (h *TCPHeader) Flags() TCPFlags         { return h.flags }
func (h *TCPHeader) Window() uint16          { return h.window.Uint16() }
func (h *TCPHeader) HeaderLength() int       { return 4 * int(h.dataOffset>>4) }

// OverlayTCPHeader overlays a TCPHeader onto wire, returning the header and
// the bytes following the full header, options included (as given by
// HeaderLength). wire is not copied.
func OverlayTCPHeader(wire []byte) (*TCPHeader, []byte, error) {
	if len(wire) < TCPHeaderSize {
		return nil, nil, ErrTruncatedTCPHeader
	}
	h := (*TCPHeader)(unsafe.Pointer(&wire[0]))
	if len(wire) < h.HeaderLength() {
		return nil, nil, ErrTruncatedTCPHeader
	}
	return h, wire[h.HeaderLength():], nil
}

// TCPSegment is a fully decoded, owned TCP segment.
type TCPSegment struct {
	SrcPort, DstPort layers.TCPPort
	SeqNum, AckNum   uint32
	Flags            TCPFlags
	Window           uint16
	Payload          []byte
}

// ParseTCPSegment decodes wire into an owned TCPSegment. It does not
// validate the checksum; callers that need to should call
// VerifyTCPChecksum separately. Payload shares backing storage with wire.
func ParseTCPSegment(wire []byte) (TCPSegment, error) {
	h, payload, err := OverlayTCPHeader(wire)
	if err != nil {
		return TCPSegment{}, err
	}
	return TCPSegment{
		SrcPort: h.SrcPort(),
		DstPort: h.DstPort(),
		SeqNum:  h.SeqNum(),
		AckNum:  h.AckNum(),
		Flags:   h.Flags(),
		Window:  h.Window(),
		Payload: payload,
	}, nil
}

// tcpPseudoHeaderSum sums the IPv4 pseudo-header fields the TCP checksum
// covers: source, destination, zero byte, protocol, TCP length.
func tcpPseudoHeaderSum(src, dst net.IP, tcpLength int) uint32 {
	var sum uint32
	s4, d4 := src.To4(), dst.To4()
	sum += uint32(s4[0])<<8 | uint32(s4[1])
	sum += uint32(s4[2])<<8 | uint32(s4[3])
	sum += uint32(d4[0])<<8 | uint32(d4[1])
	sum += uint32(d4[2])<<8 | uint32(d4[3])
	sum += uint32(layers.IPProtocolTCP)
	sum += uint32(tcpLength)
	return sum
}

// tcpChecksum computes the TCP checksum (pseudo-header + segment) per
// RFC 793 section 3.1.
func tcpChecksum(src, dst net.IP, segment []byte) uint16 {
	sum := tcpPseudoHeaderSum(src, dst, len(segment))
	for i := 0; i+1 < len(segment); i += 2 {
		sum += uint32(segment[i])<<8 | uint32(segment[i+1])
	}
	if len(segment)%2 == 1 {
		sum += uint32(segment[len(segment)-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return ^uint16(sum)
}

// EncodeTCPSegment serializes a TCP segment with a freshly computed
// checksum over the IPv4 pseudo-header, the segment header, and the
// payload. src and dst are the enclosing IPv4 datagram's addresses.
func EncodeTCPSegment(src, dst net.IP, srcPort, dstPort layers.TCPPort, seqNum, ackNum uint32, flags TCPFlags, window uint16, payload []byte) []byte {
	out := make([]byte, TCPHeaderSize+len(payload))
	h := (*TCPHeader)(unsafe.Pointer(&out[0]))
	h.srcPort = be.NewBE16(uint16(srcPort))
	h.dstPort = be.NewBE16(uint16(dstPort))
	h.seqNum = be.NewBE32(seqNum)
	h.ackNum = be.NewBE32(ackNum)
	h.dataOffset = uint8(TCPHeaderSize/4) << 4
	h.flags = flags
	h.window = be.NewBE16(window)
	h.checksum = be.BE16{}
	h.urgent = be.BE16{}
	copy(out[TCPHeaderSize:], payload)

	h.checksum = be.NewBE16(tcpChecksum(src, dst, out))
	return out
}

// VerifyTCPChecksum reports whether segment (header+payload) checksums to
// zero under the IPv4 pseudo-header for src/dst.
func VerifyTCPChecksum(src, dst net.IP, segment []byte) bool {
	sum := tcpPseudoHeaderSum(src, dst, len(segment))
	for i := 0; i+1 < len(segment); i += 2 {
		sum += uint32(segment[i])<<8 | uint32(segment[i+1])
	}
	if len(segment)%2 == 1 {
		sum += uint32(segment[len(segment)-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return uint16(sum) == 0xFFFF
}
