// Package headers implements zero-copy wire codecs for the Ethernet, ARP,
// IPv4, and TCP headers this stack reads and writes. Parsing overlays a
// struct directly onto the wire bytes; encoding serializes the same struct
// layout back out, since here these frames are built, not just observed.
package headers

import (
	"fmt"
	"net"
	"unsafe"

	"github.com/google/gopacket/layers"

	be "github.com/m-lab/tcpstack/internal/bigendian"
)

var (
	ErrNoIPLayer         = fmt.Errorf("no IP layer")
	ErrTruncatedIPHeader = fmt.Errorf("truncated IP header")
)

// IPv4Header is the fixed-size portion of an IPv4 header, in wire format.
// IP options are not modeled; this stack never emits them and treats any
// on the wire as opaque padding accounted for by HeaderLength.
type IPv4Header struct {
	versionIHL    uint8             // Version (4 bits) + Internet header length (4 bits)
	typeOfService uint8             // Type of service
	length        be.BE16           // Total length
	id            be.BE16           // Identification
	flagsFragOff  be.BE16           // Flags (3 bits) + Fragment offset (13 bits)
	hopLimit      uint8             // Time to live
	protocol      layers.IPProtocol // Protocol of next following bytes, after the options
	checksum      be.BE16           // Header checksum
	srcIP         be.BE32           // Source address
	dstIP         be.BE32           // Destination address
}

// IPv4HeaderSize is the size in bytes of the fixed IPv4 header.
var IPv4HeaderSize = int(unsafe.Sizeof(IPv4Header{}))

// Version returns the IP version field; always 4 for a well-formed header.
func (h *IPv4Header) Version() uint8 {
	return h.versionIHL >> 4
}

// HeaderLength returns the header length in bytes, including any options.
func (h *IPv4Header) HeaderLength() int {
	return int(h.versionIHL&0x0f) << 2
}

// PayloadLength returns the number of bytes following the header.
func (h *IPv4Header) PayloadLength() int {
	return int(h.length.Uint16()) - h.HeaderLength()
}

func replace(dst net.IP, src ...byte) net.IP {
	if dst != nil {
		dst = dst[:0]
	}
	return append(dst, src...)
}

// SrcIP returns the source address, using backing to avoid allocation.
func (h *IPv4Header) SrcIP(backing net.IP) net.IP {
	return replace(backing, h.srcIP[:]...)
}

// DstIP returns the destination address, using backing to avoid allocation.
func (h *IPv4Header) DstIP(backing net.IP) net.IP {
	return replace(backing, h.dstIP[:]...)
}

// NextProtocol returns the encapsulated protocol.
func (h *IPv4Header) NextProtocol() layers.IPProtocol {
	return h.protocol
}

// TTL returns the time-to-live field.
func (h *IPv4Header) TTL() uint8 {
	return h.hopLimit
}

// OverlayIPv4Header overlays an IPv4Header onto wire, returning the header
// and the bytes following the full header, options included (as given by
// HeaderLength). wire is not copied.
func OverlayIPv4Header(wire []byte) (*IPv4Header, []byte, error) {
	if len(wire) < IPv4HeaderSize {
		return nil, nil, ErrTruncatedIPHeader
	}
	h := (*IPv4Header)(unsafe.Pointer(&wire[0]))
	if h.Version() != 4 {
		return nil, nil, fmt.Errorf("IPv4 header with version %d", h.Version())
	}
	if len(wire) < h.HeaderLength() {
		return nil, nil, ErrTruncatedIPHeader
	}
	return h, wire[h.HeaderLength():], nil
}

// IPv4Datagram is a fully decoded, owned IPv4 datagram.
type IPv4Datagram struct {
	TTL      uint8
	Protocol layers.IPProtocol
	Src, Dst net.IP
	Payload  []byte
}

// ParseIPv4Datagram decodes wire into an owned IPv4Datagram. Payload shares
// backing storage with wire.
func ParseIPv4Datagram(wire []byte) (IPv4Datagram, error) {
	h, payload, err := OverlayIPv4Header(wire)
	if err != nil {
		sparse1.Printf("ParseIPv4Datagram: %v", err)
		return IPv4Datagram{}, err
	}
	if h.PayloadLength() < 0 || len(payload) < h.PayloadLength() {
		sparse1.Println("ParseIPv4Datagram: payload shorter than header's length field")
		return IPv4Datagram{}, ErrTruncatedIPHeader
	}
	return IPv4Datagram{
		TTL:      h.TTL(),
		Protocol: h.NextProtocol(),
		Src:      h.SrcIP(nil),
		Dst:      h.DstIP(nil),
		Payload:  payload[:h.PayloadLength()],
	}, nil
}

// ipChecksum computes the RFC 791 one's-complement checksum over data.
func ipChecksum(data []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(data); i += 2 {
		sum += uint32(data[i])<<8 | uint32(data[i+1])
	}
	if len(data)%2 == 1 {
		sum += uint32(data[len(data)-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return ^uint16(sum)
}

// EncodeIPv4Datagram serializes an IPv4 datagram with a freshly computed
// header checksum. ttl and protocol are written as given; id, flags, and
// fragment offset are zero (this stack never fragments).
func EncodeIPv4Datagram(src, dst net.IP, protocol layers.IPProtocol, ttl uint8, payload []byte) []byte {
	out := make([]byte, IPv4HeaderSize+len(payload))
	h := (*IPv4Header)(unsafe.Pointer(&out[0]))
	h.versionIHL = 0x45 // version 4, IHL 5 (no options)
	h.typeOfService = 0
	h.id = be.BE16{}
	h.flagsFragOff = be.BE16{}
	h.hopLimit = ttl
	h.protocol = protocol
	h.checksum = be.BE16{}
	copy(h.srcIP[:], src.To4())
	copy(h.dstIP[:], dst.To4())
	copy(out[IPv4HeaderSize:], payload)

	h.length = be.NewBE16(uint16(len(out)))
	h.checksum = be.NewBE16(ipChecksum(out[:IPv4HeaderSize]))
	return out
}
