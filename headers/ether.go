package headers

import (
	"fmt"
	"net"
	"unsafe"

	"github.com/google/gopacket/layers"
	be "github.com/m-lab/tcpstack/internal/bigendian"
)

/*******************************************************************************
	 						Ethernet Header handling
*******************************************************************************/

var (
	ErrUnknownEtherType        = fmt.Errorf("unknown Ethernet type")
	ErrTruncatedEthernetHeader = fmt.Errorf("truncated Ethernet header")
)

// BroadcastMAC is the link-layer broadcast address.
var BroadcastMAC = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// EthernetHeader is the fixed Ethernet II header, in wire format.
type EthernetHeader struct {
	DstMAC, SrcMAC [6]byte
	etherType      be.BE16 // BigEndian
}

// EtherType returns the EtherType field of the frame.
func (e *EthernetHeader) EtherType() layers.EthernetType {
	return layers.EthernetType(e.etherType.Uint16())
}

// EthernetHeaderSize is the fixed size in bytes of an Ethernet II header.
var EthernetHeaderSize = int(unsafe.Sizeof(EthernetHeader{}))

// OverlayEthernetHeader overlays an EthernetHeader onto wire, returning the
// header and the remaining payload. wire is not copied.
func OverlayEthernetHeader(wire []byte) (*EthernetHeader, []byte, error) {
	if len(wire) < EthernetHeaderSize {
		return nil, nil, ErrTruncatedEthernetHeader
	}
	h := (*EthernetHeader)(unsafe.Pointer(&wire[0]))
	return h, wire[EthernetHeaderSize:], nil
}

// EthernetFrame is a fully decoded, owned Ethernet II frame.
type EthernetFrame struct {
	Dst, Src  net.HardwareAddr
	EtherType layers.EthernetType
	Payload   []byte
}

// ParseEthernetFrame decodes wire into an owned EthernetFrame. The payload
// slice shares backing storage with wire.
func ParseEthernetFrame(wire []byte) (EthernetFrame, error) {
	h, payload, err := OverlayEthernetHeader(wire)
	if err != nil {
		sparse1.Printf("ParseEthernetFrame: %v", err)
		return EthernetFrame{}, err
	}
	return EthernetFrame{
		Dst:       append(net.HardwareAddr(nil), h.DstMAC[:]...),
		Src:       append(net.HardwareAddr(nil), h.SrcMAC[:]...),
		EtherType: h.EtherType(),
		Payload:   payload,
	}, nil
}

// EncodeEthernetFrame serializes an Ethernet II frame with the given
// destination, source, ethertype, and payload.
func EncodeEthernetFrame(dst, src net.HardwareAddr, etherType layers.EthernetType, payload []byte) []byte {
	out := make([]byte, EthernetHeaderSize+len(payload))
	h := (*EthernetHeader)(unsafe.Pointer(&out[0]))
	copy(h.DstMAC[:], dst)
	copy(h.SrcMAC[:], src)
	h.etherType = be.NewBE16(uint16(etherType))
	copy(out[EthernetHeaderSize:], payload)
	return out
}
