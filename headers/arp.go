package headers

import (
	"fmt"
	"net"
	"unsafe"

	be "github.com/m-lab/tcpstack/internal/bigendian"
)

var ErrTruncatedARPHeader = fmt.Errorf("truncated ARP header")

// ARPOpcode identifies an ARP message's operation, per RFC 826.
type ARPOpcode uint16

const (
	ARPRequest ARPOpcode = 1
	ARPReply   ARPOpcode = 2
)

const (
	hardwareTypeEthernet = 1
	protocolTypeIPv4     = 0x0800
)

// ARPHeader is the fixed-size Ethernet/IPv4 ARP message, in wire format.
// This stack only ever speaks Ethernet-over-IPv4 ARP, so hardware and
// protocol type/length are compile-time constants rather than parsed
// fields with a validation branch for every other possible combination.
type ARPHeader struct {
	hardwareType be.BE16
	protocolType be.BE16
	hwAddrLen    uint8
	protoAddrLen uint8
	opcode       be.BE16
	senderMAC    [6]byte
	senderIP     be.BE32
	targetMAC    [6]byte
	targetIP     be.BE32
}

// ARPHeaderSize is the size in bytes of an Ethernet/IPv4 ARP message.
var ARPHeaderSize = int(unsafe.Sizeof(ARPHeader{}))

// ARPMessage is a fully decoded, owned ARP message.
type ARPMessage struct {
	Opcode               ARPOpcode
	SenderMAC, TargetMAC net.HardwareAddr
	SenderIP, TargetIP   net.IP
}

// OverlayARPHeader overlays an ARPHeader onto wire. wire is not copied.
func OverlayARPHeader(wire []byte) (*ARPHeader, error) {
	if len(wire) < ARPHeaderSize {
		return nil, ErrTruncatedARPHeader
	}
	return (*ARPHeader)(unsafe.Pointer(&wire[0])), nil
}

// ParseARPMessage decodes wire into an owned ARPMessage, rejecting any
// hardware/protocol type or address-length combination other than
// Ethernet-over-IPv4.
func ParseARPMessage(wire []byte) (ARPMessage, error) {
	h, err := OverlayARPHeader(wire)
	if err != nil {
		sparse1.Printf("ParseARPMessage: %v", err)
		return ARPMessage{}, err
	}
	if h.hardwareType.Uint16() != hardwareTypeEthernet || h.protocolType.Uint16() != protocolTypeIPv4 ||
		h.hwAddrLen != 6 || h.protoAddrLen != 4 {
		sparse1.Println("ParseARPMessage: unsupported hardware/protocol combination")
		return ARPMessage{}, fmt.Errorf("unsupported ARP hardware/protocol combination")
	}
	return ARPMessage{
		Opcode:    ARPOpcode(h.opcode.Uint16()),
		SenderMAC: append(net.HardwareAddr(nil), h.senderMAC[:]...),
		TargetMAC: append(net.HardwareAddr(nil), h.targetMAC[:]...),
		SenderIP:  replace(nil, h.senderIP[:]...),
		TargetIP:  replace(nil, h.targetIP[:]...),
	}, nil
}

// EncodeARPMessage serializes an Ethernet/IPv4 ARP message.
func EncodeARPMessage(msg ARPMessage) []byte {
	out := make([]byte, ARPHeaderSize)
	h := (*ARPHeader)(unsafe.Pointer(&out[0]))
	h.hardwareType = be.NewBE16(hardwareTypeEthernet)
	h.protocolType = be.NewBE16(protocolTypeIPv4)
	h.hwAddrLen = 6
	h.protoAddrLen = 4
	h.opcode = be.NewBE16(uint16(msg.Opcode))
	copy(h.senderMAC[:], msg.SenderMAC)
	copy(h.targetMAC[:], msg.TargetMAC)
	copy(h.senderIP[:], msg.SenderIP.To4())
	copy(h.targetIP[:], msg.TargetIP.To4())
	return out
}
