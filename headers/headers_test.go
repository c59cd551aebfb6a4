package headers_test

import (
	"net"
	"testing"

	"github.com/google/gopacket/layers"

	"github.com/m-lab/tcpstack/headers"
)

func TestEthernetRoundTrip(t *testing.T) {
	dst := net.HardwareAddr{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
	src := net.HardwareAddr{0x11, 0x12, 0x13, 0x14, 0x15, 0x16}
	payload := []byte("hello")

	wire := headers.EncodeEthernetFrame(dst, src, layers.EthernetTypeIPv4, payload)
	frame, err := headers.ParseEthernetFrame(wire)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if frame.Dst.String() != dst.String() || frame.Src.String() != src.String() {
		t.Fatalf("MAC mismatch: got dst=%v src=%v", frame.Dst, frame.Src)
	}
	if frame.EtherType != layers.EthernetTypeIPv4 {
		t.Fatalf("unexpected ethertype %v", frame.EtherType)
	}
	if string(frame.Payload) != "hello" {
		t.Fatalf("payload mismatch: %q", frame.Payload)
	}
}

func TestEthernetTruncated(t *testing.T) {
	_, err := headers.ParseEthernetFrame([]byte{1, 2, 3})
	if err != headers.ErrTruncatedEthernetHeader {
		t.Fatalf("expected truncated header error, got %v", err)
	}
}

func TestIPv4RoundTrip(t *testing.T) {
	src := net.IPv4(10, 0, 0, 1)
	dst := net.IPv4(10, 0, 0, 2)
	payload := []byte("payload-bytes")

	wire := headers.EncodeIPv4Datagram(src, dst, layers.IPProtocolTCP, 64, payload)
	dgram, err := headers.ParseIPv4Datagram(wire)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if !dgram.Src.Equal(src) || !dgram.Dst.Equal(dst) {
		t.Fatalf("IP mismatch: got src=%v dst=%v", dgram.Src, dgram.Dst)
	}
	if dgram.TTL != 64 || dgram.Protocol != layers.IPProtocolTCP {
		t.Fatalf("unexpected ttl/protocol: %d %v", dgram.TTL, dgram.Protocol)
	}
	if string(dgram.Payload) != "payload-bytes" {
		t.Fatalf("payload mismatch: %q", dgram.Payload)
	}
}

func TestARPRoundTrip(t *testing.T) {
	msg := headers.ARPMessage{
		Opcode:    headers.ARPRequest,
		SenderMAC: net.HardwareAddr{1, 2, 3, 4, 5, 6},
		SenderIP:  net.IPv4(10, 0, 0, 1),
		TargetMAC: net.HardwareAddr{0, 0, 0, 0, 0, 0},
		TargetIP:  net.IPv4(10, 0, 0, 2),
	}
	wire := headers.EncodeARPMessage(msg)
	got, err := headers.ParseARPMessage(wire)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if got.Opcode != msg.Opcode || !got.SenderIP.Equal(msg.SenderIP) || !got.TargetIP.Equal(msg.TargetIP) {
		t.Fatalf("mismatch: %+v", got)
	}
}

func TestTCPRoundTripAndChecksum(t *testing.T) {
	src := net.IPv4(192, 168, 1, 1)
	dst := net.IPv4(192, 168, 1, 2)
	payload := []byte("abc")

	wire := headers.EncodeTCPSegment(src, dst, 1234, 80, 1000, 2000, headers.TCPFlagSYN|headers.TCPFlagACK, 500, payload)

	seg, err := headers.ParseTCPSegment(wire)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if seg.SeqNum != 1000 || seg.AckNum != 2000 {
		t.Fatalf("seq/ack mismatch: %d %d", seg.SeqNum, seg.AckNum)
	}
	if !seg.Flags.SYN() || !seg.Flags.ACK() || seg.Flags.FIN() {
		t.Fatalf("unexpected flags: %v", seg.Flags)
	}
	if string(seg.Payload) != "abc" {
		t.Fatalf("payload mismatch: %q", seg.Payload)
	}
	if !headers.VerifyTCPChecksum(src, dst, wire) {
		t.Fatalf("checksum did not validate")
	}
	wire[len(wire)-1] ^= 0xFF
	if headers.VerifyTCPChecksum(src, dst, wire) {
		t.Fatalf("checksum validated after corruption")
	}
}
