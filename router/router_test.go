package router_test

import (
	"net"
	"testing"

	"github.com/google/gopacket/layers"

	"github.com/m-lab/tcpstack/headers"
	"github.com/m-lab/tcpstack/netif"
	"github.com/m-lab/tcpstack/router"
)

func mustMAC(s string) net.HardwareAddr {
	m, err := net.ParseMAC(s)
	if err != nil {
		panic(err)
	}
	return m
}

func TestLongestPrefixMatchWins(t *testing.T) {
	r := router.New()
	broad := netif.New(mustMAC("02:00:00:00:00:01"), net.IPv4(192, 168, 0, 1))
	narrow := netif.New(mustMAC("02:00:00:00:00:02"), net.IPv4(10, 0, 0, 1))

	r.AddRoute(net.IPv4(0, 0, 0, 0), 0, net.IPv4(192, 168, 0, 254), broad)
	r.AddRoute(net.IPv4(10, 0, 0, 0), 24, nil, narrow)

	dgram := headers.IPv4Datagram{TTL: 10, Protocol: layers.IPProtocolTCP, Src: net.IPv4(1, 2, 3, 4), Dst: net.IPv4(10, 0, 0, 55)}
	r.RouteOneDatagram(dgram)

	out := narrow.DrainOutboundFrames()
	if len(out) != 1 {
		t.Fatalf("expected the more specific route's interface to carry the datagram, got %d frames on it", len(out))
	}
	if len(broad.DrainOutboundFrames()) != 0 {
		t.Fatalf("expected the default route's interface to see nothing")
	}
}

func TestTTLDecrementedAndExpired(t *testing.T) {
	r := router.New()
	ifaceMAC := mustMAC("02:00:00:00:00:01")
	iface := netif.New(ifaceMAC, net.IPv4(10, 0, 0, 1))
	r.AddRoute(net.IPv4(10, 0, 0, 0), 24, nil, iface)

	// Resolve the destination's MAC first, so a forwarded datagram leaves
	// as an IPv4 frame whose TTL can be inspected.
	reply := headers.ARPMessage{
		Opcode:    headers.ARPReply,
		SenderMAC: mustMAC("02:00:00:00:00:09"),
		SenderIP:  net.IPv4(10, 0, 0, 9),
		TargetMAC: ifaceMAC,
		TargetIP:  net.IPv4(10, 0, 0, 1),
	}
	arpFrame := headers.EncodeEthernetFrame(ifaceMAC, reply.SenderMAC, layers.EthernetTypeARP, headers.EncodeARPMessage(reply))
	if _, err := iface.RecvFrame(arpFrame); err != nil {
		t.Fatalf("RecvFrame: %v", err)
	}
	iface.DrainOutboundFrames()

	live := headers.IPv4Datagram{TTL: 2, Protocol: layers.IPProtocolTCP, Src: net.IPv4(10, 0, 0, 1), Dst: net.IPv4(10, 0, 0, 9)}
	r.RouteOneDatagram(live)
	out := iface.DrainOutboundFrames()
	if len(out) != 1 {
		t.Fatalf("expected a TTL=2 datagram to be forwarded once")
	}
	frame, err := headers.ParseEthernetFrame(out[0])
	if err != nil {
		t.Fatalf("ParseEthernetFrame: %v", err)
	}
	forwarded, err := headers.ParseIPv4Datagram(frame.Payload)
	if err != nil {
		t.Fatalf("ParseIPv4Datagram: %v", err)
	}
	if forwarded.TTL != 1 {
		t.Fatalf("expected the forwarded datagram's TTL decremented to 1, got %d", forwarded.TTL)
	}

	expired := headers.IPv4Datagram{TTL: 1, Protocol: layers.IPProtocolTCP, Src: net.IPv4(10, 0, 0, 1), Dst: net.IPv4(10, 0, 0, 9)}
	r.RouteOneDatagram(expired)
	if len(iface.DrainOutboundFrames()) != 0 {
		t.Fatalf("expected a TTL=1 datagram to be dropped, not forwarded")
	}
}

func TestRouteDrainsInboundQueues(t *testing.T) {
	r := router.New()
	inbound := netif.New(mustMAC("02:00:00:00:00:01"), net.IPv4(192, 168, 0, 1))
	outbound := netif.New(mustMAC("02:00:00:00:00:02"), net.IPv4(10, 0, 0, 1))
	r.AddRoute(net.IPv4(10, 0, 0, 0), 24, nil, outbound)
	r.AddRoute(net.IPv4(0, 0, 0, 0), 0, net.IPv4(192, 168, 0, 254), inbound)

	wire := headers.EncodeIPv4Datagram(net.IPv4(1, 2, 3, 4), net.IPv4(10, 0, 0, 9), layers.IPProtocolTCP, 10, nil)
	frame := headers.EncodeEthernetFrame(mustMAC("02:00:00:00:00:01"), mustMAC("02:00:00:00:00:03"), layers.EthernetTypeIPv4, wire)
	if _, err := inbound.RecvFrame(frame); err != nil {
		t.Fatalf("RecvFrame: %v", err)
	}

	r.Route()

	if len(outbound.DrainOutboundFrames()) != 1 {
		t.Fatalf("expected Route to drain the inbound interface's queue and forward onto the matching route")
	}
}

func TestNoRouteDrops(t *testing.T) {
	r := router.New()
	iface := netif.New(mustMAC("02:00:00:00:00:01"), net.IPv4(10, 0, 0, 1))
	r.AddRoute(net.IPv4(10, 0, 0, 0), 24, nil, iface)

	dgram := headers.IPv4Datagram{TTL: 10, Protocol: layers.IPProtocolTCP, Src: net.IPv4(1, 2, 3, 4), Dst: net.IPv4(172, 16, 0, 1)}
	r.RouteOneDatagram(dgram)
	if len(iface.DrainOutboundFrames()) != 0 {
		t.Fatalf("expected no frame to be sent when there is no matching route")
	}
}
