// Package netif implements the network interface that sits between an IP
// datagram source and an Ethernet link: ARP resolution, ARP-reply
// generation, and Ethernet framing/deframing.
package netif

import (
	"log"
	"net"
	"os"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/m-lab/go/logx"

	"github.com/m-lab/tcpstack/headers"
	"github.com/m-lab/tcpstack/metrics"
)

var (
	sparseLogger = log.New(os.Stderr, "netif: ", log.LstdFlags|log.Lshortfile)
	sparseARP    = logx.NewLogEvery(sparseLogger, 2*time.Second)
)

// arpEntryTTLMillis is how long a learned MAC mapping stays valid.
const arpEntryTTLMillis = 30000

// arpRequestThrottleMillis is the minimum gap between ARP requests for the
// same unresolved address.
const arpRequestThrottleMillis = 5000

type arpEntry struct {
	mac   net.HardwareAddr
	ageMS uint32
}

// NetworkInterface resolves next-hop IPs to link-layer addresses and wraps
// outbound IP datagrams in Ethernet frames, queuing anything that cannot
// yet be sent behind an ARP request.
type NetworkInterface struct {
	mac net.HardwareAddr
	ip  net.IP

	arpCache         map[string]arpEntry
	requestAgeMS     map[string]uint32
	pendingDatagrams map[string][]headers.IPv4Datagram

	outboundFrames  [][]byte
	inboundDatagram []headers.IPv4Datagram
}

// New returns a NetworkInterface owning the given link and IP addresses.
func New(mac net.HardwareAddr, ip net.IP) *NetworkInterface {
	return &NetworkInterface{
		mac:              mac,
		ip:               ip,
		arpCache:         make(map[string]arpEntry),
		requestAgeMS:     make(map[string]uint32),
		pendingDatagrams: make(map[string][]headers.IPv4Datagram),
	}
}

// SendDatagram arranges for dgram to be sent to nextHop: immediately, if
// its MAC is already known, or once an outstanding ARP request resolves
// it otherwise.
func (n *NetworkInterface) SendDatagram(dgram headers.IPv4Datagram, nextHop net.IP) {
	key := nextHop.String()
	if entry, ok := n.arpCache[key]; ok {
		n.queueIPFrame(dgram, entry.mac)
		return
	}

	n.pendingDatagrams[key] = append(n.pendingDatagrams[key], dgram)
	if _, recentlyAsked := n.requestAgeMS[key]; recentlyAsked {
		sparseARP.Printf("queuing datagram to %s behind an already-outstanding ARP request", key)
		return
	}
	n.requestAgeMS[key] = 0
	n.sendARPRequest(nextHop)
}

func (n *NetworkInterface) queueIPFrame(dgram headers.IPv4Datagram, dst net.HardwareAddr) {
	wire := headers.EncodeIPv4Datagram(dgram.Src, dgram.Dst, dgram.Protocol, dgram.TTL, dgram.Payload)
	n.outboundFrames = append(n.outboundFrames, headers.EncodeEthernetFrame(dst, n.mac, layers.EthernetTypeIPv4, wire))
}

func (n *NetworkInterface) sendARPRequest(target net.IP) {
	req := headers.ARPMessage{
		Opcode:    headers.ARPRequest,
		SenderMAC: n.mac,
		SenderIP:  n.ip,
		TargetIP:  target,
	}
	frame := headers.EncodeEthernetFrame(headers.BroadcastMAC, n.mac, layers.EthernetTypeARP, headers.EncodeARPMessage(req))
	n.outboundFrames = append(n.outboundFrames, frame)
	metrics.ARPCacheEvents.WithLabelValues("request_sent").Inc()
}

// RecvFrame processes one inbound Ethernet frame. It returns a decoded IP
// datagram when the frame carried one addressed to us; ARP traffic is
// fully handled internally (cache updates, reply generation) and yields
// no datagram. Any decoded datagram is also appended to the interface's
// inbound queue for a router to drain later via DrainInboundDatagrams,
// so a caller that only pumps frames in (rather than inspecting the
// return value itself) still gets the datagram routed.
func (n *NetworkInterface) RecvFrame(wire []byte) (*headers.IPv4Datagram, error) {
	frame, err := headers.ParseEthernetFrame(wire)
	if err != nil {
		return nil, err
	}
	if !macEqual(frame.Dst, n.mac) && !macEqual(frame.Dst, headers.BroadcastMAC) {
		return nil, nil
	}

	switch frame.EtherType {
	case layers.EthernetTypeIPv4:
		dgram, err := headers.ParseIPv4Datagram(frame.Payload)
		if err != nil {
			return nil, err
		}
		n.inboundDatagram = append(n.inboundDatagram, dgram)
		return &dgram, nil
	case layers.EthernetTypeARP:
		n.handleARP(frame.Payload)
		return nil, nil
	default:
		return nil, nil
	}
}

// DrainInboundDatagrams returns and clears the IP datagrams decoded by
// RecvFrame since the last drain, in arrival order.
func (n *NetworkInterface) DrainInboundDatagrams() []headers.IPv4Datagram {
	out := n.inboundDatagram
	n.inboundDatagram = nil
	return out
}

func (n *NetworkInterface) handleARP(wire []byte) {
	msg, err := headers.ParseARPMessage(wire)
	if err != nil {
		return
	}
	n.learn(msg.SenderIP, msg.SenderMAC)

	if msg.Opcode == headers.ARPRequest && msg.TargetIP.Equal(n.ip) {
		reply := headers.ARPMessage{
			Opcode:    headers.ARPReply,
			SenderMAC: n.mac,
			SenderIP:  n.ip,
			TargetMAC: msg.SenderMAC,
			TargetIP:  msg.SenderIP,
		}
		frame := headers.EncodeEthernetFrame(msg.SenderMAC, n.mac, layers.EthernetTypeARP, headers.EncodeARPMessage(reply))
		n.outboundFrames = append(n.outboundFrames, frame)
	}
}

func (n *NetworkInterface) learn(ip net.IP, mac net.HardwareAddr) {
	key := ip.String()
	n.arpCache[key] = arpEntry{mac: append(net.HardwareAddr(nil), mac...)}
	delete(n.requestAgeMS, key)
	metrics.ARPCacheEvents.WithLabelValues("learned").Inc()

	pending := n.pendingDatagrams[key]
	delete(n.pendingDatagrams, key)
	for _, dgram := range pending {
		n.queueIPFrame(dgram, mac)
	}
}

// Tick ages ARP cache entries and outstanding-request throttles by ms
// milliseconds, expiring each once its deadline passes.
func (n *NetworkInterface) Tick(ms uint32) {
	for key, entry := range n.arpCache {
		entry.ageMS += ms
		if entry.ageMS >= arpEntryTTLMillis {
			delete(n.arpCache, key)
			metrics.ARPCacheEvents.WithLabelValues("expired").Inc()
			sparseARP.Printf("ARP cache entry for %s expired", key)
			continue
		}
		n.arpCache[key] = entry
	}
	for key, age := range n.requestAgeMS {
		age += ms
		if age >= arpRequestThrottleMillis {
			delete(n.requestAgeMS, key)
			continue
		}
		n.requestAgeMS[key] = age
	}
}

// DrainOutboundFrames returns and clears the Ethernet frames queued for
// transmission on the link.
func (n *NetworkInterface) DrainOutboundFrames() [][]byte {
	out := n.outboundFrames
	n.outboundFrames = nil
	return out
}

func macEqual(a, b net.HardwareAddr) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
