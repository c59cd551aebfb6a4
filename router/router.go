// Package router implements longest-prefix-match IPv4 forwarding across a
// set of network interfaces.
package router

import (
	"net"
	"sort"

	"github.com/m-lab/tcpstack/headers"
	"github.com/m-lab/tcpstack/metrics"
	"github.com/m-lab/tcpstack/netif"
)

// Route is one forwarding-table entry: a destination prefix, the next hop
// to forward through (nil for a directly attached network, meaning the
// datagram's own destination is used as the next hop), and the
// interface to send it out of.
type Route struct {
	Prefix    net.IP
	PrefixLen int
	NextHop   net.IP
	Interface *netif.NetworkInterface
}

// Router holds a forwarding table and routes IPv4 datagrams across it by
// longest-prefix match.
type Router struct {
	routes     []Route
	interfaces []*netif.NetworkInterface
}

// New returns an empty Router.
func New() *Router {
	return &Router{}
}

// AddRoute adds a forwarding entry. Routes are kept sorted so the
// longest (most specific) prefix is always matched first.
func (r *Router) AddRoute(prefix net.IP, prefixLen int, nextHop net.IP, iface *netif.NetworkInterface) {
	mask := net.CIDRMask(prefixLen, 32)
	r.routes = append(r.routes, Route{
		Prefix:    prefix.Mask(mask),
		PrefixLen: prefixLen,
		NextHop:   nextHop,
		Interface: iface,
	})
	sort.SliceStable(r.routes, func(i, j int) bool {
		return r.routes[i].PrefixLen > r.routes[j].PrefixLen
	})
	r.addInterface(iface)
}

// addInterface records iface in the router's interface set if it isn't
// already there, so Route knows which interfaces to drain.
func (r *Router) addInterface(iface *netif.NetworkInterface) {
	for _, existing := range r.interfaces {
		if existing == iface {
			return
		}
	}
	r.interfaces = append(r.interfaces, iface)
}

// RouteOneDatagram forwards a single datagram: it looks up the longest
// matching prefix, decrements TTL, and hands the result to that route's
// interface. Datagrams with no matching route or an expired TTL are
// dropped.
func (r *Router) RouteOneDatagram(dgram headers.IPv4Datagram) {
	route, ok := r.match(dgram.Dst)
	if !ok {
		metrics.RouterDatagramsDropped.WithLabelValues("no_route").Inc()
		return
	}
	if dgram.TTL <= 1 {
		metrics.RouterDatagramsDropped.WithLabelValues("ttl_expired").Inc()
		return
	}

	dgram.TTL--
	nextHop := route.NextHop
	if nextHop == nil {
		nextHop = dgram.Dst
	}
	route.Interface.SendDatagram(dgram, nextHop)
}

// Route drains every known interface's inbound datagram queue, routing
// each datagram in arrival order via RouteOneDatagram. A host loop calls
// this once per tick (or once per batch of RecvFrame calls) instead of
// routing each datagram as it arrives.
func (r *Router) Route() {
	for _, iface := range r.interfaces {
		for _, dgram := range iface.DrainInboundDatagrams() {
			r.RouteOneDatagram(dgram)
		}
	}
}

func (r *Router) match(dst net.IP) (Route, bool) {
	for _, rt := range r.routes {
		mask := net.CIDRMask(rt.PrefixLen, 32)
		if rt.Prefix.Equal(dst.Mask(mask)) {
			return rt, true
		}
	}
	return Route{}, false
}
