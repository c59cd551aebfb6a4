// Package config holds the tunable knobs a TCPConnection is built with, as
// documented, directly-constructed structs rather than a parsed external
// config file.
package config

import (
	"math/rand"

	"github.com/m-lab/tcpstack/seqnum"
)

// TCPConfig holds the options a TCPConnection needs at construction time.
type TCPConfig struct {
	// RecvCapacity is the capacity, in bytes, of the inbound byte stream
	// (and its StreamReassembler).
	RecvCapacity uint64

	// SendCapacity is the capacity, in bytes, of the outbound byte
	// stream the application writes into.
	SendCapacity uint64

	// RTTimeoutMS is the initial retransmission timeout, in
	// milliseconds. The sender backs this off exponentially on
	// successive retransmissions, but a TCPConnection's linger expiry
	// always uses this unmodified value.
	RTTimeoutMS uint32

	// FixedISN pins the initial sequence number instead of choosing one
	// at random, so tests can be made deterministic.
	FixedISN *seqnum.WrappingInt32

	// MaxRetxAttempts caps consecutive retransmissions: once the
	// sender's count exceeds this value, the owning connection gives up
	// and sends a RST.
	MaxRetxAttempts int

	// MaxPayloadSize is the largest payload, in bytes, a single segment
	// may carry; typically MSS-sized.
	MaxPayloadSize uint16
}

// Default returns a TCPConfig with reasonable, commonly-used values.
func Default() TCPConfig {
	return TCPConfig{
		RecvCapacity:    64000,
		SendCapacity:    64000,
		RTTimeoutMS:     1000,
		MaxRetxAttempts: 8,
		MaxPayloadSize:  1452,
	}
}

// InitialSequenceNumber returns the configured FixedISN, or a uniformly
// random value if none was configured.
func (c TCPConfig) InitialSequenceNumber() seqnum.WrappingInt32 {
	if c.FixedISN != nil {
		return *c.FixedISN
	}
	return seqnum.WrappingInt32(rand.Uint32())
}
