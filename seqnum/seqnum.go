// Package seqnum implements the 32-bit wire sequence-number space and its
// bijection with the 64-bit absolute stream-offset space every other
// component in this module reasons about.
//
// The wire only ever carries a WrappingInt32: a 32-bit counter that wraps
// every 2^32 bytes and starts at an arbitrary initial sequence number
// (isn). Internally everything is tracked as a 64-bit absolute offset
// starting at zero. Wrap and Unwrap convert between the two, the way the
// teacher's bounded sequence-delta arithmetic in tcp.SeqNum.diff does for
// a narrower purpose (validating an observed delta rather than resolving
// one against an arbitrary checkpoint).
package seqnum

// WrappingInt32 is a 32-bit sequence number as it appears on the wire.
type WrappingInt32 uint32

// Wrap maps an absolute 64-bit offset into the wire's 32-bit space, given
// the connection's initial sequence number.
func Wrap(absolute uint64, isn WrappingInt32) WrappingInt32 {
	return WrappingInt32(uint32(isn) + uint32(absolute))
}

// Unwrap returns the absolute 64-bit offset congruent to n (mod 2^32) that
// lies closest to checkpoint. At an exact tie (|x - checkpoint| == 2^31)
// it resolves toward the smaller candidate, never returning a value below
// zero, matching libsponge's wrapping_integers.cc.
func Unwrap(n, isn WrappingInt32, checkpoint uint64) uint64 {
	m := uint64(uint32(n) - uint32(isn))

	// x is the representative of n's residue class in the same "era"
	// (top 32 bits) as checkpoint.
	x := (checkpoint &^ uint64(0xFFFFFFFF)) | m

	const span = uint64(1) << 32
	if x+(span>>1) < checkpoint {
		return x + span
	}
	if x < span || x < checkpoint+(span>>1) {
		return x
	}
	return x - span
}
