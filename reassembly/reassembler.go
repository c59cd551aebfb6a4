// Package reassembly merges overlapping, out-of-order byte ranges into the
// in-order byte stream a TCPReceiver exposes to the application.
package reassembly

import (
	"github.com/m-lab/tcpstack/bytestream"
	"github.com/m-lab/tcpstack/metrics"
)

// segment is an owned, pending byte range awaiting its turn to be written
// to the output stream. Per the design note on shared substring views,
// data is an owned slice, not a view into the caller's buffer.
type segment struct {
	index uint64
	data  []byte
}

// StreamReassembler merges overlapping, out-of-order substrings pushed at
// absolute indices into a contiguous ByteStream, under the stream's fixed
// capacity.
type StreamReassembler struct {
	output      *bytestream.ByteStream
	pending     []segment
	unassembled uint64
	eofIndex    *uint64
}

// New returns a StreamReassembler backed by a fresh ByteStream of the
// given capacity.
func New(capacity uint64) *StreamReassembler {
	return &StreamReassembler{output: bytestream.New(capacity)}
}

// Output returns the stream new contiguous bytes are written to.
func (r *StreamReassembler) Output() *bytestream.ByteStream {
	return r.output
}

// Unassembled returns the number of distinct byte positions currently
// pending assembly.
func (r *StreamReassembler) Unassembled() uint64 {
	return r.unassembled
}

// PushSubstring delivers data, known to start at absolute index, to the
// reassembler. If eof is true, index+len(data) is recorded as the
// logical end of the stream, and the output's input is ended once the
// bytes written reach or pass it.
func (r *StreamReassembler) PushSubstring(data []byte, index uint64, eof bool) {
	if eof {
		end := index + uint64(len(data))
		r.eofIndex = &end
	}

	writtenTotal := r.output.BytesWritten()
	windowEnd := writtenTotal + r.output.RemainingCapacity()

	i, d := clamp(index, data, writtenTotal, windowEnd)
	if dropped := len(data) - len(d); dropped > 0 {
		reason := "above_window"
		if index < writtenTotal {
			reason = "below_window"
		}
		metrics.ReassemblerBytesDropped.WithLabelValues(reason).Add(float64(dropped))
	}
	if len(d) > 0 {
		r.insert(i, append([]byte(nil), d...))
	}

	r.drain()
	r.checkEOF()
}

// clamp restricts [index, index+len(data)) to [lo, hi), returning the
// clamped start index and the surviving slice of data (which may be
// nil/empty).
func clamp(index uint64, data []byte, lo, hi uint64) (uint64, []byte) {
	if hi <= lo {
		return lo, nil
	}
	end := index + uint64(len(data))
	if end <= lo || index >= hi {
		return lo, nil
	}
	start := index
	if start < lo {
		data = data[lo-start:]
		start = lo
	}
	end = start + uint64(len(data))
	if end > hi {
		data = data[:uint64(len(data))-(end-hi)]
	}
	return start, data
}

// insert merges a new, already-clamped range into pending, keeping
// pending's existing bytes on any overlap (the "existing bytes win" rule).
func (r *StreamReassembler) insert(index uint64, data []byte) {
	result := make([]segment, 0, len(r.pending)+1)
	cur := segment{index: index, data: data}

	for _, existing := range r.pending {
		if len(cur.data) == 0 {
			result = append(result, existing)
			continue
		}
		curEnd := cur.index + uint64(len(cur.data))
		existingEnd := existing.index + uint64(len(existing.data))

		if curEnd <= existing.index {
			result = append(result, cur, existing)
			cur.data = nil
			continue
		}
		if cur.index >= existingEnd {
			result = append(result, existing)
			continue
		}

		// Overlap: existing bytes win. Emit any left-only slice of cur
		// that precedes existing, then drop or trim the covered part.
		if cur.index < existing.index {
			left := existing.index - cur.index
			result = append(result, segment{index: cur.index, data: cur.data[:left]})
		}
		result = append(result, existing)
		if curEnd <= existingEnd {
			cur.data = nil
		} else {
			trim := existingEnd - cur.index
			cur = segment{index: existingEnd, data: cur.data[trim:]}
		}
	}
	if len(cur.data) > 0 {
		result = append(result, cur)
	}
	r.pending = result
	r.recomputeUnassembled()
}

func (r *StreamReassembler) recomputeUnassembled() {
	var total uint64
	for _, s := range r.pending {
		total += uint64(len(s.data))
	}
	r.unassembled = total
}

// drain writes every pending range whose start has reached written_total
// to the output stream, in order, and drops them from pending.
func (r *StreamReassembler) drain() {
	for len(r.pending) > 0 {
		head := r.pending[0]
		writtenTotal := r.output.BytesWritten()
		if head.index > writtenTotal {
			break
		}
		if head.index < writtenTotal {
			trim := writtenTotal - head.index
			if trim >= uint64(len(head.data)) {
				r.pending = r.pending[1:]
				continue
			}
			head.data = head.data[trim:]
		}
		r.output.Write(head.data)
		r.pending = r.pending[1:]
	}
	r.recomputeUnassembled()
}

func (r *StreamReassembler) checkEOF() {
	if r.eofIndex != nil && r.output.BytesWritten() >= *r.eofIndex {
		r.output.EndInput()
	}
}
