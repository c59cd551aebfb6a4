package reassembly_test

import (
	"testing"

	"github.com/go-test/deep"

	"github.com/m-lab/tcpstack/reassembly"
)

func TestOutOfOrderReassembly(t *testing.T) {
	r := reassembly.New(8)
	r.PushSubstring([]byte("ef"), 4, false)
	if r.Output().BytesWritten() != 0 || r.Unassembled() != 2 {
		t.Fatalf("after push1: written=%d unassembled=%d", r.Output().BytesWritten(), r.Unassembled())
	}
	r.PushSubstring([]byte("cd"), 2, false)
	if r.Output().BytesWritten() != 0 || r.Unassembled() != 4 {
		t.Fatalf("after push2: written=%d unassembled=%d", r.Output().BytesWritten(), r.Unassembled())
	}
	r.PushSubstring([]byte("ab"), 0, true)
	if r.Output().BytesWritten() != 6 || r.Unassembled() != 0 {
		t.Fatalf("after push3: written=%d unassembled=%d", r.Output().BytesWritten(), r.Unassembled())
	}
	if !r.Output().EOF() {
		t.Fatalf("expected eof once the FIN byte position was reached")
	}
	got := r.Output().Read(6)
	if string(got) != "abcdef" {
		t.Fatalf("got %q, want %q", got, "abcdef")
	}
}

func TestOverlapExistingBytesWin(t *testing.T) {
	r := reassembly.New(16)
	r.PushSubstring([]byte("abcdef"), 0, false)
	r.PushSubstring([]byte("cdXXgh"), 2, false)
	if r.Unassembled() != 0 {
		t.Fatalf("expected fully assembled, unassembled=%d", r.Unassembled())
	}
	got := r.Output().Read(8)
	if string(got) != "abcdefgh" {
		t.Fatalf("got %q, want %q", got, "abcdefgh")
	}
}

func TestReassemblyIdempotence(t *testing.T) {
	r1 := reassembly.New(16)
	r1.PushSubstring([]byte("hello"), 0, false)
	r1.PushSubstring([]byte("hello"), 0, false)

	r2 := reassembly.New(16)
	r2.PushSubstring([]byte("hello"), 0, false)

	if r1.Output().BytesWritten() != r2.Output().BytesWritten() {
		t.Fatalf("idempotence violated: %d vs %d", r1.Output().BytesWritten(), r2.Output().BytesWritten())
	}
}

func TestReassemblyCommutativity(t *testing.T) {
	build := func(order [][2]interface{}) string {
		r := reassembly.New(32)
		for _, piece := range order {
			data := piece[0].(string)
			idx := piece[1].(uint64)
			r.PushSubstring([]byte(data), idx, false)
		}
		return string(r.Output().Peek(int(r.Output().BytesWritten())))
	}
	a := build([][2]interface{}{{"abc", uint64(0)}, {"def", uint64(3)}, {"ghi", uint64(6)}})
	b := build([][2]interface{}{{"ghi", uint64(6)}, {"abc", uint64(0)}, {"def", uint64(3)}})
	c := build([][2]interface{}{{"def", uint64(3)}, {"ghi", uint64(6)}, {"abc", uint64(0)}})
	if diff := deep.Equal(a, b); diff != nil {
		t.Fatalf("commutativity violated between orderings 1 and 2: %v", diff)
	}
	if diff := deep.Equal(b, c); diff != nil {
		t.Fatalf("commutativity violated between orderings 2 and 3: %v", diff)
	}
}

func TestWindowClampDropsOutOfRangeBytes(t *testing.T) {
	r := reassembly.New(4)
	r.PushSubstring([]byte("abcdefgh"), 0, false)
	if r.Output().BytesWritten() != 4 {
		t.Fatalf("expected only 4 bytes accepted within window, got %d", r.Output().BytesWritten())
	}
	if r.Unassembled() != 0 {
		t.Fatalf("expected no pending bytes beyond the window, got %d", r.Unassembled())
	}
}
