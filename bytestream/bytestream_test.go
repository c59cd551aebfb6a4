package bytestream_test

import (
	"testing"

	"github.com/m-lab/tcpstack/bytestream"
)

func TestWriteReadBasic(t *testing.T) {
	bs := bytestream.New(4)
	if n := bs.Write([]byte("hello")); n != 4 {
		t.Fatalf("expected partial write of 4 bytes, got %d", n)
	}
	if bs.BufferedBytes() != 4 {
		t.Fatalf("expected 4 buffered bytes, got %d", bs.BufferedBytes())
	}
	if bs.RemainingCapacity() != 0 {
		t.Fatalf("expected 0 remaining capacity, got %d", bs.RemainingCapacity())
	}
	got := bs.Read(4)
	if string(got) != "hell" {
		t.Fatalf("expected %q, got %q", "hell", got)
	}
	if bs.BytesRead() != 4 || bs.BytesWritten() != 4 {
		t.Fatalf("unexpected counters: read=%d written=%d", bs.BytesRead(), bs.BytesWritten())
	}
}

func TestPeekDoesNotConsume(t *testing.T) {
	bs := bytestream.New(16)
	bs.Write([]byte("abc"))
	if got := bs.Peek(2); string(got) != "ab" {
		t.Fatalf("peek got %q", got)
	}
	if bs.BufferedBytes() != 3 {
		t.Fatalf("peek should not consume, buffered=%d", bs.BufferedBytes())
	}
}

func TestEndInputRejectsFurtherWrites(t *testing.T) {
	bs := bytestream.New(16)
	bs.Write([]byte("a"))
	bs.EndInput()
	if n := bs.Write([]byte("b")); n != 0 {
		t.Fatalf("expected write after EndInput to be rejected, got %d", n)
	}
}

func TestEOF(t *testing.T) {
	bs := bytestream.New(16)
	bs.Write([]byte("ab"))
	bs.EndInput()
	if bs.EOF() {
		t.Fatalf("EOF should be false while bytes remain buffered")
	}
	bs.Read(2)
	if !bs.EOF() {
		t.Fatalf("EOF should be true once input ended and buffer drained")
	}
}

func TestInvariantsHoldAcrossOps(t *testing.T) {
	bs := bytestream.New(8)
	ops := []string{"abc", "de", "fghij", "k"}
	for _, s := range ops {
		bs.Write([]byte(s))
		if bs.BytesRead() > bs.BytesWritten() {
			t.Fatalf("read exceeded written")
		}
		if bs.BufferedBytes() != bs.BytesWritten()-bs.BytesRead() {
			t.Fatalf("buffered mismatch: buffered=%d written=%d read=%d",
				bs.BufferedBytes(), bs.BytesWritten(), bs.BytesRead())
		}
		if bs.BufferedBytes() > bs.Capacity() {
			t.Fatalf("buffered exceeded capacity")
		}
		bs.Pop(2)
	}
}
