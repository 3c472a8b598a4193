// internal/ring/queue_test.go
package ring

import (
	"bytes"
	"testing"
)

func TestQueueEnqueueAllOrNothing(t *testing.T) {
	q := NewQueue(8)

	if !q.Enqueue([]byte{1, 2, 3, 4, 5}) {
		t.Fatalf("enqueue of 5 into empty 8 failed")
	}
	if q.Enqueue([]byte{6, 7, 8, 9}) {
		t.Fatalf("enqueue of 4 into 3 free should fail")
	}
	if q.Len() != 5 {
		t.Fatalf("failed enqueue must not consume space: len=%d", q.Len())
	}

	var dst [8]byte
	if n := q.Drain(dst[:]); n != 5 || !bytes.Equal(dst[:5], []byte{1, 2, 3, 4, 5}) {
		t.Fatalf("drain got n=%d data=%v", n, dst[:n])
	}
}

func TestQueuePartialWrite(t *testing.T) {
	q := NewQueue(4)

	if n := q.Write([]byte{1, 2, 3, 4, 5, 6}); n != 4 {
		t.Fatalf("expected 4 accepted, got %d", n)
	}
	if q.Free() != 0 {
		t.Fatalf("queue should be full, free=%d", q.Free())
	}
	if n := q.Write([]byte{9}); n != 0 {
		t.Fatalf("full queue accepted %d bytes", n)
	}
}

func TestQueueWrapOrder(t *testing.T) {
	q := NewQueue(4)
	var dst [4]byte

	// Push the head/tail around the boundary a few times.
	for round := byte(0); round < 10; round++ {
		in := []byte{round, round + 1, round + 2}
		if !q.Enqueue(in) {
			t.Fatalf("round %d: enqueue failed", round)
		}
		if n := q.Drain(dst[:3]); n != 3 || !bytes.Equal(dst[:3], in) {
			t.Fatalf("round %d: got %v want %v", round, dst[:n], in)
		}
	}
}

func TestQueueReset(t *testing.T) {
	q := NewQueue(8)
	q.Enqueue([]byte{1, 2, 3})
	q.Reset()
	if q.Len() != 0 || q.Free() != 8 {
		t.Fatalf("reset left len=%d free=%d", q.Len(), q.Free())
	}
}
