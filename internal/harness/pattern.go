// internal/harness/pattern.go
package harness

import (
	"encoding/binary"
	"fmt"
)

// Workload payloads carry a big-endian sequence number followed by a
// deterministic pattern. Host-to-slave payloads use mult 1; the stress
// echo and the read-blast pages use mult 7, so a stale forward payload can
// never verify as one of them. The loopback echo is the forward payload
// returned unchanged and is verified with mult 1.
const patternOffset = 4

func makePayload(seq uint32, mult uint32, n int) []byte {
	p := make([]byte, n)
	if n < patternOffset {
		for i := range p {
			p[i] = byte(seq*mult + uint32(i))
		}
		return p
	}
	binary.BigEndian.PutUint32(p[:patternOffset], seq)
	for i := patternOffset; i < n; i++ {
		p[i] = byte(seq*mult + uint32(i-patternOffset))
	}
	return p
}

func verifyPayload(data []byte, seq uint32, mult uint32, n int) error {
	if len(data) != n {
		return fmt.Errorf("length mismatch: expected %d, got %d", n, len(data))
	}
	if n < patternOffset {
		for i := range data {
			if want := byte(seq*mult + uint32(i)); data[i] != want {
				return fmt.Errorf("byte[%d] expected 0x%02x got 0x%02x", i, want, data[i])
			}
		}
		return nil
	}
	if got := binary.BigEndian.Uint32(data[:patternOffset]); got != seq {
		return fmt.Errorf("seq mismatch: expected %d, got %d", seq, got)
	}
	for i := patternOffset; i < n; i++ {
		want := byte(seq*mult + uint32(i-patternOffset))
		if data[i] != want {
			return fmt.Errorf("byte[%d] expected 0x%02x got 0x%02x", i, want, data[i])
		}
	}
	return nil
}
