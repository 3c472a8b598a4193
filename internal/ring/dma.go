// internal/ring/dma.go
package ring

import (
	"errors"
	"math/bits"
	"sync/atomic"
)

// CountMask strips the channel mode bits from the live transfer-count
// register. The upper nibble selects the re-trigger mode and must never
// leak into byte arithmetic.
const CountMask = 0x0FFFFFFF

// Engine is the software view of a self-triggering receive DMA channel:
// something that deposits bytes into the ring at its own pace and exposes
// the live transfer-count register. The register counts DOWN from the ring
// size and reloads at zero.
type Engine interface {
	Remaining() uint32
}

// DMA tracks the consumer side of a ring buffer owned by a free-running
// DMA engine. The engine wraps at the buffer boundary and reloads its
// transfer count every full pass; each reload raises an interrupt which
// must be forwarded to IRQ so the epoch counter keeps up.
//
// The producer is hardware. The consumer is the main loop. The only
// synchronisation is the epoch protocol in Produced.
type DMA struct {
	buf     []byte
	size    uint32
	mask    uint32
	engine  Engine
	epoch   atomic.Uint32
	readIdx uint32
	total   uint32 // total bytes consumed, monotonic mod 2^32
	scratch []byte
}

// NewDMA wraps buf, whose length must be a power of two, as a DMA ring.
// spanMax bounds the largest contiguous view Span will ever be asked to
// assemble across the wrap boundary.
func NewDMA(buf []byte, spanMax int) (*DMA, error) {
	n := len(buf)
	if n == 0 || bits.OnesCount(uint(n)) != 1 {
		return nil, errors.New("ring: buffer length must be a power of two")
	}
	if spanMax > n {
		return nil, errors.New("ring: span limit exceeds buffer")
	}
	return &DMA{
		buf:     buf,
		size:    uint32(n),
		mask:    uint32(n) - 1,
		scratch: make([]byte, spanMax),
	}, nil
}

// Attach binds the engine once it has been built around the same buffer.
func (d *DMA) Attach(e Engine) { d.engine = e }

// Buffer returns the backing store for the engine to write into.
func (d *DMA) Buffer() []byte { return d.buf }

// Size returns the ring capacity in bytes.
func (d *DMA) Size() uint32 { return d.size }

// IRQ records one completed pass of the engine over the ring. Interrupt
// context: this is the only method safe to call outside the main loop.
func (d *DMA) IRQ() { d.epoch.Add(1) }

// Epoch returns the completed-pass count.
func (d *DMA) Epoch() uint32 { return d.epoch.Load() }

// Consumed returns the total bytes the consumer has read, mod 2^32.
func (d *DMA) Consumed() uint32 { return d.total }

// ReadIdx returns the consumer's current index into the ring.
func (d *DMA) ReadIdx() uint32 { return d.readIdx }

// Produced returns the total bytes the engine has written, mod 2^32.
//
// Two races make this more than a multiply-add:
//
//  1. The reload interrupt can fire between reading the epoch and reading
//     the live count, pairing a stale count with a new epoch and
//     over-counting by one ring size. The epoch is therefore read on both
//     sides of the register read and the whole thing retried on a change.
//
//  2. The hardware reloads the count to size immediately at zero but the
//     interrupt that advances the epoch lands a moment later. A read in
//     that window pairs the reloaded count with the old epoch and
//     under-counts by one ring size. Detected because production can
//     never trail consumption; corrected by adding one ring size.
//
// Both corrections are required. The atomic epoch loads order the register
// read between them.
func (d *DMA) Produced() uint32 {
	var epoch, remaining uint32
	for {
		epoch = d.epoch.Load()
		remaining = d.engine.Remaining() & CountMask
		if epoch == d.epoch.Load() {
			break
		}
	}
	total := epoch*d.size + (d.size - remaining)
	if int32(total-d.total) < 0 {
		total += d.size
	}
	return total
}

// Overrun returns the current produced total and whether the engine has
// lapped the consumer. On overrun the consumer is resynchronised to the
// producer position; the caller must discard any in-flight parser state.
func (d *DMA) Overrun() (uint32, bool) {
	total := d.Produced()
	if total-d.total > d.size {
		d.resyncTo(total)
		return total, true
	}
	return total, false
}

// ReadByte consumes and returns the byte at the read index. The caller is
// responsible for knowing, via Overrun and the produced total, that the
// byte exists.
func (d *DMA) ReadByte() byte {
	b := d.buf[d.readIdx]
	d.readIdx = (d.readIdx + 1) & d.mask
	d.total++
	return b
}

// Skip advances the consumer by n bytes without touching them.
func (d *DMA) Skip(n uint32) {
	d.readIdx = (d.readIdx + n) & d.mask
	d.total += n
}

// Span returns a contiguous view of n bytes starting at ring index start.
// When the range straddles the wrap boundary the bytes are assembled into
// the scratch buffer; either way the view is valid only until the engine
// has written size-n further bytes, which the caller must verify with
// Overwritten after using it.
func (d *DMA) Span(start, n uint32) []byte {
	if start+n <= d.size {
		return d.buf[start : start+n]
	}
	first := d.size - start
	copy(d.scratch, d.buf[start:])
	copy(d.scratch[first:], d.buf[:n-first])
	return d.scratch[:n]
}

// Overwritten reports whether the engine may have trampled a span whose
// first byte was consumed when Consumed stood at since. This is the
// bankruptcy test: a callback that was handed an interior pointer must be
// considered to have read garbage if this returns true afterwards.
func (d *DMA) Overwritten(since uint32) bool {
	return d.Produced()-since > d.size
}

// Bankrupt abandons everything: the consumer jumps to the producer
// position and all unread bytes are forgotten. Used after Overwritten
// reports a trampled span.
func (d *DMA) Bankrupt() {
	d.resyncTo(d.Produced())
}

func (d *DMA) resyncTo(total uint32) {
	d.readIdx = total & d.mask
	d.total = total
}
