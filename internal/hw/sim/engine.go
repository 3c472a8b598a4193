// internal/hw/sim/engine.go
package sim

import (
	"sync/atomic"

	"github.com/tamzrod/busbridge/internal/ring"
)

// modeTriggerSelf is the re-trigger mode nibble in the transfer-count
// register. The simulated register carries it so that consumers must mask
// it off, exactly as on the hardware.
const modeTriggerSelf = 1 << 28

// Engine is a simulated self-triggering receive DMA channel. Produce
// plays the role of the peripheral's data request: each byte lands in the
// ring at the current write position, the transfer count decrements, and
// on reaching zero the count reloads and the ring's epoch interrupt
// fires.
//
// holdIRQ opens the reload-before-interrupt window on demand so tests can
// exercise the consumer's correction for it.
type Engine struct {
	buf       []byte
	size      uint32
	writeIdx  uint32
	remaining atomic.Uint32
	irq       func()
	holdIRQ   bool
	heldIRQs  int
}

// NewEngine builds an engine over the ring's buffer and attaches it.
func NewEngine(d *ring.DMA) *Engine {
	e := &Engine{
		buf:  d.Buffer(),
		size: d.Size(),
		irq:  d.IRQ,
	}
	e.remaining.Store(e.size)
	d.Attach(e)
	return e
}

// Remaining returns the live transfer-count register, mode bits included.
func (e *Engine) Remaining() uint32 {
	return e.remaining.Load() | modeTriggerSelf
}

// Produce deposits p into the ring, wrapping and re-triggering as the
// hardware would.
func (e *Engine) Produce(p []byte) {
	for _, b := range p {
		e.buf[e.writeIdx] = b
		e.writeIdx = (e.writeIdx + 1) % e.size
		if e.remaining.Add(^uint32(0)) == 0 {
			e.remaining.Store(e.size)
			if e.holdIRQ {
				e.heldIRQs++
			} else {
				e.irq()
			}
		}
	}
}

// HoldIRQ suspends delivery of reload interrupts. While held, the count
// register still reloads, reproducing the window where a reader sees the
// new count with the old epoch.
func (e *Engine) HoldIRQ() { e.holdIRQ = true }

// ReleaseIRQ delivers any reload interrupts deferred by HoldIRQ.
func (e *Engine) ReleaseIRQ() {
	e.holdIRQ = false
	for ; e.heldIRQs > 0; e.heldIRQs-- {
		e.irq()
	}
}

// Pin is a simulated GPIO output. It implements hw.Line; Asserted is the
// view from the far side of the wire.
type Pin struct {
	asserted bool
}

func (p *Pin) Assert()   { p.asserted = true }
func (p *Pin) Deassert() { p.asserted = false }

// Asserted reports whether the line is electrically active.
func (p *Pin) Asserted() bool { return p.asserted }

// Loader is a simulated one-shot transmit DMA channel. Load arms it with
// a staging buffer; the peripheral drains it byte by byte with take.
type Loader struct {
	data []byte
	pos  int
}

// Load arms the channel. The bytes are copied: the engine is free to
// reuse its staging buffer.
func (l *Loader) Load(p []byte) {
	l.data = append(l.data[:0], p...)
	l.pos = 0
}

// Busy reports whether loaded bytes remain.
func (l *Loader) Busy() bool { return l.pos < len(l.data) }

// take pops the next byte, or returns fallback when the channel is idle.
func (l *Loader) take(fallback byte) byte {
	if l.pos >= len(l.data) {
		return fallback
	}
	b := l.data[l.pos]
	l.pos++
	return b
}
