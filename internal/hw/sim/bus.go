// internal/hw/sim/bus.go
package sim

import (
	"github.com/tamzrod/busbridge/internal/piobus"
)

// Bus is the simulated PIO parallel-bus peripheral together with the
// CPU-side API. A write cycle pushes the data byte through the RX FIFO
// path into the engine's ring; a read cycle pulls from the loaded TX
// staging or yields the output-shift-register sentinel when the FIFO is
// empty.
type Bus struct {
	engine *Engine
	loader *Loader
	cpuIRQ *Pin
	pump   func()
}

// WriteCycle performs one CPU write cycle.
func (b *Bus) WriteCycle(c byte) {
	b.engine.Produce([]byte{c})
}

// ReadCycle performs one CPU read cycle. An empty TX FIFO drives the
// pre-loaded 0xFFFFFFFF shift register onto the bus: 0xFF.
func (b *Bus) ReadCycle() byte {
	return b.loader.take(0xFF)
}

// WriteMessage performs the [device] [length] [payload] write sequence.
func (b *Bus) WriteMessage(device byte, payload []byte) {
	b.WriteCycle(device)
	b.WriteCycle(byte(len(payload)))
	for _, c := range payload {
		b.WriteCycle(c)
	}
}

// ReadMessage issues a read request for device and polls until the
// response arrives: zero or more 0xFF sentinels, then [length]
// [payload]. Returns false when the device stayed silent.
func (b *Bus) ReadMessage(device byte) ([]byte, bool) {
	b.WriteCycle(device | piobus.ReadFlag)
	for i := 0; i < waitPolls; i++ {
		b.pump()
		c := b.ReadCycle()
		if c == 0xFF {
			continue
		}
		payload := make([]byte, c)
		for j := range payload {
			payload[j] = b.ReadCycle()
		}
		return payload, true
	}
	return nil, false
}

// IRQAsserted reports the CPU-facing interrupt line.
func (b *Bus) IRQAsserted() bool { return b.cpuIRQ.Asserted() }
