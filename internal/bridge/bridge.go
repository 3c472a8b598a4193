// internal/bridge/bridge.go

// Package bridge multiplexes the two transports: messages written by the
// CPU are framed device-addressed onto the SPI TX queue, and the SPI
// inbound stream is parsed as TLV frames and delivered to the per-device
// CPU-facing buffers. The bridge also owns the CPU-facing interrupt line.
//
// The engines never know each other exists; the bridge holds both and
// passes callbacks at construction.
package bridge

import (
	"github.com/tamzrod/busbridge/internal/hw"
	"github.com/tamzrod/busbridge/internal/piobus"
	"github.com/tamzrod/busbridge/internal/spislave"
)

type tlvState uint8

const (
	tlvIdle tlvState = iota
	tlvGotDevice
	tlvReceiving
)

// Stats are cumulative since New or ClearStats.
type Stats struct {
	BusToSPIMsgs  uint32 // messages forwarded CPU -> host
	BusToSPIBytes uint32
	BusToSPIDrops uint32 // messages lost to a full SPI TX queue
	SPIToBusMsgs  uint32 // messages delivered host -> CPU
	SPIToBusBytes uint32
	SPIToBusDrops uint32 // payload bytes lost to a full device buffer
	TLVDiscards   uint32 // invalid device bytes discarded while resyncing
}

// Bridge wires the two engines together. Construct with New, then drive
// Task from the main loop.
type Bridge struct {
	bus *piobus.Engine
	spi *spislave.Engine

	cpuIRQ      hw.Line
	irqAsserted bool

	// SPI -> bus TLV parser
	state     tlvState
	device    byte
	remaining int
	pos       int
	msg       [255]byte // a length byte can be anything up to 255
	drainBuf  [512]byte

	// CPU -> SPI frame assembly: header plus the largest bus payload
	frame [2 + piobus.MaxTransfer]byte

	stats Stats
}

// New builds the bridge and registers its forwarding callback on every
// bus device.
func New(bus *piobus.Engine, spi *spislave.Engine, cpuIRQ hw.Line) *Bridge {
	b := &Bridge{bus: bus, spi: spi, cpuIRQ: cpuIRQ}
	for d := byte(0); d < piobus.MaxDevices; d++ {
		b.bus.RegisterRXCallback(d, b.busToSPI)
	}
	return b
}

// Task runs one main-loop iteration: both engine tasks, the inbound TLV
// drain, and the CPU interrupt recomputation.
func (b *Bridge) Task() {
	b.bus.Task()
	b.spi.Task()
	b.drainSPIRX()
	b.updateCPUIRQ()
}

// Stats returns a copy of the counters.
func (b *Bridge) Stats() Stats { return b.stats }

// ClearStats zeroes the counters.
func (b *Bridge) ClearStats() { b.stats = Stats{} }

// busToSPI forwards one completed CPU write as a [device, length,
// payload] frame. The frame is assembled first and enqueued
// all-or-nothing so a full queue can never leave a header without its
// payload in the stream.
func (b *Bridge) busToSPI(device byte, data []byte) {
	b.frame[0] = device
	b.frame[1] = byte(len(data))
	copy(b.frame[2:], data)

	if !b.spi.TXEnqueue(b.frame[:2+len(data)]) {
		b.stats.BusToSPIDrops++
		b.bus.AddDeviceDrop(device, len(data))
		return
	}
	b.stats.BusToSPIMsgs++
	b.stats.BusToSPIBytes += uint32(len(data))
}

// drainSPIRX pulls queued inbound bytes out of the SPI engine and runs
// them through the TLV parser.
func (b *Bridge) drainSPIRX() {
	for {
		n := b.spi.RXDrain(b.drainBuf[:])
		if n == 0 {
			return
		}
		for _, c := range b.drainBuf[:n] {
			b.parseByte(c)
		}
	}
}

// parseByte advances the TLV state machine by one byte. An invalid
// device byte discards exactly that byte, so recovery after any framing
// desynchronisation is bounded.
func (b *Bridge) parseByte(c byte) {
	switch b.state {
	case tlvIdle:
		if c >= piobus.MaxDevices {
			b.stats.TLVDiscards++
			return
		}
		b.device = c
		b.state = tlvGotDevice

	case tlvGotDevice:
		b.remaining = int(c)
		b.pos = 0
		if b.remaining == 0 {
			b.state = tlvIdle
		} else {
			b.state = tlvReceiving
		}

	case tlvReceiving:
		b.msg[b.pos] = c
		b.pos++
		b.remaining--
		if b.remaining == 0 {
			written := b.bus.DeviceWrite(b.device, b.msg[:b.pos])
			if written < b.pos {
				b.stats.SPIToBusDrops += uint32(b.pos - written)
			}
			b.stats.SPIToBusMsgs++
			b.stats.SPIToBusBytes += uint32(b.pos)
			b.state = tlvIdle
		}
	}
}

// updateCPUIRQ recomputes the CPU-facing interrupt line: asserted while
// any device has pending data.
func (b *Bridge) updateCPUIRQ() {
	any := false
	for d := byte(0); d < piobus.MaxDevices; d++ {
		if b.bus.DeviceTXCount(d) > 0 {
			any = true
			break
		}
	}

	if any && !b.irqAsserted {
		b.cpuIRQ.Assert()
		b.irqAsserted = true
	} else if !any && b.irqAsserted {
		b.cpuIRQ.Deassert()
		b.irqAsserted = false
	}
}
