// internal/piobus/piobus.go

// Package piobus implements the slave side of the 6502 parallel bus: a
// single memory-mapped byte register serviced by a programmable-I/O
// engine, with DMA in both directions.
//
// All protocol is in-band. The CPU writes [device] [length] [payload] to
// deliver a message, or [device|0x80] to request a read; it then polls
// the register, receiving 0xFF until the response [length] [payload] is
// staged. 0xFF cannot collide with a length because lengths cap at 254 —
// the PIO pre-loads its output-shift register with 0xFFFFFFFF after every
// serviced read so an empty TX FIFO yields the sentinel for free.
package piobus

import (
	"github.com/tamzrod/busbridge/internal/hw"
	"github.com/tamzrod/busbridge/internal/ring"
)

const (
	// MaxDevices bounds the device address space actually deployed; the
	// wire allows 0..127 but only this many have buffers and callbacks.
	MaxDevices = 8

	// MaxBuffer is the per-device TX (CPU-facing) buffer size.
	MaxBuffer = 1024

	// MaxTransfer caps a single message in either direction. 255 is
	// reserved: it is the not-ready sentinel on the read path.
	MaxTransfer = 254

	// ReadFlag marks the first byte of a transaction as a read request.
	ReadFlag = 0x80

	// RingBits sizes the RX DMA ring.
	RingBits = 15
	RingSize = 1 << RingBits
)

// DeviceIRQSource is the reserved device: reading it yields the device ID
// of the next pending interrupt source, or zero.
const DeviceIRQSource = 0

type protoState uint8

const (
	stateIdle protoState = iota
	stateGotDevice
	stateReceiving
	stateSending
)

// RXCallback is invoked once per completed CPU write. data points into
// the DMA ring (or a wrap-assembled copy) and is valid only for the
// duration of the call.
type RXCallback func(device byte, data []byte)

// Stats are cumulative since Init or ClearStats.
type Stats struct {
	RXBytes        uint32 // bytes received from the CPU
	TXBytes        uint32 // bytes staged for the CPU
	RXDMAOverruns  uint32 // ring overruns, data lost before parsing
	RXBankruptcies uint32 // ring overruns during a callback
	TXUnderflows   uint32 // read requests that found an empty buffer
	DeviceDrops    [MaxDevices]uint32
}

// Engine is the parallel-bus slave engine. Construct with New, Init once,
// Start, then Task from the main loop.
type Engine struct {
	rx *ring.DMA
	tx hw.TXLoader

	state     protoState
	device    byte
	remaining uint16

	pendingRead       bool
	pendingReadDevice byte
	underflowRecorded bool

	txnStart uint32 // ring index of the in-flight payload
	txnLen   uint16
	txnSince uint32 // consumed-total at payload start

	callbacks [MaxDevices]RXCallback
	devbufs   [MaxDevices]*ring.Queue
	staging   [1 + MaxTransfer]byte

	started bool
	stats   Stats
}

// NewRing allocates the RX DMA ring the engine consumes.
func NewRing() (*ring.DMA, error) {
	return ring.NewDMA(make([]byte, RingSize), MaxTransfer)
}

// New builds an engine over an RX ring and a one-shot TX channel into the
// PIO transmit FIFO.
func New(rx *ring.DMA, tx hw.TXLoader) *Engine {
	e := &Engine{rx: rx, tx: tx}
	for i := range e.devbufs {
		e.devbufs[i] = ring.NewQueue(MaxBuffer)
	}
	return e
}

// Init resets buffers, state and statistics. Idempotent.
func (e *Engine) Init() {
	for _, b := range e.devbufs {
		b.Reset()
	}
	e.state = stateIdle
	e.pendingRead = false
	e.underflowRecorded = false
	e.stats = Stats{}
}

// Start enables the engine.
func (e *Engine) Start() { e.started = true }

// Stop disables it and abandons any in-flight transaction.
func (e *Engine) Stop() {
	e.started = false
	e.state = stateIdle
}

// RegisterRXCallback installs the per-device write callback. nil
// unregisters.
func (e *Engine) RegisterRXCallback(device byte, fn RXCallback) {
	if device < MaxDevices {
		e.callbacks[device] = fn
	}
}

// DeviceWrite enqueues bytes for the CPU to read from device and returns
// how many actually fit.
func (e *Engine) DeviceWrite(device byte, data []byte) int {
	if device >= MaxDevices {
		return 0
	}
	return e.devbufs[device].Write(data)
}

// DeviceTXCount returns the number of bytes pending for the CPU on
// device.
func (e *Engine) DeviceTXCount(device byte) int {
	if device >= MaxDevices {
		return 0
	}
	return e.devbufs[device].Len()
}

// DeviceClear discards a device's pending bytes.
func (e *Engine) DeviceClear(device byte) {
	if device < MaxDevices {
		e.devbufs[device].Reset()
	}
}

// AddDeviceDrop records bytes originated by device that the bridge could
// not forward upstream.
func (e *Engine) AddDeviceDrop(device byte, n int) {
	if device < MaxDevices {
		e.stats.DeviceDrops[device] += uint32(n)
	}
}

// Stats returns a copy of the counters.
func (e *Engine) Stats() Stats { return e.stats }

// ClearStats zeroes the counters.
func (e *Engine) ClearStats() { e.stats = Stats{} }

// Task parses received bytes and services read requests. Call frequently:
// the CPU polls at bus speed and the ring consumer must keep pace with
// the PIO producer.
//
// A loaded TX DMA is never cancelled; if the CPU stops polling mid-read
// the staging bytes remain armed until drained by later reads.
func (e *Engine) Task() {
	if !e.started {
		return
	}
	e.processRX()
	e.feedTX()
}

func (e *Engine) processRX() {
	total, over := e.rx.Overrun()
	if over {
		e.stats.RXDMAOverruns++
		e.state = stateIdle
		return
	}

	for e.rx.Consumed() != total {
		b := e.rx.ReadByte()
		e.stats.RXBytes++

		switch e.state {
		case stateIdle, stateSending:
			// First byte of a transaction: device number, bit 7 set for
			// a read request. A new command while Sending is legal; the
			// armed TX drains independently.
			e.beginTransaction(b)

		case stateGotDevice:
			if b == 0 {
				e.state = stateIdle
				break
			}
			e.remaining = uint16(b)
			e.txnStart = e.rx.ReadIdx()
			e.txnLen = e.remaining
			e.txnSince = e.rx.Consumed()
			e.state = stateReceiving

		case stateReceiving:
			e.remaining--
			if e.remaining == 0 {
				if e.dispatch() {
					return
				}
				e.state = stateIdle
			}
		}
	}
}

func (e *Engine) beginTransaction(b byte) {
	dev := b &^ byte(ReadFlag)
	if dev >= MaxDevices {
		// Invalid device: discard the byte and stay put.
		if e.state == stateSending {
			e.state = stateIdle
		}
		return
	}
	e.device = dev
	if b&ReadFlag != 0 {
		e.pendingRead = true
		e.pendingReadDevice = dev
		e.underflowRecorded = false
		e.state = stateIdle
	} else {
		e.state = stateGotDevice
	}
}

// dispatch hands the completed payload to the device callback, then runs
// the bankruptcy check: the PIO DMA may have wrapped and overwritten the
// span while the callback was reading it. Returns true when the parse
// must be abandoned.
func (e *Engine) dispatch() bool {
	if cb := e.callbacks[e.device]; cb != nil {
		span := e.rx.Span(e.txnStart, uint32(e.txnLen))
		cb(e.device, span)
	}
	if e.rx.Overwritten(e.txnSince) {
		e.stats.RXBankruptcies++
		e.state = stateIdle
		e.rx.Bankrupt()
		return true
	}
	return false
}

func (e *Engine) feedTX() {
	if e.state == stateSending && !e.tx.Busy() {
		e.state = stateIdle
	}

	if !e.pendingRead || e.state == stateSending || e.tx.Busy() {
		return
	}

	if e.pendingReadDevice == DeviceIRQSource {
		// Interrupt-source query: one byte naming the next pending
		// device, or zero if none remain.
		e.staging[0] = 1
		e.staging[1] = e.nextPendingDevice()
		e.stats.TXBytes++
		e.tx.Load(e.staging[:2])
		e.state = stateSending
		e.pendingRead = false
		e.underflowRecorded = false
		return
	}

	buf := e.devbufs[e.pendingReadDevice]
	if buf.Len() > 0 {
		n := buf.Len()
		if n > MaxTransfer {
			n = MaxTransfer
		}
		e.staging[0] = byte(n)
		buf.Drain(e.staging[1 : 1+n])
		e.stats.TXBytes += uint32(n)
		e.tx.Load(e.staging[:1+n])
		e.state = stateSending
		e.pendingRead = false
		e.underflowRecorded = false
	} else if !e.underflowRecorded {
		// Nothing to send; the empty FIFO's sentinel keeps the CPU
		// polling. Record the underflow once per request.
		e.stats.TXUnderflows++
		e.underflowRecorded = true
	}
}

func (e *Engine) nextPendingDevice() byte {
	for d := byte(1); d < MaxDevices; d++ {
		if e.devbufs[d].Len() > 0 {
			return d
		}
	}
	return 0
}
