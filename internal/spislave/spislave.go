// internal/spislave/spislave.go

// Package spislave implements the slave side of the host SPI link: a
// three-command protocol (WRITE, REQUEST, READ) with a request/ready
// handshake that makes slave-initiated transmission race-free.
//
// The receive path is a DMA ring per internal/ring; a chip-select
// rising-edge interrupt snapshots the producer position and the main-loop
// Task parses completed transactions. The transmit path is a one-shot DMA
// staging page loaded between REQUEST and READ, the only window in which
// the master is guaranteed not to clock the bus.
package spislave

import (
	"sync/atomic"
	"time"

	"github.com/tamzrod/busbridge/internal/hw"
	"github.com/tamzrod/busbridge/internal/ring"
)

// Command bytes, first byte of MOSI in every transaction. Must match the
// host side.
const (
	CmdWrite   = 0x01
	CmdRequest = 0x02
	CmdRead    = 0x03
)

const (
	// PageSize is the fixed READ transfer size: 3-byte header plus a
	// payload sized to the Ethernet MTU so network frames traverse in a
	// single READ.
	PageSize   = 1503
	HeaderSize = 3
	MaxPayload = PageSize - HeaderSize

	// RingBits sizes the RX DMA ring.
	RingBits = 13
	RingSize = 1 << RingBits

	rxQueueSize = 16 * 1024
	txQueueSize = 4 * 1024

	// RequestTimeout bounds how long READY stays asserted waiting for the
	// master's READ before the session resets to Idle.
	RequestTimeout = time.Second
)

// State is the session state toward the master.
type State uint8

const (
	Idle State = iota
	Requested
	Ready
)

// Stats are cumulative since Init or ClearStats.
type Stats struct {
	RXWrites        uint32 // WRITE transactions received
	RXBytes         uint32 // payload bytes received via WRITE
	RXOverflows     uint32 // WRITE payloads dropped, inbound queue full
	RXOverruns      uint32 // DMA ring overruns
	Bankruptcies    uint32 // payload overwritten during delivery
	TXReads         uint32 // READ transactions completed
	TXBytes         uint32 // payload bytes sent via READ
	Requests        uint32 // REQUEST commands handled
	ProtoErrors     uint32 // bad command byte, bad length
	RequestTimeouts uint32 // REQUESTs the master never followed with READ
}

// Engine is the SPI slave engine. Construct with New, call Init once,
// then Task from the main loop. Not safe for concurrent use; the only
// asynchronous entry point is ChipSelectRise.
type Engine struct {
	rx    *ring.DMA
	tx    hw.TXLoader
	irq   hw.Line // "I have something", active while data is queued
	ready hw.Line // "TX DMA loaded, safe to READ"

	csFlag atomic.Bool
	csPos  atomic.Uint32

	state       State
	requestedAt time.Time
	now         func() time.Time

	rxCallback func(p []byte)
	rxQueue    *ring.Queue
	txQueue    *ring.Queue
	staging    [PageSize]byte

	stats Stats
}

// NewRing allocates the RX DMA ring the engine consumes. The caller binds
// an engine to it (the simulated or real DMA channel) before Init.
func NewRing() (*ring.DMA, error) {
	return ring.NewDMA(make([]byte, RingSize), MaxPayload)
}

// New builds an engine over an RX ring, a one-shot TX channel and the two
// host-facing lines.
func New(rx *ring.DMA, tx hw.TXLoader, irq, ready hw.Line) *Engine {
	return &Engine{
		rx:      rx,
		tx:      tx,
		irq:     irq,
		ready:   ready,
		now:     time.Now,
		rxQueue: ring.NewQueue(rxQueueSize),
		txQueue: ring.NewQueue(txQueueSize),
	}
}

// Init resets all state and asserts the "I have something" line so a
// restarted host can re-sync with an initial REQUEST/READ of an empty
// page. Idempotent.
func (e *Engine) Init() {
	e.rxQueue.Reset()
	e.txQueue.Reset()
	e.state = Idle
	e.stats = Stats{}
	e.csFlag.Store(false)
	e.irq.Assert()
	e.ready.Deassert()
}

// SetRXCallback installs a per-WRITE delivery function. The slice passed
// to fn is valid only for the duration of the call. When no callback is
// installed, WRITE payloads land in the inbound queue for RXDrain.
func (e *Engine) SetRXCallback(fn func(p []byte)) { e.rxCallback = fn }

// TXEnqueue copies p into the outbound queue for the master to READ.
// All-or-nothing: returns false when the queue lacks space. Asserts the
// "I have something" line when the session is idle.
func (e *Engine) TXEnqueue(p []byte) bool {
	if !e.txQueue.Enqueue(p) {
		return false
	}
	if e.state == Idle {
		e.irq.Assert()
	}
	return true
}

// RXDrain copies queued inbound bytes into dst and returns the count.
func (e *Engine) RXDrain(dst []byte) int { return e.rxQueue.Drain(dst) }

// RXAvailable returns the number of queued inbound bytes.
func (e *Engine) RXAvailable() int { return e.rxQueue.Len() }

// TXQueued returns the number of outbound bytes not yet staged.
func (e *Engine) TXQueued() int { return e.txQueue.Len() }

// FreeSpaceUnits reports inbound headroom in 64-byte units, saturating at
// 0xFF. Ring bytes not yet parsed count against the headroom since they
// will land in the queue.
func (e *Engine) FreeSpaceUnits() byte {
	pending := int(e.rx.Produced() - e.rx.Consumed())
	free := e.rxQueue.Free() - pending
	if free < 0 {
		free = 0
	}
	units := free / 64
	if units > 0xFF {
		units = 0xFF
	}
	return byte(units)
}

// SessionState returns the current session state toward the master.
func (e *Engine) SessionState() State { return e.state }

// Stats returns a copy of the counters.
func (e *Engine) Stats() Stats { return e.stats }

// ClearStats zeroes the counters.
func (e *Engine) ClearStats() { e.stats = Stats{} }

// ChipSelectRise is the chip-select rising-edge interrupt handler: the
// master just ended a transaction. Interrupt context; it only snapshots
// the producer position and sets a flag.
func (e *Engine) ChipSelectRise() {
	e.csPos.Store(e.rx.Produced())
	e.csFlag.Store(true)
}

// Task drives the state machine: parses completed transactions, serves
// REQUEST by staging a page and asserting READY, times out abandoned
// REQUESTs, and re-asserts the data line after a READ drains.
func (e *Engine) Task() {
	if e.csFlag.Swap(false) {
		limit := e.csPos.Load()
		if _, over := e.rx.Overrun(); over {
			// Producer lapped us; the snapshot predates the resync and
			// any parse against it would read garbage.
			e.stats.RXOverruns++
		} else {
			if e.state == Ready {
				// Chip-select rose while READY was asserted: per
				// protocol that transaction was the READ.
				e.ready.Deassert()
				e.state = Idle
			}
			if int32(limit-e.rx.Consumed()) > 0 {
				e.parse(limit)
			}
		}
	}

	switch {
	case e.state == Requested:
		e.prepareAndLoad()
	case e.state == Ready && e.now().Sub(e.requestedAt) > RequestTimeout:
		e.stats.RequestTimeouts++
		e.ready.Deassert()
		e.state = Idle
	}

	if e.state == Idle && e.txQueue.Len() > 0 {
		e.irq.Assert()
	}
}

// parse consumes whole command frames up to the snapshot taken at the
// last chip-select edge.
func (e *Engine) parse(limit uint32) {
	for int32(limit-e.rx.Consumed()) > 0 {
		cmd := e.rx.ReadByte()
		avail := limit - e.rx.Consumed()

		switch cmd {
		case CmdWrite:
			if avail < 2 {
				e.stats.ProtoErrors++
				e.rx.Skip(avail)
				return
			}
			hi := e.rx.ReadByte()
			lo := e.rx.ReadByte()
			avail -= 2
			plen := uint32(hi)<<8 | uint32(lo)
			if plen > avail || plen > MaxPayload {
				e.stats.ProtoErrors++
				e.rx.Skip(avail)
				return
			}
			e.stats.RXWrites++
			e.stats.RXBytes += plen
			if plen > 0 {
				if !e.deliver(plen) {
					return
				}
			}

		case CmdRequest:
			e.stats.Requests++
			e.state = Requested
			e.requestedAt = e.now()
			// The host is handling our data request now.
			e.irq.Deassert()

		case CmdRead:
			// The CS edge already returned the session to Idle; the rest
			// of the transaction is the 0x03 plus dummy padding.
			e.stats.TXReads++
			e.rx.Skip(avail)

		default:
			e.stats.ProtoErrors++
			e.rx.Skip(avail)
			return
		}
	}
}

// deliver hands the payload at the read position to the callback or the
// inbound queue, then runs the bankruptcy check: the DMA engine may have
// wrapped and overwritten the span while it was being read. Returns false
// when the parse must be abandoned.
func (e *Engine) deliver(plen uint32) bool {
	start := e.rx.ReadIdx()
	since := e.rx.Consumed()
	span := e.rx.Span(start, plen)

	if e.rxCallback != nil {
		e.rxCallback(span)
	} else if !e.rxQueue.Enqueue(span) {
		e.stats.RXOverflows++
	}

	if e.rx.Overwritten(since) {
		// Whatever was delivered is tainted; no guarantee is made about
		// it beyond this counter.
		e.stats.Bankruptcies++
		e.rx.Bankrupt()
		return false
	}
	e.rx.Skip(plen)
	return true
}

// prepareAndLoad builds the READ staging page, programs the one-shot TX
// DMA, and only then asserts READY. The master's promise not to clock
// before READY is what makes this race-free.
func (e *Engine) prepareAndLoad() {
	n := e.txQueue.Drain(e.staging[HeaderSize:PageSize])
	e.staging[0] = byte(n >> 8)
	e.staging[1] = byte(n)
	e.staging[2] = e.FreeSpaceUnits()
	for i := HeaderSize + n; i < PageSize; i++ {
		e.staging[i] = 0
	}
	e.stats.TXBytes += uint32(n)
	e.tx.Load(e.staging[:])

	e.state = Ready
	e.ready.Assert()
}
