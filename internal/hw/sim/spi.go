// internal/hw/sim/spi.go
package sim

import (
	"errors"

	"github.com/tamzrod/busbridge/internal/spislave"
)

// waitPolls bounds how many main-loop iterations a master-side wait will
// pump before giving up, standing in for the host's one-second timeouts.
const waitPolls = 10000

// SPI is the simulated SPI peripheral together with the master-side API
// the host programs use. A transaction produces MOSI bytes into the
// slave's RX ring, returns MISO bytes from the loaded one-shot page, and
// then delivers the chip-select rising edge.
type SPI struct {
	engine *Engine
	loader *Loader
	irq    *Pin
	ready  *Pin

	onCSRise func()
	pump     func()
}

// transfer clocks one full-duplex transaction, chip-select drop to rise.
func (s *SPI) transfer(tx []byte) []byte {
	rx := make([]byte, len(tx))
	var mosi [1]byte
	for i, b := range tx {
		mosi[0] = b
		s.engine.Produce(mosi[:])
		rx[i] = s.loader.take(0xFF)
	}
	s.onCSRise()
	return rx
}

// Write sends a WRITE transaction carrying payload.
func (s *SPI) Write(payload []byte) error {
	if len(payload) > spislave.MaxPayload {
		return errors.New("sim: write payload exceeds page capacity")
	}
	frame := make([]byte, 3+len(payload))
	frame[0] = spislave.CmdWrite
	frame[1] = byte(len(payload) >> 8)
	frame[2] = byte(len(payload))
	copy(frame[3:], payload)
	s.transfer(frame)
	// The firmware loop runs between host transactions; give it a turn
	// so back-to-back writes cannot outrun the parser.
	s.pump()
	return nil
}

// RequestAndRead runs the REQUEST / wait-READY / READ sequence and
// returns the page payload and the slave's free-space report.
func (s *SPI) RequestAndRead() ([]byte, byte, error) {
	s.transfer([]byte{spislave.CmdRequest})

	if !s.waitFor(func() bool { return s.ready.Asserted() }) {
		return nil, 0, errors.New("sim: timeout waiting for READY")
	}

	page := make([]byte, spislave.PageSize)
	page[0] = spislave.CmdRead
	rx := s.transfer(page)

	// Per protocol the master observes READY returning high before its
	// next transaction.
	if !s.waitFor(func() bool { return !s.ready.Asserted() }) {
		return nil, 0, errors.New("sim: READY stuck after READ")
	}

	plen := int(rx[0])<<8 | int(rx[1])
	free := rx[2]
	if plen > spislave.MaxPayload {
		plen = spislave.MaxPayload
	}
	return rx[3 : 3+plen], free, nil
}

// WaitIRQ pumps the machine until the "I have something" line asserts.
func (s *SPI) WaitIRQ() bool {
	return s.waitFor(s.irq.Asserted)
}

// IRQAsserted reports the "I have something" line.
func (s *SPI) IRQAsserted() bool { return s.irq.Asserted() }

// ReadyAsserted reports the READY line.
func (s *SPI) ReadyAsserted() bool { return s.ready.Asserted() }

func (s *SPI) waitFor(cond func() bool) bool {
	for i := 0; i < waitPolls; i++ {
		if cond() {
			return true
		}
		s.pump()
	}
	return false
}

// NewSPILink builds just the SPI slave engine and its master-side API,
// for workloads that exercise the host link without the bus bridge. The
// returned SPI pumps the engine's own Task while waiting.
func NewSPILink() (*SPI, *spislave.Engine, error) {
	rxRing, err := spislave.NewRing()
	if err != nil {
		return nil, nil, err
	}
	s := &SPI{
		engine: NewEngine(rxRing),
		loader: &Loader{},
		irq:    &Pin{},
		ready:  &Pin{},
	}
	eng := spislave.New(rxRing, s.loader, s.irq, s.ready)
	eng.Init()
	s.onCSRise = eng.ChipSelectRise
	s.pump = eng.Task
	return s, eng, nil
}
