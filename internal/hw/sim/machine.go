// internal/hw/sim/machine.go

// Package sim is the simulated hardware substrate: self-triggering DMA
// engines, GPIO pins, the SPI peripheral with its master-side API and
// the PIO bus peripheral with its CPU-side API. It stands in for the
// out-of-scope collaborators — the Linux host's SPI master and the 6502
// — implementing only the interfaces the bridge core needs.
//
// Everything runs on one goroutine: master- and CPU-side helpers pump
// the machine's main loop while they wait, the way the real host and CPU
// run concurrently with the firmware.
package sim

import (
	"github.com/tamzrod/busbridge/internal/bridge"
	"github.com/tamzrod/busbridge/internal/piobus"
	"github.com/tamzrod/busbridge/internal/spislave"
)

// Machine wires both engines, the bridge and the substrate into one
// runnable system.
type Machine struct {
	SPI *SPI // host side of the SPI link
	Bus *Bus // CPU side of the parallel bus

	Bridge    *bridge.Bridge
	SPIEngine *spislave.Engine
	BusEngine *piobus.Engine
}

// NewMachine builds and initializes the full system.
func NewMachine() (*Machine, error) {
	spiRing, err := spislave.NewRing()
	if err != nil {
		return nil, err
	}
	busRing, err := piobus.NewRing()
	if err != nil {
		return nil, err
	}

	spi := &SPI{
		engine: NewEngine(spiRing),
		loader: &Loader{},
		irq:    &Pin{},
		ready:  &Pin{},
	}
	// Pins come up deasserted (idle high on the wire) before any engine
	// drives them, so the CPU never sees an interrupt glitch during init.
	bus := &Bus{
		engine: NewEngine(busRing),
		loader: &Loader{},
		cpuIRQ: &Pin{},
	}

	spiEng := spislave.New(spiRing, spi.loader, spi.irq, spi.ready)
	busEng := piobus.New(busRing, bus.loader)

	m := &Machine{
		SPI:       spi,
		Bus:       bus,
		Bridge:    bridge.New(busEng, spiEng, bus.cpuIRQ),
		SPIEngine: spiEng,
		BusEngine: busEng,
	}

	busEng.Init()
	busEng.Start()
	spiEng.Init()

	spi.onCSRise = spiEng.ChipSelectRise
	spi.pump = m.Poll
	bus.pump = m.Poll

	return m, nil
}

// Poll runs one main-loop iteration.
func (m *Machine) Poll() {
	m.Bridge.Task()
}
