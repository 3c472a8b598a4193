// internal/harness/run.go
package harness

import (
	"encoding/binary"
	"errors"
	"fmt"

	cfg "github.com/tamzrod/busbridge/internal/config"
	"github.com/tamzrod/busbridge/internal/hw/sim"
	"github.com/tamzrod/busbridge/internal/piobus"
	"github.com/tamzrod/busbridge/internal/spislave"
	"github.com/tamzrod/busbridge/internal/status"
)

// emitStats logs the engine counters in the fixed statistics format.
func emitStats(logf Logf, snap status.Snapshot) {
	for _, line := range status.Encode(snap) {
		logf("%s", line)
	}
}

// Run executes one workload against a freshly built simulated system.
func Run(w Workload, logf Logf) (Result, error) {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	switch w.Kind {
	case cfg.KindStress:
		return runStress(w, logf)
	case cfg.KindWriteBlast:
		return runWriteBlast(w, logf)
	case cfg.KindReadBlast:
		return runReadBlast(w, logf)
	case cfg.KindLoopback:
		return runLoopback(w, logf)
	}
	return Result{}, fmt.Errorf("harness: unknown kind %q", w.Kind)
}

// runStress alternates WRITE and REQUEST/READ over the bare SPI link.
// The slave echoes each payload back with the transformed pattern.
func runStress(w Workload, logf Logf) (Result, error) {
	spi, eng, err := sim.NewSPILink()
	if err != nil {
		return Result{}, err
	}

	eng.SetRXCallback(func(p []byte) {
		if len(p) < patternOffset {
			return
		}
		seq := binary.BigEndian.Uint32(p[:patternOffset])
		eng.TXEnqueue(makePayload(seq, 7, len(p)))
	})

	var res Result
	var seq uint32
	for c := 0; c < w.Cycles; c++ {
		for _, size := range w.Sizes {
			seq++
			if err := spi.Write(makePayload(seq, 1, size)); err != nil {
				return res, err
			}
			payload, _, err := spi.RequestAndRead()
			if err != nil {
				res.Errors++
				logf("stress: seq %d: %v", seq, err)
				continue
			}
			if err := verifyPayload(payload, seq, 7, size); err != nil {
				res.Errors++
				logf("stress: seq %d: %v", seq, err)
				continue
			}
			res.Msgs++
			res.Bytes += size
		}
	}
	emitStats(logf, status.Snapshot{SPI: eng.Stats()})
	return res, nil
}

// runWriteBlast pushes full-page payloads as fast as flow control
// allows, refreshing the free-space estimate with a REQUEST/READ when
// the local estimate runs low.
func runWriteBlast(w Workload, logf Logf) (Result, error) {
	spi, eng, err := sim.NewSPILink()
	if err != nil {
		return Result{}, err
	}

	const size = spislave.MaxPayload
	need := (size + 63) / 64

	drain := func() {
		var tmp [512]byte
		for eng.RXDrain(tmp[:]) > 0 {
		}
	}

	// Initial sync picks up the real free-space value.
	_, free, err := spi.RequestAndRead()
	if err != nil {
		return Result{}, err
	}
	buf := int(free)

	var res Result
	var seq uint32
	stalls := 0
	for res.Msgs < w.Cycles {
		if buf < need {
			drain()
			_, free, err := spi.RequestAndRead()
			if err != nil {
				return res, err
			}
			buf = int(free)
			if buf < need {
				if stalls++; stalls > 3 {
					return res, errors.New("harness: write blast stalled, no buffer space")
				}
				continue
			}
			stalls = 0
		}
		if err := spi.Write(makePayload(seq, 1, size)); err != nil {
			return res, err
		}
		seq++
		buf -= need
		res.Msgs++
		res.Bytes += size
	}
	drain()
	emitStats(logf, status.Snapshot{SPI: eng.Stats()})
	return res, nil
}

// runReadBlast keeps the slave's TX queue topped up with patterned pages
// and pulls them with REQUEST/READ as fast as possible.
func runReadBlast(w Workload, logf Logf) (Result, error) {
	spi, eng, err := sim.NewSPILink()
	if err != nil {
		return Result{}, err
	}

	const size = spislave.MaxPayload
	var genSeq uint32
	topUp := func() {
		for eng.TXQueued()+size <= 4096 {
			if !eng.TXEnqueue(makePayload(genSeq, 7, size)) {
				return
			}
			genSeq++
		}
	}

	var res Result
	var expect uint32
	for res.Msgs < w.Cycles {
		topUp()
		payload, _, err := spi.RequestAndRead()
		if err != nil {
			return res, err
		}
		if len(payload) == 0 {
			continue
		}
		if err := verifyPayload(payload, expect, 7, size); err != nil {
			res.Errors++
			logf("read blast: seq %d: %v", expect, err)
		} else {
			res.Msgs++
			res.Bytes += size
		}
		expect++
	}
	emitStats(logf, status.Snapshot{SPI: eng.Stats()})
	return res, nil
}

// runLoopback exercises the full path on a complete machine: host WRITE,
// CPU interrupt-source query and read, CPU echo, host REQUEST/READ.
func runLoopback(w Workload, logf Logf) (Result, error) {
	m, err := sim.NewMachine()
	if err != nil {
		return Result{}, err
	}

	var res Result
	var seq uint32
	for c := 0; c < w.Cycles; c++ {
		for _, size := range w.Sizes {
			seq++
			payload := makePayload(seq, 1, size)

			frame := append([]byte{w.Device, byte(size)}, payload...)
			if err := m.SPI.Write(frame); err != nil {
				return res, err
			}

			if !waitFor(m.Poll, m.Bus.IRQAsserted) {
				res.Errors++
				logf("loopback: seq %d: CPU interrupt never asserted", seq)
				continue
			}

			// The interrupt-source query names the pending device.
			src, ok := m.Bus.ReadMessage(piobus.DeviceIRQSource)
			if !ok || len(src) != 1 || src[0] != w.Device {
				res.Errors++
				logf("loopback: seq %d: bad interrupt source %v", seq, src)
				continue
			}

			data, ok := m.Bus.ReadMessage(w.Device)
			if !ok {
				res.Errors++
				logf("loopback: seq %d: CPU read timed out", seq)
				continue
			}
			if err := verifyPayload(data, seq, 1, size); err != nil {
				res.Errors++
				logf("loopback: seq %d inbound: %v", seq, err)
				continue
			}

			m.Bus.WriteMessage(w.Device, data)

			if !m.SPI.WaitIRQ() {
				res.Errors++
				logf("loopback: seq %d: host interrupt never asserted", seq)
				continue
			}
			page, _, err := m.SPI.RequestAndRead()
			if err != nil {
				res.Errors++
				logf("loopback: seq %d: %v", seq, err)
				continue
			}
			if len(page) != 2+size || page[0] != w.Device || int(page[1]) != size {
				res.Errors++
				logf("loopback: seq %d: bad echo framing % x", seq, page)
				continue
			}
			if err := verifyPayload(page[2:], seq, 1, size); err != nil {
				res.Errors++
				logf("loopback: seq %d echo: %v", seq, err)
				continue
			}
			res.Msgs++
			res.Bytes += size
		}
	}
	emitStats(logf, status.Snapshot{
		Bus:    m.BusEngine.Stats(),
		SPI:    m.SPIEngine.Stats(),
		Bridge: m.Bridge.Stats(),
	})
	return res, nil
}

func waitFor(pump func(), cond func() bool) bool {
	for i := 0; i < 10000; i++ {
		if cond() {
			return true
		}
		pump()
	}
	return false
}
