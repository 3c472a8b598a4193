// internal/config/validate.go
package config

import (
	"fmt"

	"github.com/tamzrod/busbridge/internal/piobus"
	"github.com/tamzrod/busbridge/internal/spislave"
)

// Known workload kinds.
const (
	KindStress     = "stress"
	KindWriteBlast = "write_blast"
	KindReadBlast  = "read_blast"
	KindLoopback   = "loopback"
)

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg.Bridge.StatsIntervalMs < 0 {
		return fmt.Errorf("bridge: stats_interval_ms must be >= 0, got %d",
			cfg.Bridge.StatsIntervalMs)
	}

	for i, w := range cfg.Bridge.Workloads {
		switch w.Kind {
		case KindStress, KindWriteBlast, KindReadBlast, KindLoopback:
		default:
			return fmt.Errorf("workload %d: unknown kind %q", i, w.Kind)
		}

		if w.Cycles < 0 {
			return fmt.Errorf("workload %d (%s): cycles must be >= 0, got %d",
				i, w.Kind, w.Cycles)
		}

		max := spislave.MaxPayload
		if w.Kind == KindLoopback {
			// Loopback payloads traverse the parallel bus, whose
			// messages cap at one length byte.
			max = piobus.MaxTransfer
		}
		for _, sz := range w.Sizes {
			if sz < 1 || sz > max {
				return fmt.Errorf("workload %d (%s): size %d out of range 1..%d",
					i, w.Kind, sz, max)
			}
		}

		// Device 0 means "unset"; Normalize assigns the default. The
		// zero device itself is reserved for the interrupt-source query.
		if w.Kind == KindLoopback {
			if w.Device < 0 || w.Device >= piobus.MaxDevices {
				return fmt.Errorf("workload %d (loopback): device %d out of range 1..%d",
					i, w.Device, piobus.MaxDevices-1)
			}
		}
	}

	t := cfg.Bridge.Terminal
	if t.EchoDevice < 0 || t.EchoDevice >= piobus.MaxDevices {
		return fmt.Errorf("terminal: echo_device %d out of range 1..%d",
			t.EchoDevice, piobus.MaxDevices-1)
	}

	return nil
}
