// internal/config/normalize.go
package config

// Default values applied by Normalize.
const (
	DefaultStatsIntervalMs = 5000
	DefaultCycles          = 300
	DefaultBlastCycles     = 2800 // ~4 MB of 1500-byte payloads
	DefaultLoopbackDevice  = 1
	DefaultEchoDevice      = 1
)

// defaultStressSizes is the size ladder of the original stress workload.
var defaultStressSizes = []int{10, 50, 100, 256, 500, 1000, 1500}

// defaultLoopbackSizes keeps loopback payloads within one bus message.
var defaultLoopbackSizes = []int{1, 8, 32, 100, 254}

// Normalize applies post-validation normalization.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	b := &cfg.Bridge

	if b.StatsIntervalMs == 0 {
		b.StatsIntervalMs = DefaultStatsIntervalMs
	}

	for i := range b.Workloads {
		w := &b.Workloads[i]

		if w.Cycles == 0 {
			if w.Kind == KindWriteBlast || w.Kind == KindReadBlast {
				w.Cycles = DefaultBlastCycles
			} else {
				w.Cycles = DefaultCycles
			}
		}

		if len(w.Sizes) == 0 {
			switch w.Kind {
			case KindStress:
				w.Sizes = append([]int(nil), defaultStressSizes...)
			case KindLoopback:
				w.Sizes = append([]int(nil), defaultLoopbackSizes...)
			}
		}

		if w.Kind == KindLoopback && w.Device == 0 {
			w.Device = DefaultLoopbackDevice
		}
	}

	if b.Terminal.EchoDevice == 0 {
		b.Terminal.EchoDevice = DefaultEchoDevice
	}
}
