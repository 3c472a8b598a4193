// internal/harness/builder.go
package harness

import (
	"fmt"

	cfg "github.com/tamzrod/busbridge/internal/config"
)

// Build converts validated, normalized workload configs into runnable
// workloads.
func Build(ws []cfg.WorkloadConfig) ([]Workload, error) {
	out := make([]Workload, 0, len(ws))
	for i, w := range ws {
		switch w.Kind {
		case cfg.KindStress, cfg.KindWriteBlast, cfg.KindReadBlast, cfg.KindLoopback:
		default:
			return nil, fmt.Errorf("harness: workload %d: unknown kind %q", i, w.Kind)
		}
		out = append(out, Workload{
			Kind:   w.Kind,
			Cycles: w.Cycles,
			Sizes:  append([]int(nil), w.Sizes...),
			Device: byte(w.Device),
		})
	}
	return out, nil
}
