// internal/harness/types.go

// Package harness runs scripted workloads against the simulated bridge:
// the pattern-verified stress exchange, the unidirectional write and
// read blasts, and the full-path loopback. These are the in-process
// equivalents of the original host-side test programs.
package harness

// Workload describes one scripted run.
type Workload struct {
	Kind   string
	Cycles int
	Sizes  []int
	Device byte // loopback only
}

// Result is what a workload run produced.
type Result struct {
	Msgs   int // messages verified (write_blast: messages sent, unverified)
	Bytes  int // payload bytes in those messages
	Errors int // verification or transport failures
}

// Logf receives progress and error lines during a run.
type Logf func(format string, args ...any)
