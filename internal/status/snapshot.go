// internal/status/snapshot.go

// Package status carries point-in-time statistics snapshots from the
// engines to whoever reports them. It contains no logic and does no IO.
package status

import (
	"github.com/tamzrod/busbridge/internal/bridge"
	"github.com/tamzrod/busbridge/internal/piobus"
	"github.com/tamzrod/busbridge/internal/spislave"
)

// Snapshot is everything one periodic statistics emission needs.
type Snapshot struct {
	UptimeSeconds uint32
	Bus           piobus.Stats
	SPI           spislave.Stats
	Bridge        bridge.Stats
}
