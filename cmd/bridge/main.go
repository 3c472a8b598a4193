// cmd/bridge/main.go
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tamzrod/busbridge/internal/config"
	"github.com/tamzrod/busbridge/internal/harness"
	"github.com/tamzrod/busbridge/internal/hw/sim"
	"github.com/tamzrod/busbridge/internal/status"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: bridge <config.yaml>")
	}

	cfgPath := os.Args[1]

	// --------------------
	// Load + validate config
	// --------------------

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	if err := config.Validate(cfg); err != nil {
		log.Fatalf("config validation failed: %v", err)
	}

	config.Normalize(cfg)

	// --------------------
	// Scripted workloads
	// --------------------

	if len(cfg.Bridge.Workloads) > 0 {
		workloads, err := harness.Build(cfg.Bridge.Workloads)
		if err != nil {
			log.Fatalf("workload build failed: %v", err)
		}

		for _, w := range workloads {
			log.Printf("workload %s: %d cycles, sizes %v", w.Kind, w.Cycles, w.Sizes)
			start := time.Now()
			res, err := harness.Run(w, log.Printf)
			if err != nil {
				log.Fatalf("workload %s failed: %v", w.Kind, err)
			}
			elapsed := time.Since(start)
			log.Printf("workload %s: %d msgs, %d B, %d errors in %v",
				w.Kind, res.Msgs, res.Bytes, res.Errors, elapsed.Round(time.Millisecond))
		}
		return
	}

	// --------------------
	// No workloads: run the bridge idle until interrupted
	// --------------------

	m, err := sim.NewMachine()
	if err != nil {
		log.Fatalf("machine build failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	interval := time.Duration(cfg.Bridge.StatsIntervalMs) * time.Millisecond
	start := time.Now()

	log.Printf("bridge ready, stats every %v", interval)

	m.Bridge.Run(ctx, interval, func() {
		snap := status.Snapshot{
			UptimeSeconds: uint32(time.Since(start) / time.Second),
			Bus:           m.BusEngine.Stats(),
			SPI:           m.SPIEngine.Stats(),
			Bridge:        m.Bridge.Stats(),
		}
		for _, line := range status.Encode(snap) {
			log.Print(line)
		}
	})
}
