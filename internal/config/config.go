// internal/config/config.go
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Bridge BridgeConfig `yaml:"bridge"`
}

// ---- BRIDGE ----

type BridgeConfig struct {
	StatsIntervalMs int              `yaml:"stats_interval_ms"`
	Workloads       []WorkloadConfig `yaml:"workloads"`
	Terminal        TerminalConfig   `yaml:"terminal"`
}

// ---- WORKLOADS ----

type WorkloadConfig struct {
	Kind   string `yaml:"kind"` // stress | write_blast | read_blast | loopback
	Cycles int    `yaml:"cycles"`
	Sizes  []int  `yaml:"sizes"`
	Device int    `yaml:"device"` // loopback only
}

// ---- TERMINAL ----

type TerminalConfig struct {
	EchoDevice int `yaml:"echo_device"`
}

// Load reads and decodes a YAML configuration file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
