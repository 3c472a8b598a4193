// cmd/bridgeterm/main.go

// bridgeterm is the interactive bridge terminal: the user plays the SPI
// host against a simulated bridge whose CPU side echoes every message.
//
// Input:   device: hex hex hex ...
// Display: RX  device: hex hex hex ...
// Ctrl-C or Ctrl-D exits.
package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/tamzrod/busbridge/internal/config"
	"github.com/tamzrod/busbridge/internal/hw/sim"
	"github.com/tamzrod/busbridge/internal/piobus"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: bridgeterm <config.yaml>")
	}

	cfg, err := config.Load(os.Args[1])
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("config validation failed: %v", err)
	}
	config.Normalize(cfg)

	m, err := sim.NewMachine()
	if err != nil {
		log.Fatalf("machine build failed: %v", err)
	}

	if err := enterRawTerm(); err != nil {
		log.Fatalf("raw terminal failed: %v", err)
	}
	defer exitRawTerm()

	fmt.Print("bridge terminal -- device: hex hex ... to send, ctrl-c to exit\r\n> ")

	var line []byte
	for {
		m.Poll()
		serviceCPUEcho(m)
		serviceHostRX(m)

		key, ok := readKey()
		if !ok {
			continue
		}

		switch key {
		case 0x03, 0x04: // ctrl-c, ctrl-d
			fmt.Print("\r\n")
			return

		case '\r', '\n':
			fmt.Print("\r\n")
			if len(line) > 0 {
				sendLine(m, string(line), byte(cfg.Bridge.Terminal.EchoDevice))
				line = line[:0]
			}
			fmt.Print("> ")

		case 0x7F, 0x08: // backspace
			if len(line) > 0 {
				line = line[:len(line)-1]
				fmt.Print("\b \b")
			}

		default:
			if key >= 0x20 && key < 0x7F {
				line = append(line, key)
				fmt.Printf("%c", key)
			}
		}
	}
}

// sendLine parses "device: hex hex ..." and sends it as a host WRITE.
// A bare "hex hex ..." goes to the configured default device.
func sendLine(m *sim.Machine, line string, defaultDev byte) {
	device, payload, err := parseInput(line, defaultDev)
	if err != nil {
		fmt.Printf("  %v\r\n", err)
		return
	}

	frame := append([]byte{device, byte(len(payload))}, payload...)
	if err := m.SPI.Write(frame); err != nil {
		fmt.Printf("  %v\r\n", err)
	}
}

func parseInput(line string, defaultDev byte) (byte, []byte, error) {
	dev := int(defaultDev)
	device, rest, ok := strings.Cut(strings.TrimSpace(line), ":")
	if !ok {
		rest = line
	} else {
		var err error
		dev, err = strconv.Atoi(strings.TrimSpace(device))
		if err != nil || dev < 1 || dev >= piobus.MaxDevices {
			return 0, nil, fmt.Errorf("device must be 1-%d", piobus.MaxDevices-1)
		}
	}

	fields := strings.Fields(rest)
	if len(fields) == 0 || len(fields) > piobus.MaxTransfer {
		return 0, nil, fmt.Errorf("payload must be 1-%d bytes", piobus.MaxTransfer)
	}

	payload := make([]byte, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseUint(f, 16, 8)
		if err != nil {
			return 0, nil, fmt.Errorf("bad hex byte %q", f)
		}
		payload[i] = byte(v)
	}
	return byte(dev), payload, nil
}

// serviceCPUEcho plays the 6502: when the bus interrupt is asserted it
// queries the interrupt source, reads the message and writes it back.
func serviceCPUEcho(m *sim.Machine) {
	if !m.Bus.IRQAsserted() {
		return
	}
	src, ok := m.Bus.ReadMessage(piobus.DeviceIRQSource)
	if !ok || len(src) != 1 || src[0] == 0 {
		return
	}
	data, ok := m.Bus.ReadMessage(src[0])
	if !ok {
		return
	}
	m.Bus.WriteMessage(src[0], data)
}

// serviceHostRX pulls queued bridge data when the host interrupt is
// asserted and prints each TLV message.
func serviceHostRX(m *sim.Machine) {
	if !m.SPI.IRQAsserted() {
		return
	}
	payload, _, err := m.SPI.RequestAndRead()
	if err != nil {
		fmt.Printf("\r\nRX error: %v\r\n> ", err)
		return
	}
	for i := 0; i+2 <= len(payload); {
		device := payload[i]
		length := int(payload[i+1])
		i += 2
		if i+length > len(payload) {
			break
		}
		hexStr := make([]string, length)
		for j, b := range payload[i : i+length] {
			hexStr[j] = fmt.Sprintf("%02x", b)
		}
		fmt.Printf("\r\nRX  %d: %s\r\n> ", device, strings.Join(hexStr, " "))
		i += length
	}
}
