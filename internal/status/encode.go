// internal/status/encode.go
package status

import "fmt"

// Encode renders a snapshot as the fixed statistics lines. Layout is
// locked: operators grep these.
func Encode(s Snapshot) []string {
	return []string{
		fmt.Sprintf("[%ds] 6502->host: %d msgs (%d B) | host->6502: %d msgs (%d B, %d drops)",
			s.UptimeSeconds,
			s.Bridge.BusToSPIMsgs, s.Bridge.BusToSPIBytes,
			s.Bridge.SPIToBusMsgs, s.Bridge.SPIToBusBytes, s.Bridge.SPIToBusDrops),
		fmt.Sprintf("       bus: rx=%d tx=%d overruns=%d bankrupt=%d underflows=%d",
			s.Bus.RXBytes, s.Bus.TXBytes,
			s.Bus.RXDMAOverruns, s.Bus.RXBankruptcies, s.Bus.TXUnderflows),
		fmt.Sprintf("       spi: wr=%d rd=%d req=%d oflow=%d proto_err=%d timeouts=%d",
			s.SPI.RXWrites, s.SPI.TXReads, s.SPI.Requests,
			s.SPI.RXOverflows, s.SPI.ProtoErrors, s.SPI.RequestTimeouts),
	}
}
