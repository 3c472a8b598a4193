// internal/piobus/piobus_test.go
package piobus

import (
	"bytes"
	"testing"
)

type fakeLoader struct {
	data  []byte
	loads int
	busy  bool
}

func (l *fakeLoader) Load(p []byte) {
	l.data = append(l.data[:0], p...)
	l.loads++
	l.busy = true
}

func (l *fakeLoader) Busy() bool { return l.busy }

// feedEngine plays the PIO RX DMA channel.
type feedEngine struct {
	buf       []byte
	size      uint32
	writeIdx  uint32
	remaining uint32
	irq       func()
}

func (e *feedEngine) Remaining() uint32 { return e.remaining | (1 << 28) }

func (e *feedEngine) produce(p []byte) {
	for _, b := range p {
		e.buf[e.writeIdx] = b
		e.writeIdx = (e.writeIdx + 1) % e.size
		e.remaining--
		if e.remaining == 0 {
			e.remaining = e.size
			e.irq()
		}
	}
}

func newRig(t *testing.T) (*Engine, *feedEngine, *fakeLoader) {
	t.Helper()
	rx, err := NewRing()
	if err != nil {
		t.Fatalf("NewRing: %v", err)
	}
	feed := &feedEngine{buf: rx.Buffer(), size: rx.Size(), remaining: rx.Size(), irq: rx.IRQ}
	rx.Attach(feed)
	loader := &fakeLoader{}
	eng := New(rx, loader)
	eng.Init()
	eng.Start()
	return eng, feed, loader
}

func TestWriteDispatchesCallback(t *testing.T) {
	eng, feed, _ := newRig(t)

	var gotDev byte
	var got [][]byte
	eng.RegisterRXCallback(5, func(device byte, data []byte) {
		gotDev = device
		got = append(got, append([]byte(nil), data...))
	})

	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	feed.produce(append([]byte{5, byte(len(payload))}, payload...))
	eng.Task()

	if len(got) != 1 || gotDev != 5 || !bytes.Equal(got[0], payload) {
		t.Fatalf("callback dev=%d got=%v", gotDev, got)
	}
	if s := eng.Stats(); s.RXBytes != uint32(2+len(payload)) {
		t.Fatalf("rx bytes = %d", s.RXBytes)
	}
}

func TestWriteAllLengths(t *testing.T) {
	eng, feed, _ := newRig(t)

	var got []byte
	eng.RegisterRXCallback(1, func(_ byte, data []byte) {
		got = append(got[:0], data...)
	})

	for l := 1; l <= MaxTransfer; l++ {
		payload := make([]byte, l)
		for i := range payload {
			payload[i] = byte(l + i)
		}
		feed.produce(append([]byte{1, byte(l)}, payload...))
		eng.Task()
		if !bytes.Equal(got, payload) {
			t.Fatalf("length %d: got %v", l, got)
		}
	}
}

func TestZeroLengthWriteIgnored(t *testing.T) {
	eng, feed, _ := newRig(t)

	called := false
	eng.RegisterRXCallback(2, func(byte, []byte) { called = true })

	feed.produce([]byte{2, 0})
	eng.Task()
	if called {
		t.Fatalf("zero-length write must not dispatch")
	}

	// Parser must be back at idle: a fresh frame parses cleanly.
	feed.produce([]byte{2, 1, 0x11})
	eng.Task()
	if !called {
		t.Fatalf("frame after zero-length write did not dispatch")
	}
}

func TestInvalidDeviceDiscardedSilently(t *testing.T) {
	eng, feed, _ := newRig(t)

	var got []byte
	eng.RegisterRXCallback(3, func(_ byte, data []byte) {
		got = append([]byte(nil), data...)
	})

	// Device 100 is beyond MaxDevices: the byte is dropped, the parser
	// stays idle, and the following frame must parse on its boundary.
	feed.produce([]byte{100})
	feed.produce([]byte{3, 2, 0xCA, 0xFE})
	eng.Task()

	if !bytes.Equal(got, []byte{0xCA, 0xFE}) {
		t.Fatalf("frame after invalid device: got %v", got)
	}
}

func TestReadServesDeviceBuffer(t *testing.T) {
	eng, feed, loader := newRig(t)

	if n := eng.DeviceWrite(4, []byte{0x0A, 0x0B, 0x0C}); n != 3 {
		t.Fatalf("device write accepted %d", n)
	}

	feed.produce([]byte{4 | ReadFlag})
	eng.Task()

	if loader.loads != 1 {
		t.Fatalf("loads = %d", loader.loads)
	}
	if !bytes.Equal(loader.data, []byte{3, 0x0A, 0x0B, 0x0C}) {
		t.Fatalf("staging = % x", loader.data)
	}
	if eng.DeviceTXCount(4) != 0 {
		t.Fatalf("buffer not drained")
	}

	// The one-shot stays armed until the CPU drains it.
	eng.Task()
	if loader.loads != 1 {
		t.Fatalf("reloaded while busy: loads = %d", loader.loads)
	}

	// CPU drained the FIFO: next request can be served.
	loader.busy = false
	eng.DeviceWrite(4, []byte{0x0D})
	feed.produce([]byte{4 | ReadFlag})
	eng.Task()
	if loader.loads != 2 || !bytes.Equal(loader.data, []byte{1, 0x0D}) {
		t.Fatalf("second staging = % x (loads=%d)", loader.data, loader.loads)
	}
}

func TestReadCapsAtMaxTransfer(t *testing.T) {
	eng, feed, loader := newRig(t)

	big := make([]byte, 300)
	for i := range big {
		big[i] = byte(i)
	}
	if n := eng.DeviceWrite(6, big); n != 300 {
		t.Fatalf("device write accepted %d", n)
	}

	feed.produce([]byte{6 | ReadFlag})
	eng.Task()

	if loader.data[0] != MaxTransfer {
		t.Fatalf("length byte = %d", loader.data[0])
	}
	if !bytes.Equal(loader.data[1:], big[:MaxTransfer]) {
		t.Fatalf("staging payload mismatch")
	}
	if eng.DeviceTXCount(6) != 300-MaxTransfer {
		t.Fatalf("remainder = %d", eng.DeviceTXCount(6))
	}
}

func TestReadEmptyDeviceRecordsOneUnderflow(t *testing.T) {
	eng, feed, loader := newRig(t)

	feed.produce([]byte{2 | ReadFlag})
	eng.Task()
	eng.Task()
	eng.Task()

	if loader.loads != 0 {
		t.Fatalf("staged a response for an empty device")
	}
	if s := eng.Stats(); s.TXUnderflows != 1 {
		t.Fatalf("underflows = %d, want exactly 1", s.TXUnderflows)
	}

	// Data arriving later satisfies the still-pending request.
	eng.DeviceWrite(2, []byte{0x42})
	eng.Task()
	if loader.loads != 1 || !bytes.Equal(loader.data, []byte{1, 0x42}) {
		t.Fatalf("pending read not served: % x", loader.data)
	}
}

func TestDeviceZeroReportsNextPendingSource(t *testing.T) {
	eng, feed, loader := newRig(t)

	eng.DeviceWrite(3, []byte{0xAA})
	eng.DeviceWrite(5, []byte{0xBB})

	feed.produce([]byte{0 | ReadFlag})
	eng.Task()
	if !bytes.Equal(loader.data, []byte{1, 3}) {
		t.Fatalf("irq source response = % x, want lowest pending device", loader.data)
	}

	eng.DeviceClear(3)
	loader.busy = false
	feed.produce([]byte{0 | ReadFlag})
	eng.Task()
	if !bytes.Equal(loader.data, []byte{1, 5}) {
		t.Fatalf("irq source response = % x", loader.data)
	}

	eng.DeviceClear(5)
	loader.busy = false
	feed.produce([]byte{0 | ReadFlag})
	eng.Task()
	if !bytes.Equal(loader.data, []byte{1, 0}) {
		t.Fatalf("irq source response = % x, want zero when none pending", loader.data)
	}
}

func TestDeviceWritePartialAccept(t *testing.T) {
	eng, _, _ := newRig(t)

	full := make([]byte, MaxBuffer)
	if n := eng.DeviceWrite(1, full); n != MaxBuffer {
		t.Fatalf("accepted %d", n)
	}
	if n := eng.DeviceWrite(1, []byte{1, 2, 3}); n != 0 {
		t.Fatalf("full buffer accepted %d", n)
	}

	if n := eng.DeviceWrite(200, []byte{1}); n != 0 {
		t.Fatalf("invalid device accepted %d", n)
	}
}

func TestOverrunResynchronises(t *testing.T) {
	eng, feed, _ := newRig(t)

	feed.produce(make([]byte, RingSize+1))
	eng.Task()
	if s := eng.Stats(); s.RXDMAOverruns != 1 {
		t.Fatalf("overruns = %d", s.RXDMAOverruns)
	}

	var got []byte
	eng.RegisterRXCallback(1, func(_ byte, data []byte) {
		got = append([]byte(nil), data...)
	})
	feed.produce([]byte{1, 2, 0x55, 0x66})
	eng.Task()
	if !bytes.Equal(got, []byte{0x55, 0x66}) {
		t.Fatalf("post-overrun frame: got %v", got)
	}
	if s := eng.Stats(); s.RXDMAOverruns != 1 {
		t.Fatalf("overrun count moved to %d", s.RXDMAOverruns)
	}
}

// A callback that stalls long enough for the DMA to lap the ring is
// declared bankrupt: counted, and the parser abandons its state.
func TestCallbackBankruptcy(t *testing.T) {
	eng, feed, _ := newRig(t)

	calls := 0
	eng.RegisterRXCallback(1, func(_ byte, data []byte) {
		calls++
		if calls == 1 {
			// The bus keeps clocking while this callback runs.
			feed.produce(make([]byte, RingSize+1))
		}
	})

	feed.produce([]byte{1, 2, 0x01, 0x02})
	eng.Task()

	if s := eng.Stats(); s.RXBankruptcies != 1 {
		t.Fatalf("bankruptcies = %d", s.RXBankruptcies)
	}

	// The engine recovered: a fresh frame dispatches normally.
	feed.produce([]byte{1, 1, 0x03})
	eng.Task()
	if calls != 2 {
		t.Fatalf("calls = %d after recovery", calls)
	}
	if s := eng.Stats(); s.RXBankruptcies != 1 {
		t.Fatalf("bankruptcy count moved to %d", s.RXBankruptcies)
	}
}

func TestReadRequestInterleavedWithWrite(t *testing.T) {
	eng, feed, loader := newRig(t)

	var got []byte
	eng.RegisterRXCallback(2, func(_ byte, data []byte) {
		got = append([]byte(nil), data...)
	})
	eng.DeviceWrite(7, []byte{0x77})

	// Read request, then a write frame, in one burst.
	feed.produce([]byte{7 | ReadFlag, 2, 2, 0x10, 0x20})
	eng.Task()

	if !bytes.Equal(got, []byte{0x10, 0x20}) {
		t.Fatalf("write after read request: got %v", got)
	}
	if !bytes.Equal(loader.data, []byte{1, 0x77}) {
		t.Fatalf("read staging = % x", loader.data)
	}
}
