package spiflash

import (
	"bytes"
	"errors"
	"testing"
)

// busCall records one chip-select session seen by the spy bus.
type busCall struct {
	tx       []byte
	n        int
	exchange bool
}

// spyBus records every bus session and serves canned exchange responses.
type spyBus struct {
	calls  []busCall
	status byte
	jedec  [3]byte
	read   []byte
	err    error
}

func (b *spyBus) Write(tx []byte) error {
	b.calls = append(b.calls, busCall{tx: append([]byte(nil), tx...)})
	return b.err
}

func (b *spyBus) Exchange(tx []byte, n int) ([]byte, error) {
	b.calls = append(b.calls, busCall{tx: append([]byte(nil), tx...), n: n, exchange: true})
	if b.err != nil {
		return nil, b.err
	}
	switch tx[0] {
	case CmdReadJEDECID:
		return b.jedec[:], nil
	case CmdReadStatus1:
		return []byte{b.status}, nil
	case CmdRead:
		out := make([]byte, n)
		copy(out, b.read)
		return out, nil
	}
	return make([]byte, n), nil
}

func (b *spyBus) Close() error { return nil }

func (b *spyBus) lastCall(t *testing.T) busCall {
	t.Helper()
	if len(b.calls) == 0 {
		t.Fatal("no bus calls recorded")
	}
	return b.calls[len(b.calls)-1]
}

func TestJEDECID(t *testing.T) {
	bus := &spyBus{jedec: [3]byte{0xEF, 0x40, 0x16}}
	dev := New(bus)

	id, err := dev.JEDECID()
	if err != nil {
		t.Fatalf("JEDECID() error = %v", err)
	}
	if id != bus.jedec {
		t.Errorf("JEDECID() = %x, want %x", id, bus.jedec)
	}

	call := bus.lastCall(t)
	if !call.exchange || !bytes.Equal(call.tx, []byte{CmdReadJEDECID}) || call.n != 3 {
		t.Errorf("JEDECID bus session = %+v, want exchange of [0x9F] reading 3 bytes", call)
	}
}

func TestSetWriteEnable(t *testing.T) {
	tests := []struct {
		enable bool
		opcode byte
	}{
		{true, CmdWriteEnable},
		{false, CmdWriteDisable},
	}

	for _, tc := range tests {
		bus := &spyBus{}
		dev := New(bus)
		if err := dev.SetWriteEnable(tc.enable); err != nil {
			t.Fatalf("SetWriteEnable(%v) error = %v", tc.enable, err)
		}
		call := bus.lastCall(t)
		if !bytes.Equal(call.tx, []byte{tc.opcode}) {
			t.Errorf("SetWriteEnable(%v) tx = %x, want [%02X]", tc.enable, call.tx, tc.opcode)
		}
	}
}

func TestReadAt(t *testing.T) {
	bus := &spyBus{read: []byte{0xDE, 0xAD, 0xBE, 0xEF}}
	dev := New(bus)

	data, err := dev.ReadAt(0x012345, 4)
	if err != nil {
		t.Fatalf("ReadAt() error = %v", err)
	}
	if !bytes.Equal(data, []byte{0xDE, 0xAD, 0xBE, 0xEF}) {
		t.Errorf("ReadAt() = %x, want deadbeef", data)
	}

	call := bus.lastCall(t)
	wantTx := []byte{CmdRead, 0x01, 0x23, 0x45}
	if !bytes.Equal(call.tx, wantTx) || call.n != 4 {
		t.Errorf("ReadAt bus session tx = %x n = %d, want tx %x n 4", call.tx, call.n, wantTx)
	}
}

func TestReadAt_AddressOutOfRange(t *testing.T) {
	for _, addr := range []int{-1, MaxAddress + 1} {
		bus := &spyBus{}
		dev := New(bus)
		if _, err := dev.ReadAt(addr, 1); err == nil {
			t.Errorf("ReadAt(0x%X) expected error, got nil", addr)
		}
		if len(bus.calls) != 0 {
			t.Errorf("ReadAt(0x%X) touched the bus: %d calls", addr, len(bus.calls))
		}
	}
}

func TestProgramPage_SessionLayout(t *testing.T) {
	bus := &spyBus{}
	dev := New(bus)

	data := []byte{0x11, 0x22, 0x33}
	if err := dev.ProgramPage(0x00AB00, data); err != nil {
		t.Fatalf("ProgramPage() error = %v", err)
	}

	if len(bus.calls) != 1 {
		t.Fatalf("ProgramPage bus calls = %d, want 1 bracketed session", len(bus.calls))
	}

	// One session: write enable, program opcode + address + payload, write disable.
	want := []byte{CmdWriteEnable, CmdPageProgram, 0x00, 0xAB, 0x00, 0x11, 0x22, 0x33, CmdWriteDisable}
	if !bytes.Equal(bus.calls[0].tx, want) {
		t.Errorf("ProgramPage session = %x, want %x", bus.calls[0].tx, want)
	}
}

func TestErase_Addressed(t *testing.T) {
	tests := []struct {
		name   string
		call   func(*Device, int) error
		opcode byte
	}{
		{"sector", (*Device).EraseSector, CmdEraseSector},
		{"32k", (*Device).EraseBlock32K, CmdEraseBlock32K},
		{"64k", (*Device).EraseBlock64K, CmdEraseBlock64K},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			bus := &spyBus{}
			dev := New(bus)
			if err := tc.call(dev, 0x010000); err != nil {
				t.Fatalf("erase error = %v", err)
			}
			want := []byte{tc.opcode, 0x01, 0x00, 0x00}
			if !bytes.Equal(bus.lastCall(t).tx, want) {
				t.Errorf("erase tx = %x, want %x", bus.lastCall(t).tx, want)
			}
		})
	}
}

func TestErase_SingleOpcodeCommands(t *testing.T) {
	tests := []struct {
		name   string
		call   func(*Device) error
		opcode byte
	}{
		{"chip erase", (*Device).EraseChip, CmdEraseChip},
		{"suspend", (*Device).EraseSuspend, CmdEraseSuspend},
		{"resume", (*Device).EraseResume, CmdEraseResume},
		{"power down", (*Device).PowerDown, CmdPowerDown},
		{"release power down", (*Device).ReleasePowerDown, CmdReleasePowerDown},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			bus := &spyBus{}
			dev := New(bus)
			if err := tc.call(dev); err != nil {
				t.Fatalf("%s error = %v", tc.name, err)
			}
			if !bytes.Equal(bus.lastCall(t).tx, []byte{tc.opcode}) {
				t.Errorf("%s tx = %x, want [%02X]", tc.name, bus.lastCall(t).tx, tc.opcode)
			}
		})
	}
}

func TestStatusQueries(t *testing.T) {
	tests := []struct {
		status      byte
		busy        bool
		writeEnable bool
	}{
		{0x00, false, false},
		{StatusBusy, true, false},
		{StatusWriteEnable, false, true},
		{StatusBusy | StatusWriteEnable, true, true},
	}

	for _, tc := range tests {
		bus := &spyBus{status: tc.status}
		dev := New(bus)

		sr, err := dev.ReadStatus1()
		if err != nil {
			t.Fatalf("ReadStatus1() error = %v", err)
		}
		if sr != tc.status {
			t.Errorf("ReadStatus1() = 0x%02X, want 0x%02X", sr, tc.status)
		}

		busy, err := dev.Busy()
		if err != nil {
			t.Fatalf("Busy() error = %v", err)
		}
		if busy != tc.busy {
			t.Errorf("Busy() with status 0x%02X = %v, want %v", tc.status, busy, tc.busy)
		}

		wel, err := dev.WriteEnabled()
		if err != nil {
			t.Fatalf("WriteEnabled() error = %v", err)
		}
		if wel != tc.writeEnable {
			t.Errorf("WriteEnabled() with status 0x%02X = %v, want %v", tc.status, wel, tc.writeEnable)
		}
	}
}

func TestBusErrorPropagates(t *testing.T) {
	busErr := errors.New("bus exchange failed")
	bus := &spyBus{err: busErr}
	dev := New(bus)

	if _, err := dev.JEDECID(); !errors.Is(err, busErr) {
		t.Errorf("JEDECID() error = %v, want %v", err, busErr)
	}
	if err := dev.ProgramPage(0, []byte{0x00}); !errors.Is(err, busErr) {
		t.Errorf("ProgramPage() error = %v, want %v", err, busErr)
	}
	if _, err := dev.Busy(); !errors.Is(err, busErr) {
		t.Errorf("Busy() error = %v, want %v", err, busErr)
	}
}
