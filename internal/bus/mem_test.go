package bus

import (
	"bytes"
	"testing"

	"github.com/norbytes/flashprog/internal/spiflash"
)

func TestMemBus_StartsErased(t *testing.T) {
	b := NewMemBus(4096)
	for i, v := range b.Bytes() {
		if v != 0xFF {
			t.Fatalf("byte %d = 0x%02X, want 0xFF", i, v)
		}
	}
}

func TestMemBus_JEDECID(t *testing.T) {
	b := NewMemBus(4096)
	dev := spiflash.New(b)

	id, err := dev.JEDECID()
	if err != nil {
		t.Fatalf("JEDECID() error = %v", err)
	}
	want := [3]byte{spiflash.ManufWinbond, 0x40, 0x16}
	if id != want {
		t.Errorf("JEDECID() = %x, want %x", id, want)
	}
}

func TestMemBus_ProgramReadRoundTrip(t *testing.T) {
	b := NewMemBus(4096)
	dev := spiflash.New(b)

	data := []byte{0x12, 0x34, 0x56, 0x78}
	if err := dev.ProgramPage(0x100, data); err != nil {
		t.Fatalf("ProgramPage() error = %v", err)
	}

	got, err := dev.ReadAt(0x100, len(data))
	if err != nil {
		t.Fatalf("ReadAt() error = %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("ReadAt() = %x, want %x", got, data)
	}
}

func TestMemBus_ProgramOnlyClearsBits(t *testing.T) {
	b := NewMemBus(4096)
	dev := spiflash.New(b)

	if err := dev.ProgramPage(0, []byte{0xF0}); err != nil {
		t.Fatalf("first ProgramPage() error = %v", err)
	}
	if err := dev.ProgramPage(0, []byte{0x0F}); err != nil {
		t.Fatalf("second ProgramPage() error = %v", err)
	}

	got, err := dev.ReadAt(0, 1)
	if err != nil {
		t.Fatalf("ReadAt() error = %v", err)
	}
	if got[0] != 0x00 {
		t.Errorf("reprogrammed byte = 0x%02X, want 0x00 (AND semantics)", got[0])
	}
}

func TestMemBus_SectorEraseNeedsLatch(t *testing.T) {
	b := NewMemBus(8192)
	dev := spiflash.New(b)

	if err := dev.ProgramPage(0, []byte{0x00}); err != nil {
		t.Fatalf("ProgramPage() error = %v", err)
	}

	// Without the write enable latch the erase is ignored.
	if err := dev.EraseSector(0); err != nil {
		t.Fatalf("EraseSector() error = %v", err)
	}
	if got := b.Bytes()[0]; got != 0x00 {
		t.Fatalf("byte after unlatched erase = 0x%02X, want 0x00", got)
	}

	if err := dev.SetWriteEnable(true); err != nil {
		t.Fatalf("SetWriteEnable() error = %v", err)
	}
	if err := dev.EraseSector(0); err != nil {
		t.Fatalf("EraseSector() error = %v", err)
	}
	if got := b.Bytes()[0]; got != 0xFF {
		t.Errorf("byte after erase = 0x%02X, want 0xFF", got)
	}
	if b.WriteEnabled() {
		t.Error("write enable latch still set after erase")
	}
}

func TestMemBus_ChipEraseBusyWindow(t *testing.T) {
	b := NewMemBus(4096)
	b.EraseBusyPolls = 2
	dev := spiflash.New(b)

	if err := dev.ProgramPage(0, []byte{0x00}); err != nil {
		t.Fatalf("ProgramPage() error = %v", err)
	}
	if err := dev.SetWriteEnable(true); err != nil {
		t.Fatalf("SetWriteEnable() error = %v", err)
	}
	if err := dev.EraseChip(); err != nil {
		t.Fatalf("EraseChip() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		busy, err := dev.Busy()
		if err != nil {
			t.Fatalf("Busy() #%d error = %v", i, err)
		}
		if !busy {
			t.Fatalf("Busy() #%d = false, want true during erase window", i)
		}
	}
	busy, err := dev.Busy()
	if err != nil {
		t.Fatalf("Busy() error = %v", err)
	}
	if busy {
		t.Error("Busy() = true after erase window elapsed")
	}
	if got := b.Bytes()[0]; got != 0xFF {
		t.Errorf("byte after chip erase = 0x%02X, want 0xFF", got)
	}
}

func TestMemBus_PowerDownIgnoresCommands(t *testing.T) {
	b := NewMemBus(4096)
	dev := spiflash.New(b)

	if err := dev.PowerDown(); err != nil {
		t.Fatalf("PowerDown() error = %v", err)
	}
	if err := dev.ProgramPage(0, []byte{0x00}); err != nil {
		t.Fatalf("ProgramPage() while asleep error = %v", err)
	}
	if got := b.Bytes()[0]; got != 0xFF {
		t.Errorf("byte programmed while asleep = 0x%02X, want 0xFF", got)
	}

	if err := dev.ReleasePowerDown(); err != nil {
		t.Fatalf("ReleasePowerDown() error = %v", err)
	}
	if err := dev.ProgramPage(0, []byte{0x00}); err != nil {
		t.Fatalf("ProgramPage() after wake error = %v", err)
	}
	if got := b.Bytes()[0]; got != 0x00 {
		t.Errorf("byte after wake = 0x%02X, want 0x00", got)
	}
}

func TestMemBus_ReadBeyondEnd(t *testing.T) {
	dev := spiflash.New(NewMemBus(256))
	if _, err := dev.ReadAt(0, 512); err == nil {
		t.Error("ReadAt() beyond end expected error, got nil")
	}
}
