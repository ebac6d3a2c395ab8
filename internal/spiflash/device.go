package spiflash

import (
	"fmt"
	"time"
)

// Bus performs chip-select-bracketed exchanges with the flash chip.
// Every call covers exactly one select/deselect cycle; two logical
// operations are never interleaved within a call. Bus errors are
// fatal to the in-flight operation and propagate unmodified.
type Bus interface {
	// Write asserts chip select, clocks out tx, deasserts chip select.
	Write(tx []byte) error

	// Exchange asserts chip select, clocks out tx, clocks in n bytes,
	// deasserts chip select and returns the bytes read.
	Exchange(tx []byte, n int) ([]byte, error)

	// Close releases the underlying transport.
	Close() error
}

// powerDownDelay is the quiescence time the chip needs after the
// power-down command before it accepts another instruction (tDP, >3us).
const powerDownDelay = 4 * time.Microsecond

// Device exposes the primitives of a serial NOR flash chip over a Bus.
// It does not serialize access: callers running concurrent tasks must
// guarantee that only one operation is in flight at a time.
type Device struct {
	bus Bus
}

// New returns a Device driving the chip attached to bus.
func New(bus Bus) *Device {
	return &Device{bus: bus}
}

// addr24 encodes addr as the 3-byte big-endian address the chip expects.
func addr24(addr int) ([3]byte, error) {
	if addr < 0 || addr > MaxAddress {
		return [3]byte{}, fmt.Errorf("address 0x%X out of 24-bit range", addr)
	}
	return [3]byte{byte(addr >> 16), byte(addr >> 8), byte(addr)}, nil
}

// JEDECID reads the 3-byte manufacturer+device identifier.
func (d *Device) JEDECID() ([3]byte, error) {
	buf, err := d.bus.Exchange([]byte{CmdReadJEDECID}, 3)
	if err != nil {
		return [3]byte{}, err
	}
	if len(buf) != 3 {
		return [3]byte{}, fmt.Errorf("short JEDEC ID read: %d bytes", len(buf))
	}
	return [3]byte(buf), nil
}

// SetWriteEnable sets or clears the chip's write enable latch.
func (d *Device) SetWriteEnable(enable bool) error {
	op := byte(CmdWriteDisable)
	if enable {
		op = CmdWriteEnable
	}
	return d.bus.Write([]byte{op})
}

// ReadAt reads n bytes starting at addr.
func (d *Device) ReadAt(addr, n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("negative read length %d", n)
	}
	a, err := addr24(addr)
	if err != nil {
		return nil, err
	}
	return d.bus.Exchange([]byte{CmdRead, a[0], a[1], a[2]}, n)
}

// ProgramPage programs data at addr within a single chip-select session:
// write enable, page program opcode + address + payload, write disable.
// The caller guarantees len(data) fits the chip's page size and that addr
// is aligned per the chip's requirements; no alignment check happens here.
func (d *Device) ProgramPage(addr int, data []byte) error {
	a, err := addr24(addr)
	if err != nil {
		return err
	}
	tx := make([]byte, 0, len(data)+6)
	tx = append(tx, CmdWriteEnable, CmdPageProgram, a[0], a[1], a[2])
	tx = append(tx, data...)
	tx = append(tx, CmdWriteDisable)
	return d.bus.Write(tx)
}

// erase issues an addressed erase opcode. Write-enable bracketing is the
// caller's business at this layer.
func (d *Device) erase(op byte, addr int) error {
	a, err := addr24(addr)
	if err != nil {
		return err
	}
	return d.bus.Write([]byte{op, a[0], a[1], a[2]})
}

// EraseSector erases the 4KB sector containing addr.
func (d *Device) EraseSector(addr int) error {
	return d.erase(CmdEraseSector, addr)
}

// EraseBlock32K erases the 32KB block containing addr.
func (d *Device) EraseBlock32K(addr int) error {
	return d.erase(CmdEraseBlock32K, addr)
}

// EraseBlock64K erases the 64KB block containing addr.
func (d *Device) EraseBlock64K(addr int) error {
	return d.erase(CmdEraseBlock64K, addr)
}

// EraseChip starts a whole-chip erase. Completion is observed via Busy;
// see EraseSession for the polling state machine.
func (d *Device) EraseChip() error {
	return d.bus.Write([]byte{CmdEraseChip})
}

// EraseSuspend suspends an ongoing erase.
func (d *Device) EraseSuspend() error {
	return d.bus.Write([]byte{CmdEraseSuspend})
}

// EraseResume resumes a suspended erase.
func (d *Device) EraseResume() error {
	return d.bus.Write([]byte{CmdEraseResume})
}

// PowerDown puts the chip into its low-power state and waits out the
// mandatory quiescence time before returning.
func (d *Device) PowerDown() error {
	if err := d.bus.Write([]byte{CmdPowerDown}); err != nil {
		return err
	}
	time.Sleep(powerDownDelay)
	return nil
}

// ReleasePowerDown wakes the chip from its low-power state.
func (d *Device) ReleasePowerDown() error {
	if err := d.bus.Write([]byte{CmdReleasePowerDown}); err != nil {
		return err
	}
	time.Sleep(powerDownDelay)
	return nil
}

// ReadStatus1 reads status register 1.
func (d *Device) ReadStatus1() (byte, error) {
	buf, err := d.bus.Exchange([]byte{CmdReadStatus1}, 1)
	if err != nil {
		return 0, err
	}
	if len(buf) != 1 {
		return 0, fmt.Errorf("short status read: %d bytes", len(buf))
	}
	return buf[0], nil
}

// Busy reports whether an erase or program operation is still executing.
func (d *Device) Busy() (bool, error) {
	sr, err := d.ReadStatus1()
	if err != nil {
		return false, err
	}
	return sr&StatusBusy != 0, nil
}

// WriteEnabled reports the state of the write enable latch.
func (d *Device) WriteEnabled() (bool, error) {
	sr, err := d.ReadStatus1()
	if err != nil {
		return false, err
	}
	return sr&StatusWriteEnable != 0, nil
}
