package bus

import (
	"fmt"
	"sync"

	"github.com/norbytes/flashprog/internal/spiflash"
)

// defaultEraseBusyPolls is how many status reads report busy after a chip
// erase is accepted, so pollers see a realistic in-flight window.
const defaultEraseBusyPolls = 3

// MemBus emulates a W25Q-style serial NOR chip behind the Bus interface:
// JEDEC ID, status register with BUSY and WEL bits, AND-semantics page
// program, sector/block/chip erase with simulated erase latency. It backs
// `serve --emulate` and most of the test suite.
type MemBus struct {
	mu sync.Mutex

	mem       []byte
	id        [3]byte
	latch     bool
	asleep    bool
	busyPolls int

	// EraseBusyPolls is the number of status reads that report busy
	// after a chip erase command is accepted.
	EraseBusyPolls int
}

// NewMemBus returns an erased emulated chip of the given size reporting
// a Winbond W25Q32 JEDEC ID.
func NewMemBus(size int) *MemBus {
	mem := make([]byte, size)
	for i := range mem {
		mem[i] = 0xFF
	}
	return &MemBus{
		mem:            mem,
		id:             [3]byte{spiflash.ManufWinbond, 0x40, 0x16},
		EraseBusyPolls: defaultEraseBusyPolls,
	}
}

// SetID overrides the JEDEC ID reported by the emulated chip.
func (b *MemBus) SetID(id [3]byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.id = id
}

// Bytes returns a copy of the emulated flash contents.
func (b *MemBus) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.mem...)
}

// WriteEnabled reports the emulated write enable latch.
func (b *MemBus) WriteEnabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latch
}

func (b *MemBus) Write(tx []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(tx) == 0 {
		return fmt.Errorf("empty bus session")
	}

	op := tx[0]
	if b.asleep {
		// A powered-down chip ignores everything except release.
		if op == spiflash.CmdReleasePowerDown {
			b.asleep = false
		}
		return nil
	}

	switch op {
	case spiflash.CmdWriteEnable:
		if len(tx) == 1 {
			b.latch = true
			return nil
		}
		// Composite page program session:
		// [WE][PGM][addr x3][data ...][WD]
		return b.programSession(tx[1:])

	case spiflash.CmdWriteDisable:
		b.latch = false

	case spiflash.CmdEraseSector:
		return b.eraseRegion(tx, 4*1024, 1)
	case spiflash.CmdEraseBlock32K:
		return b.eraseRegion(tx, 32*1024, 1)
	case spiflash.CmdEraseBlock64K:
		return b.eraseRegion(tx, 64*1024, 1)

	case spiflash.CmdEraseChip, spiflash.CmdEraseChipAlt:
		if !b.latch {
			return nil // chip ignores erase without the latch set
		}
		for i := range b.mem {
			b.mem[i] = 0xFF
		}
		b.latch = false
		b.busyPolls = b.EraseBusyPolls

	case spiflash.CmdEraseSuspend, spiflash.CmdEraseResume:
		// accepted, not modeled

	case spiflash.CmdPowerDown:
		b.asleep = true

	case spiflash.CmdReleasePowerDown:
		// already awake
	}
	return nil
}

func (b *MemBus) programSession(tx []byte) error {
	if len(tx) < 5 || tx[0] != spiflash.CmdPageProgram || tx[len(tx)-1] != spiflash.CmdWriteDisable {
		return fmt.Errorf("malformed page program session: % X", tx)
	}
	addr := int(tx[1])<<16 | int(tx[2])<<8 | int(tx[3])
	data := tx[4 : len(tx)-1]
	if addr+len(data) > len(b.mem) {
		return fmt.Errorf("program beyond end of flash: 0x%X+%d", addr, len(data))
	}
	for i, d := range data {
		b.mem[addr+i] &= d // NOR program only clears bits
	}
	b.latch = false
	return nil
}

func (b *MemBus) eraseRegion(tx []byte, size, busyPolls int) error {
	if len(tx) != 4 {
		return fmt.Errorf("malformed erase session: % X", tx)
	}
	if !b.latch {
		return nil
	}
	addr := int(tx[1])<<16 | int(tx[2])<<8 | int(tx[3])
	start := addr &^ (size - 1)
	if start >= len(b.mem) {
		return fmt.Errorf("erase beyond end of flash: 0x%X", addr)
	}
	end := start + size
	if end > len(b.mem) {
		end = len(b.mem)
	}
	for i := start; i < end; i++ {
		b.mem[i] = 0xFF
	}
	b.latch = false
	b.busyPolls = busyPolls
	return nil
}

func (b *MemBus) Exchange(tx []byte, n int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(tx) == 0 {
		return nil, fmt.Errorf("empty bus session")
	}
	if b.asleep {
		return make([]byte, n), nil
	}

	switch tx[0] {
	case spiflash.CmdReadJEDECID:
		out := make([]byte, n)
		copy(out, b.id[:])
		return out, nil

	case spiflash.CmdReadStatus1:
		var sr byte
		if b.busyPolls > 0 {
			sr |= spiflash.StatusBusy
			b.busyPolls--
		}
		if b.latch {
			sr |= spiflash.StatusWriteEnable
		}
		out := make([]byte, n)
		for i := range out {
			out[i] = sr
		}
		return out, nil

	case spiflash.CmdRead:
		if len(tx) != 4 {
			return nil, fmt.Errorf("malformed read session: % X", tx)
		}
		addr := int(tx[1])<<16 | int(tx[2])<<8 | int(tx[3])
		if addr+n > len(b.mem) {
			return nil, fmt.Errorf("read beyond end of flash: 0x%X+%d", addr, n)
		}
		return append([]byte(nil), b.mem[addr:addr+n]...), nil
	}

	return make([]byte, n), nil
}

func (b *MemBus) Close() error { return nil }
