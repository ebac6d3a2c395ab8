package spiflash

// Serial NOR flash command set (W25Q family and compatibles)
const (
	CmdWriteEnable      = 0x06
	CmdWriteDisable     = 0x04
	CmdReadStatus1      = 0x05
	CmdReadStatus2      = 0x35
	CmdWriteStatus      = 0x01
	CmdPageProgram      = 0x02
	CmdQuadPageProgram  = 0x32
	CmdEraseBlock64K    = 0xD8
	CmdEraseBlock32K    = 0x52
	CmdEraseSector      = 0x20 // 4KB
	CmdEraseChip        = 0xC7
	CmdEraseChipAlt     = 0x60
	CmdEraseSuspend     = 0x75
	CmdEraseResume      = 0x7A
	CmdPowerDown        = 0xB9
	CmdHighPerfMode     = 0xA3
	CmdContReadReset    = 0xFF
	CmdReleasePowerDown = 0xAB
	CmdReadManufID      = 0x90 // deprecated, use JEDEC ID
	CmdReadUniqueID     = 0x4B
	CmdReadJEDECID      = 0x9F
	CmdRead             = 0x03
	CmdFastRead         = 0x0B
)

// Status register 1 bits
const (
	StatusBusy        = 0x01 // erase/program in progress
	StatusWriteEnable = 0x02 // write enable latch
)

// MaxAddress is the highest offset reachable with 3-byte addressing.
const MaxAddress = 1<<24 - 1

// Known JEDEC manufacturer IDs (first ID byte)
const (
	ManufWinbond  = 0xEF
	ManufMicron   = 0x20
	ManufMacronix = 0xC2
	ManufGigaDev  = 0xC8
	ManufISSI     = 0x9D
)

// ManufacturerName returns a human-readable name for a JEDEC manufacturer byte.
func ManufacturerName(id byte) string {
	switch id {
	case ManufWinbond:
		return "Winbond"
	case ManufMicron:
		return "Micron"
	case ManufMacronix:
		return "Macronix"
	case ManufGigaDev:
		return "GigaDevice"
	case ManufISSI:
		return "ISSI"
	default:
		return "unknown"
	}
}
