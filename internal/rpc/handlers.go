package rpc

import (
	"encoding/hex"
	"encoding/json"

	"github.com/norbytes/flashprog/internal/block"
	"github.com/norbytes/flashprog/internal/spiflash"
)

// Programmer binds the command surface to one explicitly constructed
// flash device. It owns the erase session lifecycle; everything else is
// stateless delegation to the device and block codec.
type Programmer struct {
	dev   *spiflash.Device
	codec *block.Codec
	erase *spiflash.EraseSession // nil until a chip erase is started
}

// NewProgrammer returns a Programmer for dev.
func NewProgrammer(dev *spiflash.Device) *Programmer {
	return &Programmer{
		dev:   dev,
		codec: block.NewCodec(dev),
	}
}

// Register installs the full command surface on d.
func (p *Programmer) Register(d *Dispatcher) {
	d.Register("get_jedec_id", p.getJEDECID)
	d.Register("set_write_enable", p.setWriteEnable)
	d.Register("erase_all", p.eraseAll)
	d.Register("erase_suspend", p.eraseSuspend)
	d.Register("erase_resume", p.eraseResume)
	d.Register("end_flash", p.endFlash)
	d.Register("read_flash", p.readFlash)
	d.Register("write_page", p.writePage)
	d.Register("erase_sector", p.eraseSector)
	d.Register("erase_32k_block", p.erase32KBlock)
	d.Register("erase_64k_block", p.erase64KBlock)
	d.Register("busy", p.busy)
	d.Register("get_read_block_size", p.getReadBlockSize)
	d.Register("get_write_block_size", p.getWriteBlockSize)
	d.Register("programmer_read_block", p.readBlock)
	d.Register("programmer_write_block", p.writeBlock)
	d.Register("programmer_start_erase_chip", p.startEraseChip)
	d.Register("programmer_erase_done", p.eraseDone)
}

func (p *Programmer) getJEDECID(json.RawMessage) (any, error) {
	id, err := p.dev.JEDECID()
	if err != nil {
		return nil, err
	}
	return hex.EncodeToString(id[:]), nil
}

type setWriteEnableParams struct {
	Enable *bool `json:"enable"`
}

func (p *Programmer) setWriteEnable(raw json.RawMessage) (any, error) {
	var args setWriteEnableParams
	if err := unmarshalParams(raw, &args); err != nil {
		return nil, err
	}
	if args.Enable == nil {
		return nil, errInvalidParams("missing required argument %q", "enable")
	}
	return nil, p.dev.SetWriteEnable(*args.Enable)
}

func (p *Programmer) eraseAll(json.RawMessage) (any, error) {
	return nil, p.dev.EraseChip()
}

func (p *Programmer) eraseSuspend(json.RawMessage) (any, error) {
	return nil, p.dev.EraseSuspend()
}

func (p *Programmer) eraseResume(json.RawMessage) (any, error) {
	return nil, p.dev.EraseResume()
}

func (p *Programmer) endFlash(json.RawMessage) (any, error) {
	return nil, p.dev.PowerDown()
}

type readFlashParams struct {
	Addr *int `json:"addr"`
	N    *int `json:"n"`
}

func (p *Programmer) readFlash(raw json.RawMessage) (any, error) {
	var args readFlashParams
	if err := unmarshalParams(raw, &args); err != nil {
		return nil, err
	}
	if args.Addr == nil {
		return nil, errInvalidParams("missing required argument %q", "addr")
	}
	if args.N == nil {
		return nil, errInvalidParams("missing required argument %q", "n")
	}
	return p.dev.ReadAt(*args.Addr, *args.N)
}

type writePageParams struct {
	AddrStart *int   `json:"addr_start"`
	Buf       []byte `json:"buf"`
}

func (p *Programmer) writePage(raw json.RawMessage) (any, error) {
	var args writePageParams
	if err := unmarshalParams(raw, &args); err != nil {
		return nil, err
	}
	if args.AddrStart == nil {
		return nil, errInvalidParams("missing required argument %q", "addr_start")
	}
	if args.Buf == nil {
		return nil, errInvalidParams("missing required argument %q", "buf")
	}
	return nil, p.dev.ProgramPage(*args.AddrStart, args.Buf)
}

type eraseRegionParams struct {
	AddrStart *int `json:"addr_start"`
}

func (p *Programmer) eraseRegion(raw json.RawMessage, erase func(int) error) (any, error) {
	var args eraseRegionParams
	if err := unmarshalParams(raw, &args); err != nil {
		return nil, err
	}
	if args.AddrStart == nil {
		return nil, errInvalidParams("missing required argument %q", "addr_start")
	}
	return nil, erase(*args.AddrStart)
}

func (p *Programmer) eraseSector(raw json.RawMessage) (any, error) {
	return p.eraseRegion(raw, p.dev.EraseSector)
}

func (p *Programmer) erase32KBlock(raw json.RawMessage) (any, error) {
	return p.eraseRegion(raw, p.dev.EraseBlock32K)
}

func (p *Programmer) erase64KBlock(raw json.RawMessage) (any, error) {
	return p.eraseRegion(raw, p.dev.EraseBlock64K)
}

func (p *Programmer) busy(json.RawMessage) (any, error) {
	return p.dev.Busy()
}

func (p *Programmer) getReadBlockSize(json.RawMessage) (any, error) {
	return block.ReadBlockSize, nil
}

func (p *Programmer) getWriteBlockSize(json.RawMessage) (any, error) {
	return block.WriteBlockSize, nil
}

type readBlockParams struct {
	BlockID   int  `json:"block_id"`
	AppendCRC bool `json:"append_crc"`
}

func (p *Programmer) readBlock(raw json.RawMessage) (any, error) {
	var args readBlockParams
	if err := unmarshalParams(raw, &args); err != nil {
		return nil, err
	}
	if args.BlockID < 0 {
		return nil, errInvalidParams("block_id must be non-negative, got %d", args.BlockID)
	}
	return p.codec.ReadBlock(args.BlockID, args.AppendCRC)
}

type writeBlockParams struct {
	BlockID      int     `json:"block_id"`
	Data         *string `json:"data"`
	CRC          *int    `json:"crc"`
	ChipPageSize *int    `json:"chip_page_size"`
}

func (p *Programmer) writeBlock(raw json.RawMessage) (any, error) {
	var args writeBlockParams
	if err := unmarshalParams(raw, &args); err != nil {
		return nil, err
	}
	if args.BlockID < 0 {
		return nil, errInvalidParams("block_id must be non-negative, got %d", args.BlockID)
	}
	if args.Data == nil {
		return nil, errInvalidParams("missing required argument %q", "data")
	}
	if args.ChipPageSize == nil {
		return nil, errInvalidParams("missing required argument %q", "chip_page_size")
	}
	if *args.ChipPageSize <= 0 {
		return nil, errInvalidParams("chip_page_size must be positive, got %d", *args.ChipPageSize)
	}
	return p.codec.WriteBlock(args.BlockID, *args.Data, *args.ChipPageSize, args.CRC)
}

func (p *Programmer) startEraseChip(json.RawMessage) (any, error) {
	if p.erase != nil && p.erase.State() == spiflash.EraseErasing {
		return nil, &spiflash.StateError{Op: "start", State: spiflash.EraseErasing}
	}
	session := spiflash.NewEraseSession(p.dev)
	if err := session.Start(); err != nil {
		return nil, err
	}
	p.erase = session
	return "Chip erase started.", nil
}

func (p *Programmer) eraseDone(json.RawMessage) (any, error) {
	if p.erase == nil {
		return nil, &spiflash.StateError{Op: "poll", State: spiflash.EraseIdle}
	}
	return p.erase.Poll()
}
