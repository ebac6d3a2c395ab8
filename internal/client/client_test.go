package client

import (
	"bytes"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/norbytes/flashprog/internal/block"
	"github.com/norbytes/flashprog/internal/bus"
	"github.com/norbytes/flashprog/internal/rpc"
	"github.com/norbytes/flashprog/internal/server"
	"github.com/norbytes/flashprog/internal/spiflash"
)

func newTestClient(t *testing.T, size int) (*Client, *bus.MemBus) {
	t.Helper()

	chip := bus.NewMemBus(size)
	d := rpc.NewDispatcher()
	rpc.NewProgrammer(spiflash.New(chip)).Register(d)

	ts := httptest.NewServer(server.New(d).Handler())
	t.Cleanup(ts.Close)

	c, err := Dial("ws" + strings.TrimPrefix(ts.URL, "http") + "/ws")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, chip
}

func TestPing(t *testing.T) {
	c, _ := newTestClient(t, 4096)
	if err := c.Ping(); err != nil {
		t.Errorf("Ping() = %v", err)
	}
}

func TestJEDECID(t *testing.T) {
	c, _ := newTestClient(t, 4096)

	id, err := c.JEDECID()
	if err != nil {
		t.Fatalf("JEDECID() = %v", err)
	}
	if id != "ef4016" {
		t.Errorf("JEDECID() = %q, want %q", id, "ef4016")
	}
}

func TestBlockSizes(t *testing.T) {
	c, _ := newTestClient(t, 4096)

	if size, err := c.ReadBlockSize(); err != nil || size != block.ReadBlockSize {
		t.Errorf("ReadBlockSize() = %d, %v; want %d", size, err, block.ReadBlockSize)
	}
	if size, err := c.WriteBlockSize(); err != nil || size != block.WriteBlockSize {
		t.Errorf("WriteBlockSize() = %d, %v; want %d", size, err, block.WriteBlockSize)
	}
}

func TestPageLevelRoundTrip(t *testing.T) {
	c, _ := newTestClient(t, 4096)

	want := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	if err := c.WritePage(0x100, want); err != nil {
		t.Fatalf("WritePage() = %v", err)
	}
	got, err := c.ReadFlash(0x100, len(want))
	if err != nil {
		t.Fatalf("ReadFlash() = %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("ReadFlash() = %x, want %x", got, want)
	}
}

func TestWriteImageReadImageRoundTrip(t *testing.T) {
	c, _ := newTestClient(t, block.ReadBlockSize)

	// 5000 bytes of pattern leaves a partial final write block to pad.
	image := make([]byte, 5000)
	for i := range image {
		image[i] = byte(i * 7)
	}

	var writeCalls int
	err := c.WriteImage(image, 256, true, func(current, total int) {
		writeCalls++
		if total != 3 {
			t.Errorf("write progress total = %d, want 3", total)
		}
	})
	if err != nil {
		t.Fatalf("WriteImage() = %v", err)
	}
	if writeCalls != 3 {
		t.Errorf("progress callback ran %d times, want 3", writeCalls)
	}

	got, err := c.ReadImage(1, nil)
	if err != nil {
		t.Fatalf("ReadImage() = %v", err)
	}
	if len(got) != block.ReadBlockSize {
		t.Fatalf("ReadImage() length = %d, want %d", len(got), block.ReadBlockSize)
	}
	if !bytes.Equal(got[:len(image)], image) {
		t.Error("read-back image does not match written data")
	}
	for i := len(image); i < 3*block.WriteBlockSize; i++ {
		if got[i] != 0xFF {
			t.Fatalf("pad byte at %d = 0x%02X, want 0xFF", i, got[i])
		}
	}
}

func TestWriteBlockVerifyRejectsCorruption(t *testing.T) {
	c, _ := newTestClient(t, 4*block.WriteBlockSize)

	// Pre-program a zero bit the new data cannot set back to one, so
	// the server-side readback disagrees with the written payload.
	if err := c.WritePage(0, []byte{0x00}); err != nil {
		t.Fatalf("WritePage() = %v", err)
	}
	data := bytes.Repeat([]byte{0xFF}, block.WriteBlockSize)
	data[0] = 0xAB

	err := c.WriteBlock(0, data, 256, true)
	if err == nil {
		t.Fatal("WriteBlock() with clashing bits succeeded, want verification error")
	}
	var rpcErr *rpc.Error
	if !errors.As(err, &rpcErr) || rpcErr.Code != rpc.CodeVerification {
		t.Errorf("error = %v, want code %d", err, rpc.CodeVerification)
	}
}

func TestEraseChipRunsToCompletion(t *testing.T) {
	c, chip := newTestClient(t, 4096)
	chip.EraseBusyPolls = 2

	if err := c.WritePage(0, []byte{0x00}); err != nil {
		t.Fatalf("WritePage() = %v", err)
	}
	if err := c.EraseChip(time.Millisecond); err != nil {
		t.Fatalf("EraseChip() = %v", err)
	}
	if got := chip.Bytes()[0]; got != 0xFF {
		t.Errorf("byte after erase = 0x%02X, want 0xFF", got)
	}
}

func TestRemoteErrorSurfacesTyped(t *testing.T) {
	c, _ := newTestClient(t, 4096)

	err := c.Call("no_such_command", nil, nil)
	var rpcErr *rpc.Error
	if !errors.As(err, &rpcErr) || rpcErr.Code != rpc.CodeMethodNotFound {
		t.Errorf("error = %v, want *rpc.Error code %d", err, rpc.CodeMethodNotFound)
	}
}
