package client

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/norbytes/flashprog/internal/block"
)

// ProgressCallback is called to report block transfer progress.
type ProgressCallback func(current, total int)

// ReadBlock fetches one read-sized block. With verify set the server
// appends a checksum byte, which is checked and stripped here.
func (c *Client) ReadBlock(blockID int, verify bool) ([]byte, error) {
	var payload string
	err := c.Call("programmer_read_block", map[string]any{
		"block_id":   blockID,
		"append_crc": verify,
	}, &payload)
	if err != nil {
		return nil, err
	}

	data, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
	if err != nil {
		return nil, fmt.Errorf("block %d: payload does not decode: %w", blockID, err)
	}
	if !verify {
		return data, nil
	}

	if len(data) == 0 {
		return nil, fmt.Errorf("block %d: empty verified payload", blockID)
	}
	body, sum := data[:len(data)-1], data[len(data)-1]
	if got := block.Checksum(body); got != sum {
		return nil, fmt.Errorf("block %d: checksum 0x%02X does not match payload sum 0x%02X", blockID, sum, got)
	}
	return body, nil
}

// WriteBlock programs one write-sized block. data must be exactly the
// write block size; with verify set the server reads the block back and
// checks it against the data's checksum.
func (c *Client) WriteBlock(blockID int, data []byte, pageSize int, verify bool) error {
	params := map[string]any{
		"block_id":       blockID,
		"data":           base64.RawStdEncoding.EncodeToString(data),
		"chip_page_size": pageSize,
	}
	if verify {
		params["crc"] = int(block.Checksum(data))
	}

	var sum string
	if err := c.Call("programmer_write_block", params, &sum); err != nil {
		return err
	}
	if want := fmt.Sprintf("0x%x", block.Checksum(data)); sum != want {
		return fmt.Errorf("block %d: server checksum %s, want %s", blockID, sum, want)
	}
	return nil
}

// ReadImage dumps numBlocks read-sized blocks starting at block 0, each
// fetched with its checksum verified.
func (c *Client) ReadImage(numBlocks int, progress ProgressCallback) ([]byte, error) {
	size, err := c.ReadBlockSize()
	if err != nil {
		return nil, err
	}

	image := make([]byte, 0, numBlocks*size)
	for id := 0; id < numBlocks; id++ {
		data, err := c.ReadBlock(id, true)
		if err != nil {
			return nil, err
		}
		image = append(image, data...)
		if progress != nil {
			progress(id+1, numBlocks)
		}
	}
	return image, nil
}

// WriteImage programs data starting at block 0, padding the final
// partial block with erased-state 0xFF bytes.
func (c *Client) WriteImage(data []byte, pageSize int, verify bool, progress ProgressCallback) error {
	size, err := c.WriteBlockSize()
	if err != nil {
		return err
	}

	numBlocks := (len(data) + size - 1) / size
	for id := 0; id < numBlocks; id++ {
		start := id * size
		end := start + size
		if end > len(data) {
			end = len(data)
		}

		chunk := data[start:end]
		if len(chunk) < size {
			padded := bytes.Repeat([]byte{0xFF}, size)
			copy(padded, chunk)
			chunk = padded
		}

		if err := c.WriteBlock(id, chunk, pageSize, verify); err != nil {
			return err
		}
		if progress != nil {
			progress(id+1, numBlocks)
		}
	}
	return nil
}

// EraseChip runs a full chip erase to completion, polling at the given
// interval.
func (c *Client) EraseChip(pollInterval time.Duration) error {
	if _, err := c.StartEraseChip(); err != nil {
		return err
	}
	for {
		done, err := c.EraseDone()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		time.Sleep(pollInterval)
	}
}
