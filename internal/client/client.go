// Package client talks to a running flashprog server over its WebSocket
// endpoint. It offers one typed method per remote command plus
// image-level helpers built on the block transfer commands.
package client

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/norbytes/flashprog/internal/rpc"
)

// Client is a JSON-RPC client over one WebSocket connection. Calls are
// serialized: one request is in flight at a time.
type Client struct {
	conn *websocket.Conn

	mu     sync.Mutex
	nextID int
}

// Dial connects to a flashprog server, e.g. "ws://localhost:8765/ws".
func Dial(url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Ping sends the bare liveness probe and waits for its answer.
func (c *Client) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
		return err
	}
	_, msg, err := c.conn.ReadMessage()
	if err != nil {
		return err
	}
	if string(msg) != "pong" {
		return fmt.Errorf("ping answered with %q", msg)
	}
	return nil
}

// Call invokes a remote command. A non-nil result receives the decoded
// result member. Remote failures come back as *rpc.Error.
func (c *Client) Call(method string, params, result any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	req := rpc.Request{
		JSONRPC: "2.0",
		Method:  method,
		ID:      json.RawMessage(fmt.Sprintf("%d", c.nextID)),
	}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal params for %s: %w", method, err)
		}
		req.Params = raw
	}
	payload, err := json.Marshal(&req)
	if err != nil {
		return fmt.Errorf("marshal request for %s: %w", method, err)
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}

	// One request in flight means the next response frame is ours;
	// stray pongs from an interleaved Ping cannot appear under the lock.
	_, msg, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("receive %s: %w", method, err)
	}

	var resp struct {
		JSONRPC string          `json:"jsonrpc"`
		Result  json.RawMessage `json:"result"`
		Error   *rpc.Error      `json:"error"`
		ID      json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(msg, &resp); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if string(resp.ID) != string(req.ID) {
		return fmt.Errorf("%s: response id %s does not match request id %s", method, resp.ID, req.ID)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if result != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

// JEDECID returns the chip identification bytes as lowercase hex.
func (c *Client) JEDECID() (string, error) {
	var id string
	err := c.Call("get_jedec_id", nil, &id)
	return id, err
}

// SetWriteEnable sets or clears the write enable latch.
func (c *Client) SetWriteEnable(enable bool) error {
	return c.Call("set_write_enable", map[string]any{"enable": enable}, nil)
}

// EraseAll issues a fire-and-forget chip erase command.
func (c *Client) EraseAll() error {
	return c.Call("erase_all", nil, nil)
}

// EraseSuspend pauses an in-progress erase.
func (c *Client) EraseSuspend() error {
	return c.Call("erase_suspend", nil, nil)
}

// EraseResume resumes a suspended erase.
func (c *Client) EraseResume() error {
	return c.Call("erase_resume", nil, nil)
}

// EndFlash puts the chip into power-down.
func (c *Client) EndFlash() error {
	return c.Call("end_flash", nil, nil)
}

// ReadFlash reads n bytes starting at addr.
func (c *Client) ReadFlash(addr, n int) ([]byte, error) {
	var data []byte
	err := c.Call("read_flash", map[string]any{"addr": addr, "n": n}, &data)
	return data, err
}

// WritePage programs buf at addr as one page program operation.
func (c *Client) WritePage(addr int, buf []byte) error {
	return c.Call("write_page", map[string]any{"addr_start": addr, "buf": buf}, nil)
}

// EraseSector erases the 4 KiB sector containing addr.
func (c *Client) EraseSector(addr int) error {
	return c.Call("erase_sector", map[string]any{"addr_start": addr}, nil)
}

// EraseBlock32K erases the 32 KiB block containing addr.
func (c *Client) EraseBlock32K(addr int) error {
	return c.Call("erase_32k_block", map[string]any{"addr_start": addr}, nil)
}

// EraseBlock64K erases the 64 KiB block containing addr.
func (c *Client) EraseBlock64K(addr int) error {
	return c.Call("erase_64k_block", map[string]any{"addr_start": addr}, nil)
}

// Busy reports whether the chip is mid-erase or mid-program.
func (c *Client) Busy() (bool, error) {
	var busy bool
	err := c.Call("busy", nil, &busy)
	return busy, err
}

// ReadBlockSize returns the server's read transfer unit in bytes.
func (c *Client) ReadBlockSize() (int, error) {
	var size int
	err := c.Call("get_read_block_size", nil, &size)
	return size, err
}

// WriteBlockSize returns the server's write transfer unit in bytes.
func (c *Client) WriteBlockSize() (int, error) {
	var size int
	err := c.Call("get_write_block_size", nil, &size)
	return size, err
}

// StartEraseChip begins a chip erase session on the server.
func (c *Client) StartEraseChip() (string, error) {
	var status string
	err := c.Call("programmer_start_erase_chip", nil, &status)
	return status, err
}

// EraseDone polls the server's erase session once.
func (c *Client) EraseDone() (bool, error) {
	var done bool
	err := c.Call("programmer_erase_done", nil, &done)
	return done, err
}
