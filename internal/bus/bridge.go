package bus

import (
	"fmt"
	"time"

	"github.com/sigurn/crc16"

	"github.com/norbytes/flashprog/internal/serial"
	"github.com/norbytes/flashprog/internal/slip"
)

// Bridge link protocol, SLIP framed over a serial adapter.
//
//	request:  [op][args...][crc16]
//	response: [status][data...][crc16]
//
// op 0x01 (write) carries the raw chip-select session bytes; op 0x02
// (exchange) prefixes them with a 16-bit big-endian read count. The CRC
// is CCITT-FALSE over everything before it, big-endian. A non-zero
// status byte marks an adapter-side failure, with an ASCII reason in
// the data bytes.
const (
	bridgeOpWrite    = 0x01
	bridgeOpExchange = 0x02

	bridgeStatusOK = 0x00
)

var bridgeCRC = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

// DefaultBridgeBaudRate matches the stock adapter firmware.
const DefaultBridgeBaudRate = 921600

const bridgeResponseTimeout = 2 * time.Second

// bridgePort is the serial surface the bridge needs; *serial.Port
// implements it, tests substitute a loopback adapter.
type bridgePort interface {
	Write(data []byte) (int, error)
	ReadWithTimeout(buf []byte, timeout time.Duration) (int, error)
	Flush() error
	Close() error
}

// BridgeBus carries chip-select sessions over a serial SPI adapter.
type BridgeBus struct {
	port    bridgePort
	scan    slip.Scanner
	timeout time.Duration
}

// OpenBridge opens the serial adapter on portName.
func OpenBridge(portName string, baudRate int) (*BridgeBus, error) {
	port, err := serial.Open(portName, baudRate)
	if err != nil {
		return nil, err
	}
	port.Flush()
	return newBridge(port), nil
}

// newBridge wraps an already-open port; used by tests.
func newBridge(port bridgePort) *BridgeBus {
	return &BridgeBus{port: port, timeout: bridgeResponseTimeout}
}

func appendCRC(body []byte) []byte {
	sum := crc16.Checksum(body, bridgeCRC)
	return append(body, byte(sum>>8), byte(sum))
}

// roundTrip sends one framed request and waits for the matching response.
func (b *BridgeBus) roundTrip(body []byte) ([]byte, error) {
	frame := slip.Encode(appendCRC(body))
	if _, err := b.port.Write(frame); err != nil {
		return nil, fmt.Errorf("bridge write: %w", err)
	}

	deadline := time.Now().Add(b.timeout)
	buf := make([]byte, 512)
	for {
		resp, ok, err := b.scan.Frame()
		if err != nil {
			return nil, fmt.Errorf("bridge frame: %w", err)
		}
		if ok {
			return parseBridgeResponse(resp)
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("bridge response timeout")
		}
		n, err := b.port.ReadWithTimeout(buf, 100*time.Millisecond)
		if n > 0 {
			b.scan.Push(buf[:n])
		}
		if err != nil && n == 0 {
			return nil, fmt.Errorf("bridge read: %w", err)
		}
	}
}

func parseBridgeResponse(resp []byte) ([]byte, error) {
	if len(resp) < 3 {
		return nil, fmt.Errorf("bridge response too short: %d bytes", len(resp))
	}
	body, trailer := resp[:len(resp)-2], resp[len(resp)-2:]
	sum := crc16.Checksum(body, bridgeCRC)
	if got := uint16(trailer[0])<<8 | uint16(trailer[1]); got != sum {
		return nil, fmt.Errorf("bridge response CRC mismatch: got 0x%04X, want 0x%04X", got, sum)
	}
	if body[0] != bridgeStatusOK {
		return nil, fmt.Errorf("bridge adapter error 0x%02X: %s", body[0], body[1:])
	}
	return body[1:], nil
}

func (b *BridgeBus) Write(tx []byte) error {
	body := make([]byte, 0, len(tx)+3)
	body = append(body, bridgeOpWrite)
	body = append(body, tx...)

	data, err := b.roundTrip(body)
	if err != nil {
		return err
	}
	if len(data) != 0 {
		return fmt.Errorf("unexpected data in write response: %d bytes", len(data))
	}
	return nil
}

func (b *BridgeBus) Exchange(tx []byte, n int) ([]byte, error) {
	if n < 0 || n > 0xFFFF {
		return nil, fmt.Errorf("read length %d out of range", n)
	}
	body := make([]byte, 0, len(tx)+5)
	body = append(body, bridgeOpExchange, byte(n>>8), byte(n))
	body = append(body, tx...)

	data, err := b.roundTrip(body)
	if err != nil {
		return nil, err
	}
	if len(data) != n {
		return nil, fmt.Errorf("short bridge exchange: got %d bytes, want %d", len(data), n)
	}
	return data, nil
}

func (b *BridgeBus) Close() error {
	return b.port.Close()
}
