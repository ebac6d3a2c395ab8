// Package bus provides the chip-select-bracketed transports a flash
// device can sit behind: a native SPI port, a SLIP serial bridge, and an
// in-memory chip emulator.
package bus

import (
	"fmt"
	"sync/atomic"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// SPIConfig selects the SPI port and optional manual chip-select pin.
type SPIConfig struct {
	// Device is the spireg port name ("" means the first available port).
	Device string

	// CSPin names a GPIO used as manual chip select. When empty the
	// port controller's own chip select line is used, which already
	// brackets every Tx call.
	CSPin string

	// Clock is the bus frequency; zero selects 1 MHz.
	Clock physic.Frequency
}

var hostInitialized atomic.Bool

// SPIBus drives the flash chip over a native SPI connection.
type SPIBus struct {
	port spi.PortCloser
	conn spi.Conn
	cs   gpio.PinIO
}

// OpenSPI initializes the periph host once, opens the configured SPI
// port and connects in mode 0.
func OpenSPI(cfg SPIConfig) (*SPIBus, error) {
	if hostInitialized.CompareAndSwap(false, true) {
		if _, err := host.Init(); err != nil {
			return nil, fmt.Errorf("host initialization failed: %w", err)
		}
	}

	port, err := spireg.Open(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port %q: %w", cfg.Device, err)
	}

	clock := cfg.Clock
	if clock == 0 {
		clock = physic.MegaHertz
	}
	conn, err := port.Connect(clock, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to connect SPI: %w", err)
	}

	b := &SPIBus{port: port, conn: conn}
	if cfg.CSPin != "" {
		pin := gpioreg.ByName(cfg.CSPin)
		if pin == nil {
			port.Close()
			return nil, fmt.Errorf("chip select pin %q not found", cfg.CSPin)
		}
		if err := pin.Out(gpio.High); err != nil {
			port.Close()
			return nil, fmt.Errorf("failed to deselect chip: %w", err)
		}
		b.cs = pin
	}
	return b, nil
}

// tx runs one full-duplex transaction under chip select.
func (b *SPIBus) tx(buf []byte) (err error) {
	if b.cs != nil {
		if err = b.cs.Out(gpio.Low); err != nil {
			return err
		}
		defer func() {
			if csErr := b.cs.Out(gpio.High); csErr != nil && err == nil {
				err = csErr
			}
		}()
	}
	err = b.conn.Tx(buf, buf)
	return
}

func (b *SPIBus) Write(tx []byte) error {
	buf := append([]byte(nil), tx...)
	return b.tx(buf)
}

func (b *SPIBus) Exchange(tx []byte, n int) ([]byte, error) {
	buf := make([]byte, len(tx)+n)
	copy(buf, tx)
	if err := b.tx(buf); err != nil {
		return nil, err
	}
	return buf[len(tx):], nil
}

func (b *SPIBus) Close() error {
	return b.port.Close()
}
