package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/norbytes/flashprog/internal/bus"
	"github.com/norbytes/flashprog/internal/client"
	"github.com/norbytes/flashprog/internal/rpc"
	"github.com/norbytes/flashprog/internal/serial"
	"github.com/norbytes/flashprog/internal/server"
	"github.com/norbytes/flashprog/internal/spiflash"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	addrFlag     string
	busFlag      string
	spiFlag      string
	csFlag       string
	portFlag     string
	baudFlag     int
	sizeFlag     int
	urlFlag      string
	blocksFlag   int
	pageSizeFlag int
	verifyFlag   bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "flashprog",
		Short: "Program serial NOR flash chips over a remote JSON-RPC bridge",
		Long: `flashprog drives W25Q-family serial NOR flash chips. The serve command
exposes a chip over a WebSocket JSON-RPC endpoint; the remaining
commands are clients of a running server.`,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the programmer server",
		Long: `Run the WebSocket JSON-RPC server in front of a flash chip.

The chip is reached through one of three buses:
  mem     in-memory chip emulation, no hardware needed
  spi     a local SPI controller via periph.io
  bridge  a serial adapter speaking the SLIP-framed bridge protocol`,
		RunE: runServe,
	}
	serveCmd.Flags().StringVar(&addrFlag, "addr", "localhost:8765", "Listen address")
	serveCmd.Flags().StringVar(&busFlag, "bus", "mem", "Bus backend: mem, spi or bridge")
	serveCmd.Flags().StringVar(&spiFlag, "spi", "", "SPI port name (first available if empty)")
	serveCmd.Flags().StringVar(&csFlag, "cs", "", "GPIO pin for manual chip select")
	serveCmd.Flags().StringVarP(&portFlag, "port", "p", "", "Serial port of the bridge adapter")
	serveCmd.Flags().IntVarP(&baudFlag, "baud", "b", bus.DefaultBridgeBaudRate, "Bridge baud rate")
	serveCmd.Flags().IntVar(&sizeFlag, "size", 4*1024*1024, "Emulated chip size in bytes (mem bus)")

	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Show chip info from a running server",
		RunE:  runInfo,
	}

	readCmd := &cobra.Command{
		Use:   "read <out.bin>",
		Short: "Dump flash contents to a file",
		Args:  cobra.ExactArgs(1),
		RunE:  runRead,
	}
	readCmd.Flags().IntVar(&blocksFlag, "blocks", 128, "Number of read blocks to dump")

	writeCmd := &cobra.Command{
		Use:   "write <image.bin>",
		Short: "Program an image file into flash",
		Args:  cobra.ExactArgs(1),
		RunE:  runWrite,
	}
	writeCmd.Flags().IntVar(&pageSizeFlag, "page-size", 256, "Chip page program size in bytes")
	writeCmd.Flags().BoolVar(&verifyFlag, "verify", true, "Read each block back and verify")

	eraseCmd := &cobra.Command{
		Use:   "erase",
		Short: "Erase the whole chip",
		RunE:  runErase,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available serial ports",
		RunE:  runList,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("flashprog %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}

	for _, cmd := range []*cobra.Command{infoCmd, readCmd, writeCmd, eraseCmd} {
		cmd.Flags().StringVar(&urlFlag, "url", "ws://localhost:8765/ws", "Server WebSocket URL")
	}

	rootCmd.AddCommand(serveCmd, infoCmd, readCmd, writeCmd, eraseCmd, listCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func openBus() (spiflash.Bus, error) {
	switch busFlag {
	case "mem":
		fmt.Printf("Using emulated %d byte chip\n", sizeFlag)
		return bus.NewMemBus(sizeFlag), nil
	case "spi":
		return bus.OpenSPI(bus.SPIConfig{Device: spiFlag, CSPin: csFlag})
	case "bridge":
		if portFlag == "" {
			return nil, fmt.Errorf("--port is required with --bus bridge")
		}
		return bus.OpenBridge(portFlag, baudFlag)
	}
	return nil, fmt.Errorf("unknown bus %q (want mem, spi or bridge)", busFlag)
}

func runServe(cmd *cobra.Command, args []string) error {
	b, err := openBus()
	if err != nil {
		return fmt.Errorf("failed to open bus: %w", err)
	}
	defer b.Close()

	dev := spiflash.New(b)
	if id, err := dev.JEDECID(); err == nil {
		fmt.Printf("Chip: %s (JEDEC %s)\n", spiflash.ManufacturerName(id[0]), hex.EncodeToString(id[:]))
	}

	d := rpc.NewDispatcher()
	rpc.NewProgrammer(dev).Register(d)
	return server.New(d).ListenAndServe(addrFlag)
}

func dial() (*client.Client, error) {
	c, err := client.Dial(urlFlag)
	if err != nil {
		return nil, err
	}
	if err := c.Ping(); err != nil {
		c.Close()
		return nil, fmt.Errorf("server not answering: %w", err)
	}
	return c, nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()

	id, err := c.JEDECID()
	if err != nil {
		return err
	}
	busy, err := c.Busy()
	if err != nil {
		return err
	}
	readSize, err := c.ReadBlockSize()
	if err != nil {
		return err
	}
	writeSize, err := c.WriteBlockSize()
	if err != nil {
		return err
	}

	manufacturer := "unknown"
	if raw, err := hex.DecodeString(id); err == nil && len(raw) == 3 {
		manufacturer = spiflash.ManufacturerName(raw[0])
	}

	fmt.Printf("  JEDEC ID:     %s\n", color.GreenString(id))
	fmt.Printf("  Manufacturer: %s\n", color.GreenString(manufacturer))
	fmt.Printf("  Busy:         %s\n", color.YellowString("%v", busy))
	fmt.Printf("  Read block:   %d bytes\n", readSize)
	fmt.Printf("  Write block:  %d bytes\n", writeSize)
	return nil
}

func runRead(cmd *cobra.Command, args []string) error {
	outPath := args[0]

	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()

	bar := newBar(blocksFlag, "Reading")
	image, err := c.ReadImage(blocksFlag, func(current, total int) {
		bar.Set(current)
	})
	if err != nil {
		return err
	}
	bar.Finish()

	if err := os.WriteFile(outPath, image, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", outPath, err)
	}
	fmt.Printf("\nRead %d bytes to %s\n", len(image), outPath)
	return nil
}

func runWrite(cmd *cobra.Command, args []string) error {
	imagePath := args[0]

	image, err := os.ReadFile(imagePath)
	if err != nil {
		return fmt.Errorf("failed to read image file: %w", err)
	}
	fmt.Printf("Image: %s (%d bytes)\n", imagePath, len(image))

	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()

	writeSize, err := c.WriteBlockSize()
	if err != nil {
		return err
	}
	totalBlocks := (len(image) + writeSize - 1) / writeSize

	bar := newBar(totalBlocks, "Writing")
	err = c.WriteImage(image, pageSizeFlag, verifyFlag, func(current, total int) {
		bar.Set(current)
	})
	if err != nil {
		return err
	}
	bar.Finish()

	fmt.Println("\nWrite complete!")
	return nil
}

func runErase(cmd *cobra.Command, args []string) error {
	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()

	status, err := c.StartEraseChip()
	if err != nil {
		return err
	}
	fmt.Println(status)

	spinner := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("Erasing"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionClearOnFinish(),
	)
	for {
		done, err := c.EraseDone()
		if err != nil {
			return err
		}
		if done {
			break
		}
		spinner.Add(1)
		time.Sleep(500 * time.Millisecond)
	}
	spinner.Finish()

	fmt.Println(color.GreenString("Chip erased."))
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	ports, err := serial.ListPorts()
	if err != nil {
		return err
	}

	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}

	fmt.Println("Available serial ports:")
	for _, p := range ports {
		fmt.Printf("  %s\n", p)
	}
	return nil
}

func newBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(false),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(100),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}
