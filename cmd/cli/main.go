package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/modbuscore/gomodbus"
)

func main() {
	app := &cli.App{
		Name:  "modbus-cli",
		Usage: "Command-line tool for Modbus communication",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "protocol",
				Aliases:  []string{"p"},
				Usage:    "Protocol type: tcp or rtu",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "address",
				Aliases:  []string{"a"},
				Usage:    "Connection address (TCP: host:port, RTU: /dev/ttyUSB0)",
				Required: true,
			},
			&cli.IntFlag{
				Name:    "slave-id",
				Aliases: []string{"s"},
				Usage:   "Modbus slave/unit ID",
				Value:   1,
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Usage:   "Timeout duration",
				Value:   5 * time.Second,
			},
			// Serial-specific options
			&cli.IntFlag{
				Name:  "baud",
				Usage: "Baud rate (RTU only)",
				Value: 115200,
			},
			&cli.IntFlag{
				Name:  "data-bits",
				Usage: "Data bits (RTU only)",
				Value: 8,
			},
			&cli.IntFlag{
				Name:  "stop-bits",
				Usage: "Stop bits (RTU only)",
				Value: 1,
			},
			&cli.StringFlag{
				Name:  "parity",
				Usage: "Parity: none, odd, even (RTU only)",
				Value: "none",
			},
			&cli.IntFlag{
				Name:  "error-policy",
				Usage: "TCP error handling: 0 = nop-on-error, 1 = reconnect-on-error",
				Value: 0,
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "read-coils",
				Usage: "Read coils (function code 1)",
				Flags: []cli.Flag{
					&cli.UintFlag{
						Name:     "start",
						Usage:    "Starting address",
						Required: true,
					},
					&cli.UintFlag{
						Name:     "count",
						Usage:    "Number of coils to read (1-2000)",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "format",
						Usage: "Output format: binary, decimal",
						Value: "binary",
					},
				},
				Action: readCoilsAction,
			},
			{
				Name:  "read-discrete-inputs",
				Usage: "Read discrete inputs (function code 2)",
				Flags: []cli.Flag{
					&cli.UintFlag{
						Name:     "start",
						Usage:    "Starting address",
						Required: true,
					},
					&cli.UintFlag{
						Name:     "count",
						Usage:    "Number of discrete inputs to read (1-2000)",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "format",
						Usage: "Output format: binary, decimal",
						Value: "binary",
					},
				},
				Action: readDiscreteInputsAction,
			},
			{
				Name:  "read-holding-registers",
				Usage: "Read holding registers (function code 3)",
				Flags: []cli.Flag{
					&cli.UintFlag{
						Name:     "start",
						Usage:    "Starting address",
						Required: true,
					},
					&cli.UintFlag{
						Name:     "count",
						Usage:    "Number of registers to read (1-125)",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "format",
						Usage: "Output format: hex, decimal",
						Value: "hex",
					},
				},
				Action: readHoldingRegistersAction,
			},
			{
				Name:  "read-input-registers",
				Usage: "Read input registers (function code 4)",
				Flags: []cli.Flag{
					&cli.UintFlag{
						Name:     "start",
						Usage:    "Starting address",
						Required: true,
					},
					&cli.UintFlag{
						Name:     "count",
						Usage:    "Number of registers to read (1-125)",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "format",
						Usage: "Output format: hex, decimal",
						Value: "hex",
					},
				},
				Action: readInputRegistersAction,
			},
			{
				Name:   "read-exception-status",
				Usage:  "Read exception status (function code 7, RTU only)",
				Action: readExceptionStatusAction,
			},
			{
				Name:   "report-slave-id",
				Usage:  "Report slave ID (function code 17)",
				Action: reportSlaveIDAction,
			},
			{
				Name:  "write-single-coil",
				Usage: "Write a single coil (function code 5)",
				Flags: []cli.Flag{
					&cli.UintFlag{
						Name:     "address",
						Usage:    "Coil address",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  "on",
						Usage: "Set the coil ON (default OFF)",
					},
				},
				Action: writeSingleCoilAction,
			},
			{
				Name:  "write-single-register",
				Usage: "Write a single holding register (function code 6)",
				Flags: []cli.Flag{
					&cli.UintFlag{
						Name:     "address",
						Usage:    "Register address",
						Required: true,
					},
					&cli.UintFlag{
						Name:     "value",
						Usage:    "Register value (0-65535)",
						Required: true,
					},
				},
				Action: writeSingleRegisterAction,
			},
			{
				Name:  "write-multiple-coils",
				Usage: "Write multiple coils (function code 15)",
				Flags: []cli.Flag{
					&cli.UintFlag{
						Name:     "start",
						Usage:    "Starting address",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "values",
						Usage:    "Comma-separated coil values (0 or 1), e.g. 1,0,1,1",
						Required: true,
					},
				},
				Action: writeMultipleCoilsAction,
			},
			{
				Name:  "write-multiple-registers",
				Usage: "Write multiple holding registers (function code 16)",
				Flags: []cli.Flag{
					&cli.UintFlag{
						Name:     "start",
						Usage:    "Starting address",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "values",
						Usage:    "Comma-separated register values (0-65535), e.g. 100,200,300",
						Required: true,
					},
				},
				Action: writeMultipleRegistersAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// createClient creates a Modbus client based on the global flags
func createClient(c *cli.Context) (modbus.Client, error) {
	protocol := c.String("protocol")
	address := c.String("address")
	slaveID := byte(c.Int("slave-id"))
	timeout := c.Duration("timeout")

	switch protocol {
	case "tcp":
		handler := modbus.NewTCPClientHandler(address)
		handler.Timeout = timeout
		handler.SlaveID = slaveID
		if c.Int("error-policy") == 1 {
			handler.ErrorPolicy = modbus.ReconnectOnError
		}
		return modbus.NewClient(handler), nil

	case "rtu":
		handler := modbus.NewRTUClientHandler(address)
		handler.BaudRate = c.Int("baud")
		handler.DataBits = c.Int("data-bits")
		handler.StopBits = parseStopBits(c.Int("stop-bits"))
		handler.Parity = parseParity(c.String("parity"))
		handler.Timeout = timeout
		handler.SlaveID = slaveID
		return modbus.NewClient(handler), nil

	default:
		return nil, fmt.Errorf("unsupported protocol: %s (must be tcp or rtu)", protocol)
	}
}

func parseStopBits(bits int) modbus.StopBits {
	switch bits {
	case 1:
		return modbus.OneStopBit
	case 2:
		return modbus.TwoStopBits
	default:
		return modbus.OneStopBit
	}
}

func parseParity(parity string) modbus.Parity {
	switch parity {
	case "none":
		return modbus.NoParity
	case "odd":
		return modbus.OddParity
	case "even":
		return modbus.EvenParity
	default:
		return modbus.EvenParity
	}
}

// createContextWithSignalHandler creates a context that is cancelled on SIGINT/SIGTERM
func createContextWithSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	// Set up signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Println("Received interrupt signal, cancelling operation...")
		cancel()
	}()

	return ctx, cancel
}

// readCoilsAction handles the read-coils command
func readCoilsAction(c *cli.Context) error {
	client, err := createClient(c)
	if err != nil {
		return err
	}

	ctx, cancel := createContextWithSignalHandler()
	defer cancel()

	start := uint16(c.Uint("start"))
	count := uint16(c.Uint("count"))
	format := c.String("format")

	if count < 1 || count > 2000 {
		return fmt.Errorf("count must be between 1 and 2000")
	}

	results, err := client.ReadCoils(ctx, start, count)
	if err != nil {
		return fmt.Errorf("failed to read coils: %w", err)
	}

	printBitResults(start, count, results, format)
	return nil
}

// readDiscreteInputsAction handles the read-discrete-inputs command
func readDiscreteInputsAction(c *cli.Context) error {
	client, err := createClient(c)
	if err != nil {
		return err
	}

	ctx, cancel := createContextWithSignalHandler()
	defer cancel()

	start := uint16(c.Uint("start"))
	count := uint16(c.Uint("count"))
	format := c.String("format")

	if count < 1 || count > 2000 {
		return fmt.Errorf("count must be between 1 and 2000")
	}

	results, err := client.ReadDiscreteInputs(ctx, start, count)
	if err != nil {
		return fmt.Errorf("failed to read discrete inputs: %w", err)
	}

	printBitResults(start, count, results, format)
	return nil
}

// readHoldingRegistersAction handles the read-holding-registers command
func readHoldingRegistersAction(c *cli.Context) error {
	client, err := createClient(c)
	if err != nil {
		return err
	}

	ctx, cancel := createContextWithSignalHandler()
	defer cancel()

	start := uint16(c.Uint("start"))
	count := uint16(c.Uint("count"))
	format := c.String("format")

	if count < 1 || count > 125 {
		return fmt.Errorf("count must be between 1 and 125")
	}

	results, err := client.ReadHoldingRegisters(ctx, start, count)
	if err != nil {
		return fmt.Errorf("failed to read holding registers: %w", err)
	}

	printRegisterResults(start, count, results, format)
	return nil
}

// readInputRegistersAction handles the read-input-registers command
func readInputRegistersAction(c *cli.Context) error {
	client, err := createClient(c)
	if err != nil {
		return err
	}

	ctx, cancel := createContextWithSignalHandler()
	defer cancel()

	start := uint16(c.Uint("start"))
	count := uint16(c.Uint("count"))
	format := c.String("format")

	if count < 1 || count > 125 {
		return fmt.Errorf("count must be between 1 and 125")
	}

	results, err := client.ReadInputRegisters(ctx, start, count)
	if err != nil {
		return fmt.Errorf("failed to read input registers: %w", err)
	}

	printRegisterResults(start, count, results, format)
	return nil
}

// readExceptionStatusAction handles the read-exception-status command
func readExceptionStatusAction(c *cli.Context) error {
	client, err := createClient(c)
	if err != nil {
		return err
	}

	ctx, cancel := createContextWithSignalHandler()
	defer cancel()

	status, err := client.ReadExceptionStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to read exception status: %w", err)
	}

	fmt.Printf("Exception status: 0x%02X\n", status)
	return nil
}

// reportSlaveIDAction handles the report-slave-id command
func reportSlaveIDAction(c *cli.Context) error {
	client, err := createClient(c)
	if err != nil {
		return err
	}

	ctx, cancel := createContextWithSignalHandler()
	defer cancel()

	results, err := client.ReportSlaveID(ctx)
	if err != nil {
		return fmt.Errorf("failed to report slave id: %w", err)
	}
	if len(results) < 1 {
		return fmt.Errorf("invalid report slave id response: too short")
	}

	fmt.Printf("Run indicator: 0x%02X\n", results[0])
	fmt.Printf("Slave ID: % x\n", results[1:])
	return nil
}

// writeSingleCoilAction handles the write-single-coil command
func writeSingleCoilAction(c *cli.Context) error {
	client, err := createClient(c)
	if err != nil {
		return err
	}

	ctx, cancel := createContextWithSignalHandler()
	defer cancel()

	address := uint16(c.Uint("address"))
	value := uint16(0x0000)
	if c.Bool("on") {
		value = 0xFF00
	}

	if _, err := client.WriteSingleCoil(ctx, address, value); err != nil {
		return fmt.Errorf("failed to write single coil: %w", err)
	}

	fmt.Printf("0x%04X: wrote %v\n", address, c.Bool("on"))
	return nil
}

// writeSingleRegisterAction handles the write-single-register command
func writeSingleRegisterAction(c *cli.Context) error {
	client, err := createClient(c)
	if err != nil {
		return err
	}

	ctx, cancel := createContextWithSignalHandler()
	defer cancel()

	address := uint16(c.Uint("address"))
	value := uint16(c.Uint("value"))

	if _, err := client.WriteSingleRegister(ctx, address, value); err != nil {
		return fmt.Errorf("failed to write single register: %w", err)
	}

	fmt.Printf("0x%04X: wrote 0x%04X\n", address, value)
	return nil
}

// writeMultipleCoilsAction handles the write-multiple-coils command
func writeMultipleCoilsAction(c *cli.Context) error {
	client, err := createClient(c)
	if err != nil {
		return err
	}

	ctx, cancel := createContextWithSignalHandler()
	defer cancel()

	address := uint16(c.Uint("start"))
	coils, err := parseCoilValues(c.String("values"))
	if err != nil {
		return err
	}
	quantity := uint16(len(coils))

	if _, err := client.WriteMultipleCoils(ctx, address, quantity, coilsToBytes(coils)); err != nil {
		return fmt.Errorf("failed to write multiple coils: %w", err)
	}

	fmt.Printf("0x%04X: wrote %d coils\n", address, quantity)
	return nil
}

// writeMultipleRegistersAction handles the write-multiple-registers command
func writeMultipleRegistersAction(c *cli.Context) error {
	client, err := createClient(c)
	if err != nil {
		return err
	}

	ctx, cancel := createContextWithSignalHandler()
	defer cancel()

	address := uint16(c.Uint("start"))
	values, err := parseRegisterValues(c.String("values"))
	if err != nil {
		return err
	}
	quantity := uint16(len(values))

	data := make([]byte, len(values)*2)
	for i, v := range values {
		binary.BigEndian.PutUint16(data[i*2:], v)
	}

	if _, err := client.WriteMultipleRegisters(ctx, address, quantity, data); err != nil {
		return fmt.Errorf("failed to write multiple registers: %w", err)
	}

	fmt.Printf("0x%04X: wrote %d registers\n", address, quantity)
	return nil
}

// parseCoilValues parses a comma-separated list of 0/1 coil values.
func parseCoilValues(s string) ([]bool, error) {
	parts := strings.Split(s, ",")
	coils := make([]bool, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || (v != 0 && v != 1) {
			return nil, fmt.Errorf("invalid coil value %q: must be 0 or 1", p)
		}
		coils[i] = v == 1
	}
	return coils, nil
}

// parseRegisterValues parses a comma-separated list of register values.
func parseRegisterValues(s string) ([]uint16, error) {
	parts := strings.Split(s, ",")
	values := make([]uint16, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid register value %q: %w", p, err)
		}
		values[i] = uint16(v)
	}
	return values, nil
}

// coilsToBytes packs bools into Modbus write-request byte format, LSB first.
func coilsToBytes(coils []bool) []byte {
	byteCount := (len(coils) + 7) / 8
	data := make([]byte, byteCount)
	for i, v := range coils {
		if v {
			data[i/8] |= 1 << uint(i%8)
		}
	}
	return data
}

// printBitResults prints bit values (coils/discrete inputs)
func printBitResults(start, count uint16, data []byte, format string) {
	for i := uint16(0); i < count; i++ {
		byteIndex := i / 8
		bitIndex := i % 8

		if int(byteIndex) >= len(data) {
			break
		}

		bitValue := (data[byteIndex] >> bitIndex) & 0x01

		switch format {
		case "decimal":
			fmt.Printf("0x%04X: %d\n", start+i, bitValue)
		default: // binary
			fmt.Printf("0x%04X: %d\n", start+i, bitValue)
		}
	}
}

// printRegisterResults prints register values
func printRegisterResults(start, count uint16, data []byte, format string) {
	for i := uint16(0); i < count; i++ {
		offset := i * 2
		if int(offset+1) >= len(data) {
			break
		}

		value := binary.BigEndian.Uint16(data[offset : offset+2])

		switch format {
		case "decimal":
			fmt.Printf("0x%04X: %d\n", start+i, value)
		default: // hex
			fmt.Printf("0x%04X: 0x%04X\n", start+i, value)
		}
	}
}
