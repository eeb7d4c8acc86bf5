// Package serialport carries translated commands over the bike's USB
// serial link. It does not interpret command semantics; it frames and
// ships whatever the translator produced.
package serialport

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/lowaak/bike-bridge/internal/bike"
)

// Port is the serial transport the bridge core writes through.
// Implementations report success or failure per command and are safe for
// use from the bridge's single-writer command path.
type Port interface {
	Send(cmd bike.SerialCommand) error
	Close() error
}

// usbPort drives a real USB serial adapter at the bike's fixed settings
// (115200 8N1, CRLF-terminated ASCII commands).
type usbPort struct {
	mu     sync.Mutex
	port   serial.Port
	name   string
	logger *log.Logger
}

// Open opens the named port, or auto-detects the bike's adapter when
// name is empty.
func Open(logger *log.Logger, name string, baud int) (Port, error) {
	if logger == nil {
		panic("serialport: logger cannot be nil")
	}
	if baud <= 0 {
		baud = 115200
	}

	if name == "" {
		detected, err := AutoDetect()
		if err != nil {
			return nil, err
		}
		logger.Printf("SerialPort: auto-detected %s", detected)
		name = detected
	}

	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}

	logger.Printf("SerialPort: opened %s at %d baud", name, baud)
	return &usbPort{port: p, name: name, logger: logger}, nil
}

// AutoDetect scans the USB serial adapters for the bike's bridge chip
// (Silicon Labs CP210x, the "SLAB" adapter).
func AutoDetect() (string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return "", fmt.Errorf("failed to enumerate serial ports: %w", err)
	}
	for _, p := range ports {
		if !p.IsUSB {
			continue
		}
		product := strings.ToUpper(p.Product)
		if strings.Contains(product, "SLAB") || strings.Contains(product, "CP210") {
			return p.Name, nil
		}
	}
	return "", fmt.Errorf("no compatible serial port detected")
}

// Send writes one command followed by CRLF. A failed write is reported
// to the caller; the transport does not retry.
func (u *usbPort) Send(cmd bike.SerialCommand) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	frame := append(cmd.Bytes(), '\r', '\n')
	n, err := u.port.Write(frame)
	if err != nil {
		return fmt.Errorf("serial write to %s failed: %w", u.name, err)
	}
	if n != len(frame) {
		return fmt.Errorf("serial write to %s short: %d of %d bytes", u.name, n, len(frame))
	}
	return nil
}

func (u *usbPort) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.port.Close()
}
