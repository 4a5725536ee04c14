// Package stm32 drives the STM32 built-in USART bootloader (AN2606/AN3155):
// it enters bootloader mode over the serial port's modem-control lines,
// negotiates the supported command set and performs chunked flash read,
// write, erase and protection operations.
package stm32

import (
	"io"
	"time"

	"go.bug.st/serial"
)

// DefaultReadTimeout is the serial read timeout applied on open. Erase
// temporarily raises it for long-running mass erases.
const DefaultReadTimeout = 5 * time.Second

// Port is the transport the protocol engine drives: a byte-oriented serial
// link with a mutable read timeout and the two modem-control output lines
// used as boot0/reset. go.bug.st/serial's Port satisfies it.
type Port interface {
	io.ReadWriter
	SetDTR(level bool) error
	SetRTS(level bool) error
	SetReadTimeout(t time.Duration) error
	Close() error
}

// Open opens the named serial port with the bootloader's framing (8 data
// bits, even parity, 1 stop bit, no flow control) and wraps it in a Conn.
func Open(portName string, baudrate int, lines LineConfig) (*Conn, error) {
	if err := lines.Validate(); err != nil {
		return nil, err
	}

	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: baudrate,
		DataBits: 8,
		Parity:   serial.EvenParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(DefaultReadTimeout); err != nil {
		port.Close()
		return nil, err
	}

	return newConn(port, lines), nil
}
