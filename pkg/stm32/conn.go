package stm32

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/serialtools/stm32flash/pkg/log"
	"github.com/serialtools/stm32flash/pkg/stm32/proto"
	"github.com/serialtools/stm32flash/pkg/util"
	"go.uber.org/zap"
)

// ControlLine names one of the two modem-control output lines.
type ControlLine string

const (
	LineRTS ControlLine = "RTS"
	LineDTR ControlLine = "DTR"
)

// LineConfig maps the bootloader's two logical inputs (boot0, reset) onto
// the serial port's physical output lines. The driven level of each line is
// the logical level XOR-ed with its inversion flag, which absorbs inverting
// level shifters between the adapter and the chip.
type LineConfig struct {
	Boot0       ControlLine `mapstructure:"boot0"`
	Reset       ControlLine `mapstructure:"reset"`
	InvertBoot0 bool        `mapstructure:"invert_boot0"`
	InvertReset bool        `mapstructure:"invert_reset"`
}

// DefaultLineConfig matches the common FTDI wiring: RTS to BOOT0, DTR to NRST.
func DefaultLineConfig() LineConfig {
	return LineConfig{Boot0: LineRTS, Reset: LineDTR}
}

func (lc LineConfig) Validate() error {
	if lc.Boot0 != LineRTS && lc.Boot0 != LineDTR {
		return &ConfigError{Reason: fmt.Sprintf("boot0 must be RTS or DTR, got %q", lc.Boot0)}
	}
	if lc.Reset != LineRTS && lc.Reset != LineDTR {
		return &ConfigError{Reason: fmt.Sprintf("reset must be RTS or DTR, got %q", lc.Reset)}
	}
	if lc.Boot0 == lc.Reset {
		return &ConfigError{Reason: "boot0 and reset cannot share a line"}
	}
	return nil
}

// Conn owns a serial port and its control lines for the duration of one
// bootloader session.
type Conn struct {
	port  Port
	lines LineConfig
	clock util.Clock
}

// NewConn wraps an already-open port. The line config must be valid.
func NewConn(port Port, lines LineConfig) (*Conn, error) {
	if err := lines.Validate(); err != nil {
		return nil, err
	}
	return newConn(port, lines), nil
}

func newConn(port Port, lines LineConfig) *Conn {
	return &Conn{port: port, lines: lines, clock: util.RealClock{}}
}

func (c *Conn) Close() error {
	return c.port.Close()
}

func (c *Conn) setLine(line ControlLine, level bool) error {
	if line == LineRTS {
		return c.port.SetRTS(level)
	}
	return c.port.SetDTR(level)
}

func (c *Conn) setBoot0(level bool) error {
	return c.setLine(c.lines.Boot0, level != c.lines.InvertBoot0)
}

func (c *Conn) setReset(level bool) error {
	return c.setLine(c.lines.Reset, level != c.lines.InvertReset)
}

// resetInto holds reset low for 100ms, drives BOOT0 to the requested boot
// selection while reset is still asserted (the chip samples BOOT0 on the
// rising edge), releases reset and leaves 500ms for startup.
func (c *Conn) resetInto(ctx context.Context, boot0 bool) error {
	if err := c.setReset(false); err != nil {
		return err
	}
	if err := util.Sleep(ctx, c.clock, 100*time.Millisecond); err != nil {
		return err
	}
	if err := c.setBoot0(boot0); err != nil {
		return err
	}
	if err := c.setReset(true); err != nil {
		return err
	}
	return util.Sleep(ctx, c.clock, 500*time.Millisecond)
}

// EnterBootloader resets the chip with BOOT0 selecting the system bootloader,
// then sends the synchronization byte. There is no retry: a failed
// synchronization requires a fresh reset sequence.
func (c *Conn) EnterBootloader(ctx context.Context) error {
	log.FromContext(ctx).Debug("Entering bootloader",
		zap.String("boot0", string(c.lines.Boot0)),
		zap.String("reset", string(c.lines.Reset)),
	)

	if err := c.resetInto(ctx, false); err != nil {
		return err
	}

	if _, err := c.port.Write([]byte{proto.Sync}); err != nil {
		return fmt.Errorf("%w: %v", ErrSync, err)
	}
	if err := c.waitAck(); err != nil {
		return fmt.Errorf("%w: %v", ErrSync, err)
	}

	log.FromContext(ctx).Debug("Bootloader synchronized")
	return nil
}

// ReleaseChip drives BOOT0 to the application side and pulses reset so the
// chip boots the flashed firmware. Callers run it on every exit path of a
// session, typically deferred right after the connection is opened.
func (c *Conn) ReleaseChip(ctx context.Context) error {
	log.FromContext(ctx).Debug("Releasing chip")
	return c.resetInto(ctx, true)
}

// portReader adapts the port's timeout semantics to io.Reader: go.bug.st
// reports an expired read timeout as a zero-byte read with a nil error.
type portReader struct {
	port Port
}

func (r portReader) Read(p []byte) (int, error) {
	n, err := r.port.Read(p)
	if n == 0 && err == nil {
		return 0, ErrTimeout
	}
	return n, err
}

func (c *Conn) waitAck() error {
	return proto.ReadAck(portReader{c.port})
}

func (c *Conn) readFull(buf []byte) error {
	_, err := io.ReadFull(portReader{c.port}, buf)
	return err
}
