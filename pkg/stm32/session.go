package stm32

import (
	"context"
	"fmt"

	"github.com/serialtools/stm32flash/pkg/log"
	"github.com/serialtools/stm32flash/pkg/stm32/proto"
	"go.uber.org/zap"
)

// Session is one negotiated bootloader exchange on a synchronized
// connection. It carries the protocol version and the erase variant chosen
// once from the advertised command set; the variant never changes for the
// session's lifetime.
type Session struct {
	conn     *Conn
	Version  byte
	commands map[proto.Opcode]struct{}

	eraser eraser

	// done is set once the device has jumped to application code; every
	// further command needs a fresh synchronization.
	done bool
}

// Get issues the Get command on a synchronized connection and builds a
// Session from the device's answer: a length byte, the protocol version and
// one byte per supported opcode, closed by a trailing ACK. If the device
// advertises ExtendedErase (0x44) the session uses the extended erase
// encoding exclusively, otherwise the legacy one.
func (c *Conn) Get(ctx context.Context) (*Session, error) {
	if err := c.command(proto.CmdGet); err != nil {
		return nil, err
	}

	var header [2]byte // length, version
	if err := c.readFull(header[:]); err != nil {
		return nil, &CommandError{Op: proto.CmdGet, Err: err}
	}
	supported := make([]byte, header[0])
	if err := c.readFull(supported); err != nil {
		return nil, &CommandError{Op: proto.CmdGet, Err: err}
	}
	if err := c.waitAck(); err != nil {
		return nil, &CommandError{Op: proto.CmdGet, Err: err}
	}

	s := &Session{
		conn:     c,
		Version:  header[1],
		commands: make(map[proto.Opcode]struct{}, len(supported)),
	}
	for _, op := range supported {
		s.commands[proto.Opcode(op)] = struct{}{}
	}
	if s.Supports(proto.CmdExtendedErase) {
		s.eraser = extendedEraser{}
	} else {
		s.eraser = legacyEraser{}
	}

	log.FromContext(ctx).Info("Bootloader capabilities",
		zap.String("version", versionString(s.Version)),
		zap.Int("commands", len(supported)),
		zap.Bool("extendedErase", s.Supports(proto.CmdExtendedErase)),
	)
	return s, nil
}

// Supports reports whether the device advertised the opcode in its Get
// answer.
func (s *Session) Supports(op proto.Opcode) bool {
	_, ok := s.commands[op]
	return ok
}

func versionString(v byte) string {
	return fmt.Sprintf("%d.%d", v>>4, v&0x0F)
}

// command sends the opcode/complement pair and waits for the ACK that must
// precede any payload exchange.
func (c *Conn) command(op proto.Opcode) error {
	if err := proto.WriteCommand(c.port, op); err != nil {
		return &CommandError{Op: op, Err: err}
	}
	if err := c.waitAck(); err != nil {
		return &CommandError{Op: op, Err: err}
	}
	return nil
}

func (s *Session) command(op proto.Opcode) error {
	if s.done {
		return ErrSessionDone
	}
	return s.conn.command(op)
}
