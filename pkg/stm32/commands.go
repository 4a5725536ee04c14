package stm32

import (
	"context"
	"fmt"

	"github.com/serialtools/stm32flash/pkg/log"
	"github.com/serialtools/stm32flash/pkg/stm32/proto"
	"go.uber.org/zap"
)

// GetVersion reads the bootloader version and the two option bytes. The
// option bytes are read-protection counters with no protocol meaning here.
func (s *Session) GetVersion(ctx context.Context) (byte, error) {
	if err := s.command(proto.CmdGetVersion); err != nil {
		return 0, err
	}
	var buf [3]byte // version, option1, option2
	if err := s.conn.readFull(buf[:]); err != nil {
		return 0, &CommandError{Op: proto.CmdGetVersion, Err: err}
	}
	if err := s.conn.waitAck(); err != nil {
		return 0, &CommandError{Op: proto.CmdGetVersion, Err: err}
	}
	return buf[0], nil
}

// GetID reads the 16-bit product ID. Purely informational; no protocol
// decision depends on it.
func (s *Session) GetID(ctx context.Context) (uint16, error) {
	if err := s.command(proto.CmdGetID); err != nil {
		return 0, err
	}
	var n [1]byte
	if err := s.conn.readFull(n[:]); err != nil {
		return 0, &CommandError{Op: proto.CmdGetID, Err: err}
	}
	id := make([]byte, int(n[0])+1)
	if err := s.conn.readFull(id); err != nil {
		return 0, &CommandError{Op: proto.CmdGetID, Err: err}
	}
	if err := s.conn.waitAck(); err != nil {
		return 0, &CommandError{Op: proto.CmdGetID, Err: err}
	}

	var pid uint16
	for _, b := range id {
		pid = pid<<8 | uint16(b)
	}
	return pid, nil
}

// Go starts execution at addr. A successful ACK means the device has jumped;
// the session is over and no further command is valid without a fresh
// synchronization.
func (s *Session) Go(ctx context.Context, addr uint32) error {
	if err := s.command(proto.CmdGo); err != nil {
		return err
	}
	block := proto.EncodeAddress(addr)
	if _, err := s.conn.port.Write(block[:]); err != nil {
		return &CommandError{Op: proto.CmdGo, Err: err}
	}
	if err := s.conn.waitAck(); err != nil {
		return &CommandError{Op: proto.CmdGo, Err: err}
	}
	s.done = true
	log.FromContext(ctx).Info("Device jumped to application", zap.Uint32("addr", addr))
	return nil
}

// WriteProtect enables write protection for the given sectors.
func (s *Session) WriteProtect(ctx context.Context, sectors []uint8) error {
	if len(sectors) == 0 || len(sectors) > 256 {
		return fmt.Errorf("write protect needs 1..256 sectors, got %d", len(sectors))
	}
	if err := s.command(proto.CmdWriteProtect); err != nil {
		return err
	}
	count := byte(len(sectors) - 1)
	payload := append([]byte{count}, sectors...)
	payload = append(payload, proto.Checksum(count, sectors...))
	if _, err := s.conn.port.Write(payload); err != nil {
		return &CommandError{Op: proto.CmdWriteProtect, Err: err}
	}
	if err := s.conn.waitAck(); err != nil {
		return &CommandError{Op: proto.CmdWriteProtect, Err: err}
	}
	return nil
}

// WriteUnprotect disables write protection for all flash sectors.
func (s *Session) WriteUnprotect(ctx context.Context) error {
	return s.doubleAckCommand(ctx, proto.CmdWriteUnprotect)
}

// ReadoutProtect enables flash readout protection.
func (s *Session) ReadoutProtect(ctx context.Context) error {
	return s.doubleAckCommand(ctx, proto.CmdReadoutProtect)
}

// ReadoutUnprotect disables flash readout protection, which also mass-erases
// the flash on most parts.
func (s *Session) ReadoutUnprotect(ctx context.Context) error {
	return s.doubleAckCommand(ctx, proto.CmdReadoutUnprotect)
}

// doubleAckCommand runs the payload-less protection commands. The second ACK
// confirms the protection-state commit; the device resets itself right
// after, so the caller must re-synchronize before issuing more commands.
func (s *Session) doubleAckCommand(ctx context.Context, op proto.Opcode) error {
	if err := s.command(op); err != nil {
		return err
	}
	if err := s.conn.waitAck(); err != nil {
		return &CommandError{Op: op, Err: err}
	}
	log.FromContext(ctx).Debug("Protection state committed", zap.Stringer("op", op))
	return nil
}
