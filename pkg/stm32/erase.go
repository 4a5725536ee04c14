package stm32

import (
	"context"
	"fmt"
	"time"

	"github.com/serialtools/stm32flash/pkg/log"
	"github.com/serialtools/stm32flash/pkg/stm32/proto"
	"go.uber.org/zap"
)

// extendedEraseTimeout replaces the read timeout while waiting for a mass
// erase to complete; erasing a large flash array can take tens of seconds.
const extendedEraseTimeout = 30 * time.Second

// EraseSpec selects between erasing the whole flash array and erasing an
// ordered list of sectors.
type EraseSpec struct {
	global  bool
	sectors []uint16
}

// GlobalErase requests a mass erase of the entire flash.
func GlobalErase() EraseSpec {
	return EraseSpec{global: true}
}

// SectorErase requests an erase of the given sector indices. Indices above
// 255 need the extended erase variant; Erase rejects them on devices that
// only speak the legacy one.
func SectorErase(sectors ...uint16) EraseSpec {
	return EraseSpec{sectors: sectors}
}

// Erase erases flash according to spec, using the erase variant negotiated
// at session start. The two wire encodings are never mixed within a session.
func (s *Session) Erase(ctx context.Context, spec EraseSpec) error {
	if !spec.global && len(spec.sectors) == 0 {
		return fmt.Errorf("sector erase needs at least one sector")
	}
	log.FromContext(ctx).Info("Erasing flash",
		zap.Bool("global", spec.global),
		zap.Int("sectors", len(spec.sectors)),
	)
	return s.eraser.erase(ctx, s, spec)
}

// eraser is one of the two mutually exclusive erase sub-protocols. The
// variant is fixed when the session is built from the Get answer.
type eraser interface {
	erase(ctx context.Context, s *Session, spec EraseSpec) error
}

// legacyEraser implements the original Erase command (0x43) with 8-bit
// sector indices.
type legacyEraser struct{}

func (legacyEraser) erase(ctx context.Context, s *Session, spec EraseSpec) error {
	if !spec.global {
		for _, sec := range spec.sectors {
			if sec > 0xFF {
				return fmt.Errorf("sector %d needs extended erase, device only supports legacy erase", sec)
			}
		}
		if len(spec.sectors) > 256 {
			return fmt.Errorf("legacy erase supports at most 256 sectors, got %d", len(spec.sectors))
		}
	}

	if err := s.command(proto.CmdErase); err != nil {
		return err
	}

	var payload []byte
	if spec.global {
		payload = []byte{0xFF, 0x00}
	} else {
		count := byte(len(spec.sectors) - 1)
		payload = []byte{count}
		for _, sec := range spec.sectors {
			payload = append(payload, byte(sec))
		}
		payload = append(payload, proto.Checksum(count, payload[1:]...))
	}
	if _, err := s.conn.port.Write(payload); err != nil {
		return &CommandError{Op: proto.CmdErase, Err: err}
	}
	if err := s.conn.waitAck(); err != nil {
		return fmt.Errorf("%w: %v", ErrEraseFailed, err)
	}
	return nil
}

// extendedEraser implements the Extended Erase command (0x44) with 16-bit
// counts and sector indices, required on devices with more than 256 sectors.
type extendedEraser struct{}

func (extendedEraser) erase(ctx context.Context, s *Session, spec EraseSpec) error {
	if !spec.global && len(spec.sectors) > 0x10000 {
		return fmt.Errorf("extended erase supports at most 65536 sectors, got %d", len(spec.sectors))
	}

	if err := s.command(proto.CmdExtendedErase); err != nil {
		return err
	}

	if spec.global {
		// Mass erase: 0xFFFF plus its (zero) checksum. The ACK arrives only
		// once the erase finishes, so the read timeout is raised for the
		// wait and restored whatever the outcome.
		if _, err := s.conn.port.Write([]byte{0xFF, 0xFF, 0x00}); err != nil {
			return &CommandError{Op: proto.CmdExtendedErase, Err: err}
		}
		if err := s.conn.port.SetReadTimeout(extendedEraseTimeout); err != nil {
			return &CommandError{Op: proto.CmdExtendedErase, Err: err}
		}
		ackErr := s.conn.waitAck()
		if err := s.conn.port.SetReadTimeout(DefaultReadTimeout); err != nil {
			log.FromContext(ctx).Warn("Failed to restore read timeout", zap.Error(err))
		}
		if ackErr != nil {
			return fmt.Errorf("%w: %v", ErrEraseFailed, ackErr)
		}
		return nil
	}

	count := proto.EncodeCount16(uint16(len(spec.sectors) - 1))
	payload := []byte{count[0], count[1]}
	for _, sec := range spec.sectors {
		id := proto.EncodeCount16(sec)
		payload = append(payload, id[0], id[1])
	}
	payload = append(payload, proto.Checksum(0x00, payload...))
	if _, err := s.conn.port.Write(payload); err != nil {
		return &CommandError{Op: proto.CmdExtendedErase, Err: err}
	}
	if err := s.conn.waitAck(); err != nil {
		return fmt.Errorf("%w: %v", ErrEraseFailed, err)
	}
	return nil
}
