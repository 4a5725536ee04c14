package stm32

import (
	"context"
	"fmt"

	"github.com/serialtools/stm32flash/pkg/log"
	"github.com/serialtools/stm32flash/pkg/stm32/proto"
	"go.uber.org/zap"
)

// ChunkSize is the largest transfer one read/write frame can carry. The wire
// length field encodes N-1 in a single byte.
const ChunkSize = 256

// ReadMemory reads length bytes starting at addr, splitting the request into
// ceil(length/256) protocol frames and concatenating the results in address
// order. Any frame failure aborts the whole read.
func (s *Session) ReadMemory(ctx context.Context, addr uint32, length int) ([]byte, error) {
	if length <= 0 {
		return nil, fmt.Errorf("read length must be positive, got %d", length)
	}

	data := make([]byte, 0, length)
	for length > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n := length
		if n > ChunkSize {
			n = ChunkSize
		}
		log.FromContext(ctx).Debug("Reading chunk", zap.Uint32("addr", addr), zap.Int("len", n))
		chunk, err := s.readChunk(addr, n)
		if err != nil {
			return nil, err
		}
		data = append(data, chunk...)
		addr += uint32(n)
		length -= n
	}
	return data, nil
}

// WriteMemory writes data starting at addr in 256-byte frames. The final
// frame is always padded to 256 bytes with 0xFF, the erased-flash value, so
// a write whose length is not a multiple of 256 programs the trailing bytes
// of the last chunk to 0xFF rather than leaving them untouched.
func (s *Session) WriteMemory(ctx context.Context, addr uint32, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("write data must not be empty")
	}

	for len(data) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk := data
		if len(chunk) > ChunkSize {
			chunk = chunk[:ChunkSize]
		} else if len(chunk) < ChunkSize {
			padded := make([]byte, ChunkSize)
			copy(padded, chunk)
			for i := len(chunk); i < ChunkSize; i++ {
				padded[i] = 0xFF
			}
			chunk = padded
		}
		log.FromContext(ctx).Debug("Writing chunk", zap.Uint32("addr", addr), zap.Int("len", len(chunk)))
		if err := s.writeChunk(addr, chunk); err != nil {
			return err
		}
		if len(data) <= ChunkSize {
			break
		}
		data = data[ChunkSize:]
		addr += ChunkSize
	}
	return nil
}

// readChunk performs one ReadMemory frame: opcode, address block (ACK),
// length-1 with its complement (ACK), then n raw bytes with no further
// framing.
func (s *Session) readChunk(addr uint32, n int) ([]byte, error) {
	if err := s.command(proto.CmdReadMemory); err != nil {
		return nil, err
	}
	block := proto.EncodeAddress(addr)
	if _, err := s.conn.port.Write(block[:]); err != nil {
		return nil, &CommandError{Op: proto.CmdReadMemory, Err: err}
	}
	if err := s.conn.waitAck(); err != nil {
		return nil, &CommandError{Op: proto.CmdReadMemory, Err: err}
	}

	count := byte(n - 1)
	if _, err := s.conn.port.Write([]byte{count, count ^ 0xFF}); err != nil {
		return nil, &CommandError{Op: proto.CmdReadMemory, Err: err}
	}
	if err := s.conn.waitAck(); err != nil {
		return nil, &CommandError{Op: proto.CmdReadMemory, Err: err}
	}

	buf := make([]byte, n)
	if err := s.conn.readFull(buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReadFailed, err)
	}
	return buf, nil
}

// writeChunk performs one WriteMemory frame: opcode, address block (ACK),
// then length-1, payload, XOR checksum over the length byte and payload, and
// the programming ACK.
func (s *Session) writeChunk(addr uint32, data []byte) error {
	if err := s.command(proto.CmdWriteMemory); err != nil {
		return err
	}
	block := proto.EncodeAddress(addr)
	if _, err := s.conn.port.Write(block[:]); err != nil {
		return &CommandError{Op: proto.CmdWriteMemory, Err: err}
	}
	if err := s.conn.waitAck(); err != nil {
		return &CommandError{Op: proto.CmdWriteMemory, Err: err}
	}

	count := byte(len(data) - 1)
	payload := append([]byte{count}, data...)
	payload = append(payload, proto.Checksum(count, data...))
	if _, err := s.conn.port.Write(payload); err != nil {
		return &CommandError{Op: proto.CmdWriteMemory, Err: err}
	}
	if err := s.conn.waitAck(); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return nil
}
