package proto

import (
	"errors"
	"fmt"
	"io"
)

// Wire-level encoding for the STM32 built-in USART bootloader (AN3155).
// Every command starts with an opcode byte followed by its complement; the
// device answers each frame with a single ACK or NACK byte. Multi-byte
// payloads carry an XOR checksum over their bytes.

var (
	ErrNack = errors.New("device answered NACK")
)

// UnexpectedByteError is returned when the device answers a handshake with
// something that is neither ACK nor NACK.
type UnexpectedByteError struct {
	Byte byte
}

func (e *UnexpectedByteError) Error() string {
	return fmt.Sprintf("unexpected handshake byte 0x%02X", e.Byte)
}

const (
	ACK  = 0x79
	NACK = 0x1F
	Sync = 0x7F // written once to let the bootloader detect the baudrate
)

// Opcode identifies a bootloader command.
type Opcode uint8

const (
	CmdGet              Opcode = 0x00
	CmdGetVersion       Opcode = 0x01
	CmdGetID            Opcode = 0x02
	CmdReadMemory       Opcode = 0x11
	CmdGo               Opcode = 0x21
	CmdWriteMemory      Opcode = 0x31
	CmdErase            Opcode = 0x43
	CmdExtendedErase    Opcode = 0x44
	CmdWriteProtect     Opcode = 0x63
	CmdWriteUnprotect   Opcode = 0x73
	CmdReadoutProtect   Opcode = 0x82
	CmdReadoutUnprotect Opcode = 0x92
)

func (op Opcode) String() string {
	switch op {
	case CmdGet:
		return "Get"
	case CmdGetVersion:
		return "GetVersion"
	case CmdGetID:
		return "GetID"
	case CmdReadMemory:
		return "ReadMemory"
	case CmdGo:
		return "Go"
	case CmdWriteMemory:
		return "WriteMemory"
	case CmdErase:
		return "Erase"
	case CmdExtendedErase:
		return "ExtendedErase"
	case CmdWriteProtect:
		return "WriteProtect"
	case CmdWriteUnprotect:
		return "WriteUnprotect"
	case CmdReadoutProtect:
		return "ReadoutProtect"
	case CmdReadoutUnprotect:
		return "ReadoutUnprotect"
	default:
		return fmt.Sprintf("Opcode(0x%02X)", uint8(op))
	}
}

// WriteCommand writes an opcode and its one's complement. The complement is
// the only integrity check the bootloader applies to the opcode itself.
func WriteCommand(w io.Writer, op Opcode) error {
	_, err := w.Write([]byte{byte(op), byte(op) ^ 0xFF})
	return err
}

// ReadAck reads exactly one handshake byte and classifies it. There are three
// outcomes and no fourth: nil for ACK, ErrNack for NACK, and
// *UnexpectedByteError for anything else. A read error (including a timeout
// surfaced as a short read) is returned wrapped.
func ReadAck(r io.Reader) error {
	b := make([]byte, 1)
	if _, err := io.ReadFull(r, b); err != nil {
		return fmt.Errorf("reading handshake byte: %w", err)
	}
	switch b[0] {
	case ACK:
		return nil
	case NACK:
		return ErrNack
	default:
		return &UnexpectedByteError{Byte: b[0]}
	}
}

// EncodeAddress encodes a 32-bit address big-endian, followed by the XOR of
// the four address bytes.
func EncodeAddress(addr uint32) [5]byte {
	var out [5]byte
	out[0] = byte(addr >> 24)
	out[1] = byte(addr >> 16)
	out[2] = byte(addr >> 8)
	out[3] = byte(addr)
	out[4] = out[0] ^ out[1] ^ out[2] ^ out[3]
	return out
}

// DecodeAddress recombines the four address bytes of an encoded block.
func DecodeAddress(block [5]byte) uint32 {
	return uint32(block[0])<<24 | uint32(block[1])<<16 | uint32(block[2])<<8 | uint32(block[3])
}

// EncodeCount16 encodes a 16-bit value big-endian. Used by the extended
// erase sector list, which is the only place the protocol needs 16-bit
// counts.
func EncodeCount16(n uint16) [2]byte {
	return [2]byte{byte(n >> 8), byte(n)}
}

// Checksum folds bytes with XOR starting from seed.
func Checksum(seed byte, bs ...byte) byte {
	crc := seed
	for _, b := range bs {
		crc ^= b
	}
	return crc
}
