package stm32

import (
	"errors"
	"fmt"

	"github.com/serialtools/stm32flash/pkg/stm32/proto"
)

var (
	// ErrSync is returned when the synchronization byte is not acknowledged
	// after the reset sequence.
	ErrSync = errors.New("bootloader synchronization failed")

	// ErrTimeout is returned when the serial port produces no data within
	// the active read timeout.
	ErrTimeout = errors.New("serial read timed out")

	// ErrSessionDone is returned for commands issued after a successful
	// jump to application code.
	ErrSessionDone = errors.New("session ended by a jump to application code")

	ErrEraseFailed = errors.New("erase not acknowledged")
	ErrWriteFailed = errors.New("write not acknowledged")
	ErrReadFailed  = errors.New("read transfer incomplete")
)

// ConfigError reports an invalid control-line assignment. It is raised
// before any I/O happens.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "invalid connection config: " + e.Reason
}

// CommandError reports a command whose generic frame or payload handshake
// was rejected by the device.
type CommandError struct {
	Op  proto.Opcode
	Err error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %s rejected: %v", e.Op, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
