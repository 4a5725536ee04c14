package stm32_test

import (
	"bytes"
	"fmt"
	"time"
)

// fakePort is a scripted serial port: reads serve a pre-loaded device
// answer stream, writes and control-line transitions are recorded. An empty
// answer stream behaves like an expired read timeout (zero-byte read, nil
// error), matching go.bug.st/serial.
type fakePort struct {
	answers  bytes.Buffer
	written  bytes.Buffer
	lines    []string
	timeouts []time.Duration
	closed   bool
}

func (p *fakePort) Read(b []byte) (int, error) {
	if p.answers.Len() == 0 {
		return 0, nil
	}
	return p.answers.Read(b)
}

func (p *fakePort) Write(b []byte) (int, error) {
	return p.written.Write(b)
}

func (p *fakePort) SetDTR(level bool) error {
	p.lines = append(p.lines, fmt.Sprintf("DTR=%v", level))
	return nil
}

func (p *fakePort) SetRTS(level bool) error {
	p.lines = append(p.lines, fmt.Sprintf("RTS=%v", level))
	return nil
}

func (p *fakePort) SetReadTimeout(t time.Duration) error {
	p.timeouts = append(p.timeouts, t)
	return nil
}

func (p *fakePort) Close() error {
	p.closed = true
	return nil
}
