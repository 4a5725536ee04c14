package flasher

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/serialtools/stm32flash/pkg/stm32"
	"github.com/serialtools/stm32flash/pkg/stm32/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePort scripts the device side of a session; see the stm32 package
// tests for the timeout semantics it mimics.
type fakePort struct {
	answers bytes.Buffer
	written bytes.Buffer
	lines   []string
	closed  bool
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

func (p *fakePort) SetReadTimeout(time.Duration) error {
	return nil
}

func (p *fakePort) Close() error {
	p.closed = true
	return nil
}

func fakeOpen(port *fakePort) func(string, int, stm32.LineConfig) (*stm32.Conn, error) {
	return func(_ string, _ int, lines stm32.LineConfig) (*stm32.Conn, error) {
		return stm32.NewConn(port, lines)
	}
}

func baseConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		Port:      "/dev/ttyUSB0",
		Baud:      115200,
		Address:   0x08000000,
		GoAddress: -1,
		Lines:     stm32.DefaultLineConfig(),
	}
}

// scriptSession preloads sync, Get (extended-erase capable) and GetID.
func scriptSession(port *fakePort) {
	port.answers.WriteByte(proto.ACK) // sync
	port.answers.Write([]byte{proto.ACK, 6, 0x31, 0x00, 0x02, 0x11, 0x21, 0x31, 0x44, proto.ACK})
	port.answers.Write([]byte{proto.ACK, 0x01, 0x04, 0x13, proto.ACK})
}

func TestNewRejectsBadConfig(t *testing.T) {
	t.Parallel()

	testcases := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "No port", mutate: func(c *Config) { c.Port = "" }},
		{name: "Bad baud", mutate: func(c *Config) { c.Baud = 0 }},
		{name: "Write without file", mutate: func(c *Config) { c.Write = true }},
		{name: "Read without length", mutate: func(c *Config) { c.Read = true; c.File = "x.bin" }},
		{
			name:   "Shared control line",
			mutate: func(c *Config) { c.Lines.Reset = c.Lines.Boot0 },
		},
	}

	for _, tcl := range testcases {
		tc := tcl
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := baseConfig(t)
			tc.mutate(&cfg)
			_, err := New(cfg)
			assert.Error(t, err)
		})
	}
}

func TestRunEraseWriteVerifyGo(t *testing.T) {
	t.Parallel()

	firmware := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	file := filepath.Join(t.TempDir(), "firmware.bin")
	require.NoError(t, os.WriteFile(file, firmware, 0o644))

	port := &fakePort{}
	scriptSession(port)
	port.answers.Write([]byte{proto.ACK, proto.ACK})            // extended mass erase
	port.answers.Write([]byte{proto.ACK, proto.ACK, proto.ACK}) // one write chunk
	port.answers.Write([]byte{proto.ACK, proto.ACK, proto.ACK}) // verify read chunk
	port.answers.Write(firmware)                                // verify data
	port.answers.Write([]byte{proto.ACK, proto.ACK})            // go

	cfg := baseConfig(t)
	cfg.Erase = true
	cfg.Write = true
	cfg.Verify = true
	cfg.File = file
	cfg.GoAddress = 0x08000000

	f := &flasher{cfg: cfg, open: fakeOpen(port)}
	require.NoError(t, f.Run(context.Background()))

	assert.True(t, port.closed)
	// The session ends with the release sequence: reset low, BOOT0 to the
	// application side, reset high.
	require.GreaterOrEqual(t, len(port.lines), 3)
	assert.Equal(t, []string{"DTR=false", "RTS=true", "DTR=true"}, port.lines[len(port.lines)-3:])
}

func TestRunVerifyMismatch(t *testing.T) {
	t.Parallel()

	firmware := []byte{0x11, 0x22, 0x33}
	file := filepath.Join(t.TempDir(), "firmware.bin")
	require.NoError(t, os.WriteFile(file, firmware, 0o644))

	port := &fakePort{}
	scriptSession(port)
	port.answers.Write([]byte{proto.ACK, proto.ACK, proto.ACK}) // read chunk
	port.answers.Write([]byte{0x11, 0x99, 0x33})                // differs at offset 1

	cfg := baseConfig(t)
	cfg.Verify = true
	cfg.File = file

	f := &flasher{cfg: cfg, open: fakeOpen(port)}
	err := f.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0x08000001")
}

func TestRunReleasesChipOnFailure(t *testing.T) {
	t.Parallel()

	port := &fakePort{}
	port.answers.WriteByte(proto.NACK) // synchronization rejected

	cfg := baseConfig(t)
	f := &flasher{cfg: cfg, open: fakeOpen(port)}

	err := f.Run(context.Background())
	require.ErrorIs(t, err, stm32.ErrSync)

	assert.True(t, port.closed)
	assert.Equal(t, []string{"DTR=false", "RTS=true", "DTR=true"}, port.lines[len(port.lines)-3:])
}

func TestRunReadToFile(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "dump.bin")
	memory := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}

	port := &fakePort{}
	scriptSession(port)
	port.answers.Write([]byte{proto.ACK, proto.ACK, proto.ACK})
	port.answers.Write(memory)

	cfg := baseConfig(t)
	cfg.Read = true
	cfg.Length = len(memory)
	cfg.File = file

	f := &flasher{cfg: cfg, open: fakeOpen(port)}
	require.NoError(t, f.Run(context.Background()))

	got, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, memory, got)
}
