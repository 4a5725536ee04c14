// Package flasher runs a full bootloader session against one device:
// erase, write, verify, read back and jump, driven by a single Config.
package flasher

import (
	"bytes"
	"context"
	"fmt"

	"github.com/serialtools/stm32flash/pkg/image"
	"github.com/serialtools/stm32flash/pkg/log"
	"github.com/serialtools/stm32flash/pkg/stm32"
	"github.com/serialtools/stm32flash/pkg/stm32/chipid"
	"go.uber.org/zap"
)

// Config is the option bundle driving one flash run. How it was produced
// (flags, config file, environment) is the CLI's business.
type Config struct {
	Port string `mapstructure:"port"`
	Baud int    `mapstructure:"baud"`

	// Address is the base address for write, verify and read.
	Address uint32 `mapstructure:"address"`

	Erase  bool `mapstructure:"erase"`
	Write  bool `mapstructure:"write"`
	Verify bool `mapstructure:"verify"`
	Read   bool `mapstructure:"read"`

	// Length is the number of bytes to read when Read is set.
	Length int `mapstructure:"length"`

	// GoAddress is the address to start executing after all other steps;
	// negative means stay in the bootloader.
	GoAddress int64 `mapstructure:"go_addr"`

	// File is the firmware image to write/verify, or the output file for a
	// read.
	File string `mapstructure:"file"`

	Lines stm32.LineConfig `mapstructure:"lines"`
}

func (c Config) validate() error {
	if c.Port == "" {
		return fmt.Errorf("no serial port given")
	}
	if c.Baud <= 0 {
		return fmt.Errorf("baudrate must be positive, got %d", c.Baud)
	}
	if (c.Write || c.Verify || c.Read) && c.File == "" {
		return fmt.Errorf("write, verify and read need a file")
	}
	if c.Read && !c.Write && c.Length <= 0 {
		return fmt.Errorf("read needs a positive length")
	}
	return c.Lines.Validate()
}

// Flasher executes one configured session end to end.
type Flasher interface {
	// Run blocks until the session finishes or fails. The chip's control
	// lines are returned to the run state on every exit path.
	Run(ctx context.Context) error
}

type flasher struct {
	cfg  Config
	open func(port string, baud int, lines stm32.LineConfig) (*stm32.Conn, error)
}

// New builds a Flasher after validating the config.
func New(cfg Config) (Flasher, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &flasher{cfg: cfg, open: stm32.Open}, nil
}

func (f *flasher) Run(ctx context.Context) error {
	logger := log.FromContext(ctx)

	conn, err := f.open(f.cfg.Port, f.cfg.Baud, f.cfg.Lines)
	if err != nil {
		return fmt.Errorf("opening %s: %w", f.cfg.Port, err)
	}
	defer conn.Close()
	// The chip must be handed back to its application firmware however the
	// session ends, including cancellation.
	defer func() {
		if err := conn.ReleaseChip(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("Failed to release chip", zap.Error(err))
		}
	}()

	if err := conn.EnterBootloader(ctx); err != nil {
		return fmt.Errorf("entering bootloader (check BOOT0/reset wiring): %w", err)
	}

	session, err := conn.Get(ctx)
	if err != nil {
		return err
	}

	id, err := session.GetID(ctx)
	if err != nil {
		return err
	}
	logger.Info("Connected to device",
		zap.String("chip", fmt.Sprintf("0x%03X", id)),
		zap.String("family", chipid.Name(id)),
	)

	var segments []image.Segment
	if f.cfg.Write || f.cfg.Verify {
		segments, err = image.Load(f.cfg.File, f.cfg.Address)
		if err != nil {
			return err
		}
	}

	if f.cfg.Erase {
		if err := session.Erase(ctx, stm32.GlobalErase()); err != nil {
			return err
		}
	}

	if f.cfg.Write {
		for _, seg := range segments {
			logger.Info("Writing", zap.Uint32("addr", seg.Addr), zap.Int("bytes", len(seg.Data)))
			if err := session.WriteMemory(ctx, seg.Addr, seg.Data); err != nil {
				return err
			}
		}
	}

	if f.cfg.Verify {
		for _, seg := range segments {
			if err := verifySegment(ctx, session, seg); err != nil {
				return err
			}
		}
		logger.Info("Verification OK")
	}

	if f.cfg.Read && !f.cfg.Write {
		data, err := session.ReadMemory(ctx, f.cfg.Address, f.cfg.Length)
		if err != nil {
			return err
		}
		if err := image.Save(f.cfg.File, f.cfg.Address, data); err != nil {
			return err
		}
		logger.Info("Read memory to file",
			zap.Uint32("addr", f.cfg.Address),
			zap.Int("bytes", len(data)),
			zap.String("file", f.cfg.File),
		)
	}

	if f.cfg.GoAddress >= 0 {
		if err := session.Go(ctx, uint32(f.cfg.GoAddress)); err != nil {
			return err
		}
	}

	return nil
}

func verifySegment(ctx context.Context, session *stm32.Session, seg image.Segment) error {
	readBack, err := session.ReadMemory(ctx, seg.Addr, len(seg.Data))
	if err != nil {
		return err
	}
	if bytes.Equal(seg.Data, readBack) {
		return nil
	}
	for i := range seg.Data {
		if seg.Data[i] != readBack[i] {
			return fmt.Errorf("verification failed at 0x%08X: wrote 0x%02X, read 0x%02X",
				seg.Addr+uint32(i), seg.Data[i], readBack[i])
		}
	}
	return fmt.Errorf("verification failed: length mismatch (%d vs %d)", len(seg.Data), len(readBack))
}
