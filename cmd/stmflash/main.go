package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/serialtools/stm32flash/internal/flasher"
	"github.com/serialtools/stm32flash/pkg/log"
	"github.com/serialtools/stm32flash/pkg/stm32"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "stmflash [firmware file]",
	Short: "stmflash talks to the STM32 built-in UART bootloader to erase, write, verify and read flash",
	Example: `  stmflash -p /dev/ttyUSB0 -e -w -v firmware.bin
  stmflash -p /dev/ttyUSB0 -r -l 4096 dump.bin
  stmflash -p /dev/ttyUSB0 -g 0x08000000`,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	fl := rootCmd.Flags()
	fl.StringP("port", "p", "", "serial port connected to the chip")
	fl.IntP("baud", "b", 115200, "baudrate")
	fl.StringP("address", "a", "0x08000000", "target address for write/verify/read")
	fl.BoolP("erase", "e", false, "mass-erase flash before other operations")
	fl.BoolP("write", "w", false, "write the firmware file to flash")
	fl.BoolP("verify", "v", false, "read back and compare after writing")
	fl.BoolP("read", "r", false, "read flash into the file")
	fl.IntP("length", "l", 0, "number of bytes to read")
	fl.StringP("go", "g", "", "address to start executing, e.g. 0x08000000")
	fl.String("boot0", string(stm32.LineRTS), "control line wired to BOOT0 (RTS or DTR)")
	fl.String("reset", string(stm32.LineDTR), "control line wired to NRST (RTS or DTR)")
	fl.Bool("invert-boot0", false, "invert the BOOT0 line level")
	fl.Bool("invert-reset", false, "invert the NRST line level")
	fl.BoolP("verbose", "V", false, "log every protocol frame")
	fl.StringVar(&configFile, "config", "", "config file (default $HOME/.stmflash.yaml)")

	_ = viper.BindPFlags(fl)
	viper.SetEnvPrefix("STMFLASH")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func loadConfig() error {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".stmflash")
	}
	if err := viper.ReadInConfig(); err != nil {
		// A missing default config is fine; an explicit one must exist.
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && configFile == "" {
			return nil
		}
		if configFile == "" && os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return nil
}

// parseAddr accepts decimal and 0x-prefixed hex addresses.
func parseAddr(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return uint32(v), nil
}

func run(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	zapCfg := zap.NewDevelopmentConfig()
	if !viper.GetBool("verbose") {
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logger, err := zapCfg.Build()
	if err != nil {
		return err
	}
	defer logger.Sync()
	_ = zap.ReplaceGlobals(logger)
	ctx := log.IntoContext(cmd.Context(), logger)

	addr, err := parseAddr(viper.GetString("address"))
	if err != nil {
		return err
	}

	cfg := flasher.Config{
		Port:      viper.GetString("port"),
		Baud:      viper.GetInt("baud"),
		Address:   addr,
		Erase:     viper.GetBool("erase"),
		Write:     viper.GetBool("write"),
		Verify:    viper.GetBool("verify"),
		Read:      viper.GetBool("read"),
		Length:    viper.GetInt("length"),
		GoAddress: -1,
		Lines: stm32.LineConfig{
			Boot0:       stm32.ControlLine(strings.ToUpper(viper.GetString("boot0"))),
			Reset:       stm32.ControlLine(strings.ToUpper(viper.GetString("reset"))),
			InvertBoot0: viper.GetBool("invert-boot0"),
			InvertReset: viper.GetBool("invert-reset"),
		},
	}
	if goAddr := viper.GetString("go"); goAddr != "" {
		a, err := parseAddr(goAddr)
		if err != nil {
			return err
		}
		cfg.GoAddress = int64(a)
	}
	if len(args) == 1 {
		cfg.File = args[0]
	}

	f, err := flasher.New(cfg)
	if err != nil {
		return err
	}
	return f.Run(ctx)
}

func main() {
	ctx, cancelCtx := context.WithCancel(context.Background())
	defer cancelCtx()

	// Stop signals cancel the session; the deferred chip release in the
	// flasher still runs.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		cancelCtx()
	}()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
