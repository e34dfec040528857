package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/avrjtag/pkg/avr"
	"github.com/OpenTraceLab/avrjtag/pkg/bitbang"
	"github.com/OpenTraceLab/avrjtag/pkg/ftdi"
)

var (
	// Global flags
	verbose   bool
	transport string
	usbVID    uint16
	usbPID    uint16
	baud      int

	log = logrus.New()
)

var rootCmd = &cobra.Command{
	Use:   "avrjtag",
	Short: "ATmega162 JTAG programmer over FT232R bit-bang",
	Long: `Programs, verifies and fuses an ATmega162 through its JTAG TAP, with the
four TAP lines wired to an FT232R running in synchronous bit-bang mode.

Examples:
  avrjtag idcode                          # Read the device identification
  avrjtag program blink.elf               # Erase, program and verify
  avrjtag program --noverify image.bin    # Skip read-back verification
  avrjtag fuses read                      # Dump fuse and lock bytes
  avrjtag fuses write --low 0xc2          # Program the low fuse byte

  avrjtag --transport sim program blink.elf   # Dry run against the simulator`,
	Version: "1.0.0",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			log.SetLevel(logrus.DebugLevel)
		}
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&transport, "transport", "t", "ftdi",
		"transport to drive the TAP over (ftdi, sim)")
	rootCmd.PersistentFlags().Uint16Var(&usbVID, "vid", ftdi.VendorIDFTDI, "USB vendor ID")
	rootCmd.PersistentFlags().Uint16Var(&usbPID, "pid", ftdi.ProductIDFT232, "USB product ID")
	rootCmd.PersistentFlags().IntVar(&baud, "baud", ftdi.DefaultBaud,
		"bit-bang baud rate (pin clock is 16x this)")
}

// openProgrammer builds a programmer on the selected transport. The returned
// closer releases the transport and must run even on command failure.
func openProgrammer() (*avr.Programmer, func(), error) {
	pins := bitbang.DefaultPins

	var (
		t      bitbang.Transport
		closer func()
	)
	switch transport {
	case "ftdi":
		dev, err := ftdi.Open(ftdi.Config{
			VID:       usbVID,
			PID:       usbPID,
			Baud:      baud,
			Direction: pins.Direction(),
			Logger:    log,
		})
		if err != nil {
			return nil, nil, err
		}
		t = dev
		closer = func() { dev.Close() }
	case "sim", "simulator":
		log.Debug("using simulated target")
		t = bitbang.NewLoopback(pins, avr.NewTarget())
		closer = func() {}
	default:
		return nil, nil, fmt.Errorf("unknown transport: %s (supported: ftdi, sim)", transport)
	}

	sess, err := avr.NewSession(t, avr.Config{Pins: pins, Logger: log})
	if err != nil {
		closer()
		return nil, nil, err
	}
	return avr.NewProgrammer(sess), closer, nil
}
