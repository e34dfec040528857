package cmd

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/avrjtag/pkg/avr"
	"github.com/OpenTraceLab/avrjtag/pkg/image"
)

var noVerify bool

var programCmd = &cobra.Command{
	Use:   "program <image>",
	Short: "Erase the chip and program a code image into flash",
	Long: `Erase the chip, program the given code image into flash page by page and
verify every page by read-back.

ELF images (avr-gcc output) are flattened from their loadable segments; any
other file is programmed as a raw binary starting at address 0.

Examples:
  avrjtag program blink.elf
  avrjtag program --noverify firmware.bin`,
	Args: cobra.ExactArgs(1),
	RunE: runProgram,
}

func init() {
	rootCmd.AddCommand(programCmd)

	programCmd.Flags().BoolVar(&noVerify, "noverify", false,
		"skip read-back verification after programming")
}

func runProgram(cmd *cobra.Command, args []string) error {
	img, err := image.Load(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Loaded %s: %d bytes (%d page(s))\n",
		args[0], len(img), (len(img)+avr.PageSize-1)/avr.PageSize)

	prog, closer, err := openProgrammer()
	if err != nil {
		return err
	}
	defer closer()

	id, err := prog.Identify()
	if err != nil {
		return fmt.Errorf("identify: %w", err)
	}
	fmt.Printf("Device: %s\n", id)

	if err := prog.WriteFlash(img, !noVerify); err != nil {
		var verr *avr.VerificationError
		if errors.As(err, &verr) {
			color.Red("FAILED: page at offset %d read back wrong", verr.Offset)
			if verbose {
				fmt.Printf("  wrote: % x\n  read:  % x\n", verr.Expected, verr.Actual)
			}
		}
		return err
	}

	if noVerify {
		color.Green("OK: %d bytes programmed (not verified)", len(img))
	} else {
		color.Green("OK: %d bytes programmed and verified", len(img))
	}
	return nil
}
