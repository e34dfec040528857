package cmd

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/avrjtag/pkg/avr"
	"github.com/OpenTraceLab/avrjtag/pkg/image"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <image>",
	Short: "Compare flash contents against a code image without writing",
	Args:  cobra.ExactArgs(1),
	RunE:  runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	img, err := image.Load(args[0])
	if err != nil {
		return err
	}

	prog, closer, err := openProgrammer()
	if err != nil {
		return err
	}
	defer closer()

	if err := prog.VerifyFlash(img); err != nil {
		var verr *avr.VerificationError
		if errors.As(err, &verr) {
			color.Red("FAILED: page at offset %d does not match", verr.Offset)
			if verbose {
				fmt.Printf("  image: % x\n  flash: % x\n", verr.Expected, verr.Actual)
			}
		}
		return err
	}
	color.Green("OK: %d bytes verified", len(img))
	return nil
}
