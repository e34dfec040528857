package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/avrjtag/pkg/avr"
)

var (
	fuseLow      string
	fuseHigh     string
	fuseExtended string
)

var fusesCmd = &cobra.Command{
	Use:   "fuses",
	Short: "Read or write the fuse bytes",
}

var fusesReadCmd = &cobra.Command{
	Use:   "read",
	Short: "Dump the fuse and lock bytes",
	RunE:  runFusesRead,
}

var fusesWriteCmd = &cobra.Command{
	Use:   "write",
	Short: "Program the fuse bytes",
	Long: `Program the extended, high and low fuse bytes. Bytes not given on the
command line keep their current values, read back before writing.

Fuse bits are active-low; a wrong high byte can disable the JTAG interface
and lock you out of the part.

Examples:
  avrjtag fuses write --low 0xc2
  avrjtag fuses write --extended 0xf9 --high 0x19 --low 0xc2`,
	RunE: runFusesWrite,
}

func init() {
	rootCmd.AddCommand(fusesCmd)
	fusesCmd.AddCommand(fusesReadCmd)
	fusesCmd.AddCommand(fusesWriteCmd)

	fusesWriteCmd.Flags().StringVar(&fuseLow, "low", "", "low fuse byte (hex)")
	fusesWriteCmd.Flags().StringVar(&fuseHigh, "high", "", "high fuse byte (hex)")
	fusesWriteCmd.Flags().StringVar(&fuseExtended, "extended", "", "extended fuse byte (hex)")
}

func parseFuseByte(name, value string) (byte, error) {
	var b byte
	if _, err := fmt.Sscanf(value, "0x%x", &b); err == nil {
		return b, nil
	}
	if _, err := fmt.Sscanf(value, "%x", &b); err != nil {
		return 0, fmt.Errorf("invalid --%s value %q (expected hex like 0xc2)", name, value)
	}
	return b, nil
}

func printFuses(state avr.FuseState) {
	fmt.Printf("Extended: 0x%02X\n", state.Extended)
	fmt.Printf("High:     0x%02X\n", state.High)
	fmt.Printf("Low:      0x%02X\n", state.Low)
	fmt.Printf("Lock:     0x%02X\n", state.Lock)
}

func runFusesRead(cmd *cobra.Command, args []string) error {
	prog, closer, err := openProgrammer()
	if err != nil {
		return err
	}
	defer closer()

	state, err := prog.ReadFuses()
	if err != nil {
		return err
	}
	printFuses(state)
	return nil
}

func runFusesWrite(cmd *cobra.Command, args []string) error {
	if fuseLow == "" && fuseHigh == "" && fuseExtended == "" {
		return fmt.Errorf("nothing to write: give at least one of --low, --high, --extended")
	}

	prog, closer, err := openProgrammer()
	if err != nil {
		return err
	}
	defer closer()

	current, err := prog.ReadFuses()
	if err != nil {
		return fmt.Errorf("read current fuses: %w", err)
	}

	want := current.Fuses
	if fuseLow != "" {
		if want.Low, err = parseFuseByte("low", fuseLow); err != nil {
			return err
		}
	}
	if fuseHigh != "" {
		if want.High, err = parseFuseByte("high", fuseHigh); err != nil {
			return err
		}
	}
	if fuseExtended != "" {
		if want.Extended, err = parseFuseByte("extended", fuseExtended); err != nil {
			return err
		}
	}

	fmt.Printf("Writing fuses: extended 0x%02X, high 0x%02X, low 0x%02X\n",
		want.Extended, want.High, want.Low)
	if err := prog.ProgramFuses(want); err != nil {
		return err
	}

	state, err := prog.ReadFuses()
	if err != nil {
		return fmt.Errorf("read back fuses: %w", err)
	}
	if state.Fuses != want {
		color.Red("FAILED: fuses read back wrong")
		printFuses(state)
		return fmt.Errorf("fuse readback mismatch: got %+v, want %+v", state.Fuses, want)
	}
	color.Green("OK: fuses programmed")
	if verbose {
		printFuses(state)
	}
	return nil
}
