package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var idcodeCmd = &cobra.Command{
	Use:   "idcode",
	Short: "Read the JTAG device identification register",
	Long: `Read and decode the 32-bit identification register. An ATmega162 reports
7940403f.

Examples:
  avrjtag idcode
  avrjtag --transport sim idcode`,
	RunE: runIDCode,
}

func init() {
	rootCmd.AddCommand(idcodeCmd)
}

func runIDCode(cmd *cobra.Command, args []string) error {
	prog, closer, err := openProgrammer()
	if err != nil {
		return err
	}
	defer closer()

	id, err := prog.Identify()
	if err != nil {
		return err
	}

	fmt.Printf("IDCODE: %s\n", id)
	fmt.Printf("  Manufacturer: 0x%03X\n", id.Manufacturer)
	fmt.Printf("  Part Number:  0x%04X\n", id.PartNumber)
	fmt.Printf("  Revision:     %d\n", id.Version)
	return nil
}
