package main

import "github.com/OpenTraceLab/avrjtag/cmd/avrjtag/cmd"

func main() {
	cmd.Execute()
}
