package main

import (
	"os"

	"github.com/ipop-project/tincan/cmd"
)

func main() {
	if err := cmd.CmdRoot.Execute(); err != nil {
		os.Exit(1)
	}
}
