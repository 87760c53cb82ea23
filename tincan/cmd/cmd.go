/* Tincan - IPOP overlay link and frame-routing daemon
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ipop-project/tincan/std/utils"
	"github.com/ipop-project/tincan/std/utils/toolutils"
	"github.com/ipop-project/tincan/tincan/core"
	"github.com/ipop-project/tincan/tincan/executor"
	"github.com/spf13/cobra"
)

var config = core.DefaultConfig()

var CmdTincan = &cobra.Command{
	Use:     "tincan CONFIG-FILE",
	Short:   "IPOP overlay link and frame-routing daemon",
	GroupID: "run",
	Version: utils.TincanVersion,
	Args:    cobra.ExactArgs(1),
	Run:     run,
}

func init() {
	CmdTincan.Flags().StringVar(&config.Core.CpuProfile, "cpu-profile", "", "Write CPU profile to file")
	CmdTincan.Flags().StringVar(&config.Core.MemProfile, "mem-profile", "", "Write memory profile to file")
	CmdTincan.Flags().StringVar(&config.Core.BlockProfile, "block-profile", "", "Write block profile to file")
}

// run starts tincan with the given configuration file and serves until
// an interrupt or SIGTERM is received.
func run(cmd *cobra.Command, args []string) {
	configfile := args[0]
	config.Core.BaseDir = filepath.Dir(configfile)

	// read configuration file
	toolutils.ReadYaml(config, configfile)
	if err := config.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %+v\n", err)
		os.Exit(3)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tincan := executor.NewTincan(config)
	if err := tincan.Start(ctx); err != nil {
		core.Log.Fatal(tincan, "Unable to start tincan", "err", err)
		os.Exit(2)
	}

	<-ctx.Done()
	core.Log.Info(tincan, "Received signal - exit")

	if err := tincan.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "Error during shutdown: %+v\n", err)
		os.Exit(1)
	}
}
